package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/flight-seat-reservation/internal/config"
	"github.com/iliyamo/flight-seat-reservation/internal/database"
	"github.com/iliyamo/flight-seat-reservation/internal/handler"
	"github.com/iliyamo/flight-seat-reservation/internal/lock"
	"github.com/iliyamo/flight-seat-reservation/internal/middleware"
	"github.com/iliyamo/flight-seat-reservation/internal/queue"
	"github.com/iliyamo/flight-seat-reservation/internal/repository"
	"github.com/iliyamo/flight-seat-reservation/internal/router"
	"github.com/iliyamo/flight-seat-reservation/internal/service"
	"github.com/iliyamo/flight-seat-reservation/internal/waitlist"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]handler.Check{}

	var db *sql.DB
	if cfg.NeedsMySQL() {
		db, err = database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			log.Fatalf("mysql: %v", err)
		}
		defer db.Close()
		if err := database.EnsureSchema(ctx, db); err != nil {
			log.Fatalf("mysql: %v", err)
		}
		checks["mysql"] = db.PingContext
	}

	// Redis is optional unless a backend needs it; without it the rate
	// limiter is a pass-through.
	rdb, err := config.NewRedisClient(ctx)
	switch {
	case err == nil:
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	case cfg.NeedsRedis():
		log.Fatalf("%v", err)
	default:
		log.Printf("redis unavailable, rate limiting disabled: %v", err)
	}

	gw := newGateway(cfg, db)
	opts := config.LoadEngineOptions()
	locks := newLocker(cfg, rdb, opts)
	notifier := newNotifier(cfg)

	admission := service.NewAdmission(gw, newQueue(cfg, db, rdb), locks, notifier, waitlist.NewClock(), opts)
	planner := service.NewPlanner(gw, opts)
	executor := service.NewExecutor(gw, planner, locks, notifier, opts)

	if cfg.RunConsumer {
		go func() {
			if err := queue.StartNotificationConsumer(ctx, cfg.RabbitURL, cfg.NotificationDir); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("notification-consumer: stopped: %v", err)
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover(), echomw.Logger())
	router.Register(e, router.Handlers{
		Health:       handler.NewHealthHandler(checks),
		Waitlist:     handler.NewWaitlistHandler(admission),
		Reservations: handler.NewReservationHandler(gw, planner, executor, admission),
	}, cfg.JWTSecret, middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s store=%s queue=%s lock=%s notify=%s)",
		addr, cfg.Env, cfg.StoreBackend, cfg.QueueBackend, cfg.LockBackend, cfg.NotifyBackend)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func newGateway(cfg config.Config, db *sql.DB) repository.Gateway {
	if cfg.StoreBackend == config.BackendMemory {
		return repository.NewMemoryGateway()
	}
	return repository.NewMySQLGateway(db)
}

func newQueue(cfg config.Config, db *sql.DB, rdb *redis.Client) waitlist.Queue {
	switch cfg.QueueBackend {
	case config.BackendMemory:
		return waitlist.NewMemoryQueue()
	case config.BackendRedis:
		return waitlist.NewRedisQueue(rdb, config.RedisPrefix()+":waitlist")
	}
	return waitlist.NewSQLQueue(db)
}

func newLocker(cfg config.Config, rdb *redis.Client, opts service.Options) lock.Locker {
	if cfg.LockBackend == config.BackendRedis {
		// live holders renew the key; a crashed one frees the flight after
		// a few gateway timeouts
		ttl := 6 * opts.GatewayTimeout
		if ttl < 10*time.Second {
			ttl = 10 * time.Second
		}
		return lock.NewRedis(rdb, config.RedisPrefix()+":lock", ttl)
	}
	return lock.NewLocal()
}

func newNotifier(cfg config.Config) service.Notifier {
	if cfg.NotifyBackend == config.BackendAMQP {
		return queue.NewAMQPNotifier(cfg.RabbitURL)
	}
	return queue.NewLogNotifier(cfg.NotificationDir)
}
