package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Locker shared by every server pointing at the same Redis.  A
// lock is a key set with NX and a TTL holding a random token; release
// deletes the key only if it still holds that token, so an expired holder
// cannot free somebody else's lock.  While the lock is held a watchdog
// pushes the expiry forward every ttl/3, so the TTL only bounds how long a
// crashed holder blocks the key, not how long a live holder may work.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

// NewRedis returns a Redis locker.  ttl bounds how long a crashed holder
// can block a key; live holders renew it.
func NewRedis(rdb *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "lock"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl, poll: 20 * time.Millisecond}
}

var refreshScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return 0
`)

var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := r.prefix + ":" + key
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("lock token: %w", err)
	}
	token := hex.EncodeToString(buf)

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("lock %s: %w", k, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.watch(k, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// the caller's context may already be done; release on a fresh one
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, r.rdb, []string{k}, token).Err(); err != nil {
				log.Printf("lock: release %s failed: %v", k, err)
			}
		})
	}, nil
}

// watch renews the key until stop is closed or the token is gone.
func (r *Redis) watch(k, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	every := max(r.ttl/3, time.Millisecond)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), every)
		n, err := refreshScript.Run(ctx, r.rdb, []string{k}, token, r.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			// keep trying; the key survives until its current expiry
			log.Printf("lock: renew %s failed: %v", k, err)
		case n == 0:
			log.Printf("lock: %s expired before renewal, exclusion lost", k)
			return
		}
	}
}
