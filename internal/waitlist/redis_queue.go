package waitlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/flight-seat-reservation/internal/model"
	"github.com/iliyamo/flight-seat-reservation/internal/repository"
)

// rankSpan separates tiers in the sorted-set score.  It must exceed any
// epoch-millisecond timestamp and keep the score below 2^53.
const rankSpan = 1e13

// RedisQueue is a Queue stored in Redis so several API servers share one
// waitlist.  Each scope is a sorted set of passenger ids scored by
// (inverted tier rank, enqueue time) plus a hash holding the entry
// payloads.  Mutations run as Lua scripts and are therefore atomic.
type RedisQueue struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisQueue returns a RedisQueue whose keys start with prefix.
func NewRedisQueue(rdb *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "waitlist"
	}
	return &RedisQueue{rdb: rdb, prefix: prefix}
}

var enqueueScript = redis.NewScript(`
	if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
		return 0
	end
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
	redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
	redis.call('SADD', KEYS[3], ARGV[4])
	return 1
`)

var peekScript = redis.NewScript(`
	local head = redis.call('ZRANGE', KEYS[1], 0, 0)
	if #head == 0 then
		return false
	end
	return redis.call('HGET', KEYS[2], head[1])
`)

var dequeueScript = redis.NewScript(`
	local head = redis.call('ZRANGE', KEYS[1], 0, 0)
	if #head == 0 then
		return false
	end
	local payload = redis.call('HGET', KEYS[2], head[1])
	redis.call('ZREM', KEYS[1], head[1])
	redis.call('HDEL', KEYS[2], head[1])
	return payload
`)

var removeScript = redis.NewScript(`
	local n = redis.call('ZREM', KEYS[1], ARGV[1])
	redis.call('HDEL', KEYS[2], ARGV[1])
	return n
`)

func (q *RedisQueue) orderKey(flightID uint64) string {
	return q.prefix + ":q:" + strconv.FormatUint(flightID, 10)
}

func (q *RedisQueue) entryKey(flightID uint64) string {
	return q.prefix + ":e:" + strconv.FormatUint(flightID, 10)
}

func (q *RedisQueue) scopesKey() string { return q.prefix + ":scopes" }

func score(e model.WaitEntry) float64 {
	return float64(4-e.Tier.Rank())*rankSpan + float64(e.EnqueuedAt)
}

func redisErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("waitlist %s: %w", op, err)
	}
	return fmt.Errorf("waitlist %s: %w: %w", op, repository.ErrGateway, err)
}

func (q *RedisQueue) Enqueue(ctx context.Context, e model.WaitEntry) error {
	if e.FlightID == AllScopes {
		return ErrInvalidScope
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("waitlist enqueue: %w", err)
	}
	member := strconv.FormatUint(e.PassengerID, 10)
	keys := []string{q.orderKey(e.FlightID), q.entryKey(e.FlightID), q.scopesKey()}
	added, err := enqueueScript.Run(ctx, q.rdb, keys,
		member, score(e), string(payload), strconv.FormatUint(e.FlightID, 10)).Int()
	if err != nil {
		return redisErr("enqueue", err)
	}
	if added == 0 {
		return ErrDuplicateEntry
	}
	return nil
}

func (q *RedisQueue) head(ctx context.Context, script *redis.Script, op string, flightID uint64) (model.WaitEntry, error) {
	if flightID == AllScopes {
		return model.WaitEntry{}, ErrInvalidScope
	}
	keys := []string{q.orderKey(flightID), q.entryKey(flightID)}
	payload, err := script.Run(ctx, q.rdb, keys).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.WaitEntry{}, ErrEmpty
		}
		return model.WaitEntry{}, redisErr(op, err)
	}
	var e model.WaitEntry
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return model.WaitEntry{}, fmt.Errorf("waitlist %s: decode entry: %w", op, err)
	}
	return e, nil
}

func (q *RedisQueue) Peek(ctx context.Context, flightID uint64) (model.WaitEntry, error) {
	return q.head(ctx, peekScript, "peek", flightID)
}

func (q *RedisQueue) Dequeue(ctx context.Context, flightID uint64) (model.WaitEntry, error) {
	return q.head(ctx, dequeueScript, "dequeue", flightID)
}

func (q *RedisQueue) scopes(ctx context.Context, flightID uint64) ([]uint64, error) {
	if flightID != AllScopes {
		return []uint64{flightID}, nil
	}
	members, err := q.rdb.SMembers(ctx, q.scopesKey()).Result()
	if err != nil {
		return nil, redisErr("list scopes", err)
	}
	out := make([]uint64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (q *RedisQueue) All(ctx context.Context, flightID uint64) (iter.Seq[model.WaitEntry], error) {
	scopes, err := q.scopes(ctx, flightID)
	if err != nil {
		return nil, err
	}
	var out []model.WaitEntry
	for _, scope := range scopes {
		members, err := q.rdb.ZRange(ctx, q.orderKey(scope), 0, -1).Result()
		if err != nil {
			return nil, redisErr("list", err)
		}
		if len(members) == 0 {
			continue
		}
		payloads, err := q.rdb.HMGet(ctx, q.entryKey(scope), members...).Result()
		if err != nil {
			return nil, redisErr("list", err)
		}
		for _, p := range payloads {
			s, ok := p.(string)
			if !ok {
				continue
			}
			var e model.WaitEntry
			if err := json.Unmarshal([]byte(s), &e); err != nil {
				return nil, fmt.Errorf("waitlist list: decode entry: %w", err)
			}
			out = append(out, e)
		}
	}
	if len(scopes) > 1 {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	}
	return snapshot(out), nil
}

func (q *RedisQueue) Remove(ctx context.Context, passengerID, flightID uint64) (bool, error) {
	scopes, err := q.scopes(ctx, flightID)
	if err != nil {
		return false, err
	}
	member := strconv.FormatUint(passengerID, 10)
	removed := false
	for _, scope := range scopes {
		n, err := removeScript.Run(ctx, q.rdb, []string{q.orderKey(scope), q.entryKey(scope)}, member).Int()
		if err != nil {
			return removed, redisErr("remove", err)
		}
		if n > 0 {
			removed = true
		}
	}
	return removed, nil
}
