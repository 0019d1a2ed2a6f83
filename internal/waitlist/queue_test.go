package waitlist

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/flight-seat-reservation/internal/model"
)

func entry(passenger, flight uint64, tier model.PriorityTier, ts int64) model.WaitEntry {
	return model.WaitEntry{PassengerID: passenger, FlightID: flight, Tier: tier, EnqueuedAt: ts}
}

func passengers(t *testing.T, q Queue, flightID uint64) []uint64 {
	t.Helper()
	seq, err := q.All(context.Background(), flightID)
	require.NoError(t, err)
	var out []uint64
	for e := range seq {
		out = append(out, e.PassengerID)
	}
	return out
}

func backends() map[string]func(t *testing.T) Queue {
	return map[string]func(t *testing.T) Queue{
		"memory": func(t *testing.T) Queue { return NewMemoryQueue() },
		"redis": func(t *testing.T) Queue {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedisQueue(rdb, "test")
		},
	}
}

func TestQueue_FIFOWithinTier(t *testing.T) {
	for name, newQueue := range backends() {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, entry(1, 7, model.TierRegular, 1)))
			require.NoError(t, q.Enqueue(ctx, entry(2, 7, model.TierRegular, 2)))
			require.NoError(t, q.Enqueue(ctx, entry(3, 7, model.TierRegular, 3)))

			for _, want := range []uint64{1, 2, 3} {
				got, err := q.Dequeue(ctx, 7)
				require.NoError(t, err)
				assert.Equal(t, want, got.PassengerID)
			}
			_, err := q.Dequeue(ctx, 7)
			assert.ErrorIs(t, err, ErrEmpty)
		})
	}
}

func TestQueue_PriorityBeatsArrival(t *testing.T) {
	for name, newQueue := range backends() {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, entry(1, 7, model.TierRegular, 1)))
			require.NoError(t, q.Enqueue(ctx, entry(2, 7, model.TierPremium, 2)))
			require.NoError(t, q.Enqueue(ctx, entry(3, 7, model.TierEmergency, 3)))
			require.NoError(t, q.Enqueue(ctx, entry(4, 7, model.TierPremium, 4)))

			head, err := q.Peek(ctx, 7)
			require.NoError(t, err)
			assert.Equal(t, uint64(3), head.PassengerID)
			assert.Equal(t, model.TierEmergency, head.Tier)

			assert.Equal(t, []uint64{3, 2, 4, 1}, passengers(t, q, 7))
		})
	}
}

func TestQueue_PeekDoesNotRemove(t *testing.T) {
	for name, newQueue := range backends() {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			ctx := context.Background()
			_, err := q.Peek(ctx, 7)
			assert.ErrorIs(t, err, ErrEmpty)

			require.NoError(t, q.Enqueue(ctx, entry(1, 7, model.TierRegular, 10)))
			first, err := q.Peek(ctx, 7)
			require.NoError(t, err)
			second, err := q.Peek(ctx, 7)
			require.NoError(t, err)
			assert.Equal(t, first, second)
			assert.Equal(t, int64(10), first.EnqueuedAt)
		})
	}
}

func TestQueue_RejectsDuplicatePerScope(t *testing.T) {
	for name, newQueue := range backends() {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, entry(1, 7, model.TierRegular, 1)))
			err := q.Enqueue(ctx, entry(1, 7, model.TierEmergency, 2))
			assert.ErrorIs(t, err, ErrDuplicateEntry)

			// another flight is another scope
			require.NoError(t, q.Enqueue(ctx, entry(1, 8, model.TierRegular, 3)))
			assert.Equal(t, []uint64{1}, passengers(t, q, 7))
		})
	}
}

func TestQueue_Remove(t *testing.T) {
	for name, newQueue := range backends() {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, entry(1, 7, model.TierRegular, 1)))
			require.NoError(t, q.Enqueue(ctx, entry(2, 7, model.TierRegular, 2)))

			removed, err := q.Remove(ctx, 1, 7)
			require.NoError(t, err)
			assert.True(t, removed)
			assert.Equal(t, []uint64{2}, passengers(t, q, 7))

			removed, err = q.Remove(ctx, 1, 7)
			require.NoError(t, err)
			assert.False(t, removed)

			head, err := q.Dequeue(ctx, 7)
			require.NoError(t, err)
			assert.Equal(t, uint64(2), head.PassengerID)
		})
	}
}

func TestQueue_RemoveFromEveryScope(t *testing.T) {
	for name, newQueue := range backends() {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, entry(1, 7, model.TierRegular, 1)))
			require.NoError(t, q.Enqueue(ctx, entry(1, 8, model.TierRegular, 2)))
			require.NoError(t, q.Enqueue(ctx, entry(2, 8, model.TierRegular, 3)))

			removed, err := q.Remove(ctx, 1, AllScopes)
			require.NoError(t, err)
			assert.True(t, removed)
			assert.Empty(t, passengers(t, q, 7))
			assert.Equal(t, []uint64{2}, passengers(t, q, 8))
		})
	}
}

func TestQueue_GlobalScopeIsASingleScope(t *testing.T) {
	for name, newQueue := range backends() {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, entry(1, GlobalScope, model.TierRegular, 1)))
			require.NoError(t, q.Enqueue(ctx, entry(1, 7, model.TierEmergency, 2)))
			require.NoError(t, q.Enqueue(ctx, entry(2, 7, model.TierRegular, 3)))

			// every method sees only the global entries
			head, err := q.Peek(ctx, GlobalScope)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), head.PassengerID)
			assert.Equal(t, []uint64{1}, passengers(t, q, GlobalScope))

			removed, err := q.Remove(ctx, 1, GlobalScope)
			require.NoError(t, err)
			assert.True(t, removed)
			assert.Empty(t, passengers(t, q, GlobalScope))
			assert.Equal(t, []uint64{1, 2}, passengers(t, q, 7))
		})
	}
}

func TestQueue_AllScopesNeedsListOrRemove(t *testing.T) {
	for name, newQueue := range backends() {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, entry(1, 7, model.TierRegular, 1)))

			assert.ErrorIs(t, q.Enqueue(ctx, entry(2, AllScopes, model.TierRegular, 2)), ErrInvalidScope)
			_, err := q.Peek(ctx, AllScopes)
			assert.ErrorIs(t, err, ErrInvalidScope)
			_, err = q.Dequeue(ctx, AllScopes)
			assert.ErrorIs(t, err, ErrInvalidScope)
			assert.Equal(t, []uint64{1}, passengers(t, q, AllScopes))
		})
	}
}

func TestQueue_AllIsARestartableSnapshot(t *testing.T) {
	for name, newQueue := range backends() {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, entry(1, 7, model.TierRegular, 1)))
			require.NoError(t, q.Enqueue(ctx, entry(2, 9, model.TierEmergency, 2)))

			seq, err := q.All(ctx, AllScopes)
			require.NoError(t, err)
			require.NoError(t, q.Enqueue(ctx, entry(3, 7, model.TierEmergency, 3)))

			first := slices.Collect(seq)
			second := slices.Collect(seq)
			assert.Equal(t, first, second)
			require.Len(t, first, 2)
			assert.Equal(t, uint64(2), first[0].PassengerID)
			assert.Equal(t, uint64(1), first[1].PassengerID)

			// stopping early is allowed
			for range seq {
				break
			}
			assert.Equal(t, []uint64{3, 1}, passengers(t, q, 7))
		})
	}
}

func TestClock_StrictlyIncreasing(t *testing.T) {
	fixed := time.UnixMilli(1_000)
	c := NewClockFunc(func() time.Time { return fixed })
	a, b, d := c.Next(), c.Next(), c.Next()
	assert.Equal(t, int64(1_000), a)
	assert.Equal(t, int64(1_001), b)
	assert.Equal(t, int64(1_002), d)
}
