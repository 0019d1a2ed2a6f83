// Package waitlist holds passengers waiting for a seat, ordered by priority
// tier and then by arrival.  Three interchangeable backends implement Queue:
// an in-memory heap, a MySQL table and a Redis sorted set.
package waitlist

import (
	"context"
	"errors"
	"iter"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/iliyamo/flight-seat-reservation/internal/model"
)

// ErrDuplicateEntry is returned by Enqueue when the passenger already waits
// in the same scope.
var ErrDuplicateEntry = errors.New("passenger already waiting")

// ErrEmpty is returned by Peek and Dequeue when the scope has no entries.
// It is a defined empty result rather than a failure.
var ErrEmpty = errors.New("waitlist empty")

// Scope identifiers.  GlobalScope is the waitlist not tied to a flight and
// behaves like any other flight ID.  AllScopes is accepted only by All and
// Remove, where it addresses every scope at once.
const (
	GlobalScope uint64 = 0
	AllScopes   uint64 = math.MaxUint64
)

// ErrInvalidScope is returned when AllScopes is passed where a single scope
// is required.
var ErrInvalidScope = errors.New("waitlist operation needs a single scope")

// Queue is an ordered waitlist partitioned by flight.  Every method takes
// the scope's flight ID; see GlobalScope and AllScopes.
//
// Entries are served by tier rank (highest first), then EnqueuedAt
// (earliest first), then insertion order.  At most one entry exists per
// (passenger, flight) pair.
type Queue interface {
	Enqueue(ctx context.Context, e model.WaitEntry) error
	Peek(ctx context.Context, flightID uint64) (model.WaitEntry, error)
	Dequeue(ctx context.Context, flightID uint64) (model.WaitEntry, error)
	// All returns a snapshot taken at call time.  The sequence is finite,
	// can be ranged over any number of times and never touches the queue.
	All(ctx context.Context, flightID uint64) (iter.Seq[model.WaitEntry], error)
	// Remove withdraws the passenger and reports whether anything was
	// removed.  Absence is not an error.
	Remove(ctx context.Context, passengerID, flightID uint64) (bool, error)
}

// inScope reports whether an entry stored under scope is addressed by
// flightID.
func inScope(scope, flightID uint64) bool {
	return flightID == AllScopes || scope == flightID
}

// snapshot turns a slice into a restartable sequence over its own copy.
func snapshot(entries []model.WaitEntry) iter.Seq[model.WaitEntry] {
	entries = slices.Clone(entries)
	return func(yield func(model.WaitEntry) bool) {
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Clock hands out enqueue timestamps in epoch milliseconds.  Values are
// strictly increasing within a process, so two registrations in the same
// millisecond still keep their arrival order.
type Clock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewClock returns a Clock reading the wall clock.
func NewClock() *Clock { return &Clock{now: time.Now} }

// NewClockFunc returns a Clock reading now, for tests.
func NewClockFunc(now func() time.Time) *Clock { return &Clock{now: now} }

// Next returns the next timestamp.
func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().UnixMilli()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}
