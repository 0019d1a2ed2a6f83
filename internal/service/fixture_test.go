package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/flight-seat-reservation/internal/lock"
	"github.com/iliyamo/flight-seat-reservation/internal/model"
	"github.com/iliyamo/flight-seat-reservation/internal/repository"
	"github.com/iliyamo/flight-seat-reservation/internal/waitlist"
)

const (
	bog = 10
	mia = 20
)

var departure = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	mem   *repository.MemoryGateway
	queue *waitlist.MemoryQueue
	notes *recorder
	adm   *Admission
	plan  *Planner
	exec  *Executor
}

func testOptions() Options {
	o := DefaultOptions()
	o.GatewayTimeout = time.Second
	o.RetryBackoff = time.Millisecond
	return o
}

func newFixture(t *testing.T, opts Options, wrap func(repository.Gateway) repository.Gateway) *fixture {
	t.Helper()
	mem := repository.NewMemoryGateway()
	var gw repository.Gateway = mem
	if wrap != nil {
		gw = wrap(mem)
	}
	q := waitlist.NewMemoryQueue()
	locks := lock.NewLocal()
	notes := &recorder{}
	clock := waitlist.NewClockFunc(func() time.Time { return time.UnixMilli(1000) })
	plan := NewPlanner(gw, opts)
	return &fixture{
		mem:   mem,
		queue: q,
		notes: notes,
		adm:   NewAdmission(gw, q, locks, notes, clock, opts),
		plan:  plan,
		exec:  NewExecutor(gw, plan, locks, notes, opts),
	}
}

func (f *fixture) flight(id, airplane uint64, status model.FlightStatus, dep time.Time) {
	f.mem.PutFlight(model.Flight{
		ID:                id,
		FlightNumber:      fmt.Sprintf("AV%d", id),
		OriginCityID:      bog,
		DestinationCityID: mia,
		DepartureAt:       dep,
		ArrivalAt:         dep.Add(3 * time.Hour),
		Status:            status,
		AirplaneID:        airplane,
	})
}

func (f *fixture) seat(id, airplane uint64, class model.SeatClass) {
	f.mem.PutSeat(model.Seat{ID: id, AirplaneID: airplane, SeatNumber: fmt.Sprintf("S%d", id), Class: class})
}

// confirmed stores a confirmed reservation holding seatID.
func (f *fixture) confirmed(t *testing.T, resID, passengerID, flightID, seatID uint64) {
	t.Helper()
	f.mem.PutReservation(model.Reservation{ID: resID, PassengerID: passengerID, FlightID: flightID, Status: model.StatusConfirmed})
	require.NoError(t, f.mem.BindSeat(context.Background(), seatID, resID))
}

func (f *fixture) waiting(t *testing.T) []model.WaitEntry {
	t.Helper()
	seq, err := f.queue.All(context.Background(), waitlist.AllScopes)
	require.NoError(t, err)
	var out []model.WaitEntry
	for e := range seq {
		out = append(out, e)
	}
	return out
}

// snapshot captures the seats and reservations that a failed operation
// must leave untouched.
type snapshot struct {
	seats        []model.Seat
	reservations []model.Reservation
}

func (f *fixture) snapshot(t *testing.T, seatIDs, resIDs []uint64) snapshot {
	t.Helper()
	ctx := context.Background()
	var s snapshot
	for _, id := range seatIDs {
		seat, err := f.mem.GetSeat(ctx, id)
		require.NoError(t, err)
		s.seats = append(s.seats, *seat)
	}
	for _, id := range resIDs {
		r, err := f.mem.GetReservation(ctx, id)
		require.NoError(t, err)
		s.reservations = append(s.reservations, *r)
	}
	return s
}

type recorder struct {
	mu  sync.Mutex
	got []Notification
}

func (r *recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

func (r *recorder) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.got...)
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) Notify(ctx context.Context, n Notification) error {
	return m.Called(ctx, n).Error(0)
}

// conflictGateway makes BindSeat lose the race.  A negative count fails
// every bind.
type conflictGateway struct {
	repository.Gateway
	mu        sync.Mutex
	conflicts int
	binds     int
}

func (g *conflictGateway) InTx(ctx context.Context, fn func(repository.Store) error) error {
	return g.Gateway.InTx(ctx, func(st repository.Store) error {
		return fn(&conflictStore{Store: st, g: g})
	})
}

type conflictStore struct {
	repository.Store
	g *conflictGateway
}

func (s *conflictStore) BindSeat(ctx context.Context, seatID, reservationID uint64) error {
	s.g.mu.Lock()
	s.g.binds++
	fail := s.g.conflicts != 0
	if s.g.conflicts > 0 {
		s.g.conflicts--
	}
	s.g.mu.Unlock()
	if fail {
		return fmt.Errorf("seat %d: %w", seatID, repository.ErrConflict)
	}
	return s.Store.BindSeat(ctx, seatID, reservationID)
}

// stallGateway never finishes a transaction before the deadline.
type stallGateway struct{ repository.Gateway }

func (stallGateway) InTx(ctx context.Context, _ func(repository.Store) error) error {
	<-ctx.Done()
	return ctx.Err()
}

// flakyGateway fails the first n transactions with a transient error.
type flakyGateway struct {
	repository.Gateway
	mu       sync.Mutex
	failures int
	calls    int
}

func (g *flakyGateway) InTx(ctx context.Context, fn func(repository.Store) error) error {
	g.mu.Lock()
	g.calls++
	fail := g.failures > 0
	if fail {
		g.failures--
	}
	g.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: connection reset", repository.ErrGateway)
	}
	return g.Gateway.InTx(ctx, fn)
}
