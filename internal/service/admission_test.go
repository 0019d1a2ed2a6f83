package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/flight-seat-reservation/internal/lock"
	"github.com/iliyamo/flight-seat-reservation/internal/model"
	"github.com/iliyamo/flight-seat-reservation/internal/repository"
	"github.com/iliyamo/flight-seat-reservation/internal/waitlist"
)

func seededFixture(t *testing.T, opts Options, wrap func(repository.Gateway) repository.Gateway, seats int) *fixture {
	f := newFixture(t, opts, wrap)
	f.flight(1, 100, model.FlightScheduled, departure)
	for i := 0; i < seats; i++ {
		f.seat(uint64(1001+i), 100, model.SeatEconomy)
	}
	return f
}

func TestOnCapacityFreed_ServesEqualTiersInArrivalOrder(t *testing.T) {
	f := seededFixture(t, testOptions(), nil, 2)
	ctx := context.Background()

	tsA, err := f.adm.RegisterWaiting(ctx, 1, 1, model.TierRegular)
	require.NoError(t, err)
	tsB, err := f.adm.RegisterWaiting(ctx, 2, 1, model.TierRegular)
	require.NoError(t, err)
	assert.Less(t, tsA, tsB)

	res, err := f.adm.OnCapacityFreed(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmitted, res.Outcome)
	assert.Equal(t, uint64(1), res.Entry.PassengerID)
	assert.Equal(t, model.StatusConfirmed, res.Reservation.Status)
	assert.Equal(t, uint64(1001), res.Seat.ID)

	res, err = f.adm.OnCapacityFreed(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Entry.PassengerID)
	assert.Empty(t, f.waiting(t))
}

func TestOnCapacityFreed_HigherTierJumpsAhead(t *testing.T) {
	f := seededFixture(t, testOptions(), nil, 1)
	ctx := context.Background()

	_, err := f.adm.RegisterWaiting(ctx, 1, 1, model.TierRegular)
	require.NoError(t, err)
	_, err = f.adm.RegisterWaiting(ctx, 2, 1, model.TierEmergency)
	require.NoError(t, err)

	res, err := f.adm.OnCapacityFreed(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Entry.PassengerID)

	left := f.waiting(t)
	require.Len(t, left, 1)
	assert.Equal(t, uint64(1), left[0].PassengerID)
}

func TestOnCapacityFreed_EmptyQueueChangesNothing(t *testing.T) {
	f := seededFixture(t, testOptions(), nil, 1)
	before := f.snapshot(t, []uint64{1001}, nil)

	res, err := f.adm.OnCapacityFreed(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, res.Outcome)
	assert.Nil(t, res.Reservation)
	assert.Equal(t, before, f.snapshot(t, []uint64{1001}, nil))
	assert.Empty(t, f.notes.all())
}

func TestOnCapacityFreed_UnknownFlight(t *testing.T) {
	f := seededFixture(t, testOptions(), nil, 1)
	_, err := f.adm.OnCapacityFreed(context.Background(), 99)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestOnCapacityFreed_NoSeatKeepsEntryAtHead(t *testing.T) {
	f := seededFixture(t, testOptions(), nil, 0)
	ctx := context.Background()
	_, err := f.adm.RegisterWaiting(ctx, 1, 1, model.TierRegular)
	require.NoError(t, err)

	_, err = f.adm.OnCapacityFreed(ctx, 1)
	assert.ErrorIs(t, err, ErrNoSeatAvailable)

	left := f.waiting(t)
	require.Len(t, left, 1)
	assert.Equal(t, uint64(1), left[0].PassengerID)

	// the failed attempt left no reservation behind
	_, err = f.mem.FindReservation(ctx, 1, 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestOnCapacityFreed_RetriesLostSeatRace(t *testing.T) {
	var cg *conflictGateway
	f := seededFixture(t, testOptions(), func(g repository.Gateway) repository.Gateway {
		cg = &conflictGateway{Gateway: g, conflicts: 2}
		return cg
	}, 1)
	ctx := context.Background()
	_, err := f.adm.RegisterWaiting(ctx, 1, 1, model.TierRegular)
	require.NoError(t, err)

	res, err := f.adm.OnCapacityFreed(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmitted, res.Outcome)
	assert.Equal(t, 3, cg.binds)
}

func TestOnCapacityFreed_ExhaustedRetriesKeepEntry(t *testing.T) {
	opts := testOptions()
	opts.ConflictRetries = 2
	var cg *conflictGateway
	f := seededFixture(t, opts, func(g repository.Gateway) repository.Gateway {
		cg = &conflictGateway{Gateway: g, conflicts: -1}
		return cg
	}, 1)
	ctx := context.Background()
	_, err := f.adm.RegisterWaiting(ctx, 1, 1, model.TierRegular)
	require.NoError(t, err)

	_, err = f.adm.OnCapacityFreed(ctx, 1)
	assert.ErrorIs(t, err, ErrNoSeatAvailable)
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Equal(t, 3, cg.binds)
	assert.Len(t, f.waiting(t), 1)

	seat, err := f.mem.GetSeat(ctx, 1001)
	require.NoError(t, err)
	assert.True(t, seat.Free())
}

func TestOnCapacityFreed_ConcurrentCallsNeverDoubleBook(t *testing.T) {
	f := seededFixture(t, testOptions(), nil, 2)
	ctx := context.Background()
	for p := uint64(1); p <= 5; p++ {
		_, err := f.adm.RegisterWaiting(ctx, p, 1, model.TierRegular)
		require.NoError(t, err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted []AdmissionResult
		noSeat   int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.adm.OnCapacityFreed(ctx, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted = append(admitted, res)
			case errors.Is(err, ErrNoSeatAvailable):
				noSeat++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, admitted, 2)
	assert.Equal(t, 3, noSeat)
	assert.NotEqual(t, admitted[0].Seat.ID, admitted[1].Seat.ID)
	assert.NotEqual(t, admitted[0].Reservation.ID, admitted[1].Reservation.ID)
	// arrival order still holds under contention
	served := []uint64{admitted[0].Entry.PassengerID, admitted[1].Entry.PassengerID}
	assert.ElementsMatch(t, []uint64{1, 2}, served)
	assert.Len(t, f.waiting(t), 3)
}

func TestOnCapacityFreed_DropsAlreadyConfirmedHead(t *testing.T) {
	f := seededFixture(t, testOptions(), nil, 2)
	ctx := context.Background()
	f.confirmed(t, 40, 1, 1, 1001)
	// an entry left behind by a crash between commit and dequeue
	require.NoError(t, f.queue.Enqueue(ctx, model.WaitEntry{PassengerID: 1, FlightID: 1, Tier: model.TierRegular, EnqueuedAt: 1}))
	_, err := f.adm.RegisterWaiting(ctx, 2, 1, model.TierRegular)
	require.NoError(t, err)

	res, err := f.adm.OnCapacityFreed(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Entry.PassengerID)
	assert.Equal(t, uint64(1002), res.Seat.ID)
	assert.Empty(t, f.waiting(t))
}

func TestOnCapacityFreed_TimeoutKeepsEntry(t *testing.T) {
	opts := testOptions()
	opts.GatewayTimeout = 20 * time.Millisecond
	f := seededFixture(t, opts, func(g repository.Gateway) repository.Gateway {
		return stallGateway{Gateway: g}
	}, 1)
	ctx := context.Background()
	_, err := f.adm.RegisterWaiting(ctx, 1, 1, model.TierRegular)
	require.NoError(t, err)

	_, err = f.adm.OnCapacityFreed(ctx, 1)
	assert.ErrorIs(t, err, ErrGatewayTimeout)
	assert.Len(t, f.waiting(t), 1)
}

func TestOnCapacityFreed_RetriesTransientGatewayErrors(t *testing.T) {
	var fg *flakyGateway
	f := seededFixture(t, testOptions(), func(g repository.Gateway) repository.Gateway {
		fg = &flakyGateway{Gateway: g, failures: 2}
		return fg
	}, 1)
	ctx := context.Background()
	_, err := f.adm.RegisterWaiting(ctx, 1, 1, model.TierRegular)
	require.NoError(t, err)

	res, err := f.adm.OnCapacityFreed(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmitted, res.Outcome)
	assert.Equal(t, 3, fg.calls)
}

func TestOnCapacityFreed_PersistentGatewayErrorSurfaces(t *testing.T) {
	f := seededFixture(t, testOptions(), func(g repository.Gateway) repository.Gateway {
		return &flakyGateway{Gateway: g, failures: 10}
	}, 1)
	ctx := context.Background()
	_, err := f.adm.RegisterWaiting(ctx, 1, 1, model.TierRegular)
	require.NoError(t, err)

	_, err = f.adm.OnCapacityFreed(ctx, 1)
	assert.ErrorIs(t, err, repository.ErrGateway)
	assert.Len(t, f.waiting(t), 1)
}

func TestOnCapacityFreed_NotifiesAfterCommit(t *testing.T) {
	mem := repository.NewMemoryGateway()
	mem.PutFlight(model.Flight{ID: 1, FlightNumber: "AV1", AirplaneID: 100, Status: model.FlightScheduled})
	mem.PutSeat(model.Seat{ID: 1001, AirplaneID: 100, SeatNumber: "12C", Class: model.SeatEconomy})

	n := &mockNotifier{}
	n.On("Notify", mock.Anything, mock.MatchedBy(func(got Notification) bool {
		return got.Kind == NotifyAdmitted && got.PassengerID == 7 && got.SeatNumber == "12C" && got.FlightID == 1
	})).Return(errors.New("smtp down")).Once()

	adm := NewAdmission(mem, waitlist.NewMemoryQueue(), lock.NewLocal(), n, nil, testOptions())
	ctx := context.Background()
	_, err := adm.RegisterWaiting(ctx, 7, 1, model.TierPremium)
	require.NoError(t, err)

	// a failing sink does not undo the admission
	res, err := adm.OnCapacityFreed(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmitted, res.Outcome)
	n.AssertExpectations(t)
}

func TestWithdraw_PassengerIsNeverServed(t *testing.T) {
	f := seededFixture(t, testOptions(), nil, 1)
	ctx := context.Background()
	_, err := f.adm.RegisterWaiting(ctx, 1, 1, model.TierEmergency)
	require.NoError(t, err)
	_, err = f.adm.RegisterWaiting(ctx, 2, 1, model.TierRegular)
	require.NoError(t, err)

	removed, err := f.adm.Withdraw(ctx, 1, 1)
	require.NoError(t, err)
	assert.True(t, removed)

	seq, err := f.adm.Waiting(ctx, 1)
	require.NoError(t, err)
	for e := range seq {
		assert.NotEqual(t, uint64(1), e.PassengerID)
	}

	res, err := f.adm.OnCapacityFreed(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Entry.PassengerID)

	removed, err = f.adm.Withdraw(ctx, 1, 1)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRegisterWaiting_DuplicatePolicy(t *testing.T) {
	t.Run("reject", func(t *testing.T) {
		f := seededFixture(t, testOptions(), nil, 1)
		ctx := context.Background()
		_, err := f.adm.RegisterWaiting(ctx, 1, 1, model.TierRegular)
		require.NoError(t, err)
		_, err = f.adm.RegisterWaiting(ctx, 1, 1, model.TierEmergency)
		assert.ErrorIs(t, err, waitlist.ErrDuplicateEntry)
		assert.Len(t, f.waiting(t), 1)
	})
	t.Run("idempotent", func(t *testing.T) {
		opts := testOptions()
		opts.DuplicatePolicy = DuplicateIdempotent
		f := seededFixture(t, opts, nil, 1)
		ctx := context.Background()
		first, err := f.adm.RegisterWaiting(ctx, 1, 1, model.TierRegular)
		require.NoError(t, err)
		again, err := f.adm.RegisterWaiting(ctx, 1, 1, model.TierRegular)
		require.NoError(t, err)
		assert.Equal(t, first, again)
		assert.Len(t, f.waiting(t), 1)
	})
}

func TestRegisterWaiting_Rejections(t *testing.T) {
	f := seededFixture(t, testOptions(), nil, 1)
	f.flight(2, 200, model.FlightCancelled, departure)
	ctx := context.Background()

	_, err := f.adm.RegisterWaiting(ctx, 1, 99, model.TierRegular)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = f.adm.RegisterWaiting(ctx, 1, 2, model.TierRegular)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.adm.RegisterWaiting(ctx, 1, 1, model.PriorityTier("VIP"))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	f.confirmed(t, 40, 5, 1, 1001)
	_, err = f.adm.RegisterWaiting(ctx, 5, 1, model.TierRegular)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, f.waiting(t))
}

func TestReleaseReservation_HandsSeatToWaitlist(t *testing.T) {
	f := seededFixture(t, testOptions(), nil, 1)
	ctx := context.Background()
	f.confirmed(t, 40, 1, 1, 1001)
	_, err := f.adm.RegisterWaiting(ctx, 2, 1, model.TierRegular)
	require.NoError(t, err)

	released, res, err := f.adm.ReleaseReservation(ctx, 40)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, released.Status)
	require.Equal(t, OutcomeAdmitted, res.Outcome)
	assert.Equal(t, uint64(2), res.Entry.PassengerID)
	assert.Equal(t, uint64(1001), res.Seat.ID)

	_, _, err = f.adm.ReleaseReservation(ctx, 40)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	var kinds []NotificationKind
	for _, n := range f.notes.all() {
		kinds = append(kinds, n.Kind)
	}
	assert.Equal(t, []NotificationKind{NotifyReleased, NotifyAdmitted}, kinds)
}

func TestOnCapacityFreed_ClosedFlightAdmitsNobody(t *testing.T) {
	for _, status := range []model.FlightStatus{model.FlightCancelled, model.FlightDeparted, model.FlightArrived} {
		t.Run(string(status), func(t *testing.T) {
			f := seededFixture(t, testOptions(), nil, 1)
			ctx := context.Background()
			_, err := f.adm.RegisterWaiting(ctx, 7, 1, model.TierEmergency)
			require.NoError(t, err)
			f.flight(1, 100, status, departure)
			before := f.snapshot(t, []uint64{1001}, nil)

			res, err := f.adm.OnCapacityFreed(ctx, 1)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Empty(t, res.Outcome)
			assert.Equal(t, before, f.snapshot(t, []uint64{1001}, nil))
			_, err = f.mem.FindReservation(ctx, 7, 1)
			assert.ErrorIs(t, err, repository.ErrNotFound)
			assert.Len(t, f.waiting(t), 1)
			assert.Empty(t, f.notes.all())
		})
	}
}

// staleFlightGateway reports every flight as scheduled outside a
// transaction, like a read taken just before the flight was cancelled.
type staleFlightGateway struct{ repository.Gateway }

func (g staleFlightGateway) GetFlight(ctx context.Context, id uint64) (*model.Flight, error) {
	f, err := g.Gateway.GetFlight(ctx, id)
	if err != nil {
		return nil, err
	}
	f.Status = model.FlightScheduled
	return f, nil
}

func TestOnCapacityFreed_RechecksFlightInsideTransaction(t *testing.T) {
	f := seededFixture(t, testOptions(), func(g repository.Gateway) repository.Gateway {
		return staleFlightGateway{Gateway: g}
	}, 1)
	ctx := context.Background()
	_, err := f.adm.RegisterWaiting(ctx, 7, 1, model.TierRegular)
	require.NoError(t, err)
	f.flight(1, 100, model.FlightCancelled, departure)

	_, err = f.adm.OnCapacityFreed(ctx, 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	seat, err := f.mem.GetSeat(ctx, 1001)
	require.NoError(t, err)
	assert.True(t, seat.Free())
	assert.Len(t, f.waiting(t), 1)
}

func TestReleaseReservation_CancelledFlightIsNotRefilled(t *testing.T) {
	f := seededFixture(t, testOptions(), nil, 1)
	ctx := context.Background()
	f.confirmed(t, 40, 1, 1, 1001)
	_, err := f.adm.RegisterWaiting(ctx, 2, 1, model.TierRegular)
	require.NoError(t, err)
	f.flight(1, 100, model.FlightCancelled, departure)

	released, res, err := f.adm.ReleaseReservation(ctx, 40)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, released.Status)
	assert.Empty(t, res.Outcome)

	seat, err := f.mem.GetSeat(ctx, 1001)
	require.NoError(t, err)
	assert.True(t, seat.Free())
	_, err = f.mem.FindReservation(ctx, 2, 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	var kinds []NotificationKind
	for _, n := range f.notes.all() {
		kinds = append(kinds, n.Kind)
	}
	assert.Equal(t, []NotificationKind{NotifyReleased}, kinds)
}
