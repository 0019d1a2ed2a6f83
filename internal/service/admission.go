package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"strconv"

	"github.com/iliyamo/flight-seat-reservation/internal/lock"
	"github.com/iliyamo/flight-seat-reservation/internal/model"
	"github.com/iliyamo/flight-seat-reservation/internal/repository"
	"github.com/iliyamo/flight-seat-reservation/internal/waitlist"
)

// Outcome tells what OnCapacityFreed did.
type Outcome string

const (
	// OutcomeEmpty means nobody was waiting; nothing changed.
	OutcomeEmpty Outcome = "empty"
	// OutcomeAdmitted means the head of the queue got a seat.
	OutcomeAdmitted Outcome = "admitted"
)

// AdmissionResult describes one OnCapacityFreed call.
type AdmissionResult struct {
	Outcome     Outcome            `json:"outcome"`
	Entry       *model.WaitEntry   `json:"entry,omitempty"`
	Reservation *model.Reservation `json:"reservation,omitempty"`
	Seat        *model.Seat        `json:"seat,omitempty"`
}

// Admission moves waiting passengers onto freed seats.  Every mutation of
// a flight's queue and every admission for that flight run under the
// flight's lock, so one entry is never seen by two admissions at once.
type Admission struct {
	gw     repository.Gateway
	queue  waitlist.Queue
	locks  lock.Locker
	notify Notifier
	clock  *waitlist.Clock
	opts   Options
}

// NewAdmission wires an Admission.  A nil clock uses the wall clock.
func NewAdmission(gw repository.Gateway, q waitlist.Queue, locks lock.Locker, n Notifier, clock *waitlist.Clock, opts Options) *Admission {
	if clock == nil {
		clock = waitlist.NewClock()
	}
	return &Admission{gw: gw, queue: q, locks: locks, notify: n, clock: clock, opts: opts.normalize()}
}

func flightKey(flightID uint64) string { return "flight:" + strconv.FormatUint(flightID, 10) }

func (a *Admission) lockFlight(ctx context.Context, flightID uint64) (func(), error) {
	unlock, err := a.locks.Lock(ctx, flightKey(flightID))
	if err != nil {
		return nil, fmt.Errorf("lock flight %d: %w", flightID, err)
	}
	return unlock, nil
}

// closed reports whether a flight no longer seats anybody.
func closed(f *model.Flight) bool {
	switch f.Status {
	case model.FlightCancelled, model.FlightDeparted, model.FlightArrived:
		return true
	}
	return false
}

func (a *Admission) flight(ctx context.Context, flightID uint64) (*model.Flight, error) {
	var f *model.Flight
	err := a.opts.call(ctx, "get flight", func(ctx context.Context) error {
		var err error
		f, err = a.gw.GetFlight(ctx, flightID)
		return err
	})
	return f, err
}

// RegisterWaiting puts the passenger on the flight's waitlist and returns
// the enqueue timestamp in epoch milliseconds.
func (a *Admission) RegisterWaiting(ctx context.Context, passengerID, flightID uint64, tier model.PriorityTier) (int64, error) {
	if !tier.Valid() {
		return 0, fmt.Errorf("register passenger %d: tier %q: %w", passengerID, tier, ErrInvalidTransition)
	}
	f, err := a.flight(ctx, flightID)
	if err != nil {
		return 0, err
	}
	if closed(f) {
		return 0, fmt.Errorf("flight %d is %s: %w", flightID, f.Status, ErrInvalidTransition)
	}

	// The confirmed check and the enqueue must not interleave with an
	// admission on the same flight.
	unlock, err := a.lockFlight(ctx, flightID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	var res *model.Reservation
	err = a.opts.call(ctx, "find reservation", func(ctx context.Context) error {
		var err error
		res, err = a.gw.FindReservation(ctx, passengerID, flightID)
		return err
	})
	switch {
	case errors.Is(err, repository.ErrNotFound): // first request for this flight
	case err != nil:
		return 0, err
	case res.Status == model.StatusConfirmed:
		return 0, fmt.Errorf("passenger %d already confirmed on flight %d: %w", passengerID, flightID, ErrInvalidTransition)
	}

	// Stamps come from one Clock so equal tiers keep arrival order.
	e := model.WaitEntry{PassengerID: passengerID, FlightID: flightID, Tier: tier, EnqueuedAt: a.clock.Next()}
	err = a.opts.call(ctx, "enqueue", func(ctx context.Context) error { return a.queue.Enqueue(ctx, e) })
	// Under the idempotent policy a repeat registration answers with the
	// original stamp instead of failing.
	if errors.Is(err, waitlist.ErrDuplicateEntry) && a.opts.DuplicatePolicy == DuplicateIdempotent {
		if existing, ok, ferr := a.waitingEntry(ctx, passengerID, flightID); ferr != nil {
			return 0, ferr
		} else if ok {
			return existing.EnqueuedAt, nil
		}
	}
	if err != nil {
		return 0, fmt.Errorf("register passenger %d on flight %d: %w", passengerID, flightID, err)
	}
	log.Printf("admission: passenger=%d flight=%d tier=%s waiting since %d", passengerID, flightID, tier, e.EnqueuedAt)
	return e.EnqueuedAt, nil
}

func (a *Admission) waitingEntry(ctx context.Context, passengerID, flightID uint64) (model.WaitEntry, bool, error) {
	entries, err := a.queue.All(ctx, flightID)
	if err != nil {
		return model.WaitEntry{}, false, err
	}
	for e := range entries {
		if e.PassengerID == passengerID {
			return e, true, nil
		}
	}
	return model.WaitEntry{}, false, nil
}

// Withdraw removes the passenger from the flight's waitlist.  It reports
// false when the passenger was not waiting.
func (a *Admission) Withdraw(ctx context.Context, passengerID, flightID uint64) (bool, error) {
	unlock, err := a.lockFlight(ctx, flightID)
	if err != nil {
		return false, err
	}
	defer unlock()

	var removed bool
	err = a.opts.call(ctx, "withdraw", func(ctx context.Context) error {
		var err error
		removed, err = a.queue.Remove(ctx, passengerID, flightID)
		return err
	})
	return removed, err
}

// Waiting returns the flight's waitlist in serving order.
func (a *Admission) Waiting(ctx context.Context, flightID uint64) (iter.Seq[model.WaitEntry], error) {
	if _, err := a.flight(ctx, flightID); err != nil {
		return nil, err
	}
	return a.queue.All(ctx, flightID)
}

// OnCapacityFreed tries to seat the passenger at the head of the flight's
// waitlist.  The entry leaves the queue only after the seat bind has been
// committed; on any failure it stays at the head for the next call.
// Cancelled, departed and arrived flights admit nobody.
func (a *Admission) OnCapacityFreed(ctx context.Context, flightID uint64) (AdmissionResult, error) {
	f, err := a.flight(ctx, flightID)
	if err != nil {
		return AdmissionResult{}, err
	}
	if closed(f) {
		return AdmissionResult{}, fmt.Errorf("flight %d is %s: %w", flightID, f.Status, ErrInvalidTransition)
	}
	unlock, err := a.lockFlight(ctx, flightID)
	if err != nil {
		return AdmissionResult{}, err
	}
	defer unlock()

	// Loop only to skip heads that were already served; every other path
	// returns.
	for {
		var head model.WaitEntry
		err := a.opts.call(ctx, "peek", func(ctx context.Context) error {
			var err error
			head, err = a.queue.Peek(ctx, flightID)
			return err
		})
		if errors.Is(err, waitlist.ErrEmpty) {
			return AdmissionResult{Outcome: OutcomeEmpty}, nil
		}
		if err != nil {
			return AdmissionResult{}, err
		}

		res, seat, served, err := a.admit(ctx, f, head)
		if err != nil {
			return AdmissionResult{}, fmt.Errorf("admit passenger %d on flight %d: %w", head.PassengerID, flightID, err)
		}
		if err := a.dequeue(ctx, head); err != nil {
			// the seat is committed; the next call finds the reservation
			// confirmed and drops the entry then
			return AdmissionResult{}, err
		}
		if served {
			log.Printf("admission: passenger=%d already confirmed on flight=%d, dropped from waitlist", head.PassengerID, flightID)
			continue
		}

		log.Printf("admission: passenger=%d flight=%d reservation=%d seat=%s", head.PassengerID, flightID, res.ID, seat.SeatNumber)
		notify(ctx, a.notify, a.opts.GatewayTimeout, Notification{
			Kind:          NotifyAdmitted,
			PassengerID:   head.PassengerID,
			ReservationID: res.ID,
			FlightID:      flightID,
			SeatNumber:    seat.SeatNumber,
			Message:       fmt.Sprintf("Your seat %s on flight %s is confirmed.", seat.SeatNumber, f.FlightNumber),
		})
		entry := head
		return AdmissionResult{Outcome: OutcomeAdmitted, Entry: &entry, Reservation: res, Seat: seat}, nil
	}
}

func (a *Admission) dequeue(ctx context.Context, head model.WaitEntry) error {
	return a.opts.call(ctx, "dequeue", func(ctx context.Context) error {
		_, err := a.queue.Remove(ctx, head.PassengerID, head.FlightID)
		return err
	})
}

// admit commits a seat for the entry.  served is true when the passenger
// already held a confirmed seat, in which case nothing is written.
func (a *Admission) admit(ctx context.Context, f *model.Flight, head model.WaitEntry) (res *model.Reservation, seat *model.Seat, served bool, err error) {
	for attempt := 0; attempt <= a.opts.ConflictRetries; attempt++ {
		err = a.opts.call(ctx, "admit", func(ctx context.Context) error {
			res, seat, served = nil, nil, false
			return a.gw.InTx(ctx, func(st repository.Store) error {
				// the flight may have been cancelled since it was loaded
				cur, err := st.GetFlight(ctx, f.ID)
				if err != nil {
					return err
				}
				if closed(cur) {
					return fmt.Errorf("flight %d is %s: %w", cur.ID, cur.Status, ErrInvalidTransition)
				}

				r, err := st.FindReservation(ctx, head.PassengerID, f.ID)
				switch {
				case errors.Is(err, repository.ErrNotFound):
					r = &model.Reservation{PassengerID: head.PassengerID, FlightID: f.ID, Status: model.StatusWaiting}
					if err := st.CreateReservation(ctx, r); err != nil {
						return err
					}
				case err != nil:
					return err
				case r.Status == model.StatusConfirmed:
					held, err := st.SeatForReservation(ctx, r.ID)
					if err != nil {
						return err
					}
					if held != nil {
						res, seat, served = r, held, true
						return nil
					}
				}

				// Any class will do for a waitlisted passenger.
				free, err := st.FindFreeSeat(ctx, f.AirplaneID, "")
				if err != nil {
					return err
				}
				if free == nil {
					return ErrNoSeatAvailable
				}
				// ErrConflict here means another writer took the seat first;
				// the outer loop retries with a fresh transaction.
				if err := st.BindSeat(ctx, free.ID, r.ID); err != nil {
					return err
				}
				if err := st.UpdateReservationStatusAndFlight(ctx, r.ID, model.StatusConfirmed, f.ID); err != nil {
					return err
				}
				rid := r.ID
				free.ReservationID = &rid
				r.Status = model.StatusConfirmed
				res, seat = r, free
				return nil
			})
		})
		if !errors.Is(err, repository.ErrConflict) {
			return res, seat, served, err
		}
		log.Printf("admission: seat race on flight=%d passenger=%d (attempt %d): %v", f.ID, head.PassengerID, attempt+1, err)
	}
	return nil, nil, false, fmt.Errorf("%w: %w", ErrNoSeatAvailable, err)
}

// ReleaseReservation gives up a confirmed seat: the reservation becomes
// CANCELLED, the seat is freed and handed to the head of the waitlist.
func (a *Admission) ReleaseReservation(ctx context.Context, reservationID uint64) (*model.Reservation, AdmissionResult, error) {
	var out *model.Reservation
	err := a.opts.call(ctx, "release reservation", func(ctx context.Context) error {
		out = nil
		return a.gw.InTx(ctx, func(st repository.Store) error {
			r, err := st.GetReservation(ctx, reservationID)
			if err != nil {
				return err
			}
			if r.Status != model.StatusConfirmed && r.Status != model.StatusWaiting {
				return fmt.Errorf("reservation %d is %s: %w", r.ID, r.Status, ErrInvalidTransition)
			}
			// A WAITING reservation holds no seat; only the status changes.
			held, err := st.SeatForReservation(ctx, r.ID)
			if err != nil {
				return err
			}
			if held != nil {
				if err := st.ReleaseSeat(ctx, held.ID); err != nil {
					return err
				}
			}
			if err := st.UpdateReservationStatusAndFlight(ctx, r.ID, model.StatusCancelled, r.FlightID); err != nil {
				return err
			}
			r.Status = model.StatusCancelled
			out = r
			return nil
		})
	})
	if err != nil {
		return nil, AdmissionResult{}, err
	}
	log.Printf("admission: reservation=%d released on flight=%d", out.ID, out.FlightID)
	notify(ctx, a.notify, a.opts.GatewayTimeout, Notification{
		Kind:          NotifyReleased,
		PassengerID:   out.PassengerID,
		ReservationID: out.ID,
		FlightID:      out.FlightID,
		Message:       fmt.Sprintf("Your reservation %d has been cancelled.", out.ID),
	})

	// Refill after the commit and outside any lock: Local locks are not
	// reentrant and OnCapacityFreed takes the flight's lock itself.
	result, err := a.OnCapacityFreed(ctx, out.FlightID)
	if errors.Is(err, ErrInvalidTransition) {
		log.Printf("admission: flight=%d no longer boarding, seat of reservation=%d not refilled", out.FlightID, out.ID)
		return out, AdmissionResult{}, nil
	}
	if err != nil {
		// the release itself is committed
		log.Printf("admission: refill flight=%d after release failed: %v", out.FlightID, err)
		return out, AdmissionResult{}, nil
	}
	return out, result, nil
}
