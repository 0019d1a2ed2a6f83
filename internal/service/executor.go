package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/flight-seat-reservation/internal/lock"
	"github.com/iliyamo/flight-seat-reservation/internal/model"
	"github.com/iliyamo/flight-seat-reservation/internal/repository"
)

// Executor moves reservations off cancelled flights.
type Executor struct {
	gw      repository.Gateway
	planner *Planner
	locks   lock.Locker
	notify  Notifier
	opts    Options
}

func NewExecutor(gw repository.Gateway, planner *Planner, locks lock.Locker, n Notifier, opts Options) *Executor {
	return &Executor{gw: gw, planner: planner, locks: locks, notify: n, opts: opts.normalize()}
}

// ReassignPassenger moves the reservation to newFlightID in one
// transaction: the old seat is freed and a seat on the new flight is bound
// together, or nothing changes.  The reservation's flight must be cancelled
// and newFlightID must be one of its alternatives.  The passenger keeps
// their seat class unless class fallback is enabled.
func (x *Executor) ReassignPassenger(ctx context.Context, reservationID, newFlightID uint64) (*model.Reservation, error) {
	unlock, err := x.locks.Lock(ctx, flightKey(newFlightID))
	if err != nil {
		return nil, fmt.Errorf("lock flight %d: %w", newFlightID, err)
	}
	defer unlock()

	var (
		res      *model.Reservation
		seat     *model.Seat
		target   *model.Flight
		previous uint64
	)
	for attempt := 0; attempt <= x.opts.ConflictRetries; attempt++ {
		err = x.opts.call(ctx, "reassign", func(ctx context.Context) error {
			return x.gw.InTx(ctx, func(st repository.Store) error {
				r, err := st.GetReservation(ctx, reservationID)
				if err != nil {
					return err
				}
				f, err := st.GetFlight(ctx, newFlightID)
				if err != nil {
					return err
				}
				if r.Status != model.StatusConfirmed && r.Status != model.StatusWaiting {
					return fmt.Errorf("reservation %d is %s: %w", r.ID, r.Status, ErrInvalidTransition)
				}
				if r.FlightID == f.ID {
					return fmt.Errorf("reservation %d already on flight %d: %w", r.ID, f.ID, ErrInvalidTransition)
				}
				// only passengers of a cancelled flight may skip the target's
				// waitlist, and only onto a flight the planner would offer
				from, err := st.GetFlight(ctx, r.FlightID)
				if err != nil {
					return err
				}
				if from.Status != model.FlightCancelled {
					return fmt.Errorf("flight %d is %s, not cancelled: %w", from.ID, from.Status, ErrInvalidTransition)
				}
				if closed(f) || len(filterAlternatives(from, []model.Flight{*f})) == 0 {
					return fmt.Errorf("flight %d (%s) is not an alternative to flight %d: %w", f.ID, f.Status, from.ID, ErrInvalidTransition)
				}

				old, err := st.SeatForReservation(ctx, r.ID)
				if err != nil {
					return err
				}
				var class model.SeatClass
				if old != nil {
					class = old.Class
				}
				free, err := st.FindFreeSeat(ctx, f.AirplaneID, class)
				if err != nil {
					return err
				}
				if free == nil && class != "" && x.opts.ClassFallback {
					if free, err = st.FindFreeSeat(ctx, f.AirplaneID, ""); err != nil {
						return err
					}
				}
				if free == nil {
					return fmt.Errorf("flight %d class %q: %w", f.ID, class, ErrNoSeatAvailable)
				}

				if old != nil {
					if err := st.ReleaseSeat(ctx, old.ID); err != nil {
						return err
					}
				}
				if err := st.BindSeat(ctx, free.ID, r.ID); err != nil {
					return err
				}
				if err := st.UpdateReservationStatusAndFlight(ctx, r.ID, model.StatusConfirmed, f.ID); err != nil {
					return err
				}
				rid := r.ID
				free.ReservationID = &rid
				previous = r.FlightID
				r.FlightID, r.Status = f.ID, model.StatusConfirmed
				res, seat, target = r, free, f
				return nil
			})
		})
		if !errors.Is(err, repository.ErrConflict) {
			break
		}
		log.Printf("reassign: seat race on flight=%d reservation=%d (attempt %d): %v", newFlightID, reservationID, attempt+1, err)
	}
	if errors.Is(err, repository.ErrConflict) {
		err = fmt.Errorf("%w: %w", ErrNoSeatAvailable, err)
	}
	if err != nil {
		return nil, fmt.Errorf("reassign reservation %d to flight %d: %w", reservationID, newFlightID, err)
	}

	log.Printf("reassign: reservation=%d flight %d -> %d seat=%s", res.ID, previous, res.FlightID, seat.SeatNumber)
	notify(ctx, x.notify, x.opts.GatewayTimeout, Notification{
		Kind:             NotifyReassigned,
		PassengerID:      res.PassengerID,
		ReservationID:    res.ID,
		FlightID:         res.FlightID,
		PreviousFlightID: previous,
		SeatNumber:       seat.SeatNumber,
		Message:          fmt.Sprintf("You have been moved to flight %s, seat %s.", target.FlightNumber, seat.SeatNumber),
	})
	return res, nil
}

// RejectSuggestion records that the passenger declined the alternatives
// offered for their cancelled flight.  What happens to the reservation
// depends on the rejection policy.
func (x *Executor) RejectSuggestion(ctx context.Context, reservationID uint64) (*model.Reservation, error) {
	var res *model.Reservation
	err := x.opts.call(ctx, "reject suggestion", func(ctx context.Context) error {
		return x.gw.InTx(ctx, func(st repository.Store) error {
			r, err := st.GetReservation(ctx, reservationID)
			if err != nil {
				return err
			}
			if r.Status.Terminal() && x.opts.RejectionPolicy != RejectRecordOnly {
				return fmt.Errorf("reservation %d is %s: %w", r.ID, r.Status, ErrInvalidTransition)
			}
			// there is nothing to decline unless the flight was cancelled
			f, err := st.GetFlight(ctx, r.FlightID)
			if err != nil {
				return err
			}
			if f.Status != model.FlightCancelled {
				return fmt.Errorf("flight %d is %s, not cancelled: %w", f.ID, f.Status, ErrInvalidTransition)
			}
			res = r
			if x.opts.RejectionPolicy == RejectRecordOnly {
				return nil
			}
			status := model.StatusRejected
			if x.opts.RejectionPolicy == RejectRefund {
				status = model.StatusPendingRefund
			}
			held, err := st.SeatForReservation(ctx, r.ID)
			if err != nil {
				return err
			}
			if held != nil {
				if err := st.ReleaseSeat(ctx, held.ID); err != nil {
					return err
				}
			}
			if err := st.UpdateReservationStatusAndFlight(ctx, r.ID, status, r.FlightID); err != nil {
				return err
			}
			r.Status = status
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reject suggestion for reservation %d: %w", reservationID, err)
	}

	log.Printf("reassign: reservation=%d rejected alternatives policy=%s status=%s", res.ID, x.opts.RejectionPolicy, res.Status)
	notify(ctx, x.notify, x.opts.GatewayTimeout, Notification{
		Kind:          NotifyRejected,
		PassengerID:   res.PassengerID,
		ReservationID: res.ID,
		FlightID:      res.FlightID,
		Message:       fmt.Sprintf("We recorded that you declined the alternative flights for reservation %d.", res.ID),
	})
	return res, nil
}

// ReassignmentStatus is the per-passenger result of a fan-out.
type ReassignmentStatus string

const (
	Reassigned    ReassignmentStatus = "reassigned"
	NeedsFollowUp ReassignmentStatus = "needs_follow_up"
	Failed        ReassignmentStatus = "failed"
)

// ReassignmentOutcome reports what happened to one reservation.
type ReassignmentOutcome struct {
	ReservationID uint64             `json:"reservation_id"`
	PassengerID   uint64             `json:"passenger_id"`
	Status        ReassignmentStatus `json:"status"`
	FlightID      uint64             `json:"flight_id,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// ReassignCancelledFlight tries to move every confirmed reservation of a
// cancelled flight onto the first alternative with room, a bounded number
// of passengers at a time.  Each passenger is a separate transaction.
// Passengers nobody could seat are notified and reported as
// NeedsFollowUp.  Outcomes are in reservation id order.
func (x *Executor) ReassignCancelledFlight(ctx context.Context, flightID uint64) ([]ReassignmentOutcome, error) {
	var (
		f    *model.Flight
		list []model.Reservation
	)
	err := x.opts.call(ctx, "get flight", func(ctx context.Context) error {
		var err error
		f, err = x.gw.GetFlight(ctx, flightID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if f.Status != model.FlightCancelled {
		return nil, fmt.Errorf("flight %d is %s: %w", f.ID, f.Status, ErrInvalidTransition)
	}
	alternatives, err := x.planner.SuggestAlternatives(ctx, flightID)
	if err != nil {
		return nil, err
	}
	err = x.opts.call(ctx, "list reservations", func(ctx context.Context) error {
		var err error
		list, err = x.gw.ListReservationsByFlight(ctx, flightID, model.StatusConfirmed)
		return err
	})
	if err != nil {
		return nil, err
	}

	outcomes := make([]ReassignmentOutcome, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.opts.ReassignConcurrency)
	for i, r := range list {
		g.Go(func() error {
			out, err := x.moveOne(gctx, r, alternatives)
			outcomes[i] = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// moveOne only returns an error when the context is done; other failures
// are reported in the outcome.
func (x *Executor) moveOne(ctx context.Context, r model.Reservation, alternatives []model.Flight) (ReassignmentOutcome, error) {
	out := ReassignmentOutcome{ReservationID: r.ID, PassengerID: r.PassengerID}
	for _, alt := range alternatives {
		moved, err := x.ReassignPassenger(ctx, r.ID, alt.ID)
		if err == nil {
			out.Status, out.FlightID = Reassigned, moved.FlightID
			return out, nil
		}
		if ctx.Err() != nil {
			out.Status, out.Error = Failed, ctx.Err().Error()
			return out, ctx.Err()
		}
		if errors.Is(err, ErrNoSeatAvailable) {
			continue
		}
		out.Status, out.Error = Failed, err.Error()
		log.Printf("reassign: reservation=%d failed: %v", r.ID, err)
		return out, nil
	}

	out.Status = NeedsFollowUp
	log.Printf("reassign: reservation=%d passenger=%d needs follow-up, %d alternatives full", r.ID, r.PassengerID, len(alternatives))
	notify(ctx, x.notify, x.opts.GatewayTimeout, Notification{
		Kind:          NotifyNeedsFollowUp,
		PassengerID:   r.PassengerID,
		ReservationID: r.ID,
		FlightID:      r.FlightID,
		Message:       fmt.Sprintf("Your flight was cancelled and no alternative had room; an agent will contact you about reservation %d.", r.ID),
	})
	return out, nil
}
