package service

import (
	"context"
	"log"
	"time"
)

// NotificationKind names the event a passenger is told about.
type NotificationKind string

const (
	NotifyAdmitted      NotificationKind = "admitted"
	NotifyReassigned    NotificationKind = "reassigned"
	NotifyRejected      NotificationKind = "rejected"
	NotifyReleased      NotificationKind = "released"
	NotifyNeedsFollowUp NotificationKind = "needs_follow_up"
)

// Notification is a message for one passenger.  It is only sent after the
// state change it describes has been committed.
type Notification struct {
	Kind             NotificationKind `json:"kind"`
	PassengerID      uint64           `json:"passenger_id"`
	ReservationID    uint64           `json:"reservation_id,omitempty"`
	FlightID         uint64           `json:"flight_id"`
	PreviousFlightID uint64           `json:"previous_flight_id,omitempty"`
	SeatNumber       string           `json:"seat_number,omitempty"`
	Message          string           `json:"message"`
	At               time.Time        `json:"at"`
}

// Notifier delivers notifications.  Delivery is best effort: the engine
// logs a failed Notify and carries on.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// notify sends n with its own deadline so a slow sink cannot hold up the
// caller for longer than one gateway call.
func notify(ctx context.Context, sink Notifier, timeout time.Duration, n Notification) {
	if sink == nil {
		return
	}
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	ctx = context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := sink.Notify(ctx, n); err != nil {
		log.Printf("engine: notify %s passenger=%d reservation=%d failed: %v", n.Kind, n.PassengerID, n.ReservationID, err)
	}
}
