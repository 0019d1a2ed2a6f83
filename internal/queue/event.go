// Package queue carries passenger notifications over RabbitMQ.  The engine
// publishes one NotificationEvent per committed state change, and a
// background consumer appends each event to logs/notifications.log.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/flight-seat-reservation/internal/service"
)

// NotificationQueue is the durable queue notifications are published to.
const NotificationQueue = "passenger.notifications"

// NotificationEvent is the wire form of a service.Notification.  It carries
// everything a downstream mailer needs without querying the database.
type NotificationEvent struct {
	ID               string `json:"id"`
	Kind             string `json:"kind"`
	PassengerID      uint64 `json:"passenger_id"`
	ReservationID    uint64 `json:"reservation_id,omitempty"`
	FlightID         uint64 `json:"flight_id"`
	PreviousFlightID uint64 `json:"previous_flight_id,omitempty"`
	SeatNumber       string `json:"seat_number,omitempty"`
	Message          string `json:"message"`
	OccurredAt       string `json:"occurred_at"`
}

// NewNotificationEvent stamps n with a fresh id.
func NewNotificationEvent(n service.Notification) NotificationEvent {
	at := n.At
	if at.IsZero() {
		at = time.Now()
	}
	return NotificationEvent{
		ID:               uuid.NewString(),
		Kind:             string(n.Kind),
		PassengerID:      n.PassengerID,
		ReservationID:    n.ReservationID,
		FlightID:         n.FlightID,
		PreviousFlightID: n.PreviousFlightID,
		SeatNumber:       n.SeatNumber,
		Message:          n.Message,
		OccurredAt:       at.UTC().Format(time.RFC3339),
	}
}
