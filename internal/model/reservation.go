package model

import "time"

// ReservationStatus is the lifecycle state of a reservation.
//
//	WAITING   --(capacity freed)-->            CONFIRMED
//	CONFIRMED --(cancelled, accepted move)-->  CONFIRMED on the new flight
//	CONFIRMED --(cancelled, rejected move)-->  REJECTED | PENDING_REFUND
//	CONFIRMED --(voluntary release)-->         CANCELLED
type ReservationStatus string

const (
	StatusWaiting       ReservationStatus = "WAITING"
	StatusConfirmed     ReservationStatus = "CONFIRMED"
	StatusCancelled     ReservationStatus = "CANCELLED"
	StatusRejected      ReservationStatus = "REJECTED"
	StatusPendingRefund ReservationStatus = "PENDING_REFUND"
)

// Terminal reports whether no further transition is allowed.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case StatusCancelled, StatusRejected, StatusPendingRefund:
		return true
	}
	return false
}

// Reservation records a passenger's claim on a flight.  The persistence
// layer owns it; the engine only reads it and requests status transitions.
//
// Fields:
//
//	ID          – primary key identifier.
//	PassengerID – passenger who holds the reservation.
//	FlightID    – flight currently referenced.
//	Status      – WAITING, CONFIRMED, CANCELLED, REJECTED, PENDING_REFUND.
//	CreatedAt   – creation timestamp.
//	UpdatedAt   – last update timestamp.
type Reservation struct {
	ID          uint64            `json:"id"`
	PassengerID uint64            `json:"passenger_id"`
	FlightID    uint64            `json:"flight_id"`
	Status      ReservationStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
