package model

// SeatClass is the cabin class of a seat.
type SeatClass string

const (
	SeatEconomy  SeatClass = "ECONOMY"
	SeatBusiness SeatClass = "BUSINESS"
	SeatFirst    SeatClass = "FIRST"
)

// Seat describes a physical seat on an airplane.  A seat is free when
// ReservationID is nil; otherwise it points at exactly one active
// reservation.  That invariant is kept by the conditional bind in the
// persistence layer, not by the record itself.
//
// Fields:
//
//	ID            – primary key identifier.
//	AirplaneID    – airplane to which this seat belongs.
//	SeatNumber    – label such as 12C.
//	Class         – ECONOMY, BUSINESS or FIRST.
//	ReservationID – occupying reservation, nil when free.
type Seat struct {
	ID            uint64    `json:"id"`
	AirplaneID    uint64    `json:"airplane_id"`
	SeatNumber    string    `json:"seat_number"`
	Class         SeatClass `json:"class"`
	ReservationID *uint64   `json:"reservation_id,omitempty"`
}

// Free reports whether no reservation occupies the seat.
func (s Seat) Free() bool { return s.ReservationID == nil }
