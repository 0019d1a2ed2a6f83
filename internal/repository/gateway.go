package repository

import (
	"context"

	"github.com/iliyamo/flight-seat-reservation/internal/model"
)

// Store is the set of persistence operations the engine needs.  Every
// method may fail with ErrGateway; lookups by id fail with ErrNotFound.
type Store interface {
	GetSeat(ctx context.Context, seatID uint64) (*model.Seat, error)
	// FindFreeSeat returns an unoccupied seat on the airplane, restricted to
	// class unless class is empty.  It returns nil, nil when none is free.
	FindFreeSeat(ctx context.Context, airplaneID uint64, class model.SeatClass) (*model.Seat, error)
	// BindSeat occupies the seat with the reservation only if the seat is
	// currently free, otherwise ErrConflict.
	BindSeat(ctx context.Context, seatID, reservationID uint64) error
	ReleaseSeat(ctx context.Context, seatID uint64) error
	// SeatForReservation returns the seat occupied by the reservation, or
	// nil, nil when it holds none.
	SeatForReservation(ctx context.Context, reservationID uint64) (*model.Seat, error)

	GetReservation(ctx context.Context, id uint64) (*model.Reservation, error)
	// FindReservation returns the passenger's most recent non-terminal
	// reservation on the flight.
	FindReservation(ctx context.Context, passengerID, flightID uint64) (*model.Reservation, error)
	// CreateReservation inserts res and fills in ID and timestamps.
	CreateReservation(ctx context.Context, res *model.Reservation) error
	ListReservationsByFlight(ctx context.Context, flightID uint64, status model.ReservationStatus) ([]model.Reservation, error)
	UpdateReservationStatusAndFlight(ctx context.Context, id uint64, status model.ReservationStatus, flightID uint64) error

	// FindFlightsByRoute lists flights from originCityID to
	// destinationCityID.  The destination comes first to match the route
	// index (destination_city_id, origin_city_id).
	FindFlightsByRoute(ctx context.Context, destinationCityID, originCityID uint64) ([]model.Flight, error)
	GetFlight(ctx context.Context, id uint64) (*model.Flight, error)
}

// Gateway is a Store that can also run a unit of work atomically.  When fn
// returns an error every write made through the Store passed to fn is
// discarded.
type Gateway interface {
	Store
	InTx(ctx context.Context, fn func(Store) error) error
}
