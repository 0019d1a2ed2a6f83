package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/flight-seat-reservation/internal/model"
)

// MemoryGateway is a Gateway backed by process memory.  It is used by the
// tests and by the server when STORE_BACKEND=memory.  Transactions run on a
// private copy of the state that replaces the live state only on success,
// so a failed unit of work leaves nothing behind.
type MemoryGateway struct {
	mu  sync.Mutex
	st  *memState
	now func() time.Time
}

type memState struct {
	flights      map[uint64]model.Flight
	seats        map[uint64]model.Seat
	reservations map[uint64]model.Reservation
	lastResID    uint64
}

// NewMemoryGateway returns an empty MemoryGateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		st: &memState{
			flights:      make(map[uint64]model.Flight),
			seats:        make(map[uint64]model.Seat),
			reservations: make(map[uint64]model.Reservation),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// PutFlight inserts or replaces a flight.
func (g *MemoryGateway) PutFlight(f model.Flight) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.st.flights[f.ID] = f
}

// PutSeat inserts or replaces a seat.
func (g *MemoryGateway) PutSeat(s model.Seat) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.st.seats[s.ID] = copySeat(s)
}

// PutReservation inserts or replaces a reservation, keeping the id
// sequence ahead of explicitly chosen ids.
func (g *MemoryGateway) PutReservation(r model.Reservation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = g.now()
		r.UpdatedAt = r.CreatedAt
	}
	g.st.reservations[r.ID] = r
	if r.ID > g.st.lastResID {
		g.st.lastResID = r.ID
	}
}

// InTx runs fn against a copy of the state and publishes the copy only when
// fn succeeds.  Transactions are serialized.
func (g *MemoryGateway) InTx(ctx context.Context, fn func(Store) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := g.st.clone()
	if err := fn(&memStore{st: work, now: g.now}); err != nil {
		return err
	}
	// a deadline that passed while fn ran aborts the commit
	if err := ctx.Err(); err != nil {
		return err
	}
	g.st = work
	return nil
}

func (g *MemoryGateway) live() (*memStore, func()) {
	g.mu.Lock()
	return &memStore{st: g.st, now: g.now}, g.mu.Unlock
}

func (g *MemoryGateway) GetSeat(ctx context.Context, seatID uint64) (*model.Seat, error) {
	s, unlock := g.live()
	defer unlock()
	return s.GetSeat(ctx, seatID)
}

func (g *MemoryGateway) FindFreeSeat(ctx context.Context, airplaneID uint64, class model.SeatClass) (*model.Seat, error) {
	s, unlock := g.live()
	defer unlock()
	return s.FindFreeSeat(ctx, airplaneID, class)
}

func (g *MemoryGateway) BindSeat(ctx context.Context, seatID, reservationID uint64) error {
	s, unlock := g.live()
	defer unlock()
	return s.BindSeat(ctx, seatID, reservationID)
}

func (g *MemoryGateway) ReleaseSeat(ctx context.Context, seatID uint64) error {
	s, unlock := g.live()
	defer unlock()
	return s.ReleaseSeat(ctx, seatID)
}

func (g *MemoryGateway) SeatForReservation(ctx context.Context, reservationID uint64) (*model.Seat, error) {
	s, unlock := g.live()
	defer unlock()
	return s.SeatForReservation(ctx, reservationID)
}

func (g *MemoryGateway) GetReservation(ctx context.Context, id uint64) (*model.Reservation, error) {
	s, unlock := g.live()
	defer unlock()
	return s.GetReservation(ctx, id)
}

func (g *MemoryGateway) FindReservation(ctx context.Context, passengerID, flightID uint64) (*model.Reservation, error) {
	s, unlock := g.live()
	defer unlock()
	return s.FindReservation(ctx, passengerID, flightID)
}

func (g *MemoryGateway) CreateReservation(ctx context.Context, res *model.Reservation) error {
	s, unlock := g.live()
	defer unlock()
	return s.CreateReservation(ctx, res)
}

func (g *MemoryGateway) ListReservationsByFlight(ctx context.Context, flightID uint64, status model.ReservationStatus) ([]model.Reservation, error) {
	s, unlock := g.live()
	defer unlock()
	return s.ListReservationsByFlight(ctx, flightID, status)
}

func (g *MemoryGateway) UpdateReservationStatusAndFlight(ctx context.Context, id uint64, status model.ReservationStatus, flightID uint64) error {
	s, unlock := g.live()
	defer unlock()
	return s.UpdateReservationStatusAndFlight(ctx, id, status, flightID)
}

func (g *MemoryGateway) FindFlightsByRoute(ctx context.Context, destinationCityID, originCityID uint64) ([]model.Flight, error) {
	s, unlock := g.live()
	defer unlock()
	return s.FindFlightsByRoute(ctx, destinationCityID, originCityID)
}

func (g *MemoryGateway) GetFlight(ctx context.Context, id uint64) (*model.Flight, error) {
	s, unlock := g.live()
	defer unlock()
	return s.GetFlight(ctx, id)
}

func (st *memState) clone() *memState {
	c := &memState{
		flights:      make(map[uint64]model.Flight, len(st.flights)),
		seats:        make(map[uint64]model.Seat, len(st.seats)),
		reservations: make(map[uint64]model.Reservation, len(st.reservations)),
		lastResID:    st.lastResID,
	}
	for k, v := range st.flights {
		c.flights[k] = v
	}
	for k, v := range st.seats {
		c.seats[k] = copySeat(v)
	}
	for k, v := range st.reservations {
		c.reservations[k] = v
	}
	return c
}

func copySeat(s model.Seat) model.Seat {
	if s.ReservationID != nil {
		rid := *s.ReservationID
		s.ReservationID = &rid
	}
	return s
}

// memStore implements Store over a memState.  The caller holds the lock.
type memStore struct {
	st  *memState
	now func() time.Time
}

func (s *memStore) GetSeat(ctx context.Context, seatID uint64) (*model.Seat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seat, ok := s.st.seats[seatID]
	if !ok {
		return nil, fmt.Errorf("seat %d: %w", seatID, ErrNotFound)
	}
	out := copySeat(seat)
	return &out, nil
}

func (s *memStore) FindFreeSeat(ctx context.Context, airplaneID uint64, class model.SeatClass) (*model.Seat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var best *model.Seat
	for _, seat := range s.st.seats {
		if seat.AirplaneID != airplaneID || !seat.Free() {
			continue
		}
		if class != "" && seat.Class != class {
			continue
		}
		if best == nil || seat.ID < best.ID {
			c := copySeat(seat)
			best = &c
		}
	}
	return best, nil
}

func (s *memStore) BindSeat(ctx context.Context, seatID, reservationID uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seat, ok := s.st.seats[seatID]
	if !ok {
		return fmt.Errorf("seat %d: %w", seatID, ErrNotFound)
	}
	if !seat.Free() {
		return fmt.Errorf("seat %d already bound: %w", seatID, ErrConflict)
	}
	rid := reservationID
	seat.ReservationID = &rid
	s.st.seats[seatID] = seat
	return nil
}

func (s *memStore) ReleaseSeat(ctx context.Context, seatID uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seat, ok := s.st.seats[seatID]
	if !ok {
		return fmt.Errorf("seat %d: %w", seatID, ErrNotFound)
	}
	seat.ReservationID = nil
	s.st.seats[seatID] = seat
	return nil
}

func (s *memStore) SeatForReservation(ctx context.Context, reservationID uint64) (*model.Seat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, seat := range s.st.seats {
		if seat.ReservationID != nil && *seat.ReservationID == reservationID {
			out := copySeat(seat)
			return &out, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetReservation(ctx context.Context, id uint64) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, ok := s.st.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	return &r, nil
}

func (s *memStore) FindReservation(ctx context.Context, passengerID, flightID uint64) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var found *model.Reservation
	for _, r := range s.st.reservations {
		if r.PassengerID != passengerID || r.FlightID != flightID || r.Status.Terminal() {
			continue
		}
		if found == nil || r.ID > found.ID {
			c := r
			found = &c
		}
	}
	if found == nil {
		return nil, fmt.Errorf("reservation for passenger %d on flight %d: %w", passengerID, flightID, ErrNotFound)
	}
	return found, nil
}

func (s *memStore) CreateReservation(ctx context.Context, res *model.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st.lastResID++
	res.ID = s.st.lastResID
	res.CreatedAt = s.now()
	res.UpdatedAt = res.CreatedAt
	s.st.reservations[res.ID] = *res
	return nil
}

func (s *memStore) ListReservationsByFlight(ctx context.Context, flightID uint64, status model.ReservationStatus) ([]model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []model.Reservation{}
	for _, r := range s.st.reservations {
		if r.FlightID == flightID && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) UpdateReservationStatusAndFlight(ctx context.Context, id uint64, status model.ReservationStatus, flightID uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, ok := s.st.reservations[id]
	if !ok {
		return fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	r.Status = status
	r.FlightID = flightID
	r.UpdatedAt = s.now()
	s.st.reservations[id] = r
	return nil
}

func (s *memStore) FindFlightsByRoute(ctx context.Context, destinationCityID, originCityID uint64) ([]model.Flight, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []model.Flight{}
	for _, f := range s.st.flights {
		if f.DestinationCityID == destinationCityID && f.OriginCityID == originCityID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) GetFlight(ctx context.Context, id uint64) (*model.Flight, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, ok := s.st.flights[id]
	if !ok {
		return nil, fmt.Errorf("flight %d: %w", id, ErrNotFound)
	}
	return &f, nil
}
