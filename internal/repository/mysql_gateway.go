package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/flight-seat-reservation/internal/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx so the same statements
// run inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// MySQLGateway is the Gateway backed by the flights, seats and reservations
// tables.  All timestamps are stored in UTC (the DSN sets loc=UTC).
type MySQLGateway struct {
	*sqlStore
	db *sql.DB
}

// NewMySQLGateway returns a MySQLGateway bound to the given database.
func NewMySQLGateway(db *sql.DB) *MySQLGateway {
	return &MySQLGateway{sqlStore: &sqlStore{q: db}, db: db}
}

// InTx runs fn inside a database transaction.  The transaction is rolled
// back when fn fails or commit is never reached.
func (g *MySQLGateway) InTx(ctx context.Context, fn func(Store) error) error {
	// Default isolation (REPEATABLE READ on InnoDB).  Seat races are settled
	// by the conditional UPDATE in BindSeat, not by row locks.
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	// Every statement issued by fn goes through the same *sql.Tx.
	if err := fn(&sqlStore{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("commit transaction", err)
	}
	committed = true
	return nil
}

// wrapErr tags a driver failure as ErrGateway.  Context errors keep their
// identity so callers can recognise a timeout.
func wrapErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrGateway, err)
}

type sqlStore struct {
	q querier
}

const seatColumns = `id, airplane_id, seat_number, seat_class, reservation_id`

func scanSeat(row interface{ Scan(...any) error }) (*model.Seat, error) {
	var s model.Seat
	var rid sql.NullInt64 // NULL while the seat is free
	if err := row.Scan(&s.ID, &s.AirplaneID, &s.SeatNumber, &s.Class, &rid); err != nil {
		return nil, err
	}
	if rid.Valid {
		v := uint64(rid.Int64)
		s.ReservationID = &v
	}
	return &s, nil
}

func (s *sqlStore) GetSeat(ctx context.Context, seatID uint64) (*model.Seat, error) {
	seat, err := scanSeat(s.q.QueryRowContext(ctx, `SELECT `+seatColumns+` FROM seats WHERE id = ?`, seatID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("seat %d: %w", seatID, ErrNotFound)
		}
		return nil, wrapErr("get seat", err)
	}
	return seat, nil
}

func (s *sqlStore) FindFreeSeat(ctx context.Context, airplaneID uint64, class model.SeatClass) (*model.Seat, error) {
	q := `SELECT ` + seatColumns + ` FROM seats WHERE airplane_id = ? AND reservation_id IS NULL`
	args := []any{airplaneID}
	if class != "" {
		q += ` AND seat_class = ?`
		args = append(args, class)
	}
	// Lowest id first so repeated admissions fill the cabin in a stable order.
	q += ` ORDER BY id LIMIT 1`
	seat, err := scanSeat(s.q.QueryRowContext(ctx, q, args...))
	if err != nil {
		// A full airplane is a normal answer, not an error.
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("find free seat", err)
	}
	return seat, nil
}

func (s *sqlStore) BindSeat(ctx context.Context, seatID, reservationID uint64) error {
	// Only a free seat matches the WHERE clause, so two transactions binding
	// the same seat cannot both succeed.
	res, err := s.q.ExecContext(ctx,
		`UPDATE seats SET reservation_id = ? WHERE id = ? AND reservation_id IS NULL`,
		reservationID, seatID)
	if err != nil {
		return wrapErr("bind seat", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("bind seat", err)
	}
	if n == 1 {
		return nil
	}
	// Nothing changed: either the seat does not exist or someone holds it.
	ok, err := s.exists(ctx, "seats", seatID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("seat %d: %w", seatID, ErrNotFound)
	}
	return fmt.Errorf("seat %d already bound: %w", seatID, ErrConflict)
}

func (s *sqlStore) ReleaseSeat(ctx context.Context, seatID uint64) error {
	res, err := s.q.ExecContext(ctx, `UPDATE seats SET reservation_id = NULL WHERE id = ?`, seatID)
	if err != nil {
		return wrapErr("release seat", err)
	}
	// zero rows is also what MySQL reports for a seat that was already free
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		ok, err := s.exists(ctx, "seats", seatID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("seat %d: %w", seatID, ErrNotFound)
		}
	}
	return nil
}

func (s *sqlStore) SeatForReservation(ctx context.Context, reservationID uint64) (*model.Seat, error) {
	seat, err := scanSeat(s.q.QueryRowContext(ctx,
		`SELECT `+seatColumns+` FROM seats WHERE reservation_id = ? LIMIT 1`, reservationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("seat for reservation", err)
	}
	return seat, nil
}

const reservationColumns = `id, passenger_id, flight_id, status, created_at, updated_at`

func scanReservation(row interface{ Scan(...any) error }) (*model.Reservation, error) {
	var r model.Reservation
	if err := row.Scan(&r.ID, &r.PassengerID, &r.FlightID, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *sqlStore) GetReservation(ctx context.Context, id uint64) (*model.Reservation, error) {
	r, err := scanReservation(s.q.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
		}
		return nil, wrapErr("get reservation", err)
	}
	return r, nil
}

func (s *sqlStore) FindReservation(ctx context.Context, passengerID, flightID uint64) (*model.Reservation, error) {
	r, err := scanReservation(s.q.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE passenger_id = ? AND flight_id = ? AND status IN ('WAITING','CONFIRMED')
		 ORDER BY id DESC LIMIT 1`, passengerID, flightID)) // terminal rows are history
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reservation for passenger %d on flight %d: %w", passengerID, flightID, ErrNotFound)
		}
		return nil, wrapErr("find reservation", err)
	}
	return r, nil
}

// CreateReservation inserts the reservation and reads back the generated id
// and timestamps.
func (s *sqlStore) CreateReservation(ctx context.Context, res *model.Reservation) error {
	result, err := s.q.ExecContext(ctx,
		`INSERT INTO reservations (passenger_id, flight_id, status) VALUES (?, ?, ?)`,
		res.PassengerID, res.FlightID, res.Status)
	if err != nil {
		return wrapErr("create reservation", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return wrapErr("create reservation", err)
	}
	res.ID = uint64(id)
	// created_at and updated_at are filled in by column defaults.
	err = s.q.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM reservations WHERE id = ?`, res.ID).
		Scan(&res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return wrapErr("create reservation", err)
	}
	return nil
}

func (s *sqlStore) ListReservationsByFlight(ctx context.Context, flightID uint64, status model.ReservationStatus) ([]model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE flight_id = ?`
	args := []any{flightID}
	// An empty status lists every reservation of the flight.
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY id`
	rows, err := s.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr("list reservations", err)
	}
	defer rows.Close()
	out := []model.Reservation{}
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, wrapErr("scan reservation", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list reservations", err)
	}
	return out, nil
}

func (s *sqlStore) UpdateReservationStatusAndFlight(ctx context.Context, id uint64, status model.ReservationStatus, flightID uint64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE reservations SET status = ?, flight_id = ? WHERE id = ?`, status, flightID, id)
	if err != nil {
		return wrapErr("update reservation", err)
	}
	// MySQL counts changed rows only; rewriting the same values reports 0.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		ok, err := s.exists(ctx, "reservations", id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("reservation %d: %w", id, ErrNotFound)
		}
	}
	return nil
}

const flightColumns = `id, flight_number, origin_city_id, destination_city_id, departure_at, arrival_at, status, airplane_id`

func scanFlight(row interface{ Scan(...any) error }) (*model.Flight, error) {
	var f model.Flight
	err := row.Scan(&f.ID, &f.FlightNumber, &f.OriginCityID, &f.DestinationCityID,
		&f.DepartureAt, &f.ArrivalAt, &f.Status, &f.AirplaneID)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *sqlStore) FindFlightsByRoute(ctx context.Context, destinationCityID, originCityID uint64) ([]model.Flight, error) {
	// Column order follows idx_flights_route so the index is used.
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+flightColumns+` FROM flights
		 WHERE destination_city_id = ? AND origin_city_id = ? ORDER BY id`,
		destinationCityID, originCityID)
	if err != nil {
		return nil, wrapErr("find flights by route", err)
	}
	defer rows.Close()
	out := []model.Flight{}
	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return nil, wrapErr("scan flight", err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("find flights by route", err)
	}
	return out, nil
}

func (s *sqlStore) GetFlight(ctx context.Context, id uint64) (*model.Flight, error) {
	f, err := scanFlight(s.q.QueryRowContext(ctx, `SELECT `+flightColumns+` FROM flights WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("flight %d: %w", id, ErrNotFound)
		}
		return nil, wrapErr("get flight", err)
	}
	return f, nil
}

// exists reports whether a row with the id is present in table.  table is
// always a constant from this file.
func (s *sqlStore) exists(ctx context.Context, table string, id uint64) (bool, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id).Scan(&n); err != nil {
		return false, wrapErr("check "+table, err)
	}
	return n > 0, nil
}
