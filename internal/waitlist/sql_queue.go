package waitlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/flight-seat-reservation/internal/model"
	"github.com/iliyamo/flight-seat-reservation/internal/repository"
)

// mysqlDuplicateKey is ER_DUP_ENTRY.
const mysqlDuplicateKey = 1062

// SQLQueue is a Queue persisted in the waitlist_entries table so waiting
// passengers survive restarts.  The unique key (passenger_id, flight_id)
// enforces one entry per passenger and scope.
type SQLQueue struct {
	db *sql.DB
}

// NewSQLQueue returns a SQLQueue bound to the given database.
func NewSQLQueue(db *sql.DB) *SQLQueue { return &SQLQueue{db: db} }

const (
	entryColumns = `passenger_id, flight_id, priority, enqueued_at_ms`
	entryOrder   = ` ORDER BY priority_rank DESC, enqueued_at_ms ASC, id ASC`
)

func gatewayErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("waitlist %s: %w", op, err)
	}
	return fmt.Errorf("waitlist %s: %w: %w", op, repository.ErrGateway, err)
}

func (q *SQLQueue) Enqueue(ctx context.Context, e model.WaitEntry) error {
	if e.FlightID == AllScopes {
		return ErrInvalidScope
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO waitlist_entries (passenger_id, flight_id, priority, priority_rank, enqueued_at_ms) VALUES (?, ?, ?, ?, ?)`,
		e.PassengerID, e.FlightID, e.Tier, e.Tier.Rank(), e.EnqueuedAt)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateKey {
			return ErrDuplicateEntry
		}
		return gatewayErr("enqueue", err)
	}
	return nil
}

func scanEntry(row interface{ Scan(...any) error }) (model.WaitEntry, error) {
	var e model.WaitEntry
	err := row.Scan(&e.PassengerID, &e.FlightID, &e.Tier, &e.EnqueuedAt)
	return e, err
}

func (q *SQLQueue) Peek(ctx context.Context, flightID uint64) (model.WaitEntry, error) {
	if flightID == AllScopes {
		return model.WaitEntry{}, ErrInvalidScope
	}
	e, err := scanEntry(q.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM waitlist_entries WHERE flight_id = ?`+entryOrder+` LIMIT 1`, flightID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.WaitEntry{}, ErrEmpty
		}
		return model.WaitEntry{}, gatewayErr("peek", err)
	}
	return e, nil
}

// Dequeue locks the head row, deletes it and returns it, all in one
// transaction, so two servers never pop the same entry.
func (q *SQLQueue) Dequeue(ctx context.Context, flightID uint64) (model.WaitEntry, error) {
	if flightID == AllScopes {
		return model.WaitEntry{}, ErrInvalidScope
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return model.WaitEntry{}, gatewayErr("dequeue", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	var id uint64
	var e model.WaitEntry
	err = tx.QueryRowContext(ctx,
		`SELECT id, `+entryColumns+` FROM waitlist_entries WHERE flight_id = ?`+entryOrder+` LIMIT 1 FOR UPDATE`, flightID).
		Scan(&id, &e.PassengerID, &e.FlightID, &e.Tier, &e.EnqueuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.WaitEntry{}, ErrEmpty
		}
		return model.WaitEntry{}, gatewayErr("dequeue", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM waitlist_entries WHERE id = ?`, id); err != nil {
		return model.WaitEntry{}, gatewayErr("dequeue", err)
	}
	if err := tx.Commit(); err != nil {
		return model.WaitEntry{}, gatewayErr("dequeue", err)
	}
	committed = true
	return e, nil
}

func (q *SQLQueue) All(ctx context.Context, flightID uint64) (iter.Seq[model.WaitEntry], error) {
	query := `SELECT ` + entryColumns + ` FROM waitlist_entries`
	var args []any
	if flightID != AllScopes {
		query += ` WHERE flight_id = ?`
		args = append(args, flightID)
	}
	rows, err := q.db.QueryContext(ctx, query+entryOrder, args...)
	if err != nil {
		return nil, gatewayErr("list", err)
	}
	defer rows.Close()
	var out []model.WaitEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, gatewayErr("list", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, gatewayErr("list", err)
	}
	return snapshot(out), nil
}

func (q *SQLQueue) Remove(ctx context.Context, passengerID, flightID uint64) (bool, error) {
	query := `DELETE FROM waitlist_entries WHERE passenger_id = ?`
	args := []any{passengerID}
	if flightID != AllScopes {
		query += ` AND flight_id = ?`
		args = append(args, flightID)
	}
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, gatewayErr("remove", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, gatewayErr("remove", err)
	}
	return n > 0, nil
}
