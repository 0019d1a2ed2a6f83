package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iliyamo/flight-seat-reservation/internal/repository"
)

// DuplicatePolicy decides what RegisterWaiting does for a passenger who is
// already waiting on the flight.
type DuplicatePolicy string

const (
	// DuplicateReject surfaces waitlist.ErrDuplicateEntry.
	DuplicateReject DuplicatePolicy = "reject"
	// DuplicateIdempotent treats the call as a no-op and returns the
	// timestamp of the existing entry.
	DuplicateIdempotent DuplicatePolicy = "idempotent"
)

// RejectionPolicy decides what RejectSuggestion does to the reservation.
type RejectionPolicy string

const (
	// RejectTerminal moves the reservation to REJECTED and frees its seat.
	RejectTerminal RejectionPolicy = "rejected"
	// RejectRefund moves the reservation to PENDING_REFUND and frees its
	// seat.
	RejectRefund RejectionPolicy = "pending_refund"
	// RejectRecordOnly logs and notifies the decision without touching the
	// reservation.
	RejectRecordOnly RejectionPolicy = "record"
)

// Options tunes the engine.
type Options struct {
	DuplicatePolicy DuplicatePolicy
	RejectionPolicy RejectionPolicy
	// ConflictRetries is how many extra attempts a seat bind gets after
	// losing a race for a seat.
	ConflictRetries int
	// ClassFallback lets a reassignment take a seat of any class when the
	// original class is full.
	ClassFallback bool
	// GatewayTimeout bounds every storage call.  Zero disables it.
	GatewayTimeout time.Duration
	// TransientRetries is how many times a unit of work failing with
	// repository.ErrGateway is retried.
	TransientRetries int
	// RetryBackoff is the first retry delay; it doubles per attempt.
	RetryBackoff time.Duration
	// ReassignConcurrency bounds the fan-out of ReassignCancelledFlight.
	ReassignConcurrency int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		DuplicatePolicy:     DuplicateReject,
		RejectionPolicy:     RejectTerminal,
		ConflictRetries:     3,
		GatewayTimeout:      5 * time.Second,
		TransientRetries:    2,
		RetryBackoff:        100 * time.Millisecond,
		ReassignConcurrency: 4,
	}
}

// normalize fills zero values with defaults.
func (o Options) normalize() Options {
	d := DefaultOptions()
	switch o.DuplicatePolicy {
	case DuplicateReject, DuplicateIdempotent:
	default:
		o.DuplicatePolicy = d.DuplicatePolicy
	}
	switch o.RejectionPolicy {
	case RejectTerminal, RejectRefund, RejectRecordOnly:
	default:
		o.RejectionPolicy = d.RejectionPolicy
	}
	if o.ConflictRetries < 0 {
		o.ConflictRetries = 0
	}
	if o.TransientRetries < 0 {
		o.TransientRetries = 0
	}
	if o.ReassignConcurrency <= 0 {
		o.ReassignConcurrency = d.ReassignConcurrency
	}
	return o
}

// call runs one storage operation under the gateway timeout, retrying
// transient gateway failures with doubling backoff.  A deadline hit by the
// per-call timeout is reported as ErrGatewayTimeout; a deadline or
// cancellation of the caller's own context is returned as is.
func (o Options) call(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := o.RetryBackoff
	for attempt := 0; ; attempt++ {
		cctx, cancel := ctx, context.CancelFunc(func() {})
		if o.GatewayTimeout > 0 {
			cctx, cancel = context.WithTimeout(ctx, o.GatewayTimeout)
		}
		err := fn(cctx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", op, ErrGatewayTimeout)
		}
		if !errors.Is(err, repository.ErrGateway) || attempt >= o.TransientRetries {
			return err
		}
		log.Printf("engine: %s failed (attempt %d): %v; retrying in %s", op, attempt+1, err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
