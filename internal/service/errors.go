// Package service implements the waitlist admission and reassignment
// engine on top of the repository, waitlist and lock packages.  Components
// are plain structs built once at startup and passed explicitly to the
// HTTP handlers.
package service

import "errors"

var (
	// ErrNoSeatAvailable means no matching free seat exists, or every
	// candidate was claimed concurrently until the conflict retries ran
	// out.  State is left exactly as it was.
	ErrNoSeatAvailable = errors.New("no seat available")
	// ErrGatewayTimeout means a storage call exceeded its deadline.  The
	// unit of work was rolled back and the waiting entry kept.
	ErrGatewayTimeout = errors.New("gateway timeout")
	// ErrInvalidTransition is returned when a reservation or flight is not
	// in a state that allows the requested operation.
	ErrInvalidTransition = errors.New("invalid state transition")
)
