// Package repository defines the persistence gateway the reservation engine
// talks to, an in-memory implementation, and a MySQL implementation.  The
// sentinel errors below are shared by every implementation so the service
// layer can tell failure modes apart with errors.Is.
package repository

import "errors"

// ErrNotFound is returned when a referenced flight, seat or reservation does
// not exist.  It is permanent for that id and never retried.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional write lost a race, e.g. a seat
// was bound by another reservation between the read and the bind.  Callers
// recover by re-reading and trying the next candidate.
var ErrConflict = errors.New("conflict")

// ErrGateway wraps transient storage failures (connection loss, deadlocks,
// driver errors).  The whole unit of work may be retried.
var ErrGateway = errors.New("gateway error")
