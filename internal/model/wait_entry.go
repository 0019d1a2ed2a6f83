package model

// WaitEntry is a passenger waiting for a seat.  Entries are immutable once
// created: serving or withdrawing a passenger removes the entry instead of
// changing it.
//
// Fields:
//
//	PassengerID – waiting passenger (users.id).
//	FlightID    – flight the passenger waits for; zero means the global scope.
//	Tier        – priority tier captured at enqueue time.
//	EnqueuedAt  – enqueue timestamp in epoch milliseconds.
type WaitEntry struct {
	PassengerID uint64       `json:"passenger_id"`
	FlightID    uint64       `json:"flight_id"`
	Tier        PriorityTier `json:"tier"`
	EnqueuedAt  int64        `json:"enqueued_at"`
}

// Before reports whether e must be served before o: higher rank first, then
// earlier enqueue time.  Equal entries are left to the caller's insertion
// order.
func (e WaitEntry) Before(o WaitEntry) bool {
	if r1, r2 := e.Tier.Rank(), o.Tier.Rank(); r1 != r2 {
		return r1 > r2
	}
	return e.EnqueuedAt < o.EnqueuedAt
}
