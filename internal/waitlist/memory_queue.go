package waitlist

import (
	"container/heap"
	"context"
	"iter"
	"sort"
	"sync"

	"github.com/iliyamo/flight-seat-reservation/internal/model"
)

// MemoryQueue is a Queue kept in process memory, one binary heap per
// flight.  Contents are lost on restart.
type MemoryQueue struct {
	mu     sync.Mutex
	seq    uint64
	scopes map[uint64]*entryHeap
}

// NewMemoryQueue returns an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{scopes: make(map[uint64]*entryHeap)}
}

type heapItem struct {
	entry model.WaitEntry
	seq   uint64
}

type entryHeap []heapItem

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.entry.Before(b.entry) {
		return true
	}
	if b.entry.Before(a.entry) {
		return false
	}
	return a.seq < b.seq
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(heapItem)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

func (q *MemoryQueue) Enqueue(ctx context.Context, e model.WaitEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.FlightID == AllScopes {
		return ErrInvalidScope
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	h := q.scopes[e.FlightID]
	if h == nil {
		h = &entryHeap{}
		q.scopes[e.FlightID] = h
	}
	for _, it := range *h {
		if it.entry.PassengerID == e.PassengerID {
			return ErrDuplicateEntry
		}
	}
	q.seq++
	heap.Push(h, heapItem{entry: e, seq: q.seq})
	return nil
}

func (q *MemoryQueue) Peek(ctx context.Context, flightID uint64) (model.WaitEntry, error) {
	if err := ctx.Err(); err != nil {
		return model.WaitEntry{}, err
	}
	if flightID == AllScopes {
		return model.WaitEntry{}, ErrInvalidScope
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	h := q.scopes[flightID]
	if h == nil || h.Len() == 0 {
		return model.WaitEntry{}, ErrEmpty
	}
	return (*h)[0].entry, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, flightID uint64) (model.WaitEntry, error) {
	if err := ctx.Err(); err != nil {
		return model.WaitEntry{}, err
	}
	if flightID == AllScopes {
		return model.WaitEntry{}, ErrInvalidScope
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	h := q.scopes[flightID]
	if h == nil || h.Len() == 0 {
		return model.WaitEntry{}, ErrEmpty
	}
	it := heap.Pop(h).(heapItem)
	if h.Len() == 0 {
		delete(q.scopes, flightID)
	}
	return it.entry, nil
}

func (q *MemoryQueue) All(ctx context.Context, flightID uint64) (iter.Seq[model.WaitEntry], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	var items []heapItem
	for scope, h := range q.scopes {
		if inScope(scope, flightID) {
			items = append(items, (*h)...)
		}
	}
	q.mu.Unlock()

	sort.Slice(items, entryHeap(items).Less)
	out := make([]model.WaitEntry, len(items))
	for i, it := range items {
		out[i] = it.entry
	}
	return snapshot(out), nil
}

func (q *MemoryQueue) Remove(ctx context.Context, passengerID, flightID uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := false
	for scope, h := range q.scopes {
		if !inScope(scope, flightID) {
			continue
		}
		for i, it := range *h {
			if it.entry.PassengerID == passengerID {
				heap.Remove(h, i)
				removed = true
				break
			}
		}
		if h.Len() == 0 {
			delete(q.scopes, scope)
		}
	}
	return removed, nil
}
