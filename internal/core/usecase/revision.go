package usecase

import (
	"sync"
	"sync/atomic"
)

// Revisions hands out store-scoped change counters. Every committed write to
// a store bumps its counter; readers compare counters to spot stale caches.
// Counters live in memory and restart at zero with the process.
type Revisions struct {
	counters sync.Map // storeID -> *atomic.Uint64
}

func NewRevisions() *Revisions {
	return &Revisions{}
}

func (r *Revisions) counter(storeID string) *atomic.Uint64 {
	if c, ok := r.counters.Load(storeID); ok {
		return c.(*atomic.Uint64)
	}
	c, _ := r.counters.LoadOrStore(storeID, new(atomic.Uint64))
	return c.(*atomic.Uint64)
}

// Current reads the counter without creating one.
func (r *Revisions) Current(storeID string) uint64 {
	if c, ok := r.counters.Load(storeID); ok {
		return c.(*atomic.Uint64).Load()
	}
	return 0
}

func (r *Revisions) Bump(storeID string) uint64 {
	return r.counter(storeID).Add(1)
}

// Forget drops the counter of a deleted store.
func (r *Revisions) Forget(storeID string) {
	r.counters.Delete(storeID)
}
