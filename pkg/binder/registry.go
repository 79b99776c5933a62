package binder

import (
	"runtime"
	"sync"
	"weak"
)

// Handle is the external reference an embedder holds for a bound pipeline.
// Dropping every *Handle to a pipeline makes its batched updater eligible
// for reclamation without an explicit Close (spec.md §5, "the step registry
// that maps an external pipeline handle to its batched updater uses weak
// references so that dropping the handle eligibly reclaims the updater and
// its pending operations").
type Handle struct {
	id uint64
}

type registry struct {
	mu      sync.Mutex
	entries map[uint64]weak.Pointer[BatchedUpdater]
	nextID  uint64
}

var globalRegistry = &registry{entries: make(map[uint64]weak.Pointer[BatchedUpdater])}

// Register associates u with a freshly minted Handle in the package-level
// registry. Exported so callers that build their own step-graph wiring
// (rather than going through Bind) can opt an updater into weak-reference
// disposal too.
func Register(u *BatchedUpdater) *Handle { return globalRegistry.register(u) }

// register associates u with a freshly minted Handle and arms a cleanup that
// closes u and drops the registry entry once the Handle becomes unreachable.
func (r *registry) register(u *BatchedUpdater) *Handle {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.entries[id] = weak.Make(u)
	r.mu.Unlock()

	h := &Handle{id: id}
	runtime.AddCleanup(h, r.reclaim, id)
	return h
}

func (r *registry) reclaim(id uint64) {
	r.mu.Lock()
	wp, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	if u := wp.Value(); u != nil {
		u.Close()
	}
}

// updater returns h's live BatchedUpdater, or nil if it has already been
// reclaimed (the registry never pins it alive).
func (r *registry) updater(h *Handle) *BatchedUpdater {
	r.mu.Lock()
	wp, ok := r.entries[h.id]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return wp.Value()
}
