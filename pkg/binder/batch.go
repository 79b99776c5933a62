package binder

import (
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/l7mp/flowtree/pkg/statestore"
	"github.com/l7mp/flowtree/pkg/tree"
)

// operation is one queued change to the materialized tree.
type operation func(root *tree.Array) (*tree.Array, error)

// BatchedUpdater orders and coalesces emitted transforms before committing them to
// the state container (spec.md §4.8). Operations must apply in enqueue order: a
// later modified under a key added earlier in the same batch requires the add to
// have landed first, so the queue is never reordered or grouped by kind.
type BatchedUpdater struct {
	mu        sync.Mutex
	queue     []operation
	batchSize int
	interval  time.Duration
	timer     *time.Timer
	store     *statestore.Store
	log       logr.Logger
	closed    bool
}

// NewBatchedUpdater constructs an updater flushing store after batchSize queued
// operations or interval since the last enqueue, whichever comes first.
func NewBatchedUpdater(store *statestore.Store, batchSize int, interval time.Duration, log logr.Logger) *BatchedUpdater {
	return &BatchedUpdater{
		batchSize: batchSize,
		interval:  interval,
		store:     store,
		log:       log,
	}
}

// Enqueue adds an operation to the queue, flushing immediately if the batch
// threshold is reached, or (re)arming the flush timer otherwise.
func (u *BatchedUpdater) Enqueue(op operation) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return
	}
	u.queue = append(u.queue, op)
	if len(u.queue) >= u.batchSize {
		u.flushLocked()
		return
	}
	if u.timer == nil {
		u.timer = time.AfterFunc(u.interval, u.onTimer)
	} else {
		u.timer.Reset(u.interval)
	}
}

func (u *BatchedUpdater) onTimer() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.flushLocked()
}

// flushLocked commits every queued operation to the store in one ApplyTransform
// call, in enqueue order. A contract violation (spec.md §7) aborts the remainder of
// this flush without corrupting already-applied state; a best-effort skip (signalled
// by a nil error from the tree package, already logged there) just continues.
func (u *BatchedUpdater) flushLocked() {
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
	if len(u.queue) == 0 {
		return
	}
	ops := u.queue
	u.queue = nil

	u.store.ApplyTransform(func(root *tree.Array) (result *tree.Array) {
		result = root
		defer func() {
			if r := recover(); r != nil {
				u.log.Error(nil, "aborting flush on contract violation", "panic", r)
			}
		}()
		for _, op := range ops {
			next, err := op(result)
			if err != nil {
				var cv *tree.ContractViolationError
				if ok := asContractViolation(err, &cv); ok {
					panic(cv)
				}
				u.log.Error(err, "skipping queued operation")
				continue
			}
			result = next
		}
		return result
	})
}

func asContractViolation(err error, target **tree.ContractViolationError) bool {
	cv, ok := err.(*tree.ContractViolationError)
	if ok {
		*target = cv
	}
	return ok
}

// ForceFlush drains the queue synchronously, for callers that need to read a
// consistent tree immediately (spec.md §5, "force_flush").
func (u *BatchedUpdater) ForceFlush() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.flushLocked()
}

// Close cancels the pending timer and drops any unflushed operations (spec.md §4.8,
// "Disposal").
func (u *BatchedUpdater) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
	u.queue = nil
}

// Closed reports whether Close has already run.
func (u *BatchedUpdater) Closed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}
