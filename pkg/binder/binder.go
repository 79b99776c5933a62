// Package binder implements the output binder and batched state updater (spec.md
// §4.8): the binder subscribes to the last step at every path its descriptor
// exposes and translates its events into transforms on the materialized tree; the
// updater orders and coalesces those transforms before committing them.
package binder

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/l7mp/flowtree/pkg/statestore"
	"github.com/l7mp/flowtree/pkg/step"
	"github.com/l7mp/flowtree/pkg/tree"
	"github.com/l7mp/flowtree/pkg/treepath"
	"github.com/l7mp/flowtree/pkg/typedesc"
)

const (
	// DefaultBatchSize is the queued-operation count that triggers an immediate
	// flush.
	DefaultBatchSize = 64
	// DefaultFlushInterval is how long the updater waits after the last enqueue
	// before flushing on its own.
	DefaultFlushInterval = 10 * time.Millisecond
)

// Binder projects a step graph's output onto a materialized tree held in a Store.
type Binder struct {
	updater *BatchedUpdater
	handle  *Handle
	log     logr.Logger
}

// Bind walks last's type descriptor from the root and registers added/removed/
// modified handlers at every segment path it exposes, enqueuing the corresponding
// tree transform on each event. The returned Binder is the "external pipeline
// handle" of spec.md §5: its batched updater is also registered under a weak
// reference, so a caller that simply lets a Binder go out of scope (instead of
// calling Close) still has its pending operations reclaimed eventually.
func Bind(last step.Step, store *statestore.Store, batchSize int, flushInterval time.Duration, log logr.Logger) *Binder {
	updater := NewBatchedUpdater(store, batchSize, flushInterval, log)
	b := &Binder{
		updater: updater,
		handle:  globalRegistry.register(updater),
		log:     log,
	}
	b.walk(last, treepath.Root(), last.TypeDescriptor())
	return b
}

func (b *Binder) walk(last step.Step, segPath treepath.SegPath, desc *typedesc.Descriptor) {
	path := segPath // capture for closures
	last.OnAdded(path, func(keyPath treepath.KeyPath, key treepath.Key, props tree.Props) {
		b.updater.Enqueue(func(root *tree.Array) (*tree.Array, error) {
			return tree.ApplyAdded(root, path, keyPath, key, props, b.log)
		})
	})
	last.OnRemoved(path, func(keyPath treepath.KeyPath, key treepath.Key, _ tree.Props) {
		b.updater.Enqueue(func(root *tree.Array) (*tree.Array, error) {
			return tree.ApplyRemoved(root, path, keyPath, key, b.log)
		})
	})
	if desc != nil {
		for property := range desc.MutableProperties {
			prop := property
			last.OnModified(path, prop, func(keyPath treepath.KeyPath, key treepath.Key, _, newValue any) {
				b.updater.Enqueue(func(root *tree.Array) (*tree.Array, error) {
					return tree.ApplyModified(root, path, keyPath, key, prop, newValue, b.log)
				})
			})
		}
		for _, arr := range desc.Arrays {
			b.walk(last, path.Append(arr.Name), arr.Type)
		}
	}
}

// ForceFlush drains any pending operations synchronously (spec.md §5).
func (b *Binder) ForceFlush() { b.updater.ForceFlush() }

// Close disposes of the batched updater (spec.md §4.8, "Disposal").
func (b *Binder) Close() { b.updater.Close() }
