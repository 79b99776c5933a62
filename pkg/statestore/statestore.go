// Package statestore implements the outer state container the core interacts with
// through exactly one operation, "apply a transform" (spec.md §6, "set_state"). The
// core treats this as an external collaborator; this package is the concrete
// stand-in the batched updater drives.
package statestore

import (
	"sync"

	"github.com/go-logr/logr"

	"github.com/l7mp/flowtree/pkg/tree"
)

// Store holds the current materialized tree and applies transforms to it one at a
// time, under a lock, so a reader always observes a tree produced by a complete
// transform rather than a partially-applied one.
type Store struct {
	mu   sync.Mutex
	root *tree.Array
	log  logr.Logger
}

// New returns an empty store.
func New(log logr.Logger) *Store {
	return &Store{root: tree.NewArray(), log: log}
}

// ApplyTransform calls fn with the current tree and commits whatever it returns as
// the new current tree. fn must be pure: it receives the tree as it stood before the
// call and has no further claim on it afterward (spec.md §6).
func (s *Store) ApplyTransform(fn func(*tree.Array) *tree.Array) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = fn(s.root)
}

// Snapshot returns the current materialized tree. Safe to call concurrently with
// ApplyTransform; the returned *tree.Array is never mutated in place once published
// (spec.md §9, copy-on-write transforms).
func (s *Store) Snapshot() *tree.Array {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}
