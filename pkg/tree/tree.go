// Package tree implements the pure materialized-tree transforms that apply an
// add/remove/modify to a tree of ordered keyed arrays (spec.md §4.8/§9). The tree is
// the external state the output binder projects step-graph events onto; this package
// has no knowledge of steps, only of rows, keys, and paths.
package tree

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/l7mp/flowtree/pkg/treepath"
)

// Props is an item's content as seen at a particular step's output (spec.md §3).
// Nested keyed arrays live inside Props under their array-property name as *Array
// values.
type Props map[string]any

// CloneProps returns a shallow copy of p: a new top-level map, same values. Nested
// *Array values are shared (copy-on-write, not deep-copied) with the original.
func CloneProps(p Props) Props {
	out := make(Props, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Row is one entry of a keyed array.
type Row struct {
	Key   treepath.Key
	Props Props
}

// Array is an ordered, keyed sequence of rows. Insertion order is observable: every
// row surviving an update keeps its index, a removed row's slot collapses, and an
// added row is appended (spec.md §3, "Keyed array").
type Array struct {
	Rows []Row

	// index caches key -> slice position. Rebuilt lazily; invalidated (set to nil)
	// on any structural change. Design Notes recommend caching this map across
	// invocations rather than rebuilding it per lookup; batching (pkg/binder)
	// amortizes the rebuild cost across many operations sharing one flush.
	index map[string]int
}

// NewArray returns an empty array.
func NewArray() *Array { return &Array{} }

// find returns the row index for key, or -1.
func (a *Array) find(key treepath.Key) int {
	if a.index == nil {
		a.index = make(map[string]int, len(a.Rows))
		for i, r := range a.Rows {
			a.index[r.Key] = i
		}
	}
	idx, ok := a.index[key]
	if !ok {
		return -1
	}
	return idx
}

// shallowCopy copies the Rows slice (new backing array, same Row values) so the
// original array is unaffected by subsequent in-place edits to the copy's slice. The
// index cache is not copied since it goes stale the moment Rows is touched.
func (a *Array) shallowCopy() *Array {
	if a == nil {
		return NewArray()
	}
	out := &Array{Rows: make([]Row, len(a.Rows))}
	copy(out.Rows, a.Rows)
	return out
}

// Get returns the row for key and whether it was found.
func (a *Array) Get(key treepath.Key) (Row, bool) {
	if a == nil {
		return Row{}, false
	}
	idx := a.find(key)
	if idx < 0 {
		return Row{}, false
	}
	return a.Rows[idx], true
}

// ContractViolationError marks a step-graph bug: a contract the steps themselves are
// responsible for upholding was violated (spec.md §7). These are never recoverable
// and are never the materialized tree's fault.
type ContractViolationError struct {
	Message string
}

func (e *ContractViolationError) Error() string { return "contract violation: " + e.Message }

func newContractViolation(format string, args ...any) error {
	return &ContractViolationError{Message: fmt.Sprintf(format, args...)}
}

// navigate walks segPath/keyPath from root, returning the Array living at that
// segment path. create controls whether missing intermediate arrays (child arrays
// that simply haven't been populated yet) are instantiated on demand; it never
// papers over a missing ANCESTOR ROW, which is always reported via ok=false.
func navigate(root *Array, segPath treepath.SegPath, keyPath treepath.KeyPath, create bool) (cur *Array, ok bool) {
	cur = root
	for i, seg := range segPath {
		idx := cur.find(keyPath[i])
		if idx < 0 {
			return nil, false
		}
		row := &cur.Rows[idx]
		child, isArray := row.Props[seg].(*Array)
		if !isArray {
			if !create {
				return nil, false
			}
			child = NewArray()
			row.Props = CloneProps(row.Props)
			row.Props[seg] = child
		}
		cur = child
	}
	return cur, true
}

// navigateForWrite is navigate, but it copy-on-writes every array and row along the
// path so that siblings outside the touched path remain aliased to the pre-edit tree
// (the persistent-snapshot idiom the teacher's Z-sets use for ShallowCopy/DeepCopy).
func navigateForWrite(root *Array, segPath treepath.SegPath, keyPath treepath.KeyPath, create bool) (newRoot, cur *Array, ok bool) {
	newRoot = root.shallowCopy()
	cur = newRoot
	for i, seg := range segPath {
		idx := cur.find(keyPath[i])
		if idx < 0 {
			return newRoot, nil, false
		}
		child, isArray := cur.Rows[idx].Props[seg].(*Array)
		if !isArray {
			if !create {
				return newRoot, nil, false
			}
			child = NewArray()
		}
		child = child.shallowCopy()
		props := CloneProps(cur.Rows[idx].Props)
		props[seg] = child
		cur.Rows[idx] = Row{Key: cur.Rows[idx].Key, Props: props}
		cur = child
	}
	return newRoot, cur, true
}

// Has reports whether a row exists at (segPath, keyPath, key), used by steps and
// tests to assert liveness without going through the event stream.
func Has(root *Array, segPath treepath.SegPath, keyPath treepath.KeyPath, key treepath.Key) bool {
	arr, ok := navigate(root, segPath, keyPath, false)
	if !ok {
		return false
	}
	_, found := arr.Get(key)
	return found
}

// ApplyAdded inserts a new row at (segPath, keyPath, key). A missing ancestor row at
// a non-root segment path is a contract violation (spec.md §4.8, "Missing-parent
// policy"): the added event should never have reached the binder for a parent that
// doesn't exist. A duplicate key at the target array is likewise a contract
// violation — invariant 1 requires added to precede any other event for that key.
func ApplyAdded(root *Array, segPath treepath.SegPath, keyPath treepath.KeyPath, key treepath.Key, props Props, log logr.Logger) (*Array, error) {
	newRoot, arr, ok := navigateForWrite(root, segPath, keyPath, true)
	if !ok {
		return root, newContractViolation(
			"path references unknown item: added %s at %v under missing parent %v", key, segPath, keyPath)
	}
	if _, exists := arr.Get(key); exists {
		return root, newContractViolation("added %s at %v: row already exists", key, segPath)
	}
	arr.Rows = append(arr.Rows, Row{Key: key, Props: CloneProps(props)})
	arr.index = nil
	log.V(2).Info("applied added", "segPath", segPath.String(), "key", key)
	return newRoot, nil
}

// ApplyRemoved deletes the row at (segPath, keyPath, key), collapsing its slot while
// preserving the relative order of the remaining rows. A missing ancestor or a
// missing row is a best-effort skip (spec.md §7): logged and dropped, never fatal —
// the legitimate cause is a filter having gated the parent away upstream.
func ApplyRemoved(root *Array, segPath treepath.SegPath, keyPath treepath.KeyPath, key treepath.Key, log logr.Logger) (*Array, error) {
	newRoot, arr, ok := navigateForWrite(root, segPath, keyPath, false)
	if !ok {
		log.Info("skipping removed for unknown parent", "segPath", segPath.String(), "key", key)
		return root, nil
	}
	idx := arr.find(key)
	if idx < 0 {
		log.Info("skipping removed for unknown row", "segPath", segPath.String(), "key", key)
		return root, nil
	}
	arr.Rows = append(arr.Rows[:idx], arr.Rows[idx+1:]...)
	arr.index = nil
	log.V(2).Info("applied removed", "segPath", segPath.String(), "key", key)
	return newRoot, nil
}

// ApplyModified sets property on the row at (segPath, keyPath, key) to newValue. A
// missing ancestor or row is a best-effort skip, exactly as for ApplyRemoved.
func ApplyModified(root *Array, segPath treepath.SegPath, keyPath treepath.KeyPath, key treepath.Key, property string, newValue any, log logr.Logger) (*Array, error) {
	newRoot, arr, ok := navigateForWrite(root, segPath, keyPath, false)
	if !ok {
		log.Info("skipping modified for unknown parent", "segPath", segPath.String(), "key", key, "property", property)
		return root, nil
	}
	idx := arr.find(key)
	if idx < 0 {
		log.Info("skipping modified for unknown row", "segPath", segPath.String(), "key", key, "property", property)
		return root, nil
	}
	row := arr.Rows[idx]
	props := CloneProps(row.Props)
	if newValue == Absent {
		delete(props, property)
	} else {
		props[property] = newValue
	}
	arr.Rows[idx] = Row{Key: row.Key, Props: props}
	log.V(2).Info("applied modified", "segPath", segPath.String(), "key", key, "property", property)
	return newRoot, nil
}

// Absent is the sentinel materialized-tree value meaning "delete this property"
// (spec.md Design Notes, "Representation of absent aggregates"): an aggregate whose
// parent has no live children transitions to Absent rather than a numeric value.
var Absent = &struct{ name string }{"absent"}
