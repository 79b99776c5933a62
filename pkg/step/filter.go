package step

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/flowtree/pkg/tree"
	"github.com/l7mp/flowtree/pkg/treepath"
	"github.com/l7mp/flowtree/pkg/typedesc"
)

// Predicate is the opaque pure function a FilterStep evaluates over the composed item
// view (spec.md §4.6).
type Predicate func(view tree.Props) bool

type filterRow struct {
	props         tree.Props
	mutableValues map[string]any
	passed        bool
}

// FilterStep gates rows at a scope segment path by a predicate, and gates any
// subscription at a segment path strictly below that scope on the gating row's pass
// status, queuing events for rows that are not currently passing (spec.md §4.6).
type FilterStep struct {
	Base

	scopePath   treepath.SegPath
	predicate   Predicate
	mutableDeps []string
	log         logr.Logger

	added    []AddedHandler
	removed  []RemovedHandler
	modified []ModifiedHandler // for predicate-dependency properties only

	rows map[treepath.Hash]map[treepath.Key]*filterRow

	descAdded              map[string][]AddedHandler
	descAddedRegistered    map[string]bool
	descRemoved            map[string][]RemovedHandler
	descRemovedRegistered  map[string]bool
	descModified           map[string]map[string][]ModifiedHandler
	descModifiedRegistered map[string]map[string]bool

	// pending buffers replay events queued while a row was not passing, in FIFO
	// order, once the row flips to passing. Keyed by the row's own identity.
	pending map[treepath.Hash][]func()
}

// NewFilter constructs a filter step over upstream at scopePath.
func NewFilter(upstream Step, scopePath treepath.SegPath, predicate Predicate, mutableDeps []string, log logr.Logger) *FilterStep {
	f := &FilterStep{
		scopePath:              scopePath,
		predicate:              predicate,
		mutableDeps:            append([]string(nil), mutableDeps...),
		log:                    log,
		rows:                   map[treepath.Hash]map[treepath.Key]*filterRow{},
		descAdded:              map[string][]AddedHandler{},
		descAddedRegistered:    map[string]bool{},
		descRemoved:            map[string][]RemovedHandler{},
		descRemovedRegistered:  map[string]bool{},
		descModified:           map[string]map[string][]ModifiedHandler{},
		descModifiedRegistered: map[string]map[string]bool{},
		pending:                map[treepath.Hash][]func(){},
	}
	f.Base.Init(upstream, log)

	upstream.OnAdded(scopePath, f.handleUpstreamAdded)
	upstream.OnRemoved(scopePath, f.handleUpstreamRemoved)
	for _, dep := range f.mutableDeps {
		depName := dep
		upstream.OnModified(scopePath, depName, func(kp treepath.KeyPath, key treepath.Key, old, newValue any) {
			f.handleUpstreamModified(depName, kp, key, newValue)
		})
	}
	return f
}

func (f *FilterStep) rowID(keyPath treepath.KeyPath, key treepath.Key) treepath.Hash {
	return treepath.HashOf(f.scopePath, keyPath.Append(key))
}

func (f *FilterStep) view(row *filterRow) tree.Props {
	out := tree.CloneProps(row.props)
	for k, v := range row.mutableValues {
		out[k] = v
	}
	return out
}

func (f *FilterStep) flushPending(id treepath.Hash) {
	events := f.pending[id]
	delete(f.pending, id)
	for _, replay := range events {
		replay()
	}
}

func (f *FilterStep) handleUpstreamAdded(keyPath treepath.KeyPath, key treepath.Key, props tree.Props) {
	ph := treepath.HashOf(f.scopePath, keyPath)
	if f.rows[ph] == nil {
		f.rows[ph] = map[treepath.Key]*filterRow{}
	}
	mv := make(map[string]any, len(f.mutableDeps))
	for _, dep := range f.mutableDeps {
		mv[dep] = props[dep]
	}
	row := &filterRow{props: props, mutableValues: mv}
	row.passed = f.predicate(f.view(row))
	f.rows[ph][key] = row

	if row.passed {
		for _, h := range f.added {
			h(keyPath, key, props)
		}
	}
}

func (f *FilterStep) handleUpstreamRemoved(keyPath treepath.KeyPath, key treepath.Key, props tree.Props) {
	ph := treepath.HashOf(f.scopePath, keyPath)
	row := f.rows[ph][key]
	if row == nil {
		return
	}
	if row.passed {
		for _, h := range f.removed {
			h(keyPath, key, props)
		}
	}
	delete(f.rows[ph], key)
	delete(f.pending, f.rowID(keyPath, key))
}

func (f *FilterStep) handleUpstreamModified(dep string, keyPath treepath.KeyPath, key treepath.Key, newValue any) {
	ph := treepath.HashOf(f.scopePath, keyPath)
	row := f.rows[ph][key]
	if row == nil {
		return
	}
	old := row.mutableValues[dep]
	row.mutableValues[dep] = newValue
	wasPassing := row.passed
	row.passed = f.predicate(f.view(row))

	switch {
	case !wasPassing && row.passed:
		for _, h := range f.added {
			h(keyPath, key, f.view(row))
		}
		f.flushPending(f.rowID(keyPath, key))
	case wasPassing && !row.passed:
		for _, h := range f.removed {
			h(keyPath, key, f.view(row))
		}
	case wasPassing && row.passed:
		for _, h := range f.modified {
			h(keyPath, key, old, newValue)
		}
	}
	// !wasPassing && !row.passed: silent no-op.
}

func (f *FilterStep) OnAdded(segPath treepath.SegPath, h AddedHandler) {
	if segPath.Equal(f.scopePath) {
		f.added = append(f.added, h)
		return
	}
	if treepath.StartsWith(segPath, f.scopePath) && len(segPath) > len(f.scopePath) {
		f.registerDescendantAdded(segPath, h)
		return
	}
	f.Base.PassOnAdded(segPath, h)
}

func (f *FilterStep) OnRemoved(segPath treepath.SegPath, h RemovedHandler) {
	if segPath.Equal(f.scopePath) {
		f.removed = append(f.removed, h)
		return
	}
	if treepath.StartsWith(segPath, f.scopePath) && len(segPath) > len(f.scopePath) {
		f.registerDescendantRemoved(segPath, h)
		return
	}
	f.Base.PassOnRemoved(segPath, h)
}

func (f *FilterStep) OnModified(segPath treepath.SegPath, property string, h ModifiedHandler) {
	if segPath.Equal(f.scopePath) {
		isDep := false
		for _, dep := range f.mutableDeps {
			if dep == property {
				isDep = true
				break
			}
		}
		if isDep {
			f.modified = append(f.modified, h)
			return
		}
		// Not a predicate dependency: transparently forwarded, ungated. A
		// not-currently-passing row never surfaced an added downstream, so in
		// practice no subscriber has a live handle to modify; this only
		// matters if a caller subscribes before any add arrives.
		f.Base.PassOnModified(segPath, property, h)
		return
	}
	if treepath.StartsWith(segPath, f.scopePath) && len(segPath) > len(f.scopePath) {
		f.registerDescendantModified(segPath, property, h)
		return
	}
	f.Base.PassOnModified(segPath, property, h)
}

// rowIDFromKeyPath locates the gating row (scopePath, key at the scope depth) given a
// deeper key path.
func (f *FilterStep) rowIDFromKeyPath(keyPath treepath.KeyPath) (treepath.Hash, treepath.KeyPath, treepath.Key) {
	rowKeyPath := keyPath[:len(f.scopePath)]
	rowKey := keyPath[len(f.scopePath)]
	return f.rowID(rowKeyPath, rowKey), rowKeyPath, rowKey
}

func (f *FilterStep) rowPassed(id treepath.Hash, rowKeyPath treepath.KeyPath, rowKey treepath.Key) bool {
	ph := treepath.HashOf(f.scopePath, rowKeyPath)
	row := f.rows[ph][rowKey]
	return row != nil && row.passed
}

func (f *FilterStep) registerDescendantAdded(segPath treepath.SegPath, h AddedHandler) {
	k := segKey(segPath)
	f.descAdded[k] = append(f.descAdded[k], h)
	if f.descAddedRegistered[k] {
		return
	}
	f.descAddedRegistered[k] = true
	f.Upstream.OnAdded(segPath, func(kp treepath.KeyPath, key treepath.Key, props tree.Props) {
		id, rowKeyPath, rowKey := f.rowIDFromKeyPath(kp)
		replay := func() {
			for _, handler := range f.descAdded[k] {
				handler(kp, key, props)
			}
		}
		if f.rowPassed(id, rowKeyPath, rowKey) {
			replay()
			return
		}
		f.pending[id] = append(f.pending[id], replay)
	})
}

func (f *FilterStep) registerDescendantRemoved(segPath treepath.SegPath, h RemovedHandler) {
	k := segKey(segPath)
	f.descRemoved[k] = append(f.descRemoved[k], h)
	if f.descRemovedRegistered[k] {
		return
	}
	f.descRemovedRegistered[k] = true
	f.Upstream.OnRemoved(segPath, func(kp treepath.KeyPath, key treepath.Key, props tree.Props) {
		id, rowKeyPath, rowKey := f.rowIDFromKeyPath(kp)
		if !f.rowPassed(id, rowKeyPath, rowKey) {
			// Never forwarded downstream (parent wasn't passing); dropped,
			// not queued (spec.md §4.6).
			return
		}
		for _, handler := range f.descRemoved[k] {
			handler(kp, key, props)
		}
	})
}

func (f *FilterStep) registerDescendantModified(segPath treepath.SegPath, property string, h ModifiedHandler) {
	k := segKey(segPath)
	if f.descModified[k] == nil {
		f.descModified[k] = map[string][]ModifiedHandler{}
		f.descModifiedRegistered[k] = map[string]bool{}
	}
	f.descModified[k][property] = append(f.descModified[k][property], h)
	if f.descModifiedRegistered[k][property] {
		return
	}
	f.descModifiedRegistered[k][property] = true
	f.Upstream.OnModified(segPath, property, func(kp treepath.KeyPath, key treepath.Key, old, newValue any) {
		id, rowKeyPath, rowKey := f.rowIDFromKeyPath(kp)
		replay := func() {
			for _, handler := range f.descModified[k][property] {
				handler(kp, key, old, newValue)
			}
		}
		if f.rowPassed(id, rowKeyPath, rowKey) {
			replay()
			return
		}
		f.pending[id] = append(f.pending[id], replay)
	})
}

func (f *FilterStep) TypeDescriptor() *typedesc.Descriptor {
	root := f.Upstream.TypeDescriptor()
	scopeNode := root.At(f.scopePath)
	if scopeNode == nil {
		scopeNode = typedesc.New()
	}
	return root.Replace(f.scopePath, scopeNode.Clone())
}
