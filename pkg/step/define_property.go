package step

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/flowtree/pkg/tree"
	"github.com/l7mp/flowtree/pkg/treepath"
	"github.com/l7mp/flowtree/pkg/typedesc"
)

// Compute is the opaque pure function a DefinePropertyStep evaluates over the
// composed item view (spec.md §4.4). mutable_dependencies makes its inputs legible to
// the engine despite the function body being opaque.
type Compute func(view tree.Props) any

type definePropertyRow struct {
	base          tree.Props // props as last seen from upstream, including tracked deps
	mutableValues map[string]any
	lastComputed  any
}

// DefinePropertyStep synthesizes a new property at a scope segment path by calling a
// caller-supplied compute function over the composed item view (spec.md §4.4).
type DefinePropertyStep struct {
	Base

	scopePath    treepath.SegPath
	propertyName string
	compute      Compute
	mutableDeps  []string
	log          logr.Logger

	added    []AddedHandler
	removed  []RemovedHandler
	modified []ModifiedHandler

	rows map[treepath.Hash]map[treepath.Key]*definePropertyRow
}

// NewDefineProperty constructs a define-property step over upstream at scopePath.
func NewDefineProperty(upstream Step, scopePath treepath.SegPath, propertyName string, compute Compute, mutableDeps []string, log logr.Logger) *DefinePropertyStep {
	d := &DefinePropertyStep{
		scopePath:    scopePath,
		propertyName: propertyName,
		compute:      compute,
		mutableDeps:  append([]string(nil), mutableDeps...),
		log:          log,
		rows:         map[treepath.Hash]map[treepath.Key]*definePropertyRow{},
	}
	d.Base.Init(upstream, log)

	upstream.OnAdded(scopePath, d.handleUpstreamAdded)
	upstream.OnRemoved(scopePath, d.handleUpstreamRemoved)
	for _, dep := range d.mutableDeps {
		depName := dep
		upstream.OnModified(scopePath, depName, func(kp treepath.KeyPath, key treepath.Key, old, newValue any) {
			d.handleUpstreamModified(depName, kp, key, newValue)
		})
	}
	return d
}

func (d *DefinePropertyStep) parentHash(keyPath treepath.KeyPath) treepath.Hash {
	return treepath.HashOf(d.scopePath, keyPath)
}

func (d *DefinePropertyStep) view(base tree.Props, mutableValues map[string]any) tree.Props {
	out := tree.CloneProps(base)
	for k, v := range mutableValues {
		out[k] = v
	}
	return out
}

func (d *DefinePropertyStep) handleUpstreamAdded(keyPath treepath.KeyPath, key treepath.Key, props tree.Props) {
	ph := d.parentHash(keyPath)
	if d.rows[ph] == nil {
		d.rows[ph] = map[treepath.Key]*definePropertyRow{}
	}
	mv := make(map[string]any, len(d.mutableDeps))
	for _, dep := range d.mutableDeps {
		mv[dep] = props[dep]
	}
	result := d.compute(d.view(props, mv))
	d.rows[ph][key] = &definePropertyRow{base: props, mutableValues: mv, lastComputed: result}

	out := tree.CloneProps(props)
	out[d.propertyName] = result
	for _, h := range d.added {
		h(keyPath, key, out)
	}
}

func (d *DefinePropertyStep) handleUpstreamRemoved(keyPath treepath.KeyPath, key treepath.Key, props tree.Props) {
	ph := d.parentHash(keyPath)
	row := d.rows[ph][key]
	last := props
	if row != nil {
		last = tree.CloneProps(props)
		last[d.propertyName] = row.lastComputed
		delete(d.rows[ph], key)
	}
	for _, h := range d.removed {
		h(keyPath, key, last)
	}
}

func (d *DefinePropertyStep) handleUpstreamModified(dep string, keyPath treepath.KeyPath, key treepath.Key, newValue any) {
	ph := d.parentHash(keyPath)
	row := d.rows[ph][key]
	if row == nil {
		return
	}
	row.mutableValues[dep] = newValue
	newComputed := d.compute(d.view(row.base, row.mutableValues))
	if newComputed == row.lastComputed {
		return // silent no-op: de-duplication (spec.md §7)
	}
	old := row.lastComputed
	row.lastComputed = newComputed
	for _, h := range d.modified {
		h(keyPath, key, old, newComputed)
	}
}

func (d *DefinePropertyStep) OnAdded(segPath treepath.SegPath, h AddedHandler) {
	if segPath.Equal(d.scopePath) {
		d.added = append(d.added, h)
		return
	}
	d.Base.PassOnAdded(segPath, h)
}

func (d *DefinePropertyStep) OnRemoved(segPath treepath.SegPath, h RemovedHandler) {
	if segPath.Equal(d.scopePath) {
		d.removed = append(d.removed, h)
		return
	}
	d.Base.PassOnRemoved(segPath, h)
}

func (d *DefinePropertyStep) OnModified(segPath treepath.SegPath, property string, h ModifiedHandler) {
	if segPath.Equal(d.scopePath) && property == d.propertyName {
		d.modified = append(d.modified, h)
		return
	}
	d.Base.PassOnModified(segPath, property, h)
}

func (d *DefinePropertyStep) TypeDescriptor() *typedesc.Descriptor {
	root := d.Upstream.TypeDescriptor()
	scopeNode := root.At(d.scopePath)
	if scopeNode == nil {
		scopeNode = typedesc.New()
	}
	rewritten := scopeNode.Clone()
	if len(d.mutableDeps) > 0 {
		rewritten = rewritten.WithMutable(d.propertyName)
	}
	return root.Replace(d.scopePath, rewritten)
}
