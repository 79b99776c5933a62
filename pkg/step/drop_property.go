package step

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/flowtree/pkg/tree"
	"github.com/l7mp/flowtree/pkg/treepath"
	"github.com/l7mp/flowtree/pkg/typedesc"
)

// DropPropertyStep removes a named property from every event's payload at a scope
// segment path. Stateless: a pure rewrite at the event level (spec.md §4.5).
type DropPropertyStep struct {
	Base

	scopePath    treepath.SegPath
	propertyName string
	log          logr.Logger

	added   []AddedHandler
	removed []RemovedHandler
}

// NewDropProperty constructs a drop-property step over upstream at scopePath.
func NewDropProperty(upstream Step, scopePath treepath.SegPath, propertyName string, log logr.Logger) *DropPropertyStep {
	d := &DropPropertyStep{scopePath: scopePath, propertyName: propertyName, log: log}
	d.Base.Init(upstream, log)
	upstream.OnAdded(scopePath, func(kp treepath.KeyPath, key treepath.Key, props tree.Props) {
		out := tree.CloneProps(props)
		delete(out, propertyName)
		for _, h := range d.added {
			h(kp, key, out)
		}
	})
	upstream.OnRemoved(scopePath, func(kp treepath.KeyPath, key treepath.Key, props tree.Props) {
		out := tree.CloneProps(props)
		delete(out, propertyName)
		for _, h := range d.removed {
			h(kp, key, out)
		}
	})
	return d
}

func (d *DropPropertyStep) OnAdded(segPath treepath.SegPath, h AddedHandler) {
	if segPath.Equal(d.scopePath) {
		d.added = append(d.added, h)
		return
	}
	d.Base.PassOnAdded(segPath, h)
}

func (d *DropPropertyStep) OnRemoved(segPath treepath.SegPath, h RemovedHandler) {
	if segPath.Equal(d.scopePath) {
		d.removed = append(d.removed, h)
		return
	}
	d.Base.PassOnRemoved(segPath, h)
}

func (d *DropPropertyStep) OnModified(segPath treepath.SegPath, property string, h ModifiedHandler) {
	if segPath.Equal(d.scopePath) && property == d.propertyName {
		// The property no longer exists downstream of this step; its modified
		// events are swallowed rather than forwarded.
		return
	}
	d.Base.PassOnModified(segPath, property, h)
}

func (d *DropPropertyStep) TypeDescriptor() *typedesc.Descriptor {
	root := d.Upstream.TypeDescriptor()
	scopeNode := root.At(d.scopePath)
	if scopeNode == nil {
		scopeNode = typedesc.New()
	}
	return root.Replace(d.scopePath, scopeNode.WithoutMutable(d.propertyName))
}
