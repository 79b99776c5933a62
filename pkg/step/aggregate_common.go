package step

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/flowtree/pkg/treepath"
	"github.com/l7mp/flowtree/pkg/typedesc"
)

// aggregateBase is the common contract shared by every aggregate step (spec.md
// §4.7): it targets a full segment path to a child array and produces a property at
// the parent segment path (the path with the last segment dropped). It never
// rewrites added/removed — those pass straight through untouched — and it
// intercepts modified only at (parentPath, propertyName), its own manufactured
// event.
type aggregateBase struct {
	Base

	childPath      treepath.SegPath
	parentPath     treepath.SegPath
	propertyName   string
	sourceProperty string
	log            logr.Logger

	modified []ModifiedHandler
}

func newAggregateBase(upstream Step, childPath treepath.SegPath, propertyName, sourceProperty string, log logr.Logger) aggregateBase {
	parentPath, _ := childPath.Parent()
	a := aggregateBase{
		childPath:      childPath,
		parentPath:     parentPath,
		propertyName:   propertyName,
		sourceProperty: sourceProperty,
		log:            log,
	}
	a.Base.Init(upstream, log)
	return a
}

// sourceIsMutable reports whether the upstream descriptor marks sourceProperty
// mutable at the child segment path — the single signal that lets aggregates chain
// without an explicit dependency list (spec.md §4.7, "Auto-detection").
func (a *aggregateBase) sourceIsMutable() bool {
	childDesc := a.Upstream.TypeDescriptor().At(a.childPath)
	return childDesc.IsMutable(a.sourceProperty)
}

func (a *aggregateBase) emit(grandparentKeyPath treepath.KeyPath, parentKey treepath.Key, oldVal, newVal any) {
	for _, h := range a.modified {
		h(grandparentKeyPath, parentKey, oldVal, newVal)
	}
}

func (a *aggregateBase) OnAdded(segPath treepath.SegPath, h AddedHandler) {
	a.Base.PassOnAdded(segPath, h)
}

func (a *aggregateBase) OnRemoved(segPath treepath.SegPath, h RemovedHandler) {
	a.Base.PassOnRemoved(segPath, h)
}

func (a *aggregateBase) OnModified(segPath treepath.SegPath, property string, h ModifiedHandler) {
	if segPath.Equal(a.parentPath) && property == a.propertyName {
		a.modified = append(a.modified, h)
		return
	}
	a.Base.PassOnModified(segPath, property, h)
}

// TypeDescriptor marks propertyName mutable at the parent segment path; every
// concrete aggregate (CommutativeAggregateStep, MinMaxAggregateStep,
// AverageAggregateStep, PickByMinMaxStep) inherits this unchanged.
func (a *aggregateBase) TypeDescriptor() *typedesc.Descriptor {
	root := a.Upstream.TypeDescriptor()
	parentNode := root.At(a.parentPath)
	if parentNode == nil {
		parentNode = typedesc.New()
	}
	return root.Replace(a.parentPath, parentNode.WithMutable(a.propertyName))
}

// numeric coerces a child's source-property value to float64, reporting false for
// anything that isn't a number (spec.md §4.7.2, "Non-numeric values are ignored").
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// childKeyPathToParent splits a child array's key path into the grandparent key path
// and the parent's own key (spec.md §4.7, "Emission").
func childKeyPathToParent(childKeyPath treepath.KeyPath) (treepath.KeyPath, treepath.Key) {
	return childKeyPath.Split()
}
