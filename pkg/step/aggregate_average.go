package step

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/flowtree/pkg/tree"
	"github.com/l7mp/flowtree/pkg/treepath"
)

type averageRecord struct {
	sum    float64
	values map[treepath.Key]float64
}

func (r *averageRecord) value() any {
	if len(r.values) == 0 {
		return tree.Absent
	}
	return r.sum / float64(len(r.values))
}

// AverageAggregateStep tracks the mean of a numeric source property across live
// children, ignoring non-numeric values (spec.md §4.7.3).
type AverageAggregateStep struct {
	aggregateBase

	records map[treepath.Hash]*averageRecord
}

// NewAverage returns an aggregate averaging sourceProperty across children.
func NewAverage(upstream Step, childPath treepath.SegPath, sourceProperty, propertyName string, log logr.Logger) *AverageAggregateStep {
	a := &AverageAggregateStep{
		aggregateBase: newAggregateBase(upstream, childPath, propertyName, sourceProperty, log),
		records:       map[treepath.Hash]*averageRecord{},
	}
	upstream.OnAdded(childPath, a.handleChildAdded)
	upstream.OnRemoved(childPath, a.handleChildRemoved)
	if a.sourceIsMutable() {
		upstream.OnModified(childPath, sourceProperty, func(kp treepath.KeyPath, key treepath.Key, old, newValue any) {
			a.handleChildModified(kp, key, newValue)
		})
	}
	return a
}

func (a *AverageAggregateStep) handleChildAdded(childKeyPath treepath.KeyPath, key treepath.Key, props tree.Props) {
	n, isNum := numeric(props[a.sourceProperty])
	if !isNum {
		return
	}
	grandKeyPath, parentKey := childKeyPathToParent(childKeyPath)
	ph := treepath.HashOf(a.parentPath, grandKeyPath)
	rec := a.records[ph]
	if rec == nil {
		rec = &averageRecord{values: map[treepath.Key]float64{}}
		a.records[ph] = rec
	}
	old := rec.value()
	rec.sum += n
	rec.values[key] = n
	a.emit(grandKeyPath, parentKey, old, rec.value())
}

func (a *AverageAggregateStep) handleChildRemoved(childKeyPath treepath.KeyPath, key treepath.Key, _ tree.Props) {
	grandKeyPath, parentKey := childKeyPathToParent(childKeyPath)
	ph := treepath.HashOf(a.parentPath, grandKeyPath)
	rec := a.records[ph]
	if rec == nil {
		return
	}
	v, tracked := rec.values[key]
	if !tracked {
		return
	}
	old := rec.value()
	rec.sum -= v
	delete(rec.values, key)
	if len(rec.values) == 0 {
		delete(a.records, ph)
		a.emit(grandKeyPath, parentKey, old, tree.Absent)
		return
	}
	a.emit(grandKeyPath, parentKey, old, rec.value())
}

func (a *AverageAggregateStep) handleChildModified(childKeyPath treepath.KeyPath, key treepath.Key, newValue any) {
	grandKeyPath, parentKey := childKeyPathToParent(childKeyPath)
	ph := treepath.HashOf(a.parentPath, grandKeyPath)
	rec := a.records[ph]
	if rec == nil {
		return
	}
	old := rec.value()
	if v, tracked := rec.values[key]; tracked {
		rec.sum -= v
		delete(rec.values, key)
	}
	if n, isNum := numeric(newValue); isNum {
		rec.sum += n
		rec.values[key] = n
	}
	a.emit(grandKeyPath, parentKey, old, rec.value())
}
