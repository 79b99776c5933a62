package step

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/flowtree/pkg/tree"
	"github.com/l7mp/flowtree/pkg/treepath"
)

type minMaxRecord struct {
	values map[treepath.Key]float64
}

func (r *minMaxRecord) extremum(isMin bool) (float64, bool) {
	first := true
	var best float64
	for _, v := range r.values {
		if first || (isMin && v < best) || (!isMin && v > best) {
			best = v
			first = false
		}
	}
	return best, !first
}

// MinMaxAggregateStep tracks the minimum or maximum of a numeric source property
// across live children, ignoring non-numeric values (spec.md §4.7.2).
type MinMaxAggregateStep struct {
	aggregateBase

	isMin   bool
	records map[treepath.Hash]*minMaxRecord
}

func newMinMax(upstream Step, childPath treepath.SegPath, sourceProperty, propertyName string, isMin bool, log logr.Logger) *MinMaxAggregateStep {
	m := &MinMaxAggregateStep{
		aggregateBase: newAggregateBase(upstream, childPath, propertyName, sourceProperty, log),
		isMin:         isMin,
		records:       map[treepath.Hash]*minMaxRecord{},
	}
	upstream.OnAdded(childPath, m.handleChildAdded)
	upstream.OnRemoved(childPath, m.handleChildRemoved)
	if m.sourceIsMutable() {
		upstream.OnModified(childPath, sourceProperty, func(kp treepath.KeyPath, key treepath.Key, old, newValue any) {
			m.handleChildModified(kp, key, newValue)
		})
	}
	return m
}

// NewMin returns an aggregate tracking the minimum of sourceProperty.
func NewMin(upstream Step, childPath treepath.SegPath, sourceProperty, propertyName string, log logr.Logger) *MinMaxAggregateStep {
	return newMinMax(upstream, childPath, sourceProperty, propertyName, true, log)
}

// NewMax returns an aggregate tracking the maximum of sourceProperty.
func NewMax(upstream Step, childPath treepath.SegPath, sourceProperty, propertyName string, log logr.Logger) *MinMaxAggregateStep {
	return newMinMax(upstream, childPath, sourceProperty, propertyName, false, log)
}

func valueOfExtremum(v float64, ok bool) any {
	if !ok {
		return tree.Absent
	}
	return v
}

func (m *MinMaxAggregateStep) handleChildAdded(childKeyPath treepath.KeyPath, key treepath.Key, props tree.Props) {
	n, isNum := numeric(props[m.sourceProperty])
	if !isNum {
		return
	}
	grandKeyPath, parentKey := childKeyPathToParent(childKeyPath)
	ph := treepath.HashOf(m.parentPath, grandKeyPath)
	rec := m.records[ph]
	if rec == nil {
		rec = &minMaxRecord{values: map[treepath.Key]float64{}}
		m.records[ph] = rec
	}
	oldVal, oldOK := rec.extremum(m.isMin)
	rec.values[key] = n
	newVal, newOK := rec.extremum(m.isMin)
	m.emit(grandKeyPath, parentKey, valueOfExtremum(oldVal, oldOK), valueOfExtremum(newVal, newOK))
}

func (m *MinMaxAggregateStep) handleChildRemoved(childKeyPath treepath.KeyPath, key treepath.Key, props tree.Props) {
	grandKeyPath, parentKey := childKeyPathToParent(childKeyPath)
	ph := treepath.HashOf(m.parentPath, grandKeyPath)
	rec := m.records[ph]
	if rec == nil {
		return
	}
	if _, tracked := rec.values[key]; !tracked {
		return
	}
	oldVal, oldOK := rec.extremum(m.isMin)
	delete(rec.values, key)
	if len(rec.values) == 0 {
		delete(m.records, ph)
		m.emit(grandKeyPath, parentKey, valueOfExtremum(oldVal, oldOK), tree.Absent)
		return
	}
	newVal, newOK := rec.extremum(m.isMin)
	m.emit(grandKeyPath, parentKey, valueOfExtremum(oldVal, oldOK), valueOfExtremum(newVal, newOK))
}

func (m *MinMaxAggregateStep) handleChildModified(childKeyPath treepath.KeyPath, key treepath.Key, newValue any) {
	grandKeyPath, parentKey := childKeyPathToParent(childKeyPath)
	ph := treepath.HashOf(m.parentPath, grandKeyPath)
	rec := m.records[ph]
	if rec == nil {
		return
	}
	oldVal, oldOK := rec.extremum(m.isMin)
	n, isNum := numeric(newValue)
	if isNum {
		rec.values[key] = n
	} else {
		delete(rec.values, key)
	}
	newVal, newOK := rec.extremum(m.isMin)
	m.emit(grandKeyPath, parentKey, valueOfExtremum(oldVal, oldOK), valueOfExtremum(newVal, newOK))
}
