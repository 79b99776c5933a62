package step

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/flowtree/pkg/tree"
	"github.com/l7mp/flowtree/pkg/treepath"
)

// CombineFunc folds one child's source-property value into an accumulator. add and
// subtract together must form an abelian group over the accumulator type under
// equality (spec.md §4.7.1).
type CombineFunc func(acc any, value any) any

type commutativeRecord struct {
	acc   any
	count int
}

// CommutativeAggregateStep implements sum and count: any aggregate whose update rule
// commutes, so a removed or modified child can be folded in with a pure
// subtract-then-add rather than a full rescan (spec.md §4.7.1).
type CommutativeAggregateStep struct {
	aggregateBase

	identity any
	add      CombineFunc
	subtract CombineFunc

	records map[treepath.Hash]*commutativeRecord
}

func newCommutativeAggregate(upstream Step, childPath treepath.SegPath, sourceProperty, propertyName string, identity any, add, subtract CombineFunc, log logr.Logger) *CommutativeAggregateStep {
	c := &CommutativeAggregateStep{
		aggregateBase: newAggregateBase(upstream, childPath, propertyName, sourceProperty, log),
		identity:      identity,
		add:           add,
		subtract:      subtract,
		records:       map[treepath.Hash]*commutativeRecord{},
	}
	upstream.OnAdded(childPath, c.handleChildAdded)
	upstream.OnRemoved(childPath, c.handleChildRemoved)
	if sourceProperty != "" && c.sourceIsMutable() {
		upstream.OnModified(childPath, sourceProperty, func(kp treepath.KeyPath, key treepath.Key, old, newValue any) {
			c.handleChildModified(kp, old, newValue)
		})
	}
	return c
}

// NewSum returns an aggregate summing sourceProperty across children.
func NewSum(upstream Step, childPath treepath.SegPath, sourceProperty, propertyName string, log logr.Logger) *CommutativeAggregateStep {
	add := func(acc any, v any) any {
		n, _ := numeric(v)
		return acc.(float64) + n
	}
	sub := func(acc any, v any) any {
		n, _ := numeric(v)
		return acc.(float64) - n
	}
	return newCommutativeAggregate(upstream, childPath, sourceProperty, propertyName, 0.0, add, sub, log)
}

// NewCount returns an aggregate counting live children, independent of any property
// value.
func NewCount(upstream Step, childPath treepath.SegPath, propertyName string, log logr.Logger) *CommutativeAggregateStep {
	add := func(acc any, _ any) any { return acc.(int) + 1 }
	sub := func(acc any, _ any) any { return acc.(int) - 1 }
	return newCommutativeAggregate(upstream, childPath, "", propertyName, 0, add, sub, log)
}

func (c *CommutativeAggregateStep) valueOf(rec *commutativeRecord) any {
	if rec == nil || rec.count <= 0 {
		return tree.Absent
	}
	return rec.acc
}

func (c *CommutativeAggregateStep) handleChildAdded(childKeyPath treepath.KeyPath, _ treepath.Key, props tree.Props) {
	grandKeyPath, parentKey := childKeyPathToParent(childKeyPath)
	ph := treepath.HashOf(c.parentPath, grandKeyPath)
	rec := c.records[ph]
	if rec == nil {
		rec = &commutativeRecord{acc: c.identity}
		c.records[ph] = rec
	}
	old := c.valueOf(rec)
	var v any
	if c.sourceProperty != "" {
		v = props[c.sourceProperty]
	}
	rec.acc = c.add(rec.acc, v)
	rec.count++
	c.emit(grandKeyPath, parentKey, old, c.valueOf(rec))
}

func (c *CommutativeAggregateStep) handleChildRemoved(childKeyPath treepath.KeyPath, _ treepath.Key, props tree.Props) {
	grandKeyPath, parentKey := childKeyPathToParent(childKeyPath)
	ph := treepath.HashOf(c.parentPath, grandKeyPath)
	rec := c.records[ph]
	if rec == nil {
		return
	}
	old := c.valueOf(rec)
	var v any
	if c.sourceProperty != "" {
		v = props[c.sourceProperty]
	}
	rec.acc = c.subtract(rec.acc, v)
	rec.count--
	if rec.count <= 0 {
		delete(c.records, ph)
		c.emit(grandKeyPath, parentKey, old, tree.Absent)
		return
	}
	c.emit(grandKeyPath, parentKey, old, rec.acc)
}

func (c *CommutativeAggregateStep) handleChildModified(childKeyPath treepath.KeyPath, oldValue, newValue any) {
	grandKeyPath, parentKey := childKeyPathToParent(childKeyPath)
	ph := treepath.HashOf(c.parentPath, grandKeyPath)
	rec := c.records[ph]
	if rec == nil {
		return
	}
	old := c.valueOf(rec)
	rec.acc = c.add(c.subtract(rec.acc, oldValue), newValue)
	c.emit(grandKeyPath, parentKey, old, rec.acc)
}
