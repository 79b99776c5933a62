// Package builder implements the fluent chain-construction convenience the core
// treats as an external collaborator (spec.md §6): it wires together the steps
// described in the core's component design without owning any propagation logic
// itself.
package builder

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/flowtree/pkg/step"
	"github.com/l7mp/flowtree/pkg/treepath"
)

// Builder threads a step.Step "current last step" and a cursor segment path through
// a chain of verbs. Each verb appends one step and, where the operation naturally
// changes the level the next verb should apply at (group-by descends into the new
// array; an aggregate's output lives at its parent), moves the cursor accordingly.
type Builder struct {
	input *step.InputStep
	cur   step.Step
	scope treepath.SegPath
	log   logr.Logger
}

// From starts a new chain at the root segment path.
func From(log logr.Logger) *Builder {
	in := step.NewInput(log)
	return &Builder{input: in, cur: in, scope: treepath.Root(), log: log}
}

// Input returns the root step, used to inject add/remove calls (spec.md §6).
func (b *Builder) Input() *step.InputStep { return b.input }

// Scope returns the cursor's current segment path.
func (b *Builder) Scope() treepath.SegPath { return b.scope }

// At repositions the cursor explicitly, for chains that branch (e.g. two aggregates
// reading the same array in sequence).
func (b *Builder) At(scope treepath.SegPath) *Builder {
	b.scope = scope
	return b
}

// Build returns the last-constructed step, ready to hand to a binder.
func (b *Builder) Build() step.Step { return b.cur }

func (b *Builder) popToParent() {
	parent, _ := b.scope.Parent()
	b.scope = parent
}

// GroupBy applies a group-by at the cursor and descends the cursor into the newly
// created child array (spec.md §4.3).
func (b *Builder) GroupBy(groupingProps []string, arrayName string) *Builder {
	b.cur = step.NewGroupBy(b.cur, b.scope, groupingProps, arrayName, b.log)
	b.scope = b.scope.Append(arrayName)
	return b
}

// DefineProperty applies a define-property at the cursor (spec.md §4.4).
func (b *Builder) DefineProperty(propertyName string, compute step.Compute, mutableDeps []string) *Builder {
	b.cur = step.NewDefineProperty(b.cur, b.scope, propertyName, compute, mutableDeps, b.log)
	return b
}

// DropProperty applies a drop-property at the cursor (spec.md §4.5).
func (b *Builder) DropProperty(propertyName string) *Builder {
	b.cur = step.NewDropProperty(b.cur, b.scope, propertyName, b.log)
	return b
}

// Filter applies a filter at the cursor (spec.md §4.6).
func (b *Builder) Filter(predicate step.Predicate, mutableDeps []string) *Builder {
	b.cur = step.NewFilter(b.cur, b.scope, predicate, mutableDeps, b.log)
	return b
}

// Sum applies a sum aggregate over the array at the cursor and moves the cursor up
// to the array's parent, where the aggregate's output property lives (spec.md
// §4.7.1).
func (b *Builder) Sum(sourceProperty, propertyName string) *Builder {
	b.cur = step.NewSum(b.cur, b.scope, sourceProperty, propertyName, b.log)
	b.popToParent()
	return b
}

// Count applies a count aggregate over the array at the cursor (spec.md §4.7.1).
func (b *Builder) Count(propertyName string) *Builder {
	b.cur = step.NewCount(b.cur, b.scope, propertyName, b.log)
	b.popToParent()
	return b
}

// Min applies a minimum aggregate over the array at the cursor (spec.md §4.7.2).
func (b *Builder) Min(sourceProperty, propertyName string) *Builder {
	b.cur = step.NewMin(b.cur, b.scope, sourceProperty, propertyName, b.log)
	b.popToParent()
	return b
}

// Max applies a maximum aggregate over the array at the cursor (spec.md §4.7.2).
func (b *Builder) Max(sourceProperty, propertyName string) *Builder {
	b.cur = step.NewMax(b.cur, b.scope, sourceProperty, propertyName, b.log)
	b.popToParent()
	return b
}

// Average applies an average aggregate over the array at the cursor (spec.md
// §4.7.3).
func (b *Builder) Average(sourceProperty, propertyName string) *Builder {
	b.cur = step.NewAverage(b.cur, b.scope, sourceProperty, propertyName, b.log)
	b.popToParent()
	return b
}

// PickByMin applies a pick-by-minimum aggregate over the array at the cursor
// (spec.md §4.7.4).
func (b *Builder) PickByMin(sourceProperty, propertyName string) *Builder {
	b.cur = step.NewPickByMin(b.cur, b.scope, sourceProperty, propertyName, b.log)
	b.popToParent()
	return b
}

// PickByMax applies a pick-by-maximum aggregate over the array at the cursor
// (spec.md §4.7.4).
func (b *Builder) PickByMax(sourceProperty, propertyName string) *Builder {
	b.cur = step.NewPickByMax(b.cur, b.scope, sourceProperty, propertyName, b.log)
	b.popToParent()
	return b
}
