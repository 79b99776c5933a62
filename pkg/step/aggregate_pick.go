package step

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/flowtree/pkg/tree"
	"github.com/l7mp/flowtree/pkg/treepath"
)

type pickChildRecord struct {
	immutable     tree.Props
	mutable       map[string]any
	comparison    float64
	hasComparison bool
}

func (r *pickChildRecord) composed() tree.Props {
	out := tree.CloneProps(r.immutable)
	for k, v := range r.mutable {
		out[k] = v
	}
	return out
}

type pickParentRecord struct {
	children map[treepath.Key]*pickChildRecord
	order    []treepath.Key
	pick     treepath.Key
}

func (pp *pickParentRecord) composedPickOrAbsent() any {
	if pp.pick == "" {
		return tree.Absent
	}
	rec := pp.children[pp.pick]
	if rec == nil {
		return tree.Absent
	}
	return rec.composed()
}

// PickByMinMaxStep returns the entire child row whose comparison property is
// extremal, rather than just the extremal value (spec.md §4.7.4). Ties favor the
// first-inserted child.
type PickByMinMaxStep struct {
	aggregateBase

	isMin        bool
	mutableProps []string // every mutable property of the child, tracked to keep the pick's composed props fresh
	records      map[treepath.Hash]*pickParentRecord
}

func newPickByMinMax(upstream Step, childPath treepath.SegPath, sourceProperty, propertyName string, isMin bool, log logr.Logger) *PickByMinMaxStep {
	p := &PickByMinMaxStep{
		aggregateBase: newAggregateBase(upstream, childPath, propertyName, sourceProperty, log),
		isMin:         isMin,
		records:       map[treepath.Hash]*pickParentRecord{},
	}

	childDesc := upstream.TypeDescriptor().At(childPath)
	if childDesc != nil {
		for prop := range childDesc.MutableProperties {
			p.mutableProps = append(p.mutableProps, prop)
		}
	}

	upstream.OnAdded(childPath, p.handleChildAdded)
	upstream.OnRemoved(childPath, p.handleChildRemoved)
	for _, prop := range p.mutableProps {
		propName := prop
		upstream.OnModified(childPath, propName, func(kp treepath.KeyPath, key treepath.Key, old, newValue any) {
			p.handleChildModified(kp, key, propName, newValue)
		})
	}
	return p
}

// NewPickByMin returns an aggregate that picks the child with the smallest
// sourceProperty.
func NewPickByMin(upstream Step, childPath treepath.SegPath, sourceProperty, propertyName string, log logr.Logger) *PickByMinMaxStep {
	return newPickByMinMax(upstream, childPath, sourceProperty, propertyName, true, log)
}

// NewPickByMax returns an aggregate that picks the child with the largest
// sourceProperty.
func NewPickByMax(upstream Step, childPath treepath.SegPath, sourceProperty, propertyName string, log logr.Logger) *PickByMinMaxStep {
	return newPickByMinMax(upstream, childPath, sourceProperty, propertyName, false, log)
}

func (p *PickByMinMaxStep) beats(candidate, current *pickChildRecord) bool {
	if current == nil {
		return true
	}
	if !candidate.hasComparison {
		return false
	}
	if !current.hasComparison {
		return true
	}
	if p.isMin {
		return candidate.comparison < current.comparison
	}
	return candidate.comparison > current.comparison
}

func (p *PickByMinMaxStep) mutableSubset(props tree.Props) map[string]any {
	out := make(map[string]any, len(p.mutableProps))
	for _, prop := range p.mutableProps {
		out[prop] = props[prop]
	}
	return out
}

func (p *PickByMinMaxStep) recomputePick(pp *pickParentRecord) treepath.Key {
	var best treepath.Key
	var bestRec *pickChildRecord
	for _, k := range pp.order {
		rec, ok := pp.children[k]
		if !ok || !rec.hasComparison {
			continue
		}
		if bestRec == nil || p.beats(rec, bestRec) {
			best, bestRec = k, rec
		}
	}
	return best
}

func (p *PickByMinMaxStep) handleChildAdded(childKeyPath treepath.KeyPath, key treepath.Key, props tree.Props) {
	grandKeyPath, parentKey := childKeyPathToParent(childKeyPath)
	ph := treepath.HashOf(p.parentPath, grandKeyPath)
	pp := p.records[ph]
	if pp == nil {
		pp = &pickParentRecord{children: map[treepath.Key]*pickChildRecord{}}
		p.records[ph] = pp
	}

	mv := p.mutableSubset(props)
	rec := &pickChildRecord{immutable: withoutProps(props, p.mutableProps), mutable: mv}
	comparisonView := props[p.sourceProperty]
	if v, tracked := mv[p.sourceProperty]; tracked {
		comparisonView = v
	}
	rec.comparison, rec.hasComparison = numeric(comparisonView)

	pp.children[key] = rec
	pp.order = append(pp.order, key)

	current := pp.children[pp.pick]
	if p.beats(rec, current) {
		old := pp.composedPickOrAbsent()
		pp.pick = key
		p.emit(grandKeyPath, parentKey, old, rec.composed())
	}
}

func (p *PickByMinMaxStep) handleChildRemoved(childKeyPath treepath.KeyPath, key treepath.Key, _ tree.Props) {
	grandKeyPath, parentKey := childKeyPathToParent(childKeyPath)
	ph := treepath.HashOf(p.parentPath, grandKeyPath)
	pp := p.records[ph]
	if pp == nil {
		return
	}
	if _, ok := pp.children[key]; !ok {
		return
	}
	wasPick := pp.pick == key
	delete(pp.children, key)
	for i, k := range pp.order {
		if k == key {
			pp.order = append(pp.order[:i], pp.order[i+1:]...)
			break
		}
	}

	if !wasPick {
		if len(pp.children) == 0 {
			delete(p.records, ph)
		}
		return
	}

	old := pp.composedPickOrAbsent()
	pp.pick = p.recomputePick(pp)
	newVal := pp.composedPickOrAbsent()
	p.emit(grandKeyPath, parentKey, old, newVal)
	if len(pp.children) == 0 {
		delete(p.records, ph)
	}
}

func (p *PickByMinMaxStep) handleChildModified(childKeyPath treepath.KeyPath, key treepath.Key, property string, newValue any) {
	grandKeyPath, parentKey := childKeyPathToParent(childKeyPath)
	ph := treepath.HashOf(p.parentPath, grandKeyPath)
	pp := p.records[ph]
	if pp == nil {
		return
	}
	rec, ok := pp.children[key]
	if !ok {
		return
	}

	if key == pp.pick {
		old := rec.composed()
		rec.mutable[property] = newValue
		if property == p.sourceProperty {
			rec.comparison, rec.hasComparison = numeric(newValue)
		}
		newPick := p.recomputePick(pp)
		if newPick == key {
			p.emit(grandKeyPath, parentKey, old, rec.composed())
			return
		}
		pp.pick = newPick
		p.emit(grandKeyPath, parentKey, old, pp.composedPickOrAbsent())
		return
	}

	rec.mutable[property] = newValue
	if property != p.sourceProperty {
		return // a non-pick child's non-comparison property never affects output
	}
	rec.comparison, rec.hasComparison = numeric(newValue)
	if p.recomputePick(pp) == key {
		old := pp.composedPickOrAbsent()
		pp.pick = key
		p.emit(grandKeyPath, parentKey, old, rec.composed())
	}
}
