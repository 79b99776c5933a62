package step

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/flowtree/pkg/canon"
	"github.com/l7mp/flowtree/pkg/tree"
	"github.com/l7mp/flowtree/pkg/treepath"
	"github.com/l7mp/flowtree/pkg/typedesc"
)

// groupRecord is the per-group bookkeeping kept under one parent (spec.md §4.3,
// "State").
type groupRecord struct {
	memberCount   int
	groupingProps tree.Props
}

// rowRecord tracks which group a given upstream row currently belongs to, plus
// enough of its content to replay a faithful removed/added pair when a mutable
// grouping property causes the row to change groups.
type rowRecord struct {
	groupKey      treepath.Key
	groupingProps tree.Props // current values of the grouping properties for this row
	childProps    tree.Props // current non-grouping content, kept in sync as it flows through
}

// GroupByStep rewrites items arriving at a scope segment path: the grouping
// properties move into a shell row, the remainder into a child keyed array
// (spec.md §4.3).
type GroupByStep struct {
	Base

	scopePath     treepath.SegPath
	groupingProps []string
	arrayName     string
	childPath     treepath.SegPath
	log           logr.Logger

	// mutableGroupingDeps is the subset of groupingProps the upstream descriptor
	// marks mutable; only these get a live upstream modified subscription.
	mutableGroupingDeps []string

	shellAdded   []AddedHandler
	shellRemoved []RemovedHandler
	childAdded   []AddedHandler
	childRemoved []RemovedHandler
	// childModified[property] -> handlers, re-keyed with the group key inserted
	// into the key path (spec.md §4.2 invariant 4, "transparent pass-through").
	childModified           map[string][]ModifiedHandler
	childModifiedRegistered map[string]bool

	groups map[treepath.Hash]map[treepath.Key]*groupRecord
	rows   map[treepath.Hash]map[treepath.Key]*rowRecord
}

// NewGroupBy constructs a group-by step over upstream at scopePath.
func NewGroupBy(upstream Step, scopePath treepath.SegPath, groupingProps []string, arrayName string, log logr.Logger) *GroupByStep {
	g := &GroupByStep{
		scopePath:               scopePath,
		groupingProps:           append([]string(nil), groupingProps...),
		arrayName:               arrayName,
		childPath:               append(append(treepath.SegPath{}, scopePath...), arrayName),
		log:                     log,
		childModified:           map[string][]ModifiedHandler{},
		childModifiedRegistered: map[string]bool{},
		groups:                  map[treepath.Hash]map[treepath.Key]*groupRecord{},
		rows:                    map[treepath.Hash]map[treepath.Key]*rowRecord{},
	}
	g.Base.Init(upstream, log)

	upstreamScope := upstream.TypeDescriptor().At(scopePath)
	for _, p := range groupingProps {
		if upstreamScope.IsMutable(p) {
			g.mutableGroupingDeps = append(g.mutableGroupingDeps, p)
		}
	}

	upstream.OnAdded(scopePath, g.handleUpstreamAdded)
	upstream.OnRemoved(scopePath, g.handleUpstreamRemoved)
	for _, p := range g.mutableGroupingDeps {
		prop := p
		upstream.OnModified(scopePath, prop, func(kp treepath.KeyPath, key treepath.Key, old, new any) {
			g.handleUpstreamGroupingModified(prop, kp, key, old, new)
		})
	}
	return g
}

func subsetProps(props tree.Props, names []string) tree.Props {
	out := make(tree.Props, len(names))
	for _, n := range names {
		out[n] = props[n]
	}
	return out
}

func withoutProps(props tree.Props, names []string) tree.Props {
	out := tree.CloneProps(props)
	for _, n := range names {
		delete(out, n)
	}
	return out
}

func (g *GroupByStep) parentHash(keyPath treepath.KeyPath) treepath.Hash {
	return treepath.HashOf(g.scopePath, keyPath)
}

func (g *GroupByStep) handleUpstreamAdded(keyPath treepath.KeyPath, key treepath.Key, props tree.Props) {
	ph := g.parentHash(keyPath)
	if g.groups[ph] == nil {
		g.groups[ph] = map[treepath.Key]*groupRecord{}
		g.rows[ph] = map[treepath.Key]*rowRecord{}
	}
	groupingSnapshot := subsetProps(props, g.groupingProps)
	groupKey := treepath.Key(canon.Canonicalize(props, g.groupingProps))

	grp, exists := g.groups[ph][groupKey]
	if !exists {
		grp = &groupRecord{groupingProps: groupingSnapshot}
		g.groups[ph][groupKey] = grp
		for _, h := range g.shellAdded {
			h(keyPath, groupKey, grp.groupingProps)
		}
	}
	grp.memberCount++

	childProps := withoutProps(props, g.groupingProps)
	g.rows[ph][key] = &rowRecord{groupKey: groupKey, groupingProps: groupingSnapshot, childProps: childProps}

	childKeyPath := keyPath.Append(groupKey)
	for _, h := range g.childAdded {
		h(childKeyPath, key, childProps)
	}
}

func (g *GroupByStep) handleUpstreamRemoved(keyPath treepath.KeyPath, key treepath.Key, props tree.Props) {
	ph := g.parentHash(keyPath)
	rec := g.rows[ph][key]
	if rec == nil {
		g.log.Info("group_by: removed for untracked row", "scopePath", g.scopePath.String(), "key", key)
		return
	}
	delete(g.rows[ph], key)

	childKeyPath := keyPath.Append(rec.groupKey)
	for _, h := range g.childRemoved {
		h(childKeyPath, key, rec.childProps)
	}

	grp := g.groups[ph][rec.groupKey]
	if grp == nil {
		return
	}
	grp.memberCount--
	if grp.memberCount <= 0 {
		delete(g.groups[ph], rec.groupKey)
		for _, h := range g.shellRemoved {
			h(keyPath, rec.groupKey, grp.groupingProps)
		}
	}
}

// handleUpstreamGroupingModified implements the mutable-grouping cascade (spec.md
// §4.3): a change to a grouping property may move a row into a different (possibly
// new) group. Ordering: old-child-remove -> old-group-remove-if-empty ->
// new-group-add-if-new -> new-child-add.
func (g *GroupByStep) handleUpstreamGroupingModified(prop string, keyPath treepath.KeyPath, key treepath.Key, _, newValue any) {
	ph := g.parentHash(keyPath)
	rec := g.rows[ph][key]
	if rec == nil {
		return
	}
	rec.groupingProps = tree.CloneProps(rec.groupingProps)
	rec.groupingProps[prop] = newValue

	newGroupKey := treepath.Key(canon.Canonicalize(rec.groupingProps, g.groupingProps))
	if newGroupKey == rec.groupKey {
		return // silent no-op: the new value doesn't change which group the row belongs to
	}

	oldGroupKey := rec.groupKey
	oldChildKeyPath := keyPath.Append(oldGroupKey)
	for _, h := range g.childRemoved {
		h(oldChildKeyPath, key, rec.childProps)
	}
	oldGrp := g.groups[ph][oldGroupKey]
	if oldGrp != nil {
		oldGrp.memberCount--
		if oldGrp.memberCount <= 0 {
			delete(g.groups[ph], oldGroupKey)
			for _, h := range g.shellRemoved {
				h(keyPath, oldGroupKey, oldGrp.groupingProps)
			}
		}
	}

	newGrp, exists := g.groups[ph][newGroupKey]
	if !exists {
		newGrp = &groupRecord{groupingProps: tree.CloneProps(rec.groupingProps)}
		g.groups[ph][newGroupKey] = newGrp
		for _, h := range g.shellAdded {
			h(keyPath, newGroupKey, newGrp.groupingProps)
		}
	}
	newGrp.memberCount++

	rec.groupKey = newGroupKey
	newChildKeyPath := keyPath.Append(newGroupKey)
	for _, h := range g.childAdded {
		h(newChildKeyPath, key, rec.childProps)
	}
}

func (g *GroupByStep) registerUpstreamModifiedPassthrough(property string) {
	if g.childModifiedRegistered[property] {
		return
	}
	g.childModifiedRegistered[property] = true
	g.Upstream.OnModified(g.scopePath, property, func(keyPath treepath.KeyPath, key treepath.Key, old, newValue any) {
		ph := g.parentHash(keyPath)
		rec := g.rows[ph][key]
		if rec == nil {
			return
		}
		// Keep the cached child snapshot in sync so a later group reassignment
		// replays an accurate payload. Only properties some downstream step has
		// subscribed to at the child level are kept in sync; any other property
		// keeps the value it had when the row was added, and a reassignment
		// replays the whole cached snapshot.
		rec.childProps = tree.CloneProps(rec.childProps)
		rec.childProps[property] = newValue

		childKeyPath := keyPath.Append(rec.groupKey)
		for _, h := range g.childModified[property] {
			h(childKeyPath, key, old, newValue)
		}
	})
}

func (g *GroupByStep) OnAdded(segPath treepath.SegPath, h AddedHandler) {
	switch {
	case segPath.Equal(g.scopePath):
		g.shellAdded = append(g.shellAdded, h)
	case segPath.Equal(g.childPath):
		g.childAdded = append(g.childAdded, h)
	default:
		g.Base.PassOnAdded(segPath, h)
	}
}

func (g *GroupByStep) OnRemoved(segPath treepath.SegPath, h RemovedHandler) {
	switch {
	case segPath.Equal(g.scopePath):
		g.shellRemoved = append(g.shellRemoved, h)
	case segPath.Equal(g.childPath):
		g.childRemoved = append(g.childRemoved, h)
	default:
		g.Base.PassOnRemoved(segPath, h)
	}
}

func (g *GroupByStep) OnModified(segPath treepath.SegPath, property string, h ModifiedHandler) {
	switch {
	case segPath.Equal(g.scopePath):
		// A grouping property's modified event is absorbed internally as a
		// group reassignment (handleUpstreamGroupingModified); it never
		// surfaces downstream as a property change on the shell row.
		return
	case segPath.Equal(g.childPath):
		g.childModified[property] = append(g.childModified[property], h)
		g.registerUpstreamModifiedPassthrough(property)
	default:
		g.Base.PassOnModified(segPath, property, h)
	}
}

func (g *GroupByStep) TypeDescriptor() *typedesc.Descriptor {
	root := g.Upstream.TypeDescriptor()
	scopeNode := root.At(g.scopePath)
	if scopeNode == nil {
		scopeNode = typedesc.New()
	}

	childDesc := scopeNode.Clone()
	for _, p := range g.groupingProps {
		childDesc = childDesc.WithoutMutable(p)
	}

	shell := typedesc.New().WithArray(g.arrayName, childDesc)

	return root.Replace(g.scopePath, shell)
}
