// Package step implements the step graph: the subscription API every step satisfies
// (spec.md §4.2), the transparent steps (group_by, define_property, drop_property,
// filter, §4.3-4.6), and the aggregate steps (§4.7). Steps are single-threaded and
// synchronous — handling an event may invoke downstream handlers inline; nothing is
// enqueued, batched, or reordered at this layer (batching is pkg/binder's job).
package step

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/flowtree/pkg/tree"
	"github.com/l7mp/flowtree/pkg/treepath"
	"github.com/l7mp/flowtree/pkg/typedesc"
)

// AddedHandler is invoked when a row appears at a segment path.
type AddedHandler func(keyPath treepath.KeyPath, key treepath.Key, props tree.Props)

// RemovedHandler is invoked when a row disappears from a segment path. props carries
// the row's last known content (spec.md Design Notes: "For immutable properties the
// remove event carries the props").
type RemovedHandler func(keyPath treepath.KeyPath, key treepath.Key, props tree.Props)

// ModifiedHandler is invoked when a named property of a live row changes.
type ModifiedHandler func(keyPath treepath.KeyPath, key treepath.Key, oldValue, newValue any)

// Step is the subscription contract every step in the graph satisfies (spec.md
// §4.2). A step holds a reference to exactly one upstream step; the root of the
// chain is an implicit input step (see NewInput).
type Step interface {
	// OnAdded registers a handler for added events at segPath.
	OnAdded(segPath treepath.SegPath, h AddedHandler)
	// OnRemoved registers a handler for removed events at segPath.
	OnRemoved(segPath treepath.SegPath, h RemovedHandler)
	// OnModified registers a handler for modified events on property at segPath.
	OnModified(segPath treepath.SegPath, property string, h ModifiedHandler)
	// TypeDescriptor returns this step's output descriptor. Pure: repeated calls
	// return structurally identical trees (spec.md §8, invariant 7).
	TypeDescriptor() *typedesc.Descriptor
}

// segKey turns a segment path into a safe, collision-free map key. \x1f (ASCII unit
// separator) cannot appear in the array-property names produced by the descriptor
// synthesis this engine relies on (spec.md §3 treats property names as plain
// identifiers), so a simple join avoids pulling in a JSON round-trip just for a map
// key.
func segKey(p treepath.SegPath) string {
	if len(p) == 0 {
		return ""
	}
	out := p[0]
	for _, s := range p[1:] {
		out += "\x1f" + s
	}
	return out
}

// Base implements the "transparent pass-through of unhandled subscriptions" rule
// (spec.md Design Notes): any OnAdded/OnRemoved/OnModified request a concrete step
// doesn't itself intercept is forwarded to upstream, once per segment path, and
// multiplexed back out to every downstream handler that asked for it. Concrete steps
// embed Base and call its Pass* methods from their own OnAdded/OnRemoved/OnModified
// for any segPath/property outside their own scope.
type Base struct {
	Upstream Step
	Log      logr.Logger

	addedSubs   map[string][]AddedHandler
	removedSubs map[string][]RemovedHandler
	// modifiedSubs[segKey][property] -> handlers
	modifiedSubs map[string]map[string][]ModifiedHandler

	addedRegistered   map[string]bool
	removedRegistered map[string]bool
	// modifiedRegistered[segKey][property]
	modifiedRegistered map[string]map[string]bool
}

// Init wires the base to its upstream step. Must be called before any Pass* method.
func (b *Base) Init(upstream Step, log logr.Logger) {
	b.Upstream = upstream
	b.Log = log
	b.addedSubs = map[string][]AddedHandler{}
	b.removedSubs = map[string][]RemovedHandler{}
	b.modifiedSubs = map[string]map[string][]ModifiedHandler{}
	b.addedRegistered = map[string]bool{}
	b.removedRegistered = map[string]bool{}
	b.modifiedRegistered = map[string]map[string]bool{}
}

// PassOnAdded forwards an added subscription at segPath to upstream, once.
func (b *Base) PassOnAdded(segPath treepath.SegPath, h AddedHandler) {
	k := segKey(segPath)
	b.addedSubs[k] = append(b.addedSubs[k], h)
	if !b.addedRegistered[k] {
		b.addedRegistered[k] = true
		b.Upstream.OnAdded(segPath, func(kp treepath.KeyPath, key treepath.Key, props tree.Props) {
			for _, handler := range b.addedSubs[k] {
				handler(kp, key, props)
			}
		})
	}
}

// PassOnRemoved forwards a removed subscription at segPath to upstream, once.
func (b *Base) PassOnRemoved(segPath treepath.SegPath, h RemovedHandler) {
	k := segKey(segPath)
	b.removedSubs[k] = append(b.removedSubs[k], h)
	if !b.removedRegistered[k] {
		b.removedRegistered[k] = true
		b.Upstream.OnRemoved(segPath, func(kp treepath.KeyPath, key treepath.Key, props tree.Props) {
			for _, handler := range b.removedSubs[k] {
				handler(kp, key, props)
			}
		})
	}
}

// PassOnModified forwards a modified subscription at (segPath, property) to
// upstream, once.
func (b *Base) PassOnModified(segPath treepath.SegPath, property string, h ModifiedHandler) {
	k := segKey(segPath)
	if b.modifiedSubs[k] == nil {
		b.modifiedSubs[k] = map[string][]ModifiedHandler{}
	}
	if b.modifiedRegistered[k] == nil {
		b.modifiedRegistered[k] = map[string]bool{}
	}
	b.modifiedSubs[k][property] = append(b.modifiedSubs[k][property], h)
	if !b.modifiedRegistered[k][property] {
		b.modifiedRegistered[k][property] = true
		b.Upstream.OnModified(segPath, property, func(kp treepath.KeyPath, key treepath.Key, oldValue, newValue any) {
			for _, handler := range b.modifiedSubs[k][property] {
				handler(kp, key, oldValue, newValue)
			}
		})
	}
}

// InputStep is the implicit root step: it emits a single added at the root segment
// path per record the caller adds, and a matching removed per record removed
// (spec.md §4.2).
type InputStep struct {
	log         logr.Logger
	addedSubs   []AddedHandler
	removedSubs []RemovedHandler
	// InputStep has no modified events of its own: inserted records are
	// immutable at the root (spec.md §3, "the word immutable means the upstream
	// never re-emits the same item with different base values").
	modifiedRegistry map[string]map[string][]ModifiedHandler
	live             map[treepath.Key]tree.Props
}

// NewInput creates the root step.
func NewInput(log logr.Logger) *InputStep {
	return &InputStep{
		log:              log,
		modifiedRegistry: map[string]map[string][]ModifiedHandler{},
		live:             map[treepath.Key]tree.Props{},
	}
}

func (in *InputStep) OnAdded(segPath treepath.SegPath, h AddedHandler) {
	if len(segPath) != 0 {
		return // the root step only ever has data at the root path
	}
	in.addedSubs = append(in.addedSubs, h)
}

func (in *InputStep) OnRemoved(segPath treepath.SegPath, h RemovedHandler) {
	if len(segPath) != 0 {
		return
	}
	in.removedSubs = append(in.removedSubs, h)
}

func (in *InputStep) OnModified(segPath treepath.SegPath, property string, h ModifiedHandler) {
	// No-op: the root never emits modified (spec.md §3). Registration is
	// accepted (not an error) since a downstream step generically re-subscribes
	// at the root on every property it tracks; it just never fires.
}

func (in *InputStep) TypeDescriptor() *typedesc.Descriptor { return typedesc.New() }

// Add injects a row at the root segment path (spec.md §6, pipeline input).
func (in *InputStep) Add(key treepath.Key, props tree.Props) {
	in.live[key] = tree.CloneProps(props)
	for _, h := range in.addedSubs {
		h(nil, key, props)
	}
}

// Remove retracts the row previously injected with Add. props should equal (or at
// least structurally match) what was added, since aggregates read values from the
// removed payload (spec.md §6).
func (in *InputStep) Remove(key treepath.Key, props tree.Props) {
	delete(in.live, key)
	for _, h := range in.removedSubs {
		h(nil, key, props)
	}
}
