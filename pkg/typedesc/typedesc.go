// Package typedesc implements the type descriptor tree (spec.md §3): a purely
// derived schema that tracks, at every nesting level of the output tree, which
// array/object children exist and which properties at that level are mutable (can
// change via a modified event without the row being removed and re-added).
//
// Descriptors are built bottom-up as steps compose; no step mutates another step's
// descriptor (spec.md §3, "Type descriptor" invariant). Mutability classification is
// the single signal that lets aggregate steps auto-subscribe to modified events
// without the caller declaring a dependency list (spec.md §4.7).
package typedesc

// Descriptor is a node in the type-descriptor tree.
type Descriptor struct {
	Arrays           []ArrayDescriptor
	Objects          []ObjectDescriptor
	MutableProperties map[string]struct{}
}

// ArrayDescriptor names a nested keyed array and the descriptor of its element type.
type ArrayDescriptor struct {
	Name string
	Type *Descriptor
}

// ObjectDescriptor names a nested (non-array) object and its descriptor.
type ObjectDescriptor struct {
	Name string
	Type *Descriptor
}

// New returns an empty descriptor.
func New() *Descriptor {
	return &Descriptor{MutableProperties: map[string]struct{}{}}
}

// Clone returns a deep copy, so that rewriting one step's descriptor never reaches
// back into an upstream step's tree.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return New()
	}
	out := &Descriptor{
		MutableProperties: make(map[string]struct{}, len(d.MutableProperties)),
	}
	for p := range d.MutableProperties {
		out.MutableProperties[p] = struct{}{}
	}
	for _, a := range d.Arrays {
		out.Arrays = append(out.Arrays, ArrayDescriptor{Name: a.Name, Type: a.Type.Clone()})
	}
	for _, o := range d.Objects {
		out.Objects = append(out.Objects, ObjectDescriptor{Name: o.Name, Type: o.Type.Clone()})
	}
	return out
}

// IsMutable reports whether property p can change at this level via a modified
// event.
func (d *Descriptor) IsMutable(p string) bool {
	if d == nil {
		return false
	}
	_, ok := d.MutableProperties[p]
	return ok
}

// WithMutable returns a clone of d with p added to MutableProperties.
func (d *Descriptor) WithMutable(p string) *Descriptor {
	out := d.Clone()
	out.MutableProperties[p] = struct{}{}
	return out
}

// WithoutMutable returns a clone of d with p removed from MutableProperties (used by
// DropPropertyStep when the dropped property happened to be mutable).
func (d *Descriptor) WithoutMutable(p string) *Descriptor {
	out := d.Clone()
	delete(out.MutableProperties, p)
	return out
}

// WithArray returns a clone of d with a new (or replaced) array child named name.
func (d *Descriptor) WithArray(name string, elem *Descriptor) *Descriptor {
	out := d.Clone()
	for i := range out.Arrays {
		if out.Arrays[i].Name == name {
			out.Arrays[i].Type = elem
			return out
		}
	}
	out.Arrays = append(out.Arrays, ArrayDescriptor{Name: name, Type: elem})
	return out
}

// Array looks up a named array child, returning nil if absent.
func (d *Descriptor) Array(name string) *Descriptor {
	if d == nil {
		return nil
	}
	for _, a := range d.Arrays {
		if a.Name == name {
			return a.Type
		}
	}
	return nil
}

// At descends through a sequence of array-child names, returning the descriptor
// found at the end of the path, or nil if any segment along the way is missing.
func (d *Descriptor) At(segPath []string) *Descriptor {
	cur := d
	for _, seg := range segPath {
		cur = cur.Array(seg)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Replace returns a clone of d with the descriptor at segPath replaced by newChild.
// An empty segPath replaces the whole tree (returns newChild itself). Every node along
// the path is cloned (deeply, including its off-path children) and rewritten;
// newChild itself is linked in without being copied.
func (d *Descriptor) Replace(segPath []string, newChild *Descriptor) *Descriptor {
	if len(segPath) == 0 {
		return newChild
	}
	seg, rest := segPath[0], segPath[1:]
	return d.WithArray(seg, d.Array(seg).Replace(rest, newChild))
}

// Equal performs a structural comparison, used by tests asserting that
// type_descriptor() is pure (spec.md §8, invariant 7).
func (d *Descriptor) Equal(other *Descriptor) bool {
	if d == nil || other == nil {
		return d == other
	}
	if len(d.MutableProperties) != len(other.MutableProperties) {
		return false
	}
	for p := range d.MutableProperties {
		if !other.IsMutable(p) {
			return false
		}
	}
	if len(d.Arrays) != len(other.Arrays) || len(d.Objects) != len(other.Objects) {
		return false
	}
	for i, a := range d.Arrays {
		b := other.Arrays[i]
		if a.Name != b.Name || !a.Type.Equal(b.Type) {
			return false
		}
	}
	for i, a := range d.Objects {
		b := other.Objects[i]
		if a.Name != b.Name || !a.Type.Equal(b.Type) {
			return false
		}
	}
	return true
}
