// Package treepath implements the path and key-path primitives that locate an event
// within the output tree: a segment path (the array-property names identifying a
// nesting level) and a key path (the parent keys reaching the parent of that level).
package treepath

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SegPath is an ordered sequence of array-property names identifying one nesting
// level in the output tree. The empty path denotes the root level.
type SegPath []string

// KeyPath is an ordered sequence of parent keys identifying one specific row at the
// parent of a given segment path. For root-level events the key path is empty.
type KeyPath []string

// Key identifies a row within its parent array. Unique among siblings, stable across
// modifications.
type Key = string

// Root is the empty segment path.
func Root() SegPath { return nil }

// Append returns a new segment path with name appended; it never mutates p.
func (p SegPath) Append(name string) SegPath {
	out := make(SegPath, len(p)+1)
	copy(out, p)
	out[len(p)] = name
	return out
}

// Parent returns the segment path with its last element dropped, and that element.
// Calling Parent on the root path returns (Root(), "").
func (p SegPath) Parent() (SegPath, string) {
	if len(p) == 0 {
		return Root(), ""
	}
	return p[:len(p)-1], p[len(p)-1]
}

// Equal reports whether a and b name the same segment path.
func (p SegPath) Equal(other SegPath) bool { return Match(p, other) }

// String renders the path as a dotted name, or "<root>" for the root path.
func (p SegPath) String() string {
	if len(p) == 0 {
		return "<root>"
	}
	return strings.Join(p, ".")
}

// Match reports whether two segment (or key) paths name the same sequence.
func Match[T ~string](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// StartsWith reports whether prefix is a prefix of p (including p == prefix).
func StartsWith[T ~string](p, prefix []T) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Append returns a new key path with key appended; it never mutates p.
func (p KeyPath) Append(key Key) KeyPath {
	out := make(KeyPath, len(p)+1)
	copy(out, p)
	out[len(p)] = key
	return out
}

// Split separates a child key path into the grandparent key path and the immediate
// parent key, mirroring how an aggregate step derives its emission target from the
// key path of the child that triggered it (spec.md §4.7, "Emission").
func (p KeyPath) Split() (KeyPath, Key) {
	if len(p) == 0 {
		return nil, ""
	}
	return p[:len(p)-1], p[len(p)-1]
}

// Hash is the short, stable identifier every path-keyed map in the engine uses as a
// map key (spec.md §4.1). It folds a segment path and a key path into one string.
type Hash string

// HashOf computes the identifier for a (segPath, keyPath) pair. Two pairs that are
// Equal/Match produce identical hashes and vice versa.
func HashOf(seg SegPath, key KeyPath) Hash {
	h := sha256.New()
	for _, s := range seg {
		h.Write([]byte{0})
		h.Write([]byte(s))
	}
	h.Write([]byte{1})
	for _, k := range key {
		h.Write([]byte{0})
		h.Write([]byte(k))
	}
	return Hash(hex.EncodeToString(h.Sum(nil))[:16])
}
