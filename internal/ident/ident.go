// Package ident implements the fully-qualified identifier and path model
// described in spec.md §3.1/§4.1: a non-empty ordered sequence of name
// segments, with equality, prefix, and pop-front operations.
package ident

import (
	"errors"
	"strings"
)

// ErrEmptyIdent is returned when an identifier with zero segments is built.
var ErrEmptyIdent = errors.New("identifier must have at least one segment")

// Ident is an ordered, non-empty sequence of name segments: Path are the
// leading segments (possibly empty), Name is the terminal segment.
//
//	schema.table.column -> Path: ["schema", "table"], Name: "column"
type Ident struct {
	Path []string
	Name string
}

// New builds an Ident from segments, the last of which becomes Name.
func New(segments ...string) (Ident, error) {
	if len(segments) == 0 {
		return Ident{}, ErrEmptyIdent
	}

	return Ident{Path: append([]string(nil), segments[:len(segments)-1]...), Name: segments[len(segments)-1]}, nil
}

// FromName builds a single-segment Ident. Panics if name is empty, since
// callers always pass a literal.
func FromName(name string) Ident {
	if name == "" {
		panic(ErrEmptyIdent)
	}

	return Ident{Name: name}
}

// Segments returns the full ordered segment list.
func (id Ident) Segments() []string {
	return append(append([]string(nil), id.Path...), id.Name)
}

// String renders the identifier as dot-separated segments.
func (id Ident) String() string {
	return strings.Join(id.Segments(), ".")
}

// Equal reports whether two identifiers have identical segment sequences.
func (id Ident) Equal(other Ident) bool {
	segs, otherSegs := id.Segments(), other.Segments()
	if len(segs) != len(otherSegs) {
		return false
	}

	for i := range segs {
		if segs[i] != otherSegs[i] {
			return false
		}
	}

	return true
}

// StartsWith reports whether id's segments begin with prefix's segments.
func (id Ident) StartsWith(prefix Ident) bool {
	segs, prefSegs := id.Segments(), prefix.Segments()
	if len(prefSegs) > len(segs) {
		return false
	}

	for i := range prefSegs {
		if segs[i] != prefSegs[i] {
			return false
		}
	}

	return true
}

// PopFront splits off the first segment, returning it along with whatever
// remains. ok is false when id has only one segment (nothing remains).
func (id Ident) PopFront() (head string, rest Ident, ok bool) {
	segs := id.Segments()
	head = segs[0]

	if len(segs) == 1 {
		return head, Ident{}, false
	}

	rest, _ = New(segs[1:]...)

	return head, rest, true
}

// Prepend returns a new Ident with label inserted as the first segment.
func (id Ident) Prepend(label string) Ident {
	segs := append([]string{label}, id.Segments()...)
	out, _ := New(segs...)

	return out
}

// Len returns the number of segments.
func (id Ident) Len() int {
	return len(id.Path) + 1
}
