// Package decl implements the process-wide declaration arena described in
// spec.md §3.2: a single append-only store of resolved entities addressed
// by small monotonic integer ids, never reused.
package decl

import "github.com/shibukawa/snapsql/internal/ident"

// Id addresses one entry in an Arena: ids are indexes counted from 0 in
// insertion order.
type Id int

// Kind tags the variant a Decl holds, mirroring spec.md §3.2's sum type.
type Kind string

const (
	KindVariable     Kind = "variable"
	KindFunction     Kind = "function"
	KindTableDecl    Kind = "table"
	KindModule       Kind = "module"
	KindLayered      Kind = "layered_modules"
	KindInfer        Kind = "infer"
	KindColumn       Kind = "column"
	KindInstanceOf   Kind = "instance_of"
	KindExpr         Kind = "expr"
)

// Span is a source location, propagated from the parser (spec.md §6: the
// parser is an external collaborator, but spans flow through every IR).
type Span struct {
	Start, End int
}

// Param is one formal parameter of a Function declaration.
type Param struct {
	Name     string
	Named    bool
	Default  any // nil when required
	TypeExpr any // resolved lazily by the resolver; left untyped here to avoid an import cycle
}

// Decl is one arena entry. Only the fields relevant to Kind are populated;
// this mirrors the teacher's tagged-struct convention (Kind string plus
// per-variant fields) rather than a Go interface, since every caller needs
// to serialize/inspect Decls generically.
type Decl struct {
	Kind Kind
	Span *Span
	// Order is a hint used to preserve tuple-field declaration order; see
	// spec.md §3.2.
	Order int

	// KindVariable
	VarExpr any
	VarType any

	// KindFunction
	FuncParams []Param
	FuncBody   any
	FuncReturn any

	// KindTableDecl
	TableId   int
	TableName string
	Relation  any

	// KindModule / KindLayered
	Module  *Module
	Stack   []*Module // KindLayered: LIFO, index 0 is the bottom

	// KindInfer
	InferTemplate *Decl

	// KindColumn
	ColumnType any

	// KindInstanceOf
	InstanceOf ident.Ident

	// KindExpr
	Expr any

	// Shadowed holds a previously-visible declaration displaced by Shadow,
	// restored by Unshadow. See spec.md §3.2.
	Shadowed *Decl
}

// Arena is the process-wide, append-only store of Decls.
type Arena struct {
	entries []Decl
}

// NewArena builds an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Insert appends a Decl and returns its freshly allocated, never-reused id.
func (a *Arena) Insert(d Decl) Id {
	a.entries = append(a.entries, d)
	return Id(len(a.entries) - 1)
}

// Get returns the Decl at id. Panics on an out-of-range id, since any valid
// IR only ever carries ids this Arena issued.
func (a *Arena) Get(id Id) *Decl {
	return &a.entries[id]
}

// Len returns how many declarations have been inserted.
func (a *Arena) Len() int {
	return len(a.entries)
}

// Module is defined here (rather than in package module) to avoid an import
// cycle, since a Decl of KindModule embeds one directly; package module
// re-exports it as Module for callers.
type Module struct {
	Names     map[string]Id
	Redirects []ident.Ident
}

// NewModule builds an empty module.
func NewModule() *Module {
	return &Module{Names: map[string]Id{}}
}
