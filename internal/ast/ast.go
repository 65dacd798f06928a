package ast

// Query is the parsed form of one compilation unit: an optional header
// (spec.md's "Query header": `target:sql.<dialect> version:"x.y"`) plus
// the main pipeline.
type Query struct {
	Target   string // "" if the header omitted target:
	Version  string // "" if the header omitted version:
	Funcs    []LetDecl
	Pipeline []Stage
}

// LetDecl is a top-level `let name = ...` binding, parsed before the main
// pipeline (spec.md §4.2 "applies functions"). Func is set for a function
// literal (`let f = func a b -> body`); Value is set otherwise, including
// for a curried partial application (`let g = f 1`).
type LetDecl struct {
	Name  string
	Func  *FuncDecl
	Value *Expr
}

// FuncDecl is a `func param... -> body` literal's parameter list and body.
type FuncDecl struct {
	Params []string
	Body   Expr
}

// Item is one named-or-unnamed entry in a tuple position (`select`,
// `derive`, `aggregate`, `group`'s key list): either a bare expression
// (Name == "") or an assignment `name = expr`.
type Item struct {
	Name string
	Expr Expr
}

// SortItem is one `sort` entry: a column expression plus direction.
type SortItem struct {
	Expr Expr
	Desc bool
}

// Range is a `take` argument: `take N` (Start=1, End=N) or an explicit
// `take a..b`.
type Range struct {
	Start, End *int
}

// Stage is one pipeline transform, in the textual order the source
// wrote it.
type Stage interface{ isStage() }

// From reads a named table (Table set), an inline array-of-tuples
// literal (`from [{n=1}]`, Literal set), or a raw SQL source
// (`from s"SELECT ..."`, SString set).
type From struct {
	Table   string
	Literal [][]Item
	SString string
}

type SelectStage struct{ Items []Item }

type Filter struct{ Cond Expr }

type Derive struct{ Items []Item }

type Aggregate struct{ Items []Item }

// Group evaluates Inner with `within_group = Keys` (spec.md §4.2).
type Group struct {
	Keys  []Expr
	Inner []Stage
}

// Window evaluates Inner with the partition given by Keys (possibly
// empty) and the sort carried by a leading `sort` inside Inner, wrapping
// each resulting Compute as a windowed expression (spec.md §4.2's
// "window promotion") rather than folding into an aggregate transform.
type Window struct {
	Keys  []Expr
	Inner []Stage
}

type Sort struct{ Items []SortItem }

type Take struct{ Range Range }

// Join side values, matching spec.md's `join side:s with filter`.
const (
	JoinInner = "inner"
	JoinLeft  = "left"
	JoinRight = "right"
	JoinFull  = "full"
)

type Join struct {
	Side   string
	Table  string
	Cond   Expr     // nil if Using is set
	Using  []string // shared extern columns, from `join ... (using [ks])`
}

type Append struct{ Table string }

// Remove is sugar for the anti-join/EXCEPT pattern: `remove (pipeline)`.
type Remove struct{ Inner []Stage }

// Loop evaluates Inner repeatedly, unioning results (spec.md §4.6).
type Loop struct{ Inner []Stage }

func (From) isStage()        {}
func (SelectStage) isStage() {}
func (Filter) isStage()      {}
func (Derive) isStage()      {}
func (Aggregate) isStage()   {}
func (Group) isStage()       {}
func (Window) isStage()      {}
func (Sort) isStage()        {}
func (Take) isStage()        {}
func (Join) isStage()        {}
func (Append) isStage()      {}
func (Remove) isStage()      {}
func (Loop) isStage()        {}

// ExprKind tags Expr's variant, following the tagged-struct convention
// internal/rq and internal/decl already use.
type ExprKind int

const (
	ExprIdent ExprKind = iota
	ExprLitInt
	ExprLitFloat
	ExprLitString
	ExprLitBool
	ExprLitNull
	ExprBinary
	ExprUnary
	ExprFuncCall
	ExprTuple
	ExprArray
	ExprAssign
	ExprCase
	ExprSString
	ExprFString
	ExprParam
)

// InterpPartKind tags one piece of an interpolated s-string/f-string.
type InterpPartKind int

const (
	InterpText InterpPartKind = iota
	InterpExpr
)

// InterpPart is one piece of an s-string/f-string: either literal text or
// an embedded `{expr}`.
type InterpPart struct {
	Kind InterpPartKind
	Text string
	Expr *Expr
}

// CaseArm is one `cond => value` entry of a `case [...]` expression. An
// arm whose Cond is the literal boolean `true` is the default/ELSE arm,
// per spec.md §4.2.
type CaseArm struct {
	Cond  Expr
	Value Expr
}

type Expr struct {
	Kind ExprKind

	// ExprIdent
	Ident string

	// ExprLitInt
	Int int64
	// ExprLitFloat
	Float float64
	// ExprLitString
	Str string
	// ExprLitBool
	Bool bool

	// ExprBinary / ExprUnary
	Op    string
	Left  *Expr
	Right *Expr // nil for ExprUnary

	// ExprFuncCall: name plus positional then named args
	FuncName string
	Args     []Expr
	Named    []Item

	// ExprTuple: a `{...}` literal
	TupleItems []Item

	// ExprArray: a `[{...}, {...}]` literal table
	ArrayRows [][]Item

	// ExprAssign: `name = expr`, used where an Item's bare form isn't
	// enough (e.g. inside a nested call argument)
	AssignName string
	AssignExpr *Expr

	// ExprCase: `case [cond => value, ...]`
	CaseArms []CaseArm

	// ExprSString / ExprFString: `s"..."` / `f"..."`, split into
	// literal-text and embedded-expression pieces
	Interp []InterpPart

	// ExprParam: `$name`
	ParamName string
}

func Ident(name string) Expr { return Expr{Kind: ExprIdent, Ident: name} }
