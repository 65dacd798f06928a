// Package rq implements the relational IR described in spec.md §3.4: a
// tree of Transforms operating on TableRefs, with a CId-keyed column
// arena. RQ is the output of the resolver (package resolver) and the
// input to SQL-relational lowering (package srq).
package rq

// CId is a column id: a key into the AnchorContext's column-declaration
// arena (package anchor), shared by every IR stage from here on.
type CId int

// TId is a table id: a key into the AnchorContext's table-declaration
// arena, naming either an external table or a CTE.
type TId int

// Query is the root of a resolved program: table declarations plus the
// main pipeline relation.
type Query struct {
	Def   *QueryDef
	Decls []TableDecl
	Main  Relation
}

// QueryDef carries optional query-level metadata (version, target) parsed
// from the source header; see spec.md §6.
type QueryDef struct {
	Version string
	Target  string
}

// TableDecl declares a table: either a CTE/materialized relation (Relation
// non-nil) or an external table referenced only by name.
type TableDecl struct {
	Id       TId
	Name     string
	Relation Relation
}

// RelationKind tags Relation's variant.
type RelationKind string

const (
	RelationPipeline       RelationKind = "pipeline"
	RelationLiteral        RelationKind = "literal"
	RelationSString        RelationKind = "s_string"
	RelationExternRef      RelationKind = "extern_ref"
	RelationBuiltInFunc    RelationKind = "built_in_function"
)

// Relation is the sum type of spec.md §3.4: a Pipeline of Transforms, a
// Literal table of rows, an SString escape hatch, a reference to an
// external table, or a call to a relation-returning built-in.
type Relation struct {
	Kind RelationKind

	Pipeline []Transform       // RelationPipeline
	Literal  [][]LiteralValue  // RelationLiteral: rows of scalar values
	SString  []InterpolateItem // RelationSString
	Extern   *TId              // RelationExternRef: points at a TableDecl
	FuncName string            // RelationBuiltInFunc
	FuncArgs []Expr            // RelationBuiltInFunc
}

// LiteralValue is a scalar literal used inside RelationLiteral rows.
type LiteralValue struct {
	Kind  LiteralKind
	Text  string // raw textual form, already dialect-neutral (e.g. "1", "'x'")
	Ident string // column name, when the literal row is a named tuple
}

// TransformKind tags Transform's variant, per spec.md §3.4.
type TransformKind string

const (
	TransformFrom      TransformKind = "from"
	TransformCompute   TransformKind = "compute"
	TransformSelect    TransformKind = "select"
	TransformFilter    TransformKind = "filter"
	TransformAggregate TransformKind = "aggregate"
	TransformSort      TransformKind = "sort"
	TransformTake      TransformKind = "take"
	TransformJoin      TransformKind = "join"
	TransformAppend    TransformKind = "append"
	TransformLoop      TransformKind = "loop"
)

// JoinSide distinguishes join kinds.
type JoinSide string

const (
	JoinInner JoinSide = "inner"
	JoinLeft  JoinSide = "left"
	JoinRight JoinSide = "right"
	JoinFull  JoinSide = "full"
)

// Range is an inclusive (both ends) numeric range used by Take; nil bounds
// mean "unbounded" on that side.
type Range struct {
	Start *int
	End   *int
}

// ColumnSort pairs a sort key with a direction; Desc=true means descending.
type ColumnSort[T any] struct {
	Column T
	Desc   bool
}

// Transform is the sum type of spec.md §3.4.
type Transform struct {
	Kind TransformKind

	From *TableRef // TransformFrom

	Compute *Compute // TransformCompute

	SelectCols []CId // TransformSelect

	FilterExpr *Expr // TransformFilter

	AggPartition []CId     // TransformAggregate
	AggCompute   []Compute // TransformAggregate

	SortBy []ColumnSort[CId] // TransformSort

	TakeRange     Range     // TransformTake
	TakePartition []CId     // TransformTake
	TakeSort      []ColumnSort[CId] // TransformTake

	JoinSide   JoinSide  // TransformJoin
	JoinWith   *TableRef // TransformJoin
	JoinFilter *Expr     // TransformJoin
	JoinUsing  []CId     // TransformJoin: non-nil when filter is `using [..]`

	Append *TableRef // TransformAppend

	LoopBody []Transform // TransformLoop
}

// WindowFrame bounds a windowed compute; Rows distinguishes ROWS from RANGE
// framing.
type WindowFrame struct {
	Rows       bool
	StartBound *int // nil means UNBOUNDED
	EndBound   *int // nil means UNBOUNDED
}

// Window is the partition/sort/frame spec attached to a windowed Compute,
// per spec.md §3.4/§4.2 "window promotion".
type Window struct {
	Partition []CId
	Sort      []ColumnSort[CId]
	Frame     *WindowFrame
}

// Compute binds a new CId to an expression. IsAggregation must be true
// exactly when Compute appears inside a Transform's AggCompute list (the
// aggregation invariant of spec.md §3.4).
type Compute struct {
	Id            CId
	Expr          Expr
	Window        *Window
	IsAggregation bool
}

// RelationColumnKind tags RelationColumn's variant.
type RelationColumnKind string

const (
	RelColSingle   RelationColumnKind = "single"
	RelColWildcard RelationColumnKind = "wildcard"
)

// RelationColumn names a column carried by a TableRef: either a single,
// optionally-named column, or a wildcard standing in for "all columns of
// this source, not individually known."
type RelationColumn struct {
	Kind RelationColumnKind
	Name *string // RelColSingle; nil means unnamed
}

// TableRef names a source table (by TId), an optional alias, and the
// ordered (RelationColumn, CId) pairs it contributes.
type TableRef struct {
	Source  TId
	Alias   *string
	Columns []TableRefColumn
}

// TableRefColumn pairs a RelationColumn with the CId it is bound to.
type TableRefColumn struct {
	Column RelationColumn
	Id     CId
}

// ExprKind tags Expr's variant, per spec.md §3.4.
type ExprKind string

const (
	ExprColumnRef      ExprKind = "column_ref"
	ExprLiteral        ExprKind = "literal"
	ExprSString        ExprKind = "s_string"
	ExprFString        ExprKind = "f_string"
	ExprCase           ExprKind = "case"
	ExprOperator       ExprKind = "operator"
	ExprParam          ExprKind = "param"
	ExprBuiltInFunc    ExprKind = "built_in_function"
)

// LiteralKind enumerates the scalar literal shapes Expr can hold.
type LiteralKind string

const (
	LiteralNull      LiteralKind = "null"
	LiteralBool      LiteralKind = "bool"
	LiteralInteger   LiteralKind = "integer"
	LiteralFloat     LiteralKind = "float"
	LiteralString    LiteralKind = "string"
	LiteralDate      LiteralKind = "date"
	LiteralTime      LiteralKind = "time"
	LiteralTimestamp LiteralKind = "timestamp"
	LiteralValueUnit LiteralKind = "value_and_unit" // interval literals
)

// InterpolateItemKind tags InterpolateItem's variant.
type InterpolateItemKind string

const (
	InterpolateString InterpolateItemKind = "string"
	InterpolateExpr   InterpolateItemKind = "expr"
)

// InterpolateItem is one piece of an SString/FString: either raw text or
// an embedded expression.
type InterpolateItem struct {
	Kind InterpolateItemKind
	Text string
	Expr *Expr
}

// CaseBranch is one `cond => value` arm of Expr's Case variant.
type CaseBranch struct {
	Cond  Expr
	Value Expr
}

// Expr is the sum type of spec.md §3.4.
type Expr struct {
	Kind ExprKind

	ColumnRef CId // ExprColumnRef

	LitKind     LiteralKind // ExprLiteral
	LitText     string      // ExprLiteral: raw textual form
	LitUnit     string      // ExprLiteral + LiteralValueUnit: interval unit name

	Interp []InterpolateItem // ExprSString / ExprFString

	CaseBranches []CaseBranch // ExprCase
	CaseDefault  *Expr        // ExprCase: nil means no ELSE

	OpName string // ExprOperator / ExprBuiltInFunc, e.g. "std.add", "std.eq"
	OpArgs []Expr // ExprOperator / ExprBuiltInFunc

	ParamName string // ExprParam
}

// ColumnRefs returns the CIds immediately referenced by leaf sub-nodes of
// e, without needing a full fold; used by components that only need a
// requirement set (e.g. anchor splitting's complexity checks).
func (e Expr) ColumnRefs() []CId {
	var out []CId

	var walk func(Expr)
	walk = func(x Expr) {
		switch x.Kind {
		case ExprColumnRef:
			out = append(out, x.ColumnRef)
		case ExprSString, ExprFString:
			for _, it := range x.Interp {
				if it.Kind == InterpolateExpr && it.Expr != nil {
					walk(*it.Expr)
				}
			}
		case ExprCase:
			for _, b := range x.CaseBranches {
				walk(b.Cond)
				walk(b.Value)
			}

			if x.CaseDefault != nil {
				walk(*x.CaseDefault)
			}
		case ExprOperator, ExprBuiltInFunc:
			for _, a := range x.OpArgs {
				walk(a)
			}
		}
	}

	walk(e)

	return out
}
