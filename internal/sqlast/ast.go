// Package sqlast implements the SQL AST of spec.md §4.8: the concrete
// syntax tree SRQ is translated into, with some dialect-specific rewrites
// (DISTINCT ON vs ROW_NUMBER, date-literal forms) applied during
// translation, and a printer that renders the tree to text and applies
// the rest (identifier quoting, column-exclude spelling, FETCH FIRST).
package sqlast

// Query is a complete SQL statement: optional CTEs plus one body SELECT
// (or set-operation tree).
type Query struct {
	Recursive bool
	Ctes      []NamedCte
	Body      Relation
}

// NamedCte is one WITH-clause entry.
type NamedCte struct {
	Name string
	Body Relation
}

// RelationKind tags Relation's variant: either a single SELECT or a
// set-operation combining two relations.
type RelationKind string

const (
	RelSelect    RelationKind = "select"
	RelSetOp     RelationKind = "set_op"
	RelRaw       RelationKind = "raw" // s-string / literal-table fallbacks
)

// SetOpKind tags which set operation combines Left and Right.
type SetOpKind string

const (
	SetOpUnion     SetOpKind = "UNION"
	SetOpExcept    SetOpKind = "EXCEPT"
	SetOpIntersect SetOpKind = "INTERSECT"
)

// Relation is either a Select or a set-operation combining two relations.
type Relation struct {
	Kind RelationKind

	Select *Select // RelSelect

	SetOp    SetOpKind // RelSetOp
	Distinct bool      // RelSetOp: ALL when false... see Select.Distinct convention below
	Left     *Relation // RelSetOp
	Right    *Relation // RelSetOp

	Raw string // RelRaw
}

// Select is one `SELECT ... FROM ... WHERE ...` statement.
type Select struct {
	Distinct       bool
	DistinctOnCols []Expr

	Projection []SelectItem

	From  *TableExpr
	Joins []Join

	Where   Expr // nil-kind Expr means absent
	GroupBy []Expr
	Having  Expr

	OrderBy []OrderItem

	Limit  Expr
	Offset Expr
	Top    Expr // MsSql TOP (n)
}

// SelectItem is one projected column, optionally aliased.
type SelectItem struct {
	Expr  Expr
	Alias string // empty means no AS
}

// OrderItem is one ORDER BY entry.
type OrderItem struct {
	Expr Expr
	Desc bool
}

// TableExprKind tags TableExpr's variant.
type TableExprKind string

const (
	TableName TableExprKind = "name"
	TableSub  TableExprKind = "subquery"
)

// TableExpr is a FROM/JOIN operand: a named table/CTE reference, or an
// inlined sub-query, both optionally aliased.
type TableExpr struct {
	Kind TableExprKind

	Name   string // TableName: possibly dotted (schema.table)
	Sub    *Relation
	Alias  string
}

// JoinKind enumerates SQL join kinds.
type JoinKind string

const (
	JoinInner JoinKind = "INNER JOIN"
	JoinLeft  JoinKind = "LEFT JOIN"
	JoinRight JoinKind = "RIGHT JOIN"
	JoinFull  JoinKind = "FULL JOIN"
)

// Join is one JOIN clause; exactly one of On/Using is populated.
type Join struct {
	Kind  JoinKind
	Table TableExpr
	On    Expr
	Using []string
}

// ExprKind tags Expr's variant.
type ExprKind string

const (
	EIdent    ExprKind = "ident"    // possibly-qualified column/table reference
	ELiteral  ExprKind = "literal"  // pre-rendered literal text
	EBinary   ExprKind = "binary"
	EUnary    ExprKind = "unary"
	ECall     ExprKind = "call"     // function call, incl. OVER(...)
	ECase     ExprKind = "case"
	ERaw      ExprKind = "raw"      // s-string fragment, emitted verbatim
	EParam    ExprKind = "param"
	ENone     ExprKind = ""         // absent (e.g. Select.Where with no filter)
)

// Expr is the SQL expression tree.
type Expr struct {
	Kind ExprKind

	IdentParts []string // EIdent
	Wildcard   bool      // EIdent: last part is "*"
	ExcludeOn  []string  // EIdent wildcard exclusion list (dialect-dependent spelling applied at print time)

	Literal string // ELiteral: pre-rendered (e.g. "'x'", "42", "DATE '2024-01-01'")

	Op    string // EBinary/EUnary: operator name (e.g. "+", "AND", "-", "NOT")
	Left  *Expr  // EBinary
	Right *Expr  // EBinary / EUnary operand

	FuncName string // ECall
	Args     []Expr // ECall
	Over     *OverSpec // ECall: non-nil for windowed calls
	Distinct bool      // ECall: e.g. COUNT(DISTINCT x)

	CaseWhens []CaseWhen // ECase
	CaseElse  *Expr      // ECase

	Raw string // ERaw

	ParamName string // EParam
}

// OverSpec is a window function's OVER(...) clause.
type OverSpec struct {
	PartitionBy []Expr
	OrderBy     []OrderItem
	Frame       *Frame
}

// Frame is a window frame clause.
type Frame struct {
	Rows  bool // true: ROWS, false: RANGE
	Start string
	End   string
}

// CaseWhen is one WHEN/THEN arm.
type CaseWhen struct {
	Cond  Expr
	Value Expr
}

// Ident builds a simple EIdent expression from parts.
func Ident(parts ...string) Expr { return Expr{Kind: EIdent, IdentParts: parts} }

// Lit builds a pre-rendered literal expression.
func Lit(text string) Expr { return Expr{Kind: ELiteral, Literal: text} }

// IsAbsent reports whether e represents "no expression" (used for
// optional Where/Having/Limit/Offset).
func (e Expr) IsAbsent() bool { return e.Kind == ENone }
