// Package srq implements the SQL-relational IR of spec.md §3.5 plus the
// three passes that produce and refine it: preprocess (§4.4, RQ -> SRQ
// normalization), atomic splitting/anchoring (§4.5), loop lowering (§4.6),
// and postprocess (§4.7, sort propagation + naming). This is the anchoring
// subsystem spec.md calls out as 14% of THE CORE, the single largest
// component.
package srq

import (
	"github.com/shibukawa/snapsql/internal/anchor"
	"github.com/shibukawa/snapsql/internal/rq"
)

// SqlQuery is the root SRQ node: CTEs plus the main relation.
type SqlQuery struct {
	Ctes []Cte
	Main SqlRelation
}

// SqlRelationKind tags SqlRelation's variant.
type SqlRelationKind string

const (
	SqlRelAtomicPipeline SqlRelationKind = "atomic_pipeline"
	SqlRelLiteral        SqlRelationKind = "literal"
	SqlRelSString        SqlRelationKind = "s_string"
	SqlRelOperator       SqlRelationKind = "operator"
)

// SqlRelation is the sum type of spec.md §3.5.
type SqlRelation struct {
	Kind SqlRelationKind

	Pipeline []SqlTransform // SqlRelAtomicPipeline

	Literal [][]rq.LiteralValue // SqlRelLiteral

	SString []rq.InterpolateItem // SqlRelSString

	OpName string    // SqlRelOperator
	OpArgs []rq.Expr // SqlRelOperator
}

// SqlTransformKind tags SqlTransform's variant: every RQ transform kind
// (wrapped via Super) plus the SQL-native set-operation/dedup forms.
type SqlTransformKind string

const (
	STSuper      SqlTransformKind = "super"
	STDistinct   SqlTransformKind = "distinct"
	STDistinctOn SqlTransformKind = "distinct_on"
	STUnion      SqlTransformKind = "union"
	STExcept     SqlTransformKind = "except"
	STIntersect  SqlTransformKind = "intersect"
)

// SetOp carries the operand and ALL/DISTINCT flag shared by Union, Except,
// and Intersect.
type SetOp struct {
	Bottom   rq.TableRef
	Distinct bool
}

// SqlTransform extends rq.Transform with SQL-native operations, per
// spec.md §3.5.
type SqlTransform struct {
	Kind SqlTransformKind

	Super rq.Transform // STSuper

	DistinctOnCols []rq.CId // STDistinctOn

	Union     *SetOp // STUnion
	Except    *SetOp // STExcept
	Intersect *SetOp // STIntersect
}

// AsSuper returns the wrapped rq.Transform and true iff Kind is STSuper.
func (t SqlTransform) AsSuper() (rq.Transform, bool) {
	if t.Kind == STSuper {
		return t.Super, true
	}

	return rq.Transform{}, false
}

// CteKindTag tags CteKind's variant.
type CteKindTag string

const (
	CteNormal CteKindTag = "normal"
	CteLoop   CteKindTag = "loop"
)

// CteKind is a CTE's body: either a normal relation or a recursive loop
// (initial UNION ALL step), per spec.md §3.5/§4.6.
type CteKind struct {
	Tag CteKindTag

	Normal *SqlRelation // CteNormal

	Initial       *SqlRelation // CteLoop
	Step          *SqlRelation // CteLoop
	RecursiveName string       // CteLoop
}

// Cte is one Common Table Expression: a table id plus its body.
type Cte struct {
	Id   rq.TId
	Kind CteKind
}

// RelationExprKind tags RelationExpr's variant.
type RelationExprKind string

const (
	RelExprRef      RelationExprKind = "ref"
	RelExprSubQuery RelationExprKind = "subquery"
)

// RelationExpr is how SQL generation refers to a relation inside FROM/JOIN:
// either a named reference to a CTE, or an inlined sub-query. It carries a
// RIId addressing the originating anchor.RelationInstance.
type RelationExpr struct {
	Kind RelationExprKind

	RefTId  rq.TId // RelExprRef
	Alias   *string

	SubQuery *SqlRelation // RelExprSubQuery

	RIId anchor.RIId
}
