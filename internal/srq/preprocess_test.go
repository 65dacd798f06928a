package srq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/shibukawa/snapsql/internal/dialect"
	"github.com/shibukawa/snapsql/internal/rq"
)

func intp(v int) *int { return &v }

func TestNormalizeNullsSwapsOperands(t *testing.T) {
	nullExpr := rq.Expr{Kind: rq.ExprLiteral, LitKind: rq.LiteralNull}
	colExpr := rq.Expr{Kind: rq.ExprColumnRef, ColumnRef: 1}

	filter := rq.Expr{Kind: rq.ExprOperator, OpName: "std.eq", OpArgs: []rq.Expr{nullExpr, colExpr}}
	pipeline := []rq.Transform{{Kind: rq.TransformFilter, FilterExpr: &filter}}

	out, err := Preprocess(pipeline, dialect.For(dialect.Generic))
	assert.NoError(t, err)

	super, ok := out[0].AsSuper()
	assert.True(t, ok)
	assert.Equal(t, rq.ExprColumnRef, super.FilterExpr.OpArgs[0].Kind)
	assert.Equal(t, rq.LiteralNull, super.FilterExpr.OpArgs[1].LitKind)
}

func TestRewriteDistinctForTakeOneMatchingOutput(t *testing.T) {
	pipeline := []rq.Transform{
		{Kind: rq.TransformFrom, From: &rq.TableRef{Columns: []rq.TableRefColumn{{Id: 1, Column: rq.RelationColumn{Kind: rq.RelColSingle}}}}},
		{Kind: rq.TransformSelect, SelectCols: []rq.CId{1}},
		{Kind: rq.TransformTake, TakeRange: rq.Range{Start: intp(1), End: intp(1)}, TakePartition: []rq.CId{1}},
	}

	out, err := Preprocess(pipeline, dialect.For(dialect.Generic))
	assert.NoError(t, err)

	found := false

	for _, t := range out {
		if t.Kind == STDistinct {
			found = true
		}
	}

	assert.True(t, found)
}

func TestComplexityOrdering(t *testing.T) {
	plain := rq.Compute{Expr: rq.Expr{Kind: rq.ExprColumnRef, ColumnRef: 1}}
	assert.Equal(t, ComplexityPlain, ComplexityOf(plain))

	agg := rq.Compute{IsAggregation: true}
	assert.Equal(t, ComplexityAggregation, ComplexityOf(agg))

	windowed := rq.Compute{Window: &rq.Window{}}
	assert.Equal(t, ComplexityWindowed, ComplexityOf(windowed))

	caseExpr := rq.Compute{Expr: rq.Expr{Kind: rq.ExprCase}}
	assert.Equal(t, ComplexityNonGroup, ComplexityOf(caseExpr))
}

func TestReorderHoistsPlainComputeBeforeSort(t *testing.T) {
	compute := rq.Compute{Id: 5, Expr: rq.Expr{Kind: rq.ExprColumnRef, ColumnRef: 1}}
	pipeline := []SqlTransform{
		{Kind: STSuper, Super: rq.Transform{Kind: rq.TransformSort, SortBy: []rq.ColumnSort[rq.CId]{{Column: 5}}}},
		{Kind: STSuper, Super: rq.Transform{Kind: rq.TransformCompute, Compute: &compute}},
	}

	out := reorder(pipeline)

	firstSuper, _ := out[0].AsSuper()
	assert.Equal(t, rq.TransformCompute, firstSuper.Kind)
}
