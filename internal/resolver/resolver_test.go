package resolver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shibukawa/snapsql/internal/anchor"
	"github.com/shibukawa/snapsql/internal/ast"
	"github.com/shibukawa/snapsql/internal/decl"
	"github.com/shibukawa/snapsql/internal/diagnostic"
	"github.com/shibukawa/snapsql/internal/rq"
)

func parseAndResolve(t *testing.T, src string) (*rq.Query, *anchor.Context) {
	t.Helper()

	q, err := ast.Parse(src)
	require.NoError(t, err)

	ctx := anchor.New()
	rqq, err := Resolve(ctx, q)
	require.NoError(t, err)

	return rqq, ctx
}

func TestResolveBasicFilterAggregate(t *testing.T) {
	src := `
from employees
filter country == "USA"
group {title, country} (aggregate {average salary})
sort title
take 20
`
	rqq, ctx := parseAndResolve(t, src)

	pipeline := rqq.Main.Pipeline
	require.Len(t, pipeline, 5)

	assert.Equal(t, rq.TransformFrom, pipeline[0].Kind)
	assert.Equal(t, rq.TransformFilter, pipeline[1].Kind)
	require.NotNil(t, pipeline[1].FilterExpr)
	assert.Equal(t, "std.eq", pipeline[1].FilterExpr.OpName)

	agg := pipeline[2]
	assert.Equal(t, rq.TransformAggregate, agg.Kind)
	assert.Len(t, agg.AggPartition, 2)
	require.Len(t, agg.AggCompute, 1)
	assert.True(t, agg.AggCompute[0].IsAggregation)
	assert.Equal(t, "std.average", agg.AggCompute[0].Expr.OpName)

	name, ok := ctx.EnsureColumnName(agg.AggCompute[0].Id)
	assert.True(t, ok)
	assert.Equal(t, "average_salary", name)

	assert.Equal(t, rq.TransformSort, pipeline[3].Kind)
	assert.Len(t, pipeline[3].SortBy, 1)

	assert.Equal(t, rq.TransformTake, pipeline[4].Kind)
	require.NotNil(t, pipeline[4].TakeRange.End)
	assert.Equal(t, 20, *pipeline[4].TakeRange.End)
}

func TestResolveDistinctViaTakeOne(t *testing.T) {
	src := `from employees | select first_name | group first_name (take 1)`

	rqq, _ := parseAndResolve(t, src)

	pipeline := rqq.Main.Pipeline
	require.Len(t, pipeline, 3)

	take := pipeline[2]
	assert.Equal(t, rq.TransformTake, take.Kind)
	require.Len(t, take.TakePartition, 1)
	require.NotNil(t, take.TakeRange.End)
	assert.Equal(t, 1, *take.TakeRange.End)

	sel := pipeline[1]
	assert.Equal(t, rq.TransformSelect, sel.Kind)
	require.Len(t, sel.SelectCols, 1)
	assert.Equal(t, sel.SelectCols[0], take.TakePartition[0])
}

func TestResolveDistinctOnGroupSortTake(t *testing.T) {
	src := `from employees | group department (sort age | take 1)`

	rqq, _ := parseAndResolve(t, src)

	pipeline := rqq.Main.Pipeline
	require.Len(t, pipeline, 2)

	take := pipeline[1]
	assert.Equal(t, rq.TransformTake, take.Kind)
	require.Len(t, take.TakePartition, 1)
	require.Len(t, take.TakeSort, 1)
	require.NotNil(t, take.TakeRange.End)
	assert.Equal(t, 1, *take.TakeRange.End)

	// No trailing Select: DetermineSelectColumns should fall back to the
	// From's full column set (the implicit SELECT *).
	out := anchor.DetermineSelectColumns(pipeline)
	assert.NotEmpty(t, out)
}

func TestResolveRemoveAntiJoin(t *testing.T) {
	src := `from album | select {artist_id, title} | remove (from artist | select artist_id)`

	rqq, _ := parseAndResolve(t, src)

	pipeline := rqq.Main.Pipeline
	require.Len(t, pipeline, 4)

	join := pipeline[2]
	assert.Equal(t, rq.TransformJoin, join.Kind)
	assert.Equal(t, rq.JoinLeft, join.JoinSide)
	require.NotNil(t, join.JoinFilter)
	assert.Equal(t, "std.eq", join.JoinFilter.OpName)

	filter := pipeline[3]
	assert.Equal(t, rq.TransformFilter, filter.Kind)
	require.NotNil(t, filter.FilterExpr)
	assert.Equal(t, "std.eq", filter.FilterExpr.OpName)
	assert.Equal(t, rq.ExprLiteral, filter.FilterExpr.OpArgs[1].Kind)
	assert.Equal(t, rq.LiteralNull, filter.FilterExpr.OpArgs[1].LitKind)

	// The inner pipeline is recorded as a materialized sub-relation, not
	// inlined directly into the outer pipeline (album, artist, plus the
	// wrapping pipeline relation itself: three decls in all).
	require.Len(t, rqq.Decls, 3)
	var sawInnerPipeline bool
	for _, d := range rqq.Decls {
		if d.Relation.Kind == rq.RelationPipeline {
			sawInnerPipeline = true
			assert.Len(t, d.Relation.Pipeline, 2)
		}
	}
	assert.True(t, sawInnerPipeline)
}

func TestResolveLoop(t *testing.T) {
	src := `from [{n=1}] | select n = n-2 | loop (select n = n+1 | filter n<5) | select n = n*2 | take 4`

	rqq, _ := parseAndResolve(t, src)

	pipeline := rqq.Main.Pipeline
	// from; (compute, select) for `n=n-2`; loop; (compute, select) for
	// `n=n*2`; take.
	require.Len(t, pipeline, 7)

	from := pipeline[0]
	assert.Equal(t, rq.TransformFrom, from.Kind)
	require.NotNil(t, from.From)
	require.Len(t, from.From.Columns, 1)

	require.Len(t, rqq.Decls, 1)
	assert.Equal(t, rq.RelationLiteral, rqq.Decls[0].Relation.Kind)
	require.Len(t, rqq.Decls[0].Relation.Literal, 1)
	assert.Equal(t, "1", rqq.Decls[0].Relation.Literal[0][0].Text)

	assert.Equal(t, rq.TransformCompute, pipeline[1].Kind)
	assert.Equal(t, rq.TransformSelect, pipeline[2].Kind)

	loop := pipeline[3]
	assert.Equal(t, rq.TransformLoop, loop.Kind)
	require.Len(t, loop.LoopBody, 3)
	assert.Equal(t, rq.TransformCompute, loop.LoopBody[0].Kind)
	assert.Equal(t, rq.TransformSelect, loop.LoopBody[1].Kind)
	assert.Equal(t, rq.TransformFilter, loop.LoopBody[2].Kind)

	assert.Equal(t, rq.TransformCompute, pipeline[4].Kind)
	assert.Equal(t, rq.TransformSelect, pipeline[5].Kind)
	assert.Equal(t, rq.TransformTake, pipeline[6].Kind)
}

func TestResolveQueryHeader(t *testing.T) {
	src := "prql target:sql.postgres version:\"0.1\"\nfrom employees\n"

	rqq, _ := parseAndResolve(t, src)

	require.NotNil(t, rqq.Def)
	assert.Equal(t, "sql.postgres", rqq.Def.Target)
	assert.Equal(t, "0.1", rqq.Def.Version)
}

func TestResolveUnknownColumnOnLiteralTableErrors(t *testing.T) {
	src := `from [{n=1}] | select missing`

	q, err := ast.Parse(src)
	require.NoError(t, err)

	_, err = Resolve(anchor.New(), q)
	assert.Error(t, err)
}

func TestResolveLetFunctionDeclaration(t *testing.T) {
	// The second positional argument is a bare column name with nothing
	// following it: parseIdentOrCall greedily tries to read a trailing
	// argument list for any identifier argument, so a column name can
	// only appear last among positional args here, not before a literal.
	src := `
let add_tax = func rate amount -> amount * rate + amount
from orders
derive total = add_tax 0.08 price
`
	rqq, _ := parseAndResolve(t, src)

	pipeline := rqq.Main.Pipeline
	require.Len(t, pipeline, 2)

	compute := pipeline[1]
	require.Equal(t, rq.TransformCompute, compute.Kind)
	require.NotNil(t, compute.Compute)

	expr := compute.Compute.Expr
	assert.Equal(t, rq.ExprOperator, expr.Kind)
	assert.Equal(t, "std.add", expr.OpName)
	require.Len(t, expr.OpArgs, 2)

	mul := expr.OpArgs[0]
	assert.Equal(t, "std.mul", mul.OpName)
	assert.Equal(t, rq.ExprColumnRef, mul.OpArgs[0].Kind)
	assert.Equal(t, rq.ExprLiteral, mul.OpArgs[1].Kind)
	assert.Equal(t, "0.08", mul.OpArgs[1].LitText)
}

func TestResolveCurriedPartialApplication(t *testing.T) {
	src := `
let plus = func a b -> a + b
let add1 = plus 1
from orders
derive total = add1 5
`
	rqq, _ := parseAndResolve(t, src)

	pipeline := rqq.Main.Pipeline
	require.Len(t, pipeline, 2)

	compute := pipeline[1]
	require.NotNil(t, compute.Compute)

	expr := compute.Compute.Expr
	assert.Equal(t, "std.add", expr.OpName)
	require.Len(t, expr.OpArgs, 2)
	assert.Equal(t, rq.ExprLiteral, expr.OpArgs[0].Kind)
	assert.Equal(t, "1", expr.OpArgs[0].LitText)
	assert.Equal(t, rq.ExprLiteral, expr.OpArgs[1].Kind)
	assert.Equal(t, "5", expr.OpArgs[1].LitText)
}

func TestResolveWindowPromotesRowNumber(t *testing.T) {
	src := `from employees | window department (sort salary | derive rnk = row_number)`

	rqq, _ := parseAndResolve(t, src)

	pipeline := rqq.Main.Pipeline
	require.Len(t, pipeline, 2)

	compute := pipeline[1]
	require.Equal(t, rq.TransformCompute, compute.Kind)
	require.NotNil(t, compute.Compute)
	require.NotNil(t, compute.Compute.Window)
	assert.Len(t, compute.Compute.Window.Partition, 1)
	assert.Len(t, compute.Compute.Window.Sort, 1)
	assert.Equal(t, "std.row_number", compute.Compute.Expr.OpName)
}

func TestResolveCaseExpressionDefaultBranch(t *testing.T) {
	src := `
from employees
derive bucket = case [salary > 100000 => "high", salary > 50000 => "mid", true => "low"]
`
	rqq, _ := parseAndResolve(t, src)

	pipeline := rqq.Main.Pipeline
	require.Len(t, pipeline, 2)

	compute := pipeline[1]
	require.NotNil(t, compute.Compute)

	expr := compute.Compute.Expr
	assert.Equal(t, rq.ExprCase, expr.Kind)
	require.Len(t, expr.CaseBranches, 2)
	require.NotNil(t, expr.CaseDefault)
	assert.Equal(t, rq.ExprLiteral, expr.CaseDefault.Kind)
	assert.Equal(t, "low", expr.CaseDefault.LitText)
}

func TestResolveFStringInterpolation(t *testing.T) {
	src := `from employees | derive tag = f"emp-{id}"`

	rqq, _ := parseAndResolve(t, src)

	pipeline := rqq.Main.Pipeline
	require.Len(t, pipeline, 2)

	compute := pipeline[1]
	require.NotNil(t, compute.Compute)

	expr := compute.Compute.Expr
	assert.Equal(t, rq.ExprFString, expr.Kind)
	require.Len(t, expr.Interp, 2)
	assert.Equal(t, rq.InterpolateString, expr.Interp[0].Kind)
	assert.Equal(t, "emp-", expr.Interp[0].Text)
	assert.Equal(t, rq.InterpolateExpr, expr.Interp[1].Kind)
	require.NotNil(t, expr.Interp[1].Expr)
	assert.Equal(t, rq.ExprColumnRef, expr.Interp[1].Expr.Kind)
}

func TestResolveParamReference(t *testing.T) {
	src := `from employees | filter department == $dept`

	rqq, _ := parseAndResolve(t, src)

	pipeline := rqq.Main.Pipeline
	require.Len(t, pipeline, 2)

	filter := pipeline[1]
	require.NotNil(t, filter.FilterExpr)
	require.Len(t, filter.FilterExpr.OpArgs, 2)
	assert.Equal(t, rq.ExprParam, filter.FilterExpr.OpArgs[1].Kind)
	assert.Equal(t, "dept", filter.FilterExpr.OpArgs[1].ParamName)
}

func TestResolveTableSString(t *testing.T) {
	src := `from s"SELECT * FROM legacy_employees"`

	rqq, _ := parseAndResolve(t, src)

	require.Len(t, rqq.Decls, 1)
	assert.Equal(t, rq.RelationSString, rqq.Decls[0].Relation.Kind)
	require.Len(t, rqq.Decls[0].Relation.SString, 1)
	assert.Equal(t, "SELECT * FROM legacy_employees", rqq.Decls[0].Relation.SString[0].Text)
}

func TestResolveTableSStringMustSelectErrors(t *testing.T) {
	src := `from s"UPDATE employees SET salary = 0"`

	q, err := ast.Parse(src)
	require.NoError(t, err)

	_, err = Resolve(anchor.New(), q)
	require.Error(t, err)
	assert.True(t, errors.Is(err, diagnostic.ErrSStringMustSelect))
}

func TestResolveWrongArityErrors(t *testing.T) {
	// Two literal args, not identifiers, so parseIdentOrCall's
	// greedy nested-call reading doesn't swallow the second one into
	// the first's own call and mask the arity error.
	src := `from employees | aggregate {average 1 2}`

	q, err := ast.Parse(src)
	require.NoError(t, err)

	_, err = Resolve(anchor.New(), q)
	require.Error(t, err)
	assert.True(t, errors.Is(err, diagnostic.ErrWrongArity))
}

func TestResolveLiteralTableTypeMismatchErrors(t *testing.T) {
	src := `from [{n=1}, {n="x"}]`

	q, err := ast.Parse(src)
	require.NoError(t, err)

	_, err = Resolve(anchor.New(), q)
	require.Error(t, err)
	assert.True(t, errors.Is(err, diagnostic.ErrTypeMismatch))
}

func TestResolveInvalidTakeRangeErrors(t *testing.T) {
	src := `from employees | take 0`

	q, err := ast.Parse(src)
	require.NoError(t, err)

	_, err = Resolve(anchor.New(), q)
	require.Error(t, err)
	assert.True(t, errors.Is(err, diagnostic.ErrInvalidTakeRange))
}

func TestCheckArityRejectsUnknownNamedArg(t *testing.T) {
	params := []decl.Param{{Name: "a"}, {Name: "b"}}
	named := []ast.Item{{Name: "c", Expr: ast.Expr{Kind: ast.ExprLitInt, Int: 1}}}

	err := checkArity("f", params, 1, named)
	require.Error(t, err)
	assert.True(t, errors.Is(err, diagnostic.ErrUnexpectedNamedArg))
}
