package ast

import (
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestParseBasicFilterAggregate(t *testing.T) {
	src := `
from employees
filter country == "USA"
group {title, country} (aggregate {average salary})
sort title
take 20
`
	q, err := Parse(src)
	assert.NoError(t, err)
	assert.Equal(t, 5, len(q.Pipeline))

	from, ok := q.Pipeline[0].(From)
	assert.True(t, ok)
	assert.Equal(t, "employees", from.Table)

	filter, ok := q.Pipeline[1].(Filter)
	assert.True(t, ok)
	assert.Equal(t, ExprBinary, filter.Cond.Kind)
	assert.Equal(t, "==", filter.Cond.Op)

	group, ok := q.Pipeline[2].(Group)
	assert.True(t, ok)
	assert.Equal(t, 2, len(group.Keys))
	assert.Equal(t, 1, len(group.Inner))

	agg, ok := group.Inner[0].(Aggregate)
	assert.True(t, ok)
	assert.Equal(t, 1, len(agg.Items))
	assert.Equal(t, ExprFuncCall, agg.Items[0].Expr.Kind)
	assert.Equal(t, "average", agg.Items[0].Expr.FuncName)

	take, ok := q.Pipeline[4].(Take)
	assert.True(t, ok)
	assert.Equal(t, 20, *take.Range.End)
}

func TestParseDistinctViaTakeOne(t *testing.T) {
	src := `from employees | select first_name | group first_name (take 1)`

	q, err := Parse(src)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(q.Pipeline))

	group, ok := q.Pipeline[2].(Group)
	assert.True(t, ok)
	assert.Equal(t, 1, len(group.Keys))
	assert.Equal(t, "first_name", group.Keys[0].Ident)
}

func TestParseRemoveAntiJoin(t *testing.T) {
	src := `from album | select {artist_id, title} | remove (from artist | select artist_id)`

	q, err := Parse(src)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(q.Pipeline))

	remove, ok := q.Pipeline[2].(Remove)
	assert.True(t, ok)
	assert.Equal(t, 2, len(remove.Inner))
}

func TestParseLoop(t *testing.T) {
	src := `from [{n=1}] | select n = n-2 | loop (select n = n+1 | filter n<5) | select n = n*2 | take 4`

	q, err := Parse(src)
	assert.NoError(t, err)
	assert.Equal(t, 5, len(q.Pipeline))

	from, ok := q.Pipeline[0].(From)
	assert.True(t, ok)
	assert.Equal(t, 1, len(from.Literal))
	assert.Equal(t, "n", from.Literal[0][0].Name)

	loop, ok := q.Pipeline[2].(Loop)
	assert.True(t, ok)
	assert.Equal(t, 2, len(loop.Inner))
}

func TestParseDistinctOnGroupSortTake(t *testing.T) {
	src := `from employees | group department (sort age | take 1)`

	q, err := Parse(src)
	assert.NoError(t, err)

	group, ok := q.Pipeline[1].(Group)
	assert.True(t, ok)
	assert.Equal(t, 2, len(group.Inner))

	_, ok = group.Inner[0].(Sort)
	assert.True(t, ok)
}

func TestParseQueryHeader(t *testing.T) {
	src := "prql target:sql.postgres version:\"0.1\"\nfrom employees\n"

	q, err := Parse(src)
	assert.NoError(t, err)
	assert.Equal(t, "sql.postgres", q.Target)
	assert.Equal(t, "0.1", q.Version)
	assert.Equal(t, 1, len(q.Pipeline))
}
