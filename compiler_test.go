package snapsql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// canonicalize collapses all whitespace runs to a single space and trims
// the ends, for the "whitespace canonicalized" comparison spec.md §8
// calls for.
func canonicalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func compileGeneric(t *testing.T, source string) string {
	t.Helper()

	sql, err := Compile(source, DefaultOptions())
	require.NoError(t, err)

	return canonicalize(sql)
}

func TestCompile_FilterAndAggregate(t *testing.T) {
	source := `
from employees
filter country == "USA"
group {title, country} (aggregate {average salary})
sort title
take 20
`
	got := compileGeneric(t, source)
	want := canonicalize(`SELECT title, country, AVG(salary) FROM employees
		WHERE country = 'USA' GROUP BY title, country ORDER BY title LIMIT 20`)

	assert.Equal(t, want, got)
}

func TestCompile_DistinctViaTakeOnePartition(t *testing.T) {
	source := `from employees | select first_name | group first_name (take 1)`

	got := compileGeneric(t, source)
	want := canonicalize(`SELECT DISTINCT first_name FROM employees`)

	assert.Equal(t, want, got)
}

func TestCompile_RowNumberFallback(t *testing.T) {
	source := `from employees | group department (take 3)`

	got := compileGeneric(t, source)

	assert.Contains(t, got, "ROW_NUMBER() OVER (PARTITION BY department)")
	assert.Contains(t, got, "<= 3")
}

func TestCompile_ExceptViaAntiJoin(t *testing.T) {
	source := `from album | select {artist_id, title} | remove (from artist | select artist_id)`

	got := compileGeneric(t, source)

	assert.Contains(t, got, "LEFT JOIN")
	assert.Contains(t, got, "IS NULL")
}

func TestCompile_LoopRecursiveCte(t *testing.T) {
	source := `from [{n=1}] | select n = n-2 | loop (select n = n+1 | filter n<5) | select n = n*2 | take 4`

	got := compileGeneric(t, source)

	assert.Contains(t, got, "WITH RECURSIVE")
	assert.Contains(t, got, "UNION ALL")
	assert.Contains(t, got, "LIMIT 4")
}

func TestCompile_DialectSpecificDistinctOn(t *testing.T) {
	source := `from employees | group department (sort age | take 1)`

	sql, err := Compile(source, Options{Target: "sql.postgres"})
	require.NoError(t, err)

	got := canonicalize(sql)

	assert.Contains(t, got, "DISTINCT ON (department)")
	assert.Contains(t, got, "ORDER BY department, age")
}

func TestCompile_Determinism(t *testing.T) {
	source := `from employees | filter country == "USA" | select {name, country}`

	first, err := Compile(source, DefaultOptions())
	require.NoError(t, err)

	second, err := Compile(source, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCompile_SignatureCommentStrippedIsDeterministic(t *testing.T) {
	source := `from employees | select name`

	opts := DefaultOptions()
	opts.SignatureComment = true

	first, err := Compile(source, opts)
	require.NoError(t, err)

	second, err := Compile(source, opts)
	require.NoError(t, err)

	strip := func(s string) string {
		i := strings.Index(s, "-- Generated by")
		if i == -1 {
			return s
		}

		return s[:i]
	}

	assert.Equal(t, strip(first), strip(second))
}

func TestCompile_UnknownHeaderFieldIsWrapped(t *testing.T) {
	source := "prql bogus_field:1\nfrom employees"

	_, err := Compile(source, DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownHeaderField)
}

func TestCompile_IncompatibleVersionIsWrapped(t *testing.T) {
	source := "prql version:\"9.0\"\nfrom employees"

	_, err := Compile(source, DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}
