// Package stdlib implements spec.md §1.5/§9's standard library: the
// built-in `std` module, embedded at build time and registered once into
// a module.Module, plus the per-dialect operator-implementation lookup
// of §4.8. Grounded on
// _examples/original_source/prql-compiler/src/sql/operators.rs's
// find_operator_impl/load_std_sql: a dialect-specific override table
// consulted first, falling back to a generic spelling.
package stdlib

import (
	_ "embed"
	"strings"
	"sync"

	"github.com/shibukawa/snapsql/internal/decl"
	"github.com/shibukawa/snapsql/internal/dialect"
	"github.com/shibukawa/snapsql/internal/module"
)

//go:embed std.prql
var source string

// Source returns the embedded std.prql manifest text.
func Source() string { return source }

// functionNames lists every function std.prql declares. Kept as a Go
// table (rather than re-parsing std.prql at runtime) because the
// signatures needed here — name and arity — are exactly what gen.go and
// the resolver need, and a full recursive-descent parse of the manifest
// buys nothing beyond what this table already states directly.
var functionNames = []struct {
	name   string
	params []string
}{
	{"add", []string{"a", "b"}}, {"sub", []string{"a", "b"}}, {"mul", []string{"a", "b"}},
	{"div", []string{"a", "b"}}, {"mod", []string{"a", "b"}},
	{"eq", []string{"a", "b"}}, {"ne", []string{"a", "b"}},
	{"lt", []string{"a", "b"}}, {"lte", []string{"a", "b"}}, {"gt", []string{"a", "b"}}, {"gte", []string{"a", "b"}},
	{"and", []string{"a", "b"}}, {"or", []string{"a", "b"}}, {"not", []string{"a"}}, {"neg", []string{"a"}},
	{"concat", []string{"a", "b"}}, {"like", []string{"a", "pattern"}}, {"ilike", []string{"a", "pattern"}},
	{"count", []string{"column"}}, {"sum", []string{"column"}}, {"average", []string{"column"}},
	{"stddev", []string{"column"}}, {"min", []string{"column"}}, {"max", []string{"column"}},
	{"row_number", nil}, {"rank", nil}, {"dense_rank", nil},
	{"lag", []string{"column", "offset"}}, {"lead", []string{"column", "offset"}},
	{"round", []string{"value", "precision"}}, {"floor", []string{"value"}}, {"ceil", []string{"value"}},
	{"abs", []string{"value"}}, {"lower", []string{"value"}}, {"upper", []string{"value"}},
	{"length", []string{"value"}}, {"trim", []string{"value"}}, {"coalesce", []string{"a", "b"}}, {"now", nil},
}

var (
	once  sync.Once
	arena *decl.Arena
	mod   *module.Module
)

// Load registers every std function into a fresh arena/module pair,
// exactly once per process, and returns that pair on every call
// (process-wide, read-only thereafter, per spec.md §5).
func Load() (*decl.Arena, *module.Module) {
	once.Do(func() {
		arena = decl.NewArena()
		m := decl.NewModule()

		for _, fn := range functionNames {
			params := make([]decl.Param, len(fn.params))
			for i, p := range fn.params {
				params[i] = decl.Param{Name: p}
			}

			id := arena.Insert(decl.Decl{Kind: decl.KindFunction, FuncParams: params})
			m.Names[fn.name] = id
		}

		mod = m
	})

	return arena, mod
}

// FunctionParams returns the declared parameter names for std function
// name (without its "std." prefix) and whether it exists at all. Exposed
// separately from Load so a caller that owns its own decl.Arena/module.Graph
// (package resolver) can re-populate a "std" submodule of its own without
// reaching into this package's process-wide arena, whose ids are only
// meaningful against the arena Load itself returned.
func FunctionParams(name string) ([]string, bool) {
	for _, fn := range functionNames {
		if fn.name == name {
			return fn.params, true
		}
	}

	return nil, false
}

// FunctionNames returns every function name std.prql declares, in table
// order.
func FunctionNames() []string {
	out := make([]string, len(functionNames))
	for i, fn := range functionNames {
		out[i] = fn.name
	}

	return out
}

// genericFunctions maps a std.* builtin to its generic (ANSI-ish) SQL
// spelling, used when no dialect override applies.
var genericFunctions = map[string]string{
	"std.count": "COUNT", "std.sum": "SUM", "std.average": "AVG", "std.stddev": "STDDEV",
	"std.min": "MIN", "std.max": "MAX",
	"std.row_number": "ROW_NUMBER", "std.rank": "RANK", "std.dense_rank": "DENSE_RANK",
	"std.lag": "LAG", "std.lead": "LEAD",
	"std.round": "ROUND", "std.floor": "FLOOR", "std.ceil": "CEIL", "std.abs": "ABS",
	"std.lower": "LOWER", "std.upper": "UPPER", "std.length": "LENGTH", "std.trim": "TRIM",
	"std.coalesce": "COALESCE", "std.now": "NOW",
}

// dialectOverrides holds per-dialect spellings that differ from the
// generic one, keyed the same way operators.rs's per-dialect submodules
// are: dialect first, then generic fallback.
var dialectOverrides = map[dialect.Dialect]map[string]string{
	dialect.SQLite: {"std.now": "CURRENT_TIMESTAMP"},
	dialect.MsSQL:  {"std.length": "LEN", "std.now": "GETDATE", "std.ceil": "CEILING", "std.stddev": "STDEV"},
	dialect.Postgres: {"std.stddev": "STDDEV_SAMP"},
	dialect.DuckDB:    {"std.stddev": "STDDEV_SAMP"},
	dialect.BigQuery:  {"std.now": "CURRENT_TIMESTAMP"},
}

// ResolveFunctionName looks up opName's SQL spelling for dialect d: a
// dialect-specific override first, then the generic table, then a
// last-resort uppercase-strip-prefix fallback for any std.* name this
// table doesn't know about.
func ResolveFunctionName(d dialect.Dialect, opName string) string {
	if overrides, ok := dialectOverrides[d]; ok {
		if name, ok := overrides[opName]; ok {
			return name
		}
	}

	if name, ok := genericFunctions[opName]; ok {
		return name
	}

	return strings.ToUpper(strings.TrimPrefix(opName, "std."))
}
