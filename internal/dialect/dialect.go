// Package dialect implements the per-dialect feature table of spec.md
// §4.9: a fixed enum of target dialects plus boolean/method queries that
// the SQL AST generator (package sqlast) consults for quoting, take-limit
// style, and rewrite eligibility. Grounded on the teacher's dialect.go
// (a small string-enum Dialect type plus a Feature flag enum), generalized
// from the teacher's four dialects to the full set spec.md §2 names.
package dialect

import "strings"

// Dialect is a tag selected from a fixed enum, per spec.md §4.9.
type Dialect string

const (
	Generic    Dialect = "generic"
	Ansi       Dialect = "ansi"
	BigQuery   Dialect = "bigquery"
	ClickHouse Dialect = "clickhouse"
	DuckDB     Dialect = "duckdb"
	MsSQL      Dialect = "mssql"
	MySQL      Dialect = "mysql"
	Postgres   Dialect = "postgres"
	Snowflake  Dialect = "snowflake"
	SQLite     Dialect = "sqlite"
)

// ColumnExcludeStyle distinguishes how a dialect spells "wildcard minus
// these columns."
type ColumnExcludeStyle string

const (
	ExcludeNone   ColumnExcludeStyle = ""
	ExcludeExcept ColumnExcludeStyle = "except" // BigQuery: * EXCEPT (cols)
	ExcludeExclude ColumnExcludeStyle = "exclude" // Snowflake/DuckDB: * EXCLUDE (cols)
)

// TakeLimitStyle distinguishes how a dialect spells row-limiting.
type TakeLimitStyle string

const (
	LimitOffset TakeLimitStyle = "limit_offset"
	Top         TakeLimitStyle = "top"
	FetchFirst  TakeLimitStyle = "fetch_first"
)

// Handler exposes the per-dialect queries of spec.md §4.9.
type Handler struct {
	d Dialect
}

// For returns the Handler for d, falling back to Generic for unknown tags.
func For(d Dialect) Handler {
	switch d {
	case Ansi, BigQuery, ClickHouse, DuckDB, MsSQL, MySQL, Postgres, Snowflake, SQLite, Generic:
		return Handler{d: d}
	default:
		return Handler{d: Generic}
	}
}

// FromHeader parses a `sql.<dialect>` / `sql.any` target spec. "sql.any"
// and an empty string both resolve to ok=false, meaning no dialect is
// named; selectDialect then falls back to the header target or generic.
func FromHeader(target string) (Dialect, bool) {
	target = strings.TrimSpace(target)
	if target == "" || target == "sql.any" {
		return "", false
	}

	name := strings.TrimPrefix(target, "sql.")

	return For(Dialect(name)).d, true
}

// Dialect returns the underlying tag.
func (h Handler) Dialect() Dialect { return h.d }

// IdentQuote returns the character this dialect wraps quoted identifiers
// in.
func (h Handler) IdentQuote() byte {
	switch h.d {
	case BigQuery, MySQL, ClickHouse, MariaDBAlias:
		return '`'
	case MsSQL:
		return '[' // closing bracket handled by caller
	default:
		return '"'
	}
}

// MariaDBAlias exists only so IdentQuote's switch reads naturally; MariaDB
// is not part of the enum spec.md §2 names, but MySQL-family quoting is
// shared, and callers that see "mariadb" normalize to MySQL before this
// point.
const MariaDBAlias Dialect = "mariadb"

// BigQueryQuoting reports whether bare identifiers follow BigQuery's
// project.dataset.table path-segment rules (affects wildcard splitting).
func (h Handler) BigQueryQuoting() bool { return h.d == BigQuery }

// ColumnExclude reports how this dialect spells wildcard-minus-columns, or
// ExcludeNone if unsupported.
func (h Handler) ColumnExclude() ColumnExcludeStyle {
	switch h.d {
	case BigQuery:
		return ExcludeExcept
	case Snowflake, DuckDB:
		return ExcludeExclude
	default:
		return ExcludeNone
	}
}

// ExceptAll reports whether this dialect supports `EXCEPT ALL`.
func (h Handler) ExceptAll() bool {
	switch h.d {
	case Postgres, SQLite, DuckDB, ClickHouse, Generic, Ansi:
		return true
	default:
		return false
	}
}

// IntersectAll reports whether this dialect supports `INTERSECT ALL`.
func (h Handler) IntersectAll() bool {
	return h.ExceptAll()
}

// SupportsDistinctOn reports whether this dialect has `DISTINCT ON (..)`.
func (h Handler) SupportsDistinctOn() bool {
	return h.d == Postgres || h.d == DuckDB
}

// HasConcatFunction reports whether this dialect has a variadic
// `CONCAT(..)` function (as opposed to only `||`).
func (h Handler) HasConcatFunction() bool {
	return h.d != SQLite
}

// RequiresQuotedIntervals reports whether interval literal values must be
// quoted strings rather than bare numbers.
func (h Handler) RequiresQuotedIntervals() bool {
	switch h.d {
	case Postgres, DuckDB, Snowflake:
		return true
	default:
		return false
	}
}

// TakeLimitStyle reports how this dialect spells row limiting.
func (h Handler) TakeLimitStyle() TakeLimitStyle {
	switch h.d {
	case MsSQL:
		return Top
	default:
		return LimitOffset
	}
}

// UsesDateTimeFunctions reports SQLite's special case: date/time/timestamp
// literals are spelled as DATE()/TIME()/DATETIME() calls rather than
// TYPED 'value'.
func (h Handler) UsesDateTimeFunctions() bool {
	return h.d == SQLite
}

// reservedKeywords lists identifiers that must always be quoted regardless
// of shape. Kept intentionally small (the set actually exercised by this
// compiler's generated SQL); a production dialect table would carry the
// full per-database reserved-word list.
var reservedKeywords = map[string]bool{
	"select": true, "from": true, "where": true, "order": true, "group": true,
	"by": true, "limit": true, "offset": true, "table": true, "user": true,
}

// IsReservedKeyword reports whether name must be quoted even if it
// otherwise matches the bare-identifier shape.
func (h Handler) IsReservedKeyword(name string) bool {
	return reservedKeywords[strings.ToLower(name)]
}
