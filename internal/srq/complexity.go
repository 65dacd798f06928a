package srq

import "github.com/shibukawa/snapsql/internal/rq"

// Complexity orders how "hard" a Compute is to materialize at a given
// SELECT-fitting site, per spec.md §4.5: Plain < NonGroup < Windowed <
// Aggregation.
type Complexity int

const (
	ComplexityPlain Complexity = iota
	ComplexityNonGroup
	ComplexityWindowed
	ComplexityAggregation
)

// ComplexityOf classifies a Compute per spec.md §4.5's "Column
// complexity" rules.
func ComplexityOf(c rq.Compute) Complexity {
	if c.IsAggregation {
		return ComplexityAggregation
	}

	if c.Window != nil {
		return ComplexityWindowed
	}

	if exprHasCase(c.Expr) {
		return ComplexityNonGroup
	}

	return ComplexityPlain
}

func exprHasCase(e rq.Expr) bool {
	if e.Kind == rq.ExprCase {
		return true
	}

	for _, b := range e.CaseBranches {
		if exprHasCase(b.Cond) || exprHasCase(b.Value) {
			return true
		}
	}

	if e.CaseDefault != nil && exprHasCase(*e.CaseDefault) {
		return true
	}

	for _, a := range e.OpArgs {
		if exprHasCase(a) {
			return true
		}
	}

	for _, it := range e.Interp {
		if it.Expr != nil && exprHasCase(*it.Expr) {
			return true
		}
	}

	return false
}

// CanMaterialize reports whether a Compute of the given complexity may be
// materialized at a site whose downstream maximum-allowed complexity is
// maxAllowed.
func CanMaterialize(c rq.Compute, maxAllowed Complexity) bool {
	return ComplexityOf(c) <= maxAllowed
}
