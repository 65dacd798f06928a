package srq

import (
	"github.com/shibukawa/snapsql/internal/diagnostic"
	"github.com/shibukawa/snapsql/internal/dialect"
	"github.com/shibukawa/snapsql/internal/rq"
)

// Preprocess normalizes an RQ pipeline into SRQ transforms, applying the
// rewrite rules of spec.md §4.4 in order.
func Preprocess(pipeline []rq.Transform, dlg dialect.Handler) ([]SqlTransform, error) {
	pipeline = normalizeNulls(pipeline)

	wrapped := wrap(pipeline)
	wrapped = pruneInputs(wrapped)

	wrapped = rewriteDistinct(wrapped, dlg)
	wrapped = rewriteUnion(wrapped)

	wrapped, err := rewriteExcept(wrapped, dlg)
	if err != nil {
		return nil, err
	}

	wrapped, err = rewriteIntersect(wrapped, dlg)
	if err != nil {
		return nil, err
	}

	wrapped = reorder(wrapped)

	return wrapped, nil
}

// normalizeNulls swaps operands of every std.eq/std.ne whose left operand
// is Null, so Null always sits on the right. Rule 1 of spec.md §4.4.
func normalizeNulls(pipeline []rq.Transform) []rq.Transform {
	out := make([]rq.Transform, len(pipeline))

	for i, t := range pipeline {
		out[i] = normalizeNullsInTransform(t)
	}

	return out
}

func normalizeNullsInTransform(t rq.Transform) rq.Transform {
	fix := func(e *rq.Expr) {
		if e != nil {
			*e = normalizeNullExpr(*e)
		}
	}

	fix(t.FilterExpr)
	fix(t.JoinFilter)

	if t.Compute != nil {
		t.Compute.Expr = normalizeNullExpr(t.Compute.Expr)
	}

	for i := range t.AggCompute {
		t.AggCompute[i].Expr = normalizeNullExpr(t.AggCompute[i].Expr)
	}

	return t
}

func normalizeNullExpr(e rq.Expr) rq.Expr {
	if e.Kind == rq.ExprOperator && len(e.OpArgs) == 2 {
		for i := range e.OpArgs {
			e.OpArgs[i] = normalizeNullExpr(e.OpArgs[i])
		}

		if (e.OpName == "std.eq" || e.OpName == "std.ne") && isNullLit(e.OpArgs[0]) && !isNullLit(e.OpArgs[1]) {
			e.OpArgs[0], e.OpArgs[1] = e.OpArgs[1], e.OpArgs[0]
		}
	}

	return e
}

func isNullLit(e rq.Expr) bool {
	return e.Kind == rq.ExprLiteral && e.LitKind == rq.LiteralNull
}

// wrap lifts every RQ transform into SqlTransform::Super. Rule 2.
func wrap(pipeline []rq.Transform) []SqlTransform {
	out := make([]SqlTransform, len(pipeline))
	for i, t := range pipeline {
		out[i] = SqlTransform{Kind: STSuper, Super: t}
	}

	return out
}

// pruneInputs iterates from the tail, accumulating referenced cids, and
// drops columns from every From/Join whose cid is never referenced. Rule 3.
func pruneInputs(pipeline []SqlTransform) []SqlTransform {
	required := map[rq.CId]bool{}

	out := make([]SqlTransform, len(pipeline))

	for i := len(pipeline) - 1; i >= 0; i-- {
		t := pipeline[i]

		for _, cid := range requirementsOf(t) {
			required[cid] = true
		}

		if super, ok := t.AsSuper(); ok {
			switch super.Kind {
			case rq.TransformFrom:
				if super.From != nil {
					super.From.Columns = filterCols(super.From.Columns, required)
				}
			case rq.TransformJoin:
				if super.JoinWith != nil {
					super.JoinWith.Columns = filterCols(super.JoinWith.Columns, required)
				}
			}

			t.Super = super
		}

		out[i] = t
	}

	return out
}

func filterCols(cols []rq.TableRefColumn, required map[rq.CId]bool) []rq.TableRefColumn {
	var out []rq.TableRefColumn

	for _, c := range cols {
		if c.Column.Kind == rq.RelColWildcard || required[c.Id] {
			out = append(out, c)
		}
	}

	return out
}

func requirementsOf(t SqlTransform) []rq.CId {
	super, ok := t.AsSuper()
	if !ok {
		return nil
	}

	var out []rq.CId

	switch super.Kind {
	case rq.TransformSelect:
		out = append(out, super.SelectCols...)
	case rq.TransformFilter:
		if super.FilterExpr != nil {
			out = append(out, super.FilterExpr.ColumnRefs()...)
		}
	case rq.TransformCompute:
		if super.Compute != nil {
			out = append(out, super.Compute.Expr.ColumnRefs()...)

			if super.Compute.Window != nil {
				out = append(out, super.Compute.Window.Partition...)
				for _, s := range super.Compute.Window.Sort {
					out = append(out, s.Column)
				}
			}
		}
	case rq.TransformAggregate:
		out = append(out, super.AggPartition...)

		for _, c := range super.AggCompute {
			out = append(out, c.Expr.ColumnRefs()...)
		}
	case rq.TransformSort:
		for _, s := range super.SortBy {
			out = append(out, s.Column)
		}
	case rq.TransformTake:
		out = append(out, super.TakePartition...)

		for _, s := range super.TakeSort {
			out = append(out, s.Column)
		}
	case rq.TransformJoin:
		if super.JoinFilter != nil {
			out = append(out, super.JoinFilter.ColumnRefs()...)
		}

		out = append(out, super.JoinUsing...)
	}

	return out
}

// rewriteDistinct applies rule 4 of spec.md §4.4 to every Take transform.
func rewriteDistinct(pipeline []SqlTransform, dlg dialect.Handler) []SqlTransform {
	var out []SqlTransform

	outputCols := DetermineSelectColumnsSql(pipeline)

	for _, t := range pipeline {
		super, ok := t.AsSuper()
		if !ok || super.Kind != rq.TransformTake {
			out = append(out, t)
			continue
		}

		if len(super.TakePartition) == 0 {
			out = append(out, t)
			continue
		}

		isFirstOnly := rangeIsExactlyOne(super.TakeRange)

		if isFirstOnly && len(super.TakeSort) == 0 && sameCidSet(super.TakePartition, outputCols) {
			out = append(out, SqlTransform{Kind: STDistinct})
			continue
		}

		if dlg.SupportsDistinctOn() && super.TakeRange.End != nil && *super.TakeRange.End == 1 {
			sortCols := append(append([]rq.ColumnSort[rq.CId]{}, toSort(super.TakePartition)...), super.TakeSort...)
			out = append(out, SqlTransform{Kind: STSuper, Super: rq.Transform{Kind: rq.TransformSort, SortBy: sortCols}})
			out = append(out, SqlTransform{Kind: STDistinctOn, DistinctOnCols: super.TakePartition})

			continue
		}

		// Neither DISTINCT nor DISTINCT ON applies: leave the Take as-is.
		// Package sqlast materializes this case as a ROW_NUMBER() OVER (...)
		// subquery plus an outer range filter at generation time, since that
		// rewrite needs the dialect handler's window-function spelling.
		out = append(out, t)
	}

	return out
}

func rangeIsExactlyOne(r rq.Range) bool {
	return r.Start != nil && r.End != nil && *r.Start == 1 && *r.End == 1
}

func toSort(cids []rq.CId) []rq.ColumnSort[rq.CId] {
	out := make([]rq.ColumnSort[rq.CId], len(cids))
	for i, c := range cids {
		out[i] = rq.ColumnSort[rq.CId]{Column: c}
	}

	return out
}

func sameCidSet(a, b []rq.CId) bool {
	if len(a) != len(b) {
		return false
	}

	set := map[rq.CId]bool{}
	for _, x := range a {
		set[x] = true
	}

	for _, x := range b {
		if !set[x] {
			return false
		}
	}

	return true
}

// DetermineSelectColumnsSql mirrors anchor.DetermineSelectColumns but over
// already-wrapped SqlTransforms, for use before anchoring has run.
func DetermineSelectColumnsSql(pipeline []SqlTransform) []rq.CId {
	plain := make([]rq.Transform, 0, len(pipeline))

	for _, t := range pipeline {
		if super, ok := t.AsSuper(); ok {
			plain = append(plain, super)
		}
	}

	return determineSelectColumnsPlain(plain)
}

func determineSelectColumnsPlain(pipeline []rq.Transform) []rq.CId {
	for i := len(pipeline) - 1; i >= 0; i-- {
		t := pipeline[i]

		switch t.Kind {
		case rq.TransformSelect:
			return append([]rq.CId(nil), t.SelectCols...)
		case rq.TransformAggregate:
			out := append([]rq.CId(nil), t.AggPartition...)
			for _, comp := range t.AggCompute {
				out = append(out, comp.Id)
			}

			return out
		case rq.TransformFrom:
			return refCIds(t.From)
		}
	}

	return nil
}

func refCIds(ref *rq.TableRef) []rq.CId {
	if ref == nil {
		return nil
	}

	out := make([]rq.CId, len(ref.Columns))
	for i, c := range ref.Columns {
		out[i] = c.Id
	}

	return out
}

// rewriteUnion applies rule 5: Append(X) optionally followed by Distinct
// becomes Union{bottom: X, distinct}.
func rewriteUnion(pipeline []SqlTransform) []SqlTransform {
	var out []SqlTransform

	for i := 0; i < len(pipeline); i++ {
		t := pipeline[i]

		super, ok := t.AsSuper()
		if ok && super.Kind == rq.TransformAppend && super.Append != nil {
			distinct := false

			if i+1 < len(pipeline) && pipeline[i+1].Kind == STDistinct {
				distinct = true
				i++
			}

			out = append(out, SqlTransform{Kind: STUnion, Union: &SetOp{Bottom: *super.Append, Distinct: distinct}})

			continue
		}

		out = append(out, t)
	}

	return out
}

// exceptPattern recognizes the `[Distinct?] Join<Left> Filter(right_k IS
// NULL)` shape used by both rewriteExcept (rule 6) and rewriteIntersect
// (rule 7, inner-join variant).
type exceptPattern struct {
	precedingDistinct bool
	joinIdx           int
	filterIdx         int
}

// rewriteExcept applies rule 6 of spec.md §4.4.
func rewriteExcept(pipeline []SqlTransform, dlg dialect.Handler) ([]SqlTransform, error) {
	idx := findAntiJoinPattern(pipeline)
	if idx == nil {
		return pipeline, nil
	}

	join, _ := pipeline[idx.joinIdx].AsSuper()
	if join.JoinWith == nil {
		return pipeline, nil
	}

	hasWildcard := tableRefHasWildcard(join.JoinWith)

	distinct := idx.precedingDistinct

	if !dlg.ExceptAll() && !distinct {
		if hasWildcard {
			return nil, diagnostic.ErrSetOpUnsupported
		}
		// fall back: keep the original anti-join transforms, unchanged.
		return pipeline, nil
	}

	out := append([]SqlTransform{}, pipeline[:idx.joinIdx]...)
	out = append(out, SqlTransform{Kind: STExcept, Except: &SetOp{Bottom: *join.JoinWith, Distinct: distinct}})
	out = append(out, pipeline[idx.filterIdx+1:]...)

	return out, nil
}

// rewriteIntersect applies rule 7: an inner join over all columns of both
// sides, with a following/preceding Distinct, becomes Intersect.
func rewriteIntersect(pipeline []SqlTransform, dlg dialect.Handler) ([]SqlTransform, error) {
	idx := findInnerJoinAllColsPattern(pipeline)
	if idx == nil {
		return pipeline, nil
	}

	join, _ := pipeline[idx.joinIdx].AsSuper()
	if join.JoinWith == nil {
		return pipeline, nil
	}

	hasWildcard := tableRefHasWildcard(join.JoinWith)
	distinct := idx.precedingDistinct

	if !dlg.IntersectAll() && !distinct {
		if hasWildcard {
			return nil, diagnostic.ErrSetOpUnsupported
		}

		return pipeline, nil
	}

	out := append([]SqlTransform{}, pipeline[:idx.joinIdx]...)
	out = append(out, SqlTransform{Kind: STIntersect, Intersect: &SetOp{Bottom: *join.JoinWith, Distinct: distinct}})
	out = append(out, pipeline[idx.filterIdx+1:]...)

	return out, nil
}

// findAntiJoinPattern looks for `[Distinct?] Join<Left> Filter(right IS
// NULL over all of bottom's columns)` and, when present, that no bottom
// column is in the pipeline's output (checked by the caller's prune pass
// already having dropped unreferenced columns from JoinWith).
func findAntiJoinPattern(pipeline []SqlTransform) *exceptPattern {
	for i, t := range pipeline {
		super, ok := t.AsSuper()
		if !ok || super.Kind != rq.TransformJoin || super.JoinSide != rq.JoinLeft {
			continue
		}

		if i+1 >= len(pipeline) {
			continue
		}

		filterT, ok := pipeline[i+1].AsSuper()
		if !ok || filterT.Kind != rq.TransformFilter || filterT.FilterExpr == nil {
			continue
		}

		if !isAllIsNullConjunction(*filterT.FilterExpr, super.JoinWith) {
			continue
		}

		precedingDistinct := i > 0 && pipeline[i-1].Kind == STDistinct

		return &exceptPattern{precedingDistinct: precedingDistinct, joinIdx: i, filterIdx: i + 1}
	}

	return nil
}

func findInnerJoinAllColsPattern(pipeline []SqlTransform) *exceptPattern {
	for i, t := range pipeline {
		super, ok := t.AsSuper()
		if !ok || super.Kind != rq.TransformJoin || super.JoinSide != rq.JoinInner {
			continue
		}

		if super.JoinUsing == nil {
			continue
		}

		followingDistinct := i+1 < len(pipeline) && pipeline[i+1].Kind == STDistinct
		precedingDistinct := i > 0 && pipeline[i-1].Kind == STDistinct

		if !followingDistinct && !precedingDistinct {
			continue
		}

		end := i
		if followingDistinct {
			end = i + 1
		}

		return &exceptPattern{precedingDistinct: precedingDistinct || followingDistinct, joinIdx: i, filterIdx: end}
	}

	return nil
}

func isAllIsNullConjunction(e rq.Expr, bottom *rq.TableRef) bool {
	if bottom == nil {
		return false
	}

	bottomCols := map[rq.CId]bool{}
	for _, c := range bottom.Columns {
		bottomCols[c.Id] = true
	}

	var conjuncts []rq.Expr

	var split func(rq.Expr)
	split = func(x rq.Expr) {
		if x.Kind == rq.ExprOperator && x.OpName == "std.and" && len(x.OpArgs) == 2 {
			split(x.OpArgs[0])
			split(x.OpArgs[1])

			return
		}

		conjuncts = append(conjuncts, x)
	}

	split(e)

	if len(conjuncts) == 0 {
		return false
	}

	for _, c := range conjuncts {
		if c.Kind != rq.ExprOperator || c.OpName != "std.eq" || len(c.OpArgs) != 2 {
			return false
		}

		rhs := c.OpArgs[1]
		if rhs.Kind != rq.ExprLiteral || rhs.LitKind != rq.LiteralNull {
			return false
		}

		lhs := c.OpArgs[0]
		if lhs.Kind != rq.ExprColumnRef || !bottomCols[lhs.ColumnRef] {
			return false
		}
	}

	return true
}

func tableRefHasWildcard(ref *rq.TableRef) bool {
	if ref == nil {
		return false
	}

	for _, c := range ref.Columns {
		if c.Column.Kind == rq.RelColWildcard {
			return true
		}
	}

	return false
}

// reorder moves a Plain-complexity Compute in front of the Sort/Take run
// directly preceding it (one backward pass), so atomic splitting later
// sees the materialized column. Never reorders across From/Join. Rule 8.
func reorder(pipeline []SqlTransform) []SqlTransform {
	out := append([]SqlTransform(nil), pipeline...)

	for i := len(out) - 1; i > 0; i-- {
		cur := out[i]
		prev := out[i-1]

		curSuper, curOK := cur.AsSuper()
		prevSuper, prevOK := prev.AsSuper()

		if !curOK || !prevOK {
			continue
		}

		prevIsSortOrTake := prevSuper.Kind == rq.TransformSort || prevSuper.Kind == rq.TransformTake
		curIsPlainCompute := curSuper.Kind == rq.TransformCompute && curSuper.Compute != nil &&
			ComplexityOf(*curSuper.Compute) == ComplexityPlain

		if prevIsSortOrTake && curIsPlainCompute {
			out[i-1], out[i] = out[i], out[i-1]
		}
	}

	return out
}
