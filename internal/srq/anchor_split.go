package srq

import (
	"github.com/shibukawa/snapsql/internal/anchor"
	"github.com/shibukawa/snapsql/internal/rq"
)

// stageRank implements the ordering rule of spec.md §4.5:
//
//	From -> Joins -> Filters(WHERE) -> Aggregate -> Filters(HAVING) ->
//	Computes -> Sort -> Take -> Distinct -> {Union|Except|Intersect} -> Loop
//
// sawAggregate tracks whether an Aggregate has already been emitted
// earlier in the same forward pass, which is what distinguishes a Filter
// destined for WHERE from one destined for HAVING.
func stageRank(t SqlTransform, sawAggregate bool) int {
	switch t.Kind {
	case STDistinct, STDistinctOn:
		return 7
	case STUnion, STExcept, STIntersect:
		return 8
	}

	super, ok := t.AsSuper()
	if !ok {
		return 7
	}

	switch super.Kind {
	case rq.TransformFrom, rq.TransformJoin:
		return 0
	case rq.TransformFilter:
		if sawAggregate {
			return 3
		}

		return 1
	case rq.TransformAggregate:
		return 2
	case rq.TransformCompute:
		return 4
	case rq.TransformSort:
		return 5
	case rq.TransformTake:
		return 6
	case rq.TransformLoop:
		return 9
	default:
		return 4
	}
}

// ExtractAtomic extracts the maximal suffix of pipeline that fits into one
// SELECT, registering the remaining prefix (if any) as a new CTE in ctx,
// per spec.md §4.5's extract_atomic.
func ExtractAtomic(pipeline []SqlTransform, ctx *anchor.Context) []SqlTransform {
	output := DetermineSelectColumnsSql(pipeline)

	preceding, atomic := splitOffBack(pipeline)

	if preceding != nil {
		atomic = anchorSplit(ctx, preceding, atomic)
	}

	// Projection preservation: if the atomic's own Select doesn't match
	// the originally requested output (extra columns pulled in to support
	// ORDER BY), wrap with a synthetic limiting SELECT.
	selectCols, ok := findSelect(atomic)
	if ok && !sameCidSet(selectCols, output) {
		dup := SqlTransform{Kind: STSuper, Super: rq.Transform{Kind: rq.TransformSelect, SelectCols: selectCols}}
		atomic = append(atomic, dup)

		limited := []SqlTransform{{Kind: STSuper, Super: rq.Transform{Kind: rq.TransformSelect, SelectCols: output}}}

		return anchorSplit(ctx, atomic, limited)
	}

	return atomic
}

func findSelect(pipeline []SqlTransform) ([]rq.CId, bool) {
	for i := len(pipeline) - 1; i >= 0; i-- {
		if super, ok := pipeline[i].AsSuper(); ok && super.Kind == rq.TransformSelect {
			return super.SelectCols, true
		}
	}

	return nil, false
}

// splitOffBack splits pipeline into two parts such that the second part
// (atomic) contains the maximum number of transforms while still fitting
// into one SELECT, per spec.md §4.5.
func splitOffBack(pipeline []SqlTransform) (preceding, atomic []SqlTransform) {
	if len(pipeline) == 0 {
		return nil, nil
	}

	sawAggregate := false
	for _, t := range pipeline {
		if super, ok := t.AsSuper(); ok && super.Kind == rq.TransformAggregate {
			sawAggregate = true
		}
	}

	minRank := 1 << 30
	sawAggregateSoFarBackward := sawAggregate

	cut := 0

	for i := len(pipeline) - 1; i >= 0; i-- {
		t := pipeline[i]

		if super, ok := t.AsSuper(); ok && super.Kind == rq.TransformAggregate {
			sawAggregateSoFarBackward = false // everything before this, walking further back, precedes the aggregate
		}

		r := stageRank(t, sawAggregateSoFarBackward)

		if super, ok := t.AsSuper(); ok && super.Kind == rq.TransformCompute && super.Compute != nil {
			if !super.Compute.IsAggregation && !CanMaterialize(*super.Compute, ComplexityAggregation) {
				cut = i + 1

				break
			}
		}

		if r > minRank {
			cut = i + 1
			break
		}

		if r < minRank {
			minRank = r
		}

		cut = i
	}

	if cut == 0 {
		return nil, pipeline
	}

	return pipeline[:cut], pipeline[cut:]
}

// anchorSplit implements spec.md §4.5's anchor_split: registers preceding
// as a new CTE, creates a relation instance for it, prepends a From
// referencing that instance to atomic, and redirects every cid atomic used
// from preceding's namespace into the new instance's namespace.
func anchorSplit(ctx *anchor.Context, preceding, atomic []SqlTransform) []SqlTransform {
	newTId := ctx.GenTId()

	output := DetermineSelectColumnsSql(preceding)

	cols := make([]rq.TableRefColumn, len(output))

	for i, cid := range output {
		var name *string
		if n, ok := ctx.EnsureColumnName(cid); ok {
			name = &n
		}

		cols[i] = rq.TableRefColumn{Column: rq.RelationColumn{Kind: rq.RelColSingle, Name: name}, Id: cid}
	}

	ctx.TableDecls[newTId] = &anchor.SqlTableDecl{
		Id:      newTId,
		Status:  anchor.NotYetDefined,
		Content: SqlRelation{Kind: SqlRelAtomicPipeline, Pipeline: preceding},
	}
	ctx.RecordCte(newTId)

	ref := rq.TableRef{Source: newTId, Columns: cols}

	// CreateRelationInstance mints the ids atomic will actually reference
	// (ColumnDecls is keyed by those, not by output's pre-split ids), so
	// the redirect map must point at newRef's columns, not at ref's. The
	// map is filled in after the call since CreateRelationInstance stores
	// this same map by reference into the RelationInstance it registers.
	redirects := map[rq.CId]rq.CId{}
	_, newRef := ctx.CreateRelationInstance(ref, redirects)

	for i, cid := range output {
		redirects[cid] = newRef.Columns[i].Id
	}

	redirector := NewCidRedirector(redirects, ctx)

	redirectedAtomic := make([]SqlTransform, 0, len(atomic)+1)
	redirectedAtomic = append(redirectedAtomic, SqlTransform{Kind: STSuper, Super: rq.Transform{Kind: rq.TransformFrom, From: &newRef}})

	for _, t := range atomic {
		redirectedAtomic = append(redirectedAtomic, redirector.FoldSqlTransform(t))
	}

	return redirectedAtomic
}
