package srq

import (
	"github.com/shibukawa/snapsql/internal/anchor"
	"github.com/shibukawa/snapsql/internal/rq"
)

// PostprocessSortAndNames implements spec.md §4.7: infer sort propagation
// across CTE boundaries, and assign every CTE/relation-instance a unique
// name.
func PostprocessSortAndNames(query *SqlQuery, ctx *anchor.Context) {
	ctesSorting := map[rq.TId][]rq.ColumnSort[rq.CId]{}

	for i := range query.Ctes {
		cte := &query.Ctes[i]

		if cte.Kind.Tag != CteNormal || cte.Kind.Normal == nil || cte.Kind.Normal.Kind != SqlRelAtomicPipeline {
			continue
		}

		newPipeline, sorting := propagateSort(cte.Kind.Normal.Pipeline, ctesSorting, ctx)
		cte.Kind.Normal.Pipeline = newPipeline
		ctesSorting[cte.Id] = sorting
	}

	if query.Main.Kind == SqlRelAtomicPipeline {
		newPipeline, sorting := propagateSort(query.Main.Pipeline, ctesSorting, ctx)

		if len(sorting) > 0 {
			newPipeline = append(newPipeline, SqlTransform{Kind: STSuper, Super: rq.Transform{Kind: rq.TransformSort, SortBy: sorting}})
		}

		query.Main.Pipeline = newPipeline
	}

	assignNames(query, ctx)
}

// propagateSort implements the per-pipeline state machine of spec.md §4.7.
func propagateSort(pipeline []SqlTransform, ctesSorting map[rq.TId][]rq.ColumnSort[rq.CId], ctx *anchor.Context) ([]SqlTransform, []rq.ColumnSort[rq.CId]) {
	var sorting []rq.ColumnSort[rq.CId]

	out := make([]SqlTransform, 0, len(pipeline))

	for _, t := range pipeline {
		super, isSuper := t.AsSuper()

		switch {
		case isSuper && super.Kind == rq.TransformFrom && super.From != nil:
			if s, ok := ctesSorting[super.From.Source]; ok {
				sorting = remapSort(s, super.From, ctx)
			}

			out = append(out, t)

			continue
		case isSuper && super.Kind == rq.TransformSort:
			sorting = super.SortBy
			continue // do not emit; re-inserted before Take/DistinctOn or at pipeline end
		case isSuper && super.Kind == rq.TransformAggregate:
			sorting = nil
		case t.Kind == STDistinct:
			sorting = nil
		}

		if (isSuper && super.Kind == rq.TransformTake) || t.Kind == STDistinctOn {
			if len(sorting) > 0 {
				out = append(out, SqlTransform{Kind: STSuper, Super: rq.Transform{Kind: rq.TransformSort, SortBy: sorting}})
			}
		}

		out = append(out, t)
	}

	if len(sorting) > 0 {
		out = ensureSortColumnsProjected(out, sorting)
	}

	return out, sorting
}

// remapSort rewrites a sort spec inherited from a referenced CTE through
// the cid redirects of the relation instance the From's columns belong to.
func remapSort(sort []rq.ColumnSort[rq.CId], from *rq.TableRef, ctx *anchor.Context) []rq.ColumnSort[rq.CId] {
	var remap map[rq.CId]rq.CId

	if len(from.Columns) > 0 {
		if decl, ok := ctx.ColumnDecls[from.Columns[0].Id]; ok && decl.Kind == anchor.ColumnDeclRelation {
			if inst, ok := ctx.Instances[decl.RIId]; ok {
				remap = inst.CidRedirects
			}
		}
	}

	if len(remap) == 0 {
		return sort
	}

	out := make([]rq.ColumnSort[rq.CId], len(sort))

	for i, s := range sort {
		if to, ok := remap[s.Column]; ok {
			s.Column = to
		}

		out[i] = s
	}

	return out
}

// ensureSortColumnsProjected appends any sorting cid missing from the
// pipeline's final Select to that Select, per spec.md §4.7's "a CTE whose
// inferred sort was used must project the sort columns" rule.
func ensureSortColumnsProjected(pipeline []SqlTransform, sorting []rq.ColumnSort[rq.CId]) []SqlTransform {
	for i := len(pipeline) - 1; i >= 0; i-- {
		super, ok := pipeline[i].AsSuper()
		if !ok || super.Kind != rq.TransformSelect {
			continue
		}

		have := map[rq.CId]bool{}
		for _, c := range super.SelectCols {
			have[c] = true
		}

		for _, s := range sorting {
			if !have[s.Column] {
				super.SelectCols = append(super.SelectCols, s.Column)
				have[s.Column] = true
			}
		}

		pipeline[i] = SqlTransform{Kind: STSuper, Super: super}

		return pipeline
	}

	return pipeline
}

// assignNames allocates a unique name for every CTE lacking one, and
// ensures every relation instance's TableRef alias is unique within its
// containing atomic pipeline.
func assignNames(query *SqlQuery, ctx *anchor.Context) {
	for i := range query.Ctes {
		cte := &query.Ctes[i]

		decl, ok := ctx.TableDecls[cte.Id]
		if !ok {
			continue
		}

		if decl.Name == nil {
			name := ctx.NextTableName()
			decl.Name = &name
		}
	}

	for i := range query.Ctes {
		if query.Ctes[i].Kind.Tag == CteNormal && query.Ctes[i].Kind.Normal != nil {
			nameRelationInstances(query.Ctes[i].Kind.Normal, ctx)
		}
	}

	nameRelationInstances(&query.Main, ctx)
}

func nameRelationInstances(rel *SqlRelation, ctx *anchor.Context) {
	if rel.Kind != SqlRelAtomicPipeline {
		return
	}

	used := map[string]bool{}

	for i, t := range rel.Pipeline {
		super, ok := t.AsSuper()
		if !ok {
			continue
		}

		var ref *rq.TableRef

		switch super.Kind {
		case rq.TransformFrom:
			ref = super.From
		case rq.TransformJoin:
			ref = super.JoinWith
		case rq.TransformAppend:
			ref = super.Append
		}

		if ref == nil {
			continue
		}

		name := ""
		if ref.Alias != nil {
			name = *ref.Alias
		} else if decl, ok := ctx.TableDecls[ref.Source]; ok && decl.Name != nil {
			name = *decl.Name
		}

		if name == "" || used[name] {
			name = ctx.NextTableName()
		}

		used[name] = true
		alias := name
		ref.Alias = &alias

		rel.Pipeline[i] = t
	}
}
