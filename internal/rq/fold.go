package rq

// Fold is the structural-recursion capability set described in spec.md §9:
// implementers supply the three leaf hooks (CId, TId, Expr), and Folder's
// methods recurse through everything else, calling those hooks at the
// leaves. This mirrors the teacher's TokenProcessor pipeline shape
// (pipeline.go) applied to a tree instead of a token stream.
type Fold interface {
	FoldCId(CId) CId
	FoldTId(TId) TId
	FoldExpr(Expr) Expr
}

// Folder provides fully-recursing implementations of the fold entry points
// for queries, relations, transforms, table refs and computes, delegating
// every CId, TId and Expr to Impl.
type Folder struct {
	Impl Fold
}

// FoldQuery recurses through every table decl and the main relation.
func (f Folder) FoldQuery(q Query) Query {
	decls := make([]TableDecl, len(q.Decls))
	for i, d := range q.Decls {
		d.Id = f.Impl.FoldTId(d.Id)
		d.Relation = f.FoldRelation(d.Relation)
		decls[i] = d
	}

	q.Decls = decls
	q.Main = f.FoldRelation(q.Main)

	return q
}

// FoldRelation recurses through a Relation's variant-specific payload.
func (f Folder) FoldRelation(r Relation) Relation {
	switch r.Kind {
	case RelationPipeline:
		out := make([]Transform, len(r.Pipeline))
		for i, t := range r.Pipeline {
			out[i] = f.FoldTransform(t)
		}

		r.Pipeline = out
	case RelationExternRef:
		if r.Extern != nil {
			id := f.Impl.FoldTId(*r.Extern)
			r.Extern = &id
		}
	case RelationBuiltInFunc:
		args := make([]Expr, len(r.FuncArgs))
		for i, a := range r.FuncArgs {
			args[i] = f.Impl.FoldExpr(a)
		}

		r.FuncArgs = args
	}

	return r
}

// FoldTransform recurses through a Transform's variant-specific payload,
// rewriting every CId/TId/Expr it carries via the Impl fold hooks.
func (f Folder) FoldTransform(t Transform) Transform {
	switch t.Kind {
	case TransformFrom:
		if t.From != nil {
			ref := f.FoldTableRef(*t.From)
			t.From = &ref
		}
	case TransformCompute:
		if t.Compute != nil {
			c := f.FoldCompute(*t.Compute)
			t.Compute = &c
		}
	case TransformSelect:
		t.SelectCols = f.foldCIds(t.SelectCols)
	case TransformFilter:
		if t.FilterExpr != nil {
			e := f.Impl.FoldExpr(*t.FilterExpr)
			t.FilterExpr = &e
		}
	case TransformAggregate:
		t.AggPartition = f.foldCIds(t.AggPartition)

		computes := make([]Compute, len(t.AggCompute))
		for i, c := range t.AggCompute {
			computes[i] = f.FoldCompute(c)
		}

		t.AggCompute = computes
	case TransformSort:
		t.SortBy = f.foldSorts(t.SortBy)
	case TransformTake:
		t.TakePartition = f.foldCIds(t.TakePartition)
		t.TakeSort = f.foldSorts(t.TakeSort)
	case TransformJoin:
		if t.JoinWith != nil {
			ref := f.FoldTableRef(*t.JoinWith)
			t.JoinWith = &ref
		}

		if t.JoinFilter != nil {
			e := f.Impl.FoldExpr(*t.JoinFilter)
			t.JoinFilter = &e
		}

		t.JoinUsing = f.foldCIds(t.JoinUsing)
	case TransformAppend:
		if t.Append != nil {
			ref := f.FoldTableRef(*t.Append)
			t.Append = &ref
		}
	case TransformLoop:
		body := make([]Transform, len(t.LoopBody))
		for i, inner := range t.LoopBody {
			body[i] = f.FoldTransform(inner)
		}

		t.LoopBody = body
	}

	return t
}

// FoldTableRef rewrites a TableRef's source id and bound column ids.
func (f Folder) FoldTableRef(ref TableRef) TableRef {
	ref.Source = f.Impl.FoldTId(ref.Source)

	cols := make([]TableRefColumn, len(ref.Columns))
	for i, c := range ref.Columns {
		c.Id = f.Impl.FoldCId(c.Id)
		cols[i] = c
	}

	ref.Columns = cols

	return ref
}

// FoldCompute rewrites a Compute's bound id, expression, and window spec.
func (f Folder) FoldCompute(c Compute) Compute {
	c.Id = f.Impl.FoldCId(c.Id)
	c.Expr = f.Impl.FoldExpr(c.Expr)

	if c.Window != nil {
		w := *c.Window
		w.Partition = f.foldCIds(w.Partition)
		w.Sort = f.foldSorts(w.Sort)
		c.Window = &w
	}

	return c
}

func (f Folder) foldCIds(in []CId) []CId {
	out := make([]CId, len(in))
	for i, c := range in {
		out[i] = f.Impl.FoldCId(c)
	}

	return out
}

func (f Folder) foldSorts(in []ColumnSort[CId]) []ColumnSort[CId] {
	out := make([]ColumnSort[CId], len(in))
	for i, s := range in {
		s.Column = f.Impl.FoldCId(s.Column)
		out[i] = s
	}

	return out
}
