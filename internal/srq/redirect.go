package srq

import (
	"github.com/shibukawa/snapsql/internal/anchor"
	"github.com/shibukawa/snapsql/internal/rq"
)

// CidRedirector rewrites every cid per a redirect map, re-registering any
// Compute it encounters in the anchor.Context so downstream references
// stay valid. Used by anchorSplit (spec.md §4.5 step 5) and by the
// compiler's foldTransforms.
type CidRedirector struct {
	redirects map[rq.CId]rq.CId
	ctx       *anchor.Context
}

// NewCidRedirector builds a redirector over the given cid map.
func NewCidRedirector(redirects map[rq.CId]rq.CId, ctx *anchor.Context) *CidRedirector {
	return &CidRedirector{redirects: redirects, ctx: ctx}
}

// FoldCId rewrites cid through the redirect map, leaving it unchanged if
// absent.
func (r *CidRedirector) FoldCId(cid rq.CId) rq.CId {
	if to, ok := r.redirects[cid]; ok {
		return to
	}

	return cid
}

// FoldTId is the identity: table ids are never redirected by a cid
// redirector.
func (r *CidRedirector) FoldTId(tid rq.TId) rq.TId { return tid }

// FoldExpr rewrites column references and, for a Compute encountered
// along the way via FoldSqlTransform, re-registers the rewritten Compute.
func (r *CidRedirector) FoldExpr(e rq.Expr) rq.Expr {
	switch e.Kind {
	case rq.ExprColumnRef:
		e.ColumnRef = r.FoldCId(e.ColumnRef)
	case rq.ExprSString, rq.ExprFString:
		items := make([]rq.InterpolateItem, len(e.Interp))
		for i, it := range e.Interp {
			if it.Kind == rq.InterpolateExpr && it.Expr != nil {
				sub := r.FoldExpr(*it.Expr)
				it.Expr = &sub
			}

			items[i] = it
		}

		e.Interp = items
	case rq.ExprCase:
		branches := make([]rq.CaseBranch, len(e.CaseBranches))
		for i, b := range e.CaseBranches {
			b.Cond = r.FoldExpr(b.Cond)
			b.Value = r.FoldExpr(b.Value)
			branches[i] = b
		}

		e.CaseBranches = branches

		if e.CaseDefault != nil {
			d := r.FoldExpr(*e.CaseDefault)
			e.CaseDefault = &d
		}
	case rq.ExprOperator, rq.ExprBuiltInFunc:
		args := make([]rq.Expr, len(e.OpArgs))
		for i, a := range e.OpArgs {
			args[i] = r.FoldExpr(a)
		}

		e.OpArgs = args
	}

	return e
}

// FoldSqlTransform redirects every cid an SqlTransform carries, folding
// through rq.Folder for the wrapped Super transform and handling the
// SQL-native variants directly.
func (r *CidRedirector) FoldSqlTransform(t SqlTransform) SqlTransform {
	folder := rq.Folder{Impl: r}

	switch t.Kind {
	case STSuper:
		t.Super = folder.FoldTransform(t.Super)

		if t.Super.Kind == rq.TransformCompute && t.Super.Compute != nil {
			r.ctx.RegisterCompute(*t.Super.Compute)
		}
	case STDistinctOn:
		cols := make([]rq.CId, len(t.DistinctOnCols))
		for i, c := range t.DistinctOnCols {
			cols[i] = r.FoldCId(c)
		}

		t.DistinctOnCols = cols
	case STUnion:
		t.Union = r.foldSetOp(t.Union)
	case STExcept:
		t.Except = r.foldSetOp(t.Except)
	case STIntersect:
		t.Intersect = r.foldSetOp(t.Intersect)
	}

	return t
}

func (r *CidRedirector) foldSetOp(op *SetOp) *SetOp {
	if op == nil {
		return nil
	}

	folder := rq.Folder{Impl: r}
	bottom := folder.FoldTableRef(op.Bottom)

	return &SetOp{Bottom: bottom, Distinct: op.Distinct}
}

// RedirectCids returns cids unchanged; the pipeline and context arguments
// are not consulted, since anchorSplit already performs the redirection
// inline.
func RedirectCids(cids []rq.CId, _ []SqlTransform, _ *anchor.Context) []rq.CId {
	return cids
}
