// Package resolver implements spec.md §4.2's core lowering pass:
// ast.Query (the minimal textual front end's syntax tree) into rq.Query
// (the relational IR consumed by package srq). It tracks one "frame" —
// the named/unnamed columns in scope, per spec.md §3.3's frame concept —
// threading it through each pipeline stage in source order, and shares
// one *anchor.Context with every later lowering/generation pass so that
// CId/TId/RIId allocation stays globally unique across the whole
// compilation (spec.md §3.6).
//
// Scope is bounded by the minimal ast front end it consumes: there are no
// nested named modules in that grammar, so this resolver does not
// implement spec.md §3.3's general module/scope graph beyond what a flat
// `std` lookup plus top-level `let` bindings need. It still builds and
// consults a real module.Graph for that lookup (rather than a hand-rolled
// name table) so the std function redirect spec.md §4.1 describes, and
// user-declared functions installed alongside it, share one resolution
// path. `let f = func a b -> body` installs a function; `let g = f 1`
// partially applies one already installed (spec.md §4.2 currying),
// producing a new function of the remaining parameters by substituting
// bound arguments into its body ast.Expr wherever it is later called.
package resolver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shibukawa/snapsql/internal/anchor"
	"github.com/shibukawa/snapsql/internal/ast"
	"github.com/shibukawa/snapsql/internal/decl"
	"github.com/shibukawa/snapsql/internal/diagnostic"
	"github.com/shibukawa/snapsql/internal/ident"
	"github.com/shibukawa/snapsql/internal/module"
	"github.com/shibukawa/snapsql/internal/rq"
	"github.com/shibukawa/snapsql/internal/stdlib"
)

// frameCol is one entry of the frame: a column in scope, named or not.
type frameCol struct {
	name string
	cid  rq.CId
}

type frame []frameCol

func (f frame) find(name string) (rq.CId, bool) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i].name == name {
			return f[i].cid, true
		}
	}

	return 0, false
}

func upsert(f frame, name string, cid rq.CId) frame {
	if name == "" {
		return append(f, frameCol{name, cid})
	}

	for i := range f {
		if f[i].name == name {
			f[i].cid = cid
			return f
		}
	}

	return append(f, frameCol{name, cid})
}

// openSource is the table a bare, not-yet-seen identifier resolves
// against: external tables (`from employees`) have no declared schema,
// so a column like `country` only becomes known the first time something
// references it. That's registered here, on demand, against the single
// relation currently open for this kind of fallback.
type openSource struct {
	ri  anchor.RIId
	ref *rq.TableRef
}

// pstate is the per-pipeline resolution state threaded through
// resolveStage: the current frame, and the current openSource fallback
// (nil once the schema is fully known, e.g. for a literal table).
type pstate struct {
	frame      frame
	openSource *openSource
}

// Resolver lowers one ast.Query into an rq.Query. It owns a small
// module.Graph for std function name lookup (spec.md §4.1's redirect
// rule: an unqualified name also tries "std.<name>"), separate from the
// shared anchor.Context that carries CId/TId/RIId allocation across the
// whole compilation.
type Resolver struct {
	ctx   *anchor.Context
	graph *module.Graph
	decls []rq.TableDecl
}

// New builds a Resolver sharing ctx (owned by the caller, per spec.md
// §3.6/§5 — one AnchorContext per compilation) and installing std's
// function table into a fresh, resolver-private module.Graph.
//
// A fresh arena/graph here, rather than reusing stdlib.Load()'s, is
// deliberate: Load's decl.Ids are only meaningful against its own
// process-wide arena. Mixing them into a different Graph's Arena would
// read unrelated entries.
func New(ctx *anchor.Context) *Resolver {
	arena := decl.NewArena()
	g := module.NewGraph(arena)

	for _, name := range stdlib.FunctionNames() {
		params, _ := stdlib.FunctionParams(name)

		ps := make([]decl.Param, len(params))
		for i, p := range params {
			ps[i] = decl.Param{Name: p}
		}

		fq, _ := ident.New("std", name)
		g.Insert(fq, decl.Decl{Kind: decl.KindFunction, FuncParams: ps})
	}

	return &Resolver{ctx: ctx, graph: g}
}

// boundBody pairs a function's still-unresolved ast.Expr body with
// argument expressions already substituted for a prefix of its
// parameters, produced by a curried partial application (`let g = f 1`,
// spec.md §4.2). FuncBody on the resulting decl.Decl holds a *boundBody
// instead of a bare ast.Expr; funcBodyExpr unwraps either.
type boundBody struct {
	body  ast.Expr
	bound map[string]ast.Expr
}

func funcBodyExpr(v any) ast.Expr {
	switch b := v.(type) {
	case ast.Expr:
		return b
	case *boundBody:
		return b.body
	default:
		return ast.Expr{}
	}
}

// installFuncs installs every top-level `let` binding into the module
// graph alongside std's functions, so resolveFuncCall/resolveIdent can
// resolve either kind through the same lookup.
func (r *Resolver) installFuncs(decls []ast.LetDecl) error {
	for _, ld := range decls {
		if ld.Func != nil {
			params := make([]decl.Param, len(ld.Func.Params))
			for i, p := range ld.Func.Params {
				params[i] = decl.Param{Name: p}
			}

			if _, _, err := r.graph.Insert(ident.FromName(ld.Name), decl.Decl{
				Kind: decl.KindFunction, FuncParams: params, FuncBody: ld.Func.Body,
			}); err != nil {
				return err
			}

			continue
		}

		if ld.Value == nil {
			continue
		}

		if err := r.installPartial(ld.Name, *ld.Value); err != nil {
			return err
		}
	}

	return nil
}

// installPartial handles `let g = f 1`: f must already be a declared
// function (std or user), and v must supply fewer arguments than f's
// arity. The remaining, not-yet-bound parameters become g's own.
func (r *Resolver) installPartial(name string, v ast.Expr) error {
	if v.Kind != ast.ExprFuncCall {
		return diagnostic.New(fmt.Sprintf("`let %s` must be a function literal or a partial application of a declared function", name), nil)
	}

	_, id, err := r.lookupFunc(v.FuncName)
	if err != nil {
		return err
	}

	target := r.graph.Arena.Get(id)
	if len(v.Args)+len(v.Named) >= len(target.FuncParams) {
		return diagnostic.New(fmt.Sprintf("`let %s` supplies every argument of `%s`; write it as a plain value instead", name, v.FuncName), nil)
	}

	bindings := map[string]ast.Expr{}
	if bb, ok := target.FuncBody.(*boundBody); ok {
		for k, val := range bb.bound {
			bindings[k] = val
		}
	}

	remaining := append([]decl.Param{}, target.FuncParams...)

	for i, a := range v.Args {
		bindings[remaining[i].Name] = a
	}

	remaining = remaining[len(v.Args):]

	for _, n := range v.Named {
		bindings[n.Name] = n.Expr

		for i, p := range remaining {
			if p.Name == n.Name {
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
	}

	_, _, err = r.graph.Insert(ident.FromName(name), decl.Decl{
		Kind:       decl.KindFunction,
		FuncParams: remaining,
		FuncBody:   &boundBody{body: funcBodyExpr(target.FuncBody), bound: bindings},
	})

	return err
}

// substituteExpr inlines bindings for every ExprIdent leaf e contains
// that names a bound parameter, used to apply a function call's
// arguments to its body before resolving it. Constructs this language's
// grammar doesn't use as a function body (tuples, arrays) are left as-is.
func substituteExpr(e ast.Expr, bindings map[string]ast.Expr) ast.Expr {
	switch e.Kind {
	case ast.ExprIdent:
		if sub, ok := bindings[e.Ident]; ok {
			return sub
		}

		return e
	case ast.ExprBinary:
		l := substituteExpr(*e.Left, bindings)
		r := substituteExpr(*e.Right, bindings)
		e.Left, e.Right = &l, &r

		return e
	case ast.ExprUnary:
		l := substituteExpr(*e.Left, bindings)
		e.Left = &l

		return e
	case ast.ExprFuncCall:
		args := make([]ast.Expr, len(e.Args))
		for i, a := range e.Args {
			args[i] = substituteExpr(a, bindings)
		}

		e.Args = args

		named := make([]ast.Item, len(e.Named))
		for i, n := range e.Named {
			n.Expr = substituteExpr(n.Expr, bindings)
			named[i] = n
		}

		e.Named = named

		return e
	case ast.ExprCase:
		arms := make([]ast.CaseArm, len(e.CaseArms))
		for i, a := range e.CaseArms {
			a.Cond = substituteExpr(a.Cond, bindings)
			a.Value = substituteExpr(a.Value, bindings)
			arms[i] = a
		}

		e.CaseArms = arms

		return e
	case ast.ExprSString, ast.ExprFString:
		parts := make([]ast.InterpPart, len(e.Interp))

		for i, p := range e.Interp {
			if p.Kind == ast.InterpExpr && p.Expr != nil {
				sub := substituteExpr(*p.Expr, bindings)
				p.Expr = &sub
			}

			parts[i] = p
		}

		e.Interp = parts

		return e
	default:
		return e
	}
}

// Resolve lowers q into an rq.Query, allocating ids out of ctx.
func Resolve(ctx *anchor.Context, q *ast.Query) (*rq.Query, error) {
	r := New(ctx)

	if err := r.installFuncs(q.Funcs); err != nil {
		return nil, err
	}

	st := &pstate{}

	transforms, err := r.resolveStages(st, q.Pipeline)
	if err != nil {
		return nil, err
	}

	return &rq.Query{
		Def:   &rq.QueryDef{Version: q.Version, Target: q.Target},
		Decls: r.decls,
		Main:  rq.Relation{Kind: rq.RelationPipeline, Pipeline: transforms},
	}, nil
}

func (r *Resolver) resolveStages(st *pstate, stages []ast.Stage) ([]rq.Transform, error) {
	var transforms []rq.Transform

	for _, stage := range stages {
		ts, err := r.resolveStage(st, stage)
		if err != nil {
			return nil, err
		}

		transforms = append(transforms, ts...)
	}

	return transforms, nil
}

func (r *Resolver) resolveStage(st *pstate, stage ast.Stage) ([]rq.Transform, error) {
	switch s := stage.(type) {
	case ast.From:
		return r.resolveFrom(st, s)
	case ast.SelectStage:
		return r.resolveSelect(st, s)
	case ast.Filter:
		expr, err := r.resolveExpr(st, s.Cond)
		if err != nil {
			return nil, err
		}

		return []rq.Transform{{Kind: rq.TransformFilter, FilterExpr: &expr}}, nil
	case ast.Derive:
		return r.resolveDerive(st, s)
	case ast.Aggregate:
		return r.resolveStandaloneAggregate(st, s)
	case ast.Group:
		return r.resolveGroup(st, s)
	case ast.Window:
		return r.resolveWindow(st, s)
	case ast.Sort:
		return r.resolveSort(st, s)
	case ast.Take:
		if err := validateTakeRange(s.Range); err != nil {
			return nil, err
		}

		return []rq.Transform{{Kind: rq.TransformTake, TakeRange: rq.Range(s.Range)}}, nil
	case ast.Join:
		return r.resolveJoin(st, s)
	case ast.Append:
		return r.resolveAppend(st, s)
	case ast.Remove:
		return r.resolveRemove(st, s)
	case ast.Loop:
		inner, err := r.resolveStages(st, s.Inner)
		if err != nil {
			return nil, err
		}

		return []rq.Transform{{Kind: rq.TransformLoop, LoopBody: inner}}, nil
	default:
		return nil, diagnostic.New(fmt.Sprintf("unsupported stage %T", stage), nil)
	}
}

// validateTakeRange enforces spec.md §4.2's `take` preconditions: both
// bounds present, a positive start, and a non-decreasing range.
func validateTakeRange(rng ast.Range) error {
	if rng.Start == nil || rng.End == nil {
		return diagnostic.Wrap(diagnostic.ErrInvalidTakeRange, "take range must have both a start and an end", nil)
	}

	if *rng.Start <= 0 {
		return diagnostic.Wrap(diagnostic.ErrInvalidTakeRange, "take range must start at a positive integer", nil)
	}

	if *rng.End < *rng.Start {
		return diagnostic.Wrap(diagnostic.ErrInvalidTakeRange, "take range end must not be before its start", nil)
	}

	return nil
}

func (r *Resolver) resolveFrom(st *pstate, s ast.From) ([]rq.Transform, error) {
	if s.SString != "" {
		return r.resolveSStringFrom(st, s.SString)
	}

	if s.Table != "" {
		tid := r.ctx.GenTId()
		r.decls = append(r.decls, rq.TableDecl{Id: tid, Name: s.Table})

		ri := r.ctx.GenRIId()
		wcid := r.ctx.RegisterWildcard(ri)
		ref := &rq.TableRef{Source: tid, Columns: []rq.TableRefColumn{
			{Column: rq.RelationColumn{Kind: rq.RelColWildcard}, Id: wcid},
		}}
		r.ctx.Instances[ri] = &anchor.RelationInstance{TableRef: *ref}

		st.frame = nil
		st.openSource = &openSource{ri: ri, ref: ref}

		return []rq.Transform{{Kind: rq.TransformFrom, From: ref}}, nil
	}

	rows, cols, err := r.buildLiteral(s.Literal)
	if err != nil {
		return nil, err
	}

	tid := r.ctx.GenTId()
	r.decls = append(r.decls, rq.TableDecl{Id: tid, Relation: rq.Relation{Kind: rq.RelationLiteral, Literal: rows}})

	_, newRef := r.ctx.CreateRelationInstance(rq.TableRef{Source: tid, Columns: cols}, nil)

	st.frame = nil

	for _, c := range newRef.Columns {
		name := ""
		if c.Column.Name != nil {
			name = *c.Column.Name
		}

		st.frame = append(st.frame, frameCol{name, c.Id})
	}

	st.openSource = nil

	refCopy := newRef

	return []rq.Transform{{Kind: rq.TransformFrom, From: &refCopy}}, nil
}

// resolveSStringFrom lowers `from s"SELECT ..."` (spec.md §4.2's escape
// hatch for a raw SQL table source) straight into an RelationSString
// TableDecl, validating the one shape the spec requires: the raw text
// must itself be a SELECT, so it can be used wherever a relation is
// expected (a bare statement like an UPDATE could not).
func (r *Resolver) resolveSStringFrom(st *pstate, raw string) ([]rq.Transform, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < 6 || !strings.EqualFold(trimmed[:6], "select") {
		return nil, diagnostic.Wrap(diagnostic.ErrSStringMustSelect, "a table s-string must start with SELECT", nil)
	}

	tid := r.ctx.GenTId()
	r.decls = append(r.decls, rq.TableDecl{
		Id: tid,
		Relation: rq.Relation{
			Kind:    rq.RelationSString,
			SString: []rq.InterpolateItem{{Kind: rq.InterpolateString, Text: raw}},
		},
	})

	ri := r.ctx.GenRIId()
	wcid := r.ctx.RegisterWildcard(ri)
	ref := &rq.TableRef{Source: tid, Columns: []rq.TableRefColumn{
		{Column: rq.RelationColumn{Kind: rq.RelColWildcard}, Id: wcid},
	}}
	r.ctx.Instances[ri] = &anchor.RelationInstance{TableRef: *ref}

	st.frame = nil
	st.openSource = &openSource{ri: ri, ref: ref}

	return []rq.Transform{{Kind: rq.TransformFrom, From: ref}}, nil
}

// buildLiteral turns an inline array-of-tuples literal into RQ literal
// rows plus the TableRef columns naming them, grounded on the first
// row's field names (every row is expected to share the same shape).
func (r *Resolver) buildLiteral(rows [][]ast.Item) ([][]rq.LiteralValue, []rq.TableRefColumn, error) {
	out := make([][]rq.LiteralValue, len(rows))

	var cols []rq.TableRefColumn

	for ri, row := range rows {
		if ri > 0 && len(row) != len(cols) {
			return nil, nil, diagnostic.Wrap(diagnostic.ErrTypeMismatch, "literal table rows must all have the same number of fields", nil)
		}

		lrow := make([]rq.LiteralValue, len(row))

		for i, item := range row {
			lv, err := literalValueOf(item.Expr)
			if err != nil {
				return nil, nil, err
			}

			lv.Ident = item.Name
			lrow[i] = lv

			if ri == 0 {
				name := item.Name
				cid := r.ctx.GenCId()
				cols = append(cols, rq.TableRefColumn{Column: rq.RelationColumn{Kind: rq.RelColSingle, Name: &name}, Id: cid})
			} else if lv.Kind != rq.LiteralNull && out[0][i].Kind != rq.LiteralNull && lv.Kind != out[0][i].Kind {
				return nil, nil, diagnostic.Wrap(diagnostic.ErrTypeMismatch,
					fmt.Sprintf("literal table column %d mixes %s and %s", i, out[0][i].Kind, lv.Kind), nil)
			}
		}

		out[ri] = lrow
	}

	return out, cols, nil
}

func literalValueOf(e ast.Expr) (rq.LiteralValue, error) {
	switch e.Kind {
	case ast.ExprLitInt:
		return rq.LiteralValue{Kind: rq.LiteralInteger, Text: strconv.FormatInt(e.Int, 10)}, nil
	case ast.ExprLitFloat:
		return rq.LiteralValue{Kind: rq.LiteralFloat, Text: strconv.FormatFloat(e.Float, 'g', -1, 64)}, nil
	case ast.ExprLitString:
		return rq.LiteralValue{Kind: rq.LiteralString, Text: e.Str}, nil
	case ast.ExprLitBool:
		text := "false"
		if e.Bool {
			text = "true"
		}

		return rq.LiteralValue{Kind: rq.LiteralBool, Text: text}, nil
	case ast.ExprLitNull:
		return rq.LiteralValue{Kind: rq.LiteralNull}, nil
	case ast.ExprUnary:
		if e.Op == "-" && e.Left != nil {
			inner, err := literalValueOf(*e.Left)
			if err != nil {
				return rq.LiteralValue{}, err
			}

			inner.Text = "-" + inner.Text

			return inner, nil
		}

		return rq.LiteralValue{}, diagnostic.New("literal table entries must be constant", nil)
	default:
		return rq.LiteralValue{}, diagnostic.New("literal table entries must be constant", nil)
	}
}

// registerAdHoc names a column against src's table the first time it is
// referenced, appending it to both the shared ColumnDecls arena and the
// TableRef (the same *rq.TableRef already installed on the pipeline's
// From/Join transform, so the addition is visible there too).
func (r *Resolver) registerAdHoc(src *openSource, name string) rq.CId {
	cid := r.ctx.GenCId()
	n := name
	col := rq.RelationColumn{Kind: rq.RelColSingle, Name: &n}

	r.ctx.ColumnDecls[cid] = &anchor.ColumnDecl{Kind: anchor.ColumnDeclRelation, RIId: src.ri, SrcCId: cid, RelCol: col}
	src.ref.Columns = append(src.ref.Columns, rq.TableRefColumn{Column: col, Id: cid})

	return cid
}

func (r *Resolver) resolveSelect(st *pstate, s ast.SelectStage) ([]rq.Transform, error) {
	var (
		transforms []rq.Transform
		selectCids []rq.CId
		newFrame   frame
	)

	for _, it := range s.Items {
		cid, _, extra, name, err := r.resolveItem(st, it, false)
		if err != nil {
			return nil, err
		}

		transforms = append(transforms, extra...)
		selectCids = append(selectCids, cid)
		newFrame = append(newFrame, frameCol{name, cid})
	}

	transforms = append(transforms, rq.Transform{Kind: rq.TransformSelect, SelectCols: selectCids})
	st.frame = newFrame

	return transforms, nil
}

func (r *Resolver) resolveDerive(st *pstate, s ast.Derive) ([]rq.Transform, error) {
	var transforms []rq.Transform

	for _, it := range s.Items {
		cid, _, extra, name, err := r.resolveItem(st, it, false)
		if err != nil {
			return nil, err
		}

		transforms = append(transforms, extra...)
		st.frame = upsert(st.frame, name, cid)
	}

	return transforms, nil
}

func (r *Resolver) resolveStandaloneAggregate(st *pstate, s ast.Aggregate) ([]rq.Transform, error) {
	var (
		computes []rq.Compute
		newFrame frame
	)

	for _, it := range s.Items {
		cid, comp, _, name, err := r.resolveItem(st, it, true)
		if err != nil {
			return nil, err
		}

		if comp != nil {
			computes = append(computes, *comp)
		}

		newFrame = append(newFrame, frameCol{name, cid})
	}

	st.frame = newFrame

	return []rq.Transform{{Kind: rq.TransformAggregate, AggCompute: computes}}, nil
}

// resolveItem resolves one tuple item to a cid: a bare name already in
// frame (or newly registered against the open source) is reused as-is;
// anything else becomes a fresh Compute. isAgg marks the Compute's
// IsAggregation flag and, for an unnamed aggregate item shaped like
// `average salary`, derives a cosmetic "average_salary" column name.
func (r *Resolver) resolveItem(st *pstate, it ast.Item, isAgg bool) (cid rq.CId, computed *rq.Compute, extra []rq.Transform, name string, err error) {
	if it.Name == "" && it.Expr.Kind == ast.ExprIdent {
		if c, ok := st.frame.find(it.Expr.Ident); ok {
			return c, nil, nil, it.Expr.Ident, nil
		}
	}

	expr, err := r.resolveExpr(st, it.Expr)
	if err != nil {
		return 0, nil, nil, "", err
	}

	if expr.Kind == rq.ExprColumnRef && it.Name == "" {
		return expr.ColumnRef, nil, nil, it.Expr.Ident, nil
	}

	cid = r.ctx.GenCId()
	comp := rq.Compute{Id: cid, Expr: expr, IsAggregation: isAgg}
	r.ctx.RegisterCompute(comp)

	name = it.Name
	if isAgg && name == "" && it.Expr.Kind == ast.ExprFuncCall && len(it.Expr.Args) == 1 && it.Expr.Args[0].Kind == ast.ExprIdent {
		name = it.Expr.FuncName + "_" + it.Expr.Args[0].Ident
	}

	if name != "" {
		r.ctx.ColumnNames[cid] = name
	}

	if isAgg {
		return cid, &comp, nil, name, nil
	}

	return cid, &comp, []rq.Transform{{Kind: rq.TransformCompute, Compute: &comp}}, name, nil
}

// resolveGroup inlines Inner's single supported shape directly into the
// outer pipeline: spec.md §4.2 treats `group` as a resolution-time
// context, not its own RQ transform. Only the two shapes the golden
// scenarios exercise are supported: `(aggregate {...})`, and an optional
// leading `sort` plus a `take`, whose partition/sort get folded into the
// Take transform (so srq's DISTINCT ON rewrite, rule 4 of spec.md §4.4,
// can recognize it).
func (r *Resolver) resolveGroup(st *pstate, s ast.Group) ([]rq.Transform, error) {
	groupCids := make([]rq.CId, len(s.Keys))
	groupNames := make([]string, len(s.Keys))

	for i, k := range s.Keys {
		if k.Kind != ast.ExprIdent {
			return nil, diagnostic.Wrap(diagnostic.ErrTransformNotAllowed, "group key must be a bare column name", nil)
		}

		expr, err := r.resolveExpr(st, k)
		if err != nil {
			return nil, err
		}

		groupCids[i] = expr.ColumnRef
		groupNames[i] = k.Ident
	}

	inner := s.Inner
	idx := 0

	var sortItems []rq.ColumnSort[rq.CId]

	if idx < len(inner) {
		if sortStage, ok := inner[idx].(ast.Sort); ok {
			for _, si := range sortStage.Items {
				if si.Expr.Kind != ast.ExprIdent {
					return nil, diagnostic.Wrap(diagnostic.ErrTransformNotAllowed, "group's inner sort key must be a bare column name", nil)
				}

				expr, err := r.resolveExpr(st, si.Expr)
				if err != nil {
					return nil, err
				}

				sortItems = append(sortItems, rq.ColumnSort[rq.CId]{Column: expr.ColumnRef, Desc: si.Desc})
			}

			idx++
		}
	}

	if idx >= len(inner) {
		return nil, diagnostic.New("group body must end in an aggregate or a take", nil)
	}

	var transforms []rq.Transform

	switch t := inner[idx].(type) {
	case ast.Take:
		if err := validateTakeRange(t.Range); err != nil {
			return nil, err
		}

		transforms = append(transforms, rq.Transform{
			Kind:          rq.TransformTake,
			TakeRange:     rq.Range(t.Range),
			TakePartition: groupCids,
			TakeSort:      sortItems,
		})
	case ast.Aggregate:
		if len(sortItems) > 0 {
			return nil, diagnostic.New("sort before aggregate inside group is not supported", nil)
		}

		var computes []rq.Compute

		newFrame := make(frame, 0, len(groupCids)+len(t.Items))
		for i, cid := range groupCids {
			newFrame = append(newFrame, frameCol{groupNames[i], cid})
		}

		for _, it := range t.Items {
			cid, comp, _, name, err := r.resolveItem(st, it, true)
			if err != nil {
				return nil, err
			}

			if comp != nil {
				computes = append(computes, *comp)
			}

			newFrame = append(newFrame, frameCol{name, cid})
		}

		transforms = append(transforms, rq.Transform{Kind: rq.TransformAggregate, AggPartition: groupCids, AggCompute: computes})
		st.frame = newFrame
	default:
		return nil, diagnostic.New("unsupported stage inside group", nil)
	}

	idx++
	if idx != len(inner) {
		return nil, diagnostic.New("unexpected trailing stage inside group", nil)
	}

	return transforms, nil
}

// resolveWindow mirrors resolveGroup's inlining, but attaches a
// rq.Window to each qualifying Compute instead of folding into an
// aggregate transform: spec.md §4.2's "window promotion" turns a call
// expression inside `window (...)` into an OVER (...) clause rather than
// collapsing rows. Only a Compute whose expression translates to a SQL
// call (an operator or built-in function; see package sqlast's gen.go)
// can carry OVER, so a plain column reference is left alone.
//
// Compute.Window is set after resolveItem has already registered the
// Compute with *anchor.Context (RegisterCompute takes its argument by
// value), so the registration is redone once Window is attached —
// otherwise the copy package sqlast reads back out of ColumnDecls would
// never see it.
func (r *Resolver) resolveWindow(st *pstate, s ast.Window) ([]rq.Transform, error) {
	partition := make([]rq.CId, len(s.Keys))

	for i, k := range s.Keys {
		if k.Kind != ast.ExprIdent {
			return nil, diagnostic.Wrap(diagnostic.ErrTransformNotAllowed, "window key must be a bare column name", nil)
		}

		expr, err := r.resolveExpr(st, k)
		if err != nil {
			return nil, err
		}

		partition[i] = expr.ColumnRef
	}

	inner := s.Inner
	idx := 0

	var sortItems []rq.ColumnSort[rq.CId]

	if idx < len(inner) {
		if sortStage, ok := inner[idx].(ast.Sort); ok {
			for _, si := range sortStage.Items {
				expr, err := r.resolveExpr(st, si.Expr)
				if err != nil {
					return nil, err
				}

				if expr.Kind != rq.ExprColumnRef {
					return nil, diagnostic.Wrap(diagnostic.ErrTransformNotAllowed, "window's inner sort key must be a column reference", nil)
				}

				sortItems = append(sortItems, rq.ColumnSort[rq.CId]{Column: expr.ColumnRef, Desc: si.Desc})
			}

			idx++
		}
	}

	if idx >= len(inner) {
		return nil, diagnostic.New("window body must end in a derive or select", nil)
	}

	win := &rq.Window{Partition: partition, Sort: sortItems}

	promote := func(comp *rq.Compute) {
		if comp == nil {
			return
		}

		if comp.Expr.Kind != rq.ExprOperator && comp.Expr.Kind != rq.ExprBuiltInFunc {
			return
		}

		comp.Window = win
		r.ctx.RegisterCompute(*comp)
	}

	var transforms []rq.Transform

	switch t := inner[idx].(type) {
	case ast.Derive:
		for _, it := range t.Items {
			cid, comp, extra, name, err := r.resolveItem(st, it, false)
			if err != nil {
				return nil, err
			}

			promote(comp)
			transforms = append(transforms, extra...)
			st.frame = upsert(st.frame, name, cid)
		}
	case ast.SelectStage:
		var (
			selectCids []rq.CId
			newFrame   frame
		)

		for _, it := range t.Items {
			cid, comp, extra, name, err := r.resolveItem(st, it, false)
			if err != nil {
				return nil, err
			}

			promote(comp)
			transforms = append(transforms, extra...)
			selectCids = append(selectCids, cid)
			newFrame = append(newFrame, frameCol{name, cid})
		}

		transforms = append(transforms, rq.Transform{Kind: rq.TransformSelect, SelectCols: selectCids})
		st.frame = newFrame
	default:
		return nil, diagnostic.New("unsupported stage inside window", nil)
	}

	idx++
	if idx != len(inner) {
		return nil, diagnostic.New("unexpected trailing stage inside window", nil)
	}

	return transforms, nil
}

func (r *Resolver) resolveSort(st *pstate, s ast.Sort) ([]rq.Transform, error) {
	var items []rq.ColumnSort[rq.CId]

	for _, si := range s.Items {
		expr, err := r.resolveExpr(st, si.Expr)
		if err != nil {
			return nil, err
		}

		if expr.Kind != rq.ExprColumnRef {
			return nil, diagnostic.Wrap(diagnostic.ErrTransformNotAllowed, "sort key must be a column reference", nil)
		}

		items = append(items, rq.ColumnSort[rq.CId]{Column: expr.ColumnRef, Desc: si.Desc})
	}

	return []rq.Transform{{Kind: rq.TransformSort, SortBy: items}}, nil
}

func (r *Resolver) newExternalSource(table string) *openSource {
	tid := r.ctx.GenTId()
	r.decls = append(r.decls, rq.TableDecl{Id: tid, Name: table})

	ri := r.ctx.GenRIId()
	wcid := r.ctx.RegisterWildcard(ri)
	ref := &rq.TableRef{Source: tid, Columns: []rq.TableRefColumn{
		{Column: rq.RelationColumn{Kind: rq.RelColWildcard}, Id: wcid},
	}}
	r.ctx.Instances[ri] = &anchor.RelationInstance{TableRef: *ref}

	return &openSource{ri: ri, ref: ref}
}

func (r *Resolver) resolveJoin(st *pstate, s ast.Join) ([]rq.Transform, error) {
	right := r.newExternalSource(s.Table)

	var side rq.JoinSide

	switch s.Side {
	case ast.JoinLeft:
		side = rq.JoinLeft
	case ast.JoinRight:
		side = rq.JoinRight
	case ast.JoinFull:
		side = rq.JoinFull
	default:
		side = rq.JoinInner
	}

	t := rq.Transform{Kind: rq.TransformJoin, JoinSide: side, JoinWith: right.ref}

	if len(s.Using) > 0 {
		using := make([]rq.CId, len(s.Using))

		for i, name := range s.Using {
			leftCid, ok := st.frame.find(name)
			if !ok {
				return nil, diagnostic.New(fmt.Sprintf("using column `%s` is not in scope on the left side of the join", name), nil)
			}

			r.registerAdHoc(right, name)
			using[i] = leftCid
		}

		t.JoinUsing = using
	} else {
		// This reader has no qualified-identifier syntax (`this.col` /
		// `that.col`), so an unqualified name in the join condition
		// checks the outer frame first, falling back to the join's own
		// table for anything not already in scope.
		combined := &pstate{frame: st.frame, openSource: right}

		expr, err := r.resolveExpr(combined, s.Cond)
		if err != nil {
			return nil, err
		}

		t.JoinFilter = &expr
		st.frame = combined.frame
	}

	st.openSource = right

	for _, c := range right.ref.Columns {
		if c.Column.Kind == rq.RelColSingle && c.Column.Name != nil {
			st.frame = upsert(st.frame, *c.Column.Name, c.Id)
		}
	}

	return []rq.Transform{t}, nil
}

func (r *Resolver) resolveAppend(st *pstate, s ast.Append) ([]rq.Transform, error) {
	src := r.newExternalSource(s.Table)
	return []rq.Transform{{Kind: rq.TransformAppend, Append: src.ref}}, nil
}

// resolveRemove lowers `remove (inner)` into the literal anti-join shape
// srq.Preprocess's rule 6 (package srq, preprocess.go's rewriteExcept)
// already knows how to collapse into EXCEPT (or its anti-join fallback):
// a left Join against inner's output, followed by a Filter requiring
// every one of inner's shared columns to be NULL. Columns are matched by
// name between the outer frame and inner's final output.
func (r *Resolver) resolveRemove(st *pstate, s ast.Remove) ([]rq.Transform, error) {
	inner := &pstate{}

	innerTransforms, err := r.resolveStages(inner, s.Inner)
	if err != nil {
		return nil, err
	}

	outCids := anchor.DetermineSelectColumns(innerTransforms)

	cols := make([]rq.TableRefColumn, len(outCids))

	for i, cid := range outCids {
		var namePtr *string

		if name, ok := r.ctx.EnsureColumnName(cid); ok && name != "" {
			n := name
			namePtr = &n
		}

		cols[i] = rq.TableRefColumn{Column: rq.RelationColumn{Kind: rq.RelColSingle, Name: namePtr}, Id: cid}
	}

	tid := r.ctx.GenTId()
	r.decls = append(r.decls, rq.TableDecl{Id: tid, Relation: rq.Relation{Kind: rq.RelationPipeline, Pipeline: innerTransforms}})

	_, bottomRef := r.ctx.CreateRelationInstance(rq.TableRef{Source: tid, Columns: cols}, nil)

	var eqConjuncts, nullConjuncts []rq.Expr

	for _, oc := range st.frame {
		if oc.name == "" {
			continue
		}

		for _, bc := range bottomRef.Columns {
			if bc.Column.Name == nil || *bc.Column.Name != oc.name {
				continue
			}

			eqConjuncts = append(eqConjuncts, rq.Expr{
				Kind: rq.ExprOperator, OpName: "std.eq",
				OpArgs: []rq.Expr{
					{Kind: rq.ExprColumnRef, ColumnRef: oc.cid},
					{Kind: rq.ExprColumnRef, ColumnRef: bc.Id},
				},
			})
			nullConjuncts = append(nullConjuncts, rq.Expr{
				Kind: rq.ExprOperator, OpName: "std.eq",
				OpArgs: []rq.Expr{
					{Kind: rq.ExprColumnRef, ColumnRef: bc.Id},
					{Kind: rq.ExprLiteral, LitKind: rq.LiteralNull},
				},
			})

			break
		}
	}

	if len(eqConjuncts) == 0 {
		return nil, diagnostic.New("remove's inner pipeline shares no column with the outer relation", nil)
	}

	refCopy := bottomRef
	joinT := rq.Transform{Kind: rq.TransformJoin, JoinSide: rq.JoinLeft, JoinWith: &refCopy, JoinFilter: andExprs(eqConjuncts)}
	filterT := rq.Transform{Kind: rq.TransformFilter, FilterExpr: andExprs(nullConjuncts)}

	return []rq.Transform{joinT, filterT}, nil
}

func andExprs(es []rq.Expr) *rq.Expr {
	if len(es) == 0 {
		return nil
	}

	result := es[0]
	for _, e := range es[1:] {
		result = rq.Expr{Kind: rq.ExprOperator, OpName: "std.and", OpArgs: []rq.Expr{result, e}}
	}

	return &result
}

func (r *Resolver) resolveExpr(st *pstate, e ast.Expr) (rq.Expr, error) {
	switch e.Kind {
	case ast.ExprIdent:
		return r.resolveIdent(st, e.Ident)
	case ast.ExprLitInt:
		return rq.Expr{Kind: rq.ExprLiteral, LitKind: rq.LiteralInteger, LitText: strconv.FormatInt(e.Int, 10)}, nil
	case ast.ExprLitFloat:
		return rq.Expr{Kind: rq.ExprLiteral, LitKind: rq.LiteralFloat, LitText: strconv.FormatFloat(e.Float, 'g', -1, 64)}, nil
	case ast.ExprLitString:
		return rq.Expr{Kind: rq.ExprLiteral, LitKind: rq.LiteralString, LitText: e.Str}, nil
	case ast.ExprLitBool:
		text := "false"
		if e.Bool {
			text = "true"
		}

		return rq.Expr{Kind: rq.ExprLiteral, LitKind: rq.LiteralBool, LitText: text}, nil
	case ast.ExprLitNull:
		return rq.Expr{Kind: rq.ExprLiteral, LitKind: rq.LiteralNull}, nil
	case ast.ExprBinary:
		return r.resolveBinary(st, e)
	case ast.ExprUnary:
		return r.resolveUnary(st, e)
	case ast.ExprFuncCall:
		return r.resolveFuncCall(st, e)
	case ast.ExprCase:
		return r.resolveCase(st, e)
	case ast.ExprSString:
		return r.resolveInterp(st, rq.ExprSString, e.Interp)
	case ast.ExprFString:
		return r.resolveInterp(st, rq.ExprFString, e.Interp)
	case ast.ExprParam:
		return rq.Expr{Kind: rq.ExprParam, ParamName: e.ParamName}, nil
	default:
		return rq.Expr{}, diagnostic.New(fmt.Sprintf("unsupported expression %v in this position", e.Kind), nil)
	}
}

// resolveCase lowers `case [cond => value, ...]`: the last branch whose
// condition is the bare literal `true` becomes CaseDefault (spec.md
// §4.2), every other branch a CaseBranch evaluated in order.
func (r *Resolver) resolveCase(st *pstate, e ast.Expr) (rq.Expr, error) {
	var branches []rq.CaseBranch

	var def *rq.Expr

	for _, arm := range e.CaseArms {
		value, err := r.resolveExpr(st, arm.Value)
		if err != nil {
			return rq.Expr{}, err
		}

		if arm.Cond.Kind == ast.ExprLitBool && arm.Cond.Bool {
			d := value
			def = &d

			continue
		}

		cond, err := r.resolveExpr(st, arm.Cond)
		if err != nil {
			return rq.Expr{}, err
		}

		branches = append(branches, rq.CaseBranch{Cond: cond, Value: value})
	}

	return rq.Expr{Kind: rq.ExprCase, CaseBranches: branches, CaseDefault: def}, nil
}

// resolveInterp lowers an s-string/f-string's parsed pieces into RQ's
// InterpolateItem list, resolving every embedded `{expr}` against the
// current frame.
func (r *Resolver) resolveInterp(st *pstate, kind rq.ExprKind, parts []ast.InterpPart) (rq.Expr, error) {
	items := make([]rq.InterpolateItem, len(parts))

	for i, p := range parts {
		switch p.Kind {
		case ast.InterpExpr:
			inner, err := r.resolveExpr(st, *p.Expr)
			if err != nil {
				return rq.Expr{}, err
			}

			items[i] = rq.InterpolateItem{Kind: rq.InterpolateExpr, Expr: &inner}
		default:
			items[i] = rq.InterpolateItem{Kind: rq.InterpolateString, Text: p.Text}
		}
	}

	return rq.Expr{Kind: kind, Interp: items}, nil
}

func (r *Resolver) resolveIdent(st *pstate, name string) (rq.Expr, error) {
	if cid, ok := st.frame.find(name); ok {
		return rq.Expr{Kind: rq.ExprColumnRef, ColumnRef: cid}, nil
	}

	// A bare name with no argument list can still be a call to a
	// zero-arity function (`row_number`, `rank`, `now`): tried before
	// the ad-hoc external-column fallback, since those names are never
	// meant to be columns.
	if fq, id, ferr := r.lookupFunc(name); ferr == nil {
		d := r.graph.Arena.Get(id)
		if len(d.FuncParams) == 0 {
			return r.resolveCall(st, fq, d, nil, nil)
		}
	}

	if st.openSource != nil {
		cid := r.registerAdHoc(st.openSource, name)
		st.frame = append(st.frame, frameCol{name, cid})

		return rq.Expr{Kind: rq.ExprColumnRef, ColumnRef: cid}, nil
	}

	return rq.Expr{}, diagnostic.Wrap(diagnostic.ErrUnknownName, fmt.Sprintf("unknown column `%s`", name), nil).WithCode("E0301")
}

// binOpToStd maps this reader's infix/keyword operators to std.*, the
// same names package sqlast's gen.go translates back out of (directly,
// for arithmetic/comparison; via stdlib.ResolveFunctionName for anything
// it doesn't special-case).
var binOpToStd = map[string]string{
	"==": "eq", "!=": "ne", "<": "lt", "<=": "lte", ">": "gt", ">=": "gte",
	"+": "add", "-": "sub", "*": "mul", "/": "div", "%": "mod",
	"and": "and", "or": "or", "++": "concat",
}

func (r *Resolver) resolveBinary(st *pstate, e ast.Expr) (rq.Expr, error) {
	std, ok := binOpToStd[e.Op]
	if !ok {
		return rq.Expr{}, diagnostic.New(fmt.Sprintf("unknown operator %q", e.Op), nil)
	}

	left, err := r.resolveExpr(st, *e.Left)
	if err != nil {
		return rq.Expr{}, err
	}

	right, err := r.resolveExpr(st, *e.Right)
	if err != nil {
		return rq.Expr{}, err
	}

	return rq.Expr{Kind: rq.ExprOperator, OpName: "std." + std, OpArgs: []rq.Expr{left, right}}, nil
}

func (r *Resolver) resolveUnary(st *pstate, e ast.Expr) (rq.Expr, error) {
	std := "neg"
	if e.Op == "not" {
		std = "not"
	}

	operand, err := r.resolveExpr(st, *e.Left)
	if err != nil {
		return rq.Expr{}, err
	}

	return rq.Expr{Kind: rq.ExprOperator, OpName: "std." + std, OpArgs: []rq.Expr{operand}}, nil
}

// resolveFuncCall lowers a curried call like `average salary` by looking
// its name up through the module.Graph's std redirect (spec.md §4.1: a
// bare name also tries "std.<name>") alongside any `let`-declared
// function installed by installFuncs, then dispatching on which kind it
// found.
func (r *Resolver) resolveFuncCall(st *pstate, e ast.Expr) (rq.Expr, error) {
	fq, id, err := r.lookupFunc(e.FuncName)
	if err != nil {
		return rq.Expr{}, err
	}

	return r.resolveCall(st, fq, r.graph.Arena.Get(id), e.Args, e.Named)
}

// lookupFunc resolves name to exactly one function declaration, std or
// user-declared, through the shared module.Graph.
func (r *Resolver) lookupFunc(name string) (ident.Ident, decl.Id, error) {
	matches := r.graph.Lookup(r.graph.Root, ident.FromName(name))

	switch len(matches) {
	case 0:
		return ident.Ident{}, 0, diagnostic.Wrap(diagnostic.ErrUnknownName, fmt.Sprintf("unknown function `%s`", name), nil).WithCode("E0304")
	case 1:
		id, _ := r.graph.Get(matches[0])
		return matches[0], id, nil
	default:
		return ident.Ident{}, 0, diagnostic.Wrap(diagnostic.ErrAmbiguousName, fmt.Sprintf("ambiguous function `%s`", name), nil)
	}
}

// resolveCall dispatches a resolved function declaration to the std
// operator path (FuncBody nil: std.prql functions only ever declare
// their parameter list) or the user-function inlining path.
func (r *Resolver) resolveCall(st *pstate, fq ident.Ident, d *decl.Decl, args []ast.Expr, named []ast.Item) (rq.Expr, error) {
	if d.FuncBody == nil {
		return r.resolveStdCall(st, fq, d, args, named)
	}

	return r.resolveUserCall(st, fq.Name, d, args, named)
}

func (r *Resolver) resolveStdCall(st *pstate, fq ident.Ident, d *decl.Decl, args []ast.Expr, named []ast.Item) (rq.Expr, error) {
	if err := checkArity(fq.Name, d.FuncParams, len(args), named); err != nil {
		return rq.Expr{}, err
	}

	rargs := make([]rq.Expr, 0, len(args)+len(named))

	for _, a := range args {
		ra, err := r.resolveExpr(st, a)
		if err != nil {
			return rq.Expr{}, err
		}

		rargs = append(rargs, ra)
	}

	for _, n := range named {
		ra, err := r.resolveExpr(st, n.Expr)
		if err != nil {
			return rq.Expr{}, err
		}

		rargs = append(rargs, ra)
	}

	return rq.Expr{Kind: rq.ExprOperator, OpName: fq.String(), OpArgs: rargs}, nil
}

// resolveUserCall fully or partially applies a `let`-declared function's
// body: args/named are substituted for d's declared parameters (plus any
// already bound by an earlier partial application), and the resulting
// expression is resolved as if it had been written inline.
func (r *Resolver) resolveUserCall(st *pstate, name string, d *decl.Decl, args []ast.Expr, named []ast.Item) (rq.Expr, error) {
	if err := checkArity(name, d.FuncParams, len(args), named); err != nil {
		return rq.Expr{}, err
	}

	bindings := map[string]ast.Expr{}

	if bb, ok := d.FuncBody.(*boundBody); ok {
		for k, v := range bb.bound {
			bindings[k] = v
		}
	}

	for i, a := range args {
		bindings[d.FuncParams[i].Name] = a
	}

	for _, n := range named {
		bindings[n.Name] = n.Expr
	}

	return r.resolveExpr(st, substituteExpr(funcBodyExpr(d.FuncBody), bindings))
}

// checkArity validates a call's arguments against params: every named
// argument must name a real parameter (else ErrUnexpectedNamedArg), and
// together they must supply exactly one value per parameter (else
// ErrWrongArity). This reader's grammar has no default-valued parameters,
// so there is no partial match short of the currying installPartial
// already handles at `let` time.
func checkArity(name string, params []decl.Param, nPos int, named []ast.Item) error {
	declared := make(map[string]bool, len(params))
	for _, p := range params {
		declared[p.Name] = true
	}

	for _, n := range named {
		if !declared[n.Name] {
			return diagnostic.Wrap(diagnostic.ErrUnexpectedNamedArg, fmt.Sprintf("function `%s` has no parameter named `%s`", name, n.Name), nil)
		}
	}

	if nPos+len(named) != len(params) {
		return diagnostic.Wrap(diagnostic.ErrWrongArity, fmt.Sprintf("function `%s` expects %d argument(s), got %d", name, len(params), nPos+len(named)), nil)
	}

	return nil
}
