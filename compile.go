package snapsql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/shibukawa/snapsql/internal/anchor"
	"github.com/shibukawa/snapsql/internal/ast"
	"github.com/shibukawa/snapsql/internal/diagnostic"
	"github.com/shibukawa/snapsql/internal/dialect"
	"github.com/shibukawa/snapsql/internal/resolver"
	"github.com/shibukawa/snapsql/internal/rq"
	"github.com/shibukawa/snapsql/internal/sqlast"
	"github.com/shibukawa/snapsql/internal/srq"
	"github.com/shibukawa/snapsql/internal/version"
)

// PrqlToPL parses source text into a syntax tree, the first of the three
// named stages of spec.md §6's public API (prql_to_pl). An unknown query
// header field is wrapped with ErrUnknownHeaderField so callers can match
// it with errors.Is without depending on the parser's wording.
func PrqlToPL(source string) (*ast.Query, error) {
	q, err := ast.Parse(source)
	if err != nil {
		var parseErr *ast.ParseError
		if errors.As(err, &parseErr) && strings.HasPrefix(parseErr.Msg, "unknown query header field") {
			return nil, fmt.Errorf("%w: %w", ErrUnknownHeaderField, err)
		}

		return nil, err
	}

	return q, nil
}

// PlToRQ resolves a syntax tree into the relational IR, spec.md §6's
// pl_to_rq stage. ctx is the AnchorContext shared by this and RQToSQL for
// the whole compilation (spec.md §3.6/§5: one AnchorContext per
// compilation, since CId/TId allocation must stay unique across both
// stages).
func PlToRQ(ctx *anchor.Context, q *ast.Query) (*rq.Query, error) {
	return resolver.Resolve(ctx, q)
}

// RQToSQL lowers a resolved query into dialect-specific SQL text, spec.md
// §6's rq_to_sql stage: preprocessing and anchoring (package srq), loop
// extraction, SQL AST generation, and printing.
func RQToSQL(ctx *anchor.Context, q *rq.Query, opts Options) (string, error) {
	dlg, err := selectDialect(q, opts)
	if err != nil {
		return "", err
	}

	if q.Def != nil && q.Def.Version != "" {
		if err := version.Check(q.Def.Version); err != nil {
			return "", fmt.Errorf("%w: %w", ErrIncompatibleVersion, err)
		}
	}

	lw := &lowerer{ctx: ctx, dlg: dlg}

	for _, decl := range q.Decls {
		if err := lw.materializeDecl(decl); err != nil {
			return "", err
		}
	}

	main, err := lw.lowerPipeline(q.Main.Pipeline)
	if err != nil {
		return "", err
	}

	query := srq.SqlQuery{Ctes: lw.buildCtes(), Main: main}

	srq.PostprocessSortAndNames(&query, ctx)

	gen := sqlast.NewGenerator(ctx, dlg)
	astQuery := gen.TranslateQuery(query)

	text := sqlast.Printer{Dlg: dlg, Format: opts.Format}.Print(astQuery)

	return finalize(text, opts), nil
}

// Compile runs all three stages over source, the convenience entry point
// named directly by spec.md §6 ("compile(prql, opts) -> Result<String,
// Errors>"). Errors are attached to the compiled source so Display can
// render a snippet.
func Compile(source string, opts Options) (string, error) {
	pl, err := PrqlToPL(source)
	if err != nil {
		return "", attachSource(err, source)
	}

	ctx := anchor.New()

	rqQuery, err := PlToRQ(ctx, pl)
	if err != nil {
		return "", attachSource(err, source)
	}

	sqlText, err := RQToSQL(ctx, rqQuery, opts)
	if err != nil {
		return "", attachSource(err, source)
	}

	return sqlText, nil
}

// attachSource fills in an already-built diagnostic.Error's Source field
// so Display renders a source snippet, leaving any other error untouched.
func attachSource(err error, source string) error {
	var diagErr *diagnostic.Error
	if errors.As(err, &diagErr) {
		diagErr.WithSource("", source)
	}

	return err
}

// selectDialect applies spec.md §4.9's precedence: an explicit
// Options.Target wins, then the query header's own target, then generic.
// An Options.Target of "sql.any" (or empty) defers to the header.
func selectDialect(q *rq.Query, opts Options) (dialect.Handler, error) {
	target := opts.Target
	if (target == "" || target == "sql.any") && q.Def != nil {
		target = q.Def.Target
	}

	d, ok := dialect.FromHeader(target)
	if !ok {
		return dialect.For(dialect.Generic), nil
	}

	return dialect.For(d), nil
}

// finalize appends a per-compilation signature comment, when requested,
// fingerprinted with a random UUID, mirroring the teacher's
// query/sql_generator.go use of uuid.NewString() for synthetic
// identifiers. The Printer already applies Options.Format's own trailing
// newline; this only re-anchors it after the appended comment line.
func finalize(sqlText string, opts Options) string {
	if opts.SignatureComment {
		sqlText = strings.TrimRight(sqlText, "\n")
		sqlText += "\n-- Generated by prqlgo compiler (run " + uuid.NewString() + ")"

		if opts.Format {
			sqlText += "\n"
		}
	}

	return sqlText
}

// lowerer drives one compilation's rq.Query -> srq.SqlQuery lowering. It
// tracks the loop-derived CTEs separately from ctx.TableDecls (whose
// Content field only ever holds a plain srq.SqlRelation) and relies on
// ctx.CteOrder for the deterministic emission order spec.md §5 requires.
type lowerer struct {
	ctx      *anchor.Context
	dlg      dialect.Handler
	loopCtes map[rq.TId]srq.Cte
}

// materializeDecl lowers one resolved table declaration into ctx, either
// as an always-defined external table reference or as a CTE whose body is
// lowered now and recorded in emission order.
func (lw *lowerer) materializeDecl(d rq.TableDecl) error {
	if d.Relation.Kind == "" {
		name := d.Name
		lw.ctx.TableDecls[d.Id] = &anchor.SqlTableDecl{Id: d.Id, Name: &name, Status: anchor.Defined}

		return nil
	}

	rel, err := lw.lowerRelation(d.Relation)
	if err != nil {
		return err
	}

	lw.ctx.TableDecls[d.Id] = &anchor.SqlTableDecl{Id: d.Id, Status: anchor.NotYetDefined, Content: rel}
	lw.ctx.RecordCte(d.Id)

	return nil
}

// lowerRelation translates one rq.Relation sum-type value into its SRQ
// counterpart, recursing into lowerPipeline for the Pipeline variant.
func (lw *lowerer) lowerRelation(rel rq.Relation) (srq.SqlRelation, error) {
	switch rel.Kind {
	case rq.RelationPipeline:
		return lw.lowerPipeline(rel.Pipeline)
	case rq.RelationLiteral:
		return srq.SqlRelation{Kind: srq.SqlRelLiteral, Literal: rel.Literal}, nil
	case rq.RelationSString:
		return srq.SqlRelation{Kind: srq.SqlRelSString, SString: rel.SString}, nil
	case rq.RelationBuiltInFunc:
		return srq.SqlRelation{Kind: srq.SqlRelOperator, OpName: rel.FuncName, OpArgs: rel.FuncArgs}, nil
	default:
		return srq.SqlRelation{}, fmt.Errorf("%w: unhandled relation kind %q", ErrInternalBug, rel.Kind)
	}
}

// lowerPipeline lowers one raw rq.Transform pipeline, splitting around a
// TransformLoop (spec.md §4.6) when present and otherwise running it
// straight through preprocessing and anchor splitting.
func (lw *lowerer) lowerPipeline(pipeline []rq.Transform) (srq.SqlRelation, error) {
	loopIdx := -1

	for i, t := range pipeline {
		if t.Kind == rq.TransformLoop {
			loopIdx = i
			break
		}
	}

	if loopIdx == -1 {
		return lw.lowerAtomicChain(pipeline)
	}

	prefix, loopT, suffix := pipeline[:loopIdx], pipeline[loopIdx], pipeline[loopIdx+1:]

	if len(prefix) == 0 {
		return srq.SqlRelation{}, ErrLoopWithoutAtomicHead
	}

	initialRel, err := lw.lowerAtomicChain(prefix)
	if err != nil {
		return srq.SqlRelation{}, err
	}

	initialCols := srq.DetermineSelectColumnsSql(initialRel.Pipeline)

	recursiveTId := lw.ctx.GenTId()
	recursiveName := lw.ctx.NextTableName()

	fromCols := make([]rq.TableRefColumn, len(initialCols))

	for i, cid := range initialCols {
		var name *string
		if n, ok := lw.ctx.EnsureColumnName(cid); ok {
			name = &n
		}

		fromCols[i] = rq.TableRefColumn{Column: rq.RelationColumn{Kind: rq.RelColSingle, Name: name}, Id: cid}
	}

	selfRef := rq.TableRef{Source: recursiveTId, Columns: fromCols}
	syntheticFrom := rq.Transform{Kind: rq.TransformFrom, From: &selfRef}

	rawStep := append([]rq.Transform{syntheticFrom}, loopT.LoopBody...)
	outCols := simulateFrame(lw.ctx, rawStep)
	step := ensureTerminalSelect(lw.ctx, rawStep)

	cte, err := srq.LowerLoop(initialRel, step, recursiveTId, recursiveName, lw.ctx, lw.dlg)
	if err != nil {
		return srq.SqlRelation{}, err
	}

	lw.ctx.TableDecls[recursiveTId] = &anchor.SqlTableDecl{Id: recursiveTId, Name: &recursiveName, Status: anchor.Defined}
	lw.ctx.RecordCte(recursiveTId)

	if lw.loopCtes == nil {
		lw.loopCtes = map[rq.TId]srq.Cte{}
	}

	lw.loopCtes[recursiveTId] = cte

	if len(suffix) == 0 {
		resultRef := rq.TableRef{Source: recursiveTId, Columns: buildTableRefColumns(lw.ctx, outCols)}

		return srq.SqlRelation{
			Kind:     srq.SqlRelAtomicPipeline,
			Pipeline: []srq.SqlTransform{{Kind: srq.STSuper, Super: rq.Transform{Kind: rq.TransformFrom, From: &resultRef}}},
		}, nil
	}

	ref := rq.TableRef{Source: recursiveTId, Columns: buildTableRefColumns(lw.ctx, outCols)}
	redirects := map[rq.CId]rq.CId{}
	_, newRef := lw.ctx.CreateRelationInstance(ref, redirects)

	for i, cid := range outCols {
		redirects[cid] = newRef.Columns[i].Id
	}

	redirectedSuffix := make([]rq.Transform, 0, len(suffix)+1)
	redirectedSuffix = append(redirectedSuffix, rq.Transform{Kind: rq.TransformFrom, From: &newRef})
	redirectedSuffix = append(redirectedSuffix, foldTransforms(lw.ctx, redirects, suffix)...)

	return lw.lowerAtomicChain(redirectedSuffix)
}

// lowerAtomicChain runs one non-loop raw pipeline through preprocessing
// and atomic/anchor splitting (package srq), after guaranteeing it ends in
// an explicit projection (see ensureTerminalSelect).
func (lw *lowerer) lowerAtomicChain(pipeline []rq.Transform) (srq.SqlRelation, error) {
	pipeline = ensureTerminalSelect(lw.ctx, pipeline)

	wrapped, err := srq.Preprocess(pipeline, lw.dlg)
	if err != nil {
		return srq.SqlRelation{}, err
	}

	atomic := srq.ExtractAtomic(wrapped, lw.ctx)

	return srq.SqlRelation{Kind: srq.SqlRelAtomicPipeline, Pipeline: atomic}, nil
}

// buildCtes assembles the final, deterministically ordered CTE list from
// ctx.CteOrder, pulling each body from either the lowerer's loop CTEs or
// ctx.TableDecls' lowered relation content.
func (lw *lowerer) buildCtes() []srq.Cte {
	order := lw.ctx.CteOrder()
	ctes := make([]srq.Cte, 0, len(order))

	for _, id := range order {
		if cte, ok := lw.loopCtes[id]; ok {
			ctes = append(ctes, cte)
			continue
		}

		decl, ok := lw.ctx.TableDecls[id]
		if !ok {
			continue
		}

		rel, ok := decl.Content.(srq.SqlRelation)
		if !ok {
			continue
		}

		ctes = append(ctes, srq.Cte{Id: id, Kind: srq.CteKind{Tag: srq.CteNormal, Normal: &rel}})
	}

	return ctes
}

// buildTableRefColumns builds a TableRef's column list for cids that are
// already allocated (e.g. a loop's recursive self-reference), looking up
// each one's stable name rather than minting a new one.
func buildTableRefColumns(ctx *anchor.Context, cids []rq.CId) []rq.TableRefColumn {
	cols := make([]rq.TableRefColumn, len(cids))

	for i, cid := range cids {
		var name *string
		if n, ok := ctx.EnsureColumnName(cid); ok {
			name = &n
		}

		cols[i] = rq.TableRefColumn{Column: rq.RelationColumn{Kind: rq.RelColSingle, Name: name}, Id: cid}
	}

	return cols
}

// ensureTerminalSelect appends a synthetic TransformSelect to pipeline
// when it doesn't already end in one (or in an Aggregate, which projects
// just as definitively). Without this, a pipeline ending in a bare
// `derive` has its newly computed columns silently dropped: neither
// anchor.DetermineSelectColumns nor srq.DetermineSelectColumnsSql has a
// case for a Compute-terminated pipeline, so both fall through to
// whatever From/Join preceded it.
func ensureTerminalSelect(ctx *anchor.Context, pipeline []rq.Transform) []rq.Transform {
	if n := len(pipeline); n > 0 {
		switch pipeline[n-1].Kind {
		case rq.TransformSelect, rq.TransformAggregate:
			return pipeline
		}
	}

	cols := simulateFrame(ctx, pipeline)
	if cols == nil {
		return pipeline
	}

	out := make([]rq.Transform, len(pipeline), len(pipeline)+1)
	copy(out, pipeline)

	return append(out, rq.Transform{Kind: rq.TransformSelect, SelectCols: cols})
}

// simulateFrame replays the resolver's frame/upsert rule (package
// resolver: name-keyed rebinding, append for unnamed columns) purely from
// already-resolved rq.Transform data and ctx.ColumnNames, to recover what
// columns a raw pipeline segment carries out the end when no later pass
// records that directly. Used both for ensureTerminalSelect and to learn
// what a loop body's step rebinds, since the resolver's own frame isn't
// available this far downstream.
func simulateFrame(ctx *anchor.Context, pipeline []rq.Transform) []rq.CId {
	var cols []rq.CId

	for _, t := range pipeline {
		switch t.Kind {
		case rq.TransformFrom:
			cols = tableRefCIds(t.From)
		case rq.TransformJoin:
			cols = append(append([]rq.CId(nil), cols...), tableRefCIds(t.JoinWith)...)
		case rq.TransformCompute:
			if t.Compute != nil {
				cols = upsertCid(ctx, cols, t.Compute.Id)
			}
		case rq.TransformSelect:
			cols = append([]rq.CId(nil), t.SelectCols...)
		case rq.TransformAggregate:
			out := append([]rq.CId(nil), t.AggPartition...)
			for _, c := range t.AggCompute {
				out = append(out, c.Id)
			}

			cols = out
		}
	}

	return cols
}

// upsertCid rebinds cols' entry named the same as cid (per ctx.ColumnNames)
// in place, or appends cid when it's unnamed or introduces a new name —
// the same rule package resolver's frame.upsert applies during resolution.
func upsertCid(ctx *anchor.Context, cols []rq.CId, cid rq.CId) []rq.CId {
	name, ok := ctx.ColumnNames[cid]
	if !ok {
		return append(cols, cid)
	}

	for i, c := range cols {
		if n, ok := ctx.ColumnNames[c]; ok && n == name {
			cols[i] = cid
			return cols
		}
	}

	return append(cols, cid)
}

// foldTransforms rewrites every cid/tid reference in transforms via
// redirects, re-registering any Compute it rewrites so ctx.ColumnDecls
// stays in sync — the one step rq.Folder's generic recursion doesn't do
// itself, mirroring srq.CidRedirector.FoldSqlTransform's identical
// RegisterCompute-after-fold pattern at the raw-rq level.
func foldTransforms(ctx *anchor.Context, redirects map[rq.CId]rq.CId, transforms []rq.Transform) []rq.Transform {
	redirector := srq.NewCidRedirector(redirects, ctx)
	folder := rq.Folder{Impl: redirector}

	out := make([]rq.Transform, len(transforms))

	for i, t := range transforms {
		ft := folder.FoldTransform(t)

		if ft.Kind == rq.TransformCompute && ft.Compute != nil {
			ctx.RegisterCompute(*ft.Compute)
		}

		out[i] = ft
	}

	return out
}

// tableRefCIds returns the ordered cids a TableRef carries, or nil for a
// nil ref.
func tableRefCIds(ref *rq.TableRef) []rq.CId {
	if ref == nil {
		return nil
	}

	out := make([]rq.CId, len(ref.Columns))
	for i, c := range ref.Columns {
		out[i] = c.Id
	}

	return out
}
