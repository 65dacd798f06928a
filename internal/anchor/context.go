// Package anchor implements the AnchorContext of spec.md §3.6/§4.3: the
// stateful bookkeeper for SQL generation — id generators, a column-name
// cache, a table-instance registry, and CTE table declarations. It is
// mutated throughout lowering (package srq) and owned exclusively by one
// compilation, per spec.md §5.
package anchor

import (
	"fmt"

	"github.com/shibukawa/snapsql/internal/rq"
)

// RIId is a relation-instance id: a key addressing one use of a table
// within a pipeline (carries its cid redirects and alias).
type RIId int

// ColumnDeclKind tags ColumnDecl's variant.
type ColumnDeclKind string

const (
	ColumnDeclRelation ColumnDeclKind = "relation_column"
	ColumnDeclCompute  ColumnDeclKind = "compute"
)

// ColumnDecl is what a CId resolves to: either a column carried through a
// specific relation instance, or a computed expression.
type ColumnDecl struct {
	Kind ColumnDeclKind

	RIId   RIId               // ColumnDeclRelation
	SrcCId rq.CId             // ColumnDeclRelation: the cid within that instance
	RelCol rq.RelationColumn  // ColumnDeclRelation

	Compute *rq.Compute // ColumnDeclCompute
}

// RelationStatus tags whether a SqlTableDecl's relation content has been
// emitted yet in the current scope.
type RelationStatus string

const (
	NotYetDefined RelationStatus = "not_yet_defined"
	Defined       RelationStatus = "defined"
)

// SqlTableDecl is a table declaration as seen by SQL generation: either an
// external table (always Defined) or a CTE whose body is emitted lazily,
// the first time it's referenced.
type SqlTableDecl struct {
	Id       rq.TId
	Name     *string
	Status   RelationStatus
	Content  any // the NotYetDefined relation contents (an srq.SqlRelation, or nil); typed any to avoid an import cycle with package srq
}

// RelationInstance records one use of a table within a pipeline: its
// TableRef plus the cid redirects that translate references made inside
// the originating pipeline segment into references valid in the
// containing segment.
type RelationInstance struct {
	TableRef     rq.TableRef
	CidRedirects map[rq.CId]rq.CId
}

// Context is the AnchorContext of spec.md §3.6.
type Context struct {
	ColumnDecls map[rq.CId]*ColumnDecl
	ColumnNames map[rq.CId]string
	TableDecls  map[rq.TId]*SqlTableDecl
	Instances   map[RIId]*RelationInstance

	nextCId rq.CId
	nextTId rq.TId
	nextRI  RIId

	exprNameSeq  int
	tableNameSeq int

	cteOrder []rq.TId
}

// New builds an empty Context.
func New() *Context {
	return &Context{
		ColumnDecls: map[rq.CId]*ColumnDecl{},
		ColumnNames: map[rq.CId]string{},
		TableDecls:  map[rq.TId]*SqlTableDecl{},
		Instances:   map[RIId]*RelationInstance{},
	}
}

// RecordCte appends id to the CTE materialization order. Codegen walks
// CteOrder rather than ranging over TableDecls so that WITH entries come out
// in the deterministic DFS order spec.md §5 requires instead of Go's
// randomized map iteration order.
func (c *Context) RecordCte(id rq.TId) {
	c.cteOrder = append(c.cteOrder, id)
}

// CteOrder returns every CTE id in the order RecordCte was called.
func (c *Context) CteOrder() []rq.TId {
	return c.cteOrder
}

// GenCId allocates a fresh column id.
func (c *Context) GenCId() rq.CId {
	c.nextCId++
	return c.nextCId
}

// GenTId allocates a fresh table id.
func (c *Context) GenTId() rq.TId {
	c.nextTId++
	return c.nextTId
}

// GenRIId allocates a fresh relation-instance id.
func (c *Context) GenRIId() RIId {
	c.nextRI++
	return c.nextRI
}

// RegisterCompute installs a Compute's id as a ColumnDecl and returns its
// cid (the Compute already carries the id it was allocated with).
func (c *Context) RegisterCompute(compute rq.Compute) rq.CId {
	c.ColumnDecls[compute.Id] = &ColumnDecl{Kind: ColumnDeclCompute, Compute: &compute}
	return compute.Id
}

// RegisterWildcard creates a synthetic wildcard column bound to a given
// relation instance and returns its freshly allocated cid.
func (c *Context) RegisterWildcard(ri RIId) rq.CId {
	id := c.GenCId()
	c.ColumnDecls[id] = &ColumnDecl{
		Kind:   ColumnDeclRelation,
		RIId:   ri,
		SrcCId: id,
		RelCol: rq.RelationColumn{Kind: rq.RelColWildcard},
	}

	return id
}

// CreateRelationInstance assigns a new RIId for ref, installs a
// ColumnDecl for each of its columns, stores cidRedirects, and returns a
// TableRef whose column ids are the freshly minted ones (so the caller's
// pipeline segment refers to instance-local ids from here on).
func (c *Context) CreateRelationInstance(ref rq.TableRef, cidRedirects map[rq.CId]rq.CId) (RIId, rq.TableRef) {
	ri := c.GenRIId()

	newCols := make([]rq.TableRefColumn, len(ref.Columns))

	for i, col := range ref.Columns {
		newID := c.GenCId()
		c.ColumnDecls[newID] = &ColumnDecl{
			Kind:   ColumnDeclRelation,
			RIId:   ri,
			SrcCId: col.Id,
			RelCol: col.Column,
		}
		newCols[i] = rq.TableRefColumn{Column: col.Column, Id: newID}
	}

	newRef := ref
	newRef.Columns = newCols

	c.Instances[ri] = &RelationInstance{TableRef: newRef, CidRedirects: cidRedirects}

	return ri, newRef
}

// EnsureColumnName returns a stable name for cid: for wildcard decls it
// returns ok=false (there is no single name); for single relation columns
// it returns the declared name if any; otherwise it allocates (once, then
// caches) from the `_expr_N` generator.
func (c *Context) EnsureColumnName(cid rq.CId) (string, bool) {
	if name, ok := c.ColumnNames[cid]; ok {
		return name, true
	}

	decl, ok := c.ColumnDecls[cid]
	if !ok {
		return "", false
	}

	if decl.Kind == ColumnDeclRelation {
		if decl.RelCol.Kind == rq.RelColWildcard {
			return "", false
		}

		if decl.RelCol.Name != nil {
			c.ColumnNames[cid] = *decl.RelCol.Name
			return *decl.RelCol.Name, true
		}
	}

	name := c.nextExprName()
	c.ColumnNames[cid] = name

	return name, true
}

func (c *Context) nextExprName() string {
	name := fmt.Sprintf("_expr_%d", c.exprNameSeq)
	c.exprNameSeq++

	return name
}

// NextTableName allocates a fresh `table_N` name.
func (c *Context) NextTableName() string {
	name := fmt.Sprintf("table_%d", c.tableNameSeq)
	c.tableNameSeq++

	return name
}

// DetermineSelectColumns computes the columns carried out of pipeline by
// scanning from the end, per spec.md §4.3: the last Select/Aggregate
// dominates; otherwise walk back through From/Join (union) and
// pass-through transforms.
func DetermineSelectColumns(pipeline []rq.Transform) []rq.CId {
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
			return tableRefCIds(t.From)
		case rq.TransformJoin:
			out := tableRefCIds(findPrecedingFrom(pipeline, i))
			out = append(out, tableRefCIds(t.JoinWith)...)

			return out
		}
	}

	return nil
}

func findPrecedingFrom(pipeline []rq.Transform, beforeIdx int) *rq.TableRef {
	for i := beforeIdx - 1; i >= 0; i-- {
		if pipeline[i].Kind == rq.TransformFrom {
			return pipeline[i].From
		}
	}

	return nil
}

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

// CollectPipelineInputs returns every table referenced by From/Join and
// every column those inputs produce.
func CollectPipelineInputs(pipeline []rq.Transform) ([]rq.TId, map[rq.CId]bool) {
	var tids []rq.TId

	cids := map[rq.CId]bool{}

	collect := func(ref *rq.TableRef) {
		if ref == nil {
			return
		}

		tids = append(tids, ref.Source)

		for _, c := range ref.Columns {
			cids[c.Id] = true
		}
	}

	for _, t := range pipeline {
		switch t.Kind {
		case rq.TransformFrom:
			collect(t.From)
		case rq.TransformJoin:
			collect(t.JoinWith)
		}
	}

	return tids, cids
}
