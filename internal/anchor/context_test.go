package anchor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/shibukawa/snapsql/internal/rq"
)

func TestGenIdsAreMonotonic(t *testing.T) {
	ctx := New()
	a := ctx.GenCId()
	b := ctx.GenCId()
	assert.NotEqual(t, a, b)
}

func TestEnsureColumnNameAllocatesOnce(t *testing.T) {
	ctx := New()
	cid := ctx.GenCId()
	ctx.ColumnDecls[cid] = &ColumnDecl{Kind: ColumnDeclCompute, Compute: &rq.Compute{Id: cid}}

	name1, ok := ctx.EnsureColumnName(cid)
	assert.True(t, ok)
	assert.Equal(t, "_expr_0", name1)

	name2, ok := ctx.EnsureColumnName(cid)
	assert.True(t, ok)
	assert.Equal(t, name1, name2)
}

func TestEnsureColumnNameWildcardReturnsFalse(t *testing.T) {
	ctx := New()
	ri, _ := ctx.CreateRelationInstance(rq.TableRef{}, nil)
	cid := ctx.RegisterWildcard(ri)

	_, ok := ctx.EnsureColumnName(cid)
	assert.False(t, ok)
}

func TestDetermineSelectColumnsUsesLastSelect(t *testing.T) {
	pipeline := []rq.Transform{
		{Kind: rq.TransformFrom, From: &rq.TableRef{Columns: []rq.TableRefColumn{{Id: 1}, {Id: 2}}}},
		{Kind: rq.TransformSelect, SelectCols: []rq.CId{2}},
	}

	got := DetermineSelectColumns(pipeline)
	assert.Equal(t, []rq.CId{2}, got)
}

func TestDetermineSelectColumnsFallsBackToFrom(t *testing.T) {
	pipeline := []rq.Transform{
		{Kind: rq.TransformFrom, From: &rq.TableRef{Columns: []rq.TableRefColumn{{Id: 1}, {Id: 2}}}},
		{Kind: rq.TransformFilter},
	}

	got := DetermineSelectColumns(pipeline)
	assert.Equal(t, []rq.CId{1, 2}, got)
}

func TestCollectPipelineInputs(t *testing.T) {
	pipeline := []rq.Transform{
		{Kind: rq.TransformFrom, From: &rq.TableRef{Source: 10, Columns: []rq.TableRefColumn{{Id: 1}}}},
		{Kind: rq.TransformJoin, JoinWith: &rq.TableRef{Source: 11, Columns: []rq.TableRefColumn{{Id: 2}}}},
	}

	tids, cids := CollectPipelineInputs(pipeline)
	assert.Equal(t, []rq.TId{10, 11}, tids)
	assert.True(t, cids[1])
	assert.True(t, cids[2])
}
