package module

import (
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/shibukawa/snapsql/internal/decl"
	"github.com/shibukawa/snapsql/internal/ident"
)

func TestInsertAndGet(t *testing.T) {
	g := NewGraph(decl.NewArena())

	fq, _ := ident.New("db", "employees")
	_, _, err := g.Insert(fq, decl.Decl{Kind: decl.KindTableDecl, TableName: "employees"})
	assert.NoError(t, err)

	id, ok := g.Get(fq)
	assert.True(t, ok)
	assert.Equal(t, decl.KindTableDecl, g.Arena.Get(id).Kind)
}

func TestInsertCreatesIntermediateModules(t *testing.T) {
	g := NewGraph(decl.NewArena())

	fq, _ := ident.New("a", "b", "c")
	_, _, err := g.Insert(fq, decl.Decl{Kind: decl.KindVariable})
	assert.NoError(t, err)

	abIdent, _ := ident.New("a", "b")
	id, ok := g.Get(abIdent)
	assert.True(t, ok)
	assert.Equal(t, decl.KindModule, g.Arena.Get(id).Kind)
}

func TestShadowAndUnshadow(t *testing.T) {
	g := NewGraph(decl.NewArena())
	id := g.Arena.Insert(decl.Decl{Kind: decl.KindVariable, VarExpr: "first"})
	g.Root.Names["x"] = id

	g.Shadow(g.Root, "x")
	shadowedID := g.Root.Names["x"]
	assert.Equal(t, decl.KindExpr, g.Arena.Get(shadowedID).Kind)

	err := g.Unshadow(g.Root, "x")
	assert.NoError(t, err)
	restoredID := g.Root.Names["x"]
	assert.Equal(t, "first", g.Arena.Get(restoredID).VarExpr)
}

func TestUnshadowWithoutShadowFails(t *testing.T) {
	g := NewGraph(decl.NewArena())
	err := g.Unshadow(g.Root, "never-shadowed")
	assert.Error(t, err)
}

func TestStackPushPop(t *testing.T) {
	g := NewGraph(decl.NewArena())
	inner1 := decl.NewModule()
	inner2 := decl.NewModule()

	g.StackPush(g.Root, "group", inner1)
	g.StackPush(g.Root, "group", inner2)

	top, err := g.StackPop(g.Root, "group")
	assert.NoError(t, err)
	assert.Equal(t, inner2, top)

	top2, err := g.StackPop(g.Root, "group")
	assert.NoError(t, err)
	assert.Equal(t, inner1, top2)

	_, err = g.StackPop(g.Root, "group")
	assert.Error(t, err)
}

func TestLookupAmbiguous(t *testing.T) {
	g := NewGraph(decl.NewArena())

	directID := g.Arena.Insert(decl.Decl{Kind: decl.KindColumn})
	g.Root.Names["amount"] = directID

	thisMod := decl.NewModule()
	thisID := g.Arena.Insert(decl.Decl{Kind: decl.KindModule, Module: thisMod})
	g.Root.Names["this"] = thisID
	amountInThisID := g.Arena.Insert(decl.Decl{Kind: decl.KindColumn})
	thisMod.Names["amount"] = amountInThisID

	results := g.Lookup(g.Root, ident.FromName("amount"))
	assert.True(t, len(results) >= 2)
}

func TestLookupNotFound(t *testing.T) {
	g := NewGraph(decl.NewArena())
	results := g.Lookup(g.Root, ident.FromName("nope"))
	assert.Equal(t, 0, len(results))
}

// TestLookupResolvesRelativeToNonRootModule guards against Lookup's local-name
// check silently falling back to root: a name declared only inside a
// non-root module (as group/window/each's nested scopes install via
// StackPush) must resolve when looked up from that module, and must not
// leak into a root-relative lookup of the same bare name.
func TestLookupResolvesRelativeToNonRootModule(t *testing.T) {
	g := NewGraph(decl.NewArena())

	inner := decl.NewModule()
	localID := g.Arena.Insert(decl.Decl{Kind: decl.KindColumn})
	inner.Names["dept"] = localID

	results := g.Lookup(inner, ident.FromName("dept"))
	assert.Equal(t, 1, len(results))
	assert.Equal(t, "dept", results[0].String())

	rootResults := g.Lookup(g.Root, ident.FromName("dept"))
	assert.Equal(t, 0, len(rootResults))
}
