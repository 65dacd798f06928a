// Package module implements the scope/module graph of spec.md §3.3/§4.1:
// nested name->declaration mappings with redirect edges (wildcard imports
// and the standard `this`/`that`/`param`/`std` redirects), shadowing
// stacks, and ambiguity-detecting name lookup.
package module

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/shibukawa/snapsql/internal/decl"
	"github.com/shibukawa/snapsql/internal/ident"
)

// collator orders ambiguous-lookup candidate lists (see Lookup) the same
// way regardless of the host's locale, so a diagnostic's candidate order
// doesn't drift between machines.
var collator = collate.New(language.Und)

// Module is an alias for decl.Module: a Decl of KindModule embeds one
// directly, so both packages share the same type to avoid copying state.
type Module = decl.Module

var (
	// ErrNotAModule is returned when insert descends through a path
	// segment that resolves to a non-module declaration.
	ErrNotAModule = errors.New("path segment does not resolve to a module")
	// ErrNameNotShadowed is returned by Unshadow when the name was never
	// shadowed (no placeholder present).
	ErrNameNotShadowed = errors.New("name is not currently shadowed")
	// ErrEmptyStack is returned by StackPop on a name with no pushed
	// layers.
	ErrEmptyStack = errors.New("layered-module stack is empty")
)

// Graph owns the declaration arena and the root module, and implements the
// module-graph operations of spec.md §4.1.
type Graph struct {
	Arena *decl.Arena
	Root  *Module
}

// NewGraph builds a Graph with a freshly initialized root module. The
// caller is expected to install the standard names (std, default database,
// this, that, param) via Insert immediately afterwards, mirroring spec.md
// §3.3's "distinguished root module".
func NewGraph(arena *decl.Arena) *Graph {
	return &Graph{Arena: arena, Root: decl.NewModule()}
}

// Insert descends fqIdent's path from the root, creating empty sub-modules
// on demand at any component whose slot is empty, and sets the terminal
// name to d. Returns the previous Id at that slot, if any.
func (g *Graph) Insert(fqIdent ident.Ident, d decl.Decl) (prev decl.Id, hadPrev bool, err error) {
	mod := g.Root

	for _, seg := range fqIdent.Path {
		id, ok := mod.Names[seg]
		if !ok {
			sub := decl.NewModule()
			id = g.Arena.Insert(decl.Decl{Kind: decl.KindModule, Module: sub})
			mod.Names[seg] = id
			mod = sub

			continue
		}

		entry := g.Arena.Get(id)
		if entry.Kind != decl.KindModule {
			return 0, false, fmt.Errorf("%w: %q", ErrNotAModule, seg)
		}

		mod = entry.Module
	}

	id := g.Arena.Insert(d)
	prev, hadPrev = mod.Names[fqIdent.Name]
	mod.Names[fqIdent.Name] = id

	return prev, hadPrev, nil
}

// Get descends fqIdent through nested modules, consulting the
// top-of-stack at any KindLayered node for the next path segment, per
// spec.md §4.1.
func (g *Graph) Get(fqIdent ident.Ident) (decl.Id, bool) {
	return g.getFrom(g.Root, fqIdent)
}

// getFrom is Get's descent loop, parameterized on the module it starts
// from, so Lookup can resolve local names relative to the caller's own
// module instead of always anchoring at the root.
func (g *Graph) getFrom(start *Module, fqIdent ident.Ident) (decl.Id, bool) {
	mod := start
	segs := fqIdent.Segments()

	for i, seg := range segs {
		id, ok := mod.Names[seg]
		if !ok {
			return 0, false
		}

		if i == len(segs)-1 {
			return id, true
		}

		entry := g.Arena.Get(id)

		switch entry.Kind {
		case decl.KindModule:
			mod = entry.Module
		case decl.KindLayered:
			if len(entry.Stack) == 0 {
				return 0, false
			}

			mod = entry.Stack[len(entry.Stack)-1]
		default:
			return 0, false
		}
	}

	return 0, false
}

// standardRedirects are consulted by Lookup in addition to mod.Redirects,
// matching spec.md §4.1 ("the standard ones this, that, param, std").
var standardRedirects = []string{"this", "that", "param", "std"}

// Lookup returns every fully-qualified identifier that name could refer to
// from the perspective of mod: the name itself relative to mod, plus, for
// each redirect label (module-declared, then the standard ones), the name
// prefixed by that label and looked up from the root. Redirects of the
// redirect targets are not followed. Hits are sorted by the collator. An
// empty result means "not found"; more than one means "ambiguous".
func (g *Graph) Lookup(mod *Module, name ident.Ident) []ident.Ident {
	seen := map[string]bool{}

	var results []ident.Ident

	add := func(fq ident.Ident) {
		key := fq.String()
		if !seen[key] {
			seen[key] = true
			results = append(results, fq)
		}
	}

	if _, ok := g.getFrom(mod, name); ok {
		add(name)
	}

	redirects := append(append([]ident.Ident{}, toIdents(mod.Redirects)...), toIdents(stdRedirectIdents())...)
	for _, r := range redirects {
		candidate := name.Prepend(r.String())
		if _, ok := g.Get(candidate); ok {
			add(candidate)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return collator.CompareString(results[i].String(), results[j].String()) < 0
	})

	return results
}

func toIdents(in []ident.Ident) []ident.Ident { return in }

func stdRedirectIdents() []ident.Ident {
	out := make([]ident.Ident, 0, len(standardRedirects))
	for _, r := range standardRedirects {
		out = append(out, ident.FromName(r))
	}

	return out
}

// Shadow removes name from mod, stashing its previous Decl (if any) inside
// a placeholder Decl installed at the same slot, so Unshadow can restore it.
func (g *Graph) Shadow(mod *Module, name string) {
	prevID, had := mod.Names[name]

	placeholder := decl.Decl{Kind: decl.KindExpr}
	if had {
		prev := *g.Arena.Get(prevID)
		placeholder.Shadowed = &prev
	}

	id := g.Arena.Insert(placeholder)
	mod.Names[name] = id
}

// Unshadow restores the Decl stashed by a prior Shadow call.
func (g *Graph) Unshadow(mod *Module, name string) error {
	id, ok := mod.Names[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNameNotShadowed, name)
	}

	placeholder := g.Arena.Get(id)
	if placeholder.Shadowed == nil {
		return fmt.Errorf("%w: %q", ErrNameNotShadowed, name)
	}

	restoredID := g.Arena.Insert(*placeholder.Shadowed)
	mod.Names[name] = restoredID

	return nil
}

// StackPush treats mod.Names[name] as a LIFO stack of modules, pushing
// layer onto it. The slot becomes (or remains) a KindLayered Decl; pushes
// are transparent to Lookup/Get, which always consult the top layer.
func (g *Graph) StackPush(mod *Module, name string, layer *Module) {
	id, ok := mod.Names[name]
	if !ok {
		stackID := g.Arena.Insert(decl.Decl{Kind: decl.KindLayered, Stack: []*Module{layer}})
		mod.Names[name] = stackID

		return
	}

	entry := g.Arena.Get(id)
	if entry.Kind != decl.KindLayered {
		promoted := decl.Decl{Kind: decl.KindLayered, Stack: []*Module{layer}}
		mod.Names[name] = g.Arena.Insert(promoted)

		return
	}

	entry.Stack = append(entry.Stack, layer)
}

// StackPop pops the top layer pushed by StackPush.
func (g *Graph) StackPop(mod *Module, name string) (*Module, error) {
	id, ok := mod.Names[name]
	if !ok {
		return nil, ErrEmptyStack
	}

	entry := g.Arena.Get(id)
	if entry.Kind != decl.KindLayered || len(entry.Stack) == 0 {
		return nil, ErrEmptyStack
	}

	top := entry.Stack[len(entry.Stack)-1]
	entry.Stack = entry.Stack[:len(entry.Stack)-1]

	return top, nil
}

// ResolveInfer materializes a fresh declaration from an Infer template
// when a lookup miss occurs against a module carrying one, per spec.md
// §3.3.
func (g *Graph) ResolveInfer(mod *Module, name string) (decl.Id, bool) {
	inferID, ok := mod.Names["*infer*"]
	if !ok {
		return 0, false
	}

	entry := g.Arena.Get(inferID)
	if entry.Kind != decl.KindInfer || entry.InferTemplate == nil {
		return 0, false
	}

	materialized := *entry.InferTemplate
	id := g.Arena.Insert(materialized)
	mod.Names[name] = id

	return id, true
}
