package stacking

import (
	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
)

// Graph is the compatibility graph over eligible candidates. An edge between
// two nodes means the pair may appear in the same combination.
type Graph struct {
	Nodes []Candidate
	adj   [][]bool
	rules []coupon.RegistryRule
}

// Resolve builds the compatibility graph. Only active registry rules are
// consulted.
func Resolve(candidates []Candidate, registry []coupon.RegistryRule) *Graph {
	g := &Graph{Nodes: candidates}
	for _, r := range registry {
		if r.Active {
			g.rules = append(g.rules, r)
		}
	}

	g.adj = make([][]bool, len(candidates))
	for i := range g.adj {
		g.adj[i] = make([]bool, len(candidates))
	}
	for i := range candidates {
		for j := i + 1; j < len(candidates); j++ {
			ok := g.pairCompatible(candidates[i].Definition, candidates[j].Definition)
			g.adj[i][j] = ok
			g.adj[j][i] = ok
		}
	}
	return g
}

// Compatible reports whether nodes i and j may coexist.
func (g *Graph) Compatible(i, j int) bool {
	return i != j && g.adj[i][j]
}

func (g *Graph) pairCompatible(a, b *coupon.Definition) bool {
	// Two instances of one definition never stack.
	if a.ID == b.ID {
		return false
	}
	if a.Stacking.Type == coupon.StackExclusive || b.Stacking.Type == coupon.StackExclusive {
		return false
	}
	if !a.Stacking.Permits(b.Type) || !b.Stacking.Permits(a.Type) {
		return false
	}
	for _, r := range g.rules {
		if r.Governs(a.Type) && !r.Permits(b.Type) {
			return false
		}
		if r.Governs(b.Type) && !r.Permits(a.Type) {
			return false
		}
	}
	return true
}

// ChainValid reports whether the members satisfy the hierarchical
// constraint: when any member is hierarchical, all priorities must be
// distinct so that application order is a strict chain.
func (g *Graph) ChainValid(members []int) bool {
	hierarchical := false
	for _, m := range members {
		if g.Nodes[m].Definition.Stacking.Type == coupon.StackHierarchical {
			hierarchical = true
			break
		}
	}
	if !hierarchical {
		return true
	}
	seen := make(map[int]struct{}, len(members))
	for _, m := range members {
		p := g.Nodes[m].Definition.Stacking.Priority
		if _, dup := seen[p]; dup {
			return false
		}
		seen[p] = struct{}{}
	}
	return true
}

// MaxStack returns the size bound for a combination of the given members:
// the smallest positive MaxStackCount among the members and the registry
// rules governing them, or def when none is set.
func (g *Graph) MaxStack(members []int, def int) int {
	bound := 0
	tighten := func(n int) {
		if n > 0 && (bound == 0 || n < bound) {
			bound = n
		}
	}
	for _, m := range members {
		d := g.Nodes[m].Definition
		tighten(d.Stacking.MaxStackCount)
		for _, r := range g.rules {
			if r.Governs(d.Type) {
				tighten(r.MaxStackCount)
			}
		}
	}
	if bound == 0 {
		return def
	}
	return bound
}
