package catalog

// Graph indexes the live_spec_flows edge set for expansion queries
// (spec.md §4.2). It operates purely on the materialized edge set —
// never on an in-memory entity graph — so that derivations which
// source their own output, or tests which reference many collections,
// never introduce cyclic ownership (spec.md §9 "Cyclic references").
//
// Grounded on go/testing/graph.go's Graph.HasPendingParent, whose BFS
// shape (a visited-set plus FIFO worklist over a single edge
// direction) is generalized here into the two-rule, bidirectional walk
// spec.md §4.2 requires.
type Graph struct {
	specs map[Id]*LiveSpec
	out   map[Id][]FlowEdge // edges keyed by SourceId
	in    map[Id][]FlowEdge // edges keyed by TargetId
}

// NewGraph builds a Graph over the given live specs and edges.
func NewGraph(specs []*LiveSpec, edges []FlowEdge) *Graph {
	var g = &Graph{
		specs: make(map[Id]*LiveSpec, len(specs)),
		out:   make(map[Id][]FlowEdge),
		in:    make(map[Id][]FlowEdge),
	}
	for _, s := range specs {
		g.specs[s.Id] = s
	}
	for _, e := range edges {
		g.out[e.SourceId] = append(g.out[e.SourceId], e)
		g.in[e.TargetId] = append(g.in[e.TargetId], e)
	}
	return g
}

// Expand returns the closed set of live spec ids impacted by the given
// seed set, per spec.md §4.2:
//
//   - Directly-adjacent captures and materializations of any seed
//     collection are included (single hop only; their own dependents
//     are not expanded further).
//   - The full connected component reachable through edges of flow
//     type "collection" or "test" is included (derivations and tests
//     transitively propagate).
//
// Specs already in the seed set are excluded from the return value.
// Soft-deleted specs are filtered from the output but still
// participate in traversal, so that e.g. a deleted collection's
// adjacent materialization is still discovered and notified.
//
// Expansion is idempotent and deterministic:
// expand(expand(S)) ⊆ expand(S) ∪ S.
func (g *Graph) Expand(seed []Id) []Id {
	var seedSet = make(map[Id]struct{}, len(seed))
	for _, id := range seed {
		seedSet[id] = struct{}{}
	}

	var closure = make(map[Id]struct{})
	var visitTransitive func(id Id)
	visitTransitive = func(id Id) {
		if _, ok := closure[id]; ok {
			return
		}
		closure[id] = struct{}{}
		for _, e := range g.out[id] {
			if e.Flow == FlowCollection || e.Flow == FlowTest {
				visitTransitive(e.TargetId)
			}
		}
		for _, e := range g.in[id] {
			if e.Flow == FlowCollection || e.Flow == FlowTest {
				visitTransitive(e.SourceId)
			}
		}
	}

	for id := range seedSet {
		var spec = g.specs[id]
		if spec == nil {
			continue
		}

		switch spec.SpecType {
		case Collection:
			// The transitive collection/test component, including this
			// collection's derivations and any tests that reference it.
			// It is walked first so that the single-hop marks below don't
			// stop the walk at a directly adjacent derivation or test.
			visitTransitive(id)
			// Single-hop: directly adjacent captures (writers) and
			// materializations (readers) are included, but not their
			// own further dependents.
			for _, e := range g.in[id] {
				closure[e.SourceId] = struct{}{}
			}
			for _, e := range g.out[id] {
				closure[e.TargetId] = struct{}{}
			}
		default:
			// Captures, materializations, and tests: only the
			// transitive collection/test closure applies, rooted at
			// whichever collections they touch — a capture/materialization
			// itself has no outgoing/incoming collection-typed edges to
			// traverse beyond its directly declared reads/writes, which
			// are collections, so seed from those.
			for _, e := range g.out[id] {
				visitTransitive(e.TargetId)
			}
			for _, e := range g.in[id] {
				visitTransitive(e.SourceId)
			}
		}
	}

	var out = make([]Id, 0, len(closure))
	for id := range closure {
		if _, isSeed := seedSet[id]; isSeed {
			continue
		}
		if spec := g.specs[id]; spec != nil && spec.IsSoftDeleted() {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Adjacent returns the ids with a direct edge to or from id, used by
// the controller runtime's notify_dependents (spec.md §4.5).
func (g *Graph) Adjacent(id Id) []Id {
	var seen = make(map[Id]struct{})
	for _, e := range g.out[id] {
		seen[e.TargetId] = struct{}{}
	}
	for _, e := range g.in[id] {
		seen[e.SourceId] = struct{}{}
	}
	var out = make([]Id, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// Spec returns the live spec for id, or nil if it isn't indexed.
func (g *Graph) Spec(id Id) *LiveSpec { return g.specs[id] }
