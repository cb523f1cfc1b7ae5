package catalog

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildGraph constructs the scenario of spec.md §8 scenario 3:
// owls/hoots (collection), owls/nests (derivation reading hoots),
// owls/capture (capture writing hoots), owls/materialize
// (materialization reading hoots and nests), owls/test-test
// (referencing hoots and nests).
func buildOwlsGraph() (*Graph, map[Name]Id) {
	var ids = map[Name]Id{
		"owls/hoots":       1,
		"owls/nests":       2,
		"owls/capture":     3,
		"owls/materialize": 4,
		"owls/test-test":   5,
	}
	var specs = []*LiveSpec{
		{Id: ids["owls/hoots"], CatalogName: "owls/hoots", SpecType: Collection, Spec: []byte(`{}`)},
		{Id: ids["owls/nests"], CatalogName: "owls/nests", SpecType: Collection, Spec: []byte(`{}`)},
		{Id: ids["owls/capture"], CatalogName: "owls/capture", SpecType: Capture, Spec: []byte(`{}`)},
		{Id: ids["owls/materialize"], CatalogName: "owls/materialize", SpecType: Materialization, Spec: []byte(`{}`)},
		{Id: ids["owls/test-test"], CatalogName: "owls/test-test", SpecType: Test, Spec: []byte(`{}`)},
	}
	var edges = []FlowEdge{
		{SourceId: ids["owls/capture"], TargetId: ids["owls/hoots"], Flow: FlowCapture},
		{SourceId: ids["owls/hoots"], TargetId: ids["owls/nests"], Flow: FlowCollection},
		{SourceId: ids["owls/hoots"], TargetId: ids["owls/materialize"], Flow: FlowMaterialization},
		{SourceId: ids["owls/nests"], TargetId: ids["owls/materialize"], Flow: FlowMaterialization},
		{SourceId: ids["owls/hoots"], TargetId: ids["owls/test-test"], Flow: FlowTest},
		{SourceId: ids["owls/nests"], TargetId: ids["owls/test-test"], Flow: FlowTest},
	}
	return NewGraph(specs, edges), ids
}

func sortedIds(ids []Id) []Id {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestExpandFromCollection(t *testing.T) {
	var g, ids = buildOwlsGraph()

	var out = g.Expand([]Id{ids["owls/hoots"]})
	require.Equal(t,
		sortedIds([]Id{ids["owls/capture"], ids["owls/nests"], ids["owls/materialize"], ids["owls/test-test"]}),
		sortedIds(out),
	)
}

func TestExpandDoesNotGrowPastSingleHopCapture(t *testing.T) {
	// Expanding from the capture alone reaches the collection it writes
	// and that collection's derivation/test component, but the
	// single-hop capture/materialization rule applies only to seed
	// collections: owls/materialize, which reads hoots and nests, is
	// not pulled in.
	var g, ids = buildOwlsGraph()

	var out = g.Expand([]Id{ids["owls/capture"]})
	require.Equal(t,
		sortedIds([]Id{ids["owls/hoots"], ids["owls/nests"], ids["owls/test-test"]}),
		sortedIds(out),
	)
}

func TestExpandExcludesSeedAndSoftDeleted(t *testing.T) {
	var g, ids = buildOwlsGraph()
	g.specs[ids["owls/nests"]].Spec = nil // soft-deleted

	var out = g.Expand([]Id{ids["owls/hoots"]})
	for _, id := range out {
		require.NotEqual(t, ids["owls/hoots"], id, "seed must be excluded")
		require.NotEqual(t, ids["owls/nests"], id, "soft-deleted spec must be filtered from output")
	}
	// But traversal still passed through it to reach the test.
	require.Contains(t, out, ids["owls/test-test"])
}

func TestExpandIdempotent(t *testing.T) {
	var g, ids = buildOwlsGraph()
	var seed = []Id{ids["owls/hoots"]}

	var once = g.Expand(seed)
	var seedPlusOnce = append(append([]Id{}, seed...), once...)
	var twice = g.Expand(seedPlusOnce)

	var union = make(map[Id]struct{})
	for _, id := range seedPlusOnce {
		union[id] = struct{}{}
	}
	for _, id := range twice {
		_, ok := union[id]
		require.True(t, ok, "expand(expand(S)) must be subset of expand(S) union S")
	}
}

func TestNameHasPrefix(t *testing.T) {
	require.True(t, Name("acmeCo/orders/enriched").HasPrefix("acmeCo/orders"))
	require.True(t, Name("acmeCo/orders").HasPrefix("acmeCo/orders"))
	require.False(t, Name("acmeCo/ordersArchive").HasPrefix("acmeCo/orders"))
	require.True(t, Name("anything").HasPrefix(""))
}

func TestNameValidate(t *testing.T) {
	require.NoError(t, Name("acmeCo/orders").Validate())
	require.Error(t, Name("").Validate())
	require.Error(t, Name("/acmeCo").Validate())
	require.Error(t, Name("acmeCo//orders").Validate())
	require.Error(t, Name("acmeCo/ord ers").Validate())
}
