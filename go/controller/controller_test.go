package controller

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/connector"
	"github.com/estuary/flow/go/publish"
	"github.com/estuary/flow/go/store"
)

// fakeConnector lets each test control Spec/Discover responses without
// a real connector image.
type fakeConnector struct {
	specResp      *connector.SpecResponse
	discoverResp  *connector.DiscoverResponse
	discoverCalls int
}

func (f *fakeConnector) Spec(ctx context.Context, image string, req connector.SpecRequest) (*connector.SpecResponse, error) {
	if f.specResp != nil {
		return f.specResp, nil
	}
	return &connector.SpecResponse{}, nil
}

func (f *fakeConnector) Discover(ctx context.Context, image string, req connector.DiscoverRequest) (*connector.DiscoverResponse, error) {
	f.discoverCalls++
	if f.discoverResp != nil {
		return f.discoverResp, nil
	}
	return &connector.DiscoverResponse{}, nil
}

func (f *fakeConnector) Validate(ctx context.Context, image string, req connector.ValidateRequest) (*connector.ValidateResponse, error) {
	var resp = &connector.ValidateResponse{}
	for range req.Bindings {
		resp.Bindings = append(resp.Bindings, connector.ValidatedBinding{
			Constraints: map[string]connector.Constraint{"id": {Type: connector.ConstraintFieldRequired}},
		})
	}
	return resp, nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func beginHelper(t *testing.T, s *store.SQLiteStore) store.Txn {
	t.Helper()
	txn, err := s.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = txn.Rollback(context.Background()) })
	return txn
}

func ordersSpec() json.RawMessage {
	return json.RawMessage(`{
		"key": ["/id"],
		"schema": {"type": "object", "required": ["id"], "properties": {"id": {"type": "string"}}}
	}`)
}

// publishSpecs seeds the live catalog (and its live_spec_flows edges)
// by running each draft through go/publish's real commit pipeline,
// rather than writing live_specs rows directly — this exercises the
// same edge-derivation logic (go/publish/edges.go) a real publication
// would, so the graph a controller observes in these tests is the one
// a live deployment would actually build.
func publishSpecs(t *testing.T, s *store.SQLiteStore, ids *catalog.Generator, client connector.Client, specs map[catalog.Name]catalog.SpecType, bodies map[catalog.Name]json.RawMessage) {
	t.Helper()
	var ctx = context.Background()
	var e = publish.NewEngine(s, ids, client)
	var draftId = ids.Next()
	for name, specType := range specs {
		require.NoError(t, s.PutDraftSpec(ctx, draftId, &catalog.DraftSpec{
			CatalogName: name, SpecType: specType, Spec: bodies[name],
		}))
	}
	result, err := e.Commit(ctx, &catalog.Publication{PubId: ids.Next(), DraftId: draftId, UserId: "alice"})
	require.NoError(t, err)
	require.Equal(t, catalog.StatusSuccess, result.Status.Type, "%+v", result.Status)
}

func loadLive(t *testing.T, s *store.SQLiteStore, name catalog.Name) *catalog.LiveSpec {
	t.Helper()
	live, err := s.LiveSpecByName(context.Background(), beginHelper(t, s), name)
	require.NoError(t, err)
	require.NotNil(t, live)
	return live
}

func TestNextBackoffGrowsAndCaps(t *testing.T) {
	var prev = nextBackoff(1)
	for failures := 2; failures < 20; failures++ {
		var d = nextBackoff(failures)
		require.LessOrEqual(t, d, maxBackoff+baseBackoff)
		prev = d
	}
	_ = prev
	require.LessOrEqual(t, nextBackoff(30), maxBackoff+baseBackoff)
}

func TestSpecDocRoundTripsUnknownKeys(t *testing.T) {
	var doc, err = parseSpecDoc(json.RawMessage(`{"shards": {"disable": false}, "bindings": [{"source": "a", "resource": {}}]}`))
	require.NoError(t, err)

	var bindings []materializationBinding
	ok, err := doc.get("bindings", &bindings)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, bindings, 1)

	bindings[0].Disable = true
	require.NoError(t, doc.set("bindings", bindings))

	out, err := doc.marshal()
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &raw))
	require.Contains(t, raw, "shards")
	require.JSONEq(t, `{"disable": false}`, string(raw["shards"]))
}
