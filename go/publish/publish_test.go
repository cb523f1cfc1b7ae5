package publish

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/connector"
	"github.com/estuary/flow/go/store"
)

type fakeClient struct{}

func (fakeClient) Spec(ctx context.Context, image string, req connector.SpecRequest) (*connector.SpecResponse, error) {
	return &connector.SpecResponse{}, nil
}

func (fakeClient) Discover(ctx context.Context, image string, req connector.DiscoverRequest) (*connector.DiscoverResponse, error) {
	return &connector.DiscoverResponse{}, nil
}

func (fakeClient) Validate(ctx context.Context, image string, req connector.ValidateRequest) (*connector.ValidateResponse, error) {
	var resp = &connector.ValidateResponse{}
	for range req.Bindings {
		resp.Bindings = append(resp.Bindings, connector.ValidatedBinding{
			Constraints: map[string]connector.Constraint{
				"id": {Type: connector.ConstraintFieldRequired},
			},
		})
	}
	return resp, nil
}

func newTestEngine(t *testing.T) (*Engine, *store.SQLiteStore) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewEngine(s, catalog.NewGenerator(), fakeClient{}), s
}

func ordersSpec() json.RawMessage {
	return json.RawMessage(`{
		"key": ["/id"],
		"schema": {
			"type": "object",
			"required": ["id"],
			"properties": {
				"id": {"type": "string"},
				"count": {"type": "number", "reduce": {"strategy": "sum"}}
			}
		}
	}`)
}

func TestCommitCreatesNewCollection(t *testing.T) {
	var ctx = context.Background()
	e, s := newTestEngine(t)

	require.NoError(t, s.PutDraftSpec(ctx, 1, &catalog.DraftSpec{
		CatalogName: "acmeCo/orders", SpecType: catalog.Collection, Spec: ordersSpec(),
	}))

	var pub = &catalog.Publication{PubId: 100, DraftId: 1, UserId: "alice"}
	result, err := e.Commit(ctx, pub)
	require.NoError(t, err)
	require.Equal(t, catalog.StatusSuccess, result.Status.Type)

	live, err := s.LiveSpecByName(ctx, beginHelper(t, s), "acmeCo/orders")
	require.NoError(t, err)
	require.NotNil(t, live)
	require.EqualValues(t, 100, live.LastPubId)
}

func TestCommitDetectsEmptyDraftOnReplay(t *testing.T) {
	var ctx = context.Background()
	e, s := newTestEngine(t)

	require.NoError(t, s.PutDraftSpec(ctx, 1, &catalog.DraftSpec{
		CatalogName: "acmeCo/orders", SpecType: catalog.Collection, Spec: ordersSpec(),
	}))
	var pub1 = &catalog.Publication{PubId: 100, DraftId: 1, UserId: "alice"}
	_, err := e.Commit(ctx, pub1)
	require.NoError(t, err)

	// Re-submit the identical spec under a fresh draft id.
	require.NoError(t, s.PutDraftSpec(ctx, 2, &catalog.DraftSpec{
		CatalogName: "acmeCo/orders", SpecType: catalog.Collection, Spec: ordersSpec(),
	}))
	var pub2 = &catalog.Publication{PubId: 200, DraftId: 2, UserId: "alice"}
	result, err := e.Commit(ctx, pub2)
	require.NoError(t, err)
	require.Equal(t, catalog.StatusEmptyDraft, result.Status.Type)
}

func TestCommitRejectsExpectPubIdMismatch(t *testing.T) {
	var ctx = context.Background()
	e, s := newTestEngine(t)

	var expect = catalog.Id(999)
	require.NoError(t, s.PutDraftSpec(ctx, 1, &catalog.DraftSpec{
		CatalogName: "acmeCo/orders", SpecType: catalog.Collection, Spec: ordersSpec(), ExpectPubId: &expect,
	}))
	var pub = &catalog.Publication{PubId: 100, DraftId: 1, UserId: "alice"}
	result, err := e.Commit(ctx, pub)
	require.NoError(t, err)
	require.Equal(t, catalog.StatusExpectPubIdMismatch, result.Status.Type)
	require.Len(t, result.Status.Failures, 1)
	require.Equal(t, catalog.Name("acmeCo/orders"), result.Status.Failures[0].CatalogName)
	require.Equal(t, catalog.Id(999), result.Status.Failures[0].Expected)
	require.Equal(t, catalog.Id(0), result.Status.Failures[0].Actual)
}

func TestCommitRejectsUnknownCaptureBindingReference(t *testing.T) {
	var ctx = context.Background()
	e, s := newTestEngine(t)

	require.NoError(t, s.PutDraftSpec(ctx, 1, &catalog.DraftSpec{
		CatalogName: "acmeCo/source-http", SpecType: catalog.Capture, Spec: json.RawMessage(`{
			"endpoint": {"connector": {"image": "ghcr.io/estuary/source-http:v1", "config": {}}},
			"bindings": [{"target": "acmeCo/does-not-exist", "resource": {}}]
		}`),
	}))
	var pub = &catalog.Publication{PubId: 100, DraftId: 1, UserId: "alice"}
	result, err := e.Commit(ctx, pub)
	require.Error(t, err)
	require.Equal(t, catalog.StatusBuildFailed, result.Status.Type)
}

func TestCommitDeletesExistingSpec(t *testing.T) {
	var ctx = context.Background()
	e, s := newTestEngine(t)

	require.NoError(t, s.PutDraftSpec(ctx, 1, &catalog.DraftSpec{
		CatalogName: "acmeCo/orders", SpecType: catalog.Collection, Spec: ordersSpec(),
	}))
	_, err := e.Commit(ctx, &catalog.Publication{PubId: 100, DraftId: 1, UserId: "alice"})
	require.NoError(t, err)

	require.NoError(t, s.PutDraftSpec(ctx, 2, &catalog.DraftSpec{
		CatalogName: "acmeCo/orders", // SpecType zero value, Spec nil: deletion
	}))
	result, err := e.Commit(ctx, &catalog.Publication{PubId: 200, DraftId: 2, UserId: "alice"})
	require.NoError(t, err)
	require.Equal(t, catalog.StatusSuccess, result.Status.Type)

	txn := beginHelper(t, s)
	live, err := s.LiveSpecByName(ctx, txn, "acmeCo/orders")
	require.NoError(t, err)
	require.NotNil(t, live)
	require.True(t, live.IsSoftDeleted())
}

func beginHelper(t *testing.T, s *store.SQLiteStore) store.Txn {
	t.Helper()
	txn, err := s.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = txn.Rollback(context.Background()) })
	return txn
}

func TestRetryPolicyDelayIsBoundedByMaxDelay(t *testing.T) {
	var p = RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 200 * time.Millisecond}
	for attempt := 1; attempt <= 10; attempt++ {
		require.LessOrEqual(t, p.Delay(attempt), p.MaxDelay)
	}
}
