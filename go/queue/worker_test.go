package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/connector"
	"github.com/estuary/flow/go/store"
)

// fakeConnector mirrors go/controller's test fixture of the same
// shape: each test controls exactly the Spec/Discover response it
// needs without a real connector image.
type fakeConnector struct {
	specResp     *connector.SpecResponse
	discoverResp *connector.DiscoverResponse
}

func (f *fakeConnector) Spec(ctx context.Context, image string, req connector.SpecRequest) (*connector.SpecResponse, error) {
	if f.specResp != nil {
		return f.specResp, nil
	}
	return &connector.SpecResponse{}, nil
}

func (f *fakeConnector) Discover(ctx context.Context, image string, req connector.DiscoverRequest) (*connector.DiscoverResponse, error) {
	if f.discoverResp != nil {
		return f.discoverResp, nil
	}
	return &connector.DiscoverResponse{}, nil
}

func (f *fakeConnector) Validate(ctx context.Context, image string, req connector.ValidateRequest) (*connector.ValidateResponse, error) {
	return &connector.ValidateResponse{}, nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWorkerRunOnceReportsNoWorkOnEmptyQueue(t *testing.T) {
	var s = newTestStore(t)
	var w = NewWorker(s, catalog.NewGenerator(), &fakeConnector{})

	did, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.False(t, did)
}

func TestWorkerRunOnceCommitsQueuedPublication(t *testing.T) {
	var s = newTestStore(t)
	var ids = catalog.NewGenerator()
	var client = &fakeConnector{}
	var ctx = context.Background()

	var draftId = ids.Next()
	require.NoError(t, s.PutDraftSpec(ctx, draftId, &catalog.DraftSpec{
		CatalogName: "acmeCo/orders", SpecType: catalog.Collection,
		Spec: json.RawMessage(`{"key": ["/id"], "schema": {"type": "object"}}`),
	}))

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.EnqueuePublication(ctx, txn, &catalog.Publication{
		PubId: ids.Next(), DraftId: draftId, UserId: "alice",
		Status: catalog.Status{Type: catalog.StatusQueued},
	}))
	require.NoError(t, txn.Commit(ctx))

	var w = NewWorker(s, ids, client)
	did, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, did)

	txn2, err := s.Begin(ctx)
	require.NoError(t, err)
	live, err := s.LiveSpecByName(ctx, txn2, "acmeCo/orders")
	require.NoError(t, err)
	require.NotNil(t, live, "a successful commit applies the draft to live_specs")
	require.NoError(t, txn2.Rollback(ctx))
}

func TestWorkerPersistsNonSuccessPublicationStatus(t *testing.T) {
	var s = newTestStore(t)
	var ids = catalog.NewGenerator()
	var client = &fakeConnector{}
	var ctx = context.Background()

	// An empty draft (no draft_specs rows) is a terminal, non-retryable
	// status that Engine.Commit itself never persists.
	var draftId = ids.Next()
	var pubId = ids.Next()

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.EnqueuePublication(ctx, txn, &catalog.Publication{
		PubId: pubId, DraftId: draftId, UserId: "alice",
		Status: catalog.Status{Type: catalog.StatusQueued},
	}))
	require.NoError(t, txn.Commit(ctx))

	var w = NewWorker(s, ids, client)
	did, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, did)

	// The publication is no longer queued, so it's not dequeuable again
	// — the worker must have persisted a terminal status for it.
	txn2, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = s.DequeuePublication(ctx, txn2)
	require.True(t, errors.Is(err, sql.ErrNoRows), "%v", err)
	require.NoError(t, txn2.Rollback(ctx))
}

func TestWorkerRunOnceDispatchesControllerRun(t *testing.T) {
	var s = newTestStore(t)
	var ids = catalog.NewGenerator()
	var client = &fakeConnector{}
	var ctx = context.Background()

	var draftId = ids.Next()
	require.NoError(t, s.PutDraftSpec(ctx, draftId, &catalog.DraftSpec{
		CatalogName: "acmeCo/orders", SpecType: catalog.Collection,
		Spec: json.RawMessage(`{"key": ["/id"], "schema": {"type": "object"}}`),
	}))
	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.EnqueuePublication(ctx, txn, &catalog.Publication{
		PubId: ids.Next(), DraftId: draftId, UserId: "alice",
		Status: catalog.Status{Type: catalog.StatusQueued},
	}))
	require.NoError(t, txn.Commit(ctx))

	var w = NewWorker(s, ids, client)
	// First RunOnce commits the publication (which itself enqueues a
	// controller run); the second drains that run.
	did1, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, did1)

	txn2, err := s.Begin(ctx)
	require.NoError(t, err)
	job, err := s.LoadControllerJob(ctx, txn2, "acmeCo/orders")
	require.NoError(t, err)
	require.True(t, job.LastRunAt.IsZero(), "controller run hasn't been drained yet")
	require.NoError(t, txn2.Rollback(ctx))

	did2, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, did2)

	txn3, err := s.Begin(ctx)
	require.NoError(t, err)
	job2, err := s.LoadControllerJob(ctx, txn3, "acmeCo/orders")
	require.NoError(t, err)
	require.False(t, job2.LastRunAt.IsZero())
	require.NoError(t, txn3.Rollback(ctx))
}

func TestWorkerRunOnceProcessesDiscoverTask(t *testing.T) {
	var s = newTestStore(t)
	var ids = catalog.NewGenerator()
	var client = &fakeConnector{discoverResp: &connector.DiscoverResponse{
		Bindings: []connector.DiscoveredBinding{
			{RecommendedName: "widgets", ResourceConfigJson: json.RawMessage(`{"stream": "widgets"}`), Key: []string{"/id"}},
		},
	}}
	var ctx = context.Background()

	var draftId = ids.Next()
	var req = DiscoverRequest{DraftId: draftId, CaptureName: "acmeCo/source-http", Image: "ghcr.io/estuary/source-http:v1", Config: json.RawMessage(`{}`)}
	encoded, err := json.Marshal(req)
	require.NoError(t, err)

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.EnqueueTask(ctx, txn, store.TaskDiscover, "acmeCo/source-http", encoded, time.Time{}))
	require.NoError(t, txn.Commit(ctx))

	var w = NewWorker(s, ids, client)
	did, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, did)

	txn2, err := s.Begin(ctx)
	require.NoError(t, err)
	rows, err := s.ResolveSpecRows(ctx, txn2, draftId, "alice")
	require.NoError(t, err)
	require.Len(t, rows, 2, "the capture plus one newly discovered collection")
	require.NoError(t, txn2.Rollback(ctx))
}

func TestWorkerRunOnceProcessesConnectorTagTask(t *testing.T) {
	var s = newTestStore(t)
	var ids = catalog.NewGenerator()
	var client = &fakeConnector{specResp: &connector.SpecResponse{
		DocumentationUrl:         "https://example.com/docs",
		ResourceConfigSchemaJson: json.RawMessage(`{"properties": {"table": {"x-collection-name": true}}}`),
	}}
	var ctx = context.Background()

	var req = ConnectorTagRequest{Image: "ghcr.io/estuary/materialize-postgres:v1", ConnectorType: "materialization"}
	encoded, err := json.Marshal(req)
	require.NoError(t, err)

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.EnqueueTask(ctx, txn, store.TaskConnectorTag, req.Image, encoded, time.Time{}))
	require.NoError(t, txn.Commit(ctx))

	var w = NewWorker(s, ids, client)
	did, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, did)

	// The task is resolved (not requeued), so a second poll finds no work.
	did2, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.False(t, did2)
}
