package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/flow/go/catalog"
)

func TestSQLiteDequeueSkipsLeased(t *testing.T) {
	var ctx = context.Background()
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.EnqueuePublication(ctx, txn, &catalog.Publication{DraftId: 1, Status: catalog.Status{Type: catalog.StatusQueued}}))
	require.NoError(t, txn.Commit(ctx))

	txn2, err := s.Begin(ctx)
	require.NoError(t, err)
	first, err := s.DequeuePublication(ctx, txn2)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NoError(t, txn2.Rollback(ctx))

	txn3, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = s.DequeuePublication(ctx, txn3)
	require.Error(t, err)
	require.NoError(t, txn3.Rollback(ctx))

	s.ReleasePublication(first.PubId)
	txn4, err := s.Begin(ctx)
	require.NoError(t, err)
	again, err := s.DequeuePublication(ctx, txn4)
	require.NoError(t, err)
	require.Equal(t, first.PubId, again.PubId)
	require.NoError(t, txn4.Rollback(ctx))
}

func TestSQLiteLiveSpecRoundTrip(t *testing.T) {
	var ctx = context.Background()
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.InsertLiveSpec(ctx, txn, &catalog.LiveSpec{
		CatalogName: "acme/widgets", SpecType: catalog.Collection,
		Spec: []byte(`{}`), LastPubId: 1, LastBuildId: 1,
	}))
	require.NoError(t, txn.Commit(ctx))

	txn2, err := s.Begin(ctx)
	require.NoError(t, err)
	got, err := s.LiveSpecByName(ctx, txn2, "acme/widgets")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, catalog.Id(1), got.LastPubId)
	require.NoError(t, txn2.Rollback(ctx))
}
