package controller

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/flow/go/catalog"
)

func TestTestControllerRecordsPassingStatus(t *testing.T) {
	var live = &catalog.LiveSpec{CatalogName: "acmeCo/checks", SpecType: catalog.Test, Spec: json.RawMessage(`{"tests": []}`)}
	var c = &TestController{}

	outcome, err := c.Reconcile(context.Background(), ReconcileInput{Live: live}, true)
	require.NoError(t, err)
	require.True(t, outcome.Done)

	var status TestStatus
	require.NoError(t, json.Unmarshal(outcome.Status, &status))
	require.True(t, status.Passing)
}

func TestTestControllerRecordsFailingStatus(t *testing.T) {
	var live = &catalog.LiveSpec{CatalogName: "acmeCo/checks", SpecType: catalog.Test, Spec: json.RawMessage(`{"tests": []}`)}
	var c = &TestController{}

	outcome, err := c.Reconcile(context.Background(), ReconcileInput{Live: live}, false)
	require.NoError(t, err)
	require.True(t, outcome.Done)

	var status TestStatus
	require.NoError(t, json.Unmarshal(outcome.Status, &status))
	require.False(t, status.Passing)
}

func TestTestControllerSkipsSoftDeletedTest(t *testing.T) {
	var live = &catalog.LiveSpec{CatalogName: "acmeCo/checks", SpecType: catalog.Test, Spec: nil}
	var c = &TestController{}

	outcome, err := c.Reconcile(context.Background(), ReconcileInput{Live: live}, true)
	require.NoError(t, err)
	require.True(t, outcome.Done)
	require.Nil(t, outcome.Status, "a soft-deleted test has nothing to observe")
}
