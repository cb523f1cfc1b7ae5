package validate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/connector"
)

type fakeClient struct {
	validateResp *connector.ValidateResponse
}

func (f *fakeClient) Spec(ctx context.Context, image string, req connector.SpecRequest) (*connector.SpecResponse, error) {
	return &connector.SpecResponse{}, nil
}

func (f *fakeClient) Discover(ctx context.Context, image string, req connector.DiscoverRequest) (*connector.DiscoverResponse, error) {
	return &connector.DiscoverResponse{}, nil
}

func (f *fakeClient) Validate(ctx context.Context, image string, req connector.ValidateRequest) (*connector.ValidateResponse, error) {
	if f.validateResp != nil {
		return f.validateResp, nil
	}
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

func ordersCollectionSpec() json.RawMessage {
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

func TestValidateSucceedsWithCaptureAndMaterialization(t *testing.T) {
	var draft = []catalog.DraftSpec{
		{CatalogName: "acmeCo/orders", SpecType: catalog.Collection, Spec: ordersCollectionSpec()},
		{CatalogName: "acmeCo/source-http", SpecType: catalog.Capture, Spec: json.RawMessage(`{
			"endpoint": {"connector": {"image": "ghcr.io/estuary/source-http:v1", "config": {}}},
			"bindings": [{"target": "acmeCo/orders", "resource": {}}]
		}`)},
		{CatalogName: "acmeCo/warehouse", SpecType: catalog.Materialization, Spec: json.RawMessage(`{
			"endpoint": {"connector": {"image": "ghcr.io/estuary/materialize-snowflake:v1", "config": {}}},
			"sourceCapture": "acmeCo/source-http",
			"bindings": [{"source": "acmeCo/orders", "resource": {}}]
		}`)},
	}

	built, errs := Validate(context.Background(), draft, nil, nil, &fakeClient{})
	require.Empty(t, errs)
	require.NotNil(t, built)
	require.Len(t, built.Collections, 1)
	require.Len(t, built.Captures, 1)
	require.Len(t, built.Materializations, 1)
	require.Empty(t, built.IncompatibleCollections)
}

func TestValidateRejectsUnknownReference(t *testing.T) {
	var draft = []catalog.DraftSpec{
		{CatalogName: "acmeCo/source-http", SpecType: catalog.Capture, Spec: json.RawMessage(`{
			"endpoint": {"connector": {"image": "ghcr.io/estuary/source-http:v1", "config": {}}},
			"bindings": [{"target": "acmeCo/does-not-exist", "resource": {}}]
		}`)},
	}

	built, errs := Validate(context.Background(), draft, nil, nil, &fakeClient{})
	require.Nil(t, built)
	require.NotEmpty(t, errs)
}

func TestValidateRecordsUnsatisfiableAsIncompatible(t *testing.T) {
	var draft = []catalog.DraftSpec{
		{CatalogName: "acmeCo/orders", SpecType: catalog.Collection, Spec: ordersCollectionSpec()},
		{CatalogName: "acmeCo/warehouse", SpecType: catalog.Materialization, Spec: json.RawMessage(`{
			"endpoint": {"connector": {"image": "ghcr.io/estuary/materialize-snowflake:v1", "config": {}}},
			"bindings": [{"source": "acmeCo/orders", "resource": {}}]
		}`)},
	}

	var client = &fakeClient{validateResp: &connector.ValidateResponse{
		Bindings: []connector.ValidatedBinding{
			{Constraints: map[string]connector.Constraint{
				"count": {Type: connector.ConstraintUnsatisfiable, Reason: "column type changed"},
			}},
		},
	}}

	built, errs := Validate(context.Background(), draft, nil, nil, client)
	require.Empty(t, errs)
	require.NotNil(t, built)
	require.Len(t, built.IncompatibleCollections, 1)
	require.Equal(t, catalog.Name("acmeCo/orders"), built.IncompatibleCollections[0].CollectionName)
}

func TestValidateRunsEmbeddedTest(t *testing.T) {
	var draft = []catalog.DraftSpec{
		{CatalogName: "acmeCo/orders", SpecType: catalog.Collection, Spec: ordersCollectionSpec()},
		{CatalogName: "acmeCo/test-orders", SpecType: catalog.Test, Spec: json.RawMessage(`{
			"steps": [
				{"ingest": {"collection": "acmeCo/orders", "documents": [{"id": "1", "count": 1}, {"id": "1", "count": 2}]}},
				{"verify": {"collection": "acmeCo/orders", "documents": [{"id": "1", "count": 3}]}}
			]
		}`)},
	}

	built, errs := Validate(context.Background(), draft, nil, nil, &fakeClient{})
	require.Empty(t, errs)
	require.NotNil(t, built)
	require.Len(t, built.Tests, 1)
	require.True(t, built.Tests[0].Passed, built.Tests[0].Detail)
}

func TestValidateEmitsOptimisticLockRows(t *testing.T) {
	var expectPubId = catalog.Id(42)
	var draft = []catalog.DraftSpec{
		{CatalogName: "acmeCo/orders", SpecType: catalog.Collection, Spec: ordersCollectionSpec(), ExpectPubId: &expectPubId},
	}
	var expanded = []catalog.LiveSpec{
		{CatalogName: "acmeCo/unrelated", SpecType: catalog.Collection, Spec: json.RawMessage(`{}`), LastBuildId: 7},
	}

	built, errs := Validate(context.Background(), draft, nil, expanded, &fakeClient{})
	require.Empty(t, errs)
	require.Len(t, built.DraftRows, 1)
	require.Equal(t, &expectPubId, built.DraftRows[0].ExpectPubId)
	require.Len(t, built.ExpandRows, 1)
	require.Equal(t, catalog.Id(7), *built.ExpandRows[0].LastBuildId)
}

func TestValidateRejectsMissingCollectionKey(t *testing.T) {
	var draft = []catalog.DraftSpec{
		{CatalogName: "acmeCo/orders", SpecType: catalog.Collection, Spec: json.RawMessage(`{
			"key": [],
			"schema": {"type": "object"}
		}`)},
	}
	built, errs := Validate(context.Background(), draft, nil, nil, &fakeClient{})
	require.Nil(t, built)
	require.NotEmpty(t, errs)
}
