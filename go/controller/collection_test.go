package controller

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/store"
)

func deriveSpec(source catalog.Name) json.RawMessage {
	return json.RawMessage(`{
		"schema": {"type": "object"},
		"key": ["/id"],
		"derive": {
			"using": {"sqlite": {}},
			"transforms": [{"name": "fromSource", "source": {"name": "` + string(source) + `"}}]
		}
	}`)
}

func TestCollectionReconcileDisablesTransformOnSourceDeletion(t *testing.T) {
	var s = newTestStore(t)
	var ids = catalog.NewGenerator()
	var client = &fakeConnector{}

	publishSpecs(t, s, ids, client,
		map[catalog.Name]catalog.SpecType{
			"acmeCo/source":    catalog.Collection,
			"acmeCo/derived":   catalog.Collection,
		},
		map[catalog.Name]json.RawMessage{
			"acmeCo/source":  ordersSpec(),
			"acmeCo/derived": deriveSpec("acmeCo/source"),
		})

	// Soft-delete the source collection.
	publishSpecs(t, s, ids, client,
		map[catalog.Name]catalog.SpecType{"acmeCo/source": ""},
		map[catalog.Name]json.RawMessage{"acmeCo/source": nil})

	var live = loadLive(t, s, "acmeCo/derived")
	graph, err := s.BuildGraph(context.Background(), beginHelper(t, s))
	require.NoError(t, err)

	var c = &CollectionController{}
	outcome, draft, err := c.Reconcile(context.Background(), ReconcileInput{
		Live: live, Graph: graph, Job: &store.ControllerJob{},
	})
	require.NoError(t, err)
	require.True(t, outcome.Done)
	require.NotNil(t, draft)
	require.Contains(t, draft.Detail, "fromSource")
	require.Len(t, draft.Entries, 1)

	var derive derivationWire
	_, err = mustParseSpecDoc(t, draft.Entries[0].Spec).get("derive", &derive)
	require.NoError(t, err)
	require.True(t, derive.Transforms[0].Disable)
}

func TestCollectionReconcileNoActionWithoutDeletedDependency(t *testing.T) {
	var s = newTestStore(t)
	var ids = catalog.NewGenerator()
	var client = &fakeConnector{}

	publishSpecs(t, s, ids, client,
		map[catalog.Name]catalog.SpecType{
			"acmeCo/source":  catalog.Collection,
			"acmeCo/derived": catalog.Collection,
		},
		map[catalog.Name]json.RawMessage{
			"acmeCo/source":  ordersSpec(),
			"acmeCo/derived": deriveSpec("acmeCo/source"),
		})

	var live = loadLive(t, s, "acmeCo/derived")
	graph, err := s.BuildGraph(context.Background(), beginHelper(t, s))
	require.NoError(t, err)

	var c = &CollectionController{}
	outcome, draft, err := c.Reconcile(context.Background(), ReconcileInput{
		Live: live, Graph: graph, Job: &store.ControllerJob{},
	})
	require.NoError(t, err)
	require.True(t, outcome.Done)
	require.Nil(t, draft)
}

func TestCollectionReconcileNoActionOnDownstreamMaterializationDeletion(t *testing.T) {
	var s = newTestStore(t)
	var ids = catalog.NewGenerator()
	var client = &fakeConnector{}

	publishSpecs(t, s, ids, client,
		map[catalog.Name]catalog.SpecType{
			"acmeCo/orders": catalog.Collection,
			"acmeCo/sink":   catalog.Materialization,
		},
		map[catalog.Name]json.RawMessage{
			"acmeCo/orders": ordersSpec(),
			"acmeCo/sink": json.RawMessage(`{
				"endpoint": {"connector": {"image": "ghcr.io/estuary/materialize-postgres:v1", "config": {}}},
				"bindings": [{"source": "acmeCo/orders", "resource": {}}]
			}`),
		})

	publishSpecs(t, s, ids, client,
		map[catalog.Name]catalog.SpecType{"acmeCo/sink": ""},
		map[catalog.Name]json.RawMessage{"acmeCo/sink": nil})

	var live = loadLive(t, s, "acmeCo/orders")
	graph, err := s.BuildGraph(context.Background(), beginHelper(t, s))
	require.NoError(t, err)

	var c = &CollectionController{}
	outcome, draft, err := c.Reconcile(context.Background(), ReconcileInput{
		Live: live, Graph: graph, Job: &store.ControllerJob{},
	})
	require.NoError(t, err)
	require.True(t, outcome.Done)
	require.Nil(t, draft, "a plain collection has no derive block to mutate in response to a deleted downstream materialization")
}

func mustParseSpecDoc(t *testing.T, spec json.RawMessage) *specDoc {
	t.Helper()
	doc, err := parseSpecDoc(spec)
	require.NoError(t, err)
	return doc
}
