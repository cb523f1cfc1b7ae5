package controller

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/connector"
	"github.com/estuary/flow/go/store"
)

func materializationSpec(sourceCapture catalog.Name, sources ...catalog.Name) json.RawMessage {
	var bindings []map[string]any
	for _, src := range sources {
		bindings = append(bindings, map[string]any{"source": string(src), "resource": map[string]any{}})
	}
	encodedBindings, _ := json.Marshal(bindings)
	var sc = ""
	if sourceCapture != "" {
		sc = `"sourceCapture": "` + string(sourceCapture) + `",`
	}
	return json.RawMessage(`{
		"endpoint": {"connector": {"image": "ghcr.io/estuary/materialize-postgres:v1", "config": {}}},
		` + sc + `
		"bindings": ` + string(encodedBindings) + `
	}`)
}

func captureSpec(targets ...catalog.Name) json.RawMessage {
	var bindings []map[string]any
	for _, tgt := range targets {
		bindings = append(bindings, map[string]any{"target": string(tgt), "resource": map[string]any{}})
	}
	encoded, _ := json.Marshal(bindings)
	return json.RawMessage(`{
		"endpoint": {"connector": {"image": "ghcr.io/estuary/source-http:v1", "config": {}}},
		"bindings": ` + string(encoded) + `
	}`)
}

func TestMaterializationReconcileAddsBindingForNewCaptureWrite(t *testing.T) {
	var s = newTestStore(t)
	var ids = catalog.NewGenerator()
	var client = &fakeConnector{specResp: &connector.SpecResponse{
		ResourceConfigSchemaJson: json.RawMessage(`{"properties": {"table": {"x-collection-name": true}}}`),
	}}

	publishSpecs(t, s, ids, client,
		map[catalog.Name]catalog.SpecType{
			"acmeCo/source-http": catalog.Capture,
			"acmeCo/orders":      catalog.Collection,
			"acmeCo/widgets":     catalog.Collection,
			"acmeCo/sink":        catalog.Materialization,
		},
		map[catalog.Name]json.RawMessage{
			"acmeCo/source-http": captureSpec("acmeCo/orders", "acmeCo/widgets"),
			"acmeCo/orders":      ordersSpec(),
			"acmeCo/widgets":     ordersSpec(),
			"acmeCo/sink":        materializationSpec("acmeCo/source-http", "acmeCo/orders"),
		})

	var live = loadLive(t, s, "acmeCo/sink")
	var sourceCapture = loadLive(t, s, "acmeCo/source-http")
	graph, err := s.BuildGraph(context.Background(), beginHelper(t, s))
	require.NoError(t, err)
	require.ElementsMatch(t, []catalog.Name{"acmeCo/orders", "acmeCo/widgets"}, sourceCapture.WritesTo)

	var m = &MaterializationController{Connector: client}
	outcome, draft, err := m.Reconcile(context.Background(), ReconcileInput{
		Live: live, Graph: graph, Job: &store.ControllerJob{},
	}, sourceCapture)
	require.NoError(t, err)
	require.True(t, outcome.Done)
	require.NotNil(t, draft)
	require.Contains(t, draft.Detail, "adding binding(s) to match the sourceCapture")
	require.Contains(t, draft.Detail, "acmeCo/widgets")

	var bindings []materializationBinding
	_, err = mustParseSpecDoc(t, draft.Entries[0].Spec).get("bindings", &bindings)
	require.NoError(t, err)
	require.Len(t, bindings, 2)

	var status MaterializationStatus
	require.NoError(t, json.Unmarshal(outcome.Status, &status))
	require.True(t, status.SourceCaptureUpToDate)
}

func TestMaterializationReconcileUsesManyBindingsDetailFormat(t *testing.T) {
	var added = make([]catalog.Name, 11)
	for i := range added {
		added[i] = catalog.Name("acmeCo/c")
	}
	require.Equal(t, "adding 11 binding to match the sourceCapture", sourceCaptureSyncDetail(added))

	var few = []catalog.Name{"acmeCo/a", "acmeCo/b"}
	require.Equal(t, "adding binding(s) to match the sourceCapture: [acmeCo/a, acmeCo/b]", sourceCaptureSyncDetail(few))
}

func TestMaterializationReconcileNoOpWhenUpToDate(t *testing.T) {
	var s = newTestStore(t)
	var ids = catalog.NewGenerator()
	var client = &fakeConnector{}

	publishSpecs(t, s, ids, client,
		map[catalog.Name]catalog.SpecType{
			"acmeCo/source-http": catalog.Capture,
			"acmeCo/orders":      catalog.Collection,
			"acmeCo/sink":        catalog.Materialization,
		},
		map[catalog.Name]json.RawMessage{
			"acmeCo/source-http": captureSpec("acmeCo/orders"),
			"acmeCo/orders":      ordersSpec(),
			"acmeCo/sink":        materializationSpec("acmeCo/source-http", "acmeCo/orders"),
		})

	var live = loadLive(t, s, "acmeCo/sink")
	var sourceCapture = loadLive(t, s, "acmeCo/source-http")
	graph, err := s.BuildGraph(context.Background(), beginHelper(t, s))
	require.NoError(t, err)

	var m = &MaterializationController{Connector: client}
	outcome, draft, err := m.Reconcile(context.Background(), ReconcileInput{
		Live: live, Graph: graph, Job: &store.ControllerJob{},
	}, sourceCapture)
	require.NoError(t, err)
	require.True(t, outcome.Done)
	require.Nil(t, draft)
	require.Equal(t, 0, client.discoverCalls)
}

func TestMaterializationReconcileHandlesUpstreamCollectionDeletion(t *testing.T) {
	var s = newTestStore(t)
	var ids = catalog.NewGenerator()
	var client = &fakeConnector{}

	publishSpecs(t, s, ids, client,
		map[catalog.Name]catalog.SpecType{
			"acmeCo/source-http": catalog.Capture,
			"acmeCo/orders":      catalog.Collection,
			"acmeCo/sink":        catalog.Materialization,
		},
		map[catalog.Name]json.RawMessage{
			"acmeCo/source-http": captureSpec("acmeCo/orders"),
			"acmeCo/orders":      ordersSpec(),
			"acmeCo/sink":        materializationSpec("acmeCo/source-http", "acmeCo/orders"),
		})

	publishSpecs(t, s, ids, client,
		map[catalog.Name]catalog.SpecType{"acmeCo/orders": ""},
		map[catalog.Name]json.RawMessage{"acmeCo/orders": nil})

	var live = loadLive(t, s, "acmeCo/sink")
	graph, err := s.BuildGraph(context.Background(), beginHelper(t, s))
	require.NoError(t, err)

	var m = &MaterializationController{Connector: client}
	outcome, draft, err := m.Reconcile(context.Background(), ReconcileInput{
		Live: live, Graph: graph, Job: &store.ControllerJob{},
	}, nil)
	require.NoError(t, err)
	require.True(t, outcome.Done)
	require.NotNil(t, draft)
	require.Contains(t, draft.Detail, "disabled 1 binding(s)")

	var bindings []materializationBinding
	_, err = mustParseSpecDoc(t, draft.Entries[0].Spec).get("bindings", &bindings)
	require.NoError(t, err)
	require.True(t, bindings[0].Disable)
}

func TestMaterializationReconcileAbortsOnIncompatibleSchemaWithoutRetry(t *testing.T) {
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
			"acmeCo/sink":   materializationSpec("", "acmeCo/orders"),
		})

	var live = loadLive(t, s, "acmeCo/sink")
	graph, err := s.BuildGraph(context.Background(), beginHelper(t, s))
	require.NoError(t, err)

	var m = &MaterializationController{Connector: client}
	_, _, err = m.Reconcile(context.Background(), ReconcileInput{
		Live: live, Graph: graph, Job: &store.ControllerJob{},
		Event: Event{IncompatibleCollections: []catalog.IncompatibleCollection{{CollectionName: "acmeCo/orders"}}},
	}, nil)
	require.Error(t, err, "default onIncompatibleSchemaChange policy is abort")
}

func TestMaterializationReconcileDisablesBindingOnIncompatibleSchema(t *testing.T) {
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
				"onIncompatibleSchemaChange": "disableBinding",
				"bindings": [{"source": "acmeCo/orders", "resource": {}}]
			}`),
		})

	var live = loadLive(t, s, "acmeCo/sink")
	graph, err := s.BuildGraph(context.Background(), beginHelper(t, s))
	require.NoError(t, err)

	var m = &MaterializationController{Connector: client}
	outcome, draft, err := m.Reconcile(context.Background(), ReconcileInput{
		Live: live, Graph: graph, Job: &store.ControllerJob{},
		Event: Event{IncompatibleCollections: []catalog.IncompatibleCollection{{CollectionName: "acmeCo/orders"}}},
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, draft)

	var status MaterializationStatus
	require.NoError(t, json.Unmarshal(outcome.Status, &status))
	require.True(t, status.IncompatibleRetried)

	var bindings []materializationBinding
	_, err = mustParseSpecDoc(t, draft.Entries[0].Spec).get("bindings", &bindings)
	require.NoError(t, err)
	require.True(t, bindings[0].Disable)

	// A second incompatible-collection event for the same spec, after
	// the retry already happened, must not loop forever.
	var job2 = &store.ControllerJob{StatusJSON: outcome.Status}
	_, _, err = m.Reconcile(context.Background(), ReconcileInput{
		Live: live, Graph: graph, Job: job2,
		Event: Event{IncompatibleCollections: []catalog.IncompatibleCollection{{CollectionName: "acmeCo/orders"}}},
	}, nil)
	require.Error(t, err)
}

func TestMaterializationReconcileBackfillsOnIncompatibleSchema(t *testing.T) {
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
				"onIncompatibleSchemaChange": "backfill",
				"bindings": [{"source": "acmeCo/orders", "resource": {}, "backfill": 2, "disable": true}]
			}`),
		})

	var live = loadLive(t, s, "acmeCo/sink")
	graph, err := s.BuildGraph(context.Background(), beginHelper(t, s))
	require.NoError(t, err)

	var m = &MaterializationController{Connector: client}
	outcome, draft, err := m.Reconcile(context.Background(), ReconcileInput{
		Live: live, Graph: graph, Job: &store.ControllerJob{},
		Event: Event{IncompatibleCollections: []catalog.IncompatibleCollection{{CollectionName: "acmeCo/orders"}}},
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, draft)
	require.Contains(t, draft.Detail, "incrementing the backfill counter of 1 binding(s)")
	require.NotContains(t, draft.Detail, "disabling")

	var bindings []materializationBinding
	_, err = mustParseSpecDoc(t, draft.Entries[0].Spec).get("bindings", &bindings)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	require.Equal(t, 3, bindings[0].Backfill)
	// Backfill must not touch a binding's own disable state — a binding
	// the user intentionally disabled stays disabled.
	require.True(t, bindings[0].Disable)
}
