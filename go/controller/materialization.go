package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/connector"
)

// OnIncompatibleSchemaChange is the per-binding (falling back to
// per-task) recovery policy spec.md §4.5 names for a materialization
// whose publication failed with incompatible-collection constraints.
type OnIncompatibleSchemaChange string

const (
	Abort          OnIncompatibleSchemaChange = "abort"
	Backfill       OnIncompatibleSchemaChange = "backfill"
	DisableBinding OnIncompatibleSchemaChange = "disableBinding"
	DisableTask    OnIncompatibleSchemaChange = "disableTask"
)

// MaterializationStatus is the persisted reconciliation state for a
// materialization controller, mirroring
// original_source/crates/agent/src/controllers/materialization.rs's
// MaterializationStatus/SourceCaptureStatus.
type MaterializationStatus struct {
	SourceCaptureUpToDate bool   `json:"sourceCaptureUpToDate,omitempty"`
	IncompatibleRetried   bool   `json:"incompatibleRetried,omitempty"`
}

// MaterializationController implements the materialization
// responsibilities of spec.md §4.5: source-capture binding sync,
// upstream-deletion handling, and the single-retry
// on_incompatible_schema_change recovery.
type MaterializationController struct {
	Connector connector.Client
}

// getBindingsToAdd returns the capture's written collections not yet
// present as a materialization binding source, preserving every
// existing binding (even disabled ones) exactly as the user left it —
// grounded on materialization.rs's get_bindings_to_add.
func getBindingsToAdd(captureWritesTo []catalog.Name, bindings []materializationBinding) []catalog.Name {
	var present = make(map[catalog.Name]bool, len(bindings))
	for _, b := range bindings {
		present[catalog.Name(b.Source)] = true
	}
	var out []catalog.Name
	for _, name := range captureWritesTo {
		if !present[name] {
			out = append(out, name)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// resourceStubForCollection builds a minimal resource config assigning
// the target collection name to whichever schema property the
// connector's resource-config-schema marks with "x-collection-name",
// grounded on update_linked_materialization's use of
// resource_configs::pointer_for_schema /
// update_materialization_resource_spec. A schema without the
// annotation yields an empty object, same as the Rust side's
// pointer_for_schema erroring would otherwise block the whole sync —
// here it degrades to an editable stub instead.
func resourceStubForCollection(resourceConfigSchema json.RawMessage, collection catalog.Name) json.RawMessage {
	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(resourceConfigSchema, &schema); err != nil {
		return json.RawMessage(`{}`)
	}
	for field, propSchema := range schema.Properties {
		var annotated struct {
			XCollectionName bool `json:"x-collection-name"`
		}
		if json.Unmarshal(propSchema, &annotated) == nil && annotated.XCollectionName {
			encoded, _ := json.Marshal(map[string]string{field: string(collection)})
			return encoded
		}
	}
	return json.RawMessage(`{}`)
}

// incompatibleSchemaRecoveryDetail describes exactly which
// on_incompatible_schema_change actions were applied this run, rather
// than naming a fixed set of actions regardless of which policy fired.
func incompatibleSchemaRecoveryDetail(backfilled, disabledBindings int, disabledTask bool) string {
	var parts []string
	if backfilled > 0 {
		parts = append(parts, fmt.Sprintf("incrementing the backfill counter of %d binding(s)", backfilled))
	}
	if disabledBindings > 0 {
		parts = append(parts, fmt.Sprintf("disabling %d binding(s)", disabledBindings))
	}
	if disabledTask {
		parts = append(parts, "disabling the task")
	}
	return "applying on_incompatible_schema_change recovery: " + strings.Join(parts, ", ")
}

func sourceCaptureSyncDetail(added []catalog.Name) string {
	if len(added) > 10 {
		return fmt.Sprintf("adding %d binding to match the sourceCapture", len(added))
	}
	var names = make([]string, len(added))
	for i, n := range added {
		names[i] = string(n)
	}
	return fmt.Sprintf("adding binding(s) to match the sourceCapture: [%s]", strings.Join(names, ", "))
}

// Reconcile runs one materialization controller pass. sourceCapture is
// the live capture tracked by the materialization's model.sourceCapture
// field, or nil when unset or already deleted.
func (m *MaterializationController) Reconcile(ctx context.Context, in ReconcileInput, sourceCapture *catalog.LiveSpec) (Outcome, *Draft, error) {
	var live = in.Live
	if live.IsSoftDeleted() {
		return done(nil), nil, nil
	}

	var status MaterializationStatus
	if len(in.Job.StatusJSON) > 0 {
		_ = json.Unmarshal(in.Job.StatusJSON, &status)
	}

	doc, err := parseSpecDoc(live.Spec)
	if err != nil {
		return failed(in.Job.StatusJSON, err), nil, err
	}
	var bindings []materializationBinding
	_, _ = doc.get("bindings", &bindings)

	var details []string

	// Evolution recovery takes priority: apply the per-binding policy
	// and retry once (materialization.rs apply_evolution_actions).
	if len(in.Event.IncompatibleCollections) > 0 {
		if status.IncompatibleRetried {
			return done(nil), nil, fmt.Errorf("unsatisfiable constraints remain after a prior evolution retry")
		}
		var affected = make(map[catalog.Name]bool, len(in.Event.IncompatibleCollections))
		for _, ic := range in.Event.IncompatibleCollections {
			affected[ic.CollectionName] = true
		}
		var taskPolicy OnIncompatibleSchemaChange
		_, _ = doc.get("onIncompatibleSchemaChange", &taskPolicy)
		if taskPolicy == "" {
			taskPolicy = Abort
		}
		var disableTask bool
		var backfilled int
		var disabledBindings int
		for i := range bindings {
			if !affected[catalog.Name(bindings[i].Source)] {
				continue
			}
			var policy = taskPolicy
			if bindings[i].OnIncompatibleSchemaChange != "" {
				policy = OnIncompatibleSchemaChange(bindings[i].OnIncompatibleSchemaChange)
			}
			switch policy {
			case Abort:
				return done(nil), nil, fmt.Errorf("incompatible schema change on %s: policy is abort", bindings[i].Source)
			case Backfill:
				bindings[i].Backfill++
				backfilled++
			case DisableBinding:
				bindings[i].Disable = true
				disabledBindings++
			case DisableTask:
				disableTask = true
			}
		}
		if backfilled > 0 || disabledBindings > 0 || disableTask {
			if err := doc.set("bindings", bindings); err != nil {
				return failed(in.Job.StatusJSON, err), nil, err
			}
			if disableTask {
				var shards = map[string]any{"disable": true}
				_ = doc.set("shards", shards)
			}
			details = append(details, incompatibleSchemaRecoveryDetail(backfilled, disabledBindings, disableTask))
			status.IncompatibleRetried = true
		}
	}

	// Upstream-deletion handling: disable bindings whose source was
	// deleted, and unset a deleted sourceCapture (materialization.rs
	// handle_deleted_dependencies).
	var deleted = deletedDependencies(live, in.Graph)
	if len(deleted) > 0 {
		var deletedSet = make(map[catalog.Name]bool, len(deleted))
		for _, n := range deleted {
			deletedSet[n] = true
		}
		var disabledCollections []string
		for i := range bindings {
			if deletedSet[catalog.Name(bindings[i].Source)] && !bindings[i].Disable {
				bindings[i].Disable = true
				disabledCollections = append(disabledCollections, bindings[i].Source)
			}
		}
		if len(disabledCollections) > 0 {
			sort.Strings(disabledCollections)
			if err := doc.set("bindings", bindings); err != nil {
				return failed(in.Job.StatusJSON, err), nil, err
			}
			details = append(details, fmt.Sprintf(
				"disabled %d binding(s) in response to deleted collections: [%s]",
				len(disabledCollections), strings.Join(disabledCollections, ", ")))
		}

		var sourceCaptureName catalog.Name
		if ok, _ := doc.get("sourceCapture", &sourceCaptureName); ok && deletedSet[sourceCaptureName] {
			doc.delete("sourceCapture")
			sourceCapture = nil
			details = append(details, fmt.Sprintf("removed sourceCapture: %q because the capture was deleted", sourceCaptureName))
		}
	}

	// Source-capture binding sync (SourceCaptureStatus::update).
	if sourceCapture != nil && !sourceCapture.IsSoftDeleted() {
		var toAdd = getBindingsToAdd(sourceCapture.WritesTo, bindings)
		status.SourceCaptureUpToDate = len(toAdd) == 0
		if len(toAdd) > 0 {
			var endpoint struct {
				Connector struct {
					Image string `json:"image"`
				} `json:"connector"`
			}
			_, _ = doc.get("endpoint", &endpoint)
			spec, err := m.Connector.Spec(ctx, endpoint.Connector.Image, connector.SpecRequest{ConnectorType: "image"})
			if err != nil {
				return failed(in.Job.StatusJSON, err), nil, err
			}
			for _, collection := range toAdd {
				bindings = append(bindings, materializationBinding{
					Source:   string(collection),
					Resource: resourceStubForCollection(spec.ResourceConfigSchemaJson, collection),
				})
			}
			if err := doc.set("bindings", bindings); err != nil {
				return failed(in.Job.StatusJSON, err), nil, err
			}
			details = append(details, sourceCaptureSyncDetail(toAdd))
		}
	}

	encodedStatus, _ := json.Marshal(status)
	if len(details) == 0 {
		return done(encodedStatus), nil, nil
	}

	mergedSpec, err := doc.marshal()
	if err != nil {
		return failed(encodedStatus, err), nil, err
	}
	return done(encodedStatus), &Draft{
		Detail: strings.Join(details, ", "),
		Entries: []DraftEntry{
			{CatalogName: live.CatalogName, SpecType: catalog.Materialization, Spec: mergedSpec},
		},
	}, nil
}
