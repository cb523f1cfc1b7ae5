package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/connector"
)

// CaptureStatus is the persisted reconciliation state for a capture
// controller.
type CaptureStatus struct {
	LastDiscoverAt time.Time `json:"lastDiscoverAt,omitempty"`
	ShardFailures  int       `json:"shardFailures,omitempty"`
}

// defaultDiscoverInterval matches the teacher's own capture default
// poll cadence when a spec's autoDiscover omits one.
const defaultDiscoverInterval = 30 * time.Minute

// CaptureController implements the capture responsibilities of
// spec.md §4.5: scheduled auto-discover with user-edit-preserving
// binding merge, and shard-failure backoff.
type CaptureController struct {
	Connector connector.Client
}

func (c *CaptureController) Reconcile(ctx context.Context, in ReconcileInput) (Outcome, *Draft, error) {
	var live = in.Live
	if live.IsSoftDeleted() {
		return done(nil), nil, nil
	}

	var status CaptureStatus
	if len(in.Job.StatusJSON) > 0 {
		_ = json.Unmarshal(in.Job.StatusJSON, &status)
	}

	if in.Event.ShardFailure {
		status.ShardFailures++
		encoded, _ := json.Marshal(status)
		return retry(nextBackoff(status.ShardFailures), encoded), nil, nil
	}

	doc, err := parseSpecDoc(live.Spec)
	if err != nil {
		return failed(in.Job.StatusJSON, err), nil, err
	}

	var bindings []captureBinding
	_, _ = doc.get("bindings", &bindings)

	var details []string

	// Upstream-deletion handling: disable bindings whose target
	// collection was deleted (original_source
	// crates/agent/src/controllers/deletions.rs
	// handle_deleted_dependencies, applied here to captureBinding.Target
	// the way the collection and materialization controllers apply it
	// to their own source references).
	var deleted = deletedDependencies(live, in.Graph)
	if len(deleted) > 0 {
		var deletedSet = make(map[catalog.Name]bool, len(deleted))
		for _, n := range deleted {
			deletedSet[n] = true
		}
		var disabledCollections []string
		for i := range bindings {
			if deletedSet[catalog.Name(bindings[i].Target)] && !bindings[i].Disable {
				bindings[i].Disable = true
				disabledCollections = append(disabledCollections, bindings[i].Target)
			}
		}
		if len(disabledCollections) > 0 {
			sort.Strings(disabledCollections)
			details = append(details, fmt.Sprintf(
				"disabled %d binding(s) in response to deleted collections: [%s]",
				len(disabledCollections), strings.Join(disabledCollections, ", ")))
		}
	}

	var auto struct {
		AddNewBindings *bool  `json:"addNewBindings"`
		Interval       string `json:"interval"`
	}
	hasAuto, err := doc.get("autoDiscover", &auto)
	if err != nil {
		return failed(in.Job.StatusJSON, err), nil, err
	}
	if !hasAuto {
		encoded, _ := json.Marshal(status)
		draft, err := finishCaptureReconcile(doc, live, bindings, nil, details)
		if err != nil {
			return failed(encoded, err), nil, err
		}
		return done(encoded), draft, nil
	}

	var interval = defaultDiscoverInterval
	if auto.Interval != "" {
		if parsed, err := time.ParseDuration(auto.Interval); err == nil {
			interval = parsed
		}
	}
	if !status.LastDiscoverAt.IsZero() {
		if elapsed := time.Since(status.LastDiscoverAt); elapsed < interval {
			encoded, _ := json.Marshal(status)
			draft, err := finishCaptureReconcile(doc, live, bindings, nil, details)
			if err != nil {
				return failed(encoded, err), nil, err
			}
			return retry(interval-elapsed, encoded), draft, nil
		}
	}

	var endpoint struct {
		Connector struct {
			Image  string          `json:"image"`
			Config json.RawMessage `json:"config"`
		} `json:"connector"`
	}
	if _, err := doc.get("endpoint", &endpoint); err != nil {
		return failed(in.Job.StatusJSON, err), nil, err
	}

	resp, err := c.Connector.Discover(ctx, endpoint.Connector.Image, connector.DiscoverRequest{
		ConnectorType: "image",
		ConfigJson:    endpoint.Connector.Config,
	})
	if err != nil {
		return failed(in.Job.StatusJSON, err), nil, err
	}

	var addNew = true
	if auto.AddNewBindings != nil {
		addNew = *auto.AddNewBindings
	}
	merged, added := mergeCaptureBindings(live.CatalogName, resp.Bindings, bindings, addNew)

	status.LastDiscoverAt = time.Now().UTC()
	status.ShardFailures = 0
	var encoded, _ = json.Marshal(status)

	if len(added) == 0 {
		draft, err := finishCaptureReconcile(doc, live, merged, nil, details)
		if err != nil {
			return failed(encoded, err), nil, err
		}
		return retry(interval, encoded), draft, nil
	}

	var names = make([]string, len(added))
	for i, a := range added {
		names[i] = string(a.RecommendedName)
	}
	details = append(details, fmt.Sprintf("discovered %d new binding(s): [%s]", len(added), strings.Join(names, ", ")))

	draft, err := finishCaptureReconcile(doc, live, merged, added, details)
	if err != nil {
		return failed(encoded, err), nil, err
	}
	return retry(interval, encoded), draft, nil
}

// finishCaptureReconcile persists bindings (if any deletion or discover
// pass changed them) and assembles the draft covering both the
// capture's own spec and any newly discovered collection stubs. It
// returns nil, nil when details is empty, meaning no change occurred.
func finishCaptureReconcile(doc *specDoc, live *catalog.LiveSpec, bindings []captureBinding, added []connector.DiscoveredBinding, details []string) (*Draft, error) {
	if len(details) == 0 {
		return nil, nil
	}
	if err := doc.set("bindings", bindings); err != nil {
		return nil, err
	}
	mergedSpec, err := doc.marshal()
	if err != nil {
		return nil, err
	}

	var entries = []DraftEntry{
		{CatalogName: live.CatalogName, SpecType: catalog.Capture, Spec: mergedSpec},
	}
	for _, a := range added {
		entries = append(entries, DraftEntry{
			CatalogName: catalog.Name(capturePrefix(live.CatalogName) + "/" + string(a.RecommendedName)),
			SpecType:    catalog.Collection,
			Spec:        collectionStub(a),
		})
	}

	return &Draft{
		Detail:  strings.Join(details, ", "),
		Entries: entries,
	}, nil
}
