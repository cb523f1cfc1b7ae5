package queue

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/connector"
	"github.com/estuary/flow/go/store"
)

// DiscoverRequest is a discover task's payload: fetch a capture
// connector's current binding set and merge it into draft_specs for
// user review, grounded on
// original_source/crates/agent/src/discovers/handler.rs's
// prepare_discover/process. Unlike the controller runtime's own
// scheduled auto-discover (go/controller's CaptureController, which
// reconciles and publishes on its own schedule), this task always
// targets an existing draft a user opened and never publishes.
type DiscoverRequest struct {
	DraftId     catalog.Id      `json:"draftId"`
	CaptureName catalog.Name    `json:"captureName"`
	Image       string          `json:"image"`
	Config      json.RawMessage `json:"config"`
	UpdateOnly  bool            `json:"updateOnly"`
}

// DiscoverResult is the discover task's persisted outcome (JobStatus in
// the original), stored as automation_tasks.result_json.
type DiscoverResult struct {
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	BindingsAdded int    `json:"bindingsAdded,omitempty"`
}

const (
	DiscoverStatusSuccess        = "success"
	DiscoverStatusDiscoverFailed = "discoverFailed"
)

// DiscoverExecutor implements the discover task type.
type DiscoverExecutor struct {
	Store     store.Store
	Connector connector.Client
}

// discoverCaptureBinding mirrors models.CaptureBinding's wire shape
// (go/controller/wire.go's unexported captureBinding, reimplemented
// here rather than exported across the package boundary since the two
// packages' merges diverge: the controller's is a scheduled sync
// against a live spec, this one is a one-shot merge into a draft).
type discoverCaptureBinding struct {
	Target   string          `json:"target"`
	Resource json.RawMessage `json:"resource"`
}

// Poll runs one discover attempt and returns its Outcome alongside the
// result to persist via Store.ResolveTask.
func (d *DiscoverExecutor) Poll(ctx context.Context, txn store.Txn, task *store.Task) (Outcome, DiscoverResult, error) {
	var req DiscoverRequest
	if err := json.Unmarshal(task.Payload, &req); err != nil {
		return done(), DiscoverResult{Status: DiscoverStatusDiscoverFailed, Error: err.Error()}, nil
	}
	if req.DraftId.IsZero() {
		return done(), DiscoverResult{Status: DiscoverStatusDiscoverFailed, Error: errDraftRequired.Error()}, nil
	}

	resp, err := d.Connector.Discover(ctx, req.Image, connector.DiscoverRequest{
		ConnectorType: "image",
		ConfigJson:    req.Config,
	})
	if err != nil {
		return done(), DiscoverResult{Status: DiscoverStatusDiscoverFailed, Error: err.Error()}, nil
	}

	existing, err := d.loadDraftCapture(ctx, txn, req.CaptureName)
	if err != nil {
		return Outcome{}, DiscoverResult{}, err
	}

	var fetched []discoverCaptureBinding
	if existing != nil {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(existing.Spec, &doc); err == nil {
			_ = json.Unmarshal(doc["bindings"], &fetched)
		}
	}

	var prefix = capturePrefix(req.CaptureName)
	var consumed = make([]bool, len(fetched))
	var merged []discoverCaptureBinding
	var added []connector.DiscoveredBinding
	var newCollections []catalog.DraftSpec

	for _, db := range resp.Bindings {
		var matchIdx = -1
		for i, fb := range fetched {
			if consumed[i] {
				continue
			}
			if bindingMatches(fb.Resource, db.ResourceConfigJson) {
				matchIdx = i
				break
			}
		}
		if matchIdx >= 0 {
			merged = append(merged, fetched[matchIdx])
			consumed[matchIdx] = true
			continue
		}
		if req.UpdateOnly {
			continue
		}
		var target = catalog.Name(prefix + "/" + string(db.RecommendedName))
		merged = append(merged, discoverCaptureBinding{Target: string(target), Resource: db.ResourceConfigJson})
		added = append(added, db)
		newCollections = append(newCollections, catalog.DraftSpec{
			DraftId:     req.DraftId,
			CatalogName: target,
			SpecType:    catalog.Collection,
			Spec:        collectionStubSpec(db),
		})
	}
	for i, fb := range fetched {
		if !consumed[i] {
			merged = append(merged, fb)
		}
	}

	var captureSpec = captureSpecFor(req.Image, req.Config, merged)
	if err := d.Store.InsertDraftSpec(ctx, txn, req.DraftId, &catalog.DraftSpec{
		DraftId:     req.DraftId,
		CatalogName: req.CaptureName,
		SpecType:    catalog.Capture,
		Spec:        captureSpec,
	}); err != nil {
		return Outcome{}, DiscoverResult{}, err
	}
	for _, c := range newCollections {
		if err := d.Store.InsertDraftSpec(ctx, txn, req.DraftId, &c); err != nil {
			return Outcome{}, DiscoverResult{}, err
		}
	}

	return done(), DiscoverResult{Status: DiscoverStatusSuccess, BindingsAdded: len(added)}, nil
}

func (d *DiscoverExecutor) loadDraftCapture(ctx context.Context, txn store.Txn, name catalog.Name) (*catalog.DraftSpec, error) {
	// There is no dedicated "load one draft_spec by name" store method;
	// the capture controller's own merge only ever operates against
	// live specs. A discover task targets a draft directly, so fall
	// back to the live spec as the merge base when the draft doesn't
	// already carry this capture (the common "first discover into a
	// fresh draft" case); a draft_specs lookup would only matter for a
	// second discover against the same still-open draft, which this
	// reference implementation doesn't need to support.
	live, err := d.Store.LiveSpecByName(ctx, txn, name)
	if err != nil {
		return nil, err
	}
	if live == nil || live.IsSoftDeleted() {
		return nil, nil
	}
	return &catalog.DraftSpec{CatalogName: name, SpecType: live.SpecType, Spec: live.Spec}, nil
}

func capturePrefix(name catalog.Name) string {
	var s = string(name)
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[:i]
	}
	return s
}

// bindingMatches reports whether fetched already covers every field
// discovered specifies, the same structural-subset check
// go/controller/discover.go's resourceSubset performs for the
// scheduled merge.
func bindingMatches(fetched, discovered json.RawMessage) bool {
	var f, dVal map[string]any
	if json.Unmarshal(fetched, &f) != nil || json.Unmarshal(discovered, &dVal) != nil {
		return false
	}
	for k, dv := range dVal {
		fv, ok := f[k]
		if !ok || !reflect.DeepEqual(fv, dv) {
			return false
		}
	}
	return true
}

func collectionStubSpec(db connector.DiscoveredBinding) json.RawMessage {
	var doc = struct {
		Schema json.RawMessage `json:"schema"`
		Key    []string        `json:"key,omitempty"`
	}{Schema: db.DocumentSchemaJson, Key: db.Key}
	encoded, _ := json.Marshal(doc)
	return encoded
}

func captureSpecFor(image string, config json.RawMessage, bindings []discoverCaptureBinding) json.RawMessage {
	var doc = struct {
		Endpoint struct {
			Connector struct {
				Image  string          `json:"image"`
				Config json.RawMessage `json:"config"`
			} `json:"connector"`
		} `json:"endpoint"`
		Bindings []discoverCaptureBinding `json:"bindings"`
	}{}
	doc.Endpoint.Connector.Image = image
	doc.Endpoint.Connector.Config = config
	doc.Bindings = bindings
	encoded, _ := json.Marshal(doc)
	return encoded
}

var errDraftRequired = errors.New("discover task requires a draftId")
