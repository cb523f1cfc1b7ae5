package controller

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/connector"
)

// capturePrefix returns the namespace a newly discovered binding's
// target collection is minted under: the capture's own name with its
// last path component removed (original_source
// crates/agent/src/discovers/specs.rs merge_capture's
// `capture_name.rsplit_once("/").unwrap().0`).
func capturePrefix(name catalog.Name) string {
	var s = string(name)
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[:i]
	}
	return s
}

// resourceSubset reports whether every field discovered specifies is
// present and equal in fetched, allowing fetched to carry extra
// locations a user added by hand. This re-expresses merge_capture's
// `doc::diff(fetched, discovered).is_empty()` structural-subset check
// without the `doc` crate's JSON-pointer diff machinery, by comparing
// decoded values directly.
func resourceSubset(fetched, discovered json.RawMessage) bool {
	var f, d map[string]any
	if err := json.Unmarshal(fetched, &f); err != nil {
		return false
	}
	if err := json.Unmarshal(discovered, &d); err != nil {
		return false
	}
	for k, dv := range d {
		if fv, ok := f[k]; !ok || !reflect.DeepEqual(fv, dv) {
			return false
		}
	}
	return true
}

// mergeCaptureBindings synchronizes a capture's current bindings
// against a fresh discover response (spec.md §4.5 capture controller
// "merge the discovered bindings into a draft, preserving
// user-modified bindings"), grounded on discovers/specs.rs'
// merge_capture:
//
//   - A discovered resource matching an existing binding's resource
//     (as a subset) keeps that binding exactly as the user left it.
//   - A discovered resource with no match becomes a new binding,
//     unless addNewBindings is false.
//   - A fetched binding discover no longer reports is left untouched;
//     merge_capture's own filtered_bindings/collections-pruning step
//     only affects what's returned to the caller for collection
//     creation, never removes a binding from the capture itself.
func mergeCaptureBindings(captureName catalog.Name, discovered []connector.DiscoveredBinding, fetched []captureBinding, addNewBindings bool) (merged []captureBinding, added []connector.DiscoveredBinding) {
	var prefix = capturePrefix(captureName)
	var consumed = make([]bool, len(fetched))

	for _, db := range discovered {
		var matchIdx = -1
		for i, fb := range fetched {
			if consumed[i] {
				continue
			}
			if resourceSubset(fb.Resource, db.ResourceConfigJson) {
				matchIdx = i
				break
			}
		}
		if matchIdx >= 0 {
			merged = append(merged, fetched[matchIdx])
			consumed[matchIdx] = true
			continue
		}
		if !addNewBindings {
			continue
		}
		var target = prefix + "/" + string(db.RecommendedName)
		merged = append(merged, captureBinding{Target: target, Resource: db.ResourceConfigJson})
		added = append(added, db)
	}

	// Preserve any fetched binding discover didn't mention at all
	// (e.g. a stream the connector temporarily can't see), rather than
	// silently dropping it — merge_capture only ever adds or keeps.
	for i, fb := range fetched {
		if !consumed[i] {
			merged = append(merged, fb)
		}
	}
	return merged, added
}

// collectionStub synthesizes a minimal collection spec body for a
// newly discovered binding (discovers/specs.rs merge_collections): the
// discovered document schema, and the discovered key when the
// connector provided one. An empty key is left for the user to set —
// merge_collections never invents a key to avoid silently overwriting
// an intentional choice make later.
func collectionStub(db connector.DiscoveredBinding) json.RawMessage {
	var doc = struct {
		Schema json.RawMessage `json:"schema"`
		Key    []string        `json:"key,omitempty"`
	}{Schema: db.DocumentSchemaJson, Key: db.Key}
	encoded, _ := json.Marshal(doc)
	return encoded
}
