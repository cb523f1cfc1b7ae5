package queue

import (
	"context"
	"encoding/json"

	"github.com/estuary/flow/go/connector"
	"github.com/estuary/flow/go/store"
)

// ConnectorTagRequest is a connector_tag task's payload: probe one
// connector image tag's Spec RPC and record its advertised schemas,
// grounded on
// original_source/crates/agent/src/connector_tags.rs's
// TagExecutor.process.
type ConnectorTagRequest struct {
	Image         string `json:"image"`
	ConnectorType string `json:"connectorType"` // "capture" | "materialization"
}

// ConnectorTagResult mirrors connector_tags.rs's JobStatus, minus the
// docker-pull and RuntimeProtocol-detection states that belong to the
// out-of-scope connector execution layer (spec.md §1 Non-goals) — here
// the Spec RPC itself stands in for "the image is reachable and
// speaks the protocol it claims to".
type ConnectorTagResult struct {
	Status                   string          `json:"status"`
	Error                    string          `json:"error,omitempty"`
	DocumentationUrl         string          `json:"documentationUrl,omitempty"`
	EndpointConfigSchemaJson json.RawMessage `json:"endpointConfigSchemaJson,omitempty"`
	ResourceConfigSchemaJson json.RawMessage `json:"resourceConfigSchemaJson,omitempty"`
	Oauth2Json               json.RawMessage `json:"oauth2Json,omitempty"`
}

const (
	TagStatusSuccess          = "success"
	TagStatusSpecFailed       = "specFailed"
	TagStatusValidationFailed = "validationFailed"
)

// ConnectorTagExecutor implements the connector_tag task type.
type ConnectorTagExecutor struct {
	Connector connector.Client
}

// Poll fetches image's Spec RPC and validates materialization
// resource configs carry the `x-collection-name` annotation discovers
// relies on to resolve a binding's target collection
// (connector_tags.rs's pointer_for_schema check).
func (e *ConnectorTagExecutor) Poll(ctx context.Context, task *store.Task) (Outcome, ConnectorTagResult) {
	var req ConnectorTagRequest
	if err := json.Unmarshal(task.Payload, &req); err != nil {
		return done(), ConnectorTagResult{Status: TagStatusSpecFailed, Error: err.Error()}
	}

	resp, err := e.Connector.Spec(ctx, req.Image, connector.SpecRequest{ConnectorType: req.ConnectorType})
	if err != nil {
		return done(), ConnectorTagResult{Status: TagStatusSpecFailed, Error: err.Error()}
	}

	if req.ConnectorType == "materialization" && len(resp.ResourceConfigSchemaJson) > 0 {
		if !hasCollectionNameAnnotation(resp.ResourceConfigSchemaJson) {
			return done(), ConnectorTagResult{
				Status: TagStatusValidationFailed,
				Error:  "materialization resource config schema is missing an x-collection-name annotated property",
			}
		}
	}

	return done(), ConnectorTagResult{
		Status:                   TagStatusSuccess,
		DocumentationUrl:         resp.DocumentationUrl,
		EndpointConfigSchemaJson: resp.ConfigSchemaJson,
		ResourceConfigSchemaJson: resp.ResourceConfigSchemaJson,
		Oauth2Json:               resp.Oauth2,
	}
}

// hasCollectionNameAnnotation reports whether schema contains a
// property tagged "x-collection-name": true anywhere in its
// properties, the minimal structural check standing in for
// tables::utils::pointer_for_schema's JSON-schema pointer walk.
func hasCollectionNameAnnotation(schema json.RawMessage) bool {
	var doc map[string]any
	if json.Unmarshal(schema, &doc) != nil {
		return false
	}
	return walkForAnnotation(doc)
}

func walkForAnnotation(node any) bool {
	obj, ok := node.(map[string]any)
	if !ok {
		return false
	}
	if v, ok := obj["x-collection-name"]; ok {
		if b, ok := v.(bool); ok && b {
			return true
		}
	}
	for _, v := range obj {
		if walkForAnnotation(v) {
			return true
		}
	}
	return false
}
