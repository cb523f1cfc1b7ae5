// Package connector models the external connector RPC contract of
// spec.md §6.3: the shapes the validation pipeline (C3) and
// controller runtime (C5) exchange with capture, derive, and
// materialize connector images. The transport itself (gRPC framing,
// image invocation) is out of scope per spec.md §1; Client is the
// boundary the core programs against.
package connector

import (
	"context"
	"encoding/json"

	"github.com/estuary/flow/go/catalog"
)

// SpecRequest/SpecResponse implement the idempotent Spec RPC.
type SpecRequest struct {
	ConnectorType string          `json:"connectorType"`
	ConfigJson    json.RawMessage `json:"configJson"`
}

type SpecResponse struct {
	ConfigSchemaJson         json.RawMessage `json:"configSchemaJson"`
	ResourceConfigSchemaJson json.RawMessage `json:"resourceConfigSchemaJson"`
	DocumentationUrl         string          `json:"documentationUrl"`
	Oauth2                   json.RawMessage `json:"oauth2,omitempty"`
	ResourcePathPointers     []string        `json:"resourcePathPointers,omitempty"`
}

// DiscoverRequest/DiscoverResponse implement capture-only Discover.
type DiscoverRequest struct {
	ConnectorType string          `json:"connectorType"`
	ConfigJson    json.RawMessage `json:"configJson"`
}

type DiscoveredBinding struct {
	RecommendedName   catalog.Name    `json:"recommendedName"`
	ResourceConfigJson json.RawMessage `json:"resourceConfigJson"`
	DocumentSchemaJson json.RawMessage `json:"documentSchemaJson"`
	Key               []string        `json:"key"`
}

type DiscoverResponse struct {
	Bindings []DiscoveredBinding `json:"bindings"`
}

// ConstraintType enumerates the per-field constraint kinds a
// Validate RPC may report (spec.md §4.3 phase 4).
type ConstraintType string

const (
	ConstraintFieldRequired       ConstraintType = "FieldRequired"
	ConstraintLocationRequired    ConstraintType = "LocationRequired"
	ConstraintLocationRecommended ConstraintType = "LocationRecommended"
	ConstraintFieldOptional       ConstraintType = "FieldOptional"
	ConstraintFieldForbidden      ConstraintType = "FieldForbidden"
	ConstraintUnsatisfiable       ConstraintType = "Unsatisfiable"
)

type Constraint struct {
	Type   ConstraintType `json:"type"`
	Reason string         `json:"reason"`
}

// ValidateBinding is one proposed binding within a Validate request.
type ValidateBinding struct {
	ResourceConfigJson json.RawMessage `json:"resourceConfigJson"`
	Collection         catalog.Name    `json:"collection"`
}

type ValidateRequest struct {
	ConnectorType string            `json:"connectorType"`
	ConfigJson    json.RawMessage   `json:"configJson"`
	Bindings      []ValidateBinding `json:"bindings"`
}

type ValidatedBinding struct {
	ResourcePath []string              `json:"resourcePath"`
	Constraints  map[string]Constraint `json:"constraints"`
}

type ValidateResponse struct {
	Bindings []ValidatedBinding `json:"bindings"`
}

// Client is the boundary the validation pipeline and controller
// runtime program against; Spec is expected to be idempotent and
// Validate a pure function of its request for a given connector
// image (spec.md §6.3).
type Client interface {
	Spec(ctx context.Context, image string, req SpecRequest) (*SpecResponse, error)
	Discover(ctx context.Context, image string, req DiscoverRequest) (*DiscoverResponse, error)
	Validate(ctx context.Context, image string, req ValidateRequest) (*ValidateResponse, error)
}

// HasUnsatisfiable reports whether any binding in resp carries an
// Unsatisfiable constraint, the trigger for C3's "incompatible
// collections" bookkeeping.
func (r *ValidateResponse) HasUnsatisfiable() bool {
	for _, b := range r.Bindings {
		for _, c := range b.Constraints {
			if c.Type == ConstraintUnsatisfiable {
				return true
			}
		}
	}
	return false
}
