package validate

import (
	"encoding/json"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/schema"
)

// The structs below are the control plane's own minimal wire shapes
// for the four spec types (spec.md §3.1): just enough of each spec's
// JSON to drive validation. The teacher's generated `pf.CollectionSpec`
// etc. are gone along with the cgo build engine, so these are plain
// hand-written mirrors of the same JSON the original models crate
// serializes (original_source/crates/models/src/lib.rs's #[serde] field
// names), not a re-derivation from any .proto.

type collectionWire struct {
	Schema      json.RawMessage   `json:"schema,omitempty"`
	WriteSchema json.RawMessage   `json:"writeSchema,omitempty"`
	ReadSchema  json.RawMessage   `json:"readSchema,omitempty"`
	Key         []schema.Pointer  `json:"key"`
	Derive      *deriveWire       `json:"derive,omitempty"`
}

type deriveWire struct {
	Transforms []transformWire `json:"transforms"`
}

type transformWire struct {
	Name       string           `json:"name"`
	Source     sourceWire       `json:"source"`
	ShuffleKey []schema.Pointer `json:"shuffleKey,omitempty"`
	Lambda     json.RawMessage  `json:"lambda,omitempty"`
	ReadOnly   bool             `json:"readOnly,omitempty"`
}

type sourceWire struct {
	Name catalog.Name `json:"name"`
}

type endpointWire struct {
	Connector *connectorConfigWire `json:"connector,omitempty"`
}

type connectorConfigWire struct {
	Image  string          `json:"image"`
	Config json.RawMessage `json:"config,omitempty"`
}

type captureWire struct {
	Endpoint endpointWire        `json:"endpoint"`
	Bindings []captureBindWire   `json:"bindings"`
}

type captureBindWire struct {
	Target   catalog.Name    `json:"target"`
	Resource json.RawMessage `json:"resource"`
}

type materializationWire struct {
	Endpoint      endpointWire         `json:"endpoint"`
	SourceCapture catalog.Name         `json:"sourceCapture,omitempty"`
	Bindings      []materializeBindWire `json:"bindings"`
}

type materializeBindWire struct {
	Source   catalog.Name    `json:"source"`
	Resource json.RawMessage `json:"resource"`
}

type testWire struct {
	Steps []testStepWire `json:"steps"`
}

type testStepWire struct {
	Ingest *ingestStepWire `json:"ingest,omitempty"`
	Verify *verifyStepWire `json:"verify,omitempty"`
}

type ingestStepWire struct {
	Collection catalog.Name      `json:"collection"`
	Documents  []json.RawMessage `json:"documents"`
}

type verifyStepWire struct {
	Collection catalog.Name      `json:"collection"`
	Documents  []json.RawMessage `json:"documents"`
}
