package controller

import "encoding/json"

// specDoc is a shallow, field-preserving view over a capture,
// collection, or materialization spec body: only the one array this
// package's controllers need to mutate ("bindings" or "transforms") is
// decoded structurally, while every other top-level key round-trips
// byte-for-byte untouched. This generalizes go/validate/specs.go's
// minimal hand-written wire mirrors from read-only parsing to
// surgical, schema-preserving mutation.
type specDoc struct {
	raw map[string]json.RawMessage
}

func parseSpecDoc(spec json.RawMessage) (*specDoc, error) {
	var raw = map[string]json.RawMessage{}
	if len(spec) > 0 {
		if err := json.Unmarshal(spec, &raw); err != nil {
			return nil, err
		}
	}
	return &specDoc{raw: raw}, nil
}

func (d *specDoc) get(key string, out any) (bool, error) {
	var v, ok = d.raw[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(v, out); err != nil {
		return false, err
	}
	return true, nil
}

func (d *specDoc) set(key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	d.raw[key] = encoded
	return nil
}

func (d *specDoc) delete(key string) {
	delete(d.raw, key)
}

func (d *specDoc) marshal() (json.RawMessage, error) {
	return json.Marshal(d.raw)
}

// captureBinding mirrors models.CaptureBinding's wire shape (resource,
// target collection, optional disable) just far enough for the capture
// controller's auto-discover sync.
type captureBinding struct {
	Target   string          `json:"target"`
	Resource json.RawMessage `json:"resource"`
	Disable  bool            `json:"disable,omitempty"`
}

// materializationBinding mirrors models.MaterializationBinding's wire
// shape for the materialization controller's source-capture sync and
// incompatible-schema recovery.
type materializationBinding struct {
	Source                     string          `json:"source"`
	Resource                   json.RawMessage `json:"resource"`
	Disable                    bool            `json:"disable,omitempty"`
	Backfill                   int             `json:"backfill,omitempty"`
	OnIncompatibleSchemaChange string          `json:"onIncompatibleSchemaChange,omitempty"`
}

// transformWire mirrors a derivation transform's source reference, for
// the collection controller's upstream-deletion handling.
type transformWire struct {
	Name   string `json:"name"`
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Disable bool `json:"disable,omitempty"`
}

type derivationWire struct {
	Transforms []transformWire `json:"transforms"`
}
