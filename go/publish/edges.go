package publish

import (
	"encoding/json"

	"github.com/estuary/flow/go/catalog"
)

// edgeWire mirrors just enough of each spec type's JSON (spec.md §3.1)
// to recover the reads_from/writes_to edges a published spec
// contributes, independent of go/validate's BuiltCatalog (whose
// connector-validated bindings don't echo back draft-time collection
// names). This is the same kind of minimal hand-written wire mirror
// go/validate uses, applied to the one field each spec type needs here.
type edgeWire struct {
	Derive *struct {
		Transforms []struct {
			Source struct {
				Name catalog.Name `json:"name"`
			} `json:"source"`
		} `json:"transforms"`
	} `json:"derive,omitempty"`
	SourceCapture catalog.Name `json:"sourceCapture,omitempty"`
	Bindings      []struct {
		Target catalog.Name `json:"target,omitempty"`
		Source catalog.Name `json:"source,omitempty"`
	} `json:"bindings"`
}

// readsWritesFromSpec computes the reads_from/writes_to edge sets a
// spec contributes once published, per spec.md §3.1 invariant 2:
// a derivation collection reads its transform sources; a capture
// writes its binding targets; a materialization reads its binding
// sources. Plain collections with no derivation touch nothing.
func readsWritesFromSpec(specType catalog.SpecType, spec json.RawMessage) (reads, writes []catalog.Name) {
	if len(spec) == 0 {
		return nil, nil
	}
	var w edgeWire
	if err := json.Unmarshal(spec, &w); err != nil {
		return nil, nil
	}

	switch specType {
	case catalog.Collection:
		if w.Derive == nil {
			return nil, nil
		}
		var seen = make(map[catalog.Name]bool)
		for _, t := range w.Derive.Transforms {
			if name := t.Source.Name; name != "" && !seen[name] {
				seen[name] = true
				reads = append(reads, name)
			}
		}
	case catalog.Capture:
		for _, b := range w.Bindings {
			if b.Target != "" {
				writes = append(writes, b.Target)
			}
		}
	case catalog.Materialization:
		for _, b := range w.Bindings {
			if b.Source != "" {
				reads = append(reads, b.Source)
			}
		}
	}
	return reads, writes
}
