package validate

import (
	"encoding/json"

	"github.com/estuary/flow/go/catalog"
)

// checkNamesAndReferences implements phase 1: catalog names are
// well-formed, and every cross-spec reference (a derivation transform
// source, a capture binding target, a materialization binding source)
// resolves to a spec that is either in this draft or already live
// (spec.md §4.3 phase 1).
func checkNamesAndReferences(draft []catalog.DraftSpec, known map[catalog.Name]bool) []error {
	var errs []error
	var inDraft = make(map[catalog.Name]catalog.SpecType, len(draft))

	for _, d := range draft {
		if err := d.CatalogName.Validate(); err != nil {
			errs = append(errs, catalog.NewValidationError(
				catalog.Scope(d.SpecType, d.CatalogName), "invalid catalog name: %v", err))
			continue
		}
		if !d.IsDeletion() {
			inDraft[d.CatalogName] = d.SpecType
		}
	}

	resolves := func(name catalog.Name) bool {
		if _, ok := inDraft[name]; ok {
			return true
		}
		return known[name]
	}

	for _, d := range draft {
		if d.IsDeletion() {
			continue
		}
		var scope = catalog.Scope(d.SpecType, d.CatalogName)

		switch d.SpecType {
		case catalog.Collection:
			var w collectionWire
			if err := json.Unmarshal(d.Spec, &w); err != nil {
				errs = append(errs, catalog.NewValidationError(scope, "parsing collection spec: %v", err))
				continue
			}
			if w.Derive != nil {
				for _, t := range w.Derive.Transforms {
					if err := t.Source.Name.Validate(); err != nil {
						errs = append(errs, catalog.NewValidationError(scope,
							"transform %s: invalid source name: %v", t.Name, err))
					} else if !resolves(t.Source.Name) {
						errs = append(errs, catalog.NewValidationError(scope,
							"transform %s: source collection %s is not known", t.Name, t.Source.Name))
					}
				}
			}
		case catalog.Capture:
			var w captureWire
			if err := json.Unmarshal(d.Spec, &w); err != nil {
				errs = append(errs, catalog.NewValidationError(scope, "parsing capture spec: %v", err))
				continue
			}
			for i, b := range w.Bindings {
				if err := b.Target.Validate(); err != nil {
					errs = append(errs, catalog.NewValidationError(scope,
						"binding[%d]: invalid target name: %v", i, err))
				} else if !resolves(b.Target) {
					errs = append(errs, catalog.NewValidationError(scope,
						"binding[%d]: target collection %s is not known", i, b.Target))
				}
			}
		case catalog.Materialization:
			var w materializationWire
			if err := json.Unmarshal(d.Spec, &w); err != nil {
				errs = append(errs, catalog.NewValidationError(scope, "parsing materialization spec: %v", err))
				continue
			}
			if w.SourceCapture != "" && !resolves(w.SourceCapture) {
				errs = append(errs, catalog.NewValidationError(scope,
					"sourceCapture %s is not known", w.SourceCapture))
			}
			for i, b := range w.Bindings {
				if err := b.Source.Validate(); err != nil {
					errs = append(errs, catalog.NewValidationError(scope,
						"binding[%d]: invalid source name: %v", i, err))
				} else if !resolves(b.Source) {
					errs = append(errs, catalog.NewValidationError(scope,
						"binding[%d]: source collection %s is not known", i, b.Source))
				}
			}
		case catalog.Test:
			var w testWire
			if err := json.Unmarshal(d.Spec, &w); err != nil {
				errs = append(errs, catalog.NewValidationError(scope, "parsing test spec: %v", err))
				continue
			}
			for i, step := range w.Steps {
				var coll catalog.Name
				if step.Ingest != nil {
					coll = step.Ingest.Collection
				} else if step.Verify != nil {
					coll = step.Verify.Collection
				} else {
					errs = append(errs, catalog.NewValidationError(scope,
						"step[%d]: neither ingest nor verify is set", i))
					continue
				}
				if !resolves(coll) {
					errs = append(errs, catalog.NewValidationError(scope,
						"step[%d]: collection %s is not known", i, coll))
				}
			}
		default:
			errs = append(errs, catalog.NewValidationError(scope, "unknown spec type %q", d.SpecType))
		}
	}
	return errs
}
