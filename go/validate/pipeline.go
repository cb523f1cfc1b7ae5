package validate

import (
	"context"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/connector"
)

// Validate runs the six ordered phases of spec.md §4.3 over a
// (draft, live, expanded) triple, returning a BuiltCatalog on success
// or the accumulated list of validation errors otherwise. Each phase
// runs even after a prior phase records errors, so a single pass
// surfaces as many problems as possible, except where a later phase
// could not produce a meaningful result without an earlier one's
// output (schema indexing gates shuffle coherence and endpoint
// validation entirely).
func Validate(ctx context.Context, draft []catalog.DraftSpec, live []catalog.LiveSpec, expanded []catalog.LiveSpec, client connector.Client) (*BuiltCatalog, []error) {
	var known = make(map[catalog.Name]bool, len(live)+len(expanded))
	for _, l := range live {
		if !l.IsSoftDeleted() {
			known[l.CatalogName] = true
		}
	}
	for _, l := range expanded {
		if !l.IsSoftDeleted() {
			known[l.CatalogName] = true
		}
	}

	var errs []error

	// Phase 1: names & references.
	errs = append(errs, checkNamesAndReferences(draft, known)...)

	// Phase 2: schema indexing.
	idx, wires, schemaErrs := indexSchemas(draft)
	errs = append(errs, schemaErrs...)
	if len(schemaErrs) > 0 {
		return nil, errs
	}

	var built = &BuiltCatalog{
		Collections: buildCollections(draft, wires),
	}

	// Phase 3: shuffle coherence.
	for i := range built.Collections {
		var name = built.Collections[i].Name
		var w = wires[name]
		if w == nil || w.Derive == nil {
			continue
		}
		var scope = catalog.Scope(catalog.Collection, name)
		derivation, derr := walkShuffleCoherence(scope, w, idx, wires)
		built.Collections[i].Derivation = derivation
		errs = append(errs, derr...)
	}

	// Phase 4: endpoint validation.
	captures, materializations, incompatible, endpointErrs := validateEndpoints(ctx, client, draft)
	built.Captures = captures
	built.Materializations = materializations
	built.IncompatibleCollections = incompatible
	errs = append(errs, endpointErrs...)

	// Phase 5: optimistic lock annotation.
	built.DraftRows, built.ExpandRows = annotateOptimisticLocks(draft, expanded)

	// Phase 6: test execution (non-fatal; failures surface on BuiltTest).
	built.Tests = runTests(draft, built.Collections, idx)

	if len(errs) > 0 {
		return nil, errs
	}
	return built, nil
}
