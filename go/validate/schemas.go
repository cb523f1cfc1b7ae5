package validate

import (
	"encoding/json"
	"fmt"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/schema"
)

// indexSchemas implements phase 2: every collection's write (and, if
// distinct, read) schema is bundled into a shared Index so later
// phases and the combiner (go/reduce) can resolve `$ref`s across specs
// (spec.md §4.3 phase 2).
func indexSchemas(draft []catalog.DraftSpec) (*schema.Index, map[catalog.Name]*collectionWire, []error) {
	var idx = schema.NewIndex()
	var wires = make(map[catalog.Name]*collectionWire)
	var errs []error

	for _, d := range draft {
		if d.IsDeletion() || d.SpecType != catalog.Collection {
			continue
		}
		var scope = catalog.Scope(d.SpecType, d.CatalogName)
		var w collectionWire
		if err := json.Unmarshal(d.Spec, &w); err != nil {
			errs = append(errs, catalog.NewValidationError(scope, "parsing collection spec: %v", err))
			continue
		}
		wires[d.CatalogName] = &w

		var writeSchema = w.WriteSchema
		if writeSchema == nil {
			writeSchema = w.Schema
		}
		if writeSchema == nil {
			errs = append(errs, catalog.NewValidationError(scope, "collection has neither schema nor writeSchema"))
			continue
		}

		var writeURL = schemaURL(d.CatalogName, "write")
		if _, err := idx.Add(writeURL, writeSchema); err != nil {
			errs = append(errs, catalog.NewValidationError(scope, "indexing write schema: %v", err))
			continue
		}

		if w.ReadSchema != nil {
			var readURL = schemaURL(d.CatalogName, "read")
			if _, err := idx.Add(readURL, w.ReadSchema); err != nil {
				errs = append(errs, catalog.NewValidationError(scope, "indexing read schema: %v", err))
			}
		}

		if len(w.Key) == 0 {
			errs = append(errs, catalog.NewValidationError(scope, "collection key must not be empty"))
		}
	}

	return idx, wires, errs
}

func schemaURL(name catalog.Name, kind string) string {
	return fmt.Sprintf("flow://schemas/%s/%s", name, kind)
}

// buildCollections turns the indexed wire specs into BuiltCollections,
// called after phase 2 succeeds (no schema errors).
func buildCollections(draft []catalog.DraftSpec, wires map[catalog.Name]*collectionWire) []BuiltCollection {
	var out []BuiltCollection
	for _, d := range draft {
		if d.IsDeletion() || d.SpecType != catalog.Collection {
			continue
		}
		var w = wires[d.CatalogName]
		if w == nil {
			continue
		}
		var readURL = schemaURL(d.CatalogName, "write")
		if w.ReadSchema != nil {
			readURL = schemaURL(d.CatalogName, "read")
		}
		out = append(out, BuiltCollection{
			Name:           d.CatalogName,
			WriteSchemaURL: schemaURL(d.CatalogName, "write"),
			ReadSchemaURL:  readURL,
			Key:            w.Key,
		})
	}
	return out
}
