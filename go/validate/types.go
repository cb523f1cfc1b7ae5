// Package validate implements the validation pipeline of spec.md §4.3:
// transforming a (draft, live, expanded_live) triple into a
// BuiltCatalog or a list of user-visible errors, in the six ordered
// phases the spec names.
package validate

import (
	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/connector"
	"github.com/estuary/flow/go/schema"
)

// BuiltCollection is the validated, schema-indexed form of a
// collection spec (spec.md §4.3 phase 2).
type BuiltCollection struct {
	Name            catalog.Name
	WriteSchemaURL  string
	ReadSchemaURL   string
	Key             []schema.Pointer
	Derivation      *BuiltDerivation
}

// BuiltDerivation carries the transform/shuffle shape validated in
// phase 3.
type BuiltDerivation struct {
	Transforms []BuiltTransform
}

type BuiltTransform struct {
	Name             string
	Source           catalog.Name
	ShuffleKey       []schema.Pointer
	ShuffleTypes     []string
	ReadOnly         bool
}

// BuiltCapture and BuiltMaterialization carry the connector-validated
// binding constraints of phase 4.
type BuiltCapture struct {
	Name           catalog.Name
	ConnectorImage string
	Bindings       []connector.ValidatedBinding
}

type BuiltMaterialization struct {
	Name           catalog.Name
	ConnectorImage string
	SourceCapture  catalog.Name
	Bindings       []connector.ValidatedBinding
}

// BuiltTest carries the symbolic test execution result of phase 6.
type BuiltTest struct {
	Name   catalog.Name
	Passed bool
	Detail string
}

// OptimisticLockRow is a "draft" or "expand" row emitted by phase 5,
// matching spec.md §4.3 phase 5 exactly: draft rows carry the caller's
// expect_pub_id, expand rows carry the currently observed
// last_build_id, for the publication engine (C4) to re-check at commit
// time.
type OptimisticLockRow struct {
	CatalogName catalog.Name
	ExpectPubId *catalog.Id // set only for draft rows
	LastBuildId *catalog.Id // set only for expand rows
}

// BuiltCatalog is the output of a successful validation run.
type BuiltCatalog struct {
	Collections      []BuiltCollection
	Captures         []BuiltCapture
	Materializations []BuiltMaterialization
	Tests            []BuiltTest

	DraftRows  []OptimisticLockRow
	ExpandRows []OptimisticLockRow

	IncompatibleCollections []catalog.IncompatibleCollection
}

// Collection looks up a built collection by name.
func (b *BuiltCatalog) Collection(name catalog.Name) (*BuiltCollection, bool) {
	for i := range b.Collections {
		if b.Collections[i].Name == name {
			return &b.Collections[i], true
		}
	}
	return nil, false
}
