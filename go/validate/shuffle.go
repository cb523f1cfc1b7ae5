package validate

import (
	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/schema"
)

// walkShuffleCoherence implements phase 3: for each derivation, every
// transform's shuffle key (explicit, or implicitly the source
// collection's own key when unset) must agree on type and arity across
// the whole derivation, unless every transform is read-only, in which
// case no particular shuffling strategy is required and the check is
// relaxed (original_source/crates/validation/src/derivation.rs
// `walk_derivation`'s `strict_shuffle` flag).
func walkShuffleCoherence(scope string, w *collectionWire, idx *schema.Index, collections map[catalog.Name]*collectionWire) (*BuiltDerivation, []error) {
	if w.Derive == nil {
		return nil, nil
	}

	var errs []error
	var built = &BuiltDerivation{}
	var strict bool

	for _, t := range w.Derive.Transforms {
		var source = collections[t.Source.Name]
		var shuffleKey = t.ShuffleKey
		if len(shuffleKey) == 0 && source != nil {
			shuffleKey = source.Key
		}
		if !t.ReadOnly {
			strict = true
		}

		var types []string
		if source != nil {
			var sourceSchema, _ = idx.Resolve(schemaURL(t.Source.Name, "write"))
			for _, p := range shuffleKey {
				var at = sourceSchema.At(p)
				types = append(types, at.Types()...)
			}
		}

		built.Transforms = append(built.Transforms, BuiltTransform{
			Name:         t.Name,
			Source:       t.Source.Name,
			ShuffleKey:   shuffleKey,
			ShuffleTypes: types,
			ReadOnly:     t.ReadOnly,
		})
	}

	if strict && len(built.Transforms) > 1 {
		var first = built.Transforms[0]
		for _, other := range built.Transforms[1:] {
			if len(other.ShuffleKey) != len(first.ShuffleKey) {
				errs = append(errs, catalog.NewValidationError(scope,
					"transform %s shuffle key arity (%d) disagrees with transform %s (%d)",
					other.Name, len(other.ShuffleKey), first.Name, len(first.ShuffleKey)))
				continue
			}
			if !typesEqual(other.ShuffleTypes, first.ShuffleTypes) {
				errs = append(errs, catalog.NewValidationError(scope,
					"transform %s shuffle key types %v disagree with transform %s types %v",
					other.Name, other.ShuffleTypes, first.Name, first.ShuffleTypes))
			}
		}
	}

	return built, errs
}

func typesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
