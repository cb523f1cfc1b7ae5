package publish

import (
	"github.com/nsf/jsondiff"

	"github.com/estuary/flow/go/store"
	"github.com/estuary/flow/go/validate"
)

// jsondiffOptions matches the console options go/testing/driver.go
// configures for comparing actual vs. expected document bodies; reused
// here to compare a draft's proposed spec body against its currently
// live body.
var jsondiffOptions = jsondiff.DefaultConsoleOptions()

// isEmptyBuild reports whether a publication's draft, once built,
// makes no observable change to the live catalog (spec.md §6.4
// "Publishing a no-op draft ... yields status emptyDraft"). A
// deletion draft is never empty if the live spec it targets still
// exists; a creation/update draft is empty only when its proposed spec
// body matches the currently live body byte-for-byte modulo
// insignificant JSON formatting.
func isEmptyBuild(rows []store.SpecRow, built *validate.BuiltCatalog) bool {
	if built == nil {
		return false
	}
	for _, row := range rows {
		var d = row.DraftSpec
		if d == nil {
			continue
		}
		if d.IsDeletion() {
			if row.LiveSpec != nil {
				return false // a real deletion always changes state
			}
			continue // deleting a spec that's already gone: no-op
		}
		if row.LiveSpec == nil || row.LiveSpec.Spec == nil {
			return false // creation of a previously-absent spec
		}
		var mode, _ = jsondiff.Compare(row.LiveSpec.Spec, d.Spec, &jsondiffOptions)
		switch mode {
		case jsondiff.FullMatch:
			// identical: treat as no-op.
		default:
			return false
		}
	}
	return true
}

// hasFailedTests reports whether any embedded test recorded a failure
// during the build's symbolic execution (spec.md §4.3 phase 6). This
// doesn't abort the build, but it does make the publication's final
// status testFailed rather than success.
func hasFailedTests(built *validate.BuiltCatalog) bool {
	for _, t := range built.Tests {
		if !t.Passed {
			return true
		}
	}
	return false
}
