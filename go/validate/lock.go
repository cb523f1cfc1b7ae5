package validate

import "github.com/estuary/flow/go/catalog"

// annotateOptimisticLocks implements phase 5: every draft spec emits a
// row carrying its caller-asserted expect_pub_id, and every live spec
// reachable only through the dependency expansion (not itself in the
// draft) emits a row carrying its current last_build_id, for the
// publication engine (C4) to re-check both at commit time (spec.md
// §4.3 phase 5, §4.4 steps 4-5).
func annotateOptimisticLocks(draft []catalog.DraftSpec, expanded []catalog.LiveSpec) ([]OptimisticLockRow, []OptimisticLockRow) {
	var draftRows = make([]OptimisticLockRow, 0, len(draft))
	var inDraft = make(map[catalog.Name]bool, len(draft))

	for _, d := range draft {
		inDraft[d.CatalogName] = true
		draftRows = append(draftRows, OptimisticLockRow{
			CatalogName: d.CatalogName,
			ExpectPubId: d.ExpectPubId,
		})
	}

	var expandRows []OptimisticLockRow
	for _, l := range expanded {
		if inDraft[l.CatalogName] {
			continue
		}
		var buildId = l.LastBuildId
		expandRows = append(expandRows, OptimisticLockRow{
			CatalogName: l.CatalogName,
			LastBuildId: &buildId,
		})
	}

	return draftRows, expandRows
}
