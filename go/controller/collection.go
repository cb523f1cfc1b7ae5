package controller

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/estuary/flow/go/catalog"
)

// CollectionController implements the collection responsibilities of
// spec.md §4.5: disabling a derivation's transforms when their source
// is deleted. Hard-deletion itself ("Owns hard-deletion when orphaned")
// is decided by the runtime (runtime.go's readyForHardDelete), since it
// requires comparing adjacent specs' last-run times against this
// collection's soft-delete time — bookkeeping that lives in
// store.ControllerJob, not in the per-spec reconciler.
type CollectionController struct{}

func (c *CollectionController) Reconcile(ctx context.Context, in ReconcileInput) (Outcome, *Draft, error) {
	var live = in.Live
	if live.IsSoftDeleted() {
		return done(nil), nil, nil
	}

	var deleted = deletedDependencies(live, in.Graph)
	if len(deleted) == 0 {
		return done(nil), nil, nil
	}

	doc, err := parseSpecDoc(live.Spec)
	if err != nil {
		return failed(nil, err), nil, err
	}
	var derive derivationWire
	if ok, err := doc.get("derive", &derive); err != nil {
		return failed(nil, err), nil, err
	} else if !ok {
		// A plain collection (no derivation) has nothing a deleted
		// peer could affect beyond the edges themselves, which
		// DeleteStaleFlows already retired at publish time. A deleted
		// downstream materialization requires no action either way
		// (spec.md §4.5 "on downstream materialization deletion, no
		// action").
		return done(nil), nil, nil
	}

	var deletedSet = make(map[catalog.Name]bool, len(deleted))
	for _, n := range deleted {
		deletedSet[n] = true
	}
	var disabled []string
	for i := range derive.Transforms {
		if deletedSet[catalog.Name(derive.Transforms[i].Source.Name)] && !derive.Transforms[i].Disable {
			derive.Transforms[i].Disable = true
			disabled = append(disabled, derive.Transforms[i].Name)
		}
	}
	if len(disabled) == 0 {
		return done(nil), nil, nil
	}
	sort.Strings(disabled)
	if err := doc.set("derive", derive); err != nil {
		return failed(nil, err), nil, err
	}
	spec, err := doc.marshal()
	if err != nil {
		return failed(nil, err), nil, err
	}

	return done(nil), &Draft{
		Detail: fmt.Sprintf("disabled transform(s) [%s] in response to deleted source collection(s)", strings.Join(disabled, ", ")),
		Entries: []DraftEntry{
			{CatalogName: live.CatalogName, SpecType: catalog.Collection, Spec: spec},
		},
	}, nil
}
