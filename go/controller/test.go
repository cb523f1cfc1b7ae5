package controller

import (
	"context"
	"encoding/json"
)

// TestStatus is the persisted reconciliation state for a test
// controller: purely observational, spec.md §4.5 "Test controller:
// publish status as passing or not; does not mutate specs."
type TestStatus struct {
	Passing bool `json:"passing"`
}

// TestController never drafts a spec mutation; it only records whether
// the embedded test's most recent publication-time evaluation passed.
// Tests have no side effects to reconcile and no scheduled re-run of
// their own — they are driven entirely by publication and dependency
// notifications, so Reconcile always terminates (Done).
type TestController struct{}

func (c *TestController) Reconcile(ctx context.Context, in ReconcileInput, passed bool) (Outcome, error) {
	var live = in.Live
	if live.IsSoftDeleted() {
		return done(nil), nil
	}
	encoded, _ := json.Marshal(TestStatus{Passing: passed})
	return done(encoded), nil
}
