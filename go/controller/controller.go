// Package controller implements the controller runtime of spec.md
// §4.5: per-spec reconciliation loops that react to dependency changes
// and perform side effects (auto-discovery, source-capture binding
// sync, incompatible-schema recovery, hard-deletion) by synthesizing
// drafts and enqueueing publications, rather than mutating live state
// directly.
package controller

import (
	"encoding/json"
	"time"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/store"
)

// Event carries an external trigger a controller run reacts to beyond
// the ordinary dependency-notification path (spec.md §4.5 "Runs are
// triggered by ... an external event from C8").
type Event struct {
	ShardFailure            bool
	IncompatibleCollections []catalog.IncompatibleCollection
}

// ReconcileInput is the consistent snapshot one controller run
// observes (spec.md §4.5 "each run observes a consistent snapshot of
// the live catalog").
type ReconcileInput struct {
	Live  *catalog.LiveSpec
	Graph *catalog.Graph
	Job   *store.ControllerJob
	Event Event
}

// DraftEntry is one catalog name's proposed new spec body within a
// controller-synthesized draft.
type DraftEntry struct {
	CatalogName catalog.Name
	SpecType    catalog.SpecType
	Spec        json.RawMessage
}

// Draft is the single-publication draft a controller wants applied;
// the runtime persists Entries as draft_specs rows under one fresh
// draft id and enqueues a publication carrying Detail.
type Draft struct {
	Detail  string
	Entries []DraftEntry
}

// Outcome is the result of one controller run: either terminal (Done)
// or rescheduled after a duration, generalizing spec.md §4.7's
// `{Done, Sleep(duration), Yield(send_messages)}` task outcome model to
// the controller_run task, which never yields cross-task messages of
// its own (its fan-out is notify_dependents, driven separately by the
// runtime after Reconcile returns).
type Outcome struct {
	Done   bool
	After  time.Duration // meaningful only when !Done
	Status []byte        // opaque per-spec-type status, persisted verbatim
	Failed bool
	Error  string
}

// done reports success with no further scheduling and clears any prior
// failure streak (spec.md §4.5 "A successful run clears failures and
// error").
func done(status []byte) Outcome {
	return Outcome{Done: true, Status: status}
}

// retry schedules another run after backoff without recording a
// failure — used for "nothing to do yet" (e.g. discover interval not
// elapsed), which is not itself an error.
func retry(after time.Duration, status []byte) Outcome {
	return Outcome{Done: false, After: after, Status: status}
}

// failed records a run failure, to be backed off per the caller's
// current failure count (spec.md §4.5 "Backoff").
func failed(status []byte, err error) Outcome {
	return Outcome{Done: false, Failed: true, Status: status, Error: err.Error()}
}

// deletedDependencies returns the catalog names of every live spec
// directly adjacent to live that has been soft-deleted, per spec.md
// §4.5's collection- and materialization-controller "on dependency
// deletion" handling.
func deletedDependencies(live *catalog.LiveSpec, graph *catalog.Graph) []catalog.Name {
	var out []catalog.Name
	for _, id := range graph.Adjacent(live.Id) {
		if sp := graph.Spec(id); sp != nil && sp.IsSoftDeleted() {
			out = append(out, sp.CatalogName)
		}
	}
	return out
}
