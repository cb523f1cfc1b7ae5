package controller

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/connector"
	"github.com/estuary/flow/go/store"
)

// Runtime drives the controller runtime of spec.md §4.5 over a Store:
// one dequeue-dispatch-reschedule cycle per RunOnce call, meant to be
// called in a loop by the task-queue worker pool (C7, cmd/ entrypoint).
type Runtime struct {
	Store     store.Store
	BuildIds  *catalog.Generator
	Connector connector.Client

	mu     sync.Mutex
	events map[catalog.Name]Event
}

// NewRuntime constructs a Runtime over the given dependencies.
func NewRuntime(s store.Store, buildIds *catalog.Generator, client connector.Client) *Runtime {
	return &Runtime{Store: s, BuildIds: buildIds, Connector: client, events: make(map[catalog.Name]Event)}
}

// NotifyEvent records an external trigger (spec.md §4.5 "an external
// event from C8", e.g. a shard-failure report) to be folded into name's
// next run. It is merged, not replaced: a shard failure recorded
// before an incompatible-collection notification arrives doesn't get
// lost.
func (rt *Runtime) NotifyEvent(name catalog.Name, ev Event) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var existing = rt.events[name]
	existing.ShardFailure = existing.ShardFailure || ev.ShardFailure
	existing.IncompatibleCollections = append(existing.IncompatibleCollections, ev.IncompatibleCollections...)
	rt.events[name] = existing
}

func (rt *Runtime) takeEvent(name catalog.Name) Event {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var ev = rt.events[name]
	delete(rt.events, name)
	return ev
}

// RunOnce dequeues and processes at most one due controller run,
// reporting whether it found work to do.
func (rt *Runtime) RunOnce(ctx context.Context) (bool, error) {
	txn, err := rt.Store.Begin(ctx)
	if err != nil {
		return false, err
	}
	var committed bool
	defer func() {
		if !committed {
			_ = txn.Rollback(ctx)
		}
	}()

	name, err := rt.Store.DequeueControllerRun(ctx, txn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = txn.Rollback(ctx)
			committed = true
			return false, nil
		}
		return false, err
	}
	defer rt.Store.ReleaseControllerRun(name)

	live, err := rt.Store.LiveSpecByName(ctx, txn, name)
	if err != nil {
		return false, err
	}
	if live == nil {
		// Hard-deleted by a prior run since this queue entry was
		// enqueued; nothing left to reconcile.
		if err := txn.Commit(ctx); err != nil {
			return false, err
		}
		committed = true
		return true, nil
	}

	job, err := rt.Store.LoadControllerJob(ctx, txn, name)
	if err != nil {
		return false, err
	}
	graph, err := rt.Store.BuildGraph(ctx, txn)
	if err != nil {
		return false, err
	}
	var event = rt.takeEvent(name)

	outcome, draft, dispatchErr := rt.dispatch(ctx, txn, live, graph, job, event)

	job.LastRunAt = time.Now().UTC()
	if outcome.Status != nil {
		job.StatusJSON = outcome.Status
	}

	if dispatchErr != nil || outcome.Failed {
		job.Failures++
		if dispatchErr != nil {
			job.Error = dispatchErr.Error()
		} else {
			job.Error = outcome.Error
		}
		if err := rt.Store.RecordControllerRun(ctx, txn, *job, true, time.Now().Add(nextBackoff(job.Failures))); err != nil {
			return false, err
		}
		if err := txn.Commit(ctx); err != nil {
			return false, err
		}
		committed = true
		return true, nil
	}

	job.Failures = 0
	job.Error = ""

	if draft != nil {
		if err := rt.synthesizePublication(ctx, txn, *draft); err != nil {
			return false, err
		}
	}

	if live.IsSoftDeleted() && live.SpecType == catalog.Collection {
		ready, err := rt.readyForHardDelete(ctx, txn, live, graph)
		if err != nil {
			return false, err
		}
		if ready {
			if err := rt.Store.HardDeleteLiveSpec(ctx, txn, live.Id); err != nil {
				return false, err
			}
			if err := rt.notifyDependents(ctx, txn, live, graph); err != nil {
				return false, err
			}
			if err := rt.Store.RecordControllerRun(ctx, txn, *job, false, time.Time{}); err != nil {
				return false, err
			}
			if err := txn.Commit(ctx); err != nil {
				return false, err
			}
			committed = true
			return true, nil
		}
	}

	if err := rt.notifyDependents(ctx, txn, live, graph); err != nil {
		return false, err
	}

	var requeue = !outcome.Done
	var notBefore = time.Now()
	if requeue {
		notBefore = notBefore.Add(outcome.After)
	}
	if err := rt.Store.RecordControllerRun(ctx, txn, *job, requeue, notBefore); err != nil {
		return false, err
	}
	if err := txn.Commit(ctx); err != nil {
		return false, err
	}
	committed = true
	return true, nil
}

// dispatch routes to the per-spec-type reconciler (spec.md §4.5
// "Per-spec responsibilities").
func (rt *Runtime) dispatch(ctx context.Context, txn store.Txn, live *catalog.LiveSpec, graph *catalog.Graph, job *store.ControllerJob, event Event) (Outcome, *Draft, error) {
	var in = ReconcileInput{Live: live, Graph: graph, Job: job, Event: event}

	switch live.SpecType {
	case catalog.Capture:
		return (&CaptureController{Connector: rt.Connector}).Reconcile(ctx, in)

	case catalog.Collection:
		return (&CollectionController{}).Reconcile(ctx, in)

	case catalog.Materialization:
		var sourceCapture *catalog.LiveSpec
		if !live.IsSoftDeleted() {
			if doc, err := parseSpecDoc(live.Spec); err == nil {
				var name catalog.Name
				if ok, _ := doc.get("sourceCapture", &name); ok && name != "" {
					peer, err := rt.Store.LiveSpecByName(ctx, txn, name)
					if err != nil {
						return Outcome{}, nil, err
					}
					sourceCapture = peer
				}
			}
		}
		return (&MaterializationController{Connector: rt.Connector}).Reconcile(ctx, in, sourceCapture)

	case catalog.Test:
		// A test's pass/fail outcome is determined at build time
		// (C3's BuiltTest.Passed). live_specs doesn't persist per-run
		// test results and Event carries none, so the controller
		// reports the Passing value of the last persisted status,
		// which is false when no status has been persisted.
		var status TestStatus
		if len(job.StatusJSON) > 0 {
			_ = json.Unmarshal(job.StatusJSON, &status)
		}
		var passed = status.Passing
		outcome, err := (&TestController{}).Reconcile(ctx, in, passed)
		return outcome, nil, err

	default:
		return done(nil), nil, nil
	}
}

// synthesizePublication persists a controller-authored draft and
// enqueues its publication, using the shared id generator's next value
// as the draft id (spec.md's single monotonic id space covers drafts,
// builds, and publications alike).
func (rt *Runtime) synthesizePublication(ctx context.Context, txn store.Txn, draft Draft) error {
	var draftId = rt.BuildIds.Next()
	for _, e := range draft.Entries {
		if err := rt.Store.InsertDraftSpec(ctx, txn, draftId, &catalog.DraftSpec{
			CatalogName: e.CatalogName,
			SpecType:    e.SpecType,
			Spec:        e.Spec,
		}); err != nil {
			return err
		}
	}
	return rt.Store.EnqueuePublication(ctx, txn, &catalog.Publication{
		DraftId: draftId,
		Detail:  draft.Detail,
		Status:  catalog.Status{Type: catalog.StatusQueued},
	})
}

// notifyDependents enqueues one run for every spec with an edge to or
// from live (spec.md §4.5 "Dependency fan-out"). EnqueueControllerRun's
// coalescing upsert makes repeated calls within the same publication's
// fan-out idempotent.
func (rt *Runtime) notifyDependents(ctx context.Context, txn store.Txn, live *catalog.LiveSpec, graph *catalog.Graph) error {
	for _, id := range graph.Adjacent(live.Id) {
		if peer := graph.Spec(id); peer != nil {
			if err := rt.Store.EnqueueControllerRun(ctx, txn, peer.CatalogName, time.Time{}); err != nil {
				return err
			}
		}
	}
	return nil
}

// readyForHardDelete implements spec.md §4.5 "Deletion": every
// directly-adjacent spec must have run at or after this collection's
// own last run before it was found soft-deleted (job.LastRunAt, read
// before this run overwrote it, approximates the soft-delete
// observation point since that prior run is this controller's own most
// recent confirmation of the collection's then-current state).
func (rt *Runtime) readyForHardDelete(ctx context.Context, txn store.Txn, live *catalog.LiveSpec, graph *catalog.Graph) (bool, error) {
	var mine, err = rt.Store.LoadControllerJob(ctx, txn, live.CatalogName)
	if err != nil {
		return false, err
	}
	for _, id := range graph.Adjacent(live.Id) {
		var peer = graph.Spec(id)
		if peer == nil {
			continue
		}
		peerJob, err := rt.Store.LoadControllerJob(ctx, txn, peer.CatalogName)
		if err != nil {
			return false, err
		}
		if peerJob.LastRunAt.Before(mine.LastRunAt) {
			return false, nil
		}
	}
	return true, nil
}
