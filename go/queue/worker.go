package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/connector"
	"github.com/estuary/flow/go/controller"
	"github.com/estuary/flow/go/ops"
	"github.com/estuary/flow/go/publish"
	"github.com/estuary/flow/go/store"
)

// Worker polls the four task types of spec.md §4.7 in a fixed order
// and processes at most one task per RunOnce call, from the first type
// that has one due. Each task
// type keeps its own dequeue/resolve pair (publications and
// controller runs on their long-standing specialized tables; discover
// and connector_tag on the generic automation_tasks table added for
// them), but all four share the same outer lease/poll/commit shape —
// mirroring go/controller/runtime.go's RunOnce, generalized across
// task types instead of specialized to one.
type Worker struct {
	Store        store.Store
	BuildIds     *catalog.Generator
	Connector    connector.Client
	Runtime      *controller.Runtime
	RetryPolicy  publish.RetryPolicy
	Discover     *DiscoverExecutor
	ConnectorTag *ConnectorTagExecutor
}

// NewWorker constructs a Worker over the given dependencies, wiring a
// fresh publish.Engine and controller.Runtime from the same store,
// id generator, and connector client.
func NewWorker(s store.Store, buildIds *catalog.Generator, client connector.Client) *Worker {
	return &Worker{
		Store:        s,
		BuildIds:     buildIds,
		Connector:    client,
		Runtime:      controller.NewRuntime(s, buildIds, client),
		RetryPolicy:  publish.DefaultRetryPolicy,
		Discover:     &DiscoverExecutor{Store: s, Connector: client},
		ConnectorTag: &ConnectorTagExecutor{Connector: client},
	}
}

// RunOnce polls each task type once in turn, stopping at the first one
// that finds work, and reports whether any task was processed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	for _, poll := range []func(context.Context) (bool, error){
		w.pollPublication,
		w.pollControllerRun,
		w.pollTask(store.TaskDiscover),
		w.pollTask(store.TaskConnectorTag),
	} {
		did, err := poll(ctx)
		if err != nil {
			return false, err
		}
		if did {
			return true, nil
		}
	}
	return false, nil
}

// pollPublication dequeues and commits one publication (spec.md §4.4),
// persisting whatever terminal status results — CommitWithRetry only
// self-persists the Success path internally (see go/publish/commit.go),
// so every other terminal status is recorded here before the lease is
// released.
func (w *Worker) pollPublication(ctx context.Context) (bool, error) {
	txn, err := w.Store.Begin(ctx)
	if err != nil {
		return false, err
	}
	var committed bool
	defer func() {
		if !committed {
			_ = txn.Rollback(ctx)
		}
	}()

	pub, err := w.Store.DequeuePublication(ctx, txn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = txn.Rollback(ctx)
			committed = true
			return false, nil
		}
		return false, err
	}
	defer w.Store.ReleasePublication(pub.PubId)

	var log = ops.NewLocalPublisher(ops.OperationRef{PubId: pub.PubId})
	var engine = publish.NewEngine(w.Store, w.BuildIds, w.Connector)
	result, commitErr := engine.CommitWithRetry(ctx, pub, w.RetryPolicy)
	if commitErr != nil {
		ops.PublishLog(log, logrus.ErrorLevel, "publication commit failed", "error", commitErr)
		// Commit pairs a terminal status with its error for build and
		// publish failures; that status is persisted below.
		if result.Status.Type == "" {
			return false, commitErr
		}
	}

	if !result.Status.IsSuccess() {
		ops.PublishLog(log, logrus.WarnLevel, "publication did not succeed", "status", result.Status.Type)

		persistTxn, err := w.Store.Begin(ctx)
		if err != nil {
			return false, err
		}
		if err := w.Store.UpdatePublicationStatus(ctx, persistTxn, pub.PubId, result.Status); err != nil {
			_ = persistTxn.Rollback(ctx)
			return false, err
		}
		if err := persistTxn.Commit(ctx); err != nil {
			return false, err
		}
	} else {
		ops.PublishLog(log, logrus.InfoLevel, "publication committed")
	}

	if err := txn.Commit(ctx); err != nil {
		return false, err
	}
	committed = true
	return true, nil
}

// pollControllerRun drives one controller reconciliation, delegating
// entirely to the controller runtime's own leasing and persistence.
func (w *Worker) pollControllerRun(ctx context.Context) (bool, error) {
	return w.Runtime.RunOnce(ctx)
}

// pollTask returns a poll function for one of the generic task types
// backed by automation_tasks.
func (w *Worker) pollTask(taskType store.TaskType) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		txn, err := w.Store.Begin(ctx)
		if err != nil {
			return false, err
		}
		var committed bool
		defer func() {
			if !committed {
				_ = txn.Rollback(ctx)
			}
		}()

		task, err := w.Store.DequeueTask(ctx, txn, taskType)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				_ = txn.Rollback(ctx)
				committed = true
				return false, nil
			}
			return false, err
		}
		defer w.Store.ReleaseTask(task.Id)

		outcome, resultJSON, err := w.pollOne(ctx, txn, taskType, task)
		if err != nil {
			return false, err
		}

		var log = ops.NewLocalPublisher(ops.OperationRef{TaskType: string(taskType)})
		ops.PublishLog(log, logrus.InfoLevel, "task resolved", "key", task.Key, "result", string(resultJSON))

		var requeue = outcome.Sleep > 0
		var notBefore = time.Now()
		if requeue {
			notBefore = notBefore.Add(outcome.Sleep)
		}
		if err := w.Store.ResolveTask(ctx, txn, task.Id, resultJSON, requeue, notBefore); err != nil {
			return false, err
		}
		for _, name := range outcome.Messages {
			if err := w.Store.EnqueueControllerRun(ctx, txn, name, time.Time{}); err != nil {
				return false, err
			}
		}
		if err := txn.Commit(ctx); err != nil {
			return false, err
		}
		committed = true
		return true, nil
	}
}

func (w *Worker) pollOne(ctx context.Context, txn store.Txn, taskType store.TaskType, task *store.Task) (Outcome, json.RawMessage, error) {
	switch taskType {
	case store.TaskDiscover:
		outcome, result, err := w.Discover.Poll(ctx, txn, task)
		if err != nil {
			return Outcome{}, nil, err
		}
		encoded, err := json.Marshal(result)
		return outcome, encoded, err

	case store.TaskConnectorTag:
		outcome, result := w.ConnectorTag.Poll(ctx, task)
		encoded, err := json.Marshal(result)
		return outcome, encoded, err

	default:
		return done(), nil, nil
	}
}
