// Package store defines the database-agnostic persistence contract of
// spec.md §6.1: the operations the publication engine, controller
// runtime, and task queue require of durable state, independent of
// any particular database driver.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/estuary/flow/go/catalog"
)

// SpecRow is the join of a draft_spec with its matching live_spec,
// plus the caller's resolved capabilities, as produced by
// resolve_spec_rows (spec.md §6.1, §4.4 step 2).
type SpecRow struct {
	DraftSpec       *catalog.DraftSpec
	LiveSpec        *catalog.LiveSpec
	LastPubId       catalog.Id
	ExpectPubId     *catalog.Id
	UserCapability  Capability
	SpecCapabilities []RoleGrant
}

// Capability is a catalog-plane authorization level, ordered
// Read < Write < Admin.
type Capability int

const (
	CapabilityNone Capability = iota
	CapabilityRead
	CapabilityWrite
	CapabilityAdmin
)

// RoleGrant is a `(subject_role_prefix, object_role_prefix,
// capability)` row (spec.md §3.1).
type RoleGrant struct {
	SubjectRolePrefix string
	ObjectRolePrefix  string
	Capability        Capability
}

// UserGrant is a `(user_id, object_role_prefix, capability)` row.
type UserGrant struct {
	UserId            string
	ObjectRolePrefix  string
	Capability        Capability
}

// DataPlane mirrors spec.md §3.1's Data Plane entity.
type DataPlane struct {
	Id              catalog.Id
	FQDN            string
	BrokerAddress   string
	ReactorAddress  string
	OpsLogsName     catalog.Name
	OpsStatsName    catalog.Name
	HMACKeys        [][]byte // first signs, all verify
	Cordoned        bool
}

// StorageMapping is a longest-prefix-match row resolved by
// ResolveStorageMappings.
type StorageMapping struct {
	CatalogPrefix catalog.Name
	Stores        []string
}

// ControllerJob is the persisted reconciliation state the controller
// runtime (C5) tracks per catalog name: the automation-task state row
// of spec.md §4.7, specialized to the `controller_run` task type.
// StatusJSON is opaque to the store; each per-spec controller decodes
// its own status shape from it (spec.md §4.5 "Per-spec responsibilities").
type ControllerJob struct {
	CatalogName catalog.Name
	Failures    int
	LastRunAt   time.Time
	StatusJSON  []byte
	Error       string
}

// TaskType identifies one of the two §4.7 task kinds without a
// dedicated state table of their own: `discover` and `connector_tag`.
// `publication` and `controller_run` predate this generalization and
// keep their specialized tables (publications, controller_jobs), which
// already satisfy the same lease-plus-state-row contract — see
// DESIGN.md's go/queue entry.
type TaskType string

const (
	TaskDiscover     TaskType = "discover"
	TaskConnectorTag TaskType = "connector_tag"
)

// Task is one leased row of the generic automation_tasks queue: a
// typed, keyed unit of work with an opaque JSON payload the task's
// executor decodes for itself.
type Task struct {
	Id      catalog.Id
	Type    TaskType
	Key     string
	Payload json.RawMessage
}

// Txn is an opaque handle to a serializable transaction, passed back
// into store operations that must participate in the same
// transaction (spec.md §4.4 step 1 "open a serializable transaction").
type Txn interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the full persistence contract consumed by C4 (publish),
// C5 (controller), C6 (authz snapshot refresh), and C7 (queue).
type Store interface {
	Begin(ctx context.Context) (Txn, error)

	// DequeuePublication performs a SKIP LOCKED selection of one
	// queued publication, ordered by id ascending (§6.1).
	DequeuePublication(ctx context.Context, txn Txn) (*catalog.Publication, error)

	// ReleasePublication releases the in-process lease DequeuePublication
	// took on pubId, once its outcome has been committed or its
	// transaction rolled back.
	ReleasePublication(pubId catalog.Id)

	// ResolveSpecRows joins draft_specs with matching live_specs for
	// draftId, locking both for update and computing capabilities.
	ResolveSpecRows(ctx context.Context, txn Txn, draftId catalog.Id, userId string) ([]SpecRow, error)

	// ResolveExpandedRows implements §4.2 expansion against the
	// persisted live_spec_flows edge set, returning the expanded
	// live specs (not including seedIds themselves).
	ResolveExpandedRows(ctx context.Context, txn Txn, seedIds []catalog.Id) ([]*catalog.LiveSpec, error)

	InsertLiveSpec(ctx context.Context, txn Txn, spec *catalog.LiveSpec) error
	UpdateLiveSpec(ctx context.Context, txn Txn, spec *catalog.LiveSpec) error
	DeleteStaleFlows(ctx context.Context, txn Txn, liveSpecId catalog.Id, specType catalog.SpecType) error
	InsertLiveSpecFlows(ctx context.Context, txn Txn, edges []catalog.FlowEdge) error
	InsertPublicationSpec(ctx context.Context, txn Txn, pubId, liveSpecId catalog.Id, spec *catalog.LiveSpec) error

	// ResolveStorageMappings resolves the longest-prefix storage
	// mapping for each name; "ops/" is a hard-coded include ahead of
	// prefix matching (§9(i), kept as specified — see DESIGN.md).
	ResolveStorageMappings(ctx context.Context, txn Txn, names []catalog.Name) ([]StorageMapping, error)

	EnqueuePublication(ctx context.Context, txn Txn, pub *catalog.Publication) error
	UpdatePublicationStatus(ctx context.Context, txn Txn, pubId catalog.Id, status catalog.Status) error

	// EnqueueControllerRun enqueues one controller run for name,
	// coalescing with any existing un-dequeued run for the same name
	// (§4.7 "controller runs are coalesced").
	EnqueueControllerRun(ctx context.Context, txn Txn, name catalog.Name, notBefore time.Time) error

	// DequeueControllerRun leases one queued, due controller run,
	// mirroring DequeuePublication's SKIP LOCKED-like selection
	// (§4.7, §4.5 "scheduling model").
	DequeueControllerRun(ctx context.Context, txn Txn) (catalog.Name, error)

	// ReleaseControllerRun releases the in-process lease DequeueControllerRun
	// took on name, once its outcome has been committed or its
	// transaction rolled back.
	ReleaseControllerRun(name catalog.Name)

	// LoadControllerJob returns the persisted reconciliation state for
	// name, or a zero-valued job if this is its first run.
	LoadControllerJob(ctx context.Context, txn Txn, name catalog.Name) (*ControllerJob, error)

	// RecordControllerRun applies the outcome of one controller run
	// (§4.5 "Backoff"): persists the updated failure count, status, and
	// last-run time, and either re-arms the queue entry for notBefore
	// (requeue) or clears it (the run is done until the next enqueue).
	RecordControllerRun(ctx context.Context, txn Txn, job ControllerJob, requeue bool, notBefore time.Time) error

	// BuildGraph loads the full live-catalog dataflow graph, for
	// expansion (§4.2) and dependency fan-out (§4.5 notify_dependents).
	BuildGraph(ctx context.Context, txn Txn) (*catalog.Graph, error)

	// HardDeleteLiveSpec permanently removes a soft-deleted spec and
	// its edges once every adjacent spec has observed the deletion
	// (§4.5 "Deletion").
	HardDeleteLiveSpec(ctx context.Context, txn Txn, id catalog.Id) error

	// InsertDraftSpec records one draft_specs row within the caller's
	// transaction. Used by the controller runtime to author the
	// single-spec drafts its reconciliation loops synthesize (auto
	// discover, source-capture binding sync, transform disabling)
	// before enqueueing a publication (§4.5, §4.7).
	InsertDraftSpec(ctx context.Context, txn Txn, draftId catalog.Id, d *catalog.DraftSpec) error

	LiveSpecByName(ctx context.Context, txn Txn, name catalog.Name) (*catalog.LiveSpec, error)

	// EnqueueTask enqueues one task of the given type and key, coalescing
	// with any existing un-dequeued task sharing the same (type, key)
	// and refreshing its payload (§4.7 "discover"/"connector_tag" tasks;
	// the same coalescing EnqueueControllerRun already does for
	// controller runs, generalized to the two task types that share this
	// table).
	EnqueueTask(ctx context.Context, txn Txn, taskType TaskType, key string, payload json.RawMessage, notBefore time.Time) error

	// DequeueTask leases one queued, due task of the given type.
	DequeueTask(ctx context.Context, txn Txn, taskType TaskType) (*Task, error)

	// ReleaseTask releases the in-process lease DequeueTask took on id.
	ReleaseTask(id catalog.Id)

	// ResolveTask applies one task's poll outcome: persists resultJSON
	// and either re-arms the queue entry for notBefore (requeue) or
	// clears it.
	ResolveTask(ctx context.Context, txn Txn, id catalog.Id, resultJSON json.RawMessage, requeue bool, notBefore time.Time) error
}
