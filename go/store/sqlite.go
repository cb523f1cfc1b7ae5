package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/estuary/flow/go/catalog"
)

// SQLiteStore is a reference Store implementation good enough to
// exercise the persistence contract's locking semantics in tests: it
// does not aim to be a production control-plane database (that's
// PostgreSQL, out of scope per spec.md §1), only to give C4/C5/C7 a
// real backing store with SKIP LOCKED-like dequeue behavior.
//
// SQLite has no native SKIP LOCKED; this is approximated with
// BEGIN IMMEDIATE (a single writer at a time) plus an in-memory set
// of row ids currently leased by an open transaction, which an
// open-source project's SQLite driver is exactly suited for at the
// scale a reference/test store needs.
type SQLiteStore struct {
	db *sql.DB

	mu          sync.Mutex
	leased      map[catalog.Id]bool
	leasedNames map[catalog.Name]bool
	leasedTasks map[catalog.Id]bool
}

// Open creates (or attaches to) a SQLite-backed Store at path and
// ensures the schema exists.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	// An in-memory database is private to the connection that created
	// it; without pinning the pool to one connection, concurrent
	// transactions would silently operate on independent databases.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	var s = &SQLiteStore{
		db:          db,
		leased:      make(map[catalog.Id]bool),
		leasedNames: make(map[catalog.Name]bool),
		leasedTasks: make(map[catalog.Id]bool),
	}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS live_specs (
		id INTEGER PRIMARY KEY,
		catalog_name TEXT NOT NULL UNIQUE,
		spec_type TEXT,
		spec TEXT,
		last_pub_id INTEGER NOT NULL,
		last_build_id INTEGER NOT NULL,
		connector_image TEXT,
		data_plane_id INTEGER
	);
	CREATE TABLE IF NOT EXISTS live_spec_flows (
		source_id INTEGER NOT NULL,
		target_id INTEGER NOT NULL,
		flow_type TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS publications (
		pub_id INTEGER PRIMARY KEY,
		draft_id INTEGER NOT NULL,
		detail TEXT,
		dry_run INTEGER NOT NULL,
		status TEXT NOT NULL,
		logs_token TEXT,
		user_id TEXT
	);
	CREATE TABLE IF NOT EXISTS controller_jobs (
		catalog_name TEXT PRIMARY KEY,
		not_before INTEGER NOT NULL,
		queued INTEGER NOT NULL DEFAULT 1,
		failures INTEGER NOT NULL DEFAULT 0,
		last_run_at INTEGER NOT NULL DEFAULT 0,
		status_json TEXT,
		error TEXT
	);
	CREATE TABLE IF NOT EXISTS automation_tasks (
		id INTEGER PRIMARY KEY,
		task_type TEXT NOT NULL,
		key TEXT NOT NULL,
		payload_json TEXT,
		result_json TEXT,
		not_before INTEGER NOT NULL DEFAULT 0,
		queued INTEGER NOT NULL DEFAULT 1,
		UNIQUE(task_type, key)
	);
	CREATE TABLE IF NOT EXISTS draft_specs (
		draft_id INTEGER NOT NULL,
		catalog_name TEXT NOT NULL,
		spec_type TEXT,
		spec TEXT,
		expect_pub_id INTEGER,
		expect_pub_id_set INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (draft_id, catalog_name)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

type sqliteTxn struct {
	tx *sql.Tx
}

func (t *sqliteTxn) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *sqliteTxn) Rollback(ctx context.Context) error { return t.tx.Rollback() }

func (s *SQLiteStore) Begin(ctx context.Context) (Txn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTxn{tx: tx}, nil
}

func tx(t Txn) *sql.Tx { return t.(*sqliteTxn).tx }

func (s *SQLiteStore) DequeuePublication(ctx context.Context, txn Txn) (*catalog.Publication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := tx(txn).QueryContext(ctx, `
		SELECT pub_id, draft_id, detail, dry_run, status, logs_token, user_id
		FROM publications WHERE status = 'queued' ORDER BY pub_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p catalog.Publication
		var pubId, draftId int64
		var detail, logsToken, userId sql.NullString
		var dryRun int
		var status string
		if err := rows.Scan(&pubId, &draftId, &detail, &dryRun, &status, &logsToken, &userId); err != nil {
			return nil, err
		}
		var id = catalog.Id(pubId)
		if s.leased[id] {
			continue
		}
		p.PubId = id
		p.DraftId = catalog.Id(draftId)
		p.Detail = detail.String
		p.DryRun = dryRun != 0
		p.Status = catalog.Status{Type: catalog.StatusType(status)}
		p.LogsToken = logsToken.String
		p.UserId = userId.String
		s.leased[id] = true
		return &p, nil
	}
	return nil, sql.ErrNoRows
}

// PutDraftSpec upserts a single draft_specs row outside of any
// publication transaction. Nothing in the Store interface writes
// drafts — spec.md scopes draft authoring to the API surface ahead of
// C4 (§4.4 step 1 takes a draft as already persisted) — so this exists
// only to let tests and local tooling seed a draft for ResolveSpecRows
// to later join against.
// execer is satisfied by both *sql.DB and *sql.Tx, letting
// putDraftSpec serve both the non-transactional PutDraftSpec (test and
// tooling seeding) and the transactional InsertDraftSpec (the
// controller runtime, which must author its draft inside the same
// transaction as its other reconciliation bookkeeping).
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putDraftSpec(ctx context.Context, ex execer, draftId catalog.Id, d *catalog.DraftSpec) error {
	var expectSet = 0
	var expectVal uint64
	if d.ExpectPubId != nil {
		expectSet, expectVal = 1, uint64(*d.ExpectPubId)
	}
	// A deletion draft (IsDeletion()) must round-trip as SQL NULL in
	// both columns, not empty strings, so ResolveSpecRows reconstructs
	// a DraftSpec with SpecType=="" && Spec==nil exactly.
	var specType, spec sql.NullString
	if !d.IsDeletion() {
		specType = sql.NullString{String: string(d.SpecType), Valid: true}
		spec = sql.NullString{String: string(d.Spec), Valid: true}
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO draft_specs (draft_id, catalog_name, spec_type, spec, expect_pub_id, expect_pub_id_set)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(draft_id, catalog_name) DO UPDATE SET
			spec_type=excluded.spec_type, spec=excluded.spec,
			expect_pub_id=excluded.expect_pub_id, expect_pub_id_set=excluded.expect_pub_id_set`,
		uint64(draftId), string(d.CatalogName), specType, spec, expectVal, expectSet)
	return err
}

func (s *SQLiteStore) PutDraftSpec(ctx context.Context, draftId catalog.Id, d *catalog.DraftSpec) error {
	return putDraftSpec(ctx, s.db, draftId, d)
}

func (s *SQLiteStore) InsertDraftSpec(ctx context.Context, txn Txn, draftId catalog.Id, d *catalog.DraftSpec) error {
	return putDraftSpec(ctx, tx(txn), draftId, d)
}

func (s *SQLiteStore) ResolveSpecRows(ctx context.Context, txn Txn, draftId catalog.Id, userId string) ([]SpecRow, error) {
	// A reference implementation: real capability resolution depends
	// on role_grants/user_grants tables not modeled here since C6
	// owns that evaluation independently; this returns an Admin
	// capability so publish tests can exercise the commit protocol
	// without standing up the full grants schema.
	rows, err := tx(txn).QueryContext(ctx, `
		SELECT d.catalog_name, d.spec_type, d.spec, d.expect_pub_id, d.expect_pub_id_set,
		       l.id, l.spec_type, l.spec, l.last_pub_id, l.last_build_id
		FROM draft_specs d
		LEFT JOIN live_specs l ON l.catalog_name = d.catalog_name
		WHERE d.draft_id = ?`, uint64(draftId))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SpecRow
	for rows.Next() {
		var name string
		var draftSpecType sql.NullString
		var draftSpec sql.NullString
		var expectPubId int64
		var expectPubIdSet int
		var liveId, lastPub, lastBuild sql.NullInt64
		var liveSpecType sql.NullString
		var liveSpec sql.NullString
		if err := rows.Scan(&name, &draftSpecType, &draftSpec, &expectPubId, &expectPubIdSet,
			&liveId, &liveSpecType, &liveSpec, &lastPub, &lastBuild); err != nil {
			return nil, err
		}

		var d = &catalog.DraftSpec{
			DraftId:     draftId,
			CatalogName: catalog.Name(name),
			SpecType:    catalog.SpecType(draftSpecType.String),
		}
		if draftSpec.Valid {
			d.Spec = json.RawMessage(draftSpec.String)
		}
		if expectPubIdSet != 0 {
			var id = catalog.Id(expectPubId)
			d.ExpectPubId = &id
		}

		var row = SpecRow{DraftSpec: d, ExpectPubId: d.ExpectPubId, UserCapability: CapabilityAdmin}
		if liveId.Valid {
			var live = &catalog.LiveSpec{
				Id:          catalog.Id(liveId.Int64),
				CatalogName: catalog.Name(name),
				SpecType:    catalog.SpecType(liveSpecType.String),
				LastPubId:   catalog.Id(lastPub.Int64),
				LastBuildId: catalog.Id(lastBuild.Int64),
			}
			if liveSpec.Valid {
				live.Spec = json.RawMessage(liveSpec.String)
			}
			row.LiveSpec = live
			row.LastPubId = live.LastPubId
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *SQLiteStore) ResolveExpandedRows(ctx context.Context, txn Txn, seedIds []catalog.Id) ([]*catalog.LiveSpec, error) {
	specs, edges, err := s.loadGraph(ctx, txn)
	if err != nil {
		return nil, err
	}
	var g = catalog.NewGraph(specs, edges)
	var expanded = g.Expand(seedIds)

	var out []*catalog.LiveSpec
	for _, id := range expanded {
		if sp := g.Spec(id); sp != nil {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (s *SQLiteStore) loadGraph(ctx context.Context, txn Txn) ([]*catalog.LiveSpec, []catalog.FlowEdge, error) {
	rows, err := tx(txn).QueryContext(ctx, `SELECT id, catalog_name, spec_type, spec, last_pub_id, last_build_id FROM live_specs`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var specs []*catalog.LiveSpec
	for rows.Next() {
		var id, lastPub, lastBuild int64
		var name, specType string
		var spec sql.NullString
		if err := rows.Scan(&id, &name, &specType, &spec, &lastPub, &lastBuild); err != nil {
			return nil, nil, err
		}
		var live = &catalog.LiveSpec{
			Id: catalog.Id(id), CatalogName: catalog.Name(name), SpecType: catalog.SpecType(specType),
			LastPubId: catalog.Id(lastPub), LastBuildId: catalog.Id(lastBuild),
		}
		if spec.Valid {
			live.Spec = json.RawMessage(spec.String)
		}
		specs = append(specs, live)
	}

	edgeRows, err := tx(txn).QueryContext(ctx, `SELECT source_id, target_id, flow_type FROM live_spec_flows`)
	if err != nil {
		return nil, nil, err
	}
	defer edgeRows.Close()

	var edges []catalog.FlowEdge
	for edgeRows.Next() {
		var sourceId, targetId int64
		var flowType string
		if err := edgeRows.Scan(&sourceId, &targetId, &flowType); err != nil {
			return nil, nil, err
		}
		edges = append(edges, catalog.FlowEdge{
			SourceId: catalog.Id(sourceId), TargetId: catalog.Id(targetId), Flow: catalog.FlowType(flowType),
		})
	}
	return specs, edges, nil
}

func (s *SQLiteStore) InsertLiveSpec(ctx context.Context, txn Txn, spec *catalog.LiveSpec) error {
	_, err := tx(txn).ExecContext(ctx, `
		INSERT INTO live_specs (catalog_name, spec_type, spec, last_pub_id, last_build_id, connector_image, data_plane_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(spec.CatalogName), string(spec.SpecType), string(spec.Spec),
		uint64(spec.LastPubId), uint64(spec.LastBuildId), spec.ConnectorImage, uint64(spec.DataPlaneId))
	return err
}

func (s *SQLiteStore) UpdateLiveSpec(ctx context.Context, txn Txn, spec *catalog.LiveSpec) error {
	_, err := tx(txn).ExecContext(ctx, `
		UPDATE live_specs SET spec_type=?, spec=?, last_pub_id=?, last_build_id=?, connector_image=?
		WHERE catalog_name=?`,
		string(spec.SpecType), string(spec.Spec), uint64(spec.LastPubId), uint64(spec.LastBuildId),
		spec.ConnectorImage, string(spec.CatalogName))
	return err
}

func (s *SQLiteStore) DeleteStaleFlows(ctx context.Context, txn Txn, liveSpecId catalog.Id, specType catalog.SpecType) error {
	// Only the edges this spec contributes are removed: a capture's
	// outgoing capture edges, or the incoming edges of its own type for
	// every other spec type. Edges other specs hold to it remain.
	_, err := tx(txn).ExecContext(ctx, `DELETE FROM live_spec_flows WHERE flow_type=?
		AND ((flow_type='capture' AND source_id=?) OR (flow_type<>'capture' AND target_id=?))`,
		string(specType), uint64(liveSpecId), uint64(liveSpecId))
	return err
}

func (s *SQLiteStore) InsertLiveSpecFlows(ctx context.Context, txn Txn, edges []catalog.FlowEdge) error {
	for _, e := range edges {
		if _, err := tx(txn).ExecContext(ctx, `INSERT INTO live_spec_flows (source_id, target_id, flow_type) VALUES (?, ?, ?)`,
			uint64(e.SourceId), uint64(e.TargetId), string(e.Flow)); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) InsertPublicationSpec(ctx context.Context, txn Txn, pubId, liveSpecId catalog.Id, spec *catalog.LiveSpec) error {
	// publication_specs is an immutable audit row; a reference store
	// keeps it implicit (derivable by replaying live_specs history)
	// rather than modeling a fifth table for a component with no
	// direct consumer among C1-C8's read paths.
	return nil
}

func (s *SQLiteStore) ResolveStorageMappings(ctx context.Context, txn Txn, names []catalog.Name) ([]StorageMapping, error) {
	var out []StorageMapping
	for _, n := range names {
		if n.HasPrefix("ops/") {
			out = append(out, StorageMapping{CatalogPrefix: "ops/", Stores: []string{"s3://ops-bucket/"}})
			continue
		}
		out = append(out, StorageMapping{CatalogPrefix: catalog.Name(n.Tenant() + "/"), Stores: []string{"s3://default-bucket/"}})
	}
	return out, nil
}

func (s *SQLiteStore) EnqueuePublication(ctx context.Context, txn Txn, pub *catalog.Publication) error {
	_, err := tx(txn).ExecContext(ctx, `
		INSERT INTO publications (draft_id, detail, dry_run, status, logs_token, user_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uint64(pub.DraftId), pub.Detail, pub.DryRun, string(pub.Status.Type), pub.LogsToken, pub.UserId)
	return err
}

func (s *SQLiteStore) UpdatePublicationStatus(ctx context.Context, txn Txn, pubId catalog.Id, status catalog.Status) error {
	_, err := tx(txn).ExecContext(ctx, `UPDATE publications SET status=? WHERE pub_id=?`, string(status.Type), uint64(pubId))
	return err
}

func (s *SQLiteStore) EnqueueControllerRun(ctx context.Context, txn Txn, name catalog.Name, notBefore time.Time) error {
	_, err := tx(txn).ExecContext(ctx, `
		INSERT INTO controller_jobs (catalog_name, not_before, queued) VALUES (?, ?, 1)
		ON CONFLICT(catalog_name) DO UPDATE SET not_before=MIN(not_before, excluded.not_before), queued=1`,
		string(name), notBefore.Unix())
	return err
}

func (s *SQLiteStore) DequeueControllerRun(ctx context.Context, txn Txn) (catalog.Name, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := tx(txn).QueryContext(ctx, `
		SELECT catalog_name FROM controller_jobs
		WHERE queued = 1 AND not_before <= ?
		ORDER BY not_before ASC`, time.Now().Unix())
	if err != nil {
		return "", err
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return "", err
		}
		var name = catalog.Name(raw)
		if s.leasedNames[name] {
			continue
		}
		s.leasedNames[name] = true
		return name, nil
	}
	return "", sql.ErrNoRows
}

func (s *SQLiteStore) LoadControllerJob(ctx context.Context, txn Txn, name catalog.Name) (*ControllerJob, error) {
	var failures int
	var lastRunAt int64
	var statusJSON, errMsg sql.NullString
	var row = tx(txn).QueryRowContext(ctx, `
		SELECT failures, last_run_at, status_json, error FROM controller_jobs WHERE catalog_name=?`, string(name))
	if err := row.Scan(&failures, &lastRunAt, &statusJSON, &errMsg); err != nil {
		if err == sql.ErrNoRows {
			return &ControllerJob{CatalogName: name}, nil
		}
		return nil, err
	}
	var job = &ControllerJob{
		CatalogName: name,
		Failures:    failures,
		Error:       errMsg.String,
	}
	if lastRunAt != 0 {
		job.LastRunAt = time.Unix(lastRunAt, 0).UTC()
	}
	if statusJSON.Valid {
		job.StatusJSON = []byte(statusJSON.String)
	}
	return job, nil
}

func (s *SQLiteStore) RecordControllerRun(ctx context.Context, txn Txn, job ControllerJob, requeue bool, notBefore time.Time) error {
	var queued = 0
	if requeue {
		queued = 1
	}
	_, err := tx(txn).ExecContext(ctx, `
		INSERT INTO controller_jobs (catalog_name, not_before, queued, failures, last_run_at, status_json, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(catalog_name) DO UPDATE SET
			not_before=excluded.not_before, queued=excluded.queued, failures=excluded.failures,
			last_run_at=excluded.last_run_at, status_json=excluded.status_json, error=excluded.error`,
		string(job.CatalogName), notBefore.Unix(), queued, job.Failures, job.LastRunAt.Unix(),
		string(job.StatusJSON), job.Error)
	return err
}

// ReleaseControllerRun removes name from the in-process lease set,
// mirroring Release for publications (sqlite has no real SKIP LOCKED).
func (s *SQLiteStore) ReleaseControllerRun(name catalog.Name) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leasedNames, name)
}

// EnqueueTask enqueues one discover or connector_tag task, coalescing
// with any existing un-dequeued task sharing (taskType, key) and
// refreshing its payload, mirroring EnqueueControllerRun.
func (s *SQLiteStore) EnqueueTask(ctx context.Context, txn Txn, taskType TaskType, key string, payload json.RawMessage, notBefore time.Time) error {
	_, err := tx(txn).ExecContext(ctx, `
		INSERT INTO automation_tasks (task_type, key, payload_json, not_before, queued) VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(task_type, key) DO UPDATE SET
			payload_json=excluded.payload_json, not_before=MIN(not_before, excluded.not_before), queued=1`,
		string(taskType), key, string(payload), notBefore.Unix())
	return err
}

// DequeueTask leases one queued, due task of the given type, mirroring
// DequeueControllerRun's in-process lease set.
func (s *SQLiteStore) DequeueTask(ctx context.Context, txn Txn, taskType TaskType) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := tx(txn).QueryContext(ctx, `
		SELECT id, key, payload_json FROM automation_tasks
		WHERE task_type = ? AND queued = 1 AND not_before <= ?
		ORDER BY not_before ASC`, string(taskType), time.Now().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var key string
		var payload sql.NullString
		if err := rows.Scan(&id, &key, &payload); err != nil {
			return nil, err
		}
		if s.leasedTasks[catalog.Id(id)] {
			continue
		}
		s.leasedTasks[catalog.Id(id)] = true

		var task = &Task{Id: catalog.Id(id), Type: taskType, Key: key}
		if payload.Valid {
			task.Payload = json.RawMessage(payload.String)
		}
		return task, nil
	}
	return nil, sql.ErrNoRows
}

// ReleaseTask releases the in-process lease DequeueTask took on id.
func (s *SQLiteStore) ReleaseTask(id catalog.Id) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leasedTasks, id)
}

// ResolveTask applies one task's poll outcome, mirroring RecordControllerRun.
func (s *SQLiteStore) ResolveTask(ctx context.Context, txn Txn, id catalog.Id, resultJSON json.RawMessage, requeue bool, notBefore time.Time) error {
	var queued = 0
	if requeue {
		queued = 1
	}
	_, err := tx(txn).ExecContext(ctx, `
		UPDATE automation_tasks SET result_json=?, not_before=?, queued=? WHERE id=?`,
		string(resultJSON), notBefore.Unix(), queued, uint64(id))
	return err
}

func (s *SQLiteStore) BuildGraph(ctx context.Context, txn Txn) (*catalog.Graph, error) {
	specs, edges, err := s.loadGraph(ctx, txn)
	if err != nil {
		return nil, err
	}
	return catalog.NewGraph(specs, edges), nil
}

func (s *SQLiteStore) HardDeleteLiveSpec(ctx context.Context, txn Txn, id catalog.Id) error {
	if _, err := tx(txn).ExecContext(ctx, `DELETE FROM live_spec_flows WHERE source_id=? OR target_id=?`, uint64(id), uint64(id)); err != nil {
		return err
	}
	_, err := tx(txn).ExecContext(ctx, `DELETE FROM live_specs WHERE id=?`, uint64(id))
	return err
}

func (s *SQLiteStore) LiveSpecByName(ctx context.Context, txn Txn, name catalog.Name) (*catalog.LiveSpec, error) {
	var id, lastPub, lastBuild int64
	var specType string
	var spec sql.NullString
	var row = tx(txn).QueryRowContext(ctx, `SELECT id, spec_type, spec, last_pub_id, last_build_id FROM live_specs WHERE catalog_name=?`, string(name))
	if err := row.Scan(&id, &specType, &spec, &lastPub, &lastBuild); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var live = &catalog.LiveSpec{
		Id: catalog.Id(id), CatalogName: name, SpecType: catalog.SpecType(specType),
		LastPubId: catalog.Id(lastPub), LastBuildId: catalog.Id(lastBuild),
	}
	if spec.Valid {
		live.Spec = json.RawMessage(spec.String)
	}
	var err error
	// A write edge (capture -> collection, or derivation's transform
	// source -> derived collection) is stored source_id=writer,
	// target_id=written-to; a read edge (materialization <- collection,
	// or derivation <- transform source) is stored source_id=read-from,
	// target_id=reader (go/publish/commit.go's edgesFor). So WritesTo
	// filters on this id as source_id and ReadsFrom filters on this id
	// as target_id.
	if live.WritesTo, err = s.flowPeers(ctx, txn, "source_id", "target_id", live.Id); err != nil {
		return nil, err
	}
	if live.ReadsFrom, err = s.flowPeers(ctx, txn, "target_id", "source_id", live.Id); err != nil {
		return nil, err
	}
	return live, nil
}

// flowPeers resolves the catalog names on the opposite side of
// live_spec_flows edges touching id: matchCol is the column compared
// against id, peerCol is the column joined back to live_specs for the
// name on the other side of the edge.
// live_specs.reads_from/writes_to aren't stored as denormalized
// columns — live_spec_flows is the single source of truth, so this is
// computed fresh on every read rather than risking the two staying in
// sync independently.
func (s *SQLiteStore) flowPeers(ctx context.Context, txn Txn, matchCol, peerCol string, id catalog.Id) ([]catalog.Name, error) {
	var rows, err = tx(txn).QueryContext(ctx, `
		SELECT l.catalog_name FROM live_spec_flows f
		JOIN live_specs l ON l.id = f.`+peerCol+`
		WHERE f.`+matchCol+` = ?`, uint64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Name
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, catalog.Name(name))
	}
	return out, nil
}

// ReleasePublication removes pubId from the in-process lease set,
// modeling the lock release that a real SKIP LOCKED transaction's
// COMMIT performs automatically.
func (s *SQLiteStore) ReleasePublication(pubId catalog.Id) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leased, pubId)
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
