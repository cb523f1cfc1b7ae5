// Package publish implements the publication engine of spec.md §4.4:
// the transactional commit protocol that applies a validated build to
// persistent live-catalog state under strict optimistic concurrency.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/connector"
	"github.com/estuary/flow/go/store"
	"github.com/estuary/flow/go/validate"
)

// timeZero is passed to EnqueueControllerRun to request immediate
// scheduling (spec.md §4.4 step 7 "enqueue a controller run").
var timeZero time.Time

// Engine drives the commit protocol against a Store, minting build ids
// from a Generator shared with the rest of the control plane (spec.md
// §3.2 invariant 1: last_build_id strictly increases).
type Engine struct {
	Store     store.Store
	BuildIds  *catalog.Generator
	Connector connector.Client
}

// NewEngine constructs an Engine over the given dependencies.
func NewEngine(s store.Store, buildIds *catalog.Generator, client connector.Client) *Engine {
	return &Engine{Store: s, BuildIds: buildIds, Connector: client}
}

// Result is the outcome of a single commit attempt: the resulting
// status and, for dry runs or pre-commit inspection, the built
// catalog that produced it.
type Result struct {
	Status catalog.Status
	Built  *validate.BuiltCatalog
}

// Commit runs the seven-step protocol of spec.md §4.4 once, for a
// single dequeued publication. It does not retry; callers apply the
// retry policy of retry.go around Commit when the returned status is
// retryable.
func (e *Engine) Commit(ctx context.Context, pub *catalog.Publication) (Result, error) {
	txn, err := e.Store.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("opening transaction: %w", err)
	}
	var committed bool
	defer func() {
		if !committed {
			_ = txn.Rollback(ctx)
		}
	}()

	// Step 2: resolve spec rows for this draft.
	rows, err := e.Store.ResolveSpecRows(ctx, txn, pub.DraftId, pub.UserId)
	if err != nil {
		return Result{}, fmt.Errorf("resolving spec rows: %w", err)
	}
	if len(rows) == 0 {
		_ = txn.Rollback(ctx)
		committed = true
		return Result{Status: catalog.Status{Type: catalog.StatusEmptyDraft}}, nil
	}

	// Step 3: authorize. The publishing user must hold Admin on every
	// touched catalog name.
	for _, row := range rows {
		if row.UserCapability < store.CapabilityAdmin {
			_ = txn.Rollback(ctx)
			committed = true
			var name catalog.Name
			var specType catalog.SpecType
			if row.DraftSpec != nil {
				name, specType = row.DraftSpec.CatalogName, row.DraftSpec.SpecType
			} else if row.LiveSpec != nil {
				name, specType = row.LiveSpec.CatalogName, row.LiveSpec.SpecType
			}
			return Result{Status: catalog.Status{
				Type: catalog.StatusPublishFailed,
			}}, &catalog.ValidationError{
				Scope:  catalog.Scope(specType, name),
				Detail: fmt.Sprintf("user %s does not hold Admin capability on %s", pub.UserId, name),
			}
		}
	}

	// Step 4: expect_pub_id check.
	var failures []catalog.ExpectPubIdFailure
	for _, row := range rows {
		var actual catalog.Id
		if row.LiveSpec != nil {
			actual = row.LiveSpec.LastPubId
		}
		if row.ExpectPubId == nil {
			continue // unset: no constraint
		}
		if *row.ExpectPubId != actual {
			failures = append(failures, catalog.ExpectPubIdFailure{
				CatalogName: catalogNameOf(row),
				Expected:    *row.ExpectPubId,
				Actual:      actual,
			})
		}
	}
	if len(failures) > 0 {
		_ = txn.Rollback(ctx)
		committed = true
		return Result{Status: catalog.Status{
			Type:     catalog.StatusExpectPubIdMismatch,
			Failures: failures,
		}}, nil
	}

	// Build: run the validation pipeline over the draft plus expanded
	// live state (spec.md §4.2, §4.3).
	var draft = make([]catalog.DraftSpec, 0, len(rows))
	var seedIds []catalog.Id
	for _, row := range rows {
		if row.DraftSpec != nil {
			draft = append(draft, *row.DraftSpec)
		}
		if row.LiveSpec != nil {
			seedIds = append(seedIds, row.LiveSpec.Id)
		}
	}
	expandedPtrs, err := e.Store.ResolveExpandedRows(ctx, txn, seedIds)
	if err != nil {
		return Result{}, fmt.Errorf("resolving expanded rows: %w", err)
	}
	var expanded = make([]catalog.LiveSpec, len(expandedPtrs))
	for i, p := range expandedPtrs {
		expanded[i] = *p
	}
	var live = make([]catalog.LiveSpec, 0, len(rows))
	for _, row := range rows {
		if row.LiveSpec != nil {
			live = append(live, *row.LiveSpec)
		}
	}

	built, verrs := validate.Validate(ctx, draft, live, expanded, e.Connector)
	if len(verrs) > 0 {
		_ = txn.Rollback(ctx)
		committed = true
		var incompatible []catalog.IncompatibleCollection
		if built != nil {
			incompatible = built.IncompatibleCollections
		}
		return Result{Status: catalog.Status{
			Type:                    catalog.StatusBuildFailed,
			IncompatibleCollections: incompatible,
		}}, verrs[0]
	}

	if isEmptyBuild(rows, built) {
		_ = txn.Rollback(ctx)
		committed = true
		return Result{Status: catalog.Status{Type: catalog.StatusEmptyDraft}, Built: built}, nil
	}

	if hasFailedTests(built) {
		_ = txn.Rollback(ctx)
		committed = true
		return Result{Status: catalog.Status{Type: catalog.StatusTestFailed}, Built: built}, nil
	}

	// Step 5: build-id lock re-check. Every expanded spec (draft +
	// expand) must have a last_build_id strictly less than this
	// publication's freshly minted build id; re-fetching by name
	// catches a spec that advanced between when validate.Validate's
	// (potentially slow, connector-calling) build read its snapshot
	// and now.
	var buildId = e.BuildIds.Next()
	var lockFailures []catalog.BuildIdLockFailure
	var checkLock = func(name catalog.Name, seenBuildId catalog.Id) error {
		current, err := e.Store.LiveSpecByName(ctx, txn, name)
		if err != nil {
			return err
		}
		var actual catalog.Id
		if current != nil {
			actual = current.LastBuildId
		}
		if actual != seenBuildId || actual >= buildId {
			lockFailures = append(lockFailures, catalog.BuildIdLockFailure{
				CatalogName: name, Expected: seenBuildId, Actual: actual,
			})
		}
		return nil
	}
	for _, r := range built.DraftRows {
		var seen catalog.Id
		if row := rowByName(rows, r.CatalogName); row != nil && row.LiveSpec != nil {
			seen = row.LiveSpec.LastBuildId
		}
		if err := checkLock(r.CatalogName, seen); err != nil {
			return Result{}, fmt.Errorf("re-checking build-id lock for %s: %w", r.CatalogName, err)
		}
	}
	for _, r := range built.ExpandRows {
		var seen catalog.Id
		if r.LastBuildId != nil {
			seen = *r.LastBuildId
		}
		if err := checkLock(r.CatalogName, seen); err != nil {
			return Result{}, fmt.Errorf("re-checking build-id lock for %s: %w", r.CatalogName, err)
		}
	}
	if len(lockFailures) > 0 {
		_ = txn.Rollback(ctx)
		committed = true
		return Result{Status: catalog.Status{
			Type:         catalog.StatusBuildIdLockFailure,
			LockFailures: lockFailures,
		}, Built: built}, nil
	}

	// Step 6: apply.
	var mutatedNames []catalog.Name
	for _, row := range rows {
		if row.DraftSpec == nil {
			continue
		}
		var d = row.DraftSpec
		var liveId catalog.Id
		if row.LiveSpec != nil {
			liveId = row.LiveSpec.Id
		}

		if d.IsDeletion() {
			if row.LiveSpec == nil {
				continue
			}
			var spec = *row.LiveSpec
			spec.Spec = nil
			spec.LastPubId = pub.PubId
			spec.LastBuildId = buildId
			if err := e.Store.UpdateLiveSpec(ctx, txn, &spec); err != nil {
				return Result{}, fmt.Errorf("soft-deleting %s: %w", d.CatalogName, err)
			}
			if err := e.Store.DeleteStaleFlows(ctx, txn, liveId, spec.SpecType); err != nil {
				return Result{}, fmt.Errorf("deleting stale flows for %s: %w", d.CatalogName, err)
			}
			if err := e.Store.InsertPublicationSpec(ctx, txn, pub.PubId, liveId, &spec); err != nil {
				return Result{}, fmt.Errorf("recording publication_specs for %s: %w", d.CatalogName, err)
			}
			mutatedNames = append(mutatedNames, d.CatalogName)
			continue
		}

		reads, writes := readsWritesFromSpec(d.SpecType, d.Spec)
		var spec = catalog.LiveSpec{
			Id:          liveId,
			CatalogName: d.CatalogName,
			SpecType:    d.SpecType,
			Spec:        d.Spec,
			LastPubId:   pub.PubId,
			LastBuildId: buildId,
			ReadsFrom:   reads,
			WritesTo:    writes,
		}
		if img := connectorImageOf(built, d.SpecType, d.CatalogName); img != "" {
			spec.ConnectorImage = img
		} else if row.LiveSpec != nil {
			spec.ConnectorImage = row.LiveSpec.ConnectorImage
		}
		if row.LiveSpec != nil {
			spec.DataPlaneId = row.LiveSpec.DataPlaneId
		}

		if row.LiveSpec == nil {
			if err := e.Store.InsertLiveSpec(ctx, txn, &spec); err != nil {
				return Result{}, fmt.Errorf("inserting %s: %w", d.CatalogName, err)
			}
			// The store assigns spec.Id internally (an autoincrement
			// primary key distinct from the catalog name); re-fetch it
			// so the edges and publication_specs row below reference
			// the real id rather than the zero value.
			fresh, err := e.Store.LiveSpecByName(ctx, txn, d.CatalogName)
			if err != nil {
				return Result{}, fmt.Errorf("resolving id for newly inserted %s: %w", d.CatalogName, err)
			}
			spec.Id = fresh.Id
		} else {
			if err := e.Store.UpdateLiveSpec(ctx, txn, &spec); err != nil {
				return Result{}, fmt.Errorf("updating %s: %w", d.CatalogName, err)
			}
			if err := e.Store.DeleteStaleFlows(ctx, txn, spec.Id, spec.SpecType); err != nil {
				return Result{}, fmt.Errorf("deleting stale flows for %s: %w", d.CatalogName, err)
			}
		}

		edges, err := e.edgesFor(ctx, txn, spec, reads, writes, rows)
		if err != nil {
			return Result{}, fmt.Errorf("resolving flow edges for %s: %w", d.CatalogName, err)
		}
		if len(edges) > 0 {
			if err := e.Store.InsertLiveSpecFlows(ctx, txn, edges); err != nil {
				return Result{}, fmt.Errorf("inserting flows for %s: %w", d.CatalogName, err)
			}
		}

		if err := e.Store.InsertPublicationSpec(ctx, txn, pub.PubId, spec.Id, &spec); err != nil {
			return Result{}, fmt.Errorf("recording publication_specs for %s: %w", d.CatalogName, err)
		}
		mutatedNames = append(mutatedNames, d.CatalogName)
	}

	// Step 7: commit and enqueue one controller run per mutated name.
	for _, name := range mutatedNames {
		if err := e.Store.EnqueueControllerRun(ctx, txn, name, timeZero); err != nil {
			return Result{}, fmt.Errorf("enqueueing controller run for %s: %w", name, err)
		}
	}
	if err := e.Store.UpdatePublicationStatus(ctx, txn, pub.PubId, catalog.Status{Type: catalog.StatusSuccess}); err != nil {
		return Result{}, fmt.Errorf("recording publication status: %w", err)
	}
	if err := txn.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("committing: %w", err)
	}
	committed = true

	return Result{Status: catalog.Status{Type: catalog.StatusSuccess}, Built: built}, nil
}

func catalogNameOf(row store.SpecRow) catalog.Name {
	if row.DraftSpec != nil {
		return row.DraftSpec.CatalogName
	}
	if row.LiveSpec != nil {
		return row.LiveSpec.CatalogName
	}
	return ""
}

func rowByName(rows []store.SpecRow, name catalog.Name) *store.SpecRow {
	for i := range rows {
		if catalogNameOf(rows[i]) == name {
			return &rows[i]
		}
	}
	return nil
}

func connectorImageOf(built *validate.BuiltCatalog, t catalog.SpecType, name catalog.Name) string {
	if built == nil {
		return ""
	}
	switch t {
	case catalog.Capture:
		for _, c := range built.Captures {
			if c.Name == name {
				return c.ConnectorImage
			}
		}
	case catalog.Materialization:
		for _, m := range built.Materializations {
			if m.Name == name {
				return m.ConnectorImage
			}
		}
	}
	return ""
}

// edgesFor resolves reads/writes catalog names into FlowEdges. Peers
// already touched by this publication are found in rows directly
// (avoiding a stale read of a row this same transaction is about to
// update); any other peer — an existing, untouched collection a new
// materialization reads from, for instance — is resolved fresh via
// LiveSpecByName. A name that resolves to nothing (a dangling
// reference) was already rejected in validate's name & reference
// check, so it can't reach here.
func (e *Engine) edgesFor(ctx context.Context, txn store.Txn, spec catalog.LiveSpec, reads, writes []catalog.Name, rows []store.SpecRow) ([]catalog.FlowEdge, error) {
	var resolve = func(name catalog.Name) (catalog.Id, error) {
		if peer := rowByName(rows, name); peer != nil && peer.LiveSpec != nil {
			return peer.LiveSpec.Id, nil
		}
		peer, err := e.Store.LiveSpecByName(ctx, txn, name)
		if err != nil {
			return 0, err
		}
		if peer == nil {
			return 0, nil
		}
		return peer.Id, nil
	}

	var edges []catalog.FlowEdge
	for _, r := range reads {
		id, err := resolve(r)
		if err != nil {
			return nil, err
		}
		if id != 0 {
			edges = append(edges, catalog.FlowEdge{SourceId: id, TargetId: spec.Id, Flow: flowTypeOf(spec.SpecType)})
		}
	}
	for _, w := range writes {
		id, err := resolve(w)
		if err != nil {
			return nil, err
		}
		if id != 0 {
			edges = append(edges, catalog.FlowEdge{SourceId: spec.Id, TargetId: id, Flow: flowTypeOf(spec.SpecType)})
		}
	}
	return edges, nil
}

func flowTypeOf(t catalog.SpecType) catalog.FlowType {
	switch t {
	case catalog.Capture:
		return catalog.FlowCapture
	case catalog.Materialization:
		return catalog.FlowMaterialization
	case catalog.Test:
		return catalog.FlowTest
	default:
		return catalog.FlowCollection
	}
}
