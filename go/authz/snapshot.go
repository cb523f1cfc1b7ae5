// Package authz implements the authorization kernel of spec.md §4.6:
// short-lived JWT minting for tasks and users, evaluated against a
// periodically refreshed in-memory snapshot of role grants, tasks,
// collections, and data planes.
//
// This is the mint-side counterpart of the teacher's
// ControlPlaneAuthorizer (go/runtime/authorizer.go, a client that
// calls out to an authorization API): the same JWT construction idiom
// is kept, inverted to implement the server the teacher's client
// calls into.
package authz

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/store"
)

// Task is a running task shard, as resolved by shard_template_id
// prefix (spec.md §4.6 step 3).
type Task struct {
	ShardTemplateId string
	TaskName        catalog.Name
	DataPlaneId     catalog.Id
	SpecType        catalog.SpecType
}

// Collection is a collection's routing identity, resolved by
// journal_template_name prefix (spec.md §4.6 step 4).
type Collection struct {
	JournalTemplateName string
	CollectionName      catalog.Name
	DataPlaneId         catalog.Id
}

// Snapshot is the kernel's consistent, atomically-swapped view of
// authorization-relevant state (spec.md §4.6 "Inputs").
type Snapshot struct {
	Tasks        []Task       // sorted by ShardTemplateId
	Collections  []Collection // sorted by JournalTemplateName
	DataPlanes   []store.DataPlane
	RoleGrants   []store.RoleGrant
	UserGrants   []store.UserGrant
	RefreshedAt  time.Time
}

// FindTask binary-searches Tasks for a shard id whose
// ShardTemplateId is a prefix of shardId, mirroring the Rust
// evaluator's binary_search_by with a prefix-equality comparator.
func (s *Snapshot) FindTask(shardId string) (*Task, bool) {
	var n = len(s.Tasks)
	var i = sort.Search(n, func(i int) bool {
		return s.Tasks[i].ShardTemplateId >= shardId || strings.HasPrefix(shardId, s.Tasks[i].ShardTemplateId)
	})
	for _, idx := range []int{i - 1, i} {
		if idx < 0 || idx >= n {
			continue
		}
		if strings.HasPrefix(shardId, s.Tasks[idx].ShardTemplateId) {
			return &s.Tasks[idx], true
		}
	}
	return nil, false
}

// FindCollection binary-searches Collections for a journal template
// name that is a prefix of journalNameOrPrefix.
func (s *Snapshot) FindCollection(journalNameOrPrefix string) (*Collection, bool) {
	var n = len(s.Collections)
	var i = sort.Search(n, func(i int) bool {
		return s.Collections[i].JournalTemplateName >= journalNameOrPrefix ||
			strings.HasPrefix(journalNameOrPrefix, s.Collections[i].JournalTemplateName)
	})
	for _, idx := range []int{i - 1, i} {
		if idx < 0 || idx >= n {
			continue
		}
		if strings.HasPrefix(journalNameOrPrefix, s.Collections[idx].JournalTemplateName) {
			return &s.Collections[idx], true
		}
	}
	return nil, false
}

// DataPlaneByFQDN finds a data plane by its FQDN.
func (s *Snapshot) DataPlaneByFQDN(fqdn string) (*store.DataPlane, bool) {
	for i := range s.DataPlanes {
		if s.DataPlanes[i].FQDN == fqdn {
			return &s.DataPlanes[i], true
		}
	}
	return nil, false
}

func (s *Snapshot) DataPlaneById(id catalog.Id) (*store.DataPlane, bool) {
	for i := range s.DataPlanes {
		if s.DataPlanes[i].Id == id {
			return &s.DataPlanes[i], true
		}
	}
	return nil, false
}

// IsAuthorized reports whether any role grant transitively connects
// subjectPrefix to objectPrefix with at least the required
// capability (spec.md §3.1 Role Grant).
func IsAuthorized(grants []store.RoleGrant, subjectPrefix, objectPrefix string, required store.Capability) bool {
	for _, g := range grants {
		if strings.HasPrefix(subjectPrefix, g.SubjectRolePrefix) &&
			strings.HasPrefix(objectPrefix, g.ObjectRolePrefix) &&
			g.Capability >= required {
			return true
		}
	}
	return false
}

// Holder holds the current Snapshot behind a reader-writer lock: many
// concurrent evaluations read without blocking each other, and a
// refresh swaps the pointer atomically (spec.md §5 "a writer swaps
// the snapshot atomically").
type Holder struct {
	mu   sync.RWMutex
	cur  *Snapshot
	cond *sync.Cond
}

func NewHolder(initial *Snapshot) *Holder {
	var h = &Holder{cur: initial}
	h.cond = sync.NewCond(h.mu.RLocker())
	return h
}

func (h *Holder) Load() *Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur
}

// Swap installs next as the current snapshot and wakes any evaluator
// blocked in Evaluate waiting for a fresher snapshot.
func (h *Holder) Swap(next *Snapshot) {
	h.mu.Lock()
	h.cur = next
	h.mu.Unlock()
	h.cond.Broadcast()
}

// Evaluate implements spec.md §4.6's `evaluate(snapshot, taken_at, fn)`
// freshness contract: fn is invoked with a snapshot whose RefreshedAt
// is at or after takenAt, blocking (up to a bound) for a fresher
// refresh if the current snapshot predates takenAt. This guarantees a
// token reflects state at or after the caller-observed time.
func (h *Holder) Evaluate(ctx context.Context, takenAt time.Time, fn func(*Snapshot) (any, error)) (any, error) {
	const maxWait = 10 * time.Second
	var deadline = time.Now().Add(maxWait)

	// Wake the wait below when ctx ends or the bound elapses. Taking the
	// write lock first orders the wake-up after Wait has released its
	// read lock, so it cannot be missed.
	var wake = func() {
		h.mu.Lock()
		h.mu.Unlock()
		h.cond.Broadcast()
	}
	var stopCtx = context.AfterFunc(ctx, wake)
	defer stopCtx()
	var timer = time.AfterFunc(maxWait, wake)
	defer timer.Stop()

	h.mu.RLock()
	for h.cur.RefreshedAt.Before(takenAt) {
		if time.Now().After(deadline) {
			h.mu.RUnlock()
			return nil, ErrSnapshotStale
		}
		// sync.Cond requires the associated Locker; RLocker's Wait
		// releases the read lock and reacquires it on wake.
		h.cond.Wait()
		select {
		case <-ctx.Done():
			h.mu.RUnlock()
			return nil, ctx.Err()
		default:
		}
	}
	var snap = h.cur
	h.mu.RUnlock()

	return fn(snap)
}
