package authz

import "errors"

// ErrSnapshotStale is returned by Holder.Evaluate when no sufficiently
// fresh snapshot became available within the bounded wait (spec.md §7
// "transient system error ... snapshot-stale").
var ErrSnapshotStale = errors.New("authorization snapshot did not refresh in time")

// ErrForbidden wraps a rejection the caller should not retry: bad
// signature, unknown task/data-plane, or a capability combination
// that maps to no role.
type ErrForbidden struct{ Reason string }

func (e *ErrForbidden) Error() string { return "forbidden: " + e.Reason }

// ErrCordoned is returned when the resolved collection is cordoned
// for migration (spec.md §4.6 step 8); the caller should retry with
// backoff rather than treat this as a hard rejection.
type ErrCordoned struct{ RetryAfterMillis int64 }

func (e *ErrCordoned) Error() string { return "target collection is cordoned" }
