package publish

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/estuary/flow/go/catalog"
)

// RetryPolicy bounds the publication engine's automatic retries of a
// build-id lock failure (spec.md §4.4 "Retry policy"): exponential
// backoff with jitter, up to MaxAttempts total tries of Commit.
//
// The spec also names PublicationSuperseded and BuildSuperseded as
// retryable alongside BuildIdLockFailure; this store contract
// (go/store.Store) surfaces every such raced-commit condition as a
// single BuildIdLockFailure rather than three distinct statuses, so
// catalog.Status.IsRetryable already covers all three by construction
// (see DESIGN.md).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the bounded-backoff behavior the
// controller runtime (C5) uses for its own reschedules, scaled down
// for a synchronous in-request retry loop rather than a queued
// reschedule.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    5 * time.Second,
}

// Delay returns the backoff duration before retry attempt n (1-based),
// with full jitter: a uniformly random duration in [0, cap].
func (p RetryPolicy) Delay(attempt int) time.Duration {
	var cap = float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if cap > float64(p.MaxDelay) {
		cap = float64(p.MaxDelay)
	}
	return time.Duration(rand.Int63n(int64(cap) + 1))
}

// CommitWithRetry runs Commit repeatedly under policy until it returns
// a non-retryable status, succeeds, or exhausts MaxAttempts. Each
// retry re-resolves spec rows and re-runs the full build from step 1,
// as the spec's retry policy requires, since Engine.Commit always
// opens a fresh transaction.
func (e *Engine) CommitWithRetry(ctx context.Context, pub *catalog.Publication, policy RetryPolicy) (Result, error) {
	var result Result
	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err = e.Commit(ctx, pub)
		if err != nil {
			return result, err
		}
		if !result.Status.IsRetryable() {
			return result, nil
		}
		if attempt == policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(policy.Delay(attempt)):
		}
	}
	return result, nil
}
