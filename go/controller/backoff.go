package controller

import (
	"math"
	"math/rand"
	"time"
)

const (
	baseBackoff = 2 * time.Second
	maxBackoff  = 10 * time.Minute
)

// nextBackoff implements spec.md §4.5 "Backoff":
//
//	next_run = now + min(max_backoff, base * 2^(failures-1) + jitter)
//
// failures is the post-increment count (i.e. the failure that just
// occurred counts), matching the exponent the spec's formula uses.
func nextBackoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	var scaled = float64(baseBackoff) * math.Pow(2, float64(failures-1))
	if scaled > float64(maxBackoff) {
		scaled = float64(maxBackoff)
	}
	var jitter = time.Duration(rand.Int63n(int64(baseBackoff) + 1))
	var out = time.Duration(scaled) + jitter
	if out > maxBackoff {
		out = maxBackoff
	}
	return out
}
