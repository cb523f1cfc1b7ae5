// Package queue implements the task queue and automation runtime of
// spec.md §4.7: a durable, at-least-once, leased queue of typed tasks
// {publication, discover, connector_tag, controller_run}, polled by a
// Worker until each task reports Done, Sleep, or Yield.
package queue

import (
	"time"

	"github.com/estuary/flow/go/catalog"
)

// Outcome is the result of one task poll (spec.md §4.7 "A task's poll
// produces an Outcome applied transactionally alongside lease
// release"). Exactly one of Done, Sleep, or Yield describes what
// happens next; Done and a positive Sleep both leave the task
// queued=0 (idle) until something re-arms it, while Sleep additionally
// records a not_before to wake it on its own.
type Outcome struct {
	// Done reports the task has nothing further to do until an
	// external enqueue (a new draft, a fresh controller event)
	// reactivates it.
	Done bool

	// Sleep, when non-zero, re-arms the task for another poll after
	// the given duration without external input (used for backoff and
	// for poll-interval-driven tasks like scheduled auto-discover).
	Sleep time.Duration

	// Messages are cross-task notifications to deliver atomically with
	// this task's outcome commit (spec.md "cross-task messaging is
	// exactly-once with respect to the outcome commit"). For this
	// control plane the only cross-task message is a controller-run
	// enqueue, modeled directly as a list of catalog names to notify
	// rather than a generic inbox, since that's the only fan-out any
	// executor here performs.
	Messages []catalog.Name
}

// done reports a task has nothing further to do right now. Both
// discover and connector_tag are one-shot probes the original agent
// resolves in a single poll (discovers/handler.rs, connector_tags.rs's
// TagExecutor.process both always terminate with a JobStatus on their
// first attempt, never self-requeuing), so neither executor here ever
// constructs a Sleep or Yield outcome; Worker's generic dispatch still
// honors both, the way it would for a future task type that does.
func done() Outcome { return Outcome{Done: true} }
