// Package ops provides the control plane's structured logging, adapted
// from the teacher's shard-log publisher (go/ops/logs.go,
// go/ops/publish.go) to describe control-plane operations —
// publications, controller runs, and queue tasks — rather than
// data-plane reactor shards, which this repository does not run.
package ops

import (
	"fmt"
	"strings"

	"github.com/estuary/flow/go/catalog"
)

// LogCollection returns the tenant-scoped collection to which logs for
// tasks under taskName's prefix would be written, mirroring the
// teacher's `ops/<tenant>/logs` naming convention
// (ops-catalog/ops-log-schema.json). Used by components that must
// reference a tenant's ops collections by name without looking one up
// (e.g. seeding them on tenant onboarding); the "ops/" prefix itself is
// also the control plane's hard-coded storage mapping include (see
// go/store's ResolveStorageMappings).
func LogCollection(taskName catalog.Name) catalog.Name {
	return catalog.Name(fmt.Sprintf("ops/%s/logs", strings.Split(string(taskName), "/")[0]))
}

// StatsCollection is LogCollection's counterpart for task statistics.
func StatsCollection(taskName catalog.Name) catalog.Name {
	return catalog.Name(fmt.Sprintf("ops/%s/stats", strings.Split(string(taskName), "/")[0]))
}
