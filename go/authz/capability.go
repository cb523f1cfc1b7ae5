package authz

import (
	pb "go.gazette.dev/core/broker/protocol"

	"github.com/estuary/flow/go/store"
)

// Capability bit values for the broker-facing capabilities a task or
// user may request (spec.md §4.6 step 5, §6.2). These mirror the
// bitmask shape `pb.Claims.Capability` already carries on the wire in
// the teacher's client (go/runtime/authorizer.go); Authorize is a
// Flow-specific addition a requester sets to ask the kernel to act on
// its behalf, stripped from the claims before the kernel re-signs them
// (original_source/crates/agent/src/api/authorize_task.rs).
const (
	CapList      pb.Capability = 1 << 0
	CapRead      pb.Capability = 1 << 1
	CapApply     pb.Capability = 1 << 2
	CapAppend    pb.Capability = 1 << 3
	CapAuthorize pb.Capability = 1 << 4
)

// requiredRole maps an exact capability combination to the catalog
// role it demands, per spec.md §4.6 step 5: combinations are matched
// exactly, not by bitwise sufficiency, so LIST|READ|APPLY is rejected
// even though it "contains" an allowed LIST|READ.
func requiredRole(cap pb.Capability) (store.Capability, bool) {
	switch cap {
	case CapList, CapRead, CapList | CapRead:
		return store.CapabilityRead, true
	case CapApply, CapAppend:
		return store.CapabilityWrite, true
	default:
		return store.CapabilityNone, false
	}
}
