package authz

import (
	"context"
	"fmt"
	"time"

	pb "go.gazette.dev/core/broker/protocol"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/labels"
	"github.com/estuary/flow/go/store"
)

// supportPrefix is the special role prefix a transitive Admin grant
// must reach for user-initiated Admin requests (spec.md §4.6 step 7).
const supportPrefix = "estuary_support/"

// IsUserAuthorized reports whether userId holds required capability
// on objectPrefix via any UserGrant, directly or through a chained
// RoleGrant, mirroring `tables::UserGrant::is_authorized`
// (original_source/crates/control-plane-api/src/server/authorize_user_collection.rs).
func IsUserAuthorized(roleGrants []store.RoleGrant, userGrants []store.UserGrant, userId, objectPrefix string, required store.Capability) bool {
	for _, g := range userGrants {
		if g.UserId != userId || g.Capability < required {
			continue
		}
		if hasPrefix(objectPrefix, g.ObjectRolePrefix) {
			return true
		}
		if IsAuthorized(roleGrants, g.ObjectRolePrefix, objectPrefix, required) {
			return true
		}
	}
	return false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// AuthorizeUserCollection authorizes a user request for `capability`
// on `collection`, applying the §4.6 step 7 transitive support-admin
// check and step 8 cordon check, minting a collection-scoped token
// from the resolved data plane.
func (k *Kernel) AuthorizeUserCollection(ctx context.Context, userId string, collection catalog.Name, required store.Capability) (string, string, error) {
	var takenAt = time.Now()

	result, err := k.holder.Evaluate(ctx, takenAt, func(snap *Snapshot) (any, error) {
		outcome, err := k.evaluateUser(snap, userId, collection, required)
		if err != nil {
			return nil, err
		}
		return outcome, nil
	})
	if err != nil {
		return "", "", err
	}
	var outcome = result.(mintOutcome)
	return outcome.token, outcome.address, nil
}

func (k *Kernel) evaluateUser(snap *Snapshot, userId string, collection catalog.Name, required store.Capability) (mintOutcome, error) {
	if !IsUserAuthorized(snap.RoleGrants, snap.UserGrants, userId, string(collection), required) {
		return mintOutcome{}, &ErrForbidden{Reason: fmt.Sprintf("user %s is not authorized to %s for capability %v", userId, collection, required)}
	}
	if required == store.CapabilityAdmin && !IsUserAuthorized(snap.RoleGrants, snap.UserGrants, userId, supportPrefix, store.CapabilityAdmin) {
		return mintOutcome{}, &ErrForbidden{Reason: "admin capability requires a transitive grant to " + supportPrefix}
	}

	// The request carries a catalog name, not a journal name, so match
	// it against CollectionName rather than by journal template prefix.
	var coll *Collection
	for i := range snap.Collections {
		if snap.Collections[i].CollectionName == collection {
			coll = &snap.Collections[i]
			break
		}
	}
	if coll == nil {
		return mintOutcome{}, &ErrForbidden{Reason: "collection " + string(collection) + " not found"}
	}
	plane, ok := snap.DataPlaneById(coll.DataPlaneId)
	if !ok {
		return mintOutcome{}, fmt.Errorf("internal: collection data-plane %v not found", coll.DataPlaneId)
	}
	if plane.Cordoned {
		return mintOutcome{}, &ErrCordoned{RetryAfterMillis: 1000}
	}
	if len(plane.HMACKeys) == 0 {
		return mintOutcome{}, fmt.Errorf("internal: data-plane %s has no configured HMAC keys", plane.FQDN)
	}

	var claims = pb.Claims{
		Subject:    userId,
		Capability: grantedCapability(required),
	}
	claims.Selector.Include.Labels = []pb.Label{
		{Name: labels.Name, Value: coll.JournalTemplateName},
		{Name: labels.Collection, Value: string(collection)},
	}

	// A user-authorized token always targets the collection's own
	// broker, not the issuer's, since there is no issuing shard here.
	return k.sign(claims, plane.FQDN, plane, true)
}

// grantedCapability maps a resolved catalog role back to the broker
// capability bits a minted token carries, the inverse of requiredRole
// used on the task-authorization path.
func grantedCapability(c store.Capability) pb.Capability {
	switch c {
	case store.CapabilityAdmin:
		return CapList | CapRead | CapApply | CapAppend
	case store.CapabilityWrite:
		return CapApply | CapAppend
	default:
		return CapList | CapRead
	}
}
