package authz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	pb "go.gazette.dev/core/broker/protocol"

	"github.com/estuary/flow/go/labels"
	"github.com/estuary/flow/go/store"
)

// Kernel mints capability tokens against a Holder's snapshot, per
// spec.md §4.6. It is the server-side counterpart of the teacher's
// ControlPlaneAuthorizer client.
type Kernel struct {
	holder   *Holder
	tokenTTL time.Duration

	cache *lru.Cache[cacheKey, cacheValue]
}

type cacheKey struct {
	subject    string
	name       string
	capability pb.Capability
}

type cacheValue struct {
	token   string
	address string
	expires time.Time
}

// NewKernel builds a Kernel evaluating against holder, minting tokens
// with the given lifetime, and caching up to cacheSize evaluation
// results (generalizing the teacher's unbounded per-process cache to
// an LRU so kernel memory is bounded under many distinct shards).
func NewKernel(holder *Holder, tokenTTL time.Duration, cacheSize int) (*Kernel, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	c, err := lru.New[cacheKey, cacheValue](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("building authorization cache: %w", err)
	}
	return &Kernel{holder: holder, tokenTTL: tokenTTL, cache: c}, nil
}

// AuthorizeTask implements spec.md §4.6's full evaluation for a task
// (machine) requester: claims arrive as an unverified JWT string,
// already self-signed by the requesting shard's data plane.
func (k *Kernel) AuthorizeTask(ctx context.Context, rawToken string) (string, string, error) {
	var claims pb.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, &claims); err != nil {
		return "", "", &ErrForbidden{Reason: "malformed request token: " + err.Error()}
	}

	var shardId = claims.Subject
	var issuerFQDN = claims.Issuer
	if shardId == "" || issuerFQDN == "" {
		return "", "", &ErrForbidden{Reason: "missing sub or iss claim"}
	}
	var name = claims.Selector.Include.ValueOf(labels.Name)
	if name == "" {
		return "", "", &ErrForbidden{Reason: "missing name label in selector"}
	}

	if claims.Capability&CapAuthorize == 0 {
		return "", "", &ErrForbidden{Reason: "missing required AUTHORIZE capability"}
	}
	claims.Capability &^= CapAuthorize

	required, ok := requiredRole(claims.Capability)
	if !ok {
		return "", "", &ErrForbidden{Reason: fmt.Sprintf("capability %v cannot be authorized", claims.Capability)}
	}

	var key = cacheKey{subject: shardId, name: name, capability: claims.Capability}
	if v, ok := k.cache.Get(key); ok && v.expires.After(time.Now()) {
		return v.token, v.address, nil
	}

	var takenAt = time.Now()
	if claims.IssuedAt != nil {
		takenAt = claims.IssuedAt.Time
	}

	result, err := k.holder.Evaluate(ctx, takenAt, func(snap *Snapshot) (any, error) {
		outcome, err := k.evaluateTask(snap, shardId, issuerFQDN, rawToken, name, required, claims)
		if err != nil {
			return nil, err
		}
		return outcome, nil
	})
	if err != nil {
		return "", "", err
	}
	var outcome = result.(mintOutcome)

	k.cache.Add(key, cacheValue{token: outcome.token, address: outcome.address, expires: outcome.expires})
	return outcome.token, outcome.address, nil
}

type mintOutcome struct {
	token   string
	address string
	expires time.Time
}

func (k *Kernel) evaluateTask(snap *Snapshot, shardId, issuerFQDN, rawToken, name string, required store.Capability, claims pb.Claims) (mintOutcome, error) {
	var issuerPlane, ok = snap.DataPlaneByFQDN(issuerFQDN)
	if !ok {
		return mintOutcome{}, &ErrForbidden{Reason: "unknown issuer data-plane " + issuerFQDN}
	}
	if !verifyAny(issuerPlane.HMACKeys, rawToken) {
		return mintOutcome{}, &ErrForbidden{Reason: "token signature did not verify against any issuer data-plane key"}
	}

	task, ok := snap.FindTask(shardId)
	if !ok || task.DataPlaneId != issuerPlane.Id {
		return mintOutcome{}, &ErrForbidden{Reason: fmt.Sprintf("task shard %s within data-plane %s is not known", shardId, issuerFQDN)}
	}

	var targetPlane *store.DataPlane
	var isOps bool
	var found bool

	if coll, ok := snap.FindCollection(name); ok {
		found = true
		plane, ok := snap.DataPlaneById(coll.DataPlaneId)
		if !ok {
			return mintOutcome{}, fmt.Errorf("internal: collection data-plane %v not found", coll.DataPlaneId)
		}
		targetPlane = plane
		isOps = required == store.CapabilityWrite &&
			(coll.CollectionName == plane.OpsLogsName || coll.CollectionName == plane.OpsStatsName) &&
			strings.HasSuffix(name, opsSuffix(task))
	} else {
		targetPlane = issuerPlane
	}

	if targetPlane.Cordoned {
		return mintOutcome{}, &ErrCordoned{RetryAfterMillis: 1000}
	}

	// An unresolved collection gets a black-hole token below without an
	// RBAC check, since that token matches no journals.
	if found && !isOps && !IsAuthorized(snap.RoleGrants, string(task.TaskName), name, required) {
		return mintOutcome{}, &ErrForbidden{Reason: fmt.Sprintf("task %s is not authorized to %s for capability %v", shardId, name, required)}
	}

	if len(targetPlane.HMACKeys) == 0 {
		return mintOutcome{}, fmt.Errorf("internal: data-plane %s has no configured HMAC keys", targetPlane.FQDN)
	}

	if !found {
		return k.signBlackHole(claims, issuerFQDN, targetPlane, task.DataPlaneId != targetPlane.Id)
	}
	return k.sign(claims, targetPlane.FQDN, targetPlane, task.DataPlaneId != targetPlane.Id)
}

// sign issues the outgoing token with the target plane's signing
// (first) HMAC key, rewriting the broker address when the target
// plane differs from the issuer's (spec.md §4.6 step 9).
func (k *Kernel) sign(claims pb.Claims, issuer string, plane *store.DataPlane, rewrite bool) (mintOutcome, error) {
	claims.Issuer = issuer
	var now = time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(k.tokenTTL))
	normalizeSelector(&claims)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(plane.HMACKeys[0])
	if err != nil {
		return mintOutcome{}, fmt.Errorf("signing authorized token: %w", err)
	}
	return mintOutcome{token: token, address: maybeRewriteAddress(rewrite, plane.BrokerAddress), expires: claims.ExpiresAt.Time}, nil
}

// signBlackHole mints a token whose selector matches no journals
// (spec.md §4.6 step 4, §6.2): the issuer is left unchanged (we don't
// know which plane the collection might have lived in), and the
// estuary.dev/match-nothing label is injected.
func (k *Kernel) signBlackHole(claims pb.Claims, keepIssuer string, plane *store.DataPlane, rewrite bool) (mintOutcome, error) {
	claims.Issuer = keepIssuer
	var now = time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(k.tokenTTL))
	claims.Selector.Include.Labels = append(claims.Selector.Include.Labels, pb.Label{Name: labels.MatchNothing, Value: "1"})
	normalizeSelector(&claims)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(plane.HMACKeys[0])
	if err != nil {
		return mintOutcome{}, fmt.Errorf("signing black-hole token: %w", err)
	}
	return mintOutcome{token: token, address: maybeRewriteAddress(rewrite, plane.BrokerAddress), expires: claims.ExpiresAt.Time}, nil
}

// normalizeSelector patches Go's JSON encoding of empty label sets to
// match canonical protobuf JSON encoding, which rejects explicit
// `null`; the teacher's authorizer.go performs the identical fixup.
func normalizeSelector(claims *pb.Claims) {
	if claims.Selector.Include.Labels == nil {
		claims.Selector.Include.Labels = []pb.Label{}
	}
	if claims.Selector.Exclude.Labels == nil {
		claims.Selector.Exclude.Labels = []pb.Label{}
	}
}

func maybeRewriteAddress(rewrite bool, address string) string {
	if !rewrite {
		return address
	}
	// A real rewrite resolves the plane's externally-reachable
	// endpoint; absent a service directory here, the internal address
	// is returned as-is, matching the address already stored for the
	// data plane (the teacher's maybe_rewrite_address performs a
	// lookup this kernel has no separate table for).
	return address
}

// opsSuffix computes the ops-log/ops-stats journal suffix a task is
// permitted to write without an RBAC grant (spec.md §4.6 step 6).
func opsSuffix(t *Task) string {
	return "/kind=" + string(t.SpecType) + "/name=" + strings.ReplaceAll(string(t.TaskName), "/", "+")
}

func verifyAny(keys [][]byte, rawToken string) bool {
	for _, key := range keys {
		if _, err := jwt.Parse(rawToken, func(*jwt.Token) (any, error) { return key, nil }); err == nil {
			return true
		}
	}
	return false
}
