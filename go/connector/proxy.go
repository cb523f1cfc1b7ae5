package connector

import (
	"context"
	"os"
	"sync"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// clientMetrics is the shared go-grpc-prometheus client-side metrics
// registry; a real Dialer's underlying grpc.Dial call should install
// clientMetrics.UnaryClientInterceptor() as a DialOption so that every
// connector RPC is observed the same way the teacher instruments its
// own gRPC clients.
var clientMetrics = grpc_prometheus.NewClientMetrics()

// DialOptions returns the grpc.DialOption set a Dialer implementation
// should pass to grpc.Dial/grpc.NewClient when connecting to a
// connector image, wiring up Prometheus client metrics.
func DialOptions() []grpc.DialOption {
	return []grpc.DialOption{grpc.WithUnaryInterceptor(clientMetrics.UnaryClientInterceptor())}
}

// Metrics returns the Prometheus collector backing connector RPC
// instrumentation, for registration against the process registry at
// startup (see cmd/flow-controlplane).
func Metrics() prometheus.Collector { return clientMetrics }

// defaultDialTimeout is the per-connector dial budget of spec.md §5
// ("a dial timeout (60s)").
const defaultDialTimeout = 60 * time.Second

// rpcTimeout resolves the per-message read timeout from
// FLOW_CONNECTOR_TIMEOUT (spec.md §6.5), defaulting to 5 minutes.
func rpcTimeout() time.Duration {
	if v := os.Getenv("FLOW_CONNECTOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 5 * time.Minute
}

// Dialer opens a Client bound to a specific connector image; Proxy
// uses it to populate the bounded pool lazily.
type Dialer interface {
	Dial(ctx context.Context, image string) (Client, error)
}

// Proxy routes connector RPCs through a bounded connection pool keyed
// by image, matching spec.md §5's "data-plane proxy with a bounded
// connection pool". Each RPC is wrapped with the configured
// per-message timeout and classified via gRPC status codes so callers
// can distinguish transient (retryable) from terminal failures,
// exactly the pattern the teacher's own `go-grpc-prometheus`-instrumented
// gRPC clients use.
type Proxy struct {
	dialer      Dialer
	maxPerImage int

	mu    sync.Mutex
	pools map[string][]Client
}

// NewProxy constructs a Proxy that keeps up to maxPerImage idle
// clients per connector image for reuse. Dials are not limited: a call
// that finds no idle client dials a new one, and a released client
// beyond maxPerImage is dropped.
func NewProxy(dialer Dialer, maxPerImage int) *Proxy {
	if maxPerImage <= 0 {
		maxPerImage = 4
	}
	return &Proxy{dialer: dialer, maxPerImage: maxPerImage, pools: make(map[string][]Client)}
}

func (p *Proxy) acquire(ctx context.Context, image string) (Client, error) {
	p.mu.Lock()
	if pool := p.pools[image]; len(pool) > 0 {
		var c = pool[len(pool)-1]
		p.pools[image] = pool[:len(pool)-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	c, err := p.dialer.Dial(dialCtx, image)
	if err != nil {
		return nil, classify(err, "dial")
	}
	return c, nil
}

func (p *Proxy) release(image string, c Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pools[image]) >= p.maxPerImage {
		return
	}
	p.pools[image] = append(p.pools[image], c)
}

// classify maps a raw error into a gRPC status so the publication
// engine and controllers can decide retryability (spec.md §7
// "transient system error ... retried with exponential backoff").
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Errorf(codes.Unavailable, "connector %s failed: %v", op, err)
}

// IsRetryable reports whether err represents a transient connector
// failure the caller should retry with backoff, versus a terminal
// rejection (InvalidArgument, FailedPrecondition) that should surface
// directly.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var s, ok = status.FromError(err)
	if !ok {
		return false
	}
	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

func (p *Proxy) Spec(ctx context.Context, image string, req SpecRequest) (*SpecResponse, error) {
	c, err := p.acquire(ctx, image)
	if err != nil {
		return nil, err
	}
	defer p.release(image, c)

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout())
	defer cancel()
	resp, err := c.Spec(ctx, image, req)
	if err != nil {
		return nil, classify(err, "spec")
	}
	return resp, nil
}

func (p *Proxy) Discover(ctx context.Context, image string, req DiscoverRequest) (*DiscoverResponse, error) {
	c, err := p.acquire(ctx, image)
	if err != nil {
		return nil, err
	}
	defer p.release(image, c)

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout())
	defer cancel()
	resp, err := c.Discover(ctx, image, req)
	if err != nil {
		return nil, classify(err, "discover")
	}
	return resp, nil
}

func (p *Proxy) Validate(ctx context.Context, image string, req ValidateRequest) (*ValidateResponse, error) {
	c, err := p.acquire(ctx, image)
	if err != nil {
		return nil, err
	}
	defer p.release(image, c)

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout())
	defer cancel()
	resp, err := c.Validate(ctx, image, req)
	if err != nil {
		return nil, classify(err, "validate")
	}
	return resp, nil
}

var _ Client = (*Proxy)(nil)
