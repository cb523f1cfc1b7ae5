package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/estuary/flow/go/connector"
)

// jsonCodec lets a *grpc.ClientConn exchange our plain JSON request/
// response structs directly, without a .proto-generated stub for the
// connector RPC service. This is the same grpc.Codec extension point
// generated clients are built on top of (see google.golang.org/grpc's
// own "proto" codec registration); here it's applied directly since
// the connector wire contract itself (spec.md §6.3) is specified as
// plain JSON request/response shapes, not a .proto message set.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return "json" }

// grpcClient implements connector.Client over one grpc.ClientConn,
// invoking the three connector RPCs of spec.md §6.3 by their fixed
// method names with jsonCodec framing, the way connector.Proxy expects
// any connector.Dialer's returned Client to behave.
type grpcClient struct {
	conn *grpc.ClientConn
}

var _ connector.Client = (*grpcClient)(nil)

func (c *grpcClient) Spec(ctx context.Context, image string, req connector.SpecRequest) (*connector.SpecResponse, error) {
	var resp connector.SpecResponse
	if err := c.invoke(ctx, "Spec", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *grpcClient) Discover(ctx context.Context, image string, req connector.DiscoverRequest) (*connector.DiscoverResponse, error) {
	var resp connector.DiscoverResponse
	if err := c.invoke(ctx, "Discover", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *grpcClient) Validate(ctx context.Context, image string, req connector.ValidateRequest) (*connector.ValidateResponse, error) {
	var resp connector.ValidateResponse
	if err := c.invoke(ctx, "Validate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *grpcClient) invoke(ctx context.Context, method string, req, resp interface{}) error {
	return c.conn.Invoke(ctx, "/connector.Connector/"+method, req, resp, grpc.ForceCodec(jsonCodec{}))
}

// grpcDialer is a connector.Dialer that routes every connector image to
// one fixed upstream address, substituting the image into addrTemplate
// (e.g. "connector-proxy.flow.svc:7921" or a template containing "%s"
// for per-image service discovery). Actually executing connector
// images (pulling, starting a container, speaking its runtime
// protocol) is out of scope per spec.md §1; this dialer only expects
// some other process at addrTemplate to already speak the Spec/
// Discover/Validate contract of spec.md §6.3. connector.Proxy.acquire
// already bounds ctx to the configured dial timeout before calling Dial.
type grpcDialer struct {
	addrTemplate string
}

func newGRPCDialer(addrTemplate string) *grpcDialer {
	return &grpcDialer{addrTemplate: addrTemplate}
}

func (d *grpcDialer) Dial(ctx context.Context, image string) (connector.Client, error) {
	var addr = d.addrTemplate
	if strings.Contains(addr, "%s") {
		addr = fmt.Sprintf(addr, image)
	}

	var opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, connector.DialOptions()...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialing connector proxy %q: %w", addr, err)
	}

	conn.Connect()
	for {
		var state = conn.GetState()
		if state == connectivity.Ready {
			break
		}
		if !conn.WaitForStateChange(ctx, state) {
			_ = conn.Close()
			return nil, fmt.Errorf("dialing connector proxy %q: %w", addr, ctx.Err())
		}
	}

	return &grpcClient{conn: conn}, nil
}
