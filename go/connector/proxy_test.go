package connector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeClient struct {
	specErr error
}

func (f *fakeClient) Spec(ctx context.Context, image string, req SpecRequest) (*SpecResponse, error) {
	if f.specErr != nil {
		return nil, f.specErr
	}
	return &SpecResponse{DocumentationUrl: "https://example/" + image}, nil
}
func (f *fakeClient) Discover(ctx context.Context, image string, req DiscoverRequest) (*DiscoverResponse, error) {
	return &DiscoverResponse{}, nil
}
func (f *fakeClient) Validate(ctx context.Context, image string, req ValidateRequest) (*ValidateResponse, error) {
	return &ValidateResponse{}, nil
}

type fakeDialer struct {
	dialed int
	client Client
}

func (d *fakeDialer) Dial(ctx context.Context, image string) (Client, error) {
	d.dialed++
	return d.client, nil
}

func TestProxyPoolsClients(t *testing.T) {
	var dialer = &fakeDialer{client: &fakeClient{}}
	var p = NewProxy(dialer, 2)

	_, err := p.Spec(context.Background(), "img:1", SpecRequest{})
	require.NoError(t, err)
	_, err = p.Spec(context.Background(), "img:1", SpecRequest{})
	require.NoError(t, err)

	require.Equal(t, 1, dialer.dialed)
}

func TestClassifyWrapsUnavailable(t *testing.T) {
	var dialer = &fakeDialer{client: &fakeClient{specErr: errors.New("boom")}}
	var p = NewProxy(dialer, 2)

	_, err := p.Spec(context.Background(), "img:1", SpecRequest{})
	require.Error(t, err)
	require.True(t, IsRetryable(err))
}

func TestIsRetryableDistinguishesTerminal(t *testing.T) {
	require.False(t, IsRetryable(status.Error(codes.InvalidArgument, "bad config")))
	require.True(t, IsRetryable(status.Error(codes.Unavailable, "down")))
	require.False(t, IsRetryable(nil))
}
