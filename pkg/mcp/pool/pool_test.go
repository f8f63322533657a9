// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/sextant/pkg/core"
	"github.com/jllopis/sextant/pkg/errors"
	"github.com/jllopis/sextant/pkg/mcp"
	"github.com/jllopis/sextant/pkg/resilience"
)

// providerServer builds an in-process provider whose tools answer with the
// provider name.
func providerServer(provider string, tools ...string) *mcp.Server {
	srv := mcp.NewServer(provider, "1.0.0")
	for _, tool := range tools {
		srv.RegisterTool(mcp.ToolSpec{
			Name:        tool,
			Description: "tool " + tool + " served by " + provider,
			Params:      []mcp.Param{{Name: "id", Required: true}},
			ReadOnly:    true,
		}, func(_ context.Context, args map[string]any) (string, error) {
			return fmt.Sprintf("%s:%v", provider, args["id"]), nil
		})
	}
	return srv
}

func newTestPool(t *testing.T, servers map[string]*mcp.Server, opts ...Option) *Pool {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dialer := mcp.DialerFunc(func(_ context.Context, endpoint string) (io.ReadWriteCloser, error) {
		srv, ok := servers[endpoint]
		if !ok {
			return nil, fmt.Errorf("no route to %s", endpoint)
		}
		clientEnd, serverEnd := net.Pipe()
		go func() { _ = srv.Serve(ctx, serverEnd, serverEnd) }()
		return clientEnd, nil
	})

	base := []Option{
		WithClient(mcp.NewClient(mcp.WithDialer(dialer))),
		WithHealthCheckInterval(0),
		WithListRetry(resilience.DefaultRetryConfig().WithMaxAttempts(1)),
	}
	p := New(append(base, opts...)...)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPool_RegisterValidation(t *testing.T) {
	p := newTestPool(t, nil)
	assert.ErrorIs(t, p.Register(ProviderConfig{Name: "x"}), ErrInvalidProviderConfig)
	assert.ErrorIs(t, p.Register(ProviderConfig{Endpoint: "tcp://x"}), ErrInvalidProviderConfig)

	require.NoError(t, p.Register(ProviderConfig{Name: "b", Endpoint: "pipe://b"}))
	require.NoError(t, p.Register(ProviderConfig{Name: "a", Endpoint: "pipe://a"}))
	require.NoError(t, p.Register(ProviderConfig{Name: "b", Endpoint: "pipe://b2"}))
	assert.Equal(t, []string{"b", "a"}, p.Providers())
	assert.Equal(t, 2, p.Stats().RegisteredProviders)
}

func TestPool_ListAndRoute(t *testing.T) {
	p := newTestPool(t, map[string]*mcp.Server{
		"pipe://inventory": providerServer("inventory", "inventory_check_stock", "shared_lookup"),
		"pipe://orders":    providerServer("orders", "orders_status", "shared_lookup"),
	})
	require.NoError(t, p.Register(ProviderConfig{Name: "inventory", Endpoint: "pipe://inventory"}))
	require.NoError(t, p.Register(ProviderConfig{Name: "orders", Endpoint: "pipe://orders"}))

	ctx := context.Background()
	descs, err := p.ListCapabilities(ctx)
	require.NoError(t, err)

	names := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"inventory_check_stock", "orders_status", "shared_lookup"}, names)

	owner, ok := p.Owner("shared_lookup")
	require.True(t, ok)
	assert.Equal(t, "inventory", owner, "first registered provider wins duplicates")

	res := p.Invoke(ctx, mcp.CallRequest{Capability: "orders_status", Arguments: map[string]any{"id": "o-1"}}, 0)
	require.True(t, res.OK(), "failure: %+v", res.Failure)
	assert.Equal(t, "orders:o-1", res.Payload)

	res = p.Invoke(ctx, mcp.CallRequest{Capability: "shared_lookup", Arguments: map[string]any{"id": 7}}, 0)
	assert.Equal(t, "inventory:7", res.Payload)

	res = p.Invoke(ctx, mcp.CallRequest{Capability: "does_not_exist"}, 0)
	require.False(t, res.OK())
	assert.Equal(t, errors.CodeUnknownCapability, res.Failure.Kind)

	schema, err := p.FetchSchema(ctx, "inventory_check_stock")
	require.NoError(t, err)
	var parsed struct {
		Required []string `json:"required"`
	}
	require.NoError(t, json.Unmarshal(schema, &parsed))
	assert.Equal(t, []string{"id"}, parsed.Required)

	assert.Equal(t, core.HealthHealthy, p.Check(ctx).Status)
}

func TestPool_UnreachableProviderIsReported(t *testing.T) {
	p := newTestPool(t, map[string]*mcp.Server{
		"pipe://good": providerServer("good", "good_tool"),
	})
	require.NoError(t, p.Register(ProviderConfig{Name: "good", Endpoint: "pipe://good"}))
	require.NoError(t, p.Register(ProviderConfig{Name: "bad", Endpoint: "pipe://missing"}))

	descs, err := p.ListCapabilities(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider bad")
	require.Len(t, descs, 1)
	assert.Equal(t, "good", descs[0].Provider)
	assert.Equal(t, 1, p.Stats().ConnectionErrors)
	assert.Equal(t, core.HealthDegraded, p.Check(context.Background()).Status)
}

func TestPool_DroppedSessionIsForgottenAndRedialed(t *testing.T) {
	p := newTestPool(t, map[string]*mcp.Server{
		"pipe://svc": providerServer("svc", "svc_ping"),
	})
	require.NoError(t, p.Register(ProviderConfig{Name: "svc", Endpoint: "pipe://svc"}))

	ctx := context.Background()
	s, err := p.Get(ctx, "svc")
	require.NoError(t, err)
	again, err := p.Get(ctx, "svc")
	require.NoError(t, err)
	assert.Same(t, s, again)

	require.NoError(t, s.Close())
	<-s.Done()
	p.runHealthChecks()
	assert.Equal(t, 0, p.Stats().OpenSessions)
	assert.Equal(t, 1, p.Stats().HealthChecksFailed)

	fresh, err := p.Get(ctx, "svc")
	require.NoError(t, err)
	assert.NotSame(t, s, fresh)
	assert.Equal(t, 2, p.Stats().TotalConnections)
}

func TestPool_InvokeDoesNotRedial(t *testing.T) {
	p := newTestPool(t, map[string]*mcp.Server{
		"pipe://svc": providerServer("svc", "svc_ping"),
	})
	require.NoError(t, p.Register(ProviderConfig{Name: "svc", Endpoint: "pipe://svc"}))

	ctx := context.Background()
	_, err := p.ListCapabilities(ctx)
	require.NoError(t, err)
	s, err := p.Get(ctx, "svc")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	<-s.Done()

	req := mcp.CallRequest{Capability: "svc_ping", Arguments: map[string]any{"id": 1}}
	res := p.Invoke(ctx, req, 0)
	require.False(t, res.OK())
	assert.Equal(t, errors.CodeConnectionLost, res.Failure.Kind)
	assert.Equal(t, 1, p.Stats().TotalConnections)

	_, err = p.ListCapabilities(ctx)
	require.NoError(t, err)
	res = p.Invoke(ctx, req, 0)
	require.True(t, res.OK(), "failure: %+v", res.Failure)
	assert.Equal(t, "svc:1", res.Payload)
	assert.Equal(t, 2, p.Stats().TotalConnections)
}

func TestPool_Closed(t *testing.T) {
	p := newTestPool(t, nil)
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Close(), ErrPoolClosed)

	_, err := p.Get(context.Background(), "any")
	assert.True(t, stderrors.Is(err, ErrPoolClosed))
	assert.ErrorIs(t, p.Register(ProviderConfig{Name: "x", Endpoint: "y"}), ErrPoolClosed)
}

func TestPool_UnknownProvider(t *testing.T) {
	p := newTestPool(t, nil, WithHealthCheckInterval(time.Hour))
	_, err := p.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}
