package mcp

import (
	"context"

	"github.com/raworc/tsbx/pkg/config"
)

// ClientFactory creates Client instances for a single in-sandbox
// executor run. createClientFn is swappable so tests can inject
// pre-wired sessions instead of dialing real transports.
type ClientFactory struct {
	registry       *config.MCPServerRegistry
	createClientFn func(ctx context.Context, serverIDs []string) (*Client, error)
}

// NewClientFactory creates a new factory.
func NewClientFactory(registry *config.MCPServerRegistry) *ClientFactory {
	f := &ClientFactory{registry: registry}
	f.createClientFn = f.createClient
	return f
}

// CreateClient creates a new Client connected to the specified servers.
// The caller is responsible for calling Close() when done.
func (f *ClientFactory) CreateClient(ctx context.Context, serverIDs []string) (*Client, error) {
	return f.createClientFn(ctx, serverIDs)
}

func (f *ClientFactory) createClient(ctx context.Context, serverIDs []string) (*Client, error) {
	client := newClient(f.registry)
	if err := client.Initialize(ctx, serverIDs); err != nil {
		_ = client.Close() // Clean up partial initialization
		return nil, err
	}
	return client, nil
}
