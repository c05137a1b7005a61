package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raworc/tsbx/pkg/config"
	"github.com/raworc/tsbx/pkg/tools"
)

// TestIntegration_E2E_ToolExecution tests the full pipeline:
// RegisterMCPTools → tools.Registry.Dispatch → Client.CallTool → result.
func TestIntegration_E2E_ToolExecution(t *testing.T) {
	ts := startTestServer(t, "kubernetes", map[string]mcpsdk.ToolHandler{
		"get_pods": func(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			var parsed map[string]any
			if err := json.Unmarshal(req.Params.Arguments, &parsed); err != nil {
				return &mcpsdk.CallToolResult{
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "parse error: " + err.Error()}},
					IsError: true,
				}, nil
			}
			ns, _ := parsed["namespace"].(string)
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{
					Text: "pods in namespace " + ns + ": pod-1, pod-2",
				}},
			}, nil
		},
	})

	reg, _ := newTestExecutorFromTransport(t, "kubernetes", ts.clientTransport)

	content, err := reg.Dispatch(context.Background(), "kubernetes.get_pods", map[string]interface{}{"namespace": "default"})
	require.NoError(t, err)
	assert.Contains(t, content, "pods in namespace default")
	assert.Contains(t, content, "pod-1, pod-2")
}

// TestIntegration_MultiServer_Routing tests tool discovery and routing across multiple servers.
func TestIntegration_MultiServer_Routing(t *testing.T) {
	k8sServer := startTestServer(t, "kubernetes", map[string]mcpsdk.ToolHandler{
		"get_pods": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "k8s: pods"}}}, nil
		},
	})

	ghServer := startTestServer(t, "github", map[string]mcpsdk.ToolHandler{
		"list_repos": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "gh: repos"}}}, nil
		},
	})

	registry := config.NewMCPServerRegistry(nil)
	client := newClient(registry)
	wireSession(t, client, "kubernetes", k8sServer.clientTransport)
	wireSession(t, client, "github", ghServer.clientTransport)
	t.Cleanup(func() { _ = client.Close() })

	reg := tools.NewRegistry(t.TempDir())
	require.NoError(t, RegisterMCPTools(context.Background(), reg, client, []string{"kubernetes", "github"}, nil, nil))

	var names []string
	for _, tool := range reg.List() {
		names = append(names, tool.Name())
	}
	assert.Contains(t, names, "kubernetes.get_pods")
	assert.Contains(t, names, "github.list_repos")

	r1, err := reg.Dispatch(context.Background(), "kubernetes.get_pods", nil)
	require.NoError(t, err)
	assert.Equal(t, "k8s: pods", r1)

	r2, err := reg.Dispatch(context.Background(), "github.list_repos", nil)
	require.NoError(t, err)
	assert.Equal(t, "gh: repos", r2)
}

// TestIntegration_DoubleUnderscoreNormalization tests the __ → . normalization through
// the full pipeline: some function-calling APIs reject dots in tool names and emit
// "server__tool", which tools.Registry.Dispatch normalizes back to "server.tool" for routing.
func TestIntegration_DoubleUnderscoreNormalization(t *testing.T) {
	ts := startTestServer(t, "kubernetes", map[string]mcpsdk.ToolHandler{
		"get_pods": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "normalization works"}}}, nil
		},
	})

	reg, _ := newTestExecutorFromTransport(t, "kubernetes", ts.clientTransport)

	content, err := reg.Dispatch(context.Background(), "kubernetes__get_pods", map[string]interface{}{"namespace": "default"})
	require.NoError(t, err)
	assert.Equal(t, "normalization works", content)
}

// TestIntegration_ListToolsCanonicalFormat verifies tool names stay in canonical "server.tool" format.
func TestIntegration_ListToolsCanonicalFormat(t *testing.T) {
	ts := startTestServer(t, "kubernetes", map[string]mcpsdk.ToolHandler{
		"get_pods": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "ok"}}}, nil
		},
	})

	reg, _ := newTestExecutorFromTransport(t, "kubernetes", ts.clientTransport)

	list := reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, "kubernetes.get_pods", list[0].Name())
}

// TestIntegration_PerSessionIsolation tests that two independently wired clients/registries
// operate independently.
func TestIntegration_PerSessionIsolation(t *testing.T) {
	ts1 := startTestServer(t, "server1", map[string]mcpsdk.ToolHandler{
		"tool": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "from session 1"}}}, nil
		},
	})

	ts2 := startTestServer(t, "server2", map[string]mcpsdk.ToolHandler{
		"tool": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "from session 2"}}}, nil
		},
	})

	reg1, _ := newTestExecutorFromTransport(t, "server1", ts1.clientTransport)
	reg2, _ := newTestExecutorFromTransport(t, "server2", ts2.clientTransport)

	r1, err := reg1.Dispatch(context.Background(), "server1.tool", nil)
	require.NoError(t, err)
	assert.Equal(t, "from session 1", r1)

	r2, err := reg2.Dispatch(context.Background(), "server2.tool", nil)
	require.NoError(t, err)
	assert.Equal(t, "from session 2", r2)
}

// TestIntegration_HealthMonitor_Lifecycle tests healthy → failure → recovery lifecycle.
func TestIntegration_HealthMonitor_Lifecycle(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"ping": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "pong"}}}, nil
		},
	})

	registry := config.NewMCPServerRegistry(nil)
	factory := NewClientFactory(registry)
	monitor := NewHealthMonitor(factory, registry)

	client := newClient(registry)
	wireSession(t, client, "test-server", ts.clientTransport)
	t.Cleanup(func() { _ = client.Close() })
	monitor.client = client

	// Phase 1: healthy
	monitor.checkServer(context.Background(), "test-server")
	assert.True(t, monitor.IsHealthy())
	status := monitor.GetStatuses()["test-server"]
	require.NotNil(t, status)
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Error)
	assert.Equal(t, 1, status.ToolCount)

	// Phase 2: simulate failure (close the session)
	client.mu.Lock()
	if session, exists := client.sessions["test-server"]; exists {
		_ = session.Close()
		delete(client.sessions, "test-server")
		delete(client.clients, "test-server")
	}
	client.mu.Unlock()

	monitor.checkServer(context.Background(), "test-server")
	assert.False(t, monitor.IsHealthy())
	status = monitor.GetStatuses()["test-server"]
	require.NotNil(t, status)
	assert.False(t, status.Healthy)
	assert.NotEmpty(t, status.Error)

	// Phase 3: simulate recovery (reconnect with new server)
	ts2 := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"ping": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "pong"}}}, nil
		},
	})
	wireSession(t, client, "test-server", ts2.clientTransport)

	monitor.checkServer(context.Background(), "test-server")
	assert.True(t, monitor.IsHealthy())
	status = monitor.GetStatuses()["test-server"]
	require.NotNil(t, status)
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Error)
}

// TestIntegration_ToolFilter tests that per-server tool filtering works end-to-end.
func TestIntegration_ToolFilter(t *testing.T) {
	ts := startTestServer(t, "kubernetes", map[string]mcpsdk.ToolHandler{
		"get_pods": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "pods"}}}, nil
		},
		"delete_pod": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "deleted"}}}, nil
		},
	})

	registry := config.NewMCPServerRegistry(nil)
	client := newClient(registry)
	wireSession(t, client, "kubernetes", ts.clientTransport)
	t.Cleanup(func() { _ = client.Close() })

	reg := tools.NewRegistry(t.TempDir())
	filter := map[string][]string{"kubernetes": {"get_pods"}}
	require.NoError(t, RegisterMCPTools(context.Background(), reg, client, []string{"kubernetes"}, filter, nil))

	list := reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, "kubernetes.get_pods", list[0].Name())

	r1, err := reg.Dispatch(context.Background(), "kubernetes.get_pods", nil)
	require.NoError(t, err)
	assert.Equal(t, "pods", r1)

	_, err = reg.Dispatch(context.Background(), "kubernetes.delete_pod", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

// TestIntegration_FailedServers tests failed server tracking through the pipeline.
func TestIntegration_FailedServers(t *testing.T) {
	registry := config.NewMCPServerRegistry(nil)
	client := newClient(registry)

	_ = client.Initialize(context.Background(), []string{"broken-server"})

	failed := client.FailedServers()
	assert.Contains(t, failed, "broken-server")
	assert.NotEmpty(t, failed["broken-server"])
}

// TestIntegration_HealthMonitor_ToolCaching tests that the health monitor populates the tool cache.
func TestIntegration_HealthMonitor_ToolCaching(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"tool_a": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "a"}}}, nil
		},
		"tool_b": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "b"}}}, nil
		},
	})

	registry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
		"test-server": {Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "echo"}},
	})
	factory := NewClientFactory(registry)
	monitor := NewHealthMonitor(factory, registry)
	monitor.pingTimeout = 5 * time.Second

	client := newClient(registry)
	wireSession(t, client, "test-server", ts.clientTransport)
	t.Cleanup(func() { _ = client.Close() })
	monitor.client = client

	monitor.checkServer(context.Background(), "test-server")

	cached := monitor.GetCachedTools()
	require.Contains(t, cached, "test-server")
	assert.Len(t, cached["test-server"], 2)
}

// --- Test helpers ---

// newTestExecutorFromTransport wires a single-server client and registers its tools
// into a fresh tools.Registry for testing.
func newTestExecutorFromTransport(t *testing.T, serverID string, transport *mcpsdk.InMemoryTransport) (*tools.Registry, *Client) {
	t.Helper()

	registry := config.NewMCPServerRegistry(nil)
	client := newClient(registry)
	wireSession(t, client, serverID, transport)
	t.Cleanup(func() { _ = client.Close() })

	reg := tools.NewRegistry(t.TempDir())
	require.NoError(t, RegisterMCPTools(context.Background(), reg, client, []string{serverID}, nil, nil))
	return reg, client
}

// wireSession connects a client to an in-memory transport and registers the session.
func wireSession(t *testing.T, client *Client, serverID string, transport *mcpsdk.InMemoryTransport) {
	t.Helper()

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name: "tsbx-test", Version: "test",
	}, nil)
	session, err := sdkClient.Connect(context.Background(), transport, nil)
	require.NoError(t, err)

	client.mu.Lock()
	client.sessions[serverID] = session
	client.clients[serverID] = sdkClient
	client.mu.Unlock()
}
