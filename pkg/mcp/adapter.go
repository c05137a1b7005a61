package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raworc/tsbx/pkg/guardrails"
	"github.com/raworc/tsbx/pkg/tools"
)

// RemoteTool implements tools.Tool for a single tool discovered on an
// MCP server, so a remote tool dispatches through the same
// tools.Registry path as a local built-in — the inference loop never
// distinguishes the two. One value per discovered remote tool, rather
// than one dispatcher per session.
type RemoteTool struct {
	client      *Client
	serverID    string
	toolName    string
	name        string
	description string
	parameters  map[string]interface{}
	guardrails  *guardrails.Filter // nil disables output redaction
}

func (t *RemoteTool) Name() string                       { return t.name }
func (t *RemoteTool) Description() string                { return t.description }
func (t *RemoteTool) Parameters() map[string]interface{} { return t.parameters }

// Execute calls the tool on its MCP server, clips its output to
// storage size, and redacts sensitive substrings the same way a local
// tool's output does before it reaches the conversation history.
func (t *RemoteTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	result, err := t.client.CallTool(ctx, t.serverID, t.toolName, args)
	if err != nil {
		return "", fmt.Errorf("MCP tool %q failed: %w", t.name, err)
	}

	content := TruncateForStorage(extractTextContent(result))
	if t.guardrails != nil {
		content = t.guardrails.FilterOutput(content)
	}
	if result.IsError {
		return "", fmt.Errorf("remote tool %q reported an error: %s", t.name, content)
	}
	return content, nil
}

// RegisterMCPTools lists every tool on each of serverIDs (which must
// already have live sessions on client) and registers one RemoteTool
// per discovered tool into reg, named "server.tool". Servers that fail
// to list are skipped (logged, not fatal) — partial MCP availability
// is acceptable the way it is for the teacher's Client.ListAllTools.
//
// toolFilter restricts, per server ID, which of its tools are exposed
// (a task or session may be scoped to a subset of a server's
// capabilities); a server absent from toolFilter, or a nil toolFilter,
// exposes every tool it reports.
func RegisterMCPTools(ctx context.Context, reg *tools.Registry, client *Client, serverIDs []string, toolFilter map[string][]string, gr *guardrails.Filter) error {
	registered := 0
	var lastErr error
	for _, serverID := range serverIDs {
		list, err := client.ListTools(ctx, serverID)
		if err != nil {
			lastErr = err
			slog.Warn("failed to list tools for MCP server", "server", serverID, "error", err)
			continue
		}
		allowed := allowedToolSet(toolFilter, serverID)
		for _, tl := range list {
			if allowed != nil && !allowed[tl.Name] {
				continue
			}
			reg.Register(&RemoteTool{
				client:      client,
				serverID:    serverID,
				toolName:    tl.Name,
				name:        fmt.Sprintf("%s.%s", serverID, tl.Name),
				description: tl.Description,
				parameters:  schemaToParameters(tl.InputSchema),
				guardrails:  gr,
			})
			registered++
		}
	}
	if registered == 0 && lastErr != nil {
		return fmt.Errorf("no MCP tools registered: %w", lastErr)
	}
	return nil
}

// allowedToolSet returns the set of tool names toolFilter permits for
// serverID, or nil if the server is unrestricted.
func allowedToolSet(toolFilter map[string][]string, serverID string) map[string]bool {
	if toolFilter == nil {
		return nil
	}
	names, ok := toolFilter[serverID]
	if !ok {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// extractTextContent extracts text from MCP CallToolResult.
// Concatenates all TextContent items. Non-text content (images, embedded
// resources) is logged at debug level and skipped.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("MCP tool returned non-text content, skipping",
				"content_type", fmt.Sprintf("%T", c))
		}
	}
	return strings.Join(parts, "\n")
}

// schemaToParameters round-trips an MCP tool's JSON-schema InputSchema
// through encoding/json into the plain map[string]interface{} shape
// tools.Tool.Parameters() returns for every built-in tool, so a
// prompt-builder never needs to special-case remote tools.
func schemaToParameters(schema any) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		slog.Debug("failed to marshal MCP tool input schema", "error", err)
		return map[string]interface{}{}
	}
	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return map[string]interface{}{}
	}
	return params
}
