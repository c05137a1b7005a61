package mcp

import (
	"fmt"
	"regexp"

	"github.com/raworc/tsbx/pkg/tools"
)

// toolNameRegex validates the "server.tool" format.
// Both server and tool parts must start with a word character and contain
// only word characters and hyphens.
var toolNameRegex = regexp.MustCompile(`^([\w][\w-]*)\.([\w][\w-]*)$`)

// NormalizeToolName re-exports tools.NormalizeToolName so callers
// working with MCP tool names don't need a second import for the same
// dot/double-underscore normalization tools.Registry.Dispatch applies.
func NormalizeToolName(name string) string {
	return tools.NormalizeToolName(name)
}

// SplitToolName splits "server.tool" into (serverID, toolName, error).
// Validates format with strict regex: server and tool parts must be
// word characters and hyphens, non-empty.
func SplitToolName(name string) (serverID, toolName string, err error) {
	matches := toolNameRegex.FindStringSubmatch(name)
	if matches == nil {
		return "", "", fmt.Errorf(
			"invalid tool name %q: must be in 'server.tool' format "+
				"(e.g., 'kubernetes-server.get_pods')", name)
	}
	return matches[1], matches[2], nil
}
