// Package tools implements the in-sandbox executor's built-in tool
// registry: bash, text_edit, python_package, and
// environment_info, each runnable directly against the local
// filesystem and process table since this package only ever runs
// inside the sandbox container it operates on.
package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// NormalizeToolName converts tool names between the two separators an
// inference provider might emit: some function-calling APIs reject
// dots in tool names and require "server__tool"; the registry itself
// routes on "server.tool". Normalizes both to the dotted form.
func NormalizeToolName(name string) string {
	if strings.Contains(name, "__") && !strings.Contains(name, ".") {
		return strings.Replace(name, "__", ".", 1)
	}
	return name
}

// Tool is one callable the inference loop can dispatch to, grounded on
// the teacher's {name, description, json-schema parameters, execute}
// shape in pkg/agent/llm_client.go's ToolDefinition/ToolExecutor pair.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{} // JSON Schema
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// Registry holds the built-in tools plus any optional MCP-proxied
// remote tools registered alongside them. Aliases let a model call a
// tool by an alternate name, optionally remapping parameter keys.
type Registry struct {
	tools   map[string]Tool
	aliases map[string]Alias
}

// Alias maps an alternate tool name to a canonical one, and optionally
// remaps parameter keys (alternate key -> canonical key).
type Alias struct {
	Canonical string
	ParamMap  map[string]string
}

// NewRegistry builds a Registry with the four built-in tools
// (§4.5.2) registered under sandboxRoot.
func NewRegistry(sandboxRoot string) *Registry {
	r := &Registry{tools: make(map[string]Tool), aliases: make(map[string]Alias)}
	r.Register(NewBashTool(sandboxRoot))
	r.Register(NewTextEditTool(sandboxRoot))
	r.Register(NewPythonPackageTool(sandboxRoot))
	r.Register(NewEnvironmentInfoTool())
	return r
}

// Register adds or replaces a tool, including MCP-proxied remote ones.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// RegisterAlias maps name to an existing canonical tool.
func (r *Registry) RegisterAlias(name string, alias Alias) {
	r.aliases[name] = alias
}

// List returns every registered tool's definition for prompt-building.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Dispatch resolves name (direct or alias) and runs it with args,
// remapping parameter keys first if the call came in through an alias.
// name is normalized first so a "server__tool" call (some
// function-calling APIs reject dots in tool names) still routes to the
// "server.tool" registration an MCP-proxied tool is registered under.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	canonical := NormalizeToolName(name)
	if alias, ok := r.aliases[canonical]; ok {
		canonical = alias.Canonical
		if alias.ParamMap != nil {
			remapped := make(map[string]interface{}, len(args))
			for k, v := range args {
				if mapped, ok := alias.ParamMap[k]; ok {
					remapped[mapped] = v
				} else {
					remapped[k] = v
				}
			}
			args = remapped
		}
	}

	t, ok := r.tools[canonical]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return t.Execute(ctx, args)
}

// normalizePath resolves path relative to root, rejecting any result
// that escapes root — the path-traversal guard required
// for text_edit.
func normalizePath(root, path string) (string, error) {
	root = filepath.Clean(root)
	cleaned := strings.TrimPrefix(path, "/")
	joined := filepath.Join(root, cleaned)
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the sandbox root", path)
	}
	return joined, nil
}
