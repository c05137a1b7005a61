package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// TextEditTool implements the view/create/str_replace/insert actions
// names (view/create/str_replace/insert), all path-traversal-guarded via normalizePath.
type TextEditTool struct {
	root string
}

// NewTextEditTool constructs the text_edit tool rooted at root.
func NewTextEditTool(root string) *TextEditTool { return &TextEditTool{root: root} }

func (t *TextEditTool) Name() string { return "text_edit" }
func (t *TextEditTool) Description() string {
	return "View, create, or edit a file in the sandbox (actions: view, create, str_replace, insert)."
}

func (t *TextEditTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action":      map[string]interface{}{"type": "string", "enum": []string{"view", "create", "str_replace", "insert"}},
			"path":        map[string]interface{}{"type": "string"},
			"content":     map[string]interface{}{"type": "string"},
			"target":      map[string]interface{}{"type": "string"},
			"replacement": map[string]interface{}{"type": "string"},
			"line":        map[string]interface{}{"type": "integer"},
			"start_line":  map[string]interface{}{"type": "integer"},
			"end_line":    map[string]interface{}{"type": "integer"},
		},
		"required": []string{"action", "path"},
	}
}

func (t *TextEditTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	action, _ := args["action"].(string)
	rawPath, _ := args["path"].(string)
	if rawPath == "" {
		return "", fmt.Errorf("text_edit: missing required argument %q", "path")
	}
	path, err := normalizePath(t.root, rawPath)
	if err != nil {
		return "", err
	}

	switch action {
	case "view":
		return t.view(path, args)
	case "create":
		content, _ := args["content"].(string)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("text_edit create: %w", err)
		}
		return fmt.Sprintf("created %s (%d bytes)", rawPath, len(content)), nil
	case "str_replace":
		return t.strReplace(path, args)
	case "insert":
		return t.insert(path, args)
	default:
		return "", fmt.Errorf("text_edit: unknown action %q", action)
	}
}

func (t *TextEditTool) view(path string, args map[string]interface{}) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("text_edit view: %w", err)
	}
	lines := strings.Split(string(raw), "\n")

	start := 1
	end := len(lines)
	if v, ok := args["start_line"].(float64); ok && int(v) > 0 {
		start = int(v)
	}
	if v, ok := args["end_line"].(float64); ok && int(v) > 0 {
		end = int(v)
	}
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return "", nil
	}

	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%d\t%s\n", i, lines[i-1])
	}
	return b.String(), nil
}

func (t *TextEditTool) strReplace(path string, args map[string]interface{}) (string, error) {
	target, _ := args["target"].(string)
	replacement, _ := args["replacement"].(string)
	if target == "" {
		return "", fmt.Errorf("text_edit str_replace: missing required argument %q", "target")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("text_edit str_replace: %w", err)
	}
	content := string(raw)

	count := strings.Count(content, target)
	if count != 1 {
		return "", fmt.Errorf("text_edit str_replace: target must match exactly once, found %d matches", count)
	}

	updated := strings.Replace(content, target, replacement, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return "", fmt.Errorf("text_edit str_replace: %w", err)
	}
	return "replaced 1 match", nil
}

func (t *TextEditTool) insert(path string, args map[string]interface{}) (string, error) {
	content, _ := args["content"].(string)
	lineArg, _ := args["line"].(float64)
	line := int(lineArg)

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("text_edit insert: %w", err)
	}
	lines := strings.Split(string(raw), "\n")
	if line < 0 {
		line = 0
	}
	if line > len(lines) {
		line = len(lines)
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:line]...)
	out = append(out, content)
	out = append(out, lines[line:]...)

	if err := os.WriteFile(path, []byte(strings.Join(out, "\n")), 0o644); err != nil {
		return "", fmt.Errorf("text_edit insert: %w", err)
	}
	return fmt.Sprintf("inserted at line %d", line), nil
}
