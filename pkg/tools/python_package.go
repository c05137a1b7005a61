package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// PythonPackageTool checks and installs python packages via pip,
// mirroring the check/install/check_and_install actions
// names.
type PythonPackageTool struct {
	root string
}

// NewPythonPackageTool constructs the python_package tool rooted at root.
func NewPythonPackageTool(root string) *PythonPackageTool { return &PythonPackageTool{root: root} }

func (t *PythonPackageTool) Name() string { return "python_package" }
func (t *PythonPackageTool) Description() string {
	return "Check or install python packages (actions: check, install, check_and_install)."
}

func (t *PythonPackageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action":   map[string]interface{}{"type": "string", "enum": []string{"check", "install", "check_and_install"}},
			"packages": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"upgrade":  map[string]interface{}{"type": "boolean"},
		},
		"required": []string{"action", "packages"},
	}
}

func (t *PythonPackageTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	action, _ := args["action"].(string)
	packages := toStringSlice(args["packages"])
	if len(packages) == 0 {
		return "", fmt.Errorf("python_package: missing required argument %q", "packages")
	}
	upgrade, _ := args["upgrade"].(bool)

	switch action {
	case "check":
		return t.check(ctx, packages)
	case "install":
		return t.install(ctx, packages, upgrade)
	case "check_and_install":
		result, err := t.check(ctx, packages)
		if err == nil && !strings.Contains(result, "missing:") {
			return result, nil
		}
		return t.install(ctx, packages, upgrade)
	default:
		return "", fmt.Errorf("python_package: unknown action %q", action)
	}
}

func (t *PythonPackageTool) check(ctx context.Context, packages []string) (string, error) {
	var missing []string
	for _, pkg := range packages {
		c := exec.CommandContext(ctx, "python3", "-c", fmt.Sprintf("import importlib.util,sys; sys.exit(0 if importlib.util.find_spec(%q) else 1)", pkg))
		c.Dir = t.root
		if err := c.Run(); err != nil {
			missing = append(missing, pkg)
		}
	}
	if len(missing) == 0 {
		return "all packages present", nil
	}
	return fmt.Sprintf("missing: %s", strings.Join(missing, ", ")), nil
}

func (t *PythonPackageTool) install(ctx context.Context, packages []string, upgrade bool) (string, error) {
	args := []string{"install"}
	if upgrade {
		args = append(args, "--upgrade")
	}
	args = append(args, packages...)

	c := exec.CommandContext(ctx, "pip", args...)
	c.Dir = t.root
	out, err := c.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("pip install failed: %w", err)
	}
	return string(out), nil
}

func toStringSlice(v interface{}) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []interface{}:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
