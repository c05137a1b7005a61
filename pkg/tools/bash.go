package tools

import (
	"context"
	"fmt"
	"os/exec"
)

// bashOutputCap is the 200 KiB output cap enforced for the
// bash tool (distinct from the 8 KiB clip used for sh/py/js tasks).
const bashOutputCap = 200 * 1024

// BashTool runs a shell command under /sandbox (or sandboxRoot).
type BashTool struct {
	root string
}

// NewBashTool constructs the bash tool rooted at root.
func NewBashTool(root string) *BashTool { return &BashTool{root: root} }

func (t *BashTool) Name() string        { return "bash" }
func (t *BashTool) Description() string { return "Run a shell command in the sandbox working directory." }

func (t *BashTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"cmd": map[string]interface{}{"type": "string", "description": "The shell command to run."},
		},
		"required": []string{"cmd"},
	}
}

func (t *BashTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	cmd, _ := args["cmd"].(string)
	if cmd == "" {
		return "", fmt.Errorf("bash: missing required argument %q", "cmd")
	}

	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	c.Dir = t.root

	out, err := c.CombinedOutput()
	if len(out) > bashOutputCap {
		out = out[:bashOutputCap]
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return string(out), fmt.Errorf("command exited %d: %s", exitErr.ExitCode(), string(out))
		}
		return string(out), fmt.Errorf("failed to run command: %w", err)
	}
	return string(out), nil
}
