package executor

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/raworc/tsbx/ent"
	"github.com/raworc/tsbx/ent/task"
	"github.com/raworc/tsbx/pkg/queue"
)

// outputClip is the 8 KiB per-stream cap on captured stdout/stderr for
// sh/py/js tasks.
const outputClip = 8 * 1024

// runInterpreter runs a single code string directly against the
// sandbox filesystem: sh via a shell, py via python3, js via node.
// Steps are never populated for these task types.
func (e *Executor) runInterpreter(ctx context.Context, t *ent.Task) *queue.ExecutionResult {
	code, ok := firstItemContent(t.Input)
	if !ok {
		return &queue.ExecutionResult{
			Status: task.StatusFailed,
			Error:  fmt.Errorf("%s task has no code to run", t.TaskType),
		}
	}

	name, args, err := interpreterCommand(t.TaskType, code)
	if err != nil {
		return &queue.ExecutionResult{Status: task.StatusFailed, Error: err}
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.sandboxRoot

	var stdout, stderr clippedBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return &queue.ExecutionResult{Status: task.StatusFailed, Error: fmt.Errorf("failed to run %s task: %w", t.TaskType, runErr)}
		}
	}

	status := task.StatusCompleted
	summary := fmt.Sprintf("exit %d", exitCode)
	if exitCode != 0 {
		status = task.StatusFailed
	}

	items := []map[string]interface{}{
		{"type": "commentary", "content": summary},
	}
	if stdout.Len() > 0 {
		items = append(items, map[string]interface{}{"type": "stdout", "content": stdout.String()})
	}
	if stderr.Len() > 0 {
		items = append(items, map[string]interface{}{"type": "stderr", "content": stderr.String()})
	}
	items = append(items, map[string]interface{}{"type": "exit_code", "content": exitCode})

	return &queue.ExecutionResult{
		Status: status,
		Output: map[string]interface{}{"items": items},
	}
}

func interpreterCommand(tt task.TaskType, code string) (string, []string, error) {
	switch tt {
	case task.TaskTypeSh:
		return "sh", []string{"-c", code}, nil
	case task.TaskTypePy:
		return "python3", []string{"-c", code}, nil
	case task.TaskTypeJs:
		return "node", []string{"-e", code}, nil
	default:
		return "", nil, fmt.Errorf("no interpreter registered for task type %q", tt)
	}
}

// firstItemContent extracts the code string from input's first typed
// item (the "single code string" sh/py/js tasks carry), tolerating
// both {"items":[{"content":...}]} and a bare {"content":...} shape.
func firstItemContent(input map[string]interface{}) (string, bool) {
	if input == nil {
		return "", false
	}
	if content, ok := input["content"].(string); ok && content != "" {
		return content, true
	}
	items, _ := input["items"].([]interface{})
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if content, ok := item["content"].(string); ok && content != "" {
			return content, true
		}
	}
	return "", false
}

// clippedBuffer caps how many bytes it retains, matching the 8 KiB
// per-stream clip required for sh/py/js output.
type clippedBuffer struct {
	buf []byte
}

func (c *clippedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(c.buf) < outputClip {
		remaining := outputClip - len(c.buf)
		if remaining > len(p) {
			remaining = len(p)
		}
		c.buf = append(c.buf, p[:remaining]...)
	}
	return n, nil
}

func (c *clippedBuffer) Len() int      { return len(c.buf) }
func (c *clippedBuffer) String() string { return string(c.buf) }
