// Package executor implements the in-sandbox executor (Component E):
// the process running inside each container that claims its own
// sandbox's tasks, runs sh/py/js directly against the local
// filesystem, and drives pkg/agent's inference loop for nl and
// create_response tasks.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/raworc/tsbx/ent"
	entsandbox "github.com/raworc/tsbx/ent/sandbox"
	"github.com/raworc/tsbx/ent/task"
	"github.com/raworc/tsbx/pkg/agent"
	"github.com/raworc/tsbx/pkg/queue"
	"github.com/raworc/tsbx/pkg/sandbox"
	"github.com/raworc/tsbx/pkg/store"
)

// EligibleTaskTypes is the task_type set this executor claims: every
// type except create_sandbox, restore_session, space_build, and
// terminate, which pkg/orchestrator owns.
var EligibleTaskTypes = []task.TaskType{
	task.TaskTypeSh,
	task.TaskTypePy,
	task.TaskTypeJs,
	task.TaskTypeNl,
	task.TaskTypeCreateResponse,
}

// sandboxDirs are created on startup, mirroring the layout the tool
// registry and the per-call audit log writer expect.
var sandboxDirs = []string{"bin", "logs"}

// Executor drives one sandbox's own task queue. It implements
// queue.Executor so it plugs straight into a queue.Dispatcher scoped
// to this sandbox's name.
type Executor struct {
	store       *store.Store
	sandboxMgr  *sandbox.Manager
	loop        *agent.Loop
	sandboxName string
	sandboxRoot string
	provider    string
	model       string
}

// New constructs an Executor for sandboxName, rooted at sandboxRoot
// (normally "/sandbox").
func New(s *store.Store, sandboxMgr *sandbox.Manager, loop *agent.Loop, sandboxName, sandboxRoot, provider, model string) *Executor {
	return &Executor{
		store:       s,
		sandboxMgr:  sandboxMgr,
		loop:        loop,
		sandboxName: sandboxName,
		sandboxRoot: sandboxRoot,
		provider:    provider,
		model:       model,
	}
}

// Startup runs the loop's one-time setup: ensure the sandbox's working
// directories exist, then arm the idle timer unless the sandbox is
// already busy or terminated. Called once before the Dispatcher starts
// claiming tasks.
func (e *Executor) Startup(ctx context.Context) error {
	for _, d := range sandboxDirs {
		path := e.sandboxRoot + "/" + d
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create sandbox directory %q: %w", path, err)
		}
	}

	sb, err := e.sandboxMgr.GetSandbox(ctx, e.sandboxName)
	if err != nil {
		return fmt.Errorf("failed to load sandbox record at startup: %w", err)
	}
	if sb.State == entsandbox.StateBusy || sb.State == entsandbox.StateTerminated || sb.State == entsandbox.StateTerminating {
		return nil
	}
	if err := e.sandboxMgr.MarkIdle(ctx, e.sandboxName); err != nil && err != sandbox.ErrConflict {
		return fmt.Errorf("failed to mark sandbox idle at startup: %w", err)
	}
	return nil
}

// Execute dispatches one claimed task by type.
func (e *Executor) Execute(ctx context.Context, t *ent.Task) *queue.ExecutionResult {
	log := slog.With("task_id", t.ID, "sandbox", t.SandboxName, "task_type", t.TaskType)

	if err := e.sandboxMgr.MarkBusy(ctx, e.sandboxName); err != nil && err != sandbox.ErrConflict {
		log.Warn("failed to mark sandbox busy before processing task", "error", err)
	}
	defer func() {
		if err := e.sandboxMgr.MarkIdle(ctx, e.sandboxName); err != nil && err != sandbox.ErrConflict {
			log.Warn("failed to mark sandbox idle after processing task", "error", err)
		}
	}()

	switch t.TaskType {
	case task.TaskTypeSh, task.TaskTypePy, task.TaskTypeJs:
		return e.runInterpreter(ctx, t)
	case task.TaskTypeNl:
		return e.runNL(ctx, t, "")
	case task.TaskTypeCreateResponse:
		return e.runCreateResponse(ctx, t)
	default:
		err := fmt.Errorf("in-sandbox executor cannot handle task type %q", t.TaskType)
		log.Error("unsupported task type claimed", "error", err)
		return &queue.ExecutionResult{Status: task.StatusFailed, Error: err}
	}
}
