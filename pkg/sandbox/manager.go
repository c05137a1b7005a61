package sandbox

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/raworc/tsbx/ent"
	entsandbox "github.com/raworc/tsbx/ent/sandbox"
	"github.com/raworc/tsbx/ent/task"
	"github.com/raworc/tsbx/pkg/store"
)

// nameRE enforces the URL-safe sandbox-name requirement: lowercase
// alphanumerics and hyphens, must start and end with an alphanumeric.
var nameRE = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

const defaultIdleTimeoutSeconds = 300

// nonEmpty converts a possibly-empty request string to the *string
// SandboxRecord expects, so an absent field stays absent in storage
// rather than becoming an empty string.
func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Manager owns sandbox records: it validates every state transition
// against the state machine and is the only component allowed to call
// store.CASSandboxState.
type Manager struct {
	store *store.Store
}

// New constructs a Manager over the given state store.
func New(s *store.Store) *Manager {
	return &Manager{store: s}
}

// CreateSandboxRequest is the input shape for CreateSandbox.
type CreateSandboxRequest struct {
	Name               string
	CreatedBy          string
	Metadata           map[string]interface{}
	Tags               []string
	Description        string
	Instructions       string
	SetupScript        string
	InitialPrompt      string
	EnvSecrets         map[string]string
	IdleTimeoutSeconds int
	BusyTimeoutSeconds *int
}

// CreateSandbox inserts a sandbox in initializing state and enqueues the
// create_sandbox task that drives the orchestrator worker (D).
func (m *Manager) CreateSandbox(ctx context.Context, req CreateSandboxRequest) (*ent.Sandbox, error) {
	if req.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if !nameRE.MatchString(req.Name) {
		return nil, fmt.Errorf("%w: name must be URL-safe", ErrBadRequest)
	}
	if req.CreatedBy == "" {
		return nil, NewValidationError("created_by", "required")
	}

	idleTimeout := req.IdleTimeoutSeconds
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeoutSeconds
	}
	if idleTimeout < 10 {
		return nil, NewValidationError("idle_timeout_seconds", "must be >= 10")
	}

	sb, err := m.store.InsertSandbox(ctx, store.SandboxRecord{
		Name:               req.Name,
		CreatedBy:          req.CreatedBy,
		Metadata:           req.Metadata,
		Tags:               req.Tags,
		Description:        nonEmpty(req.Description),
		Instructions:       nonEmpty(req.Instructions),
		SetupScript:        nonEmpty(req.SetupScript),
		InitialPrompt:      nonEmpty(req.InitialPrompt),
		EnvSecrets:         req.EnvSecrets,
		IdleTimeoutSeconds: idleTimeout,
		BusyTimeoutSeconds: req.BusyTimeoutSeconds,
	})
	if err != nil {
		if err == store.ErrConflict {
			return nil, ErrConflict
		}
		return nil, err
	}

	_, err = m.store.EnqueueTask(ctx, store.TaskRecord{
		SandboxName: sb.ID,
		TaskType:    task.TaskTypeCreateSandbox,
		CreatedBy:   req.CreatedBy,
		Input: map[string]interface{}{
			"setup_script":   req.SetupScript,
			"initial_prompt": req.InitialPrompt,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue create_sandbox task: %w", err)
	}

	return sb, nil
}

// GetSandbox retrieves a sandbox by name.
func (m *Manager) GetSandbox(ctx context.Context, name string) (*ent.Sandbox, error) {
	sb, err := m.store.GetSandbox(ctx, name)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sb, nil
}

// ListSandboxes lists sandboxes matching filter.
func (m *Manager) ListSandboxes(ctx context.Context, filter store.SandboxFilter) ([]*ent.Sandbox, int, error) {
	return m.store.ListSandboxes(ctx, filter)
}

// UpdateSandboxState performs a validated CAS transition from the
// sandbox's current persisted state to target. The caller does not
// supply "from" — it is read fresh so a retry always observes the
// latest state rather than racing blind.
func (m *Manager) UpdateSandboxState(ctx context.Context, name string, target entsandbox.State) error {
	sb, err := m.store.GetSandbox(ctx, name)
	if err != nil {
		if err == store.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	if !isLegalTransition(sb.State, target) {
		return fmt.Errorf("%w: %s -> %s is not a legal transition", ErrConflict, sb.State, target)
	}

	ok, err := m.store.CASSandboxState(ctx, name, sb.State, target, time.Now(), sb.IdleTimeoutSeconds)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// MarkBusy transitions idle->busy, clearing auto_close_at. Idempotent
// if the sandbox is already busy.
func (m *Manager) MarkBusy(ctx context.Context, name string) error {
	sb, err := m.store.GetSandbox(ctx, name)
	if err != nil {
		if err == store.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	if sb.State == entsandbox.StateBusy {
		return nil
	}
	if sb.State == entsandbox.StateTerminating || sb.State == entsandbox.StateTerminated {
		return ErrConflict
	}

	ok, err := m.store.CASSandboxState(ctx, name, sb.State, entsandbox.StateBusy, time.Now(), sb.IdleTimeoutSeconds)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// MarkIdle transitions busy->idle (or initializing->idle, the
// orchestrator's "first heartbeat" signal), arming auto_close_at.
// Idempotent if already idle.
func (m *Manager) MarkIdle(ctx context.Context, name string) error {
	sb, err := m.store.GetSandbox(ctx, name)
	if err != nil {
		if err == store.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	if sb.State == entsandbox.StateIdle {
		return nil
	}
	if sb.State == entsandbox.StateTerminating || sb.State == entsandbox.StateTerminated {
		return ErrConflict
	}

	ok, err := m.store.CASSandboxState(ctx, name, sb.State, entsandbox.StateIdle, time.Now(), sb.IdleTimeoutSeconds)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// Terminate transitions any non-terminal state to terminating, the
// signal the orchestrator worker reaps on.
func (m *Manager) Terminate(ctx context.Context, name string) error {
	sb, err := m.store.GetSandbox(ctx, name)
	if err != nil {
		if err == store.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	if sb.State == entsandbox.StateTerminating || sb.State == entsandbox.StateTerminated {
		return nil
	}

	ok, err := m.store.CASSandboxState(ctx, name, sb.State, entsandbox.StateTerminating, time.Now(), sb.IdleTimeoutSeconds)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}

	_, err = m.store.EnqueueTask(ctx, store.TaskRecord{
		SandboxName: name,
		TaskType:    task.TaskTypeTerminate,
		CreatedBy:   sb.CreatedBy,
	})
	if err != nil && err != store.ErrConflict {
		return fmt.Errorf("failed to enqueue terminate task: %w", err)
	}
	return nil
}

// RemixRequest is the input shape for Remix.
type RemixRequest struct {
	ParentName  string
	NewName     string
	CreatedBy   string
	CopySecrets bool
}

// Remix creates a new sandbox lineaged off an existing one. The new
// sandbox starts in initializing exactly like CreateSandbox; D realizes
// it from a restore_session task rather than create_sandbox, so the
// runtime collaborator knows to reconstruct from the parent's preserved
// volume.
func (m *Manager) Remix(ctx context.Context, req RemixRequest) (*ent.Sandbox, error) {
	parent, err := m.store.GetSandbox(ctx, req.ParentName)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if req.NewName == "" {
		return nil, NewValidationError("name", "required")
	}
	if !nameRE.MatchString(req.NewName) {
		return nil, fmt.Errorf("%w: name must be URL-safe", ErrBadRequest)
	}

	rec := store.SandboxRecord{
		Name:               req.NewName,
		CreatedBy:          req.CreatedBy,
		Description:        parent.Description,
		Instructions:       parent.Instructions,
		SetupScript:        parent.SetupScript,
		InitialPrompt:      parent.InitialPrompt,
		IdleTimeoutSeconds: parent.IdleTimeoutSeconds,
		ParentSandbox:      &req.ParentName,
	}
	if req.CopySecrets {
		rec.EnvSecrets = parent.EnvSecrets
	}

	sb, err := m.store.InsertSandbox(ctx, rec)
	if err != nil {
		if err == store.ErrConflict {
			return nil, ErrConflict
		}
		return nil, err
	}

	_, err = m.store.EnqueueTask(ctx, store.TaskRecord{
		SandboxName: sb.ID,
		TaskType:    task.TaskTypeRestoreSession,
		CreatedBy:   req.CreatedBy,
		Input: map[string]interface{}{
			"parent_sandbox": req.ParentName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue restore_session task: %w", err)
	}

	return sb, nil
}
