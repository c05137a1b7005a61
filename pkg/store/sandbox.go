package store

import (
	"context"
	"fmt"
	"time"

	"github.com/raworc/tsbx/ent"
	"github.com/raworc/tsbx/ent/sandbox"
)

// SandboxRecord is the input shape for InsertSandbox.
type SandboxRecord struct {
	Name               string
	CreatedBy          string
	Metadata           map[string]interface{}
	Tags               []string
	Description        *string
	Instructions       *string
	SetupScript        *string
	InitialPrompt      *string
	EnvSecrets         map[string]string
	IdleTimeoutSeconds int
	BusyTimeoutSeconds *int
	ParentSandbox      *string
}

// InsertSandbox creates a sandbox in the initializing state.
func (s *Store) InsertSandbox(ctx context.Context, rec SandboxRecord) (*ent.Sandbox, error) {
	create := s.client.Sandbox.Create().
		SetID(rec.Name).
		SetCreatedBy(rec.CreatedBy).
		SetState(sandbox.StateInitializing)

	if rec.Metadata != nil {
		create = create.SetMetadata(rec.Metadata)
	}
	if rec.Tags != nil {
		create = create.SetTags(rec.Tags)
	}
	if rec.Description != nil {
		create = create.SetDescription(*rec.Description)
	}
	if rec.Instructions != nil {
		create = create.SetInstructions(*rec.Instructions)
	}
	if rec.SetupScript != nil {
		create = create.SetSetupScript(*rec.SetupScript)
	}
	if rec.InitialPrompt != nil {
		create = create.SetInitialPrompt(*rec.InitialPrompt)
	}
	if rec.EnvSecrets != nil {
		create = create.SetEnvSecrets(rec.EnvSecrets)
	}
	if rec.IdleTimeoutSeconds > 0 {
		create = create.SetIdleTimeoutSeconds(rec.IdleTimeoutSeconds)
	}
	if rec.BusyTimeoutSeconds != nil {
		create = create.SetBusyTimeoutSeconds(*rec.BusyTimeoutSeconds)
	}
	if rec.ParentSandbox != nil {
		create = create.SetParentSandbox(*rec.ParentSandbox)
	}

	sb, err := create.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to insert sandbox: %w", err)
	}
	return sb, nil
}

// GetSandbox retrieves a sandbox by name.
func (s *Store) GetSandbox(ctx context.Context, name string) (*ent.Sandbox, error) {
	sb, err := s.client.Sandbox.Get(ctx, name)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sandbox: %w", err)
	}
	return sb, nil
}

// SandboxFilter narrows ListSandboxes.
type SandboxFilter struct {
	State     *sandbox.State
	CreatedBy string
	Limit     int
	Offset    int
}

// ListSandboxes lists sandboxes matching filter, newest first.
func (s *Store) ListSandboxes(ctx context.Context, filter SandboxFilter) ([]*ent.Sandbox, int, error) {
	query := s.client.Sandbox.Query()
	if filter.State != nil {
		query = query.Where(sandbox.StateEQ(*filter.State))
	}
	if filter.CreatedBy != "" {
		query = query.Where(sandbox.CreatedByEQ(filter.CreatedBy))
	}

	total, err := query.Clone().Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count sandboxes: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	sandboxes, err := query.
		Limit(limit).
		Offset(filter.Offset).
		Order(ent.Desc(sandbox.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sandboxes: %w", err)
	}
	return sandboxes, total, nil
}

// CASSandboxState conditionally moves a sandbox from `from` to `to`,
// returning false (not an error) if the current state no longer matches
// `from` — the caller surfaces that as a retriable conflict. Maintains
// invariant 7: busy clears auto_close_at, idle re-arms it.
func (s *Store) CASSandboxState(ctx context.Context, name string, from, to sandbox.State, now time.Time, idleTimeoutSeconds int) (bool, error) {
	update := s.client.Sandbox.Update().
		Where(sandbox.IDEQ(name), sandbox.StateEQ(from)).
		SetState(to).
		SetLastActivityAt(now)

	switch to {
	case sandbox.StateBusy:
		update = update.ClearAutoCloseAt()
	case sandbox.StateIdle:
		update = update.SetAutoCloseAt(now.Add(time.Duration(idleTimeoutSeconds) * time.Second))
	case sandbox.StateTerminating, sandbox.StateTerminated:
		update = update.ClearAutoCloseAt()
	}

	count, err := update.Save(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to cas sandbox state: %w", err)
	}
	return count == 1, nil
}

// ListSweepableSandboxes returns idle sandboxes whose auto_close_at has
// elapsed, the set the timeout sweeper drives through CASSandboxState.
func (s *Store) ListSweepableSandboxes(ctx context.Context, now time.Time) ([]*ent.Sandbox, error) {
	sandboxes, err := s.client.Sandbox.Query().
		Where(
			sandbox.StateEQ(sandbox.StateIdle),
			sandbox.AutoCloseAtNotNil(),
			sandbox.AutoCloseAtLTE(now),
		).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sweepable sandboxes: %w", err)
	}
	return sandboxes, nil
}

// SetSandboxRuntimeHandle merges the runtime collaborator's opaque
// handle fields into metadata, so any orchestrator process (not just
// the one that created the container) can recover it after a restart
// instead of relying on in-memory state.
func (s *Store) SetSandboxRuntimeHandle(ctx context.Context, name, containerID, volumeName string) error {
	sb, err := s.client.Sandbox.Get(ctx, name)
	if err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get sandbox: %w", err)
	}

	meta := make(map[string]interface{}, len(sb.Metadata)+1)
	for k, v := range sb.Metadata {
		meta[k] = v
	}
	meta["_runtime_handle"] = map[string]interface{}{
		"container_id": containerID,
		"volume_name":  volumeName,
	}

	_, err = sb.Update().SetMetadata(meta).Save(ctx)
	if err != nil {
		return fmt.Errorf("failed to set runtime handle: %w", err)
	}
	return nil
}

// DeleteSandbox removes a sandbox row (terminal cleanup only; normal
// teardown goes through CASSandboxState into `terminated`).
func (s *Store) DeleteSandbox(ctx context.Context, name string) error {
	err := s.client.Sandbox.DeleteOneID(name).Exec(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete sandbox: %w", err)
	}
	return nil
}
