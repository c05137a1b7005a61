package store

import (
	"context"
	"fmt"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/raworc/tsbx/ent"
	"github.com/raworc/tsbx/ent/sandbox"
	"github.com/raworc/tsbx/ent/task"
)

// TaskRecord is the input shape for EnqueueTask.
type TaskRecord struct {
	SandboxName string
	TaskType    task.TaskType
	Input       map[string]interface{}
	CreatedBy   string
	ResponseID  *string
}

// EnqueueTask inserts a task in pending state against sandbox_name,
// rejecting with ErrConflict if the sandbox is terminated or if
// ResponseID collides with an existing task (duplicate create_response).
func (s *Store) EnqueueTask(ctx context.Context, rec TaskRecord) (*ent.Task, error) {
	sb, err := s.GetSandbox(ctx, rec.SandboxName)
	if err != nil {
		return nil, err
	}
	if sb.State == sandbox.StateTerminated {
		return nil, ErrConflict
	}

	create := s.client.Task.Create().
		SetID(uuid.New().String()).
		SetSandboxName(rec.SandboxName).
		SetTaskType(rec.TaskType).
		SetStatus(task.StatusPending).
		SetCreatedBy(rec.CreatedBy)

	if rec.Input != nil {
		create = create.SetInput(rec.Input)
	}
	if rec.ResponseID != nil {
		create = create.SetResponseID(*rec.ResponseID)
	}

	t, err := create.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return t, nil
}

// TaskClaimFilter narrows ClaimNextTask. Leave SandboxName empty for a
// cross-sandbox claim scoped to TaskTypes (the orchestrator's pattern);
// set SandboxName for a self-scoped claim (the in-sandbox executor's
// pattern), in which case TaskTypes is typically the sh/py/js/nl set.
type TaskClaimFilter struct {
	SandboxName string
	TaskTypes   []task.TaskType
}

// ClaimNextTask atomically claims the oldest eligible pending/queued
// task via SELECT ... FOR UPDATE SKIP LOCKED, then marks it processing.
// Returns ErrNoTask if nothing is eligible, or if the claim lost a race
// against invariant 4 (at most one processing task per sandbox) — the
// caller should simply poll again.
func (s *Store) ClaimNextTask(ctx context.Context, filter TaskClaimFilter, workerID string, now time.Time) (*ent.Task, error) {
	tx, err := s.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := tx.Task.Query().
		Where(task.StatusIn(task.StatusPending, task.StatusQueued))
	if filter.SandboxName != "" {
		q = q.Where(task.SandboxNameEQ(filter.SandboxName))
	}
	if len(filter.TaskTypes) > 0 {
		q = q.Where(task.TaskTypeIn(filter.TaskTypes...))
	}

	t, err := q.
		Order(ent.Asc(task.FieldCreatedAt)).
		Limit(1).
		ForUpdate(sql.WithLockAction(sql.SkipLocked)).
		First(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNoTask
		}
		return nil, fmt.Errorf("failed to query claimable task: %w", err)
	}

	t, err = t.Update().
		SetStatus(task.StatusProcessing).
		SetWorkerID(workerID).
		SetStartedAt(now).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			// lost the race for "one processing task per sandbox"
			return nil, ErrNoTask
		}
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return t, nil
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*ent.Task, error) {
	t, err := s.client.Task.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	SandboxName string
	Status      *task.Status
	Limit       int
	Offset      int
}

// ListTasks lists tasks for a sandbox (or matching filter), newest first.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*ent.Task, int, error) {
	query := s.client.Task.Query()
	if filter.SandboxName != "" {
		query = query.Where(task.SandboxNameEQ(filter.SandboxName))
	}
	if filter.Status != nil {
		query = query.Where(task.StatusEQ(*filter.Status))
	}

	total, err := query.Clone().Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	tasks, err := query.
		Limit(limit).
		Offset(filter.Offset).
		Order(ent.Desc(task.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, total, nil
}

// CountTasks counts tasks matching filter without paginating.
func (s *Store) CountTasks(ctx context.Context, filter TaskFilter) (int, error) {
	query := s.client.Task.Query()
	if filter.SandboxName != "" {
		query = query.Where(task.SandboxNameEQ(filter.SandboxName))
	}
	if filter.Status != nil {
		query = query.Where(task.StatusEQ(*filter.Status))
	}
	count, err := query.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// TaskUpdate is the incremental shape workers post while a task runs.
// Output items are appended, never replaced; status transitions are
// validated by the caller (pkg/queue) before this is invoked.
type TaskUpdate struct {
	Status        *task.Status
	NewOutputItem map[string]interface{}
	ContextLength *int
	ErrorMessage  *string
}

// UpdateTask applies an incremental progress update. Output is modeled
// as a JSON array stashed under the "items" key so appends don't clobber
// prior entries; FinishTask replaces the whole thing on terminal status.
func (s *Store) UpdateTask(ctx context.Context, id string, upd TaskUpdate) (*ent.Task, error) {
	t, err := s.client.Task.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	update := t.Update()
	if upd.Status != nil {
		update = update.SetStatus(*upd.Status)
	}
	if upd.ContextLength != nil {
		update = update.SetContextLength(*upd.ContextLength)
	}
	if upd.ErrorMessage != nil {
		update = update.SetError(*upd.ErrorMessage)
	}
	if upd.NewOutputItem != nil {
		update = update.SetOutput(appendItem(t.Output, upd.NewOutputItem))
	}

	t, err = update.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return t, nil
}

// FinishTask sets terminal fields atomically: status, final output,
// steps, and error. Called exactly once per task.
func (s *Store) FinishTask(ctx context.Context, id string, terminal task.Status, output map[string]interface{}, errMsg *string, now time.Time) (*ent.Task, error) {
	update := s.client.Task.UpdateOneID(id).
		SetStatus(terminal).
		SetCompletedAt(now)
	if output != nil {
		update = update.SetOutput(output)
	}
	if errMsg != nil {
		update = update.SetError(*errMsg)
	}

	t, err := update.Save(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to finish task: %w", err)
	}
	return t, nil
}

// CancelTask transitions a task from pending/queued to cancelled. It is
// a no-op conflict once the task has reached processing — cancellation
// of an in-flight task must go through the executor's own channel.
func (s *Store) CancelTask(ctx context.Context, id string) error {
	count, err := s.client.Task.Update().
		Where(task.IDEQ(id), task.StatusIn(task.StatusPending, task.StatusQueued)).
		SetStatus(task.StatusCancelled).
		SetCompletedAt(time.Now()).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	if count == 0 {
		return ErrConflict
	}
	return nil
}

// TouchTaskLease refreshes a processing task's started_at, the
// heartbeat mechanism that keeps ReapExpiredLeases from reclaiming a
// task whose worker is still alive and making progress.
func (s *Store) TouchTaskLease(ctx context.Context, id, workerID string, now time.Time) error {
	count, err := s.client.Task.Update().
		Where(task.IDEQ(id), task.StatusEQ(task.StatusProcessing), task.WorkerIDEQ(workerID)).
		SetStartedAt(now).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("failed to touch task lease: %w", err)
	}
	if count == 0 {
		return ErrConflict
	}
	return nil
}

// ReapExpiredLeases requeues processing tasks whose worker has gone
// silent for longer than maxLease, the visibility-timeout mechanism.
// CAS on worker_id+started_at guards against double-reap races.
func (s *Store) ReapExpiredLeases(ctx context.Context, maxLease time.Duration) (int, error) {
	threshold := time.Now().Add(-maxLease)

	expired, err := s.client.Task.Query().
		Where(
			task.StatusEQ(task.StatusProcessing),
			task.StartedAtNotNil(),
			task.StartedAtLT(threshold),
		).
		All(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to query expired leases: %w", err)
	}

	reaped := 0
	for _, t := range expired {
		count, err := s.client.Task.Update().
			Where(
				task.IDEQ(t.ID),
				task.StatusEQ(task.StatusProcessing),
				task.WorkerIDEQ(*t.WorkerID),
			).
			SetStatus(task.StatusQueued).
			ClearWorkerID().
			ClearStartedAt().
			Save(ctx)
		if err != nil {
			return reaped, fmt.Errorf("failed to reap task %s: %w", t.ID, err)
		}
		reaped += count
	}
	return reaped, nil
}

func appendItem(existing map[string]interface{}, item map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(existing)+1)
	for k, v := range existing {
		out[k] = v
	}
	items, _ := out["items"].([]interface{})
	out["items"] = append(items, item)
	return out
}
