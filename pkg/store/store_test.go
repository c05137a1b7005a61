package store

import (
	"context"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raworc/tsbx/ent"
	"github.com/raworc/tsbx/ent/sandbox"
	"github.com/raworc/tsbx/ent/task"
)

// newTestStore creates a Store backed by a real Postgres container
// (avoiding import cycle with pkg/database's own test helper).
func newTestStore(t *testing.T) *Store {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	drv, err := sql.Open(dialect.Postgres, connStr)
	require.NoError(t, err)

	entClient := ent.NewClient(ent.Driver(drv))
	require.NoError(t, entClient.Schema.Create(ctx))
	t.Cleanup(func() { entClient.Close() })

	return New(entClient)
}

func TestSandboxLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sb, err := s.InsertSandbox(ctx, SandboxRecord{
		Name:               "sbx-1",
		CreatedBy:          "tester",
		IdleTimeoutSeconds: 300,
	})
	require.NoError(t, err)
	assert.Equal(t, sandbox.StateInitializing, sb.State)

	_, err = s.InsertSandbox(ctx, SandboxRecord{Name: "sbx-1", CreatedBy: "tester"})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.GetSandbox(ctx, "sbx-1")
	require.NoError(t, err)
	assert.Equal(t, "sbx-1", got.ID)

	_, err = s.GetSandbox(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.CASSandboxState(ctx, "sbx-1", sandbox.StateInitializing, sandbox.StateIdle, time.Now(), 300)
	require.NoError(t, err)
	assert.True(t, ok)

	// Stale `from` no longer matches; CAS reports a conflict, not an error.
	ok, err = s.CASSandboxState(ctx, "sbx-1", sandbox.StateInitializing, sandbox.StateBusy, time.Now(), 300)
	require.NoError(t, err)
	assert.False(t, ok)

	sandboxes, total, err := s.ListSandboxes(ctx, SandboxFilter{CreatedBy: "tester"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, sandboxes, 1)

	require.NoError(t, s.SetSandboxRuntimeHandle(ctx, "sbx-1", "container-abc", "volume-abc"))
	got, err = s.GetSandbox(ctx, "sbx-1")
	require.NoError(t, err)
	handle, ok := got.Metadata["_runtime_handle"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "container-abc", handle["container_id"])

	require.NoError(t, s.DeleteSandbox(ctx, "sbx-1"))
	_, err = s.GetSandbox(ctx, "sbx-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweepableSandboxes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertSandbox(ctx, SandboxRecord{Name: "sbx-idle", CreatedBy: "tester", IdleTimeoutSeconds: 1})
	require.NoError(t, err)
	_, err = s.CASSandboxState(ctx, "sbx-idle", sandbox.StateInitializing, sandbox.StateIdle, time.Now().Add(-time.Hour), 1)
	require.NoError(t, err)

	sweepable, err := s.ListSweepableSandboxes(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, sweepable, 1)
	assert.Equal(t, "sbx-idle", sweepable[0].ID)
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertSandbox(ctx, SandboxRecord{Name: "sbx-task", CreatedBy: "tester"})
	require.NoError(t, err)

	_, err = s.EnqueueTask(ctx, TaskRecord{SandboxName: "does-not-exist", TaskType: task.TaskTypeSh, CreatedBy: "tester"})
	assert.ErrorIs(t, err, ErrNotFound)

	t1, err := s.EnqueueTask(ctx, TaskRecord{SandboxName: "sbx-task", TaskType: task.TaskTypeSh, CreatedBy: "tester"})
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, t1.Status)

	claimed, err := s.ClaimNextTask(ctx, TaskClaimFilter{SandboxName: "sbx-task"}, "worker-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, t1.ID, claimed.ID)
	assert.Equal(t, task.StatusProcessing, claimed.Status)

	_, err = s.ClaimNextTask(ctx, TaskClaimFilter{SandboxName: "sbx-task"}, "worker-2", time.Now())
	assert.ErrorIs(t, err, ErrNoTask)

	updated, err := s.UpdateTask(ctx, t1.ID, TaskUpdate{NewOutputItem: map[string]interface{}{"line": "hello"}})
	require.NoError(t, err)
	items, _ := updated.Output["items"].([]interface{})
	assert.Len(t, items, 1)

	require.NoError(t, s.TouchTaskLease(ctx, t1.ID, "worker-1", time.Now()))
	assert.ErrorIs(t, s.TouchTaskLease(ctx, t1.ID, "worker-wrong", time.Now()), ErrConflict)

	finished, err := s.FinishTask(ctx, t1.ID, task.StatusCompleted, map[string]interface{}{"items": []interface{}{"hello"}}, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, finished.Status)
	assert.NotNil(t, finished.CompletedAt)
}

func TestCancelTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertSandbox(ctx, SandboxRecord{Name: "sbx-cancel", CreatedBy: "tester"})
	require.NoError(t, err)

	t1, err := s.EnqueueTask(ctx, TaskRecord{SandboxName: "sbx-cancel", TaskType: task.TaskTypeSh, CreatedBy: "tester"})
	require.NoError(t, err)

	require.NoError(t, s.CancelTask(ctx, t1.ID))
	assert.ErrorIs(t, s.CancelTask(ctx, t1.ID), ErrConflict)

	got, err := s.GetTask(ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, got.Status)
}

func TestReapExpiredLeases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertSandbox(ctx, SandboxRecord{Name: "sbx-reap", CreatedBy: "tester"})
	require.NoError(t, err)

	t1, err := s.EnqueueTask(ctx, TaskRecord{SandboxName: "sbx-reap", TaskType: task.TaskTypeSh, CreatedBy: "tester"})
	require.NoError(t, err)

	_, err = s.ClaimNextTask(ctx, TaskClaimFilter{SandboxName: "sbx-reap"}, "worker-stale", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	reaped, err := s.ReapExpiredLeases(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	got, err := s.GetTask(ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, got.Status)
	assert.Nil(t, got.WorkerID)
}

func TestCountAndListTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertSandbox(ctx, SandboxRecord{Name: "sbx-list", CreatedBy: "tester"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.EnqueueTask(ctx, TaskRecord{SandboxName: "sbx-list", TaskType: task.TaskTypeSh, CreatedBy: "tester"})
		require.NoError(t, err)
	}

	count, err := s.CountTasks(ctx, TaskFilter{SandboxName: "sbx-list"})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	tasks, total, err := s.ListTasks(ctx, TaskFilter{SandboxName: "sbx-list", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, tasks, 2)
}
