package queue

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
	"github.com/raworc/tsbx/ent/task"
	"github.com/raworc/tsbx/pkg/store"
)

// newTestStore mirrors pkg/store's own test helper (duplicated to avoid
// a test-only import cycle between queue and store's _test.go files).
func newTestStore(t *testing.T) *store.Store {
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

	return store.New(entClient)
}

// fakeExecutor completes every task it's handed with a fixed result,
// recording each task it saw for assertions.
type fakeExecutor struct {
	seen  chan string
	delay time.Duration
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{seen: make(chan string, 16)}
}

func (f *fakeExecutor) Execute(ctx context.Context, t *ent.Task) *ExecutionResult {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.seen <- t.ID
	return &ExecutionResult{Status: task.StatusCompleted, Output: map[string]interface{}{"ok": true}}
}

func fastTestConfig() *Config {
	cfg := DefaultConfig()
	cfg.WorkerCount = 1
	cfg.PollInterval = 20 * time.Millisecond
	cfg.PollIntervalJitter = 0
	cfg.HeartbeatInterval = time.Minute
	cfg.TaskTimeout = 10 * time.Second
	return cfg
}

func TestDispatcherClaimsAndCompletesTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertSandbox(ctx, store.SandboxRecord{Name: "sbx-dispatch", CreatedBy: "tester"})
	require.NoError(t, err)

	enqueued, err := s.EnqueueTask(ctx, store.TaskRecord{SandboxName: "sbx-dispatch", TaskType: task.TaskTypeSh, CreatedBy: "tester"})
	require.NoError(t, err)

	exec := newFakeExecutor()
	d := NewDispatcher("test-dispatcher", s, fastTestConfig(), store.TaskClaimFilter{SandboxName: "sbx-dispatch"}, exec)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.Start(runCtx)
	defer d.Stop()

	select {
	case id := <-exec.seen:
		assert.Equal(t, enqueued.ID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher never claimed the enqueued task")
	}

	require.Eventually(t, func() bool {
		got, err := s.GetTask(ctx, enqueued.ID)
		return err == nil && got.Status == task.StatusCompleted
	}, 5*time.Second, 50*time.Millisecond)
}

func TestDispatcherHealthReportsQueueDepth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertSandbox(ctx, store.SandboxRecord{Name: "sbx-health", CreatedBy: "tester"})
	require.NoError(t, err)
	_, err = s.EnqueueTask(ctx, store.TaskRecord{SandboxName: "sbx-health", TaskType: task.TaskTypeSh, CreatedBy: "tester"})
	require.NoError(t, err)

	exec := newFakeExecutor()
	exec.delay = time.Second // keep the task pending long enough to observe queue depth
	cfg := fastTestConfig()
	d := NewDispatcher("health-dispatcher", s, cfg, store.TaskClaimFilter{SandboxName: "sbx-health"}, exec)

	health := d.Health(ctx)
	assert.Equal(t, 0, health.TotalWorkers) // not started yet
	assert.True(t, health.StoreReachable)
	assert.Equal(t, 1, health.QueueDepth)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.Start(runCtx)
	defer d.Stop()

	require.Eventually(t, func() bool {
		return d.Health(ctx).TotalWorkers == cfg.WorkerCount
	}, 2*time.Second, 20*time.Millisecond)
}

func TestDispatcherStopIsIdempotentAndGraceful(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec := newFakeExecutor()
	d := NewDispatcher("stop-dispatcher", s, fastTestConfig(), store.TaskClaimFilter{SandboxName: "sbx-none"}, exec)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.Start(runCtx)
	d.Stop()
	// A second Stop must not panic or block (sync.Once guards stopCh).
	d.Stop()
}
