package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/raworc/tsbx/ent/task"
	"github.com/raworc/tsbx/pkg/store"
)

// workerStatus represents the current state of a worker goroutine.
type workerStatus string

const (
	workerStatusIdle    workerStatus = "idle"
	workerStatusWorking workerStatus = "working"
)

// taskRegistry is the subset of Dispatcher a Worker needs for
// cancellation registration and backpressure.
type taskRegistry interface {
	RegisterTask(taskID string, cancel context.CancelFunc)
	UnregisterTask(taskID string)
	ActiveTaskCount() int
}

// Worker is a single queue worker: it polls for a claimable task,
// drives it to a terminal state via the configured Executor, and writes
// the result back through the store.
type Worker struct {
	id       string
	store    *store.Store
	config   *Config
	filter   store.TaskClaimFilter
	executor Executor
	registry taskRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu             sync.RWMutex
	status         workerStatus
	currentTaskID  string
	tasksProcessed int
	lastActivity   time.Time
}

func newWorker(id string, s *store.Store, cfg *Config, filter store.TaskClaimFilter, executor Executor, registry taskRegistry) *Worker {
	return &Worker{
		id:           id,
		store:        s,
		config:       cfg,
		filter:       filter,
		executor:     executor,
		registry:     registry,
		stopCh:       make(chan struct{}),
		status:       workerStatusIdle,
		lastActivity: time.Now(),
	}
}

func (w *Worker) start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

func (w *Worker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         string(w.status),
		CurrentTaskID:  w.currentTaskID,
		TasksProcessed: w.tasksProcessed,
		LastActivity:   w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoTaskAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing task", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims one task (if capacity allows) and runs it to
// completion.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	if w.registry.ActiveTaskCount() >= w.config.MaxConcurrentTasks {
		return ErrAtCapacity
	}

	t, err := w.store.ClaimNextTask(ctx, w.filter, w.id, time.Now())
	if err != nil {
		if errors.Is(err, store.ErrNoTask) {
			return ErrNoTaskAvailable
		}
		return fmt.Errorf("claiming task: %w", err)
	}

	log := slog.With("task_id", t.ID, "task_type", t.TaskType, "worker_id", w.id)
	log.Info("task claimed")

	w.setStatus(workerStatusWorking, t.ID)
	defer w.setStatus(workerStatusIdle, "")

	taskCtx, cancel := context.WithTimeout(ctx, w.config.TaskTimeout)
	defer cancel()

	w.registry.RegisterTask(t.ID, cancel)
	defer w.registry.UnregisterTask(t.ID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(taskCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, t.ID)

	result := w.executor.Execute(taskCtx, t)
	if result == nil {
		result = w.fallbackResult(taskCtx)
	} else if result.Status == "" {
		if fb := w.timeoutOrCancelResult(taskCtx); fb != nil {
			result = fb
		}
	}
	cancelHeartbeat()

	var errMsg *string
	if result.Error != nil {
		msg := result.Error.Error()
		errMsg = &msg
	}

	if _, err := w.store.FinishTask(context.Background(), t.ID, result.Status, result.Output, errMsg, time.Now()); err != nil {
		log.Error("failed to finish task", "error", err)
		return err
	}

	w.mu.Lock()
	w.tasksProcessed++
	w.mu.Unlock()

	log.Info("task processing complete", "status", result.Status)
	return nil
}

func (w *Worker) fallbackResult(ctx context.Context) *ExecutionResult {
	if fb := w.timeoutOrCancelResult(ctx); fb != nil {
		return fb
	}
	return &ExecutionResult{Status: task.StatusFailed, Error: fmt.Errorf("executor returned nil result")}
}

func (w *Worker) timeoutOrCancelResult(ctx context.Context) *ExecutionResult {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &ExecutionResult{Status: task.StatusFailed, Error: fmt.Errorf("task timed out after %v", w.config.TaskTimeout)}
	case errors.Is(ctx.Err(), context.Canceled):
		return &ExecutionResult{Status: task.StatusCancelled, Error: context.Canceled}
	default:
		return nil
	}
}

// runHeartbeat periodically refreshes the claimed task's lease so the
// dispatcher's reaper doesn't reclaim a task that's still progressing.
func (w *Worker) runHeartbeat(ctx context.Context, taskID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.TouchTaskLease(ctx, taskID, w.id, time.Now()); err != nil {
				slog.Warn("heartbeat update failed", "task_id", taskID, "error", err)
			}
		}
	}
}

// pollInterval returns the poll duration with jitter, so concurrent
// workers don't all retry in lockstep.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status workerStatus, taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentTaskID = taskID
	w.lastActivity = time.Now()
}
