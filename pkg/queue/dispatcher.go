package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/raworc/tsbx/ent/task"
	"github.com/raworc/tsbx/pkg/store"
)

// Dispatcher manages a pool of workers claiming against one
// store.TaskClaimFilter. The orchestrator process runs a Dispatcher
// scoped to D-eligible task types with no SandboxName; each in-sandbox
// executor runs a Dispatcher scoped to its own SandboxName.
type Dispatcher struct {
	id       string
	store    *store.Store
	config   *Config
	executor Executor
	filter   store.TaskClaimFilter
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	activeTasks map[string]context.CancelFunc
	mu          sync.RWMutex
	started     bool

	reaper reapState
}

// NewDispatcher constructs a Dispatcher. id identifies this process
// (pod/container name) for task.worker_id attribution.
func NewDispatcher(id string, s *store.Store, cfg *Config, filter store.TaskClaimFilter, executor Executor) *Dispatcher {
	return &Dispatcher{
		id:          id,
		store:       s,
		config:      cfg,
		executor:    executor,
		filter:      filter,
		workers:     make([]*Worker, 0, cfg.WorkerCount),
		stopCh:      make(chan struct{}),
		activeTasks: make(map[string]context.CancelFunc),
	}
}

// Start spawns worker goroutines and the lease-reaper background task.
// Safe to call multiple times; later calls are no-ops.
func (d *Dispatcher) Start(ctx context.Context) {
	if d.started {
		slog.Warn("dispatcher already started, ignoring duplicate Start call", "id", d.id)
		return
	}
	d.started = true

	slog.Info("starting dispatcher", "id", d.id, "worker_count", d.config.WorkerCount)

	for i := 0; i < d.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", d.id, i)
		w := newWorker(workerID, d.store, d.config, d.filter, d.executor, d)
		d.workers = append(d.workers, w)
		w.start(ctx)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runLeaseReaper(ctx)
	}()
}

// Stop signals all workers to stop and waits for them to finish their
// current task (graceful shutdown).
func (d *Dispatcher) Stop() {
	slog.Info("stopping dispatcher", "id", d.id)

	for _, w := range d.workers {
		w.stop()
	}

	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()

	slog.Info("dispatcher stopped", "id", d.id)
}

// ActiveTaskCount returns the number of tasks currently in flight on
// this process, the backpressure signal workers check before claiming.
func (d *Dispatcher) ActiveTaskCount() int {
	return d.activeTaskCount()
}

// RegisterTask stores a cancel function so CancelTask can stop an
// in-flight task on this process.
func (d *Dispatcher) RegisterTask(taskID string, cancel context.CancelFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activeTasks[taskID] = cancel
}

// UnregisterTask removes the cancel function once processing ends.
func (d *Dispatcher) UnregisterTask(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.activeTasks, taskID)
}

// CancelTask triggers context cancellation for a task if it is running
// on this process. Returns true if found here.
func (d *Dispatcher) CancelTask(taskID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if cancel, ok := d.activeTasks[taskID]; ok {
		cancel()
		return true
	}
	return false
}

// Health reports the dispatcher's current status.
func (d *Dispatcher) Health(ctx context.Context) *PoolHealth {
	queueFilter := store.TaskFilter{SandboxName: d.filter.SandboxName}
	pending := task.StatusPending
	queueFilter.Status = &pending
	queueDepth, errQ := d.store.CountTasks(ctx, queueFilter)
	if errQ != nil {
		slog.Error("failed to query queue depth for health check", "id", d.id, "error", errQ)
	}

	active := d.activeTaskCount()

	workerStats := make([]WorkerHealth, len(d.workers))
	activeWorkers := 0
	for i, w := range d.workers {
		stats := w.health()
		workerStats[i] = stats
		if stats.Status == string(workerStatusWorking) {
			activeWorkers++
		}
	}

	storeHealthy := errQ == nil
	isHealthy := len(d.workers) > 0 && active <= d.config.MaxConcurrentTasks && storeHealthy

	var storeError string
	if !storeHealthy {
		storeError = fmt.Sprintf("queue depth query failed: %v", errQ)
	}

	d.reaper.mu.Lock()
	lastScan := d.reaper.lastScan
	totalReaped := d.reaper.totalReaped
	d.reaper.mu.Unlock()

	return &PoolHealth{
		IsHealthy:      isHealthy,
		StoreReachable: storeHealthy,
		StoreError:     storeError,
		WorkerID:       d.id,
		ActiveWorkers:  activeWorkers,
		TotalWorkers:   len(d.workers),
		ActiveTasks:    active,
		MaxConcurrent:  d.config.MaxConcurrentTasks,
		QueueDepth:     queueDepth,
		WorkerStats:    workerStats,
		LastReapScan:   lastScan,
		LeasesReaped:   totalReaped,
	}
}

func (d *Dispatcher) activeTaskCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.activeTasks)
}
