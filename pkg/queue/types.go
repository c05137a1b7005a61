// Package queue implements the durable FIFO-per-sandbox task queue and
// the worker pools (orchestrator and in-sandbox executor) that claim and
// execute tasks exactly-once against it.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/raworc/tsbx/ent"
	"github.com/raworc/tsbx/ent/task"
)

// Sentinel errors for queue operations.
var (
	// ErrNoTaskAvailable indicates no claimable task exists for this
	// worker's filter right now.
	ErrNoTaskAvailable = errors.New("no task available")

	// ErrAtCapacity indicates the worker's concurrent-task limit has
	// been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// Executor processes one claimed task to a terminal state. The executor
// owns the task's entire lifecycle once claimed: it writes incremental
// progress directly to the store (output items, steps) and returns only
// the terminal result; the worker handles claiming, lease heartbeat, and
// the final status write.
type Executor interface {
	Execute(ctx context.Context, t *ent.Task) *ExecutionResult
}

// ExecutionResult is the terminal outcome of one task execution. All
// intermediate output was already written to the store during
// processing.
type ExecutionResult struct {
	Status task.Status
	Output map[string]interface{}
	Error  error
}

// PoolHealth reports aggregate health for a dispatcher's worker pool.
type PoolHealth struct {
	IsHealthy      bool           `json:"is_healthy"`
	StoreReachable bool           `json:"store_reachable"`
	StoreError     string         `json:"store_error,omitempty"`
	WorkerID       string         `json:"worker_id"`
	ActiveWorkers  int            `json:"active_workers"`
	TotalWorkers   int            `json:"total_workers"`
	ActiveTasks    int            `json:"active_tasks"`
	MaxConcurrent  int            `json:"max_concurrent"`
	QueueDepth     int            `json:"queue_depth"`
	WorkerStats    []WorkerHealth `json:"worker_stats"`
	LastReapScan   time.Time      `json:"last_reap_scan"`
	LeasesReaped   int            `json:"leases_reaped"`
}

// WorkerHealth reports health for a single goroutine worker.
type WorkerHealth struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"`
	CurrentTaskID   string    `json:"current_task_id,omitempty"`
	TasksProcessed  int       `json:"tasks_processed"`
	LastActivity    time.Time `json:"last_activity"`
}
