package queue

import "time"

// Config controls how a Dispatcher's workers poll, claim, and process
// tasks, and how its lease reaper runs.
type Config struct {
	// WorkerCount is the number of goroutine workers per dispatcher
	// process. Each worker independently polls and claims tasks.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentTasks bounds in-flight tasks across all workers in
	// this process — the backpressure knob named in spec §4.4 ("D
	// limits in-flight container operations per worker").
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// PollInterval is the base interval between empty-claim retries.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter randomizes PollInterval by ± this amount so
	// concurrent workers don't all wake in lockstep.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// TaskTimeout bounds how long a single task may run before its
	// context is cancelled.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// GracefulShutdownTimeout bounds how long Stop waits for active
	// tasks to finish before returning anyway.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// HeartbeatInterval is how often a worker refreshes its claimed
	// task's lease while still processing it.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// LeaseReapInterval is how often the dispatcher scans for expired
	// leases.
	LeaseReapInterval time.Duration `yaml:"lease_reap_interval"`

	// MaxLeaseSecs is the visibility timeout: a processing task whose
	// worker has gone silent this long is requeued. Named to match the
	// external contract (max_lease_secs).
	MaxLeaseSecs time.Duration `yaml:"max_lease_secs"`
}

// DefaultConfig returns the built-in queue defaults.
func DefaultConfig() *Config {
	return &Config{
		WorkerCount:             5,
		MaxConcurrentTasks:      5,
		PollInterval:            2 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		TaskTimeout:             15 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
		HeartbeatInterval:       30 * time.Second,
		LeaseReapInterval:       30 * time.Second,
		MaxLeaseSecs:            2 * time.Minute,
	}
}
