package sandbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	entsandbox "github.com/raworc/tsbx/ent/sandbox"
)

const defaultSweepInterval = 10 * time.Second

// SweeperConfig configures the idle-timeout sweeper.
type SweeperConfig struct {
	// Interval between sweeps. Bounded 5-15s per the timeout contract;
	// DefaultSweepInterval is used if zero.
	Interval time.Duration
}

// sweepState tracks sweep metrics (thread-safe, mirrors the same
// pattern used by the task queue's lease reaper).
type sweepState struct {
	mu           sync.Mutex
	lastSweep    time.Time
	lastSwept    int
	totalSwept   int
}

// Sweeper periodically transitions idle sandboxes past their
// auto_close_at deadline into terminating. It uses the same CAS
// primitive as explicit transitions — the state machine guarantees a
// sandbox that raced into busy in the meantime simply loses the CAS and
// is left alone.
type Sweeper struct {
	manager *Manager
	config  SweeperConfig
	state   sweepState
	stopCh  chan struct{}
	once    sync.Once
}

// NewSweeper constructs a Sweeper bound to manager.
func NewSweeper(manager *Manager, config SweeperConfig) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = defaultSweepInterval
	}
	return &Sweeper{
		manager: manager,
		config:  config,
		stopCh:  make(chan struct{}),
	}
}

// Run blocks, sweeping on a ticker until ctx is cancelled or Stop is
// called.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.stopCh:
			return
		case <-ticker.C:
			if err := sw.sweepOnce(ctx); err != nil {
				slog.Error("sandbox sweep failed", "error", err)
			}
		}
	}
}

// Stop halts the sweeper; safe to call multiple times.
func (sw *Sweeper) Stop() {
	sw.once.Do(func() { close(sw.stopCh) })
}

func (sw *Sweeper) sweepOnce(ctx context.Context) error {
	now := time.Now()
	sandboxes, err := sw.manager.store.ListSweepableSandboxes(ctx, now)
	if err != nil {
		return err
	}

	swept := 0
	for _, sb := range sandboxes {
		ok, err := sw.manager.store.CASSandboxState(ctx, sb.ID, entsandbox.StateIdle, entsandbox.StateTerminating, now, sb.IdleTimeoutSeconds)
		if err != nil {
			slog.Error("sandbox sweep CAS failed", "sandbox", sb.ID, "error", err)
			continue
		}
		if ok {
			swept++
			slog.Info("sandbox idle timeout elapsed", "sandbox", sb.ID, "auto_close_at", sb.AutoCloseAt)
		}
		// ok == false means something else (mark_busy, explicit
		// terminate) raced ahead of the sweeper; nothing to do.
	}

	sw.state.mu.Lock()
	sw.state.lastSweep = now
	sw.state.lastSwept = swept
	sw.state.totalSwept += swept
	sw.state.mu.Unlock()

	return nil
}

// Health reports sweeper metrics for observability endpoints.
type Health struct {
	LastSweep  time.Time
	LastSwept  int
	TotalSwept int
}

// Health returns a snapshot of sweep metrics.
func (sw *Sweeper) Health() Health {
	sw.state.mu.Lock()
	defer sw.state.mu.Unlock()
	return Health{
		LastSweep:  sw.state.lastSweep,
		LastSwept:  sw.state.lastSwept,
		TotalSwept: sw.state.totalSwept,
	}
}
