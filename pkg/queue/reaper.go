package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// reapState tracks lease-reap metrics (thread-safe).
type reapState struct {
	mu          sync.Mutex
	lastScan    time.Time
	lastReaped  int
	totalReaped int
}

// runLeaseReaper periodically reclaims tasks whose worker has gone
// silent for longer than MaxLeaseSecs, the visibility-timeout mechanism
// from spec §4.3. All dispatcher processes run this independently —
// store.ReapExpiredLeases is idempotent and CAS-guarded.
func (d *Dispatcher) runLeaseReaper(ctx context.Context) {
	ticker := time.NewTicker(d.config.LeaseReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			reaped, err := d.store.ReapExpiredLeases(ctx, d.config.MaxLeaseSecs)
			if err != nil {
				slog.Error("lease reap failed", "id", d.id, "error", err)
				continue
			}
			if reaped > 0 {
				slog.Warn("reaped expired task leases", "id", d.id, "count", reaped)
			}

			d.reaper.mu.Lock()
			d.reaper.lastScan = time.Now()
			d.reaper.lastReaped = reaped
			d.reaper.totalReaped += reaped
			d.reaper.mu.Unlock()
		}
	}
}
