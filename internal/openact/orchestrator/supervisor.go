package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/openact/openact/internal/openact/store"
)

// HeartbeatSupervisor periodically scans for Running runs whose deadline_at
// has elapsed and force-transitions them to TimedOut with a timeout event,
// per §5's "Async handles carry their own deadline enforced by the
// heartbeat supervisor" guarantee.
type HeartbeatSupervisor struct {
	st       store.Store
	runs     *RunService
	outbox   *OutboxService
	interval time.Duration
	logger   *slog.Logger
}

// NewHeartbeatSupervisor builds a supervisor that scans every interval
// (default 5s when <=0).
func NewHeartbeatSupervisor(st store.Store, runs *RunService, outbox *OutboxService, interval time.Duration) *HeartbeatSupervisor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HeartbeatSupervisor{
		st:       st,
		runs:     runs,
		outbox:   outbox,
		interval: interval,
		logger:   slog.Default().With(slog.String("component", "heartbeat_supervisor")),
	}
}

// Run blocks, scanning on each tick until ctx is done.
func (s *HeartbeatSupervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *HeartbeatSupervisor) sweep(ctx context.Context) {
	stale, err := s.st.ListStaleRunning(ctx, time.Now())
	if err != nil {
		s.logger.Warn("stale run scan failed", "error", err)
		return
	}
	for _, rec := range stale {
		if err := s.runs.MarkTimedOut(ctx, rec.RunID); err != nil {
			s.logger.Warn("failed to time out stale run", "run_id", rec.RunID, "error", err)
			continue
		}
		if err := s.outbox.TimedOut(ctx, rec.RunID, rec.CommandID); err != nil {
			s.logger.Warn("failed to enqueue timeout event", "run_id", rec.RunID, "error", err)
		}
	}
}
