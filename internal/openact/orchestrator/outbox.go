package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openact/openact/internal/openact/errs"
	"github.com/openact/openact/internal/openact/store"
)

// Event kinds emitted by the command adapter, delivered at-least-once via
// the outbox to an external Stepflow dispatcher (§4.6).
const (
	EventSucceeded = "stepflow.command.succeeded"
	EventFailed    = "stepflow.command.failed"
	EventTimedOut  = "stepflow.command.timed_out"
	EventCancelled = "stepflow.command.cancelled"
)

// OutboxService enqueues Stepflow events for a dispatcher to deliver.
// Per-run ordering is preserved because every event for a run is appended
// via this single code path in command-execution order.
type OutboxService struct {
	st store.Store
}

func NewOutboxService(st store.Store) *OutboxService { return &OutboxService{st: st} }

// Enqueue writes an outbox row for kind, ready for immediate dispatch.
func (s *OutboxService) Enqueue(ctx context.Context, runID, kind string, payload map[string]any) error {
	full := map[string]any{"kind": kind}
	for k, v := range payload {
		full[k] = v
	}
	raw, err := json.Marshal(full)
	if err != nil {
		return errs.NewInternal(err)
	}
	rec := &store.OutboxRecord{
		RunID:         runID,
		Protocol:      "stepflow",
		PayloadJSON:   string(raw),
		NextAttemptAt: time.Now(),
	}
	if err := s.st.EnqueueOutbox(ctx, rec); err != nil {
		return errs.NewInternal(err)
	}
	return nil
}

func (s *OutboxService) Succeeded(ctx context.Context, runID, commandID string, output map[string]any) error {
	return s.Enqueue(ctx, runID, EventSucceeded, map[string]any{"run_id": runID, "command_id": commandID, "output": output})
}

func (s *OutboxService) Failed(ctx context.Context, runID, commandID string, execErr error) error {
	return s.Enqueue(ctx, runID, EventFailed, map[string]any{"run_id": runID, "command_id": commandID, "error": errorPayload(execErr)})
}

func (s *OutboxService) TimedOut(ctx context.Context, runID, commandID string) error {
	return s.Enqueue(ctx, runID, EventTimedOut, map[string]any{"run_id": runID, "command_id": commandID})
}

func (s *OutboxService) Cancelled(ctx context.Context, runID, commandID string, details map[string]any) error {
	return s.Enqueue(ctx, runID, EventCancelled, map[string]any{"run_id": runID, "command_id": commandID, "details": details})
}
