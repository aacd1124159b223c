package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/openact/openact/internal/openact/errs"
	"github.com/openact/openact/internal/openact/store"
	"github.com/openact/openact/internal/openact/telemetry"
)

// RunService owns OrchestratorRunRecord lifecycle transitions, grounded on
// the store's UpdateRun monotonicity guard (invariant 9: once terminal, no
// further status updates are accepted).
type RunService struct {
	st store.Store
}

func NewRunService(st store.Store) *RunService { return &RunService{st: st} }

// CreatePending persists a new Pending run for a just-intake'd command.
func (s *RunService) CreatePending(ctx context.Context, commandID, tenant, actionTrn, correlationID string, deadline *time.Time) (*store.OrchestratorRunRecord, error) {
	now := time.Now()
	rec := &store.OrchestratorRunRecord{
		RunID:         uuid.NewString(),
		CommandID:     commandID,
		Tenant:        tenant,
		ActionTrn:     actionTrn,
		Status:        store.RunPending,
		HeartbeatAt:   now,
		DeadlineAt:    deadline,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.st.CreateRun(ctx, rec); err != nil {
		return nil, errs.NewInternal(err)
	}
	return rec, nil
}

// MarkRunning transitions a run to Running with phase/metadata (including
// an asyncHandle when the action reported status:"running").
func (s *RunService) MarkRunning(ctx context.Context, runID, phase string, metadata map[string]any) error {
	return s.transition(ctx, runID, func(rec *store.OrchestratorRunRecord) {
		rec.Status = store.RunRunning
		rec.Phase = phase
		rec.MetadataJSON = marshalOrEmpty(metadata)
	})
}

// MarkSucceeded transitions a run to its terminal Succeeded state.
func (s *RunService) MarkSucceeded(ctx context.Context, runID string, result map[string]any) error {
	return s.transition(ctx, runID, func(rec *store.OrchestratorRunRecord) {
		rec.Status = store.RunSucceeded
		rec.ResultJSON = marshalOrEmpty(result)
	})
}

// MarkFailed transitions a run to its terminal Failed state.
func (s *RunService) MarkFailed(ctx context.Context, runID string, execErr error) error {
	return s.transition(ctx, runID, func(rec *store.OrchestratorRunRecord) {
		rec.Status = store.RunFailed
		rec.ErrorJSON = marshalOrEmpty(errorPayload(execErr))
	})
}

// MarkTimedOut transitions a run to its terminal TimedOut state.
func (s *RunService) MarkTimedOut(ctx context.Context, runID string) error {
	return s.transition(ctx, runID, func(rec *store.OrchestratorRunRecord) {
		rec.Status = store.RunTimedOut
	})
}

// MarkCancelled transitions a run to its terminal Cancelled state.
func (s *RunService) MarkCancelled(ctx context.Context, runID string, details map[string]any) error {
	return s.transition(ctx, runID, func(rec *store.OrchestratorRunRecord) {
		rec.Status = store.RunCancelled
		rec.ResultJSON = marshalOrEmpty(details)
	})
}

// Heartbeat refreshes heartbeat_at for a still-running run.
func (s *RunService) Heartbeat(ctx context.Context, runID string) error {
	return s.st.Heartbeat(ctx, runID, time.Now())
}

// Get returns the run record.
func (s *RunService) Get(ctx context.Context, runID string) (*store.OrchestratorRunRecord, error) {
	rec, err := s.st.GetRun(ctx, runID)
	if err == store.ErrNotFound {
		return nil, errs.NewNotFound("run not found")
	}
	if err != nil {
		return nil, errs.NewInternal(err)
	}
	return rec, nil
}

// transition applies mutate iff the run is not already terminal (the store
// enforces invariant 9), returning a NotFound/Internal error as appropriate.
func (s *RunService) transition(ctx context.Context, runID string, mutate func(*store.OrchestratorRunRecord)) error {
	var status store.RunStatus
	wrapped := func(rec *store.OrchestratorRunRecord) {
		mutate(rec)
		status = rec.Status
	}
	applied, err := s.st.UpdateRun(ctx, runID, wrapped)
	if err == store.ErrNotFound {
		return errs.NewNotFound("run not found")
	}
	if err != nil {
		return errs.NewInternal(err)
	}
	if !applied {
		// The run is already terminal; the caller treats this as
		// "nothing to do" per run monotonicity.
		return nil
	}
	telemetry.RunsByStatus.WithLabelValues(string(status)).Inc()
	return nil
}

func marshalOrEmpty(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func errorPayload(err error) map[string]any {
	if oe, ok := err.(*errs.Error); ok {
		return map[string]any{"type": string(oe.Type), "message": oe.Message}
	}
	return map[string]any{"message": err.Error()}
}
