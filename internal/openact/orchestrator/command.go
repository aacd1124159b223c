// CommandAdapter implements §4.5's execute_command/cancel_command: Stepflow
// envelope intake, governance gating, permit acquisition, synchronous/
// async/fire-forget dispatch, run persistence, and outbox event emission.
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openact/openact/internal/openact/errs"
	"github.com/openact/openact/internal/openact/registry"
	"github.com/openact/openact/internal/openact/store"
	"github.com/openact/openact/internal/openact/telemetry"
	"github.com/openact/openact/internal/openact/trn"
)

// Executor is the subset of registry.Registry the command adapter needs.
type Executor interface {
	Execute(ctx context.Context, actionTrn string, input map[string]any) (*registry.ExecutionResult, map[string]any, error)
}

// CommandAdapter is the Stepflow command orchestrator entry point.
type CommandAdapter struct {
	exec       Executor
	governance *Governance
	runs       *RunService
	outbox     *OutboxService
	async      *AsyncTaskManager
	st         store.Store
}

// NewCommandAdapter wires the orchestrator's collaborators.
func NewCommandAdapter(exec Executor, governance *Governance, runs *RunService, outbox *OutboxService, async *AsyncTaskManager, st store.Store) *CommandAdapter {
	return &CommandAdapter{exec: exec, governance: governance, runs: runs, outbox: outbox, async: async, st: st}
}

// ExecuteResponse is the synchronous/accepted/running response §4.5 step 8-9
// describes.
type ExecuteResponse struct {
	Status             string // "accepted" | "running" | "succeeded" | "failed" | "timed_out"
	RunID              string
	Phase              string
	Handle             map[string]any
	HeartbeatTimeoutMs int64
	StatusTTLMs        int64
	Output             map[string]any
	Err                error
}

// ExecuteCommand runs §4.5's full intake-to-terminal-or-async pipeline.
func (c *CommandAdapter) ExecuteCommand(ctx context.Context, env *CommandEnvelope) (*ExecuteResponse, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "orchestrator.ExecuteCommand")
	defer span.End()

	if err := env.Validate(); err != nil {
		return nil, err
	}

	actionTrn, err := trn.ParseAction(env.Target)
	if err != nil {
		return nil, errs.NewInvalidInput("stepflow: target is not a valid action trn: " + err.Error())
	}
	if actionTrn.Tenant != env.Tenant {
		return nil, errs.NewInvalidInput("stepflow: target tenant does not match envelope tenant")
	}

	toolName := actionTrn.ToolName()
	if err := c.governance.Check(toolName); err != nil {
		return nil, err
	}

	permit, err := c.governance.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	envelopeTimeout := time.Duration(env.TimeoutMs) * time.Millisecond
	effective := c.governance.EffectiveTimeout(envelopeTimeout)
	var deadline *time.Time
	if effective > 0 {
		d := time.Now().Add(effective)
		deadline = &d
	}

	runRec, err := c.runs.CreatePending(ctx, env.CommandID, env.Tenant, env.Target, env.CorrelationID, deadline)
	if err != nil {
		return nil, err
	}

	if env.IsFireForget() {
		go c.runFireForget(runRec.RunID, env.CommandID, env.Target, env.Input)
		return &ExecuteResponse{Status: "accepted", RunID: runRec.RunID, Phase: "fire_forget"}, nil
	}

	return c.runSynchronous(ctx, runRec.RunID, env.CommandID, env.Target, env.Input, effective)
}

func (c *CommandAdapter) runFireForget(runID, commandID, actionTrn string, input map[string]any) {
	ctx := context.Background()
	result, _, err := c.exec.Execute(ctx, actionTrn, input)
	c.finishExecution(ctx, runID, commandID, result, err)
}

func (c *CommandAdapter) runSynchronous(ctx context.Context, runID, commandID, actionTrn string, input map[string]any, timeout time.Duration) (*ExecuteResponse, error) {
	execCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, _, err := c.exec.Execute(execCtx, actionTrn, input)

	if err != nil {
		if oe, ok := err.(*errs.Error); ok && oe.Type == errs.Timeout || execCtx.Err() == context.DeadlineExceeded {
			_ = c.runs.MarkTimedOut(ctx, runID)
			_ = c.outbox.TimedOut(ctx, runID, commandID)
			return &ExecuteResponse{Status: "timed_out", RunID: runID, Err: err}, nil
		}
		_ = c.runs.MarkFailed(ctx, runID, err)
		_ = c.outbox.Failed(ctx, runID, commandID, err)
		return &ExecuteResponse{Status: "failed", RunID: runID, Err: err}, nil
	}

	return c.interpretResult(ctx, runID, commandID, result), nil
}

// interpretResult implements §4.5 step 9: an output with status in
// {"running","accepted"} is treated as asynchronous (honoring both the
// pre-execution fire-forget signal and this post-execution one, but never
// duplicating the accepted response per the ambiguous-source design note).
func (c *CommandAdapter) interpretResult(ctx context.Context, runID, commandID string, result *registry.ExecutionResult) *ExecuteResponse {
	output := result.Output
	status, _ := output["status"].(string)

	if status == "running" || status == "accepted" {
		handleRaw, _ := output["handle"].(map[string]any)
		var handle *AsyncHandle
		if handleRaw != nil {
			handle, _ = DecodeAsyncHandle(handleRaw)
		}
		metadata := map[string]any{"asyncHandle": handleRaw}
		_ = c.runs.MarkRunning(ctx, runID, "async", metadata)
		if status == "running" && handle != nil {
			c.async.Track(runID, commandID, handle)
		}
		return &ExecuteResponse{
			Status:             status,
			RunID:              runID,
			Phase:              "async",
			Handle:             handleRaw,
			HeartbeatTimeoutMs: 30_000,
			StatusTTLMs:        300_000,
			Output:             output,
		}
	}

	_ = c.runs.MarkSucceeded(ctx, runID, output)
	_ = c.outbox.Succeeded(ctx, runID, commandID, output)
	return &ExecuteResponse{Status: "succeeded", RunID: runID, Output: output}
}

func (c *CommandAdapter) finishExecution(ctx context.Context, runID, commandID string, result *registry.ExecutionResult, err error) {
	if err != nil {
		_ = c.runs.MarkFailed(ctx, runID, err)
		_ = c.outbox.Failed(ctx, runID, commandID, err)
		return
	}
	c.interpretResult(ctx, runID, commandID, result)
}

// CancelCommand implements §4.5's cancel_command: reject if terminal,
// governance check, best-effort async cancel plan, persist Cancelled,
// enqueue the cancelled event.
func (c *CommandAdapter) CancelCommand(ctx context.Context, runID string, payload CancelPayload) error {
	rec, err := c.runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return errs.NewInvalidInput("stepflow: run is already terminal")
	}

	actionTrn, err := trn.ParseAction(rec.ActionTrn)
	if err == nil {
		if gErr := c.governance.Check(actionTrn.ToolName()); gErr != nil {
			return gErr
		}
	}

	if handle := extractAsyncHandle(rec); handle != nil {
		c.async.Cancel(ctx, runID, handle, payload.Reason)
	}

	details := map[string]any{"reason": payload.Reason}
	if err := c.runs.MarkCancelled(ctx, runID, details); err != nil {
		return err
	}
	return c.outbox.Cancelled(ctx, runID, rec.CommandID, details)
}

func extractAsyncHandle(rec *store.OrchestratorRunRecord) *AsyncHandle {
	if rec.MetadataJSON == "" {
		return nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(rec.MetadataJSON), &meta); err != nil {
		return nil
	}
	handleRaw, _ := meta["asyncHandle"].(map[string]any)
	if handleRaw == nil {
		return nil
	}
	handle, err := DecodeAsyncHandle(handleRaw)
	if err != nil {
		return nil
	}
	return handle
}
