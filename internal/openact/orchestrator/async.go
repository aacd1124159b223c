package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openact/openact/internal/openact/store"
)

// AsyncTaskManager observes async runs per their tracker plan, heartbeats
// between poll attempts, completes runs on success/failure, and issues
// best-effort cancel-plan requests (§4.5.1).
type AsyncTaskManager struct {
	runs   *RunService
	outbox *OutboxService
	client *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	tracking map[string]context.CancelFunc
}

// NewAsyncTaskManager builds a manager bound to the run/outbox services.
func NewAsyncTaskManager(runs *RunService, outbox *OutboxService) *AsyncTaskManager {
	return &AsyncTaskManager{
		runs:     runs,
		outbox:   outbox,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   slog.Default().With(slog.String("component", "async_task_manager")),
		tracking: make(map[string]context.CancelFunc),
	}
}

// Track registers a run for background observation per its tracker plan.
// It is a no-op for kind "noop" beyond logging, since those runs only ever
// terminate via explicit Cancel.
func (m *AsyncTaskManager) Track(runID, commandID string, handle *AsyncHandle) {
	if handle == nil || handle.Config.Tracker == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.tracking[runID] = cancel
	m.mu.Unlock()

	go m.run(ctx, runID, commandID, handle)
}

// StopTracking cancels background observation for runID, if any.
func (m *AsyncTaskManager) StopTracking(runID string) {
	m.mu.Lock()
	cancel, ok := m.tracking[runID]
	delete(m.tracking, runID)
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

func (m *AsyncTaskManager) run(ctx context.Context, runID, commandID string, handle *AsyncHandle) {
	defer m.StopTracking(runID)
	plan := handle.Config.Tracker

	switch plan.Kind {
	case "noop":
		m.logger.Info("tracker is noop; run stays Running until cancelled", "run_id", runID)
		return
	case "mock_complete":
		m.runMock(ctx, runID, commandID, plan, true)
	case "mock_fail":
		m.runMock(ctx, runID, commandID, plan, false)
	case "http_poll":
		m.runHTTPPoll(ctx, runID, commandID, plan)
	default:
		m.logger.Warn("unknown tracker kind", "run_id", runID, "kind", plan.Kind)
	}
}

func (m *AsyncTaskManager) runMock(ctx context.Context, runID, commandID string, plan *TrackerPlan, succeed bool) {
	select {
	case <-time.After(time.Duration(plan.DelayMs) * time.Millisecond):
	case <-ctx.Done():
		return
	}

	if succeed {
		_ = m.runs.MarkSucceeded(ctx, runID, plan.Result)
		_ = m.outbox.Succeeded(ctx, runID, commandID, plan.Result)
		return
	}
	execErr := fmt.Errorf("%v", plan.Err)
	_ = m.runs.MarkFailed(ctx, runID, execErr)
	_ = m.outbox.Failed(ctx, runID, commandID, execErr)
}

func (m *AsyncTaskManager) runHTTPPoll(ctx context.Context, runID, commandID string, plan *TrackerPlan) {
	interval := time.Duration(plan.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	backoff := plan.BackoffFactor
	if backoff <= 0 {
		backoff = 1
	}

	var deadline <-chan time.Time
	if plan.TimeoutMs > 0 {
		timer := time.NewTimer(time.Duration(plan.TimeoutMs) * time.Millisecond)
		defer timer.Stop()
		deadline = timer.C
	}

	started := time.Now()
	attempts := 0
	for {
		if plan.MaxAttempts > 0 && attempts >= plan.MaxAttempts {
			_ = m.runs.MarkTimedOut(ctx, runID)
			_ = m.outbox.TimedOut(ctx, runID, commandID)
			return
		}
		if plan.MaxElapsedMs > 0 && time.Since(started) >= time.Duration(plan.MaxElapsedMs)*time.Millisecond {
			_ = m.runs.MarkTimedOut(ctx, runID)
			_ = m.outbox.TimedOut(ctx, runID, commandID)
			return
		}

		attempts++
		_ = m.runs.Heartbeat(ctx, runID)

		req, err := http.NewRequestWithContext(ctx, methodOrDefault(plan.Method), plan.URL, nil)
		if err == nil {
			resp, doErr := m.client.Do(req)
			if doErr == nil {
				done, outcome := m.evaluatePollResponse(resp, plan)
				if done {
					m.completeFromPoll(ctx, runID, commandID, outcome)
					return
				}
			}
		}

		select {
		case <-time.After(interval):
			interval = time.Duration(float64(interval) * backoff)
		case <-deadline:
			_ = m.runs.MarkTimedOut(ctx, runID)
			_ = m.outbox.TimedOut(ctx, runID, commandID)
			return
		case <-ctx.Done():
			return
		}
	}
}

type pollOutcome struct {
	succeeded bool
	result    any
}

func (m *AsyncTaskManager) evaluatePollResponse(resp *http.Response, plan *TrackerPlan) (done bool, outcome pollOutcome) {
	defer resp.Body.Close()
	var body any
	_ = json.NewDecoder(resp.Body).Decode(&body)

	if containsStatus(plan.SuccessStatus, resp.StatusCode) || anyConditionMatches(plan.SuccessConditions, body) {
		return true, pollOutcome{succeeded: true, result: plan.ExtractResult(body)}
	}
	if containsStatus(plan.FailureStatus, resp.StatusCode) || anyConditionMatches(plan.FailureConditions, body) {
		return true, pollOutcome{succeeded: false, result: plan.ExtractResult(body)}
	}
	return false, pollOutcome{}
}

func (m *AsyncTaskManager) completeFromPoll(ctx context.Context, runID, commandID string, outcome pollOutcome) {
	if outcome.succeeded {
		result, _ := outcome.result.(map[string]any)
		_ = m.runs.MarkSucceeded(ctx, runID, result)
		_ = m.outbox.Succeeded(ctx, runID, commandID, result)
		return
	}
	execErr := fmt.Errorf("async poll reported failure: %v", outcome.result)
	_ = m.runs.MarkFailed(ctx, runID, execErr)
	_ = m.outbox.Failed(ctx, runID, commandID, execErr)
}

func containsStatus(list []int, code int) bool {
	for _, c := range list {
		if c == code {
			return true
		}
	}
	return false
}

func anyConditionMatches(conditions []BodyCondition, body any) bool {
	for _, c := range conditions {
		if ok, err := c.Evaluate(body); err == nil && ok {
			return true
		}
	}
	return false
}

func methodOrDefault(m string) string {
	if m == "" {
		return http.MethodGet
	}
	return strings.ToUpper(m)
}

// Cancel issues the tracker plan's cancel request (best-effort: non-2xx
// responses are logged, not surfaced) and stops background observation.
func (m *AsyncTaskManager) Cancel(ctx context.Context, runID string, handle *AsyncHandle, reason string) {
	m.StopTracking(runID)
	if handle == nil || handle.Config.Cancel == nil {
		return
	}
	plan := handle.Config.Cancel
	url := strings.NewReplacer("{{externalRunId}}", handle.ExternalRunID, "{{reason}}", reason).Replace(plan.URL)

	req, err := http.NewRequestWithContext(ctx, methodOrDefault(plan.Method), url, bytes.NewReader(nil))
	if err != nil {
		m.logger.Warn("cancel plan request build failed", "run_id", runID, "error", err)
		return
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Warn("cancel plan request failed", "run_id", runID, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.logger.Warn("cancel plan returned non-2xx", "run_id", runID, "status", resp.StatusCode)
	}
}

// ListStaleRunning is used by the heartbeat supervisor to find runs past
// their deadline_at that need to be force-timed-out.
func ListStaleRunning(ctx context.Context, st store.Store, cutoff time.Time) ([]*store.OrchestratorRunRecord, error) {
	return st.ListStaleRunning(ctx, cutoff)
}
