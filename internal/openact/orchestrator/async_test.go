package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openact/openact/internal/openact/store"
)

func newTestAsyncManager(t *testing.T) (*AsyncTaskManager, *RunService, store.Store) {
	t.Helper()
	st, err := store.NewMemory("")
	require.NoError(t, err)
	runs := NewRunService(st)
	outbox := NewOutboxService(st)
	return NewAsyncTaskManager(runs, outbox), runs, st
}

func TestAsyncTaskManagerMockCompleteSucceeds(t *testing.T) {
	mgr, runs, st := newTestAsyncManager(t)
	rec, err := runs.CreatePending(context.Background(), "cmd-1", "acme", "trn:openact:acme:action/http:get@v1", "corr-1", nil)
	require.NoError(t, err)
	require.NoError(t, runs.MarkRunning(context.Background(), rec.RunID, "async", nil))

	handle := &AsyncHandle{
		ExternalRunID: "ext-1",
		Config: HandleConfig{Tracker: &TrackerPlan{Kind: "mock_complete", DelayMs: 5, Result: map[string]any{"done": true}}},
	}
	mgr.Track(rec.RunID, "cmd-1", handle)

	require.Eventually(t, func() bool {
		got, err := st.GetRun(context.Background(), rec.RunID)
		return err == nil && got.Status == store.RunSucceeded
	}, time.Second, 5*time.Millisecond)
}

func TestAsyncTaskManagerMockFailMarksFailed(t *testing.T) {
	mgr, runs, st := newTestAsyncManager(t)
	rec, err := runs.CreatePending(context.Background(), "cmd-1", "acme", "trn:openact:acme:action/http:get@v1", "corr-1", nil)
	require.NoError(t, err)
	require.NoError(t, runs.MarkRunning(context.Background(), rec.RunID, "async", nil))

	handle := &AsyncHandle{
		Config: HandleConfig{Tracker: &TrackerPlan{Kind: "mock_fail", DelayMs: 5, Err: map[string]any{"message": "remote failure"}}},
	}
	mgr.Track(rec.RunID, "cmd-1", handle)

	require.Eventually(t, func() bool {
		got, err := st.GetRun(context.Background(), rec.RunID)
		return err == nil && got.Status == store.RunFailed
	}, time.Second, 5*time.Millisecond)
}

func TestAsyncTaskManagerNoopStaysRunningUntilCancelled(t *testing.T) {
	mgr, runs, st := newTestAsyncManager(t)
	rec, err := runs.CreatePending(context.Background(), "cmd-1", "acme", "trn:openact:acme:action/http:get@v1", "corr-1", nil)
	require.NoError(t, err)
	require.NoError(t, runs.MarkRunning(context.Background(), rec.RunID, "async", nil))

	handle := &AsyncHandle{Config: HandleConfig{Tracker: &TrackerPlan{Kind: "noop"}}}
	mgr.Track(rec.RunID, "cmd-1", handle)

	time.Sleep(30 * time.Millisecond)
	got, err := st.GetRun(context.Background(), rec.RunID)
	require.NoError(t, err)
	require.Equal(t, store.RunRunning, got.Status)
}

func TestAsyncTaskManagerHTTPPollSucceedsOnStatusMatch(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"result":{"id":"done"}}`))
	}))
	defer srv.Close()

	mgr, runs, st := newTestAsyncManager(t)
	rec, err := runs.CreatePending(context.Background(), "cmd-1", "acme", "trn:openact:acme:action/http:get@v1", "corr-1", nil)
	require.NoError(t, err)
	require.NoError(t, runs.MarkRunning(context.Background(), rec.RunID, "async", nil))

	handle := &AsyncHandle{Config: HandleConfig{Tracker: &TrackerPlan{
		Kind:          "http_poll",
		URL:           srv.URL,
		IntervalMs:    5,
		SuccessStatus: []int{200},
		ResultPointer: "result",
	}}}
	mgr.Track(rec.RunID, "cmd-1", handle)

	require.Eventually(t, func() bool {
		got, err := st.GetRun(context.Background(), rec.RunID)
		return err == nil && got.Status == store.RunSucceeded
	}, time.Second, 5*time.Millisecond)
}

func TestAsyncTaskManagerHTTPPollStopsAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	mgr, runs, st := newTestAsyncManager(t)
	rec, err := runs.CreatePending(context.Background(), "cmd-1", "acme", "trn:openact:acme:action/http:get@v1", "corr-1", nil)
	require.NoError(t, err)
	require.NoError(t, runs.MarkRunning(context.Background(), rec.RunID, "async", nil))

	handle := &AsyncHandle{Config: HandleConfig{Tracker: &TrackerPlan{
		Kind:          "http_poll",
		URL:           srv.URL,
		IntervalMs:    5,
		MaxAttempts:   2,
		SuccessStatus: []int{200},
	}}}
	mgr.Track(rec.RunID, "cmd-1", handle)

	require.Eventually(t, func() bool {
		got, err := st.GetRun(context.Background(), rec.RunID)
		return err == nil && got.Status == store.RunTimedOut
	}, time.Second, 5*time.Millisecond)
}

func TestAsyncTaskManagerCancelIssuesTemplatedRequest(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mgr, _, _ := newTestAsyncManager(t)
	handle := &AsyncHandle{
		ExternalRunID: "ext-77",
		Config:        HandleConfig{Cancel: &CancelPlan{URL: srv.URL + "/jobs/{{externalRunId}}/cancel", Method: "POST"}},
	}
	mgr.Cancel(context.Background(), "run-x", handle, "user requested")
	require.Equal(t, "/jobs/ext-77/cancel", gotPath)
}

func TestAsyncTaskManagerCancelWithoutPlanIsNoop(t *testing.T) {
	mgr, _, _ := newTestAsyncManager(t)
	require.NotPanics(t, func() {
		mgr.Cancel(context.Background(), "run-x", &AsyncHandle{}, "reason")
	})
	require.NotPanics(t, func() {
		mgr.Cancel(context.Background(), "run-x", nil, "reason")
	})
}
