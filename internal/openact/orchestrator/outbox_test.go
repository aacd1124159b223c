package orchestrator

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openact/openact/internal/openact/store"
)

func newTestOutboxService(t *testing.T) (*OutboxService, store.Store) {
	t.Helper()
	st, err := store.NewMemory("")
	require.NoError(t, err)
	return NewOutboxService(st), st
}

func TestOutboxServiceSucceededIsImmediatelyReady(t *testing.T) {
	svc, st := newTestOutboxService(t)
	require.NoError(t, svc.Succeeded(context.Background(), "run-1", "cmd-1", map[string]any{"id": 7}))

	ready, err := st.ListReadyOutbox(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Contains(t, ready[0].PayloadJSON, EventSucceeded)
	require.Contains(t, ready[0].PayloadJSON, "run-1")
}

func TestOutboxServiceFailedEncodesErrorPayload(t *testing.T) {
	svc, st := newTestOutboxService(t)
	require.NoError(t, svc.Failed(context.Background(), "run-2", "cmd-2", errors.New("upstream 500")))

	events, err := st.ListOutboxByRun(context.Background(), "run-2")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Contains(t, events[0].PayloadJSON, "upstream 500")
	require.Contains(t, events[0].PayloadJSON, EventFailed)
}

func TestOutboxServiceCancelledAndTimedOutEventKinds(t *testing.T) {
	svc, st := newTestOutboxService(t)
	require.NoError(t, svc.Cancelled(context.Background(), "run-3", "cmd-3", map[string]any{"reason": "x"}))
	require.NoError(t, svc.TimedOut(context.Background(), "run-3", "cmd-3"))

	events, err := st.ListOutboxByRun(context.Background(), "run-3")
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestOutboxServicePreservesPerRunOrdering(t *testing.T) {
	svc, st := newTestOutboxService(t)
	require.NoError(t, svc.Succeeded(context.Background(), "run-4", "cmd-4", map[string]any{"step": 1}))
	require.NoError(t, svc.Succeeded(context.Background(), "run-4", "cmd-4", map[string]any{"step": 2}))

	events, err := st.ListOutboxByRun(context.Background(), "run-4")
	require.NoError(t, err)
	require.Len(t, events, 2)
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	require.Contains(t, events[0].PayloadJSON, `"step":1`)
	require.Contains(t, events[1].PayloadJSON, `"step":2`)
}
