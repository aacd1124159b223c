package restapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openact/openact/internal/openact/config"
	"github.com/openact/openact/internal/openact/httpconn"
	"github.com/openact/openact/internal/openact/orchestrator"
	"github.com/openact/openact/internal/openact/registry"
	"github.com/openact/openact/internal/openact/store"
)

func newInlineTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.NewMemory("")
	require.NoError(t, err)

	reg := registry.New(st, 0)
	governance := orchestrator.NewGovernance(nil, nil, 0, 0)
	runs := orchestrator.NewRunService(st)
	outbox := orchestrator.NewOutboxService(st)
	async := orchestrator.NewAsyncTaskManager(runs, outbox)
	commands := orchestrator.NewCommandAdapter(reg, governance, runs, outbox, async, st)

	conn := httpconn.NewConnector(httpconn.NewExecutor(nil))
	return New(config.Load(), reg, st, governance, commands, conn, nil)
}

func TestExecuteInlineRunsAdHocConnectionAndAction(t *testing.T) {
	var gotMethod string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	s := newInlineTestServer(t)
	payload := map[string]any{
		"connection": map[string]any{"base_url": upstream.URL},
		"action":     map[string]any{"method": "GET", "path": "/ping"},
		"input":      map[string]any{},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute-inline", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "GET", gotMethod)

	var resp successEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Metadata.Warnings)
}

func TestExecuteInlineRequiresConnection(t *testing.T) {
	s := newInlineTestServer(t)
	payload := map[string]any{"action": map[string]any{"method": "GET", "path": "/x"}}
	raw, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute-inline", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteInlineRequiresAction(t *testing.T) {
	s := newInlineTestServer(t)
	payload := map[string]any{"connection": map[string]any{"base_url": "https://example.test"}}
	raw, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute-inline", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteInlineDisabledWhenConnectorNil(t *testing.T) {
	st, err := store.NewMemory("")
	require.NoError(t, err)
	reg := registry.New(st, 0)
	governance := orchestrator.NewGovernance(nil, nil, 0, 0)
	runs := orchestrator.NewRunService(st)
	outbox := orchestrator.NewOutboxService(st)
	async := orchestrator.NewAsyncTaskManager(runs, outbox)
	commands := orchestrator.NewCommandAdapter(reg, governance, runs, outbox, async, st)
	s := New(config.Load(), reg, st, governance, commands, nil, nil)

	payload := map[string]any{
		"connection": map[string]any{"base_url": "https://example.test"},
		"action":     map[string]any{"method": "GET", "path": "/x"},
	}
	raw, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute-inline", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}
