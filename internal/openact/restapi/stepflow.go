package restapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/openact/openact/internal/openact/errs"
	"github.com/openact/openact/internal/openact/orchestrator"
)

// stepflowCommandBody is the Stepflow execute_command wire shape (§4.5
// step 1-3); Parameters carries "mode":"fire-forget" when present.
type stepflowCommandBody struct {
	SchemaVersion string         `json:"schemaVersion"`
	Tenant        string         `json:"tenant"`
	CommandID     string         `json:"commandId"`
	Target        string         `json:"target"`
	Input         map[string]any `json:"input"`
	Parameters    map[string]any `json:"parameters"`
	TimeoutMs     int64          `json:"timeoutMs"`
	CorrelationID string         `json:"correlationId"`
}

// handleStepflowCommand serves POST /api/v1/stepflow/commands.
func (s *Server) handleStepflowCommand(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFor(r)

	var body stepflowCommandBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFailure(w, requestID, errs.NewInvalidInput("restapi: malformed JSON body: "+err.Error()))
		return
	}
	headerTenant, err := s.resolveTenant(r)
	if err != nil {
		writeFailure(w, requestID, err)
		return
	}

	env := &orchestrator.CommandEnvelope{
		SchemaVersion: body.SchemaVersion,
		Tenant:        body.Tenant,
		CommandID:     body.CommandID,
		Target:        body.Target,
		Input:         body.Input,
		Parameters:    body.Parameters,
		TimeoutMs:     body.TimeoutMs,
		CorrelationID: body.CorrelationID,
		HeaderTenant:  headerTenant,
	}

	resp, err := s.commands.ExecuteCommand(r.Context(), env)
	if err != nil {
		writeFailure(w, requestID, err)
		return
	}

	status := http.StatusOK
	if resp.Status == "accepted" || resp.Status == "running" {
		status = http.StatusAccepted
	}

	data := map[string]any{
		"status": resp.Status,
		"run_id": resp.RunID,
		"phase":  resp.Phase,
	}
	if resp.Handle != nil {
		data["handle"] = resp.Handle
		data["heartbeat_timeout_ms"] = resp.HeartbeatTimeoutMs
		data["status_ttl_ms"] = resp.StatusTTLMs
	}
	if resp.Output != nil {
		data["output"] = resp.Output
	}
	if resp.Err != nil {
		data["error"] = resp.Err.Error()
	}
	writeSuccess(w, status, requestID, data, metadata{ActionTrn: env.Target})
}

// stepflowCommandsPrefix is stripped before checking the trailing
// "/cancel" segment; the remainder is the opaque run_id.
const stepflowCommandsPrefix = "/api/v1/stepflow/commands/"

type cancelRequestBody struct {
	Reason string `json:"reason"`
}

// handleStepflowCancel serves POST /api/v1/stepflow/commands/{run_id}/cancel.
func (s *Server) handleStepflowCancel(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFor(r)
	rest := strings.TrimPrefix(r.URL.Path, stepflowCommandsPrefix)
	runID := strings.TrimSuffix(rest, "/cancel")
	if runID == "" || runID == rest {
		writeFailure(w, requestID, errs.NewNotFound("restapi: unknown route"))
		return
	}

	var body cancelRequestBody
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	if err := s.commands.CancelCommand(r.Context(), runID, orchestrator.CancelPayload{Reason: body.Reason}); err != nil {
		writeFailure(w, requestID, err)
		return
	}
	writeSuccess(w, http.StatusAccepted, requestID, map[string]any{"run_id": runID, "status": "cancelling"}, metadata{})
}
