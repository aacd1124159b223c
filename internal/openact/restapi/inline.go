package restapi

import (
	"encoding/json"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/openact/openact/internal/openact/errs"
	"github.com/openact/openact/internal/openact/store"
)

// inlineExecuteRequest is the YAML (or JSON, which is a YAML subset) body
// accepted by /api/v1/execute-inline: full connection and action
// definitions supplied ad hoc rather than looked up by TRN.
type inlineExecuteRequest struct {
	Connection map[string]any `yaml:"connection"`
	Action     map[string]any `yaml:"action"`
	Input      map[string]any `yaml:"input"`
}

const inlineTrn = "trn:openact:inline:connection/http/inline"
const inlineActionTrn = "trn:openact:inline:action/http/inline"

// handleExecuteInline serves POST /api/v1/execute-inline: it builds a
// one-shot Connection and Action from the request body instead of
// resolving persisted records, then runs the same dispatch path.
func (s *Server) handleExecuteInline(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFor(r)

	if s.inline == nil {
		writeFailure(w, requestID, errs.NewInvalidConfig("restapi: no inline connector configured"))
		return
	}

	var req inlineExecuteRequest
	dec := yaml.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		writeFailure(w, requestID, errs.NewInvalidInput("restapi: malformed request body: "+err.Error()))
		return
	}
	if req.Connection == nil {
		writeFailure(w, requestID, errs.NewInvalidInput("restapi: execute-inline requires a connection definition"))
		return
	}
	if req.Action == nil {
		writeFailure(w, requestID, errs.NewInvalidInput("restapi: execute-inline requires an action definition"))
		return
	}
	if req.Input == nil {
		req.Input = map[string]any{}
	}

	connConfig, err := json.Marshal(req.Connection)
	if err != nil {
		writeFailure(w, requestID, errs.NewInvalidInput("restapi: malformed connection definition: "+err.Error()))
		return
	}
	actionConfig, err := json.Marshal(req.Action)
	if err != nil {
		writeFailure(w, requestID, errs.NewInvalidInput("restapi: malformed action definition: "+err.Error()))
		return
	}

	conn, err := s.inline.ConnectionFactory(&store.ConnectionRecord{
		Trn: inlineTrn, Connector: "http", ConfigJSON: string(connConfig),
	})
	if err != nil {
		writeFailure(w, requestID, err)
		return
	}
	action, err := s.inline.ActionFactory(&store.ActionRecord{
		Trn: inlineActionTrn, Connector: "http", ConnectionTrn: inlineTrn, ConfigJSON: string(actionConfig),
	})
	if err != nil {
		writeFailure(w, requestID, err)
		return
	}

	if err := action.ValidateInput(req.Input); err != nil {
		writeFailure(w, requestID, err)
		return
	}

	result, err := action.Execute(r.Context(), conn, req.Input)
	if err != nil {
		writeFailure(w, requestID, err)
		return
	}
	writeSuccess(w, http.StatusOK, requestID, result.Output, metadata{Warnings: []string{"execute-inline bypasses the registry's persisted schema and governance checks"}})
}
