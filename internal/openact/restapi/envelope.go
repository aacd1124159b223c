package restapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/openact/openact/internal/openact/errs"
)

// metadata is the envelope's common "metadata" object. ExecutionTimeMs,
// ActionTrn, Version, and Warnings are all optional per-response fields.
type metadata struct {
	RequestID       string   `json:"request_id"`
	ExecutionTimeMs *int64   `json:"execution_time_ms,omitempty"`
	ActionTrn       string   `json:"action_trn,omitempty"`
	Version         *int64   `json:"version,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

type successEnvelope struct {
	Success  bool     `json:"success"`
	Data     any      `json:"data"`
	Metadata metadata `json:"metadata"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Success  bool      `json:"success"`
	Error    errorBody `json:"error"`
	Metadata metadata  `json:"metadata"`
}

func requestIDFor(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeSuccess(w http.ResponseWriter, status int, requestID string, data any, md metadata) {
	md.RequestID = requestID
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(successEnvelope{Success: true, Data: data, Metadata: md}); err != nil {
		slog.Error("restapi: failed to write success response", slog.Any("error", err))
	}
}

// writeFailure renders err as the error envelope, classifying it via
// *errs.Error when possible and falling back to 500/INTERNAL otherwise.
func writeFailure(w http.ResponseWriter, requestID string, err error) {
	oe, ok := err.(*errs.Error)
	if !ok {
		oe = errs.NewInternal(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oe.HTTPStatus())
	body := errorEnvelope{
		Error:    errorBody{Code: oe.Code(), Message: oe.UserMessage()},
		Metadata: metadata{RequestID: requestID},
	}
	if oe.Suggestion() != "" {
		body.Error.Details = map[string]string{"suggestion": oe.Suggestion()}
	}
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		slog.Error("restapi: failed to write error response", slog.Any("error", encErr))
	}
}
