package httpconn

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/openact/openact/internal/openact/errs"
)

// Response is the executor's final result shape: {status_code, headers,
// body, execution_time_ms}.
type Response struct {
	StatusCode      int
	Headers         map[string]string
	Body            any
	ExecutionTimeMs int64
}

// ReadResponse collects resp's body up to policy.MaxBodyBytes, flattens
// headers (last value wins), and parses the body as JSON when possible,
// falling back to a string, with an empty body becoming JSON null.
func ReadResponse(resp *http.Response, policy ResponsePolicy) (*Response, error) {
	defer resp.Body.Close()

	limit := policy.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultResponsePolicy().MaxBodyBytes
	}

	limited := io.LimitReader(resp.Body, limit+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, errs.NewInternal(err)
	}
	if int64(len(raw)) > limit {
		if policy.AllowBinary && policy.SinkTrn != "" {
			// Oversized bodies are diverted to the configured sink; the
			// sink write itself is an external collaborator per §1.
			return &Response{StatusCode: resp.StatusCode, Headers: flattenHeaders(resp.Header), Body: map[string]any{"sink": policy.SinkTrn, "truncated": true}}, nil
		}
		return nil, errs.NewInvalidConfig("httpconn: response body exceeds max_body_bytes")
	}

	var body any
	if len(raw) == 0 {
		body = nil
	} else if err := json.Unmarshal(raw, &body); err != nil {
		body = string(raw)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Body:       body,
	}, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, values := range h {
		if len(values) > 0 {
			out[k] = values[len(values)-1]
		}
	}
	return out
}
