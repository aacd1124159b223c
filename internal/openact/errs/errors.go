// Package errs implements the error taxonomy shared across the registry,
// HTTP executor, and command orchestrator.
package errs

import (
	"fmt"
	"net/http"
	"regexp"
)

// Type classifies an error for retry logic and REST status mapping.
type Type string

const (
	NotFound        Type = "not_found"
	InvalidInput    Type = "invalid_input"
	Forbidden       Type = "forbidden"
	Timeout         Type = "timeout"
	Authentication  Type = "authentication"
	InvalidConfig   Type = "invalid_config"
	Connection      Type = "connection"
	Http            Type = "http"
	ExecutionFailed Type = "execution_failed"
	Internal        Type = "internal"
)

// Error is the canonical OpenAct error: classified, optionally retryable,
// and safe to surface to a caller without leaking response bodies or raw
// attack-vector input.
type Error struct {
	Type        Type
	Message     string
	StatusCode  int
	RetryAfter  int
	SuggestText string
	RequestID   string
	Cause       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("openact: %s", e.Message)
	if e.Type != "" {
		msg = fmt.Sprintf("%s (type: %s)", msg, e.Type)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request-id: %s)", msg, e.RequestID)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap supports errors.Is/errors.As against the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable reports whether the HTTP executor's retry manager should
// attempt this error again.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case Timeout, Connection, Http:
		return true
	default:
		return false
	}
}

// UserMessage returns a message safe to show to a caller.
func (e *Error) UserMessage() string { return e.Message }

// Suggestion returns actionable guidance, if any.
func (e *Error) Suggestion() string { return e.SuggestText }

// HTTPStatus maps the error type onto the REST error-envelope status code
// per the taxonomy.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case NotFound:
		return http.StatusNotFound
	case InvalidInput, InvalidConfig:
		return http.StatusBadRequest
	case Forbidden:
		return http.StatusForbidden
	case Timeout:
		return http.StatusGatewayTimeout
	case Authentication:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the REST error envelope code string.
func (e *Error) Code() string {
	switch e.Type {
	case NotFound:
		return "NOT_FOUND"
	case InvalidInput, InvalidConfig:
		return "INVALID_INPUT"
	case Forbidden:
		return "FORBIDDEN"
	case Timeout:
		return "TIMEOUT"
	default:
		return "INTERNAL"
	}
}

func NewNotFound(message string) *Error {
	return &Error{Type: NotFound, Message: message}
}

func NewInvalidInput(message string) *Error {
	return &Error{Type: InvalidInput, Message: message}
}

func NewForbidden(message string) *Error {
	return &Error{Type: Forbidden, Message: message, SuggestText: "Add the tool to the governance allow list"}
}

func NewTimeout(message string) *Error {
	return &Error{Type: Timeout, Message: message}
}

func NewInvalidConfig(message string) *Error {
	return &Error{Type: InvalidConfig, Message: message}
}

func NewInternal(cause error) *Error {
	return &Error{Type: Internal, Message: "internal error", Cause: cause}
}

// ipAddressPattern matches IPv4 addresses so they can be redacted from
// user-facing messages.
var ipAddressPattern = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)

func redactIPAddresses(s string) string {
	return ipAddressPattern.ReplaceAllString(s, "[REDACTED_IP]")
}

// FromHTTPStatus builds a classified Error from an upstream HTTP response.
// The response body is intentionally never included in the message or
// suggestion text; callers should log it separately keyed by requestID.
func FromHTTPStatus(statusCode int, statusText, requestID string) *Error {
	e := &Error{
		StatusCode: statusCode,
		Message:    fmt.Sprintf("%d %s", statusCode, statusText),
		RequestID:  requestID,
	}
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		e.Type = Authentication
		e.SuggestText = "Check authentication credentials and permissions"
	case statusCode == http.StatusNotFound:
		e.Type = NotFound
		e.SuggestText = "Verify the action's path resolves against the connection base URL"
	case statusCode == http.StatusTooManyRequests:
		e.Type = Http
		e.SuggestText = "Rate limited by upstream; will be retried per policy"
	case statusCode >= 500:
		e.Type = Http
		e.SuggestText = "Upstream server error; will be retried per policy if configured"
	default:
		e.Type = Http
		e.SuggestText = "Check request inputs against the action schema"
	}
	return e
}

// NewSSRFBlocked reports a request blocked by host policy, with any IP in
// the message redacted.
func NewSSRFBlocked(host string) *Error {
	return &Error{
		Type:        Forbidden,
		Message:     fmt.Sprintf("request blocked by security policy (host: %s)", redactIPAddresses(host)),
		SuggestText: "Add host to the connection's allowed_hosts if access is intentional",
	}
}
