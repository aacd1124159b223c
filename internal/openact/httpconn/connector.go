// Connector wires HttpConnection/HttpAction into the registry's opaque
// Connection/Action capability interfaces: parsing stored JSON config,
// dispatching execution through the Executor, and deriving the MCP
// input/output schema and annotations for each action.
package httpconn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/openact/openact/internal/openact/errs"
	"github.com/openact/openact/internal/openact/registry"
	"github.com/openact/openact/internal/openact/store"
)

// Connector adapts an Executor + AuthManager into the
// registry.ConnectionFactory / registry.ActionFactory pair for connector
// kind "http".
type Connector struct {
	Executor *Executor
}

// NewConnector builds the http connector's factory pair source.
func NewConnector(executor *Executor) *Connector {
	return &Connector{Executor: executor}
}

// connectionHandle is the registry.Connection implementation for "http".
type connectionHandle struct {
	trn  string
	conn *HttpConnection
}

func (c *connectionHandle) Trn() string           { return c.trn }
func (c *connectionHandle) ConnectorKind() string { return "http" }

// Metadata reports the connection's static shape: no credentials, only
// what a caller would need to identify which external system this is.
func (c *connectionHandle) Metadata() map[string]any {
	return map[string]any{"connector": "http", "base_url": c.conn.BaseURL}
}

// HealthCheck issues a HEAD request against the connection's base URL.
// Any response, including a non-2xx one, counts as reachable; only a
// transport-level failure is reported as unhealthy.
func (c *connectionHandle) HealthCheck(ctx context.Context) error {
	if c.conn.BaseURL == "" {
		return errs.NewInvalidConfig("httpconn: connection has no base_url to health-check")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.conn.BaseURL, nil)
	if err != nil {
		return errs.NewInvalidConfig("httpconn: malformed base_url: " + err.Error())
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &errs.Error{Type: errs.Connection, Message: "httpconn: health check failed", Cause: err}
	}
	defer resp.Body.Close()
	return nil
}

// actionHandle is the registry.Action implementation for "http".
type actionHandle struct {
	trn        string
	action     *HttpAction
	executor   *Executor
	mcpEnabled bool
	inputSpec  map[string]any
}

// ConnectionFactory builds an HttpConnection from a persisted
// ConnectionRecord, whose config_json is the connector-specific shape
// described by §4.4.1's Connection-layer columns.
func (c *Connector) ConnectionFactory(rec *store.ConnectionRecord) (registry.Connection, error) {
	var raw rawConnectionConfig
	if err := json.Unmarshal([]byte(rec.ConfigJSON), &raw); err != nil {
		return nil, errs.NewInvalidConfig(fmt.Sprintf("httpconn: malformed connection config: %v", err))
	}
	conn, err := raw.toHttpConnection(rec.Trn)
	if err != nil {
		return nil, err
	}
	return &connectionHandle{trn: rec.Trn, conn: conn}, nil
}

// ActionFactory builds an HttpAction from a persisted ActionRecord.
func (c *Connector) ActionFactory(rec *store.ActionRecord) (registry.Action, error) {
	var raw rawActionConfig
	if err := json.Unmarshal([]byte(rec.ConfigJSON), &raw); err != nil {
		return nil, errs.NewInvalidConfig(fmt.Sprintf("httpconn: malformed action config: %v", err))
	}
	action, err := raw.toHttpAction(rec.Trn)
	if err != nil {
		return nil, err
	}
	return &actionHandle{trn: rec.Trn, action: action, executor: c.Executor, mcpEnabled: rec.MCPEnabled, inputSpec: raw.InputSchema}, nil
}

func (a *actionHandle) Trn() string           { return a.trn }
func (a *actionHandle) ConnectorKind() string { return "http" }

// Metadata reports the action's invocation shape: method, path, and
// whether it's exposed over MCP.
func (a *actionHandle) Metadata() map[string]any {
	return map[string]any{
		"method":      a.action.Method,
		"path":        a.action.Path,
		"mcp_enabled": a.mcpEnabled,
	}
}

// HealthCheck has no action-specific behavior for the http connector; it
// delegates to the Connection it would be invoked against.
func (a *actionHandle) HealthCheck(ctx context.Context, conn registry.Connection) error {
	return conn.HealthCheck(ctx)
}

// ValidateInput performs the compile-and-validate JSON-Schema check named
// in the non-goals (structural validation only, no full dialect support).
func (a *actionHandle) ValidateInput(input map[string]any) error {
	if a.inputSpec == nil {
		return nil
	}
	return validateAgainstSchema(a.inputSpec, input)
}

// Execute merges configuration layers, runs the request, and returns the
// merged HTTP response as the action's output map.
func (a *actionHandle) Execute(ctx context.Context, conn registry.Connection, input map[string]any) (*registry.ExecutionResult, error) {
	ch, ok := conn.(*connectionHandle)
	if !ok {
		return nil, errs.NewInternal(fmt.Errorf("httpconn: unexpected connection type %T", conn))
	}

	merged, err := Merge(ch.conn, a.action, inputFromMap(input))
	if err != nil {
		return nil, err
	}

	resp, err := a.executor.Execute(ctx, ch.trn, merged)
	if err != nil {
		return nil, err
	}

	return &registry.ExecutionResult{Output: map[string]any{
		"status_code":       resp.StatusCode,
		"headers":           resp.Headers,
		"body":              resp.Body,
		"execution_time_ms": resp.ExecutionTimeMs,
	}}, nil
}

// MCPInputSchema derives a JSON-Schema for the action's input shape.
func (a *actionHandle) MCPInputSchema() map[string]any {
	if a.inputSpec != nil {
		return a.inputSpec
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"headers": map[string]any{"type": "object"},
			"query":   map[string]any{"type": "object"},
		},
	}
}

// MCPOutputSchema derives a JSON-Schema for the action's output shape.
func (a *actionHandle) MCPOutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status_code":       map[string]any{"type": "integer"},
			"headers":           map[string]any{"type": "object"},
			"body":              map[string]any{},
			"execution_time_ms": map[string]any{"type": "integer"},
		},
	}
}

// MCPWrapOutput wraps a raw ExecutionResult.Output for MCP tool-call
// consumers; for the http connector the output is already tool-shaped.
func (a *actionHandle) MCPWrapOutput(output map[string]any) map[string]any { return output }

// MCPAnnotations derives MCP tool annotations from the action's HTTP
// method: GET/HEAD/OPTIONS are read-only, every other method is treated as
// potentially state-changing.
func (a *actionHandle) MCPAnnotations() map[string]any {
	method := strings.ToUpper(a.action.Method)
	readOnly := method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
	return map[string]any{
		"readOnlyHint":    readOnly,
		"destructiveHint": !readOnly,
		"requiresAuth":    a.action.Auth != nil,
	}
}

func inputFromMap(input map[string]any) Input {
	in := Input{}
	if input == nil {
		return in
	}
	if h, ok := input["headers"].(map[string]any); ok {
		in.Headers = h
	}
	if q, ok := input["query"].(map[string]any); ok {
		in.Query = q
	}
	return in
}
