// Package registry wires Connection and Action records to runnable
// connector implementations. It holds connector-kind-keyed factory maps, a
// read-mostly connection cache, and the single Execute entry point the
// REST and command-orchestrator surfaces both call into.
package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/openact/openact/internal/openact/errs"
	"github.com/openact/openact/internal/openact/store"
	"github.com/openact/openact/internal/openact/trn"
)

// Connection is a live handle to an external system, built once per
// ConnectionRecord and cached. Per §9's "Polymorphism over capabilities",
// every connector kind's Connection and Action expose the same
// trn/connector_kind/health_check/metadata capability set; the Registry
// never inspects variant-specific fields, only these methods.
type Connection interface {
	Trn() string
	ConnectorKind() string
	HealthCheck(ctx context.Context) error
	Metadata() map[string]any
}

// Action runs against a Connection with already-merged, validated input.
// It shares Connection's trn/connector_kind/health_check/metadata
// capabilities and adds execution and MCP tool-exposure operations.
type Action interface {
	Trn() string
	ConnectorKind() string
	HealthCheck(ctx context.Context, conn Connection) error
	Metadata() map[string]any
	ValidateInput(input map[string]any) error
	Execute(ctx context.Context, conn Connection, input map[string]any) (*ExecutionResult, error)
	MCPInputSchema() map[string]any
	MCPOutputSchema() map[string]any
	MCPWrapOutput(output map[string]any) map[string]any
	MCPAnnotations() map[string]any
}

// ExecutionResult is what Execute returns before orchestration-level
// metadata (duration_ms, action_trn, connector) is attached.
type ExecutionResult struct {
	Output map[string]any
}

// ConnectionFactory builds a Connection from a persisted ConnectionRecord.
type ConnectionFactory func(rec *store.ConnectionRecord) (Connection, error)

// ActionFactory builds an Action from a persisted ActionRecord.
type ActionFactory func(rec *store.ActionRecord) (Action, error)

// Registry holds per-ConnectorKind factories and a connection cache.
type Registry struct {
	st store.Store

	mu                 sync.RWMutex
	connectionFactories map[string]ConnectionFactory
	actionFactories     map[string]ActionFactory

	connMu    sync.RWMutex
	connCache map[string]Connection

	schemaMu    sync.RWMutex
	schemaCache map[string]schemaCacheEntry
	schemaTTL   time.Duration
}

type schemaCacheEntry struct {
	input, output map[string]any
	expiresAt     time.Time
}

// New builds an empty Registry bound to st. schemaTTL<=0 defaults the
// derived-MCP-schema cache to 60s.
func New(st store.Store, schemaTTL time.Duration) *Registry {
	if schemaTTL <= 0 {
		schemaTTL = 60 * time.Second
	}
	return &Registry{
		st:                  st,
		connectionFactories: make(map[string]ConnectionFactory),
		actionFactories:     make(map[string]ActionFactory),
		connCache:           make(map[string]Connection),
		schemaCache:         make(map[string]schemaCacheEntry),
		schemaTTL:           schemaTTL,
	}
}

// RegisterConnector adds a connector kind's factory pair. Registration is
// additive; calling it twice for the same kind overwrites the prior entry.
func (r *Registry) RegisterConnector(kind string, connFactory ConnectionFactory, actionFactory ActionFactory) {
	kind = trn.CanonicalizeConnectorKind(kind)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectionFactories[kind] = connFactory
	r.actionFactories[kind] = actionFactory
}

// ClearConnectionCache drops every cached Connection, forcing the next
// lookup to rebuild from its ConnectionRecord.
func (r *Registry) ClearConnectionCache() {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	r.connCache = make(map[string]Connection)
}

func (r *Registry) getOrCreateConnection(ctx context.Context, connectionTrn string) (Connection, string, error) {
	r.connMu.RLock()
	cached, ok := r.connCache[connectionTrn]
	r.connMu.RUnlock()
	if ok {
		return cached, cached.ConnectorKind(), nil
	}

	rec, err := r.st.GetConnection(ctx, connectionTrn)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, "", errs.NewNotFound("connection not found")
		}
		return nil, "", errs.NewInternal(err)
	}

	kind := trn.CanonicalizeConnectorKind(rec.Connector)
	r.mu.RLock()
	factory, ok := r.connectionFactories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, "", errs.NewInvalidConfig("connector not registered: " + rec.Connector)
	}

	conn, err := factory(rec)
	if err != nil {
		return nil, "", errs.NewInvalidConfig("failed to build connection: " + err.Error())
	}

	r.connMu.Lock()
	r.connCache[connectionTrn] = conn
	r.connMu.Unlock()

	return conn, kind, nil
}

func (r *Registry) buildAction(kind string, rec *store.ActionRecord) (Action, error) {
	r.mu.RLock()
	factory, ok := r.actionFactories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.NewInvalidConfig("connector not registered: " + kind)
	}
	return factory(rec)
}

// Execute runs the spec's five-step action dispatch: fetch, connect,
// instantiate, validate, time-and-wrap.
func (r *Registry) Execute(ctx context.Context, actionTrnStr string, input map[string]any) (*ExecutionResult, map[string]any, error) {
	rec, err := r.st.GetAction(ctx, actionTrnStr)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil, errs.NewNotFound("action not found")
		}
		return nil, nil, errs.NewInternal(err)
	}

	conn, kind, err := r.getOrCreateConnection(ctx, rec.ConnectionTrn)
	if err != nil {
		return nil, nil, err
	}

	action, err := r.buildAction(kind, rec)
	if err != nil {
		return nil, nil, err
	}

	if err := action.ValidateInput(input); err != nil {
		return nil, nil, errs.NewInvalidInput(err.Error())
	}

	started := time.Now()
	result, err := action.Execute(ctx, conn, input)
	durationMs := time.Since(started).Milliseconds()

	metadata := map[string]any{
		"duration_ms": durationMs,
		"action_trn":  actionTrnStr,
		"connector":   kind,
	}
	if err != nil {
		return nil, metadata, err
	}
	result.Output = action.MCPWrapOutput(result.Output)
	return result, metadata, nil
}

// DeriveMCPSchemas returns the cached or freshly-derived input/output JSON
// schema pair for an action, keyed by (trn, version) with a TTL.
func (r *Registry) DeriveMCPSchemas(actionTrnStr string) (inputSchema, outputSchema map[string]any, err error) {
	parsed, parseErr := trn.ParseAction(actionTrnStr)
	if parseErr != nil {
		return nil, nil, errs.NewInvalidInput("malformed action trn: " + parseErr.Error())
	}
	cacheKey := cacheKeyFor(parsed)

	r.schemaMu.RLock()
	entry, ok := r.schemaCache[cacheKey]
	r.schemaMu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.input, entry.output, nil
	}

	ctx := context.Background()
	rec, getErr := r.st.GetAction(ctx, actionTrnStr)
	if getErr != nil {
		if getErr == store.ErrNotFound {
			return nil, nil, errs.NewNotFound("action not found")
		}
		return nil, nil, errs.NewInternal(getErr)
	}

	kind := trn.CanonicalizeConnectorKind(rec.Connector)
	action, buildErr := r.buildAction(kind, rec)
	if buildErr != nil {
		return nil, nil, buildErr
	}

	inputSchema, outputSchema = action.MCPInputSchema(), action.MCPOutputSchema()

	r.schemaMu.Lock()
	r.schemaCache[cacheKey] = schemaCacheEntry{input: inputSchema, output: outputSchema, expiresAt: time.Now().Add(r.schemaTTL)}
	r.schemaMu.Unlock()

	return inputSchema, outputSchema, nil
}

func cacheKeyFor(t trn.ActionTrn) string {
	b, _ := json.Marshal(struct {
		Trn     string `json:"trn"`
		Version int64  `json:"version"`
	}{Trn: t.String(), Version: t.Version})
	return string(b)
}
