// Package restapi implements OpenAct's HTTP surface: action discovery and
// direct execution, inline ad hoc execution, and the Stepflow command
// orchestrator's REST front door. It mirrors the daemon endpoint package's
// net/http.ServeMux routing and per-request Prometheus instrumentation,
// with its own {success,data,metadata}/{success:false,error,metadata}
// response envelope.
package restapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/openact/openact/internal/openact/config"
	"github.com/openact/openact/internal/openact/errs"
	"github.com/openact/openact/internal/openact/httpconn"
	"github.com/openact/openact/internal/openact/orchestrator"
	"github.com/openact/openact/internal/openact/registry"
	"github.com/openact/openact/internal/openact/store"
	"github.com/openact/openact/internal/openact/telemetry"
)

// Server holds the collaborators the REST surface dispatches into.
type Server struct {
	cfg        *config.Config
	reg        *registry.Registry
	st         store.Store
	governance *orchestrator.Governance
	commands   *orchestrator.CommandAdapter
	inline     *httpconn.Connector
	logger     *slog.Logger
}

// New builds a Server. inline may be nil to disable /api/v1/execute-inline
// (no ad hoc HTTP connector wired).
func New(cfg *config.Config, reg *registry.Registry, st store.Store, governance *orchestrator.Governance, commands *orchestrator.CommandAdapter, inline *httpconn.Connector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, reg: reg, st: st, governance: governance, commands: commands, inline: inline, logger: logger.With("component", "restapi")}
}

// Routes builds the REST surface's http.ServeMux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/kinds", s.instrument("kinds", s.handleKinds))
	mux.HandleFunc("GET /api/v1/actions", s.instrument("actions.list", s.handleListActions))
	mux.HandleFunc("GET /api/v1/actions/", s.instrument("actions.schema", s.handleActionSchema))
	mux.HandleFunc("POST /api/v1/actions/", s.instrument("actions.execute", s.handleActionExecute))
	mux.HandleFunc("POST /api/v1/execute", s.instrument("execute", s.handleExecute))
	mux.HandleFunc("POST /api/v1/execute-inline", s.instrument("execute_inline", s.handleExecuteInline))
	mux.HandleFunc("POST /api/v1/stepflow/commands", s.instrument("stepflow.commands", s.handleStepflowCommand))
	mux.HandleFunc("POST /api/v1/stepflow/commands/", s.instrument("stepflow.commands.cancel", s.handleStepflowCancel))
	return mux
}

// instrument wraps h with the route's request counter and latency
// histogram, labeling outcome by whether the handler wrote a 2xx status.
func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		telemetry.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(started).Seconds())
		outcome := "success"
		if sw.status >= 400 {
			outcome = "error"
		}
		telemetry.HTTPRequestsTotal.WithLabelValues(route, outcome).Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// resolveTenant enforces §6.4's X-Tenant rule: required when
// OPENACT_REQUIRE_TENANT is set, otherwise defaulting to "default".
func (s *Server) resolveTenant(r *http.Request) (string, error) {
	tenant := r.Header.Get("X-Tenant")
	if tenant == "" {
		if s.cfg != nil && s.cfg.RequireTenant {
			return "", errs.NewInvalidInput("restapi: X-Tenant header is required")
		}
		return "default", nil
	}
	return tenant, nil
}

func ctxFrom(r *http.Request) context.Context { return r.Context() }
