// Package telemetry provides the Prometheus metrics and OpenTelemetry
// tracer shared across the HTTP Executor, Governance, and Command
// Orchestrator.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the span source for executor calls and command dispatch;
// call sites use Tracer.Start(ctx, name) directly.
var Tracer trace.Tracer = otel.Tracer("github.com/openact/openact")

var (
	// ExecutionsTotal counts HTTP Executor calls by connection TRN and outcome.
	ExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openact",
		Subsystem: "executor",
		Name:      "executions_total",
		Help:      "Total HTTP executor calls, labeled by connection and outcome.",
	}, []string{"connection_trn", "outcome"})

	// ExecutionDuration observes end-to-end executor call latency.
	ExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "openact",
		Subsystem: "executor",
		Name:      "execution_duration_seconds",
		Help:      "HTTP executor call latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"connection_trn"})

	// RetriesTotal counts retry attempts issued by the retry manager.
	RetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openact",
		Subsystem: "executor",
		Name:      "retries_total",
		Help:      "Total retry attempts, labeled by status class.",
	}, []string{"class"})

	// GovernanceDeniedTotal counts tool invocations blocked by governance.
	GovernanceDeniedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openact",
		Subsystem: "governance",
		Name:      "denied_total",
		Help:      "Total commands denied by governance allow/deny lists.",
	}, []string{"tool"})

	// OutboxDepth is the gauge for the undelivered outbox row count. No code
	// path sets it, so it reads zero.
	OutboxDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "openact",
		Subsystem: "outbox",
		Name:      "depth",
		Help:      "Number of outbox rows not yet successfully delivered.",
	})

	// RunsByStatus is incremented once per applied run transition, labeled
	// by the status entered. It is never decremented, so it counts
	// transitions, not the runs currently in each status.
	RunsByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "openact",
		Subsystem: "orchestrator",
		Name:      "runs",
		Help:      "Orchestrator run transitions, by the status entered.",
	}, []string{"status"})

	// HTTPRequestsTotal counts REST surface requests by route and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openact",
		Subsystem: "restapi",
		Name:      "requests_total",
		Help:      "Total REST surface requests, labeled by route and outcome.",
	}, []string{"route", "outcome"})

	// HTTPRequestDuration observes REST surface handler latency.
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "openact",
		Subsystem: "restapi",
		Name:      "request_duration_seconds",
		Help:      "REST surface handler latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

// Registry bundles every collector so callers register once.
func Registry() []prometheus.Collector {
	return []prometheus.Collector{
		ExecutionsTotal,
		ExecutionDuration,
		RetriesTotal,
		GovernanceDeniedTotal,
		OutboxDepth,
		RunsByStatus,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	}
}

// MustRegister registers every collector against reg, panicking on
// duplicate registration (programmer error, not a runtime condition).
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(Registry()...)
}
