package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRegistryBundlesEveryCollector(t *testing.T) {
	collectors := Registry()
	require.Len(t, collectors, 8)
}

func TestMustRegisterSucceedsOnFreshRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { MustRegister(reg) })
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)
	require.Panics(t, func() { MustRegister(reg) })
}

func TestExecutionsTotalIncrementsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)
	ExecutionsTotal.Reset()

	ExecutionsTotal.WithLabelValues("trn:openact:default:connection/http:svc-a", "success").Inc()
	metrics, err := reg.Gather()
	require.NoError(t, err)
	require.True(t, hasMetricFamily(metrics, "openact_executor_executions_total"))
}

func hasMetricFamily(families []*dto.MetricFamily, name string) bool {
	for _, f := range families {
		if f.GetName() == name {
			return true
		}
	}
	return false
}

func TestTracerIsNotNil(t *testing.T) {
	require.NotNil(t, Tracer)
}
