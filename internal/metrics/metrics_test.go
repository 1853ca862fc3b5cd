package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func readValue(t *testing.T, m prometheus.Metric) *dto.Metric {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	return &out
}

func TestQueriesTotalIncrements(t *testing.T) {
	QueriesTotal.WithLabelValues("ok").Inc()
	got := readValue(t, QueriesTotal.WithLabelValues("ok"))
	require.GreaterOrEqual(t, got.GetCounter().GetValue(), 1.0)
}

func TestAdminCommandsTotalLabelsByCommandAndOutcome(t *testing.T) {
	AdminCommandsTotal.WithLabelValues("VERSION", "ok").Inc()
	got := readValue(t, AdminCommandsTotal.WithLabelValues("VERSION", "ok"))
	require.GreaterOrEqual(t, got.GetCounter().GetValue(), 1.0)
}

func TestAdminConnectionsActiveGauge(t *testing.T) {
	AdminConnectionsActive.Set(0)
	AdminConnectionsActive.Inc()
	got := readValue(t, AdminConnectionsActive)
	require.Equal(t, 1.0, got.GetGauge().GetValue())
	AdminConnectionsActive.Dec()
}

func TestCompressionDictOverflowTotalIsACounter(t *testing.T) {
	CompressionDictOverflowTotal.Inc()
	got := readValue(t, CompressionDictOverflowTotal)
	require.GreaterOrEqual(t, got.GetCounter().GetValue(), 1.0)
}

func TestQueryDurationObserve(t *testing.T) {
	QueryDuration.Observe(0.000123)
	got := readValue(t, QueryDuration)
	require.GreaterOrEqual(t, got.GetHistogram().GetSampleCount(), uint64(1))
}
