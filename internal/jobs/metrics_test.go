package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("inventory:low_stock_scan").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("inventory:low_stock_scan").End(boom), boom)

	require.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("inventory:low_stock_scan", "success")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("inventory:low_stock_scan", "failure")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.failures.WithLabelValues("inventory:low_stock_scan")))
}

func TestScanCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SetLowStock(4)
	m.AddAlerts(2)
	m.AddAlerts(0)
	m.AddReclaimed(7)

	require.Equal(t, float64(4), testutil.ToFloat64(m.lowStock))
	require.Equal(t, float64(2), testutil.ToFloat64(m.alerts))
	require.Equal(t, float64(7), testutil.ToFloat64(m.reclaimed))

	var nilMetrics *Metrics
	require.NoError(t, nilMetrics.Track("x").End(nil))
	nilMetrics.SetLowStock(1)
}
