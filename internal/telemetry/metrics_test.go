package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// collect gathers the named metric from the given scope, failing the test if absent.
func collect(t *testing.T, reader *sdkmetric.ManualReader, scopeName, metricName string) metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name != scopeName {
			continue
		}
		for _, m := range scope.Metrics {
			if m.Name == metricName {
				return m
			}
		}
	}
	require.Failf(t, "metric not found", "%s/%s", scopeName, metricName)
	return metricdata.Metrics{}
}

// sumByAttr maps an attribute's value to the data point sum
func sumByAttr(t *testing.T, m metricdata.Metrics, key attribute.Key) map[string]int64 {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum")

	out := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		v, found := dp.Attributes.Value(key)
		require.True(t, found)
		out[v.Emit()] += dp.Value
	}
	return out
}

func newReader(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return reader, mp
}

func TestNewReconcileMetrics(t *testing.T) {
	t.Parallel()

	t.Run("returns nil when provider is nil", func(t *testing.T) {
		t.Parallel()

		metrics, err := NewReconcileMetrics(nil)
		require.NoError(t, err)
		assert.Nil(t, metrics)
	})

	t.Run("nil recorder is a no-op", func(t *testing.T) {
		t.Parallel()

		var metrics *ReconcileMetrics
		ctx := context.Background()
		metrics.RecordPassDuration(ctx, time.Second, true)
		metrics.RecordCertificate(ctx, ActionIssued)
		metrics.RecordAssignment(ctx, false)
		metrics.RecordSkippedRuns(ctx, 3)
	})
}

func TestReconcileMetrics_RecordCertificate(t *testing.T) {
	t.Parallel()

	reader, mp := newReader(t)
	metrics, err := NewReconcileMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordCertificate(ctx, ActionIssued)
	metrics.RecordCertificate(ctx, ActionIssued)
	metrics.RecordCertificate(ctx, ActionReused)
	metrics.RecordCertificate(ctx, ActionFailed)

	m := collect(t, reader, ReconcileMetricsMeterName, "npm_step_reconciler_certificates")
	assert.Equal(t, map[string]int64{"issued": 2, "reused": 1, "failed": 1}, sumByAttr(t, m, "action"))
}

func TestReconcileMetrics_RecordPassDuration(t *testing.T) {
	t.Parallel()

	reader, mp := newReader(t)
	metrics, err := NewReconcileMetrics(mp)
	require.NoError(t, err)

	metrics.RecordPassDuration(context.Background(), 1500*time.Millisecond, true)

	m := collect(t, reader, ReconcileMetricsMeterName, "npm_step_reconciler_pass_duration_seconds")
	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "expected histogram data type")
	require.Len(t, hist.DataPoints, 1)
	assert.InDelta(t, 1.5, hist.DataPoints[0].Sum, 0.001)
}

func TestReconcileMetrics_RecordSkippedRuns(t *testing.T) {
	t.Parallel()

	reader, mp := newReader(t)
	metrics, err := NewReconcileMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordSkippedRuns(ctx, 0)
	metrics.RecordSkippedRuns(ctx, 4)
	metrics.RecordSkippedRuns(ctx, 1)

	m := collect(t, reader, ReconcileMetricsMeterName, "npm_step_reconciler_skipped_runs")
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(5), sum.DataPoints[0].Value)
}

func TestProxyManagerMetrics(t *testing.T) {
	t.Parallel()

	t.Run("returns nil when provider is nil", func(t *testing.T) {
		t.Parallel()

		metrics, err := NewProxyManagerMetrics(nil)
		require.NoError(t, err)
		assert.Nil(t, metrics)

		// Should not panic
		metrics.RecordAttempt(context.Background(), "list_proxy_hosts", "ok")
		metrics.RecordLogin(context.Background(), true)
	})

	t.Run("records attempts by outcome", func(t *testing.T) {
		t.Parallel()

		reader, mp := newReader(t)
		metrics, err := NewProxyManagerMetrics(mp)
		require.NoError(t, err)

		ctx := context.Background()
		metrics.RecordAttempt(ctx, "list_proxy_hosts", "retry")
		metrics.RecordAttempt(ctx, "list_proxy_hosts", "retry")
		metrics.RecordAttempt(ctx, "list_proxy_hosts", "ok")

		m := collect(t, reader, ProxyManagerMetricsMeterName, "npm_step_reconciler_proxy_manager_attempts")
		assert.Equal(t, map[string]int64{"retry": 2, "ok": 1}, sumByAttr(t, m, "outcome"))
	})
}
