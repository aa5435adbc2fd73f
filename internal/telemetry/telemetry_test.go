package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"k8s.io/utils/ptr"
)

// collector accepts OTLP exports so shutdown flushes succeed.
func collector(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return strings.TrimPrefix(server.URL, "http://")
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		config        *Config
		sdkTracer     bool
		sdkMeter      bool
		errorContains string
	}{
		{name: "nil config", config: nil},
		{name: "disabled", config: &Config{Enabled: false, Tracing: &TracingConfig{Enabled: true}}},
		{
			name: "enabled with both signals off",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: false},
				Metrics: &MetricsConfig{Enabled: false},
			},
		},
		{
			name: "invalid sampling",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(1.5)},
			},
			errorContains: "invalid telemetry configuration",
		},
		{
			name: "tracing only",
			config: &Config{
				Enabled:  true,
				Insecure: true,
				Tracing:  &TracingConfig{Enabled: true, Sampling: ptr.To(1.0)},
			},
			sdkTracer: true,
		},
		{
			name: "tracing and prometheus metrics",
			config: &Config{
				Enabled:  true,
				Insecure: true,
				Tracing:  &TracingConfig{Enabled: true},
				Metrics:  &MetricsConfig{Enabled: true, Prometheus: true},
			},
			sdkTracer: true,
			sdkMeter:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			if tt.config != nil && tt.config.Enabled {
				tt.config.Endpoint = collector(t)
			}

			tel, err := New(ctx, tt.config)
			if tt.errorContains != "" {
				require.ErrorContains(t, err, tt.errorContains)
				return
			}
			require.NoError(t, err)

			if tt.sdkTracer {
				assert.IsType(t, &sdktrace.TracerProvider{}, tel.TracerProvider())
			} else {
				assert.IsType(t, tracenoop.TracerProvider{}, tel.TracerProvider())
			}
			if tt.sdkMeter {
				assert.IsType(t, &sdkmetric.MeterProvider{}, tel.MeterProvider())
			} else {
				assert.IsType(t, noop.MeterProvider{}, tel.MeterProvider())
			}

			require.NoError(t, tel.Shutdown(ctx))
		})
	}
}

func TestTelemetry_MetricsHandler(t *testing.T) {
	t.Parallel()

	t.Run("nil without prometheus", func(t *testing.T) {
		t.Parallel()
		tel, err := New(context.Background(), nil)
		require.NoError(t, err)
		assert.Nil(t, tel.MetricsHandler())
	})

	t.Run("serves recorded instruments", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		tel, err := New(ctx, &Config{
			Enabled: true,
			Metrics: &MetricsConfig{Enabled: true, Prometheus: true},
		})
		require.NoError(t, err)
		defer func() { require.NoError(t, tel.Shutdown(ctx)) }()

		metrics, err := NewReconcileMetrics(tel.MeterProvider())
		require.NoError(t, err)
		metrics.RecordCertificate(ctx, ActionIssued)

		handler := tel.MetricsHandler()
		require.NotNil(t, handler)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "npm_step_reconciler_certificates_total")
	})
}

func TestTelemetry_ShutdownTwice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tel, err := New(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, tel.Shutdown(ctx))
	require.NoError(t, tel.Shutdown(ctx))
}
