package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// DefaultMetricsInterval is how often the OTLP reader pushes.
const DefaultMetricsInterval = 60 * time.Second

// NewMeterProvider returns a meter provider for cfg, or a no-op provider when
// telemetry or metrics are off. With Prometheus selected the reader registers
// with reg (the default registerer when nil); otherwise metrics are pushed
// over OTLP. An SDK provider must be shut down by the caller.
func NewMeterProvider(ctx context.Context, cfg *Config, reg prometheus.Registerer) (metric.MeterProvider, error) {
	if !cfg.metricsEnabled() {
		slog.Debug("Metrics disabled, using no-op meter provider")
		return noop.NewMeterProvider(), nil
	}

	res, err := newResource(ctx, cfg.GetServiceName(), cfg.GetServiceVersion())
	if err != nil {
		return nil, err
	}

	reader, err := newMetricReader(ctx, cfg, reg)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	if cfg.Metrics.Prometheus {
		slog.Info("Metrics initialized", "exporter", "prometheus")
	} else {
		slog.Info("Metrics initialized", "exporter", "otlp", "endpoint", cfg.GetEndpoint())
	}

	return mp, nil
}

func newMetricReader(ctx context.Context, cfg *Config, reg prometheus.Registerer) (sdkmetric.Reader, error) {
	if cfg.Metrics.Prometheus {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		return exporter, nil
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.GetEndpoint())}
	if cfg.GetInsecure() {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}
	return sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(DefaultMetricsInterval)), nil
}
