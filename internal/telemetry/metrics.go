package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// ReconcileMetricsMeterName is the name used for the reconciliation meter
	ReconcileMetricsMeterName = "github.com/stacklok/npm-step-reconciler/reconciler"

	// ProxyManagerMetricsMeterName is the name used for the proxy manager client meter
	ProxyManagerMetricsMeterName = "github.com/stacklok/npm-step-reconciler/npm"
)

// CertificateAction labels what a pass did for one proxy host.
type CertificateAction string

const (
	ActionIssued  CertificateAction = "issued"
	ActionRenewed CertificateAction = "renewed"
	ActionReused  CertificateAction = "reused"
	ActionFailed  CertificateAction = "failed"
)

// ReconcileMetrics holds the instruments recorded by reconciliation passes.
// A nil *ReconcileMetrics is a valid no-op recorder.
type ReconcileMetrics struct {
	passDuration metric.Float64Histogram
	certificates metric.Int64Counter
	assignments  metric.Int64Counter
	skippedRuns  metric.Int64Counter
}

// NewReconcileMetrics creates the reconciliation instruments.
// If provider is nil, it returns nil (no-op metrics).
func NewReconcileMetrics(provider metric.MeterProvider) (*ReconcileMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ReconcileMetricsMeterName)

	passDuration, err := meter.Float64Histogram(
		"npm_step_reconciler_pass_duration_seconds",
		metric.WithDescription("Duration of reconciliation passes in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	certificates, err := meter.Int64Counter(
		"npm_step_reconciler_certificates",
		metric.WithDescription("Certificates handled per proxy host, by action"),
		metric.WithUnit("{certificate}"),
	)
	if err != nil {
		return nil, err
	}

	assignments, err := meter.Int64Counter(
		"npm_step_reconciler_assignments",
		metric.WithDescription("Certificate assignments to proxy hosts, by result"),
		metric.WithUnit("{assignment}"),
	)
	if err != nil {
		return nil, err
	}

	skippedRuns, err := meter.Int64Counter(
		"npm_step_reconciler_skipped_runs",
		metric.WithDescription("Scheduled runs skipped because the loop stalled"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	return &ReconcileMetrics{
		passDuration: passDuration,
		certificates: certificates,
		assignments:  assignments,
		skippedRuns:  skippedRuns,
	}, nil
}

// RecordPassDuration records how long one reconciliation pass took
func (m *ReconcileMetrics) RecordPassDuration(ctx context.Context, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.passDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordCertificate counts one certificate outcome
func (m *ReconcileMetrics) RecordCertificate(ctx context.Context, action CertificateAction) {
	if m == nil {
		return
	}
	m.certificates.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(action))))
}

// RecordAssignment counts one assignment attempt
func (m *ReconcileMetrics) RecordAssignment(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	m.assignments.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordSkippedRuns adds the number of due instants the scheduler dropped
func (m *ReconcileMetrics) RecordSkippedRuns(ctx context.Context, skipped int) {
	if m == nil || skipped <= 0 {
		return
	}
	m.skippedRuns.Add(ctx, int64(skipped))
}

// ProxyManagerMetrics holds the instruments recorded by the proxy manager client.
// A nil *ProxyManagerMetrics is a valid no-op recorder.
type ProxyManagerMetrics struct {
	attempts metric.Int64Counter
	logins   metric.Int64Counter
}

// NewProxyManagerMetrics creates the client instruments.
// If provider is nil, it returns nil (no-op metrics).
func NewProxyManagerMetrics(provider metric.MeterProvider) (*ProxyManagerMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ProxyManagerMetricsMeterName)

	attempts, err := meter.Int64Counter(
		"npm_step_reconciler_proxy_manager_attempts",
		metric.WithDescription("Proxy manager API attempts, by operation and outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	logins, err := meter.Int64Counter(
		"npm_step_reconciler_proxy_manager_logins",
		metric.WithDescription("Proxy manager login attempts, by result"),
		metric.WithUnit("{login}"),
	)
	if err != nil {
		return nil, err
	}

	return &ProxyManagerMetrics{attempts: attempts, logins: logins}, nil
}

// RecordAttempt counts one API attempt. Outcome is "ok", "retry" or "error".
func (m *ProxyManagerMetrics) RecordAttempt(ctx context.Context, operation, outcome string) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

// RecordLogin counts one login attempt
func (m *ProxyManagerMetrics) RecordLogin(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}
