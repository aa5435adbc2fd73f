// Package otel holds tracing helpers shared by the reconciler packages.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared across spans.
const (
	AttrDomain        = attribute.Key("proxy_host.domain")
	AttrProxyHostID   = attribute.Key("proxy_host.id")
	AttrCertificateID = attribute.Key("certificate.id")
	AttrOperation     = attribute.Key("npm.operation")
	AttrPlanSize      = attribute.Key("plan.size")
	AttrResultCount   = attribute.Key("result.count")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns the
// span already in ctx (a no-op span when there is none).
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks the span failed. The status
// description stays generic so endpoint details and credentials never land
// in the status field; the error event carries the detail.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
