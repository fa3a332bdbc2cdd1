package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"marketnotify/internal/config"
)

// Tracer wraps an otel tracer. When tracing is disabled every Start* call
// returns the span already in ctx (a no-op span if none).
type Tracer struct {
	enabled  bool
	provider *trace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewTracer builds a jaeger-backed provider and installs it globally.
func NewTracer(cfg config.TracingConfig, version, env string) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{tracer: otel.Tracer(cfg.ServiceName)}, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(version),
			semconv.DeploymentEnvironmentKey.String(env),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		enabled:  true,
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName),
	}, nil
}

// NewNoopTracer for tests and tools that never export.
func NewNoopTracer() *Tracer {
	return &Tracer{}
}

func (t *Tracer) Enabled() bool {
	return t != nil && t.enabled
}

func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if !t.Enabled() {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// StartBatchSpan covers one user's batch inside an ingestion cycle.
func (t *Tracer) StartBatchSpan(ctx context.Context, userID string, events int) (context.Context, oteltrace.Span) {
	return t.StartSpan(ctx, "ingest.batch",
		attribute.String("user.id", userID),
		attribute.Int("batch.events", events),
	)
}

func (t *Tracer) StartClassifySpan(ctx context.Context, market, metric string) (context.Context, oteltrace.Span) {
	if !t.Enabled() {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "classifier.classify",
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String("market", market),
			attribute.String("metric_type", metric),
		),
	)
}

func (t *Tracer) StartDeliverySpan(ctx context.Context, channel string, notificationID int64) (context.Context, oteltrace.Span) {
	if !t.Enabled() {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "delivery."+channel,
		oteltrace.WithSpanKind(oteltrace.SpanKindProducer),
		oteltrace.WithAttributes(attribute.Int64("notification.id", notificationID)),
	)
}

func (t *Tracer) RecordError(span oteltrace.Span, err error) {
	if !t.Enabled() || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (t *Tracer) TraceID(ctx context.Context) string {
	sc := oteltrace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

func (t *Tracer) Shutdown(ctx context.Context) error {
	if !t.Enabled() || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
