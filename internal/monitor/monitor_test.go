package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketnotify/internal/config"
)

func TestMetricsCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollector(reg)

	mc.RecordDecision("allowed")
	mc.RecordDecision("allowed")
	mc.RecordDecision("rate_limited")
	mc.RecordClassification("heuristic", 10*time.Millisecond)
	mc.RecordFallback("error")
	mc.RecordCacheLookup(true)
	mc.RecordCacheLookup(false)
	mc.RecordReservation("granted")
	mc.RecordDelivery("in_app", "delivered")
	mc.RecordStateChange("mark_read", true)
	mc.RecordHTTPRequest("GET", "/api/v1/notifications", 200, time.Millisecond)
	mc.SetRealtimeClients(3)
	mc.SetBreakerState("classifier.ai", 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(mc.decisionTotal.WithLabelValues("allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.decisionTotal.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.classifierFallback.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.classifierCacheHits.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.deliveryTotal.WithLabelValues("in_app", "delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.stateChangeTotal.WithLabelValues("mark_read", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.httpRequestTotal.WithLabelValues("GET", "/api/v1/notifications", "200")))
	assert.Equal(t, 3.0, testutil.ToFloat64(mc.realtimeClients))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.breakerState.WithLabelValues("classifier.ai")))
}

func TestMetricsCollectorIsolatedRegistries(t *testing.T) {
	// Separate registries must not collide on metric names.
	assert.NotPanics(t, func() {
		NewMetricsCollector(prometheus.NewRegistry())
		NewMetricsCollector(prometheus.NewRegistry())
	})
}

func TestNilCollectorIsSafe(t *testing.T) {
	var mc *MetricsCollector
	assert.NotPanics(t, func() {
		mc.RecordDecision("allowed")
		mc.RecordCycle(time.Second)
		mc.RecordBatchSize(3)
		mc.RecordDelivery("email", "failed")
		mc.RecordHTTPRequest("GET", "/", 500, 0)
		mc.SetRealtimeClients(0)
	})
}

func TestDisabledTracer(t *testing.T) {
	tr, err := NewTracer(config.TracingConfig{ServiceName: "marketnotify"}, "test", "test")
	require.NoError(t, err)
	assert.False(t, tr.Enabled())

	ctx, span := tr.StartBatchSpan(context.Background(), "u1", 2)
	assert.False(t, span.SpanContext().IsValid())
	assert.Empty(t, tr.TraceID(ctx))

	tr.RecordError(span, errors.New("boom"))
	span.End()
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestNilTracer(t *testing.T) {
	var tr *Tracer
	ctx, span := tr.StartDeliverySpan(context.Background(), "push", 1)
	defer span.End()
	assert.NotNil(t, ctx)
	assert.NoError(t, tr.Shutdown(context.Background()))
}
