package monitor

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "marketnotify"

// MetricsCollector prometheus instruments for the engine. A nil collector records nothing.
type MetricsCollector struct {
	decisionTotal       *prometheus.CounterVec
	cycleDuration       prometheus.Histogram
	batchEvents         prometheus.Histogram
	classifierTotal     *prometheus.CounterVec
	classifierFallback  *prometheus.CounterVec
	classifierDuration  *prometheus.HistogramVec
	classifierCacheHits *prometheus.CounterVec
	breakerState        *prometheus.GaugeVec
	reservationTotal    *prometheus.CounterVec
	deliveryTotal       *prometheus.CounterVec
	stateChangeTotal    *prometheus.CounterVec
	httpRequestTotal    *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	realtimeClients     prometheus.Gauge
}

// NewMetricsCollector registers every instrument on reg.
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	f := promauto.With(reg)

	return &MetricsCollector{
		decisionTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_decisions_total",
			Help:      "Events processed by final outcome reason.",
		}, []string{"reason"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_cycle_duration_seconds",
			Help:      "Wall time of one ingestion cycle across all users.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		batchEvents: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_batch_events",
			Help:      "Events per user batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		classifierTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_drafts_total",
			Help:      "Drafts produced by source.",
		}, []string{"source"}),
		classifierFallback: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_fallbacks_total",
			Help:      "Times the heuristic classifier was used, by cause.",
		}, []string{"cause"}),
		classifierDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classifier_duration_seconds",
			Help:      "Classification latency by source.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		classifierCacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_cache_requests_total",
			Help:      "Classification cache lookups by result.",
		}, []string{"result"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "0 closed, 1 open, 2 half-open.",
		}, []string{"name"}),
		reservationTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttle_reservations_total",
			Help:      "Throttle reservations by result.",
		}, []string{"result"}),
		deliveryTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Delivery attempts by channel and status.",
		}, []string{"channel", "status"}),
		stateChangeTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_state_changes_total",
			Help:      "Client state transitions by operation and whether anything changed.",
		}, []string{"operation", "changed"}),
		httpRequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		realtimeClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_clients",
			Help:      "Open in-app stream connections.",
		}),
	}
}

func (mc *MetricsCollector) RecordDecision(reason string) {
	if mc == nil {
		return
	}
	mc.decisionTotal.WithLabelValues(reason).Inc()
}

func (mc *MetricsCollector) RecordCycle(duration time.Duration) {
	if mc == nil {
		return
	}
	mc.cycleDuration.Observe(duration.Seconds())
}

func (mc *MetricsCollector) RecordBatchSize(events int) {
	if mc == nil {
		return
	}
	mc.batchEvents.Observe(float64(events))
}

func (mc *MetricsCollector) RecordClassification(source string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.classifierTotal.WithLabelValues(source).Inc()
	mc.classifierDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordFallback cause is one of degraded, error, disabled.
func (mc *MetricsCollector) RecordFallback(cause string) {
	if mc == nil {
		return
	}
	mc.classifierFallback.WithLabelValues(cause).Inc()
}

func (mc *MetricsCollector) RecordCacheLookup(hit bool) {
	if mc == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	mc.classifierCacheHits.WithLabelValues(result).Inc()
}

func (mc *MetricsCollector) SetBreakerState(name string, state int) {
	if mc == nil {
		return
	}
	mc.breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordReservation result is one of granted, denied, error.
func (mc *MetricsCollector) RecordReservation(result string) {
	if mc == nil {
		return
	}
	mc.reservationTotal.WithLabelValues(result).Inc()
}

func (mc *MetricsCollector) RecordDelivery(channel, status string) {
	if mc == nil {
		return
	}
	mc.deliveryTotal.WithLabelValues(channel, status).Inc()
}

func (mc *MetricsCollector) RecordStateChange(operation string, changed bool) {
	if mc == nil {
		return
	}
	mc.stateChangeTotal.WithLabelValues(operation, strconv.FormatBool(changed)).Inc()
}

func (mc *MetricsCollector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.httpRequestTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	mc.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (mc *MetricsCollector) SetRealtimeClients(n int) {
	if mc == nil {
		return
	}
	mc.realtimeClients.Set(float64(n))
}
