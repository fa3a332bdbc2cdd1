package delivery

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"

	"marketnotify/internal/model"
	"marketnotify/internal/monitor"
	"marketnotify/pkg/limiter"
	"marketnotify/pkg/log"
)

const defaultTimeout = 5 * time.Second

// Router delivers a persisted notification to each requested channel and
// records what happened. Failures never propagate to the caller.
type Router struct {
	channels map[model.Channel]Channel
	limiters map[model.Channel]*limiter.KeyedLimiter
	recorder StatusRecorder
	timeout  time.Duration
	metrics  *monitor.MetricsCollector
	tracer   *monitor.Tracer
}

// Option configures a Router
type Option func(*Router)

// WithTimeout bounds the rate limit wait plus the send for each channel.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRateLimit caps sends on ch across all users. rps <= 0 means unlimited.
func WithRateLimit(ch model.Channel, rps float64, burst int) Option {
	return func(r *Router) {
		r.limiters[ch] = limiter.NewKeyedLimiter(rps, burst, 0)
	}
}

func WithMetrics(m *monitor.MetricsCollector) Option {
	return func(r *Router) { r.metrics = m }
}

func WithTracer(t *monitor.Tracer) Option {
	return func(r *Router) { r.tracer = t }
}

// NewRouter recorder may be nil, outcomes are then only returned.
func NewRouter(recorder StatusRecorder, channels []Channel, opts ...Option) *Router {
	r := &Router{
		channels: make(map[model.Channel]Channel, len(channels)),
		limiters: make(map[model.Channel]*limiter.KeyedLimiter),
		recorder: recorder,
		timeout:  defaultTimeout,
	}
	for _, ch := range channels {
		r.channels[ch.Name()] = ch
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Channels lists the configured channel names.
func (r *Router) Channels() []model.Channel {
	names := make([]model.Channel, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	return names
}

// Deliver attempts every requested channel once, in order, and returns one
// status per distinct channel.
func (r *Router) Deliver(ctx context.Context, n *model.Notification, requested []model.Channel) []model.DeliveryStatus {
	ctx, span := r.tracer.StartSpan(ctx, "delivery.route",
		attribute.Int64("notification.id", n.ID),
		attribute.String("user.id", n.UserID),
	)
	defer span.End()

	seen := make(map[model.Channel]struct{}, len(requested))
	statuses := make([]model.DeliveryStatus, 0, len(requested))
	var errs error
	for _, name := range requested {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		status := r.deliverOne(ctx, n, name)
		statuses = append(statuses, status)
		r.metrics.RecordDelivery(string(name), string(status.Status))
		if status.Status == model.DeliveryFailed {
			errs = multierr.Append(errs, fmt.Errorf("%s: %s", name, status.Error))
		}
	}

	logger := log.Component("delivery").WithFields(map[string]interface{}{
		"notification_id": n.ID,
		"user_id":         n.UserID,
	})
	if errs != nil {
		r.tracer.RecordError(span, errs)
		logger.WithError(errs).Warnf("%d of %d channels failed", len(multierr.Errors(errs)), len(statuses))
	}

	if r.recorder != nil && len(statuses) > 0 {
		// a cancelled ingest still gets its outcome written
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		if err := r.recorder.UpdateDeliveryChannels(recordCtx, n.ID, statuses); err != nil {
			logger.WithError(err).Error("failed to record delivery outcome")
		}
	}
	return statuses
}

func (r *Router) deliverOne(ctx context.Context, n *model.Notification, name model.Channel) model.DeliveryStatus {
	status := model.DeliveryStatus{Channel: name}

	ch, ok := r.channels[name]
	if !ok {
		status.Status = model.DeliverySkipped
		status.Error = ErrChannelNotConfigured.Error()
		return status
	}

	ctx, span := r.tracer.StartDeliverySpan(ctx, string(name), n.ID)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if l, ok := r.limiters[name]; ok {
		if err := l.Wait(ctx, string(name)); err != nil {
			r.tracer.RecordError(span, err)
			status.Status = model.DeliveryFailed
			status.Error = "rate limited: " + err.Error()
			return status
		}
	}

	if err := ch.Send(ctx, n); err != nil {
		r.tracer.RecordError(span, err)
		status.Status = model.DeliveryFailed
		status.Error = err.Error()
		return status
	}
	status.Status = model.DeliveryDelivered
	return status
}
