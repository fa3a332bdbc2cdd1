package classifier

import (
	"context"
	"time"

	"marketnotify/internal/model"
	"marketnotify/internal/monitor"
	"marketnotify/pkg/log"
)

// FeatureAI degrade switch name that forces heuristic-only classification.
const FeatureAI = "classifier.ai"

// DegradeChecker reports whether a feature is switched off.
type DegradeChecker interface {
	IsDegraded(ctx context.Context, feature string) bool
}

// Fallback tries primary and falls back to secondary on any primary failure.
// It only returns an error when ctx is done.
type Fallback struct {
	primary   Classifier
	secondary Classifier
	degrade   DegradeChecker
	metrics   *monitor.MetricsCollector
	tracer    *monitor.Tracer
}

// NewFallback primary may be nil, in which case secondary is always used.
func NewFallback(primary, secondary Classifier, degrade DegradeChecker, metrics *monitor.MetricsCollector, tracer *monitor.Tracer) *Fallback {
	if secondary == nil {
		secondary = NewHeuristic()
	}
	return &Fallback{
		primary:   primary,
		secondary: secondary,
		degrade:   degrade,
		metrics:   metrics,
		tracer:    tracer,
	}
}

func (f *Fallback) Classify(ctx context.Context, event model.MarketChangeEvent, uc model.UserContext) (model.NotificationDraft, error) {
	if err := ctx.Err(); err != nil {
		return model.NotificationDraft{}, err
	}

	ctx, span := f.tracer.StartClassifySpan(ctx, event.Market, string(event.MetricType))
	defer span.End()

	switch {
	case f.primary == nil:
		return f.useSecondary(ctx, event, uc, "disabled")
	case f.degrade != nil && f.degrade.IsDegraded(ctx, FeatureAI):
		return f.useSecondary(ctx, event, uc, "degraded")
	}

	start := time.Now()
	draft, err := f.primary.Classify(ctx, event, uc)
	if err == nil {
		f.metrics.RecordClassification(string(draft.Source), time.Since(start))
		return draft, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return model.NotificationDraft{}, ctxErr
	}

	f.tracer.RecordError(span, err)
	log.Component("classifier").WithFields(map[string]interface{}{
		"user_id":     event.UserID,
		"market":      event.Market,
		"metric_type": event.MetricType,
		"error":       err.Error(),
	}).Warn("ai classification failed, using heuristic")

	return f.useSecondary(ctx, event, uc, "error")
}

func (f *Fallback) useSecondary(ctx context.Context, event model.MarketChangeEvent, uc model.UserContext, cause string) (model.NotificationDraft, error) {
	f.metrics.RecordFallback(cause)

	start := time.Now()
	draft, err := f.secondary.Classify(ctx, event, uc)
	if err != nil {
		return model.NotificationDraft{}, err
	}
	f.metrics.RecordClassification(string(draft.Source), time.Since(start))
	return draft, nil
}
