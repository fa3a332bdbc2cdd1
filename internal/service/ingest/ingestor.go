// Package ingest drives market-change events through classification, policy,
// reservation, persistence and delivery.
package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketnotify/internal/model"
	"marketnotify/internal/monitor"
	"marketnotify/internal/service/classifier"
	"marketnotify/internal/service/policy"
	"marketnotify/internal/service/throttle"
	"marketnotify/pkg/log"
	"marketnotify/pkg/utils"
)

// DefaultWorkers bounds how many users are processed at once.
const DefaultWorkers = 8

// PreferenceSource returns a user's preferences, defaults included.
type PreferenceSource interface {
	Get(ctx context.Context, userID string) (*model.NotificationPreferences, error)
}

// NotificationWriter persists allowed notifications.
type NotificationWriter interface {
	Create(ctx context.Context, n *model.Notification) error
}

// Deliverer hands a persisted notification to the user's channels.
type Deliverer interface {
	Deliver(ctx context.Context, n *model.Notification, channels []model.Channel) []model.DeliveryStatus
}

// IDGenerator issues notification ids.
type IDGenerator interface {
	NextID() int64
}

// ContextProvider supplies what the classifier knows about a user.
type ContextProvider interface {
	UserContext(ctx context.Context, userID string, prefs *model.NotificationPreferences) (model.UserContext, error)
}

// Dependencies of an Ingestor. Locker, Context, Metrics and Tracer are optional.
type Dependencies struct {
	Classifier  classifier.Classifier
	Preferences PreferenceSource
	Tracker     throttle.Tracker
	Store       NotificationWriter
	Router      Deliverer
	IDs         IDGenerator
	Locker      UserLocker
	Context     ContextProvider
	Metrics     *monitor.MetricsCollector
	Tracer      *monitor.Tracer
}

// EventOutcome what happened to one event.
type EventOutcome struct {
	Event          model.MarketChangeEvent  `json:"event"`
	Draft          *model.NotificationDraft `json:"draft,omitempty"`
	Decision       model.Decision           `json:"decision"`
	NotificationID int64                    `json:"notification_id,omitempty,string"`
	Delivery       []model.DeliveryStatus   `json:"delivery,omitempty"`
}

// IngestResult outcome of one user's batch.
type IngestResult struct {
	RunID      string         `json:"run_id"`
	UserID     string         `json:"user_id"`
	Outcomes   []EventOutcome `json:"outcomes"`
	Persisted  int            `json:"persisted"`
	Suppressed int            `json:"suppressed"`
}

func (r *IngestResult) add(o EventOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	if o.Decision.Allowed {
		r.Persisted++
	} else {
		r.Suppressed++
	}
}

// Ingestor processes batches with a bounded worker pool across users and
// strictly in order within a user.
type Ingestor struct {
	deps    Dependencies
	workers int
	now     func() time.Time
}

func NewIngestor(deps Dependencies, workers int) *Ingestor {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if deps.Context == nil {
		deps.Context = FocusContext{}
	}
	return &Ingestor{
		deps:    deps,
		workers: workers,
		now:     time.Now,
	}
}

// ProcessBatches runs one monitoring cycle. Batches for the same user are
// merged so that user is handled by a single worker. Results follow the order
// in which users first appear.
func (i *Ingestor) ProcessBatches(ctx context.Context, batches []model.UserBatch) []IngestResult {
	start := time.Now()
	runID := uuid.NewString()
	ctx, span := i.deps.Tracer.StartSpan(ctx, "ingest.cycle")
	defer span.End()

	order := make([]string, 0, len(batches))
	byUser := make(map[string][]model.MarketChangeEvent, len(batches))
	for _, b := range batches {
		if _, ok := byUser[b.UserID]; !ok {
			order = append(order, b.UserID)
		}
		byUser[b.UserID] = append(byUser[b.UserID], b.Events...)
	}

	results := make([]IngestResult, len(order))
	jobs := make(chan int)
	workers := i.workers
	if workers > len(order) {
		workers = len(order)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				userID := order[idx]
				results[idx] = i.process(ctx, runID, userID, byUser[userID])
			}
		}()
	}
	for idx := range order {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	persisted, suppressed := 0, 0
	for _, r := range results {
		persisted += r.Persisted
		suppressed += r.Suppressed
	}
	i.deps.Metrics.RecordCycle(time.Since(start))
	log.Component("ingest").WithFields(map[string]interface{}{
		"run_id":     runID,
		"users":      len(order),
		"persisted":  persisted,
		"suppressed": suppressed,
		"duration":   time.Since(start).String(),
	}).Info("ingestion cycle finished")
	return results
}

// Process handles one user's events in order.
func (i *Ingestor) Process(ctx context.Context, userID string, events []model.MarketChangeEvent) IngestResult {
	return i.process(ctx, uuid.NewString(), userID, events)
}

func (i *Ingestor) process(ctx context.Context, runID, userID string, events []model.MarketChangeEvent) IngestResult {
	result := IngestResult{
		RunID:    runID,
		UserID:   userID,
		Outcomes: make([]EventOutcome, 0, len(events)),
	}
	ctx, span := i.deps.Tracer.StartBatchSpan(ctx, userID, len(events))
	defer span.End()
	i.deps.Metrics.RecordBatchSize(len(events))

	logger := log.Component("ingest").WithFields(map[string]interface{}{
		"run_id":  runID,
		"user_id": userID,
	})

	// suppressAll marks every event from idx on with reason.
	suppressAll := func(idx int, reason model.Reason) IngestResult {
		for _, ev := range events[idx:] {
			result.add(EventOutcome{Event: ev, Decision: model.Suppress(reason)})
			i.deps.Metrics.RecordDecision(string(reason))
		}
		return result
	}

	if userID == "" {
		return suppressAll(0, model.ReasonInvalidEvent)
	}
	if ctx.Err() != nil {
		return suppressAll(0, model.ReasonCancelled)
	}

	if i.deps.Locker != nil {
		unlock, err := i.deps.Locker.Lock(ctx, userID)
		if err != nil {
			if ctx.Err() != nil {
				return suppressAll(0, model.ReasonCancelled)
			}
			logger.WithError(err).Error("failed to lock user")
			return suppressAll(0, model.ReasonLockUnavailable)
		}
		defer unlock()
	}

	prefs, err := i.deps.Preferences.Get(ctx, userID)
	if err != nil {
		if ctx.Err() != nil {
			return suppressAll(0, model.ReasonCancelled)
		}
		logger.WithError(err).Error("failed to load preferences")
		i.deps.Tracer.RecordError(span, err)
		return suppressAll(0, model.ReasonPreferencesUnavailable)
	}

	uc, err := i.deps.Context.UserContext(ctx, userID, prefs)
	if err != nil {
		logger.WithError(err).Warn("user context unavailable, classifying without it")
		uc = model.UserContext{}
	}

	for idx, ev := range events {
		if ctx.Err() != nil {
			return suppressAll(idx, model.ReasonCancelled)
		}
		outcome := i.processEvent(ctx, logger, userID, ev, prefs, uc)
		if outcome.Decision.Reason == model.ReasonCancelled {
			result.add(outcome)
			i.deps.Metrics.RecordDecision(string(model.ReasonCancelled))
			return suppressAll(idx+1, model.ReasonCancelled)
		}
		result.add(outcome)
		i.deps.Metrics.RecordDecision(string(outcome.Decision.Reason))
	}
	return result
}

func (i *Ingestor) processEvent(ctx context.Context, logger *log.Entry, userID string, ev model.MarketChangeEvent,
	prefs *model.NotificationPreferences, uc model.UserContext) EventOutcome {
	outcome := EventOutcome{Event: ev}

	ev, err := normalize(userID, ev, i.now())
	outcome.Event = ev
	if err != nil {
		logger.WithError(err).Warn("dropping invalid event")
		outcome.Decision = model.Suppress(model.ReasonInvalidEvent)
		return outcome
	}

	draft, err := i.deps.Classifier.Classify(ctx, ev, uc)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			outcome.Decision = model.Suppress(model.ReasonCancelled)
			return outcome
		}
		logger.WithError(err).Error("classification failed")
		outcome.Decision = model.Suppress(model.ReasonClassificationFailed)
		return outcome
	}
	outcome.Draft = &draft

	now := i.now()
	snapshot, err := i.deps.Tracker.Snapshot(ctx, userID, now)
	if err != nil {
		if ctx.Err() != nil {
			outcome.Decision = model.Suppress(model.ReasonCancelled)
			return outcome
		}
		logger.WithError(err).Error("throttle snapshot failed")
		i.deps.Metrics.RecordReservation("error")
		outcome.Decision = model.Suppress(model.ReasonThrottleUnavailable)
		return outcome
	}

	decision := policy.Evaluate(draft, ev.Market, prefs, snapshot, now)
	if !decision.Allowed {
		outcome.Decision = decision
		return outcome
	}

	reserved, err := i.deps.Tracker.TryReserve(ctx, userID, policy.LimitsOf(prefs), now)
	if err != nil {
		if ctx.Err() != nil {
			outcome.Decision = model.Suppress(model.ReasonCancelled)
			return outcome
		}
		logger.WithError(err).Error("throttle reservation failed")
		i.deps.Metrics.RecordReservation("error")
		outcome.Decision = model.Suppress(model.ReasonThrottleUnavailable)
		return outcome
	}
	if !reserved {
		// another writer took the last slot after our snapshot
		i.deps.Metrics.RecordReservation("denied")
		outcome.Decision = model.Suppress(model.ReasonRateLimited)
		return outcome
	}
	i.deps.Metrics.RecordReservation("granted")

	n := model.NewNotification(i.deps.IDs.NextID(), ev, draft, now)
	// the slot is spent, so persist even if the run is being cancelled
	if err := i.deps.Store.Create(context.WithoutCancel(ctx), n); err != nil {
		logger.WithFields(map[string]interface{}{
			"notification_id": n.ID,
			"market":          ev.Market,
		}).WithError(err).Error("failed to persist notification, dropping it")
		outcome.Decision = model.Suppress(model.ReasonPersistFailed)
		return outcome
	}
	outcome.NotificationID = n.ID
	outcome.Decision = decision

	if i.deps.Router != nil {
		outcome.Delivery = i.deps.Router.Deliver(ctx, n, prefs.Channels)
	}
	return outcome
}

// normalize fills what the batch implies and rejects events that cannot be classified.
func normalize(userID string, ev model.MarketChangeEvent, now time.Time) (model.MarketChangeEvent, error) {
	if ev.UserID == "" {
		ev.UserID = userID
	}
	if ev.UserID != userID {
		return ev, errors.New("event belongs to another user")
	}
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = now.UTC()
	}
	if err := utils.ValidateStruct(ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// FocusContext derives the classifier context from preferences alone.
type FocusContext struct{}

func (FocusContext) UserContext(_ context.Context, _ string, prefs *model.NotificationPreferences) (model.UserContext, error) {
	uc := model.UserContext{}
	if prefs != nil && len(prefs.MarketFocus) > 0 {
		uc.MarketFocus = append([]string(nil), prefs.MarketFocus...)
	}
	return uc, nil
}
