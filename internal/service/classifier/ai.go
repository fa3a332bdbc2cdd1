package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"marketnotify/internal/model"
	"marketnotify/pkg/breaker"
	"marketnotify/pkg/log"
)

// AIConfig remote classifier settings
type AIConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	Timeout     time.Duration // per attempt
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// StatusError non-2xx answer from the classifier endpoint
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("classifier returned %d: %s", e.Code, e.Body)
}

// Retryable server errors and throttling are worth another attempt; other 4xx are not.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

type aiRequest struct {
	Model       string                  `json:"model,omitempty"`
	Event       model.MarketChangeEvent `json:"event"`
	UserContext model.UserContext       `json:"user_context"`
}

type aiResponse struct {
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Category    model.Category `json:"category"`
	Priority    model.Priority `json:"priority"`
	AIInsight   string         `json:"ai_insight"`
	Actionable  bool           `json:"actionable"`
	ActionURL   *string        `json:"action_url"`
	ActionLabel *string        `json:"action_label"`
}

// AI calls a remote model over HTTP. Each attempt is bounded by Timeout, retries
// back off exponentially with full jitter, and the breaker sheds load while the
// endpoint is failing.
type AI struct {
	cfg     AIConfig
	client  *http.Client
	breaker *breaker.CircuitBreaker
	wait    func(ctx context.Context, d time.Duration) error
}

func NewAI(cfg AIConfig, client *http.Client, cb *breaker.CircuitBreaker) *AI {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &AI{
		cfg:     cfg,
		client:  client,
		breaker: cb,
		wait:    sleepCtx,
	}
}

func (a *AI) Classify(ctx context.Context, event model.MarketChangeEvent, uc model.UserContext) (model.NotificationDraft, error) {
	var lastErr error

	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := a.wait(ctx, a.backoff(attempt)); err != nil {
				return model.NotificationDraft{}, err
			}
		}

		var draft model.NotificationDraft
		err := a.breaker.Execute(ctx, func(ctx context.Context) error {
			d, err := a.call(ctx, event, uc)
			draft = d
			return err
		})
		if err == nil {
			return draft, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return model.NotificationDraft{}, ctx.Err()
		}
		if !retryable(err) {
			break
		}

		log.Component("classifier").WithFields(map[string]interface{}{
			"attempt": attempt + 1,
			"market":  event.Market,
			"error":   err.Error(),
		}).Debug("ai classification attempt failed")
	}

	return model.NotificationDraft{}, lastErr
}

func (a *AI) call(ctx context.Context, event model.MarketChangeEvent, uc model.UserContext) (model.NotificationDraft, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(aiRequest{Model: a.cfg.Model, Event: event, UserContext: uc})
	if err != nil {
		return model.NotificationDraft{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return model.NotificationDraft{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return model.NotificationDraft{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.NotificationDraft{}, &StatusError{Code: resp.StatusCode, Body: string(snippet)}
	}

	var out aiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return model.NotificationDraft{}, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}

	draft := model.NotificationDraft{
		Title:       out.Title,
		Message:     out.Message,
		Category:    out.Category,
		Priority:    out.Priority,
		AIInsight:   out.AIInsight,
		Actionable:  out.Actionable,
		ActionURL:   out.ActionURL,
		ActionLabel: out.ActionLabel,
		Source:      model.SourceAI,
	}
	if err := ValidateDraft(draft); err != nil {
		return model.NotificationDraft{}, err
	}
	return draft, nil
}

// backoff for retry n (n >= 1): uniform in [0, min(max, base*2^(n-1))].
func (a *AI) backoff(n int) time.Duration {
	base := a.cfg.BackoffBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	maxD := a.cfg.BackoffMax
	if maxD <= 0 {
		maxD = 2 * time.Second
	}

	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	if d > maxD {
		d = maxD
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

func retryable(err error) bool {
	if breaker.IsCircuitBreakerError(err) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	// timeouts, connection errors and malformed model output
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		if !t.Stop() {
			<-t.C
		}
		return ctx.Err()
	}
}
