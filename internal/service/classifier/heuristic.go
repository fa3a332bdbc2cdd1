package classifier

import (
	"context"
	"fmt"
	"math"

	"marketnotify/internal/model"
)

const (
	highDeltaThreshold   = 0.05
	mediumDeltaThreshold = 0.02
)

// Heuristic rule-based classifier. Pure and deterministic.
type Heuristic struct{}

func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

func (h *Heuristic) Classify(_ context.Context, event model.MarketChangeEvent, _ model.UserContext) (model.NotificationDraft, error) {
	priority := PriorityForDelta(event.Delta)

	return model.NotificationDraft{
		Title:      title(event),
		Message:    message(event),
		Category:   CategoryForMetric(event.MetricType),
		Priority:   priority,
		AIInsight:  "",
		Actionable: priority.AtLeast(model.PriorityHigh),
		Source:     model.SourceHeuristic,
	}, nil
}

// PriorityForDelta buckets the magnitude of a fractional change. The heuristic never emits critical.
func PriorityForDelta(delta float64) model.Priority {
	abs := math.Abs(delta)
	switch {
	case abs > highDeltaThreshold:
		return model.PriorityHigh
	case abs > mediumDeltaThreshold:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

func CategoryForMetric(m model.MetricType) model.Category {
	switch m {
	case model.MetricPrice:
		return model.CategoryMarketTrend
	case model.MetricInventory:
		return model.CategoryOpportunity
	case model.MetricCompetitorActivity:
		return model.CategoryCompetitorActivity
	case model.MetricTrend:
		return model.CategoryInsight
	default:
		return model.CategoryMarketTrend
	}
}

var metricLabels = map[model.MetricType]string{
	model.MetricPrice:              "Price",
	model.MetricInventory:          "Inventory",
	model.MetricCompetitorActivity: "Competitor activity",
	model.MetricTrend:              "Trend",
}

func title(e model.MarketChangeEvent) string {
	label, ok := metricLabels[e.MetricType]
	if !ok {
		label = string(e.MetricType)
	}
	direction := "up"
	if e.Delta < 0 {
		direction = "down"
	}
	return fmt.Sprintf("%s %s %.1f%% in %s", label, direction, math.Abs(e.Delta)*100, e.Market)
}

func message(e model.MarketChangeEvent) string {
	return fmt.Sprintf("%s in %s changed by %+.1f%% to %.2f.",
		metricLabels[e.MetricType], e.Market, e.Delta*100, e.AbsoluteValue)
}
