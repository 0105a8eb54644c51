// Package derive computes urgency, risk, and conversion metrics as pure
// functions of a lead and its score history. Nothing here is persisted;
// results are always recomputable from inputs.
package derive

import (
	"math"
	"time"

	"github.com/sells-group/lead-alerts/internal/model"
)

// Config holds the calculator's tunables.
type Config struct {
	// HighValueThreshold is the deal value at which the value component
	// of the urgency score saturates.
	HighValueThreshold float64

	// StaleLeadDays is the days-without-contact cutoff used for the
	// follow-up recommendation.
	StaleLeadDays int
}

// DefaultConfig returns the standard calculator tuning.
func DefaultConfig() Config {
	return Config{
		HighValueThreshold: 300000,
		StaleLeadDays:      7,
	}
}

// Metrics computes a lead's derived metrics from its current state and
// score history. Deterministic given its inputs.
func Metrics(lead *model.Lead, hist []model.ScoreHistoryPoint, cfg Config, now time.Time) model.DerivedMetrics {
	if cfg.HighValueThreshold <= 0 {
		cfg.HighValueThreshold = DefaultConfig().HighValueThreshold
	}
	if cfg.StaleLeadDays <= 0 {
		cfg.StaleLeadDays = DefaultConfig().StaleLeadDays
	}

	urgency := UrgencyScore(lead.ConversionProbability, lead.EstimatedValue, cfg.HighValueThreshold)
	days := lead.DaysSinceContact(now)

	return model.DerivedMetrics{
		LeadID:             lead.ID,
		UrgencyScore:       urgency,
		RiskLevel:          RiskOf(urgency),
		TimeToConvertDays:  TimeToConvertDays(lead.ConversionProbability),
		RecommendedActions: recommendations(lead, days, hist, cfg),
		ScoreChange:        ScoreChange(hist),
		DaysSinceContact:   days,
		ComputedAt:         now,
	}
}

// UrgencyScore blends conversion probability (60%) and deal value (40%,
// saturating at highValue) into a 0-100 composite. It is non-decreasing
// in both inputs.
func UrgencyScore(probability, value, highValue float64) float64 {
	p := clamp01(probability)
	v := math.Min(math.Max(value, 0)/highValue, 1)
	return math.Min(100, p*60+v*40)
}

// RiskOf buckets an urgency score: high at 70+, medium at 50+, low below.
func RiskOf(urgency float64) model.RiskLevel {
	switch {
	case urgency >= 70:
		return model.RiskHigh
	case urgency >= 50:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// TimeToConvertDays is a coarse heuristic, not a model output; callers
// must not treat it as calibrated.
func TimeToConvertDays(probability float64) int {
	p := clamp01(probability)
	days := int(math.Floor((100 - p*100) / 10))
	if days < 1 {
		days = 1
	}
	return days
}

// ScoreChange returns the delta and percent change between the two most
// recent history points, or nil if fewer than two points exist.
func ScoreChange(hist []model.ScoreHistoryPoint) *model.ScoreChange {
	n := len(hist)
	if n < 2 {
		return nil
	}
	prev := hist[n-2].Score
	last := hist[n-1].Score
	change := &model.ScoreChange{Delta: last - prev}
	if prev != 0 {
		change.PercentChange = (last - prev) / prev * 100
	}
	return change
}

// recommendations builds the ordered action list from fixed rules.
// Order is part of the contract: highest-leverage actions come first.
func recommendations(lead *model.Lead, daysSinceContact int, hist []model.ScoreHistoryPoint, cfg Config) []string {
	var actions []string

	if lead.ConversionProbability >= 0.75 {
		actions = append(actions, "schedule immediate presentation")
	}
	if lead.EstimatedValue >= cfg.HighValueThreshold {
		actions = append(actions, "escalate to senior agent")
	}
	if daysSinceContact >= cfg.StaleLeadDays {
		actions = append(actions, "re-engage: schedule follow-up call")
	}
	if change := ScoreChange(hist); change != nil && change.PercentChange <= -10 {
		actions = append(actions, "review recent objections; score dropping")
	}

	return actions
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
