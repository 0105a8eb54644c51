package model

import "time"

// ScoreHistoryPoint is a single observation of a lead's predicted score.
// Points are immutable once appended and strictly ordered by timestamp
// within a lead's series.
type ScoreHistoryPoint struct {
	Timestamp  time.Time          `json:"timestamp"`
	Score      float64            `json:"score"`
	Confidence float64            `json:"confidence,omitempty"`
	Factors    map[string]float64 `json:"factors,omitempty"`
}

// ScoreChange describes the delta between the two most recent history
// points for a lead.
type ScoreChange struct {
	Delta      float64 `json:"delta"`
	PercentChange float64 `json:"percent_change"`
}

// RiskLevel buckets a lead's urgency score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// DerivedMetrics is a pure function of (Lead, score history). It is
// recomputed on every relevant event and never stored durably.
type DerivedMetrics struct {
	LeadID             string       `json:"lead_id"`
	UrgencyScore       float64      `json:"urgency_score"` // [0, 100]
	RiskLevel          RiskLevel    `json:"risk_level"`
	TimeToConvertDays  int          `json:"time_to_convert_days"`
	RecommendedActions []string     `json:"recommended_actions,omitempty"`
	ScoreChange        *ScoreChange `json:"score_change,omitempty"`
	DaysSinceContact   int          `json:"days_since_contact"`
	ComputedAt         time.Time    `json:"computed_at"`
}
