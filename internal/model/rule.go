package model

import "time"

// AlertRule is operator-editable threshold configuration. Rules are
// re-read on every evaluation cycle, so edits take effect without a
// restart.
type AlertRule struct {
	ID            string     `json:"id" yaml:"id"`
	Name          string     `json:"name" yaml:"name"`
	Type          AlertType  `json:"type" yaml:"type"`
	Threshold     float64    `json:"threshold" yaml:"threshold"`
	Enabled       bool       `json:"enabled" yaml:"enabled"`
	LastTriggered *time.Time `json:"last_triggered,omitempty" yaml:"last_triggered,omitempty"`
}

// SeverityLadder maps how far past its threshold a metric is to a
// severity. Cut points are multiples of the rule threshold and come from
// configuration, not code.
type SeverityLadder struct {
	// CriticalMultiple escalates to critical when value >= threshold * multiple.
	CriticalMultiple float64 `json:"critical_multiple" yaml:"critical_multiple" mapstructure:"critical_multiple"`
	HighMultiple     float64 `json:"high_multiple" yaml:"high_multiple" mapstructure:"high_multiple"`
	MediumMultiple   float64 `json:"medium_multiple" yaml:"medium_multiple" mapstructure:"medium_multiple"`
}

// DefaultSeverityLadder returns the standard escalation ladder: critical
// at 2x threshold, high at 1.5x, medium at 1.2x, low otherwise.
func DefaultSeverityLadder() SeverityLadder {
	return SeverityLadder{
		CriticalMultiple: 2.0,
		HighMultiple:     1.5,
		MediumMultiple:   1.2,
	}
}

// gradeEpsilon absorbs float error in the value/threshold division so
// a value exactly at a cut point grades onto it.
const gradeEpsilon = 1e-9

// Grade maps a metric value exceeding threshold onto the ladder.
func (l SeverityLadder) Grade(value, threshold float64) Severity {
	if threshold <= 0 {
		return SeverityLow
	}
	ratio := value / threshold
	switch {
	case l.CriticalMultiple > 0 && ratio >= l.CriticalMultiple-gradeEpsilon:
		return SeverityCritical
	case l.HighMultiple > 0 && ratio >= l.HighMultiple-gradeEpsilon:
		return SeverityHigh
	case l.MediumMultiple > 0 && ratio >= l.MediumMultiple-gradeEpsilon:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
