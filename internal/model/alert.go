package model

import "time"

// AlertType identifies the condition an alert reports on.
type AlertType string

const (
	AlertConversionOpportunity AlertType = "conversion-opportunity"
	AlertFollowUp              AlertType = "follow-up"
	AlertDrift                 AlertType = "drift"
	AlertPerformance           AlertType = "performance"
	AlertHealth                AlertType = "health"
	AlertABTest                AlertType = "ab-test"
)

// Severity ranks alerts for sorting and channel routing.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for the default alert sort.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns a comparable ordering value; higher is more severe.
// Unknown severities rank below low.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AlertState is the lifecycle state of an alert.
type AlertState string

const (
	AlertOpen         AlertState = "open"
	AlertAcknowledged AlertState = "acknowledged"
	AlertSnoozed      AlertState = "snoozed"
	AlertResolved     AlertState = "resolved"
)

// Alert is owned exclusively by the lifecycle manager; all other
// components read it or command it through the manager's API.
type Alert struct {
	ID           string         `json:"id"`
	EntityID     string         `json:"entity_id"`
	RuleID       string         `json:"rule_id,omitempty"`
	Type         AlertType      `json:"type"`
	Severity     Severity       `json:"severity"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details,omitempty"`
	State        AlertState     `json:"state"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	SnoozedUntil *time.Time     `json:"snoozed_until,omitempty"`
	ResolvedAt   *time.Time     `json:"resolved_at,omitempty"`
}

// Candidate is a rule violation detected but not yet committed as a
// user-visible Alert. The lifecycle manager performs the authoritative
// dedupe check when a candidate is raised.
type Candidate struct {
	EntityID  string         `json:"entity_id"`
	RuleID    string         `json:"rule_id"`
	Type      AlertType      `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Metric    float64        `json:"metric"`
	Threshold float64        `json:"threshold"`
}

// ActiveAt reports whether the alert still suppresses new candidates for
// its (entity, type) pair at the given instant: open, acknowledged, or
// snoozed with an unexpired deadline.
func (a *Alert) ActiveAt(now time.Time) bool {
	switch a.State {
	case AlertOpen, AlertAcknowledged:
		return true
	case AlertSnoozed:
		return a.SnoozedUntil != nil && now.Before(*a.SnoozedUntil)
	default:
		return false
	}
}
