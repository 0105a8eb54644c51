package model

import "time"

// LeadStatus represents the CRM pipeline stage of a lead.
type LeadStatus string

const (
	LeadStatusNew         LeadStatus = "new"
	LeadStatusContacted   LeadStatus = "contacted"
	LeadStatusQualified   LeadStatus = "qualified"
	LeadStatusNegotiating LeadStatus = "negotiating"
	LeadStatusConverted   LeadStatus = "converted"
	LeadStatusLost        LeadStatus = "lost"
	LeadStatusArchived    LeadStatus = "archived"
)

// Lead is the engine's read-mostly cached copy of a CRM lead. The CRM is
// the system of record; fields are refreshed by lead_updated events.
type Lead struct {
	ID                    string     `json:"id"`
	Name                  string     `json:"name,omitempty"`
	Company               string     `json:"company,omitempty"`
	Owner                 string     `json:"owner,omitempty"`
	Status                LeadStatus `json:"status"`
	EstimatedValue        float64    `json:"estimated_value"`
	// ConversionProbability is always a fraction in [0, 1]. Inputs on a
	// 0-100 scale are normalized at the gateway boundary.
	ConversionProbability float64   `json:"conversion_probability"`
	LastContact           time.Time `json:"last_contact"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Active reports whether the lead is still in play (not converted, lost,
// or archived).
func (l *Lead) Active() bool {
	switch l.Status {
	case LeadStatusConverted, LeadStatusLost, LeadStatusArchived:
		return false
	default:
		return true
	}
}

// DaysSinceContact returns whole days elapsed since the last recorded
// contact, or -1 if no contact has been recorded.
func (l *Lead) DaysSinceContact(now time.Time) int {
	if l.LastContact.IsZero() {
		return -1
	}
	return int(now.Sub(l.LastContact).Hours() / 24)
}
