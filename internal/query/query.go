// Package query exposes read-only projections of engine state for the
// presentation layer. Nothing here mutates the lifecycle manager or the
// score history.
package query

import (
	"iter"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-alerts/internal/derive"
	"github.com/sells-group/lead-alerts/internal/model"
)

// AlertSource lists the authoritative alert set.
type AlertSource interface {
	List() []model.Alert
}

// HistorySource reads score series.
type HistorySource interface {
	Query(leadID string, window time.Duration) iter.Seq[model.ScoreHistoryPoint]
	Latest(leadID string) (model.ScoreHistoryPoint, error)
	Snapshot(leadID string) []model.ScoreHistoryPoint
}

// LeadSource reads the cached lead set.
type LeadSource interface {
	Lead(id string) (model.Lead, bool)
}

// Filter narrows ListAlerts results. Zero values match everything.
type Filter struct {
	States   []model.AlertState
	Type     model.AlertType
	Severity model.Severity
	EntityID string
}

// Sort selects a ListAlerts ordering.
type Sort string

const (
	// SortDefault orders by severity descending, then createdAt descending.
	SortDefault Sort = ""
	SortNewest  Sort = "newest"
	SortEntity  Sort = "entity"
)

// ComparisonRow is one lead's metric values in a comparison matrix.
type ComparisonRow struct {
	LeadID string         `json:"leadId"`
	Values map[string]any `json:"values"`
}

// ComparisonMatrix holds side-by-side derived metrics for several leads.
type ComparisonMatrix struct {
	Metrics []string        `json:"metrics"`
	Rows    []ComparisonRow `json:"rows"`
}

// comparisonMetrics are the metric columns a matrix may request.
var comparisonMetrics = map[string]bool{
	"urgencyScore":          true,
	"riskLevel":             true,
	"timeToConvertDays":     true,
	"conversionProbability": true,
	"estimatedValue":        true,
	"daysSinceContact":      true,
	"latestScore":           true,
}

// Facade bundles the read-only projections.
type Facade struct {
	alerts  AlertSource
	history HistorySource
	leads   LeadSource
	cfg     derive.Config
	nowFunc func() time.Time
}

// New builds a facade over the given sources.
func New(alerts AlertSource, history HistorySource, leads LeadSource, cfg derive.Config) *Facade {
	return &Facade{
		alerts:  alerts,
		history: history,
		leads:   leads,
		cfg:     cfg,
		nowFunc: time.Now,
	}
}

// ListAlerts returns the alerts matching filter in the requested order.
func (f *Facade) ListAlerts(filter Filter, order Sort) []model.Alert {
	var out []model.Alert
	for _, a := range f.alerts.List() {
		if matches(&a, filter) {
			out = append(out, a)
		}
	}

	switch order {
	case SortNewest:
		sort.Slice(out, func(i, j int) bool {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	case SortEntity:
		sort.Slice(out, func(i, j int) bool {
			if out[i].EntityID != out[j].EntityID {
				return out[i].EntityID < out[j].EntityID
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	default:
		sort.Slice(out, func(i, j int) bool {
			if ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank(); ri != rj {
				return ri > rj
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	}
	return out
}

func matches(a *model.Alert, filter Filter) bool {
	if len(filter.States) > 0 {
		ok := false
		for _, st := range filter.States {
			if a.State == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if filter.Type != "" && a.Type != filter.Type {
		return false
	}
	if filter.Severity != "" && a.Severity != filter.Severity {
		return false
	}
	if filter.EntityID != "" && a.EntityID != filter.EntityID {
		return false
	}
	return true
}

// ScoreTrend returns the lead's score points within the window,
// ascending by timestamp.
func (f *Facade) ScoreTrend(leadID string, window time.Duration) ([]model.ScoreHistoryPoint, error) {
	if _, err := f.history.Latest(leadID); err != nil {
		return nil, eris.Wrapf(err, "query: score trend for %s", leadID)
	}
	var points []model.ScoreHistoryPoint
	for p := range f.history.Query(leadID, window) {
		points = append(points, p)
	}
	return points, nil
}

// ComparisonMatrix computes the requested derived metrics side by side
// for each known lead id. Unknown lead ids are skipped; unknown metric
// names are an error.
func (f *Facade) ComparisonMatrix(leadIDs []string, metrics []string) (ComparisonMatrix, error) {
	if len(metrics) == 0 {
		metrics = []string{"urgencyScore", "riskLevel", "timeToConvertDays"}
	}
	for _, m := range metrics {
		if !comparisonMetrics[m] {
			return ComparisonMatrix{}, eris.Errorf("query: unknown comparison metric %q", m)
		}
	}

	now := f.nowFunc().UTC()
	out := ComparisonMatrix{Metrics: metrics}
	for _, id := range leadIDs {
		lead, ok := f.leads.Lead(id)
		if !ok {
			continue
		}

		dm := derive.Metrics(&lead, f.history.Snapshot(id), f.cfg, now)

		values := make(map[string]any, len(metrics))
		for _, m := range metrics {
			switch m {
			case "urgencyScore":
				values[m] = dm.UrgencyScore
			case "riskLevel":
				values[m] = dm.RiskLevel
			case "timeToConvertDays":
				values[m] = dm.TimeToConvertDays
			case "conversionProbability":
				values[m] = lead.ConversionProbability
			case "estimatedValue":
				values[m] = lead.EstimatedValue
			case "daysSinceContact":
				values[m] = dm.DaysSinceContact
			case "latestScore":
				if p, err := f.history.Latest(id); err == nil {
					values[m] = p.Score
				} else {
					values[m] = nil
				}
			}
		}
		out.Rows = append(out.Rows, ComparisonRow{LeadID: id, Values: values})
	}
	return out, nil
}
