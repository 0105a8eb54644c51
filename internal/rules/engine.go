// Package rules evaluates operator-configured thresholds against derived
// metrics and emits candidate alerts. A candidate moves through
// Idle -> Candidate -> Suppressed | Emitted: the threshold check produces
// a candidate, the lifecycle manager's atomic dedupe decides whether it
// is suppressed or committed.
package rules

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-alerts/internal/model"
)

// Source supplies the current rule set. Implementations re-read operator
// edits so changes take effect on the next evaluation cycle.
type Source interface {
	Rules() ([]model.AlertRule, error)
}

// TriggerRecorder is implemented by sources that persist when a rule
// last fired. Sources without it skip the bookkeeping.
type TriggerRecorder interface {
	MarkTriggered(id string, at time.Time) error
}

// Emitter commits candidates. The lifecycle manager implements it; the
// check-and-insert is atomic there, so concurrent candidates for the
// same (entity, type) pair yield exactly one alert.
type Emitter interface {
	Raise(c model.Candidate) (model.Alert, bool)
}

// Result reports the outcome of one evaluation pass.
type Result struct {
	Emitted    []model.Alert
	Suppressed int
}

// Config tunes evaluation behavior that is not per-rule.
type Config struct {
	// Ladder holds the severity escalation cut points shared by all rules.
	Ladder model.SeverityLadder

	// SignificanceThreshold is the default confidence bar for ab-test
	// rules whose threshold is unset.
	SignificanceThreshold float64
}

// DefaultConfig returns the standard engine tuning.
func DefaultConfig() Config {
	return Config{
		Ladder:                model.DefaultSeverityLadder(),
		SignificanceThreshold: 0.95,
	}
}

// Engine evaluates rules and hands surviving candidates to the emitter.
type Engine struct {
	src     Source
	emitter Emitter
	cfg     Config
	nowFunc func() time.Time

	log *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithNowFunc injects a clock for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(e *Engine) { e.nowFunc = now }
}

// NewEngine creates a rule engine reading rules from src and committing
// alerts through emitter.
func NewEngine(src Source, emitter Emitter, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		src:     src,
		emitter: emitter,
		cfg:     cfg,
		nowFunc: time.Now,
		log:     zap.L().With(zap.String("component", "rules.engine")),
	}
	if e.cfg.Ladder == (model.SeverityLadder{}) {
		e.cfg.Ladder = model.DefaultSeverityLadder()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateLead runs all enabled lead rules against a lead's derived
// metrics and emits surviving candidates.
func (e *Engine) EvaluateLead(lead *model.Lead, metrics model.DerivedMetrics) Result {
	return e.emit(e.LeadCandidates(lead, metrics))
}

// LeadCandidates returns the candidates a lead's metrics produce,
// without emitting them. Exposed for tests and dry runs.
func (e *Engine) LeadCandidates(lead *model.Lead, metrics model.DerivedMetrics) []model.Candidate {
	rules, err := e.enabledRules()
	if err != nil {
		return nil
	}

	var out []model.Candidate
	for _, rule := range rules {
		switch rule.Type {
		case model.AlertConversionOpportunity:
			// Threshold exceeded strictly: a metric exactly at the
			// threshold never triggers.
			if metrics.UrgencyScore > rule.Threshold {
				out = append(out, e.candidate(rule, lead.ID, metrics.UrgencyScore,
					fmt.Sprintf("lead %s urgency %.0f exceeds %.0f (risk %s, est. value $%.0f)",
						lead.ID, metrics.UrgencyScore, rule.Threshold, metrics.RiskLevel, lead.EstimatedValue),
					map[string]any{
						"urgency_score":        metrics.UrgencyScore,
						"risk_level":           string(metrics.RiskLevel),
						"time_to_convert_days": metrics.TimeToConvertDays,
						"recommended_actions":  metrics.RecommendedActions,
					}))
			}
		case model.AlertFollowUp:
			if metrics.DaysSinceContact >= 0 && float64(metrics.DaysSinceContact) > rule.Threshold {
				out = append(out, e.candidate(rule, lead.ID, float64(metrics.DaysSinceContact),
					fmt.Sprintf("lead %s has had no contact for %d days (threshold %.0f)",
						lead.ID, metrics.DaysSinceContact, rule.Threshold),
					map[string]any{
						"days_since_contact": metrics.DaysSinceContact,
						"last_contact":       lead.LastContact,
					}))
			}
		}
	}
	return out
}

// EvaluateDrift emits candidates for a detected model drift.
func (e *Engine) EvaluateDrift(det model.DriftDetection) Result {
	return e.emit(e.DriftCandidates(det))
}

// DriftCandidates returns candidates for a drift detection without
// emitting them.
func (e *Engine) DriftCandidates(det model.DriftDetection) []model.Candidate {
	rules, err := e.enabledRules()
	if err != nil {
		return nil
	}

	worst := maxOf(det.Metrics.FeatureDrift, det.Metrics.PredictionDrift, det.Metrics.AccuracyDrop)

	var out []model.Candidate
	for _, rule := range rules {
		switch rule.Type {
		case model.AlertDrift:
			if worst > rule.Threshold {
				out = append(out, e.candidate(rule, det.ModelID, worst,
					fmt.Sprintf("model %s drift %.1f%% exceeds %.1f%% (severity %s)",
						det.ModelID, worst*100, rule.Threshold*100, det.Severity),
					map[string]any{
						"feature_drift":     det.Metrics.FeatureDrift,
						"prediction_drift":  det.Metrics.PredictionDrift,
						"accuracy_drop":     det.Metrics.AccuracyDrop,
						"affected_features": det.AffectedFeatures,
						"recommendations":   det.Recommendations,
					}))
			}
		case model.AlertPerformance:
			if det.Metrics.AccuracyDrop > rule.Threshold {
				out = append(out, e.candidate(rule, det.ModelID, det.Metrics.AccuracyDrop,
					fmt.Sprintf("model %s accuracy dropped %.1f points vs baseline (threshold %.1f)",
						det.ModelID, det.Metrics.AccuracyDrop*100, rule.Threshold*100),
					map[string]any{"accuracy_drop": det.Metrics.AccuracyDrop}))
			}
		}
	}
	return out
}

// EvaluateHealth emits candidates for an unhealthy model snapshot.
// Health rules carry an explicit critical flag rather than a numeric
// ladder: a critical snapshot is always a critical alert.
func (e *Engine) EvaluateHealth(h model.ModelHealth) Result {
	return e.emit(e.HealthCandidates(h))
}

// HealthCandidates returns candidates for a health snapshot without
// emitting them.
func (e *Engine) HealthCandidates(h model.ModelHealth) []model.Candidate {
	if h.Status == model.HealthHealthy {
		return nil
	}
	rules, err := e.enabledRules()
	if err != nil {
		return nil
	}

	var failing []string
	for name, check := range h.Checks() {
		if check.Status != model.HealthHealthy {
			failing = append(failing, name)
		}
	}

	var out []model.Candidate
	for _, rule := range rules {
		if rule.Type != model.AlertHealth {
			continue
		}
		sev := model.SeverityMedium
		if h.Status == model.HealthCritical {
			sev = model.SeverityCritical
		}
		c := e.candidate(rule, h.ModelID, 0,
			fmt.Sprintf("model %s health is %s (failing checks: %v)", h.ModelID, h.Status, failing),
			map[string]any{"status": string(h.Status), "failing_checks": failing})
		c.Severity = sev
		out = append(out, c)
	}
	return out
}

// EvaluateABTest emits a candidate when a concluded test's confidence
// strictly exceeds the significance threshold.
func (e *Engine) EvaluateABTest(res model.ABTestResult) Result {
	return e.emit(e.ABTestCandidates(res))
}

// ABTestCandidates returns candidates for a concluded test without
// emitting them.
func (e *Engine) ABTestCandidates(res model.ABTestResult) []model.Candidate {
	rules, err := e.enabledRules()
	if err != nil {
		return nil
	}

	var out []model.Candidate
	for _, rule := range rules {
		if rule.Type != model.AlertABTest {
			continue
		}
		threshold := rule.Threshold
		if threshold <= 0 {
			threshold = e.cfg.SignificanceThreshold
		}
		if res.Confidence > threshold {
			out = append(out, e.candidate(rule, res.TestID, res.Confidence,
				fmt.Sprintf("a/b test %s concluded: %s wins with %.1f%% improvement at %.0f%% confidence",
					res.TestID, res.Winner, res.Improvement*100, res.Confidence*100),
				map[string]any{
					"winner":      res.Winner,
					"improvement": res.Improvement,
					"confidence":  res.Confidence,
					"duration":    res.Duration.String(),
				}))
		}
	}
	return out
}

// emit hands candidates to the emitter and tallies the outcome.
func (e *Engine) emit(candidates []model.Candidate) Result {
	var res Result
	for _, c := range candidates {
		alert, created := e.emitter.Raise(c)
		if !created {
			res.Suppressed++
			e.log.Debug("candidate suppressed by active alert",
				zap.String("entity_id", c.EntityID),
				zap.String("type", string(c.Type)),
				zap.String("active_alert_id", alert.ID),
			)
			continue
		}
		res.Emitted = append(res.Emitted, alert)
		if rec, ok := e.src.(TriggerRecorder); ok && c.RuleID != "" {
			if err := rec.MarkTriggered(c.RuleID, e.nowFunc().UTC()); err != nil {
				e.log.Warn("rule trigger time not recorded",
					zap.String("rule_id", c.RuleID), zap.Error(err))
			}
		}
		e.log.Info("alert emitted",
			zap.String("alert_id", alert.ID),
			zap.String("entity_id", c.EntityID),
			zap.String("type", string(c.Type)),
			zap.String("severity", string(alert.Severity)),
			zap.String("rule_id", c.RuleID),
		)
	}
	return res
}

// candidate builds a candidate with ladder-graded severity.
func (e *Engine) candidate(rule model.AlertRule, entityID string, metric float64, message string, details map[string]any) model.Candidate {
	return model.Candidate{
		EntityID:  entityID,
		RuleID:    rule.ID,
		Type:      rule.Type,
		Severity:  e.cfg.Ladder.Grade(metric, rule.Threshold),
		Message:   message,
		Details:   details,
		Metric:    metric,
		Threshold: rule.Threshold,
	}
}

func (e *Engine) enabledRules() ([]model.AlertRule, error) {
	all, err := e.src.Rules()
	if err != nil {
		e.log.Error("failed to load rules; skipping cycle", zap.Error(err))
		return nil, err
	}
	out := all[:0:0]
	for _, r := range all {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func maxOf(vals ...float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
