// Package engine routes gateway events through the derived metrics
// calculator and the rule engine, and owns the cached lead set. It is
// the only writer of score history and the only caller of the rule
// engine's evaluate methods.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-alerts/internal/derive"
	"github.com/sells-group/lead-alerts/internal/gateway"
	"github.com/sells-group/lead-alerts/internal/health"
	"github.com/sells-group/lead-alerts/internal/history"
	"github.com/sells-group/lead-alerts/internal/lifecycle"
	"github.com/sells-group/lead-alerts/internal/model"
	"github.com/sells-group/lead-alerts/internal/rules"
	"github.com/sells-group/lead-alerts/internal/store"
)

// Health check floors. GradeCheck adds a further 10% warning margin
// above each floor.
const (
	accuracyFloorFraction = 0.9 // of the baseline accuracy
	performanceFloor      = 0.8
	dataQualityFloor      = 0.9
)

// Config tunes the engine.
type Config struct {
	Derive derive.Config
	Drift  derive.DriftConfig

	// Retention is how long resolved alerts and old score points are
	// kept before GC.
	Retention time.Duration

	// GCInterval is how often the retention sweep runs.
	GCInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Retention <= 0 {
		c.Retention = 72 * time.Hour
	}
	if c.GCInterval <= 0 {
		c.GCInterval = time.Hour
	}
	return c
}

// Engine wires history, rules, and the lifecycle manager behind the
// gateway's Handler interface.
type Engine struct {
	history   *history.Store
	rules     *rules.Engine
	lifecycle *lifecycle.Manager
	store     store.Store
	cfg       Config

	mu    sync.RWMutex
	leads map[string]model.Lead

	nowFunc func() time.Time
	log     *zap.Logger
}

// New builds the engine. st may be nil when running without durable
// storage; alert and score-point persistence is then skipped.
func New(hist *history.Store, eng *rules.Engine, lc *lifecycle.Manager, st store.Store, cfg Config) *Engine {
	return &Engine{
		history:   hist,
		rules:     eng,
		lifecycle: lc,
		store:     st,
		cfg:       cfg.withDefaults(),
		leads:     make(map[string]model.Lead),
		nowFunc:   time.Now,
		log:       zap.L().With(zap.String("component", "engine")),
	}
}

// Handle processes one normalized event. Returning an error fails only
// this event; the gateway keeps the shard alive.
func (e *Engine) Handle(ctx context.Context, evt gateway.Event) error {
	switch evt.Type {
	case gateway.EventLeadUpdated:
		return e.handleLeadUpdated(evt.LeadUpdated)
	case gateway.EventScoreChanged:
		return e.handleScoreChanged(ctx, evt.ScoreChanged)
	case gateway.EventDriftDetected:
		return e.handleDriftDetected(evt.DriftDetected)
	case gateway.EventABTestCompleted:
		return e.handleABTestCompleted(evt.ABTestCompleted)
	default:
		return eris.Errorf("engine: unroutable event type %q", evt.Type)
	}
}

func (e *Engine) handleLeadUpdated(p *gateway.LeadUpdatedPayload) error {
	now := e.nowFunc().UTC()

	e.mu.Lock()
	lead, ok := e.leads[p.LeadID]
	if !ok {
		lead = model.Lead{ID: p.LeadID, Status: model.LeadStatusNew}
	}
	applyUpdates(&lead, p.Updates)
	lead.UpdatedAt = now
	e.leads[p.LeadID] = lead
	e.mu.Unlock()

	if !lead.Active() {
		// A closed lead cannot produce opportunity or follow-up alerts;
		// clear any that are still active.
		for _, typ := range []model.AlertType{model.AlertConversionOpportunity, model.AlertFollowUp} {
			e.lifecycle.ResolveEntity(p.LeadID, typ)
		}
		return nil
	}

	metrics := derive.Metrics(&lead, e.history.Snapshot(p.LeadID), e.cfg.Derive, now)
	e.rules.EvaluateLead(&lead, metrics)
	return nil
}

func (e *Engine) handleScoreChanged(ctx context.Context, p *gateway.ScoreChangedPayload) error {
	point := model.ScoreHistoryPoint{
		Timestamp:  p.Timestamp,
		Score:      p.NewScore,
		Confidence: p.Confidence,
		Factors:    p.Factors,
	}

	if err := e.history.Append(p.LeadID, point); err != nil {
		var ooo *history.OutOfOrderError
		if eris.As(err, &ooo) {
			e.log.Warn("dropping out-of-order score point",
				zap.String("leadId", p.LeadID),
				zap.Time("timestamp", point.Timestamp),
				zap.Time("latest", ooo.Last))
			return nil
		}
		return eris.Wrapf(err, "engine: append score for %s", p.LeadID)
	}

	if e.store != nil {
		if err := e.store.AppendScorePoint(ctx, p.LeadID, point); err != nil {
			e.log.Warn("score point not persisted", zap.String("leadId", p.LeadID), zap.Error(err))
		}
	}

	now := e.nowFunc().UTC()
	e.mu.Lock()
	lead, ok := e.leads[p.LeadID]
	if !ok {
		// Scores can arrive before the first CRM sync for a lead.
		lead = model.Lead{ID: p.LeadID, Status: model.LeadStatusNew, UpdatedAt: now}
		e.leads[p.LeadID] = lead
	}
	e.mu.Unlock()

	if !lead.Active() {
		return nil
	}

	metrics := derive.Metrics(&lead, e.history.Snapshot(p.LeadID), e.cfg.Derive, now)
	e.rules.EvaluateLead(&lead, metrics)
	return nil
}

func (e *Engine) handleDriftDetected(p *gateway.DriftDetectedPayload) error {
	det := derive.DriftFromMetrics(p.ModelID, p.Metrics, e.cfg.Drift, e.nowFunc().UTC())
	if len(p.AffectedFeatures) > 0 {
		det.AffectedFeatures = p.AffectedFeatures
	}

	if !det.Detected {
		// Upstream reports the model back inside tolerance.
		e.lifecycle.ResolveEntity(p.ModelID, model.AlertDrift)
		return nil
	}
	e.rules.EvaluateDrift(det)
	return nil
}

func (e *Engine) handleABTestCompleted(p *gateway.ABTestCompletedPayload) error {
	e.rules.EvaluateABTest(model.ABTestResult{
		TestID:            p.TestID,
		ChampionResults:   p.ChampionResults,
		ChallengerResults: p.ChallengerResults,
		Improvement:       p.Improvement,
		Confidence:        p.Confidence,
		Winner:            p.Winner,
		ConcludedAt:       e.nowFunc().UTC(),
	})
	return nil
}

// EvaluateModel runs the periodic drift and health evaluation for one
// model sample. Satisfies the health checker's Evaluator interface.
func (e *Engine) EvaluateModel(_ context.Context, s health.Sample) {
	now := e.nowFunc().UTC()

	det := derive.Drift(s.ModelID, s.Baseline, s.Current, e.cfg.Drift, now)
	if det.Detected {
		e.rules.EvaluateDrift(det)
	} else {
		e.lifecycle.ResolveEntity(s.ModelID, model.AlertDrift)
	}

	threshold := e.cfg.Drift.Threshold
	if threshold <= 0 {
		threshold = derive.DefaultDriftConfig().Threshold
	}
	worst := maxOf(det.Metrics.FeatureDrift, det.Metrics.PredictionDrift, det.Metrics.AccuracyDrop)

	mh := model.ModelHealth{
		ModelID:     s.ModelID,
		Accuracy:    derive.GradeCheck(s.Current.Accuracy, s.Baseline.Accuracy*accuracyFloorFraction, true),
		Drift:       derive.GradeCheck(worst, threshold, false),
		Performance: derive.GradeCheck(s.Performance, performanceFloor, true),
		DataQuality: derive.GradeCheck(s.DataQuality, dataQualityFloor, true),
		LastChecked: now,
	}
	mh.Status = derive.OverallHealth(mh.Checks())

	if mh.Status == model.HealthHealthy {
		e.lifecycle.ResolveEntity(s.ModelID, model.AlertHealth)
		return
	}
	e.rules.EvaluateHealth(mh)
}

// Lead returns the cached lead, if known. Satisfies the query facade's
// LeadSource interface.
func (e *Engine) Lead(id string) (model.Lead, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.leads[id]
	return l, ok
}

// Leads returns a copy of the cached lead set.
func (e *Engine) Leads() []model.Lead {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.Lead, 0, len(e.leads))
	for _, l := range e.leads {
		out = append(out, l)
	}
	return out
}

// Restore reloads non-resolved alerts from the store into the lifecycle
// manager. Called once at startup before the gateway starts.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	alerts, err := e.store.ListAlerts(ctx, store.AlertFilter{
		States: []model.AlertState{model.AlertOpen, model.AlertAcknowledged, model.AlertSnoozed},
		Limit:  10000,
	})
	if err != nil {
		return eris.Wrap(err, "engine: restore alerts")
	}
	for _, a := range alerts {
		e.lifecycle.Restore(a)
	}
	e.log.Info("restored alerts", zap.Int("count", len(alerts)))
	return nil
}

// RunGC sweeps resolved alerts and expired score points until ctx is
// cancelled.
func (e *Engine) RunGC(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single retention pass over resolved alerts and
// stored score points.
func (e *Engine) SweepOnce(ctx context.Context) {
	removed := e.lifecycle.GC()
	if removed > 0 {
		e.log.Info("gc removed alerts", zap.Int("count", removed))
	}
	if e.store != nil {
		cutoff := e.nowFunc().Add(-e.cfg.Retention)
		if n, err := e.store.DeleteScorePointsBefore(ctx, cutoff); err != nil {
			e.log.Warn("score point gc failed", zap.Error(err))
		} else if n > 0 {
			e.log.Info("gc removed score points", zap.Int("count", n))
		}
	}
}

// SweepLeads re-evaluates every active cached lead. Time-driven
// conditions such as a stale follow-up depend on the clock, not on
// event arrival, so a lead that goes quiet still alerts.
func (e *Engine) SweepLeads(ctx context.Context) rules.BatchResult {
	now := e.nowFunc().UTC()
	all := e.Leads()
	leads := make([]*model.Lead, 0, len(all))
	for i := range all {
		if all[i].Active() {
			leads = append(leads, &all[i])
		}
	}
	return e.rules.EvaluateLeads(ctx, leads, func(l *model.Lead) (model.DerivedMetrics, error) {
		return derive.Metrics(l, e.history.Snapshot(l.ID), e.cfg.Derive, now), nil
	}, 0)
}

// PersistTransitions returns a lifecycle listener that writes every
// alert state change through to the store.
func PersistTransitions(st store.Store) lifecycle.Listener {
	log := zap.L().With(zap.String("component", "engine.persist"))
	return func(t lifecycle.Transition) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := st.SaveAlert(ctx, t.Alert); err != nil {
			log.Error("alert not persisted",
				zap.String("alertId", t.Alert.ID),
				zap.String("kind", string(t.Kind)),
				zap.Error(err))
		}
	}
}

func applyUpdates(lead *model.Lead, u gateway.LeadUpdate) {
	if u.Name != nil {
		lead.Name = *u.Name
	}
	if u.Company != nil {
		lead.Company = *u.Company
	}
	if u.Owner != nil {
		lead.Owner = *u.Owner
	}
	if u.Status != nil {
		lead.Status = *u.Status
	}
	if u.EstimatedValue != nil {
		lead.EstimatedValue = *u.EstimatedValue
	}
	if u.ConversionProbability != nil {
		lead.ConversionProbability = *u.ConversionProbability
	}
	if u.LastContact != nil {
		lead.LastContact = *u.LastContact
	}
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
