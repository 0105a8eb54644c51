package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/lead-alerts/internal/gateway"
	"github.com/sells-group/lead-alerts/internal/health"
	"github.com/sells-group/lead-alerts/internal/history"
	"github.com/sells-group/lead-alerts/internal/lifecycle"
	"github.com/sells-group/lead-alerts/internal/model"
	"github.com/sells-group/lead-alerts/internal/query"
	"github.com/sells-group/lead-alerts/internal/rules"
	"github.com/sells-group/lead-alerts/internal/telemetry"
)

const maxEventBytes = 1 << 20

// api wires the HTTP surface onto the running engine components.
type api struct {
	gw        *gateway.Gateway
	lifecycle *lifecycle.Manager
	facade    *query.Facade
	rules     *rules.FileStore
	registry  *health.Registry
	metrics   *telemetry.Metrics

	// trendWindow is the default window for GET /leads/{id}/trend.
	trendWindow time.Duration
}

func (a *api) router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics.Handler())
	}

	r.Post("/events", a.handleIngest)

	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", a.handleListAlerts)
		r.Get("/{id}", a.handleGetAlert)
		r.Post("/{id}/acknowledge", a.handleAcknowledge)
		r.Post("/{id}/snooze", a.handleSnooze)
		r.Post("/{id}/resolve", a.handleResolve)
	})

	r.Get("/leads/{id}/trend", a.handleTrend)
	r.Get("/comparison", a.handleComparison)

	r.Get("/rules", a.handleListRules)
	r.Put("/rules/{id}", a.handleUpdateRule)

	r.Post("/models/metrics", a.handleModelMetrics)

	return r
}

func (a *api) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body")
		return
	}

	if err := a.gw.Ingest(r.Context(), body); err != nil {
		var verr *gateway.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		zap.L().Error("ingest event", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *api) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter query.Filter
	for _, s := range splitParam(q.Get("state")) {
		filter.States = append(filter.States, model.AlertState(s))
	}
	filter.Type = model.AlertType(q.Get("type"))
	filter.Severity = model.Severity(q.Get("severity"))
	filter.EntityID = q.Get("entity")

	alerts := a.facade.ListAlerts(filter, query.Sort(q.Get("sort")))
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a *api) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := a.lifecycle.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (a *api) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	alert, err := a.lifecycle.Acknowledge(chi.URLParam(r, "id"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (a *api) handleSnooze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Until   *time.Time `json:"until"`
		Minutes int        `json:"minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var until time.Time
	switch {
	case req.Until != nil:
		until = *req.Until
	case req.Minutes > 0:
		until = time.Now().UTC().Add(time.Duration(req.Minutes) * time.Minute)
	default:
		writeError(w, http.StatusBadRequest, "until or minutes is required")
		return
	}

	alert, err := a.lifecycle.Snooze(chi.URLParam(r, "id"), until)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (a *api) handleResolve(w http.ResponseWriter, r *http.Request) {
	alert, err := a.lifecycle.Resolve(chi.URLParam(r, "id"))
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (a *api) handleTrend(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "id")

	window := a.trendWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = d
	}

	points, err := a.facade.ScoreTrend(leadID, window)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "lead has no score history")
			return
		}
		zap.L().Error("score trend", zap.String("lead_id", leadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "trend failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"leadId": leadID, "points": points})
}

func (a *api) handleComparison(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	ids := splitParam(q.Get("ids"))
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	matrix, err := a.facade.ComparisonMatrix(ids, splitParam(q.Get("metrics")))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, matrix)
}

func (a *api) handleListRules(w http.ResponseWriter, r *http.Request) {
	all, err := a.rules.Rules()
	if err != nil {
		zap.L().Error("list rules", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "read rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": all})
}

func (a *api) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled   *bool    `json:"enabled"`
		Threshold *float64 `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Enabled == nil && req.Threshold == nil {
		writeError(w, http.StatusBadRequest, "enabled or threshold is required")
		return
	}

	rule, err := a.rules.Update(chi.URLParam(r, "id"), func(rl *model.AlertRule) {
		if req.Enabled != nil {
			rl.Enabled = *req.Enabled
		}
		if req.Threshold != nil {
			rl.Threshold = *req.Threshold
		}
	})
	if err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		zap.L().Error("update rule", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "update rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (a *api) handleModelMetrics(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModelID     string             `json:"modelId"`
		Baseline    model.ModelMetrics `json:"baseline"`
		Current     model.ModelMetrics `json:"current"`
		Performance float64            `json:"performance"`
		DataQuality float64            `json:"dataQuality"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ModelID == "" {
		writeError(w, http.StatusBadRequest, "modelId is required")
		return
	}

	a.registry.Record(health.Sample{
		ModelID:     req.ModelID,
		Baseline:    req.Baseline,
		Current:     req.Current,
		Performance: req.Performance,
		DataQuality: req.DataQuality,
		CollectedAt: time.Now().UTC(),
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func writeLifecycleError(w http.ResponseWriter, err error) {
	var (
		notFound   *lifecycle.NotFoundError
		invalidSt  *lifecycle.InvalidStateError
		conflict   *lifecycle.ConflictError
		invalidArg *lifecycle.InvalidArgumentError
	)
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &invalidSt), errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &invalidArg):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		zap.L().Error("alert command", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "alert command failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
