package derive

import (
	"fmt"
	"math"
	"time"

	"github.com/sells-group/lead-alerts/internal/model"
)

// DriftConfig tunes drift detection.
type DriftConfig struct {
	// Threshold is the relative deviation above which a drift metric
	// counts as detected.
	Threshold float64

	// Ladder escalates severity by how far past Threshold the worst
	// metric is.
	Ladder model.SeverityLadder
}

// DefaultDriftConfig returns the standard drift tuning.
func DefaultDriftConfig() DriftConfig {
	return DriftConfig{
		Threshold: 0.02,
		Ladder:    model.DefaultSeverityLadder(),
	}
}

// DriftMetrics computes the relative deviation of current model metrics
// from the baseline. Zero-valued baseline components yield zero drift
// for that component rather than dividing by zero.
func DriftMetrics(baseline, current model.ModelMetrics) model.DriftMetrics {
	return model.DriftMetrics{
		FeatureDrift:    relativeDeviation(baseline.Accuracy, current.Accuracy),
		PredictionDrift: relativeDeviation(baseline.Precision, current.Precision),
		AccuracyDrop:    math.Max(0, baseline.Accuracy-current.Accuracy),
	}
}

// Drift evaluates current model metrics against the baseline. Detected
// is true when any drift metric strictly exceeds the threshold.
func Drift(modelID string, baseline, current model.ModelMetrics, cfg DriftConfig, now time.Time) model.DriftDetection {
	return DriftFromMetrics(modelID, DriftMetrics(baseline, current), cfg, now)
}

// DriftFromMetrics classifies drift metrics that were already computed,
// either locally or by an upstream monitoring job.
func DriftFromMetrics(modelID string, metrics model.DriftMetrics, cfg DriftConfig, now time.Time) model.DriftDetection {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultDriftConfig().Threshold
	}

	worst := math.Max(metrics.FeatureDrift, math.Max(metrics.PredictionDrift, metrics.AccuracyDrop))
	detected := exceedsThreshold(worst, cfg.Threshold)

	det := model.DriftDetection{
		ModelID:    modelID,
		Detected:   detected,
		Severity:   model.DriftLow,
		Metrics:    metrics,
		DetectedAt: now,
	}
	if !detected {
		return det
	}

	det.Severity = driftSeverity(cfg.Ladder.Grade(worst, cfg.Threshold))
	det.AffectedFeatures = affectedFeatures(metrics, cfg.Threshold)
	det.Recommendations = driftRecommendations(det.Severity, metrics)
	return det
}

func driftSeverity(s model.Severity) model.DriftSeverity {
	switch s {
	case model.SeverityCritical:
		return model.DriftCritical
	case model.SeverityHigh:
		return model.DriftHigh
	case model.SeverityMedium:
		return model.DriftMedium
	default:
		return model.DriftLow
	}
}

func affectedFeatures(m model.DriftMetrics, threshold float64) []string {
	var out []string
	if exceedsThreshold(m.FeatureDrift, threshold) {
		out = append(out, "feature_distribution")
	}
	if exceedsThreshold(m.PredictionDrift, threshold) {
		out = append(out, "prediction_distribution")
	}
	if exceedsThreshold(m.AccuracyDrop, threshold) {
		out = append(out, "accuracy")
	}
	return out
}

// driftEpsilon absorbs the float error of the relative-deviation
// division so a metric computed exactly at the threshold stays below
// it under the strict > convention.
const driftEpsilon = 1e-9

func exceedsThreshold(v, threshold float64) bool {
	return v-threshold > driftEpsilon
}

func driftRecommendations(sev model.DriftSeverity, m model.DriftMetrics) []string {
	recs := []string{
		fmt.Sprintf("compare live feature distributions against training baseline (worst deviation %.1f%%)", worstPct(m)),
	}
	switch sev {
	case model.DriftCritical:
		recs = append(recs, "retrain the model before further automated scoring", "route scoring decisions to manual review")
	case model.DriftHigh:
		recs = append(recs, "schedule a retrain within the week")
	default:
		recs = append(recs, "continue monitoring at increased frequency")
	}
	return recs
}

func worstPct(m model.DriftMetrics) float64 {
	return math.Max(m.FeatureDrift, math.Max(m.PredictionDrift, m.AccuracyDrop)) * 100
}

func relativeDeviation(baseline, current float64) float64 {
	if baseline == 0 {
		return 0
	}
	return math.Abs(current-baseline) / baseline
}
