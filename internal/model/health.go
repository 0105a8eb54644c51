package model

import "time"

// HealthStatus summarizes a single model health check or the model overall.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// HealthCheck is one dimension of model health compared against its
// configured threshold.
type HealthCheck struct {
	Current   float64      `json:"current"`
	Threshold float64      `json:"threshold"`
	Status    HealthStatus `json:"status"`
}

// ModelHealth is a point-in-time snapshot of a predictive model's health.
type ModelHealth struct {
	ModelID     string       `json:"model_id"`
	Status      HealthStatus `json:"status"`
	Accuracy    HealthCheck  `json:"accuracy"`
	Drift       HealthCheck  `json:"drift"`
	Performance HealthCheck  `json:"performance"`
	DataQuality HealthCheck  `json:"data_quality"`
	LastChecked time.Time    `json:"last_checked"`
}

// Checks returns the individual checks keyed by name.
func (m *ModelHealth) Checks() map[string]HealthCheck {
	return map[string]HealthCheck{
		"accuracy":     m.Accuracy,
		"drift":        m.Drift,
		"performance":  m.Performance,
		"data_quality": m.DataQuality,
	}
}

// DriftSeverity grades how far a model has drifted from its baseline.
type DriftSeverity string

const (
	DriftLow      DriftSeverity = "low"
	DriftMedium   DriftSeverity = "medium"
	DriftHigh     DriftSeverity = "high"
	DriftCritical DriftSeverity = "critical"
)

// DriftMetrics holds the relative deviations of current model metrics
// from the baseline. Tags are camelCase to match the inbound
// drift_detected event body.
type DriftMetrics struct {
	FeatureDrift    float64 `json:"featureDrift"`
	PredictionDrift float64 `json:"predictionDrift"`
	AccuracyDrop    float64 `json:"accuracyDrop"`
}

// DriftDetection is the outcome of a drift evaluation. Like
// DerivedMetrics it is recomputed, never stored durably.
type DriftDetection struct {
	ModelID          string        `json:"model_id"`
	Detected         bool          `json:"detected"`
	Severity         DriftSeverity `json:"severity"`
	Metrics          DriftMetrics  `json:"metrics"`
	AffectedFeatures []string      `json:"affected_features,omitempty"`
	Recommendations  []string      `json:"recommendations,omitempty"`
	DetectedAt       time.Time     `json:"detected_at"`
}

// ModelMetrics is a baseline or live sample of model quality used for
// drift computation.
type ModelMetrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1,omitempty"`
}
