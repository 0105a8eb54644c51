package derive

import "github.com/sells-group/lead-alerts/internal/model"

// warningMargin is how close to its threshold a passing metric may get
// before it is flagged as a warning (10%).
const warningMargin = 0.10

// GradeCheck grades a single health dimension. For higher-is-better
// metrics (accuracy, performance, data quality) the check fails when
// current falls below threshold; for lower-is-better metrics (drift) the
// comparison is inverted.
func GradeCheck(current, threshold float64, higherIsBetter bool) model.HealthCheck {
	check := model.HealthCheck{Current: current, Threshold: threshold, Status: model.HealthHealthy}
	if threshold == 0 {
		return check
	}

	if higherIsBetter {
		switch {
		case current < threshold:
			check.Status = model.HealthCritical
		case current < threshold*(1+warningMargin):
			check.Status = model.HealthWarning
		}
		return check
	}

	switch {
	case current > threshold:
		check.Status = model.HealthCritical
	case current > threshold*(1-warningMargin):
		check.Status = model.HealthWarning
	}
	return check
}

// OverallHealth rolls individual check statuses up to a model-level
// status: any critical check makes the model critical, any warning makes
// it warning, otherwise healthy.
func OverallHealth(checks map[string]model.HealthCheck) model.HealthStatus {
	status := model.HealthHealthy
	for _, c := range checks {
		switch c.Status {
		case model.HealthCritical:
			return model.HealthCritical
		case model.HealthWarning:
			status = model.HealthWarning
		}
	}
	return status
}
