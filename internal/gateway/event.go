// Package gateway normalizes inbound engine events into typed records
// and routes them to the processing pipeline, preserving per-entity
// arrival order while allowing cross-entity parallelism.
package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/sells-group/lead-alerts/internal/model"
)

// EventType discriminates inbound events.
type EventType string

const (
	EventLeadUpdated     EventType = "lead_updated"
	EventScoreChanged    EventType = "score_changed"
	EventDriftDetected   EventType = "drift_detected"
	EventABTestCompleted EventType = "ab_test_completed"
)

// knownTypes lists the event types the gateway accepts.
var knownTypes = map[EventType]bool{
	EventLeadUpdated:     true,
	EventScoreChanged:    true,
	EventDriftDetected:   true,
	EventABTestCompleted: true,
}

// ValidationError reports a malformed event. The event is rejected with
// no state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: field %q %s", e.Field, e.Reason)
}

// LeadUpdate carries partial Lead fields; nil pointers mean "unchanged".
type LeadUpdate struct {
	Name                  *string           `json:"name,omitempty"`
	Company               *string           `json:"company,omitempty"`
	Owner                 *string           `json:"owner,omitempty"`
	Status                *model.LeadStatus `json:"status,omitempty"`
	EstimatedValue        *float64          `json:"estimatedValue,omitempty"`
	ConversionProbability *float64          `json:"conversionProbability,omitempty"`
	LastContact           *time.Time        `json:"lastContact,omitempty"`
}

// LeadUpdatedPayload refreshes the engine's cached copy of a lead.
type LeadUpdatedPayload struct {
	LeadID  string     `json:"leadId"`
	Updates LeadUpdate `json:"updates"`
}

// ScoreChangedPayload appends a point to a lead's score history.
type ScoreChangedPayload struct {
	LeadID     string             `json:"leadId"`
	NewScore   float64            `json:"newScore"`
	Confidence float64            `json:"confidence,omitempty"`
	Factors    map[string]float64 `json:"factors,omitempty"`
	Timestamp  time.Time          `json:"timestamp,omitempty"`
}

// DriftDetectedPayload reports upstream-computed drift metrics for a model.
type DriftDetectedPayload struct {
	ModelID          string             `json:"modelId"`
	Metrics          model.DriftMetrics `json:"metrics"`
	AffectedFeatures []string           `json:"affectedFeatures,omitempty"`
}

// ABTestCompletedPayload reports a concluded champion/challenger test.
type ABTestCompletedPayload struct {
	TestID            string               `json:"testId"`
	ChampionResults   model.VariantResults `json:"championResults"`
	ChallengerResults model.VariantResults `json:"challengerResults"`
	Improvement       float64              `json:"improvement"`
	Confidence        float64              `json:"confidence"`
	Winner            string               `json:"winner"`
}

// Event is the normalized form handed to the pipeline. Exactly one
// payload pointer is non-nil, matching Type.
type Event struct {
	Type       EventType
	EntityID   string
	ReceivedAt time.Time

	LeadUpdated     *LeadUpdatedPayload
	ScoreChanged    *ScoreChangedPayload
	DriftDetected   *DriftDetectedPayload
	ABTestCompleted *ABTestCompletedPayload
}

// ErrUnknownType marks an event whose type the gateway does not handle.
// Such events are logged and dropped, never failed.
type ErrUnknownType struct {
	Type EventType
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Type)
}

// Parse validates and normalizes one raw JSON event.
func Parse(raw []byte, now time.Time) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Event{}, &ValidationError{Field: "type", Reason: "event is not valid JSON"}
	}
	if head.Type == "" {
		return Event{}, &ValidationError{Field: "type", Reason: "is required"}
	}
	if !knownTypes[head.Type] {
		return Event{}, &ErrUnknownType{Type: head.Type}
	}

	ev := Event{Type: head.Type, ReceivedAt: now}
	switch head.Type {
	case EventLeadUpdated:
		var p LeadUpdatedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return Event{}, &ValidationError{Field: "updates", Reason: "is malformed"}
		}
		if p.LeadID == "" {
			return Event{}, &ValidationError{Field: "leadId", Reason: "is required"}
		}
		if p.Updates.ConversionProbability != nil {
			v, err := normalizeProbability(*p.Updates.ConversionProbability)
			if err != nil {
				return Event{}, &ValidationError{Field: "updates.conversionProbability", Reason: err.Error()}
			}
			p.Updates.ConversionProbability = &v
		}
		if p.Updates.EstimatedValue != nil && (*p.Updates.EstimatedValue < 0 || !isFinite(*p.Updates.EstimatedValue)) {
			return Event{}, &ValidationError{Field: "updates.estimatedValue", Reason: "must be a non-negative number"}
		}
		ev.EntityID = p.LeadID
		ev.LeadUpdated = &p

	case EventScoreChanged:
		var p ScoreChangedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return Event{}, &ValidationError{Field: "newScore", Reason: "is malformed"}
		}
		if p.LeadID == "" {
			return Event{}, &ValidationError{Field: "leadId", Reason: "is required"}
		}
		score, err := normalizeProbability(p.NewScore)
		if err != nil {
			return Event{}, &ValidationError{Field: "newScore", Reason: err.Error()}
		}
		p.NewScore = score
		if p.Confidence != 0 {
			conf, err := normalizeProbability(p.Confidence)
			if err != nil {
				return Event{}, &ValidationError{Field: "confidence", Reason: err.Error()}
			}
			p.Confidence = conf
		}
		if p.Timestamp.IsZero() {
			p.Timestamp = now
		}
		ev.EntityID = p.LeadID
		ev.ScoreChanged = &p

	case EventDriftDetected:
		var p DriftDetectedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return Event{}, &ValidationError{Field: "metrics", Reason: "is malformed"}
		}
		if p.ModelID == "" {
			return Event{}, &ValidationError{Field: "modelId", Reason: "is required"}
		}
		for field, v := range map[string]float64{
			"metrics.featureDrift":    p.Metrics.FeatureDrift,
			"metrics.predictionDrift": p.Metrics.PredictionDrift,
			"metrics.accuracyDrop":    p.Metrics.AccuracyDrop,
		} {
			if v < 0 || !isFinite(v) {
				return Event{}, &ValidationError{Field: field, Reason: "must be a non-negative number"}
			}
		}
		ev.EntityID = p.ModelID
		ev.DriftDetected = &p

	case EventABTestCompleted:
		var p ABTestCompletedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return Event{}, &ValidationError{Field: "championResults", Reason: "is malformed"}
		}
		if p.TestID == "" {
			return Event{}, &ValidationError{Field: "testId", Reason: "is required"}
		}
		conf, err := normalizeProbability(p.Confidence)
		if err != nil {
			return Event{}, &ValidationError{Field: "confidence", Reason: err.Error()}
		}
		p.Confidence = conf
		ev.EntityID = p.TestID
		ev.ABTestCompleted = &p
	}

	return ev, nil
}

// normalizeProbability maps inputs on either a [0,1] or a [0,100] scale
// to a fraction in [0,1].
func normalizeProbability(v float64) (float64, error) {
	if !isFinite(v) || v < 0 {
		return 0, fmt.Errorf("must be a number in [0,1] or [0,100]")
	}
	if v > 100 {
		return 0, fmt.Errorf("must not exceed 100")
	}
	if v > 1 {
		v /= 100
	}
	return v, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
