package model

import "time"

// VariantResults holds the measured outcome of one arm of an A/B test.
type VariantResults struct {
	Model          string  `json:"model"`
	Conversions    int     `json:"conversions"`
	Samples        int     `json:"samples"`
	ConversionRate float64 `json:"conversion_rate"`
	Accuracy       float64 `json:"accuracy,omitempty"`
}

// ABTestResult is immutable once a test concludes. It feeds alert
// generation when confidence crosses the configured significance
// threshold.
type ABTestResult struct {
	TestID            string         `json:"test_id"`
	ChampionResults   VariantResults `json:"champion_results"`
	ChallengerResults VariantResults `json:"challenger_results"`
	Improvement       float64        `json:"improvement"`
	Confidence        float64        `json:"confidence"`
	Winner            string         `json:"winner"`
	Duration          time.Duration  `json:"duration"`
	ConcludedAt       time.Time      `json:"concluded_at"`
}
