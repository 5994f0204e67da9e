package model

import "time"

// Confidence tiers for candidate matches, ordered strongest first.
const (
	TierHigh   = "high"
	TierMedium = "medium"
	TierLow    = "low"
)

// CandidateMatch scores one candidate survey against a historical rating.
// Computed fresh per rating during matching and discarded after
// resolution; never persisted.
type CandidateMatch struct {
	SurveyID  string        `json:"survey_id"`
	ProjectID string        `json:"project_id"`
	Tier      string        `json:"tier"`
	TimeDelta time.Duration `json:"time_delta"`
	// ValueDelta is the absolute difference between the candidate's
	// recorded average ride quality and the rating's value. Meaningless
	// when ValueDeltaKnown is false (candidate has no recorded average).
	ValueDelta      float64 `json:"value_delta"`
	ValueDeltaKnown bool    `json:"value_delta_known"`
}
