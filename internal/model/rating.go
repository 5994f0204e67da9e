// Package model defines the core domain types for the road-inspection
// reconciliation backend: historical ride-quality ratings, field surveys,
// projects, and the derived per-segment aggregates.
package model

import "time"

// Resolution links a historical rating back to the survey that produced it.
// All three fields are written together, exactly once per rating.
type Resolution struct {
	SurveyID     string `json:"survey_id"`
	ProjectID    string `json:"project_id"`
	AnomalyCount int    `json:"anomaly_count"`
}

// Rating is one point-in-time ride-quality measurement recorded before
// linkage metadata existed. Resolution is nil until the reconciliation
// engine matches the rating to its originating survey; a non-nil
// Resolution is never overwritten.
type Rating struct {
	ID            string      `json:"id"`
	TenantID      string      `json:"tenant_id"`
	RoadSegmentID string      `json:"road_segment_id"`
	RideQuality   float64     `json:"ride_quality"`
	AuthorID      string      `json:"author_id"`
	CreatedAt     time.Time   `json:"created_at"`
	Resolution    *Resolution `json:"resolution,omitempty"`
}

// Resolved reports whether the rating has been linked to a survey.
func (r *Rating) Resolved() bool {
	return r.Resolution != nil
}
