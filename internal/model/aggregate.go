package model

import "time"

// SegmentAggregate holds the derived road-condition statistics for one
// (tenant, road segment) pair. Fully derivable from the rating and survey
// history for the pair; every recomputation overwrites all five derived
// fields together so the row stays internally consistent.
type SegmentAggregate struct {
	TenantID      string `json:"tenant_id"`
	RoadSegmentID string `json:"road_segment_id"`

	// TotalSurveys counts distinct resolved survey IDs, not raw rows.
	TotalSurveys       int        `json:"total_surveys"`
	TotalAnomalies     int        `json:"total_anomalies"`
	UniqueContributors int        `json:"unique_contributors"`
	LastSurveyDate     *time.Time `json:"last_survey_date,omitempty"`
	AvgRideQuality     float64    `json:"avg_ride_quality"`
}

// SegmentKey identifies one (tenant, road segment) pair.
type SegmentKey struct {
	TenantID      string `json:"tenant_id"`
	RoadSegmentID string `json:"road_segment_id"`
}
