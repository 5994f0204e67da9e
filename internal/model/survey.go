package model

import "time"

// Survey is one completed field survey covering a route. RoadSegmentIDs is
// the set of road-segment identifiers the survey's path intersects.
// Surveys are read-only inputs to matching; reconciliation never mutates
// them.
type Survey struct {
	ID             string              `json:"id"`
	ProjectID      string              `json:"project_id"`
	TenantID       string              `json:"tenant_id"`
	RoadSegmentIDs map[string]struct{} `json:"road_segment_ids"`
	AvgRideQuality *float64            `json:"avg_ride_quality,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	AuthorID       string              `json:"author_id"`
}

// CoversSegment reports whether the survey's path intersects the given
// road segment. Exact set membership, never substring or prefix matching.
func (s *Survey) CoversSegment(segmentID string) bool {
	_, ok := s.RoadSegmentIDs[segmentID]
	return ok
}

// Project owns zero or more surveys and supplies an alternative identity
// signal (creator) when a survey's own author does not match.
type Project struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	CreatorID string    `json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
}
