// Package store defines the persistence interfaces consumed by the
// reconciliation and aggregation engines, with postgres (pgx) and sqlite
// (modernc) implementations selected by configuration.
package store

import (
	"context"
	"time"

	"github.com/terravia-group/roadops-cli/internal/model"
)

// RatingFilter narrows FindUnresolved to one road segment and/or caps the
// number of rows returned. The zero value matches all unresolved ratings.
type RatingFilter struct {
	SegmentID string
	Limit     int
}

// SegmentCount pairs a (tenant, segment) key with a row count.
type SegmentCount struct {
	model.SegmentKey
	Count int
}

// SurveyStore reads candidate surveys and their project identity signals.
type SurveyStore interface {
	// FindCandidates returns same-tenant surveys covering the segment
	// whose creation time falls within ±window of center. The covering
	// check may be a store-side pre-filter; callers re-verify exact set
	// membership.
	FindCandidates(ctx context.Context, tenantID, segmentID string, center time.Time, window time.Duration) ([]model.Survey, error)

	// ProjectCreator returns the creator user ID for a project.
	ProjectCreator(ctx context.Context, projectID string) (string, error)
}

// RatingStore reads and resolves historical ratings.
type RatingStore interface {
	// FindUnresolved returns unresolved ratings ordered by creation time
	// ascending.
	FindUnresolved(ctx context.Context, filter RatingFilter) ([]model.Rating, error)

	// Resolve writes the resolution fields for a rating. It must refuse
	// to overwrite an existing resolution.
	Resolve(ctx context.Context, ratingID string, res model.Resolution) error

	// ByPair returns every rating (resolved or not) for a (tenant,
	// segment) pair.
	ByPair(ctx context.Context, tenantID, segmentID string) ([]model.Rating, error)

	// ListSegments returns the distinct (tenant, segment) pairs present
	// in the rating history, optionally restricted to one tenant.
	ListSegments(ctx context.Context, tenantID string) ([]model.SegmentKey, error)

	// UnresolvedCounts returns per-segment unresolved rating counts.
	UnresolvedCounts(ctx context.Context) ([]SegmentCount, error)
}

// AnomalyStore counts hazard reports.
type AnomalyStore interface {
	// CountInWindow counts anomalies reported for the project and segment
	// within ±window of center.
	CountInWindow(ctx context.Context, projectID, segmentID string, center time.Time, window time.Duration) (int, error)
}

// AggregateStore persists derived per-segment statistics.
type AggregateStore interface {
	// Upsert creates or fully overwrites the aggregate row for the
	// aggregate's (tenant, segment) pair.
	Upsert(ctx context.Context, agg model.SegmentAggregate) error
}

// SegmentStore persists road-network geometry loaded from GIS files.
type SegmentStore interface {
	// UpsertSegments bulk-loads road segments, replacing rows that share
	// a segment ID.
	UpsertSegments(ctx context.Context, segments []RoadSegmentRow) (int64, error)
}

// RoadSegmentRow is one road-network feature prepared for loading.
type RoadSegmentRow struct {
	SegmentID string
	Name      string
	Geom      []byte // EWKB, SRID 4326
	LengthM   float64
	MinLng    float64
	MinLat    float64
	MaxLng    float64
	MaxLat    float64
}

// Store bundles every persistence interface behind one handle.
type Store interface {
	SurveyStore
	RatingStore
	AnomalyStore
	AggregateStore
	SegmentStore

	Migrate(ctx context.Context) error
	Close() error
}
