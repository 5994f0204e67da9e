// Package aggregate recomputes per-segment road-condition statistics from
// the full rating history and upserts them into the summary store.
package aggregate

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/terravia-group/roadops-cli/internal/model"
	"github.com/terravia-group/roadops-cli/internal/store"
)

// Recomputer derives SegmentAggregate rows from rating history.
type Recomputer struct {
	ratings store.RatingStore
	aggs    store.AggregateStore
}

// NewRecomputer creates a Recomputer over the given stores.
func NewRecomputer(ratings store.RatingStore, aggs store.AggregateStore) *Recomputer {
	return &Recomputer{ratings: ratings, aggs: aggs}
}

// Derive computes the aggregate for a (tenant, segment) pair from its
// rating rows. Pure function; always recomputed from source data rather
// than incrementally maintained, so historical corrections propagate.
func Derive(tenantID, segmentID string, ratings []model.Rating) model.SegmentAggregate {
	agg := model.SegmentAggregate{
		TenantID:      tenantID,
		RoadSegmentID: segmentID,
	}

	surveys := make(map[string]struct{})
	authors := make(map[string]struct{})
	var sum float64
	var last *time.Time

	for _, r := range ratings {
		// Contributor counting does not require resolution.
		authors[r.AuthorID] = struct{}{}
		sum += r.RideQuality

		if r.Resolution == nil {
			continue
		}
		surveys[r.Resolution.SurveyID] = struct{}{}
		agg.TotalAnomalies += r.Resolution.AnomalyCount
		if last == nil || r.CreatedAt.After(*last) {
			t := r.CreatedAt
			last = &t
		}
	}

	agg.TotalSurveys = len(surveys)
	agg.UniqueContributors = len(authors)
	agg.LastSurveyDate = last
	if len(ratings) > 0 {
		agg.AvgRideQuality = sum / float64(len(ratings))
	}
	return agg
}

// Recompute derives and upserts the aggregate for one (tenant, segment)
// pair. Safe to re-run: unchanged source rows yield an unchanged
// aggregate.
func (rc *Recomputer) Recompute(ctx context.Context, tenantID, segmentID string) (model.SegmentAggregate, error) {
	rows, err := rc.ratings.ByPair(ctx, tenantID, segmentID)
	if err != nil {
		return model.SegmentAggregate{}, eris.Wrapf(err, "aggregate: ratings for %s/%s", tenantID, segmentID)
	}

	agg := Derive(tenantID, segmentID, rows)
	if err := rc.aggs.Upsert(ctx, agg); err != nil {
		return model.SegmentAggregate{}, eris.Wrapf(err, "aggregate: upsert %s/%s", tenantID, segmentID)
	}
	return agg, nil
}

// Summary reports a bulk recomputation pass.
type Summary struct {
	Segments int `json:"segments"`
	Updated  int `json:"updated"`
	Errored  int `json:"errored"`
}

// RecomputeAll recomputes every (tenant, segment) pair in the rating
// history, optionally restricted to one tenant. Segments are processed
// sequentially so concurrent upserts of the same pair cannot race;
// per-segment failures are logged and counted without aborting the pass.
// DryRun derives without upserting.
func (rc *Recomputer) RecomputeAll(ctx context.Context, tenantID string, dryRun bool) (Summary, error) {
	keys, err := rc.ratings.ListSegments(ctx, tenantID)
	if err != nil {
		return Summary{}, eris.Wrap(err, "aggregate: list segments")
	}

	log := zap.L().With(zap.String("tenant", tenantID), zap.Bool("dry_run", dryRun))
	log.Info("aggregate recomputation starting", zap.Int("segments", len(keys)))

	var summary Summary
	summary.Segments = len(keys)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return summary, eris.Wrap(err, "aggregate: canceled")
		}

		if dryRun {
			rows, err := rc.ratings.ByPair(ctx, key.TenantID, key.RoadSegmentID)
			if err != nil {
				summary.Errored++
				log.Error("aggregate derivation failed",
					zap.String("segment", key.RoadSegmentID), zap.Error(err))
				continue
			}
			Derive(key.TenantID, key.RoadSegmentID, rows)
			summary.Updated++
			continue
		}

		if _, err := rc.Recompute(ctx, key.TenantID, key.RoadSegmentID); err != nil {
			summary.Errored++
			log.Error("aggregate recompute failed",
				zap.String("segment", key.RoadSegmentID), zap.Error(err))
			continue
		}
		summary.Updated++
	}

	log.Info("aggregate recomputation complete",
		zap.Int("segments", summary.Segments),
		zap.Int("updated", summary.Updated),
		zap.Int("errored", summary.Errored),
	)
	return summary, nil
}
