// Package reconcile drives the backfill of historical ratings: chunked,
// concurrent-within-a-chunk processing of unresolved ratings through the
// locate → score → resolve pipeline, with per-record failure isolation.
package reconcile

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/terravia-group/roadops-cli/internal/match"
	"github.com/terravia-group/roadops-cli/internal/model"
	"github.com/terravia-group/roadops-cli/internal/store"
)

// Options configures one reconciliation run.
type Options struct {
	// SegmentID restricts the run to one road segment. Empty = all.
	SegmentID string
	// DryRun suppresses every store write while still producing the
	// same summary counts.
	DryRun bool
	// ChunkSize is how many ratings are drained per chunk. Chunk N+1
	// does not start before chunk N completes.
	ChunkSize int
	// Concurrency bounds in-flight records within a chunk.
	Concurrency int
	// Limit caps the total number of ratings processed. 0 = no cap.
	Limit int
	// WritesPerSec throttles resolution writes. 0 = unlimited.
	WritesPerSec float64
}

// Summary is the end-of-run accounting, returned from Run rather than
// held as driver state.
type Summary struct {
	RunID         string `json:"run_id"`
	Processed     int    `json:"processed"`
	Updated       int    `json:"updated"`
	Ambiguous     int    `json:"ambiguous"`
	NoCandidates  int    `json:"no_candidates"`
	LowConfidence int    `json:"low_confidence"`
	Errored       int    `json:"errored"`
}

// Driver runs the reconciliation batch.
type Driver struct {
	locator   *match.Locator
	ratings   store.RatingStore
	anomalies store.AnomalyStore
}

// NewDriver creates a Driver over the given stores.
func NewDriver(locator *match.Locator, ratings store.RatingStore, anomalies store.AnomalyStore) *Driver {
	return &Driver{locator: locator, ratings: ratings, anomalies: anomalies}
}

// counters aggregates per-record outcomes across a run. Record tasks in
// the same chunk complete in any order, so all fields are atomics.
type counters struct {
	processed     atomic.Int64
	updated       atomic.Int64
	ambiguous     atomic.Int64
	noCandidates  atomic.Int64
	lowConfidence atomic.Int64
	errored       atomic.Int64
}

// Run drains every unresolved rating matching opts and reconciles each
// one independently. Per-record failures are logged and counted without
// aborting the batch; only the initial fetch and context cancellation
// abort the run. The returned Summary is valid even for a dry run.
func (d *Driver) Run(ctx context.Context, opts Options) (Summary, error) {
	runID := uuid.New().String()
	log := zap.L().With(zap.String("run_id", runID))

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}

	var limiter *rate.Limiter
	if opts.WritesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.WritesPerSec), 1)
	}

	ratings, err := d.ratings.FindUnresolved(ctx, store.RatingFilter{
		SegmentID: opts.SegmentID,
		Limit:     opts.Limit,
	})
	if err != nil {
		return Summary{RunID: runID}, eris.Wrap(err, "reconcile: fetch unresolved ratings")
	}

	log.Info("reconciliation starting",
		zap.Int("ratings", len(ratings)),
		zap.Int("chunk_size", opts.ChunkSize),
		zap.Int("concurrency", opts.Concurrency),
		zap.String("segment", opts.SegmentID),
		zap.Bool("dry_run", opts.DryRun),
	)

	var c counters

	for start := 0; start < len(ratings); start += opts.ChunkSize {
		// Cancellation is honored at chunk boundaries so a partially
		// processed chunk still drains.
		if err := ctx.Err(); err != nil {
			return c.summary(runID), eris.Wrap(err, "reconcile: canceled")
		}

		end := start + opts.ChunkSize
		if end > len(ratings) {
			end = len(ratings)
		}
		chunk := ratings[start:end]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)

		for _, rating := range chunk {
			rating := rating
			g.Go(func() error {
				d.processRating(gctx, log, rating, opts.DryRun, limiter, &c)
				return nil // individual failures never abort siblings
			})
		}
		if err := g.Wait(); err != nil {
			return c.summary(runID), eris.Wrap(err, "reconcile: chunk wait")
		}

		log.Info("chunk complete",
			zap.Int("processed", end),
			zap.Int("total", len(ratings)),
			zap.Int64("updated", c.updated.Load()),
			zap.Int64("errored", c.errored.Load()),
		)
	}

	summary := c.summary(runID)
	log.Info("reconciliation complete",
		zap.Int("processed", summary.Processed),
		zap.Int("updated", summary.Updated),
		zap.Int("ambiguous", summary.Ambiguous),
		zap.Int("no_candidates", summary.NoCandidates),
		zap.Int("low_confidence", summary.LowConfidence),
		zap.Int("errored", summary.Errored),
		zap.Bool("dry_run", opts.DryRun),
	)
	return summary, nil
}

// processRating reconciles one rating end to end, recovering every error
// into the error counter.
func (d *Driver) processRating(ctx context.Context, log *zap.Logger, rating model.Rating, dryRun bool, limiter *rate.Limiter, c *counters) {
	c.processed.Add(1)
	rlog := log.With(zap.String("rating_id", rating.ID), zap.String("segment", rating.RoadSegmentID))

	candidates, err := d.locator.Locate(ctx, rating)
	if err != nil {
		c.errored.Add(1)
		rlog.Error("candidate lookup failed", zap.Error(err))
		return
	}

	outcome := match.Resolve(match.ScoreAll(rating, candidates))
	if outcome.Status == match.StatusUnresolved {
		switch outcome.Reason {
		case match.ReasonNoCandidates:
			c.noCandidates.Add(1)
		case match.ReasonAmbiguous:
			c.ambiguous.Add(1)
			rlog.Info("skipping ambiguous rating", zap.Int("candidates", len(candidates)))
		case match.ReasonLowConfidence:
			c.lowConfidence.Add(1)
		}
		return
	}

	if outcome.TieBreak {
		fields := []zap.Field{zap.String("winner", outcome.Winner.SurveyID)}
		for _, m := range outcome.Contenders {
			fields = append(fields, zap.Duration("candidate_"+m.SurveyID, m.TimeDelta))
		}
		rlog.Warn("multiple high-confidence candidates, resolved by time proximity", fields...)
	}

	anomalyCount, err := d.anomalies.CountInWindow(ctx,
		outcome.Winner.ProjectID, rating.RoadSegmentID, rating.CreatedAt, match.CandidateWindow)
	if err != nil {
		c.errored.Add(1)
		rlog.Error("anomaly count failed", zap.Error(err))
		return
	}

	if dryRun {
		c.updated.Add(1)
		rlog.Debug("dry run: would resolve",
			zap.String("survey_id", outcome.Winner.SurveyID),
			zap.Int("anomaly_count", anomalyCount),
		)
		return
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			c.errored.Add(1)
			return
		}
	}

	res := model.Resolution{
		SurveyID:     outcome.Winner.SurveyID,
		ProjectID:    outcome.Winner.ProjectID,
		AnomalyCount: anomalyCount,
	}
	if err := d.ratings.Resolve(ctx, rating.ID, res); err != nil {
		c.errored.Add(1)
		rlog.Error("resolution write failed", zap.Error(err))
		return
	}

	c.updated.Add(1)
	rlog.Info("rating resolved",
		zap.String("survey_id", res.SurveyID),
		zap.String("tier", outcome.Winner.Tier),
		zap.Int("anomaly_count", anomalyCount),
	)
}

func (c *counters) summary(runID string) Summary {
	return Summary{
		RunID:         runID,
		Processed:     int(c.processed.Load()),
		Updated:       int(c.updated.Load()),
		Ambiguous:     int(c.ambiguous.Load()),
		NoCandidates:  int(c.noCandidates.Load()),
		LowConfidence: int(c.lowConfidence.Load()),
		Errored:       int(c.errored.Load()),
	}
}
