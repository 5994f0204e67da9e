package match

import (
	"math"
	"time"

	"github.com/terravia-group/roadops-cli/internal/model"
)

// Tier thresholds. Temporal proximity is the primary signal; numeric
// plausibility of the ride-quality value corroborates it. A candidate
// with no recorded average can never reach high or medium.
const (
	highTimeDelta    = 60 * time.Second
	highValueDelta   = 0.1
	mediumTimeDelta  = 180 * time.Second
	mediumValueDelta = 0.5
)

// Score classifies one candidate survey against a rating. Tier rules are
// evaluated in order, first match wins:
//   - high: Δt < 60s AND Δv < 0.1
//   - medium: Δt < 180s AND Δv < 0.5
//   - low: anything else, including a missing survey average
func Score(rating model.Rating, candidate model.Survey) model.CandidateMatch {
	m := model.CandidateMatch{
		SurveyID:  candidate.ID,
		ProjectID: candidate.ProjectID,
		TimeDelta: absDuration(candidate.CreatedAt.Sub(rating.CreatedAt)),
		Tier:      model.TierLow,
	}

	if candidate.AvgRideQuality == nil {
		return m
	}
	m.ValueDelta = math.Abs(*candidate.AvgRideQuality - rating.RideQuality)
	m.ValueDeltaKnown = true

	switch {
	case m.TimeDelta < highTimeDelta && m.ValueDelta < highValueDelta:
		m.Tier = model.TierHigh
	case m.TimeDelta < mediumTimeDelta && m.ValueDelta < mediumValueDelta:
		m.Tier = model.TierMedium
	}
	return m
}

// ScoreAll maps Score over every candidate.
func ScoreAll(rating model.Rating, candidates []model.Survey) []model.CandidateMatch {
	matches := make([]model.CandidateMatch, len(candidates))
	for i, c := range candidates {
		matches[i] = Score(rating, c)
	}
	return matches
}
