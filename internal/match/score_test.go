package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/terravia-group/roadops-cli/internal/model"
)

func floatPtr(f float64) *float64 { return &f }

func TestScore(t *testing.T) {
	base := time.Date(2023, 6, 12, 9, 30, 0, 0, time.UTC)
	rating := model.Rating{
		ID:            "r-1",
		TenantID:      "tenant-1",
		RoadSegmentID: "seg-100",
		RideQuality:   3.2,
		AuthorID:      "agent-7",
		CreatedAt:     base,
	}

	tests := []struct {
		name         string
		surveyOffset time.Duration
		avg          *float64
		expectedTier string
	}{
		{
			name:         "high: 30s and 0.05 off",
			surveyOffset: 30 * time.Second,
			avg:          floatPtr(3.25),
			expectedTier: model.TierHigh,
		},
		{
			name:         "medium: 150s and 0.3 off",
			surveyOffset: 150 * time.Second,
			avg:          floatPtr(3.5),
			expectedTier: model.TierMedium,
		},
		{
			name:         "low: 400s regardless of value",
			surveyOffset: 400 * time.Second,
			avg:          floatPtr(3.2),
			expectedTier: model.TierLow,
		},
		{
			name:         "low: missing average disqualifies high",
			surveyOffset: 10 * time.Second,
			avg:          nil,
			expectedTier: model.TierLow,
		},
		{
			name:         "medium: tight time but loose value",
			surveyOffset: 30 * time.Second,
			avg:          floatPtr(3.6),
			expectedTier: model.TierMedium,
		},
		{
			name:         "high boundary: 60s is not high",
			surveyOffset: 60 * time.Second,
			avg:          floatPtr(3.2),
			expectedTier: model.TierMedium,
		},
		{
			name:         "medium boundary: 180s is not medium",
			surveyOffset: 180 * time.Second,
			avg:          floatPtr(3.2),
			expectedTier: model.TierLow,
		},
		{
			name:         "survey before the rating counts the same",
			surveyOffset: -30 * time.Second,
			avg:          floatPtr(3.25),
			expectedTier: model.TierHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			survey := model.Survey{
				ID:             "s-1",
				ProjectID:      "p-1",
				AvgRideQuality: tt.avg,
				CreatedAt:      base.Add(tt.surveyOffset),
			}
			m := Score(rating, survey)
			assert.Equal(t, tt.expectedTier, m.Tier)
			assert.Equal(t, absDuration(tt.surveyOffset), m.TimeDelta)
			assert.Equal(t, tt.avg != nil, m.ValueDeltaKnown)
		})
	}
}

func TestScoreAll(t *testing.T) {
	base := time.Now()
	rating := model.Rating{RideQuality: 2.0, CreatedAt: base}
	candidates := []model.Survey{
		{ID: "s-1", AvgRideQuality: floatPtr(2.05), CreatedAt: base.Add(20 * time.Second)},
		{ID: "s-2", CreatedAt: base.Add(10 * time.Second)},
	}

	matches := ScoreAll(rating, candidates)
	assert.Len(t, matches, 2)
	assert.Equal(t, model.TierHigh, matches[0].Tier)
	assert.Equal(t, model.TierLow, matches[1].Tier)
}
