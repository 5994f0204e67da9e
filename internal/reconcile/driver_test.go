package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/terravia-group/roadops-cli/internal/match"
	"github.com/terravia-group/roadops-cli/internal/model"
	"github.com/terravia-group/roadops-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func floatPtr(f float64) *float64 { return &f }

// fakeStore implements the store interfaces the driver touches. Surveys
// are keyed by the rating ID they should match so tests can script
// different outcomes per record.
type fakeStore struct {
	mu sync.Mutex

	surveysBySegment map[string][]model.Survey
	creators         map[string]string
	unresolved       []model.Rating
	failLookupFor    map[string]bool

	resolved      map[string]model.Resolution
	anomalyCounts map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		surveysBySegment: map[string][]model.Survey{},
		creators:         map[string]string{},
		failLookupFor:    map[string]bool{},
		resolved:         map[string]model.Resolution{},
		anomalyCounts:    map[string]int{},
	}
}

func (f *fakeStore) FindCandidates(_ context.Context, tenantID, segmentID string, center time.Time, window time.Duration) ([]model.Survey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLookupFor[segmentID] {
		return nil, fmt.Errorf("store unavailable")
	}
	var out []model.Survey
	for _, sv := range f.surveysBySegment[segmentID] {
		if sv.TenantID != tenantID {
			continue
		}
		d := sv.CreatedAt.Sub(center)
		if d < 0 {
			d = -d
		}
		if d <= window {
			out = append(out, sv)
		}
	}
	return out, nil
}

func (f *fakeStore) ProjectCreator(_ context.Context, projectID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creators[projectID], nil
}

func (f *fakeStore) FindUnresolved(_ context.Context, filter store.RatingFilter) ([]model.Rating, error) {
	out := f.unresolved
	if filter.SegmentID != "" {
		out = nil
		for _, r := range f.unresolved {
			if r.RoadSegmentID == filter.SegmentID {
				out = append(out, r)
			}
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) Resolve(_ context.Context, ratingID string, res model.Resolution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.resolved[ratingID]; ok {
		return store.ErrAlreadyResolved
	}
	f.resolved[ratingID] = res
	return nil
}

func (f *fakeStore) ByPair(context.Context, string, string) ([]model.Rating, error) {
	return nil, nil
}

func (f *fakeStore) ListSegments(context.Context, string) ([]model.SegmentKey, error) {
	return nil, nil
}

func (f *fakeStore) UnresolvedCounts(context.Context) ([]store.SegmentCount, error) {
	return nil, nil
}

func (f *fakeStore) CountInWindow(_ context.Context, projectID, segmentID string, _ time.Time, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.anomalyCounts[projectID+"/"+segmentID], nil
}

// seedMatchable adds a rating plus a high-confidence survey for it.
func (f *fakeStore) seedMatchable(i int, base time.Time) {
	segID := fmt.Sprintf("seg-%d", i)
	f.unresolved = append(f.unresolved, model.Rating{
		ID:            fmt.Sprintf("r-%d", i),
		TenantID:      "tenant-1",
		RoadSegmentID: segID,
		RideQuality:   3.0,
		AuthorID:      "agent-1",
		CreatedAt:     base,
	})
	f.surveysBySegment[segID] = []model.Survey{{
		ID:             fmt.Sprintf("s-%d", i),
		ProjectID:      "p-1",
		TenantID:       "tenant-1",
		RoadSegmentIDs: map[string]struct{}{segID: {}},
		AvgRideQuality: floatPtr(3.02),
		AuthorID:       "agent-1",
		CreatedAt:      base.Add(20 * time.Second),
	}}
}

func newDriver(f *fakeStore) *Driver {
	return NewDriver(match.NewLocator(f), f, f)
}

func TestRun_ResolvesMatchableRatings(t *testing.T) {
	base := time.Date(2023, 6, 12, 9, 0, 0, 0, time.UTC)
	f := newFakeStore()
	for i := 0; i < 5; i++ {
		f.seedMatchable(i, base.Add(time.Duration(i)*time.Hour))
	}
	f.anomalyCounts["p-1/seg-2"] = 4

	summary, err := newDriver(f).Run(context.Background(), Options{ChunkSize: 2, Concurrency: 2})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, 5, summary.Updated)
	assert.Zero(t, summary.Errored)
	assert.Len(t, f.resolved, 5)
	assert.Equal(t, model.Resolution{SurveyID: "s-2", ProjectID: "p-1", AnomalyCount: 4}, f.resolved["r-2"])
	assert.NotEmpty(t, summary.RunID)
}

func TestRun_IsolatesPerRecordFailures(t *testing.T) {
	base := time.Now()
	f := newFakeStore()
	for i := 0; i < 50; i++ {
		f.seedMatchable(i, base)
	}
	f.failLookupFor["seg-17"] = true

	summary, err := newDriver(f).Run(context.Background(), Options{ChunkSize: 50, Concurrency: 8})
	require.NoError(t, err)

	assert.Equal(t, 50, summary.Processed)
	assert.Equal(t, 49, summary.Updated)
	assert.Equal(t, 1, summary.Errored)
	assert.Len(t, f.resolved, 49)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	base := time.Now()
	f := newFakeStore()
	for i := 0; i < 10; i++ {
		f.seedMatchable(i, base)
	}

	dry, err := newDriver(f).Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 10, dry.Updated)
	assert.Empty(t, f.resolved, "dry run must not write")

	wet, err := newDriver(f).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, dry.Processed, wet.Processed)
	assert.Equal(t, dry.Updated, wet.Updated)
	assert.Len(t, f.resolved, 10)
}

func TestRun_CountsTerminalStates(t *testing.T) {
	base := time.Now()
	f := newFakeStore()

	// No candidates at all.
	f.unresolved = append(f.unresolved, model.Rating{
		ID: "r-none", TenantID: "tenant-1", RoadSegmentID: "seg-none",
		AuthorID: "agent-1", CreatedAt: base,
	})

	// Two medium candidates -> ambiguous.
	f.unresolved = append(f.unresolved, model.Rating{
		ID: "r-amb", TenantID: "tenant-1", RoadSegmentID: "seg-amb",
		RideQuality: 3.0, AuthorID: "agent-1", CreatedAt: base,
	})
	f.surveysBySegment["seg-amb"] = []model.Survey{
		{ID: "s-a", ProjectID: "p-1", TenantID: "tenant-1",
			RoadSegmentIDs: map[string]struct{}{"seg-amb": {}},
			AvgRideQuality: floatPtr(3.3), AuthorID: "agent-1",
			CreatedAt: base.Add(2 * time.Minute)},
		{ID: "s-b", ProjectID: "p-1", TenantID: "tenant-1",
			RoadSegmentIDs: map[string]struct{}{"seg-amb": {}},
			AvgRideQuality: floatPtr(2.7), AuthorID: "agent-1",
			CreatedAt: base.Add(-2 * time.Minute)},
	}

	// One low-confidence candidate (no recorded average).
	f.unresolved = append(f.unresolved, model.Rating{
		ID: "r-low", TenantID: "tenant-1", RoadSegmentID: "seg-low",
		RideQuality: 3.0, AuthorID: "agent-1", CreatedAt: base,
	})
	f.surveysBySegment["seg-low"] = []model.Survey{
		{ID: "s-c", ProjectID: "p-1", TenantID: "tenant-1",
			RoadSegmentIDs: map[string]struct{}{"seg-low": {}},
			AuthorID:       "agent-1", CreatedAt: base.Add(10 * time.Second)},
	}

	summary, err := newDriver(f).Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Processed)
	assert.Zero(t, summary.Updated)
	assert.Equal(t, 1, summary.NoCandidates)
	assert.Equal(t, 1, summary.Ambiguous)
	assert.Equal(t, 1, summary.LowConfidence)
	assert.Empty(t, f.resolved)
}

func TestRun_SegmentFilter(t *testing.T) {
	base := time.Now()
	f := newFakeStore()
	for i := 0; i < 4; i++ {
		f.seedMatchable(i, base)
	}

	summary, err := newDriver(f).Run(context.Background(), Options{SegmentID: "seg-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Len(t, f.resolved, 1)
	assert.Contains(t, f.resolved, "r-1")
}

func TestRun_CanceledContext(t *testing.T) {
	f := newFakeStore()
	f.seedMatchable(0, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := newDriver(f).Run(ctx, Options{})
	require.Error(t, err)
	assert.Zero(t, summary.Updated)
	assert.Empty(t, f.resolved)
}
