package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terravia-group/roadops-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_FindCandidates(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	center := time.Date(2023, 6, 12, 9, 30, 0, 0, time.UTC)
	window := 5 * time.Minute
	avg := 3.1

	mock.ExpectQuery(`SELECT s\.id, s\.project_id, p\.tenant_id`).
		WithArgs("tenant-1", "seg-100", center.Add(-window), center.Add(window)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "project_id", "tenant_id", "road_segment_ids",
			"avg_ride_quality", "created_at", "author_id",
		}).AddRow("s-1", "p-1", "tenant-1", []string{"seg-100", "seg-101"}, &avg, center.Add(time.Minute), "agent-7"))

	surveys, err := s.FindCandidates(context.Background(), "tenant-1", "seg-100", center, window)
	require.NoError(t, err)
	require.Len(t, surveys, 1)
	assert.Equal(t, "s-1", surveys[0].ID)
	assert.True(t, surveys[0].CoversSegment("seg-100"))
	assert.True(t, surveys[0].CoversSegment("seg-101"))
	assert.False(t, surveys[0].CoversSegment("seg-1"))
	require.NotNil(t, surveys[0].AvgRideQuality)
	assert.InDelta(t, 3.1, *surveys[0].AvgRideQuality, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ProjectCreator_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT creator_id FROM projects`).
		WithArgs("p-missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.ProjectCreator(context.Background(), "p-missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "p-missing")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindUnresolved_SegmentFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	created := time.Now().UTC()
	mock.ExpectQuery(`WHERE resolved_survey_id IS NULL AND road_segment_id = \$1 ORDER BY created_at LIMIT \$2`).
		WithArgs("seg-1", 10).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "tenant_id", "road_segment_id", "ride_quality", "author_id", "created_at",
		}).AddRow("r-1", "tenant-1", "seg-1", 3.2, "agent-7", created))

	ratings, err := s.FindUnresolved(context.Background(), RatingFilter{SegmentID: "seg-1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, ratings, 1)
	assert.Equal(t, "r-1", ratings[0].ID)
	assert.Nil(t, ratings[0].Resolution)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Resolve(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE ratings`).
		WithArgs("s-1", "p-1", 2, "r-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.Resolve(context.Background(), "r-1", model.Resolution{
		SurveyID: "s-1", ProjectID: "p-1", AnomalyCount: 2,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Resolve_AlreadyResolved(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE ratings`).
		WithArgs("s-1", "p-1", 0, "r-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.Resolve(context.Background(), "r-1", model.Resolution{SurveyID: "s-1", ProjectID: "p-1"})
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ByPair(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	created := time.Now().UTC()
	surveyID := "s-1"
	projectID := "p-1"
	anomalies := 2

	mock.ExpectQuery(`WHERE tenant_id = \$1 AND road_segment_id = \$2`).
		WithArgs("tenant-1", "seg-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "tenant_id", "road_segment_id", "ride_quality", "author_id", "created_at",
			"resolved_survey_id", "resolved_project_id", "anomaly_count",
		}).
			AddRow("r-1", "tenant-1", "seg-1", 3.2, "agent-7", created, &surveyID, &projectID, &anomalies).
			AddRow("r-2", "tenant-1", "seg-1", 4.0, "agent-8", created, nil, nil, nil))

	ratings, err := s.ByPair(context.Background(), "tenant-1", "seg-1")
	require.NoError(t, err)
	require.Len(t, ratings, 2)

	require.NotNil(t, ratings[0].Resolution)
	assert.Equal(t, model.Resolution{SurveyID: "s-1", ProjectID: "p-1", AnomalyCount: 2}, *ratings[0].Resolution)
	assert.Nil(t, ratings[1].Resolution)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountInWindow(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	center := time.Now().UTC()
	window := 5 * time.Minute

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM anomalies`).
		WithArgs("p-1", "seg-1", center.Add(-window), center.Add(window)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))

	n, err := s.CountInWindow(context.Background(), "p-1", "seg-1", center, window)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAggregate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	last := time.Now().UTC()
	agg := model.SegmentAggregate{
		TenantID:           "tenant-1",
		RoadSegmentID:      "seg-1",
		TotalSurveys:       3,
		TotalAnomalies:     3,
		UniqueContributors: 2,
		LastSurveyDate:     &last,
		AvgRideQuality:     3.4,
	}

	mock.ExpectExec(`INSERT INTO segment_aggregates`).
		WithArgs("tenant-1", "seg-1", 3, 3, 2, &last, 3.4).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, s.Upsert(context.Background(), agg))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UnresolvedCounts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`GROUP BY tenant_id, road_segment_id`).
		WillReturnRows(pgxmock.NewRows([]string{"tenant_id", "road_segment_id", "count"}).
			AddRow("tenant-1", "seg-1", 12).
			AddRow("tenant-1", "seg-2", 3))

	counts, err := s.UnresolvedCounts(context.Background())
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, 12, counts[0].Count)
	assert.Equal(t, "seg-2", counts[1].RoadSegmentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
