package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/terravia-group/roadops-cli/internal/db"
	"github.com/terravia-group/roadops-cli/internal/model"
)

// ErrAlreadyResolved is returned when Resolve targets a rating whose
// resolution fields are already set.
var ErrAlreadyResolved = eris.New("store: rating already resolved")

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	creator_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS surveys (
	id               TEXT PRIMARY KEY,
	project_id       TEXT NOT NULL REFERENCES projects(id),
	road_segment_ids TEXT[] NOT NULL DEFAULT '{}',
	avg_ride_quality DOUBLE PRECISION,
	author_id        TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ratings (
	id                  TEXT PRIMARY KEY,
	tenant_id           TEXT NOT NULL,
	road_segment_id     TEXT NOT NULL,
	ride_quality        DOUBLE PRECISION NOT NULL,
	author_id           TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	resolved_survey_id  TEXT,
	resolved_project_id TEXT,
	anomaly_count       INTEGER
);

CREATE TABLE IF NOT EXISTS anomalies (
	id              TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL,
	road_segment_id TEXT NOT NULL,
	kind            TEXT NOT NULL DEFAULT 'hazard',
	reported_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS segment_aggregates (
	tenant_id           TEXT NOT NULL,
	road_segment_id     TEXT NOT NULL,
	total_surveys       INTEGER NOT NULL,
	total_anomalies     INTEGER NOT NULL,
	unique_contributors INTEGER NOT NULL,
	last_survey_date    TIMESTAMPTZ,
	avg_ride_quality    DOUBLE PRECISION NOT NULL,
	computed_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, road_segment_id)
);

CREATE TABLE IF NOT EXISTS road_segments (
	segment_id TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	geom       BYTEA,
	length_m   DOUBLE PRECISION NOT NULL DEFAULT 0,
	min_lng    DOUBLE PRECISION NOT NULL DEFAULT 0,
	min_lat    DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_lng    DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_lat    DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_surveys_project_id ON surveys(project_id);
CREATE INDEX IF NOT EXISTS idx_surveys_created_at ON surveys(created_at);
CREATE INDEX IF NOT EXISTS idx_surveys_segments ON surveys USING GIN(road_segment_ids);
CREATE INDEX IF NOT EXISTS idx_ratings_unresolved ON ratings(created_at) WHERE resolved_survey_id IS NULL;
CREATE INDEX IF NOT EXISTS idx_ratings_pair ON ratings(tenant_id, road_segment_id);
CREATE INDEX IF NOT EXISTS idx_anomalies_lookup ON anomalies(project_id, road_segment_id, reported_at);
`

// Migrate applies the postgres schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// FindCandidates returns same-tenant surveys covering the segment within
// ±window of center, joined with their owning project for tenant scoping.
func (s *PostgresStore) FindCandidates(ctx context.Context, tenantID, segmentID string, center time.Time, window time.Duration) ([]model.Survey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.project_id, p.tenant_id, s.road_segment_ids,
		       s.avg_ride_quality, s.created_at, s.author_id
		FROM surveys s
		JOIN projects p ON p.id = s.project_id
		WHERE p.tenant_id = $1
		  AND $2 = ANY(s.road_segment_ids)
		  AND s.created_at BETWEEN $3 AND $4
		ORDER BY s.created_at`,
		tenantID, segmentID, center.Add(-window), center.Add(window),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find candidate surveys")
	}
	defer rows.Close()

	var surveys []model.Survey
	for rows.Next() {
		var sv model.Survey
		var segmentIDs []string
		if err := rows.Scan(&sv.ID, &sv.ProjectID, &sv.TenantID, &segmentIDs,
			&sv.AvgRideQuality, &sv.CreatedAt, &sv.AuthorID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate survey")
		}
		sv.RoadSegmentIDs = make(map[string]struct{}, len(segmentIDs))
		for _, id := range segmentIDs {
			sv.RoadSegmentIDs[id] = struct{}{}
		}
		surveys = append(surveys, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate candidate surveys")
	}
	return surveys, nil
}

// ProjectCreator returns the creator user ID for a project.
func (s *PostgresStore) ProjectCreator(ctx context.Context, projectID string) (string, error) {
	var creatorID string
	err := s.pool.QueryRow(ctx,
		`SELECT creator_id FROM projects WHERE id = $1`, projectID,
	).Scan(&creatorID)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: project creator %s", projectID)
	}
	return creatorID, nil
}

// FindUnresolved returns unresolved ratings ordered by creation time.
func (s *PostgresStore) FindUnresolved(ctx context.Context, filter RatingFilter) ([]model.Rating, error) {
	sql := `
		SELECT id, tenant_id, road_segment_id, ride_quality, author_id, created_at
		FROM ratings
		WHERE resolved_survey_id IS NULL`
	args := []any{}
	if filter.SegmentID != "" {
		sql += ` AND road_segment_id = $1`
		args = append(args, filter.SegmentID)
	}
	sql += ` ORDER BY created_at`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		if filter.SegmentID != "" {
			sql += ` LIMIT $2`
		} else {
			sql += ` LIMIT $1`
		}
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find unresolved ratings")
	}
	defer rows.Close()

	var ratings []model.Rating
	for rows.Next() {
		var r model.Rating
		if err := rows.Scan(&r.ID, &r.TenantID, &r.RoadSegmentID,
			&r.RideQuality, &r.AuthorID, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan unresolved rating")
		}
		ratings = append(ratings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate unresolved ratings")
	}
	return ratings, nil
}

// Resolve writes the resolution fields for a rating. The predicate on
// resolved_survey_id makes the write-once invariant hold even under
// concurrent runs.
func (s *PostgresStore) Resolve(ctx context.Context, ratingID string, res model.Resolution) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ratings
		SET resolved_survey_id = $1, resolved_project_id = $2, anomaly_count = $3
		WHERE id = $4 AND resolved_survey_id IS NULL`,
		res.SurveyID, res.ProjectID, res.AnomalyCount, ratingID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve rating %s", ratingID)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

// ByPair returns every rating for a (tenant, segment) pair.
func (s *PostgresStore) ByPair(ctx context.Context, tenantID, segmentID string) ([]model.Rating, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, road_segment_id, ride_quality, author_id, created_at,
		       resolved_survey_id, resolved_project_id, anomaly_count
		FROM ratings
		WHERE tenant_id = $1 AND road_segment_id = $2
		ORDER BY created_at`,
		tenantID, segmentID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: ratings by pair")
	}
	defer rows.Close()

	var ratings []model.Rating
	for rows.Next() {
		r, err := scanRating(rows)
		if err != nil {
			return nil, err
		}
		ratings = append(ratings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate ratings by pair")
	}
	return ratings, nil
}

// scanRating scans a full rating row, folding the three nullable
// resolution columns into a single Resolution value.
func scanRating(rows pgx.Rows) (model.Rating, error) {
	var r model.Rating
	var surveyID, projectID *string
	var anomalyCount *int
	if err := rows.Scan(&r.ID, &r.TenantID, &r.RoadSegmentID,
		&r.RideQuality, &r.AuthorID, &r.CreatedAt,
		&surveyID, &projectID, &anomalyCount); err != nil {
		return model.Rating{}, eris.Wrap(err, "postgres: scan rating")
	}
	if surveyID != nil && projectID != nil {
		res := model.Resolution{SurveyID: *surveyID, ProjectID: *projectID}
		if anomalyCount != nil {
			res.AnomalyCount = *anomalyCount
		}
		r.Resolution = &res
	}
	return r, nil
}

// ListSegments returns distinct (tenant, segment) pairs in the rating
// history.
func (s *PostgresStore) ListSegments(ctx context.Context, tenantID string) ([]model.SegmentKey, error) {
	sql := `SELECT DISTINCT tenant_id, road_segment_id FROM ratings`
	args := []any{}
	if tenantID != "" {
		sql += ` WHERE tenant_id = $1`
		args = append(args, tenantID)
	}
	sql += ` ORDER BY tenant_id, road_segment_id`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list segments")
	}
	defer rows.Close()

	var keys []model.SegmentKey
	for rows.Next() {
		var k model.SegmentKey
		if err := rows.Scan(&k.TenantID, &k.RoadSegmentID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan segment key")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate segment keys")
	}
	return keys, nil
}

// UnresolvedCounts returns per-segment unresolved rating counts.
func (s *PostgresStore) UnresolvedCounts(ctx context.Context) ([]SegmentCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, road_segment_id, COUNT(*)
		FROM ratings
		WHERE resolved_survey_id IS NULL
		GROUP BY tenant_id, road_segment_id
		ORDER BY tenant_id, road_segment_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: unresolved counts")
	}
	defer rows.Close()

	var counts []SegmentCount
	for rows.Next() {
		var c SegmentCount
		if err := rows.Scan(&c.TenantID, &c.RoadSegmentID, &c.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan unresolved count")
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate unresolved counts")
	}
	return counts, nil
}

// CountInWindow counts anomalies reported for the project and segment
// within ±window of center.
func (s *PostgresStore) CountInWindow(ctx context.Context, projectID, segmentID string, center time.Time, window time.Duration) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM anomalies
		WHERE project_id = $1 AND road_segment_id = $2
		  AND reported_at BETWEEN $3 AND $4`,
		projectID, segmentID, center.Add(-window), center.Add(window),
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count anomalies")
	}
	return n, nil
}

// Upsert creates or fully overwrites the aggregate row for a (tenant,
// segment) pair. All derived fields are written together.
func (s *PostgresStore) Upsert(ctx context.Context, agg model.SegmentAggregate) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO segment_aggregates (
			tenant_id, road_segment_id, total_surveys, total_anomalies,
			unique_contributors, last_survey_date, avg_ride_quality, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (tenant_id, road_segment_id) DO UPDATE SET
			total_surveys = EXCLUDED.total_surveys,
			total_anomalies = EXCLUDED.total_anomalies,
			unique_contributors = EXCLUDED.unique_contributors,
			last_survey_date = EXCLUDED.last_survey_date,
			avg_ride_quality = EXCLUDED.avg_ride_quality,
			computed_at = now()`,
		agg.TenantID, agg.RoadSegmentID, agg.TotalSurveys, agg.TotalAnomalies,
		agg.UniqueContributors, agg.LastSurveyDate, agg.AvgRideQuality,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert aggregate %s/%s", agg.TenantID, agg.RoadSegmentID)
	}
	return nil
}

// UpsertSegments bulk-loads road segments via a temp-table upsert keyed
// on segment_id.
func (s *PostgresStore) UpsertSegments(ctx context.Context, segments []RoadSegmentRow) (int64, error) {
	rows := make([][]any, len(segments))
	for i, seg := range segments {
		rows[i] = []any{seg.SegmentID, seg.Name, seg.Geom, seg.LengthM,
			seg.MinLng, seg.MinLat, seg.MaxLng, seg.MaxLat}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "road_segments",
		Columns:      []string{"segment_id", "name", "geom", "length_m", "min_lng", "min_lat", "max_lng", "max_lat"},
		ConflictKeys: []string{"segment_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert road segments")
	}
	return n, nil
}
