package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/terravia-group/roadops-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for
// local and demo runs; production deployments use postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	creator_id TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS surveys (
	id               TEXT PRIMARY KEY,
	project_id       TEXT NOT NULL REFERENCES projects(id),
	road_segment_ids TEXT NOT NULL DEFAULT '[]',
	avg_ride_quality REAL,
	author_id        TEXT NOT NULL,
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ratings (
	id                  TEXT PRIMARY KEY,
	tenant_id           TEXT NOT NULL,
	road_segment_id     TEXT NOT NULL,
	ride_quality        REAL NOT NULL,
	author_id           TEXT NOT NULL,
	created_at          DATETIME NOT NULL,
	resolved_survey_id  TEXT,
	resolved_project_id TEXT,
	anomaly_count       INTEGER
);

CREATE TABLE IF NOT EXISTS anomalies (
	id              TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL,
	road_segment_id TEXT NOT NULL,
	kind            TEXT NOT NULL DEFAULT 'hazard',
	reported_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS segment_aggregates (
	tenant_id           TEXT NOT NULL,
	road_segment_id     TEXT NOT NULL,
	total_surveys       INTEGER NOT NULL,
	total_anomalies     INTEGER NOT NULL,
	unique_contributors INTEGER NOT NULL,
	last_survey_date    DATETIME,
	avg_ride_quality    REAL NOT NULL,
	computed_at         DATETIME NOT NULL,
	PRIMARY KEY (tenant_id, road_segment_id)
);

CREATE TABLE IF NOT EXISTS road_segments (
	segment_id TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	geom       BLOB,
	length_m   REAL NOT NULL DEFAULT 0,
	min_lng    REAL NOT NULL DEFAULT 0,
	min_lat    REAL NOT NULL DEFAULT 0,
	max_lng    REAL NOT NULL DEFAULT 0,
	max_lat    REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_surveys_created_at ON surveys(created_at);
CREATE INDEX IF NOT EXISTS idx_ratings_pair ON ratings(tenant_id, road_segment_id);
CREATE INDEX IF NOT EXISTS idx_anomalies_lookup ON anomalies(project_id, road_segment_id, reported_at);
`

// Migrate applies the sqlite schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// FindCandidates returns same-tenant surveys covering the segment within
// ±window of center. SQLite lacks arrays, so segment IDs are stored as a
// JSON list and membership is re-checked after decode.
func (s *SQLiteStore) FindCandidates(ctx context.Context, tenantID, segmentID string, center time.Time, window time.Duration) ([]model.Survey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.project_id, p.tenant_id, s.road_segment_ids,
		       s.avg_ride_quality, s.created_at, s.author_id
		FROM surveys s
		JOIN projects p ON p.id = s.project_id
		WHERE p.tenant_id = ?
		  AND s.created_at BETWEEN ? AND ?
		ORDER BY s.created_at`,
		tenantID, center.Add(-window), center.Add(window),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find candidate surveys")
	}
	defer rows.Close()

	var surveys []model.Survey
	for rows.Next() {
		var sv model.Survey
		var segmentJSON string
		if err := rows.Scan(&sv.ID, &sv.ProjectID, &sv.TenantID, &segmentJSON,
			&sv.AvgRideQuality, &sv.CreatedAt, &sv.AuthorID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate survey")
		}
		var segmentIDs []string
		if err := json.Unmarshal([]byte(segmentJSON), &segmentIDs); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode segment ids for survey %s", sv.ID)
		}
		sv.RoadSegmentIDs = make(map[string]struct{}, len(segmentIDs))
		for _, id := range segmentIDs {
			sv.RoadSegmentIDs[id] = struct{}{}
		}
		if !sv.CoversSegment(segmentID) {
			continue
		}
		surveys = append(surveys, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate candidate surveys")
	}
	return surveys, nil
}

// ProjectCreator returns the creator user ID for a project.
func (s *SQLiteStore) ProjectCreator(ctx context.Context, projectID string) (string, error) {
	var creatorID string
	err := s.db.QueryRowContext(ctx,
		`SELECT creator_id FROM projects WHERE id = ?`, projectID,
	).Scan(&creatorID)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: project creator %s", projectID)
	}
	return creatorID, nil
}

// FindUnresolved returns unresolved ratings ordered by creation time.
func (s *SQLiteStore) FindUnresolved(ctx context.Context, filter RatingFilter) ([]model.Rating, error) {
	query := `
		SELECT id, tenant_id, road_segment_id, ride_quality, author_id, created_at
		FROM ratings
		WHERE resolved_survey_id IS NULL`
	args := []any{}
	if filter.SegmentID != "" {
		query += ` AND road_segment_id = ?`
		args = append(args, filter.SegmentID)
	}
	query += ` ORDER BY created_at`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find unresolved ratings")
	}
	defer rows.Close()

	var ratings []model.Rating
	for rows.Next() {
		var r model.Rating
		if err := rows.Scan(&r.ID, &r.TenantID, &r.RoadSegmentID,
			&r.RideQuality, &r.AuthorID, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unresolved rating")
		}
		ratings = append(ratings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate unresolved ratings")
	}
	return ratings, nil
}

// Resolve writes the resolution fields for a rating, refusing to
// overwrite an existing resolution.
func (s *SQLiteStore) Resolve(ctx context.Context, ratingID string, res model.Resolution) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE ratings
		SET resolved_survey_id = ?, resolved_project_id = ?, anomaly_count = ?
		WHERE id = ? AND resolved_survey_id IS NULL`,
		res.SurveyID, res.ProjectID, res.AnomalyCount, ratingID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve rating %s", ratingID)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: resolve rows affected")
	}
	if n == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

// ByPair returns every rating for a (tenant, segment) pair.
func (s *SQLiteStore) ByPair(ctx context.Context, tenantID, segmentID string) ([]model.Rating, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, road_segment_id, ride_quality, author_id, created_at,
		       resolved_survey_id, resolved_project_id, anomaly_count
		FROM ratings
		WHERE tenant_id = ? AND road_segment_id = ?
		ORDER BY created_at`,
		tenantID, segmentID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: ratings by pair")
	}
	defer rows.Close()

	var ratings []model.Rating
	for rows.Next() {
		var r model.Rating
		var surveyID, projectID sql.NullString
		var anomalyCount sql.NullInt64
		if err := rows.Scan(&r.ID, &r.TenantID, &r.RoadSegmentID,
			&r.RideQuality, &r.AuthorID, &r.CreatedAt,
			&surveyID, &projectID, &anomalyCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rating")
		}
		if surveyID.Valid && projectID.Valid {
			r.Resolution = &model.Resolution{
				SurveyID:     surveyID.String,
				ProjectID:    projectID.String,
				AnomalyCount: int(anomalyCount.Int64),
			}
		}
		ratings = append(ratings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate ratings by pair")
	}
	return ratings, nil
}

// ListSegments returns distinct (tenant, segment) pairs in the rating
// history.
func (s *SQLiteStore) ListSegments(ctx context.Context, tenantID string) ([]model.SegmentKey, error) {
	query := `SELECT DISTINCT tenant_id, road_segment_id FROM ratings`
	args := []any{}
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY tenant_id, road_segment_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list segments")
	}
	defer rows.Close()

	var keys []model.SegmentKey
	for rows.Next() {
		var k model.SegmentKey
		if err := rows.Scan(&k.TenantID, &k.RoadSegmentID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan segment key")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate segment keys")
	}
	return keys, nil
}

// UnresolvedCounts returns per-segment unresolved rating counts.
func (s *SQLiteStore) UnresolvedCounts(ctx context.Context) ([]SegmentCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, road_segment_id, COUNT(*)
		FROM ratings
		WHERE resolved_survey_id IS NULL
		GROUP BY tenant_id, road_segment_id
		ORDER BY tenant_id, road_segment_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: unresolved counts")
	}
	defer rows.Close()

	var counts []SegmentCount
	for rows.Next() {
		var c SegmentCount
		if err := rows.Scan(&c.TenantID, &c.RoadSegmentID, &c.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unresolved count")
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate unresolved counts")
	}
	return counts, nil
}

// CountInWindow counts anomalies reported for the project and segment
// within ±window of center.
func (s *SQLiteStore) CountInWindow(ctx context.Context, projectID, segmentID string, center time.Time, window time.Duration) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM anomalies
		WHERE project_id = ? AND road_segment_id = ?
		  AND reported_at BETWEEN ? AND ?`,
		projectID, segmentID, center.Add(-window), center.Add(window),
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count anomalies")
	}
	return n, nil
}

// Upsert creates or fully overwrites the aggregate row for a (tenant,
// segment) pair.
func (s *SQLiteStore) Upsert(ctx context.Context, agg model.SegmentAggregate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO segment_aggregates (
			tenant_id, road_segment_id, total_surveys, total_anomalies,
			unique_contributors, last_survey_date, avg_ride_quality, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, road_segment_id) DO UPDATE SET
			total_surveys = excluded.total_surveys,
			total_anomalies = excluded.total_anomalies,
			unique_contributors = excluded.unique_contributors,
			last_survey_date = excluded.last_survey_date,
			avg_ride_quality = excluded.avg_ride_quality,
			computed_at = excluded.computed_at`,
		agg.TenantID, agg.RoadSegmentID, agg.TotalSurveys, agg.TotalAnomalies,
		agg.UniqueContributors, agg.LastSurveyDate, agg.AvgRideQuality, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert aggregate %s/%s", agg.TenantID, agg.RoadSegmentID)
	}
	return nil
}

// UpsertSegments bulk-loads road segments inside one transaction.
func (s *SQLiteStore) UpsertSegments(ctx context.Context, segments []RoadSegmentRow) (int64, error) {
	if len(segments) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin segment load")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO road_segments (segment_id, name, geom, length_m, min_lng, min_lat, max_lng, max_lat)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (segment_id) DO UPDATE SET
			name = excluded.name,
			geom = excluded.geom,
			length_m = excluded.length_m,
			min_lng = excluded.min_lng,
			min_lat = excluded.min_lat,
			max_lng = excluded.max_lng,
			max_lat = excluded.max_lat`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare segment upsert")
	}
	defer stmt.Close()

	var n int64
	for _, seg := range segments {
		if _, err := stmt.ExecContext(ctx, seg.SegmentID, seg.Name, seg.Geom,
			seg.LengthM, seg.MinLng, seg.MinLat, seg.MaxLng, seg.MaxLat); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert segment %s", seg.SegmentID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit segment load")
	}
	return n, nil
}
