package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/karaoke-scout/internal/db"
	"github.com/sells-group/karaoke-scout/internal/model"
)

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

const scheduleColumns = `id, url, status, raw_data, ai_analysis, error, reject_reason, previous_id, reviewed_by, reviewed_at, created_at, updated_at`

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_schedule": `INSERT INTO parsed_schedules (id, url, status, previous_id, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"get_schedule":    `SELECT ` + scheduleColumns + ` FROM parsed_schedules WHERE id = $1`,
	"get_status":      `SELECT status FROM parsed_schedules WHERE id = $1`,
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS parsed_schedules (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	raw_data      JSONB,
	ai_analysis   JSONB,
	error         TEXT NOT NULL DEFAULT '',
	reject_reason TEXT NOT NULL DEFAULT '',
	previous_id   TEXT NOT NULL DEFAULT '',
	reviewed_by   TEXT NOT NULL DEFAULT '',
	reviewed_at   TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_parsed_schedules_status ON parsed_schedules(status);
CREATE INDEX IF NOT EXISTS idx_parsed_schedules_url ON parsed_schedules(url);

CREATE TABLE IF NOT EXISTS vendors (
	id          BIGSERIAL PRIMARY KEY,
	key         TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL,
	website     TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS djs (
	id         BIGSERIAL PRIMARY KEY,
	key        TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	context    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS venues (
	id         BIGSERIAL PRIMARY KEY,
	key        TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	address    TEXT NOT NULL DEFAULT '',
	city       TEXT NOT NULL DEFAULT '',
	state      TEXT NOT NULL DEFAULT '',
	zip        TEXT NOT NULL DEFAULT '',
	location   geometry(Point, 4326),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_venues_location ON venues USING GIST(location);

CREATE TABLE IF NOT EXISTS shows (
	id             BIGSERIAL PRIMARY KEY,
	key            TEXT NOT NULL UNIQUE,
	schedule_id    TEXT NOT NULL REFERENCES parsed_schedules(id),
	venue_id       BIGINT NOT NULL REFERENCES venues(id),
	vendor_id      BIGINT REFERENCES vendors(id),
	dj_id          BIGINT REFERENCES djs(id),
	day            TEXT NOT NULL DEFAULT '',
	start_time     TEXT NOT NULL DEFAULT '',
	end_time       TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	source_url     TEXT NOT NULL,
	source_archive TEXT NOT NULL DEFAULT '',
	confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_shows_venue_id ON shows(venue_id);
CREATE INDEX IF NOT EXISTS idx_shows_schedule_id ON shows(schedule_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateSchedule(ctx context.Context, url, previousID string) (*model.ParsedSchedule, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, "insert_schedule",
		id, url, string(model.StatusPending), previousID, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert schedule")
	}

	return &model.ParsedSchedule{
		ID:         id,
		URL:        url,
		Status:     model.StatusPending,
		PreviousID: previousID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *PostgresStore) GetSchedule(ctx context.Context, id string) (*model.ParsedSchedule, error) {
	row := s.pool.QueryRow(ctx, "get_schedule", id)
	ps, err := scanPostgresSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get schedule %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get schedule %s", id)
	}
	return ps, nil
}

func (s *PostgresStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]model.ParsedSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM parsed_schedules WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.URL != "" {
		query += fmt.Sprintf(` AND url = $%d`, argIdx)
		args = append(args, filter.URL)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, defaultLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list schedules")
	}
	defer rows.Close()

	var out []model.ParsedSchedule
	for rows.Next() {
		ps, err := scanPostgresSchedule(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan schedule")
		}
		out = append(out, *ps)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list schedules iterate")
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, id string, from, to model.ScheduleStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE parsed_schedules SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition schedule %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.conflict(ctx, s.pool, id, from)
	}
	return nil
}

func (s *PostgresStore) SaveAnalysis(ctx context.Context, id string, report *model.RunReport, result *model.AggregatedResult) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal analysis")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE parsed_schedules SET raw_data = $1, ai_analysis = $2, error = '', status = $3, updated_at = $4
		 WHERE id = $5 AND status = $6`,
		reportJSON, resultJSON, string(model.StatusPendingReview), time.Now().UTC(), id, string(model.StatusParsing),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save analysis %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.conflict(ctx, s.pool, id, model.StatusParsing)
	}
	return nil
}

func (s *PostgresStore) FailSchedule(ctx context.Context, id, detail string, report *model.RunReport) error {
	var reportJSON []byte
	if report != nil {
		var err error
		if reportJSON, err = json.Marshal(report); err != nil {
			return eris.Wrap(err, "postgres: marshal report")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE parsed_schedules SET status = $1, error = $2, raw_data = COALESCE($3, raw_data), updated_at = $4
		 WHERE id = $5 AND status IN ($6, $7)`,
		string(model.StatusFailed), detail, reportJSON, time.Now().UTC(), id,
		string(model.StatusPending), string(model.StatusParsing),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail schedule %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.conflict(ctx, s.pool, id, model.StatusPending, model.StatusParsing)
	}
	return nil
}

func (s *PostgresStore) RejectSchedule(ctx context.Context, id, reviewer, reason string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE parsed_schedules SET status = $1, reject_reason = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $4
		 WHERE id = $5 AND status = $6`,
		string(model.StatusRejected), reason, reviewer, now, id, string(model.StatusPendingReview),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: reject schedule %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.conflict(ctx, s.pool, id, model.StatusPendingReview)
	}
	return nil
}

func (s *PostgresStore) CommitApproval(ctx context.Context, id, reviewer string, result *model.AggregatedResult) (*model.CommitResult, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal analysis")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin approval")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx,
		`UPDATE parsed_schedules SET status = $1, ai_analysis = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $4
		 WHERE id = $5 AND status = $6`,
		string(model.StatusApproved), resultJSON, reviewer, now, id, string(model.StatusPendingReview),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: approve schedule %s", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, s.conflict(ctx, tx, id, model.StatusPendingReview)
	}

	out, err := commitEntities(ctx, tx, db.Postgres, id, result)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit approval")
	}
	return out, nil
}

// conflict explains a compare-and-set that touched no rows.
func (s *PostgresStore) conflict(ctx context.Context, q db.Querier, id string, expected ...model.ScheduleStatus) error {
	var actual string
	err := q.QueryRow(ctx, "get_status", id).Scan(&actual)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: schedule %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: read status %s", id)
	}
	return &StatusConflictError{ID: id, Expected: expected, Actual: model.ScheduleStatus(actual)}
}

func scanPostgresSchedule(row pgx.Row) (*model.ParsedSchedule, error) {
	var ps model.ParsedSchedule
	var status string
	var rawNull, analysisNull *[]byte

	err := row.Scan(&ps.ID, &ps.URL, &status, &rawNull, &analysisNull, &ps.Error,
		&ps.RejectReason, &ps.PreviousID, &ps.ReviewedBy, &ps.ReviewedAt, &ps.CreatedAt, &ps.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ps.Status = model.ScheduleStatus(status)

	if rawNull != nil {
		ps.RawData = &model.RunReport{}
		if err := json.Unmarshal(*rawNull, ps.RawData); err != nil {
			return nil, eris.Wrap(err, "unmarshal raw_data")
		}
	}
	if analysisNull != nil {
		ps.AIAnalysis = &model.AggregatedResult{}
		if err := json.Unmarshal(*analysisNull, ps.AIAnalysis); err != nil {
			return nil, eris.Wrap(err, "unmarshal ai_analysis")
		}
	}
	return &ps, nil
}
