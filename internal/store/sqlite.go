package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/karaoke-scout/internal/db"
	"github.com/sells-group/karaoke-scout/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS parsed_schedules (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	raw_data      TEXT,
	ai_analysis   TEXT,
	error         TEXT NOT NULL DEFAULT '',
	reject_reason TEXT NOT NULL DEFAULT '',
	previous_id   TEXT NOT NULL DEFAULT '',
	reviewed_by   TEXT NOT NULL DEFAULT '',
	reviewed_at   DATETIME,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_parsed_schedules_status ON parsed_schedules(status);
CREATE INDEX IF NOT EXISTS idx_parsed_schedules_url ON parsed_schedules(url);

CREATE TABLE IF NOT EXISTS vendors (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	key         TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL,
	website     TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS djs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	key        TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	context    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS venues (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	key        TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	address    TEXT NOT NULL DEFAULT '',
	city       TEXT NOT NULL DEFAULT '',
	state      TEXT NOT NULL DEFAULT '',
	zip        TEXT NOT NULL DEFAULT '',
	lat        REAL,
	lng        REAL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS shows (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	key            TEXT NOT NULL UNIQUE,
	schedule_id    TEXT NOT NULL REFERENCES parsed_schedules(id),
	venue_id       INTEGER NOT NULL REFERENCES venues(id),
	vendor_id      INTEGER REFERENCES vendors(id),
	dj_id          INTEGER REFERENCES djs(id),
	day            TEXT NOT NULL DEFAULT '',
	start_time     TEXT NOT NULL DEFAULT '',
	end_time       TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	source_url     TEXT NOT NULL,
	source_archive TEXT NOT NULL DEFAULT '',
	confidence     REAL NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_shows_venue_id ON shows(venue_id);
CREATE INDEX IF NOT EXISTS idx_shows_schedule_id ON shows(schedule_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSchedule(ctx context.Context, url, previousID string) (*model.ParsedSchedule, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO parsed_schedules (id, url, status, previous_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, url, string(model.StatusPending), previousID, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert schedule")
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

func (s *SQLiteStore) GetSchedule(ctx context.Context, id string) (*model.ParsedSchedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM parsed_schedules WHERE id = ?`, id)
	ps, err := scanSQLiteSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get schedule %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get schedule %s", id)
	}
	return ps, nil
}

func (s *SQLiteStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]model.ParsedSchedule, error) {
	var conds []string
	var args []any

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.URL != "" {
		conds = append(conds, "url = ?")
		args = append(args, filter.URL)
	}

	query := `SELECT ` + scheduleColumns + ` FROM parsed_schedules`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, defaultLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list schedules")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ParsedSchedule
	for rows.Next() {
		ps, err := scanSQLiteSchedule(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan schedule")
		}
		out = append(out, *ps)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list schedules iterate")
}

func (s *SQLiteStore) TransitionStatus(ctx context.Context, id string, from, to model.ScheduleStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE parsed_schedules SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition schedule %s", id)
	}
	return s.checkTransition(ctx, s.db, res, id, from)
}

func (s *SQLiteStore) SaveAnalysis(ctx context.Context, id string, report *model.RunReport, result *model.AggregatedResult) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal analysis")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE parsed_schedules SET raw_data = ?, ai_analysis = ?, error = '', status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(reportJSON), string(resultJSON), string(model.StatusPendingReview), time.Now().UTC(),
		id, string(model.StatusParsing),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save analysis %s", id)
	}
	return s.checkTransition(ctx, s.db, res, id, model.StatusParsing)
}

func (s *SQLiteStore) FailSchedule(ctx context.Context, id, detail string, report *model.RunReport) error {
	var reportJSON sql.NullString
	if report != nil {
		b, err := json.Marshal(report)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal report")
		}
		reportJSON = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE parsed_schedules SET status = ?, error = ?, raw_data = COALESCE(?, raw_data), updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(model.StatusFailed), detail, reportJSON, time.Now().UTC(), id,
		string(model.StatusPending), string(model.StatusParsing),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail schedule %s", id)
	}
	return s.checkTransition(ctx, s.db, res, id, model.StatusPending, model.StatusParsing)
}

func (s *SQLiteStore) RejectSchedule(ctx context.Context, id, reviewer, reason string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE parsed_schedules SET status = ?, reject_reason = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(model.StatusRejected), reason, reviewer, now, now, id, string(model.StatusPendingReview),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reject schedule %s", id)
	}
	return s.checkTransition(ctx, s.db, res, id, model.StatusPendingReview)
}

func (s *SQLiteStore) CommitApproval(ctx context.Context, id, reviewer string, result *model.AggregatedResult) (*model.CommitResult, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal analysis")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin approval")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE parsed_schedules SET status = ?, ai_analysis = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(model.StatusApproved), string(resultJSON), reviewer, now, now, id, string(model.StatusPendingReview),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: approve schedule %s", id)
	}
	if err := s.checkTransition(ctx, tx, res, id, model.StatusPendingReview); err != nil {
		return nil, err
	}

	out, err := commitEntities(ctx, rowQuerier{tx}, db.SQLite, id, result)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit approval")
	}
	return out, nil
}

// helpers

type sqlQueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowQuerier adapts a database/sql handle to db.Querier.
type rowQuerier struct {
	q sqlQueryRower
}

func (r rowQuerier) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return r.q.QueryRowContext(ctx, query, args...)
}

// checkTransition turns a compare-and-set that touched no rows into
// ErrNotFound or a StatusConflictError.
func (s *SQLiteStore) checkTransition(ctx context.Context, q sqlQueryRower, res sql.Result, id string, expected ...model.ScheduleStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}

	var actual string
	err = q.QueryRowContext(ctx, `SELECT status FROM parsed_schedules WHERE id = ?`, id).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: schedule %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read status %s", id)
	}
	return &StatusConflictError{ID: id, Expected: expected, Actual: model.ScheduleStatus(actual)}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteSchedule(row scannable) (*model.ParsedSchedule, error) {
	var ps model.ParsedSchedule
	var status string
	var rawJSON, analysisJSON sql.NullString
	var reviewedAt sql.NullTime

	err := row.Scan(&ps.ID, &ps.URL, &status, &rawJSON, &analysisJSON, &ps.Error,
		&ps.RejectReason, &ps.PreviousID, &ps.ReviewedBy, &reviewedAt, &ps.CreatedAt, &ps.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ps.Status = model.ScheduleStatus(status)
	if reviewedAt.Valid {
		t := reviewedAt.Time
		ps.ReviewedAt = &t
	}

	if rawJSON.Valid {
		ps.RawData = &model.RunReport{}
		if err := json.Unmarshal([]byte(rawJSON.String), ps.RawData); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal raw_data")
		}
	}
	if analysisJSON.Valid {
		ps.AIAnalysis = &model.AggregatedResult{}
		if err := json.Unmarshal([]byte(analysisJSON.String), ps.AIAnalysis); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal ai_analysis")
		}
	}
	return &ps, nil
}
