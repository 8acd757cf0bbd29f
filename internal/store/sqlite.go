package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/jtwolab/rankops/internal/model"
)

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const tsLayout = "2006-01-02 15:04:05.000000"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db         *sql.DB
	maxEntries int
	now        func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. maxEntries <= 0 means DefaultMaxEntries.
func NewSQLite(dsn string, maxEntries int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &SQLiteStore{db: db, maxEntries: maxEntries, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS job_runs (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	job_id     TEXT NOT NULL,
	job_name   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	details    TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_job_runs_job_id ON job_runs(job_id);
CREATE INDEX IF NOT EXISTS idx_job_runs_created_at ON job_runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordJobRun(ctx context.Context, run model.JobRun) (*model.JobRun, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}
	run.CreatedAt = run.CreatedAt.UTC()

	var details sql.NullString
	if len(run.Details) > 0 {
		raw, err := json.Marshal(run.Details)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal job details")
		}
		details = sql.NullString{String: string(raw), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO job_runs (id, job_id, job_name, status, message, details, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobID, run.JobName, string(run.Status), run.Message, details, run.CreatedAt.Format(tsLayout),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert job run %s", run.JobID)
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM job_runs WHERE seq NOT IN (SELECT seq FROM job_runs ORDER BY seq DESC LIMIT ?)`,
		s.maxEntries,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: trim job runs")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit job run")
	}
	return &run, nil
}

func (s *SQLiteStore) ListJobRuns(ctx context.Context, filter JobRunFilter) ([]model.JobRun, error) {
	query := `SELECT id, job_id, job_name, status, message, details, created_at FROM job_runs`
	var where []string
	var args []any
	if filter.JobID != "" {
		where = append(where, "job_id = ?")
		args = append(args, filter.JobID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return s.query(ctx, query, args...)
}

func (s *SQLiteStore) LatestByJob(ctx context.Context) (map[string]model.JobRun, error) {
	runs, err := s.query(ctx,
		`SELECT id, job_id, job_name, status, message, details, created_at FROM job_runs
		 WHERE seq IN (SELECT MAX(seq) FROM job_runs GROUP BY job_id)`)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.JobRun, len(runs))
	for _, r := range runs {
		out[r.JobID] = r
	}
	return out, nil
}

func (s *SQLiteStore) Summary(ctx context.Context, since time.Time) ([]JobSummary, error) {
	runs, err := s.query(ctx,
		`SELECT id, job_id, job_name, status, message, details, created_at FROM job_runs
		 WHERE created_at >= ? ORDER BY seq DESC`,
		since.UTC().Format(tsLayout),
	)
	if err != nil {
		return nil, err
	}

	byJob := make(map[string]*JobSummary)
	for _, r := range runs {
		js, ok := byJob[r.JobID]
		if !ok {
			// Newest first, so the first sighting is the latest run.
			js = &JobSummary{JobID: r.JobID, JobName: r.JobName, LastStatus: r.Status, LastRunAt: r.CreatedAt}
			byJob[r.JobID] = js
		}
		js.Total++
		switch r.Status {
		case model.JobSuccess:
			js.Success++
		case model.JobFailed:
			js.Failed++
		case model.JobSkipped:
			js.Skipped++
		}
	}

	out := make([]JobSummary, 0, len(byJob))
	for _, js := range byJob {
		out = append(out, *js)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out, nil
}

func (s *SQLiteStore) PruneJobRuns(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_runs WHERE created_at < ?`, olderThan.UTC().Format(tsLayout))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune job runs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]model.JobRun, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query job runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.JobRun
	for rows.Next() {
		var (
			r       model.JobRun
			status  string
			details sql.NullString
			created string
		)
		if err := rows.Scan(&r.ID, &r.JobID, &r.JobName, &status, &r.Message, &details, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job run")
		}
		r.Status = model.JobStatus(status)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &r.Details); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal details for %s", r.ID)
			}
		}
		r.CreatedAt, err = time.ParseInLocation(tsLayout, created, time.UTC)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse created_at for %s", r.ID)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate job runs")
}
