// Package store persists scheduler job runs.
package store

import (
	"context"
	"time"

	"github.com/jtwolab/rankops/internal/model"
)

// DefaultMaxEntries caps how many job runs are kept.
const DefaultMaxEntries = 100

// JobRunFilter narrows ListJobRuns. Zero fields match everything.
type JobRunFilter struct {
	JobID  string          `json:"job_id,omitempty"`
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// JobSummary aggregates runs of one job.
type JobSummary struct {
	JobID      string          `json:"job_id"`
	JobName    string          `json:"job_name"`
	Total      int             `json:"total"`
	Success    int             `json:"success"`
	Failed     int             `json:"failed"`
	Skipped    int             `json:"skipped"`
	LastStatus model.JobStatus `json:"last_status"`
	LastRunAt  time.Time       `json:"last_run_at"`
}

// Store defines the persistence interface for job runs.
type Store interface {
	// RecordJobRun stores run, filling ID and CreatedAt when empty, and
	// trims the table to the configured maximum.
	RecordJobRun(ctx context.Context, run model.JobRun) (*model.JobRun, error)
	// ListJobRuns returns runs newest first.
	ListJobRuns(ctx context.Context, filter JobRunFilter) ([]model.JobRun, error)
	// LatestByJob returns the newest run of every job.
	LatestByJob(ctx context.Context) (map[string]model.JobRun, error)
	// Summary aggregates runs recorded at or after since.
	Summary(ctx context.Context, since time.Time) ([]JobSummary, error)
	// PruneJobRuns deletes runs recorded before olderThan.
	PruneJobRuns(ctx context.Context, olderThan time.Time) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}
