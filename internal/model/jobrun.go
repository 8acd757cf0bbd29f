package model

import "time"

// JobStatus is the lifecycle state of a scheduled job run.
type JobStatus string

const (
	JobStarted JobStatus = "started"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
	JobSkipped JobStatus = "skipped"
)

// JobRun is one recorded scheduler event.
type JobRun struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	JobName   string         `json:"job_name"`
	Status    JobStatus      `json:"status"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"timestamp"`
}
