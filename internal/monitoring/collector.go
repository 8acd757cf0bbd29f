// Package monitoring watches crawl outcomes and job runs and posts webhook
// alerts when they look unhealthy.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/jtwolab/rankops/internal/execlog"
	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Crawl metrics from the execution log (within lookback window).
	CrawlTotal     int        `json:"crawl_total"`
	CrawlFailed    int        `json:"crawl_failed"`
	CrawlCollected int        `json:"crawl_collected"`
	LastCrawlAt    *time.Time `json:"last_crawl_at,omitempty"`
	LastCrawlOK    bool       `json:"last_crawl_ok"`

	// Scheduler metrics (within lookback window).
	JobTotal    int     `json:"job_total"`
	JobSuccess  int     `json:"job_success"`
	JobFailed   int     `json:"job_failed"`
	JobSkipped  int     `json:"job_skipped"`
	JobFailRate float64 `json:"job_fail_rate"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the execution log and job-run store.
type Collector struct {
	log   execlog.Log
	store store.Store
	now   func() time.Time
}

// NewCollector creates a new metrics collector. Either source may be nil.
func NewCollector(log execlog.Log, st store.Store) *Collector {
	return &Collector{log: log, store: st, now: time.Now}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{LookbackHours: lookbackHours, CollectedAt: now}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	if c.log != nil {
		entries, err := c.log.List(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list execution log")
		}
		for _, e := range entries {
			// The last crawl counts regardless of the window.
			if snap.LastCrawlAt == nil || e.ExecutedAt.After(*snap.LastCrawlAt) {
				at := e.ExecutedAt
				snap.LastCrawlAt = &at
				snap.LastCrawlOK = !e.IsFailure()
			}
			if e.ExecutedAt.Before(cutoff) {
				continue
			}
			snap.CrawlTotal++
			snap.CrawlCollected += e.SuccessCount
			if e.IsFailure() {
				snap.CrawlFailed++
			}
		}
	}

	if c.store != nil {
		runs, err := c.store.ListJobRuns(ctx, store.JobRunFilter{})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list job runs")
		}
		for _, r := range runs {
			if r.CreatedAt.Before(cutoff) {
				continue
			}
			snap.JobTotal++
			switch r.Status {
			case model.JobSuccess:
				snap.JobSuccess++
			case model.JobFailed:
				snap.JobFailed++
			case model.JobSkipped:
				snap.JobSkipped++
			}
		}
		if finished := snap.JobSuccess + snap.JobFailed; finished > 0 {
			snap.JobFailRate = float64(snap.JobFailed) / float64(finished)
		}
	}

	return snap, nil
}
