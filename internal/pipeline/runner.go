// Package pipeline runs the daily rank job: roster targets, crawl, snapshot
// upsert, execution log and ledger write-back.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jtwolab/rankops/internal/crawler"
	"github.com/jtwolab/rankops/internal/execlog"
	"github.com/jtwolab/rankops/internal/guarantee"
	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/internal/reconcile"
	"github.com/jtwolab/rankops/internal/snapshot"
)

// Roster supplies crawl targets. *guarantee.Roster satisfies it.
type Roster interface {
	Items(ctx context.Context, f guarantee.Filter) ([]model.GuaranteeItem, error)
}

// Crawler collects snapshots. *crawler.Crawler satisfies it.
type Crawler interface {
	Crawl(ctx context.Context, req crawler.Request) crawler.Result
}

// Reconciler writes ledger cells. *reconcile.Reconciler satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context, snapshots []model.RankSnapshot, opts reconcile.Options) reconcile.Result
}

// Phase status values.
const (
	PhaseComplete = "complete"
	PhaseFailed   = "failed"
	PhaseSkipped  = "skipped"
)

// PhaseResult times one step of a run.
type PhaseResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Duration int64  `json:"duration_ms"`
	Error    string `json:"error,omitempty"`
}

// CrawlSummary is the crawl result without the snapshot payload.
type CrawlSummary struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Collected int    `json:"collected"`
	Matched   int    `json:"matched"`
	Unmatched int    `json:"unmatched"`
	Missing   int    `json:"missing"`
	Pages     int    `json:"pages"`
}

// RunResult reports a full run.
type RunResult struct {
	Success   bool                  `json:"success"`
	Message   string                `json:"message"`
	Date      string                `json:"date"`
	TimeSlot  string                `json:"time_slot"`
	Targets   int                   `json:"targets"`
	Crawl     CrawlSummary          `json:"crawl"`
	Upsert    snapshot.UpsertResult `json:"upsert"`
	Reconcile *reconcile.Result     `json:"reconcile,omitempty"`
	Phases    []PhaseResult         `json:"phases"`
}

// Options scope a run.
type Options struct {
	Company       string
	SkipReconcile bool
}

// Runner wires the rank job together.
type Runner struct {
	roster     Roster
	crawler    Crawler
	snapshots  snapshot.Repository
	log        execlog.Log
	reconciler Reconciler
	loc        *time.Location
	now        func() time.Time
}

// New returns a Runner. loc decides the crawl day and time slot.
func New(roster Roster, c Crawler, snapshots snapshot.Repository, log execlog.Log, r Reconciler, loc *time.Location) *Runner {
	if loc == nil {
		loc = time.UTC
	}
	return &Runner{roster: roster, crawler: c, snapshots: snapshots, log: log, reconciler: r, loc: loc, now: time.Now}
}

// Run executes one crawl cycle. A failed crawl still appends a failed
// execution log entry so recovery can find it.
func (r *Runner) Run(ctx context.Context, opts Options) (*RunResult, error) {
	now := r.now().In(r.loc)
	res := &RunResult{Date: now.Format(model.DateLayout), TimeSlot: model.TimeSlotFor(now)}
	log := zap.L().With(zap.String("date", res.Date), zap.String("time_slot", res.TimeSlot), zap.String("company", opts.Company))
	log.Info("pipeline: starting rank run")

	track := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		p := PhaseResult{Name: name, Status: PhaseComplete, Duration: time.Since(start).Milliseconds()}
		if err != nil {
			p.Status = PhaseFailed
			p.Error = err.Error()
			log.Error("pipeline: phase failed", zap.String("phase", name), zap.Int64("duration_ms", p.Duration), zap.Error(err))
		} else {
			log.Info("pipeline: phase complete", zap.String("phase", name), zap.Int64("duration_ms", p.Duration))
		}
		res.Phases = append(res.Phases, p)
		return err
	}

	var targets []model.GuaranteeItem
	if err := track("targets", func() error {
		items, err := r.roster.Items(ctx, guarantee.Filter{Company: opts.Company, EligibleOnly: true})
		if err != nil {
			return eris.Wrap(err, "pipeline: load roster")
		}
		targets = guarantee.Targets(items)
		return nil
	}); err != nil {
		res.Message = "크롤링 실패: 보장건 로드 실패"
		r.appendLog(ctx, model.ExecutionLogEntry{ExecutedAt: now, TimeSlot: res.TimeSlot, Message: res.Message + " - " + err.Error()})
		return res, err
	}
	res.Targets = len(targets)

	var crawl crawler.Result
	_ = track("crawl", func() error {
		crawl = r.crawler.Crawl(ctx, crawler.Request{Company: opts.Company, Targets: targets, Today: now, TimeSlot: res.TimeSlot})
		if !crawl.Success {
			return eris.New(crawl.Message)
		}
		return nil
	})
	res.Crawl = summarize(crawl)

	var upsertErr error
	if len(crawl.Snapshots) > 0 {
		upsertErr = track("upsert", func() error {
			u, err := r.snapshots.UpsertBulk(ctx, crawl.Snapshots)
			res.Upsert = u
			return err
		})
	}

	entry := model.ExecutionLogEntry{
		ExecutedAt:     now,
		TimeSlot:       res.TimeSlot,
		SuccessCount:   res.Upsert.Success,
		FailedCount:    len(crawl.FailedDetails) + res.Upsert.Failed,
		ElapsedSeconds: crawl.Elapsed.Seconds(),
		Message:        crawl.Message,
		FailedDetails:  crawl.FailedDetails,
	}
	if upsertErr != nil {
		entry.Message = "저장 실패: " + upsertErr.Error()
		entry.FailedCount += len(crawl.Snapshots)
	}
	r.appendLog(ctx, entry)

	switch {
	case upsertErr != nil:
		res.Message = entry.Message
		return res, upsertErr
	case !crawl.Success:
		res.Message = crawl.Message
		return res, nil
	}

	if opts.SkipReconcile {
		res.Phases = append(res.Phases, PhaseResult{Name: "reconcile", Status: PhaseSkipped})
	} else {
		_ = track("reconcile", func() error {
			rr, err := r.reconcileDay(ctx, now, false)
			res.Reconcile = rr
			if err != nil {
				return err
			}
			if !rr.Success {
				return eris.New("pipeline: one or more sheets failed to reconcile")
			}
			return nil
		})
	}

	res.Success = res.Reconcile == nil || res.Reconcile.Success
	res.Message = fmt.Sprintf("%s (저장: 추가 %d건, 갱신 %d건)", crawl.Message, res.Upsert.Added, res.Upsert.Updated)
	log.Info("pipeline: rank run finished", zap.Bool("success", res.Success), zap.String("message", res.Message))
	return res, nil
}

// ReconcileToday writes today's stored snapshots into the roster ledgers.
func (r *Runner) ReconcileToday(ctx context.Context) (*reconcile.Result, error) {
	return r.reconcileDay(ctx, r.now().In(r.loc), false)
}

// ReconcileDate writes one past day's snapshots selectively.
func (r *Runner) ReconcileDate(ctx context.Context, date time.Time) (*reconcile.Result, error) {
	return r.reconcileDay(ctx, date.In(r.loc), true)
}

func (r *Runner) reconcileDay(ctx context.Context, day time.Time, selective bool) (*reconcile.Result, error) {
	d := day.Format(model.DateLayout)
	rows, err := r.snapshots.History(ctx, snapshot.HistoryQuery{DateFrom: d, DateTo: d})
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read snapshots for %s", d)
	}
	res := r.reconciler.Reconcile(ctx, rows, reconcile.Options{Date: day, Selective: selective})
	return &res, nil
}

func (r *Runner) appendLog(ctx context.Context, e model.ExecutionLogEntry) {
	if r.log == nil {
		return
	}
	if err := r.log.Append(ctx, e); err != nil {
		zap.L().Warn("pipeline: failed to append execution log", zap.Error(err))
	}
}

func summarize(c crawler.Result) CrawlSummary {
	return CrawlSummary{
		Success:   c.Success,
		Message:   c.Message,
		Collected: len(c.Snapshots),
		Matched:   c.Matched,
		Unmatched: c.Unmatched,
		Missing:   len(c.FailedDetails),
		Pages:     c.Pages,
	}
}
