// Package recovery finds days whose scheduled crawl failed and left no
// snapshots behind, and replays crawl and write-back for just those days.
package recovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jtwolab/rankops/internal/crawler"
	"github.com/jtwolab/rankops/internal/execlog"
	"github.com/jtwolab/rankops/internal/guarantee"
	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/internal/pipeline"
	"github.com/jtwolab/rankops/internal/reconcile"
	"github.com/jtwolab/rankops/internal/snapshot"
)

// DefaultDaysBack is the lookback window for RecoverFailedCrawls.
const DefaultDaysBack = 7

// Summary statuses.
const (
	StatusNoFailures       = "no_failures"
	StatusAlreadyRecovered = "already_recovered"
	StatusCompleted        = "completed"
	StatusCrawlFailed      = "crawl_failed"
	StatusNoData           = "no_data"
)

// FailedCrawl is one failed execution log entry.
type FailedCrawl struct {
	Date          string               `json:"date"`
	TimeSlot      string               `json:"time_slot"`
	ExecutedAt    time.Time            `json:"executed_at"`
	FailedCount   int                  `json:"failed_count"`
	Message       string               `json:"message"`
	FailedDetails []model.FailedDetail `json:"failed_details,omitempty"`
}

// DateResult reports the replay of one date.
type DateResult struct {
	Date      string                `json:"date"`
	Status    string                `json:"status"`
	Message   string                `json:"message"`
	Crawled   int                   `json:"crawled"`
	Kept      int                   `json:"kept"`
	Upsert    snapshot.UpsertResult `json:"upsert"`
	Reconcile *reconcile.Result     `json:"reconcile,omitempty"`
}

// Summary reports a RecoverFailedCrawls call.
type Summary struct {
	Status       string        `json:"status"`
	Message      string        `json:"message"`
	Failed       []FailedCrawl `json:"failed"`
	MissingDates []string      `json:"missing_dates"`
	Results      []DateResult  `json:"results"`
}

// Service composes the execution log, snapshot store, crawler and
// reconciler.
type Service struct {
	log        execlog.Log
	snapshots  snapshot.Repository
	roster     pipeline.Roster
	crawler    pipeline.Crawler
	reconciler pipeline.Reconciler
	loc        *time.Location
	now        func() time.Time
}

// New returns a recovery Service.
func New(log execlog.Log, snapshots snapshot.Repository, roster pipeline.Roster, c pipeline.Crawler, r pipeline.Reconciler, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{log: log, snapshots: snapshots, roster: roster, crawler: c, reconciler: r, loc: loc, now: time.Now}
}

// FailedCrawlDates returns failed runs from the last daysBack days, newest
// first.
func (s *Service) FailedCrawlDates(ctx context.Context, daysBack int) ([]FailedCrawl, error) {
	if daysBack <= 0 {
		daysBack = DefaultDaysBack
	}
	entries, err := s.log.List(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "recovery: read execution log")
	}
	now := s.now().In(s.loc)
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc).AddDate(0, 0, -daysBack)

	failures := execlog.Failures(entries, since)
	out := make([]FailedCrawl, len(failures))
	for i, e := range failures {
		out[i] = FailedCrawl{
			Date:          e.ExecutedAt.In(s.loc).Format(model.DateLayout),
			TimeSlot:      e.TimeSlot,
			ExecutedAt:    e.ExecutedAt,
			FailedCount:   e.FailedCount,
			Message:       e.Message,
			FailedDetails: e.FailedDetails,
		}
	}
	return out, nil
}

// DatesMissingInSnapshots returns the dates among candidates with no stored
// snapshot, ascending. A date with any data is never reported.
func (s *Service) DatesMissingInSnapshots(ctx context.Context, candidates []string) ([]string, error) {
	dates := uniqueSorted(candidates)
	if len(dates) == 0 {
		return nil, nil
	}
	counts, err := s.snapshots.DatesWithData(ctx, dates[0], dates[len(dates)-1])
	if err != nil {
		return nil, eris.Wrap(err, "recovery: count snapshots")
	}
	var missing []string
	for _, d := range dates {
		if counts[d] == 0 {
			missing = append(missing, d)
		}
	}
	return missing, nil
}

// RecoverFailedCrawls replays each failed date that has no snapshots.
func (s *Service) RecoverFailedCrawls(ctx context.Context, daysBack int) (*Summary, error) {
	log := zap.L().With(zap.String("component", "recovery"))

	failed, err := s.FailedCrawlDates(ctx, daysBack)
	if err != nil {
		return nil, err
	}
	sum := &Summary{Failed: failed}
	if len(failed) == 0 {
		sum.Status = StatusNoFailures
		sum.Message = "복구할 실패 기록이 없습니다"
		log.Info("recovery: no failed crawls")
		return sum, nil
	}

	dates := make([]string, len(failed))
	for i, f := range failed {
		dates[i] = f.Date
	}
	missing, err := s.DatesMissingInSnapshots(ctx, dates)
	if err != nil {
		return nil, err
	}
	sum.MissingDates = missing
	if len(missing) == 0 {
		sum.Status = StatusAlreadyRecovered
		sum.Message = "실패한 날짜의 데이터가 이미 존재합니다"
		log.Info("recovery: failed dates already have data", zap.Strings("dates", dates))
		return sum, nil
	}

	recovered := 0
	for _, d := range missing {
		r, err := s.RecoverDate(ctx, d)
		if err != nil {
			return nil, err
		}
		if r.Status == StatusCompleted {
			recovered++
		}
		sum.Results = append(sum.Results, *r)
	}
	sum.Status = StatusCompleted
	sum.Message = fmt.Sprintf("복구 완료: %d/%d일", recovered, len(missing))
	log.Info("recovery: finished", zap.Strings("missing", missing), zap.Int("recovered", recovered))
	return sum, nil
}

// RecoverDate re-crawls once, keeps only rows dated date, upserts them and
// writes them back selectively. Existing ledger entries for date are never
// overwritten.
func (s *Service) RecoverDate(ctx context.Context, date string) (*DateResult, error) {
	day, err := time.ParseInLocation(model.DateLayout, date, s.loc)
	if err != nil {
		return nil, eris.Wrapf(err, "recovery: bad date %q", date)
	}
	res := &DateResult{Date: date}
	log := zap.L().With(zap.String("component", "recovery"), zap.String("date", date))

	items, err := s.roster.Items(ctx, guarantee.Filter{EligibleOnly: true})
	if err != nil {
		return nil, eris.Wrap(err, "recovery: load roster")
	}

	now := s.now().In(s.loc)
	crawl := s.crawler.Crawl(ctx, crawler.Request{Targets: guarantee.Targets(items), Today: now, TimeSlot: model.TimeSlotFor(now)})
	res.Crawled = len(crawl.Snapshots)
	if !crawl.Success {
		res.Status = StatusCrawlFailed
		res.Message = crawl.Message
		log.Warn("recovery: crawl failed", zap.String("message", crawl.Message))
		return res, nil
	}

	var kept []model.RankSnapshot
	for _, snap := range crawl.Snapshots {
		if snap.Date == date {
			kept = append(kept, snap)
		}
	}
	res.Kept = len(kept)
	if len(kept) == 0 {
		res.Status = StatusNoData
		res.Message = "해당 날짜의 순위 데이터가 없습니다"
		log.Info("recovery: no rows for date", zap.Int("crawled", res.Crawled))
		return res, nil
	}

	res.Upsert, err = s.snapshots.UpsertBulk(ctx, kept)
	if err != nil {
		return nil, eris.Wrapf(err, "recovery: upsert %s", date)
	}
	rr := s.reconciler.Reconcile(ctx, kept, reconcile.Options{Date: day, Selective: true})
	res.Reconcile = &rr
	res.Status = StatusCompleted
	res.Message = fmt.Sprintf("%s 복구: 저장 %d건, 시트 기록 %d건", date, res.Upsert.Success, rr.Totals.Updated)
	log.Info("recovery: date recovered", zap.Int("kept", res.Kept), zap.Int("ledger_updates", rr.Totals.Updated))
	return res, nil
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
