// Package crawler collects rank snapshots from the rank-tracking site for
// the current guarantee roster.
package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jtwolab/rankops/internal/match"
	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/internal/rankparse"
)

// Request scopes one crawl.
type Request struct {
	Company  string
	Targets  []model.GuaranteeItem
	Today    time.Time // crawl day; fallback date and year-inference anchor
	TimeSlot string
}

// Result is always returned, even when the crawl failed. Snapshots parsed
// before a failure are kept.
type Result struct {
	Success       bool                 `json:"success"`
	Message       string               `json:"message"`
	Snapshots     []model.RankSnapshot `json:"snapshots"`
	Matched       int                  `json:"matched"`
	Unmatched     int                  `json:"unmatched"`
	Orphans       int                  `json:"orphans"`
	Pages         int                  `json:"pages"`
	Elapsed       time.Duration        `json:"elapsed"`
	FailedDetails []model.FailedDetail `json:"failed_details,omitempty"`
}

// Crawler pairs a page Source with the roster matcher.
type Crawler struct {
	source      Source
	rowSelector string
	now         func() time.Time
}

// New returns a Crawler reading pages from source.
func New(source Source, rowSelector string) *Crawler {
	return &Crawler{source: source, rowSelector: rowSelector, now: time.Now}
}

// Crawl walks the result pages and converts matched rows into snapshots.
func (c *Crawler) Crawl(ctx context.Context, req Request) Result {
	start := c.now()
	if req.Today.IsZero() {
		req.Today = start
	}
	if req.TimeSlot == "" {
		req.TimeSlot = model.TimeSlotFor(req.Today)
	}
	log := zap.L().With(zap.String("company", req.Company), zap.String("time_slot", req.TimeSlot))

	res := Result{}
	if err := c.source.Validate(); err != nil {
		res.Message = failureMessage(err)
		log.Error("crawler: source not usable", zap.Error(err))
		return res
	}
	if len(req.Targets) == 0 {
		res.Success = true
		res.Message = "크롤링 대상 없음"
		return res
	}

	idx := match.NewIndex[int](nil, nil)
	for i, it := range req.Targets {
		idx.Add(i, match.Keys{PlaceID: it.PlaceID(), Name: it.BusinessName, Keyword: it.MainKeyword})
	}
	seen := make(map[int]bool, len(req.Targets))

	err := c.source.Pages(ctx, func(page int, html string) (bool, error) {
		res.Pages = page
		table, err := ParseTable(html, c.rowSelector)
		if err != nil {
			return false, err
		}
		res.Orphans += table.Orphans
		if len(table.Rows) == 0 && table.Orphans == 0 {
			return false, nil
		}
		for _, row := range table.Rows {
			out := idx.Resolve(match.Query{PlaceID: row.PlaceID, URL: row.ProfileURL, Name: row.Name, Keyword: row.Keyword})
			if !out.Matched() {
				res.Unmatched++
				continue
			}
			res.Matched++
			seen[out.Value] = true
			res.Snapshots = append(res.Snapshots, snapshotFor(req.Targets[out.Value], row, req))
		}
		return true, nil
	})
	res.Elapsed = c.now().Sub(start)

	for i, t := range req.Targets {
		if !seen[i] {
			res.FailedDetails = append(res.FailedDetails, model.FailedDetail{
				ClientName: t.BusinessName,
				Keyword:    t.MainKeyword,
				Reason:     "not found in rank table",
			})
		}
	}

	if err != nil {
		res.Message = failureMessage(err)
		log.Error("crawler: crawl failed", zap.Error(err), zap.Int("kept_snapshots", len(res.Snapshots)))
		return res
	}

	res.Success = true
	res.Message = fmt.Sprintf("순위 크롤링 완료 - 성공: %d건, 미매칭: %d건, 누락: %d건", len(res.Snapshots), res.Unmatched, len(res.FailedDetails))
	log.Info("crawler: crawl complete",
		zap.Int("snapshots", len(res.Snapshots)),
		zap.Int("matched", res.Matched),
		zap.Int("unmatched", res.Unmatched),
		zap.Int("orphans", res.Orphans),
		zap.Int("pages", res.Pages),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res
}

func failureMessage(err error) string {
	switch {
	case eris.Is(err, ErrMissingCredentials):
		return "크롤링 실패: 로그인 정보가 설정되지 않았습니다"
	case eris.Is(err, ErrLoginFailed):
		return "크롤링 실패: 로그인 실패"
	case eris.Is(err, context.DeadlineExceeded):
		return "크롤링 실패: 시간 초과"
	}
	return "크롤링 실패: " + err.Error()
}

func snapshotFor(t model.GuaranteeItem, row Row, req Request) model.RankSnapshot {
	block := rankparse.Parse(row.RankText, req.Today)
	date := block.DateString()
	if date == "" {
		date = req.Today.Format(model.DateLayout)
	}
	placeURL := row.ProfileURL
	if placeURL == "" {
		placeURL = t.URL
	}
	return model.RankSnapshot{
		Date:            date,
		TimeSlot:        req.TimeSlot,
		Agency:          t.Agency,
		ClientName:      t.BusinessName,
		Group:           t.Company,
		Keyword:         t.MainKeyword,
		PlaceURL:        placeURL,
		PlaceID:         model.ExtractPlaceID(placeURL),
		Rank:            block.Fields.Rank,
		Saves:           block.Fields.Saves,
		BlogReviews:     block.Fields.BlogReviews,
		VisitorReviews:  block.Fields.VisitorReviews,
		PopularityScore: block.Fields.PopularityScore,
		Source:          model.DefaultSource,
	}
}
