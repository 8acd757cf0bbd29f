package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtwolab/rankops/internal/config"
	"github.com/jtwolab/rankops/internal/crawler"
	"github.com/jtwolab/rankops/internal/execlog"
	"github.com/jtwolab/rankops/internal/guarantee"
	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/internal/reconcile"
	"github.com/jtwolab/rankops/internal/snapshot"
	"github.com/jtwolab/rankops/pkg/sheets/sheetstest"
)

var kst = time.FixedZone("KST", 9*3600)

const placeURL = "https://m.place.naver.com/restaurant/12345678"

type staticRoster struct {
	items []model.GuaranteeItem
	err   error
}

func (s staticRoster) Items(_ context.Context, f guarantee.Filter) ([]model.GuaranteeItem, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []model.GuaranteeItem
	for _, it := range s.items {
		if f.Match(it) {
			out = append(out, it)
		}
	}
	return out, nil
}

type htmlPages []string

func (htmlPages) Validate() error { return nil }

func (h htmlPages) Pages(_ context.Context, visit crawler.Visit) error {
	for i, p := range h {
		more, err := visit(i+1, p)
		if err != nil || !more {
			return err
		}
	}
	return nil
}

type failingPages struct{ err error }

func (failingPages) Validate() error { return nil }

func (f failingPages) Pages(context.Context, crawler.Visit) error { return f.err }

const rankPage = `<html><body><table><tbody>
<tr><td><a href="` + placeURL + `">가게</a></td><td>강남 맛집</td></tr>
<tr><td>12-28(일)
3위 N2 0.4512 저 2,419 블 243 방 1,189</td></tr>
</tbody></table></body></html>`

type fixture struct {
	fake   *sheetstest.Fake
	runner *Runner
	repo   *snapshot.SheetRepository
	log    *execlog.SheetLog
}

func newFixture(t *testing.T, roster Roster, source crawler.Source) fixture {
	t.Helper()
	now := time.Date(2025, 12, 28, 15, 10, 0, 0, kst)

	fake := sheetstest.New()
	fake.SetTab("g1", "보장건", [][]string{
		{"작업 여부", "상호명", "메인 키워드", "상품", "보장 순위", "URL", "1", "2"},
		{"진행중", "가게", "강남 맛집", "플레이스 월보장", "5위", placeURL},
	})
	gcfg := config.GuaranteeConfig{
		Sheets:      []config.GuaranteeSheet{{Name: "jtwolab", Company: "제이투랩", SpreadsheetID: "g1", Tab: "보장건"}},
		LedgerWidth: 2,
	}

	repo := snapshot.NewSheetRepository(fake, "snap", "rank_snapshots", snapshot.Options{Location: kst, Now: func() time.Time { return now }})
	log := execlog.NewSheetLog(fake, "snap", "rank_update_logs", kst)
	rec := reconcile.New(guarantee.NewSource(fake, gcfg), fake, gcfg, kst)

	r := New(roster, crawler.New(source, ""), repo, log, rec, kst)
	r.now = func() time.Time { return now }
	return fixture{fake: fake, runner: r, repo: repo, log: log}
}

func rosterItems() []model.GuaranteeItem {
	return []model.GuaranteeItem{{
		Sheet: "jtwolab", Row: 2, Company: "제이투랩", BusinessName: "가게", MainKeyword: "강남 맛집",
		URL: placeURL, Product: "플레이스 월보장", GuaranteedRank: 5, Status: model.StatusActive,
	}}
}

func TestRun_CrawlToLedger(t *testing.T) {
	t.Parallel()

	f := newFixture(t, staticRoster{items: rosterItems()}, htmlPages{rankPage})

	res, err := f.runner.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	assert.Equal(t, "2025-12-28", res.Date)
	assert.Equal(t, model.SlotAfternoon, res.TimeSlot)
	assert.Equal(t, 1, res.Crawl.Collected)
	assert.Equal(t, snapshot.UpsertResult{Success: 1, Added: 1}, res.Upsert)
	require.NotNil(t, res.Reconcile)
	assert.Equal(t, 1, res.Reconcile.Totals.Updated)

	assert.Equal(t, "25. 12. 28\n3등", f.fake.CellValue("g1", "보장건", 6, 2))

	stored, err := f.repo.History(context.Background(), snapshot.HistoryQuery{DateFrom: "2025-12-28", DateTo: "2025-12-28"})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, model.IntPtr(3), stored[0].Rank)
	assert.Equal(t, "2025-12-28T15:10:00+09:00", stored[0].CollectedAt)

	last, err := f.log.Last(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 1, last.SuccessCount)
	assert.False(t, last.IsFailure())

	names := make([]string, len(res.Phases))
	for i, p := range res.Phases {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"targets", "crawl", "upsert", "reconcile"}, names)
}

func TestRun_RepeatIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, staticRoster{items: rosterItems()}, htmlPages{rankPage})

	_, err := f.runner.Run(context.Background(), Options{})
	require.NoError(t, err)
	res, err := f.runner.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Upsert.Updated)
	assert.Equal(t, 0, res.Reconcile.Totals.Updated)
	assert.Equal(t, 1, res.Reconcile.Totals.SkippedExisting)
	assert.Equal(t, "", f.fake.CellValue("g1", "보장건", 7, 2))
}

func TestRun_CrawlFailureIsLogged(t *testing.T) {
	t.Parallel()

	f := newFixture(t, staticRoster{items: rosterItems()}, failingPages{err: crawler.ErrLoginFailed})

	res, err := f.runner.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Nil(t, res.Reconcile)
	assert.Contains(t, res.Message, "크롤링 실패")

	last, err := f.log.Last(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.IsFailure())
	assert.Equal(t, 1, last.FailedCount)
}

func TestRun_SkipsIneligibleItems(t *testing.T) {
	t.Parallel()

	items := append(rosterItems(), model.GuaranteeItem{
		Sheet: "jtwolab", Row: 3, Company: "제이투랩", BusinessName: "끝난가게", MainKeyword: "신사 맛집",
		Product: "플레이스 월보장", GuaranteedRank: 5, Status: model.StatusDone,
	})
	f := newFixture(t, staticRoster{items: items}, htmlPages{rankPage})

	res, err := f.runner.Run(context.Background(), Options{SkipReconcile: true})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, res.Targets)
	assert.Zero(t, res.Crawl.Missing)

	last, err := f.log.Last(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Zero(t, last.FailedCount)
	assert.False(t, last.IsFailure())
}

func TestRun_RosterFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, staticRoster{err: errors.New("sheet down")}, htmlPages{rankPage})

	res, err := f.runner.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.False(t, res.Success)

	entries, err := f.log.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsFailure())
}

func TestRun_SkipReconcile(t *testing.T) {
	t.Parallel()

	f := newFixture(t, staticRoster{items: rosterItems()}, htmlPages{rankPage})

	res, err := f.runner.Run(context.Background(), Options{SkipReconcile: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.Reconcile)
	assert.Equal(t, "", f.fake.CellValue("g1", "보장건", 6, 2))

	rr, err := f.runner.ReconcileToday(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rr.Totals.Updated)
	assert.Equal(t, "25. 12. 28\n3등", f.fake.CellValue("g1", "보장건", 6, 2))
}
