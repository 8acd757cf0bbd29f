package crawler

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtwolab/rankops/internal/config"
	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/internal/resilience"
)

var kst = time.FixedZone("KST", 9*3600)

const placeURL = "https://m.place.naver.com/restaurant/12345678"

func page(rows string) string {
	return "<html><body><table><tbody>" + rows + "</tbody></table></body></html>"
}

func infoTR(href, name, keyword string) string {
	return `<tr><td><a href="` + href + `">` + name + `</a></td><td>` + keyword + `</td></tr>`
}

func rankTR(text string) string {
	return `<tr><td>` + text + `</td></tr>`
}

type fakeSource struct {
	pages   []string
	err     error // returned after every page was visited
	invalid error
	seen    int
}

func (f *fakeSource) Validate() error { return f.invalid }

func (f *fakeSource) Pages(_ context.Context, visit Visit) error {
	for i, html := range f.pages {
		f.seen++
		more, err := visit(i+1, html)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return f.err
}

func target(name, keyword, u string) model.GuaranteeItem {
	return model.GuaranteeItem{
		Sheet: "jtwolab", Row: 3, Company: "제이투랩", Agency: "A대행",
		BusinessName: name, MainKeyword: keyword, URL: u,
		GuaranteedRank: 5, Status: model.StatusActive,
	}
}

func TestParseTable_PairsInfoAndRankRows(t *testing.T) {
	t.Parallel()

	html := page(
		rankTR("12-27(토) 9위") + // orphan: no info row yet
			infoTR(placeURL, "가게", "강남 맛집") +
			rankTR("12-28(일)\n3위 N2 0.4512") +
			infoTR("https://m.place.naver.com/place/99999999", "superseded", "kw") +
			infoTR("https://m.place.naver.com/place/55555555", "카페", "역삼 카페") +
			rankTR("12-28(일) 7위") +
			`<tr><td>광고</td></tr>`)

	table, err := ParseTable(html, "")
	require.NoError(t, err)

	assert.Equal(t, 7, table.Total)
	assert.Equal(t, 1, table.Orphans)
	require.Len(t, table.Rows, 2)

	assert.Equal(t, Row{
		Name: "가게", Keyword: "강남 맛집", ProfileURL: placeURL, PlaceID: "12345678",
		RankText: "12-28(일)\n3위 N2 0.4512",
	}, table.Rows[0])
	assert.Equal(t, "카페", table.Rows[1].Name)
	assert.Equal(t, "55555555", table.Rows[1].PlaceID)
}

func TestParseTable_RankRowLinkingBackToSamePlace(t *testing.T) {
	t.Parallel()

	html := page(
		infoTR(placeURL, "가게", "강남 맛집") +
			`<tr><td><a href="` + placeURL + `">12-28(일) 3위</a></td></tr>`)

	table, err := ParseTable(html, "")
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "12-28(일) 3위", table.Rows[0].RankText)
	assert.Zero(t, table.Orphans)
}

func TestParseTable_OrphanRankRowsAreDropped(t *testing.T) {
	t.Parallel()

	table, err := ParseTable(page(rankTR("12-28(일) 3위")+rankTR("4위")), "")
	require.NoError(t, err)
	assert.Empty(t, table.Rows)
	assert.Equal(t, 2, table.Orphans)
}

func TestCrawl_EndToEnd(t *testing.T) {
	t.Parallel()

	src := &fakeSource{pages: []string{
		page(infoTR(placeURL, "가게", "강남 맛집") +
			rankTR("12-28(일)\n3위 N2 0.4512 저 2,419 블 243 방 1,189") +
			infoTR("https://m.place.naver.com/place/77777777", "다른곳", "모름") +
			rankTR("12-28(일) 1위")),
		page(""),
		page(infoTR(placeURL, "never", "reached") + rankTR("1위")),
	}}
	c := New(src, DefaultRowSelector)

	today := time.Date(2025, 12, 28, 15, 5, 0, 0, kst)
	res := c.Crawl(context.Background(), Request{
		Company: "제이투랩",
		Targets: []model.GuaranteeItem{
			target("가게", "강남 맛집", placeURL),
			target("없는집", "신사 맛집", ""),
		},
		Today: today,
	})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, 2, src.seen, "paging stops at the first empty page")
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 1, res.Unmatched)
	require.Len(t, res.Snapshots, 1)

	s := res.Snapshots[0]
	assert.Equal(t, "2025-12-28", s.Date)
	assert.Equal(t, model.SlotAfternoon, s.TimeSlot)
	assert.Equal(t, "가게", s.ClientName)
	assert.Equal(t, "제이투랩", s.Group)
	assert.Equal(t, "A대행", s.Agency)
	assert.Equal(t, "강남 맛집", s.Keyword)
	assert.Equal(t, placeURL, s.PlaceURL)
	assert.Equal(t, "12345678", s.PlaceID)
	assert.Equal(t, model.IntPtr(3), s.Rank)
	assert.Equal(t, model.FloatPtr(0.4512), s.PopularityScore)
	assert.Equal(t, model.IntPtr(2419), s.Saves)
	assert.Equal(t, model.IntPtr(243), s.BlogReviews)
	assert.Equal(t, model.IntPtr(1189), s.VisitorReviews)
	assert.Equal(t, model.DefaultSource, s.Source)

	require.Len(t, res.FailedDetails, 1)
	assert.Equal(t, "없는집", res.FailedDetails[0].ClientName)
}

func TestCrawl_OneBusinessTwoKeywords(t *testing.T) {
	t.Parallel()

	src := &fakeSource{pages: []string{page(
		infoTR(placeURL, "가게", "강남 맛집") + rankTR("12-28(일) 3위") +
			infoTR(placeURL, "가게", "신사 맛집") + rankTR("12-28(일) 7위"))}}

	res := New(src, "").Crawl(context.Background(), Request{
		Targets: []model.GuaranteeItem{
			target("가게", "강남 맛집", placeURL),
			target("가게", "신사 맛집", placeURL),
		},
		Today: time.Date(2025, 12, 28, 15, 0, 0, 0, kst),
	})

	require.True(t, res.Success, res.Message)
	require.Len(t, res.Snapshots, 2)
	assert.Empty(t, res.FailedDetails)

	byKeyword := map[string]model.RankSnapshot{}
	for _, s := range res.Snapshots {
		s.UniqueKey = model.UniqueKey(s.Date, s.TimeSlot, s.Keyword, s.PlaceURL)
		byKeyword[s.Keyword] = s
	}
	require.Len(t, byKeyword, 2)
	assert.Equal(t, model.IntPtr(3), byKeyword["강남 맛집"].Rank)
	assert.Equal(t, model.IntPtr(7), byKeyword["신사 맛집"].Rank)
	assert.NotEqual(t, byKeyword["강남 맛집"].UniqueKey, byKeyword["신사 맛집"].UniqueKey)
}

func TestCrawl_UndatedRowFallsBackToCrawlDay(t *testing.T) {
	t.Parallel()

	src := &fakeSource{pages: []string{page(infoTR(placeURL, "가게", "강남 맛집") + rankTR("4위"))}}
	today := time.Date(2025, 1, 15, 9, 30, 0, 0, kst)

	res := New(src, "").Crawl(context.Background(), Request{
		Targets: []model.GuaranteeItem{target("가게", "강남 맛집", "")},
		Today:   today,
	})

	require.True(t, res.Success)
	require.Len(t, res.Snapshots, 1)
	assert.Equal(t, "2025-01-15", res.Snapshots[0].Date)
	assert.Equal(t, model.SlotMorning, res.Snapshots[0].TimeSlot)
	assert.Equal(t, placeURL, res.Snapshots[0].PlaceURL, "profile link wins over the empty target url")
}

func TestCrawl_FailureKeepsParsedRows(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		pages: []string{page(infoTR(placeURL, "가게", "강남 맛집") + rankTR("12-28(일) 3위"))},
		err:   context.DeadlineExceeded,
	}
	res := New(src, "").Crawl(context.Background(), Request{
		Targets: []model.GuaranteeItem{target("가게", "강남 맛집", placeURL)},
		Today:   time.Date(2025, 12, 28, 15, 0, 0, 0, kst),
	})

	assert.False(t, res.Success)
	assert.Equal(t, "크롤링 실패: 시간 초과", res.Message)
	assert.Len(t, res.Snapshots, 1)
}

func TestCrawl_MissingCredentials(t *testing.T) {
	t.Parallel()

	c := New(NewBrowserSource(config.CrawlConfig{ListURL: "https://example.invalid/list"}), "")
	res := c.Crawl(context.Background(), Request{
		Targets: []model.GuaranteeItem{target("가게", "강남 맛집", placeURL)},
		Today:   time.Date(2025, 12, 28, 15, 0, 0, 0, kst),
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "로그인 정보")
	assert.Empty(t, res.Snapshots)
}

func TestCrawl_NoTargets(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	res := New(src, "").Crawl(context.Background(), Request{Today: time.Now()})
	assert.True(t, res.Success)
	assert.Zero(t, src.seen)
}

func TestCrawl_MissingCredentialsWithoutTargets(t *testing.T) {
	t.Parallel()

	c := New(NewBrowserSource(config.CrawlConfig{ListURL: "https://example.invalid/list"}), "")
	res := c.Crawl(context.Background(), Request{Today: time.Date(2025, 12, 28, 15, 0, 0, 0, kst)})

	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "로그인 정보")

	src := &fakeSource{invalid: ErrMissingCredentials}
	res = New(src, "").Crawl(context.Background(), Request{Today: time.Now()})
	assert.False(t, res.Success)
	assert.Zero(t, src.seen)
}

func TestPageURL(t *testing.T) {
	t.Parallel()

	got := PageURL("https://www.adlog.kr/adlog/list.php?sfl=api_memo&page_rows=100&page=1", 3)
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "3", u.Query().Get("page"))
	assert.Equal(t, "api_memo", u.Query().Get("sfl"))
	assert.Equal(t, "100", u.Query().Get("page_rows"))
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, StatusError(200, "u"))
	assert.NoError(t, StatusError(302, "u"))

	for _, code := range []int{408, 429, 500, 503} {
		err := StatusError(code, "u")
		require.Error(t, err)
		assert.True(t, resilience.IsTransient(err), "code %d", code)
	}

	err := StatusError(404, "u")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}
