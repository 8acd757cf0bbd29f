package guarantee

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtwolab/rankops/internal/cache"
	"github.com/jtwolab/rankops/internal/config"
	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/pkg/sheets/sheetstest"
)

// rosterRow builds a row with the ledger starting at column 17.
func rosterRow(status, name, keyword, product, url, rank string, ledger ...string) []string {
	row := make([]string, 17, 17+len(ledger))
	copy(row, []string{"신규", "2025. 1. 2", "A대행", status, name, keyword, product, "kim", "", url, rank, "2025-01-03"})
	return append(row, ledger...)
}

func rosterHeader() []string {
	h := make([]string, 17, 20)
	copy(h, []string{"구분", "계약일", "대행사", "작업 여부", "상호명", "메인 키워드", "상품", "담당자", "메모", "URL", "보장 순위", "작업 시작일"})
	return append(h, "1", "2", "3")
}

var jtwolab = config.GuaranteeSheet{Name: "jtwolab", Company: "제이투랩", SpreadsheetID: "g1", Tab: "보장건"}
var ilryu = config.GuaranteeSheet{Name: "ilryu", Company: "일류기획", SpreadsheetID: "g2", Tab: "보장건"}

func TestParseTab(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"보장건 현황"},
		rosterHeader(),
		rosterRow("진행중", "가게", "강남 맛집", "플레이스 월보장", "https://m.place.naver.com/restaurant/12345678", "5위", "25. 01. 03\n4등", "", "7"),
		rosterRow("완료", "", "nameless", "", "", ""),
		rosterRow("세팅대기", "카페", "역삼 카페", "블로그", "", "보장 10"),
	}

	tab, err := ParseTab(rows, jtwolab, ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, tab.Header.Row)
	assert.Equal(t, Layout{Start: 17, Width: 25}, tab.Layout)
	assert.Equal(t, 42, tab.Layout.Overflow())
	require.Len(t, tab.Items, 2)

	it := tab.Items[0]
	assert.Equal(t, 3, it.Row)
	assert.Equal(t, "제이투랩", it.Company)
	assert.Equal(t, "jtwolab", it.Sheet)
	assert.Equal(t, "강남 맛집", it.MainKeyword)
	assert.Equal(t, "2025-01-02", it.ContractDate)
	assert.Equal(t, "2025-01-03", it.WorkStartDate)
	assert.Equal(t, 5, it.GuaranteedRank)
	assert.Equal(t, model.StatusActive, it.Status)
	assert.Equal(t, "12345678", it.PlaceID())
	require.Len(t, it.Ledger, 2)
	assert.Equal(t, 1, it.Ledger[0].Day)
	assert.Equal(t, "2025-01-03", it.Ledger[0].Date)
	assert.Equal(t, 4, *it.Ledger[0].Rank)
	assert.Equal(t, 3, it.Ledger[1].Day)
	assert.Equal(t, 7, *it.Ledger[1].Rank)

	assert.Equal(t, 5, tab.Items[1].Row)
	assert.Equal(t, 10, tab.Items[1].GuaranteedRank)
	assert.Equal(t, model.StatusPending, tab.Items[1].Status)
}

func TestParseTabDefaultDayStart(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"상호", "키워드", "작업여부"},
		{"가게", "강남", "진행중"},
	}
	tab, err := ParseTab(rows, jtwolab, ParseOptions{DayStart: 17, Width: 25})
	require.NoError(t, err)
	assert.Equal(t, 17, tab.Layout.Start)
	require.Len(t, tab.Items, 1)
	assert.Empty(t, tab.Items[0].Ledger)
}

func TestParseTabNoHeader(t *testing.T) {
	t.Parallel()

	_, err := ParseTab([][]string{{"a", "b"}}, jtwolab, ParseOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jtwolab")

	_, err = ParseTab([][]string{{"키워드", "작업 여부"}}, jtwolab, ParseOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "business_name")
}

func newFixture(t *testing.T) (*sheetstest.Fake, *Roster) {
	t.Helper()
	fake := sheetstest.New()
	fake.SetTab("g1", "보장건", [][]string{
		rosterHeader(),
		rosterRow("진행중", "가게", "강남 맛집", "플레이스", "https://x/12345678", "5"),
		rosterRow("완료", "끝난집", "홍대 술집", "플레이스", "", "3"),
		rosterRow("후불", "키워드없음", "", "플레이스", "", "3"),
	})
	fake.SetTab("g2", "보장건", [][]string{
		rosterHeader(),
		rosterRow("반불", "일류가게", "부산 횟집", "블로그", "", "1"),
	})
	src := NewSource(fake, config.GuaranteeConfig{Sheets: []config.GuaranteeSheet{jtwolab, ilryu}})
	c := cache.NewFile[[]model.GuaranteeItem](filepath.Join(t.TempDir(), "guarantee_data.json"), time.Hour)
	return fake, NewRoster(src, c)
}

func TestRosterSyncAndItems(t *testing.T) {
	fake, roster := newFixture(t)
	ctx := context.Background()

	res, err := roster.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, map[string]int{"제이투랩": 3, "일류기획": 1}, res.ByCompany)
	assert.Equal(t, 2, fake.Calls("Values"))

	items, err := roster.Items(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, items, 4)
	assert.Equal(t, 2, fake.Calls("Values"), "served from cache")

	items, err = roster.Items(ctx, Filter{Company: "제이투랩", EligibleOnly: true})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Len(t, Targets(items), 1)

	items, err = roster.Items(ctx, Filter{Product: "블로그"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "일류가게", items[0].BusinessName)

	items, err = roster.Items(ctx, Filter{Query: "강남"})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = roster.Items(ctx, Filter{Status: model.StatusDone})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	assert.True(t, roster.Status().Valid)
}

func TestRosterLoadFailsWhole(t *testing.T) {
	fake, roster := newFixture(t)
	fake.FailOn("Values", errors.New("quota"))

	_, err := roster.Sync(context.Background())
	require.Error(t, err)
	assert.False(t, roster.Status().Exists)
}

func TestStats(t *testing.T) {
	t.Parallel()

	items := []model.GuaranteeItem{
		{Company: "제이투랩", Status: model.StatusActive, Product: "플레이스", ContractDate: "2025-01-02"},
		{Company: "제이투랩", Status: model.StatusDone, ContractDate: "2025-01-20"},
		{Company: "일류기획", Status: model.StatusPending, Product: "플레이스", ContractDate: "2024-12-01"},
	}
	st := Stats(items)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, CompanyStats{Total: 2, Active: 1, Completed: 1}, st.ByCompany["제이투랩"])
	assert.Equal(t, CompanyStats{Total: 1, Active: 1}, st.ByCompany["일류기획"])
	assert.Equal(t, map[string]int{"플레이스": 2, "기타": 1}, st.ByProduct)
	assert.Equal(t, map[string]int{"2025-01": 2, "2024-12": 1}, st.ByMonth)
	assert.Equal(t, []string{"일류기획", "제이투랩"}, Companies(items))
}
