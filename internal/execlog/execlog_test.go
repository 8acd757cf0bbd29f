package execlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/pkg/sheets/sheetstest"
)

var kst = time.FixedZone("KST", 9*60*60)

func TestAppendCreatesTabOnce(t *testing.T) {
	fake := sheetstest.New()
	log := NewSheetLog(fake, "snap", "rank_update_logs", kst)
	ctx := context.Background()

	e := model.ExecutionLogEntry{
		ExecutedAt:     time.Date(2025, 1, 10, 15, 2, 0, 0, kst),
		TimeSlot:       model.SlotAfternoon,
		SuccessCount:   40,
		FailedCount:    3,
		ElapsedSeconds: 81.26,
		Message:        "크롤링 일부 실패",
		FailedDetails:  []model.FailedDetail{{ClientName: "가게", Keyword: "강남 맛집", Reason: "unmatched"}},
	}
	require.NoError(t, log.Append(ctx, e))
	require.NoError(t, log.Append(ctx, e))

	assert.Equal(t, 1, fake.Calls("AddTab"))
	assert.Equal(t, 1, fake.Calls("Tabs"))
	rows := fake.Tab("snap", "rank_update_logs")
	require.Len(t, rows, 3)
	assert.Equal(t, model.LogHeaders, rows[0])
	assert.Equal(t, "2025-01-10T15:02:00+09:00", rows[1][0])
	assert.Equal(t, "81.3", rows[1][4])

	entries, err := log.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 3, entries[0].FailedCount)
	assert.Equal(t, "2025-01-10", entries[0].Date())
	require.Len(t, entries[0].FailedDetails, 1)
	assert.Equal(t, "unmatched", entries[0].FailedDetails[0].Reason)

	last, err := log.Last(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 40, last.SuccessCount)
}

func TestListEmptyAndMissing(t *testing.T) {
	fake := sheetstest.New()
	log := NewSheetLog(fake, "snap", "rank_update_logs", kst)

	entries, err := log.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	last, err := log.Last(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestListLegacyTimestamps(t *testing.T) {
	fake := sheetstest.New()
	fake.SetTab("snap", "rank_update_logs", [][]string{
		model.LogHeaders,
		{"2025-01-09T09:01:12.123456", "09:00", "10", "0", "5", "ok", "[]"},
		{"2025-01-10 15:00:00", "15:00", "0", "0", "1", "Crawl FAILED: timeout", ""},
	})
	log := NewSheetLog(fake, "snap", "rank_update_logs", kst)

	entries, err := log.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2025-01-09", entries[0].Date())
	assert.False(t, entries[0].IsFailure())
	assert.True(t, entries[1].IsFailure())
}

func TestAppendError(t *testing.T) {
	fake := sheetstest.New()
	fake.FailOn("Tabs", errors.New("unavailable"))
	log := NewSheetLog(fake, "snap", "rank_update_logs", kst)

	err := log.Append(context.Background(), model.ExecutionLogEntry{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execlog: list tabs")
}

func TestFailures(t *testing.T) {
	t.Parallel()

	day := func(d int) time.Time { return time.Date(2025, 1, d, 15, 0, 0, 0, kst) }
	entries := []model.ExecutionLogEntry{
		{ExecutedAt: day(1), FailedCount: 2},
		{ExecutedAt: day(8), Message: "ok"},
		{ExecutedAt: day(9), FailedCount: 1},
		{ExecutedAt: day(10), Message: "로그인 실패"},
	}

	got := Failures(entries, day(5))
	require.Len(t, got, 2)
	assert.Equal(t, "2025-01-10", got[0].Date())
	assert.Equal(t, "2025-01-09", got[1].Date())
}
