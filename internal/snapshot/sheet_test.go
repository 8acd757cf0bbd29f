package snapshot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/pkg/sheets/sheetstest"
)

var fixedNow = time.Date(2025, 1, 15, 15, 30, 0, 0, time.UTC)

func testOptions() Options {
	return Options{Now: func() time.Time { return fixedNow }}
}

func snap(date, keyword, url string, rank int) model.RankSnapshot {
	return model.RankSnapshot{
		Date:       date,
		TimeSlot:   model.SlotAfternoon,
		Keyword:    keyword,
		PlaceURL:   url,
		ClientName: "client " + keyword,
		Rank:       model.IntPtr(rank),
	}
}

func newSheetRepo(t *testing.T) (*SheetRepository, *sheetstest.Fake) {
	t.Helper()
	fake := sheetstest.New()
	return NewSheetRepository(fake, "snap", "rank_snapshots", testOptions()), fake
}

func TestSheetUpsertCreatesTabAndAppends(t *testing.T) {
	repo, fake := newSheetRepo(t)
	ctx := context.Background()

	res, err := repo.UpsertBulk(ctx, []model.RankSnapshot{
		snap("2025-01-15", "강남 맛집", "https://m.place.naver.com/restaurant/1234567", 3),
		snap("2025-01-15", "역삼 카페", "https://m.place.naver.com/place/7654321", 8),
	})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Success: 2, Added: 2}, res)
	assert.Equal(t, 1, fake.Calls("AddTab"))
	assert.Equal(t, 1, fake.Calls("Append"))

	rows := fake.Tab("snap", "rank_snapshots")
	require.Len(t, rows, 3)
	assert.Equal(t, model.SnapshotHeaders, rows[0])

	got := model.SnapshotFromRow(rows[0], rows[1])
	assert.Equal(t, "1234567", got.PlaceID)
	assert.Equal(t, model.DefaultSource, got.Source)
	assert.Equal(t, "2025-01-15T15:30:00Z", got.CollectedAt)
	assert.Equal(t, model.UniqueKey("2025-01-15", model.SlotAfternoon, "강남 맛집", "https://m.place.naver.com/restaurant/1234567"), got.UniqueKey)
	require.NotNil(t, got.Rank)
	assert.Equal(t, 3, *got.Rank)
}

func TestSheetUpsertIdempotent(t *testing.T) {
	repo, fake := newSheetRepo(t)
	ctx := context.Background()
	batch := []model.RankSnapshot{
		snap("2025-01-15", "a", "https://x/1111111", 1),
		snap("2025-01-15", "b", "https://x/2222222", 2),
		snap("2025-01-14", "a", "https://x/1111111", 4),
	}

	first, err := repo.UpsertBulk(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Added)
	rowCount := len(fake.Tab("snap", "rank_snapshots"))

	second, err := repo.UpsertBulk(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Success: 3, Updated: 3}, second)
	assert.Len(t, fake.Tab("snap", "rank_snapshots"), rowCount)
	assert.Equal(t, 1, fake.Calls("Append"))
	assert.Equal(t, 2, fake.Calls("BatchUpdate"), "one header write plus one row batch")
}

func TestSheetUpsertUpdatesInPlace(t *testing.T) {
	repo, fake := newSheetRepo(t)
	ctx := context.Background()

	_, err := repo.UpsertBulk(ctx, []model.RankSnapshot{snap("2025-01-15", "a", "https://x/1111111", 9)})
	require.NoError(t, err)
	res, err := repo.UpsertBulk(ctx, []model.RankSnapshot{snap("2025-01-15", "a", "https://x/1111111", 2)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	rankCol := 9
	assert.Equal(t, "2", fake.CellValue("snap", "rank_snapshots", rankCol, 2))
}

func TestSheetUpsertSkipsInvalid(t *testing.T) {
	repo, fake := newSheetRepo(t)

	bad := snap("2025-01-15", "", "https://x/1111111", 1)
	res, err := repo.UpsertBulk(context.Background(), []model.RankSnapshot{bad, snap("2025-01-15", "a", "https://x/1111111", 1)})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Success: 1, Failed: 1, Added: 1}, res)
	assert.Len(t, fake.Tab("snap", "rank_snapshots"), 2)
}

func TestSheetUpsertCollapsesDuplicates(t *testing.T) {
	repo, fake := newSheetRepo(t)

	res, err := repo.UpsertBulk(context.Background(), []model.RankSnapshot{
		snap("2025-01-15", "a", "https://x/1111111", 5),
		snap("2025-01-15", "a", "https://x/1111111", 6),
	})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Success: 2, Added: 1, Updated: 1}, res)

	rows := fake.Tab("snap", "rank_snapshots")
	require.Len(t, rows, 2)
	assert.Equal(t, "6", rows[1][9])
}

func TestSheetUpsertChunksUpdates(t *testing.T) {
	fake := sheetstest.New()
	opts := testOptions()
	opts.BatchSize = 2
	repo := NewSheetRepository(fake, "snap", "rank_snapshots", opts)
	ctx := context.Background()

	var batch []model.RankSnapshot
	for i := 0; i < 5; i++ {
		batch = append(batch, snap("2025-01-15", fmt.Sprintf("k%d", i), "https://x/1111111", i))
	}
	_, err := repo.UpsertBulk(ctx, batch)
	require.NoError(t, err)
	before := fake.Calls("BatchUpdate")

	_, err = repo.UpsertBulk(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, fake.Calls("BatchUpdate")-before)
}

func TestSheetInsertsMissingHeader(t *testing.T) {
	fake := sheetstest.New()
	fake.SetTab("snap", "rank_snapshots", [][]string{{"stray", "data"}})
	repo := NewSheetRepository(fake, "snap", "rank_snapshots", testOptions())

	_, err := repo.UpsertBulk(context.Background(), []model.RankSnapshot{snap("2025-01-15", "a", "https://x/1111111", 1)})
	require.NoError(t, err)

	rows := fake.Tab("snap", "rank_snapshots")
	require.Len(t, rows, 3)
	assert.Equal(t, "unique_key", rows[0][0])
	assert.Equal(t, "stray", rows[1][0])
	assert.Equal(t, 1, fake.Calls("InsertRows"))
}

func TestSheetUpsertPropagatesWriteError(t *testing.T) {
	repo, fake := newSheetRepo(t)
	fake.FailOn("Append", errors.New("quota"))

	_, err := repo.UpsertBulk(context.Background(), []model.RankSnapshot{snap("2025-01-15", "a", "https://x/1111111", 1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot: append rows")
}

func TestSheetHistory(t *testing.T) {
	repo, _ := newSheetRepo(t)
	ctx := context.Background()

	am := snap("2025-01-14", "a", "https://x/1111111", 1)
	am.TimeSlot = model.SlotMorning
	_, err := repo.UpsertBulk(ctx, []model.RankSnapshot{
		snap("2025-01-01", "a", "https://x/1111111", 7),
		am,
		snap("2025-01-14", "a", "https://x/1111111", 2),
		snap("2025-01-15", "b", "https://x/2222222", 3),
	})
	require.NoError(t, err)

	t.Run("default window newest first", func(t *testing.T) {
		got, err := repo.History(ctx, HistoryQuery{})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "2025-01-15", got[0].Date)
		assert.Equal(t, model.SlotAfternoon, got[1].TimeSlot)
		assert.Equal(t, model.SlotMorning, got[2].TimeSlot)
	})

	t.Run("explicit from beats days", func(t *testing.T) {
		got, err := repo.History(ctx, HistoryQuery{DateFrom: "2025-01-01", DateTo: "2025-01-01", Days: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 7, *got[0].Rank)
	})

	t.Run("keyword and place filter", func(t *testing.T) {
		got, err := repo.History(ctx, HistoryQuery{Keyword: "b", Days: -1})
		require.NoError(t, err)
		assert.Len(t, got, 1)

		got, err = repo.History(ctx, HistoryQuery{PlaceID: "1111111", Days: -1})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("dates with data", func(t *testing.T) {
		counts, err := repo.DatesWithData(ctx, "2025-01-10", "2025-01-15")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"2025-01-14": 2, "2025-01-15": 1}, counts)
	})
}

func TestSheetHistoryMissingTab(t *testing.T) {
	repo, _ := newSheetRepo(t)
	got, err := repo.History(context.Background(), HistoryQuery{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
