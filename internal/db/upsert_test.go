package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCfg = UpsertConfig{
	Table:        "rankops.rank_snapshots",
	Columns:      []string{"unique_key", "rank"},
	ConflictKeys: []string{"unique_key"},
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	res, err := BulkUpsert(context.TODO(), nil, testCfg, nil)
	assert.NoError(t, err)
	assert.Equal(t, UpsertResult{}, res)
}

func TestBulkUpsert_Validation(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{Table: "t", ConflictKeys: []string{"id"}}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")

	_, err = BulkUpsert(context.TODO(), nil, UpsertConfig{Table: "t", Columns: []string{"id"}}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_CountsInsertsAndUpdates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_rankops_rank_snapshots"}, testCfg.Columns).WillReturnResult(3)
	mock.ExpectQuery(`INSERT INTO "rankops"."rank_snapshots" .* ON CONFLICT \("unique_key"\) DO UPDATE SET "rank" = EXCLUDED."rank" RETURNING`).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true).AddRow(false).AddRow(true))
	mock.ExpectCommit()

	res, err := BulkUpsert(context.Background(), mock, testCfg, [][]any{{"a", 1}, {"b", 2}, {"c", 3}})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Inserted: 2, Updated: 1}, res)
	assert.Equal(t, int64(3), res.Total())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_BeginError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("conn refused"))

	_, err = BulkUpsert(context.Background(), mock, testCfg, [][]any{{"a", 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}

func TestBulkUpsert_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_rankops_rank_snapshots"}, testCfg.Columns).WillReturnResult(1)
	mock.ExpectQuery("INSERT INTO").WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, testCfg, [][]any{{"a", 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INSERT ON CONFLICT")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"rankops.rank_snapshots", `"rankops"."rank_snapshots"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestUpsertSQL_SchemaQualified(t *testing.T) {
	sql := upsertSQL(UpsertConfig{
		Table:        "rankops.rank_snapshots",
		Columns:      []string{"unique_key", "rank"},
		ConflictKeys: []string{"unique_key"},
	}, "_tmp_upsert_rank_snapshots")

	assert.Contains(t, sql, `INSERT INTO "rankops"."rank_snapshots" ("unique_key", "rank")`)
	assert.Contains(t, sql, `FROM "_tmp_upsert_rank_snapshots"`)
	assert.Contains(t, sql, `ON CONFLICT ("unique_key") DO UPDATE SET "rank" = EXCLUDED."rank"`)
	assert.NotContains(t, sql, `"rankops.rank_snapshots"`)
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name"`, quoteAndJoin([]string{"id", "name"}))
}
