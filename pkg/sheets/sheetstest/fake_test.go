package sheetstest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtwolab/rankops/pkg/sheets"
)

func TestFakeReadWrite(t *testing.T) {
	ctx := context.Background()
	f := New()
	f.SetTab("s", "t", [][]string{{"h1", "h2"}, {"a", ""}, {}})

	got, err := f.Values(ctx, "s", "'t'")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"h1", "h2"}, {"a"}}, got)

	col, err := f.Values(ctx, "s", sheets.Column("t", 1))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"h2"}}, col)

	require.NoError(t, f.BatchUpdate(ctx, "s", []sheets.RangeUpdate{
		{Range: sheets.Cell("t", 3, 2), Values: [][]any{{"x"}}},
	}, sheets.Raw))
	assert.Equal(t, "x", f.CellValue("s", "t", 3, 2))
	assert.Len(t, f.Writes(), 1)

	require.NoError(t, f.Append(ctx, "s", sheets.Column("t", 0), [][]any{{"n", 1}}, sheets.Raw))
	assert.Equal(t, []string{"n", "1"}, f.Tab("s", "t")[2])
	assert.Equal(t, 1, f.Calls("Append"))
}

func TestFakeTabs(t *testing.T) {
	ctx := context.Background()
	f := New()
	require.NoError(t, f.AddTab(ctx, "s", "logs", 10, 7))
	assert.Error(t, f.AddTab(ctx, "s", "logs", 10, 7))

	tabs, err := f.Tabs(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"logs"}, tabs)

	_, err = f.Values(ctx, "s", "'missing'")
	assert.ErrorIs(t, err, sheets.ErrTabNotFound)

	f.SetTab("s", "logs", [][]string{{"row"}})
	require.NoError(t, f.InsertRows(ctx, "s", "logs", 0, 1))
	assert.Equal(t, [][]string{nil, {"row"}}, f.Tab("s", "logs"))
}

func TestFakeFailOn(t *testing.T) {
	f := New()
	f.SetTab("s", "t", nil)
	boom := errors.New("boom")
	f.FailOn("Values", boom)

	_, err := f.Values(context.Background(), "s", "'t'")
	assert.ErrorIs(t, err, boom)

	f.FailOn("Values", nil)
	_, err = f.Values(context.Background(), "s", "'t'")
	assert.NoError(t, err)
}
