package sheets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnLetter(t *testing.T) {
	tests := []struct {
		idx  int
		want string
	}{
		{0, "A"}, {17, "R"}, {25, "Z"}, {26, "AA"}, {42, "AQ"}, {701, "ZZ"}, {702, "AAA"}, {-1, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ColumnLetter(tt.idx), "idx %d", tt.idx)
		if tt.idx >= 0 {
			assert.Equal(t, tt.idx, ColumnIndex(tt.want))
		}
	}
	assert.Equal(t, -1, ColumnIndex("A1"))
	assert.Equal(t, -1, ColumnIndex(""))
}

func TestAddressHelpers(t *testing.T) {
	assert.Equal(t, "'보장건'!S5", Cell("보장건", 18, 5))
	assert.Equal(t, "'rank_snapshots'!A2:P2", Rect("rank_snapshots", 0, 2, 15, 2))
	assert.Equal(t, "'rank_snapshots'!A:A", Column("rank_snapshots", 0))
	assert.Equal(t, "'it''s'", QuoteTab("it's"))
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		in   string
		want Range
	}{
		{"'보장건'", Range{Tab: "보장건", StartCol: -1, EndCol: -1}},
		{"'보장건'!S5", Range{Tab: "보장건", StartCol: 18, StartRow: 5, EndCol: 18, EndRow: 5}},
		{"'rank_snapshots'!A2:P9", Range{Tab: "rank_snapshots", StartCol: 0, StartRow: 2, EndCol: 15, EndRow: 9}},
		{"'rank_snapshots'!A:A", Range{Tab: "rank_snapshots", StartCol: 0, EndCol: 0}},
		{"'it''s'!B1", Range{Tab: "it's", StartCol: 1, StartRow: 1, EndCol: 1, EndRow: 1}},
		{"plain!A1:B", Range{Tab: "plain", StartCol: 0, StartRow: 1, EndCol: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRange(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseRange("'x'!A0")
	assert.Error(t, err)
	_, err = ParseRange("'x'!1A")
	assert.Error(t, err)
}
