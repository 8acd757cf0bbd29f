package match

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jtwolab/rankops/internal/model"
)

func targets() []model.GuaranteeItem {
	return []model.GuaranteeItem{
		{BusinessName: "행복식당 강남점", MainKeyword: "강남 맛집", URL: "https://m.place.naver.com/restaurant/12345678"},
		{BusinessName: "미소치과", MainKeyword: "역삼 치과"},
		{BusinessName: "ＡＢＣ 헤어", MainKeyword: "신논현 미용실"},
	}
}

func itemKeys(g model.GuaranteeItem) Keys {
	return Keys{PlaceID: g.PlaceID(), Name: g.BusinessName, Keyword: g.MainKeyword}
}

func TestResolvePrecedence(t *testing.T) {
	t.Parallel()

	idx := NewIndex(targets(), itemKeys)
	assert.Equal(t, 3, idx.Len())

	tests := []struct {
		name     string
		q        Query
		wantKind Kind
		wantName string
	}{
		{"url id beats name", Query{URL: "https://m.place.naver.com/restaurant/12345678/home", Name: "미소치과"}, ByURLID, "행복식당 강남점"},
		{"exact name", Query{Name: " 미소치과 "}, ByExactName, "미소치과"},
		{"scraped name shorter", Query{Name: "행복식당"}, ByPartialName, "행복식당 강남점"},
		{"scraped name longer", Query{Name: "미소치과의원 본점"}, ByPartialName, "미소치과"},
		{"full width folded", Query{Name: "ABC 헤어"}, ByExactName, "ＡＢＣ 헤어"},
		{"keyword last", Query{Name: "없는가게", Keyword: "역삼 치과"}, ByKeyword, "미소치과"},
		{"unmatched", Query{Name: "없는가게", Keyword: "부산 맛집"}, Unmatched, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := idx.Resolve(tt.q)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantName, got.Value.BusinessName)
			assert.Equal(t, tt.wantKind != Unmatched, got.Matched())
		})
	}
}

func TestResolveStrict(t *testing.T) {
	t.Parallel()

	idx := NewIndex(targets(), itemKeys)

	got := idx.ResolveStrict(Query{PlaceID: "12345678"})
	assert.Equal(t, ByURLID, got.Kind)
	assert.True(t, got.Trusted())

	got = idx.ResolveStrict(Query{Name: "미소치과", Keyword: "역삼  치과"})
	assert.Equal(t, ByNameKeyword, got.Kind)
	assert.True(t, got.Trusted())

	// Name alone or a partial name never counts for write-back.
	assert.False(t, idx.ResolveStrict(Query{Name: "미소치과"}).Matched())
	assert.False(t, idx.ResolveStrict(Query{Name: "행복식당", Keyword: "강남 맛집"}).Matched())
}

func TestFirstCandidateWins(t *testing.T) {
	t.Parallel()

	items := []model.GuaranteeItem{
		{BusinessName: "미소치과", MainKeyword: "a", Company: "first"},
		{BusinessName: "미소치과", MainKeyword: "a", Company: "second"},
	}
	idx := NewIndex(items, itemKeys)
	assert.Equal(t, "first", idx.Resolve(Query{Name: "미소치과"}).Value.Company)
	assert.Equal(t, "first", idx.ResolveStrict(Query{Name: "미소치과", Keyword: "a"}).Value.Company)
}

func TestKeywordPicksAmongSharedPlace(t *testing.T) {
	t.Parallel()

	const u = "https://m.place.naver.com/restaurant/12345678"
	items := []model.GuaranteeItem{
		{BusinessName: "가게", MainKeyword: "강남 맛집", URL: u},
		{BusinessName: "가게", MainKeyword: "신사 맛집", URL: u},
	}
	idx := NewIndex(items, itemKeys)

	got := idx.Resolve(Query{URL: u, Name: "가게", Keyword: "신사  맛집"})
	assert.Equal(t, ByURLID, got.Kind)
	assert.Equal(t, "신사 맛집", got.Value.MainKeyword)

	got = idx.ResolveStrict(Query{PlaceID: "12345678", Keyword: "신사 맛집"})
	assert.Equal(t, "신사 맛집", got.Value.MainKeyword)

	// Same name without a place id still splits on keyword.
	got = idx.Resolve(Query{Name: "가게", Keyword: "신사 맛집"})
	assert.Equal(t, ByExactName, got.Kind)
	assert.Equal(t, "신사 맛집", got.Value.MainKeyword)

	// Unknown keyword falls back to the first candidate for the id.
	got = idx.Resolve(Query{URL: u, Keyword: "역삼 맛집"})
	assert.Equal(t, "강남 맛집", got.Value.MainKeyword)
}

func TestOutcomeTrusted(t *testing.T) {
	t.Parallel()

	assert.False(t, Outcome[int]{Kind: ByPartialName}.Trusted())
	assert.False(t, Outcome[int]{Kind: ByKeyword}.Trusted())
	assert.True(t, Outcome[int]{Kind: ByExactName}.Trusted())
	assert.Equal(t, "partial_name", ByPartialName.String())
	assert.Equal(t, "unmatched", Unmatched.String())
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "강남 맛집", Normalize("  강남\t 맛집 "))
	assert.Equal(t, "ABC1", Normalize("ＡＢＣ１"))
	assert.Equal(t, "", Normalize("   "))
}
