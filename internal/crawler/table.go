package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/internal/rankparse"
)

// DefaultRowSelector matches result rows on the rank site.
const DefaultRowSelector = "table tbody tr"

// Row is an info row paired with the rank row that followed it.
type Row struct {
	Name       string
	Keyword    string
	ProfileURL string
	PlaceID    string
	RankText   string
}

// Table is what one result page yields.
type Table struct {
	Rows    []Row
	Orphans int // rank rows with no preceding info row
	Total   int // rows the selector matched
}

// ParseTable walks the result rows in document order. An info row carries a
// profile link with a numeric place id; a rank row carries a date marker or
// rank tag. Each info row pairs with the next rank row. Rank rows without a
// pending info row are dropped, and an info row followed by another info row
// is superseded.
func ParseTable(html, rowSelector string) (Table, error) {
	if rowSelector == "" {
		rowSelector = DefaultRowSelector
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Table{}, eris.Wrap(err, "crawler: parse html")
	}

	var t Table
	var pending *Row
	doc.Find(rowSelector).Each(func(_ int, tr *goquery.Selection) {
		t.Total++
		text := cellText(tr)
		if info, ok := infoRow(tr); ok {
			// A rank row may link back to the same place.
			if pending == nil || info.PlaceID != pending.PlaceID || !rankparse.IsRankText(text) {
				pending = &info
				return
			}
		}
		if !rankparse.IsRankText(text) {
			return
		}
		if pending == nil {
			t.Orphans++
			return
		}
		pending.RankText = text
		t.Rows = append(t.Rows, *pending)
		pending = nil
	})
	return t, nil
}

func infoRow(tr *goquery.Selection) (Row, bool) {
	var row Row
	found := false
	tr.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		id := model.ExtractPlaceID(href)
		if id == "" {
			return true
		}
		row.ProfileURL = strings.TrimSpace(href)
		row.PlaceID = id
		row.Name = squash(a.Text())

		td := a.Closest("td")
		if row.Name == "" {
			row.Name = squash(td.Text())
		}
		if next := td.Next(); next.Length() > 0 {
			if kw := squash(next.Text()); !rankparse.IsRankText(kw) {
				row.Keyword = kw
			}
		}
		found = true
		return false
	})
	return row, found
}

// cellText joins cell texts with newlines so markers in adjacent cells do
// not run together.
func cellText(tr *goquery.Selection) string {
	var parts []string
	tr.Find("td").Each(func(_ int, td *goquery.Selection) {
		if s := strings.TrimSpace(td.Text()); s != "" {
			parts = append(parts, s)
		}
	})
	if len(parts) == 0 {
		return strings.TrimSpace(tr.Text())
	}
	return strings.Join(parts, "\n")
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
