// Package sheet locates header rows in loosely formatted spreadsheet tabs
// and gives downstream code a column-name to index map.
package sheet

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ErrHeaderNotFound is returned when no scanned row matches any rule.
var ErrHeaderNotFound = eris.New("sheet: header row not found")

// Rule maps header text onto a logical column. A cell matches when it
// contains every word of any one of the AnyOf groups.
type Rule struct {
	Column string
	AnyOf  [][]string
}

func (r Rule) matches(cell string) bool {
	upper := strings.ToUpper(cell)
	for _, group := range r.AnyOf {
		ok := len(group) > 0
		for _, w := range group {
			if !strings.Contains(upper, strings.ToUpper(w)) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// Header is a located header row.
type Header struct {
	// Row is the 0-based index of the header within the scanned values.
	Row     int
	Columns map[string]int
	Cells   []string
}

// Locate scores each of the first maxScan rows by how many rules it
// satisfies and returns the best one. Within a row each cell is claimed by
// the first rule it matches, and each rule keeps its leftmost cell.
func Locate(rows [][]string, rules []Rule, maxScan int) (Header, error) {
	if maxScan <= 0 || maxScan > len(rows) {
		maxScan = len(rows)
	}

	best := Header{Row: -1}
	for i := 0; i < maxScan; i++ {
		cols := mapRow(rows[i], rules)
		if len(cols) > len(best.Columns) {
			best = Header{Row: i, Columns: cols, Cells: rows[i]}
		}
	}
	if best.Row < 0 {
		return Header{}, ErrHeaderNotFound
	}
	return best, nil
}

func mapRow(row []string, rules []Rule) map[string]int {
	cols := make(map[string]int)
	for idx, raw := range row {
		cell := strings.TrimSpace(raw)
		if cell == "" {
			continue
		}
		for _, r := range rules {
			if r.matches(cell) {
				if _, seen := cols[r.Column]; !seen {
					cols[r.Column] = idx
				}
				break
			}
		}
	}
	return cols
}

// Require returns an error naming every column missing from h.
func (h Header) Require(columns ...string) error {
	var missing []string
	for _, c := range columns {
		if _, ok := h.Columns[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("sheet: missing headers: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Index returns the column index for name, or -1.
func (h Header) Index(name string) int {
	if i, ok := h.Columns[name]; ok {
		return i
	}
	return -1
}

// Value returns the trimmed cell for column name in row, or "".
func (h Header) Value(row []string, name string) string {
	i, ok := h.Columns[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// DayStart returns the index of the first per-day ledger column, the cell
// reading exactly "1" or "1일". It falls back to def when absent.
func (h Header) DayStart(def int) (int, bool) {
	for i, raw := range h.Cells {
		c := strings.TrimSpace(raw)
		if c == "1" || c == "1일" {
			return i, true
		}
	}
	return def, false
}

// ExactRules builds one rule per literal header name, for tabs whose
// headers are a fixed contract.
func ExactRules(names []string) []Rule {
	rules := make([]Rule, len(names))
	for i, n := range names {
		rules[i] = Rule{Column: n, AnyOf: [][]string{{n}}}
	}
	return rules
}

// GuaranteeRules recognise the columns of a guarantee roster tab. Order
// matters: the first matching rule claims a cell.
var GuaranteeRules = []Rule{
	{Column: "status", AnyOf: [][]string{{"작업", "여부"}}},
	{Column: "business_name", AnyOf: [][]string{{"상호"}, {"플레이스", "자동완성"}}},
	{Column: "keyword", AnyOf: [][]string{{"메인", "키워드"}, {"키워드"}}},
	{Column: "guarantee_rank", AnyOf: [][]string{{"보장", "순위"}}},
	{Column: "contract_date", AnyOf: [][]string{{"계약일"}}},
	{Column: "start_date", AnyOf: [][]string{{"시작일"}}},
	{Column: "agency", AnyOf: [][]string{{"대행사"}}},
	{Column: "type", AnyOf: [][]string{{"구분"}}},
	{Column: "manager", AnyOf: [][]string{{"담당"}}},
	{Column: "memo", AnyOf: [][]string{{"메모"}}},
	{Column: "product", AnyOf: [][]string{{"상품"}}},
	{Column: "url", AnyOf: [][]string{{"URL"}}},
}
