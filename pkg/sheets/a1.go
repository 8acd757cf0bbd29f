package sheets

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ColumnLetter converts a 0-based column index to A1 letters (0 -> A, 26 -> AA).
func ColumnLetter(idx int) string {
	if idx < 0 {
		return ""
	}
	var b []byte
	for n := idx + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

// ColumnIndex converts A1 letters to a 0-based index. It returns -1 for
// anything that is not all letters.
func ColumnIndex(letters string) int {
	if letters == "" {
		return -1
	}
	n := 0
	for _, r := range strings.ToUpper(letters) {
		if r < 'A' || r > 'Z' {
			return -1
		}
		n = n*26 + int(r-'A'+1)
	}
	return n - 1
}

// QuoteTab quotes a tab title for use in A1 notation.
func QuoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

// Cell addresses one cell; col is 0-based, row 1-based.
func Cell(tab string, col, row int) string {
	return QuoteTab(tab) + "!" + ColumnLetter(col) + strconv.Itoa(row)
}

// Rect addresses a block of cells; columns 0-based, rows 1-based.
func Rect(tab string, col1, row1, col2, row2 int) string {
	return QuoteTab(tab) + "!" + ColumnLetter(col1) + strconv.Itoa(row1) + ":" + ColumnLetter(col2) + strconv.Itoa(row2)
}

// Column addresses a whole column.
func Column(tab string, col int) string {
	l := ColumnLetter(col)
	return QuoteTab(tab) + "!" + l + ":" + l
}

// Range is a parsed A1 range. Zero rows and -1 columns mean unbounded.
type Range struct {
	Tab      string
	StartCol int
	StartRow int
	EndCol   int
	EndRow   int
}

// ParseRange parses the subset of A1 notation this package produces:
// 'Tab', 'Tab'!B3, 'Tab'!A1:P9 and 'Tab'!A:A.
func ParseRange(s string) (Range, error) {
	r := Range{StartCol: -1, EndCol: -1}

	tab, ref, hasRef := strings.Cut(s, "!")
	if strings.HasPrefix(tab, "'") && strings.HasSuffix(tab, "'") && len(tab) >= 2 {
		tab = strings.ReplaceAll(tab[1:len(tab)-1], "''", "'")
	}
	r.Tab = tab
	if !hasRef {
		return r, nil
	}

	start, end, isSpan := strings.Cut(ref, ":")
	var err error
	r.StartCol, r.StartRow, err = parseRef(start)
	if err != nil {
		return Range{}, eris.Wrapf(err, "sheets: parse range %q", s)
	}
	if !isSpan {
		r.EndCol, r.EndRow = r.StartCol, r.StartRow
		return r, nil
	}
	r.EndCol, r.EndRow, err = parseRef(end)
	if err != nil {
		return Range{}, eris.Wrapf(err, "sheets: parse range %q", s)
	}
	return r, nil
}

func parseRef(ref string) (col, row int, err error) {
	i := 0
	for i < len(ref) && (ref[i] < '0' || ref[i] > '9') {
		i++
	}
	col = -1
	if i > 0 {
		col = ColumnIndex(ref[:i])
		if col < 0 {
			return 0, 0, eris.Errorf("bad column %q", ref[:i])
		}
	}
	if i < len(ref) {
		row, err = strconv.Atoi(ref[i:])
		if err != nil || row < 1 {
			return 0, 0, eris.Errorf("bad row %q", ref[i:])
		}
	}
	return col, row, nil
}
