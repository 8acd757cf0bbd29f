// Package sheetstest provides an in-memory sheets.Client for tests.
package sheetstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/jtwolab/rankops/pkg/sheets"
)

// Fake stores every spreadsheet as a grid of strings and counts calls.
type Fake struct {
	mu     sync.Mutex
	books  map[string]map[string][][]string
	tabs   map[string][]string
	calls  map[string]int
	errs   map[string]error
	writes []sheets.RangeUpdate
}

var _ sheets.Client = (*Fake)(nil)

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		books: make(map[string]map[string][][]string),
		tabs:  make(map[string][]string),
		calls: make(map[string]int),
		errs:  make(map[string]error),
	}
}

// SetTab replaces (or creates) a tab's contents.
func (f *Fake) SetTab(spreadsheetID, tab string, rows [][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureTab(spreadsheetID, tab)
	grid := make([][]string, len(rows))
	for i, r := range rows {
		grid[i] = append([]string(nil), r...)
	}
	f.books[spreadsheetID][tab] = grid
}

// Tab returns a copy of a tab's contents, or nil when it does not exist.
func (f *Fake) Tab(spreadsheetID, tab string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	grid, ok := f.books[spreadsheetID][tab]
	if !ok {
		return nil
	}
	out := make([][]string, len(grid))
	for i, r := range grid {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// CellValue returns one cell; col is 0-based and row 1-based.
func (f *Fake) CellValue(spreadsheetID, tab string, col, row int) string {
	grid := f.Tab(spreadsheetID, tab)
	if row-1 < len(grid) && col < len(grid[row-1]) {
		return grid[row-1][col]
	}
	return ""
}

// Calls reports how many times op ("Values", "BatchUpdate", "Append",
// "Tabs", "AddTab", "InsertRows") was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Writes returns every range written through BatchUpdate.
func (f *Fake) Writes() []sheets.RangeUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sheets.RangeUpdate(nil), f.writes...)
}

// FailOn makes every later call to op return err. A nil err clears it.
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

func (f *Fake) enter(op string) error {
	f.calls[op]++
	return f.errs[op]
}

func (f *Fake) ensureTab(spreadsheetID, tab string) {
	if f.books[spreadsheetID] == nil {
		f.books[spreadsheetID] = make(map[string][][]string)
	}
	if _, ok := f.books[spreadsheetID][tab]; !ok {
		f.books[spreadsheetID][tab] = nil
		f.tabs[spreadsheetID] = append(f.tabs[spreadsheetID], tab)
	}
}

func (f *Fake) grid(spreadsheetID, tab string) ([][]string, error) {
	grid, ok := f.books[spreadsheetID][tab]
	if !ok {
		return nil, eris.Wrapf(sheets.ErrTabNotFound, "sheetstest: %s/%s", spreadsheetID, tab)
	}
	return grid, nil
}

// Values returns the requested block with trailing blanks trimmed, as the
// real API does.
func (f *Fake) Values(_ context.Context, spreadsheetID, rng string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Values"); err != nil {
		return nil, err
	}
	r, err := sheets.ParseRange(rng)
	if err != nil {
		return nil, err
	}
	grid, err := f.grid(spreadsheetID, r.Tab)
	if err != nil {
		return nil, err
	}

	startRow, endRow := 1, len(grid)
	if r.StartRow > 0 {
		startRow = r.StartRow
	}
	if r.EndRow > 0 && r.EndRow < endRow {
		endRow = r.EndRow
	}
	startCol := max(r.StartCol, 0)

	var out [][]string
	for i := startRow; i <= endRow; i++ {
		src := grid[i-1]
		var row []string
		for j := startCol; j < len(src) && (r.EndCol < 0 || j <= r.EndCol); j++ {
			row = append(row, src[j])
		}
		out = append(out, trimRow(row))
	}
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *Fake) BatchUpdate(_ context.Context, spreadsheetID string, updates []sheets.RangeUpdate, _ sheets.ValueInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("BatchUpdate"); err != nil {
		return err
	}
	for _, u := range updates {
		r, err := sheets.ParseRange(u.Range)
		if err != nil {
			return err
		}
		if _, err := f.grid(spreadsheetID, r.Tab); err != nil {
			return err
		}
		f.write(spreadsheetID, r.Tab, max(r.StartRow, 1), max(r.StartCol, 0), u.Values)
		f.writes = append(f.writes, u)
	}
	return nil
}

func (f *Fake) Append(_ context.Context, spreadsheetID, rng string, rows [][]any, _ sheets.ValueInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Append"); err != nil {
		return err
	}
	r, err := sheets.ParseRange(rng)
	if err != nil {
		return err
	}
	grid, err := f.grid(spreadsheetID, r.Tab)
	if err != nil {
		return err
	}
	last := 0
	for i, row := range grid {
		if len(trimRow(row)) > 0 {
			last = i + 1
		}
	}
	f.write(spreadsheetID, r.Tab, last+1, max(r.StartCol, 0), rows)
	return nil
}

func (f *Fake) Tabs(_ context.Context, spreadsheetID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Tabs"); err != nil {
		return nil, err
	}
	return append([]string(nil), f.tabs[spreadsheetID]...), nil
}

func (f *Fake) AddTab(_ context.Context, spreadsheetID, title string, _, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddTab"); err != nil {
		return err
	}
	if _, ok := f.books[spreadsheetID][title]; ok {
		return eris.Errorf("sheetstest: tab %q already exists", title)
	}
	f.ensureTab(spreadsheetID, title)
	return nil
}

func (f *Fake) InsertRows(_ context.Context, spreadsheetID, tab string, at, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("InsertRows"); err != nil {
		return err
	}
	grid, err := f.grid(spreadsheetID, tab)
	if err != nil {
		return err
	}
	for len(grid) < at {
		grid = append(grid, nil)
	}
	blank := make([][]string, count)
	grid = append(grid[:at], append(blank, grid[at:]...)...)
	f.books[spreadsheetID][tab] = grid
	return nil
}

// write places values with the top-left at (row, col); row 1-based.
func (f *Fake) write(spreadsheetID, tab string, row, col int, values [][]any) {
	grid := f.books[spreadsheetID][tab]
	for i, vals := range values {
		ri := row - 1 + i
		for len(grid) <= ri {
			grid = append(grid, nil)
		}
		for j, v := range vals {
			ci := col + j
			for len(grid[ri]) <= ci {
				grid[ri] = append(grid[ri], "")
			}
			grid[ri][ci] = cellString(v)
		}
	}
	f.books[spreadsheetID][tab] = grid
}

func cellString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func trimRow(row []string) []string {
	for len(row) > 0 && row[len(row)-1] == "" {
		row = row[:len(row)-1]
	}
	if row == nil {
		return []string{}
	}
	return row
}
