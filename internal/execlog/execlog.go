// Package execlog records one entry per crawl run in the rank_update_logs
// tab. The recovery service reads it back to find failed dates.
package execlog

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/pkg/sheets"
)

// Log appends and lists execution log entries.
type Log interface {
	Append(ctx context.Context, e model.ExecutionLogEntry) error
	// List returns every entry in sheet order (oldest first).
	List(ctx context.Context) ([]model.ExecutionLogEntry, error)
	// Last returns the most recent entry, or nil when the log is empty.
	Last(ctx context.Context) (*model.ExecutionLogEntry, error)
}

// SheetLog is a Log stored in a spreadsheet tab.
type SheetLog struct {
	client        sheets.Client
	spreadsheetID string
	tab           string
	loc           *time.Location

	mu      sync.Mutex
	ensured bool
}

// NewSheetLog returns a log over spreadsheetID/tab. Timestamps without a
// zone are read in loc.
func NewSheetLog(client sheets.Client, spreadsheetID, tab string, loc *time.Location) *SheetLog {
	if loc == nil {
		loc = time.UTC
	}
	return &SheetLog{client: client, spreadsheetID: spreadsheetID, tab: tab, loc: loc}
}

func (l *SheetLog) ensure(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ensured {
		return nil
	}
	tabs, err := l.client.Tabs(ctx, l.spreadsheetID)
	if err != nil {
		return eris.Wrap(err, "execlog: list tabs")
	}
	if !slices.Contains(tabs, l.tab) {
		zap.L().Info("execlog: creating tab", zap.String("tab", l.tab))
		if err := l.client.AddTab(ctx, l.spreadsheetID, l.tab, 500, len(model.LogHeaders)); err != nil {
			return eris.Wrapf(err, "execlog: create tab %s", l.tab)
		}
		header := make([]any, len(model.LogHeaders))
		for i, h := range model.LogHeaders {
			header[i] = h
		}
		if err := l.client.Append(ctx, l.spreadsheetID, sheets.Cell(l.tab, 0, 1), [][]any{header}, sheets.Raw); err != nil {
			return eris.Wrap(err, "execlog: write header")
		}
	}
	l.ensured = true
	return nil
}

func (l *SheetLog) Append(ctx context.Context, e model.ExecutionLogEntry) error {
	if err := l.ensure(ctx); err != nil {
		return err
	}
	if err := l.client.Append(ctx, l.spreadsheetID, sheets.Cell(l.tab, 0, 1), [][]any{e.ToRow()}, sheets.Raw); err != nil {
		return eris.Wrap(err, "execlog: append entry")
	}
	zap.L().Info("execlog: logged run",
		zap.String("time_slot", e.TimeSlot),
		zap.Int("success", e.SuccessCount),
		zap.Int("failed", e.FailedCount),
	)
	return nil
}

func (l *SheetLog) List(ctx context.Context) ([]model.ExecutionLogEntry, error) {
	vals, err := l.client.Values(ctx, l.spreadsheetID, sheets.QuoteTab(l.tab))
	if err != nil {
		if eris.Is(err, sheets.ErrTabNotFound) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "execlog: read tab")
	}
	if len(vals) <= 1 {
		return nil, nil
	}
	headers := vals[0]
	out := make([]model.ExecutionLogEntry, 0, len(vals)-1)
	for _, row := range vals[1:] {
		if len(row) == 0 {
			continue
		}
		out = append(out, model.EntryFromRow(headers, row, l.loc))
	}
	return out, nil
}

func (l *SheetLog) Last(ctx context.Context) (*model.ExecutionLogEntry, error) {
	entries, err := l.List(ctx)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	last := entries[len(entries)-1]
	return &last, nil
}

// Failures returns failed entries executed on or after since, newest first.
func Failures(entries []model.ExecutionLogEntry, since time.Time) []model.ExecutionLogEntry {
	var out []model.ExecutionLogEntry
	for _, e := range entries {
		if e.IsFailure() && !e.ExecutedAt.Before(since) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b model.ExecutionLogEntry) int {
		return b.ExecutedAt.Compare(a.ExecutedAt)
	})
	return out
}
