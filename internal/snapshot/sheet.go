package snapshot

import (
	"context"
	"slices"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/pkg/sheets"
)

// headerSpan bounds the header-row read; the contract has 16 columns.
const headerSpan = 40

// SheetRepository stores snapshots in one spreadsheet tab whose first row
// is the SnapshotHeaders contract.
type SheetRepository struct {
	client        sheets.Client
	spreadsheetID string
	tab           string
	opts          Options

	mu      sync.Mutex
	headers []string
}

// NewSheetRepository creates a repository over spreadsheetID/tab.
func NewSheetRepository(client sheets.Client, spreadsheetID, tab string, opts Options) *SheetRepository {
	return &SheetRepository{
		client:        client,
		spreadsheetID: spreadsheetID,
		tab:           tab,
		opts:          opts.withDefaults(),
	}
}

// ensure creates the tab or inserts the header row when row 1 is not the
// header, and returns the header row in effect.
func (r *SheetRepository) ensure(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.headers != nil {
		return r.headers, nil
	}

	log := zap.L().With(zap.String("tab", r.tab))
	tabs, err := r.client.Tabs(ctx, r.spreadsheetID)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: list tabs")
	}

	headerRange := sheets.Rect(r.tab, 0, 1, len(model.SnapshotHeaders)-1, 1)
	headerRow := [][]any{toAny(model.SnapshotHeaders)}

	if !slices.Contains(tabs, r.tab) {
		log.Info("snapshot: creating tab")
		if err := r.client.AddTab(ctx, r.spreadsheetID, r.tab, 1000, len(model.SnapshotHeaders)); err != nil {
			return nil, eris.Wrapf(err, "snapshot: create tab %s", r.tab)
		}
		if err := r.client.BatchUpdate(ctx, r.spreadsheetID, []sheets.RangeUpdate{{Range: headerRange, Values: headerRow}}, sheets.Raw); err != nil {
			return nil, eris.Wrap(err, "snapshot: write header")
		}
		r.headers = model.SnapshotHeaders
		return r.headers, nil
	}

	vals, err := r.client.Values(ctx, r.spreadsheetID, sheets.Rect(r.tab, 0, 1, headerSpan-1, 1))
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: read header")
	}
	if len(vals) == 0 || len(vals[0]) == 0 || vals[0][0] != "unique_key" {
		log.Info("snapshot: inserting header row")
		if err := r.client.InsertRows(ctx, r.spreadsheetID, r.tab, 0, 1); err != nil {
			return nil, eris.Wrap(err, "snapshot: insert header row")
		}
		if err := r.client.BatchUpdate(ctx, r.spreadsheetID, []sheets.RangeUpdate{{Range: headerRange, Values: headerRow}}, sheets.Raw); err != nil {
			return nil, eris.Wrap(err, "snapshot: write header")
		}
		r.headers = model.SnapshotHeaders
		return r.headers, nil
	}

	r.headers = vals[0]
	return r.headers, nil
}

// keyRows reads the unique_key column once and maps key to 1-based row.
func (r *SheetRepository) keyRows(ctx context.Context, headers []string) (map[string]int, error) {
	keyIdx := slices.Index(headers, "unique_key")
	if keyIdx < 0 {
		keyIdx = 0
	}
	vals, err := r.client.Values(ctx, r.spreadsheetID, sheets.Column(r.tab, keyIdx))
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: read key column")
	}
	rows := make(map[string]int, len(vals))
	for i, v := range vals {
		if i == 0 || len(v) == 0 || v[0] == "" {
			continue
		}
		rows[v[0]] = i + 1
	}
	return rows, nil
}

// UpsertBulk partitions records into in-place updates and appends and
// issues one BatchUpdate per chunk plus a single Append.
func (r *SheetRepository) UpsertBulk(ctx context.Context, records []model.RankSnapshot) (UpsertResult, error) {
	var res UpsertResult
	if len(records) == 0 {
		return res, nil
	}

	p := prepare(records, r.opts)
	res.Failed = p.failed
	if len(p.records) == 0 {
		return res, nil
	}

	headers, err := r.ensure(ctx)
	if err != nil {
		return res, err
	}
	existing, err := r.keyRows(ctx, headers)
	if err != nil {
		return res, err
	}

	lastCol := len(headers) - 1
	var updates []sheets.RangeUpdate
	var appends [][]any
	for _, rec := range p.records {
		row := rec.ToRow(headers)
		if n, ok := existing[rec.UniqueKey]; ok {
			updates = append(updates, sheets.RangeUpdate{
				Range:  sheets.Rect(r.tab, 0, n, lastCol, n),
				Values: [][]any{row},
			})
			res.Updated++
		} else {
			appends = append(appends, row)
			res.Added++
		}
	}
	res.Updated += p.dups

	for start := 0; start < len(updates); start += r.opts.BatchSize {
		end := min(start+r.opts.BatchSize, len(updates))
		if err := r.client.BatchUpdate(ctx, r.spreadsheetID, updates[start:end], sheets.Raw); err != nil {
			return res, eris.Wrapf(err, "snapshot: batch update rows %d-%d", start, end)
		}
	}
	if len(appends) > 0 {
		if err := r.client.Append(ctx, r.spreadsheetID, sheets.Cell(r.tab, 0, 1), appends, sheets.Raw); err != nil {
			return res, eris.Wrap(err, "snapshot: append rows")
		}
	}

	res.Success = len(p.records) + p.dups
	zap.L().Info("snapshot: upsert complete",
		zap.String("backend", "sheets"),
		zap.Int("updated", res.Updated),
		zap.Int("added", res.Added),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (r *SheetRepository) scan(ctx context.Context) ([]model.RankSnapshot, error) {
	vals, err := r.client.Values(ctx, r.spreadsheetID, sheets.QuoteTab(r.tab))
	if err != nil {
		if eris.Is(err, sheets.ErrTabNotFound) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "snapshot: read tab")
	}
	if len(vals) <= 1 {
		return nil, nil
	}
	headers := vals[0]
	out := make([]model.RankSnapshot, 0, len(vals)-1)
	for _, row := range vals[1:] {
		out = append(out, model.SnapshotFromRow(headers, row))
	}
	return out, nil
}

// History scans the whole tab and filters in memory.
func (r *SheetRepository) History(ctx context.Context, q HistoryQuery) ([]model.RankSnapshot, error) {
	all, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}
	f := newFilter(q, r.opts.now())
	var out []model.RankSnapshot
	for _, s := range all {
		if f.match(s) {
			out = append(out, s)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *SheetRepository) DatesWithData(ctx context.Context, from, to string) (map[string]int, error) {
	all, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}
	f := filter{from: from, to: to}
	counts := make(map[string]int)
	for _, s := range all {
		if f.match(s) {
			counts[s.Date]++
		}
	}
	return counts, nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
