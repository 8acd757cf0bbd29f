// Package reconcile writes observed ranks back into the per-day ledger of
// each guarantee roster tab.
package reconcile

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jtwolab/rankops/internal/config"
	"github.com/jtwolab/rankops/internal/guarantee"
	"github.com/jtwolab/rankops/internal/match"
	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/pkg/sheets"
)

// DefaultProductMarker selects rows whose product is a place-rank guarantee.
const DefaultProductMarker = "플레이스"

// Options scope one reconciliation. Date is the day being written; zero
// means today. Selective marks a recovery run for a past date.
type Options struct {
	Date      time.Time
	Selective bool
}

// SheetResult counts what happened on one roster tab.
type SheetResult struct {
	Sheet           string `json:"sheet"`
	Company         string `json:"company"`
	Success         bool   `json:"success"`
	Error           string `json:"error,omitempty"`
	Matched         int    `json:"matched"`
	Updated         int    `json:"updated"`
	Unmatched       int    `json:"unmatched"`
	SkippedRank     int    `json:"skipped_rank"`
	SkippedFilter   int    `json:"skipped_filter"`
	SkippedExisting int    `json:"skipped_existing"`
	SkippedFull     int    `json:"skipped_full"`
}

func (r *SheetResult) add(o SheetResult) {
	r.Matched += o.Matched
	r.Updated += o.Updated
	r.Unmatched += o.Unmatched
	r.SkippedRank += o.SkippedRank
	r.SkippedFilter += o.SkippedFilter
	r.SkippedExisting += o.SkippedExisting
	r.SkippedFull += o.SkippedFull
}

// Result aggregates every sheet.
type Result struct {
	Success   bool          `json:"success"`
	Date      string        `json:"date"`
	Selective bool          `json:"selective"`
	Sheets    []SheetResult `json:"sheets"`
	Totals    SheetResult   `json:"totals"`
}

// TabReader reads one parsed roster tab. *guarantee.Source satisfies it.
type TabReader interface {
	Sheets() []config.GuaranteeSheet
	ReadTab(ctx context.Context, ref config.GuaranteeSheet) (guarantee.Tab, error)
}

// Reconciler writes ledger cells for matched snapshots.
type Reconciler struct {
	tabs        TabReader
	client      sheets.Client
	marker      string
	concurrency int
	loc         *time.Location
	now         func() time.Time
}

// New returns a Reconciler. Tabs are always read live so the ledger check
// sees the latest cells.
func New(tabs TabReader, client sheets.Client, cfg config.GuaranteeConfig, loc *time.Location) *Reconciler {
	marker := cfg.ProductMarker
	if marker == "" {
		marker = DefaultProductMarker
	}
	n := cfg.Concurrency
	if n <= 0 {
		n = 2
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Reconciler{tabs: tabs, client: client, marker: marker, concurrency: n, loc: loc, now: time.Now}
}

// Reconcile processes every configured sheet concurrently. A failing sheet
// is reported in its SheetResult and does not stop the others.
func (r *Reconciler) Reconcile(ctx context.Context, snapshots []model.RankSnapshot, opts Options) Result {
	date := opts.Date
	if date.IsZero() {
		date = r.now()
	}
	date = date.In(r.loc)

	idx := indexSnapshots(snapshots)
	refs := r.tabs.Sheets()
	results := make([]SheetResult, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			results[i] = r.reconcileSheet(gctx, ref, idx, date)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Success: true, Date: date.Format(model.DateLayout), Selective: opts.Selective, Sheets: results}
	for _, sr := range results {
		res.Totals.add(sr)
		if !sr.Success {
			res.Success = false
		}
	}
	zap.L().Info("reconcile: complete",
		zap.String("date", res.Date),
		zap.Bool("selective", opts.Selective),
		zap.Int("snapshots", len(snapshots)),
		zap.Int("updated", res.Totals.Updated),
		zap.Int("skipped_existing", res.Totals.SkippedExisting),
		zap.Bool("success", res.Success),
	)
	return res
}

// indexSnapshots keys snapshots for strict lookup. Later time slots are
// added first so they win ties.
func indexSnapshots(snapshots []model.RankSnapshot) *match.Index[model.RankSnapshot] {
	sorted := append([]model.RankSnapshot(nil), snapshots...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Date != sorted[j].Date {
			return sorted[i].Date > sorted[j].Date
		}
		return sorted[i].TimeSlot > sorted[j].TimeSlot
	})
	return match.NewIndex(sorted, func(s model.RankSnapshot) match.Keys {
		id := s.PlaceID
		if id == "" {
			id = model.ExtractPlaceID(s.PlaceURL)
		}
		return match.Keys{PlaceID: id, Name: s.ClientName, Keyword: s.Keyword}
	})
}

func (r *Reconciler) reconcileSheet(ctx context.Context, ref config.GuaranteeSheet, idx *match.Index[model.RankSnapshot], date time.Time) SheetResult {
	res := SheetResult{Sheet: ref.Name, Company: ref.Company}
	log := zap.L().With(zap.String("sheet", ref.Name))

	tab, err := r.tabs.ReadTab(ctx, ref)
	if err != nil {
		res.Error = err.Error()
		log.Error("reconcile: read tab failed", zap.Error(err))
		return res
	}

	ledgerDate := model.LedgerDate(date)
	isoDate := date.Format(model.DateLayout)

	var updates []sheets.RangeUpdate
	for _, it := range tab.Items {
		if !r.eligible(it) {
			res.SkippedFilter++
			continue
		}
		out := idx.ResolveStrict(match.Query{PlaceID: it.PlaceID(), Name: it.BusinessName, Keyword: it.MainKeyword})
		if !out.Matched() {
			res.Unmatched++
			continue
		}
		res.Matched++

		rank := out.Value.Rank
		if rank == nil || *rank > it.GuaranteedRank {
			res.SkippedRank++
			continue
		}
		if hasDate(it.Ledger, ledgerDate, isoDate) {
			res.SkippedExisting++
			continue
		}
		col, ok := freeColumn(it.Ledger, tab.Layout)
		if !ok {
			res.SkippedFull++
			log.Warn("reconcile: ledger and overflow full", zap.Int("row", it.Row), zap.String("business", it.BusinessName))
			continue
		}
		updates = append(updates, sheets.RangeUpdate{
			Range:  sheets.Cell(ref.Tab, col, it.Row),
			Values: [][]any{{model.LedgerCell(date, *rank)}},
		})
	}

	if len(updates) > 0 {
		if err := r.client.BatchUpdate(ctx, ref.SpreadsheetID, updates, sheets.UserEntered); err != nil {
			res.Error = err.Error()
			log.Error("reconcile: write failed", zap.Error(err), zap.Int("cells", len(updates)))
			return res
		}
	}
	res.Updated = len(updates)
	res.Success = true
	log.Info("reconcile: sheet done",
		zap.Int("matched", res.Matched),
		zap.Int("updated", res.Updated),
		zap.Int("skipped_rank", res.SkippedRank),
		zap.Int("skipped_existing", res.SkippedExisting),
	)
	return res
}

func (r *Reconciler) eligible(it model.GuaranteeItem) bool {
	return it.Status.Eligible() && strings.Contains(it.Product, r.marker) && it.GuaranteedRank > 0
}

func hasDate(ledger []model.LedgerEntry, ledgerDate, isoDate string) bool {
	for _, e := range ledger {
		if strings.Contains(e.Raw, ledgerDate) || e.Date == isoDate {
			return true
		}
	}
	return false
}

// freeColumn returns the first empty ledger column, else the overflow
// column when that is still empty.
func freeColumn(ledger []model.LedgerEntry, l guarantee.Layout) (int, bool) {
	used := make(map[int]bool, len(ledger))
	for _, e := range ledger {
		used[e.Day] = true
	}
	for day := 1; day <= l.Width+1; day++ {
		if !used[day] {
			return l.Start + day - 1, true
		}
	}
	return 0, false
}
