// Package guarantee reads the per-company guarantee roster tabs and keeps a
// cached, filterable copy of the contracted items.
package guarantee

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/jtwolab/rankops/internal/config"
	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/internal/sheet"
)

// Layout locates the per-day ledger block of a roster tab. Columns
// Start..Start+Width-1 hold days 1..Width; Start+Width is the overflow cell.
type Layout struct {
	Start int
	Width int
}

// Overflow is the column written once every ledger cell is filled.
func (l Layout) Overflow() int { return l.Start + l.Width }

// ParseOptions tune header detection and the ledger block.
type ParseOptions struct {
	ScanRows int
	Width    int
	DayStart int
}

// OptionsFrom maps config onto ParseOptions.
func OptionsFrom(cfg config.GuaranteeConfig) ParseOptions {
	return ParseOptions{ScanRows: cfg.HeaderScanRows, Width: cfg.LedgerWidth, DayStart: cfg.DayStartIndex}
}

func (o ParseOptions) withDefaults() ParseOptions {
	if o.ScanRows <= 0 {
		o.ScanRows = 5
	}
	if o.Width <= 0 {
		o.Width = 25
	}
	if o.DayStart <= 0 {
		o.DayStart = 17
	}
	return o
}

// Tab is one parsed roster tab.
type Tab struct {
	Ref    config.GuaranteeSheet
	Header sheet.Header
	Layout Layout
	Items  []model.GuaranteeItem
}

// ParseTab turns raw tab values (row 1 first) into guarantee items. Rows
// without a business name are skipped. Item.Row is the 1-based sheet row.
func ParseTab(rows [][]string, ref config.GuaranteeSheet, opts ParseOptions) (Tab, error) {
	opts = opts.withDefaults()
	h, err := sheet.Locate(rows, sheet.GuaranteeRules, opts.ScanRows)
	if err != nil {
		return Tab{}, eris.Wrapf(err, "guarantee: %s", ref.Name)
	}
	if err := h.Require("business_name"); err != nil {
		return Tab{}, eris.Wrapf(err, "guarantee: %s", ref.Name)
	}

	start, _ := h.DayStart(opts.DayStart)
	tab := Tab{Ref: ref, Header: h, Layout: Layout{Start: start, Width: opts.Width}}

	for i := h.Row + 1; i < len(rows); i++ {
		row := rows[i]
		name := h.Value(row, "business_name")
		if name == "" {
			continue
		}
		item := model.GuaranteeItem{
			Sheet:          ref.Name,
			Row:            i + 1,
			Company:        ref.Company,
			Type:           h.Value(row, "type"),
			Agency:         h.Value(row, "agency"),
			BusinessName:   name,
			MainKeyword:    h.Value(row, "keyword"),
			Product:        h.Value(row, "product"),
			URL:            h.Value(row, "url"),
			Manager:        h.Value(row, "manager"),
			Memo:           h.Value(row, "memo"),
			ContractDate:   model.NormalizeSheetDate(h.Value(row, "contract_date")),
			WorkStartDate:  model.NormalizeSheetDate(h.Value(row, "start_date")),
			GuaranteedRank: model.ParseGuaranteedRank(h.Value(row, "guarantee_rank")),
			Status:         model.ParseGuaranteeStatus(h.Value(row, "status")),
		}
		for c := tab.Layout.Start; c <= tab.Layout.Overflow() && c < len(row); c++ {
			raw := strings.TrimSpace(row[c])
			if raw == "" {
				continue
			}
			item.Ledger = append(item.Ledger, model.ParseLedgerCell(c-tab.Layout.Start+1, raw))
		}
		tab.Items = append(tab.Items, item)
	}
	return tab, nil
}
