package guarantee

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jtwolab/rankops/internal/cache"
	"github.com/jtwolab/rankops/internal/match"
	"github.com/jtwolab/rankops/internal/model"
)

// Roster serves guarantee items from a TTL file cache backed by Source.
type Roster struct {
	source *Source
	cache  *cache.File[[]model.GuaranteeItem]
	now    func() time.Time
}

// NewRoster wires a Source to its cache file.
func NewRoster(source *Source, c *cache.File[[]model.GuaranteeItem]) *Roster {
	return &Roster{source: source, cache: c, now: time.Now}
}

// SyncResult summarises a forced roster reload.
type SyncResult struct {
	Total     int            `json:"total"`
	ByCompany map[string]int `json:"by_company"`
	SyncedAt  time.Time      `json:"synced_at"`
}

// Sync re-reads every roster tab and replaces the cache.
func (r *Roster) Sync(ctx context.Context) (SyncResult, error) {
	items, err := r.cache.Refresh(ctx, r.source.Load)
	if err != nil {
		return SyncResult{}, err
	}
	res := SyncResult{Total: len(items), ByCompany: make(map[string]int), SyncedAt: r.now()}
	for _, it := range items {
		res.ByCompany[it.Company]++
	}
	return res, nil
}

// Status reports the cache file state.
func (r *Roster) Status() cache.Status { return r.cache.Status() }

// Filter narrows Items. Empty fields match everything.
type Filter struct {
	Company      string
	Status       model.GuaranteeStatus
	Product      string // substring
	EligibleOnly bool
	Query        string // substring of name, keyword, agency or memo
}

// Match reports whether it passes every set field of f.
func (f Filter) Match(it model.GuaranteeItem) bool {
	if f.Company != "" && it.Company != f.Company {
		return false
	}
	if f.Status != "" && it.Status != f.Status {
		return false
	}
	if f.Product != "" && !strings.Contains(it.Product, f.Product) {
		return false
	}
	if f.EligibleOnly && !it.Status.Eligible() {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(match.Normalize(f.Query))
		hit := false
		for _, field := range []string{it.BusinessName, it.MainKeyword, it.Agency, it.Memo} {
			if strings.Contains(strings.ToLower(match.Normalize(field)), q) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// Items returns cached items matching f, reloading when the cache expired.
func (r *Roster) Items(ctx context.Context, f Filter) ([]model.GuaranteeItem, error) {
	all, err := r.cache.Get(ctx, r.source.Load)
	if err != nil {
		return nil, err
	}
	var out []model.GuaranteeItem
	for _, it := range all {
		if f.Match(it) {
			out = append(out, it)
		}
	}
	return out, nil
}

// Targets keeps items that identify a crawl target.
func Targets(items []model.GuaranteeItem) []model.GuaranteeItem {
	var out []model.GuaranteeItem
	for _, it := range items {
		if it.IsTarget() {
			out = append(out, it)
		}
	}
	return out
}

// CompanyStats counts items for one company.
type CompanyStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
}

// Statistics aggregates a roster.
type Statistics struct {
	Total     int                     `json:"total"`
	ByCompany map[string]CompanyStats `json:"by_company"`
	ByProduct map[string]int          `json:"by_product"`
	ByMonth   map[string]int          `json:"by_month"`
}

// Stats aggregates items by company, product and contract month. Active
// counts in-progress and setup-pending items.
func Stats(items []model.GuaranteeItem) Statistics {
	st := Statistics{
		Total:     len(items),
		ByCompany: make(map[string]CompanyStats),
		ByProduct: make(map[string]int),
		ByMonth:   make(map[string]int),
	}
	for _, it := range items {
		cs := st.ByCompany[it.Company]
		cs.Total++
		switch it.Status {
		case model.StatusActive, model.StatusPending:
			cs.Active++
		case model.StatusDone:
			cs.Completed++
		}
		st.ByCompany[it.Company] = cs

		product := it.Product
		if product == "" {
			product = "기타"
		}
		st.ByProduct[product]++
		if len(it.ContractDate) >= 7 {
			st.ByMonth[it.ContractDate[:7]]++
		}
	}
	return st
}

// Companies lists the distinct companies in items, sorted.
func Companies(items []model.GuaranteeItem) []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range items {
		if !seen[it.Company] {
			seen[it.Company] = true
			out = append(out, it.Company)
		}
	}
	sort.Strings(out)
	return out
}
