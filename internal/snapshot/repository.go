// Package snapshot persists rank snapshots as an upsert log keyed by
// unique_key. Three backends share the Repository contract: a spreadsheet
// tab, Postgres and an embedded SQLite file.
package snapshot

import (
	"context"
	"sort"
	"time"

	"github.com/jtwolab/rankops/internal/model"
)

// DefaultHistoryDays is the relative window History uses when neither an
// explicit range nor Days is given.
const DefaultHistoryDays = 7

// Repository stores and scans rank snapshots.
type Repository interface {
	// UpsertBulk writes records keyed by unique_key. Invalid records are
	// counted as failed and skipped; they never abort the batch.
	UpsertBulk(ctx context.Context, records []model.RankSnapshot) (UpsertResult, error)
	// History returns snapshots matching q, newest first.
	History(ctx context.Context, q HistoryQuery) ([]model.RankSnapshot, error)
	// DatesWithData counts stored snapshots per date in [from, to].
	DatesWithData(ctx context.Context, from, to string) (map[string]int, error)
}

// UpsertResult counts the outcome of one UpsertBulk call.
type UpsertResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Updated int `json:"updated"`
	Added   int `json:"added"`
}

// HistoryQuery filters History. DateFrom/DateTo are inclusive YYYY-MM-DD
// bounds. When DateFrom is empty a relative window of Days applies: zero
// means DefaultHistoryDays and a negative value disables it.
type HistoryQuery struct {
	DateFrom string
	DateTo   string
	Keyword  string
	PlaceID  string
	Days     int
}

// Options shared by every backend.
type Options struct {
	Source    string
	BatchSize int
	Location  *time.Location
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Source == "" {
		o.Source = model.DefaultSource
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) now() time.Time { return o.Now().In(o.Location) }

// prepared is a validated, de-duplicated batch.
type prepared struct {
	records []model.RankSnapshot
	failed  int
	// dups counts records that collapsed onto an earlier record with the
	// same key; the later one wins.
	dups int
}

func prepare(records []model.RankSnapshot, o Options) prepared {
	collectedAt := o.now().Format(time.RFC3339)
	var p prepared
	pos := make(map[string]int, len(records))
	for _, r := range records {
		if r.MissingRequired() {
			p.failed++
			continue
		}
		r.UniqueKey = r.Key()
		if r.PlaceID == "" {
			r.PlaceID = model.ExtractPlaceID(r.PlaceURL)
		}
		if r.CollectedAt == "" {
			r.CollectedAt = collectedAt
		}
		if r.Source == "" {
			r.Source = o.Source
		}
		if i, ok := pos[r.UniqueKey]; ok {
			p.records[i] = r
			p.dups++
			continue
		}
		pos[r.UniqueKey] = len(p.records)
		p.records = append(p.records, r)
	}
	return p
}

// filter applies q relative to now.
type filter struct {
	from, to string
	keyword  string
	placeID  string
}

func newFilter(q HistoryQuery, now time.Time) filter {
	f := filter{from: q.DateFrom, to: q.DateTo, keyword: q.Keyword, placeID: q.PlaceID}
	if f.from == "" {
		days := q.Days
		if days == 0 {
			days = DefaultHistoryDays
		}
		if days > 0 {
			f.from = now.AddDate(0, 0, -days).Format(model.DateLayout)
		}
	}
	return f
}

func (f filter) match(s model.RankSnapshot) bool {
	if s.Date == "" {
		return false
	}
	if f.from != "" && s.Date < f.from {
		return false
	}
	if f.to != "" && s.Date > f.to {
		return false
	}
	if f.keyword != "" && s.Keyword != f.keyword {
		return false
	}
	if f.placeID != "" && s.PlaceID != f.placeID {
		return false
	}
	return true
}

// dateBounds replaces empty range ends with open sentinels.
func dateBounds(from, to string) (string, string) {
	if from == "" {
		from = "0000-01-01"
	}
	if to == "" {
		to = "9999-12-31"
	}
	return from, to
}

func sortNewestFirst(out []model.RankSnapshot) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].TimeSlot > out[j].TimeSlot
	})
}
