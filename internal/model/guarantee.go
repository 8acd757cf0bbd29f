package model

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// GuaranteeStatus is the 작업 여부 column of a guarantee roster row.
type GuaranteeStatus string

const (
	StatusActive        GuaranteeStatus = "진행중"
	StatusPostpaid      GuaranteeStatus = "후불"
	StatusPending       GuaranteeStatus = "세팅대기"
	StatusDone          GuaranteeStatus = "완료"
	StatusRefundPending GuaranteeStatus = "반불"
	StatusUnknown       GuaranteeStatus = ""
)

// ParseGuaranteeStatus maps a cell onto the controlled vocabulary.
func ParseGuaranteeStatus(s string) GuaranteeStatus {
	switch st := GuaranteeStatus(strings.TrimSpace(s)); st {
	case StatusActive, StatusPostpaid, StatusPending, StatusDone, StatusRefundPending:
		return st
	}
	return StatusUnknown
}

// Eligible reports whether rank write-back applies to rows in this status.
func (s GuaranteeStatus) Eligible() bool {
	return s == StatusActive || s == StatusPostpaid || s == StatusRefundPending
}

// Label returns an English name for logs and JSON consumers.
func (s GuaranteeStatus) Label() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPostpaid:
		return "postpaid"
	case StatusPending:
		return "pending"
	case StatusDone:
		return "done"
	case StatusRefundPending:
		return "refund_pending"
	}
	return "unknown"
}

// LedgerEntry is one filled per-day cell of a guarantee row.
type LedgerEntry struct {
	Day  int    `json:"day"`
	Raw  string `json:"raw"`
	Date string `json:"date,omitempty"`
	Rank *int   `json:"rank,omitempty"`
}

// GuaranteeItem is a contracted ranking guarantee read from a roster row.
type GuaranteeItem struct {
	Sheet          string          `json:"sheet"`
	Row            int             `json:"row"`
	Company        string          `json:"company"`
	Type           string          `json:"type,omitempty"`
	Agency         string          `json:"agency,omitempty"`
	BusinessName   string          `json:"business_name"`
	MainKeyword    string          `json:"main_keyword"`
	Product        string          `json:"product,omitempty"`
	URL            string          `json:"url,omitempty"`
	Manager        string          `json:"manager,omitempty"`
	Memo           string          `json:"memo,omitempty"`
	ContractDate   string          `json:"contract_date,omitempty"`
	WorkStartDate  string          `json:"work_start_date,omitempty"`
	GuaranteedRank int             `json:"guaranteed_rank"`
	Status         GuaranteeStatus `json:"status"`
	Ledger         []LedgerEntry   `json:"ledger,omitempty"`
}

// PlaceID is the numeric id embedded in the item URL, if any.
func (g GuaranteeItem) PlaceID() string {
	return ExtractPlaceID(g.URL)
}

// IsTarget reports whether the item carries enough identity to crawl for.
func (g GuaranteeItem) IsTarget() bool {
	return g.BusinessName != "" && g.MainKeyword != ""
}

// LedgerDateLayout renders dates inside ledger cells, e.g. "25. 12. 28".
const LedgerDateLayout = "06. 01. 02"

// LedgerDate formats t the way ledger cells record it.
func LedgerDate(t time.Time) string {
	return t.Format(LedgerDateLayout)
}

// LedgerCell is the value written into a ledger cell.
func LedgerCell(t time.Time, rank int) string {
	return LedgerDate(t) + "\n" + strconv.Itoa(rank) + "등"
}

var (
	nonDigitRe   = regexp.MustCompile(`[^\d]`)
	ledgerDateRe = regexp.MustCompile(`(\d{2})\.\s*(\d{1,2})\.\s*(\d{1,2})`)
	ledgerRankRe = regexp.MustCompile(`(\d+)\s*(?:등|위)`)
)

// ParseGuaranteedRank strips everything but digits ("5위 보장" -> 5).
// Returns 0 when nothing usable remains.
func ParseGuaranteedRank(s string) int {
	digits := nonDigitRe.ReplaceAllString(s, "")
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

// ParseLedgerCell reads a filled ledger cell. Manual entries that are a bare
// number are taken as the rank with no date.
func ParseLedgerCell(day int, raw string) LedgerEntry {
	e := LedgerEntry{Day: day, Raw: raw}
	if m := ledgerDateRe.FindStringSubmatch(raw); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		t := time.Date(2000+y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
		if int(t.Month()) == mo && t.Day() == d {
			e.Date = t.Format(DateLayout)
		}
	}
	if m := ledgerRankRe.FindStringSubmatch(raw); m != nil {
		e.Rank = ParseInt(m[1])
	} else if n := ParseInt(raw); n != nil {
		e.Rank = n
	}
	return e
}

// NormalizeSheetDate converts the date spellings seen in roster sheets to
// YYYY-MM-DD. Unrecognised input is returned unchanged.
func NormalizeSheetDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if _, err := time.Parse(DateLayout, s); err == nil {
		return s
	}
	for _, layout := range []string{"2006. 1. 2", "2006.1.2", "2006/1/2", "1/2/2006", "1-2-2006", "06. 1. 2"} {
		if t, err := time.Parse(layout, strings.TrimSuffix(s, ".")); err == nil {
			return t.Format(DateLayout)
		}
	}
	return s
}
