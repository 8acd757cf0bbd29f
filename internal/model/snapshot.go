package model

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used in every sheet and table.
const DateLayout = "2006-01-02"

// DefaultSource tags snapshots produced by the browser crawler.
const DefaultSource = "adlog_crawl"

// Time slots distinguish the morning and afternoon crawl runs.
const (
	SlotMorning   = "09:00"
	SlotAfternoon = "15:00"
)

// SnapshotHeaders is the fixed column contract of the rank_snapshots tab.
var SnapshotHeaders = []string{
	"unique_key", "date", "time_slot", "agency", "client_name", "group",
	"keyword", "place_url", "place_id", "rank", "saves", "blog_reviews",
	"visitor_reviews", "n2_score", "collected_at", "source",
}

// RankSnapshot is one observed rank measurement for a (business, keyword)
// pair. Date is the date shown on the rank site, CollectedAt the wall clock
// at capture.
type RankSnapshot struct {
	UniqueKey       string   `json:"unique_key"`
	Date            string   `json:"date"`
	TimeSlot        string   `json:"time_slot"`
	Agency          string   `json:"agency,omitempty"`
	ClientName      string   `json:"client_name"`
	Group           string   `json:"group,omitempty"`
	Keyword         string   `json:"keyword"`
	PlaceURL        string   `json:"place_url"`
	PlaceID         string   `json:"place_id,omitempty"`
	Rank            *int     `json:"rank"`
	Saves           *int     `json:"saves"`
	BlogReviews     *int     `json:"blog_reviews"`
	VisitorReviews  *int     `json:"visitor_reviews"`
	PopularityScore *float64 `json:"n2_score"`
	CollectedAt     string   `json:"collected_at"`
	Source          string   `json:"source"`
}

// MissingRequired reports whether any identity field is empty.
func (s RankSnapshot) MissingRequired() bool {
	return s.Date == "" || s.TimeSlot == "" || s.Keyword == "" || s.PlaceURL == ""
}

// Key returns the content hash identifying this snapshot.
func (s RankSnapshot) Key() string {
	return UniqueKey(s.Date, s.TimeSlot, s.Keyword, s.PlaceURL)
}

// UniqueKey hashes (date, time_slot, keyword, place_url) into the upsert key.
func UniqueKey(date, timeSlot, keyword, placeURL string) string {
	sum := sha1.Sum([]byte(date + "|" + timeSlot + "|" + keyword + "|" + placeURL))
	return hex.EncodeToString(sum[:])
}

var placeIDRe = regexp.MustCompile(`/(\d{5,})`)

// ExtractPlaceID returns the first run of five or more digits that follows a
// slash in url, or "" when there is none.
func ExtractPlaceID(url string) string {
	m := placeIDRe.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

// TimeSlotFor buckets t into the morning or afternoon slot.
func TimeSlotFor(t time.Time) string {
	if t.Hour() < 12 {
		return SlotMorning
	}
	return SlotAfternoon
}

// ToRow renders the snapshot in header order. Nil metrics become empty cells.
func (s RankSnapshot) ToRow(headers []string) []any {
	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = s.field(h)
	}
	return row
}

func (s RankSnapshot) field(name string) string {
	switch name {
	case "unique_key":
		return s.UniqueKey
	case "date":
		return s.Date
	case "time_slot":
		return s.TimeSlot
	case "agency":
		return s.Agency
	case "client_name":
		return s.ClientName
	case "group":
		return s.Group
	case "keyword":
		return s.Keyword
	case "place_url":
		return s.PlaceURL
	case "place_id":
		return s.PlaceID
	case "rank":
		return formatInt(s.Rank)
	case "saves":
		return formatInt(s.Saves)
	case "blog_reviews":
		return formatInt(s.BlogReviews)
	case "visitor_reviews":
		return formatInt(s.VisitorReviews)
	case "n2_score":
		if s.PopularityScore == nil {
			return ""
		}
		return strconv.FormatFloat(*s.PopularityScore, 'f', -1, 64)
	case "collected_at":
		return s.CollectedAt
	case "source":
		return s.Source
	}
	return ""
}

// SnapshotFromRow maps a sheet row back onto a snapshot using headers.
// Cells that fail to parse as numbers leave the metric nil.
func SnapshotFromRow(headers, row []string) RankSnapshot {
	get := func(name string) string {
		for i, h := range headers {
			if h == name && i < len(row) {
				return strings.TrimSpace(row[i])
			}
		}
		return ""
	}
	return RankSnapshot{
		UniqueKey:       get("unique_key"),
		Date:            get("date"),
		TimeSlot:        get("time_slot"),
		Agency:          get("agency"),
		ClientName:      get("client_name"),
		Group:           get("group"),
		Keyword:         get("keyword"),
		PlaceURL:        get("place_url"),
		PlaceID:         get("place_id"),
		Rank:            ParseInt(get("rank")),
		Saves:           ParseInt(get("saves")),
		BlogReviews:     ParseInt(get("blog_reviews")),
		VisitorReviews:  ParseInt(get("visitor_reviews")),
		PopularityScore: ParseFloat(get("n2_score")),
		CollectedAt:     get("collected_at"),
		Source:          get("source"),
	}
}

// ParseInt reads an integer cell such as "2,419" or "3위". Empty or malformed
// input yields nil.
func ParseInt(s string) *int {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "위"))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

// ParseFloat reads a float cell; empty or malformed input yields nil.
func ParseFloat(s string) *float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }

// FloatPtr returns a pointer to f.
func FloatPtr(f float64) *float64 { return &f }

func formatInt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}
