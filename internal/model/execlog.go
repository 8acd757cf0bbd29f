package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// LogHeaders is the fixed column contract of the rank_update_logs tab.
var LogHeaders = []string{
	"executed_at", "time_slot", "success_count", "failed_count",
	"elapsed_seconds", "message", "failed_details",
}

// MaxFailedDetails caps how many failure details are persisted per entry.
const MaxFailedDetails = 10

// FailedDetail describes one target that could not be collected.
type FailedDetail struct {
	ClientName string `json:"client_name,omitempty"`
	Keyword    string `json:"keyword,omitempty"`
	Reason     string `json:"reason"`
}

// ExecutionLogEntry records one crawl run.
type ExecutionLogEntry struct {
	ExecutedAt     time.Time      `json:"executed_at"`
	TimeSlot       string         `json:"time_slot"`
	SuccessCount   int            `json:"success_count"`
	FailedCount    int            `json:"failed_count"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	Message        string         `json:"message"`
	FailedDetails  []FailedDetail `json:"failed_details,omitempty"`
}

// Date is the calendar day the run executed on, in the entry's own zone.
func (e ExecutionLogEntry) Date() string {
	return e.ExecutedAt.Format(DateLayout)
}

// IsFailure reports whether the run should be considered for recovery.
func (e ExecutionLogEntry) IsFailure() bool {
	if e.FailedCount > 0 {
		return true
	}
	return strings.Contains(e.Message, "실패") ||
		strings.Contains(strings.ToLower(e.Message), "failed")
}

// ToRow renders the entry in LogHeaders order.
func (e ExecutionLogEntry) ToRow() []any {
	details := e.FailedDetails
	if len(details) > MaxFailedDetails {
		details = details[:MaxFailedDetails]
	}
	if details == nil {
		details = []FailedDetail{}
	}
	raw, _ := json.Marshal(details)
	return []any{
		e.ExecutedAt.Format(time.RFC3339),
		e.TimeSlot,
		strconv.Itoa(e.SuccessCount),
		strconv.Itoa(e.FailedCount),
		strconv.FormatFloat(e.ElapsedSeconds, 'f', 1, 64),
		e.Message,
		string(raw),
	}
}

// EntryFromRow parses a log row. executed_at accepts RFC 3339 or a bare
// "YYYY-MM-DD[ HH:MM:SS]" prefix interpreted in loc.
func EntryFromRow(headers, row []string, loc *time.Location) ExecutionLogEntry {
	get := func(name string) string {
		for i, h := range headers {
			if h == name && i < len(row) {
				return strings.TrimSpace(row[i])
			}
		}
		return ""
	}

	e := ExecutionLogEntry{
		ExecutedAt: parseExecutedAt(get("executed_at"), loc),
		TimeSlot:   get("time_slot"),
		Message:    get("message"),
	}
	if n := ParseInt(get("success_count")); n != nil {
		e.SuccessCount = *n
	}
	if n := ParseInt(get("failed_count")); n != nil {
		e.FailedCount = *n
	}
	if f := ParseFloat(get("elapsed_seconds")); f != nil {
		e.ElapsedSeconds = *f
	}
	if raw := get("failed_details"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &e.FailedDetails)
	}
	return e
}

func parseExecutedAt(s string, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc)
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999", "2006-01-02 15:04:05", DateLayout} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t
		}
	}
	if len(s) >= 10 {
		if t, err := time.ParseInLocation(DateLayout, s[:10], loc); err == nil {
			return t
		}
	}
	return time.Time{}
}
