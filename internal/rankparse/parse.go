// Package rankparse extracts the newest dated metric block from the text of
// a rank-tracker table cell.
package rankparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jtwolab/rankops/internal/model"
)

// Fields are the metrics found in one block. Each is nil when its tag is
// absent or its number does not parse.
type Fields struct {
	Rank            *int     `json:"rank"`
	Saves           *int     `json:"saves"`
	BlogReviews     *int     `json:"blog_reviews"`
	VisitorReviews  *int     `json:"visitor_reviews"`
	PopularityScore *float64 `json:"n2_score"`
}

// Block is the parse result. Date is nil when the text carries no date
// marker or the marker is not a real calendar day.
type Block struct {
	Date   *time.Time
	Fields Fields
}

// DateString renders Date as YYYY-MM-DD, or "" when unknown.
func (b Block) DateString() string {
	if b.Date == nil {
		return ""
	}
	return b.Date.Format(model.DateLayout)
}

var (
	markerRe     = regexp.MustCompile(`(?:^|\D)(\d{1,2})-(\d{1,2})\b(?:\s*\([^)]*\))?`)
	rankRe       = regexp.MustCompile(`(\d[\d,]*)\s*위`)
	popularityRe = regexp.MustCompile(`N2\s*([\d.,]+)`)
	savesRe      = regexp.MustCompile(`저\s*([\d,]+)`)
	blogRe       = regexp.MustCompile(`블\s*([\d,]+)`)
	visitorRe    = regexp.MustCompile(`방\s*([\d,]+)`)
)

// Parse isolates the current block of text and extracts its metrics. The
// source renders newest-first, so the current block runs from the first date
// marker to the second (or to the end). today anchors year inference.
func Parse(text string, today time.Time) Block {
	var b Block

	block := text
	markers := markerRe.FindAllStringSubmatchIndex(text, 2)
	if len(markers) > 0 {
		first := markers[0]
		month, _ := strconv.Atoi(text[first[2]:first[3]])
		day, _ := strconv.Atoi(text[first[4]:first[5]])
		b.Date = InferDate(month, day, today)

		end := len(text)
		if len(markers) > 1 {
			end = markers[1][0]
		}
		block = text[first[1]:end]
	}

	b.Fields = ParseFields(block)
	return b
}

// ParseFields extracts every tagged metric from block. The first occurrence
// of each tag wins.
func ParseFields(block string) Fields {
	return Fields{
		Rank:            firstInt(rankRe, block),
		Saves:           firstInt(savesRe, block),
		BlogReviews:     firstInt(blogRe, block),
		VisitorReviews:  firstInt(visitorRe, block),
		PopularityScore: firstFloat(popularityRe, block),
	}
}

// InferYear picks the year for a month/day seen on today. Crawls that cross
// a year boundary roll backward (Nov/Dec seen in Jan/Feb) or forward
// (Jan/Feb seen in Nov/Dec).
func InferYear(month int, today time.Time) int {
	year := today.Year()
	switch tm := today.Month(); {
	case tm <= time.February && month >= 11:
		return year - 1
	case tm >= time.November && month <= 2:
		return year + 1
	}
	return year
}

// InferDate builds the calendar date for month/day in today's zone, or nil
// if the pair is not a valid date.
func InferDate(month, day int, today time.Time) *time.Time {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}
	year := InferYear(month, today)
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, today.Location())
	if t.Month() != time.Month(month) || t.Day() != day {
		return nil
	}
	return &t
}

func firstInt(re *regexp.Regexp, s string) *int {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	return model.ParseInt(m[1])
}

func firstFloat(re *regexp.Regexp, s string) *float64 {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	return model.ParseFloat(strings.TrimRight(m[1], "."))
}

// IsRankText reports whether text looks like a metrics cell: it carries a
// date marker or a rank tag.
func IsRankText(text string) bool {
	return markerRe.MatchString(text) || rankRe.MatchString(text)
}
