// Package datephrase turns Korean natural-language date expressions into
// filing-API date windows (YYYYMMDD pairs). Parsing is deterministic; the
// LLM never sees raw date arithmetic.
package datephrase

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const layout = "20060102"

// Range is an inclusive date window in API format.
type Range struct {
	BgnDe string `json:"bgn_de"`
	EndDe string `json:"end_de"`
}

// Days reports the inclusive span length, 0 when malformed.
func (r Range) Days() int {
	from, err1 := time.Parse(layout, r.BgnDe)
	to, err2 := time.Parse(layout, r.EndDe)
	if err1 != nil || err2 != nil || to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Hours()/24) + 1
}

// Contains reports whether the YYYYMMDD date falls inside the window.
func (r Range) Contains(yyyymmdd string) bool {
	return yyyymmdd >= r.BgnDe && yyyymmdd <= r.EndDe
}

var (
	absRangeRe  = regexp.MustCompile(`(\d{4})[.\-/](\d{1,2})[.\-/](\d{1,2})\s*[~\-]\s*(\d{4})[.\-/](\d{1,2})[.\-/](\d{1,2})`)
	absDateRe   = regexp.MustCompile(`(\d{4})[.\-/](\d{1,2})[.\-/](\d{1,2})`)
	recentRe    = regexp.MustCompile(`(?:최근|지난)\s*(\d+)\s*(년|개월|주|일)`)
	yearQtrRe   = regexp.MustCompile(`(\d{4})\s*년\s*([1-4])\s*분기`)
	bareQtrRe   = regexp.MustCompile(`([1-4])\s*분기`)
	yearMonthRe = regexp.MustCompile(`(\d{4})\s*년\s*(\d{1,2})\s*월`)
	bareYearRe  = regexp.MustCompile(`(\d{4})\s*년`)
)

// DefaultWindowDays is the window used when no expression is recognized.
const DefaultWindowDays = 90

// Parse extracts a date window from expr relative to now. matched reports
// whether any expression was recognized; on false the default window of
// the last DefaultWindowDays is returned. Most specific patterns win: an
// explicit range beats a quarter beats a year-month beats a bare year.
func Parse(expr string, now time.Time) (Range, bool) {
	today := now

	if m := absRangeRe.FindStringSubmatch(expr); m != nil {
		from, ok1 := makeDate(m[1], m[2], m[3])
		to, ok2 := makeDate(m[4], m[5], m[6])
		if ok1 && ok2 && !to.Before(from) {
			return span(from, to), true
		}
	}

	if m := recentRe.FindStringSubmatch(expr); m != nil {
		n, _ := strconv.Atoi(m[1])
		var from time.Time
		switch m[2] {
		case "년":
			from = today.AddDate(0, 0, -365*n)
		case "개월":
			from = today.AddDate(0, 0, -30*n)
		case "주":
			from = today.AddDate(0, 0, -7*n)
		case "일":
			from = today.AddDate(0, 0, -n)
		}
		return span(from, today), true
	}

	if m := yearQtrRe.FindStringSubmatch(expr); m != nil {
		year, _ := strconv.Atoi(m[1])
		q, _ := strconv.Atoi(m[2])
		return quarterRange(year, q), true
	}

	if m := yearMonthRe.FindStringSubmatch(expr); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month >= 1 && month <= 12 {
			from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, today.Location())
			return span(from, from.AddDate(0, 1, -1)), true
		}
	}

	switch {
	case strings.Contains(expr, "올해"):
		return span(time.Date(today.Year(), 1, 1, 0, 0, 0, 0, today.Location()), today), true
	case strings.Contains(expr, "작년"):
		y := today.Year() - 1
		return span(time.Date(y, 1, 1, 0, 0, 0, 0, today.Location()),
			time.Date(y, 12, 31, 0, 0, 0, 0, today.Location())), true
	case strings.Contains(expr, "지난달") || strings.Contains(expr, "전월"):
		firstOfMonth := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
		end := firstOfMonth.AddDate(0, 0, -1)
		return span(time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, today.Location()), end), true
	case strings.Contains(expr, "이번달") || strings.Contains(expr, "당월"):
		return span(time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location()), today), true
	case strings.Contains(expr, "어제"):
		y := today.AddDate(0, 0, -1)
		return span(y, y), true
	case strings.Contains(expr, "오늘"):
		return span(today, today), true
	}

	if m := bareQtrRe.FindStringSubmatch(expr); m != nil {
		q, _ := strconv.Atoi(m[1])
		return quarterRange(today.Year(), q), true
	}

	if m := bareYearRe.FindStringSubmatch(expr); m != nil {
		year, _ := strconv.Atoi(m[1])
		return span(time.Date(year, 1, 1, 0, 0, 0, 0, today.Location()),
			time.Date(year, 12, 31, 0, 0, 0, 0, today.Location())), true
	}

	if m := absDateRe.FindStringSubmatch(expr); m != nil {
		if d, ok := makeDate(m[1], m[2], m[3]); ok {
			return span(d, d), true
		}
	}

	return span(today.AddDate(0, 0, -DefaultWindowDays), today), false
}

// Split cuts a window into sub-windows of at most maxDays, newest first.
// Windows already inside the bound are returned as-is.
func Split(r Range, maxDays int) []Range {
	if maxDays <= 0 || r.Days() <= maxDays {
		return []Range{r}
	}
	from, _ := time.Parse(layout, r.BgnDe)
	to, _ := time.Parse(layout, r.EndDe)

	var out []Range
	for end := to; !end.Before(from); {
		start := end.AddDate(0, 0, -(maxDays - 1))
		if start.Before(from) {
			start = from
		}
		out = append(out, span(start, end))
		end = start.AddDate(0, 0, -1)
	}
	return out
}

func quarterRange(year, q int) Range {
	startMonth := time.Month((q-1)*3 + 1)
	from := time.Date(year, startMonth, 1, 0, 0, 0, 0, time.UTC)
	return span(from, from.AddDate(0, 3, -1))
}

func makeDate(ys, ms, ds string) (time.Time, bool) {
	y, _ := strconv.Atoi(ys)
	m, _ := strconv.Atoi(ms)
	d, _ := strconv.Atoi(ds)
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// reject rollovers like Feb 30
	if int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func span(from, to time.Time) Range {
	return Range{BgnDe: from.Format(layout), EndDe: to.Format(layout)}
}
