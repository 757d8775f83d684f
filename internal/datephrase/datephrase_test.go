package datephrase

import (
	"testing"
	"time"
)

var testNow = time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)

func TestParseExpressions(t *testing.T) {
	cases := []struct {
		expr    string
		bgn     string
		end     string
		matched bool
	}{
		{"최근 1개월 상장회사의 인수 합병 공시", "20240915", "20241015", true},
		{"최근 3개월", "20240717", "20241015", true},
		{"최근 2년", "20221016", "20241015", true},
		{"지난 1년", "20231016", "20241015", true},
		{"최근 2주", "20241001", "20241015", true},
		{"최근 10일", "20241005", "20241015", true},
		{"올해 유상증자", "20240101", "20241015", true},
		{"작년 사업보고서", "20230101", "20231231", true},
		{"2023년 공시", "20230101", "20231231", true},
		{"2024년 3월", "20240301", "20240331", true},
		{"2023년 12월", "20231201", "20231231", true},
		{"2024년 2분기 실적", "20240401", "20240630", true},
		{"1분기", "20240101", "20240331", true},
		{"지난달", "20240901", "20240930", true},
		{"이번달", "20241001", "20241015", true},
		{"어제", "20241014", "20241014", true},
		{"오늘 공시", "20241015", "20241015", true},
		{"2024-01-01 ~ 2024-06-30", "20240101", "20240630", true},
		{"2024.05.02", "20240502", "20240502", true},
		{"합병 비율 알려줘", "20240717", "20241015", false},
	}
	for _, tc := range cases {
		got, matched := Parse(tc.expr, testNow)
		if matched != tc.matched {
			t.Fatalf("Parse(%q): matched=%v, want %v", tc.expr, matched, tc.matched)
		}
		if got.BgnDe != tc.bgn || got.EndDe != tc.end {
			t.Fatalf("Parse(%q) = %s..%s, want %s..%s", tc.expr, got.BgnDe, got.EndDe, tc.bgn, tc.end)
		}
	}
}

func TestParseRejectsInvertedAbsoluteRange(t *testing.T) {
	r, matched := Parse("2024-06-30 ~ 2024-01-01 어제", testNow)
	// the inverted range is skipped; the next recognizable token wins
	if !matched {
		t.Fatalf("expected a fallback match, got none (%v)", r)
	}
	if r.BgnDe != "20241014" || r.EndDe != "20241014" {
		t.Fatalf("unexpected range %s..%s", r.BgnDe, r.EndDe)
	}
}

func TestRangeDaysAndContains(t *testing.T) {
	r := Range{BgnDe: "20240101", EndDe: "20240110"}
	if got := r.Days(); got != 10 {
		t.Fatalf("Days() = %d, want 10", got)
	}
	if !r.Contains("20240105") || r.Contains("20240111") || r.Contains("20231231") {
		t.Fatalf("Contains misbehaved for %v", r)
	}
	if (Range{BgnDe: "bad", EndDe: "20240110"}).Days() != 0 {
		t.Fatal("malformed range should report 0 days")
	}
}

func TestSplitRollingWindows(t *testing.T) {
	r := Range{BgnDe: "20240101", EndDe: "20240710"} // 192 days
	parts := Split(r, 90)
	if len(parts) != 3 {
		t.Fatalf("expected 3 windows, got %d: %v", len(parts), parts)
	}
	// newest first, contiguous, covering the original span
	if parts[0].EndDe != "20240710" {
		t.Fatalf("first window should end at the range end, got %s", parts[0].EndDe)
	}
	if parts[len(parts)-1].BgnDe != "20240101" {
		t.Fatalf("last window should start at the range begin, got %s", parts[len(parts)-1].BgnDe)
	}
	for i := range parts {
		if parts[i].Days() > 90 {
			t.Fatalf("window %d spans %d days", i, parts[i].Days())
		}
		if i > 0 {
			prevStart, _ := time.Parse("20060102", parts[i-1].BgnDe)
			curEnd, _ := time.Parse("20060102", parts[i].EndDe)
			if !curEnd.AddDate(0, 0, 1).Equal(prevStart) {
				t.Fatalf("windows %d and %d are not contiguous: %v %v", i-1, i, parts[i-1], parts[i])
			}
		}
	}

	if got := Split(Range{BgnDe: "20240101", EndDe: "20240131"}, 90); len(got) != 1 {
		t.Fatalf("short window should not split, got %d parts", len(got))
	}
}
