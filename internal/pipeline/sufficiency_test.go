package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kfin-labs/dartdeep/internal/dart"
	"github.com/kfin-labs/dartdeep/internal/datephrase"
	"github.com/kfin-labs/dartdeep/internal/llm"
)

func filingsWithBodies(n, withBody int) []dart.Filing {
	var out []dart.Filing
	for i := 0; i < n; i++ {
		f := dart.Filing{FilingRef: ref(
			fmt.Sprintf("2024091000%04d", i), "회사", "00000001", "공시", "20240910", "B001")}
		if i < withBody {
			f.Content = "본문"
			f.Source = dart.SourceArchive
		} else {
			f.Source = dart.SourceNone
			f.FetchError = &dart.FetchError{Kind: "FetchFailed", Message: "x"}
		}
		out = append(out, f)
	}
	return out
}

func TestCheckHardStopAtAttemptBudget(t *testing.T) {
	model := &fakeLLM{responses: []any{`{"sufficient": false}`}}
	c := NewChecker(model, nil)
	v := c.Check(context.Background(), "q", nil, 3, 3, newRun())
	if !v.Sufficient {
		t.Fatal("attempt budget exhausted must force sufficient")
	}
	if model.calls() != 0 {
		t.Fatal("no LLM call should fire at the hard stop")
	}
}

func TestCheckThinEvidenceWithSearchFailureProposesBroadening(t *testing.T) {
	c := NewChecker(&fakeLLM{}, nil)
	run := newRun()
	run.addFailure("search", KindSearchUnavailable, "one sub-query failed")
	v := c.Check(context.Background(), "q", filingsWithBodies(4, 2), 1, 3, run)
	if v.Sufficient {
		t.Fatal("thin evidence plus a search failure must be insufficient")
	}
	if v.Refinement == nil || v.Refinement.BroadenDateRangePct != 50 || !v.Refinement.DropLeastSpecificType {
		t.Fatalf("unexpected refinement: %+v", v.Refinement)
	}
}

func TestCheckLLMFailureDefaultsToSufficient(t *testing.T) {
	model := &fakeLLM{responses: []any{fmt.Errorf("%w: 503", llm.ErrUnavailable)}}
	c := NewChecker(model, nil)
	run := newRun()
	v := c.Check(context.Background(), "q", filingsWithBodies(5, 5), 1, 3, run)
	if !v.Sufficient {
		t.Fatal("unreachable judge must default to sufficient")
	}
	failures, _ := run.snapshot()
	if len(failures) == 0 || failures[0].Phase != "sufficiency" {
		t.Fatalf("LLM failure not recorded: %+v", failures)
	}
}

func TestCheckParsesVerdict(t *testing.T) {
	model := &fakeLLM{responses: []any{
		`{"sufficient": false, "reasons": ["좁은 기간"], "proposed_refinement": {"broaden_date_range_pct": 50, "add_doc_types": ["E003", "ZZZZ"]}}`,
	}}
	c := NewChecker(model, nil)
	v := c.Check(context.Background(), "q", filingsWithBodies(5, 5), 1, 3, newRun())
	if v.Sufficient || v.Refinement == nil {
		t.Fatalf("verdict not honored: %+v", v)
	}
}

func TestApplyRefinementBroadensBackwardOnly(t *testing.T) {
	today := time.Date(2024, 10, 15, 0, 0, 0, 0, time.UTC)
	eq := ExpandedQuery{
		DateRange: datephrase.Range{BgnDe: "20240915", EndDe: "20241015"},
		DocTypes:  []string{"B001", "E003"},
	}
	next := ApplyRefinement(eq, &Refinement{BroadenDateRangePct: 50, DropLeastSpecificType: true}, today)
	if next.DateRange.EndDe != "20241015" {
		t.Fatalf("end date moved: %s", next.DateRange.EndDe)
	}
	if next.DateRange.BgnDe >= eq.DateRange.BgnDe {
		t.Fatalf("begin date did not move back: %s", next.DateRange.BgnDe)
	}
	if len(next.DocTypes) != 1 || next.DocTypes[0] != "B001" {
		t.Fatalf("least specific doc type not dropped: %v", next.DocTypes)
	}
	// the original query is untouched
	if len(eq.DocTypes) != 2 {
		t.Fatalf("refinement mutated its input: %v", eq.DocTypes)
	}
}

func TestApplyRefinementRejectsUnknownDocTypes(t *testing.T) {
	today := time.Date(2024, 10, 15, 0, 0, 0, 0, time.UTC)
	eq := ExpandedQuery{DateRange: datephrase.Range{BgnDe: "20240901", EndDe: "20241001"}}
	next := ApplyRefinement(eq, &Refinement{AddDocTypes: []string{"E003", "ZZZZ"}}, today)
	if len(next.DocTypes) != 1 || next.DocTypes[0] != "E003" {
		t.Fatalf("doc types = %v", next.DocTypes)
	}
}

func TestApplyRefinementNilIsIdentity(t *testing.T) {
	today := time.Now()
	eq := ExpandedQuery{
		DateRange: datephrase.Range{BgnDe: "20240901", EndDe: "20241001"},
		Keywords:  []string{"합병"},
	}
	next := ApplyRefinement(eq, nil, today)
	if !next.Equal(eq) {
		t.Fatalf("nil refinement must not change the query: %+v", next)
	}
}
