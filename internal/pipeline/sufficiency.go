package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/kfin-labs/dartdeep/internal/dart"
	"github.com/kfin-labs/dartdeep/internal/llm"
)

// Checker decides whether the collected evidence answers the question or
// whether the loop should broaden and retry.
type Checker struct {
	llm    llm.Client
	logger *log.Logger
}

func NewChecker(llmClient llm.Client, logger *log.Logger) *Checker {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Checker{llm: llmClient, logger: logger}
}

const sufficiencySystemPrompt = `You judge whether retrieved Korean corporate disclosures are enough to answer a question.
Respond with a JSON object:
{"sufficient": true|false,
 "reasons": ["short reasons"],
 "missing_aspects": ["what is missing, if anything"],
 "proposed_refinement": {"broaden_date_range_pct": 0, "drop_least_specific_doc_type": false, "add_keywords": [], "add_doc_types": []}}
Set proposed_refinement only when sufficient is false.`

// Check applies the deterministic rules first, then the LLM. LLM failure
// with attempts remaining counts as sufficient; the loop never extends on
// an unreachable judge.
func (c *Checker) Check(ctx context.Context, query string, filings []dart.Filing, attemptsUsed, maxAttempts int, run *runState) Sufficiency {
	if attemptsUsed >= maxAttempts {
		return Sufficiency{Sufficient: true, Reasons: []string{"attempt budget exhausted"}}
	}

	withBody := 0
	for _, f := range filings {
		if f.HasBody() {
			withBody++
		}
	}
	if withBody < 3 && run.hasFailure("search") {
		return Sufficiency{
			Sufficient:     false,
			Reasons:        []string{fmt.Sprintf("only %d filings carry content and part of the search failed", withBody)},
			MissingAspects: []string{"broader evidence base"},
			Refinement:     &Refinement{BroadenDateRangePct: 50, DropLeastSpecificType: true},
		}
	}

	verdict, err := c.askLLM(ctx, query, filings, run)
	if err != nil {
		run.addFailure("sufficiency", ClassifyKind(err), err.Error())
		return Sufficiency{Sufficient: true, Reasons: []string{"sufficiency judge unavailable"}}
	}
	return verdict
}

func (c *Checker) askLLM(ctx context.Context, query string, filings []dart.Filing, run *runState) (Sufficiency, error) {
	var sb strings.Builder
	for i, f := range filings {
		if i >= 15 {
			break
		}
		fmt.Fprintf(&sb, "- %s %s | %s | body=%v\n", f.RceptDt, f.CorpName, f.ReportNm, f.HasBody())
	}

	run.llmCall()
	raw, err := c.llm.Complete(ctx, llm.Request{
		System:   sufficiencySystemPrompt,
		User:     "Question: " + query + "\n\nRetrieved filings:\n" + sb.String(),
		JSONOnly: true,
	})
	if err != nil {
		return Sufficiency{}, err
	}
	var verdict Sufficiency
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &verdict); err != nil {
		return Sufficiency{}, fmt.Errorf("%w: unparseable verdict: %v", llm.ErrUnavailable, err)
	}
	if verdict.Sufficient {
		verdict.Refinement = nil
	}
	return verdict, nil
}

// ApplyRefinement derives the next attempt's query. The caller must reject
// the result when it equals the previous query.
func ApplyRefinement(eq ExpandedQuery, ref *Refinement, today time.Time) ExpandedQuery {
	next := eq
	next.Companies = append([]string(nil), eq.Companies...)
	next.CorpCodes = append([]string(nil), eq.CorpCodes...)
	next.DocTypes = append([]string(nil), eq.DocTypes...)
	next.Keywords = append([]string(nil), eq.Keywords...)
	if ref == nil {
		return next
	}

	if ref.BroadenDateRangePct > 0 {
		if days := eq.DateRange.Days(); days > 0 {
			extra := days * ref.BroadenDateRangePct / 100
			if extra < 1 {
				extra = 1
			}
			from, err := time.Parse("20060102", eq.DateRange.BgnDe)
			if err == nil {
				next.DateRange.BgnDe = from.AddDate(0, 0, -extra).Format("20060102")
			}
		}
	}
	if ref.DropLeastSpecificType && len(next.DocTypes) > 0 {
		// the last proposed type is the least specific by construction
		next.DocTypes = next.DocTypes[:len(next.DocTypes)-1]
	}
	for _, kw := range ref.AddKeywords {
		next.Keywords = appendUnique(next.Keywords, kw)
	}
	for _, dt := range ref.AddDocTypes {
		if dart.ValidDetailType(dt) {
			next.DocTypes = appendUnique(next.DocTypes, dt)
		}
	}

	todayStr := today.Format("20060102")
	if next.DateRange.EndDe > todayStr {
		next.DateRange.EndDe = todayStr
	}
	return next
}

func appendUnique(slice []string, v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return slice
	}
	for _, s := range slice {
		if s == v {
			return slice
		}
	}
	return append(slice, v)
}
