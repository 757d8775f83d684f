package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/kfin-labs/dartdeep/internal/dart"
	"github.com/kfin-labs/dartdeep/internal/llm"
)

// Filter selects at most MaxDocsToReturn relevant refs from the search
// output. The LLM strategy asks for relevant receipt numbers; the rule
// strategy scores on keyword and company overlap. LLM failures degrade
// to the rule strategy, never to an error.
type Filter struct {
	llm    llm.Client // nil forces the rule strategy
	logger *log.Logger
}

func NewFilter(llmClient llm.Client, logger *log.Logger) *Filter {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Filter{llm: llmClient, logger: logger}
}

const filterSystemPrompt = `You rank Korean corporate disclosures by relevance to a question.
Given the question and a numbered list of filings, respond with a JSON object:
{"relevant": ["rcept_no values of plausibly relevant filings, most relevant first"],
 "reason": "one short sentence"}
Include at most %d values. Only use rcept_no values from the list.`

// Select returns the surviving refs in preferred order.
func (f *Filter) Select(ctx context.Context, query string, eq ExpandedQuery, refs []dart.FilingRef, run *runState) []dart.FilingRef {
	if len(refs) == 0 {
		return nil
	}
	if f.llm != nil {
		if out, ok := f.llmSelect(ctx, query, refs, run); ok {
			return out
		}
	}
	return ruleSelect(eq, refs)
}

func (f *Filter) llmSelect(ctx context.Context, query string, refs []dart.FilingRef, run *runState) ([]dart.FilingRef, bool) {
	var sb strings.Builder
	for i, ref := range refs {
		fmt.Fprintf(&sb, "%d. rcept_no=%s %s | %s | %s\n", i+1, ref.RceptNo, ref.RceptDt, ref.CorpName, ref.ReportNm)
	}

	run.llmCall()
	raw, err := f.llm.Complete(ctx, llm.Request{
		System:   fmt.Sprintf(filterSystemPrompt, MaxDocsToReturn),
		User:     "Question: " + query + "\n\nFilings:\n" + sb.String(),
		JSONOnly: true,
	})
	if err != nil {
		run.addFailure("filter", ClassifyKind(err), err.Error())
		return nil, false
	}

	var resp struct {
		Relevant []string `json:"relevant"`
	}
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &resp); err != nil {
		run.addFailure("filter", KindLLMUnavailable, fmt.Sprintf("unparseable filter response: %v", err))
		return nil, false
	}

	byNo := make(map[string]dart.FilingRef, len(refs))
	for _, ref := range refs {
		byNo[ref.RceptNo] = ref
	}
	var out []dart.FilingRef
	taken := make(map[string]bool)
	for _, no := range resp.Relevant {
		ref, ok := byNo[no]
		if !ok || taken[no] {
			continue // hallucinated or duplicated identifiers are dropped
		}
		taken[no] = true
		out = append(out, ref)
		if len(out) == MaxDocsToReturn {
			break
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	f.logger.Printf("filter: llm kept %d of %d", len(out), len(refs))
	return out, true
}

// ruleSelect scores candidates deterministically: keyword hits in the
// report title, exact company match, doc-type membership, then freshness.
func ruleSelect(eq ExpandedQuery, refs []dart.FilingRef) []dart.FilingRef {
	companies := make(map[string]bool, len(eq.Companies))
	for _, c := range eq.Companies {
		companies[c] = true
	}
	docTypes := make(map[string]bool, len(eq.DocTypes))
	for _, dt := range eq.DocTypes {
		docTypes[dt] = true
	}

	type scored struct {
		ref   dart.FilingRef
		score int
	}
	items := make([]scored, 0, len(refs))
	for _, ref := range refs {
		s := 0
		for _, kw := range eq.Keywords {
			if strings.Contains(ref.ReportNm, kw) {
				s += 2
			}
		}
		if companies[ref.CorpName] {
			s += 3
		}
		if docTypes[ref.DetailType] {
			s++
		}
		items = append(items, scored{ref: ref, score: s})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].ref.RceptDt > items[j].ref.RceptDt
	})

	var out []dart.FilingRef
	for _, it := range items {
		if it.score <= 0 {
			break
		}
		out = append(out, it.ref)
		if len(out) == MaxDocsToReturn {
			break
		}
	}
	if len(out) < 5 {
		// thin scoring: keep the most recent five regardless
		byDate := make([]dart.FilingRef, len(refs))
		copy(byDate, refs)
		sort.SliceStable(byDate, func(i, j int) bool { return byDate[i].RceptDt > byDate[j].RceptDt })
		taken := make(map[string]bool, len(out))
		for _, ref := range out {
			taken[ref.RceptNo] = true
		}
		for _, ref := range byDate {
			if len(out) >= 5 {
				break
			}
			if !taken[ref.RceptNo] {
				taken[ref.RceptNo] = true
				out = append(out, ref)
			}
		}
	}
	return out
}
