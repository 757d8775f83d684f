package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/kfin-labs/dartdeep/internal/dart"
	"github.com/kfin-labs/dartdeep/internal/llm"
)

// Synthesizer turns the final filing list into the answer narrative and
// the response envelope's summary block.
type Synthesizer struct {
	llm    llm.Client
	logger *log.Logger
}

func NewSynthesizer(llmClient llm.Client, logger *log.Logger) *Synthesizer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Synthesizer{llm: llmClient, logger: logger}
}

type analysis struct {
	totalCount  int
	withBody    int
	companies   []string
	reportTypes map[string]int
	findings    []finding
	timeline    []timelineEntry
}

type finding struct {
	CorpName  string
	RceptDt   string
	ReportNm  string
	Snippet   string
	SourceURL string
	RceptNo   string
}

type timelineEntry struct {
	Date   string
	Events []string
}

// Synthesize builds the answer. LLM failure degrades to a deterministic
// template; it never fails the run.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, eq ExpandedQuery, filings []dart.Filing, run *runState) (string, Summary) {
	a := analyze(filings)

	summary := Summary{
		TotalDocuments: a.totalCount,
		DateRange:      eq.DateRange,
		Companies:      a.companies,
		Confidence:     confidence(a),
	}

	answer, err := s.narrate(ctx, query, eq, a, filings, run)
	if err != nil {
		run.addFailure("synthesize", ClassifyKind(err), err.Error())
		answer = templateAnswer(query, eq, a)
	}
	return answer, summary
}

func analyze(filings []dart.Filing) analysis {
	a := analysis{totalCount: len(filings), reportTypes: make(map[string]int)}
	companySet := map[string]bool{}
	for _, f := range filings {
		if f.HasBody() {
			a.withBody++
		}
		if !companySet[f.CorpName] {
			companySet[f.CorpName] = true
			a.companies = append(a.companies, f.CorpName)
		}
		a.reportTypes[f.ReportNm]++
	}
	sort.Strings(a.companies)

	for _, f := range filings {
		if len(a.findings) == 5 {
			break
		}
		a.findings = append(a.findings, finding{
			CorpName:  f.CorpName,
			RceptDt:   f.RceptDt,
			ReportNm:  f.ReportNm,
			Snippet:   TruncateForPrompt(snippetSource(f), SnippetChars),
			SourceURL: f.ViewerURL(),
			RceptNo:   f.RceptNo,
		})
	}

	a.timeline = buildTimeline(filings)
	return a
}

func snippetSource(f dart.Filing) string {
	if f.Content != "" {
		return f.Content
	}
	if len(f.StructuredData) > 0 {
		keys := make([]string, 0, len(f.StructuredData))
		for k := range f.StructuredData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+f.StructuredData[k])
		}
		return strings.Join(parts, ", ")
	}
	return f.ReportNm
}

// buildTimeline groups by receipt date descending: the 10 most recent
// distinct dates, at most 3 events each.
func buildTimeline(filings []dart.Filing) []timelineEntry {
	byDate := map[string][]string{}
	for _, f := range filings {
		byDate[f.RceptDt] = append(byDate[f.RceptDt], f.CorpName+" "+f.ReportNm)
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) > 10 {
		dates = dates[:10]
	}
	out := make([]timelineEntry, 0, len(dates))
	for _, d := range dates {
		events := byDate[d]
		if len(events) > 3 {
			events = events[:3]
		}
		out = append(out, timelineEntry{Date: d, Events: events})
	}
	return out
}

func confidence(a analysis) string {
	switch {
	case a.withBody >= 5:
		return "high"
	case a.withBody >= 1:
		return "medium"
	default:
		return "low"
	}
}

const narrateSystemPrompt = `You are a Korean corporate disclosure analyst. Answer the user's question grounded strictly in the provided filings.
Cite companies and dates; mention the filing viewer URLs of the key documents. If the evidence is thin, say so.
Answer in %s.`

func (s *Synthesizer) narrate(ctx context.Context, query string, eq ExpandedQuery, a analysis, filings []dart.Filing, run *runState) (string, error) {
	if a.totalCount == 0 || a.withBody == 0 {
		return "", fmt.Errorf("%w: nothing to narrate from", llm.ErrUnavailable)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\n", query)
	fmt.Fprintf(&sb, "Window: %s ~ %s, documents: %d (%d with content)\n\n", eq.DateRange.BgnDe, eq.DateRange.EndDe, a.totalCount, a.withBody)
	sb.WriteString("Key findings:\n")
	for _, f := range a.findings {
		fmt.Fprintf(&sb, "- [%s] %s | %s | %s\n  %s\n", f.RceptDt, f.CorpName, f.ReportNm, f.SourceURL, f.Snippet)
	}
	sb.WriteString("\nDocument contents:\n")
	used := 0
	for _, f := range filings {
		if used == 5 {
			break
		}
		if !f.HasBody() {
			continue
		}
		used++
		fmt.Fprintf(&sb, "--- %s %s (%s)\n%s\n", f.CorpName, f.ReportNm, f.RceptDt, TruncateForPrompt(snippetSource(f), ContentPromptBudget))
	}

	lang := "Korean"
	if run.opts.Language == "en" {
		lang = "English"
	}
	run.llmCall()
	answer, err := s.llm.Complete(ctx, llm.Request{
		System: fmt.Sprintf(narrateSystemPrompt, lang),
		User:   sb.String(),
	})
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "", fmt.Errorf("%w: empty narrative", llm.ErrUnavailable)
	}
	return answer, nil
}

// templateAnswer is the deterministic degradation path: a factual listing
// with an explicit note when evidence is unavailable.
func templateAnswer(query string, eq ExpandedQuery, a analysis) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "질의: %s\n", query)
	fmt.Fprintf(&sb, "조회 기간: %s ~ %s\n", eq.DateRange.BgnDe, eq.DateRange.EndDe)
	if a.totalCount == 0 {
		sb.WriteString("해당 조건에 맞는 공시를 찾지 못했습니다.\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "관련 공시 %d건을 찾았습니다", a.totalCount)
	if a.withBody == 0 {
		sb.WriteString(" (본문 수집에 실패하여 목록만 제공합니다)")
	}
	sb.WriteString(".\n\n")
	for _, f := range a.findings {
		fmt.Fprintf(&sb, "- %s %s: %s\n  %s\n", f.RceptDt, f.CorpName, f.ReportNm, f.SourceURL)
	}
	if len(a.timeline) > 0 {
		sb.WriteString("\n최근 일자별 공시:\n")
		for _, t := range a.timeline {
			fmt.Fprintf(&sb, "%s: %s\n", t.Date, strings.Join(t.Events, " / "))
		}
	}
	return sb.String()
}
