package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/kfin-labs/dartdeep/internal/company"
	"github.com/kfin-labs/dartdeep/internal/dart"
	"github.com/kfin-labs/dartdeep/internal/datephrase"
	"github.com/kfin-labs/dartdeep/internal/llm"
)

// companyResolver is the slice of company.Resolver the expander needs.
type companyResolver interface {
	Best(ctx context.Context, name string) (*company.Candidate, error)
}

// Expander turns free text into an ExpandedQuery. The LLM proposes
// companies, doc types and keywords; date parsing and company resolution
// stay deterministic.
type Expander struct {
	llm      llm.Client
	resolver companyResolver
	logger   *log.Logger
	now      func() time.Time
}

func NewExpander(llmClient llm.Client, resolver companyResolver, logger *log.Logger) *Expander {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Expander{llm: llmClient, resolver: resolver, logger: logger, now: time.Now}
}

const expandSystemPrompt = `You extract search parameters from questions about Korean corporate disclosures (DART filings).
Respond with a single JSON object:
{"companies": ["company names mentioned, verbatim"],
 "doc_types": ["DART detail type codes like B001, E001 that match the question's topic"],
 "keywords": ["topical Korean keywords for relevance filtering"],
 "date_expression": "the date phrase from the question, verbatim, or empty"}
Only list doc_types you are confident about. Do not invent company names.`

type expandProposal struct {
	Companies      []string `json:"companies"`
	DocTypes       []string `json:"doc_types"`
	Keywords       []string `json:"keywords"`
	DateExpression string   `json:"date_expression"`
}

var corpCodeRe = regexp.MustCompile(`^\d{8}$`)

// Expand runs extraction with the LLM and falls back to rule-based
// extraction when the call or its JSON fails. llmCalls reports how many
// completions were spent.
func (e *Expander) Expand(ctx context.Context, query string, run *runState) (ExpandedQuery, error) {
	proposal, usedLLM := e.propose(ctx, query, run)

	eq := ExpandedQuery{OriginalQuery: query}

	// dates are never left to the LLM; parse its echo of the phrase first,
	// then the raw query
	dateSrc := proposal.DateExpression
	rng, matched := datephrase.Parse(dateSrc, e.now())
	if !matched {
		rng, matched = datephrase.Parse(query, e.now())
	}
	if !matched {
		eq.Warnings = append(eq.Warnings, fmt.Sprintf("no date expression recognized, defaulting to last %d days", datephrase.DefaultWindowDays))
	}
	today := e.now().Format("20060102")
	if rng.EndDe > today {
		rng.EndDe = today
	}
	eq.DateRange = rng

	for _, name := range dedupeStrings(proposal.Companies) {
		cand, err := e.resolver.Best(ctx, name)
		if err != nil {
			run.addFailure("expand", KindInternal, fmt.Sprintf("resolve %q: %v", name, err))
			continue
		}
		if cand == nil {
			eq.Warnings = append(eq.Warnings, fmt.Sprintf("company %q not found in directory", name))
			continue
		}
		if cand.NeedsConfirmation() {
			eq.Warnings = append(eq.Warnings, fmt.Sprintf("company %q matched %q with score %d", name, cand.CorpName, cand.Score))
		}
		eq.Companies = append(eq.Companies, cand.CorpName)
		eq.CorpCodes = append(eq.CorpCodes, cand.CorpCode)
	}

	for _, code := range dedupeStrings(proposal.DocTypes) {
		if dart.ValidDetailType(code) {
			eq.DocTypes = append(eq.DocTypes, code)
		}
	}
	if len(eq.DocTypes) == 0 {
		// deterministic keyword mapping when the LLM proposed nothing usable
		eq.DocTypes = dart.DocTypesForKeywords(append([]string{query}, proposal.Keywords...)...)
	}

	eq.Keywords = dedupeStrings(proposal.Keywords)
	if len(eq.Keywords) == 0 {
		eq.Keywords = fallbackKeywords(query)
	}

	if err := validateExpanded(eq, today); err != nil {
		return ExpandedQuery{}, phaseErr("expand", KindExpansionFailed, err)
	}
	e.logger.Printf("expanded: companies=%d doc_types=%v window=%s..%s llm=%v",
		len(eq.Companies), eq.DocTypes, eq.DateRange.BgnDe, eq.DateRange.EndDe, usedLLM)
	return eq, nil
}

func (e *Expander) propose(ctx context.Context, query string, run *runState) (expandProposal, bool) {
	run.llmCall()
	raw, err := e.llm.Complete(ctx, llm.Request{
		System:   expandSystemPrompt,
		User:     query,
		JSONOnly: true,
	})
	if err != nil {
		run.addFailure("expand", ClassifyKind(err), err.Error())
		return e.ruleProposal(query), false
	}
	var p expandProposal
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &p); err != nil {
		run.addFailure("expand", KindLLMUnavailable, fmt.Sprintf("unparseable extraction: %v", err))
		return e.ruleProposal(query), false
	}
	return p, true
}

var quotedNameRe = regexp.MustCompile(`["'「""]([^"'」""]{2,30})["'」""]`)

// ruleProposal extracts what it can without a model: quoted names, a
// 6-digit ticker, the raw query as date source.
func (e *Expander) ruleProposal(query string) expandProposal {
	var p expandProposal
	for _, m := range quotedNameRe.FindAllStringSubmatch(query, -1) {
		p.Companies = append(p.Companies, strings.TrimSpace(m[1]))
	}
	for _, tok := range strings.Fields(query) {
		if company.IsStockCode(tok) {
			p.Companies = append(p.Companies, tok)
		}
	}
	p.DateExpression = query
	p.Keywords = fallbackKeywords(query)
	return p
}

func validateExpanded(eq ExpandedQuery, today string) error {
	if eq.DateRange.BgnDe > eq.DateRange.EndDe {
		return fmt.Errorf("date range inverted: %s > %s", eq.DateRange.BgnDe, eq.DateRange.EndDe)
	}
	if eq.DateRange.EndDe > today {
		return fmt.Errorf("date range ends in the future: %s", eq.DateRange.EndDe)
	}
	if len(eq.Companies) != len(eq.CorpCodes) {
		return fmt.Errorf("companies/corp_codes misaligned: %d vs %d", len(eq.Companies), len(eq.CorpCodes))
	}
	for _, code := range eq.CorpCodes {
		if code != "" && !corpCodeRe.MatchString(code) {
			return fmt.Errorf("malformed corp_code %q", code)
		}
	}
	for _, dt := range eq.DocTypes {
		if !dart.ValidDetailType(dt) {
			return fmt.Errorf("unknown doc type %q", dt)
		}
	}
	return nil
}

// fallbackKeywords keeps hangul-bearing tokens long enough to filter on.
func fallbackKeywords(query string) []string {
	var out []string
	for _, tok := range strings.Fields(query) {
		tok = strings.Trim(tok, `"'.,?!()[]`)
		if len([]rune(tok)) < 2 || !containsHangul(tok) {
			continue
		}
		out = append(out, tok)
	}
	return dedupeStrings(out)
}

func containsHangul(s string) bool {
	for _, r := range s {
		if r >= 0xAC00 && r <= 0xD7A3 {
			return true
		}
	}
	return false
}

func dedupeStrings(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
