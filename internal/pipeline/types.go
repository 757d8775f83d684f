// Package pipeline is the deep-search core: expand, search, filter, fetch,
// sufficiency loop, synthesize. The orchestrator in this package drives the
// phases; everything below it is a capability with an LLM-backed and a
// rule-backed variant.
package pipeline

import (
	"github.com/kfin-labs/dartdeep/internal/dart"
	"github.com/kfin-labs/dartdeep/internal/datephrase"
)

// Limits with the catalogue's practical bounds baked in.
const (
	MaxDocsToFilter        = 100
	MaxDocsToReturn        = 30
	DefaultMaxAttempts     = 3
	DefaultResultsPerQuery = 30
	MaxResultsPerQuery     = 100
	SearchParallelism      = 5
	FetchParallelism       = 3
	ContentPromptBudget    = 1500
	SnippetChars           = 280
	RollingWindowDays      = 90
)

// Options tune one run. Zero values fall back to defaults.
type Options struct {
	MaxAttempts         int    `json:"max_attempts,omitempty"`
	MaxResultsPerSearch int    `json:"max_results_per_search,omitempty"`
	Language            string `json:"language,omitempty"`
}

// merged fills zero-valued fields from base, so per-request options
// override process configuration without having to restate it.
func (o Options) merged(base Options) Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = base.MaxAttempts
	}
	if o.MaxResultsPerSearch <= 0 {
		o.MaxResultsPerSearch = base.MaxResultsPerSearch
	}
	if o.Language == "" {
		o.Language = base.Language
	}
	return o
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.MaxResultsPerSearch <= 0 {
		o.MaxResultsPerSearch = DefaultResultsPerQuery
	}
	if o.MaxResultsPerSearch > MaxResultsPerQuery {
		o.MaxResultsPerSearch = MaxResultsPerQuery
	}
	if o.Language == "" {
		o.Language = "ko"
	}
	return o
}

// ExpandedQuery is the structured form of the user's question.
type ExpandedQuery struct {
	Companies     []string         `json:"companies"`
	CorpCodes     []string         `json:"corp_codes"` // aligned 1:1 with Companies, "" when unresolved
	DocTypes      []string         `json:"doc_types"`
	DateRange     datephrase.Range `json:"date_range"`
	Keywords      []string         `json:"keywords"`
	OriginalQuery string           `json:"original_query"`
	Warnings      []string         `json:"warnings,omitempty"`
}

// Equal reports semantic equality; the sufficiency loop terminates when a
// refinement fails to produce a new query.
func (q ExpandedQuery) Equal(other ExpandedQuery) bool {
	return q.DateRange == other.DateRange &&
		sliceEqual(q.Companies, other.Companies) &&
		sliceEqual(q.CorpCodes, other.CorpCodes) &&
		sliceEqual(q.DocTypes, other.DocTypes) &&
		sliceEqual(q.Keywords, other.Keywords)
}

func sliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// PartialFailure is one absorbed per-item error.
type PartialFailure struct {
	Phase   string `json:"phase"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Telemetry is the run's aggregate accounting.
type Telemetry struct {
	Attempts        int              `json:"attempts"`
	PartialFailures []PartialFailure `json:"partial_failures"`
	CacheHitRate    float64          `json:"cache_hit_rate"`
	LLMCalls        int              `json:"llm_calls"`
	DurationMS      int64            `json:"duration_ms"`
}

// Summary is the envelope's header block.
type Summary struct {
	TotalDocuments int              `json:"total_documents"`
	DateRange      datephrase.Range `json:"date_range"`
	Companies      []string         `json:"companies"`
	Confidence     string           `json:"confidence"` // high | medium | low
}

// Envelope is the stable tool-boundary response. Kind is set only on
// non-success outcomes (Cancelled); successful runs leave it empty.
type Envelope struct {
	Query     string        `json:"query"`
	Answer    string        `json:"answer"`
	Summary   Summary       `json:"summary"`
	Documents []dart.Filing `json:"documents"`
	Telemetry Telemetry     `json:"telemetry"`
	Kind      string        `json:"kind,omitempty"`
}

// Refinement is the sufficiency checker's proposal for the next attempt.
type Refinement struct {
	BroadenDateRangePct   int      `json:"broaden_date_range_pct,omitempty"`
	DropLeastSpecificType bool     `json:"drop_least_specific_doc_type,omitempty"`
	AddKeywords           []string `json:"add_keywords,omitempty"`
	AddDocTypes           []string `json:"add_doc_types,omitempty"`
}

// Sufficiency is the checker's verdict.
type Sufficiency struct {
	Sufficient     bool        `json:"sufficient"`
	Reasons        []string    `json:"reasons,omitempty"`
	MissingAspects []string    `json:"missing_aspects,omitempty"`
	Refinement     *Refinement `json:"proposed_refinement,omitempty"`
}
