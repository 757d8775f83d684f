package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kfin-labs/dartdeep/internal/dart"
	"github.com/kfin-labs/dartdeep/internal/datephrase"
)

// catalogue is the slice of dart.Client the searcher needs.
type catalogue interface {
	Search(ctx context.Context, p dart.SearchParams) (*dart.SearchPage, error)
}

// Searcher fans the expanded query out over the catalogue: one sub-query
// per (company x doc-type) pair, paged newest-first, merged and deduped.
type Searcher struct {
	catalogue   catalogue
	logger      *log.Logger
	parallelism int
}

func NewSearcher(cat catalogue, logger *log.Logger) *Searcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Searcher{catalogue: cat, logger: logger, parallelism: SearchParallelism}
}

type subQuery struct {
	corpCode   string
	detailType string
	window     datephrase.Range
}

// Execute runs all sub-queries with bounded parallelism and returns up to
// MaxDocsToFilter unique FilingRefs. Individual sub-query failures are
// absorbed into the run's partial failures; only total failure is fatal.
func (s *Searcher) Execute(ctx context.Context, eq ExpandedQuery, opts Options, run *runState) ([]dart.FilingRef, error) {
	subs := buildSubQueries(eq)

	results := make([][]dart.FilingRef, len(subs))
	var mu sync.Mutex
	failed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, sub := range subs {
		g.Go(func() error {
			refs, err := s.runSubQuery(gctx, sub, opts.MaxResultsPerSearch)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				failed++
				mu.Unlock()
				run.addFailure("search", ClassifyKind(err), fmt.Sprintf("corp=%s type=%s: %v", sub.corpCode, sub.detailType, err))
				return nil
			}
			results[i] = refs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if failed == len(subs) {
		return nil, phaseErr("search", KindSearchUnavailable, errors.New("every catalogue sub-query failed"))
	}

	// stable merge in sub-query order, dedupe keeping the first occurrence
	seen := make(map[string]bool)
	var merged []dart.FilingRef
	for _, refs := range results {
		for _, ref := range refs {
			if !eq.DateRange.Contains(ref.RceptDt) {
				continue // the catalogue occasionally leaks out-of-window rows
			}
			if seen[ref.RceptNo] {
				continue
			}
			seen[ref.RceptNo] = true
			merged = append(merged, ref)
		}
	}

	if len(merged) > MaxDocsToFilter {
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].RceptDt > merged[j].RceptDt
		})
		merged = merged[:MaxDocsToFilter]
	}
	s.logger.Printf("search: %d sub-queries, %d failed, %d unique refs", len(subs), failed, len(merged))
	return merged, nil
}

// buildSubQueries forms the Cartesian set. Queries without a company code
// over a window longer than the catalogue handles well are split into
// rolling sub-windows, newest first.
func buildSubQueries(eq ExpandedQuery) []subQuery {
	corpCodes := make([]string, 0, len(eq.CorpCodes))
	for _, code := range eq.CorpCodes {
		if code != "" {
			corpCodes = append(corpCodes, code)
		}
	}
	if len(corpCodes) == 0 {
		corpCodes = []string{""}
	}
	docTypes := eq.DocTypes
	if len(docTypes) == 0 {
		docTypes = []string{""}
	}

	var subs []subQuery
	for _, corp := range corpCodes {
		windows := []datephrase.Range{eq.DateRange}
		if corp == "" {
			windows = datephrase.Split(eq.DateRange, RollingWindowDays)
		}
		for _, dt := range docTypes {
			for _, w := range windows {
				subs = append(subs, subQuery{corpCode: corp, detailType: dt, window: w})
			}
		}
	}
	return subs
}

func (s *Searcher) runSubQuery(ctx context.Context, sub subQuery, maxResults int) ([]dart.FilingRef, error) {
	var refs []dart.FilingRef
	for pageNo := 1; ; pageNo++ {
		page, err := s.catalogue.Search(ctx, dart.SearchParams{
			CorpCode:   sub.corpCode,
			BgnDe:      sub.window.BgnDe,
			EndDe:      sub.window.EndDe,
			DetailType: sub.detailType,
			PageNo:     pageNo,
			PageCount:  100,
		})
		if err != nil {
			return nil, err
		}
		refs = append(refs, page.Refs...)
		if len(refs) >= maxResults {
			refs = refs[:maxResults]
			break
		}
		if page.TotalPage == 0 || pageNo >= page.TotalPage {
			break
		}
	}
	return refs, nil
}
