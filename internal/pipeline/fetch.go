package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kfin-labs/dartdeep/internal/dart"
)

// documentStore is the slice of dart.Client the fetcher needs.
type documentStore interface {
	Document(ctx context.Context, rceptNo string) ([]byte, error)
	StructuredRows(ctx context.Context, endpoint string, params map[string]string) ([]map[string]string, error)
}

// ViewerSource renders the public viewer page; nil disables the last
// resort entirely.
type ViewerSource interface {
	FetchText(ctx context.Context, rceptNo string) (string, error)
}

// Fetcher retrieves filing bodies for the refs surviving the filter, in
// source priority order: structured endpoint, document archive, viewer.
type Fetcher struct {
	store        documentStore
	viewer       ViewerSource
	logger       *log.Logger
	parallelism  int
	fetchTimeout time.Duration
	now          func() time.Time
}

func NewFetcher(store documentStore, viewer ViewerSource, parallelism int, timeout time.Duration, logger *log.Logger) *Fetcher {
	if parallelism <= 0 {
		parallelism = FetchParallelism
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Fetcher{
		store:        store,
		viewer:       viewer,
		logger:       logger,
		parallelism:  parallelism,
		fetchTimeout: timeout,
		now:          time.Now,
	}
}

// FetchAll retrieves bodies with bounded parallelism. The result list is
// aligned with refs regardless of completion order, and every Filing either
// carries a body or a fetch error.
func (f *Fetcher) FetchAll(ctx context.Context, refs []dart.FilingRef, run *runState) ([]dart.Filing, error) {
	filings := make([]dart.Filing, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.parallelism)
	for i, ref := range refs {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, f.fetchTimeout)
			defer cancel()
			filings[i] = f.fetchOne(fctx, ref)
			if filings[i].FetchError != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				run.addFailure("fetch", KindFetchFailed, fmt.Sprintf("%s: %s", ref.RceptNo, filings[i].FetchError.Message))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filings, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, ref dart.FilingRef) dart.Filing {
	filing := dart.Filing{FilingRef: ref, FetchedAt: f.now()}

	if data, ok := f.tryStructured(ctx, ref); ok {
		filing.StructuredData = data
		filing.Source = dart.SourceStructuredAPI
		filing.SourceURL = ref.ViewerURL()
		return filing
	}

	var lastErr error
	if raw, err := f.store.Document(ctx, ref.RceptNo); err == nil {
		if text := CleanDocument(raw); text != "" {
			filing.Content = TruncateForPrompt(text, ContentPromptBudget)
			filing.Source = dart.SourceArchive
			filing.SourceURL = ref.ViewerURL()
			return filing
		}
		lastErr = fmt.Errorf("archive document %s cleaned to empty text", ref.RceptNo)
	} else {
		lastErr = err
	}

	if f.viewer != nil && ctx.Err() == nil {
		if text, err := f.viewer.FetchText(ctx, ref.RceptNo); err == nil {
			filing.Content = TruncateForPrompt(text, ContentPromptBudget)
			filing.Source = dart.SourceViewer
			filing.SourceURL = ref.ViewerURL()
			return filing
		} else {
			lastErr = err
		}
	}

	filing.Source = dart.SourceNone
	filing.FetchError = &dart.FetchError{
		Kind:    string(ClassifyKind(lastErr)),
		Message: lastErr.Error(),
	}
	return filing
}

// tryStructured consults the dedicated detail endpoints for doc types that
// have one. Extraction is best effort; any miss falls through to the
// archive.
func (f *Fetcher) tryStructured(ctx context.Context, ref dart.FilingRef) (map[string]string, bool) {
	endpoints := dart.StructuredEndpoints(ref.DetailType)
	if len(endpoints) == 0 || ref.CorpCode == "" {
		return nil, false
	}
	for _, ep := range endpoints {
		rows, err := f.store.StructuredRows(ctx, ep, structuredParams(ep, ref))
		if err != nil || len(rows) == 0 {
			continue
		}
		row := pickRow(rows, ref.RceptNo)
		if len(row) == 0 {
			continue
		}
		f.logger.Printf("fetch %s: structured via %s (%d fields)", ref.RceptNo, ep, len(row))
		return row, true
	}
	return nil, false
}

func structuredParams(endpoint string, ref dart.FilingRef) map[string]string {
	if endpoint == "fnlttSinglAcnt.json" {
		year := ref.RceptDt
		if len(year) >= 4 {
			year = year[:4]
		}
		return map[string]string{
			"corp_code":  ref.CorpCode,
			"bsns_year":  year,
			"reprt_code": reportCodeFor(ref.DetailType),
		}
	}
	// decision endpoints take a date window; pin it to the receipt date
	return map[string]string{
		"corp_code": ref.CorpCode,
		"bgn_de":    ref.RceptDt,
		"end_de":    ref.RceptDt,
	}
}

func reportCodeFor(detailType string) string {
	switch detailType {
	case "A002":
		return "11012" // half-year
	case "A003":
		return "11013" // first quarter
	default:
		return "11011" // annual
	}
}

// pickRow prefers the row carrying our receipt number, else merges the
// account rows of a financial statement into one flat map.
func pickRow(rows []map[string]string, rceptNo string) map[string]string {
	for _, row := range rows {
		if row["rcept_no"] == rceptNo {
			return row
		}
	}
	if name := rows[0]["account_nm"]; name != "" {
		merged := make(map[string]string)
		for i, row := range rows {
			if i >= 20 {
				break
			}
			if row["account_nm"] != "" && row["thstrm_amount"] != "" {
				merged[row["account_nm"]] = row["thstrm_amount"]
			}
		}
		if len(merged) > 0 {
			merged["bsns_year"] = rows[0]["bsns_year"]
			return merged
		}
	}
	return rows[0]
}
