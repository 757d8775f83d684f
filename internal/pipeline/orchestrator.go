package pipeline

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kfin-labs/dartdeep/internal/cache"
	"github.com/kfin-labs/dartdeep/internal/dart"
)

// Observer receives phase timings and run outcomes; wired to the
// process metrics registry in production, nil in tests.
type Observer interface {
	ObservePhase(phase string, d time.Duration)
	ObserveRun(outcome string, attempts int, d time.Duration)
}

// runState is the mutable per-run accounting shared by all phases.
type runState struct {
	id   string
	opts Options

	mu       sync.Mutex
	failures []PartialFailure
	llmCalls int
}

func (r *runState) addFailure(phase string, kind Kind, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, PartialFailure{Phase: phase, Kind: string(kind), Message: msg})
}

func (r *runState) hasFailure(phase string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.failures {
		if f.Phase == phase {
			return true
		}
	}
	return false
}

func (r *runState) llmCall() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmCalls++
}

func (r *runState) snapshot() ([]PartialFailure, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PartialFailure(nil), r.failures...), r.llmCalls
}

// Orchestrator drives one run through expand, search, filter, fetch, the
// sufficiency loop and synthesis. Phases are strictly sequential; only the
// cache, the directory snapshot and the HTTP buckets outlive a run.
type Orchestrator struct {
	expander    *Expander
	searcher    *Searcher
	filter      *Filter
	fetcher     *Fetcher
	checker     *Checker
	synthesizer *Synthesizer
	defaults    Options
	cacheStats  func() cache.Stats
	observer    Observer
	logger      *log.Logger
	now         func() time.Time
}

func NewOrchestrator(
	expander *Expander,
	searcher *Searcher,
	filter *Filter,
	fetcher *Fetcher,
	checker *Checker,
	synthesizer *Synthesizer,
	defaults Options,
	cacheStats func() cache.Stats,
	observer Observer,
	logger *log.Logger,
) *Orchestrator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cacheStats == nil {
		cacheStats = func() cache.Stats { return cache.Stats{} }
	}
	return &Orchestrator{
		expander:    expander,
		searcher:    searcher,
		filter:      filter,
		fetcher:     fetcher,
		checker:     checker,
		synthesizer: synthesizer,
		defaults:    defaults,
		cacheStats:  cacheStats,
		observer:    observer,
		logger:      logger,
		now:         time.Now,
	}
}

// DeepSearch executes one run. Exactly two outcomes cross this boundary:
// a populated envelope (confidence reflects evidence quality) or a
// Cancelled envelope. Hard failures become low-confidence envelopes with
// the failure recorded in telemetry.
func (o *Orchestrator) DeepSearch(ctx context.Context, query string, opts Options) Envelope {
	start := o.now()
	run := &runState{id: uuid.NewString(), opts: opts.merged(o.defaults).withDefaults()}
	statsBefore := o.cacheStats()

	o.logger.Printf("run %s: %q", run.id, query)

	var (
		eq       ExpandedQuery
		filings  []dart.Filing
		attempts int
	)

	for attempt := 1; attempt <= run.opts.MaxAttempts; attempt++ {
		attempts = attempt

		if attempt == 1 {
			next, err := timePhase(o, "expand", func() (ExpandedQuery, error) {
				return o.expander.Expand(ctx, query, run)
			})
			if err != nil {
				if ctx.Err() != nil {
					return o.cancelled(query, run, attempts, start, statsBefore)
				}
				run.addFailure("expand", ClassifyKind(err), err.Error())
				return o.abort(query, eq, run, attempts, start, statsBefore)
			}
			eq = next
		}

		refs, err := timePhase(o, "search", func() ([]dart.FilingRef, error) {
			return o.searcher.Execute(ctx, eq, run.opts, run)
		})
		if err != nil {
			if ctx.Err() != nil {
				return o.cancelled(query, run, attempts, start, statsBefore)
			}
			run.addFailure("search", ClassifyKind(err), err.Error())
			if attempt == 1 {
				return o.abort(query, eq, run, attempts, start, statsBefore)
			}
			break // later attempts synthesize from what earlier ones got
		}

		kept, _ := timePhase(o, "filter", func() ([]dart.FilingRef, error) {
			return o.filter.Select(ctx, query, eq, refs, run), nil
		})
		if ctx.Err() != nil {
			return o.cancelled(query, run, attempts, start, statsBefore)
		}

		fetched, err := timePhase(o, "fetch", func() ([]dart.Filing, error) {
			return o.fetcher.FetchAll(ctx, kept, run)
		})
		if err != nil || ctx.Err() != nil {
			return o.cancelled(query, run, attempts, start, statsBefore)
		}
		filings = fetched

		verdict, _ := timePhase(o, "sufficiency", func() (Sufficiency, error) {
			return o.checker.Check(ctx, query, filings, attempt, run.opts.MaxAttempts, run), nil
		})
		if ctx.Err() != nil {
			return o.cancelled(query, run, attempts, start, statsBefore)
		}
		if verdict.Sufficient {
			break
		}
		next := ApplyRefinement(eq, verdict.Refinement, o.now())
		if next.Equal(eq) {
			o.logger.Printf("run %s: refinement did not change the query, stopping", run.id)
			break
		}
		o.logger.Printf("run %s: attempt %d insufficient, broadening window to %s..%s",
			run.id, attempt, next.DateRange.BgnDe, next.DateRange.EndDe)
		eq = next
	}

	if ctx.Err() != nil {
		return o.cancelled(query, run, attempts, start, statsBefore)
	}
	answer, summary := func() (string, Summary) {
		t0 := o.now()
		defer o.observePhase("synthesize", t0)
		return o.synthesizer.Synthesize(ctx, query, eq, filings, run)
	}()
	if ctx.Err() != nil {
		return o.cancelled(query, run, attempts, start, statsBefore)
	}

	env := Envelope{
		Query:     query,
		Answer:    answer,
		Summary:   summary,
		Documents: filings,
		Telemetry: o.telemetry(run, attempts, start, statsBefore),
	}
	if env.Documents == nil {
		env.Documents = []dart.Filing{}
	}
	o.observeRun("ok", attempts, start)
	o.logger.Printf("run %s: done in %dms, %d documents, confidence=%s",
		run.id, env.Telemetry.DurationMS, len(env.Documents), env.Summary.Confidence)
	return env
}

// timePhase wraps a phase body with metric timing. Generic so each phase
// keeps its natural return type; methods cannot carry type parameters.
func timePhase[T any](o *Orchestrator, phase string, fn func() (T, error)) (T, error) {
	t0 := o.now()
	defer o.observePhase(phase, t0)
	return fn()
}

func (o *Orchestrator) observePhase(phase string, t0 time.Time) {
	if o.observer != nil {
		o.observer.ObservePhase(phase, o.now().Sub(t0))
	}
}

func (o *Orchestrator) observeRun(outcome string, attempts int, start time.Time) {
	if o.observer != nil {
		o.observer.ObserveRun(outcome, attempts, o.now().Sub(start))
	}
}

// cancelled discards partial results; no synthesis runs for a cancelled run.
func (o *Orchestrator) cancelled(query string, run *runState, attempts int, start time.Time, before cache.Stats) Envelope {
	o.observeRun("cancelled", attempts, start)
	o.logger.Printf("run %s: cancelled after %s", run.id, o.now().Sub(start).Round(time.Millisecond))
	return Envelope{
		Query:     query,
		Kind:      string(KindCancelled),
		Documents: []dart.Filing{},
		Summary:   Summary{Confidence: "low"},
		Telemetry: o.telemetry(run, attempts, start, before),
	}
}

// abort maps a first-attempt hard failure to a low-confidence envelope.
func (o *Orchestrator) abort(query string, eq ExpandedQuery, run *runState, attempts int, start time.Time, before cache.Stats) Envelope {
	o.observeRun("aborted", attempts, start)
	failures, _ := run.snapshot()
	kind := string(KindInternal)
	if n := len(failures); n > 0 {
		kind = failures[n-1].Kind
	}
	o.logger.Printf("run %s: aborted (%s)", run.id, kind)
	return Envelope{
		Query:     query,
		Answer:    "검색을 완료하지 못했습니다. 잠시 후 다시 시도해 주세요.",
		Summary:   Summary{DateRange: eq.DateRange, Companies: []string{}, Confidence: "low"},
		Documents: []dart.Filing{},
		Telemetry: o.telemetry(run, attempts, start, before),
	}
}

func (o *Orchestrator) telemetry(run *runState, attempts int, start time.Time, before cache.Stats) Telemetry {
	failures, llmCalls := run.snapshot()
	if failures == nil {
		failures = []PartialFailure{}
	}
	after := o.cacheStats()
	dh := after.Hits - before.Hits
	dm := after.Misses - before.Misses
	rate := 0.0
	if dh+dm > 0 {
		rate = float64(dh) / float64(dh+dm)
	}
	return Telemetry{
		Attempts:        attempts,
		PartialFailures: failures,
		CacheHitRate:    rate,
		LLMCalls:        llmCalls,
		DurationMS:      o.now().Sub(start).Milliseconds(),
	}
}
