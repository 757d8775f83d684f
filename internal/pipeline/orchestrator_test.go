package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kfin-labs/dartdeep/internal/cache"
	"github.com/kfin-labs/dartdeep/internal/company"
	"github.com/kfin-labs/dartdeep/internal/dart"
	"github.com/kfin-labs/dartdeep/internal/llm"
)

// harness wires an orchestrator entirely from fakes.
type harness struct {
	model *fakeLLM
	cat   *fakeCatalogue
	store *fakeStore
	orch  *Orchestrator
}

func newHarness(model *fakeLLM, cat *fakeCatalogue, store *fakeStore) *harness {
	resolver := &fakeResolver{byName: map[string]company.Candidate{
		"삼성전자": {CorpCode: "00126380", CorpName: "삼성전자", Score: 100},
	}}
	expander := NewExpander(model, resolver, nil)
	expander.now = func() time.Time { return time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC) }

	orch := NewOrchestrator(
		expander,
		NewSearcher(cat, nil),
		NewFilter(nil, nil), // rule filter keeps orchestration deterministic
		NewFetcher(store, nil, 0, time.Second, nil),
		NewChecker(model, nil),
		NewSynthesizer(model, nil),
		Options{}, nil, nil, nil,
	)
	return &harness{model: model, cat: cat, store: store, orch: orch}
}

func catalogueWithMergers() (*fakeCatalogue, *fakeStore) {
	cat := &fakeCatalogue{refs: []dart.FilingRef{
		ref("20240920000001", "삼성전자", "00126380", "주요사항보고서(합병)", "20240920", "B001"),
		ref("20240925000002", "삼성전자", "00126380", "합병등종료보고서", "20240925", "E003"),
	}}
	store := &fakeStore{documents: map[string][]byte{
		"20240920000001": []byte("<doc>합병 비율 1:0.5 결정</doc>"),
		"20240925000002": []byte("<doc>합병 종료 보고</doc>"),
	}}
	return cat, store
}

func mergerScript() []any {
	return []any{
		// expand
		`{"companies": [], "doc_types": ["B001", "E003"], "keywords": ["합병", "합병비율"], "date_expression": "최근 1개월"}`,
		// sufficiency
		`{"sufficient": true, "reasons": ["충분"]}`,
		// narrative
		"합병비율은 1:0.5로 결정되었습니다.",
	}
}

func TestDeepSearchHappyPathInvariants(t *testing.T) {
	cat, store := catalogueWithMergers()
	h := newHarness(&fakeLLM{responses: mergerScript()}, cat, store)

	env := h.orch.DeepSearch(context.Background(), "최근 1개월 인수 합병 공시에서 합병 비율", Options{})

	if env.Kind != "" {
		t.Fatalf("successful run must not set kind, got %q", env.Kind)
	}
	if env.Answer == "" {
		t.Fatal("answer missing")
	}
	if len(env.Documents) == 0 || len(env.Documents) > MaxDocsToReturn {
		t.Fatalf("document count out of bounds: %d", len(env.Documents))
	}
	seen := map[string]bool{}
	for _, d := range env.Documents {
		if seen[d.RceptNo] {
			t.Fatalf("duplicate rcept_no %s", d.RceptNo)
		}
		seen[d.RceptNo] = true
		hasBody := d.HasBody()
		hasErr := d.FetchError != nil
		if hasBody == hasErr {
			t.Fatalf("body/error invariant violated: %+v", d)
		}
		if !env.Summary.DateRange.Contains(d.RceptDt) {
			t.Fatalf("document outside date range: %s not in %+v", d.RceptDt, env.Summary.DateRange)
		}
	}
	if env.Telemetry.Attempts < 1 || env.Telemetry.Attempts > DefaultMaxAttempts {
		t.Fatalf("attempts out of bounds: %d", env.Telemetry.Attempts)
	}
	if env.Telemetry.LLMCalls != 3 {
		t.Fatalf("llm calls = %d, want 3", env.Telemetry.LLMCalls)
	}
	if env.Summary.Confidence == "" {
		t.Fatal("confidence missing")
	}
}

func TestDeepSearchAttemptsNeverExceedBudget(t *testing.T) {
	cat, store := catalogueWithMergers()
	// every sufficiency verdict demands another round with a real refinement
	script := []any{
		`{"companies": [], "doc_types": ["B001"], "keywords": ["합병"], "date_expression": "최근 1개월"}`,
	}
	for i := 0; i < 10; i++ {
		script = append(script,
			fmt.Sprintf(`{"sufficient": false, "proposed_refinement": {"broaden_date_range_pct": 50, "add_keywords": ["kw%d"]}}`, i))
	}
	script = append(script, "요약")
	h := newHarness(&fakeLLM{responses: script}, cat, store)

	env := h.orch.DeepSearch(context.Background(), "최근 1개월 합병", Options{MaxAttempts: 3})
	if env.Telemetry.Attempts > 3 {
		t.Fatalf("attempts = %d, budget 3", env.Telemetry.Attempts)
	}
}

func TestDeepSearchConfiguredDefaultsApply(t *testing.T) {
	cat, store := catalogueWithMergers()
	// every verdict asks for another round; the configured budget of 1
	// must stop the loop when the request carries no override
	script := []any{
		`{"companies": [], "doc_types": ["B001"], "keywords": ["합병"], "date_expression": "최근 1개월"}`,
		`{"sufficient": false, "proposed_refinement": {"broaden_date_range_pct": 50, "add_keywords": ["비율"]}}`,
		"요약",
	}
	h := newHarness(&fakeLLM{responses: script}, cat, store)
	h.orch.defaults = Options{MaxAttempts: 1}

	env := h.orch.DeepSearch(context.Background(), "최근 1개월 합병", Options{})
	if env.Telemetry.Attempts != 1 {
		t.Fatalf("configured attempt budget ignored, attempts = %d", env.Telemetry.Attempts)
	}
}

func TestDeepSearchRequestOptionsOverrideDefaults(t *testing.T) {
	cat, store := catalogueWithMergers()
	script := []any{
		`{"companies": [], "doc_types": ["B001"], "keywords": ["합병"], "date_expression": "최근 1개월"}`,
	}
	for i := 0; i < 4; i++ {
		script = append(script,
			fmt.Sprintf(`{"sufficient": false, "proposed_refinement": {"broaden_date_range_pct": 50, "add_keywords": ["kw%d"]}}`, i))
	}
	script = append(script, "요약")
	h := newHarness(&fakeLLM{responses: script}, cat, store)
	h.orch.defaults = Options{MaxAttempts: 1}

	env := h.orch.DeepSearch(context.Background(), "최근 1개월 합병", Options{MaxAttempts: 2})
	if env.Telemetry.Attempts != 2 {
		t.Fatalf("request override ignored, attempts = %d", env.Telemetry.Attempts)
	}
}

func TestDeepSearchStopsWhenRefinementRepeats(t *testing.T) {
	cat, store := catalogueWithMergers()
	script := []any{
		`{"companies": [], "doc_types": ["B001"], "keywords": ["합병"], "date_expression": "최근 1개월"}`,
		// a refinement that changes nothing must end the loop
		`{"sufficient": false, "proposed_refinement": {}}`,
		"요약",
	}
	h := newHarness(&fakeLLM{responses: script}, cat, store)
	env := h.orch.DeepSearch(context.Background(), "최근 1개월 합병", Options{MaxAttempts: 3})
	if env.Telemetry.Attempts != 1 {
		t.Fatalf("no-op refinement must stop the loop, attempts = %d", env.Telemetry.Attempts)
	}
}

func TestDeepSearchCancellationReturnsQuickly(t *testing.T) {
	cat, store := catalogueWithMergers()
	store.delay = 5 * time.Second // stall the fetch phase
	h := newHarness(&fakeLLM{responses: mergerScript()}, cat, store)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	t0 := time.Now()
	env := h.orch.DeepSearch(ctx, "최근 1개월 합병", Options{})
	elapsed := time.Since(t0)

	if env.Kind != string(KindCancelled) {
		t.Fatalf("kind = %q, want Cancelled", env.Kind)
	}
	if env.Answer != "" {
		t.Fatal("cancelled run must not synthesize an answer")
	}
	if elapsed > time.Second {
		t.Fatalf("cancellation took %s, budget is 1s", elapsed)
	}
	if env.Telemetry.DurationMS >= 1000 {
		t.Fatalf("duration_ms = %d", env.Telemetry.DurationMS)
	}
}

func TestDeepSearchFirstAttemptSearchFailureAborts(t *testing.T) {
	cat, store := catalogueWithMergers()
	cat.failAll = true
	script := []any{
		`{"companies": [], "doc_types": ["B001"], "keywords": ["합병"], "date_expression": "최근 1개월"}`,
	}
	h := newHarness(&fakeLLM{responses: script}, cat, store)

	env := h.orch.DeepSearch(context.Background(), "최근 1개월 합병", Options{})
	if env.Summary.Confidence != "low" {
		t.Fatalf("aborted run must be low confidence, got %q", env.Summary.Confidence)
	}
	if len(env.Documents) != 0 {
		t.Fatalf("aborted run must carry no documents, got %d", len(env.Documents))
	}
	found := false
	for _, f := range env.Telemetry.PartialFailures {
		if f.Kind == string(KindSearchUnavailable) {
			found = true
		}
	}
	if !found {
		t.Fatalf("SearchUnavailable not recorded: %+v", env.Telemetry.PartialFailures)
	}
}

func TestDeepSearchAllFetchesFailStillAnswers(t *testing.T) {
	cat, _ := catalogueWithMergers()
	store := &fakeStore{docErr: fmt.Errorf("network down")}
	script := []any{
		`{"companies": [], "doc_types": ["B001", "E003"], "keywords": ["합병"], "date_expression": "최근 1개월"}`,
		`{"sufficient": true}`,
		// narrative fails because nothing has a body; template takes over
	}
	h := newHarness(&fakeLLM{responses: script}, cat, store)
	env := h.orch.DeepSearch(context.Background(), "최근 1개월 합병 비율", Options{})

	if env.Summary.Confidence != "low" {
		t.Fatalf("zero bodies must yield low confidence, got %q", env.Summary.Confidence)
	}
	if len(env.Documents) == 0 {
		t.Fatal("refs must still be listed")
	}
	for _, d := range env.Documents {
		if d.FetchError == nil {
			t.Fatalf("expected fetch_error on %s", d.RceptNo)
		}
	}
	if env.Answer == "" {
		t.Fatal("template answer missing")
	}
}

func TestDeepSearchCacheStatsFlowIntoTelemetry(t *testing.T) {
	cat, store := catalogueWithMergers()
	c := cache.New(cache.NewMemoryStore(1 << 20))
	// warm the cache so the run observes hits
	for i := 0; i < 9; i++ {
		_, _ = c.GetOrFill(context.Background(), "warm", time.Minute, func(context.Context) ([]byte, error) {
			return []byte("x"), nil
		})
	}
	h := newHarness(&fakeLLM{responses: mergerScript()}, cat, store)
	h.orch.cacheStats = c.Stats

	env := h.orch.DeepSearch(context.Background(), "최근 1개월 합병", Options{})
	// no cache traffic during the run itself
	if env.Telemetry.CacheHitRate != 0 {
		t.Fatalf("run-scoped hit rate should be 0 without traffic, got %f", env.Telemetry.CacheHitRate)
	}
}

func TestClassifyKind(t *testing.T) {
	if ClassifyKind(context.Canceled) != KindCancelled {
		t.Fatal("context.Canceled must map to Cancelled")
	}
	if ClassifyKind(fmt.Errorf("wrap: %w", llm.ErrUnavailable)) != KindLLMUnavailable {
		t.Fatal("llm.ErrUnavailable must map to LLMUnavailable")
	}
	if ClassifyKind(phaseErr("search", KindSearchUnavailable, fmt.Errorf("x"))) != KindSearchUnavailable {
		t.Fatal("phase error kind must win")
	}
	if ClassifyKind(fmt.Errorf("odd")) != KindInternal {
		t.Fatal("unknown errors map to Internal")
	}
}
