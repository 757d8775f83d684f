package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kfin-labs/dartdeep/internal/company"
	"github.com/kfin-labs/dartdeep/internal/dart"
	"github.com/kfin-labs/dartdeep/internal/llm"
)

// fakeLLM replays scripted responses in call order. An entry that is an
// error fails that call.
type fakeLLM struct {
	mu        sync.Mutex
	responses []any // string or error
	requests  []llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.responses) == 0 {
		return "", fmt.Errorf("%w: no scripted response", llm.ErrUnavailable)
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	if err, ok := next.(error); ok {
		return "", err
	}
	return next.(string), nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeResolver struct {
	byName map[string]company.Candidate
}

func (f *fakeResolver) Best(_ context.Context, name string) (*company.Candidate, error) {
	if c, ok := f.byName[name]; ok {
		return &c, nil
	}
	return nil, nil
}

// fakeCatalogue serves scripted pages keyed by corp code + detail type and
// can fail selected sub-queries.
type fakeCatalogue struct {
	mu      sync.Mutex
	refs    []dart.FilingRef
	failAll bool
	failFor map[string]error // keyed by detail type
	calls   []dart.SearchParams
	delay   time.Duration
}

func (f *fakeCatalogue) Search(ctx context.Context, p dart.SearchParams) (*dart.SearchPage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failAll {
		return nil, errors.New("catalogue down")
	}
	if err, ok := f.failFor[p.DetailType]; ok {
		return nil, err
	}
	var out []dart.FilingRef
	for _, r := range f.refs {
		if p.CorpCode != "" && r.CorpCode != p.CorpCode {
			continue
		}
		if p.DetailType != "" && r.DetailType != p.DetailType {
			continue
		}
		if r.RceptDt < p.BgnDe || r.RceptDt > p.EndDe {
			continue
		}
		out = append(out, r)
	}
	return &dart.SearchPage{Refs: out, PageNo: p.PageNo, TotalPage: 1, TotalCount: len(out)}, nil
}

// fakeStore backs the fetcher: scripted archive bodies and structured rows.
type fakeStore struct {
	mu          sync.Mutex
	documents   map[string][]byte              // rcept_no -> raw body
	structured  map[string][]map[string]string // endpoint -> rows
	docErr      error
	delay       time.Duration
	inFlight    int
	maxInFlight int
}

func (f *fakeStore) Document(ctx context.Context, rceptNo string) ([]byte, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.docErr != nil {
		return nil, f.docErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.documents[rceptNo]; ok {
		return b, nil
	}
	return nil, errors.New("document missing")
}

func (f *fakeStore) StructuredRows(_ context.Context, endpoint string, _ map[string]string) ([]map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.structured[endpoint], nil
}

func ref(no, corp, corpCode, report, dt, detailType string) dart.FilingRef {
	return dart.FilingRef{
		RceptNo:    no,
		CorpName:   corp,
		CorpCode:   corpCode,
		ReportNm:   report,
		RceptDt:    dt,
		DetailType: detailType,
	}
}

func newRun() *runState {
	return &runState{id: "test", opts: Options{}.withDefaults()}
}
