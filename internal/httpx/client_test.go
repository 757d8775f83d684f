package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetRetriesOn5xxThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(5*time.Second, 3, time.Millisecond, nil)
	body, status, err := c.Get(context.Background(), srv.URL, nil, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if status != http.StatusOK || string(body) != "ok" {
		t.Fatalf("got %d %q", status, body)
	}
	if hits.Load() != 3 {
		t.Fatalf("server hit %d times, want 3", hits.Load())
	}
}

func TestGetDoesNotRetryOn404(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(5*time.Second, 3, time.Millisecond, nil)
	_, status, err := c.Get(context.Background(), srv.URL, nil, nil)
	if err == nil {
		t.Fatal("expected an error for 404")
	}
	if status != http.StatusNotFound {
		t.Fatalf("status = %d", status)
	}
	if hits.Load() != 1 {
		t.Fatalf("server hit %d times, want 1", hits.Load())
	}
}

func TestGet429MapsToRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(5*time.Second, 1, time.Millisecond, nil)
	_, _, err := c.Get(context.Background(), srv.URL, nil, nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestGetAppendsQueryParams(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := New(5*time.Second, 0, time.Millisecond, nil)
	_, _, err := c.Get(context.Background(), srv.URL+"?fixed=1", url.Values{"crtfc_key": {"abc"}}, map[string]string{"Accept": "application/json"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotQuery.Get("fixed") != "1" || gotQuery.Get("crtfc_key") != "abc" {
		t.Fatalf("query = %v", gotQuery)
	}
}

func TestAcquireBlocksAndFailsOnDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	host, _ := url.Parse(srv.URL)
	c := New(5*time.Second, 0, time.Millisecond, map[string]HostLimit{
		host.Hostname(): {Burst: 1},
	})

	// first call takes the only token
	if _, _, err := c.Get(context.Background(), srv.URL, nil, nil); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := c.Get(ctx, srv.URL, nil, nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on exhausted bucket, got %v", err)
	}
}

func TestBurstAdmitsAtMostNBeforeRefill(t *testing.T) {
	var served atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	host, _ := url.Parse(srv.URL)
	const n = 3
	c := New(5*time.Second, 0, time.Millisecond, map[string]HostLimit{
		host.Hostname(): {Burst: n},
	})

	done := make(chan error, n*3)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	for i := 0; i < n*3; i++ {
		go func() {
			_, _, err := c.Get(ctx, srv.URL, nil, nil)
			done <- err
		}()
	}
	ok := 0
	for i := 0; i < n*3; i++ {
		if err := <-done; err == nil {
			ok++
		}
	}
	// with rate n/s and a 100ms deadline, no more than n+1 tokens exist
	if ok > n+1 {
		t.Fatalf("%d calls completed before refill, want at most %d", ok, n+1)
	}
	if ok == 0 {
		t.Fatal("no call completed at all")
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 200; i++ {
		d := jitter(base)
		if d < 75*time.Millisecond || d > 125*time.Millisecond {
			t.Fatalf("jitter out of range: %v", d)
		}
	}
}
