package fetchcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestForceModeServesFromCacheWithoutNetworkCall(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	c := New(nil, srv.Client())
	ctx := context.Background()

	if _, err := c.Fetch(ctx, srv.URL, Options{Mode: ModeForce}); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := c.Fetch(ctx, srv.URL, Options{Mode: ModeForce}); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected 1 network hit, got %d", got)
	}
}

func TestRedirectAliasServedFromCache(t *testing.T) {
	var hits int32
	var targetURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("final body"))
	})
	mux.HandleFunc("/original", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, targetURL, http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	targetURL = srv.URL + "/final"

	c := New(nil, srv.Client())
	ctx := context.Background()

	resp, err := c.Fetch(ctx, srv.URL+"/original", Options{Mode: ModeForce})
	if err != nil {
		t.Fatalf("initial fetch: %v", err)
	}
	if resp.FinalURL != targetURL {
		t.Fatalf("got final URL %q, want %q", resp.FinalURL, targetURL)
	}

	// A subsequent fetch to either the original or the final URL, in
	// normal or force mode, must be served from cache without a network
	// call (spec.md §8 universal invariant).
	if _, err := c.Fetch(ctx, srv.URL+"/original", Options{Mode: ModeForce}); err != nil {
		t.Fatalf("fetch via original: %v", err)
	}
	if _, err := c.Fetch(ctx, targetURL, Options{Mode: ModeForce}); err != nil {
		t.Fatalf("fetch via final: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected 1 network hit to /final, got %d", got)
	}
}

func TestOnlySuccessfulGETIsCached(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(nil, srv.Client())
	ctx := context.Background()

	if _, err := c.Fetch(ctx, srv.URL, Options{Mode: ModeForce, Retries: 0}); err == nil {
		t.Fatal("expected error for 404 response")
	}
	if _, err := c.Fetch(ctx, srv.URL, Options{Mode: ModeForce, Retries: 0}); err == nil {
		t.Fatal("expected error for 404 response on second fetch")
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("expected 404 responses to bypass cache storage, got %d hits", got)
	}
}

func TestReloadModeAlwaysHitsNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	c := New(nil, srv.Client())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Fetch(ctx, srv.URL, Options{Mode: ModeReload}); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("expected 3 network hits under reload mode, got %d", got)
	}
}

func TestNoStoreModeNeverCaches(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	c := New(nil, srv.Client())
	ctx := context.Background()

	if _, err := c.Fetch(ctx, srv.URL, Options{Mode: ModeNoStore}); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := c.Fetch(ctx, srv.URL, Options{Mode: ModeForce}); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("expected no-store fetch to bypass cache, got %d hits (want 2)", got)
	}
}

func TestProbeExtensionsFindsFirstMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pkg.mjs" {
			w.Write([]byte("module body"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(nil, srv.Client())
	ctx := context.Background()

	result, err := c.ProbeExtensions(ctx, srv.URL+"/pkg", nil)
	if err != nil {
		t.Fatalf("ProbeExtensions: %v", err)
	}
	if result.URL != srv.URL+"/pkg.mjs" {
		t.Fatalf("got %q, want %q", result.URL, srv.URL+"/pkg.mjs")
	}
}

func TestProbeExtensionsRejectsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html>not found</html>"))
	}))
	defer srv.Close()

	c := New(nil, srv.Client())
	ctx := context.Background()

	if _, err := c.ProbeExtensions(ctx, srv.URL+"/pkg", nil); err == nil {
		t.Fatal("expected probe to reject text/html responses")
	}
}
