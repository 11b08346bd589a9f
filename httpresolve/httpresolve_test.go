package httpresolve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a-h/modresolve/fetchcache"
	"github.com/a-h/modresolve/vfs"
)

func TestResolveDirectURL(t *testing.T) {
	r := New(nil, fetchcache.New(nil, nil), vfs.New())
	got, ok, err := r.Resolve("https://example.com/x.js", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ok || got.Path != "https://example.com/x.js" {
		t.Fatalf("got %+v, %v", got, ok)
	}
}

func TestResolveRelativeAgainstFinalURL(t *testing.T) {
	r := New(nil, fetchcache.New(nil, nil), vfs.New())
	got, ok, err := r.Resolve("./fp.js", "https://unpkg.com/lodash@4.17.21/lodash.js")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ok || got.Path != "https://unpkg.com/lodash@4.17.21/fp.js" {
		t.Fatalf("got %+v, %v", got, ok)
	}
}

func TestResolveAbsoluteReplacesPathname(t *testing.T) {
	r := New(nil, fetchcache.New(nil, nil), vfs.New())
	got, ok, err := r.Resolve("/other/path.js", "https://unpkg.com/lodash@4.17.21/lodash.js")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ok || got.Path != "https://unpkg.com/other/path.js" {
		t.Fatalf("got %+v, %v", got, ok)
	}
}

func TestResolveBareDelegatesToCall(t *testing.T) {
	r := New(nil, fetchcache.New(nil, nil), vfs.New())
	_, ok, err := r.Resolve("react", "https://unpkg.com/app/index.js")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ok {
		t.Fatal("expected bare specifier to pass (delegate to CDN resolver)")
	}
}

func TestLoadStoresContentAndExtractsAssets(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/main.js", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`export const worker = new URL("./worker.js", import.meta.url);`))
	})
	mux.HandleFunc("/worker.js", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`console.log("worker")`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fs := vfs.New()
	r := New(nil, fetchcache.New(nil, srv.Client()), fs)

	loaded, err := r.Load(context.Background(), srv.URL+"/main.js")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Loader != "js" {
		t.Fatalf("got loader %q, want js", loaded.Loader)
	}
	if len(loaded.AssetSHAs) != 1 {
		t.Fatalf("got %d asset SHAs, want 1", len(loaded.AssetSHAs))
	}
	for assetURL, sha := range loaded.AssetSHAs {
		if assetURL != srv.URL+"/worker.js" {
			t.Errorf("got asset URL %q, want %s/worker.js", assetURL, srv.URL)
		}
		if len(sha) != 64 {
			t.Errorf("expected 64-char hex sha256, got %d chars", len(sha))
		}
	}
}
