package cdnresolve

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a-h/modresolve/exports"
	"github.com/a-h/modresolve/fetchcache"
)

func newTestResolver(t *testing.T, mux *http.ServeMux) (*Resolver, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(nil, fetchcache.New(nil, srv.Client())), srv
}

func TestResolveBareImportSemverRange(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/lodash", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"name":"lodash","dist-tags":{"latest":"4.17.21"},"versions":{"4.17.20":{},"4.17.21":{}}}`)
	})
	mux.HandleFunc("/lodash@4.17.21/package.json", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"name":"lodash","version":"4.17.21","main":"./lodash.js"}`)
	})
	r, srv := newTestResolver(t, mux)

	got, err := r.Resolve(context.Background(), Args{
		Spec:              "lodash",
		DependencyVersion: "^4.17.0",
		Conditions:        []string{"import", "browser", "default"},
		LegacyFields:      []string{"browser", "module", "main"},
		CDNOrigin:         srv.URL,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := srv.URL + "/lodash@4.17.21/lodash.js"
	if got.URL != want {
		t.Fatalf("got URL %q, want %q", got.URL, want)
	}
	if got.Version != "4.17.21" {
		t.Fatalf("got version %q, want 4.17.21", got.Version)
	}
	if got.PeerDependencies["lodash"] != "4.17.21" {
		t.Fatalf("expected peer dependency stabilization to record lodash@4.17.21, got %+v", got.PeerDependencies)
	}
}

func TestResolvePeerStabilizationSkipsRegistryLookup(t *testing.T) {
	hits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/react", func(w http.ResponseWriter, req *http.Request) {
		hits++
		fmt.Fprint(w, `{"name":"react","dist-tags":{"latest":"18.2.0"},"versions":{"18.2.0":{}}}`)
	})
	mux.HandleFunc("/react@18.2.0/package.json", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"name":"react","version":"18.2.0","main":"./index.js"}`)
	})
	r, srv := newTestResolver(t, mux)

	got, err := r.Resolve(context.Background(), Args{
		Spec:             "react",
		Conditions:       []string{"import", "default"},
		LegacyFields:     []string{"main"},
		CDNOrigin:        srv.URL,
		PeerDependencies: map[string]string{"react": "18.2.0"},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Version != "18.2.0" {
		t.Fatalf("got version %q, want 18.2.0", got.Version)
	}
	if hits != 0 {
		t.Fatalf("expected the already-stabilized peer version to skip the registry metadata fetch, got %d hits", hits)
	}
}

func TestResolveAliasRewritesSpec(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/preact-compat", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"name":"preact-compat","dist-tags":{"latest":"3.0.0"},"versions":{"3.0.0":{}}}`)
	})
	mux.HandleFunc("/preact-compat@3.0.0/package.json", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"name":"preact-compat","version":"3.0.0","main":"./index.js"}`)
	})
	r, srv := newTestResolver(t, mux)

	got, err := r.Resolve(context.Background(), Args{
		Spec:              "react",
		DependencyVersion: "npm:preact-compat@^3.0.0",
		Conditions:        []string{"import", "default"},
		LegacyFields:      []string{"main"},
		CDNOrigin:         srv.URL,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Name != "preact-compat" || got.Version != "3.0.0" {
		t.Fatalf("got %+v", got)
	}
}

func TestResolveSubpathImportRedispatches(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/lodash.es", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"name":"lodash.es","dist-tags":{"latest":"1.0.0"},"versions":{"1.0.0":{}}}`)
	})
	mux.HandleFunc("/lodash.es@1.0.0/package.json", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"name":"lodash.es","version":"1.0.0","main":"./index.js"}`)
	})
	r, srv := newTestResolver(t, mux)

	manifest, err := exports.ParseManifest([]byte(`{"name":"app","imports":{"#lodash":"lodash.es"}}`))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}

	got, err := r.Resolve(context.Background(), Args{
		Spec:             "#lodash",
		ImporterManifest: &manifest,
		Conditions:       []string{"import", "default"},
		LegacyFields:     []string{"main"},
		CDNOrigin:        srv.URL,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Name != "lodash.es" {
		t.Fatalf("got %+v", got)
	}
}

func TestResolveJSRDirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/@std/fs/meta.json", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"versions":{"1.0.0":{"yanked":false},"0.9.0":{"yanked":false}}}`)
	})
	mux.HandleFunc("/@std/fs/1.0.0_meta.json", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"exports":{".":"./mod.ts"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := New(nil, fetchcache.New(nil, srv.Client()))

	// Exercise parseJSRSpec + version/exports plumbing directly against the
	// test server's origin rather than going through Resolve.
	scope, name, version, subpath, err := parseJSRSpec("@std/fs@^1.0.0")
	if err != nil {
		t.Fatalf("parseJSRSpec: %v", err)
	}
	if scope != "std" || name != "fs" || version != "^1.0.0" || subpath != "" {
		t.Fatalf("got scope=%q name=%q version=%q subpath=%q", scope, name, version, subpath)
	}

	resolvedVersion, err := r.resolveJSRVersion(context.Background(), srv.URL, scope, name, version)
	if err != nil {
		t.Fatalf("resolveJSRVersion: %v", err)
	}
	if resolvedVersion != "1.0.0" {
		t.Fatalf("got resolved version %q, want 1.0.0", resolvedVersion)
	}
}

func TestResolveJSRFallsBackToESMSh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/@scope/broken/meta.json", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r, srv := newTestResolver(t, mux)

	got, err := r.Resolve(context.Background(), Args{Spec: "jsr:@scope/broken@1.0.0", CDNOrigin: srv.URL})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := "https://esm.sh/jsr/@scope/broken@1.0.0"
	if got.URL != want {
		t.Fatalf("got URL %q, want %q", got.URL, want)
	}
}

func TestResolveURLDependencyCallsBack(t *testing.T) {
	r, _ := newTestResolver(t, http.NewServeMux())

	var gotURL string
	manifest, err := exports.ParseManifest([]byte(`{"name":"mounted-pkg","version":"0.0.0-abc123"}`))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}

	got, err := r.Resolve(context.Background(), Args{
		Spec:              "mounted-pkg",
		DependencyVersion: "https://pkg.pr.new/owner/repo/mounted-pkg@abc123",
		ResolveURL: func(ctx context.Context, rawURL string) (URLResolution, error) {
			gotURL = rawURL
			return URLResolution{Namespace: "vfs", URL: "/__tarballs__/xyz/index.js", Manifest: manifest}, nil
		},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if gotURL != "https://pkg.pr.new/owner/repo/mounted-pkg@abc123" {
		t.Fatalf("ResolveURL got called with %q", gotURL)
	}
	if got.Namespace != "vfs" || got.URL != "/__tarballs__/xyz/index.js" {
		t.Fatalf("got %+v, want the callback's vfs-namespace result", got)
	}
	if got.PeerDependencies["mounted-pkg"] != "https://pkg.pr.new/owner/repo/mounted-pkg@abc123" {
		t.Fatalf("expected peer-dependency stabilization for a URL-valued dependency, got %+v", got.PeerDependencies)
	}
}

func TestResolveUnsupportedGitDependency(t *testing.T) {
	r, _ := newTestResolver(t, http.NewServeMux())
	_, err := r.Resolve(context.Background(), Args{
		Spec:              "some-fork",
		DependencyVersion: "github:someone/some-fork",
	})
	if err == nil {
		t.Fatal("expected an error for a git dependency spec")
	}
}
