// Package httpresolve implements the HTTP resolver/loader: resolving
// specifiers inside already-loaded HTTP modules against the importer's
// final URL, fetching and caching module content, and discovering
// referenced assets. Built fresh on fetchcache and vfs, following the
// small-struct-wrapping-its-dependencies-with-a-constructor convention
// used throughout this module's downloader-shaped code.
package httpresolve

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/a-h/modresolve/fetchcache"
	"github.com/a-h/modresolve/pathutil"
	"github.com/a-h/modresolve/vfs"
)

// Namespace is the canonical identity namespace this resolver owns.
const Namespace = "http"

// Result is a successful HTTP resolution.
type Result struct {
	Namespace string
	Path      string // the resolved URL
}

// Loaded is the outcome of loading an HTTP-namespace path.
type Loaded struct {
	Contents   []byte
	Loader     string
	FinalURL   string
	AssetSHAs  map[string]string // referenced asset URL -> sha256 hex digest
}

// Resolver resolves and loads HTTP(S)-namespace modules.
type Resolver struct {
	log   *slog.Logger
	cache *fetchcache.Cache
	fs    *vfs.FS
}

// New creates an HTTP resolver.
func New(log *slog.Logger, cache *fetchcache.Cache, fs *vfs.FS) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{log: log, cache: cache, fs: fs}
}

// Resolve implements spec.md §4.7's four branches. importerFinalURL is the
// importer's final URL (after redirects), carried in plugin data; it is
// empty when there is no HTTP importer (e.g. a direct URL specifier from
// user source).
func (r *Resolver) Resolve(spec, importerFinalURL string) (Result, bool, error) {
	switch {
	case pathutil.IsURL(spec):
		return Result{Namespace: Namespace, Path: spec}, true, nil

	case pathutil.IsRelative(spec):
		if importerFinalURL == "" {
			return Result{}, false, nil
		}
		base, err := url.Parse(importerFinalURL)
		if err != nil {
			return Result{}, false, fmt.Errorf("httpresolve: parsing importer URL %q: %w", importerFinalURL, err)
		}
		joined, err := pathutil.JoinURL(base, spec)
		if err != nil {
			return Result{}, false, fmt.Errorf("httpresolve: joining %q against %q: %w", spec, importerFinalURL, err)
		}
		return Result{Namespace: Namespace, Path: joined}, true, nil

	case pathutil.IsAbsolute(spec):
		if importerFinalURL == "" {
			return Result{}, false, nil
		}
		base, err := url.Parse(importerFinalURL)
		if err != nil {
			return Result{}, false, fmt.Errorf("httpresolve: parsing importer URL %q: %w", importerFinalURL, err)
		}
		base.Path = spec
		base.RawQuery = ""
		return Result{Namespace: Namespace, Path: base.String()}, true, nil

	default:
		// Bare specifiers delegate to the CDN resolver; this resolver
		// passes.
		return Result{}, false, nil
	}
}

// assetRefPattern scans module source for `new URL("...", import.meta.url)`
// references, per spec.md §4.7's "extracts referenced assets" rule.
var assetRefPattern = regexp.MustCompile(`new\s+URL\(\s*["']([^"']+)["']\s*,\s*import\.meta\.url\s*\)`)

// Load fetches reqURL, stores its content in the VFS at a derived path,
// discovers and fetches referenced assets, and returns the loaded result.
func (r *Resolver) Load(ctx context.Context, reqURL string) (Loaded, error) {
	resp, err := r.cache.Fetch(ctx, reqURL, fetchcache.Options{Mode: fetchcache.ModeNormal})
	if err != nil {
		return Loaded{}, fmt.Errorf("httpresolve: fetching %q: %w", reqURL, err)
	}

	vfsPath, err := derivedVFSPath(resp.FinalURL)
	if err != nil {
		return Loaded{}, err
	}
	r.fs.Set(vfsPath, resp.Body)

	assetSHAs, err := r.extractAssets(ctx, resp.FinalURL, resp.Body)
	if err != nil {
		return Loaded{}, err
	}

	return Loaded{
		Contents:  resp.Body,
		Loader:    inferLoader(resp.FinalURL),
		FinalURL:  resp.FinalURL,
		AssetSHAs: assetSHAs,
	}, nil
}

// derivedVFSPath maps a fetched URL to a VFS path of "host + pathname",
// the convention spec.md §4.7 specifies for storing fetched bytes.
func derivedVFSPath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("httpresolve: parsing %q: %w", rawURL, err)
	}
	p := u.Path
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return "/" + u.Host + p, nil
}

func (r *Resolver) extractAssets(ctx context.Context, baseURL string, source []byte) (map[string]string, error) {
	matches := assetRefPattern.FindAllSubmatch(source, -1)
	if len(matches) == 0 {
		return nil, nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("httpresolve: parsing base URL %q: %w", baseURL, err)
	}

	result := make(map[string]string, len(matches))
	for _, m := range matches {
		ref := string(m[1])
		assetURL, err := pathutil.JoinURL(base, ref)
		if err != nil {
			r.log.Warn("skipping unresolvable asset reference", slog.String("ref", ref), slog.Any("error", err))
			continue
		}
		resp, err := r.cache.Fetch(ctx, assetURL, fetchcache.Options{Mode: fetchcache.ModeNormal})
		if err != nil {
			r.log.Warn("failed to fetch referenced asset", slog.String("url", assetURL), slog.Any("error", err))
			continue
		}
		vfsPath, err := derivedVFSPath(resp.FinalURL)
		if err != nil {
			continue
		}
		r.fs.Set(vfsPath, resp.Body)

		sum := sha256.Sum256(resp.Body)
		result[assetURL] = hex.EncodeToString(sum[:])
	}
	return result, nil
}

// inferLoader picks a loader tag from the URL's extension, defaulting to
// "js" for extensionless URLs (e.g. a bare CDN entry point).
func inferLoader(rawURL string) string {
	u, err := url.Parse(rawURL)
	path := rawURL
	if err == nil {
		path = u.Path
	}
	switch {
	case strings.HasSuffix(path, ".ts"):
		return "ts"
	case strings.HasSuffix(path, ".tsx"):
		return "tsx"
	case strings.HasSuffix(path, ".jsx"):
		return "jsx"
	case strings.HasSuffix(path, ".mjs"):
		return "js"
	case strings.HasSuffix(path, ".cjs"):
		return "js"
	case strings.HasSuffix(path, ".json"):
		return "json"
	case strings.HasSuffix(path, ".css"):
		return "css"
	default:
		return "js"
	}
}
