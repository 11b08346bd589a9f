// Package fetchcache implements a redirect-aware, stable-identity fetch
// cache: a final-URL-keyed LRU of responses plus a secondary
// original-URL-to-final-URL LRU, with stale-while-revalidate background
// refresh and extension probing.
//
// The HTTP fetch loop (context-aware http.Client, streaming body read) is
// generalized from a one-shot downloader into a cache with four fetch
// modes, adding github.com/cenkalti/backoff/v4 for retry-with-backoff on
// transient network errors.
package fetchcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	responseCacheCapacity = 300
	redirectCacheCapacity = 500
)

// Mode selects the cache-interaction strategy for a Fetch call.
type Mode int

const (
	// ModeNormal serves from cache if present and schedules a background
	// refresh; otherwise it fetches and stores.
	ModeNormal Mode = iota
	// ModeForce serves from cache if present and never refreshes.
	ModeForce
	// ModeReload bypasses the cache lookup, always fetching, and stores
	// the result.
	ModeReload
	// ModeNoStore bypasses both lookup and storage.
	ModeNoStore
)

// Response is a cached (or freshly fetched) HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// FinalURL is the URL this response was ultimately served from, after
	// following redirects.
	FinalURL string
}

// FetchError is a terminal network error: a non-2xx response, or a
// transport failure, surviving configured retries.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Options configures a single Fetch call.
type Options struct {
	Mode    Mode
	Method  string // defaults to GET
	Retries int    // defaults to 2
}

// Persister is an optional platform-provided cache backing this cache's
// in-memory LRUs, so a fetched response survives process restarts. Set via
// SetPersister; a Cache with no persister set behaves exactly as before.
// persistcache.Store satisfies this interface without modification.
type Persister interface {
	Get(ctx context.Context, finalURL string) (*Response, bool, error)
	Put(ctx context.Context, resp *Response) error
}

// Cache is a fetch-cache instance. It is safe for concurrent use.
type Cache struct {
	log       *slog.Logger
	client    *http.Client
	responses *lru.Cache[string, *Response]
	redirects *lru.Cache[string, string]
	persist   Persister

	// refreshing deduplicates background refreshes per requested URL so a
	// burst of concurrent normal-mode hits schedules one refresh, not N.
	mu         sync.Mutex
	refreshing map[string]bool
}

// SetPersister attaches a Persister consulted on an in-memory miss and
// written to on every successful store. Not a New parameter, so it can be
// wired in after construction without disturbing existing callers.
func (c *Cache) SetPersister(p Persister) {
	c.persist = p
}

// New creates a fetch-cache using the given http.Client; a nil client is
// replaced by one with a 30-second timeout.
func New(log *slog.Logger, client *http.Client) *Cache {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	responses, _ := lru.New[string, *Response](responseCacheCapacity)
	redirects, _ := lru.New[string, string](redirectCacheCapacity)
	return &Cache{
		log:        log,
		client:     client,
		responses:  responses,
		redirects:  redirects,
		refreshing: make(map[string]bool),
	}
}

// Fetch retrieves url according to opts.Mode, returning the final response.
func (c *Cache) Fetch(ctx context.Context, url string, opts Options) (*Response, error) {
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	if opts.Retries == 0 {
		opts.Retries = 2
	}

	switch opts.Mode {
	case ModeReload:
		return c.fetchAndMaybeStore(ctx, url, opts, true)
	case ModeNoStore:
		return c.fetchAndMaybeStore(ctx, url, opts, false)
	case ModeForce, ModeNormal:
		if resp, ok := c.lookup(url); ok {
			if opts.Mode == ModeNormal {
				c.scheduleRefresh(url, opts)
			}
			return resp, nil
		}
		if c.persist != nil {
			if resp, ok, err := c.persist.Get(ctx, url); err == nil && ok {
				c.responses.Add(resp.FinalURL, resp)
				if resp.FinalURL != url {
					c.redirects.Add(url, resp.FinalURL)
				}
				if opts.Mode == ModeNormal {
					c.scheduleRefresh(url, opts)
				}
				return resp, nil
			}
		}
		return c.fetchAndMaybeStore(ctx, url, opts, true)
	default:
		return c.fetchAndMaybeStore(ctx, url, opts, true)
	}
}

// lookup resolves url (original or final) to a cached response without a
// network round trip.
func (c *Cache) lookup(url string) (*Response, bool) {
	if resp, ok := c.responses.Get(url); ok {
		return resp, true
	}
	if final, ok := c.redirects.Get(url); ok {
		if resp, ok := c.responses.Get(final); ok {
			return resp, true
		}
	}
	return nil, false
}

// scheduleRefresh runs a detached stale-while-revalidate refresh: try the
// original URL first (to discover new redirect targets, e.g. "@latest"
// drift), then fall back to the last-known final URL on 404. Errors are
// logged and swallowed, never surfaced to the caller that triggered the
// refresh, per spec.md §5 "Background stale-while-revalidate refreshes are
// detached and must not be awaited; they must catch their own errors."
func (c *Cache) scheduleRefresh(originalURL string, opts Options) {
	c.mu.Lock()
	if c.refreshing[originalURL] {
		c.mu.Unlock()
		return
	}
	c.refreshing[originalURL] = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, originalURL)
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		_, err := c.fetchAndMaybeStore(ctx, originalURL, opts, true)
		if err == nil {
			return
		}

		var ferr *FetchError
		if final, ok := c.redirects.Get(originalURL); ok && final != originalURL {
			if asFetchError(err, &ferr) && ferr.Status == http.StatusNotFound {
				if _, err := c.fetchAndMaybeStore(ctx, final, opts, true); err != nil {
					c.log.Debug("background refresh of final URL failed", slog.String("url", final), slog.Any("error", err))
				}
				return
			}
		}
		c.log.Debug("background refresh failed", slog.String("url", originalURL), slog.Any("error", err))
	}()
}

func asFetchError(err error, target **FetchError) bool {
	fe, ok := err.(*FetchError)
	if ok {
		*target = fe
	}
	return ok
}

// fetchAndMaybeStore performs the network request (with retry), and, if
// store is true and the response is a successful GET, caches it.
func (c *Cache) fetchAndMaybeStore(ctx context.Context, url string, opts Options, store bool) (*Response, error) {
	resp, err := c.doWithRetry(ctx, url, opts)
	if err != nil {
		return nil, err
	}

	if store && opts.Method == http.MethodGet && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.responses.Add(resp.FinalURL, resp)
		if resp.FinalURL != url {
			c.redirects.Add(url, resp.FinalURL)
		}
		if c.persist != nil {
			if err := c.persist.Put(ctx, resp); err != nil {
				c.log.Debug("persisting fetched response failed", slog.String("url", resp.FinalURL), slog.Any("error", err))
			}
		}
	}
	return resp, nil
}

// doWithRetry performs a single HTTP round trip, retrying transport errors
// and 5xx responses up to opts.Retries times with exponential backoff.
func (c *Cache) doWithRetry(ctx context.Context, url string, opts Options) (*Response, error) {
	var resp *Response
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(opts.Retries))

	operation := func() error {
		r, err := c.doOnce(ctx, url, opts.Method)
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 {
			return &FetchError{URL: url, Status: r.StatusCode}
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		if ferr, ok := err.(*FetchError); ok {
			return nil, ferr
		}
		return nil, &FetchError{URL: url, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, &FetchError{URL: url, Status: resp.StatusCode}
	}
	return resp, nil
}

func (c *Cache) doOnce(ctx context.Context, url, method string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if method == http.MethodHead {
		// HEAD bodies are never read into memory; per spec.md §4.4, on a
		// failed/refused HEAD the caller falls back to GET.
		if httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusMethodNotAllowed {
			return c.doOnce(ctx, url, http.MethodGet)
		}
		return &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			FinalURL:   httpResp.Request.URL.String(),
		}, nil
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		FinalURL:   httpResp.Request.URL.String(),
	}, nil
}

// extensionPairs is the fixed probe order from spec.md §4.4. Note ".ts"
// is probed before ".cjs": preserved verbatim per spec.md §9's open
// question, intentional for a TS-first audience and not reordered to
// match esbuild.
var extensionPairs = []string{"", "/index"}
var extensionSuffixes = []string{"", ".js", ".mjs", ".ts", ".tsx", ".cjs", ".jsx", ".mts", ".cts"}

// ProbeResult is the outcome of a successful extension probe.
type ProbeResult struct {
	URL      string
	Response *Response
}

// ProbeExtensions tries every {prefix}×{suffix} combination against
// baseURL in the fixed spec order, returning the first success. failed is a
// negative-probe cache (failedExtensionChecks in spec.md's terms); callers
// share one across a build so repeat misses short-circuit.
func (c *Cache) ProbeExtensions(ctx context.Context, baseURL string, failed *lru.Cache[string, struct{}]) (*ProbeResult, error) {
	var firstErr error
	for _, prefix := range extensionPairs {
		for _, suffix := range extensionSuffixes {
			candidate := baseURL
			if prefix == "/index" {
				candidate = strings.TrimSuffix(candidate, "/") + "/index"
			}
			candidate += suffix

			if failed != nil {
				if _, bad := failed.Get(candidate); bad {
					continue
				}
			}

			resp, err := c.Fetch(ctx, candidate, Options{Mode: ModeNormal})
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				if failed != nil {
					failed.Add(candidate, struct{}{})
				}
				continue
			}
			if isHTMLMismatch(resp) {
				if firstErr == nil {
					firstErr = fmt.Errorf("unexpected text/html response for %s", candidate)
				}
				if failed != nil {
					failed.Add(candidate, struct{}{})
				}
				continue
			}
			return &ProbeResult{URL: candidate, Response: resp}, nil
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("no extension matched for %s", baseURL)
	}
	return nil, firstErr
}

// isHTMLMismatch reports a response that looks like an HTML error/landing
// page where a JS-adjacent payload was expected, per spec.md §4.4.
func isHTMLMismatch(resp *Response) bool {
	ct := resp.Header.Get("Content-Type")
	return strings.Contains(ct, "text/html")
}

// Reader is a convenience helper for tests and callers that want an
// io.Reader view of a cached response body.
func (r *Response) Reader() io.Reader {
	return bytes.NewReader(r.Body)
}
