// Package tarball implements the mount engine: parsing a tarball-CDN URL,
// content-addressing the mount by a normalized-URL digest, at-most-once
// extraction under concurrent load, and self-reference routing for
// imports from inside a mounted package. Concurrency uses a mutex-guarded
// map of in-flight channels, the same "in progress" map idiom fetchcache
// uses for background refreshes, keyed here by a content hash with a
// mount record as the guarded value rather than a bare boolean.
package tarball

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/a-h/modresolve/archivedetect"
	"github.com/a-h/modresolve/exports"
	"github.com/a-h/modresolve/fetchcache"
	"github.com/a-h/modresolve/pathutil"
	"github.com/a-h/modresolve/vfs"
)

// MountRoot is the fixed VFS prefix mounted tarballs are extracted under.
const MountRoot = "/__tarballs__"

// ParsedURL is the outcome of parsing a tarball CDN URL into its package
// identity, per spec.md §4.6 step 1.
type ParsedURL struct {
	PkgSpec    string // the raw "name@version" or "name" segment
	Name       string
	Version    string
	Subpath    string
	PackageURL string // the URL up to and including the package spec, used for the mount key
	Owner      string // set for the non-compact "/<owner>/<repo>/<spec>/..." shape
	Repo       string
}

// nonPackageRoutes are known paths on tarball-style CDN hosts that are
// never package requests (health checks, well-known files, etc.).
var nonPackageRoutes = map[string]bool{
	"/favicon.ico": true,
	"/robots.txt":  true,
	"/health":      true,
}

// ParseURL parses u into a ParsedURL, supporting both the compact
// "/<spec>/…" shape and the non-compact "/<owner>/<repo>/<spec>/…" shape.
// Per spec.md §9's open question, the non-compact heuristic is: the third
// path segment starts with "@" or contains "@" — publisher convention,
// not a formal grammar. The heuristic is applied as is and no ambiguity is
// reported: a path whose third segment matches it is always read as the
// non-compact shape. A scoped spec ("@scope/name@version") spans two path
// segments in either shape.
func ParseURL(rawURL string) (ParsedURL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ParsedURL{}, fmt.Errorf("tarball: parsing URL %q: %w", rawURL, err)
	}
	if nonPackageRoutes[u.Path] {
		return ParsedURL{}, fmt.Errorf("tarball: %q is a known non-package route", u.Path)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return ParsedURL{}, fmt.Errorf("tarball: empty path in %q", rawURL)
	}

	if len(segments) >= 3 && (strings.HasPrefix(segments[2], "@") || strings.Contains(segments[2], "@")) {
		owner, repo, spec := segments[0], segments[1], segments[2]
		rest := segments[3:]
		if strings.HasPrefix(spec, "@") && len(rest) > 0 {
			spec, rest = spec+"/"+rest[0], rest[1:]
		}
		name, version, err := splitPkgSpec(spec)
		if err != nil {
			return ParsedURL{}, err
		}
		packageURL := fmt.Sprintf("%s://%s/%s/%s/%s", u.Scheme, u.Host, owner, repo, spec)
		return ParsedURL{
			PkgSpec:    spec,
			Name:       name,
			Version:    version,
			Subpath:    strings.Join(rest, "/"),
			PackageURL: packageURL,
			Owner:      owner,
			Repo:       repo,
		}, nil
	}

	spec := segments[0]
	rest := segments[1:]
	if strings.HasPrefix(spec, "@") && len(rest) > 0 {
		spec, rest = spec+"/"+rest[0], rest[1:]
	}
	name, version, err := splitPkgSpec(spec)
	if err != nil {
		return ParsedURL{}, err
	}
	packageURL := fmt.Sprintf("%s://%s/%s", u.Scheme, u.Host, spec)
	return ParsedURL{
		PkgSpec:    spec,
		Name:       name,
		Version:    version,
		Subpath:    strings.Join(rest, "/"),
		PackageURL: packageURL,
	}, nil
}

func splitPkgSpec(spec string) (name, version string, err error) {
	scoped := strings.HasPrefix(spec, "@")
	rest := spec
	scopePrefix := ""
	if scoped {
		idx := strings.Index(spec, "/")
		if idx < 0 {
			return "", "", fmt.Errorf("tarball: malformed scoped package spec %q", spec)
		}
		scopePrefix = spec[:idx]
		rest = spec[idx+1:]
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		name = rest
	} else {
		name = rest[:at]
		version = rest[at+1:]
	}
	if scoped {
		name = scopePrefix + "/" + name
	}
	return name, version, nil
}

// normalizeURL strips a URL fragment and sorts query parameters, for the
// content-addressing key computation in spec.md §3 ("normalized: hash
// removed, query parameters sorted").
func normalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	if u.RawQuery != "" {
		values := u.Query()
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		for i, k := range keys {
			vs := values[k]
			sort.Strings(vs)
			for j, v := range vs {
				if i+j > 0 {
					sb.WriteString("&")
				}
				sb.WriteString(url.QueryEscape(k))
				sb.WriteString("=")
				sb.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = sb.String()
	}
	return u.String(), nil
}

// Key computes the stable, content-addressed mount key for a package URL.
func Key(packageURL string) (string, error) {
	normalized, err := normalizeURL(packageURL)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16], nil
}

// UnsupportedCompressionError reports a recognized-but-unextractable
// compression wrapper (e.g. ".tar.lz"), distinguishing "we know what this
// is and can't open it" from a generic sniff failure.
type UnsupportedCompressionError struct {
	URL         string
	Compression string
}

func (e *UnsupportedCompressionError) Error() string {
	return fmt.Sprintf("tarball: unsupported compression %q for %q", e.Compression, e.URL)
}

// Mount is an installed tarball, per spec.md §3's "Tarball mount" record.
type Mount struct {
	CreatedAt   time.Time
	PackageRoot string
	Manifest    exports.Manifest
	SourceURL   string
	// ExtractedFiles lists every regular-file VFS path written during
	// extraction, relative to nothing (full VFS paths under PackageRoot).
	// The VFS itself deliberately supports no directory enumeration, so
	// this is the only way a caller (the mount CLI command) can report
	// what landed without re-deriving it from the tar stream.
	ExtractedFiles []string
}

// Engine owns the mount/inflight maps and performs fetch-detect-extract.
type Engine struct {
	log   *slog.Logger
	cache *fetchcache.Cache
	fs    *vfs.FS

	mu      sync.Mutex
	mounts  map[string]*Mount
	inflight map[string]chan struct{}
}

// New creates a tarball mount engine.
func New(log *slog.Logger, cache *fetchcache.Cache, fs *vfs.FS) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		log:      log,
		cache:    cache,
		fs:       fs,
		mounts:   make(map[string]*Mount),
		inflight: make(map[string]chan struct{}),
	}
}

// Mount returns the existing mount for key if present, otherwise performs
// extraction (or awaits a concurrent extraction already in flight),
// guaranteeing at-most-one extraction per key per spec.md §5.
func (e *Engine) Mount(ctx context.Context, parsed ParsedURL) (*Mount, error) {
	key, err := Key(parsed.PackageURL)
	if err != nil {
		return nil, fmt.Errorf("tarball: computing mount key: %w", err)
	}

	for {
		e.mu.Lock()
		if m, ok := e.mounts[key]; ok {
			e.mu.Unlock()
			return m, nil
		}
		if ch, ok := e.inflight[key]; ok {
			e.mu.Unlock()
			select {
			case <-ch:
				continue // re-check: either mounted now, or failed and no longer inflight
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		ch := make(chan struct{})
		e.inflight[key] = ch
		e.mu.Unlock()

		m, extractErr := e.extract(ctx, key, parsed)

		e.mu.Lock()
		if extractErr == nil {
			e.mounts[key] = m
		}
		delete(e.inflight, key)
		close(ch)
		e.mu.Unlock()

		return m, extractErr
	}
}

// extract fetches, detects, and unpacks parsed's package URL into the
// VFS under MountRoot/key, per spec.md §4.6 step 3.
func (e *Engine) extract(ctx context.Context, key string, parsed ParsedURL) (*Mount, error) {
	resp, err := e.cache.Fetch(ctx, parsed.PackageURL, fetchcache.Options{Mode: fetchcache.ModeNormal})
	if err != nil {
		return nil, fmt.Errorf("tarball: fetching %q: %w", parsed.PackageURL, err)
	}

	nameHint := archivedetect.DetectFromName(parsed.PackageURL)
	headerHint := archivedetect.DetectFromHeaders(resp.Header)
	sniffed, body, err := archivedetect.Sniff(resp.Reader())
	if err != nil {
		return nil, fmt.Errorf("tarball: sniffing archive format: %w", err)
	}

	result := mergeDetection(nameHint, headerHint, sniffed)
	if !result.IsTarballLike || result.Container != archivedetect.ContainerTar {
		return nil, fmt.Errorf("tarball: %q is not tarball-like (container=%v compression=%v confidence=%v reasons=%v)",
			parsed.PackageURL, result.Container, result.Compression, result.Confidence, result.Reasons)
	}

	var tarStream io.Reader
	switch result.Compression {
	case archivedetect.CompressionGzip:
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("tarball: gunzip failed for %q: %w", parsed.PackageURL, err)
		}
		defer gz.Close()
		tarStream = gz
	case archivedetect.CompressionXZ:
		xr, err := xz.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("tarball: unxz failed for %q: %w", parsed.PackageURL, err)
		}
		tarStream = xr
	case archivedetect.CompressionNone:
		tarStream = body
	default:
		return nil, &UnsupportedCompressionError{URL: parsed.PackageURL, Compression: string(result.Compression)}
	}

	packageRoot := path.Join(MountRoot, key)
	manifestBytes, files, err := e.extractEntries(tarStream, packageRoot)
	if err != nil {
		return nil, fmt.Errorf("tarball: extracting %q: %w", parsed.PackageURL, err)
	}

	manifest := parseManifestOrFallback(e.log, manifestBytes, packageRoot, e.fs)

	return &Mount{
		CreatedAt:      currentTime(),
		PackageRoot:    packageRoot,
		Manifest:       manifest,
		SourceURL:      parsed.PackageURL,
		ExtractedFiles: files,
	}, nil
}

// currentTime is a seam so tests can avoid depending on wall-clock time;
// production code always calls time.Now.
var currentTime = time.Now

func mergeDetection(nameHint, headerHint, sniffed archivedetect.Result) archivedetect.Result {
	result := sniffed
	if result.Container == archivedetect.ContainerNone {
		result.Container = nameHint.Container
		if result.Container == archivedetect.ContainerNone {
			result.Container = headerHint.Container
		}
	}
	if result.Compression == archivedetect.CompressionNone {
		result.Compression = nameHint.Compression
		if result.Compression == archivedetect.CompressionNone {
			result.Compression = headerHint.Compression
		}
	}
	result.IsTarballLike = result.IsTarballLike || nameHint.IsTarballLike || headerHint.IsTarballLike || result.Container == archivedetect.ContainerTar
	result.Reasons = append(append(append([]string{}, sniffed.Reasons...), nameHint.Reasons...), headerHint.Reasons...)
	return result
}

// extractEntries writes each tar entry into the VFS under packageRoot,
// stripping a leading "package/" prefix, and returns the bytes of
// package.json if one was encountered.
func (e *Engine) extractEntries(r io.Reader, packageRoot string) (manifestBytes []byte, files []string, err error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return manifestBytes, files, fmt.Errorf("reading tar entry: %w", err)
		}

		name := strings.TrimPrefix(hdr.Name, "package/")
		name = strings.TrimPrefix(name, "/")
		if name == "" {
			continue
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		content, err := io.ReadAll(tr)
		if err != nil {
			return manifestBytes, files, fmt.Errorf("reading tar entry %q: %w", hdr.Name, err)
		}

		vfsPath := path.Join(packageRoot, name)
		e.fs.Set(vfsPath, content)
		files = append(files, vfsPath)

		if name == "package.json" {
			manifestBytes = content
		}
	}
	return manifestBytes, files, nil
}

func parseManifestOrFallback(log *slog.Logger, manifestBytes []byte, packageRoot string, fs *vfs.FS) exports.Manifest {
	if manifestBytes == nil {
		if b, ok := fs.GetBytes(path.Join(packageRoot, "package.json")); ok {
			manifestBytes = b
		}
	}
	if manifestBytes != nil {
		m, err := exports.ParseManifest(manifestBytes)
		if err == nil {
			return m
		}
		log.Warn("failed to parse package.json from mounted tarball", slog.Any("error", err))
	}
	return exports.Manifest{Name: "unknown", Version: "0.0.0"}
}

// ResolveSubpath resolves a mount's requested subpath against its
// manifest via the exports resolver, returning the VFS path to load, per
// spec.md §4.6 step 4.
func ResolveSubpath(m *Mount, subpath string, conditions, requireConditions, legacyFields []string) (string, error) {
	entry, _, err := exports.ResolvePackageEntry(m.Manifest, subpath, conditions, requireConditions, legacyFields, subpath != "" && subpath != ".")
	if err != nil {
		return "", err
	}
	rel := strings.TrimPrefix(entry, "./")
	return pathutil.Join(m.PackageRoot, rel), nil
}

// IsSelfReference reports whether importSpecifier, made from inside
// m's packageRoot, refers back to the mount's own package (its name, or
// a subpath of it), per spec.md §4.6's "Self-reference routing".
func IsSelfReference(m *Mount, importSpecifier string) (subpath string, ok bool) {
	name := m.Manifest.Name
	if name == "" {
		return "", false
	}
	if importSpecifier == name {
		return "", true
	}
	if strings.HasPrefix(importSpecifier, name+"/") {
		return strings.TrimPrefix(importSpecifier, name+"/"), true
	}
	return "", false
}

// IsInsideMount reports whether vfsPath lies within m's packageRoot.
func IsInsideMount(m *Mount, vfsPath string) bool {
	return strings.HasPrefix(vfsPath, m.PackageRoot+"/") || vfsPath == m.PackageRoot
}
