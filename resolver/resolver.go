// Package resolver composes the leaf resolvers — alias, external,
// tarball, VFS, HTTP, CDN — into one ordered chain, threading a shared,
// narrowable context across hops and translating each leaf's result into
// a common Resolution. The shape follows the pattern of wiring
// independent, small handler packages behind one entry point (a mux
// composing separate storage/save/integrity-check packages elsewhere in
// this codebase's lineage), adapted here to a programmatic resolution
// chain instead of a router.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/a-h/modresolve/cdnresolve"
	"github.com/a-h/modresolve/cdnurl"
	"github.com/a-h/modresolve/condition"
	"github.com/a-h/modresolve/exports"
	"github.com/a-h/modresolve/fetchcache"
	"github.com/a-h/modresolve/httpresolve"
	"github.com/a-h/modresolve/pathutil"
	"github.com/a-h/modresolve/pkgname"
	"github.com/a-h/modresolve/pluginctx"
	"github.com/a-h/modresolve/sideeffects"
	"github.com/a-h/modresolve/tarball"
	"github.com/a-h/modresolve/vfs"
	"github.com/a-h/modresolve/vfsresolve"
)

// ResolutionError wraps any failure to resolve a specifier with the
// specifier and importer that triggered it, per spec.md §7's error
// taxonomy.
type ResolutionError struct {
	Specifier string
	Importer  string
	Err       error
}

func (e *ResolutionError) Error() string {
	if e.Importer == "" {
		return fmt.Sprintf("resolver: cannot resolve %q: %v", e.Specifier, e.Err)
	}
	return fmt.Sprintf("resolver: cannot resolve %q from %q: %v", e.Specifier, e.Importer, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// UnsupportedSpec reports a dependency-spec kind this core deliberately
// does not resolve (git/file/directory/workspace/link), per spec.md §4.8's
// Non-goals.
type UnsupportedSpec struct {
	Spec string
	Kind string
}

func (e *UnsupportedSpec) Error() string {
	return fmt.Sprintf("resolver: unsupported dependency spec kind %q: %q", e.Kind, e.Spec)
}

// ArchiveError reports a tarball that could not be confidently classified
// or extracted as tar-shaped content.
type ArchiveError struct {
	URL string
	Err error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("resolver: archive error for %q: %v", e.URL, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// UnsupportedCompression reports a compression wrapper archivedetect could
// classify but tarball.Engine cannot extract (bzip2, zstd, lz4, lzip,
// classic-Unix-compress, or an unrecognized wrapper).
type UnsupportedCompression struct {
	URL         string
	Compression string
}

func (e *UnsupportedCompression) Error() string {
	return fmt.Sprintf("resolver: unsupported compression %q for %q", e.Compression, e.URL)
}

// Context is the shared, narrowable per-resolution environment from
// spec.md §4.1: condition sets computed once per build, plus the plugin
// data traversal carrier that narrows hop-by-hop.
type Context struct {
	Conditions        []string
	RequireConditions []string
	LegacyFields      []string
	Data              pluginctx.Data
}

// With returns a copy of c with partial's fields merged into c.Data,
// leaving c itself untouched.
func (c Context) With(partial pluginctx.Data) Context {
	next := c
	next.Data = c.Data.With(partial)
	return next
}

// Resolution is a successful resolve_specifier outcome.
type Resolution struct {
	Namespace   string
	Path        string
	External    bool
	SideEffects bool
	Data        pluginctx.Data
}

// defaultResolveExtensions is used when a Config carries no
// ResolveExtensions of its own.
var defaultResolveExtensions = []string{".js", ".mjs", ".ts", ".tsx", ".cjs", ".jsx", ".mts", ".cts"}

// Config groups the build-wide settings that shape every resolution: the
// target platform/format, the active condition/main-fields overlay, the
// runtime environment, the CDN origin, a static alias table, polyfill
// substitutions, the build's entry points, and the extension probe order.
// Passed by value into New, the way the teacher's ServeCmd/S3Flags group
// config into plain structs with defaults rather than ad hoc globals.
type Config struct {
	Platform   condition.Platform
	Format     condition.Format
	Conditions []string
	MainFields []string
	Runtime    string // key into condition.Overlays, or ""
	CDNOrigin  string

	// Alias rewrites an exact bare specifier to another specifier before
	// any other resolver sees it.
	Alias map[string]string

	// Externals marks bare specifiers left unresolved (returned with
	// External:true), per spec.md §4.1's "alias and external resolvers...
	// run first".
	Externals map[string]bool

	// Polyfill rewrites an exact bare specifier the same way Alias does,
	// but is checked first: it models a build-wide substitution (e.g. a
	// node builtin to a browser polyfill package) layered ahead of a
	// user's own aliases.
	Polyfill map[string]string

	// EntryPoints is the build's own list of specifiers to resolve from
	// the root; this resolver chain does not iterate it itself (that is
	// a driving bundler's job), but carries it so one Config is the
	// single source of truth for a build.
	EntryPoints []string

	ResolveExtensions []string

	// RootManifest is the build's own package.json. Per spec.md §4.8 step
	// 1 ("merge initial manifest (from config) with inherited manifest
	// (from plugin data)"), its dependency maps take precedence over an
	// inherited importer's when both declare the same package, and feed
	// the flattened dep map an un-pinned bare import's DependencyVersion
	// is drawn from.
	RootManifest *exports.Manifest
}

// Resolver owns the leaf resolvers and the alias/external tables, and
// implements the ordered chain.
type Resolver struct {
	log   *slog.Logger
	fs    *vfs.FS
	cache *fetchcache.Cache
	cfg   Config

	vfsR    *vfsresolve.Resolver
	httpR   *httpresolve.Resolver
	cdnR    *cdnresolve.Resolver
	tarball *tarball.Engine
}

// New creates a Resolver from cfg.
func New(log *slog.Logger, fs *vfs.FS, cache *fetchcache.Cache, cfg Config) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	extensions := cfg.ResolveExtensions
	if len(extensions) == 0 {
		extensions = defaultResolveExtensions
	}
	return &Resolver{
		log:     log,
		fs:      fs,
		cache:   cache,
		cfg:     cfg,
		vfsR:    vfsresolve.New(fs, extensions),
		httpR:   httpresolve.New(log, cache, fs),
		cdnR:    cdnresolve.New(log, cache),
		tarball: tarball.New(log, cache, fs),
	}
}

// EntryPoints returns the build's configured entry points.
func (r *Resolver) EntryPoints() []string {
	return r.cfg.EntryPoints
}

// DefaultContext computes a base Context for importKind from cfg's
// platform/format/conditions/runtime overlay, the conditions-computation
// algorithm of spec.md §4.8. A caller (e.g. the CLI) uses this instead of
// calling condition.Compute/LegacyFields itself for every resolution.
func (r *Resolver) DefaultContext(importKind condition.ImportKind) Context {
	set := condition.Compute(condition.Input{
		Platform:       r.cfg.Platform,
		Format:         r.cfg.Format,
		ImportKind:     importKind,
		UserConditions: r.cfg.Conditions,
		RuntimeOverlay: r.cfg.Runtime,
	})
	legacy := r.cfg.MainFields
	if len(legacy) == 0 {
		legacy = condition.LegacyFields(condition.Input{
			Platform:       r.cfg.Platform,
			ImportKind:     importKind,
			RuntimeOverlay: r.cfg.Runtime,
		}, false)
	}
	return Context{Conditions: set.Conditions, LegacyFields: legacy}
}

// flattenManifestDeps merges a manifest's four dependency maps into one,
// with dependencies taking precedence over devDependencies over
// peerDependencies over optionalDependencies when a name appears in more
// than one.
func flattenManifestDeps(m *exports.Manifest) map[string]string {
	if m == nil {
		return nil
	}
	merged := make(map[string]string, len(m.Dependencies)+len(m.DevDependencies)+len(m.PeerDependencies)+len(m.OptionalDependencies))
	for k, v := range m.OptionalDependencies {
		merged[k] = v
	}
	for k, v := range m.PeerDependencies {
		merged[k] = v
	}
	for k, v := range m.DevDependencies {
		merged[k] = v
	}
	for k, v := range m.Dependencies {
		merged[k] = v
	}
	return merged
}

// mergedDependencyVersion looks up name in the dep map formed by layering
// cfg.RootManifest's dependencies (config-forced, so they win ties) over
// inherited's, per spec.md §4.8 step 1.
func mergedDependencyVersion(cfgManifest, inherited *exports.Manifest, name string) string {
	merged := flattenManifestDeps(inherited)
	if merged == nil {
		merged = make(map[string]string)
	}
	for k, v := range flattenManifestDeps(cfgManifest) {
		merged[k] = v
	}
	return merged[name]
}

// Resolve runs the ordered chain — polyfill, alias, external, tarball
// self-reference, tarball-CDN URL interception, VFS, HTTP, CDN — for spec
// against rc, per spec.md §4.1.
func (r *Resolver) Resolve(ctx context.Context, spec string, rc Context) (Resolution, error) {
	if target, ok := r.cfg.Polyfill[spec]; ok && target != spec {
		return r.Resolve(ctx, target, rc)
	}

	if target, ok := r.cfg.Alias[spec]; ok && target != spec {
		return r.Resolve(ctx, target, rc)
	}

	if r.cfg.Externals[spec] {
		return Resolution{Namespace: "external", Path: spec, External: true, SideEffects: true, Data: rc.Data}, nil
	}

	if mount := rc.Data.TarballMount; mount != nil {
		if subpath, ok := tarball.IsSelfReference(mount, spec); ok {
			vfsPath, err := tarball.ResolveSubpath(mount, subpath, rc.Conditions, rc.RequireConditions, rc.LegacyFields)
			if err != nil {
				return Resolution{}, &ResolutionError{Specifier: spec, Importer: rc.Data.Importer, Err: err}
			}
			if !tarball.IsInsideMount(mount, vfsPath) {
				return Resolution{}, &ResolutionError{Specifier: spec, Importer: rc.Data.Importer, Err: fmt.Errorf("resolved path %q escapes its tarball mount %q", vfsPath, mount.PackageRoot)}
			}
			rel := strings.TrimPrefix(vfsPath, mount.PackageRoot+"/")
			return Resolution{
				Namespace:   vfsresolve.Namespace,
				Path:        vfsPath,
				SideEffects: sideeffects.Evaluate(mount.Manifest.SideEffects, rel),
				Data: rc.Data.With(pluginctx.Data{
					Namespace:    vfsresolve.Namespace,
					ResolveDir:   pathutil.Dir(vfsPath),
					PackageRoot:  mount.PackageRoot,
					TarballMount: mount,
				}),
			}, nil
		}
	}

	if pathutil.IsURL(spec) && cdnurl.GetCDNStyle(spec) == cdnurl.StyleTarball {
		return r.resolveTarballURL(ctx, spec, rc)
	}

	if vfsResult, ok := r.vfsR.Resolve(vfsresolve.Args{
		Path:       spec,
		ImporterNS: rc.Data.Namespace,
		ResolveDir: rc.Data.ResolveDir,
	}); ok {
		if mount := rc.Data.TarballMount; mount != nil && !tarball.IsInsideMount(mount, vfsResult.Path) {
			return Resolution{}, &ResolutionError{Specifier: spec, Importer: rc.Data.Importer, Err: fmt.Errorf("relative import %q escapes its tarball mount %q", spec, mount.PackageRoot)}
		}
		sideEffects := true
		if mount := rc.Data.TarballMount; mount != nil {
			rel := strings.TrimPrefix(vfsResult.Path, mount.PackageRoot+"/")
			sideEffects = sideeffects.Evaluate(mount.Manifest.SideEffects, rel)
		}
		return Resolution{
			Namespace:   vfsResult.Namespace,
			Path:        vfsResult.Path,
			SideEffects: sideEffects,
			Data: rc.Data.With(pluginctx.Data{
				Namespace:            vfsResult.Namespace,
				ResolveDir:           pathutil.Dir(vfsResult.Path),
				VFSOriginalSpecifier: vfsResult.VFSOriginalSpecifier,
			}),
		}, nil
	}

	if httpResult, ok, err := r.httpR.Resolve(spec, rc.Data.URL); err != nil {
		return Resolution{}, &ResolutionError{Specifier: spec, Importer: rc.Data.Importer, Err: err}
	} else if ok {
		return Resolution{
			Namespace:   httpResult.Namespace,
			Path:        httpResult.Path,
			SideEffects: true,
			Data:        rc.Data.With(pluginctx.Data{Namespace: httpResult.Namespace}),
		}, nil
	}

	if !pathutil.IsBare(spec) {
		return Resolution{}, &ResolutionError{Specifier: spec, Importer: rc.Data.Importer, Err: fmt.Errorf("no resolver in the chain claimed this specifier")}
	}

	var importerManifest *exports.Manifest
	if rc.Data.Manifest != nil {
		importerManifest = rc.Data.Manifest
	}
	depVersion := ""
	if parsed, err := pkgname.ParsePackageSpec(spec); err == nil {
		depVersion = mergedDependencyVersion(r.cfg.RootManifest, importerManifest, parsed.Name)
	}
	cdnResult, err := r.cdnR.Resolve(ctx, cdnresolve.Args{
		Spec:              spec,
		DependencyVersion: depVersion,
		ImporterManifest:  importerManifest,
		Conditions:        rc.Conditions,
		RequireConditions: rc.RequireConditions,
		LegacyFields:      rc.LegacyFields,
		CDNOrigin:         r.cfg.CDNOrigin,
		PeerDependencies:  rc.Data.PeerDependencies,
		ResolveURL: func(ctx context.Context, rawURL string) (cdnresolve.URLResolution, error) {
			res, err := r.Resolve(ctx, rawURL, rc)
			if err != nil {
				return cdnresolve.URLResolution{}, err
			}
			var manifest exports.Manifest
			if res.Data.Manifest != nil {
				manifest = *res.Data.Manifest
			}
			return cdnresolve.URLResolution{Namespace: res.Namespace, URL: res.Path, Manifest: manifest}, nil
		},
	})
	if err != nil {
		var unsupported *cdnresolve.UnsupportedDependencyError
		if errors.As(err, &unsupported) {
			return Resolution{}, &ResolutionError{
				Specifier: spec,
				Importer:  rc.Data.Importer,
				Err:       &UnsupportedSpec{Spec: unsupported.Spec, Kind: string(unsupported.Kind)},
			}
		}
		return Resolution{}, &ResolutionError{Specifier: spec, Importer: rc.Data.Importer, Err: err}
	}

	manifest := cdnResult.Manifest
	namespace := cdnResult.Namespace
	if namespace == cdnresolve.Namespace {
		namespace = httpresolve.Namespace
	}
	return Resolution{
		Namespace:   namespace,
		Path:        cdnResult.URL,
		SideEffects: cdnResult.SideEffects,
		Data: rc.Data.With(pluginctx.Data{
			Manifest:         &manifest,
			Namespace:        httpresolve.Namespace,
			URL:              cdnResult.URL,
			PeerDependencies: cdnResult.PeerDependencies,
		}),
	}, nil
}

// resolveTarballURL mounts rawURL (already identified as a tarball-CDN
// style URL, e.g. a pkg.pr.new package URL) and resolves it to the VFS
// file its subpath (or, absent a subpath, its manifest entry point)
// names, per spec.md §4.1's "tarball must intercept http(s):// before the
// generic HTTP resolver so package URLs become VFS mounts" and §8
// scenario 1.
func (r *Resolver) resolveTarballURL(ctx context.Context, rawURL string, rc Context) (Resolution, error) {
	parsed, err := tarball.ParseURL(rawURL)
	if err != nil {
		return Resolution{}, &ResolutionError{Specifier: rawURL, Importer: rc.Data.Importer, Err: err}
	}

	data, err := r.Mount(ctx, parsed)
	if err != nil {
		return Resolution{}, &ResolutionError{Specifier: rawURL, Importer: rc.Data.Importer, Err: err}
	}
	mount := data.TarballMount

	var vfsPath string
	if parsed.Subpath == "" {
		vfsPath, err = tarball.ResolveSubpath(mount, ".", rc.Conditions, rc.RequireConditions, rc.LegacyFields)
		if err != nil {
			return Resolution{}, &ResolutionError{Specifier: rawURL, Importer: rc.Data.Importer, Err: err}
		}
	} else {
		vfsPath = pathutil.Join(mount.PackageRoot, parsed.Subpath)
	}

	if !tarball.IsInsideMount(mount, vfsPath) {
		return Resolution{}, &ResolutionError{Specifier: rawURL, Importer: rc.Data.Importer, Err: fmt.Errorf("resolved path %q escapes its tarball mount %q", vfsPath, mount.PackageRoot)}
	}

	rel := strings.TrimPrefix(vfsPath, mount.PackageRoot+"/")
	return Resolution{
		Namespace:   vfsresolve.Namespace,
		Path:        vfsPath,
		SideEffects: sideeffects.Evaluate(mount.Manifest.SideEffects, rel),
		Data: rc.Data.With(pluginctx.Data{
			Namespace:    vfsresolve.Namespace,
			ResolveDir:   pathutil.Dir(vfsPath),
			PackageRoot:  mount.PackageRoot,
			TarballMount: mount,
			TarballURL:   mount.SourceURL,
		}),
	}, nil
}

// Mount installs (or reuses, at-most-once) a tarball package at parsedURL,
// returning the plugin-data fragment a subsequent Resolve call needs to
// route self-references and relative VFS lookups inside it.
func (r *Resolver) Mount(ctx context.Context, parsedURL tarball.ParsedURL) (pluginctx.Data, error) {
	mount, err := r.tarball.Mount(ctx, parsedURL)
	if err != nil {
		var unsupported *tarball.UnsupportedCompressionError
		if errors.As(err, &unsupported) {
			return pluginctx.Data{}, &UnsupportedCompression{URL: unsupported.URL, Compression: unsupported.Compression}
		}
		return pluginctx.Data{}, &ArchiveError{URL: parsedURL.PackageURL, Err: err}
	}
	return pluginctx.Data{
		PackageRoot:  mount.PackageRoot,
		TarballURL:   mount.SourceURL,
		TarballMount: mount,
	}, nil
}

// LoadHTTP fetches and caches an HTTP-namespace path, returning the
// plugin-data fragment (final URL) subsequent relative resolutions need.
func (r *Resolver) LoadHTTP(ctx context.Context, path string) (httpresolve.Loaded, pluginctx.Data, error) {
	loaded, err := r.httpR.Load(ctx, path)
	if err != nil {
		return httpresolve.Loaded{}, pluginctx.Data{}, err
	}
	return loaded, pluginctx.Data{URL: loaded.FinalURL}, nil
}

// LoadVFS returns a VFS path's contents and resolve_dir.
func (r *Resolver) LoadVFS(path string) (contents []byte, resolveDir string, ok bool) {
	return r.vfsR.Load(path)
}
