package cdnresolve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/a-h/modresolve/cdnurl"
	"github.com/a-h/modresolve/depspec"
	"github.com/a-h/modresolve/exports"
	"github.com/a-h/modresolve/fetchcache"
	"github.com/a-h/modresolve/pkgname"
	"github.com/a-h/modresolve/sideeffects"
)

// Namespace tags a Result as a registry or JSR module URL. The resolver
// chain reports such results in the HTTP namespace, since their content
// is loaded over HTTP.
const Namespace = "cdn"

// npmRegistryOrigin is where abbreviated package metadata (dist-tags and
// the version list) is fetched from by default; CDNs like unpkg serve
// package files but not this metadata document.
const npmRegistryOrigin = "https://registry.npmjs.org"

// knownJSExtensions gates whether a resolved entry path needs extension
// probing before it is fetchable: fetchcache's probe suffixes plus ".json".
var knownJSExtensions = []string{".js", ".mjs", ".cjs", ".jsx", ".ts", ".tsx", ".mts", ".cts", ".json"}

// UnsupportedDependencyError reports a dependency-spec kind this resolver
// deliberately refuses to resolve against a registry CDN (git/file/
// directory/workspace/link/url), letting callers (the top-level resolver
// chain) recognize the kind without string-matching the error text.
type UnsupportedDependencyError struct {
	Spec string
	Kind depspec.Kind
}

func (e *UnsupportedDependencyError) Error() string {
	return fmt.Sprintf("cdnresolve: %s dependency specs are not resolvable against a registry CDN: %q", e.Kind, e.Spec)
}

// Args is the input to a single CDN resolution, per spec.md §4.8.
type Args struct {
	// Spec is the raw specifier: a bare import ("lodash", "@scope/pkg/sub"),
	// a subpath import ("#internal"), or a JSR specifier ("jsr:@std/fs").
	Spec string

	// DependencyVersion is the range declared for this package in the
	// importer's manifest, used when Spec carries no inline "@version".
	DependencyVersion string

	// ImporterManifest is required to resolve a subpath import (Spec
	// starting with "#"); it supplies the "imports" map.
	ImporterManifest *exports.Manifest

	Conditions        []string
	RequireConditions []string
	LegacyFields      []string

	// CDNOrigin overrides the default registry origin for this
	// resolution: the npm CDN origin for a bare import (e.g. to target a
	// jsdelivr/esm.sh mirror instead of unpkg), or the JSR origin for a
	// "jsr:" specifier (e.g. to target a self-hosted JSR mirror).
	CDNOrigin string

	// PeerDependencies is the version-stabilization map threaded forward
	// across the whole dependency graph, per spec.md §4.8's
	// "Peer-dependency stabilization": once a package settles on a
	// version, every sibling importer converges on that same version.
	PeerDependencies map[string]string

	// ResolveURL re-dispatches a dependency spec that classified as
	// depspec.KindURL back through the top-level resolver chain, so a
	// tarball-CDN URL used directly as a dependency version (e.g.
	// "https://pkg.pr.new/...") gets mounted instead of rejected. nil in
	// callers/tests that never exercise a URL-valued dependency.
	ResolveURL func(ctx context.Context, rawURL string) (URLResolution, error)
}

// URLResolution is what ResolveURL reports back for a dependency spec that
// was itself a raw URL: the namespace and path the top-level chain settled
// on, plus the manifest governing it (if any), so resolveBareImport can
// build a Result from it without importing the resolver package.
type URLResolution struct {
	Namespace string
	URL       string
	Manifest  exports.Manifest
}

// Result is a successful CDN resolution.
type Result struct {
	Namespace        string
	URL              string
	Name             string
	Version          string
	Manifest         exports.Manifest
	PeerDependencies map[string]string
	SideEffects      bool
}

// Resolver implements the CDN resolution algorithm from spec.md §4.8.
type Resolver struct {
	log   *slog.Logger
	cache *fetchcache.Cache
}

// New creates a CDN resolver.
func New(log *slog.Logger, cache *fetchcache.Cache) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{log: log, cache: cache}
}

// Resolve dispatches args.Spec to the subpath-import, JSR, or bare-import
// branch.
func (r *Resolver) Resolve(ctx context.Context, args Args) (Result, error) {
	return r.resolveSpec(ctx, args.Spec, args)
}

func (r *Resolver) resolveSpec(ctx context.Context, spec string, args Args) (Result, error) {
	switch {
	case strings.HasPrefix(spec, "#"):
		return r.resolveSubpathImport(ctx, args)
	case strings.HasPrefix(spec, "jsr:"):
		return r.resolveJSR(ctx, strings.TrimPrefix(spec, "jsr:"), args)
	default:
		return r.resolveBareImport(ctx, args)
	}
}

// resolveSubpathImport resolves a "#..." specifier against the importer's
// manifest "imports" map, then re-dispatches the target (which is itself a
// bare or JSR specifier, per Node's subpath-imports design) per spec.md §8
// scenario 6.
func (r *Resolver) resolveSubpathImport(ctx context.Context, args Args) (Result, error) {
	if args.ImporterManifest == nil {
		return Result{}, fmt.Errorf("cdnresolve: subpath import %q requires an importer manifest", args.Spec)
	}

	target, ok := exports.ResolveImports(*args.ImporterManifest, args.Spec, args.Conditions)
	if !ok && args.RequireConditions != nil {
		target, ok = exports.ResolveImports(*args.ImporterManifest, args.Spec, args.RequireConditions)
	}
	if !ok {
		return Result{}, fmt.Errorf("cdnresolve: no mapping for subpath import %q in %q", args.Spec, args.ImporterManifest.Name)
	}
	if strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../") {
		return Result{}, fmt.Errorf("cdnresolve: subpath import %q resolved to relative path %q, not a bare or JSR specifier", args.Spec, target)
	}

	nested := args
	nested.Spec = target
	nested.ImporterManifest = nil
	return r.resolveSpec(ctx, target, nested)
}

// resolveBareImport implements spec.md §4.8's main algorithm: classify the
// dependency-spec, select a registry version, fetch the manifest, resolve
// the package entry, and build the final module URL.
func (r *Resolver) resolveBareImport(ctx context.Context, args Args) (Result, error) {
	parsed, err := pkgname.ParsePackageSpec(args.Spec)
	if err != nil {
		return Result{}, fmt.Errorf("cdnresolve: %w", err)
	}

	rawVersion := parsed.Version
	if rawVersion == "" {
		rawVersion = args.DependencyVersion
	}
	if rawVersion == "" {
		rawVersion = "latest"
	}

	versionSpec := depspec.Classify(rawVersion)
	switch versionSpec.Kind {
	case depspec.KindAlias:
		target := versionSpec.Alias
		aliasSubpath := parsed.Subpath
		if target.Path != "" {
			aliasSubpath = strings.TrimPrefix(path.Join(target.Path, parsed.Subpath), "/")
		}
		aliasedSpec := pkgname.BuildPackageSpec(target.Name, target.Version, aliasSubpath)
		nested := args
		nested.Spec = aliasedSpec
		nested.DependencyVersion = ""
		return r.resolveSpec(ctx, aliasedSpec, nested)

	case depspec.KindURL:
		if args.ResolveURL == nil {
			return Result{}, &UnsupportedDependencyError{Spec: rawVersion, Kind: depspec.KindURL}
		}
		resolved, err := args.ResolveURL(ctx, versionSpec.URL)
		if err != nil {
			return Result{}, fmt.Errorf("cdnresolve: resolving dependency URL %q: %w", versionSpec.URL, err)
		}
		entry := strings.TrimPrefix(parsed.Subpath, "./")
		return Result{
			Namespace:        resolved.Namespace,
			URL:              resolved.URL,
			Name:             parsed.Name,
			Version:          rawVersion,
			Manifest:         resolved.Manifest,
			PeerDependencies: stabilizePeers(args.PeerDependencies, parsed.Name, rawVersion),
			SideEffects:      sideeffects.Evaluate(resolved.Manifest.SideEffects, entry),
		}, nil

	case depspec.KindGit, depspec.KindFile, depspec.KindDirectory, depspec.KindWorkspace, depspec.KindLink:
		return Result{}, &UnsupportedDependencyError{Spec: rawVersion, Kind: versionSpec.Kind}

	case depspec.KindUnknown:
		return Result{}, fmt.Errorf("cdnresolve: %w", versionSpec.Error)
	}

	origin := args.CDNOrigin
	if origin == "" {
		origin, err = cdnurl.GetCDNOrigin(cdnurl.StyleNPM)
		if err != nil {
			return Result{}, err
		}
	}

	// Abbreviated metadata (dist-tags and the version list) is registry-shaped,
	// not CDN-shaped: unpkg and esm.sh serve package files but not this
	// document, so it always comes from the registry proper unless a test or
	// caller explicitly overrides the origin for both.
	registryOrigin := args.CDNOrigin
	if registryOrigin == "" {
		registryOrigin = npmRegistryOrigin
	}

	version := ""
	if stabilized, ok := args.PeerDependencies[parsed.Name]; ok && versionSatisfies(versionSpec, rawVersion, stabilized) {
		version = stabilized
	}
	if version == "" {
		pkg, err := r.fetchAbbreviated(ctx, registryOrigin, parsed.Name)
		if err != nil {
			return Result{}, err
		}
		version, err = selectVersion(pkg, versionSpec, rawVersion)
		if err != nil {
			return Result{}, err
		}
	}

	manifestURL := cdnurl.NPMModuleURL(origin, parsed.Name, version, "/package.json")
	resp, err := r.cache.Fetch(ctx, manifestURL, fetchcache.Options{Mode: fetchcache.ModeNormal})
	if err != nil {
		return Result{}, fmt.Errorf("cdnresolve: fetching package.json for %s@%s: %w", parsed.Name, version, err)
	}
	manifest, err := exports.ParseManifest(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("cdnresolve: parsing package.json for %s@%s: %w", parsed.Name, version, err)
	}

	allowLiteralSubpath := parsed.Subpath != ""
	entry, _, err := exports.ResolvePackageEntry(manifest, parsed.Subpath, args.Conditions, args.RequireConditions, args.LegacyFields, allowLiteralSubpath)
	if err != nil {
		return Result{}, fmt.Errorf("cdnresolve: resolving entry for %s@%s%s: %w", parsed.Name, version, subpathSuffix(parsed.Subpath), err)
	}
	entry = strings.TrimPrefix(entry, "./")

	moduleURL := cdnurl.NPMModuleURL(origin, parsed.Name, version, entry)
	finalURL := moduleURL
	if !hasKnownJSExtension(entry) {
		probe, err := r.cache.ProbeExtensions(ctx, moduleURL, nil)
		if err != nil {
			return Result{}, fmt.Errorf("cdnresolve: probing extensions for %s: %w", moduleURL, err)
		}
		finalURL = probe.URL
	}

	return Result{
		Namespace:        Namespace,
		URL:              finalURL,
		Name:             parsed.Name,
		Version:          version,
		Manifest:         manifest,
		PeerDependencies: stabilizePeers(args.PeerDependencies, parsed.Name, version),
		SideEffects:      sideeffects.Evaluate(manifest.SideEffects, entry),
	}, nil
}

// resolveJSR implements the JSR branch of spec.md §4.8 step 3: strict
// scope/name parsing, meta.json + versioned-meta.json, yanked-version
// filtering, and an esm.sh JSR-proxy fallback if direct resolution fails.
func (r *Resolver) resolveJSR(ctx context.Context, rest string, args Args) (Result, error) {
	scope, name, version, subpath, err := parseJSRSpec(rest)
	if err != nil {
		return Result{}, fmt.Errorf("cdnresolve: %w", err)
	}
	if err := pkgname.ValidateJSRName(scope, name); err != nil {
		return Result{}, fmt.Errorf("cdnresolve: %w", err)
	}

	jsrOrigin := args.CDNOrigin
	if jsrOrigin == "" {
		jsrOrigin, err = cdnurl.GetCDNOrigin(cdnurl.StyleJSR)
		if err != nil {
			return Result{}, err
		}
	}

	resolvedVersion, metaErr := r.resolveJSRVersion(ctx, jsrOrigin, scope, name, version)
	if metaErr == nil {
		versionMetaURL := cdnurl.JSRVersionMetaURL(jsrOrigin, scope, name, resolvedVersion)
		if resp, err := r.cache.Fetch(ctx, versionMetaURL, fetchcache.Options{Mode: fetchcache.ModeNormal}); err == nil {
			var vm JSRVersionMeta
			if err := json.Unmarshal(resp.Body, &vm); err == nil {
				if file, ok := vm.Exports[exports.NormalizeSubpath(subpath)]; ok {
					return Result{
						Namespace:   Namespace,
						URL:         cdnurl.JSRModuleURL(jsrOrigin, scope, name, resolvedVersion, file),
						Name:        "@" + scope + "/" + name,
						Version:     resolvedVersion,
						SideEffects: true,
					}, nil
				}
			}
		}
	}

	fallbackVersion := version
	if fallbackVersion == "" {
		fallbackVersion = "latest"
	}
	r.log.Debug("direct JSR resolution failed, falling back to esm.sh proxy",
		slog.String("package", "@"+scope+"/"+name), slog.Any("error", metaErr))
	return Result{
		Namespace:   Namespace,
		URL:         cdnurl.ESMShProxyURL(scope, name, fallbackVersion, subpath),
		Name:        "@" + scope + "/" + name,
		Version:     fallbackVersion,
		SideEffects: true,
	}, nil
}

// resolveJSRVersion picks the requested version (or the highest non-yanked
// version satisfying it) from meta.json, or the highest non-yanked version
// overall when requested is empty or "latest".
func (r *Resolver) resolveJSRVersion(ctx context.Context, jsrOrigin, scope, name, requested string) (string, error) {
	metaURL := cdnurl.JSRMetaURL(jsrOrigin, scope, name)
	resp, err := r.cache.Fetch(ctx, metaURL, fetchcache.Options{Mode: fetchcache.ModeNormal})
	if err != nil {
		return "", fmt.Errorf("fetching JSR meta for @%s/%s: %w", scope, name, err)
	}
	var meta JSRMeta
	if err := json.Unmarshal(resp.Body, &meta); err != nil {
		return "", fmt.Errorf("parsing JSR meta for @%s/%s: %w", scope, name, err)
	}

	if requested != "" && requested != "latest" {
		if v, ok := meta.Versions[requested]; ok && !v.Yanked {
			return requested, nil
		}
		constraint, err := semver.NewConstraint(requested)
		if err != nil {
			return "", fmt.Errorf("no matching non-yanked version %q for @%s/%s", requested, scope, name)
		}
		return highestSatisfying(meta, constraint, scope, name)
	}
	return highestSatisfying(meta, nil, scope, name)
}

func highestSatisfying(meta JSRMeta, constraint *semver.Constraints, scope, name string) (string, error) {
	var best *semver.Version
	var bestRaw string
	for vs, mv := range meta.Versions {
		if mv.Yanked {
			continue
		}
		v, err := semver.NewVersion(vs)
		if err != nil {
			continue
		}
		if constraint != nil && !constraint.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best, bestRaw = v, vs
		}
	}
	if best == nil {
		return "", fmt.Errorf("no matching non-yanked version for @%s/%s", scope, name)
	}
	return bestRaw, nil
}

// parseJSRSpec reuses pkgname's "name@version/subpath" grammar (a JSR
// specifier is exactly that shape with a mandatory scope) to split a JSR
// specifier's body (with any leading "jsr:" already stripped) into scope,
// name, version and subpath.
func parseJSRSpec(rest string) (scope, name, version, subpath string, err error) {
	parsed, err := pkgname.ParsePackageSpec(rest)
	if err != nil {
		return "", "", "", "", err
	}
	if !strings.HasPrefix(parsed.Name, "@") {
		return "", "", "", "", fmt.Errorf("JSR specifier %q must be scoped (@scope/name)", rest)
	}
	trimmed := strings.TrimPrefix(parsed.Name, "@")
	idx := strings.Index(trimmed, "/")
	if idx < 0 {
		return "", "", "", "", fmt.Errorf("JSR specifier %q is missing a package name", rest)
	}
	return trimmed[:idx], trimmed[idx+1:], parsed.Version, parsed.Subpath, nil
}

func (r *Resolver) fetchAbbreviated(ctx context.Context, origin, name string) (NPMAbbreviatedPackage, error) {
	metaURL := cdnurl.NPMPackageURL(origin, name)
	resp, err := r.cache.Fetch(ctx, metaURL, fetchcache.Options{Mode: fetchcache.ModeNormal})
	if err != nil {
		return NPMAbbreviatedPackage{}, fmt.Errorf("cdnresolve: fetching registry metadata for %q: %w", name, err)
	}
	var pkg NPMAbbreviatedPackage
	if err := json.Unmarshal(resp.Body, &pkg); err != nil {
		return NPMAbbreviatedPackage{}, fmt.Errorf("cdnresolve: parsing registry metadata for %q: %w", name, err)
	}
	return pkg, nil
}

func selectVersion(pkg NPMAbbreviatedPackage, spec depspec.Spec, raw string) (string, error) {
	switch spec.Kind {
	case depspec.KindVersion:
		if _, ok := pkg.Versions[raw]; !ok {
			return "", fmt.Errorf("cdnresolve: version %q not found for %q", raw, pkg.Name)
		}
		return raw, nil

	case depspec.KindTag:
		tag := raw
		if tag == "" || tag == "*" {
			tag = "latest"
		}
		v, ok := pkg.DistTags[tag]
		if !ok {
			return "", fmt.Errorf("cdnresolve: dist-tag %q not found for %q", tag, pkg.Name)
		}
		return v, nil

	case depspec.KindSemver:
		constraint, err := semver.NewConstraint(raw)
		if err != nil {
			return "", fmt.Errorf("cdnresolve: invalid semver range %q: %w", raw, err)
		}
		var best *semver.Version
		var bestRaw string
		for vs := range pkg.Versions {
			v, err := semver.NewVersion(vs)
			if err != nil || !constraint.Check(v) {
				continue
			}
			if best == nil || v.GreaterThan(best) {
				best, bestRaw = v, vs
			}
		}
		if best == nil {
			return "", fmt.Errorf("cdnresolve: no version of %q satisfies %q", pkg.Name, raw)
		}
		return bestRaw, nil

	default:
		return "", fmt.Errorf("cdnresolve: cannot select a registry version for spec kind %q", spec.Kind)
	}
}

// versionSatisfies reports whether an already-stabilized peer version
// (from a prior resolution elsewhere in the graph) also satisfies this
// importer's own dependency spec, letting the graph converge on one
// version per package rather than re-resolving and possibly diverging.
func versionSatisfies(spec depspec.Spec, raw, candidate string) bool {
	switch spec.Kind {
	case depspec.KindVersion:
		return raw == candidate
	case depspec.KindTag:
		return true
	case depspec.KindSemver:
		constraint, err := semver.NewConstraint(raw)
		if err != nil {
			return false
		}
		v, err := semver.NewVersion(candidate)
		if err != nil {
			return false
		}
		return constraint.Check(v)
	default:
		return false
	}
}

func stabilizePeers(existing map[string]string, name, version string) map[string]string {
	merged := make(map[string]string, len(existing)+1)
	for k, v := range existing {
		merged[k] = v
	}
	merged[name] = version
	return merged
}

func subpathSuffix(subpath string) string {
	if subpath == "" {
		return ""
	}
	return "/" + subpath
}

func hasKnownJSExtension(p string) bool {
	for _, ext := range knownJSExtensions {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}
