// Package pluginctx defines the small structured record threaded across
// resolution hops: a traversal carrier with explicit optional fields
// rather than an untyped bag. Deliberately tiny — it imports only the leaf
// packages whose types it carries (`exports`, `tarball`), never the
// top-level `resolver` package, so every resolver package and `resolver`
// itself can import it without creating a cycle.
package pluginctx

import (
	"github.com/a-h/modresolve/exports"
	"github.com/a-h/modresolve/tarball"
)

// Data is threaded through each resolution hop. All fields are optional;
// a zero Data means "no inherited context" (e.g. a build's entry point).
type Data struct {
	// Manifest is the package manifest governing the current resolution
	// (inherited from a CDN/tarball resolution, or the VFS/tarball file
	// being loaded).
	Manifest *exports.Manifest

	// Namespace is the importer's own resolved namespace ("vfs", "http",
	// "cdn", ...), used by the VFS resolver's relative-specifier gate.
	Namespace string

	// ResolveDir is the importer's resolve_dir, the base a relative VFS
	// specifier is joined against.
	ResolveDir string

	// Importer is the raw specifier the current module was reached
	// through, for diagnostics.
	Importer string

	// URL is the importer's final URL (after redirects), used by the
	// HTTP resolver to root relative resolutions.
	URL string

	// PackageRoot is the VFS path a tarball mount (or CDN-selected
	// package) is rooted at, used for self-reference routing.
	PackageRoot string

	// TarballMount is the mount record the current resolution is nested
	// inside, if any, carried so the resolver chain can route a
	// self-referencing bare import back into the mount without a second
	// map lookup.
	TarballMount *tarball.Mount

	// TarballURL is the source URL of the tarball mount the current
	// resolution is nested inside, if any.
	TarballURL string

	// VFSOriginalSpecifier is the original (pre-normalization) specifier
	// that led to a VFS resolution, kept for diagnostics.
	VFSOriginalSpecifier string

	// PeerDependencies is the merged peer-dependency map threaded forward
	// so the whole graph converges on a single version per package, per
	// spec.md §4.8's "Peer-dependency stabilization".
	PeerDependencies map[string]string
}

// With returns a copy of d narrowed by applying each non-nil field from
// partial, per spec.md §4.1's "context supports narrowing (with(partial))
// so components inject their own keys without mutating siblings."
func (d Data) With(partial Data) Data {
	result := d
	if partial.Manifest != nil {
		result.Manifest = partial.Manifest
	}
	if partial.Namespace != "" {
		result.Namespace = partial.Namespace
	}
	if partial.ResolveDir != "" {
		result.ResolveDir = partial.ResolveDir
	}
	if partial.Importer != "" {
		result.Importer = partial.Importer
	}
	if partial.URL != "" {
		result.URL = partial.URL
	}
	if partial.PackageRoot != "" {
		result.PackageRoot = partial.PackageRoot
	}
	if partial.TarballMount != nil {
		result.TarballMount = partial.TarballMount
	}
	if partial.TarballURL != "" {
		result.TarballURL = partial.TarballURL
	}
	if partial.VFSOriginalSpecifier != "" {
		result.VFSOriginalSpecifier = partial.VFSOriginalSpecifier
	}
	if partial.PeerDependencies != nil {
		result.PeerDependencies = partial.PeerDependencies
	}
	return result
}
