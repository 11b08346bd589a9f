// Package vfsresolve implements the VFS resolver: namespace-gated
// relative resolution, extension/index probing against the in-memory
// filesystem, and the resolve_dir propagation that keeps sibling-directory
// module identities distinct. Built fresh on top of pathutil and vfs,
// composed the same way small handler packages get wired into each
// ecosystem entry point elsewhere in this module.
package vfsresolve

import (
	"strings"

	"github.com/a-h/modresolve/pathutil"
	"github.com/a-h/modresolve/vfs"
)

// Namespace is the canonical identity namespace this resolver owns.
const Namespace = "vfs"

// Args mirrors spec.md §6's on_resolve args for the fields this resolver
// needs.
type Args struct {
	Path             string
	ImporterNS       string // importer's namespace, for the relative-resolution gate
	ResolveDir       string // importer's resolve_dir, if any
}

// Result is a successful VFS resolution.
type Result struct {
	Namespace           string
	Path                string
	VFSOriginalSpecifier string
}

// stripScheme removes a leading "vfs:" or "virtual:" prefix, treating
// "vfs:x" as "vfs:/x" per spec.md §6.
func stripScheme(spec string) (stripped string, hadScheme bool) {
	for _, scheme := range []string{"vfs:", "virtual:"} {
		if strings.HasPrefix(spec, scheme) {
			rest := strings.TrimPrefix(spec, scheme)
			if !strings.HasPrefix(rest, "/") {
				rest = "/" + rest
			}
			return rest, true
		}
	}
	return spec, false
}

// Resolver resolves VFS-namespace specifiers against an in-memory
// filesystem.
type Resolver struct {
	fs         *vfs.FS
	extensions []string
}

// New creates a VFS resolver. extensions is the probe list to try for
// extensionless candidates, e.g. [".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".json"].
func New(fs *vfs.FS, extensions []string) *Resolver {
	return &Resolver{fs: fs, extensions: extensions}
}

// Resolve implements spec.md §4.3's algorithm. ok is false for a pass
// (this resolver does not claim the specifier); it is the caller's job to
// try the next resolver in the chain in that case.
func (r *Resolver) Resolve(args Args) (Result, bool) {
	stripped, hadScheme := stripScheme(args.Path)

	isRelative := pathutil.IsRelative(stripped)
	isAbsolute := pathutil.IsAbsolute(stripped)

	if !hadScheme {
		if isRelative && args.ImporterNS != Namespace {
			// The namespace gate: relative specifiers inside non-VFS
			// modules (e.g. HTTP) must not be captured here.
			return Result{}, false
		}
		if !isRelative && !isAbsolute {
			return Result{}, false
		}
	}

	baseDir := args.ResolveDir
	if baseDir == "" {
		baseDir = "/"
	}

	var candidate string
	if isAbsolute {
		candidate = pathutil.Resolve("/", stripped)
	} else {
		candidate = pathutil.Resolve(baseDir, stripped)
	}

	if hit, ok := r.probe(candidate); ok {
		return Result{Namespace: Namespace, Path: hit, VFSOriginalSpecifier: args.Path}, true
	}
	return Result{}, false
}

// probe tries the exact path, then each configured extension, then
// "<candidate>/index.<ext>" for each extension.
func (r *Resolver) probe(candidate string) (string, bool) {
	if r.fs.Exists(candidate) {
		return candidate, true
	}
	for _, ext := range r.extensions {
		withExt := candidate + ext
		if r.fs.Exists(withExt) {
			return withExt, true
		}
	}
	indexBase := strings.TrimSuffix(candidate, "/") + "/index"
	for _, ext := range r.extensions {
		withExt := indexBase + ext
		if r.fs.Exists(withExt) {
			return withExt, true
		}
	}
	return "", false
}

// Load returns the file's bytes and the resolve_dir for subsequent
// relative resolution, per spec.md §4.3's on-load contract.
func (r *Resolver) Load(path string) (contents []byte, resolveDir string, ok bool) {
	b, exists := r.fs.GetBytes(path)
	if !exists {
		return nil, "", false
	}
	return b, pathutil.Dir(path), true
}
