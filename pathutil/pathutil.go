// Package pathutil provides the small POSIX-path and URL-joining helpers
// shared by every resolver in the chain.
package pathutil

import (
	"net/url"
	"path"
	"strings"
)

// IsRelative reports whether spec is a relative specifier ("./x" or "../x").
func IsRelative(spec string) bool {
	return strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../")
}

// IsAbsolute reports whether spec is a POSIX absolute path ("/x").
func IsAbsolute(spec string) bool {
	return strings.HasPrefix(spec, "/")
}

// IsSubpathImport reports whether spec is a "#"-prefixed subpath import.
func IsSubpathImport(spec string) bool {
	return strings.HasPrefix(spec, "#")
}

// IsURL reports whether spec is an http(s) URL.
func IsURL(spec string) bool {
	return strings.HasPrefix(spec, "http://") || strings.HasPrefix(spec, "https://")
}

// IsBare reports whether spec is a bare import specifier: not relative, not
// absolute, not a URL, not a subpath import, and not a data: URL.
func IsBare(spec string) bool {
	if spec == "" {
		return false
	}
	if IsRelative(spec) || IsAbsolute(spec) || IsURL(spec) || IsSubpathImport(spec) {
		return false
	}
	if strings.HasPrefix(spec, "data:") {
		return false
	}
	return true
}

// Join joins POSIX path segments and cleans the result, the way path.Join
// does, but always keeps a leading "/" if the first non-empty segment has
// one.
func Join(segments ...string) string {
	abs := len(segments) > 0 && strings.HasPrefix(segments[0], "/")
	joined := path.Join(segments...)
	if abs && !strings.HasPrefix(joined, "/") {
		joined = "/" + joined
	}
	return joined
}

// Resolve resolves rel against base the way a POSIX shell would resolve a
// relative path against a working directory. base must be absolute; rel may
// be absolute (in which case it's returned cleaned) or relative.
func Resolve(base, rel string) string {
	if strings.HasPrefix(rel, "/") {
		return path.Clean(rel)
	}
	return path.Clean(path.Join(base, rel))
}

// Dir returns the directory component of an absolute POSIX path, the way
// dirname(1) does; "/" stays "/".
func Dir(p string) string {
	d := path.Dir(p)
	if d == "." {
		return "/"
	}
	return d
}

// JoinURL resolves a relative or absolute path reference against a base
// URL, returning the resulting absolute URL string. This is what the HTTP
// resolver uses to resolve "./x", "../x" and "/x" specifiers found inside
// modules loaded from a URL.
func JoinURL(base *url.URL, ref string) (string, error) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(refURL).String(), nil
}

// TrimExt strips the last extension (".js", ".ts", ...) from a path, if
// present.
func TrimExt(p string) string {
	ext := path.Ext(p)
	if ext == "" {
		return p
	}
	return strings.TrimSuffix(p, ext)
}
