// Package cdnurl recognizes known CDN hosts and builds registry API URLs
// (npm escaped-name URLs, JSR meta.json/versioned meta/module URLs),
// following the same scoped-package URL path conventions (url.PathEscape
// and manual string splitting rather than a URL-templating library) as a
// registry-serving handler would use, but applied here for a
// registry-*consuming* client instead.
package cdnurl

import (
	"fmt"
	"net/url"
	"strings"
)

// Style classifies a recognized CDN host.
type Style string

const (
	StyleNPM     Style = "npm"
	StyleJSR     Style = "jsr"
	StyleGitHub  Style = "github"
	StyleDeno    Style = "deno"
	StyleTarball Style = "tarball"
	StyleOther   Style = "other"
)

// knownHosts maps a recognized host substring to its style. Checked by
// substring containment since some entries (esm.sh/esm.run) are
// effectively aliases of one service.
var knownHosts = []struct {
	host  string
	style Style
}{
	{"unpkg.com", StyleNPM},
	{"esm.sh", StyleNPM},
	{"esm.run", StyleNPM},
	{"cdn.jsdelivr.net/npm", StyleNPM},
	{"cdn.jsdelivr.net/gh", StyleGitHub},
	{"cdn.skypack.dev", StyleNPM},
	{"deno.land/x", StyleDeno},
	{"raw.githubusercontent.com", StyleGitHub},
	{"jsr.io", StyleJSR},
	{"pkg.pr.new", StyleTarball},
}

// GetCDNStyle classifies a URL (or bare host) by known CDN convention.
func GetCDNStyle(rawURL string) Style {
	lower := strings.ToLower(rawURL)
	for _, h := range knownHosts {
		if strings.Contains(lower, h.host) {
			return h.style
		}
	}
	return StyleOther
}

// GetCDNOrigin returns the scheme://host[/path-prefix] origin a style
// maps to, the canonical form used to construct further registry URLs.
func GetCDNOrigin(style Style) (string, error) {
	switch style {
	case StyleNPM:
		return "https://unpkg.com", nil
	case StyleJSR:
		return "https://jsr.io", nil
	case StyleGitHub:
		return "https://cdn.jsdelivr.net/gh", nil
	case StyleDeno:
		return "https://deno.land/x", nil
	case StyleTarball:
		return "https://pkg.pr.new", nil
	default:
		return "", fmt.Errorf("cdnurl: no canonical origin for style %q", style)
	}
}

// escapeNPMName escapes a (possibly scoped) npm package name for use as a
// single URL path segment: the scope separator "/" becomes "%2f", as the
// registry API requires.
func escapeNPMName(name string) string {
	if !strings.HasPrefix(name, "@") {
		return url.PathEscape(name)
	}
	idx := strings.Index(name, "/")
	if idx < 0 {
		return url.PathEscape(name)
	}
	scope := url.PathEscape(name[:idx])
	rest := url.PathEscape(name[idx+1:])
	return scope + "%2f" + rest
}

// NPMPackageURL builds "<host>/<escaped-name>".
func NPMPackageURL(origin, name string) string {
	return strings.TrimSuffix(origin, "/") + "/" + escapeNPMName(name)
}

// NPMVersionURL builds "<host>/<escaped-name>/<version>".
func NPMVersionURL(origin, name, version string) string {
	return NPMPackageURL(origin, name) + "/" + url.PathEscape(version)
}

// NPMModuleURL builds a package-at-version-plus-subpath module URL, the
// shape the CDN resolver constructs for the final resolved entry:
// "<origin>/<name>@<version><resolved-subpath>".
func NPMModuleURL(origin, name, version, resolvedSubpath string) string {
	path := resolvedSubpath
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(origin, "/") + "/" + escapeNPMName(name) + "@" + url.PathEscape(version) + path
}

// JSRMetaURL builds "<jsr.io>/@<scope>/<name>/meta.json".
func JSRMetaURL(jsrOrigin, scope, name string) string {
	return fmt.Sprintf("%s/@%s/%s/meta.json", strings.TrimSuffix(jsrOrigin, "/"), scope, name)
}

// JSRVersionMetaURL builds "…/<version>_meta.json".
func JSRVersionMetaURL(jsrOrigin, scope, name, version string) string {
	return fmt.Sprintf("%s/@%s/%s/%s_meta.json", strings.TrimSuffix(jsrOrigin, "/"), scope, name, version)
}

// JSRModuleURL builds the module URL "…/<version>/<file>".
func JSRModuleURL(jsrOrigin, scope, name, version, file string) string {
	file = strings.TrimPrefix(file, "./")
	return fmt.Sprintf("%s/@%s/%s/%s/%s", strings.TrimSuffix(jsrOrigin, "/"), scope, name, version, file)
}

// ESMShProxyURL builds a fallback esm.sh URL for a JSR package, used when
// direct jsr.io resolution fails per spec.md §4.8 step 3.
func ESMShProxyURL(scope, name, version, subpath string) string {
	base := fmt.Sprintf("https://esm.sh/jsr/@%s/%s@%s", scope, name, version)
	if subpath == "" || subpath == "." {
		return base
	}
	return base + "/" + strings.TrimPrefix(subpath, "./")
}
