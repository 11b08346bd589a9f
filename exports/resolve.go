package exports

import (
	"fmt"
	"strings"
)

// isConditionKey reports whether key is a condition name rather than a
// subpath pattern. Subpath keys start with "." in an exports map and "#"
// in an imports map; everything else at that level is a condition name.
func isConditionKey(key string, subpathPrefix byte) bool {
	return key == "" || key[0] != subpathPrefix
}

// evalNode walks a Node tree under the active condition set, looking for
// the first matching leaf. Treating a bare string/array at the root of an
// exports map as the "." entry is done by resolveSubpath, not here.
func evalNode(n Node, conditions []string) (string, bool) {
	if n.IsNil {
		return "", false
	}
	if !n.HasValue {
		return "", false
	}
	if n.String != "" {
		return n.String, true
	}
	if len(n.Array) > 0 {
		for _, item := range n.Array {
			if v, ok := evalNode(item, conditions); ok {
				return v, true
			}
		}
		return "", false
	}
	if n.Mapping != nil {
		// Conditions are tried in the caller's active order, not the
		// object's key order, per the exports spec.
		for _, c := range conditions {
			if v, ok := n.Mapping[c]; ok {
				if resolved, ok := evalNode(v, conditions); ok {
					return resolved, true
				}
			}
		}
	}
	return "", false
}

// resolveSubpath looks up subpath (normalized, starting with "." or
// "./") within an exports/imports mapping. An exact key wins; otherwise
// the longest key containing a single "*" whose prefix and suffix match
// is used, and the "*" may span "/" separators.
func resolveSubpath(root Node, subpath string, conditions []string) (string, bool) {
	subpathPrefix := subpath[0]

	if root.Mapping == nil {
		// No conditional/subpath mapping at all: only "." (or "#name" as
		// a whole) is resolvable, and only via the flat string/array form.
		if subpath == "." {
			return evalNode(root, conditions)
		}
		return "", false
	}

	// Does this mapping use subpath keys at all, or is it a flat
	// conditions-only object (i.e. this *is* the root entry)?
	usesSubpaths := false
	for k := range root.Mapping {
		if !isConditionKey(k, subpathPrefix) {
			usesSubpaths = true
			break
		}
	}
	if !usesSubpaths {
		if subpath == "." {
			return evalNode(root, conditions)
		}
		return "", false
	}

	if exact, ok := root.Mapping[subpath]; ok {
		return evalNode(exact, conditions)
	}

	// Wildcard matching: longest matching pattern prefix wins.
	var bestKey string
	var bestNode Node
	found := false
	for key, node := range root.Mapping {
		if isConditionKey(key, subpathPrefix) {
			continue
		}
		star := strings.Index(key, "*")
		if star < 0 {
			continue
		}
		prefix, suffix := key[:star], key[star+1:]
		if strings.HasPrefix(subpath, prefix) && strings.HasSuffix(subpath, suffix) &&
			len(subpath) >= len(prefix)+len(suffix) {
			if !found || len(key) > len(bestKey) {
				bestKey, bestNode, found = key, node, true
			}
		}
	}
	if !found {
		return "", false
	}

	star := strings.Index(bestKey, "*")
	prefix, suffix := bestKey[:star], bestKey[star+1:]
	matched := subpath[len(prefix) : len(subpath)-len(suffix)]

	value, ok := evalNode(bestNode, conditions)
	if !ok {
		return "", false
	}
	if vstar := strings.Index(value, "*"); vstar >= 0 {
		value = value[:vstar] + matched + value[vstar+1:]
	}
	return value, true
}

// ResolveExports evaluates manifest.Exports for subpath under the given
// condition list. subpath must be normalized to "." or "./rest" by the
// caller (resolvePackageEntry does this).
func ResolveExports(m Manifest, subpath string, conditions []string) (string, bool) {
	return resolveSubpath(m.Exports, subpath, conditions)
}

// ResolveImports evaluates manifest.Imports for a "#..."-style subpath
// import, per spec.md §4.8 step 2 and the worked example in §8 scenario 6.
func ResolveImports(m Manifest, subpath string, conditions []string) (string, bool) {
	return resolveSubpath(m.Imports, subpath, conditions)
}

// LegacyResult carries both the resolved entry and any browser-field
// remapping bookkeeping the caller needs, per spec.md §4.8 step 3.
type LegacyResult struct {
	Path              string
	BrowserRemappings map[string]BrowserValue
	Excluded          bool
}

// ResolveLegacy implements the ordered main/module/browser fallback,
// including the browser-field's four shapes. fields is the ordered field
// list from condition.LegacyFields.
func ResolveLegacy(m Manifest, fields []string) (LegacyResult, bool) {
	result := LegacyResult{}
	if m.Browser.IsSet && m.Browser.Object != nil {
		result.BrowserRemappings = m.Browser.Object
	}

	for _, field := range fields {
		switch field {
		case "main":
			if m.Main != "" {
				return finishLegacy(result, m.Main), true
			}
		case "module":
			if m.Module != "" {
				return finishLegacy(result, m.Module), true
			}
		case "browser":
			if !m.Browser.IsSet {
				continue
			}
			if m.Browser.IsFalse {
				result.Excluded = true
				return result, true
			}
			if m.Browser.String != "" {
				return finishLegacy(result, m.Browser.String), true
			}
			if len(m.Browser.Array) > 0 {
				return finishLegacy(result, m.Browser.Array[0]), true
			}
			// Object form is a remapping table, not an entry point:
			// fall through to the next field in the ordered list.
		}
	}
	return result, false
}

// finishLegacy applies the browser remapping table (if any) to a
// resolved entry path, per spec.md §4.8 step 3's "consult the remapping
// table to possibly rewrite or exclude that entry."
func finishLegacy(result LegacyResult, path string) LegacyResult {
	if result.BrowserRemappings == nil {
		result.Path = path
		return result
	}
	if v, ok := result.BrowserRemappings[path]; ok {
		if v.Excluded {
			result.Excluded = true
			return result
		}
		result.Path = v.Path
		return result
	}
	result.Path = path
	return result
}

// ResolveBrowserRemap looks up a bare specifier (e.g. a dependency name
// like "fs") in the browser field's object-form remapping table, used for
// the self-contained exclusion check in spec.md §8 scenario 4.
func ResolveBrowserRemap(m Manifest, specifier string) (path string, excluded bool, ok bool) {
	if m.Browser.Object == nil {
		return "", false, false
	}
	v, found := m.Browser.Object[specifier]
	if !found {
		return "", false, false
	}
	if v.Excluded {
		return "", true, true
	}
	return v.Path, false, true
}

// NormalizeSubpath turns a raw request subpath ("", ".", "x/y") into the
// "." or "./rest" shape the exports grammar expects.
func NormalizeSubpath(raw string) string {
	if raw == "" || raw == "." {
		return "."
	}
	if strings.HasPrefix(raw, "./") {
		return raw
	}
	return "./" + raw
}

// ResolvePackageEntry is the central algorithm from spec.md §4.8: modern
// exports first, falling back to require-augmented conditions, then
// legacy fields, then (if allowed) the literal subpath, then ./index.js.
func ResolvePackageEntry(
	m Manifest,
	rawSubpath string,
	conditions []string,
	requireConditions []string,
	legacyFields []string,
	allowLiteralSubpath bool,
) (path string, usedModern bool, err error) {
	subpath := NormalizeSubpath(rawSubpath)

	if m.Exports.HasValue || m.Exports.Mapping != nil {
		if v, ok := ResolveExports(m, subpath, conditions); ok {
			return v, true, nil
		}
		if requireConditions != nil {
			if v, ok := ResolveExports(m, subpath, requireConditions); ok {
				return v, true, nil
			}
		}
	}

	if subpath == "." {
		if legacy, ok := ResolveLegacy(m, legacyFields); ok {
			if legacy.Excluded {
				return "", false, fmt.Errorf("exports: package entry is excluded by the browser field")
			}
			return legacy.Path, false, nil
		}
	}

	if allowLiteralSubpath && subpath != "." {
		return subpath, false, nil
	}

	return "./index.js", false, nil
}
