// Package sideeffects evaluates a package.json "sideEffects" field:
// true/absent means "unknown, assume side-effectful", false means the
// whole package is side-effect free, and a glob array scopes the claim to
// specific files. Built fresh against path.Match-style glob semantics,
// extended with "**" globstar matching the way bundlers expect it to
// behave.
package sideeffects

import (
	"path"
	"regexp"
	"strings"
	"sync"
)

// Field is the parsed outcome of a package.json "sideEffects" entry.
type Field struct {
	// Known is false when the field was absent; callers should treat an
	// absent field identically to true (assume side effects) per the npm
	// convention, but Known lets a caller distinguish "explicitly true"
	// from "not declared" for diagnostics.
	Known bool
	// AlwaysTrue is set for an absent or `true` field: every file in the
	// package may have side effects.
	AlwaysTrue bool
	// AlwaysFalse is set for a literal `false` field: no file in the
	// package has side effects.
	AlwaysFalse bool
	// Patterns holds the raw glob strings for the array form.
	Patterns []string
}

// Parse classifies a "sideEffects" field's raw JSON-decoded value. pass
// exactly one of: nil (absent), a bool, or a []string; nil (absent) yields
// Known=false with AlwaysTrue=true.
func Parse(raw any) Field {
	switch v := raw.(type) {
	case nil:
		return Field{Known: false, AlwaysTrue: true}
	case bool:
		if v {
			return Field{Known: true, AlwaysTrue: true}
		}
		return Field{Known: true, AlwaysFalse: true}
	case []string:
		return Field{Known: true, Patterns: v}
	default:
		return Field{Known: false, AlwaysTrue: true}
	}
}

// Matcher evaluates whether a specific package-relative file path has side
// effects, per a package's declared Field. A Matcher compiles its glob
// patterns once, on first use. Nothing in this module caches Matchers
// across calls: Evaluate builds a new one every time it is called.
type Matcher struct {
	field    Field
	compiled []*regexp.Regexp
	once     sync.Once
}

// NewMatcher builds a (lazily-compiled) matcher for field.
func NewMatcher(field Field) *Matcher {
	return &Matcher{field: field}
}

// HasSideEffects reports whether filePath (package-relative, POSIX-style,
// no leading "./") is considered side-effect-bearing.
func (m *Matcher) HasSideEffects(filePath string) bool {
	if m.field.AlwaysTrue {
		return true
	}
	if m.field.AlwaysFalse {
		return false
	}
	m.compile()
	for _, re := range m.compiled {
		if re.MatchString(filePath) {
			return true
		}
	}
	return false
}

func (m *Matcher) compile() {
	m.once.Do(func() {
		m.compiled = make([]*regexp.Regexp, 0, len(m.field.Patterns))
		for _, p := range m.field.Patterns {
			m.compiled = append(m.compiled, compileGlob(normalizePattern(p)))
		}
	})
}

// normalizePattern applies spec.md §4.9's "a pattern without a '/' becomes
// '**/<pattern>'" rule, so a bare "*.css" matches at any depth, matching
// how npm's own sideEffects field is documented to behave.
func normalizePattern(p string) string {
	p = strings.TrimPrefix(p, "./")
	if !strings.Contains(p, "/") {
		return "**/" + p
	}
	return p
}

// compileGlob turns a glob pattern (supporting "*", "?", and "**" as a
// path-spanning wildcard) into an anchored regexp.
func compileGlob(pattern string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("^")
	segments := strings.Split(pattern, "/")
	afterGlobstar := false
	for i, seg := range segments {
		if seg == "**" {
			if i > 0 {
				sb.WriteString("/")
			}
			if i == len(segments)-1 {
				sb.WriteString(".*")
			} else {
				sb.WriteString("(?:.*/)?")
			}
			afterGlobstar = true
			continue
		}
		if i > 0 && !afterGlobstar {
			sb.WriteString("/")
		}
		afterGlobstar = false
		sb.WriteString(globSegmentToRegexp(seg))
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		// An unparseable pattern matches nothing rather than panicking or
		// silently matching everything.
		return regexp.MustCompile(`^\x00unmatchable\x00$`)
	}
	return re
}

func globSegmentToRegexp(seg string) string {
	var sb strings.Builder
	for _, r := range seg {
		switch r {
		case '*':
			sb.WriteString("[^/]*")
		case '?':
			sb.WriteString("[^/]")
		case '.', '+', '(', ')', '|', '^', '$', '[', ']', '{', '}', '\\':
			sb.WriteString(regexp.QuoteMeta(string(r)))
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Evaluate is the one-shot convenience form of Parse+NewMatcher+
// HasSideEffects for a single lookup: build a package's Field from its raw
// "sideEffects" manifest value and test relPath against it, gated by
// IsJSLikeExtension. Callers resolving many paths against the same
// package should build one Matcher with NewMatcher instead, so the glob
// patterns are compiled once rather than per path.
func Evaluate(rawSideEffects any, relPath string) bool {
	if !IsJSLikeExtension(relPath) {
		return true
	}
	return NewMatcher(Parse(rawSideEffects)).HasSideEffects(relPath)
}

// IsJSLikeExtension gates whether a path even participates in side-effect
// analysis: non-JS assets (images, fonts) are never tree-shaken on this
// basis, per spec.md §4.9's "gating by JS-like extension".
func IsJSLikeExtension(filePath string) bool {
	switch path.Ext(filePath) {
	case ".js", ".mjs", ".cjs", ".jsx", ".ts", ".tsx", ".mts", ".cts":
		return true
	default:
		return false
	}
}
