// Package depspec classifies the right-hand side of a package.json
// dependency entry into a tagged union:
// semver|version|tag|alias|url|git|file|directory|workspace|link|unknown.
// It generalizes the narrower "is this an exact version or a tag to look
// up in dist-tags" distinction a download-by-spec helper typically makes
// to the full classification grammar, adding Masterminds/semver/v3 for
// range recognition.
package depspec

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Kind tags which branch of the dependency-spec union a Spec occupies.
type Kind string

const (
	KindSemver    Kind = "semver"    // a range, e.g. "^1.2.0", "~1.2", ">=1.0 <2.0"
	KindVersion   Kind = "version"   // an exact version, e.g. "1.2.3"
	KindTag       Kind = "tag"       // a dist-tag, e.g. "latest", "next"
	KindAlias     Kind = "alias"     // npm:name@version
	KindURL       Kind = "url"       // http(s):// tarball or direct URL
	KindGit       Kind = "git"       // git+ssh://, github:owner/repo, etc.
	KindFile      Kind = "file"      // file:../local-path (tarball or dir, ambiguous without a stat)
	KindDirectory Kind = "directory" // file: pointing at a directory (disambiguated by caller via stat)
	KindWorkspace Kind = "workspace" // workspace:*
	KindLink      Kind = "link"      // link:../local-path
	KindUnknown   Kind = "unknown"
)

// AliasTarget is the unwrapped {name, version, path} of an npm: alias.
type AliasTarget struct {
	Name    string
	Version string
	Path    string
}

// GitInfo captures the parsed fields of a git dependency spec.
type GitInfo struct {
	Hosted     string // "github", "gitlab", "bitbucket", or "" for a raw git URL
	Committish string
	Range      string
	Subdir     string
}

// Spec is the classified form of a dependency entry's raw value.
type Spec struct {
	Kind  Kind
	Raw   string
	URL   string       // set for KindURL
	Git   *GitInfo     // set for KindGit
	Alias *AliasTarget // set for KindAlias
	Path  string        // set for KindFile/KindDirectory/KindLink
	Error error         // set for KindUnknown
}

// Classify inspects raw (the right-hand side of a dependency map entry)
// and returns its Spec.
func Classify(raw string) Spec {
	trimmed := strings.TrimSpace(raw)

	switch {
	case trimmed == "":
		return Spec{Kind: KindUnknown, Raw: raw, Error: fmt.Errorf("depspec: empty spec")}

	case strings.HasPrefix(trimmed, "npm:"):
		return classifyAlias(raw, trimmed)

	case strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://"):
		return Spec{Kind: KindURL, Raw: raw, URL: trimmed}

	case strings.HasPrefix(trimmed, "git+") || strings.HasPrefix(trimmed, "git://") ||
		strings.HasPrefix(trimmed, "github:") || strings.HasPrefix(trimmed, "gitlab:") ||
		strings.HasPrefix(trimmed, "bitbucket:") || isShorthandGitHub(trimmed):
		return classifyGit(raw, trimmed)

	case strings.HasPrefix(trimmed, "workspace:"):
		return Spec{Kind: KindWorkspace, Raw: raw}

	case strings.HasPrefix(trimmed, "link:"):
		return Spec{Kind: KindLink, Raw: raw, Path: strings.TrimPrefix(trimmed, "link:")}

	case strings.HasPrefix(trimmed, "file:"):
		return Spec{Kind: KindFile, Raw: raw, Path: strings.TrimPrefix(trimmed, "file:")}

	default:
		return classifySemverOrTag(raw, trimmed)
	}
}

func classifyAlias(raw, trimmed string) Spec {
	target := strings.TrimPrefix(trimmed, "npm:")
	if strings.Contains(target, "npm:") {
		return Spec{Kind: KindUnknown, Raw: raw, Error: fmt.Errorf("depspec: nested npm: aliases are not supported: %q", raw)}
	}

	scoped := strings.HasPrefix(target, "@")
	name := target
	version := ""
	path := ""

	searchFrom := 0
	if scoped {
		idx := strings.Index(target, "/")
		if idx < 0 {
			return Spec{Kind: KindUnknown, Raw: raw, Error: fmt.Errorf("depspec: malformed scoped alias target %q", raw)}
		}
		searchFrom = idx + 1
	}
	if at := strings.Index(target[searchFrom:], "@"); at >= 0 {
		atAbs := searchFrom + at
		name = target[:atAbs]
		rest := target[atAbs+1:]
		if slash := strings.Index(rest, "/"); slash >= 0 {
			version = rest[:slash]
			path = rest[slash+1:]
		} else {
			version = rest
		}
	}

	return Spec{
		Kind:  KindAlias,
		Raw:   raw,
		Alias: &AliasTarget{Name: name, Version: version, Path: path},
	}
}

func isShorthandGitHub(s string) bool {
	// "owner/repo" or "owner/repo#committish", not a scoped package name
	// (those always start with "@") and not a bare semver range.
	if strings.HasPrefix(s, "@") || strings.HasPrefix(s, "^") || strings.HasPrefix(s, "~") {
		return false
	}
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return false
	}
	return !strings.ContainsAny(parts[0], ". ") && parts[0] != "" && parts[1] != ""
}

func classifyGit(raw, trimmed string) Spec {
	info := &GitInfo{}

	url := trimmed
	for _, prefix := range []string{"git+", "github:", "gitlab:", "bitbucket:"} {
		if strings.HasPrefix(trimmed, prefix) {
			info.Hosted = strings.TrimSuffix(prefix, ":")
			if info.Hosted == "git+" {
				info.Hosted = ""
			}
			url = strings.TrimPrefix(trimmed, prefix)
			break
		}
	}
	if info.Hosted == "" && isShorthandGitHub(trimmed) {
		info.Hosted = "github"
		url = trimmed
	}

	if idx := strings.Index(url, "#"); idx >= 0 {
		info.Committish = url[idx+1:]
		url = url[:idx]
	}

	info.Subdir = "" // subdirectory specs (path:) are rare enough to leave to a caller that needs them

	return Spec{Kind: KindGit, Raw: raw, Git: info}
}

func classifySemverOrTag(raw, trimmed string) Spec {
	if trimmed == "*" || trimmed == "" || trimmed == "latest" {
		return Spec{Kind: KindTag, Raw: raw}
	}

	if _, err := semver.NewVersion(trimmed); err == nil && looksLikeExactVersion(trimmed) {
		return Spec{Kind: KindVersion, Raw: raw}
	}

	if _, err := semver.NewConstraint(trimmed); err == nil {
		return Spec{Kind: KindSemver, Raw: raw}
	}

	// Not a valid range or exact version; treat as a dist-tag (npm allows
	// arbitrary tag names such as "next", "beta").
	if isPlausibleTagName(trimmed) {
		return Spec{Kind: KindTag, Raw: raw}
	}

	return Spec{Kind: KindUnknown, Raw: raw, Error: fmt.Errorf("depspec: unrecognized dependency spec %q", raw)}
}

// looksLikeExactVersion distinguishes "1.2.3" from a constraint that
// semver.NewVersion would also happily parse the anchor of, like "1.2.x".
func looksLikeExactVersion(s string) bool {
	return !strings.ContainsAny(s, "<>=^~* ||xX")
}

func isPlausibleTagName(s string) bool {
	if strings.ContainsAny(s, " /\\") {
		return false
	}
	return len(s) > 0
}
