// Package condition computes the ordered list of active exports
// conditions and the legacy main-field fallback order, covering the
// conditions computation and runtime-overlay table a conditional-exports
// resolver needs. Built as small, pure, well-tested functions (enum-style
// constants plus a Compute/LegacyFields pair) rather than a config object
// with hidden defaults.
package condition

// Platform is the target runtime family.
type Platform string

const (
	PlatformBrowser Platform = "browser"
	PlatformNode    Platform = "node"
	PlatformNeutral Platform = "neutral"
)

// Format is the output module format.
type Format string

const (
	FormatESM  Format = "esm"
	FormatCJS  Format = "cjs"
	FormatIIFE Format = "iife"
)

// ImportKind distinguishes an ES "import" from a CJS "require".
type ImportKind string

const (
	ImportKindImport  ImportKind = "import"
	ImportKindRequire ImportKind = "require"
)

// Overlay is a runtime overlay's additive conditions plus its effect on
// whether the browser field is consulted.
type Overlay struct {
	Name       string
	Conditions []string
	Browser    bool
}

// Overlays is the fixed table from spec.md §4.10.
var Overlays = map[string]Overlay{
	"react-native":      {Name: "react-native", Conditions: []string{"react-native"}, Browser: false},
	"electron-main":     {Name: "electron-main", Conditions: []string{"electron", "node"}, Browser: false},
	"electron-renderer":  {Name: "electron-renderer", Conditions: []string{"electron", "browser"}, Browser: true},
	"deno":              {Name: "deno", Conditions: []string{"deno", "node"}, Browser: false},
	"bun":               {Name: "bun", Conditions: []string{"bun", "node"}, Browser: false},
	"workerd":           {Name: "workerd", Conditions: []string{"workerd", "worker", "browser"}, Browser: false},
	"edge-light":        {Name: "edge-light", Conditions: []string{"edge-light", "worker", "browser"}, Browser: true},
}

// Input is the set of deterministic inputs the condition set and legacy
// field order are derived from.
type Input struct {
	Platform        Platform
	Format          Format
	ImportKind      ImportKind
	UserConditions  []string
	RuntimeOverlay  string // key into Overlays, or ""
}

// Set is the resolved {browser, require, conditions} triple.
type Set struct {
	Browser    bool
	Require    bool
	Conditions []string
}

// Compute derives the active condition set per spec.md §4.8:
// (a) import/require; (b) browser/node; (c) module (only with no user
// conditions, on browser/node); (d) runtime overlay conditions; (e) user
// conditions; (f) default, always last.
func Compute(in Input) Set {
	require := in.ImportKind == ImportKindRequire || in.Format == FormatCJS
	browser := in.Platform == PlatformBrowser

	var overlay Overlay
	hasOverlay := false
	if in.RuntimeOverlay != "" {
		if o, ok := Overlays[in.RuntimeOverlay]; ok {
			overlay = o
			hasOverlay = true
			browser = o.Browser
		}
	}

	conditions := make([]string, 0, 6+len(in.UserConditions))

	if require {
		conditions = append(conditions, "require")
	} else {
		conditions = append(conditions, "import")
	}

	switch in.Platform {
	case PlatformBrowser:
		conditions = append(conditions, "browser")
	case PlatformNode:
		conditions = append(conditions, "node")
	}

	if len(in.UserConditions) == 0 && (in.Platform == PlatformBrowser || in.Platform == PlatformNode) {
		conditions = append(conditions, "module")
	}

	if hasOverlay {
		conditions = append(conditions, overlay.Conditions...)
	}

	conditions = append(conditions, in.UserConditions...)
	conditions = append(conditions, "default")

	return Set{Browser: browser, Require: require, Conditions: conditions}
}

// LegacyFields returns the ordered list of manifest fields to fall back to
// when modern exports resolution fails, per spec.md §4.8 step 3 and the
// "Legacy field ordering" rule.
func LegacyFields(in Input, browserIsStringEntry bool) []string {
	var fields []string

	if o, ok := Overlays[in.RuntimeOverlay]; ok && in.RuntimeOverlay != "" {
		_ = o // overlays only affect condition sets and the browser flag here; no distinguished legacy field is defined for the fixed table's current members
	}

	switch in.Platform {
	case PlatformBrowser:
		if in.ImportKind == ImportKindRequire && !browserIsStringEntry {
			fields = []string{"browser", "main", "module"}
		} else {
			fields = []string{"browser", "module", "main"}
		}
	case PlatformNode:
		fields = []string{"main", "module"}
	default:
		fields = []string{}
	}

	return fields
}
