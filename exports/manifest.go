// Package exports implements the recursive conditional-exports/imports
// evaluator and legacy main/module/browser field fallback behind
// resolvePackageEntry. Built fresh as a small tagged-variant tree
// evaluator.
package exports

import (
	"encoding/json"
	"fmt"
)

// BrowserField models the four shapes package.json's "browser" field can
// take: absent, a string entry point, an array (first element used as the
// entry point), an object remapping table, or false (package excluded
// entirely).
type BrowserField struct {
	IsSet    bool
	String   string
	Array    []string
	Object   map[string]BrowserValue
	IsFalse  bool
}

// BrowserValue is a remapping-table value: a replacement path, or false
// meaning the key is excluded (stubbed out) under browser conditions.
type BrowserValue struct {
	Excluded bool
	Path     string
}

// Manifest is the subset of package.json this package needs to resolve
// entry points.
type Manifest struct {
	Name    string
	Version string
	Main    string
	Module  string
	Browser BrowserField
	Exports Node
	Imports Node
	Type    string // "module" | "commonjs"

	// SideEffects is the raw decoded "sideEffects" field: nil (absent),
	// a bool, or a []string of glob patterns. Passed to
	// sideeffects.Parse as-is.
	SideEffects any

	// Dependencies, DevDependencies, PeerDependencies and
	// OptionalDependencies mirror package.json's four dependency maps,
	// used to flatten a package's declared version range for an
	// un-pinned bare import.
	Dependencies         map[string]string
	DevDependencies      map[string]string
	PeerDependencies     map[string]string
	OptionalDependencies map[string]string
}

// Node is a tagged variant of the exports/imports AST: a leaf string, an
// array of alternatives, or a conditional/subpath mapping.
type Node struct {
	IsNil    bool
	String   string
	Array    []Node
	Mapping  map[string]Node // condition name or "./subpath" -> Node
	HasValue bool
}

// ParseManifest decodes raw package.json bytes into a Manifest, tolerant
// of every shape the "browser" and "exports" fields can take. JSON parse
// failures are warnings per spec.md §7: the caller gets the zero
// Manifest plus an error it may choose to log and fall back from.
func ParseManifest(raw []byte) (Manifest, error) {
	var wire struct {
		Name                 string            `json:"name"`
		Version              string            `json:"version"`
		Main                 string            `json:"main"`
		Module               string            `json:"module"`
		Browser              json.RawMessage   `json:"browser"`
		Exports              json.RawMessage   `json:"exports"`
		Imports              json.RawMessage   `json:"imports"`
		Type                 string            `json:"type"`
		SideEffects          json.RawMessage   `json:"sideEffects"`
		Dependencies         map[string]string `json:"dependencies"`
		DevDependencies      map[string]string `json:"devDependencies"`
		PeerDependencies     map[string]string `json:"peerDependencies"`
		OptionalDependencies map[string]string `json:"optionalDependencies"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Manifest{}, fmt.Errorf("exports: parsing manifest: %w", err)
	}

	m := Manifest{
		Name:                 wire.Name,
		Version:              wire.Version,
		Main:                 wire.Main,
		Module:               wire.Module,
		Type:                 wire.Type,
		Dependencies:         wire.Dependencies,
		DevDependencies:      wire.DevDependencies,
		PeerDependencies:     wire.PeerDependencies,
		OptionalDependencies: wire.OptionalDependencies,
	}

	if len(wire.SideEffects) > 0 {
		m.SideEffects = decodeSideEffects(wire.SideEffects)
	}

	if len(wire.Browser) > 0 {
		bf, err := parseBrowserField(wire.Browser)
		if err != nil {
			return Manifest{}, fmt.Errorf("exports: parsing browser field: %w", err)
		}
		m.Browser = bf
	}

	if len(wire.Exports) > 0 {
		n, err := parseNode(wire.Exports)
		if err != nil {
			return Manifest{}, fmt.Errorf("exports: parsing exports field: %w", err)
		}
		m.Exports = n
	}

	if len(wire.Imports) > 0 {
		n, err := parseNode(wire.Imports)
		if err != nil {
			return Manifest{}, fmt.Errorf("exports: parsing imports field: %w", err)
		}
		m.Imports = n
	}

	return m, nil
}

// decodeSideEffects decodes a "sideEffects" field into the shape
// sideeffects.Parse expects: a bool, or a []string, or nil for anything
// else (an unrecognized shape is treated the same as "absent").
func decodeSideEffects(raw json.RawMessage) any {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var patterns []string
	if err := json.Unmarshal(raw, &patterns); err == nil {
		return patterns
	}
	return nil
}

func parseBrowserField(raw json.RawMessage) (BrowserField, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return BrowserField{IsSet: true, String: s}, nil
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if !b {
			return BrowserField{IsSet: true, IsFalse: true}, nil
		}
		return BrowserField{}, fmt.Errorf("browser field 'true' is not a valid shape")
	}

	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return BrowserField{IsSet: true, Array: arr}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		remap := make(map[string]BrowserValue, len(obj))
		for k, v := range obj {
			var vs string
			if err := json.Unmarshal(v, &vs); err == nil {
				remap[k] = BrowserValue{Path: vs}
				continue
			}
			var vb bool
			if err := json.Unmarshal(v, &vb); err == nil && !vb {
				remap[k] = BrowserValue{Excluded: true}
				continue
			}
			return BrowserField{}, fmt.Errorf("browser field remapping value for %q has an unsupported shape", k)
		}
		return BrowserField{IsSet: true, Object: remap}, nil
	}

	return BrowserField{}, fmt.Errorf("browser field has an unrecognized shape")
}

func parseNode(raw json.RawMessage) (Node, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return Node{String: s, HasValue: true}, nil
	}

	var null any
	if err := json.Unmarshal(raw, &null); err == nil && null == nil {
		return Node{IsNil: true}, nil
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		nodes := make([]Node, 0, len(arr))
		for _, item := range arr {
			n, err := parseNode(item)
			if err != nil {
				return Node{}, err
			}
			nodes = append(nodes, n)
		}
		return Node{Array: nodes, HasValue: true}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		mapping := make(map[string]Node, len(obj))
		for k, v := range obj {
			n, err := parseNode(v)
			if err != nil {
				return Node{}, err
			}
			mapping[k] = n
		}
		return Node{Mapping: mapping, HasValue: true}, nil
	}

	return Node{}, fmt.Errorf("exports: unrecognized node shape: %s", string(raw))
}
