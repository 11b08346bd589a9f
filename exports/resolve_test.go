package exports

import "testing"

func TestResolveExportsStringRoot(t *testing.T) {
	raw := []byte(`{"name":"pkg","exports":"./index.js"}`)
	m, err := ParseManifest(raw)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	got, ok := ResolveExports(m, ".", []string{"import", "default"})
	if !ok || got != "./index.js" {
		t.Fatalf("got %q, %v, want ./index.js, true", got, ok)
	}
}

func TestResolveExportsConditionalMap(t *testing.T) {
	raw := []byte(`{"name":"pkg","exports":{"import":"./esm/index.js","require":"./cjs/index.js","default":"./index.js"}}`)
	m, err := ParseManifest(raw)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	got, ok := ResolveExports(m, ".", []string{"import", "default"})
	if !ok || got != "./esm/index.js" {
		t.Fatalf("got %q, %v, want ./esm/index.js", got, ok)
	}
	got, ok = ResolveExports(m, ".", []string{"require", "default"})
	if !ok || got != "./cjs/index.js" {
		t.Fatalf("got %q, %v, want ./cjs/index.js", got, ok)
	}
}

func TestResolveExportsSubpathWildcard(t *testing.T) {
	raw := []byte(`{"name":"pkg","exports":{"./*":"./dist/*.js","./package.json":"./package.json"}}`)
	m, err := ParseManifest(raw)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	got, ok := ResolveExports(m, "./utils/helper", []string{"import", "default"})
	if !ok || got != "./dist/utils/helper.js" {
		t.Fatalf("got %q, %v, want ./dist/utils/helper.js", got, ok)
	}
	got, ok = ResolveExports(m, "./package.json", []string{"import", "default"})
	if !ok || got != "./package.json" {
		t.Fatalf("got %q, %v, want exact match ./package.json", got, ok)
	}
}

func TestResolveImportsSubpathImport(t *testing.T) {
	// spec.md §8 scenario 6.
	raw := []byte(`{"name":"pkg","imports":{"#internal/*":{"import":"./src/*.ts","require":"./dist/*.js"}}}`)
	m, err := ParseManifest(raw)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	got, ok := ResolveImports(m, "#internal/x", []string{"import", "browser", "module", "default"})
	if !ok || got != "./src/x.ts" {
		t.Fatalf("got %q, %v, want ./src/x.ts", got, ok)
	}
}

func TestResolveLegacyBrowserObjectForm(t *testing.T) {
	// spec.md §8 scenario 4.
	raw := []byte(`{"name":"pkg","main":"./lib/index.js","browser":{"./lib/node.js":"./lib/browser.js","fs":false}}`)
	m, err := ParseManifest(raw)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	path, usedModern, err := ResolvePackageEntry(m, ".", []string{"import", "browser", "module", "default"}, nil, []string{"browser", "module", "main"}, false)
	if err != nil {
		t.Fatalf("ResolvePackageEntry: %v", err)
	}
	if usedModern {
		t.Fatal("expected legacy resolution, not modern exports")
	}
	if path != "./lib/index.js" {
		t.Fatalf("got %q, want ./lib/index.js", path)
	}

	remapPath, excluded, ok := ResolveBrowserRemap(m, "fs")
	if !ok || !excluded {
		t.Fatalf("got path=%q excluded=%v ok=%v, want excluded=true", remapPath, excluded, ok)
	}
}

func TestResolvePackageEntryFallbackToIndexJS(t *testing.T) {
	m := Manifest{Name: "pkg"}
	path, usedModern, err := ResolvePackageEntry(m, ".", []string{"import", "default"}, nil, []string{}, false)
	if err != nil {
		t.Fatalf("ResolvePackageEntry: %v", err)
	}
	if usedModern {
		t.Fatal("expected non-modern fallback")
	}
	if path != "./index.js" {
		t.Fatalf("got %q, want ./index.js", path)
	}
}

func TestResolvePackageEntryAllowsLiteralSubpath(t *testing.T) {
	m := Manifest{Name: "pkg"}
	path, _, err := ResolvePackageEntry(m, "some/file.js", []string{"import", "default"}, nil, []string{}, true)
	if err != nil {
		t.Fatalf("ResolvePackageEntry: %v", err)
	}
	if path != "./some/file.js" {
		t.Fatalf("got %q, want ./some/file.js", path)
	}
}

func TestResolvePackageEntryModernThenRequireRetry(t *testing.T) {
	raw := []byte(`{"name":"pkg","exports":{"require":"./cjs/index.js","node":"./index.js"}}`)
	m, err := ParseManifest(raw)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	path, usedModern, err := ResolvePackageEntry(m, ".", []string{"import", "browser", "default"}, []string{"require", "browser", "default"}, []string{}, false)
	if err != nil {
		t.Fatalf("ResolvePackageEntry: %v", err)
	}
	if !usedModern {
		t.Fatal("expected modern exports resolution")
	}
	if path != "./cjs/index.js" {
		t.Fatalf("got %q, want ./cjs/index.js (via require retry)", path)
	}
}
