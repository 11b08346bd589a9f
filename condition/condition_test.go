package condition

import "testing"

func reflectEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestComputeBrowserESMNoUserConditions(t *testing.T) {
	set := Compute(Input{Platform: PlatformBrowser, Format: FormatESM, ImportKind: ImportKindImport})
	want := []string{"import", "browser", "module", "default"}
	if !reflectEqual(set.Conditions, want) {
		t.Fatalf("got %v, want %v", set.Conditions, want)
	}
	if !set.Browser || set.Require {
		t.Fatalf("got browser=%v require=%v, want browser=true require=false", set.Browser, set.Require)
	}
}

func TestComputeNodeRequire(t *testing.T) {
	set := Compute(Input{Platform: PlatformNode, Format: FormatCJS, ImportKind: ImportKindRequire})
	want := []string{"require", "node", "module", "default"}
	if !reflectEqual(set.Conditions, want) {
		t.Fatalf("got %v, want %v", set.Conditions, want)
	}
}

func TestComputeUserConditionsSuppressModule(t *testing.T) {
	set := Compute(Input{Platform: PlatformBrowser, ImportKind: ImportKindImport, UserConditions: []string{"development"}})
	want := []string{"import", "browser", "development", "default"}
	if !reflectEqual(set.Conditions, want) {
		t.Fatalf("got %v, want %v", set.Conditions, want)
	}
}

func TestComputeReactNativeOverlay(t *testing.T) {
	set := Compute(Input{Platform: PlatformBrowser, ImportKind: ImportKindImport, RuntimeOverlay: "react-native"})
	if set.Browser {
		t.Fatal("expected react-native overlay to disable the browser field")
	}
	want := []string{"import", "browser", "module", "react-native", "default"}
	if !reflectEqual(set.Conditions, want) {
		t.Fatalf("got %v, want %v", set.Conditions, want)
	}
}

func TestComputeWorkerdOverlay(t *testing.T) {
	set := Compute(Input{Platform: PlatformNode, ImportKind: ImportKindImport, RuntimeOverlay: "workerd"})
	if set.Browser {
		t.Fatal("expected workerd overlay Browser=false")
	}
	found := false
	for _, c := range set.Conditions {
		if c == "workerd" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected workerd condition present, got %v", set.Conditions)
	}
}

func TestLegacyFieldOrdering(t *testing.T) {
	browser := LegacyFields(Input{Platform: PlatformBrowser, ImportKind: ImportKindImport}, true)
	want := []string{"browser", "module", "main"}
	if !reflectEqual(browser, want) {
		t.Fatalf("got %v, want %v", browser, want)
	}

	node := LegacyFields(Input{Platform: PlatformNode}, false)
	want = []string{"main", "module"}
	if !reflectEqual(node, want) {
		t.Fatalf("got %v, want %v", node, want)
	}

	neutral := LegacyFields(Input{Platform: PlatformNeutral}, false)
	if len(neutral) != 0 {
		t.Fatalf("got %v, want empty", neutral)
	}
}

func TestLegacyFieldOrderingRequireWithoutStringBrowser(t *testing.T) {
	fields := LegacyFields(Input{Platform: PlatformBrowser, ImportKind: ImportKindRequire}, false)
	want := []string{"browser", "main", "module"}
	if !reflectEqual(fields, want) {
		t.Fatalf("got %v, want %v", fields, want)
	}
}
