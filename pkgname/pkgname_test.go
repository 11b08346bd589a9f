package pkgname

import "testing"

func TestParsePackageSpecUnscoped(t *testing.T) {
	tests := []struct {
		raw             string
		name, ver, sub string
	}{
		{"lodash", "lodash", "", ""},
		{"lodash@4.17.21", "lodash", "4.17.21", ""},
		{"lodash@4.17.21/fp.js", "lodash", "4.17.21", "fp.js"},
		{"lodash/fp.js", "lodash", "", "fp.js"},
	}
	for _, tt := range tests {
		got, err := ParsePackageSpec(tt.raw)
		if err != nil {
			t.Fatalf("ParsePackageSpec(%q): %v", tt.raw, err)
		}
		if got.Name != tt.name || got.Version != tt.ver || got.Subpath != tt.sub {
			t.Errorf("ParsePackageSpec(%q) = %+v, want {%q %q %q}", tt.raw, got, tt.name, tt.ver, tt.sub)
		}
	}
}

func TestParsePackageSpecScoped(t *testing.T) {
	tests := []struct {
		raw             string
		name, ver, sub string
	}{
		{"@tanstack/react-query", "@tanstack/react-query", "", ""},
		{"@tanstack/react-query@5.0.0", "@tanstack/react-query", "5.0.0", ""},
		{"@tanstack/react-query@5.0.0/build/lib/index.js", "@tanstack/react-query", "5.0.0", "build/lib/index.js"},
	}
	for _, tt := range tests {
		got, err := ParsePackageSpec(tt.raw)
		if err != nil {
			t.Fatalf("ParsePackageSpec(%q): %v", tt.raw, err)
		}
		if got.Name != tt.name || got.Version != tt.ver || got.Subpath != tt.sub {
			t.Errorf("ParsePackageSpec(%q) = %+v, want {%q %q %q}", tt.raw, got, tt.name, tt.ver, tt.sub)
		}
	}
}

func TestParsePackageSpecRoundTrip(t *testing.T) {
	tests := []struct{ name, ver, sub string }{
		{"lodash", "4.17.21", "fp.js"},
		{"@scope/pkg", "1.0.0", ""},
		{"react", "", ""},
	}
	for _, tt := range tests {
		raw := BuildPackageSpec(tt.name, tt.ver, tt.sub)
		got, err := ParsePackageSpec(raw)
		if err != nil {
			t.Fatalf("ParsePackageSpec(%q): %v", raw, err)
		}
		if got.Name != tt.name || got.Version != tt.ver || got.Subpath != tt.sub {
			t.Errorf("round trip of {%q %q %q} via %q = %+v", tt.name, tt.ver, tt.sub, raw, got)
		}
	}
}

func TestValidateNameRejectsUppercase(t *testing.T) {
	if err := ValidateName("Lodash"); err == nil {
		t.Fatal("expected error for uppercase package name")
	}
}

func TestValidateJSRName(t *testing.T) {
	if err := ValidateJSRName("std", "path"); err != nil {
		t.Fatalf("expected valid JSR name, got %v", err)
	}
	if err := ValidateJSRName("s", "path"); err == nil {
		t.Fatal("expected error for too-short JSR scope")
	}
}
