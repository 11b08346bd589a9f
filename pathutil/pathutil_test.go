package pathutil

import "testing"

func TestIsBare(t *testing.T) {
	tests := []struct {
		spec string
		want bool
	}{
		{"react", true},
		{"@scope/pkg", true},
		{"lodash/get", true},
		{"./x", false},
		{"../x", false},
		{"/x", false},
		{"http://example.com/x", false},
		{"https://example.com/x", false},
		{"#internal/x", false},
		{"data:text/plain;base64,abc", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsBare(tt.spec); got != tt.want {
			t.Errorf("IsBare(%q) = %v, want %v", tt.spec, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		base, rel, want string
	}{
		{"/a", "./shared", "/a/shared"},
		{"/a/b", "./shared", "/a/b/shared"},
		{"/a/b", "../shared", "/a/shared"},
		{"/a/b", "/abs", "/abs"},
	}
	for _, tt := range tests {
		if got := Resolve(tt.base, tt.rel); got != tt.want {
			t.Errorf("Resolve(%q, %q) = %q, want %q", tt.base, tt.rel, got, tt.want)
		}
	}
}

func TestVFSIdentityCollisionAvoidance(t *testing.T) {
	// Scenario 2 from spec.md §8: two sibling directories each importing
	// "./shared" must resolve to distinct canonical paths.
	a := Resolve(Dir("/a/index.tsx"), "./shared")
	b := Resolve(Dir("/b/index.tsx"), "./shared")
	if a == b {
		t.Fatalf("expected distinct paths, both resolved to %q", a)
	}
	if a != "/a/shared" || b != "/b/shared" {
		t.Fatalf("got a=%q b=%q", a, b)
	}
}

func TestDir(t *testing.T) {
	if got := Dir("/a/b.ts"); got != "/a" {
		t.Errorf("Dir(/a/b.ts) = %q, want /a", got)
	}
	if got := Dir("/a"); got != "/" {
		t.Errorf("Dir(/a) = %q, want /", got)
	}
}
