package sideeffects

import "testing"

func TestParseAbsentIsAlwaysTrue(t *testing.T) {
	f := Parse(nil)
	if !f.AlwaysTrue || f.Known {
		t.Fatalf("got %+v, want AlwaysTrue with Known=false", f)
	}
}

func TestParseFalseIsAlwaysFalse(t *testing.T) {
	f := Parse(false)
	if !f.AlwaysFalse || !f.Known {
		t.Fatalf("got %+v", f)
	}
}

func TestMatcherGlobArrayScoped(t *testing.T) {
	f := Parse([]string{"./src/polyfills.js", "*.css"})
	m := NewMatcher(f)

	if !m.HasSideEffects("src/polyfills.js") {
		t.Error("expected src/polyfills.js to have side effects")
	}
	if m.HasSideEffects("src/other.js") {
		t.Error("expected src/other.js to be side-effect free")
	}
	if !m.HasSideEffects("deeply/nested/theme.css") {
		t.Error("expected a bare '*.css' pattern to match at any depth")
	}
}

func TestMatcherGlobstar(t *testing.T) {
	f := Parse([]string{"vendor/**/*.js"})
	m := NewMatcher(f)
	if !m.HasSideEffects("vendor/a/b/c.js") {
		t.Error("expected globstar to match nested paths")
	}
	if m.HasSideEffects("lib/a.js") {
		t.Error("expected vendor/-scoped pattern to not match lib/a.js")
	}
}

func TestIsJSLikeExtension(t *testing.T) {
	cases := map[string]bool{
		"a.js": true, "a.tsx": true, "a.css": false, "a.png": false, "a.json": false,
	}
	for p, want := range cases {
		if got := IsJSLikeExtension(p); got != want {
			t.Errorf("IsJSLikeExtension(%q) = %v, want %v", p, got, want)
		}
	}
}
