package vfs

import "testing"

func TestAbsenceIsDistinctFromEmptiness(t *testing.T) {
	fs := New()
	if _, ok := fs.GetBytes("/a"); ok {
		t.Fatal("expected absent path to report not-ok")
	}
	fs.Set("/a", []byte{})
	b, ok := fs.GetBytes("/a")
	if !ok {
		t.Fatal("expected empty file to exist")
	}
	if len(b) != 0 {
		t.Fatalf("expected empty content, got %v", b)
	}
}

func TestSetOverwrites(t *testing.T) {
	fs := New()
	fs.Set("/a", []byte("one"))
	fs.Set("/a", []byte("two"))
	b, _ := fs.GetBytes("/a")
	if string(b) != "two" {
		t.Fatalf("got %q, want two", b)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	fs := New()
	fs.Set("/a", []byte("abc"))
	b, _ := fs.GetBytes("/a")
	b[0] = 'z'
	b2, _ := fs.GetBytes("/a")
	if string(b2) != "abc" {
		t.Fatalf("mutation leaked into store: %q", b2)
	}
}

func TestClear(t *testing.T) {
	fs := New()
	fs.Set("/a", []byte("x"))
	fs.Clear()
	if fs.Exists("/a") {
		t.Fatal("expected file to be gone after Clear")
	}
	if fs.Len() != 0 {
		t.Fatalf("expected 0 files, got %d", fs.Len())
	}
}

func TestModeString(t *testing.T) {
	fs := New()
	fs.Set("/a", []byte("hello"))
	v, ok := fs.Get("/a", ModeString)
	if !ok || v.(string) != "hello" {
		t.Fatalf("got %v, %v", v, ok)
	}
}
