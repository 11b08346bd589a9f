// Package vfs implements the in-memory virtual filesystem that VFS-namespace
// modules and tarball mounts are written to and read from.
//
// It follows a storage.Storage-style interface (read/write by path,
// existence reported separately from emptiness) but is keyed in memory
// instead of on disk, since VFS content is ephemeral and cleared at the
// end of a build rather than persisted.
package vfs

import "sync"

// Mode selects how Get returns content.
type Mode int

const (
	// ModeBuffer returns raw bytes.
	ModeBuffer Mode = iota
	// ModeString returns content decoded as a string.
	ModeString
)

// FS is a typed byte store keyed by canonical absolute POSIX path.
//
// A nil return from Get means the path is absent; an empty, non-nil slice
// means the path exists with empty content. Concurrency: single writer per
// path is the caller's responsibility, but FS itself is safe for concurrent
// use from many goroutines.
type FS struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// New creates an empty virtual filesystem.
func New() *FS {
	return &FS{files: make(map[string][]byte)}
}

// Get returns the content at path, and whether it exists. In ModeString the
// returned value is the string form of the bytes; in ModeBuffer it's the raw
// bytes. The returned slice is a copy and safe for the caller to retain.
func (fs *FS) Get(path string, mode Mode) (content any, ok bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	b, ok := fs.files[path]
	if !ok {
		return nil, false
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	if mode == ModeString {
		return string(cp), true
	}
	return cp, true
}

// GetBytes is a convenience wrapper around Get(path, ModeBuffer).
func (fs *FS) GetBytes(path string) ([]byte, bool) {
	v, ok := fs.Get(path, ModeBuffer)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Exists reports whether path has been written, including with empty
// content.
func (fs *FS) Exists(path string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.files[path]
	return ok
}

// Set writes content to path, creating it if absent and overwriting it
// otherwise. An empty, non-nil slice is a valid, present file.
func (fs *FS) Set(path string, content []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if content == nil {
		content = []byte{}
	}
	cp := make([]byte, len(content))
	copy(cp, content)
	fs.files[path] = cp
}

// Clear removes all files. Called once a bundle completes.
func (fs *FS) Clear() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files = make(map[string][]byte)
}

// Len reports the number of files currently present. Not part of the core
// spec surface, but useful for tests and diagnostics.
func (fs *FS) Len() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.files)
}
