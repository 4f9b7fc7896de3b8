// Package registry tracks the containers a process has open.
//
// At most one open handle set may exist per physical container path within
// a process: two independent opens of the same file would each buffer
// structural state and silently corrupt each other on flush. The registry
// is that aliasing guard, keyed by canonical path.
//
// It is an explicit, injectable collaborator rather than an implicit
// singleton: tests construct their own registry and the package-level
// Default is only a convenience for applications that open containers from
// one place.
package registry

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// Registry tracks open containers by canonical path. Safe for concurrent
// use by multiple goroutines.
type Registry struct {
	mu   sync.Mutex
	open map[string]*Entry
}

// Entry describes one registered open container.
type Entry struct {
	// Path is the canonical container path.
	Path string

	// Writable reports whether the container is open for write/update.
	Writable bool

	// OpenedAt is when the container was registered.
	OpenedAt time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{open: make(map[string]*Entry)}
}

// Default is the process-wide registry used when no explicit registry is
// injected.
var Default = New()

// Canonical resolves path to its canonical absolute form. Symlinks are
// resolved when the target exists so two spellings of one file cannot
// slip past the guard.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("canonicalise path %q: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	// Target may not exist yet (create path); canonicalise the parent so
	// "dir/../x" and "x" still collide.
	dir, base := filepath.Split(abs)
	if resolved, err := filepath.EvalSymlinks(filepath.Clean(dir)); err == nil {
		return filepath.Join(resolved, base), nil
	}
	return abs, nil
}

// Register records an open container. It fails if the canonical path is
// already registered.
func (r *Registry) Register(path string, writable bool) (*Entry, error) {
	canon, err := Canonical(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.open[canon]; ok {
		return nil, fmt.Errorf("container %q is already open in this process (since %s)",
			canon, existing.OpenedAt.Format(time.RFC3339))
	}

	entry := &Entry{Path: canon, Writable: writable, OpenedAt: time.Now()}
	r.open[canon] = entry
	return entry, nil
}

// Deregister removes an entry. Deregistering an unknown or nil entry is a
// no-op: close paths run on error cleanup too and must stay idempotent.
func (r *Registry) Deregister(entry *Entry) {
	if entry == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.open[entry.Path]; ok && cur == entry {
		delete(r.open, entry.Path)
	}
}

// Lookup returns the entry for path, if registered.
func (r *Registry) Lookup(path string) (*Entry, bool) {
	canon, err := Canonical(path)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.open[canon]
	return e, ok
}

// Entries returns a snapshot of all registered containers.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.open))
	for _, e := range r.open {
		out = append(out, *e)
	}
	return out
}
