package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsSecondOpen(t *testing.T) {
	r := New()
	path := filepath.Join(t.TempDir(), "data.hos")

	e, err := r.Register(path, true)
	require.NoError(t, err)

	// A second registration fails regardless of access mode: even two
	// readers would alias each other's cached structure.
	_, err = r.Register(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already open in this process")

	r.Deregister(e)
	e2, err := r.Register(path, false)
	require.NoError(t, err)
	assert.False(t, e2.Writable)
}

func TestRegisterCollapsesPathSpellings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.hos")

	r := New()
	_, err := r.Register(path, true)
	require.NoError(t, err)

	// A dotted respelling of the same file resolves to the same canonical
	// path and is rejected.
	alias := filepath.Join(dir, "sub", "..", "data.hos")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	_, err = r.Register(alias, true)
	require.Error(t, err)
}

func TestRegisterResolvesSymlinks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.hos")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	link := filepath.Join(dir, "link.hos")
	require.NoError(t, os.Symlink(path, link))

	r := New()
	_, err := r.Register(path, true)
	require.NoError(t, err)
	_, err = r.Register(link, true)
	require.Error(t, err)
}

func TestDeregisterIsIdempotent(t *testing.T) {
	r := New()
	path := filepath.Join(t.TempDir(), "data.hos")

	e, err := r.Register(path, true)
	require.NoError(t, err)
	r.Deregister(e)
	r.Deregister(e)
	r.Deregister(nil)

	_, ok := r.Lookup(path)
	assert.False(t, ok)
}

func TestLookupAndEntries(t *testing.T) {
	r := New()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.hos")
	b := filepath.Join(dir, "b.hos")

	_, err := r.Register(a, true)
	require.NoError(t, err)
	_, err = r.Register(b, false)
	require.NoError(t, err)

	e, ok := r.Lookup(a)
	require.True(t, ok)
	assert.True(t, e.Writable)
	assert.False(t, e.OpenedAt.IsZero())

	assert.Len(t, r.Entries(), 2)

	_, ok = r.Lookup(filepath.Join(dir, "c.hos"))
	assert.False(t, ok)
}

func TestRegistriesAreIndependent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.hos")

	r1, r2 := New(), New()
	_, err := r1.Register(path, true)
	require.NoError(t, err)

	// A separate registry has its own aliasing domain.
	_, err = r2.Register(path, true)
	require.NoError(t, err)
}
