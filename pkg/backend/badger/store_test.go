package badger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrodata/hos/pkg/backend"
)

func createStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Create(dir, false, backend.Meta{Instance: uuid.NewString()}, Config{})
	require.NoError(t, err)
	return s, dir
}

func TestCreateOpenRoundTrip(t *testing.T) {
	s, dir := createStore(t)
	meta, err := s.Meta()
	require.NoError(t, err)

	id, err := s.AllocID()
	require.NoError(t, err)
	assert.Equal(t, backend.ObjectID(2), id)
	require.NoError(t, s.PutRecord(id, &backend.Record{Name: "CUBE", Type: "_REAL"}))
	require.NoError(t, s.Close())

	s2, err := Open(dir, true, Config{})
	require.NoError(t, err)
	defer s2.Close()
	assert.True(t, s2.ReadOnly())

	meta2, err := s2.Meta()
	require.NoError(t, err)
	assert.Equal(t, meta.Instance, meta2.Instance)

	rec, err := s2.GetRecord(id)
	require.NoError(t, err)
	assert.Equal(t, "CUBE", rec.Name)
	assert.Equal(t, "_REAL", rec.Type)

	_, err = s2.GetRecord(99)
	assert.True(t, backend.IsNotFound(err))
}

func TestCreateOverExisting(t *testing.T) {
	s, dir := createStore(t)
	require.NoError(t, s.Close())

	_, err := Create(dir, false, backend.Meta{Instance: uuid.NewString()}, Config{})
	require.Error(t, err)
	assert.True(t, IsExists(err))

	// Overwrite drops the previous contents.
	s2, err := Create(dir, true, backend.Meta{Instance: uuid.NewString()}, Config{})
	require.NoError(t, err)
	defer s2.Close()
	_, err = s2.GetRecord(2)
	assert.True(t, backend.IsNotFound(err))
}

func TestOpenEmptyDirectory(t *testing.T) {
	_, err := Open(t.TempDir(), false, Config{})
	require.Error(t, err)
}

func TestAllocatorSurvivesReopen(t *testing.T) {
	s, dir := createStore(t)
	id1, err := s.AllocID()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(dir, false, Config{})
	require.NoError(t, err)
	defer s2.Close()

	id2, err := s2.AllocID()
	require.NoError(t, err)
	assert.Equal(t, id1+1, id2)
}

func TestExtentPartialReadWrite(t *testing.T) {
	s, _ := createStore(t)
	defer s.Close()

	ext, err := s.AllocExtent(32)
	require.NoError(t, err)

	// Fresh extents are zero-filled.
	buf := make([]byte, 32)
	require.NoError(t, s.ReadExtent(ext, 0, buf))
	assert.Equal(t, make([]byte, 32), buf)

	require.NoError(t, s.WriteExtent(ext, 8, []byte{1, 2, 3, 4}))
	part := make([]byte, 4)
	require.NoError(t, s.ReadExtent(ext, 8, part))
	assert.Equal(t, []byte{1, 2, 3, 4}, part)

	// Bounds are enforced, not extended.
	require.Error(t, s.WriteExtent(ext, 30, []byte{1, 2, 3, 4}))
	require.Error(t, s.ReadExtent(ext, 30, part))

	require.NoError(t, s.FreeExtent(ext, 32))
	err = s.ReadExtent(ext, 0, part)
	assert.True(t, backend.IsNotFound(err))
}

func TestDirectoryLockExcludesSecondOpen(t *testing.T) {
	s, dir := createStore(t)
	defer s.Close()

	_, err := Open(dir, false, Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrLocked)
}
