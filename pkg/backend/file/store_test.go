package file

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrodata/hos/internal/flock"
	"github.com/astrodata/hos/pkg/backend"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func testMeta() backend.Meta {
	return backend.Meta{Instance: uuid.NewString()}
}

func createStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.hos")
	s, err := Create(path, false, testMeta(), Config{})
	require.NoError(t, err)
	return s, path
}

// ============================================================================
// Lifecycle and Persistence
// ============================================================================

func TestCreateRejectsExisting(t *testing.T) {
	s, path := createStore(t)
	require.NoError(t, s.Close())

	_, err := Create(path, false, testMeta(), Config{})
	require.Error(t, err)

	// Overwrite replaces the file and issues a fresh instance.
	s2, err := Create(path, true, testMeta(), Config{})
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestRecordsSurviveReopen(t *testing.T) {
	s, path := createStore(t)
	meta, err := s.Meta()
	require.NoError(t, err)

	id, err := s.AllocID()
	require.NoError(t, err)
	assert.Equal(t, backend.ObjectID(2), id)

	rec := &backend.Record{
		Name:   "FLAT",
		Type:   "_REAL",
		Lower:  []int64{1, 1},
		Upper:  []int64{64, 64},
		Parent: uint64(backend.RootID),
		Inline: []byte{1, 2, 3, 4},
	}
	require.NoError(t, s.PutRecord(id, rec))
	require.NoError(t, s.PutRecord(backend.RootID, &backend.Record{
		Name:     "DATASET",
		Type:     "CONTAINER",
		Children: []backend.ChildRef{{Name: "FLAT", ID: uint64(id)}},
	}))
	require.NoError(t, s.Close())

	s2, err := Open(path, true, Config{})
	require.NoError(t, err)

	meta2, err := s2.Meta()
	require.NoError(t, err)
	assert.Equal(t, meta.Instance, meta2.Instance)
	assert.Equal(t, uint32(formatVersion), meta2.Version)

	got, err := s2.GetRecord(id)
	require.NoError(t, err)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.Type, got.Type)
	assert.Equal(t, rec.Lower, got.Lower)
	assert.Equal(t, rec.Upper, got.Upper)
	assert.Equal(t, rec.Parent, got.Parent)
	assert.Equal(t, rec.Inline, got.Inline)

	root, err := s2.GetRecord(backend.RootID)
	require.NoError(t, err)
	assert.Equal(t, []backend.ChildRef{{Name: "FLAT", ID: uint64(id)}}, root.Children)

	// The allocator resumes past the committed IDs. The shared lock must
	// be released first or the exclusive open would block.
	require.NoError(t, s2.Close())
	s3, err := Open(path, false, Config{})
	require.NoError(t, err)
	defer s3.Close()
	next, err := s3.AllocID()
	require.NoError(t, err)
	assert.Equal(t, backend.ObjectID(3), next)
}

func TestExtentsSurviveReopen(t *testing.T) {
	s, path := createStore(t)

	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	ext, err := s.AllocExtent(int64(len(payload)))
	require.NoError(t, err)
	require.NoError(t, s.WriteExtent(ext, 0, payload))
	require.NoError(t, s.PutRecord(backend.RootID, &backend.Record{
		Name: "DATASET", Type: "CONTAINER",
		Extent: uint64(ext), ExtentLen: int64(len(payload)),
	}))
	require.NoError(t, s.Close())

	s2, err := Open(path, true, Config{})
	require.NoError(t, err)
	defer s2.Close()

	root, err := s2.GetRecord(backend.RootID)
	require.NoError(t, err)

	got := make([]byte, root.ExtentLen)
	require.NoError(t, s2.ReadExtent(backend.ExtentID(root.Extent), 0, got))
	assert.Equal(t, payload, got)

	// Partial read at a byte offset.
	part := make([]byte, 4)
	require.NoError(t, s2.ReadExtent(backend.ExtentID(root.Extent), 100, part))
	assert.Equal(t, []byte{100, 101, 102, 103}, part)
}

func TestAllocExtentZeroFill(t *testing.T) {
	s, _ := createStore(t)
	defer s.Close()

	ext, err := s.AllocExtent(64)
	require.NoError(t, err)

	got := make([]byte, 64)
	require.NoError(t, s.ReadExtent(ext, 0, got))
	assert.Equal(t, make([]byte, 64), got)

	// Freed space is zeroed again when recycled. Recycling needs a flush
	// in between: freed ranges stay unallocatable until the index that
	// stops referencing them commits.
	require.NoError(t, s.WriteExtent(ext, 0, []byte{0xff, 0xff, 0xff, 0xff}))
	require.NoError(t, s.FreeExtent(ext, 64))
	require.NoError(t, s.Flush())
	ext2, err := s.AllocExtent(32)
	require.NoError(t, err)
	got = make([]byte, 32)
	require.NoError(t, s.ReadExtent(ext2, 0, got))
	assert.Equal(t, make([]byte, 32), got)

	_, err = s.AllocExtent(0)
	require.Error(t, err)
}

func TestDeleteRecord(t *testing.T) {
	s, _ := createStore(t)
	defer s.Close()

	id, err := s.AllocID()
	require.NoError(t, err)
	require.NoError(t, s.PutRecord(id, &backend.Record{Name: "X", Type: "_INTEGER"}))
	require.NoError(t, s.DeleteRecord(id))

	_, err = s.GetRecord(id)
	assert.True(t, backend.IsNotFound(err))
	err = s.DeleteRecord(id)
	assert.True(t, backend.IsNotFound(err))
}

func TestUnflushedChangesAreDiscarded(t *testing.T) {
	s, path := createStore(t)
	require.NoError(t, s.PutRecord(backend.RootID, &backend.Record{Name: "DATASET", Type: "CONTAINER"}))
	require.NoError(t, s.Flush())

	// Reopen from the committed index, bypassing Close's final flush, to
	// model a crash after an uncommitted PutRecord.
	id, err := s.AllocID()
	require.NoError(t, err)
	require.NoError(t, s.PutRecord(id, &backend.Record{Name: "LOST", Type: "_INTEGER"}))
	require.NoError(t, flock.Release(s.f))
	require.NoError(t, s.f.Close())

	s2, err := Open(path, true, Config{})
	require.NoError(t, err)
	defer s2.Close()

	_, err = s2.GetRecord(id)
	assert.True(t, backend.IsNotFound(err))
	_, err = s2.GetRecord(backend.RootID)
	require.NoError(t, err)
}

func TestRewritePreservesCommittedRecordOnCrash(t *testing.T) {
	s, path := createStore(t)

	id, err := s.AllocID()
	require.NoError(t, err)
	committed := &backend.Record{Name: "CAL", Type: "_REAL", Inline: bytes.Repeat([]byte{7}, 32)}
	require.NoError(t, s.PutRecord(id, committed))
	require.NoError(t, s.Flush())

	// Rewrite the record and add a same-size neighbour. Neither write may
	// land on the bytes the committed index still points at, even though
	// the rewrite released them.
	require.NoError(t, s.PutRecord(id, &backend.Record{
		Name: "CAL", Type: "_REAL", Inline: bytes.Repeat([]byte{9}, 32),
	}))
	id2, err := s.AllocID()
	require.NoError(t, err)
	require.NoError(t, s.PutRecord(id2, &backend.Record{
		Name: "NEW", Type: "_REAL", Inline: bytes.Repeat([]byte{5}, 32),
	}))

	// Crash before the next flush.
	require.NoError(t, flock.Release(s.f))
	require.NoError(t, s.f.Close())

	s2, err := Open(path, true, Config{})
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetRecord(id)
	require.NoError(t, err)
	assert.Equal(t, committed.Inline, got.Inline)
	_, err = s2.GetRecord(id2)
	assert.True(t, backend.IsNotFound(err))
}

func TestWritesAfterReopenPreserveTheIndex(t *testing.T) {
	s, path := createStore(t)
	require.NoError(t, s.PutRecord(backend.RootID, &backend.Record{Name: "DATASET", Type: "CONTAINER"}))
	require.NoError(t, s.Close())

	// Appends in a reopened store must not land on the index block the
	// header references.
	s2, err := Open(path, false, Config{})
	require.NoError(t, err)
	id, err := s2.AllocID()
	require.NoError(t, err)
	require.NoError(t, s2.PutRecord(id, &backend.Record{Name: "EXTRA", Type: "_INTEGER"}))
	require.NoError(t, flock.Release(s2.f))
	require.NoError(t, s2.f.Close())

	s3, err := Open(path, true, Config{})
	require.NoError(t, err)
	defer s3.Close()
	root, err := s3.GetRecord(backend.RootID)
	require.NoError(t, err)
	assert.Equal(t, "DATASET", root.Name)
}

func TestFreedSpaceWaitsForFlush(t *testing.T) {
	s, _ := createStore(t)
	defer s.Close()

	ext, err := s.AllocExtent(128)
	require.NoError(t, err)
	require.NoError(t, s.FreeExtent(ext, 128))

	// Not allocatable before a flush commits an index that no longer
	// references the range.
	assert.Zero(t, s.free.total())
	ext2, err := s.AllocExtent(128)
	require.NoError(t, err)
	assert.NotEqual(t, ext, ext2)

	require.NoError(t, s.Flush())

	// After the commit the range is back in the free map, and a same-size
	// allocation recycles space instead of growing the file.
	require.NotZero(t, s.free.total())
	end := s.eof
	ext3, err := s.AllocExtent(128)
	require.NoError(t, err)
	assert.Equal(t, end, s.eof)
	assert.Less(t, int64(ext3), end)
}

// ============================================================================
// Read-Only Enforcement
// ============================================================================

func TestReadOnlyRejectsMutations(t *testing.T) {
	s, path := createStore(t)
	require.NoError(t, s.PutRecord(backend.RootID, &backend.Record{Name: "DATASET", Type: "CONTAINER"}))
	require.NoError(t, s.Close())

	ro, err := Open(path, true, Config{})
	require.NoError(t, err)
	defer ro.Close()
	assert.True(t, ro.ReadOnly())

	assert.ErrorIs(t, ro.PutRecord(backend.RootID, &backend.Record{}), backend.ErrReadOnly)
	assert.ErrorIs(t, ro.DeleteRecord(backend.RootID), backend.ErrReadOnly)
	_, err = ro.AllocID()
	assert.ErrorIs(t, err, backend.ErrReadOnly)
	_, err = ro.AllocExtent(16)
	assert.ErrorIs(t, err, backend.ErrReadOnly)
	assert.ErrorIs(t, ro.WriteExtent(1, 0, []byte{0}), backend.ErrReadOnly)
	assert.ErrorIs(t, ro.FreeExtent(1, 16), backend.ErrReadOnly)
	assert.NoError(t, ro.Flush())
}

// ============================================================================
// Inter-Process Locking
// ============================================================================

func TestWriterExcludesWriter(t *testing.T) {
	s, path := createStore(t)
	defer s.Close()

	cfg := Config{LockTimeout: 50 * time.Millisecond}
	_, err := Open(path, false, cfg)
	assert.ErrorIs(t, err, backend.ErrLocked)
}

func TestReadersShareTheLock(t *testing.T) {
	s, path := createStore(t)
	require.NoError(t, s.PutRecord(backend.RootID, &backend.Record{Name: "DATASET", Type: "CONTAINER"}))
	require.NoError(t, s.Close())

	cfg := Config{LockTimeout: 50 * time.Millisecond}
	r1, err := Open(path, true, cfg)
	require.NoError(t, err)
	defer r1.Close()

	r2, err := Open(path, true, cfg)
	require.NoError(t, err)
	defer r2.Close()

	// A writer cannot break in while readers hold the shared lock.
	_, err = Open(path, false, cfg)
	assert.ErrorIs(t, err, backend.ErrLocked)
}

// ============================================================================
// Format Validation
// ============================================================================

func TestOpenRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notacontainer")
	require.NoError(t, os.WriteFile(path, []byte("plain text, not a container"), 0o644))

	_, err := Open(path, true, Config{})
	assert.ErrorIs(t, err, backend.ErrFormat)
}
