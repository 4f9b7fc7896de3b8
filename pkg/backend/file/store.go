// Package file implements the native single-file container backend.
//
// On-disk layout:
//
//	[0, headerSize)   fixed header: magic, format version, instance UUID,
//	                  and a pointer {offset, length} to the current index
//	                  block
//	[headerSize, EOF) extent space: object records, array payloads and
//	                  index blocks, managed through a free-space map
//
// The index block is an XDR-serialised snapshot of the record index, the
// ID allocator and the free-space map. Flush appends a fresh index block,
// syncs it, and only then rewrites the header to point at it: a crash at
// any point leaves the header referencing a complete index block, so the
// container always reopens with the last committed structure. Space freed
// by record rewrites, deletions and payload frees, and by superseded index
// blocks, is held back until the flush that stops referencing it commits;
// only then is it recycled, so nothing the committed index points at is
// ever overwritten between flushes.
//
// Inter-process coordination uses an advisory whole-file lock: shared for
// read-only opens, exclusive for writable opens, acquired with a bounded
// backoff wait.
package file

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/astrodata/hos/internal/flock"
	"github.com/astrodata/hos/pkg/backend"
)

const (
	// headerSize is the reserved size of the fixed header at offset 0.
	headerSize = 512

	// formatVersion is the current container format version.
	formatVersion = 1

	// uuidLen is the textual UUID length stored in the header.
	uuidLen = 36
)

var (
	headerMagic = [4]byte{'H', 'O', 'S', 'C'}
	indexMagic  = [4]byte{'H', 'I', 'D', 'X'}
)

// Config carries file backend options.
type Config struct {
	// LockTimeout bounds the wait for the advisory file lock.
	LockTimeout time.Duration
}

// DefaultLockTimeout is applied when Config.LockTimeout is zero.
const DefaultLockTimeout = 5 * time.Second

// Store is the file-backed container backend.
type Store struct {
	f        *os.File
	readOnly bool
	meta     backend.Meta

	// nextID is the object record ID allocator. Persisted in the index
	// block.
	nextID uint64

	// records maps record IDs to their current location in the extent
	// space.
	records map[backend.ObjectID]extent

	// free is the free-space map: ranges no committed index references,
	// safe to hand out to allocations.
	free freeList

	// pending holds ranges released since the last flush. The committed
	// index still points at them, so they join free only after the next
	// flush commits a snapshot that records them as free. Reusing them
	// earlier would let a crash corrupt committed structure.
	pending freeList

	// eof is the append offset: the end of the highest allocation.
	eof int64

	// index is the location of the index block the header currently
	// points at; freed when a newer block is committed.
	index extent
}

// extent is a located byte range in the file.
type extent struct {
	Off int64
	Len int64
}

// indexEntry is one record-index entry in the serialised index block.
type indexEntry struct {
	ID  uint64
	Off int64
	Len int64
}

// indexBlock is the XDR-serialised snapshot committed on every flush.
type indexBlock struct {
	NextID  uint64
	Records []indexEntry
	Free    []extent
	EOF     int64
}

// Create creates a new container file at path. If overwrite is false and
// path already exists, os.ErrExist is returned. The instance UUID in meta
// is recorded in the header.
func Create(path string, overwrite bool, meta backend.Meta, cfg Config) (*Store, error) {
	flags := os.O_RDWR | os.O_CREATE | os.O_EXCL
	if overwrite {
		flags = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create container file: %w", err)
	}

	if err := flock.Acquire(f, flock.Exclusive, lockTimeout(cfg)); err != nil {
		f.Close()
		return nil, lockErr(err)
	}

	meta.Version = formatVersion
	s := &Store{
		f:       f,
		meta:    meta,
		nextID:  uint64(backend.RootID) + 1,
		records: make(map[backend.ObjectID]extent),
		eof:     headerSize,
	}

	// Commit an empty index immediately so a crash between create and the
	// first flush still leaves a structurally valid (if empty) container.
	if err := s.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return s, nil
}

// Open opens an existing container file. Read-only opens take a shared
// lock; writable opens take an exclusive lock.
func Open(path string, readOnly bool, cfg Config) (*Store, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("open container file: %w", err)
	}

	lt := flock.Shared
	if !readOnly {
		lt = flock.Exclusive
	}
	if err := flock.Acquire(f, lt, lockTimeout(cfg)); err != nil {
		f.Close()
		return nil, lockErr(err)
	}

	s := &Store{
		f:        f,
		readOnly: readOnly,
		records:  make(map[backend.ObjectID]extent),
	}
	if err := s.load(); err != nil {
		flock.Release(f)
		f.Close()
		return nil, err
	}
	return s, nil
}

func lockTimeout(cfg Config) time.Duration {
	if cfg.LockTimeout > 0 {
		return cfg.LockTimeout
	}
	return DefaultLockTimeout
}

func lockErr(err error) error {
	if errors.Is(err, flock.ErrTimeout) {
		return fmt.Errorf("%w: %v", backend.ErrLocked, err)
	}
	return err
}

// ============================================================================
// Header and Index
// ============================================================================

// load reads the header and the index block it points at.
func (s *Store) load() error {
	hdr := make([]byte, headerSize)
	if _, err := s.f.ReadAt(hdr, 0); err != nil {
		return fmt.Errorf("%w: short header: %v", backend.ErrFormat, err)
	}

	if !bytes.Equal(hdr[0:4], headerMagic[:]) {
		return fmt.Errorf("%w: bad magic", backend.ErrFormat)
	}
	version := binary.BigEndian.Uint32(hdr[4:8])
	if version != formatVersion {
		return fmt.Errorf("%w: unsupported version %d", backend.ErrFormat, version)
	}
	s.meta = backend.Meta{
		Version:  version,
		Instance: string(hdr[8 : 8+uuidLen]),
	}
	s.index.Off = int64(binary.BigEndian.Uint64(hdr[8+uuidLen:]))
	s.index.Len = int64(binary.BigEndian.Uint64(hdr[16+uuidLen:]))

	if s.index.Len < int64(len(indexMagic)) || s.index.Off < headerSize {
		return fmt.Errorf("%w: bad index pointer", backend.ErrFormat)
	}

	blk := make([]byte, s.index.Len)
	if _, err := s.f.ReadAt(blk, s.index.Off); err != nil {
		return fmt.Errorf("%w: short index block: %v", backend.ErrFormat, err)
	}
	if !bytes.Equal(blk[0:4], indexMagic[:]) {
		return fmt.Errorf("%w: bad index magic", backend.ErrFormat)
	}

	var idx indexBlock
	if _, err := xdr.Unmarshal(bytes.NewReader(blk[4:]), &idx); err != nil {
		return fmt.Errorf("%w: corrupt index block: %v", backend.ErrFormat, err)
	}

	s.nextID = idx.NextID
	// The snapshot's EOF predates the block's own append; the block sits
	// at [EOF, EOF+Len) and must not be allocated over while the header
	// references it.
	s.eof = max(idx.EOF, s.index.Off+s.index.Len)
	s.free = freeList(idx.Free)
	for _, e := range idx.Records {
		s.records[backend.ObjectID(e.ID)] = extent{Off: e.Off, Len: e.Len}
	}
	return nil
}

// Flush commits the current index. Write order is data, index block,
// header, each synced before the next, so the header never references an
// incomplete block.
func (s *Store) Flush() error {
	if s.readOnly {
		return nil
	}

	// Data pages written by PutRecord/WriteExtent go down first.
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync container data: %w", err)
	}

	// Pending releases and the superseded index block are free space in
	// the snapshot we are about to write, but they stay out of the live
	// map until the header flips: until then the last committed index
	// still references them.
	next := append(freeList(nil), s.free...)
	for _, e := range s.pending {
		next.release(e)
	}
	if s.index.Len > 0 {
		next.release(s.index)
	}

	idx := indexBlock{
		NextID:  s.nextID,
		Records: make([]indexEntry, 0, len(s.records)),
		Free:    []extent(next),
		EOF:     s.eof,
	}
	for id, e := range s.records {
		idx.Records = append(idx.Records, indexEntry{ID: uint64(id), Off: e.Off, Len: e.Len})
	}

	var buf bytes.Buffer
	buf.Write(indexMagic[:])
	if _, err := xdr.Marshal(&buf, &idx); err != nil {
		return fmt.Errorf("marshal index block: %w", err)
	}

	// Index blocks always append at EOF; recycled space is reserved for
	// record and payload allocations. This keeps the free map serialised
	// inside the block consistent with the block's own placement.
	off := s.eof
	if _, err := s.f.WriteAt(buf.Bytes(), off); err != nil {
		return fmt.Errorf("write index block: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync index block: %w", err)
	}
	s.eof = off + int64(buf.Len())
	s.index = extent{Off: off, Len: int64(buf.Len())}

	if err := s.writeHeader(); err != nil {
		return err
	}

	// The header now points at the new block: everything the snapshot
	// records as free is genuinely unreferenced and allocatable.
	s.free = next
	s.pending = nil
	return nil
}

func (s *Store) writeHeader() error {
	hdr := make([]byte, headerSize)
	copy(hdr[0:4], headerMagic[:])
	binary.BigEndian.PutUint32(hdr[4:8], s.meta.Version)
	copy(hdr[8:8+uuidLen], s.meta.Instance)
	binary.BigEndian.PutUint64(hdr[8+uuidLen:], uint64(s.index.Off))
	binary.BigEndian.PutUint64(hdr[16+uuidLen:], uint64(s.index.Len))

	if _, err := s.f.WriteAt(hdr, 0); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync header: %w", err)
	}
	return nil
}

// ============================================================================
// Lifecycle
// ============================================================================

// Meta returns the container header fields.
func (s *Store) Meta() (backend.Meta, error) {
	return s.meta, nil
}

// ReadOnly reports whether the store was opened read-only.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// Close flushes, releases the advisory lock and closes the file.
func (s *Store) Close() error {
	var firstErr error
	if !s.readOnly {
		firstErr = s.Flush()
	}
	if err := flock.Release(s.f); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// readAt wraps ReadAt with EOF normalisation: reading an extent that was
// allocated but never written returns zeros, matching AllocExtent's
// zero-fill promise without forcing eager writes.
func (s *Store) readAt(p []byte, off int64) error {
	n, err := s.f.ReadAt(p, off)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		for i := n; i < len(p); i++ {
			p[i] = 0
		}
		return nil
	}
	return err
}
