// Package badger implements a container backend on BadgerDB.
//
// A badger container is a directory rather than a single file. It trades
// the native format's compactness for BadgerDB's WAL-backed crash recovery
// and is the right choice for containers that are rewritten continuously
// (e.g. accumulating map-making runs) where the native format's
// append-and-compact cycle would churn.
//
// Locking: BadgerDB takes its own exclusive directory lock regardless of
// mode, so a badger container supports one process at a time even for
// reads. Containers that need shared-read concurrency across processes
// should use the native file kind.
package badger

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/astrodata/hos/pkg/backend"
)

// Config carries badger backend options.
type Config struct {
	// BadgerOptions overrides the tuned defaults entirely when non-nil.
	BadgerOptions *badger.Options

	// BlockCacheSizeMB sizes badger's block cache (default 64).
	BlockCacheSizeMB int64
}

// header is the persisted container header: meta plus allocator state.
// Allocator counters live here rather than in per-key sequences so a
// snapshot of the header is a snapshot of the whole allocation state.
type header struct {
	Version  uint32
	Instance string
	NextID   uint64
	NextExt  uint64
}

// Store is the BadgerDB-backed container backend.
type Store struct {
	db       *badger.DB
	readOnly bool
	hdr      header
}

// formatVersion is the badger container format version.
const formatVersion = 1

// Create initialises a new badger container in dir. The directory must not
// already hold a container unless overwrite is set.
func Create(dir string, overwrite bool, meta backend.Meta, cfg Config) (*Store, error) {
	db, err := open(dir, false, cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}

	existing, err := s.loadHeader()
	if err == nil && existing != nil && !overwrite {
		db.Close()
		return nil, fmt.Errorf("container already exists in %s: %w", dir, errExists)
	}
	if err != nil {
		db.Close()
		return nil, err
	}
	if existing != nil {
		// Overwrite: drop everything before writing the fresh header.
		if err := db.DropAll(); err != nil {
			db.Close()
			return nil, fmt.Errorf("clear existing container: %w", err)
		}
	}

	s.hdr = header{
		Version:  formatVersion,
		Instance: meta.Instance,
		NextID:   uint64(backend.RootID) + 1,
		NextExt:  1,
	}
	if err := s.storeHeader(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// errExists distinguishes "already a container here" for the caller's
// AlreadyExists mapping.
var errExists = errors.New("badger container exists")

// IsExists reports whether err indicates an existing container blocked a
// create without overwrite.
func IsExists(err error) bool { return errors.Is(err, errExists) }

// Open opens an existing badger container.
func Open(dir string, readOnly bool, cfg Config) (*Store, error) {
	db, err := open(dir, readOnly, cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, readOnly: readOnly}
	hdr, err := s.loadHeader()
	if err != nil {
		db.Close()
		return nil, err
	}
	if hdr == nil {
		db.Close()
		return nil, fmt.Errorf("%w: no container header in %s", backend.ErrFormat, dir)
	}
	if hdr.Version != formatVersion {
		db.Close()
		return nil, fmt.Errorf("%w: unsupported version %d", backend.ErrFormat, hdr.Version)
	}
	s.hdr = *hdr
	return s, nil
}

func open(dir string, readOnly bool, cfg Config) (*badger.DB, error) {
	var opts badger.Options
	if cfg.BadgerOptions != nil {
		opts = *cfg.BadgerOptions
	} else {
		opts = badger.DefaultOptions(dir)

		// Container metadata is small and already binary; compression
		// overhead buys nothing here.
		opts = opts.WithLoggingLevel(badger.WARNING)
		opts = opts.WithCompression(options.None)

		blockCacheMB := cfg.BlockCacheSizeMB
		if blockCacheMB == 0 {
			blockCacheMB = 64
		}
		opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	}
	opts = opts.WithReadOnly(readOnly)

	db, err := badger.Open(opts)
	if err != nil {
		// Badger reports its directory lock as a plain error string; map
		// it onto the shared locking sentinel so callers see ResourceBusy.
		if strings.Contains(err.Error(), "Another process is using this Badger database") {
			return nil, fmt.Errorf("%w: %v", backend.ErrLocked, err)
		}
		return nil, fmt.Errorf("open badger container at %s: %w", dir, err)
	}
	return db, nil
}

// ============================================================================
// Header
// ============================================================================

func (s *Store) loadHeader() (*header, error) {
	var hdr *header
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyHeader))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var h header
			if _, err := xdr.Unmarshal(bytes.NewReader(val), &h); err != nil {
				return fmt.Errorf("%w: corrupt header: %v", backend.ErrFormat, err)
			}
			hdr = &h
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return hdr, nil
}

func (s *Store) storeHeader() error {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &s.hdr); err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyHeader), buf.Bytes())
	})
}

// Meta returns the container header fields.
func (s *Store) Meta() (backend.Meta, error) {
	return backend.Meta{Version: s.hdr.Version, Instance: s.hdr.Instance}, nil
}

// ReadOnly reports whether the store was opened read-only.
func (s *Store) ReadOnly() bool { return s.readOnly }

// ============================================================================
// Records
// ============================================================================

// GetRecord fetches and decodes an object record.
func (s *Store) GetRecord(id backend.ObjectID) (*backend.Record, error) {
	var rec *backend.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(uint64(id)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return &backend.NotFoundError{ID: id}
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, err := backend.UnmarshalRecord(val)
			if err != nil {
				return fmt.Errorf("%w: record %d: %v", backend.ErrFormat, id, err)
			}
			rec = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// PutRecord stores an object record.
func (s *Store) PutRecord(id backend.ObjectID, rec *backend.Record) error {
	if s.readOnly {
		return backend.ErrReadOnly
	}
	raw, err := backend.MarshalRecord(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(uint64(id)), raw)
	})
}

// DeleteRecord removes an object record.
func (s *Store) DeleteRecord(id backend.ObjectID) error {
	if s.readOnly {
		return backend.ErrReadOnly
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := recordKey(uint64(id))
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return &backend.NotFoundError{ID: id}
		}
		return txn.Delete(key)
	})
}

// AllocID returns the next record ID and persists the advanced counter.
func (s *Store) AllocID() (backend.ObjectID, error) {
	if s.readOnly {
		return 0, backend.ErrReadOnly
	}
	id := s.hdr.NextID
	s.hdr.NextID++
	if err := s.storeHeader(); err != nil {
		return 0, err
	}
	return backend.ObjectID(id), nil
}

// ============================================================================
// Extents
// ============================================================================

// AllocExtent reserves a zero-filled payload value.
func (s *Store) AllocExtent(size int64) (backend.ExtentID, error) {
	if s.readOnly {
		return 0, backend.ErrReadOnly
	}
	id := s.hdr.NextExt
	s.hdr.NextExt++
	if err := s.storeHeader(); err != nil {
		return 0, err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(extentKey(id), make([]byte, size))
	})
	if err != nil {
		return 0, err
	}
	return backend.ExtentID(id), nil
}

// FreeExtent deletes a payload value. BadgerDB reclaims the space through
// its own value-log garbage collection; there is no free map to maintain.
func (s *Store) FreeExtent(id backend.ExtentID, size int64) error {
	if s.readOnly {
		return backend.ErrReadOnly
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(extentKey(uint64(id)))
	})
}

// ReadExtent reads len(p) bytes at offset off of an extent.
func (s *Store) ReadExtent(id backend.ExtentID, off int64, p []byte) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(extentKey(uint64(id)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return &backend.NotFoundError{ID: backend.ObjectID(id)}
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if off+int64(len(p)) > int64(len(val)) {
				return fmt.Errorf("extent %d: read past end (%d+%d > %d)", id, off, len(p), len(val))
			}
			copy(p, val[off:])
			return nil
		})
	})
}

// WriteExtent writes len(p) bytes at offset off of an extent. Partial
// writes are read-modify-write on the stored value, the same trade the
// surrounding ecosystem makes for object stores without byte addressing.
func (s *Store) WriteExtent(id backend.ExtentID, off int64, p []byte) error {
	if s.readOnly {
		return backend.ErrReadOnly
	}
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(extentKey(uint64(id)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return &backend.NotFoundError{ID: backend.ObjectID(id)}
		}
		if err != nil {
			return err
		}
		var buf []byte
		if err := item.Value(func(val []byte) error {
			buf = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return err
		}
		if off+int64(len(p)) > int64(len(buf)) {
			return fmt.Errorf("extent %d: write past end (%d+%d > %d)", id, off, len(p), len(buf))
		}
		copy(buf[off:], p)
		return txn.Set(extentKey(uint64(id)), buf)
	})
}

// ============================================================================
// Lifecycle
// ============================================================================

// Flush syncs badger's write-ahead state to disk.
func (s *Store) Flush() error {
	if s.readOnly {
		return nil
	}
	return s.db.Sync()
}

// Close flushes and closes the database, releasing its directory lock.
func (s *Store) Close() error {
	if !s.readOnly {
		if err := s.db.Sync(); err != nil {
			s.db.Close()
			return err
		}
	}
	return s.db.Close()
}

// RunValueLogGC triggers one round of badger value-log garbage collection.
// Intended for long-lived writers; safe to call periodically.
func (s *Store) RunValueLogGC() error {
	if s.readOnly {
		return nil
	}
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}
