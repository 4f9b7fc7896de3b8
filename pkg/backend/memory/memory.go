// Package memory implements an in-memory container backend.
//
// Nothing is persisted: a memory container lives exactly as long as the
// process. It backs tests and the scratch containers intermediate pipeline
// stages create and throw away, where durability would only cost I/O.
//
// Records still round-trip through the shared XDR codec so the memory
// backend exercises the same serialisation paths as the persistent ones.
package memory

import (
	"github.com/astrodata/hos/pkg/backend"
)

// Store is the in-memory backend.
type Store struct {
	meta     backend.Meta
	readOnly bool
	nextID   uint64
	records  map[backend.ObjectID][]byte
	extents  map[backend.ExtentID][]byte
	nextExt  uint64
}

// New creates an empty in-memory container.
func New(meta backend.Meta) *Store {
	return &Store{
		meta:    meta,
		nextID:  uint64(backend.RootID) + 1,
		records: make(map[backend.ObjectID][]byte),
		extents: make(map[backend.ExtentID][]byte),
		nextExt: 1,
	}
}

// Meta returns the container header fields.
func (s *Store) Meta() (backend.Meta, error) { return s.meta, nil }

// ReadOnly reports whether the store is read-only.
func (s *Store) ReadOnly() bool { return s.readOnly }

// GetRecord fetches a record.
func (s *Store) GetRecord(id backend.ObjectID) (*backend.Record, error) {
	raw, ok := s.records[id]
	if !ok {
		return nil, &backend.NotFoundError{ID: id}
	}
	return backend.UnmarshalRecord(raw)
}

// PutRecord stores a record.
func (s *Store) PutRecord(id backend.ObjectID, rec *backend.Record) error {
	if s.readOnly {
		return backend.ErrReadOnly
	}
	raw, err := backend.MarshalRecord(rec)
	if err != nil {
		return err
	}
	s.records[id] = raw
	return nil
}

// DeleteRecord removes a record.
func (s *Store) DeleteRecord(id backend.ObjectID) error {
	if s.readOnly {
		return backend.ErrReadOnly
	}
	if _, ok := s.records[id]; !ok {
		return &backend.NotFoundError{ID: id}
	}
	delete(s.records, id)
	return nil
}

// AllocID returns the next record ID.
func (s *Store) AllocID() (backend.ObjectID, error) {
	if s.readOnly {
		return 0, backend.ErrReadOnly
	}
	id := backend.ObjectID(s.nextID)
	s.nextID++
	return id, nil
}

// AllocExtent reserves a zero-filled payload buffer.
func (s *Store) AllocExtent(size int64) (backend.ExtentID, error) {
	if s.readOnly {
		return 0, backend.ErrReadOnly
	}
	id := backend.ExtentID(s.nextExt)
	s.nextExt++
	s.extents[id] = make([]byte, size)
	return id, nil
}

// FreeExtent releases a payload buffer.
func (s *Store) FreeExtent(id backend.ExtentID, size int64) error {
	if s.readOnly {
		return backend.ErrReadOnly
	}
	delete(s.extents, id)
	return nil
}

// ReadExtent reads from a payload buffer.
func (s *Store) ReadExtent(id backend.ExtentID, off int64, p []byte) error {
	buf, ok := s.extents[id]
	if !ok {
		return &backend.NotFoundError{ID: backend.ObjectID(id)}
	}
	copy(p, buf[off:])
	return nil
}

// WriteExtent writes into a payload buffer.
func (s *Store) WriteExtent(id backend.ExtentID, off int64, p []byte) error {
	if s.readOnly {
		return backend.ErrReadOnly
	}
	buf, ok := s.extents[id]
	if !ok {
		return &backend.NotFoundError{ID: backend.ObjectID(id)}
	}
	copy(buf[off:], p)
	return nil
}

// Flush is a no-op for the memory backend.
func (s *Store) Flush() error { return nil }

// Close discards all state.
func (s *Store) Close() error {
	s.records = nil
	s.extents = nil
	return nil
}
