package file

import (
	"fmt"

	"github.com/astrodata/hos/pkg/backend"
)

// ============================================================================
// Object Records
// ============================================================================

// GetRecord reads and decodes an object record.
func (s *Store) GetRecord(id backend.ObjectID) (*backend.Record, error) {
	loc, ok := s.records[id]
	if !ok {
		return nil, &backend.NotFoundError{ID: id}
	}
	raw := make([]byte, loc.Len)
	if err := s.readAt(raw, loc.Off); err != nil {
		return nil, fmt.Errorf("read record %d: %w", id, err)
	}
	rec, err := backend.UnmarshalRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: record %d: %v", backend.ErrFormat, id, err)
	}
	return rec, nil
}

// PutRecord serialises and stores a record. The new serialisation is
// written to fresh space before the old location is released, so a record
// is never overwritten in place: the previous committed index keeps
// pointing at intact bytes until the next flush.
func (s *Store) PutRecord(id backend.ObjectID, rec *backend.Record) error {
	if s.readOnly {
		return backend.ErrReadOnly
	}
	raw, err := backend.MarshalRecord(rec)
	if err != nil {
		return err
	}

	off, err := s.alloc(int64(len(raw)))
	if err != nil {
		return err
	}
	if _, err := s.f.WriteAt(raw, off); err != nil {
		return fmt.Errorf("write record %d: %w", id, err)
	}

	if old, ok := s.records[id]; ok {
		s.pending.release(old)
	}
	s.records[id] = extent{Off: off, Len: int64(len(raw))}
	return nil
}

// DeleteRecord removes a record and reclaims its space.
func (s *Store) DeleteRecord(id backend.ObjectID) error {
	if s.readOnly {
		return backend.ErrReadOnly
	}
	loc, ok := s.records[id]
	if !ok {
		return &backend.NotFoundError{ID: id}
	}
	delete(s.records, id)
	s.pending.release(loc)
	return nil
}

// AllocID returns the next record ID. IDs are committed with the index, so
// a crash before flush simply re-issues the same IDs for records that were
// never linked anywhere.
func (s *Store) AllocID() (backend.ObjectID, error) {
	if s.readOnly {
		return 0, backend.ErrReadOnly
	}
	id := backend.ObjectID(s.nextID)
	s.nextID++
	return id, nil
}

// alloc reserves size bytes, preferring reclaimed space. Recycled ranges
// are zeroed to honour the zero-fill contract of AllocExtent; appended
// ranges read as zeros by construction. Only fully-committed free space is
// eligible: ranges released since the last flush wait in s.pending.
func (s *Store) alloc(size int64) (int64, error) {
	if off, ok := s.free.acquire(size); ok {
		if err := s.zeroRange(off, size); err != nil {
			s.free.release(extent{Off: off, Len: size})
			return 0, err
		}
		return off, nil
	}
	off := s.eof
	s.eof += size
	return off, nil
}

func (s *Store) zeroRange(off, size int64) error {
	const chunk = 64 * 1024
	zeros := make([]byte, min(size, chunk))
	for size > 0 {
		n := min(size, chunk)
		if _, err := s.f.WriteAt(zeros[:n], off); err != nil {
			return fmt.Errorf("zero recycled space at %d: %w", off, err)
		}
		off += n
		size -= n
	}
	return nil
}
