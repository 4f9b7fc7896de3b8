package file

import (
	"fmt"

	"github.com/astrodata/hos/pkg/backend"
)

// ============================================================================
// Array Payload Extents
// ============================================================================
//
// The file backend identifies an extent by its byte offset in the file.
// Offsets are always >= headerSize, so 0 stays available as the "no
// extent" marker in object records.

// AllocExtent reserves size bytes of zero-filled payload space.
func (s *Store) AllocExtent(size int64) (backend.ExtentID, error) {
	if s.readOnly {
		return 0, backend.ErrReadOnly
	}
	if size <= 0 {
		return 0, fmt.Errorf("invalid extent size %d", size)
	}
	off, err := s.alloc(size)
	if err != nil {
		return 0, err
	}
	return backend.ExtentID(off), nil
}

// FreeExtent returns payload space to the free map. Reclamation is
// deferred to the next flush so the committed index never references
// recycled bytes.
func (s *Store) FreeExtent(id backend.ExtentID, size int64) error {
	if s.readOnly {
		return backend.ErrReadOnly
	}
	s.pending.release(extent{Off: int64(id), Len: size})
	return nil
}

// ReadExtent reads len(p) bytes at byte offset off within an extent.
func (s *Store) ReadExtent(id backend.ExtentID, off int64, p []byte) error {
	if err := s.readAt(p, int64(id)+off); err != nil {
		return fmt.Errorf("read extent %d+%d: %w", id, off, err)
	}
	return nil
}

// WriteExtent writes len(p) bytes at byte offset off within an extent.
func (s *Store) WriteExtent(id backend.ExtentID, off int64, p []byte) error {
	if s.readOnly {
		return backend.ErrReadOnly
	}
	if _, err := s.f.WriteAt(p, int64(id)+off); err != nil {
		return fmt.Errorf("write extent %d+%d: %w", id, off, err)
	}
	return nil
}
