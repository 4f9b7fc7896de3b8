package hos

import (
	"fmt"
	"time"

	"github.com/astrodata/hos/pkg/backend"
)

// ============================================================================
// Mapped Access
// ============================================================================

// MappedRegion is a transient typed view of a primitive object's data,
// bound to the locator that created it. The buffer holds elements of the
// requested type, converted from the stored type on map (for READ and
// UPDATE) and converted back and written through on Unmap (for WRITE and
// UPDATE).
//
// At most one mapped region may be active per locator; a second Map fails
// with AlreadyMapped until the first is unmapped. Annulling the locator
// unmaps automatically, flushing writable buffers.
type MappedRegion struct {
	l    *Locator
	typ  DataType
	mode AccessMode
	n    int64
	buf  any

	active bool
}

// Map binds the locator's data to a typed in-memory buffer.
//
// typ is the element type the caller wants to work in; any numeric-to-
// numeric conversion is permitted (values that do not survive the trip
// degrade to the destination's bad value). mode is a legacy mode string:
// "READ", "WRITE", "UPDATE", with optional "/ZERO" or "/BAD"
// initialisation on WRITE.
//
// Fails with TypeMismatch for structure objects and undefined conversions
// (character to numeric), AlreadyMapped if a mapping is active, and
// AccessDenied if the mode exceeds the locator's or container's access.
func (l *Locator) Map(typ DataType, mode string) (m *MappedRegion, err error) {
	if l == nil || !l.valid {
		return nil, errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	c := l.c
	defer observe(c.metrics, "map", time.Now(), &err)
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, err := l.require()
	if err != nil {
		return nil, err
	}

	accessMode, initMode, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	if accessMode.Writable() {
		if err := c.requireWritable(); err != nil {
			return nil, err
		}
		if !l.mode.Writable() {
			return nil, errf(ErrAccessDenied, l.describe(), "locator grants read-only access")
		}
	}
	if l.mapping != nil {
		return nil, errf(ErrAlreadyMapped, l.describe(), "locator already has an active mapping")
	}

	stored := DataType(obj.rec.Type)
	if !stored.IsPrimitive() {
		return nil, errf(ErrTypeMismatch, obj.rec.Name, "structure objects cannot be mapped")
	}
	typ = typ.Normalize()
	if !Convertible(stored, typ) {
		return nil, errf(ErrTypeMismatch, obj.rec.Name,
			fmt.Sprintf("no conversion defined from stored %s to requested %s", stored, typ))
	}

	n := l.viewElements(obj)
	buf, err := allocBuffer(typ, n)
	if err != nil {
		return nil, err
	}

	switch accessMode {
	case AccessRead, AccessUpdate:
		raw, err := c.readStored(obj, l.sect)
		if err != nil {
			return nil, err
		}
		storedBuf, err := decodeElems(stored, raw, n)
		if err != nil {
			return nil, err
		}
		if err := convert(stored, storedBuf, typ, buf, n); err != nil {
			return nil, err
		}
	case AccessWrite:
		switch initMode {
		case InitZero:
			fillZero(typ, buf)
		case InitBad:
			fillBad(typ, buf)
		}
	}

	m = &MappedRegion{l: l, typ: typ, mode: accessMode, n: n, buf: buf, active: true}
	l.mapping = m
	obj.mappings++
	return m, nil
}

// Unmap releases the mapping. For WRITE and UPDATE mappings the buffer is
// converted back to the stored type and written through to the container
// in full before Unmap returns; a READ mapping is simply discarded.
// Unmapping twice fails with InvalidLocator on the region.
func (m *MappedRegion) Unmap() (err error) {
	if m == nil || m.l == nil {
		return errf(ErrInvalidLocator, "", "mapped region is not active")
	}
	c := m.l.c
	defer observe(c.metrics, "unmap", time.Now(), &err)
	c.mu.Lock()
	defer c.mu.Unlock()

	if !m.active {
		return errf(ErrInvalidLocator, "", "mapped region is not active")
	}
	return m.l.unmapLocked()
}

// unmapLocked flushes and releases the locator's active mapping. Callers
// hold c.mu.
func (l *Locator) unmapLocked() error {
	m := l.mapping
	if m == nil {
		return nil
	}

	// Release bookkeeping unconditionally: a failed write-back must not
	// leave the locator wedged in the mapped state.
	defer func() {
		m.active = false
		l.mapping = nil
		if obj, ok := l.c.arena[l.id]; ok {
			obj.mappings--
		}
	}()

	if !m.mode.Writable() {
		return nil
	}

	obj, err := l.c.loadObject(l.id)
	if err != nil {
		return err
	}
	stored := DataType(obj.rec.Type)

	storedBuf, err := allocBuffer(stored, m.n)
	if err != nil {
		return err
	}
	if err := convert(m.typ, m.buf, stored, storedBuf, m.n); err != nil {
		return err
	}
	raw, err := encodeElems(stored, storedBuf)
	if err != nil {
		return err
	}
	return l.c.writeStored(obj, l.sect, raw)
}

// Elements returns the number of elements in the mapped buffer.
func (m *MappedRegion) Elements() int64 { return m.n }

// Type returns the requested element type of the buffer.
func (m *MappedRegion) Type() DataType { return m.typ }

// Mode returns the access mode of the mapping.
func (m *MappedRegion) Mode() AccessMode { return m.mode }

// Data returns the typed buffer: []int8, []uint8, []int16, []uint16,
// []int32 (_INTEGER and _LOGICAL), []int64, []float32, []float64, or
// []byte for character types (CharLen bytes per element). The caller
// mutates it in place for WRITE and UPDATE mappings.
func (m *MappedRegion) Data() any { return m.buf }

// typedData returns the buffer as []T, or a TypeMismatch error naming the
// actual mapped type.
func typedData[T any](m *MappedRegion) ([]T, error) {
	s, ok := m.buf.([]T)
	if !ok {
		return nil, errf(ErrTypeMismatch, "",
			fmt.Sprintf("mapped buffer holds %s elements", m.typ))
	}
	return s, nil
}

// Int8s returns the buffer of a _BYTE mapping.
func (m *MappedRegion) Int8s() ([]int8, error) { return typedData[int8](m) }

// Uint8s returns the buffer of a _UBYTE mapping.
func (m *MappedRegion) Uint8s() ([]uint8, error) { return typedData[uint8](m) }

// Int16s returns the buffer of a _WORD mapping.
func (m *MappedRegion) Int16s() ([]int16, error) { return typedData[int16](m) }

// Uint16s returns the buffer of a _UWORD mapping.
func (m *MappedRegion) Uint16s() ([]uint16, error) { return typedData[uint16](m) }

// Int32s returns the buffer of an _INTEGER or _LOGICAL mapping.
func (m *MappedRegion) Int32s() ([]int32, error) { return typedData[int32](m) }

// Int64s returns the buffer of an _INT64 mapping.
func (m *MappedRegion) Int64s() ([]int64, error) { return typedData[int64](m) }

// Float32s returns the buffer of a _REAL mapping.
func (m *MappedRegion) Float32s() ([]float32, error) { return typedData[float32](m) }

// Float64s returns the buffer of a _DOUBLE mapping.
func (m *MappedRegion) Float64s() ([]float64, error) { return typedData[float64](m) }

// Bytes returns the raw buffer of a character mapping.
func (m *MappedRegion) Bytes() ([]byte, error) { return typedData[byte](m) }

// viewElements returns the element count of the locator's view. Callers
// hold c.mu.
func (l *Locator) viewElements(obj *object) int64 {
	if l.sect != nil {
		return l.sect.bounds.Elements()
	}
	return Bounds{Lower: obj.rec.Lower, Upper: obj.rec.Upper}.Elements()
}

// ============================================================================
// Stored I/O (inline payloads and extents, section-aware)
// ============================================================================

// readStored reads the raw stored bytes of an object's data, restricted
// to sect when non-nil. The result is contiguous in first-axis-fastest
// order regardless of whether the region is contiguous on disk. Callers
// hold c.mu.
func (c *Container) readStored(obj *object, sect *section) ([]byte, error) {
	typ := DataType(obj.rec.Type)
	elSize := int64(typ.Size())

	if obj.rec.Extent == 0 {
		// Inline payload (scalars). Sections cannot apply.
		return append([]byte(nil), obj.rec.Inline...), nil
	}

	objBounds := Bounds{Lower: obj.rec.Lower, Upper: obj.rec.Upper}
	ext := backend.ExtentID(obj.rec.Extent)

	if sect == nil || sect.bounds.Equal(objBounds) {
		raw := make([]byte, objBounds.Elements()*elSize)
		if err := c.be.ReadExtent(ext, 0, raw); err != nil {
			return nil, translateBackendErr(err, c.path)
		}
		return raw, nil
	}

	raw := make([]byte, sect.bounds.Elements()*elSize)
	err := forEachRun(objBounds, sect.bounds, elSize, func(dstOff, srcOff, length int64) error {
		return c.be.ReadExtent(ext, srcOff, raw[dstOff:dstOff+length])
	})
	if err != nil {
		return nil, translateBackendErr(err, c.path)
	}
	return raw, nil
}

// writeStored writes raw stored bytes through to an object's data,
// scattering into sect's region when non-nil. Callers hold c.mu.
func (c *Container) writeStored(obj *object, sect *section, raw []byte) error {
	if obj.rec.Extent == 0 {
		obj.rec.Inline = append([]byte(nil), raw...)
		return c.storeObject(obj)
	}

	typ := DataType(obj.rec.Type)
	elSize := int64(typ.Size())
	objBounds := Bounds{Lower: obj.rec.Lower, Upper: obj.rec.Upper}
	ext := backend.ExtentID(obj.rec.Extent)

	if sect == nil || sect.bounds.Equal(objBounds) {
		if err := c.be.WriteExtent(ext, 0, raw); err != nil {
			return translateBackendErr(err, c.path)
		}
		return nil
	}

	err := forEachRun(objBounds, sect.bounds, elSize, func(srcOff, dstOff, length int64) error {
		return c.be.WriteExtent(ext, dstOff, raw[srcOff:srcOff+length])
	})
	if err != nil {
		return translateBackendErr(err, c.path)
	}
	return nil
}
