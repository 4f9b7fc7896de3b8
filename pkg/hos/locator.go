package hos

import (
	"fmt"
	"time"

	"github.com/astrodata/hos/pkg/backend"
)

// Locator is a capability referencing one object (or one section of an
// array object) within an open container.
//
// Locators are exclusively owned by the code holding them. Clone produces
// an independent locator on the same object; the object's live-locator
// count keeps it safe from erasure while any clone exists. Annul releases
// the locator and is idempotent: annulling an already-annulled locator is
// a no-op, so deferred cleanup is safe on every exit path.
//
// Every operation checks the validity flag first; a locator used after
// Annul fails with InvalidLocator, never by dereferencing stale state.
type Locator struct {
	c    *Container
	id   backend.ObjectID
	mode AccessMode

	// valid is cleared by Annul. Guarded by c.mu like all locator state.
	valid bool

	// sect restricts the locator to a rectangular sub-region and/or a
	// rank-reduced view of an array object. Nil means the whole object.
	sect *section

	// mapping is the active mapped region, if any. At most one per
	// locator.
	mapping *MappedRegion
}

// section describes a locator's view of an array object: full-rank bounds
// within the object, plus the axes the view keeps (Slice drops axes by
// fixing them to a single pixel).
type section struct {
	bounds Bounds
	kept   []int
}

// viewBounds returns the bounds the view presents to callers: the kept
// axes of the full-rank section bounds.
func (s *section) viewBounds() Bounds {
	lower := make([]int64, len(s.kept))
	upper := make([]int64, len(s.kept))
	for i, ax := range s.kept {
		lower[i] = s.bounds.Lower[ax]
		upper[i] = s.bounds.Upper[ax]
	}
	return Bounds{Lower: lower, Upper: upper}
}

// newLocatorLocked creates a locator on id and bumps the object's
// reference count. Callers hold c.mu.
func (c *Container) newLocatorLocked(id backend.ObjectID, mode AccessMode) (*Locator, error) {
	obj, err := c.loadObject(id)
	if err != nil {
		return nil, err
	}
	obj.refs++
	c.locators++
	return &Locator{c: c, id: id, mode: mode, valid: true}, nil
}

// require validates the locator and returns its arena object. Callers
// hold c.mu.
func (l *Locator) require() (*object, error) {
	if l == nil || !l.valid {
		return nil, errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	if l.c.closed {
		return nil, errf(ErrInvalidLocator, l.c.path, "container is closed")
	}
	return l.c.loadObject(l.id)
}

// Clone returns an independent locator referencing the same object (and
// the same section view, if any). The clone must be annulled separately.
func (l *Locator) Clone() (*Locator, error) {
	if l == nil || !l.valid {
		return nil, errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	c := l.c
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, err := l.require()
	if err != nil {
		return nil, err
	}
	obj.refs++
	c.locators++

	dup := &Locator{c: c, id: l.id, mode: l.mode, valid: true}
	if l.sect != nil {
		dup.sect = &section{
			bounds: l.sect.bounds.Clone(),
			kept:   append([]int(nil), l.sect.kept...),
		}
	}
	return dup, nil
}

// Annul invalidates the locator and releases its object reference. If a
// mapped region is still active it is unmapped first (flushing write or
// update mappings). Annulling an already-annulled locator returns nil.
func (l *Locator) Annul() (err error) {
	if l == nil || !l.valid {
		return nil
	}
	c := l.c
	defer observe(c.metrics, "annul", time.Now(), &err)
	c.mu.Lock()
	defer c.mu.Unlock()

	if !l.valid {
		return nil
	}

	if l.mapping != nil {
		err = l.unmapLocked()
	}

	l.valid = false
	c.locators--
	if obj, ok := c.arena[l.id]; ok {
		obj.refs--
	}
	return err
}

// Name returns the object's component name, case-preserved.
func (l *Locator) Name() (string, error) {
	if l == nil || !l.valid {
		return "", errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	c := l.c
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, err := l.require()
	if err != nil {
		return "", err
	}
	return obj.rec.Name, nil
}

// Type returns the object's type tag.
func (l *Locator) Type() (DataType, error) {
	if l == nil || !l.valid {
		return "", errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	c := l.c
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, err := l.require()
	if err != nil {
		return "", err
	}
	return DataType(obj.rec.Type), nil
}

// IsStructure reports whether the object is a structure (may hold
// children, holds no data).
func (l *Locator) IsStructure() (bool, error) {
	t, err := l.Type()
	if err != nil {
		return false, err
	}
	return !t.IsPrimitive(), nil
}

// Parent returns a locator for the object's parent structure. The root has
// no parent; asking for it fails with NotFound.
func (l *Locator) Parent() (*Locator, error) {
	if l == nil || !l.valid {
		return nil, errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	c := l.c
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, err := l.require()
	if err != nil {
		return nil, err
	}
	if obj.rec.Parent == 0 {
		return nil, errf(ErrNotFound, l.c.path, "root object has no parent")
	}
	return c.newLocatorLocked(backend.ObjectID(obj.rec.Parent), l.mode)
}

// Path returns the dotted path of the object from the container root,
// e.g. "DATASET.CALIB.DATA_ARRAY".
func (l *Locator) Path() (string, error) {
	if l == nil || !l.valid {
		return "", errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	c := l.c
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, err := l.require()
	if err != nil {
		return "", err
	}

	path := obj.rec.Name
	for obj.rec.Parent != 0 {
		obj, err = c.loadObject(backend.ObjectID(obj.rec.Parent))
		if err != nil {
			return "", err
		}
		path = obj.rec.Name + "." + path
	}
	return path, nil
}

// ComponentNames returns the names of a structure object's children in
// creation order.
func (l *Locator) ComponentNames() ([]string, error) {
	if l == nil || !l.valid {
		return nil, errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	c := l.c
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, err := l.require()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(obj.rec.Children))
	for i, child := range obj.rec.Children {
		names[i] = child.Name
	}
	return names, nil
}

// Valid reports whether the locator is still usable.
func (l *Locator) Valid() bool {
	if l == nil {
		return false
	}
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	return l.valid && !l.c.closed
}

// Mapped reports whether the locator has an active mapped region.
func (l *Locator) Mapped() bool {
	if l == nil {
		return false
	}
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	return l.mapping != nil
}

// describe renders the locator target for error paths. Callers hold c.mu.
func (l *Locator) describe() string {
	if obj, ok := l.c.arena[l.id]; ok {
		return obj.rec.Name
	}
	return fmt.Sprintf("object #%d", l.id)
}
