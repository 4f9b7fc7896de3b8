package hos

import (
	"fmt"
	"strings"
	"time"

	"github.com/astrodata/hos/pkg/backend"
)

// ============================================================================
// Object Directory
// ============================================================================
//
// Structural mutations follow a strict ordering discipline so a concurrent
// reader (another process, after this one flushes and releases its lock)
// never observes a half-created or half-deleted object:
//
//   - create: write the child's record (and payload extent) completely,
//     then rewrite the parent's child list to link it
//   - erase:  rewrite the parent's child list to unlink, then delete
//     records and reclaim extents
//
// Component names are case-preserved but compared case-insensitively, a
// convention the container format inherits from the datasets it serves.

// maxNameLen bounds component names, matching the legacy record layout.
const maxNameLen = 15

// validateName checks a component name: non-empty, within length, no
// separator characters.
func validateName(name string) error {
	if name == "" {
		return errf(ErrNameCollision, "", "component name must not be empty")
	}
	if len(name) > maxNameLen {
		return errf(ErrNameCollision, name,
			fmt.Sprintf("component name exceeds %d characters", maxNameLen))
	}
	if strings.ContainsAny(name, ". \t/") {
		return errf(ErrNameCollision, name,
			"component name must not contain '.', '/' or whitespace")
	}
	return nil
}

// NewComponent creates a new object named name under this structure
// object and returns a locator for it.
//
// typ selects a primitive type (the component holds data of the given
// shape) or a structure type tag (the component groups children; bounds
// must be scalar). Fails with NameCollision if a sibling already carries
// the name, compared case-insensitively.
func (l *Locator) NewComponent(name string, typ DataType, bounds Bounds) (loc *Locator, err error) {
	if l == nil || !l.valid {
		return nil, errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	c := l.c
	defer observe(c.metrics, "new_component", time.Now(), &err)
	c.mu.Lock()
	defer c.mu.Unlock()

	parent, err := l.require()
	if err != nil {
		return nil, err
	}
	if err := c.requireWritable(); err != nil {
		return nil, err
	}
	if l.sect != nil {
		return nil, errf(ErrTypeMismatch, l.describe(), "cannot create components under an array section")
	}
	if DataType(parent.rec.Type).IsPrimitive() {
		return nil, errf(ErrTypeMismatch, parent.rec.Name,
			"primitive objects cannot have components")
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if _, found := findChild(parent.rec, name); found {
		return nil, errf(ErrNameCollision, parent.rec.Name+"."+name,
			"a component with this name already exists")
	}

	typ = typ.Normalize()
	if !typ.IsPrimitive() && bounds.Rank() != 0 {
		return nil, errf(ErrInvalidShape, name, "structure components must be scalar")
	}
	if typ.IsChar() && typ.CharLen() == 0 {
		return nil, errf(ErrTypeMismatch, name, fmt.Sprintf("malformed character type %q", typ))
	}

	id, err := c.be.AllocID()
	if err != nil {
		return nil, translateBackendErr(err, c.path)
	}

	rec := &backend.Record{
		Name:   name,
		Type:   string(typ),
		Lower:  append([]int64(nil), bounds.Lower...),
		Upper:  append([]int64(nil), bounds.Upper...),
		Parent: uint64(l.id),
	}

	// Allocate the payload before linking: scalars inline, arrays in a
	// zero-filled extent.
	if typ.IsPrimitive() {
		size := bounds.Elements() * int64(typ.Size())
		if bounds.Rank() == 0 {
			rec.Inline = make([]byte, size)
		} else {
			ext, err := c.be.AllocExtent(size)
			if err != nil {
				return nil, translateBackendErr(err, c.path)
			}
			rec.Extent = uint64(ext)
			rec.ExtentLen = size
		}
	}

	// Child record first, then the parent link. A crash between the two
	// leaves an unlinked record that the next flush simply never commits
	// a reference to.
	if err := c.be.PutRecord(id, rec); err != nil {
		return nil, translateBackendErr(err, c.path)
	}
	parent.rec.Children = append(parent.rec.Children, backend.ChildRef{Name: name, ID: uint64(id)})
	if err := c.storeObject(parent); err != nil {
		parent.rec.Children = parent.rec.Children[:len(parent.rec.Children)-1]
		return nil, err
	}

	return c.newLocatorLocked(id, l.mode)
}

// Find resolves a dotted, case-insensitive component path relative to
// this object and returns a locator for the target. A single name finds a
// direct child; "CALIB.FLAT.DATA" drills three levels.
func (l *Locator) Find(path string) (loc *Locator, err error) {
	if l == nil || !l.valid {
		return nil, errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	c := l.c
	defer observe(c.metrics, "find", time.Now(), &err)
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, err := l.require()
	if err != nil {
		return nil, err
	}
	if l.sect != nil {
		return nil, errf(ErrTypeMismatch, l.describe(), "cannot navigate below an array section")
	}

	id := l.id
	for _, name := range strings.Split(path, ".") {
		if name == "" {
			return nil, errf(ErrNotFound, path, "empty component name in path")
		}
		child, found := findChild(obj.rec, name)
		if !found {
			return nil, errf(ErrNotFound, joinPath(obj.rec.Name, name), "component not found")
		}
		id = backend.ObjectID(child.ID)
		obj, err = c.loadObject(id)
		if err != nil {
			return nil, err
		}
	}
	return c.newLocatorLocked(id, l.mode)
}

// Erase deletes the named child component and, recursively, all of its
// descendants, reclaiming their storage. Fails with ObjectBusy while any
// locator references the subtree.
func (l *Locator) Erase(name string) (err error) {
	if l == nil || !l.valid {
		return errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	c := l.c
	defer observe(c.metrics, "erase", time.Now(), &err)
	c.mu.Lock()
	defer c.mu.Unlock()

	parent, err := l.require()
	if err != nil {
		return err
	}
	if err := c.requireWritable(); err != nil {
		return err
	}

	idx, found := findChildIndex(parent.rec, name)
	if !found {
		return errf(ErrNotFound, joinPath(parent.rec.Name, name), "component not found")
	}
	childID := backend.ObjectID(parent.rec.Children[idx].ID)

	busy, err := c.subtreeBusy(childID)
	if err != nil {
		return err
	}
	if busy {
		return errf(ErrObjectBusy, joinPath(parent.rec.Name, name),
			"object or a descendant is referenced by a live locator")
	}

	// Unlink first; reclaim after. A crash in between leaves unreachable
	// records, which is structurally valid (and invisible, since the
	// unlink only becomes durable at the next flush).
	removed := parent.rec.Children[idx]
	parent.rec.Children = append(parent.rec.Children[:idx], parent.rec.Children[idx+1:]...)
	if err := c.storeObject(parent); err != nil {
		parent.rec.Children = append(parent.rec.Children[:idx],
			append([]backend.ChildRef{removed}, parent.rec.Children[idx:]...)...)
		return err
	}

	return c.reclaimSubtree(childID)
}

// reclaimSubtree deletes the records and extents of an unlinked subtree.
// Callers hold c.mu.
func (c *Container) reclaimSubtree(id backend.ObjectID) error {
	obj, err := c.loadObject(id)
	if err != nil {
		return err
	}
	for _, child := range obj.rec.Children {
		if err := c.reclaimSubtree(backend.ObjectID(child.ID)); err != nil {
			return err
		}
	}
	if obj.rec.Extent != 0 {
		if err := c.be.FreeExtent(backend.ExtentID(obj.rec.Extent), obj.rec.ExtentLen); err != nil {
			return translateBackendErr(err, c.path)
		}
	}
	if err := c.be.DeleteRecord(id); err != nil {
		return translateBackendErr(err, c.path)
	}
	c.dropObject(id)
	return nil
}

// Rename changes this object's component name. Fails with NameCollision
// if a sibling already carries the new name (case-insensitively). The
// root object may be renamed freely; it has no siblings.
func (l *Locator) Rename(newName string) (err error) {
	if l == nil || !l.valid {
		return errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	c := l.c
	defer observe(c.metrics, "rename", time.Now(), &err)
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, err := l.require()
	if err != nil {
		return err
	}
	if err := c.requireWritable(); err != nil {
		return err
	}
	if err := validateName(newName); err != nil {
		return err
	}

	if obj.rec.Parent != 0 {
		parent, err := c.loadObject(backend.ObjectID(obj.rec.Parent))
		if err != nil {
			return err
		}
		if sibling, found := findChild(parent.rec, newName); found &&
			backend.ObjectID(sibling.ID) != l.id {
			return errf(ErrNameCollision, joinPath(parent.rec.Name, newName),
				"a component with this name already exists")
		}

		// Update the child first so a reader that sees the new parent
		// link also sees the matching record; the stale name in a parent
		// flushed alone is repaired by the record being authoritative.
		oldName := obj.rec.Name
		obj.rec.Name = newName
		if err := c.storeObject(obj); err != nil {
			obj.rec.Name = oldName
			return err
		}
		for i := range parent.rec.Children {
			if backend.ObjectID(parent.rec.Children[i].ID) == l.id {
				parent.rec.Children[i].Name = newName
			}
		}
		return c.storeObject(parent)
	}

	oldName := obj.rec.Name
	obj.rec.Name = newName
	if err := c.storeObject(obj); err != nil {
		obj.rec.Name = oldName
		return err
	}
	return nil
}

// Bounds returns the object's declared pixel-index bounds (the section's
// view bounds when the locator is a section or slice).
func (l *Locator) Bounds() (Bounds, error) {
	if l == nil || !l.valid {
		return Bounds{}, errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	c := l.c
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, err := l.require()
	if err != nil {
		return Bounds{}, err
	}
	if l.sect != nil {
		return l.sect.viewBounds(), nil
	}
	return Bounds{
		Lower: append([]int64(nil), obj.rec.Lower...),
		Upper: append([]int64(nil), obj.rec.Upper...),
	}, nil
}

// SetBounds resizes a primitive array object along its trailing axis. The
// lower bounds and all leading axes must be unchanged; growth extends the
// array with zero-filled elements. Shrinking discards committed data and
// therefore requires confirmShrink; without it, a shrink fails with
// InvalidShape.
//
// Fails with ObjectBusy while the object is mapped: reshaping under a live
// buffer would detach it from the store.
func (l *Locator) SetBounds(lower, upper []int64, confirmShrink bool) (err error) {
	if l == nil || !l.valid {
		return errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	c := l.c
	defer observe(c.metrics, "set_bounds", time.Now(), &err)
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, err := l.require()
	if err != nil {
		return err
	}
	if err := c.requireWritable(); err != nil {
		return err
	}
	if l.sect != nil {
		return errf(ErrInvalidShape, l.describe(), "cannot resize through a section")
	}
	typ := DataType(obj.rec.Type)
	if !typ.IsPrimitive() || len(obj.rec.Lower) == 0 {
		return errf(ErrInvalidShape, obj.rec.Name, "only primitive arrays can be resized")
	}
	if obj.mappings > 0 {
		return errf(ErrObjectBusy, obj.rec.Name, "object is mapped")
	}

	newBounds, err := NewBounds(lower, upper)
	if err != nil {
		return err
	}
	old := Bounds{Lower: obj.rec.Lower, Upper: obj.rec.Upper}
	if newBounds.Rank() != old.Rank() {
		return errf(ErrInvalidShape, obj.rec.Name,
			fmt.Sprintf("rank change %d -> %d not permitted", old.Rank(), newBounds.Rank()))
	}
	last := old.Rank() - 1
	for i := 0; i < last; i++ {
		if newBounds.Lower[i] != old.Lower[i] || newBounds.Upper[i] != old.Upper[i] {
			return errf(ErrInvalidShape, obj.rec.Name,
				fmt.Sprintf("axis %d is not extensible; only the trailing axis may change", i+1))
		}
	}
	if newBounds.Lower[last] != old.Lower[last] {
		return errf(ErrInvalidShape, obj.rec.Name, "trailing lower bound cannot change")
	}
	if newBounds.Upper[last] < old.Upper[last] && !confirmShrink {
		return errf(ErrInvalidShape, obj.rec.Name,
			"shrinking below populated bounds requires confirmation")
	}
	if newBounds.Equal(old) {
		return nil
	}

	// Storage is first-axis-fastest, so a trailing-axis resize is a plain
	// extent resize: the retained prefix of bytes is identical.
	newSize := newBounds.Elements() * int64(typ.Size())
	keep := min(newSize, old.Elements()*int64(typ.Size()))

	newExt, err := c.be.AllocExtent(newSize)
	if err != nil {
		return translateBackendErr(err, c.path)
	}
	if keep > 0 {
		buf := make([]byte, keep)
		if err := c.be.ReadExtent(backend.ExtentID(obj.rec.Extent), 0, buf); err != nil {
			c.be.FreeExtent(newExt, newSize)
			return translateBackendErr(err, c.path)
		}
		if err := c.be.WriteExtent(newExt, 0, buf); err != nil {
			c.be.FreeExtent(newExt, newSize)
			return translateBackendErr(err, c.path)
		}
	}

	oldExt, oldLen := obj.rec.Extent, obj.rec.ExtentLen
	obj.rec.Lower = append([]int64(nil), newBounds.Lower...)
	obj.rec.Upper = append([]int64(nil), newBounds.Upper...)
	obj.rec.Extent = uint64(newExt)
	obj.rec.ExtentLen = newSize
	if err := c.storeObject(obj); err != nil {
		return err
	}
	if oldExt != 0 {
		if err := c.be.FreeExtent(backend.ExtentID(oldExt), oldLen); err != nil {
			return translateBackendErr(err, c.path)
		}
	}
	return nil
}

// requireWritable fails unless the container is open for write or update.
// Callers hold c.mu.
func (c *Container) requireWritable() error {
	if !c.mode.Writable() {
		return errf(ErrAccessDenied, c.path, "container is open read-only")
	}
	return nil
}

// findChild locates a child by case-insensitive name.
func findChild(rec *backend.Record, name string) (backend.ChildRef, bool) {
	if idx, ok := findChildIndex(rec, name); ok {
		return rec.Children[idx], true
	}
	return backend.ChildRef{}, false
}

func findChildIndex(rec *backend.Record, name string) (int, bool) {
	folded := caseFold(name)
	for i, child := range rec.Children {
		if caseFold(child.Name) == folded {
			return i, true
		}
	}
	return 0, false
}

func joinPath(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}
