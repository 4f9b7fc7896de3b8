package hos

import (
	"time"

	"github.com/astrodata/hos/pkg/backend"
)

// CopyTo recursively copies this object and all of its descendants into
// the structure object dst, as a new component named name. Payloads are
// copied byte-for-byte; no type conversion takes place. The destination
// may live in a different container.
//
// Sections cannot be copied: take a full locator for the object instead.
func (l *Locator) CopyTo(dst *Locator, name string) (loc *Locator, err error) {
	if l == nil || !l.valid {
		return nil, errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	if dst == nil || !dst.valid {
		return nil, errf(ErrInvalidLocator, "", "destination locator has been annulled")
	}
	src := l.c
	tgt := dst.c
	defer observe(tgt.metrics, "copy", time.Now(), &err)
	lockPair(src, tgt)
	defer unlockPair(src, tgt)

	srcObj, err := l.require()
	if err != nil {
		return nil, err
	}
	if l.sect != nil {
		return nil, errf(ErrTypeMismatch, l.describe(), "cannot copy an array section")
	}
	parent, err := dst.require()
	if err != nil {
		return nil, err
	}
	if err := tgt.requireWritable(); err != nil {
		return nil, err
	}
	if dst.sect != nil {
		return nil, errf(ErrTypeMismatch, dst.describe(), "cannot copy into an array section")
	}
	if DataType(parent.rec.Type).IsPrimitive() {
		return nil, errf(ErrTypeMismatch, parent.rec.Name,
			"primitive objects cannot have components")
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if _, found := findChild(parent.rec, name); found {
		return nil, errf(ErrNameCollision, joinPath(parent.rec.Name, name),
			"a component with this name already exists")
	}
	if src == tgt {
		// Copying an object into its own subtree would recurse forever.
		if inside, err := tgt.isDescendant(dst.id, l.id); err != nil {
			return nil, err
		} else if inside {
			return nil, errf(ErrInvalidShape, l.describe(),
				"cannot copy an object into its own subtree")
		}
	}

	id, err := tgt.copySubtree(src, srcObj, dst.id, name)
	if err != nil {
		return nil, err
	}
	parent.rec.Children = append(parent.rec.Children, backend.ChildRef{Name: name, ID: uint64(id)})
	if err := tgt.storeObject(parent); err != nil {
		parent.rec.Children = parent.rec.Children[:len(parent.rec.Children)-1]
		tgt.reclaimSubtree(id)
		return nil, err
	}
	return tgt.newLocatorLocked(id, dst.mode)
}

// copySubtree duplicates srcObj and its descendants into this container
// under parentID, returning the new root's id. The copy is not linked into
// the parent's child list; the caller does that last. Callers hold the
// locks of both containers.
func (tgt *Container) copySubtree(src *Container, srcObj *object, parentID backend.ObjectID, name string) (backend.ObjectID, error) {
	id, err := tgt.be.AllocID()
	if err != nil {
		return 0, translateBackendErr(err, tgt.path)
	}
	rec := &backend.Record{
		Name:   name,
		Type:   srcObj.rec.Type,
		Lower:  append([]int64(nil), srcObj.rec.Lower...),
		Upper:  append([]int64(nil), srcObj.rec.Upper...),
		Parent: uint64(parentID),
	}
	if len(srcObj.rec.Inline) > 0 {
		rec.Inline = append([]byte(nil), srcObj.rec.Inline...)
	}
	if srcObj.rec.Extent != 0 {
		buf := make([]byte, srcObj.rec.ExtentLen)
		if err := src.be.ReadExtent(backend.ExtentID(srcObj.rec.Extent), 0, buf); err != nil {
			return 0, translateBackendErr(err, src.path)
		}
		ext, err := tgt.be.AllocExtent(srcObj.rec.ExtentLen)
		if err != nil {
			return 0, translateBackendErr(err, tgt.path)
		}
		if err := tgt.be.WriteExtent(ext, 0, buf); err != nil {
			tgt.be.FreeExtent(ext, srcObj.rec.ExtentLen)
			return 0, translateBackendErr(err, tgt.path)
		}
		rec.Extent = uint64(ext)
		rec.ExtentLen = srcObj.rec.ExtentLen
	}

	for _, child := range srcObj.rec.Children {
		childObj, err := src.loadObject(backend.ObjectID(child.ID))
		if err != nil {
			return 0, err
		}
		childCopy, err := tgt.copySubtree(src, childObj, id, childObj.rec.Name)
		if err != nil {
			return 0, err
		}
		rec.Children = append(rec.Children, backend.ChildRef{Name: childObj.rec.Name, ID: uint64(childCopy)})
	}

	if err := tgt.be.PutRecord(id, rec); err != nil {
		return 0, translateBackendErr(err, tgt.path)
	}
	return id, nil
}

// isDescendant reports whether candidate lies inside the subtree rooted at
// ancestor (or is the ancestor itself). Callers hold c.mu.
func (c *Container) isDescendant(candidate, ancestor backend.ObjectID) (bool, error) {
	id := candidate
	for {
		if id == ancestor {
			return true, nil
		}
		obj, err := c.loadObject(id)
		if err != nil {
			return false, err
		}
		if obj.rec.Parent == 0 {
			return false, nil
		}
		id = backend.ObjectID(obj.rec.Parent)
	}
}

// lockPair locks one or two container mutexes in a stable order so
// cross-container copies cannot deadlock against each other.
func lockPair(a, b *Container) {
	if a == b {
		a.mu.Lock()
		return
	}
	if a.seq < b.seq {
		a.mu.Lock()
		b.mu.Lock()
		return
	}
	b.mu.Lock()
	a.mu.Lock()
}

func unlockPair(a, b *Container) {
	a.mu.Unlock()
	if a != b {
		b.mu.Unlock()
	}
}
