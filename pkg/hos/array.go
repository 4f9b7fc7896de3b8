package hos

import (
	"fmt"
	"time"
)

// ============================================================================
// Array Views: Sections and Slices
// ============================================================================
//
// A section is a rectangular sub-region of an array object's pixel grid; a
// slice additionally fixes one or more axes to a single pixel, reducing
// rank. Both are projections: they have no on-disk identity and cost
// nothing to construct. Mapping a view yields a buffer holding exactly the
// covered pixels, packed contiguously in first-axis-fastest order; the
// gather (and scatter on unmap) happens run-by-run against the backing
// store, degenerating to a single contiguous transfer when the region
// allows it.

// AxisFix names one axis of a view (zero-based) and the pixel index to fix
// it at.
type AxisFix struct {
	Axis  int
	Value int64
}

// Section returns a new locator restricted to the rectangular sub-region
// [lower, upper] of this array view, expressed in the object's own
// pixel-index coordinates. Rank must match the view's rank; bounds are
// validated eagerly and a region outside the view fails with
// BoundsOutOfRange before any mapping happens.
func (l *Locator) Section(lower, upper []int64) (loc *Locator, err error) {
	if l == nil || !l.valid {
		return nil, errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	c := l.c
	defer observe(c.metrics, "section", time.Now(), &err)
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, err := l.require()
	if err != nil {
		return nil, err
	}

	base, err := l.baseSection(obj)
	if err != nil {
		return nil, err
	}
	want, err := NewBounds(lower, upper)
	if err != nil {
		return nil, err
	}
	if want.Rank() != len(base.kept) {
		return nil, errf(ErrBoundsOutOfRange, obj.rec.Name,
			fmt.Sprintf("section rank %d does not match view rank %d", want.Rank(), len(base.kept)))
	}
	if !base.viewBounds().Contains(want) {
		return nil, errf(ErrBoundsOutOfRange, obj.rec.Name,
			fmt.Sprintf("section %s lies outside bounds %s", want, base.viewBounds()))
	}

	for i, ax := range base.kept {
		base.bounds.Lower[ax] = want.Lower[i]
		base.bounds.Upper[ax] = want.Upper[i]
	}

	nl, err := c.newLocatorLocked(l.id, l.mode)
	if err != nil {
		return nil, err
	}
	nl.sect = base
	return nl, nil
}

// Slice returns a new locator with one or more axes fixed to a single
// pixel index, reducing the view's rank by the number of fixes. Fixing
// every axis yields a rank-0 view of a single pixel.
func (l *Locator) Slice(fixes ...AxisFix) (loc *Locator, err error) {
	if l == nil || !l.valid {
		return nil, errf(ErrInvalidLocator, "", "locator has been annulled")
	}
	c := l.c
	defer observe(c.metrics, "slice", time.Now(), &err)
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, err := l.require()
	if err != nil {
		return nil, err
	}
	if len(fixes) == 0 {
		return nil, errf(ErrBoundsOutOfRange, obj.rec.Name, "slice requires at least one axis")
	}

	base, err := l.baseSection(obj)
	if err != nil {
		return nil, err
	}
	view := base.viewBounds()

	fixed := make(map[int]bool, len(fixes))
	for _, fix := range fixes {
		if fix.Axis < 0 || fix.Axis >= len(base.kept) {
			return nil, errf(ErrBoundsOutOfRange, obj.rec.Name,
				fmt.Sprintf("slice axis %d outside view of rank %d", fix.Axis, len(base.kept)))
		}
		if fixed[fix.Axis] {
			return nil, errf(ErrBoundsOutOfRange, obj.rec.Name,
				fmt.Sprintf("slice axis %d fixed twice", fix.Axis))
		}
		if fix.Value < view.Lower[fix.Axis] || fix.Value > view.Upper[fix.Axis] {
			return nil, errf(ErrBoundsOutOfRange, obj.rec.Name,
				fmt.Sprintf("pixel %d outside axis bounds %d:%d",
					fix.Value, view.Lower[fix.Axis], view.Upper[fix.Axis]))
		}
		fixed[fix.Axis] = true

		ax := base.kept[fix.Axis]
		base.bounds.Lower[ax] = fix.Value
		base.bounds.Upper[ax] = fix.Value
	}

	kept := base.kept[:0:0]
	for i, ax := range base.kept {
		if !fixed[i] {
			kept = append(kept, ax)
		}
	}
	base.kept = kept

	nl, err := c.newLocatorLocked(l.id, l.mode)
	if err != nil {
		return nil, err
	}
	nl.sect = base
	return nl, nil
}

// baseSection returns a fresh full-rank section describing the locator's
// current view, ready to be narrowed. Fails for structures and scalars.
// Callers hold c.mu.
func (l *Locator) baseSection(obj *object) (*section, error) {
	typ := DataType(obj.rec.Type)
	if !typ.IsPrimitive() {
		return nil, errf(ErrTypeMismatch, obj.rec.Name, "structure objects have no array view")
	}
	if len(obj.rec.Lower) == 0 {
		return nil, errf(ErrInvalidShape, obj.rec.Name, "scalar objects have no array view")
	}

	if l.sect != nil {
		return &section{
			bounds: l.sect.bounds.Clone(),
			kept:   append([]int(nil), l.sect.kept...),
		}, nil
	}

	kept := make([]int, len(obj.rec.Lower))
	for i := range kept {
		kept[i] = i
	}
	return &section{
		bounds: Bounds{
			Lower: append([]int64(nil), obj.rec.Lower...),
			Upper: append([]int64(nil), obj.rec.Upper...),
		},
		kept: kept,
	}, nil
}

// ============================================================================
// Run Decomposition
// ============================================================================

// forEachRun decomposes the region sect (full object rank) within obj's
// bounds into maximal runs that are contiguous in the backing store, and
// calls fn for each with the byte offset into the packed section buffer,
// the byte offset into the object's extent, and the run length in bytes.
//
// Runs extend along axis 0 (the fastest-varying axis) and merge across
// higher axes whenever the section spans the full extent of every lower
// axis, so a region covering whole leading axes becomes a single
// transfer.
func forEachRun(obj, sect Bounds, elSize int64, fn func(sectOff, objOff, length int64) error) error {
	rank := obj.Rank()
	if rank == 0 {
		return fn(0, 0, elSize)
	}

	strides := obj.strides()

	// runAxes is the number of leading axes the run spans completely.
	// Axis 0 always contributes its section extent; each further axis
	// joins while the section covers it fully.
	runElems := sect.Dim(0)
	runAxes := 1
	for runAxes < rank && sect.Lower[runAxes-1] == obj.Lower[runAxes-1] &&
		sect.Upper[runAxes-1] == obj.Upper[runAxes-1] {
		if sect.Lower[runAxes] == obj.Lower[runAxes] && sect.Upper[runAxes] == obj.Upper[runAxes] {
			runElems *= sect.Dim(runAxes)
			runAxes++
			continue
		}
		// The next axis is partial: it can still join the run as the
		// run's iterated extent, but nothing beyond it can.
		runElems *= sect.Dim(runAxes)
		runAxes++
		break
	}

	runBytes := runElems * elSize

	// idx iterates the remaining (outer) axes in first-axis-fastest
	// order.
	idx := append([]int64(nil), sect.Lower...)
	var sectOff int64
	for {
		var objOff int64
		for k := 0; k < rank; k++ {
			objOff += (idx[k] - obj.Lower[k]) * strides[k]
		}
		if err := fn(sectOff, objOff*elSize, runBytes); err != nil {
			return err
		}
		sectOff += runBytes

		// Advance the outer index vector.
		k := runAxes
		for ; k < rank; k++ {
			idx[k]++
			if idx[k] <= sect.Upper[k] {
				break
			}
			idx[k] = sect.Lower[k]
		}
		if k == rank {
			return nil
		}
	}
}
