package file

import "sort"

// freeList is the free-space map: reclaimable extents kept sorted by
// offset and coalesced on release, consulted first-fit on allocation.
type freeList []extent

// acquire removes and returns a range of exactly size bytes from the free
// map, or ok=false when no extent is large enough. Larger extents are
// split, returning the leading portion.
func (fl *freeList) acquire(size int64) (int64, bool) {
	for i, e := range *fl {
		if e.Len < size {
			continue
		}
		off := e.Off
		if e.Len == size {
			*fl = append((*fl)[:i], (*fl)[i+1:]...)
		} else {
			(*fl)[i] = extent{Off: e.Off + size, Len: e.Len - size}
		}
		return off, true
	}
	return 0, false
}

// release returns an extent to the free map, merging with adjacent free
// extents so the map stays minimal.
func (fl *freeList) release(e extent) {
	if e.Len <= 0 {
		return
	}

	i := sort.Search(len(*fl), func(i int) bool { return (*fl)[i].Off >= e.Off })
	*fl = append(*fl, extent{})
	copy((*fl)[i+1:], (*fl)[i:])
	(*fl)[i] = e

	// Coalesce with the successor, then the predecessor.
	if i+1 < len(*fl) && (*fl)[i].Off+(*fl)[i].Len == (*fl)[i+1].Off {
		(*fl)[i].Len += (*fl)[i+1].Len
		*fl = append((*fl)[:i+1], (*fl)[i+2:]...)
	}
	if i > 0 && (*fl)[i-1].Off+(*fl)[i-1].Len == (*fl)[i].Off {
		(*fl)[i-1].Len += (*fl)[i].Len
		*fl = append((*fl)[:i], (*fl)[i+1:]...)
	}
}

// total returns the number of reclaimable bytes.
func (fl freeList) total() int64 {
	var n int64
	for _, e := range fl {
		n += e.Len
	}
	return n
}
