package file

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeListAcquireFirstFit(t *testing.T) {
	fl := freeList{
		{Off: 1000, Len: 16},
		{Off: 2000, Len: 64},
		{Off: 3000, Len: 64},
	}

	// 32 bytes skip the 16-byte extent and split the first 64-byte one.
	off, ok := fl.acquire(32)
	require.True(t, ok)
	assert.Equal(t, int64(2000), off)
	assert.Equal(t, freeList{
		{Off: 1000, Len: 16},
		{Off: 2032, Len: 32},
		{Off: 3000, Len: 64},
	}, fl)

	// An exact fit removes the extent entirely.
	off, ok = fl.acquire(16)
	require.True(t, ok)
	assert.Equal(t, int64(1000), off)
	assert.Len(t, fl, 2)

	// Nothing large enough.
	_, ok = fl.acquire(128)
	assert.False(t, ok)
}

func TestFreeListReleaseCoalesces(t *testing.T) {
	var fl freeList

	fl.release(extent{Off: 1000, Len: 100})
	fl.release(extent{Off: 3000, Len: 100})
	require.Len(t, fl, 2)

	// Adjacent to the successor of neither: inserted in offset order.
	fl.release(extent{Off: 2000, Len: 100})
	assert.Equal(t, freeList{
		{Off: 1000, Len: 100},
		{Off: 2000, Len: 100},
		{Off: 3000, Len: 100},
	}, fl)

	// Filling the gap between the first two merges all three into one.
	fl.release(extent{Off: 1100, Len: 900})
	assert.Equal(t, freeList{
		{Off: 1000, Len: 1100},
		{Off: 3000, Len: 100},
	}, fl)

	fl.release(extent{Off: 2100, Len: 900})
	assert.Equal(t, freeList{{Off: 1000, Len: 2100}}, fl)

	assert.Equal(t, int64(2100), fl.total())
}

func TestFreeListReleaseIgnoresEmpty(t *testing.T) {
	var fl freeList
	fl.release(extent{Off: 500, Len: 0})
	assert.Empty(t, fl)
}
