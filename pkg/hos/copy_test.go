package hos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildCalibTree creates a small structure under root with one array and one
// character scalar, returning its locator.
func buildCalibTree(t *testing.T, root *Locator) *Locator {
	t.Helper()

	calib, err := root.NewComponent("CALIB", "STRUCT", Scalar())
	require.NoError(t, err)
	t.Cleanup(func() { calib.Annul() })

	flat, err := calib.NewComponent("FLAT", TypeInteger, Vector(4))
	require.NoError(t, err)
	m, err := flat.Map(TypeInteger, "WRITE")
	require.NoError(t, err)
	buf, err := m.Int32s()
	require.NoError(t, err)
	copy(buf, []int32{10, 20, 30, 40})
	require.NoError(t, m.Unmap())
	require.NoError(t, flat.Annul())

	label, err := calib.NewComponent("LABEL", CharType(8), Scalar())
	require.NoError(t, err)
	require.NoError(t, label.Put0C("DOME"))
	require.NoError(t, label.Annul())

	return calib
}

// ============================================================================
// Deep Copy
// ============================================================================

func TestCopySubtreeSameContainer(t *testing.T) {
	c := newMemContainer(t)
	root := rootOf(t, c)
	calib := buildCalibTree(t, root)

	dup, err := calib.CopyTo(root, "CALIB2")
	require.NoError(t, err)
	defer dup.Annul()

	path, err := dup.Path()
	require.NoError(t, err)
	assert.Equal(t, "DATASET.CALIB2", path)

	names, err := dup.ComponentNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"FLAT", "LABEL"}, names)

	flat, err := dup.Find("FLAT")
	require.NoError(t, err)
	defer flat.Annul()
	m, err := flat.Map(TypeInteger, "READ")
	require.NoError(t, err)
	buf, err := m.Int32s()
	require.NoError(t, err)
	assert.Equal(t, []int32{10, 20, 30, 40}, buf)
	require.NoError(t, m.Unmap())

	label, err := dup.Find("LABEL")
	require.NoError(t, err)
	defer label.Annul()
	s, err := label.Get0C()
	require.NoError(t, err)
	assert.Equal(t, "DOME", s)
}

func TestCopyPayloadsAreIndependent(t *testing.T) {
	c := newMemContainer(t)
	root := rootOf(t, c)
	calib := buildCalibTree(t, root)

	dup, err := calib.CopyTo(root, "CALIB2")
	require.NoError(t, err)
	defer dup.Annul()

	// Mutating the original must not leak into the copy.
	orig, err := calib.Find("FLAT")
	require.NoError(t, err)
	defer orig.Annul()
	m, err := orig.Map(TypeInteger, "UPDATE")
	require.NoError(t, err)
	buf, err := m.Int32s()
	require.NoError(t, err)
	buf[0] = -1
	require.NoError(t, m.Unmap())

	copied, err := dup.Find("FLAT")
	require.NoError(t, err)
	defer copied.Annul()
	m, err = copied.Map(TypeInteger, "READ")
	require.NoError(t, err)
	buf, err = m.Int32s()
	require.NoError(t, err)
	assert.Equal(t, int32(10), buf[0])
	require.NoError(t, m.Unmap())
}

func TestCopyAcrossContainers(t *testing.T) {
	src := newMemContainer(t)
	srcRoot := rootOf(t, src)
	calib := buildCalibTree(t, srcRoot)

	dst, path := newFileContainer(t)
	dstRoot, err := dst.Root()
	require.NoError(t, err)

	dup, err := calib.CopyTo(dstRoot, "CALIB")
	require.NoError(t, err)
	require.NoError(t, dup.Annul())
	require.NoError(t, dstRoot.Annul())
	require.NoError(t, dst.Close())

	// The copy survives a reopen of the destination.
	dst2, err := Open(path, AccessRead, Options{})
	require.NoError(t, err)
	defer dst2.Close()

	root := rootOf(t, dst2)
	flat, err := root.Find("CALIB.FLAT")
	require.NoError(t, err)
	defer flat.Annul()

	m, err := flat.Map(TypeInteger, "READ")
	require.NoError(t, err)
	buf, err := m.Int32s()
	require.NoError(t, err)
	assert.Equal(t, []int32{10, 20, 30, 40}, buf)
	require.NoError(t, m.Unmap())
}

func TestCopyPrimitiveObject(t *testing.T) {
	c := newMemContainer(t)
	root := rootOf(t, c)

	val, err := root.NewComponent("X", TypeDouble, Scalar())
	require.NoError(t, err)
	defer val.Annul()
	require.NoError(t, val.Put0D(3.25))

	dup, err := val.CopyTo(root, "Y")
	require.NoError(t, err)
	defer dup.Annul()

	d, err := dup.Get0D()
	require.NoError(t, err)
	assert.Equal(t, 3.25, d)
}

// ============================================================================
// Copy Errors
// ============================================================================

func TestCopyIntoOwnSubtree(t *testing.T) {
	c := newMemContainer(t)
	root := rootOf(t, c)
	calib := buildCalibTree(t, root)

	_, err := calib.CopyTo(calib, "LOOP")
	assert.True(t, IsCode(err, ErrInvalidShape), "expected ErrInvalidShape, got %v", err)

	// A copy into a sibling structure is fine.
	other, err := root.NewComponent("OTHER", "STRUCT", Scalar())
	require.NoError(t, err)
	defer other.Annul()

	dup, err := calib.CopyTo(other, "CALIB")
	require.NoError(t, err)
	require.NoError(t, dup.Annul())
}

func TestCopyNameCollision(t *testing.T) {
	c := newMemContainer(t)
	root := rootOf(t, c)
	calib := buildCalibTree(t, root)

	_, err := calib.CopyTo(root, "CALIB")
	assert.True(t, IsCode(err, ErrNameCollision), "expected ErrNameCollision, got %v", err)
}

func TestCopyRejectsSections(t *testing.T) {
	c := newMemContainer(t)
	root := rootOf(t, c)

	arr, err := root.NewComponent("V", TypeInteger, Vector(8))
	require.NoError(t, err)
	defer arr.Annul()

	sect, err := arr.Section([]int64{2}, []int64{5})
	require.NoError(t, err)
	defer sect.Annul()

	_, err = sect.CopyTo(root, "PART")
	assert.True(t, IsCode(err, ErrTypeMismatch), "expected ErrTypeMismatch, got %v", err)
}

func TestCopyIntoPrimitiveDestination(t *testing.T) {
	c := newMemContainer(t)
	root := rootOf(t, c)
	calib := buildCalibTree(t, root)

	val, err := root.NewComponent("X", TypeInteger, Scalar())
	require.NoError(t, err)
	defer val.Annul()

	_, err = calib.CopyTo(val, "CALIB")
	assert.True(t, IsCode(err, ErrTypeMismatch), "expected ErrTypeMismatch, got %v", err)
}

func TestCopyIntoReadOnlyContainer(t *testing.T) {
	src := newMemContainer(t)
	srcRoot := rootOf(t, src)
	calib := buildCalibTree(t, srcRoot)

	dst, path := newFileContainer(t)
	require.NoError(t, dst.Close())

	ro, err := Open(path, AccessRead, Options{})
	require.NoError(t, err)
	defer ro.Close()

	roRoot := rootOf(t, ro)
	_, err = calib.CopyTo(roRoot, "CALIB")
	assert.True(t, IsCode(err, ErrAccessDenied), "expected ErrAccessDenied, got %v", err)
}
