package hos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Numeric Scalars
// ============================================================================

func TestScalarNumericRoundTrip(t *testing.T) {
	c := newMemContainer(t)
	root := rootOf(t, c)

	val, err := root.NewComponent("EXPOSURE", TypeDouble, Scalar())
	require.NoError(t, err)
	defer val.Annul()

	require.NoError(t, val.Put0D(12.5))

	d, err := val.Get0D()
	require.NoError(t, err)
	assert.Equal(t, 12.5, d)

	// The same cell read through the other accessors goes through the
	// conversion matrix, so 12.5 rounds to 13 as an integer.
	i, err := val.Get0I()
	require.NoError(t, err)
	assert.Equal(t, int32(13), i)

	r, err := val.Get0R()
	require.NoError(t, err)
	assert.Equal(t, float32(12.5), r)

	k, err := val.Get0K()
	require.NoError(t, err)
	assert.Equal(t, int64(13), k)
}

func TestScalarPutConvertsToStoredType(t *testing.T) {
	c := newMemContainer(t)
	root := rootOf(t, c)

	val, err := root.NewComponent("COUNT", TypeWord, Scalar())
	require.NoError(t, err)
	defer val.Annul()

	// In range for _WORD: stored exactly.
	require.NoError(t, val.Put0I(1234))
	i, err := val.Get0I()
	require.NoError(t, err)
	assert.Equal(t, int32(1234), i)

	// Out of range for _WORD: stored as the word bad value and read back
	// as the requesting type's bad value.
	require.NoError(t, val.Put0I(100000))
	i, err = val.Get0I()
	require.NoError(t, err)
	assert.Equal(t, BadInt, i)
}

func TestScalarBadValueReadsAsRequestedBad(t *testing.T) {
	c := newMemContainer(t)
	root := rootOf(t, c)

	val, err := root.NewComponent("GAIN", TypeReal, Scalar())
	require.NoError(t, err)
	defer val.Annul()

	require.NoError(t, val.Put0R(BadReal))

	d, err := val.Get0D()
	require.NoError(t, err)
	assert.Equal(t, BadDouble, d)

	i, err := val.Get0I()
	require.NoError(t, err)
	assert.Equal(t, BadInt, i)
}

// ============================================================================
// Logical Scalars
// ============================================================================

func TestScalarLogical(t *testing.T) {
	c := newMemContainer(t)
	root := rootOf(t, c)

	flag, err := root.NewComponent("VALID", TypeLogical, Scalar())
	require.NoError(t, err)
	defer flag.Annul()

	require.NoError(t, flag.Put0L(true))
	b, err := flag.Get0L()
	require.NoError(t, err)
	assert.True(t, b)

	require.NoError(t, flag.Put0L(false))
	b, err = flag.Get0L()
	require.NoError(t, err)
	assert.False(t, b)

	// A non-zero integer written through conversion reads back true.
	require.NoError(t, flag.Put0I(42))
	b, err = flag.Get0L()
	require.NoError(t, err)
	assert.True(t, b)

	// A bad logical reads back false, without error.
	require.NoError(t, flag.Put0I(BadInt))
	b, err = flag.Get0L()
	require.NoError(t, err)
	assert.False(t, b)
}

// ============================================================================
// Character Scalars
// ============================================================================

func TestScalarCharPadAndTrim(t *testing.T) {
	c := newMemContainer(t)
	root := rootOf(t, c)

	label, err := root.NewComponent("LABEL", CharType(8), Scalar())
	require.NoError(t, err)
	defer label.Annul()

	require.NoError(t, label.Put0C("M31"))

	s, err := label.Get0C()
	require.NoError(t, err)
	assert.Equal(t, "M31", s)

	// Longer than the stored length: truncated, not rejected.
	require.NoError(t, label.Put0C("ANDROMEDA GALAXY"))
	s, err = label.Get0C()
	require.NoError(t, err)
	assert.Equal(t, "ANDROMED", s)
}

func TestScalarCharTypeEnforcement(t *testing.T) {
	c := newMemContainer(t)
	root := rootOf(t, c)

	num, err := root.NewComponent("NUM", TypeInteger, Scalar())
	require.NoError(t, err)
	defer num.Annul()

	_, err = num.Get0C()
	assert.True(t, IsCode(err, ErrTypeMismatch), "expected ErrTypeMismatch, got %v", err)
	assert.True(t, IsCode(num.Put0C("X"), ErrTypeMismatch))

	label, err := root.NewComponent("LABEL", CharType(4), Scalar())
	require.NoError(t, err)
	defer label.Annul()

	// Character objects have no numeric rendition.
	_, err = label.Get0I()
	assert.True(t, IsCode(err, ErrTypeMismatch), "expected ErrTypeMismatch, got %v", err)
	assert.True(t, IsCode(label.Put0R(1.0), ErrTypeMismatch))
}

// ============================================================================
// Shape and Lifecycle Errors
// ============================================================================

func TestScalarAccessRejectsArraysAndStructures(t *testing.T) {
	c := newMemContainer(t)
	root := rootOf(t, c)

	arr, err := root.NewComponent("V", TypeInteger, Vector(5))
	require.NoError(t, err)
	defer arr.Annul()

	_, err = arr.Get0I()
	assert.True(t, IsCode(err, ErrInvalidShape), "expected ErrInvalidShape, got %v", err)
	assert.True(t, IsCode(arr.Put0I(1), ErrInvalidShape))

	grp, err := root.NewComponent("GRP", "STRUCT", Scalar())
	require.NoError(t, err)
	defer grp.Annul()

	_, err = grp.Get0I()
	assert.True(t, IsCode(err, ErrTypeMismatch), "expected ErrTypeMismatch, got %v", err)
}

func TestScalarAccessThroughSingleElementSlice(t *testing.T) {
	c := newMemContainer(t)
	root := rootOf(t, c)

	arr, err := root.NewComponent("V", TypeInteger, Vector(5))
	require.NoError(t, err)
	defer arr.Annul()

	cell, err := arr.Slice(AxisFix{Axis: 1, Value: 3})
	require.NoError(t, err)
	defer cell.Annul()

	require.NoError(t, cell.Put0I(99))

	m, err := arr.Map(TypeInteger, "READ")
	require.NoError(t, err)
	buf, err := m.Int32s()
	require.NoError(t, err)
	assert.Equal(t, int32(99), buf[2])
	require.NoError(t, m.Unmap())
}

func TestScalarAccessAfterAnnul(t *testing.T) {
	c := newMemContainer(t)
	root := rootOf(t, c)

	val, err := root.NewComponent("X", TypeInteger, Scalar())
	require.NoError(t, err)
	require.NoError(t, val.Annul())

	_, err = val.Get0I()
	assert.True(t, IsCode(err, ErrInvalidLocator), "expected ErrInvalidLocator, got %v", err)
	assert.True(t, IsCode(val.Put0I(1), ErrInvalidLocator))
}

func TestScalarPutRequiresWritableContainer(t *testing.T) {
	c, path := newFileContainer(t)
	root, err := c.Root()
	require.NoError(t, err)

	val, err := root.NewComponent("X", TypeInteger, Scalar())
	require.NoError(t, err)
	require.NoError(t, val.Put0I(7))
	require.NoError(t, val.Annul())
	require.NoError(t, root.Annul())
	require.NoError(t, c.Close())

	ro, err := Open(path, AccessRead, Options{})
	require.NoError(t, err)
	defer ro.Close()

	root = rootOf(t, ro)
	val, err = root.Find("X")
	require.NoError(t, err)
	defer val.Annul()

	i, err := val.Get0I()
	require.NoError(t, err)
	assert.Equal(t, int32(7), i)

	assert.True(t, IsCode(val.Put0I(8), ErrAccessDenied))
}
