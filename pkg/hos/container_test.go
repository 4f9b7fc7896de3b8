package hos

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrodata/hos/pkg/registry"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

var containerNames atomic.Uint64

// newMemContainer creates a memory-backed container for tests that do not
// need persistence.
func newMemContainer(t *testing.T) *Container {
	t.Helper()
	name := fmt.Sprintf("mem-container-%d", containerNames.Add(1))
	c, err := Create(name, Options{Kind: KindMemory})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// newFileContainer creates a file-backed container in a temp directory and
// returns it with its path.
func newFileContainer(t *testing.T) (*Container, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.hos")
	c, err := Create(path, Options{Kind: KindFile})
	require.NoError(t, err)
	return c, path
}

// rootOf returns the root locator, annulled on test cleanup.
func rootOf(t *testing.T, c *Container) *Locator {
	t.Helper()
	root, err := c.Root()
	require.NoError(t, err)
	t.Cleanup(func() { root.Annul() })
	return root
}

// ============================================================================
// Lifecycle Tests
// ============================================================================

func TestCreateAndReopenFileContainer(t *testing.T) {
	c, path := newFileContainer(t)

	instance := c.Instance()
	require.NotEmpty(t, instance)

	root, err := c.Root()
	require.NoError(t, err)

	name, err := root.Name()
	require.NoError(t, err)
	assert.Equal(t, "DATASET", name)

	typ, err := root.Type()
	require.NoError(t, err)
	assert.Equal(t, DataType("CONTAINER"), typ)

	require.NoError(t, root.Annul())
	require.NoError(t, c.Close())

	// Reopen and verify identity and root survive the round trip.
	c2, err := Open(path, AccessRead, Options{})
	require.NoError(t, err)
	defer c2.Close()

	assert.Equal(t, instance, c2.Instance())
	assert.Equal(t, KindFile, c2.Kind())

	root2, err := c2.Root()
	require.NoError(t, err)
	defer root2.Annul()

	name2, err := root2.Name()
	require.NoError(t, err)
	assert.Equal(t, "DATASET", name2)
}

func TestCreateCustomRoot(t *testing.T) {
	name := fmt.Sprintf("mem-root-%d", containerNames.Add(1))
	c, err := Create(name, Options{
		Kind:     KindMemory,
		RootName: "SURVEY",
		RootType: "OBSERVATION",
	})
	require.NoError(t, err)
	defer c.Close()

	root := rootOf(t, c)
	rootName, err := root.Name()
	require.NoError(t, err)
	assert.Equal(t, "SURVEY", rootName)
}

func TestOpenMissingContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.hos")
	_, err := Open(path, AccessRead, Options{})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrNotFound), "expected NotFound, got %v", err)
}

func TestCreateRefusesExistingWithoutOverwrite(t *testing.T) {
	c, path := newFileContainer(t)
	require.NoError(t, c.Close())

	_, err := Create(path, Options{Kind: KindFile})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrAlreadyExists), "expected AlreadyExists, got %v", err)

	// With Overwrite the same path succeeds and starts fresh.
	c2, err := Create(path, Options{Kind: KindFile, Overwrite: true})
	require.NoError(t, err)
	require.NoError(t, c2.Close())
}

func TestSecondOpenSameProcessFails(t *testing.T) {
	c, path := newFileContainer(t)
	defer c.Close()

	_, err := Open(path, AccessRead, Options{})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrResourceBusy), "expected ResourceBusy, got %v", err)
}

func TestSeparateRegistriesTrackSeparately(t *testing.T) {
	regA := registry.New()
	name := fmt.Sprintf("file-reg-%d", containerNames.Add(1))
	path := filepath.Join(t.TempDir(), name)

	c, err := Create(path, Options{Kind: KindFile, Registry: regA})
	require.NoError(t, err)
	defer c.Close()

	_, ok := regA.Lookup(path)
	assert.True(t, ok, "container should be registered in its registry")

	_, ok = registry.Default.Lookup(path)
	assert.False(t, ok, "container must not leak into the default registry")
}

func TestCloseWithLiveLocatorFails(t *testing.T) {
	c, _ := newFileContainer(t)
	root, err := c.Root()
	require.NoError(t, err)

	err = c.Close()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrResourceBusy), "expected ResourceBusy, got %v", err)

	require.NoError(t, root.Annul())
	require.NoError(t, c.Close())
}

func TestDoubleAnnulIsIdempotent(t *testing.T) {
	c := newMemContainer(t)
	root, err := c.Root()
	require.NoError(t, err)

	require.NoError(t, root.Annul())
	require.NoError(t, root.Annul())
	assert.False(t, root.Valid())

	// Operations on the dead locator fail with InvalidLocator.
	_, err = root.Name()
	assert.True(t, IsCode(err, ErrInvalidLocator), "expected InvalidLocator, got %v", err)
}

func TestReadOnlyOpenRejectsWrites(t *testing.T) {
	c, path := newFileContainer(t)
	require.NoError(t, c.Close())

	ro, err := Open(path, AccessRead, Options{})
	require.NoError(t, err)
	defer ro.Close()

	root := rootOf(t, ro)
	_, err = root.NewComponent("X", TypeInteger, Scalar())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrAccessDenied), "expected AccessDenied, got %v", err)
}

func TestFlushPersistsWithoutClose(t *testing.T) {
	c, path := newFileContainer(t)

	root := rootOf(t, c)
	child, err := root.NewComponent("EPOCH", TypeDouble, Scalar())
	require.NoError(t, err)
	require.NoError(t, child.Put0D(2451545.0))
	require.NoError(t, child.Annul())
	require.NoError(t, c.Flush())

	// The flushed state must be complete on disk: close without a second
	// flush and reopen.
	require.NoError(t, rootAnnulAndClose(t, root, c))

	c2, err := Open(path, AccessRead, Options{})
	require.NoError(t, err)
	defer c2.Close()

	root2 := rootOf(t, c2)
	epoch, err := root2.Find("EPOCH")
	require.NoError(t, err)
	defer epoch.Annul()

	v, err := epoch.Get0D()
	require.NoError(t, err)
	assert.Equal(t, 2451545.0, v)
}

// TestFileArrayRoundTripAcrossReopen drives the whole path on the file
// backend: create, write a 2-D _WORD frame with one bad pixel through an
// _INTEGER mapping, close, reopen fresh and read it back as _REAL.
func TestFileArrayRoundTripAcrossReopen(t *testing.T) {
	c, path := newFileContainer(t)
	root := rootOf(t, c)

	bounds, err := NewBounds([]int64{-2, 1}, []int64{1, 3})
	require.NoError(t, err)
	arr, err := root.NewComponent("FRAME", TypeWord, bounds)
	require.NoError(t, err)

	m, err := arr.Map(TypeInteger, "WRITE")
	require.NoError(t, err)
	buf, err := m.Int32s()
	require.NoError(t, err)
	require.Len(t, buf, 12)
	for i := range buf {
		buf[i] = int32(100 + i)
	}
	buf[7] = BadInt
	require.NoError(t, m.Unmap())
	require.NoError(t, arr.Annul())
	require.NoError(t, rootAnnulAndClose(t, root, c))

	c2, err := Open(path, AccessRead, Options{})
	require.NoError(t, err)
	defer c2.Close()

	root2 := rootOf(t, c2)
	arr2, err := root2.Find("FRAME")
	require.NoError(t, err)
	defer arr2.Annul()

	got, err := arr2.Bounds()
	require.NoError(t, err)
	assert.Equal(t, bounds, got)

	m2, err := arr2.Map(TypeReal, "READ")
	require.NoError(t, err)
	vals, err := m2.Float32s()
	require.NoError(t, err)
	require.Len(t, vals, 12)
	for i, v := range vals {
		if i == 7 {
			assert.Equal(t, BadReal, v, "bad pixel must survive the reopen")
		} else {
			assert.Equal(t, float32(100+i), v, "element %d", i)
		}
	}
	require.NoError(t, m2.Unmap())
}

// rootAnnulAndClose releases the cleanup-managed root early so the
// container can close mid-test.
func rootAnnulAndClose(t *testing.T, root *Locator, c *Container) error {
	t.Helper()
	if err := root.Annul(); err != nil {
		return err
	}
	return c.Close()
}
