// Package hos implements a hierarchical object store: self-describing
// containers of named, typed, multidimensional numeric objects, navigated
// through locators and accessed through typed mapped buffers.
//
// A container is a tree of objects. Structure objects group named children;
// primitive objects hold scalar or array data of a fixed element type.
// Applications acquire a Locator on the root, drill down with Find, request
// typed mapped access to primitive data (optionally through a Section or
// Slice view), operate on the buffer, and Annul the locator, which
// synchronises any outstanding mapping back into the container.
//
// The store is synchronous and never logs; every failure surfaces as a
// *StoreError carrying one of the ErrorCode categories.
package hos

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/astrodata/hos/pkg/backend"
	backendBadger "github.com/astrodata/hos/pkg/backend/badger"
	backendFile "github.com/astrodata/hos/pkg/backend/file"
	backendMemory "github.com/astrodata/hos/pkg/backend/memory"
	"github.com/astrodata/hos/pkg/registry"
)

// Kind selects the persistence backend of a container.
type Kind string

const (
	// KindFile is the native single-file binary container format.
	KindFile Kind = "file"

	// KindBadger stores the container in an embedded BadgerDB directory.
	KindBadger Kind = "badger"

	// KindMemory keeps the container in memory; nothing is persisted.
	KindMemory Kind = "memory"
)

// Options configures container creation and opening. The zero value is
// usable: file kind, no overwrite, default lock timeout, the process-wide
// registry and no metrics.
type Options struct {
	// Kind selects the backend on create. Ignored on open of file and
	// badger containers, which are distinguished by what is on disk (a
	// badger container is a directory, a file container is a file).
	Kind Kind

	// Overwrite permits create to replace an existing container.
	Overwrite bool

	// RootName names the root structure object (default "DATASET").
	RootName string

	// RootType is the root's structure type tag (default "CONTAINER").
	RootType DataType

	// LockTimeout bounds the wait for the inter-process container lock.
	// Zero means the backend default.
	LockTimeout time.Duration

	// Registry is the in-process aliasing guard. Nil means the
	// process-wide default registry.
	Registry *registry.Registry

	// Metrics receives operation observations. Nil disables metrics with
	// zero overhead.
	Metrics Metrics
}

// Metrics is the optional instrumentation hook for store operations.
// Implementations must be safe for concurrent use.
type Metrics interface {
	// ObserveOp records one completed operation with its duration and
	// whether it failed.
	ObserveOp(op string, d time.Duration, failed bool)
}

// Container is an open hierarchical object store.
//
// A Container serialises all operations through an internal mutex, so it
// is safe for concurrent use by multiple goroutines; the underlying
// backend only ever sees one call at a time. Inter-process sharing is
// coordinated by the backend's advisory lock, taken at open time.
type Container struct {
	mu sync.Mutex

	be   backend.Backend
	path string
	mode AccessMode
	kind Kind

	reg      *registry.Registry
	regEntry *registry.Entry

	// arena indexes the in-memory state of every object a locator has
	// touched. Locators hold ObjectIDs, never pointers into the arena.
	arena map[backend.ObjectID]*object

	// locators counts live (un-annulled) locators. Close refuses to run
	// while any remain: tearing down the backend under a live mapping
	// would leave dangling buffers.
	locators int

	metrics Metrics
	closed  bool

	// seq orders container mutexes for cross-container operations.
	seq uint64
}

var containerSeq atomic.Uint64

// object is the arena entry for one object: its cached record plus
// reference bookkeeping.
type object struct {
	id  backend.ObjectID
	rec *backend.Record

	// refs is the live-locator count. An object (or any ancestor of it)
	// cannot be erased or reshaped while refs > 0 somewhere in its
	// subtree.
	refs int

	// mappings counts active mapped regions on this object across all
	// locators.
	mappings int
}

// Create makes a new container at path and returns it open in update mode.
// The container holds an exclusive inter-process lock until closed.
//
// Fails with AlreadyExists if path exists and Overwrite is unset, and with
// ResourceBusy if the path is already open in this process or locked by
// another.
func Create(path string, opts Options) (c *Container, err error) {
	defer observe(opts.Metrics, "create", time.Now(), &err)

	kind := opts.Kind
	if kind == "" {
		kind = KindFile
	}
	rootName := opts.RootName
	if rootName == "" {
		rootName = "DATASET"
	}
	rootType := opts.RootType
	if rootType == "" {
		rootType = "CONTAINER"
	}
	if rootType.IsPrimitive() {
		return nil, errf(ErrTypeMismatch, path,
			fmt.Sprintf("root object must be a structure, not %s", rootType))
	}

	reg := opts.Registry
	if reg == nil {
		reg = registry.Default
	}

	var regEntry *registry.Entry
	if kind != KindMemory {
		regEntry, err = reg.Register(path, true)
		if err != nil {
			return nil, errf(ErrResourceBusy, path, err.Error())
		}
		defer func() {
			if err != nil {
				reg.Deregister(regEntry)
			}
		}()
	}

	meta := backend.Meta{Instance: uuid.NewString()}

	var be backend.Backend
	switch kind {
	case KindFile:
		be, err = backendFile.Create(path, opts.Overwrite, meta,
			backendFile.Config{LockTimeout: opts.LockTimeout})
	case KindBadger:
		be, err = backendBadger.Create(path, opts.Overwrite, meta, backendBadger.Config{})
	case KindMemory:
		be = backendMemory.New(meta)
	default:
		return nil, errf(ErrFormatInvalid, path, fmt.Sprintf("unknown container kind %q", kind))
	}
	if err != nil {
		return nil, translateBackendErr(err, path)
	}

	c = &Container{
		be:       be,
		path:     path,
		mode:     AccessUpdate,
		kind:     kind,
		reg:      reg,
		regEntry: regEntry,
		arena:    make(map[backend.ObjectID]*object),
		metrics:  opts.Metrics,
		seq:      containerSeq.Add(1),
	}

	root := &backend.Record{
		Name: rootName,
		Type: string(rootType.Normalize()),
	}
	if err = c.be.PutRecord(backend.RootID, root); err != nil {
		c.teardown()
		return nil, translateBackendErr(err, path)
	}
	if err = c.be.Flush(); err != nil {
		c.teardown()
		return nil, translateBackendErr(err, path)
	}
	return c, nil
}

// Open opens an existing container. mode is one of AccessRead, AccessWrite
// or AccessUpdate; write and update both take the exclusive inter-process
// lock, read takes the shared lock.
func Open(path string, mode AccessMode, opts Options) (c *Container, err error) {
	defer observe(opts.Metrics, "open", time.Now(), &err)

	reg := opts.Registry
	if reg == nil {
		reg = registry.Default
	}

	regEntry, err := reg.Register(path, mode.Writable())
	if err != nil {
		return nil, errf(ErrResourceBusy, path, err.Error())
	}
	defer func() {
		if err != nil {
			reg.Deregister(regEntry)
		}
	}()

	kind, err := detectKind(path)
	if err != nil {
		return nil, err
	}

	var be backend.Backend
	switch kind {
	case KindFile:
		be, err = backendFile.Open(path, !mode.Writable(),
			backendFile.Config{LockTimeout: opts.LockTimeout})
	case KindBadger:
		be, err = backendBadger.Open(path, !mode.Writable(), backendBadger.Config{})
	}
	if err != nil {
		return nil, translateBackendErr(err, path)
	}

	c = &Container{
		be:       be,
		path:     path,
		mode:     mode,
		kind:     kind,
		reg:      reg,
		regEntry: regEntry,
		arena:    make(map[backend.ObjectID]*object),
		metrics:  opts.Metrics,
		seq:      containerSeq.Add(1),
	}

	// The root record doubles as the format sanity check: a container
	// without one is structurally damaged.
	if _, err = c.loadObject(backend.RootID); err != nil {
		c.teardown()
		return nil, errf(ErrFormatInvalid, path, "container has no root object")
	}
	return c, nil
}

// detectKind inspects the path: a directory is a badger container, a
// regular file is a native one.
func detectKind(path string) (Kind, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", errf(ErrNotFound, path, "container does not exist")
		}
		if errors.Is(err, fs.ErrPermission) {
			return "", errf(ErrAccessDenied, path, "container is not accessible")
		}
		return "", errf(ErrNotFound, path, err.Error())
	}
	if info.IsDir() {
		return KindBadger, nil
	}
	return KindFile, nil
}

// Path returns the container path.
func (c *Container) Path() string { return c.path }

// Mode returns the access mode the container was opened with.
func (c *Container) Mode() AccessMode { return c.mode }

// Kind returns the backend kind.
func (c *Container) Kind() Kind { return c.kind }

// Instance returns the container's unique instance ID, generated at
// creation time.
func (c *Container) Instance() string {
	meta, err := c.be.Meta()
	if err != nil {
		return ""
	}
	return meta.Instance
}

// Root returns a locator for the container's root structure object.
func (c *Container) Root() (*Locator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errf(ErrInvalidLocator, c.path, "container is closed")
	}
	return c.newLocatorLocked(backend.RootID, c.mode)
}

// Flush commits all pending structural and data writes to the backend's
// durable state without closing the container.
func (c *Container) Flush() (err error) {
	defer observe(c.metrics, "flush", time.Now(), &err)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errf(ErrInvalidLocator, c.path, "container is closed")
	}
	if err := c.be.Flush(); err != nil {
		return translateBackendErr(err, c.path)
	}
	return nil
}

// Close flushes and closes the container. It fails with ResourceBusy while
// any locator derived from the container is still live; closing under a
// live locator would leave mapped values dangling.
func (c *Container) Close() (err error) {
	defer observe(c.metrics, "close", time.Now(), &err)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	if c.locators > 0 {
		return errf(ErrResourceBusy, c.path,
			fmt.Sprintf("container has %d live locator(s)", c.locators))
	}

	c.closed = true
	beErr := c.be.Close()
	c.reg.Deregister(c.regEntry)
	if beErr != nil {
		return translateBackendErr(beErr, c.path)
	}
	return nil
}

// teardown releases everything during a failed open/create. Errors are
// dropped: the triggering error is the one the caller needs.
func (c *Container) teardown() {
	c.closed = true
	_ = c.be.Close()
	c.reg.Deregister(c.regEntry)
}

// ============================================================================
// Arena
// ============================================================================

// loadObject returns the arena entry for id, reading the record from the
// backend on first touch. Callers hold c.mu.
func (c *Container) loadObject(id backend.ObjectID) (*object, error) {
	if obj, ok := c.arena[id]; ok {
		return obj, nil
	}
	rec, err := c.be.GetRecord(id)
	if err != nil {
		return nil, translateBackendErr(err, c.path)
	}
	obj := &object{id: id, rec: rec}
	c.arena[id] = obj
	return obj, nil
}

// storeObject writes an object's record through to the backend. Callers
// hold c.mu.
func (c *Container) storeObject(obj *object) error {
	if err := c.be.PutRecord(obj.id, obj.rec); err != nil {
		return translateBackendErr(err, c.path)
	}
	return nil
}

// dropObject removes an object from the arena after its record has been
// deleted. Callers hold c.mu.
func (c *Container) dropObject(id backend.ObjectID) {
	delete(c.arena, id)
}

// subtreeBusy reports whether any object in the subtree rooted at id is
// referenced by a live locator or an active mapping. Callers hold c.mu.
func (c *Container) subtreeBusy(id backend.ObjectID) (bool, error) {
	obj, err := c.loadObject(id)
	if err != nil {
		return false, err
	}
	if obj.refs > 0 || obj.mappings > 0 {
		return true, nil
	}
	for _, child := range obj.rec.Children {
		busy, err := c.subtreeBusy(backend.ObjectID(child.ID))
		if err != nil {
			return false, err
		}
		if busy {
			return true, nil
		}
	}
	return false, nil
}

// ============================================================================
// Error translation
// ============================================================================

// translateBackendErr maps backend and filesystem errors onto the store's
// error taxonomy. Unrecognised errors pass through wrapped so callers can
// still unwrap infrastructure causes.
func translateBackendErr(err error, path string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, backend.ErrLocked):
		return errf(ErrResourceBusy, path, err.Error())
	case errors.Is(err, backend.ErrFormat):
		return errf(ErrFormatInvalid, path, err.Error())
	case errors.Is(err, backend.ErrReadOnly):
		return errf(ErrAccessDenied, path, "container is open read-only")
	case backend.IsNotFound(err):
		return errf(ErrFormatInvalid, path, err.Error())
	case errors.Is(err, fs.ErrNotExist):
		return errf(ErrNotFound, path, err.Error())
	case errors.Is(err, fs.ErrExist), backendBadger.IsExists(err):
		return errf(ErrAlreadyExists, path, err.Error())
	case errors.Is(err, fs.ErrPermission):
		return errf(ErrAccessDenied, path, err.Error())
	default:
		return fmt.Errorf("container %s: %w", path, err)
	}
}

// observe reports one finished operation to the metrics hook, if any.
func observe(m Metrics, op string, start time.Time, err *error) {
	if m == nil {
		return
	}
	m.ObserveOp(op, time.Since(start), *err != nil)
}

// caseFold normalises a component name or type tag for comparison.
func caseFold(s string) string { return strings.ToUpper(s) }
