// Package backend defines the persistence contract for hierarchical object
// store containers.
//
// A Backend stores two kinds of state:
//
//   - Object records: the directory entries of the container tree, keyed by
//     ObjectID. Records are opaque to the backend; they are serialised by
//     this package's XDR codec so every backend persists the same bytes.
//   - Extents: raw array payloads, keyed by ExtentID, addressable at byte
//     granularity for partial (sectioned) reads and writes.
//
// Three implementations exist, mirroring the container "kind" selected at
// creation time:
//
//   - file:   a single self-describing binary file with a free-space map
//     (the native container format)
//   - badger: an embedded BadgerDB key-value directory
//   - memory: an in-memory backend for tests and scratch containers
//
// The structural-atomicity discipline (write a child record fully before
// linking it into its parent; unlink before reclaiming space) is the
// caller's responsibility: backends only promise that an individual
// PutRecord/DeleteRecord/WriteExtent is applied completely or not at all,
// and that everything written before a successful Flush survives a crash.
package backend

import (
	"bytes"
	"errors"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// ObjectID identifies one object record within a container. IDs are
// allocated monotonically and never reused, so a stale reference can be
// detected rather than silently resolving to a recycled record.
type ObjectID uint64

// RootID is the ObjectID of the container's root structure object.
const RootID ObjectID = 1

// ExtentID identifies one array payload. Backends choose their own ID
// scheme (the file backend uses file offsets, BadgerDB uses a counter);
// callers treat the value as opaque.
type ExtentID uint64

// Meta carries the container-level header fields every backend persists.
type Meta struct {
	// Version is the container format version.
	Version uint32

	// Instance is a UUID generated when the container is created. It
	// distinguishes a re-created container from the original at the same
	// path.
	Instance string
}

// ChildRef is one entry in a structure object's ordered child list.
type ChildRef struct {
	// Name is the child's case-preserved component name.
	Name string

	// ID is the child's record ID.
	ID uint64
}

// Record is the persisted form of one object: name, type tag, shape, tree
// edges and payload reference. The parent edge is navigational only; the
// owning edge is the parent's child list.
type Record struct {
	// Name is the case-preserved component name (compared
	// case-insensitively by the directory layer).
	Name string

	// Type is the type tag: a primitive type name or a structure type.
	Type string

	// Lower and Upper are the per-axis pixel-index bounds. Both empty for
	// scalars.
	Lower []int64
	Upper []int64

	// Parent is the record ID of the parent object, 0 for the root.
	Parent uint64

	// Children is the ordered child list. Empty for primitive objects.
	Children []ChildRef

	// Extent and ExtentLen reference the array payload, if any.
	// Extent == 0 means no extent is allocated.
	Extent    uint64
	ExtentLen int64

	// Inline holds small payloads (scalar primitives) directly in the
	// record, avoiding an extent round-trip.
	Inline []byte
}

// MarshalRecord serialises a record with XDR. XDR gives a portable,
// big-endian, self-delimiting layout, the same wire discipline the
// surrounding ecosystem already speaks.
func MarshalRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, rec); err != nil {
		return nil, fmt.Errorf("marshal object record: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalRecord deserialises a record produced by MarshalRecord.
func UnmarshalRecord(data []byte) (*Record, error) {
	var rec Record
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal object record: %w", err)
	}
	return &rec, nil
}

// Backend is the persistence interface a container runs on.
//
// Thread safety: implementations must serialise their own internal state,
// but the container layer already holds a per-container mutex across every
// call, so backends are never called concurrently for one container.
type Backend interface {
	// Meta returns the container header fields.
	Meta() (Meta, error)

	// GetRecord fetches an object record. Missing IDs return an error
	// satisfying IsNotFound.
	GetRecord(id ObjectID) (*Record, error)

	// PutRecord stores (or replaces) an object record.
	PutRecord(id ObjectID, rec *Record) error

	// DeleteRecord removes an object record. Deleting a missing record is
	// an error.
	DeleteRecord(id ObjectID) error

	// AllocID returns the next unused ObjectID and advances the
	// allocator. IDs are never reused.
	AllocID() (ObjectID, error)

	// AllocExtent reserves size bytes of payload space, zero-filled.
	AllocExtent(size int64) (ExtentID, error)

	// FreeExtent releases an extent for reuse. size must match the
	// allocation.
	FreeExtent(id ExtentID, size int64) error

	// ReadExtent reads len(p) bytes from byte offset off of an extent.
	ReadExtent(id ExtentID, off int64, p []byte) error

	// WriteExtent writes len(p) bytes at byte offset off of an extent.
	WriteExtent(id ExtentID, off int64, p []byte) error

	// Flush makes all preceding mutations durable. After a successful
	// Flush the container must be reopenable even if the process dies
	// immediately afterwards.
	Flush() error

	// Close flushes and releases the backend, including any inter-process
	// lock taken at open time.
	Close() error

	// ReadOnly reports whether the backend was opened read-only.
	ReadOnly() bool
}

// Sentinel errors shared by all backends. The container layer translates
// these into its own error taxonomy; backends stay free of domain error
// types.
var (
	// ErrLocked indicates another process holds an incompatible lock and
	// the bounded wait expired.
	ErrLocked = errors.New("backend: container is locked by another process")

	// ErrFormat indicates the stored bytes are not a valid container of a
	// supported version.
	ErrFormat = errors.New("backend: invalid container format")

	// ErrReadOnly indicates a mutation was attempted on a read-only
	// backend.
	ErrReadOnly = errors.New("backend: container opened read-only")
)

// NotFoundError is returned by GetRecord/DeleteRecord for missing IDs.
type NotFoundError struct {
	ID ObjectID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("object record %d not found", e.ID)
}

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
