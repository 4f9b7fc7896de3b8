package badger

import "encoding/binary"

// BadgerDB is a key-value store, so namespaced key prefixes keep the
// different container record types apart:
//
//	h:          container header (meta + allocator state)
//	r:<id>      object records, id as 8-byte big-endian
//	e:<id>      array payload extents, id as 8-byte big-endian
//
// Big-endian IDs keep keys ordered by allocation, which makes debugging
// with badger's CLI tooling sane even though no range scans depend on it.
const (
	keyHeader    = "h:"
	prefixRecord = "r:"
	prefixExtent = "e:"
)

func recordKey(id uint64) []byte {
	k := make([]byte, 2+8)
	copy(k, prefixRecord)
	binary.BigEndian.PutUint64(k[2:], id)
	return k
}

func extentKey(id uint64) []byte {
	k := make([]byte, 2+8)
	copy(k, prefixExtent)
	binary.BigEndian.PutUint64(k[2:], id)
	return k
}
