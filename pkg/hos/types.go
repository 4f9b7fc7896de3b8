package hos

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ============================================================================
// Primitive Data Types
// ============================================================================

// DataType identifies the element type of a primitive object, or the
// user-defined type tag of a structure object.
//
// Primitive type names follow the legacy underscore convention so containers
// remain self-describing to tooling that grew up around that convention:
//
//	_BYTE     signed 8-bit integer
//	_UBYTE    unsigned 8-bit integer
//	_WORD     signed 16-bit integer
//	_UWORD    unsigned 16-bit integer
//	_INTEGER  signed 32-bit integer
//	_INT64    signed 64-bit integer
//	_REAL     32-bit IEEE float
//	_DOUBLE   64-bit IEEE float
//	_LOGICAL  boolean, stored as a 32-bit integer
//	_CHAR*n   fixed-length character string of n bytes
//
// Any other non-underscore name is a structure type tag (e.g. "POLARIMETRY",
// "CALIB_FRAME"). Structure objects carry no data payload; primitive objects
// carry no children. Type tags are compared case-insensitively.
type DataType string

const (
	TypeByte    DataType = "_BYTE"
	TypeUByte   DataType = "_UBYTE"
	TypeWord    DataType = "_WORD"
	TypeUWord   DataType = "_UWORD"
	TypeInteger DataType = "_INTEGER"
	TypeInt64   DataType = "_INT64"
	TypeReal    DataType = "_REAL"
	TypeDouble  DataType = "_DOUBLE"
	TypeLogical DataType = "_LOGICAL"
)

// charPrefix is the prefix of fixed-length character types.
const charPrefix = "_CHAR*"

// CharType returns the fixed-length character type of n bytes (e.g.
// CharType(16) == "_CHAR*16"). n must be positive; CharType panics otherwise
// because a zero-length character type cannot hold any value and is always a
// programming error, never a data-dependent condition.
func CharType(n int) DataType {
	if n <= 0 {
		panic(fmt.Sprintf("hos: invalid character length %d", n))
	}
	return DataType(charPrefix + strconv.Itoa(n))
}

// Normalize returns the canonical (upper-case) spelling of a type tag.
// Type tags are case-insensitive on input but stored upper-case, matching
// the case-insensitive name convention of the directory layer.
func (t DataType) Normalize() DataType {
	return DataType(strings.ToUpper(string(t)))
}

// IsChar reports whether t is a fixed-length character type.
func (t DataType) IsChar() bool {
	return strings.HasPrefix(strings.ToUpper(string(t)), charPrefix)
}

// CharLen returns the byte length of a character type, or 0 if t is not a
// character type or carries a malformed length.
func (t DataType) CharLen() int {
	u := strings.ToUpper(string(t))
	if !strings.HasPrefix(u, charPrefix) {
		return 0
	}
	n, err := strconv.Atoi(u[len(charPrefix):])
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// IsNumeric reports whether t is one of the numeric primitive types.
// _LOGICAL counts as numeric for conversion purposes (it is stored as a
// 32-bit integer and converts to and from the integer types).
func (t DataType) IsNumeric() bool {
	switch t.Normalize() {
	case TypeByte, TypeUByte, TypeWord, TypeUWord, TypeInteger, TypeInt64,
		TypeReal, TypeDouble, TypeLogical:
		return true
	}
	return false
}

// IsPrimitive reports whether t names a primitive type. Everything else is
// a structure type tag.
func (t DataType) IsPrimitive() bool {
	return t.IsNumeric() || (t.IsChar() && t.CharLen() > 0)
}

// Size returns the storage size in bytes of one element of a primitive
// type, or 0 for structure type tags.
func (t DataType) Size() int {
	switch t.Normalize() {
	case TypeByte, TypeUByte:
		return 1
	case TypeWord, TypeUWord:
		return 2
	case TypeInteger, TypeReal, TypeLogical:
		return 4
	case TypeInt64, TypeDouble:
		return 8
	}
	return t.CharLen()
}

// ============================================================================
// Bad Values
// ============================================================================

// Bad values are the reserved per-type sentinels denoting "no data". They
// follow the legacy PRM convention: the most negative value of each signed
// type, the largest value of each unsigned type, and the most negative
// finite value of each float type. Conversion routines propagate bad values
// unchanged (bad-in, bad-out) and substitute the destination type's bad
// value for any out-of-range result, so downstream pipelines can treat
// "bad" as a first-class missing-data marker instead of aborting.
const (
	BadByte  int8   = math.MinInt8
	BadUByte uint8  = math.MaxUint8
	BadWord  int16  = math.MinInt16
	BadUWord uint16 = math.MaxUint16
	BadInt   int32  = math.MinInt32
	BadInt64 int64  = math.MinInt64
)

var (
	BadReal   float32 = -math.MaxFloat32
	BadDouble float64 = -math.MaxFloat64
)

// BadLogical is the bad sentinel for _LOGICAL values in their stored
// (int32) representation. True is stored as 1, false as 0.
const BadLogical int32 = math.MinInt32

// ============================================================================
// Shapes and Bounds
// ============================================================================

// MaxRank is the maximum rank of an array object.
const MaxRank = 7

// Bounds describes the pixel-index bounds of an array object or section:
// one inclusive [Lower[i], Upper[i]] pair per axis. Rank 0 (both slices
// empty) denotes a scalar. Lower bounds may be negative: pixel origins are
// arbitrary, a convention inherited from the astronomical tooling this
// store serves (a 1024x1024 detector frame centred on the origin has bounds
// [-512:511, -512:511]).
//
// Storage order is first-axis-fastest: element (i, j) of a 2-D array is
// stored at offset (i - Lower[0]) + (j - Lower[1])*dim[0]. Mapped buffers,
// sections and slices all present their elements in this order.
type Bounds struct {
	Lower []int64
	Upper []int64
}

// NewBounds builds Bounds from parallel lower/upper slices, validating rank
// and per-axis ordering.
func NewBounds(lower, upper []int64) (Bounds, error) {
	if len(lower) != len(upper) {
		return Bounds{}, &StoreError{
			Code:    ErrInvalidShape,
			Message: fmt.Sprintf("mismatched bounds rank: %d lower vs %d upper", len(lower), len(upper)),
		}
	}
	if len(lower) > MaxRank {
		return Bounds{}, &StoreError{
			Code:    ErrInvalidShape,
			Message: fmt.Sprintf("rank %d exceeds maximum %d", len(lower), MaxRank),
		}
	}
	for i := range lower {
		if upper[i] < lower[i] {
			return Bounds{}, &StoreError{
				Code:    ErrInvalidShape,
				Message: fmt.Sprintf("axis %d: upper bound %d below lower bound %d", i+1, upper[i], lower[i]),
			}
		}
	}
	return Bounds{Lower: append([]int64(nil), lower...), Upper: append([]int64(nil), upper...)}, nil
}

// Scalar returns the rank-0 bounds.
func Scalar() Bounds { return Bounds{} }

// Vector returns 1-D bounds [1:n].
func Vector(n int64) Bounds {
	return Bounds{Lower: []int64{1}, Upper: []int64{n}}
}

// Rank returns the number of axes.
func (b Bounds) Rank() int { return len(b.Lower) }

// Dim returns the extent of axis i (zero-based).
func (b Bounds) Dim(i int) int64 { return b.Upper[i] - b.Lower[i] + 1 }

// Elements returns the total element count (1 for scalars).
func (b Bounds) Elements() int64 {
	n := int64(1)
	for i := range b.Lower {
		n *= b.Dim(i)
	}
	return n
}

// Contains reports whether the rectangular region described by other lies
// entirely within b. Ranks must match.
func (b Bounds) Contains(other Bounds) bool {
	if other.Rank() != b.Rank() {
		return false
	}
	for i := range b.Lower {
		if other.Lower[i] < b.Lower[i] || other.Upper[i] > b.Upper[i] {
			return false
		}
	}
	return true
}

// Equal reports whether two bounds are identical in rank and extents.
func (b Bounds) Equal(other Bounds) bool {
	if other.Rank() != b.Rank() {
		return false
	}
	for i := range b.Lower {
		if other.Lower[i] != b.Lower[i] || other.Upper[i] != b.Upper[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of b.
func (b Bounds) Clone() Bounds {
	return Bounds{
		Lower: append([]int64(nil), b.Lower...),
		Upper: append([]int64(nil), b.Upper...),
	}
}

// String renders bounds in the conventional "[l1:u1,l2:u2]" form.
func (b Bounds) String() string {
	if b.Rank() == 0 {
		return "[]"
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i := range b.Lower {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%d:%d", b.Lower[i], b.Upper[i])
	}
	sb.WriteByte(']')
	return sb.String()
}

// strides returns the per-axis element strides for first-axis-fastest
// storage order.
func (b Bounds) strides() []int64 {
	s := make([]int64, b.Rank())
	acc := int64(1)
	for i := 0; i < b.Rank(); i++ {
		s[i] = acc
		acc *= b.Dim(i)
	}
	return s
}

// ============================================================================
// Access Modes
// ============================================================================

// AccessMode controls what a caller may do with a container, locator or
// mapped region.
type AccessMode int

const (
	// AccessRead grants read-only access.
	AccessRead AccessMode = iota

	// AccessWrite grants write access; on mapping, the previous contents
	// are not guaranteed to be visible in the buffer.
	AccessWrite

	// AccessUpdate grants read-write access; on mapping, the buffer is
	// initialised from the stored contents.
	AccessUpdate
)

func (m AccessMode) String() string {
	switch m {
	case AccessRead:
		return "READ"
	case AccessWrite:
		return "WRITE"
	case AccessUpdate:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

// Writable reports whether the mode permits mutation.
func (m AccessMode) Writable() bool { return m != AccessRead }

// MapInit selects how a WRITE-mode mapped buffer is initialised.
type MapInit int

const (
	// InitNone leaves a WRITE-mode buffer zeroed by allocation but makes
	// no promise about its contents.
	InitNone MapInit = iota

	// InitZero fills the buffer with numeric zero (spaces for character
	// types).
	InitZero

	// InitBad fills the buffer with the requested type's bad value.
	InitBad
)

// ParseMode parses a legacy mode string: "READ", "WRITE" or "UPDATE",
// case-insensitive, with an optional initialisation suffix on WRITE
// ("WRITE/ZERO", "WRITE/BAD"). The suffix is accepted and ignored on
// UPDATE for compatibility with callers that map existing data with
// "UPDATE/ZERO"-style strings.
func ParseMode(s string) (AccessMode, MapInit, error) {
	base, opt, _ := strings.Cut(strings.ToUpper(strings.TrimSpace(s)), "/")

	var mode AccessMode
	switch base {
	case "READ", "R":
		mode = AccessRead
	case "WRITE", "W":
		mode = AccessWrite
	case "UPDATE", "U":
		mode = AccessUpdate
	default:
		return 0, 0, &StoreError{
			Code:    ErrAccessDenied,
			Message: fmt.Sprintf("unrecognised access mode %q", s),
		}
	}

	init := InitNone
	switch opt {
	case "":
	case "ZERO":
		init = InitZero
	case "BAD":
		init = InitBad
	default:
		return 0, 0, &StoreError{
			Code:    ErrAccessDenied,
			Message: fmt.Sprintf("unrecognised initialisation option %q in mode %q", opt, s),
		}
	}
	if mode == AccessRead && init != InitNone {
		return 0, 0, &StoreError{
			Code:    ErrAccessDenied,
			Message: fmt.Sprintf("initialisation option not permitted with READ mode: %q", s),
		}
	}
	return mode, init, nil
}
