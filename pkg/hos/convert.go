package hos

import (
	"fmt"
	"math"
)

// ============================================================================
// Type Conversion Matrix
// ============================================================================
//
// Every (source type, destination type) pair with a defined conversion has
// an entry in convMatrix, built once at package init. Keeping the matrix as
// an explicit table (rather than a chain of runtime type switches) makes the
// bad-value contract auditable: the substitution rules live in the handful
// of generic kernels below, and the registration block enumerates exactly
// which pairs exist.
//
// Rules, in order:
//  1. A source bad value always converts to the destination bad value.
//  2. An out-of-range result converts to the destination bad value, never
//     wrapping or saturating to a representable number.
//  3. Float-to-integer conversion rounds to nearest; NaN and infinities
//     convert to the destination bad value.
//  4. _LOGICAL converts to numeric as 0/1 and from numeric as zero/non-zero.
//  5. Character types convert only among themselves (truncate or pad with
//     spaces); character-to-numeric is undefined and rejected at map time.

type convKey struct {
	src DataType
	dst DataType
}

// convFunc converts src (a typed slice of the source type) into dst (a
// typed slice of the destination type, same element count).
type convFunc func(src, dst any)

var convMatrix = map[convKey]convFunc{}

type integer interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~int64
}

type float interface {
	~float32 | ~float64
}

// cvSame copies between buffers of the same element type.
func cvSame[T integer | float]() convFunc {
	return func(srcAny, dstAny any) {
		copy(dstAny.([]T), srcAny.([]T))
	}
}

// cvIntInt converts between integer types. All integer values in the store
// fit an int64 exactly (the widest unsigned type is uint16), so the range
// check is exact.
func cvIntInt[S, D integer](badS S, badD D, lo, hi int64) convFunc {
	return func(srcAny, dstAny any) {
		src, dst := srcAny.([]S), dstAny.([]D)
		for i, v := range src {
			if v == badS {
				dst[i] = badD
				continue
			}
			x := int64(v)
			if x < lo || x > hi {
				dst[i] = badD
				continue
			}
			dst[i] = D(x)
		}
	}
}

// cvIntFloat converts integer to float. Every integer value is within float
// range, so only bad propagation applies; precision loss is permitted.
func cvIntFloat[S integer, D float](badS S, badD D) convFunc {
	return func(srcAny, dstAny any) {
		src, dst := srcAny.([]S), dstAny.([]D)
		for i, v := range src {
			if v == badS {
				dst[i] = badD
			} else {
				dst[i] = D(v)
			}
		}
	}
}

// cvFloatInt converts float to integer, rounding to nearest. The range
// check happens in float64 with hi exclusive: MaxInt64 has no exact
// float64 form (it rounds up to 2^63), so an inclusive bound would let
// 2^63 through to an out-of-range conversion. hi is one past the maximum,
// which every destination type represents exactly. NaN fails every
// comparison and falls through to the bad value.
func cvFloatInt[S float, D integer](badS S, badD D, lo, hi float64) convFunc {
	return func(srcAny, dstAny any) {
		src, dst := srcAny.([]S), dstAny.([]D)
		for i, v := range src {
			if v == badS {
				dst[i] = badD
				continue
			}
			r := math.Round(float64(v))
			if r >= lo && r < hi {
				dst[i] = D(r)
			} else {
				dst[i] = badD
			}
		}
	}
}

// cvFloatFloat converts between float widths. Narrowing substitutes bad for
// values beyond the destination's finite range.
func cvFloatFloat[S, D float](badS S, badD D, maxMag float64) convFunc {
	return func(srcAny, dstAny any) {
		src, dst := srcAny.([]S), dstAny.([]D)
		for i, v := range src {
			f := float64(v)
			if v == badS || math.IsNaN(f) {
				dst[i] = badD
				continue
			}
			if f < -maxMag || f > maxMag {
				dst[i] = badD
				continue
			}
			dst[i] = D(v)
		}
	}
}

// cvToLogical collapses numeric values to 0/1 in the destination []int32.
func cvToLogical[S integer | float](badS S) convFunc {
	return func(srcAny, dstAny any) {
		src, dst := srcAny.([]S), dstAny.([]int32)
		for i, v := range src {
			switch {
			case v == badS:
				dst[i] = BadLogical
			case v != 0:
				dst[i] = 1
			default:
				dst[i] = 0
			}
		}
	}
}

// cvFromLogical expands stored 0/1 logical values into a numeric type.
func cvFromLogical[D integer | float](badD D) convFunc {
	return func(srcAny, dstAny any) {
		src, dst := srcAny.([]int32), dstAny.([]D)
		for i, v := range src {
			switch {
			case v == BadLogical:
				dst[i] = badD
			case v != 0:
				dst[i] = 1
			default:
				dst[i] = 0
			}
		}
	}
}

func reg(src, dst DataType, f convFunc) {
	convMatrix[convKey{src, dst}] = f
}

// registerFrom registers all conversions out of one integer source type.
func registerFrom[S integer](src DataType, badS S) {
	reg(src, TypeByte, cvIntInt(badS, BadByte, math.MinInt8, math.MaxInt8))
	reg(src, TypeUByte, cvIntInt(badS, BadUByte, 0, math.MaxUint8))
	reg(src, TypeWord, cvIntInt(badS, BadWord, math.MinInt16, math.MaxInt16))
	reg(src, TypeUWord, cvIntInt(badS, BadUWord, 0, math.MaxUint16))
	reg(src, TypeInteger, cvIntInt(badS, BadInt, math.MinInt32, math.MaxInt32))
	reg(src, TypeInt64, cvIntInt(badS, BadInt64, math.MinInt64, math.MaxInt64))
	reg(src, TypeReal, cvIntFloat(badS, BadReal))
	reg(src, TypeDouble, cvIntFloat(badS, BadDouble))
	reg(src, TypeLogical, cvToLogical(badS))
}

// registerFromFloat registers all conversions out of one float source type.
func registerFromFloat[S float](src DataType, badS S) {
	reg(src, TypeByte, cvFloatInt(badS, BadByte, math.MinInt8, math.MaxInt8+1))
	reg(src, TypeUByte, cvFloatInt(badS, BadUByte, 0, math.MaxUint8+1))
	reg(src, TypeWord, cvFloatInt(badS, BadWord, math.MinInt16, math.MaxInt16+1))
	reg(src, TypeUWord, cvFloatInt(badS, BadUWord, 0, math.MaxUint16+1))
	reg(src, TypeInteger, cvFloatInt(badS, BadInt, math.MinInt32, math.MaxInt32+1))
	reg(src, TypeInt64, cvFloatInt(badS, BadInt64, math.MinInt64, math.MaxInt64+1))
	reg(src, TypeReal, cvFloatFloat(badS, BadReal, math.MaxFloat32))
	reg(src, TypeDouble, cvFloatFloat(badS, BadDouble, math.MaxFloat64))
	reg(src, TypeLogical, cvToLogical(badS))
}

func init() {
	registerFrom(TypeByte, BadByte)
	registerFrom(TypeUByte, BadUByte)
	registerFrom(TypeWord, BadWord)
	registerFrom(TypeUWord, BadUWord)
	registerFrom(TypeInteger, BadInt)
	registerFrom(TypeInt64, BadInt64)
	registerFromFloat(TypeReal, BadReal)
	registerFromFloat(TypeDouble, BadDouble)

	reg(TypeLogical, TypeByte, cvFromLogical(BadByte))
	reg(TypeLogical, TypeUByte, cvFromLogical(BadUByte))
	reg(TypeLogical, TypeWord, cvFromLogical(BadWord))
	reg(TypeLogical, TypeUWord, cvFromLogical(BadUWord))
	reg(TypeLogical, TypeInteger, cvFromLogical(BadInt))
	reg(TypeLogical, TypeInt64, cvFromLogical(BadInt64))
	reg(TypeLogical, TypeReal, cvFromLogical(BadReal))
	reg(TypeLogical, TypeDouble, cvFromLogical(BadDouble))

	// Same-type copies use plain copy kernels so identity mappings stay
	// cheap and exact.
	reg(TypeByte, TypeByte, cvSame[int8]())
	reg(TypeUByte, TypeUByte, cvSame[uint8]())
	reg(TypeWord, TypeWord, cvSame[int16]())
	reg(TypeUWord, TypeUWord, cvSame[uint16]())
	reg(TypeInteger, TypeInteger, cvSame[int32]())
	reg(TypeInt64, TypeInt64, cvSame[int64]())
	reg(TypeReal, TypeReal, cvSame[float32]())
	reg(TypeDouble, TypeDouble, cvSame[float64]())
	reg(TypeLogical, TypeLogical, cvSame[int32]())
}

// Convertible reports whether a mapping of stored type src may be requested
// as type dst.
func Convertible(src, dst DataType) bool {
	src, dst = src.Normalize(), dst.Normalize()
	if src.IsChar() && dst.IsChar() {
		return src.CharLen() > 0 && dst.CharLen() > 0
	}
	_, ok := convMatrix[convKey{src, dst}]
	return ok
}

// convert converts a typed buffer of n elements between primitive types.
// Character buffers are []byte with elemLen bytes per element.
func convert(src DataType, srcBuf any, dst DataType, dstBuf any, n int64) error {
	src, dst = src.Normalize(), dst.Normalize()

	if src.IsChar() && dst.IsChar() {
		convertChar(srcBuf.([]byte), src.CharLen(), dstBuf.([]byte), dst.CharLen(), n)
		return nil
	}

	f, ok := convMatrix[convKey{src, dst}]
	if !ok {
		return errf(ErrTypeMismatch, "",
			fmt.Sprintf("no conversion defined from %s to %s", src, dst))
	}
	f(srcBuf, dstBuf)
	return nil
}

// convertChar re-blocks fixed-length character elements, truncating or
// space-padding each element to the destination length.
func convertChar(src []byte, srcLen int, dst []byte, dstLen int, n int64) {
	for i := int64(0); i < n; i++ {
		s := src[i*int64(srcLen) : (i+1)*int64(srcLen)]
		d := dst[i*int64(dstLen) : (i+1)*int64(dstLen)]
		c := copy(d, s)
		for j := c; j < dstLen; j++ {
			d[j] = ' '
		}
	}
}

// ============================================================================
// Typed Buffer Allocation and Fill
// ============================================================================

// allocBuffer allocates a typed in-memory buffer for n elements of t.
// Character types yield []byte of n*CharLen; _LOGICAL yields []int32.
func allocBuffer(t DataType, n int64) (any, error) {
	switch t.Normalize() {
	case TypeByte:
		return make([]int8, n), nil
	case TypeUByte:
		return make([]uint8, n), nil
	case TypeWord:
		return make([]int16, n), nil
	case TypeUWord:
		return make([]uint16, n), nil
	case TypeInteger:
		return make([]int32, n), nil
	case TypeInt64:
		return make([]int64, n), nil
	case TypeReal:
		return make([]float32, n), nil
	case TypeDouble:
		return make([]float64, n), nil
	case TypeLogical:
		return make([]int32, n), nil
	}
	if l := t.CharLen(); l > 0 {
		return make([]byte, n*int64(l)), nil
	}
	return nil, errf(ErrTypeMismatch, "", fmt.Sprintf("cannot allocate buffer for type %s", t))
}

func fillSlice[T any](buf any, v T) {
	s := buf.([]T)
	for i := range s {
		s[i] = v
	}
}

// fillBad fills a typed buffer with the bad value of t. Character buffers
// have no bad sentinel and are filled with spaces.
func fillBad(t DataType, buf any) {
	switch t.Normalize() {
	case TypeByte:
		fillSlice(buf, BadByte)
	case TypeUByte:
		fillSlice(buf, BadUByte)
	case TypeWord:
		fillSlice(buf, BadWord)
	case TypeUWord:
		fillSlice(buf, BadUWord)
	case TypeInteger:
		fillSlice(buf, BadInt)
	case TypeInt64:
		fillSlice(buf, BadInt64)
	case TypeReal:
		fillSlice(buf, BadReal)
	case TypeDouble:
		fillSlice(buf, BadDouble)
	case TypeLogical:
		fillSlice(buf, BadLogical)
	default:
		if t.IsChar() {
			fillSlice(buf, byte(' '))
		}
	}
}

// fillZero fills a typed buffer with numeric zero (spaces for characters).
func fillZero(t DataType, buf any) {
	switch t.Normalize() {
	case TypeByte:
		fillSlice(buf, int8(0))
	case TypeUByte:
		fillSlice(buf, uint8(0))
	case TypeWord:
		fillSlice(buf, int16(0))
	case TypeUWord:
		fillSlice(buf, uint16(0))
	case TypeInteger, TypeLogical:
		fillSlice(buf, int32(0))
	case TypeInt64:
		fillSlice(buf, int64(0))
	case TypeReal:
		fillSlice(buf, float32(0))
	case TypeDouble:
		fillSlice(buf, float64(0))
	default:
		if t.IsChar() {
			fillSlice(buf, byte(' '))
		}
	}
}
