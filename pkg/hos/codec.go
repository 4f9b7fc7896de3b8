package hos

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ============================================================================
// Stored Element Codec
// ============================================================================
//
// Array payloads are persisted in a fixed little-endian layout, independent
// of the host. Element size is DataType.Size(). The codec translates between
// that raw layout and the typed in-memory buffers the conversion matrix
// operates on. Character elements are stored verbatim.

// encodeElems serialises a typed buffer into the stored little-endian
// layout.
func encodeElems(t DataType, buf any) ([]byte, error) {
	switch t.Normalize() {
	case TypeByte:
		s := buf.([]int8)
		out := make([]byte, len(s))
		for i, v := range s {
			out[i] = byte(v)
		}
		return out, nil
	case TypeUByte:
		return append([]byte(nil), buf.([]uint8)...), nil
	case TypeWord:
		s := buf.([]int16)
		out := make([]byte, 2*len(s))
		for i, v := range s {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
		}
		return out, nil
	case TypeUWord:
		s := buf.([]uint16)
		out := make([]byte, 2*len(s))
		for i, v := range s {
			binary.LittleEndian.PutUint16(out[i*2:], v)
		}
		return out, nil
	case TypeInteger, TypeLogical:
		s := buf.([]int32)
		out := make([]byte, 4*len(s))
		for i, v := range s {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
		}
		return out, nil
	case TypeInt64:
		s := buf.([]int64)
		out := make([]byte, 8*len(s))
		for i, v := range s {
			binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
		}
		return out, nil
	case TypeReal:
		s := buf.([]float32)
		out := make([]byte, 4*len(s))
		for i, v := range s {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
		return out, nil
	case TypeDouble:
		s := buf.([]float64)
		out := make([]byte, 8*len(s))
		for i, v := range s {
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
		}
		return out, nil
	}
	if t.IsChar() {
		return append([]byte(nil), buf.([]byte)...), nil
	}
	return nil, errf(ErrTypeMismatch, "", fmt.Sprintf("cannot encode elements of type %s", t))
}

// decodeElems deserialises n stored elements into a typed buffer.
func decodeElems(t DataType, raw []byte, n int64) (any, error) {
	if int64(len(raw)) < n*int64(t.Size()) {
		return nil, errf(ErrFormatInvalid, "",
			fmt.Sprintf("short payload for %d elements of %s: %d bytes", n, t, len(raw)))
	}
	switch t.Normalize() {
	case TypeByte:
		s := make([]int8, n)
		for i := range s {
			s[i] = int8(raw[i])
		}
		return s, nil
	case TypeUByte:
		return append([]uint8(nil), raw[:n]...), nil
	case TypeWord:
		s := make([]int16, n)
		for i := range s {
			s[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
		}
		return s, nil
	case TypeUWord:
		s := make([]uint16, n)
		for i := range s {
			s[i] = binary.LittleEndian.Uint16(raw[i*2:])
		}
		return s, nil
	case TypeInteger, TypeLogical:
		s := make([]int32, n)
		for i := range s {
			s[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return s, nil
	case TypeInt64:
		s := make([]int64, n)
		for i := range s {
			s[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return s, nil
	case TypeReal:
		s := make([]float32, n)
		for i := range s {
			s[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return s, nil
	case TypeDouble:
		s := make([]float64, n)
		for i := range s {
			s[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return s, nil
	}
	if l := t.CharLen(); l > 0 {
		return append([]byte(nil), raw[:n*int64(l)]...), nil
	}
	return nil, errf(ErrTypeMismatch, "", fmt.Sprintf("cannot decode elements of type %s", t))
}
