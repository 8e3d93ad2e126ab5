package array

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Decode converts a raw little-endian buffer into a freshly allocated typed
// slice ([]int8 .. []float64). The copy is deliberate: callers get a snapshot
// that later store mutations cannot reach.
func Decode(buf []byte, t ElementType) (interface{}, error) {
	size := t.Size()
	if size == 0 {
		return nil, fmt.Errorf("cannot decode invalid element type")
	}
	if len(buf)%size != 0 {
		return nil, fmt.Errorf("buffer length %d is not a multiple of element size %d", len(buf), size)
	}
	n := len(buf) / size

	switch t {
	case Int8:
		out := make([]int8, n)
		for i := range out {
			out[i] = int8(buf[i])
		}
		return out, nil
	case Uint8:
		out := make([]uint8, n)
		copy(out, buf)
		return out, nil
	case Int16:
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
		}
		return out, nil
	case Uint16:
		out := make([]uint16, n)
		for i := range out {
			out[i] = binary.LittleEndian.Uint16(buf[i*2:])
		}
		return out, nil
	case Int32:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		return out, nil
	case Uint32:
		out := make([]uint32, n)
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(buf[i*4:])
		}
		return out, nil
	case Int64:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(buf[i*8:]))
		}
		return out, nil
	case Uint64:
		out := make([]uint64, n)
		for i := range out {
			out[i] = binary.LittleEndian.Uint64(buf[i*8:])
		}
		return out, nil
	case Float32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		return out, nil
	case Float64:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot decode element type %s", t)
	}
}

// Encode serializes a typed slice into a little-endian row-major buffer,
// the inverse of Decode.
func Encode(data interface{}, t ElementType) ([]byte, error) {
	switch t {
	case Int8:
		v, ok := data.([]int8)
		if !ok {
			return nil, encodeTypeError(data, t)
		}
		out := make([]byte, len(v))
		for i, x := range v {
			out[i] = byte(x)
		}
		return out, nil
	case Uint8:
		v, ok := data.([]uint8)
		if !ok {
			return nil, encodeTypeError(data, t)
		}
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	case Int16:
		v, ok := data.([]int16)
		if !ok {
			return nil, encodeTypeError(data, t)
		}
		out := make([]byte, len(v)*2)
		for i, x := range v {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(x))
		}
		return out, nil
	case Uint16:
		v, ok := data.([]uint16)
		if !ok {
			return nil, encodeTypeError(data, t)
		}
		out := make([]byte, len(v)*2)
		for i, x := range v {
			binary.LittleEndian.PutUint16(out[i*2:], x)
		}
		return out, nil
	case Int32:
		v, ok := data.([]int32)
		if !ok {
			return nil, encodeTypeError(data, t)
		}
		out := make([]byte, len(v)*4)
		for i, x := range v {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(x))
		}
		return out, nil
	case Uint32:
		v, ok := data.([]uint32)
		if !ok {
			return nil, encodeTypeError(data, t)
		}
		out := make([]byte, len(v)*4)
		for i, x := range v {
			binary.LittleEndian.PutUint32(out[i*4:], x)
		}
		return out, nil
	case Int64:
		v, ok := data.([]int64)
		if !ok {
			return nil, encodeTypeError(data, t)
		}
		out := make([]byte, len(v)*8)
		for i, x := range v {
			binary.LittleEndian.PutUint64(out[i*8:], uint64(x))
		}
		return out, nil
	case Uint64:
		v, ok := data.([]uint64)
		if !ok {
			return nil, encodeTypeError(data, t)
		}
		out := make([]byte, len(v)*8)
		for i, x := range v {
			binary.LittleEndian.PutUint64(out[i*8:], x)
		}
		return out, nil
	case Float32:
		v, ok := data.([]float32)
		if !ok {
			return nil, encodeTypeError(data, t)
		}
		out := make([]byte, len(v)*4)
		for i, x := range v {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(x))
		}
		return out, nil
	case Float64:
		v, ok := data.([]float64)
		if !ok {
			return nil, encodeTypeError(data, t)
		}
		out := make([]byte, len(v)*8)
		for i, x := range v {
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(x))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot encode element type %s", t)
	}
}

// NewTyped allocates a zero-initialized typed slice of n cells.
func NewTyped(t ElementType, n int) (interface{}, error) {
	switch t {
	case Int8:
		return make([]int8, n), nil
	case Uint8:
		return make([]uint8, n), nil
	case Int16:
		return make([]int16, n), nil
	case Uint16:
		return make([]uint16, n), nil
	case Int32:
		return make([]int32, n), nil
	case Uint32:
		return make([]uint32, n), nil
	case Int64:
		return make([]int64, n), nil
	case Uint64:
		return make([]uint64, n), nil
	case Float32:
		return make([]float32, n), nil
	case Float64:
		return make([]float64, n), nil
	default:
		return nil, fmt.Errorf("cannot allocate invalid element type")
	}
}

// TypedLen returns the length of a typed slice produced by Decode or NewTyped.
func TypedLen(data interface{}) int {
	switch v := data.(type) {
	case []int8:
		return len(v)
	case []uint8:
		return len(v)
	case []int16:
		return len(v)
	case []uint16:
		return len(v)
	case []int32:
		return len(v)
	case []uint32:
		return len(v)
	case []int64:
		return len(v)
	case []uint64:
		return len(v)
	case []float32:
		return len(v)
	case []float64:
		return len(v)
	default:
		return 0
	}
}

func encodeTypeError(data interface{}, t ElementType) error {
	return fmt.Errorf("cannot encode %T as %s", data, t)
}
