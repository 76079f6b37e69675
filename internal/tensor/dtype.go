package tensor

import "github.com/x448/float16"

// DType describes the element encoding of a Mat's backing storage.
type DType uint8

const (
	// F32 stores IEEE 754 single precision in Data.
	F32 DType = iota
	// F16 stores IEEE 754 half precision in Raw, decoded on access.
	// Accumulation always happens in float32 regardless of storage dtype.
	F16
)

func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case F16:
		return "f16"
	default:
		return "unknown"
	}
}

// ElemSize returns the storage size of one element in bytes.
func (d DType) ElemSize() int {
	switch d {
	case F32:
		return 4
	case F16:
		return 2
	default:
		return 0
	}
}

// ParseDType maps a configuration string to a DType.
func ParseDType(s string) (DType, bool) {
	switch s {
	case "", "f32", "float32", "fp32":
		return F32, true
	case "f16", "float16", "fp16", "half":
		return F16, true
	default:
		return F32, false
	}
}

// F16Encode rounds a float32 to the nearest representable half.
func F16Encode(v float32) uint16 {
	return float16.Fromfloat32(v).Bits()
}

// F16Decode expands a half back to float32.
func F16Decode(u uint16) float32 {
	return float16.Frombits(u).Float32()
}
