package codec

import (
	"math"

	cansim "github.com/openxilenv/cansim"
)

// ClampAndEncode converts a value into the raw representation of a field.
// Values are saturated to the representable range of the field. Floats
// going into integer fields are clamped first and rounded afterwards.
// Float fields are IEEE-754 single precision (double for 64 bit fields).
func ClampAndEncode(value cansim.Numeric, bitsize int, signed bool, isFloat bool) uint64 {
	mask := Mask(bitsize)
	if isFloat {
		if bitsize >= 64 {
			return math.Float64bits(value.Float64())
		}
		f := value.Float64()
		if f > math.MaxFloat32 {
			f = math.MaxFloat32
		} else if f < -math.MaxFloat32 {
			f = -math.MaxFloat32
		}
		return uint64(math.Float32bits(float32(f))) & mask
	}
	if !signed {
		return clampUnsigned(value, mask)
	}
	return uint64(clampSigned(value, bitsize)) & mask
}

func clampUnsigned(value cansim.Numeric, max uint64) uint64 {
	var u uint64
	switch value.Kind() {
	case cansim.KindInt:
		i := value.Int64()
		if i < 0 {
			return 0
		}
		u = uint64(i)
	case cansim.KindUint:
		u = value.Uint64()
	default:
		f := value.Float64()
		switch {
		case math.IsNaN(f), f <= 0:
			return 0
		case f >= float64(max):
			return max
		}
		u = uint64(math.Round(f))
	}
	if u > max {
		return max
	}
	return u
}

func clampSigned(value cansim.Numeric, bitsize int) int64 {
	min, max := int64(math.MinInt64), int64(math.MaxInt64)
	if bitsize < 64 {
		min = -(int64(1) << uint(bitsize-1))
		max = (int64(1) << uint(bitsize-1)) - 1
	}
	var i int64
	switch value.Kind() {
	case cansim.KindInt:
		i = value.Int64()
	case cansim.KindUint:
		if value.Uint64() > uint64(max) {
			return max
		}
		i = int64(value.Uint64())
	default:
		f := value.Float64()
		switch {
		case math.IsNaN(f):
			return 0
		case f <= float64(min):
			return min
		case f >= float64(max):
			return max
		}
		i = int64(math.Round(f))
	}
	if i < min {
		return min
	}
	if i > max {
		return max
	}
	return i
}

// DecodeToValue is the inverse of ClampAndEncode
func DecodeToValue(raw uint64, bitsize int, signed bool, isFloat bool) cansim.Numeric {
	if isFloat {
		if bitsize >= 64 {
			return cansim.Float(math.Float64frombits(raw))
		}
		return cansim.Float(float64(math.Float32frombits(uint32(raw))))
	}
	mask := Mask(bitsize)
	raw &= mask
	if signed {
		if bitsize < 64 && raw&(uint64(1)<<uint(bitsize-1)) != 0 {
			raw |= ^mask
		}
		return cansim.Int(int64(raw))
	}
	return cansim.UInt(raw)
}
