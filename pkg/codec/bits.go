package codec

import "encoding/binary"

type ByteOrder uint8

const (
	LSBFirst ByteOrder = iota // Intel
	MSBFirst                  // Motorola
)

func (o ByteOrder) String() string {
	if o == MSBFirst {
		return "msb"
	}
	return "lsb"
}

// Mask returns a mask with the bitsize lower bits set
func Mask(bitsize int) uint64 {
	if bitsize >= 64 {
		return ^uint64(0)
	}
	if bitsize <= 0 {
		return 0
	}
	return (uint64(1) << uint(bitsize)) - 1
}

// Start bits always designate the least significant bit of a signal.
// For MSB first signals the bit index is mirrored around the frame size,
// the byte swapped frame then holds the signal like an LSB first one.
func mirror(startbit int, size int) int {
	return (size-1-startbit>>3)<<3 + startbit&7
}

// Fits reports whether the signal lies entirely inside a payload of size bytes
func Fits(startbit, bitsize, size int, order ByteOrder) bool {
	if bitsize < 1 || bitsize > 64 || startbit < 0 || size <= 0 {
		return false
	}
	if order == MSBFirst {
		if startbit>>3 >= size {
			return false
		}
		startbit = mirror(startbit, size)
	}
	return startbit+bitsize <= size*8
}

// ReadBits extracts a field of bitsize bits from the payload of buf.
// The caller must have checked the range with Fits.
func ReadBits(buf Buffer, size, startbit, bitsize int, order ByteOrder) uint64 {
	var w uint64
	if order == MSBFirst {
		m := mirror(startbit, size)
		shift := uint(m & 7)
		s := Slack + size - 8 - m>>3
		w = binary.BigEndian.Uint64(buf[s:]) >> shift
		if shift != 0 && int(shift)+bitsize > 64 {
			w |= uint64(buf[s-1]) << (64 - shift)
		}
	} else {
		shift := uint(startbit & 7)
		pos := Slack + startbit>>3
		w = binary.LittleEndian.Uint64(buf[pos:]) >> shift
		if shift != 0 && int(shift)+bitsize > 64 {
			w |= uint64(buf[pos+8]) << (64 - shift)
		}
	}
	return w & Mask(bitsize)
}

// WriteBits ORs value into the payload of buf, bits of value above
// bitsize are ignored. The field must be zero before the call.
func WriteBits(value uint64, buf Buffer, size, startbit, bitsize int, order ByteOrder) {
	value &= Mask(bitsize)
	if order == MSBFirst {
		m := mirror(startbit, size)
		shift := uint(m & 7)
		s := Slack + size - 8 - m>>3
		binary.BigEndian.PutUint64(buf[s:], binary.BigEndian.Uint64(buf[s:])|value<<shift)
		if shift != 0 && int(shift)+bitsize > 64 {
			buf[s-1] |= byte(value >> (64 - shift))
		}
		return
	}
	shift := uint(startbit & 7)
	pos := Slack + startbit>>3
	binary.LittleEndian.PutUint64(buf[pos:], binary.LittleEndian.Uint64(buf[pos:])|value<<shift)
	if shift != 0 && int(shift)+bitsize > 64 {
		buf[pos+8] |= byte(value >> (64 - shift))
	}
}

// ReadSelector is the 32 bit variant of ReadBits used for mux selectors.
func ReadSelector(buf Buffer, size, startbit, bitsize int, order ByteOrder) uint32 {
	var w uint32
	if order == MSBFirst {
		m := mirror(startbit, size)
		shift := uint(m & 7)
		s := Slack + size - 4 - m>>3
		w = binary.BigEndian.Uint32(buf[s:]) >> shift
		if shift != 0 && int(shift)+bitsize > 32 {
			w |= uint32(buf[s-1]) << (32 - shift)
		}
	} else {
		shift := uint(startbit & 7)
		pos := Slack + startbit>>3
		w = binary.LittleEndian.Uint32(buf[pos:]) >> shift
		if shift != 0 && int(shift)+bitsize > 32 {
			w |= uint32(buf[pos+4]) << (32 - shift)
		}
	}
	return w & uint32(Mask(bitsize))
}

// WriteSelector is the 32 bit variant of WriteBits used for mux selectors.
func WriteSelector(value uint32, buf Buffer, size, startbit, bitsize int, order ByteOrder) {
	value &= uint32(Mask(bitsize))
	if order == MSBFirst {
		m := mirror(startbit, size)
		shift := uint(m & 7)
		s := Slack + size - 4 - m>>3
		binary.BigEndian.PutUint32(buf[s:], binary.BigEndian.Uint32(buf[s:])|value<<shift)
		if shift != 0 && int(shift)+bitsize > 32 {
			buf[s-1] |= byte(value >> (32 - shift))
		}
		return
	}
	shift := uint(startbit & 7)
	pos := Slack + startbit>>3
	binary.LittleEndian.PutUint32(buf[pos:], binary.LittleEndian.Uint32(buf[pos:])|value<<shift)
	if shift != 0 && int(shift)+bitsize > 32 {
		buf[pos+4] |= byte(value >> (32 - shift))
	}
}
