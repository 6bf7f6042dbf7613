package j1939

import (
	cansim "github.com/openxilenv/cansim"
	"github.com/openxilenv/cansim/pkg/object"
)

const (
	HeaderSize = 4
	tosPG      = 2
	// Header bits compared on receive, the trailer format is ignored
	headerMatchMask = 0xE3FFFF
	minContainer    = 8
	zeroPadding     = 3
	padByte         = 0xAA
)

// HeaderID builds the 24 bit C-PG header identifier of a parameter group:
// type of service, trailer format 0, and 18 bits of the identifier.
func HeaderID(id uint32) uint32 {
	return tosPG<<21 | (id>>8)&0x3FFFF
}

// TOS returns the type of service of a header starting with b.
// Zero marks padding.
func TOS(b byte) uint8 { return b >> 5 }

// PaddedLength is the container length carrying used bytes
func PaddedLength(used int) int {
	if used < minContainer {
		return minContainer
	}
	return cansim.RoundUpFDLength(used)
}

// Pack copies every member with new data into the container as long as
// space is left, members that do not fit wait for a later cycle. The
// container is padded to a CAN FD length. It returns the number of
// packed members, zero means nothing has to be sent.
func Pack(container *object.Object, members []*object.Object) int {
	container.ResetData()
	buf := container.Buffer().Payload(container.MaxSize)
	pos, packed := 0, 0
	for _, m := range members {
		if !m.Runtime.NewData {
			continue
		}
		n := m.Size
		if pos+HeaderSize+n > len(buf) {
			continue
		}
		h := HeaderID(m.ID)
		buf[pos] = byte(h >> 16)
		buf[pos+1] = byte(h >> 8)
		buf[pos+2] = byte(h)
		buf[pos+3] = byte(n)
		copy(buf[pos+HeaderSize:], m.Data())
		pos += HeaderSize + n
		m.Runtime.NewData = false
		packed++
	}
	if packed == 0 {
		return 0
	}
	length := PaddedLength(pos)
	if length > len(buf) {
		length = len(buf)
	}
	for i := pos; i < length; i++ {
		if i-pos < zeroPadding {
			buf[i] = 0
		} else {
			buf[i] = padByte
		}
	}
	container.SetSize(length)
	return packed
}

// Unpack scans a received container and copies each contained group into
// the member with the matching header, then calls decode for it. Declared
// lengths exceeding the container are clamped. It returns the number of
// decoded members.
func Unpack(payload []byte, members []*object.Object, decode func(*object.Object)) int {
	pos, decoded := 0, 0
	for pos+HeaderSize <= len(payload) && TOS(payload[pos]) != 0 {
		h := uint32(payload[pos])<<16 | uint32(payload[pos+1])<<8 | uint32(payload[pos+2])
		length := int(payload[pos+3])
		if remaining := len(payload) - pos - HeaderSize; length > remaining {
			length = remaining
		}
		data := payload[pos+HeaderSize : pos+HeaderSize+length]
		for _, m := range members {
			if HeaderID(m.ID)&headerMatchMask != h&headerMatchMask {
				continue
			}
			n := min(length, m.MaxSize)
			m.SetPayload(data[:n])
			m.Runtime.NewData = true
			if decode != nil {
				decode(m)
			}
			decoded++
			break
		}
		pos += HeaderSize + length
	}
	return decoded
}
