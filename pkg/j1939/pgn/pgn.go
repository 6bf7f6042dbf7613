// Package pgn decomposes 29 bit J1939 identifiers into their parameter
// group number and addresses.
package pgn

const (
	GlobalAddress = 0xFF
	pdu2Threshold = 240
)

// Header fields of a 29 bit J1939 identifier
type Header struct {
	PGN         uint32
	Priority    uint8
	Source      uint8
	Destination uint8
}

// ParseID decomposes an extended identifier. PDU1 groups carry their
// destination in the PS field, PDU2 groups are broadcast.
func ParseID(id uint32) Header {
	h := Header{
		Priority: uint8((id >> 26) & 0x7),
		Source:   uint8(id),
	}
	pf := uint8(id >> 16)
	ps := uint8(id >> 8)
	pgn := (id>>24)&0x3<<16 | uint32(pf)<<8
	if pf < pdu2Threshold {
		h.Destination = ps
		h.PGN = pgn
	} else {
		h.Destination = GlobalAddress
		h.PGN = pgn | uint32(ps)
	}
	return h
}

func IsPDU1(id uint32) bool { return uint8(id>>16) < pdu2Threshold }

// WithDestination replaces the destination of a PDU1 identifier,
// PDU2 identifiers are returned unchanged.
func WithDestination(id uint32, da uint8) uint32 {
	if !IsPDU1(id) {
		return id
	}
	return id&^0xFF00 | uint32(da)<<8
}
