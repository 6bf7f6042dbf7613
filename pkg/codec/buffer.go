package codec

// Slack bytes in front of and behind every payload buffer. They allow the
// codec to always load and store whole 64 bit words, even for signals
// located at the very start or end of a frame.
const Slack = 8

// Buffer holds a frame payload surrounded by Slack bytes on both sides.
// Signal writes are OR'ed into the buffer, so it must be reset from a
// zero-seeded template before encoding a frame.
type Buffer []byte

func NewBuffer(capacity int) Buffer {
	return make(Buffer, Slack+capacity+Slack)
}

// Capacity is the maximal payload size of the buffer
func (b Buffer) Capacity() int {
	if len(b) < 2*Slack {
		return 0
	}
	return len(b) - 2*Slack
}

// Payload returns the first size bytes of the payload
func (b Buffer) Payload(size int) []byte {
	if size > b.Capacity() {
		size = b.Capacity()
	}
	return b[Slack : Slack+size]
}

// Reset copies template into the buffer or zeroes it when template is nil.
// Slack bytes are always zeroed.
func (b Buffer) Reset(template Buffer) {
	if template == nil {
		clear(b)
		return
	}
	n := copy(b, template)
	clear(b[n:])
	clear(b[:Slack])
	clear(b[len(b)-Slack:])
}

// CopyFrom fills the payload with data, bytes beyond data are zeroed
func (b Buffer) CopyFrom(data []byte) int {
	payload := b[Slack : len(b)-Slack]
	n := copy(payload, data)
	clear(payload[n:])
	return n
}
