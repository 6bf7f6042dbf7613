// Package cansim holds the types shared by every part of the CAN simulation core:
// frames, the bus abstraction, numeric values and errors.
package cansim

const (
	MaxFrameLength   = 64
	MaxClassicLength = 8
	CanSffMask       = uint32(0x000007FF)
	CanEffMask       = uint32(0x1FFFFFFF)
)

// Frame flags
const (
	FlagExtended uint8 = 1 << iota
	FlagFD
	FlagBRS
	FlagRTR
)

// CAN bus status bits
const (
	CanErrorTxWarning  = 0x0001 // CAN transmitter warning
	CanErrorTxPassive  = 0x0002 // CAN transmitter passive
	CanErrorTxBusOff   = 0x0004 // CAN transmitter bus off
	CanErrorTxOverflow = 0x0008 // CAN transmitter overflow
	CanErrorRxWarning  = 0x0100 // CAN receiver warning
	CanErrorRxPassive  = 0x0200 // CAN receiver passive
	CanErrorRxOverflow = 0x0800 // CAN receiver overflow
)

var fdLengths = [16]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// A CAN or CAN-FD frame. DLC holds the payload length in bytes.
type Frame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  [MaxFrameLength]byte
}

func NewFrame(id uint32, flags uint8, dlc uint8) Frame {
	return Frame{ID: id, Flags: flags, DLC: dlc}
}

func (f *Frame) Extended() bool { return f.Flags&FlagExtended != 0 }
func (f *Frame) FD() bool       { return f.Flags&FlagFD != 0 }

// Payload returns the valid part of the frame data
func (f *Frame) Payload() []byte {
	n := int(f.DLC)
	if n > MaxFrameLength {
		n = MaxFrameLength
	}
	return f.Data[:n]
}

// DLCToLen converts a 4 bit data length code into a payload length.
func DLCToLen(dlc uint8) int {
	return int(fdLengths[dlc&0x0F])
}

// LenToDLC returns the smallest data length code able to carry length bytes.
func LenToDLC(length int) uint8 {
	for dlc, l := range fdLengths {
		if int(l) >= length {
			return uint8(dlc)
		}
	}
	return 15
}

// RoundUpFDLength rounds a payload length up to the next valid CAN-FD length.
func RoundUpFDLength(length int) int {
	return DLCToLen(LenToDLC(length))
}

// Interface for handling a received CAN frame
type FrameListener interface {
	Handle(frame Frame)
}

// A CAN Bus interface
type Bus interface {
	Connect(...any) error                   // Connect to the CAN bus
	Disconnect() error                      // Disconnect from CAN bus
	Send(frame Frame) error                 // Send a frame on the bus
	Subscribe(callback FrameListener) error // Subscribe to all received CAN frames
}

// StatusReporter is implemented by buses that can report controller errors.
// The returned value is a combination of CanError* bits.
type StatusReporter interface {
	Status() uint16
}
