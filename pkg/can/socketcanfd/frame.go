package socketcanfd

import (
	"encoding/binary"

	cansim "github.com/openxilenv/cansim"
)

// Layouts of struct can_frame and struct canfd_frame, see linux/can.h
const (
	classicFrameSize = 16
	fdFrameSize      = 72
)

const (
	canEFFFlag = 0x80000000
	canRTRFlag = 0x40000000
	canERRFlag = 0x20000000

	canFDBRS = 0x01
	canFDFDF = 0x04
)

// Error frame classes and controller states, see linux/can/error.h
const (
	canErrCrtl      = 0x00000004
	canErrBusOff    = 0x00000040
	canErrRestarted = 0x00000100

	canErrCrtlRxOverflow = 0x01
	canErrCrtlTxOverflow = 0x02
	canErrCrtlRxWarning  = 0x04
	canErrCrtlTxWarning  = 0x08
	canErrCrtlRxPassive  = 0x10
	canErrCrtlTxPassive  = 0x20
	canErrCrtlActive     = 0x40
)

// Error classes reported to the bus
const errorMask = canErrCrtl | canErrBusOff | canErrRestarted

// marshal encodes a frame as can_frame, or canfd_frame when it is a
// CAN FD frame
func marshal(frame cansim.Frame) []byte {
	n := int(frame.DLC)
	if n > cansim.MaxFrameLength {
		n = cansim.MaxFrameLength
	}
	id := frame.ID & cansim.CanSffMask
	if frame.Extended() {
		id = frame.ID&cansim.CanEffMask | canEFFFlag
	}
	if frame.Flags&cansim.FlagRTR != 0 {
		id |= canRTRFlag
	}
	fd := frame.FD() || n > cansim.MaxClassicLength
	size := classicFrameSize
	if fd {
		size = fdFrameSize
	}
	raw := make([]byte, size)
	binary.NativeEndian.PutUint32(raw[0:4], id)
	raw[4] = uint8(n)
	if fd {
		raw[5] = canFDFDF
		if frame.Flags&cansim.FlagBRS != 0 {
			raw[5] |= canFDBRS
		}
	}
	copy(raw[8:], frame.Data[:n])
	return raw
}

// unmarshal decodes a received can_frame or canfd_frame, the size of
// raw tells them apart. isError is set for error frames.
func unmarshal(raw []byte) (frame cansim.Frame, isError bool, ok bool) {
	if len(raw) != classicFrameSize && len(raw) != fdFrameSize {
		return frame, false, false
	}
	id := binary.NativeEndian.Uint32(raw[0:4])
	n := int(raw[4])
	limit := cansim.MaxClassicLength
	if len(raw) == fdFrameSize {
		limit = cansim.MaxFrameLength
		frame.Flags |= cansim.FlagFD
		if raw[5]&canFDBRS != 0 {
			frame.Flags |= cansim.FlagBRS
		}
	}
	if n > limit {
		n = limit
	}
	if id&canEFFFlag != 0 {
		frame.Flags |= cansim.FlagExtended
		frame.ID = id & cansim.CanEffMask
	} else {
		frame.ID = id & cansim.CanSffMask
	}
	if id&canRTRFlag != 0 {
		frame.Flags |= cansim.FlagRTR
	}
	frame.DLC = uint8(n)
	copy(frame.Data[:], raw[8:8+n])
	return frame, id&canERRFlag != 0, true
}

// updateStatus folds an error frame into the controller status bits
func updateStatus(status uint16, frame cansim.Frame) uint16 {
	class := frame.ID
	if class&canErrRestarted != 0 {
		status = 0
	}
	if class&canErrBusOff != 0 {
		status |= cansim.CanErrorTxBusOff
	}
	if class&canErrCrtl != 0 {
		ctrl := frame.Data[1]
		if ctrl&canErrCrtlActive != 0 {
			status &^= cansim.CanErrorTxWarning | cansim.CanErrorTxPassive | cansim.CanErrorRxWarning | cansim.CanErrorRxPassive
		}
		for bit, flag := range map[uint8]uint16{
			canErrCrtlRxOverflow: cansim.CanErrorRxOverflow,
			canErrCrtlTxOverflow: cansim.CanErrorTxOverflow,
			canErrCrtlRxWarning:  cansim.CanErrorRxWarning,
			canErrCrtlTxWarning:  cansim.CanErrorTxWarning,
			canErrCrtlRxPassive:  cansim.CanErrorRxPassive,
			canErrCrtlTxPassive:  cansim.CanErrorTxPassive,
		} {
			if ctrl&bit != 0 {
				status |= flag
			}
		}
	}
	return status
}
