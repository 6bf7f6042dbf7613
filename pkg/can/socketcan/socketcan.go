package socketcan

import (
	sockcan "github.com/brutella/can"
	cansim "github.com/openxilenv/cansim"
	can "github.com/openxilenv/cansim/pkg/can"
)

// Basic wrapper for socketcan it uses the implementation
// that can be found here : https://github.com/brutella/can
// Only classic CAN frames are supported.

func init() {
	can.RegisterInterface("socketcan", NewSocketCanBus)
}

// Linux CAN_EFF_FLAG, set inside the identifier for extended frames
const canEffFlag uint32 = 0x80000000

type SocketcanBus struct {
	bus        *sockcan.Bus
	rxCallback cansim.FrameListener
}

// "Connect" implementation of Bus interface
func (socketcan *SocketcanBus) Connect(...any) error {
	go func() {
		err := socketcan.bus.ConnectAndPublish()
		if err != nil {
			return
		}
	}()
	return nil
}

// "Disconnect" implementation of Bus interface
func (socketcan *SocketcanBus) Disconnect() error {
	return socketcan.bus.Disconnect()
}

// "Send" implementation of Bus interface
func (socketcan *SocketcanBus) Send(frame cansim.Frame) error {
	out, err := toBrutella(frame)
	if err != nil {
		return err
	}
	return socketcan.bus.Publish(out)
}

// "Subscribe" implementation of Bus interface
func (socketcan *SocketcanBus) Subscribe(rxCallback cansim.FrameListener) error {
	socketcan.rxCallback = rxCallback
	// brutella/can defines a "Handle" interface for handling received CAN frames
	socketcan.bus.Subscribe(socketcan)
	return nil
}

// brutella/can specific "Handle" implementation
func (socketcan *SocketcanBus) Handle(frame sockcan.Frame) {
	if socketcan.rxCallback == nil {
		return
	}
	socketcan.rxCallback.Handle(fromBrutella(frame))
}

func toBrutella(frame cansim.Frame) (sockcan.Frame, error) {
	if frame.DLC > cansim.MaxClassicLength {
		return sockcan.Frame{}, cansim.ErrFrameTooLong
	}
	out := sockcan.Frame{ID: frame.ID, Length: frame.DLC}
	if frame.Extended() {
		out.ID = (frame.ID & cansim.CanEffMask) | canEffFlag
	}
	copy(out.Data[:], frame.Data[:cansim.MaxClassicLength])
	return out, nil
}

func fromBrutella(frame sockcan.Frame) cansim.Frame {
	out := cansim.Frame{ID: frame.ID & cansim.CanEffMask, DLC: frame.Length}
	if frame.ID&canEffFlag != 0 {
		out.Flags |= cansim.FlagExtended
	} else {
		out.ID &= cansim.CanSffMask
	}
	copy(out.Data[:], frame.Data[:])
	return out
}

func NewSocketCanBus(name string) (cansim.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	return &SocketcanBus{bus: bus}, err
}
