package network

import (
	"errors"
	"sync"
	"testing"

	cansim "github.com/openxilenv/cansim"
	"github.com/openxilenv/cansim/pkg/blackboard"
	"github.com/openxilenv/cansim/pkg/can/virtual"
	"github.com/openxilenv/cansim/pkg/fault"
	"github.com/openxilenv/cansim/pkg/j1939"
	"github.com/openxilenv/cansim/pkg/object"
	"github.com/stretchr/testify/assert"
)

type collector struct {
	frames []cansim.Frame
}

func (c *collector) Handle(frame cansim.Frame) {
	c.frames = append(c.frames, frame)
}

func (c *collector) take() []cansim.Frame {
	frames := c.frames
	c.frames = nil
	return frames
}

func newPeer(t *testing.T, device string) (cansim.Bus, *collector) {
	t.Helper()
	bus, err := virtual.NewVirtualCanBus(device)
	assert.Nil(t, err)
	c := &collector{}
	assert.Nil(t, bus.Connect())
	assert.Nil(t, bus.Subscribe(c))
	t.Cleanup(func() { _ = bus.Disconnect() })
	return bus, c
}

type testNetwork struct {
	*Network
	bb    *blackboard.Memory
	buses map[string]*virtual.Bus
}

func newTestNetwork(t *testing.T, bb *blackboard.Memory, config Config, specs ...object.ChannelSpec) *testNetwork {
	t.Helper()
	if bb == nil {
		bb = blackboard.NewMemory()
	}
	tn := &testNetwork{bb: bb, buses: map[string]*virtual.Bus{}}
	config.Blackboard = tn.bb
	config.NewBus = func(canInterface string, device string) (cansim.Bus, error) {
		if canInterface != "virtual" {
			return nil, cansim.ErrUnsupportedIface
		}
		bus, err := virtual.NewVirtualCanBus(device)
		if err != nil {
			return nil, err
		}
		tn.buses[device] = bus.(*virtual.Bus)
		return bus, nil
	}
	tn.Network = New(LoaderFunc(func() (*object.Database, error) {
		return object.Build(specs, nil)
	}), config)
	t.Cleanup(tn.Terminate)
	return tn
}

func (tn *testNetwork) start(t *testing.T) {
	t.Helper()
	assert.Nil(t, tn.Init())
	for i := 0; i < 3; i++ {
		assert.Nil(t, tn.Step())
	}
	assert.Equal(t, StateCyclic, tn.State())
}

func frameOf(id uint32, data ...byte) cansim.Frame {
	frame := cansim.NewFrame(id, 0, uint8(len(data)))
	copy(frame.Data[:], data)
	return frame
}

func TestLifecycle(t *testing.T) {
	tn := newTestNetwork(t, nil, Config{}, object.ChannelSpec{Name: "a", Interface: "virtual", Device: "net-lifecycle"})
	assert.Equal(t, StateNotInit, tn.State())
	assert.ErrorIs(t, tn.Stop(), cansim.ErrInvalidState)
	assert.Nil(t, tn.Init())
	assert.ErrorIs(t, tn.Init(), cansim.ErrInvalidState)
	assert.Equal(t, StateReadInit, tn.State())
	assert.Nil(t, tn.Step())
	assert.Equal(t, StateSelectCard, tn.State())
	assert.NotNil(t, tn.Database())
	assert.Nil(t, tn.Step())
	assert.Equal(t, StateOpen, tn.State())
	assert.Nil(t, tn.Step())
	assert.Equal(t, StateCyclic, tn.State())
	assert.Nil(t, tn.Step())
	assert.EqualValues(t, 1, tn.Cycles())

	assert.Nil(t, tn.Stop())
	assert.Equal(t, StateStop, tn.State())
	assert.Nil(t, tn.Step())
	assert.EqualValues(t, 1, tn.Cycles())
	assert.ErrorIs(t, tn.SendExternal(0, 1, false, 0, nil), cansim.ErrInvalidState)
	assert.Nil(t, tn.Start())
	assert.ErrorIs(t, tn.Start(), cansim.ErrInvalidState)

	tn.Terminate()
	assert.Equal(t, StateNotInit, tn.State())
	assert.Nil(t, tn.Database())
	assert.Equal(t, "CYCLIC", StateCyclic.String())
}

func TestLoaderError(t *testing.T) {
	failure := errors.New("broken description")
	n := New(LoaderFunc(func() (*object.Database, error) { return nil, failure }), Config{Blackboard: blackboard.NewMemory()})
	assert.Nil(t, n.Init())
	assert.ErrorIs(t, n.Step(), failure)
	assert.Equal(t, StateNotInit, n.State())
}

func TestReceiveBeforeTransmit(t *testing.T) {
	bb := blackboard.NewMemory()
	x, err := bb.Attach("x", blackboard.UNSIGNED8)
	assert.Nil(t, err)
	tn := newTestNetwork(t, bb, Config{}, object.ChannelSpec{Name: "a", Interface: "virtual", Device: "net-order", TxEnabled: true,
		Objects: []object.ObjectSpec{
			{Name: "in", ID: 0x200, Size: 1, Signals: []object.Signal{{Name: "x", Variable: x, BitSize: 8}}},
			{Name: "out", ID: 0x100, Size: 1, Direction: object.DirTxFixed, Trigger: object.Trigger{Period: 1},
				Signals: []object.Signal{{Name: "x", Variable: x, BitSize: 8}}},
		}})
	peer, rx := newPeer(t, "net-order")
	tn.start(t)

	assert.Nil(t, peer.Send(frameOf(0x200, 0x42)))
	assert.Nil(t, tn.Step())
	frames := rx.take()
	assert.Len(t, frames, 1)
	assert.EqualValues(t, 0x100, frames[0].ID)
	assert.Equal(t, []byte{0x42}, frames[0].Payload())
	assert.Equal(t, uint64(0x42), bb.Read(x).Uint64())

	// Unknown frames are ignored
	assert.Nil(t, peer.Send(frameOf(0x7FF, 1)))
	assert.Nil(t, tn.Step())
	assert.Len(t, rx.take(), 1)
}

func TestMissingBusDisablesChannel(t *testing.T) {
	tn := newTestNetwork(t, nil, Config{},
		object.ChannelSpec{Name: "gone", Interface: "pcan", Device: "usb0", TxEnabled: true,
			Objects: []object.ObjectSpec{{Name: "o", ID: 1, Size: 1, Direction: object.DirTxFixed}}},
		object.ChannelSpec{Name: "ok", Interface: "virtual", Device: "net-missing", TxEnabled: true,
			Objects: []object.ObjectSpec{{Name: "o", ID: 2, Size: 1, Direction: object.DirTxFixed}}},
	)
	_, rx := newPeer(t, "net-missing")
	tn.start(t)
	assert.True(t, tn.Database().Channels[0].Disabled)
	assert.Nil(t, tn.Step())
	frames := rx.take()
	assert.Len(t, frames, 1)
	assert.EqualValues(t, 2, frames[0].ID)
	assert.ErrorIs(t, tn.SendExternal(0, 1, false, 0, nil), cansim.ErrChannelDisabled)
	assert.ErrorIs(t, tn.SendExternal(5, 1, false, 0, nil), cansim.ErrUnknownChannel)
}

func TestBusOffBackoff(t *testing.T) {
	tn := newTestNetwork(t, nil, Config{}, object.ChannelSpec{Name: "a", Interface: "virtual", Device: "net-busoff", TxEnabled: true,
		Objects: []object.ObjectSpec{{Name: "o", ID: 1, Size: 1, Direction: object.DirTxFixed, Trigger: object.Trigger{Period: 1}}}})
	_, rx := newPeer(t, "net-busoff")
	tn.start(t)
	assert.Nil(t, tn.Step())
	assert.Len(t, rx.take(), 1)

	bus := tn.buses["net-busoff"]
	bus.SetStatus(cansim.CanErrorTxBusOff)
	assert.Nil(t, tn.Step())
	assert.Empty(t, rx.take())
	bus.SetStatus(0)

	for cycle := 1; cycle < BusOffBackoff; cycle++ {
		assert.Nil(t, tn.Step())
		assert.ErrorIs(t, tn.SendExternal(0, 5, false, 1, []byte{1}), cansim.ErrChannelDisabled, "cycle %v", cycle)
	}
	assert.Empty(t, rx.take())
	// Reopened in the last backoff cycle
	assert.Nil(t, tn.Step())
	assert.Nil(t, tn.SendExternal(0, 5, false, 1, []byte{1}))
	assert.Len(t, rx.take(), 1)
	assert.Nil(t, tn.Step())
	assert.Len(t, rx.take(), 1)
}

func TestSendExternal(t *testing.T) {
	tn := newTestNetwork(t, nil, Config{}, object.ChannelSpec{Name: "a", Interface: "virtual", Device: "net-external", FD: true})
	_, rx := newPeer(t, "net-external")
	tn.start(t)

	data := make([]byte, 12)
	data[11] = 0xEE
	assert.Nil(t, tn.SendExternal(0, 0x18FF0001, true, 12, data))
	frames := rx.take()
	assert.Len(t, frames, 1)
	assert.True(t, frames[0].Extended())
	assert.True(t, frames[0].FD())
	assert.Equal(t, data, frames[0].Payload())

	assert.ErrorIs(t, tn.SendExternal(0, 1, false, 3, []byte{1}), cansim.ErrIllegalArgument)

	assert.Nil(t, tn.Faults().Activate(fault.Descriptor{Channel: 0, ID: 0x300, Command: fault.CmdSuspendTransmission}))
	assert.ErrorIs(t, tn.SendExternal(0, 0x300, false, 1, []byte{1}), cansim.ErrTxSuppressed)
	assert.Nil(t, tn.SendExternal(0, 0x301, false, 1, []byte{1}))
	assert.Len(t, rx.take(), 1)
	// Suspension lasts one cycle
	assert.Nil(t, tn.Step())
	assert.Nil(t, tn.SendExternal(0, 0x300, false, 1, []byte{1}))
	assert.Len(t, rx.take(), 1)
}

func TestFaultOnScheduledObject(t *testing.T) {
	tn := newTestNetwork(t, nil, Config{}, object.ChannelSpec{Name: "a", Interface: "virtual", Device: "net-fault", TxEnabled: true,
		Objects: []object.ObjectSpec{{Name: "o", ID: 0x10, Size: 4, Direction: object.DirTxFixed, Trigger: object.Trigger{Period: 1},
			Init: []byte{1, 2, 3, 4}}}})
	_, rx := newPeer(t, "net-fault")
	tn.start(t)
	assert.Nil(t, tn.Faults().Activate(fault.Descriptor{ID: 0x10, Command: fault.CmdSuspendTransmission}))
	// Replaced by the overwrite
	assert.Nil(t, tn.Faults().Activate(fault.Descriptor{ID: 0x10, Command: fault.CmdOverwriteDataBytes,
		AndMask: []byte{0, 0xFF}, OrMask: []byte{0xA0}, Counter: 2}))
	for i := 0; i < 3; i++ {
		assert.Nil(t, tn.Step())
	}
	frames := rx.take()
	assert.Len(t, frames, 3)
	assert.Equal(t, []byte{0xA0, 2, 3, 4}, frames[0].Payload())
	assert.Equal(t, []byte{0xA0, 2, 3, 4}, frames[1].Payload())
	assert.Equal(t, []byte{1, 2, 3, 4}, frames[2].Payload())
	assert.EqualValues(t, 3, tn.Database().Channels[0].Objects[0].Runtime.Sent)

	assert.Nil(t, tn.Faults().Activate(fault.Descriptor{ID: 0x10, Command: fault.CmdSuspendTransmission}))
	assert.Nil(t, tn.Step())
	assert.Empty(t, rx.take())
	assert.Nil(t, tn.Step())
	assert.Len(t, rx.take(), 1)
}

func TestChangeDataLengthOnClassicChannel(t *testing.T) {
	tn := newTestNetwork(t, nil, Config{}, object.ChannelSpec{Name: "a", Interface: "virtual", Device: "net-length", TxEnabled: true,
		Objects: []object.ObjectSpec{{Name: "o", ID: 0x10, Size: 4, Direction: object.DirTxFixed, Trigger: object.Trigger{Period: 1},
			Init: []byte{1, 2, 3, 4}}}})
	_, rx := newPeer(t, "net-length")
	tn.start(t)
	obj := tn.Database().Channels[0].Objects[0]

	assert.Nil(t, tn.Faults().Activate(fault.Descriptor{ID: 0x10, Command: fault.CmdChangeDataLength, Size: 10}))
	for i := 0; i < 2; i++ {
		assert.Nil(t, tn.Step())
	}
	frames := rx.take()
	assert.Len(t, frames, 2)
	for _, frame := range frames {
		assert.EqualValues(t, 8, frame.DLC)
		assert.False(t, frame.FD())
	}
	assert.Equal(t, 8, obj.Size)
	assert.Equal(t, 8, obj.MaxSize)

	// Reset is effective for the next frame
	tn.Faults().Reset()
	assert.Nil(t, tn.Step())
	frames = rx.take()
	assert.Len(t, frames, 1)
	assert.Equal(t, []byte{1, 2, 3, 4}, frames[0].Payload())
	assert.Equal(t, 4, obj.Size)

	// Frames from outside keep to the channel capability too
	assert.ErrorIs(t, tn.SendExternal(0, 0x20, false, 12, make([]byte, 12)), cansim.ErrIllegalArgument)
	assert.Nil(t, tn.Faults().Activate(fault.Descriptor{ID: 0x20, Command: fault.CmdChangeDataLength, Size: 10}))
	assert.Nil(t, tn.SendExternal(0, 0x20, false, 2, []byte{1, 2}))
	frames = rx.take()
	assert.Len(t, frames, 1)
	assert.EqualValues(t, 8, frames[0].DLC)
	assert.False(t, frames[0].FD())
}

func TestChangeDataLengthOnFDChannel(t *testing.T) {
	tn := newTestNetwork(t, nil, Config{}, object.ChannelSpec{Name: "a", Interface: "virtual", Device: "net-length-fd", FD: true, TxEnabled: true,
		Objects: []object.ObjectSpec{{Name: "o", ID: 0x10, Size: 8, FD: true, Direction: object.DirTxFixed, Trigger: object.Trigger{Period: 1}}}})
	_, rx := newPeer(t, "net-length-fd")
	tn.start(t)

	assert.Nil(t, tn.Faults().Activate(fault.Descriptor{ID: 0x10, Command: fault.CmdChangeDataLength, Size: 10, Counter: 1}))
	assert.Nil(t, tn.Step())
	assert.Nil(t, tn.Step())
	frames := rx.take()
	assert.Len(t, frames, 2)
	assert.EqualValues(t, 12, frames[0].DLC)
	assert.True(t, frames[0].FD())
	assert.EqualValues(t, 8, frames[1].DLC)
}

func TestFaultControlWhileCycling(t *testing.T) {
	tn := newTestNetwork(t, nil, Config{}, object.ChannelSpec{Name: "a", Interface: "virtual", Device: "net-control", TxEnabled: true,
		Objects: []object.ObjectSpec{{Name: "o", ID: 0x10, Size: 4, Direction: object.DirTxFixed, Trigger: object.Trigger{Period: 1}}}})
	tn.start(t)
	faults := tn.Faults()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = faults.Activate(fault.Descriptor{ID: 0x10, Command: fault.CmdChangeDataLength, Size: 2, Counter: 50})
			faults.Reset()
		}
	}()
	for i := 0; i < 200; i++ {
		assert.Nil(t, tn.Step())
	}
	wg.Wait()
	faults.Reset()
	assert.Nil(t, tn.Step())
	assert.Equal(t, 4, tn.Database().Channels[0].Objects[0].Size)
}

func TestJ1939Routing(t *testing.T) {
	var routed []cansim.Frame
	transport := j1939.TransportFunc(func(channel int, obj *object.Object, frame cansim.Frame) error {
		routed = append(routed, frame)
		return nil
	})
	tn := newTestNetwork(t, nil, Config{Transport: transport}, object.ChannelSpec{Name: "a", Interface: "virtual", Device: "net-j1939", FD: true, TxEnabled: true,
		Objects: []object.ObjectSpec{
			{Name: "pg", ID: 0x18FEF100, Extended: true, Size: 8, Type: object.TypeJ1939, Direction: object.DirTxFixed, Trigger: object.Trigger{Period: 1}},
			{Name: "mc", ID: 0x18FF0000, Extended: true, Size: 64, Type: object.TypeJ1939MultiCPG, Direction: object.DirTxFixed, Trigger: object.Trigger{Period: 1}},
			{Name: "cpg", ID: 0x18FF1100, Extended: true, Size: 2, Type: object.TypeJ1939CPG, Container: "mc", Direction: object.DirTxFixed,
				Trigger: object.Trigger{Period: 1}, Init: []byte{7, 8}},
		}})
	_, rx := newPeer(t, "net-j1939")
	tn.start(t)
	assert.Nil(t, tn.Step())
	assert.Len(t, routed, 1)
	assert.EqualValues(t, 0x18FEF100, routed[0].ID)
	// The container packs its member in the same cycle
	frames := rx.take()
	assert.Len(t, frames, 1)
	assert.EqualValues(t, 0x18FF0000, frames[0].ID)
	assert.Equal(t, []byte{0x40, 0xFF, 0x11, 2, 7, 8, 0, 0}, frames[0].Payload())
}

func TestReceiveContainer(t *testing.T) {
	bb := blackboard.NewMemory()
	a, err := bb.Attach("a", blackboard.UNSIGNED8)
	assert.Nil(t, err)
	b, err := bb.Attach("b", blackboard.UNSIGNED8)
	assert.Nil(t, err)
	pgn, err := bb.Attach("pgn", blackboard.UNSIGNED8)
	assert.Nil(t, err)
	tn := newTestNetwork(t, bb, Config{}, object.ChannelSpec{Name: "a", Interface: "virtual", Device: "net-container", FD: true,
		Objects: []object.ObjectSpec{
			{Name: "mc", ID: 0x18FF0000, Extended: true, Size: 64, Type: object.TypeJ1939MultiCPG},
			{Name: "cpg1", ID: 0x18FF1100, Extended: true, Size: 1, Type: object.TypeJ1939CPG, Container: "mc",
				Signals: []object.Signal{{Name: "a", Variable: a, BitSize: 8}}},
			{Name: "cpg2", ID: 0x18FF2200, Extended: true, Size: 1, Type: object.TypeJ1939CPG, Container: "mc",
				Signals: []object.Signal{{Name: "b", Variable: b, BitSize: 8}}},
			{Name: "pg", ID: 0x18FEF100, Extended: true, Size: 1, Type: object.TypeJ1939,
				Signals: []object.Signal{{Name: "pgn", Variable: pgn, BitSize: 8}}},
		}})
	peer, _ := newPeer(t, "net-container")
	tn.start(t)

	container := frameOf(0x18FF00AA, 0x40, 0xFF, 0x22, 1, 0x22, 0x40, 0xFF, 0x11, 1, 0x11, 0, 0)
	container.Flags = cansim.FlagExtended | cansim.FlagFD
	assert.Nil(t, peer.Send(container))
	pg := frameOf(0x0CFEF1AA, 0x33)
	pg.Flags = cansim.FlagExtended
	assert.Nil(t, peer.Send(pg))
	assert.Nil(t, tn.Step())
	assert.EqualValues(t, 0x11, bb.Read(a).Uint64())
	assert.EqualValues(t, 0x22, bb.Read(b).Uint64())
	assert.EqualValues(t, 0x33, bb.Read(pgn).Uint64())
	assert.EqualValues(t, 0x0CFEF1AA, tn.Database().Channels[0].FindByName("pg").ID)
}
