package virtual

import (
	"sync"
	"testing"

	cansim "github.com/openxilenv/cansim"
	"github.com/stretchr/testify/assert"
)

type FrameReceiver struct {
	mu     sync.Mutex
	frames []cansim.Frame
}

func (frameReceiver *FrameReceiver) Handle(frame cansim.Frame) {
	frameReceiver.mu.Lock()
	defer frameReceiver.mu.Unlock()
	frameReceiver.frames = append(frameReceiver.frames, frame)
}

func newVcan(channel string) *Bus {
	canBus, _ := NewVirtualCanBus(channel)
	return canBus.(*Bus)
}

func TestSendAndSubscribe(t *testing.T) {
	vcan1 := newVcan("test-send-subscribe")
	vcan2 := newVcan("test-send-subscribe")
	assert.Nil(t, vcan1.Connect())
	assert.Nil(t, vcan2.Connect())
	defer vcan1.Disconnect()
	defer vcan2.Disconnect()
	frameReceiver := &FrameReceiver{}
	own := &FrameReceiver{}
	vcan2.Subscribe(frameReceiver)
	vcan1.Subscribe(own)
	frame := cansim.Frame{ID: 0x111, DLC: 12, Flags: cansim.FlagFD}
	for i := 0; i < 10; i++ {
		frame.Data[0] = uint8(i)
		assert.Nil(t, vcan1.Send(frame))
	}
	assert.Len(t, frameReceiver.frames, 10)
	for i, f := range frameReceiver.frames {
		assert.EqualValues(t, i, f.Data[0])
		assert.EqualValues(t, 12, f.DLC)
	}
	assert.Len(t, own.frames, 0)
}

func TestReceiveOwnAndRecord(t *testing.T) {
	vcan := newVcan("test-receive-own")
	vcan.SetReceiveOwn(true)
	vcan.RecordSent(true)
	receiver := &FrameReceiver{}
	vcan.Subscribe(receiver)
	assert.NotNil(t, vcan.Send(cansim.NewFrame(0x1, 0, 1)))
	assert.Nil(t, vcan.Connect())
	assert.Nil(t, vcan.Send(cansim.NewFrame(0x1, 0, 1)))
	assert.Len(t, receiver.frames, 1)
	assert.Len(t, vcan.Sent(), 1)
	assert.Len(t, vcan.Sent(), 0)
	vcan.SetStatus(cansim.CanErrorTxBusOff)
	assert.EqualValues(t, cansim.CanErrorTxBusOff, vcan.Status())
}
