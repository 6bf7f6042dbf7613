package cansim

import (
	"sync"

	"github.com/openxilenv/cansim/internal/fifo"
	log "github.com/sirupsen/logrus"
)

const DefaultRxQueueSize = 1024

// Bus manager is a wrapper around the CAN bus interface.
// It provides the transport function set of one simulated channel:
// open/close/status, writes and a receive queue drained once per cycle.
type BusManager struct {
	mu       sync.Mutex
	bus      Bus
	channel  int
	rxQueue  *fifo.Fifo[Frame]
	isOpen   bool
	canError uint16
	logger   log.FieldLogger
}

func NewBusManager(bus Bus, channel int, logger log.FieldLogger) *BusManager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &BusManager{
		bus:     bus,
		channel: channel,
		rxQueue: fifo.NewFifo[Frame](DefaultRxQueueSize),
		logger:  logger.WithField("channel", channel),
	}
}

// Implements the FrameListener interface.
// Received frames are queued until the next cycle reads them.
func (bm *BusManager) Handle(frame Frame) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	if !bm.rxQueue.Push(frame) {
		bm.canError |= CanErrorRxOverflow
	}
}

func (bm *BusManager) Bus() Bus {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bus
}

func (bm *BusManager) Channel() int {
	return bm.channel
}

// Open connects to the bus and subscribes to received frames
func (bm *BusManager) Open() error {
	bm.mu.Lock()
	bus := bm.bus
	bm.mu.Unlock()
	if bus == nil {
		return ErrTxUnconfigured
	}
	if err := bus.Connect(); err != nil {
		return err
	}
	if err := bus.Subscribe(bm); err != nil {
		_ = bus.Disconnect()
		return err
	}
	bm.mu.Lock()
	bm.isOpen = true
	bm.canError = 0
	bm.rxQueue.Reset()
	bm.mu.Unlock()
	return nil
}

func (bm *BusManager) Close() error {
	bm.mu.Lock()
	bus := bm.bus
	wasOpen := bm.isOpen
	bm.isOpen = false
	bm.mu.Unlock()
	if bus == nil || !wasOpen {
		return nil
	}
	return bus.Disconnect()
}

func (bm *BusManager) IsOpen() bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.isOpen
}

// Status returns the CAN error bits, including the ones reported by the driver
func (bm *BusManager) Status() uint16 {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	status := bm.canError
	if reporter, ok := bm.bus.(StatusReporter); ok && bm.isOpen {
		status |= reporter.Status()
	}
	return status
}

// Write sends a CAN message
// Limited error handling
func (bm *BusManager) Write(frame Frame) error {
	bm.mu.Lock()
	bus := bm.bus
	open := bm.isOpen
	bm.mu.Unlock()
	if !open {
		return ErrChannelDisabled
	}
	err := bus.Send(frame)
	if err != nil {
		bm.logger.Debugf("[CAN] send %x failed : %v", frame.ID, err)
		bm.mu.Lock()
		bm.canError |= CanErrorTxOverflow
		bm.mu.Unlock()
	}
	return err
}

// QueueWrite builds a frame from raw parts and writes it
func (bm *BusManager) QueueWrite(id uint32, data []byte, ext bool, size int) error {
	if size > MaxFrameLength || size < 0 {
		return ErrIllegalArgument
	}
	frame := NewFrame(id, 0, uint8(size))
	if ext {
		frame.Flags |= FlagExtended
	}
	if size > MaxClassicLength {
		frame.Flags |= FlagFD
	}
	copy(frame.Data[:size], data)
	return bm.Write(frame)
}

// QueueRead pops the oldest received frame
func (bm *BusManager) QueueRead() (Frame, bool) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.rxQueue.Pop()
}
