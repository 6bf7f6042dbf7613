package virtual

import (
	"errors"
	"sync"

	cansim "github.com/openxilenv/cansim"
	can "github.com/openxilenv/cansim/pkg/can"
)

// Virtual CAN bus implementation, all buses created with the same channel
// name share one in-process hub and see each other's frames.
// CAN-FD frames are supported. Primarily used for testing.

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
	can.RegisterInterface("virtualcan", NewVirtualCanBus)
}

var (
	hubsMu sync.Mutex
	hubs   = make(map[string]*hub)
)

type hub struct {
	mu      sync.Mutex
	members []*Bus
}

func getHub(channel string) *hub {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	h, ok := hubs[channel]
	if !ok {
		h = &hub{}
		hubs[channel] = h
	}
	return h
}

func (h *hub) attach(b *Bus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.members {
		if m == b {
			return
		}
	}
	h.members = append(h.members, b)
}

func (h *hub) detach(b *Bus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, m := range h.members {
		if m == b {
			h.members = append(h.members[:i], h.members[i+1:]...)
			return
		}
	}
}

func (h *hub) broadcast(from *Bus, frame cansim.Frame) {
	h.mu.Lock()
	members := append([]*Bus(nil), h.members...)
	h.mu.Unlock()
	for _, m := range members {
		if m == from && !m.receiveOwn {
			continue
		}
		m.deliver(frame)
	}
}

type Bus struct {
	mu           sync.Mutex
	channel      string
	hub          *hub
	receiveOwn   bool
	framehandler cansim.FrameListener
	connected    bool
	status       uint16
	sent         []cansim.Frame
	recordSent   bool
}

func NewVirtualCanBus(channel string) (cansim.Bus, error) {
	return &Bus{channel: channel, hub: getHub(channel)}, nil
}

// "Connect" to the hub of the channel
func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.hub.attach(b)
	return nil
}

// "Disconnect" from the hub
func (b *Bus) Disconnect() error {
	b.hub.detach(b)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame cansim.Frame) error {
	b.mu.Lock()
	connected := b.connected
	if connected && b.recordSent {
		b.sent = append(b.sent, frame)
	}
	b.mu.Unlock()
	if !connected {
		return errors.New("error : no active connection, abort send")
	}
	b.hub.broadcast(b, frame)
	return nil
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(framehandler cansim.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	return nil
}

func (b *Bus) deliver(frame cansim.Frame) {
	b.mu.Lock()
	handler := b.framehandler
	b.mu.Unlock()
	if handler != nil {
		handler.Handle(frame)
	}
}

// Status implements cansim.StatusReporter, the value is set with SetStatus
func (b *Bus) Status() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// SetStatus simulates controller errors, e.g. cansim.CanErrorTxBusOff
func (b *Bus) SetStatus(status uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
}

func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}

// RecordSent keeps a copy of every sent frame, see Sent
func (b *Bus) RecordSent(record bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordSent = record
}

// Sent returns and clears the recorded frames
func (b *Bus) Sent() []cansim.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	sent := b.sent
	b.sent = nil
	return sent
}
