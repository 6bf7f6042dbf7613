package einride

import (
	"context"
	"net"
	"sync"

	cansim "github.com/openxilenv/cansim"
	can "github.com/openxilenv/cansim/pkg/can"
	log "github.com/sirupsen/logrus"
	ecan "go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// Socketcan bus based on go.einride.tech/can.
// Only classic CAN frames are supported.

func init() {
	can.RegisterInterface("einride", NewEinrideBus)
}

type Bus struct {
	mu        sync.Mutex
	iface     string
	conn      net.Conn
	rxConn    net.Conn
	tx        *socketcan.Transmitter
	handler   cansim.FrameListener
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	txErrors  uint32
	lastError uint16
}

func NewEinrideBus(iface string) (cansim.Bus, error) {
	return &Bus{iface: iface}, nil
}

func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	conn, err := socketcan.DialContext(ctx, "can", b.iface)
	if err != nil {
		cancel()
		return err
	}
	b.conn = conn
	b.tx = socketcan.NewTransmitter(conn)
	b.cancel = cancel
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	conn, rxConn := b.conn, b.rxConn
	b.conn, b.rxConn, b.tx = nil, nil, nil
	b.mu.Unlock()
	if rxConn != nil {
		_ = rxConn.Close()
	}
	b.wg.Wait()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (b *Bus) Send(frame cansim.Frame) error {
	b.mu.Lock()
	tx := b.tx
	b.mu.Unlock()
	if tx == nil {
		return cansim.ErrChannelDisabled
	}
	out, err := toEinride(frame)
	if err != nil {
		return err
	}
	err = tx.TransmitFrame(context.Background(), out)
	if err != nil {
		b.mu.Lock()
		b.txErrors++
		b.lastError |= cansim.CanErrorTxOverflow
		b.mu.Unlock()
	}
	return err
}

// Subscribe opens a dedicated receive socket and forwards every frame
func (b *Bus) Subscribe(handler cansim.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	if b.rxConn != nil {
		return nil
	}
	conn, err := socketcan.Dial("can", b.iface)
	if err != nil {
		return err
	}
	b.rxConn = conn
	b.wg.Add(1)
	go b.receive(socketcan.NewReceiver(conn))
	return nil
}

func (b *Bus) receive(recv *socketcan.Receiver) {
	defer b.wg.Done()
	for recv.Receive() {
		if recv.HasErrorFrame() {
			continue
		}
		b.mu.Lock()
		handler := b.handler
		b.mu.Unlock()
		if handler != nil {
			handler.Handle(fromEinride(recv.Frame()))
		}
	}
	if err := recv.Err(); err != nil {
		log.Debugf("[EINRIDE] receiver on %v stopped : %v", b.iface, err)
	}
}

// Status reports accumulated transmit errors since the last call
func (b *Bus) Status() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := b.lastError
	b.lastError = 0
	return status
}

func toEinride(frame cansim.Frame) (ecan.Frame, error) {
	if frame.DLC > cansim.MaxClassicLength {
		return ecan.Frame{}, cansim.ErrFrameTooLong
	}
	out := ecan.Frame{
		ID:         frame.ID,
		Length:     frame.DLC,
		IsExtended: frame.Extended(),
		IsRemote:   frame.Flags&cansim.FlagRTR != 0,
	}
	copy(out.Data[:], frame.Data[:cansim.MaxClassicLength])
	return out, nil
}

func fromEinride(frame ecan.Frame) cansim.Frame {
	out := cansim.Frame{ID: frame.ID, DLC: frame.Length}
	if frame.IsExtended {
		out.Flags |= cansim.FlagExtended
	}
	if frame.IsRemote {
		out.Flags |= cansim.FlagRTR
	}
	copy(out.Data[:], frame.Data[:])
	return out
}
