//go:build linux

package socketcanfd

import (
	"context"
	"fmt"
	"net"
	"sync"
	"unsafe"

	cansim "github.com/openxilenv/cansim"
	can "github.com/openxilenv/cansim/pkg/can"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Raw SocketCAN bus with CAN FD frames and controller error reporting.
// Received frames are read in batches with recvmmsg.

func init() {
	can.RegisterInterface("socketcanfd", NewBus)
}

// The maximum number of CAN frames to read at once (batch size)
const msgBatchSize = 64

var defaultTimeVal = unix.Timeval{}

func init() {
	// Let go infer the type on startup
	// because these values are architecture dependent
	defaultTimeVal.Usec = 100_000 // 100 ms
}

type Bus struct {
	mu      sync.Mutex
	iface   string
	index   int
	fd      int
	handler cansim.FrameListener
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	status  uint16
	logger  log.FieldLogger
}

// Create a new SocketCAN FD bus. This expects the CAN channel to be up.
// e.g. running "ip a" should show can0 or something similar.
func NewBus(channel string) (cansim.Bus, error) {
	iface, err := net.InterfaceByName(channel)
	if err != nil {
		return nil, err
	}
	return &Bus{
		iface:  channel,
		index:  iface.Index,
		fd:     -1,
		logger: log.StandardLogger().WithField("service", "[SOCKETCANFD]").WithField("iface", channel),
	}, nil
}

func (b *Bus) open() (int, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return -1, fmt.Errorf("failed to create CAN socket : %v", err)
	}
	options := []struct {
		level, name, value int
	}{
		{unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1},
		{unix.SOL_CAN_RAW, unix.CAN_RAW_ERR_FILTER, errorMask},
	}
	for _, opt := range options {
		if err := unix.SetsockoptInt(fd, opt.level, opt.name, opt.value); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("failed to set socket option %v : %v", opt.name, err)
		}
	}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &defaultTimeVal); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to set read timeout %v", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: b.index}); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// "Connect" implementation of Bus interface, a new socket is opened
// on every connection
func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd >= 0 {
		return nil
	}
	fd, err := b.open()
	if err != nil {
		return err
	}
	b.fd = fd
	b.status = 0
	var ctx context.Context
	ctx, b.cancel = context.WithCancel(context.Background())
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processIncoming(ctx, fd)
	}()
	return nil
}

// "Disconnect" implementation of Bus interface
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	fd, cancel := b.fd, b.cancel
	b.fd, b.cancel = -1, nil
	b.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	b.wg.Wait()
	return unix.Close(fd)
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame cansim.Frame) error {
	b.mu.Lock()
	fd := b.fd
	b.mu.Unlock()
	if fd < 0 {
		return cansim.ErrChannelDisabled
	}
	raw := marshal(frame)
	n, err := unix.Write(fd, raw)
	if err != nil {
		if err == unix.ENOBUFS {
			b.mu.Lock()
			b.status |= cansim.CanErrorTxOverflow
			b.mu.Unlock()
		}
		return err
	}
	if n != len(raw) {
		return fmt.Errorf("short write of %v bytes", n)
	}
	return nil
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(handler cansim.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return nil
}

// Status returns the controller state reported by error frames
func (b *Bus) Status() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Enable own reception on the bus. CAN be useful when testing for example
func (b *Bus) SetReceiveOwn(enabled bool) error {
	b.mu.Lock()
	fd := b.fd
	b.mu.Unlock()
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	return unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, enabledInt)
}

func (b *Bus) processIncoming(ctx context.Context, fd int) {
	if err := unix.SetNonblock(fd, false); err != nil {
		b.logger.Errorf("failed to set blocking mode : %v", err)
		return
	}

	frames := make([][fdFrameSize]byte, msgBatchSize)
	iovecs := make([]unix.Iovec, msgBatchSize)
	mmsgs := make([]mmsghdr, msgBatchSize)

	for i := 0; i < msgBatchSize; i++ {
		iovecs[i].Base = &frames[i][0]
		iovecs[i].SetLen(fdFrameSize)
		mmsgs[i].Hdr.Iov = &iovecs[i]
		mmsgs[i].Hdr.Iovlen = 1
	}

	for {
		select {
		case <-ctx.Done():
			b.logger.Debug("exiting CAN bus reception, closed")
			return
		default:
		}
		// Returns after the first frame or the socket read timeout
		n, _, errno := unix.Syscall6(
			unix.SYS_RECVMMSG,
			uintptr(fd),
			uintptr(unsafe.Pointer(&mmsgs[0])),
			uintptr(msgBatchSize),
			unix.MSG_WAITFORONE,
			0,
			0,
		)
		if errno != 0 {
			if errno == unix.EAGAIN || errno == unix.EWOULDBLOCK || errno == unix.EINTR {
				continue
			}
			b.logger.Errorf("syscall error : %v", errno)
			return
		}
		for i := 0; i < int(n); i++ {
			frame, isError, ok := unmarshal(frames[i][:mmsgs[i].Len])
			if !ok {
				continue
			}
			b.mu.Lock()
			if isError {
				b.status = updateStatus(b.status, frame)
				b.mu.Unlock()
				continue
			}
			handler := b.handler
			b.mu.Unlock()
			if handler != nil {
				handler.Handle(frame)
			}
		}
	}
}
