// Package network drives the simulated CAN channels once per cycle:
// it receives and decodes frames, schedules and encodes transmit
// objects and applies injected faults.
package network

import (
	"errors"
	"fmt"
	"sync"

	cansim "github.com/openxilenv/cansim"
	"github.com/openxilenv/cansim/pkg/blackboard"
	can "github.com/openxilenv/cansim/pkg/can"
	"github.com/openxilenv/cansim/pkg/conversion"
	"github.com/openxilenv/cansim/pkg/fault"
	"github.com/openxilenv/cansim/pkg/j1939"
	"github.com/openxilenv/cansim/pkg/j1939/pgn"
	"github.com/openxilenv/cansim/pkg/object"
	"github.com/openxilenv/cansim/pkg/scheduler"
	log "github.com/sirupsen/logrus"
)

// Cycles a channel stays closed after a bus off before it is reopened
const BusOffBackoff = 100

type State uint8

const (
	StateNotInit State = iota
	StateReadInit
	StateSelectCard
	StateOpen
	StateCyclic
	StateStop
)

var stateNames = map[State]string{
	StateNotInit:    "NOT_INIT",
	StateReadInit:   "READ_INIT",
	StateSelectCard: "SELECT_CARD",
	StateOpen:       "OPEN",
	StateCyclic:     "CYCLIC",
	StateStop:       "STOP",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Loader creates the object tables of a run, see config.LoadINI
type Loader interface {
	Load() (*object.Database, error)
}

type LoaderFunc func() (*object.Database, error)

func (f LoaderFunc) Load() (*object.Database, error) { return f() }

type Config struct {
	Blackboard  blackboard.Blackboard
	Interpreter conversion.Interpreter // equations, optional
	Provider    conversion.Provider    // replaced conversions, optional
	Transport   j1939.Transport        // J1939 parameter groups, optional
	Faults      *fault.Injector        // created when nil
	NewBus      func(canInterface string, channel string) (cansim.Bus, error)
	Logger      log.FieldLogger
}

type channel struct {
	*cansim.BusManager
	ch      *object.Channel
	backoff int
}

type Network struct {
	mu       sync.Mutex
	config   Config
	loader   Loader
	state    State
	db       *object.Database
	codec    *object.Codec
	sched    *scheduler.Scheduler
	faults   *fault.Injector
	channels []*channel
	cycles   uint64
	logger   log.FieldLogger
}

func New(loader Loader, config Config) *Network {
	if config.Logger == nil {
		config.Logger = log.StandardLogger()
	}
	if config.NewBus == nil {
		config.NewBus = can.NewBus
	}
	if config.Faults == nil {
		config.Faults = fault.NewInjector(config.Logger)
	}
	return &Network{
		config: config,
		loader: loader,
		faults: config.Faults,
		logger: config.Logger.WithField("service", "[NETWORK]"),
	}
}

func (n *Network) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Network) Faults() *fault.Injector { return n.faults }

// Database is nil until the tables have been loaded
func (n *Network) Database() *object.Database {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.db
}

// Cycles returns the number of cyclic steps since init
func (n *Network) Cycles() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cycles
}

// Init requests loading the tables with the next step
func (n *Network) Init() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateNotInit {
		return fmt.Errorf("%w : init in state %v", cansim.ErrInvalidState, n.state)
	}
	n.state = StateReadInit
	return nil
}

// Stop suspends cyclic processing, channels stay open
func (n *Network) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateCyclic {
		return fmt.Errorf("%w : stop in state %v", cansim.ErrInvalidState, n.state)
	}
	n.state = StateStop
	return nil
}

// Start resumes cyclic processing with freshly armed objects
func (n *Network) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateStop {
		return fmt.Errorf("%w : start in state %v", cansim.ErrInvalidState, n.state)
	}
	for _, c := range n.channels {
		c.ch.Arm()
	}
	n.state = StateCyclic
	return nil
}

// Terminate closes every channel and drops the tables
func (n *Network) Terminate() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.channels {
		if c.BusManager == nil {
			continue
		}
		if err := c.Close(); err != nil {
			n.logger.Warnf("closing channel %v failed : %v", c.ch.Name, err)
		}
	}
	n.faults.Reset()
	n.faults.Sync()
	n.channels = nil
	n.db = nil
	n.codec = nil
	n.sched = nil
	n.cycles = 0
	n.state = StateNotInit
}

// Step advances the state machine, in the cyclic state this processes
// one simulation cycle
func (n *Network) Step() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch n.state {
	case StateReadInit:
		return n.readInit()
	case StateSelectCard:
		n.selectCard()
	case StateOpen:
		n.open()
	case StateCyclic:
		n.cycle()
	}
	return nil
}

func (n *Network) readInit() error {
	db, err := n.loader.Load()
	if err != nil {
		n.logger.Errorf("loading the CAN configuration failed : %v", err)
		n.state = StateNotInit
		return err
	}
	engine := conversion.NewEngine(n.config.Interpreter, n.config.Provider, n.config.Logger)
	n.db = db
	n.codec = object.NewCodec(db, n.config.Blackboard, engine, n.config.Logger)
	n.sched = scheduler.New(n.codec, engine, n.config.Logger)
	n.codec.WriteStartValues()
	n.channels = n.channels[:0]
	for _, ch := range db.Channels {
		n.channels = append(n.channels, &channel{ch: ch})
	}
	n.state = StateSelectCard
	return nil
}

// Channels without a bus are disabled, the others keep running
func (n *Network) selectCard() {
	for _, c := range n.channels {
		if c.ch.Disabled {
			continue
		}
		bus, err := n.config.NewBus(c.ch.Interface, c.ch.Device)
		if err != nil {
			n.logger.Warnf("no bus for channel %v (%v %v), disabled : %v", c.ch.Name, c.ch.Interface, c.ch.Device, err)
			c.ch.Disabled = true
			continue
		}
		c.BusManager = cansim.NewBusManager(bus, c.ch.Number, n.config.Logger)
	}
	n.state = StateOpen
}

func (n *Network) open() {
	for _, c := range n.channels {
		if c.ch.Disabled {
			continue
		}
		if err := c.Open(); err != nil {
			n.logger.Warnf("opening channel %v failed, disabled : %v", c.ch.Name, err)
			c.ch.Disabled = true
			continue
		}
		c.ch.Arm()
		n.logger.Infof("channel %v open on %v %v", c.ch.Name, c.ch.Interface, c.ch.Device)
	}
	n.state = StateCyclic
}

func (n *Network) cycle() {
	n.cycles++
	n.faults.Sync()
	for _, c := range n.channels {
		if c.ch.Disabled {
			continue
		}
		if c.backoff > 0 {
			c.backoff--
			if c.backoff == 0 {
				n.reopen(c)
			}
			continue
		}
		if c.Status()&cansim.CanErrorTxBusOff != 0 {
			n.logger.Warnf("channel %v is bus off, reopening in %v cycles", c.ch.Name, BusOffBackoff)
			if err := c.Close(); err != nil {
				n.logger.Debugf("closing channel %v failed : %v", c.ch.Name, err)
			}
			c.backoff = BusOffBackoff
			continue
		}
		n.receive(c)
		n.transmit(c)
	}
	n.faults.Tick()
}

func (n *Network) reopen(c *channel) {
	if err := c.Open(); err != nil {
		n.logger.Warnf("reopening channel %v failed : %v", c.ch.Name, err)
		c.backoff = BusOffBackoff
		return
	}
	n.logger.Infof("channel %v reopened", c.ch.Name)
}

func (n *Network) receive(c *channel) {
	for {
		frame, ok := c.QueueRead()
		if !ok {
			return
		}
		obj := c.ch.LookupRx(frame.ID, frame.Extended())
		if obj == nil {
			continue
		}
		switch obj.Type {
		case object.TypeJ1939MultiCPG:
			obj.SetPayload(frame.Payload())
			j1939.Unpack(frame.Payload(), c.ch.Members(obj), n.codec.DecodeData)
		case object.TypeJ1939:
			// Keep priority and source address of the sender
			if obj.ID != frame.ID {
				n.logger.Debugf("%v now received from source x%x", obj.Name, pgn.ParseID(frame.ID).Source)
			}
			obj.ID = frame.ID
			n.codec.Decode(c.ch, obj, frame.Payload())
		default:
			n.codec.Decode(c.ch, obj, frame.Payload())
		}
	}
}

// Contained groups are scheduled first so that their container packs
// them in the same cycle
func (n *Network) transmit(c *channel) {
	objects := c.ch.TxObjects()
	for _, contained := range []bool{true, false} {
		for _, obj := range objects {
			if (obj.Type == object.TypeJ1939CPG) != contained {
				continue
			}
			target := n.sched.Process(c.ch, obj)
			if target == nil {
				continue
			}
			if err := n.send(c, target); err != nil {
				n.logger.Debugf("sending %v on %v failed : %v", target.Name, c.ch.Name, err)
				if !errors.Is(err, cansim.ErrTxSuppressed) {
					n.sched.Retry(obj)
				}
			}
		}
	}
}

func (n *Network) send(c *channel, obj *object.Object) error {
	frame := obj.Frame()
	if !n.faults.Apply(c.ch.Number, &frame, obj) {
		return cansim.ErrTxSuppressed
	}
	var err error
	if obj.Type == object.TypeJ1939 && n.config.Transport != nil {
		err = n.config.Transport.Send(c.ch.Number, obj, frame)
	} else {
		err = c.Write(frame)
	}
	if err != nil {
		return err
	}
	obj.Runtime.Sent++
	return nil
}

// SendExternal sends a frame originating outside of the object tables,
// injected faults apply like for scheduled objects
func (n *Network) SendExternal(channelNumber int, id uint32, ext bool, size int, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateCyclic {
		return fmt.Errorf("%w : send in state %v", cansim.ErrInvalidState, n.state)
	}
	if channelNumber < 0 || channelNumber >= len(n.channels) {
		return fmt.Errorf("%w : %v", cansim.ErrUnknownChannel, channelNumber)
	}
	if size < 0 || size > cansim.MaxFrameLength || size > len(data) {
		return fmt.Errorf("%w : size %v", cansim.ErrIllegalArgument, size)
	}
	c := n.channels[channelNumber]
	if c.ch.Disabled || c.backoff > 0 {
		return cansim.ErrChannelDisabled
	}
	if size > cansim.MaxClassicLength && !c.ch.FDCapable {
		return fmt.Errorf("%w : size %v on classic channel %v", cansim.ErrIllegalArgument, size, c.ch.Name)
	}
	frame := cansim.NewFrame(id, 0, uint8(size))
	if c.ch.FDCapable {
		frame.Flags |= cansim.FlagFD
	}
	copy(frame.Data[:], data[:size])
	if !n.faults.Apply(channelNumber, &frame, nil) {
		return cansim.ErrTxSuppressed
	}
	return c.QueueWrite(frame.ID, frame.Payload(), ext, int(frame.DLC))
}
