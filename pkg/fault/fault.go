// Package fault corrupts frames of a single CAN object for test purposes.
package fault

import (
	"fmt"
	"strings"
	"sync"

	cansim "github.com/openxilenv/cansim"
	"github.com/openxilenv/cansim/pkg/object"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Command uint8

const (
	CmdNone Command = iota
	CmdOverwriteDataBytes
	CmdChangeDataLength
	CmdSuspendTransmission
)

var commandNames = map[Command]string{
	CmdNone:                "none",
	CmdOverwriteDataBytes:  "overwrite_data_bytes",
	CmdChangeDataLength:    "change_data_length",
	CmdSuspendTransmission: "suspend_transmission",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", c)
}

func ParseCommand(name string) (Command, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for c, n := range commandNames {
		if n == name {
			return c, nil
		}
	}
	return CmdNone, fmt.Errorf("%w : unknown fault command %q", cansim.ErrIllegalArgument, name)
}

// UnmarshalYAML accepts command names as well as numbers
func (c *Command) UnmarshalYAML(value *yaml.Node) error {
	var n uint8
	if err := value.Decode(&n); err == nil {
		*c = Command(n)
		return nil
	}
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	parsed, err := ParseCommand(name)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Descriptor of a fault on the object (Channel, ID). Masks shorter
// than the payload leave the remaining bytes untouched.
type Descriptor struct {
	Channel  int     `msgpack:"channel" yaml:"channel"`
	ID       uint32  `msgpack:"id" yaml:"id"`
	Command  Command `msgpack:"command" yaml:"command"`
	AndMask  []byte  `msgpack:"and_mask,omitempty" yaml:"and_mask"`
	OrMask   []byte  `msgpack:"or_mask,omitempty" yaml:"or_mask"`
	Reversed bool    `msgpack:"reversed" yaml:"reversed"`
	Size     int     `msgpack:"size" yaml:"size"`
	Counter  int     `msgpack:"counter" yaml:"counter"` // cycles, 0 until reset
}

func (d *Descriptor) validate() error {
	if d.Command == CmdNone || d.Command > CmdSuspendTransmission {
		return fmt.Errorf("%w : fault command %v", cansim.ErrIllegalArgument, d.Command)
	}
	if d.Command == CmdChangeDataLength && (d.Size < 0 || d.Size > cansim.MaxFrameLength) {
		return fmt.Errorf("%w : fault size %v", cansim.ErrIllegalArgument, d.Size)
	}
	if len(d.AndMask) > cansim.MaxFrameLength || len(d.OrMask) > cansim.MaxFrameLength {
		return fmt.Errorf("%w : fault masks exceed %v bytes", cansim.ErrIllegalArgument, cansim.MaxFrameLength)
	}
	if d.Counter < 0 {
		return fmt.Errorf("%w : fault counter %v", cansim.ErrIllegalArgument, d.Counter)
	}
	return nil
}

type Status struct {
	Active     bool       `msgpack:"active"`
	Descriptor Descriptor `msgpack:"descriptor"`
	Remaining  int        `msgpack:"remaining"`
	Affected   string     `msgpack:"affected"` // name of the last affected object
}

// Injector holds the single active fault. It is applied by the network
// to every outgoing frame. Activate, Reset and Query may be called from
// other goroutines, objects are only touched by Sync, Apply and Tick
// which run on the cycle path.
type Injector struct {
	mu        sync.Mutex
	active    bool
	desc      Descriptor
	remaining int
	hit       bool
	affected  *object.Object
	savedSize int
	pending   []restoration
	logger    log.FieldLogger
}

// Size to give back to an object on the next Sync
type restoration struct {
	obj  *object.Object
	size int
}

func NewInjector(logger log.FieldLogger) *Injector {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Injector{logger: logger.WithField("service", "[FAULT]")}
}

// Activate replaces the current fault, restoring what it changed
func (inj *Injector) Activate(desc Descriptor) error {
	if err := desc.validate(); err != nil {
		return err
	}
	inj.mu.Lock()
	defer inj.mu.Unlock()
	inj.restore()
	inj.active = true
	inj.desc = desc
	inj.remaining = desc.Counter
	inj.hit = false
	inj.logger.Infof("activated %v on channel %v id x%x for %v cycles", desc.Command, desc.Channel, desc.ID, desc.Counter)
	return nil
}

// Reset deactivates the fault immediately, whatever its countdown
func (inj *Injector) Reset() {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if inj.active {
		inj.logger.Infof("reset %v", inj.desc.Command)
	}
	inj.restore()
}

func (inj *Injector) Query() Status {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	status := Status{Active: inj.active, Descriptor: inj.desc, Remaining: inj.remaining}
	if inj.affected != nil {
		status.Affected = inj.affected.Name
	}
	return status
}

// Sync gives back the sizes changed by a fault that was reset or
// replaced since the last cycle. It must run before objects are encoded.
func (inj *Injector) Sync() {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	inj.sync()
}

func (inj *Injector) sync() {
	for _, r := range inj.pending {
		r.obj.SetSize(r.size)
	}
	inj.pending = inj.pending[:0]
}

// Apply corrupts frame if it is the target of the active fault and
// returns whether it should still be sent. obj is nil for frames sent
// from outside of the object tables, those keep to 8 bytes unless
// flagged FD.
func (inj *Injector) Apply(channel int, frame *cansim.Frame, obj *object.Object) bool {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	inj.sync()
	if !inj.active || inj.desc.Channel != channel || inj.desc.ID != frame.ID {
		return true
	}
	inj.hit = true
	switch inj.desc.Command {
	case CmdOverwriteDataBytes:
		n := int(frame.DLC)
		for i := 0; i < n; i++ {
			j := i
			if inj.desc.Reversed {
				j = n - 1 - i
			}
			and, or := byte(0xFF), byte(0x00)
			if j < len(inj.desc.AndMask) {
				and = inj.desc.AndMask[j]
			}
			if j < len(inj.desc.OrMask) {
				or = inj.desc.OrMask[j]
			}
			frame.Data[i] = frame.Data[i]&and | or
		}
	case CmdChangeDataLength:
		limit := cansim.MaxClassicLength
		if frame.FD() {
			limit = cansim.MaxFrameLength
		}
		if obj != nil {
			if inj.affected != obj {
				if inj.affected != nil {
					inj.affected.SetSize(inj.savedSize)
				}
				inj.affected = obj
				inj.savedSize = obj.Size
			}
			limit = obj.MaxSize
		}
		size := min(inj.desc.Size, limit)
		if size > cansim.MaxClassicLength {
			size = cansim.RoundUpFDLength(size)
			frame.Flags |= cansim.FlagFD
		}
		if obj != nil {
			obj.SetSize(size)
		}
		frame.DLC = uint8(size)
	case CmdSuspendTransmission:
		inj.logger.Debugf("suspended id x%x", frame.ID)
		return false
	}
	if obj != nil {
		inj.affected = obj
	}
	return true
}

// Tick counts down the active fault, called once per cycle
func (inj *Injector) Tick() {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if !inj.active {
		return
	}
	if inj.desc.Command == CmdSuspendTransmission && inj.hit {
		inj.restore()
		return
	}
	if inj.desc.Counter == 0 {
		return
	}
	inj.remaining--
	if inj.remaining <= 0 {
		inj.logger.Infof("%v on id x%x expired", inj.desc.Command, inj.desc.ID)
		inj.restore()
		inj.sync()
	}
}

// restore deactivates and queues the size change to be undone on the
// next Sync, mu must be held
func (inj *Injector) restore() {
	if inj.active && inj.desc.Command == CmdChangeDataLength && inj.affected != nil {
		inj.pending = append(inj.pending, restoration{obj: inj.affected, size: inj.savedSize})
	}
	inj.active = false
	inj.hit = false
	inj.remaining = 0
	inj.affected = nil
}
