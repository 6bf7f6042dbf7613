package object

import (
	cansim "github.com/openxilenv/cansim"
	"github.com/openxilenv/cansim/pkg/blackboard"
	"github.com/openxilenv/cansim/pkg/codec"
	"github.com/openxilenv/cansim/pkg/conversion"
)

type Direction uint8

const (
	DirRx Direction = iota
	DirTxFixed
	DirTxVariable // identifier read from a blackboard variable
)

func (d Direction) IsTx() bool { return d != DirRx }

type Type uint8

const (
	TypeNormal        Type = iota
	TypeMux                // member of a multiplexed object family
	TypeJ1939              // single J1939 parameter group
	TypeJ1939CPG           // contained parameter group, sent inside a container
	TypeJ1939MultiCPG      // J1939-22 multi-PG container
)

func (t Type) IsJ1939() bool {
	return t == TypeJ1939 || t == TypeJ1939CPG || t == TypeJ1939MultiCPG
}

type TriggerMode uint8

const (
	TriggerCyclic        TriggerMode = iota
	TriggerEventStale                // predicate on the previously encoded data
	TriggerEventFresh                // predicate on freshly encoded data
	TriggerCyclicOrEvent             // cyclic, additionally sent on fresh event
)

type Trigger struct {
	Mode           TriggerMode
	Period         int // in cycles
	PeriodEquation conversion.Bytecode
	Delay          int // initial delay in cycles, smaller than Period
	Event          conversion.Bytecode
}

// MuxObject links the variants of a multiplexed object family.
// Indexes refer to Channel.Objects.
type MuxObject struct {
	Master   int
	Next     int
	Value    uint32
	Selector Selector
}

type J1939Info struct {
	DLCVariable blackboard.ID // invalid if the size is fixed
	DestAddress uint8
	DestVar     blackboard.ID // invalid if the destination is fixed
	Status      uint32
}

// Mutable per cycle state, reset by Arm
type Runtime struct {
	PeriodCounter int
	Pending       int
	NewData       bool
	Sent          uint64
}

type Object struct {
	Name      string
	ID        uint32
	IDVar     blackboard.ID
	Extended  bool
	FD        bool
	BRS       bool
	Size      int
	MaxSize   int
	Direction Direction
	Type      Type
	Signals   []SignalIndex
	Mux       MuxObject
	J1939     J1939Info
	Members   []int // container members, TypeJ1939MultiCPG
	Container int   // owning container, TypeJ1939CPG
	Before    conversion.Bytecode
	After     conversion.Bytecode
	Trigger   Trigger
	Runtime   Runtime

	index      int
	configID   uint32
	configSize int
	groupHeads []SignalIndex
	tokens     []SignalIndex
	muxToken   int
	data       codec.Buffer
	old        codec.Buffer
	template   codec.Buffer
}

// Index of the object inside its channel
func (obj *Object) Index() int { return obj.index }

func (obj *Object) Identifier() uint32 { return obj.ID }

// Data returns the payload of the current size
func (obj *Object) Data() []byte { return obj.data.Payload(obj.Size) }

// OldData returns the snapshot taken by SnapshotOld
func (obj *Object) OldData() []byte { return obj.old.Payload(obj.Size) }

func (obj *Object) Buffer() codec.Buffer { return obj.data }

// SnapshotOld stores the current data as old data
func (obj *Object) SnapshotOld() {
	copy(obj.old, obj.data)
}

// Changed reports whether data differs from the old data snapshot
func (obj *Object) Changed() bool {
	data, old := obj.data.Payload(obj.MaxSize), obj.old.Payload(obj.MaxSize)
	for i := range data {
		if data[i] != old[i] {
			return true
		}
	}
	return false
}

// SetSize changes the current size, clamped to [0, MaxSize]
func (obj *Object) SetSize(size int) {
	if size < 0 {
		size = 0
	}
	if size > obj.MaxSize {
		size = obj.MaxSize
	}
	obj.Size = size
}

// ConfiguredSize is the size the object had when armed
func (obj *Object) ConfiguredSize() int { return obj.configSize }

// SetPayload copies data into the object and sets the current size
func (obj *Object) SetPayload(data []byte) int {
	if len(data) > obj.MaxSize {
		data = data[:obj.MaxSize]
	}
	n := obj.data.CopyFrom(data)
	obj.Size = n
	return n
}

// ResetData reseeds the data buffer from the template.
// Signal writes are OR'ed so this must precede every encode.
func (obj *Object) ResetData() {
	obj.data.Reset(obj.template)
}

// Arm resets all mutable state to the configured values
func (obj *Object) Arm() {
	obj.Runtime = Runtime{}
	obj.ID = obj.configID
	obj.Size = obj.configSize
	obj.muxToken = obj.index
	copy(obj.tokens, obj.groupHeads)
	obj.data.Reset(obj.template)
	obj.old.Reset(obj.template)
}

// Frame builds the CAN frame carrying the current data
func (obj *Object) Frame() cansim.Frame {
	frame := cansim.NewFrame(obj.ID, 0, uint8(obj.Size))
	if obj.Extended {
		frame.Flags |= cansim.FlagExtended
	}
	if obj.FD || obj.Size > cansim.MaxClassicLength {
		frame.Flags |= cansim.FlagFD
		if obj.BRS {
			frame.Flags |= cansim.FlagBRS
		}
	}
	copy(frame.Data[:], obj.Data())
	return frame
}

func key(id uint32, ext bool) uint64 {
	k := uint64(id)
	if ext {
		k |= 1 << 32
	}
	return k
}
