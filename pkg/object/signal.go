package object

import (
	cansim "github.com/openxilenv/cansim"
	"github.com/openxilenv/cansim/pkg/blackboard"
	"github.com/openxilenv/cansim/pkg/codec"
	"github.com/openxilenv/cansim/pkg/conversion"
)

// SignalIndex is a handle into Database.Signals
type SignalIndex int32

// NoSignal terminates mux sibling chains
const NoSignal SignalIndex = -1

type MuxKind uint8

const (
	MuxNone     MuxKind = iota
	MuxSignal           // selector field inside the frame
	MuxBySignal         // selector is a blackboard variable
)

// Selector field of a multiplexed signal or object
type Selector struct {
	StartBit int
	BitSize  int // at most 32
	Order    codec.ByteOrder
}

type Mux struct {
	Kind     MuxKind
	Value    uint64   // selector value this signal belongs to
	Selector Selector // MuxSignal
	Variable blackboard.ID

	// Filled by the builder
	NextSameSelector SignalIndex // next value of the same selector
	NextSameValue    SignalIndex // next signal sharing the selector value
	group            int
}

type Signal struct {
	Name          string
	Variable      blackboard.ID
	StartBit      int // least significant bit
	BitSize       int
	Order         codec.ByteOrder
	Signed        bool
	Float         bool
	Mask          uint64
	Conversion    conversion.Conversion
	Mux           Mux
	HasStartValue bool
	StartValue    cansim.Numeric
}
