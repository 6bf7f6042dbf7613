package object

import (
	"fmt"

	cansim "github.com/openxilenv/cansim"
	"github.com/openxilenv/cansim/pkg/blackboard"
	"github.com/openxilenv/cansim/pkg/codec"
	"github.com/openxilenv/cansim/pkg/conversion"
	log "github.com/sirupsen/logrus"
)

// ObjectSpec describes one configured CAN object
type ObjectSpec struct {
	Name        string
	ID          uint32
	IDVariable  blackboard.ID // DirTxVariable only
	Extended    bool
	FD          bool
	BRS         bool
	Size        int
	Direction   Direction
	Type        Type
	Signals     []Signal
	Trigger     Trigger
	Before      conversion.Bytecode
	After       conversion.Bytecode
	Init        []byte   // initial payload, bits not covered by signals are kept
	MuxValue    uint32   // TypeMux
	MuxSelector Selector // TypeMux
	J1939       J1939Info
	Container   string // name of the multi PG container, TypeJ1939CPG
}

type ChannelSpec struct {
	Name      string
	Interface string
	Device    string
	FD        bool
	TxEnabled bool
	Objects   []ObjectSpec
}

type builder struct {
	db         *Database
	containers map[*Object]string
	logger     log.FieldLogger
}

// Build creates the object and signal tables of a run.
// Configuration inconsistencies are logged and corrected, only
// ambiguous channel definitions are reported as errors.
func Build(specs []ChannelSpec, logger log.FieldLogger) (*Database, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	b := &builder{
		db:         &Database{},
		containers: make(map[*Object]string),
		logger:     logger.WithField("service", "[OBJECT]"),
	}
	names := make(map[string]bool)
	for i, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("%w : channel %v has no name", cansim.ErrConfig, i)
		}
		if names[spec.Name] {
			return nil, fmt.Errorf("%w : duplicate channel %v", cansim.ErrConfig, spec.Name)
		}
		names[spec.Name] = true
		b.db.Channels = append(b.db.Channels, b.channel(i, spec))
	}
	return b.db, nil
}

func (b *builder) channel(number int, spec ChannelSpec) *Channel {
	ch := &Channel{
		Name:      spec.Name,
		Interface: spec.Interface,
		Device:    spec.Device,
		Number:    number,
		TxEnabled: spec.TxEnabled,
		FDCapable: spec.FD,
		FDEnabled: spec.FD,
	}
	logger := b.logger.WithField("channel", spec.Name)
	for _, objSpec := range spec.Objects {
		obj := b.object(ch, objSpec, logger.WithField("object", objSpec.Name))
		if obj == nil {
			continue
		}
		obj.index = len(ch.Objects)
		ch.Objects = append(ch.Objects, obj)
	}
	b.linkMuxObjects(ch, logger)
	b.linkContainers(ch, logger)
	ch.sortTables()
	ch.Arm()
	return ch
}

func (b *builder) object(ch *Channel, spec ObjectSpec, logger log.FieldLogger) *Object {
	obj := &Object{
		Name:      spec.Name,
		Extended:  spec.Extended,
		FD:        spec.FD,
		BRS:       spec.BRS,
		Direction: spec.Direction,
		Type:      spec.Type,
		J1939:     spec.J1939,
		Container: -1,
		Before:    spec.Before,
		After:     spec.After,
		Trigger:   spec.Trigger,
	}

	id := spec.ID
	if spec.Extended {
		id &= cansim.CanEffMask
	} else if id > cansim.CanSffMask {
		logger.Warnf("identifier x%x does not fit 11 bits, using an extended identifier", id)
		obj.Extended = true
		id &= cansim.CanEffMask
	}
	if obj.Type.IsJ1939() && !obj.Extended {
		logger.Warn("J1939 objects use extended identifiers")
		obj.Extended = true
	}
	obj.configID = id

	if obj.Direction == DirTxVariable && spec.IDVariable == blackboard.InvalidID {
		logger.Warn("variable identifier without variable, using the fixed identifier")
		obj.Direction = DirTxFixed
	}
	obj.IDVar = spec.IDVariable
	if obj.Type == TypeJ1939CPG {
		b.containers[obj] = spec.Container
	}

	// Sizes
	if obj.FD && !ch.FDCapable {
		logger.Warn("CAN FD object on a classic channel, truncated to 8 bytes")
		obj.FD = false
		obj.BRS = false
	}
	if obj.Type == TypeJ1939MultiCPG && !obj.FD && ch.FDCapable {
		obj.FD = true
	}
	obj.MaxSize = cansim.MaxClassicLength
	if obj.FD {
		obj.MaxSize = cansim.MaxFrameLength
	}
	size := spec.Size
	switch {
	case size < 0:
		logger.Warnf("negative size %v, using 0", size)
		size = 0
	case size > obj.MaxSize:
		logger.Warnf("size %v exceeds %v bytes, truncated", size, obj.MaxSize)
		size = obj.MaxSize
	case obj.FD && size > cansim.MaxClassicLength && cansim.RoundUpFDLength(size) != size:
		logger.Warnf("size %v is not a CAN FD length, using %v", size, cansim.RoundUpFDLength(size))
		size = cansim.RoundUpFDLength(size)
	}
	obj.configSize = size

	// Trigger
	if obj.Trigger.Period < 1 {
		obj.Trigger.Period = 1
	}
	if obj.Trigger.Delay < 0 {
		obj.Trigger.Delay = 0
	}
	if obj.Trigger.Delay >= obj.Trigger.Period {
		logger.Warnf("delay %v not below period %v, using %v", obj.Trigger.Delay, obj.Trigger.Period, obj.Trigger.Period-1)
		obj.Trigger.Delay = obj.Trigger.Period - 1
	}

	if obj.Type == TypeMux {
		obj.Mux = MuxObject{Value: spec.MuxValue, Selector: spec.MuxSelector}
		if !codec.Fits(spec.MuxSelector.StartBit, spec.MuxSelector.BitSize, size, spec.MuxSelector.Order) ||
			spec.MuxSelector.BitSize > 32 {
			logger.Warn("mux selector does not fit the object, handled as normal object")
			obj.Type = TypeNormal
			obj.Mux = MuxObject{}
		}
	}

	obj.data = codec.NewBuffer(cansim.MaxFrameLength)
	obj.old = codec.NewBuffer(cansim.MaxFrameLength)
	obj.template = codec.NewBuffer(cansim.MaxFrameLength)
	obj.template.CopyFrom(spec.Init)

	b.signals(obj, spec.Signals, logger)

	if obj.Type == TypeMux {
		clearField(obj.template, obj.MaxSize, obj.Mux.Selector.StartBit, obj.Mux.Selector.BitSize, obj.Mux.Selector.Order)
	}
	return obj
}

type selectorGroup struct {
	selector Selector
	values   []SignalIndex // primary signal per value
	last     []SignalIndex // last signal of the value chain
}

func (b *builder) signals(obj *Object, specs []Signal, logger log.FieldLogger) {
	var groups []*selectorGroup
	groupOf := func(sel Selector) (*selectorGroup, int) {
		for i, g := range groups {
			if g.selector == sel {
				return g, i
			}
		}
		groups = append(groups, &selectorGroup{selector: sel})
		return groups[len(groups)-1], len(groups) - 1
	}

	// Objects with a variable size may grow up to their maximum size
	limit := obj.configSize
	if obj.J1939.DLCVariable != blackboard.InvalidID {
		limit = obj.MaxSize
	}
	for _, spec := range specs {
		sig := spec
		if sig.BitSize < 1 || sig.BitSize > 64 {
			logger.Warnf("signal %v has an invalid size of %v bits, ignored", sig.Name, sig.BitSize)
			continue
		}
		if !codec.Fits(sig.StartBit, sig.BitSize, limit, sig.Order) {
			logger.Warnf("signal %v exceeds the object, ignored", sig.Name)
			continue
		}
		if sig.Float && sig.BitSize != 32 && sig.BitSize != 64 {
			logger.Warnf("float signal %v must have 32 or 64 bits, handled as integer", sig.Name)
			sig.Float = false
		}
		sig.Mask = codec.Mask(sig.BitSize)
		sig.Mux.NextSameSelector = NoSignal
		sig.Mux.NextSameValue = NoSignal
		if sig.Mux.Kind == MuxSignal {
			sel := sig.Mux.Selector
			if sel.BitSize < 1 || sel.BitSize > 32 || !codec.Fits(sel.StartBit, sel.BitSize, limit, sel.Order) {
				logger.Warnf("selector of signal %v does not fit, ignored", sig.Name)
				continue
			}
		}
		if sig.Mux.Kind == MuxBySignal && sig.Mux.Variable == blackboard.InvalidID {
			logger.Warnf("signal %v is multiplexed by a missing variable, ignored", sig.Name)
			continue
		}

		index := SignalIndex(len(b.db.Signals))
		clearField(obj.template, obj.MaxSize, sig.StartBit, sig.BitSize, sig.Order)
		if sig.Mux.Kind != MuxSignal {
			b.db.Signals = append(b.db.Signals, sig)
			obj.Signals = append(obj.Signals, index)
			continue
		}

		g, gi := groupOf(sig.Mux.Selector)
		sig.Mux.group = gi
		b.db.Signals = append(b.db.Signals, sig)
		found := false
		for v, primary := range g.values {
			if b.db.Signals[primary].Mux.Value == sig.Mux.Value {
				b.db.Signals[g.last[v]].Mux.NextSameValue = index
				g.last[v] = index
				found = true
				break
			}
		}
		if found {
			continue
		}
		if len(g.values) == 0 {
			obj.Signals = append(obj.Signals, index)
			obj.groupHeads = append(obj.groupHeads, index)
			clearField(obj.template, obj.MaxSize, g.selector.StartBit, g.selector.BitSize, g.selector.Order)
		} else {
			b.db.Signals[g.values[len(g.values)-1]].Mux.NextSameSelector = index
		}
		g.values = append(g.values, index)
		g.last = append(g.last, index)
	}
	obj.tokens = make([]SignalIndex, len(obj.groupHeads))
}

// clearField removes the bits of a field from the template. MSB first
// fields move with the frame size, they are cleared for every size.
func clearField(template codec.Buffer, size, startbit, bitsize int, order codec.ByteOrder) {
	sizes := []int{size}
	if order == MSBFirst {
		sizes = sizes[:0]
		for s := 1; s <= size; s++ {
			sizes = append(sizes, s)
		}
	}
	for _, s := range sizes {
		if !codec.Fits(startbit, bitsize, s, order) {
			continue
		}
		ones := codec.NewBuffer(template.Capacity())
		codec.WriteBits(^uint64(0), ones, s, startbit, bitsize, order)
		for i := range template {
			template[i] &^= ones[i]
		}
	}
}

// MSBFirst and LSBFirst are re-exported for readability of layouts
const (
	LSBFirst = codec.LSBFirst
	MSBFirst = codec.MSBFirst
)

// Variants of a multiplexed object share identifier and direction,
// they are linked into a circle starting at the first variant.
func (b *builder) linkMuxObjects(ch *Channel, logger log.FieldLogger) {
	type family struct {
		members []int
	}
	families := make(map[uint64]*family)
	var order []uint64
	for i, obj := range ch.Objects {
		if obj.Type != TypeMux {
			continue
		}
		k := key(obj.configID, obj.Extended)
		if obj.Direction.IsTx() {
			k |= 1 << 33
		}
		f, ok := families[k]
		if !ok {
			f = &family{}
			families[k] = f
			order = append(order, k)
		}
		f.members = append(f.members, i)
	}
	for _, k := range order {
		members := families[k].members
		master := ch.Objects[members[0]]
		seen := make(map[uint32]bool)
		for n, i := range members {
			obj := ch.Objects[i]
			if obj.Mux.Selector != master.Mux.Selector {
				logger.Warnf("variant %v uses another selector than %v, using the selector of %v", obj.Name, master.Name, master.Name)
				obj.Mux.Selector = master.Mux.Selector
			}
			if seen[obj.Mux.Value] {
				logger.Warnf("variant %v repeats selector value %v", obj.Name, obj.Mux.Value)
			}
			seen[obj.Mux.Value] = true
			obj.Mux.Master = members[0]
			obj.Mux.Next = members[(n+1)%len(members)]
			// The master carries the trigger of the family
			obj.Trigger = master.Trigger
		}
	}
}

// Contained PGs are attached to the multi PG container of the same name
func (b *builder) linkContainers(ch *Channel, logger log.FieldLogger) {
	containers := make(map[string]int)
	for i, obj := range ch.Objects {
		if obj.Type == TypeJ1939MultiCPG {
			containers[obj.Name] = i
		}
	}
	kept := ch.Objects[:0]
	for _, obj := range ch.Objects {
		if obj.Type != TypeJ1939CPG {
			kept = append(kept, obj)
			continue
		}
		c, ok := containers[b.containers[obj]]
		if !ok {
			logger.Warnf("contained PG %v has no container, disabled", obj.Name)
			continue
		}
		container := ch.Objects[c]
		if obj.Direction.IsTx() != container.Direction.IsTx() {
			logger.Warnf("contained PG %v and its container differ in direction, disabled", obj.Name)
			continue
		}
		if obj.MaxSize > container.MaxSize-4 {
			obj.MaxSize = container.MaxSize - 4
			if obj.configSize > obj.MaxSize {
				logger.Warnf("contained PG %v truncated to %v bytes", obj.Name, obj.MaxSize)
				obj.configSize = obj.MaxSize
			}
		}
		kept = append(kept, obj)
	}
	for i := len(kept); i < len(ch.Objects); i++ {
		ch.Objects[i] = nil
	}
	ch.Objects = kept

	// Indexes changed when objects were dropped
	remap := make(map[int]int)
	for i, obj := range ch.Objects {
		remap[obj.index] = i
		obj.index = i
	}
	for _, obj := range ch.Objects {
		if obj.Type == TypeMux {
			obj.Mux.Master = remap[obj.Mux.Master]
			obj.Mux.Next = remap[obj.Mux.Next]
		}
	}
	for name, c := range containers {
		containers[name] = remap[c]
	}
	for i, obj := range ch.Objects {
		if obj.Type != TypeJ1939CPG {
			continue
		}
		c := containers[b.containers[obj]]
		obj.Container = c
		ch.Objects[c].Members = append(ch.Objects[c].Members, i)
	}
}
