package object

import (
	cansim "github.com/openxilenv/cansim"
	"github.com/openxilenv/cansim/pkg/blackboard"
	"github.com/openxilenv/cansim/pkg/codec"
	"github.com/openxilenv/cansim/pkg/conversion"
	"github.com/openxilenv/cansim/pkg/j1939/pgn"
	log "github.com/sirupsen/logrus"
)

// Codec translates between blackboard variables and object payloads
type Codec struct {
	db     *Database
	bb     blackboard.Blackboard
	engine *conversion.Engine
	logger log.FieldLogger
}

func NewCodec(db *Database, bb blackboard.Blackboard, engine *conversion.Engine, logger log.FieldLogger) *Codec {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Codec{
		db:     db,
		bb:     bb,
		engine: engine,
		logger: logger.WithField("service", "[CODEC]"),
	}
}

func (c *Codec) Database() *Database { return c.db }

func (c *Codec) Blackboard() blackboard.Blackboard { return c.bb }

func (c *Codec) Engine() *conversion.Engine { return c.engine }

// WriteStartValues initializes the variables of signals with a start value
func (c *Codec) WriteStartValues() {
	for i := range c.db.Signals {
		sig := &c.db.Signals[i]
		if sig.HasStartValue {
			c.bb.Write(sig.Variable, sig.StartValue)
		}
	}
}

// Encode fills the payload of a transmit object from the blackboard.
// For multiplexed objects the variant holding the token is encoded and
// returned, the token then moves on to the next variant.
func (c *Codec) Encode(ch *Channel, obj *Object) *Object {
	target := obj
	if obj.Type == TypeMux {
		master := ch.Objects[obj.Mux.Master]
		target = ch.Objects[master.muxToken]
		master.muxToken = target.Mux.Next
	}
	c.prepare(target)
	target.ResetData()
	c.engine.Execute(target.Before, cansim.Int(0), target)
	for _, i := range target.Signals {
		c.encodeSignal(target, i)
	}
	if target.Type == TypeMux {
		sel := target.Mux.Selector
		if codec.Fits(sel.StartBit, sel.BitSize, target.Size, sel.Order) {
			codec.WriteSelector(target.Mux.Value, target.data, target.Size, sel.StartBit, sel.BitSize, sel.Order)
		}
	}
	return target
}

// prepare reads identifier, size and destination from their variables
func (c *Codec) prepare(obj *Object) {
	if obj.Direction == DirTxVariable {
		id := uint32(c.bb.Read(obj.IDVar).Uint64())
		if obj.Extended {
			obj.ID = id & cansim.CanEffMask
		} else {
			obj.ID = id & cansim.CanSffMask
		}
	}
	if obj.J1939.DLCVariable != blackboard.InvalidID {
		obj.SetSize(int(c.bb.Read(obj.J1939.DLCVariable).Int64()))
	}
	// PDU1 format parameter groups carry the destination address
	if obj.J1939.DestVar != blackboard.InvalidID {
		obj.J1939.DestAddress = uint8(c.bb.Read(obj.J1939.DestVar).Uint64())
		obj.ID = pgn.WithDestination(obj.ID, obj.J1939.DestAddress)
	}
}

func (c *Codec) encodeSignal(obj *Object, i SignalIndex) {
	sig := c.db.Signal(i)
	switch sig.Mux.Kind {
	case MuxBySignal:
		if c.bb.Read(sig.Mux.Variable).Uint64() != sig.Mux.Value {
			return
		}
		c.encodeOne(obj, sig)
	case MuxSignal:
		group := sig.Mux.group
		token := obj.tokens[group]
		active := c.db.Signal(token)
		for s := token; s != NoSignal; s = c.db.Signals[s].Mux.NextSameValue {
			c.encodeOne(obj, &c.db.Signals[s])
		}
		sel := active.Mux.Selector
		if codec.Fits(sel.StartBit, sel.BitSize, obj.Size, sel.Order) {
			codec.WriteSelector(uint32(active.Mux.Value), obj.data, obj.Size, sel.StartBit, sel.BitSize, sel.Order)
		}
		next := active.Mux.NextSameSelector
		if next == NoSignal {
			next = obj.groupHeads[group]
		}
		obj.tokens[group] = next
	default:
		c.encodeOne(obj, sig)
	}
}

func (c *Codec) encodeOne(obj *Object, sig *Signal) {
	if !codec.Fits(sig.StartBit, sig.BitSize, obj.Size, sig.Order) {
		return
	}
	value := c.engine.Apply(&sig.Conversion, c.bb.Read(sig.Variable), obj)
	raw := codec.ClampAndEncode(value, sig.BitSize, sig.Signed, sig.Float)
	codec.WriteBits(raw&sig.Mask, obj.data, obj.Size, sig.StartBit, sig.BitSize, sig.Order)
}

// Decode copies a received payload into the object and writes its
// signals to the blackboard. It returns the decoded object, a variant
// for multiplexed objects, or nil when no variant matches the selector.
func (c *Codec) Decode(ch *Channel, obj *Object, payload []byte) *Object {
	target := obj
	if obj.Type == TypeMux {
		target = c.variant(ch, obj, payload)
		if target == nil {
			return nil
		}
	}
	target.SetPayload(payload)
	c.DecodeData(target)
	return target
}

func (c *Codec) variant(ch *Channel, obj *Object, payload []byte) *Object {
	master := ch.Objects[obj.Mux.Master]
	master.SetPayload(payload)
	sel := master.Mux.Selector
	if !codec.Fits(sel.StartBit, sel.BitSize, master.Size, sel.Order) {
		return nil
	}
	value := codec.ReadSelector(master.data, master.Size, sel.StartBit, sel.BitSize, sel.Order)
	v := master
	for {
		if v.Mux.Value == value {
			return v
		}
		v = ch.Objects[v.Mux.Next]
		if v == master {
			c.logger.Debugf("no variant of %v with selector %v", master.Name, value)
			return nil
		}
	}
}

// DecodeData decodes the payload already stored in the object
func (c *Codec) DecodeData(obj *Object) {
	for _, i := range obj.Signals {
		c.decodeSignal(obj, i)
	}
	obj.Runtime.NewData = true
	c.engine.Execute(obj.After, cansim.Int(0), obj)
}

func (c *Codec) decodeSignal(obj *Object, i SignalIndex) {
	sig := c.db.Signal(i)
	switch sig.Mux.Kind {
	case MuxBySignal:
		if c.bb.Read(sig.Mux.Variable).Uint64() != sig.Mux.Value {
			return
		}
		c.decodeOne(obj, sig)
	case MuxSignal:
		sel := sig.Mux.Selector
		if !codec.Fits(sel.StartBit, sel.BitSize, obj.Size, sel.Order) {
			return
		}
		value := uint64(codec.ReadSelector(obj.data, obj.Size, sel.StartBit, sel.BitSize, sel.Order))
		for s := i; s != NoSignal; s = c.db.Signals[s].Mux.NextSameSelector {
			if c.db.Signals[s].Mux.Value != value {
				continue
			}
			for v := s; v != NoSignal; v = c.db.Signals[v].Mux.NextSameValue {
				c.decodeOne(obj, &c.db.Signals[v])
			}
			return
		}
	default:
		c.decodeOne(obj, sig)
	}
}

func (c *Codec) decodeOne(obj *Object, sig *Signal) {
	if !codec.Fits(sig.StartBit, sig.BitSize, obj.Size, sig.Order) {
		return
	}
	raw := codec.ReadBits(obj.data, obj.Size, sig.StartBit, sig.BitSize, sig.Order)
	value := codec.DecodeToValue(raw, sig.BitSize, sig.Signed, sig.Float)
	c.bb.Write(sig.Variable, c.engine.Apply(&sig.Conversion, value, obj))
}
