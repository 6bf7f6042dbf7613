package config

import (
	"fmt"
	"os"
	"path/filepath"

	cansim "github.com/openxilenv/cansim"
	"github.com/openxilenv/cansim/pkg/blackboard"
	"github.com/openxilenv/cansim/pkg/conversion"
	"github.com/openxilenv/cansim/pkg/object"
	cdbc "go.einride.tech/can/pkg/dbc"
)

// DBC message ids flag extended identifiers with the msb
const dbcExtendedFlag = 0x80000000

type DBCOptions struct {
	Node   string // messages sent by Node are transmitted, all others received
	Period int    // cycles between transmissions, 1 when unset
	FD     bool   // channel is CAN FD capable
	Prefix string // prepended to the "<message>.<signal>" variable names
}

func ImportDBCFile(path string, bb blackboard.Registry, opts DBCOptions) ([]object.ObjectSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ImportDBC(filepath.Base(path), data, bb, opts)
}

// ImportDBC converts the messages of a DBC file into object descriptions.
// A multiplexer switch becomes the selector of its multiplexed signals.
func ImportDBC(name string, data []byte, bb blackboard.Registry, opts DBCOptions) ([]object.ObjectSpec, error) {
	parser := cdbc.NewParser(name, data)
	if err := parser.Parse(); err != nil {
		return nil, fmt.Errorf("%w : %v", cansim.ErrConfig, err)
	}
	file := parser.File()

	// Signals are integers unless declared otherwise by SIG_VALTYPE_
	valueTypes := make(map[string]cdbc.SignalValueType)
	for _, def := range file.Defs {
		if vt, ok := def.(*cdbc.SignalValueTypeDef); ok {
			valueTypes[fmt.Sprintf("%d/%s", vt.MessageID, vt.SignalName)] = vt.SignalValueType
		}
	}

	var specs []object.ObjectSpec
	for _, def := range file.Defs {
		m, ok := def.(*cdbc.MessageDef)
		if !ok {
			continue
		}
		spec := object.ObjectSpec{
			Name: string(m.Name),
			ID:   uint32(m.MessageID),
			Size: int(m.Size),
			FD:   opts.FD && m.Size > cansim.MaxClassicLength,
		}
		if uint32(m.MessageID)&dbcExtendedFlag != 0 {
			spec.ID &= cansim.CanEffMask
			spec.Extended = true
		}
		if opts.Node != "" && string(m.Transmitter) == opts.Node {
			spec.Direction = object.DirTxFixed
			spec.Trigger = object.Trigger{Mode: object.TriggerCyclic, Period: opts.Period}
		}

		var selector *object.Selector
		for _, s := range m.Signals {
			if s.IsMultiplexerSwitch {
				sel := object.Selector{StartBit: int(s.StartBit), BitSize: int(s.Size), Order: object.LSBFirst}
				if s.IsBigEndian {
					sel.StartBit = motorolaLSB(sel.StartBit, sel.BitSize)
					sel.Order = object.MSBFirst
				}
				selector = &sel
			}
		}

		for _, s := range m.Signals {
			if s.IsMultiplexerSwitch {
				continue
			}
			sig := object.Signal{
				Name:     string(s.Name),
				StartBit: int(s.StartBit),
				BitSize:  int(s.Size),
				Order:    object.LSBFirst,
				Signed:   s.IsSigned,
			}
			if s.IsBigEndian {
				sig.StartBit = motorolaLSB(sig.StartBit, sig.BitSize)
				sig.Order = object.MSBFirst
			}
			switch valueTypes[fmt.Sprintf("%d/%s", m.MessageID, s.Name)] {
			case cdbc.SignalValueTypeFloat32, cdbc.SignalValueTypeFloat64:
				sig.Float = true
			}
			if s.Factor != 1 || s.Offset != 0 {
				sig.Conversion = conversion.FactorOffset(s.Factor, s.Offset)
				// Transmitted signals convert physical values into raw ones
				if spec.Direction.IsTx() {
					sig.Conversion = sig.Conversion.Inverse()
				}
			}
			if s.IsMultiplexed && selector != nil {
				sig.Mux = object.Mux{Kind: object.MuxSignal, Value: s.MultiplexerSwitch, Selector: *selector}
			}
			id, err := bb.Attach(opts.Prefix+spec.Name+"."+sig.Name, blackboard.REAL64)
			if err != nil {
				return nil, err
			}
			sig.Variable = id
			spec.Signals = append(spec.Signals, sig)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// motorolaLSB converts the start bit of a big endian DBC signal, which
// designates its most significant bit, into the bit index of its least
// significant bit.
func motorolaLSB(msb int, bitsize int) int {
	bit := msb
	for i := 1; i < bitsize; i++ {
		if bit%8 == 0 {
			bit += 15
		} else {
			bit--
		}
	}
	return bit
}
