// Package blackboard defines how the simulation core accesses the shared
// variable database, and provides an in-process implementation.
package blackboard

import (
	"fmt"
	"strings"
	"sync"

	cansim "github.com/openxilenv/cansim"
	"github.com/openxilenv/cansim/pkg/codec"
)

type ID int32

// InvalidID is the zero value, valid ids start at 1
const InvalidID ID = 0

// Blackboard is the synchronized access API of the variable database
type Blackboard interface {
	Read(id ID) cansim.Numeric
	Write(id ID, value cansim.Numeric)
}

// Registry resolves variable names, attaching creates missing variables
type Registry interface {
	Blackboard
	Attach(name string, dataType uint8) (ID, error)
	Lookup(name string) (ID, bool)
}

// Data types, same numbering as CANopen basic types
const (
	BOOLEAN    uint8 = 0x01
	INTEGER8   uint8 = 0x02
	INTEGER16  uint8 = 0x03
	INTEGER32  uint8 = 0x04
	UNSIGNED8  uint8 = 0x05
	UNSIGNED16 uint8 = 0x06
	UNSIGNED32 uint8 = 0x07
	REAL32     uint8 = 0x08
	REAL64     uint8 = 0x11
	INTEGER64  uint8 = 0x15
	UNSIGNED64 uint8 = 0x1B
)

var dataTypeNames = map[string]uint8{
	"bool":   BOOLEAN,
	"int8":   INTEGER8,
	"int16":  INTEGER16,
	"int32":  INTEGER32,
	"int64":  INTEGER64,
	"uint8":  UNSIGNED8,
	"uint16": UNSIGNED16,
	"uint32": UNSIGNED32,
	"uint64": UNSIGNED64,
	"float":  REAL32,
	"double": REAL64,
}

// ParseDataType accepts type names like "uint16" or "double"
func ParseDataType(name string) (uint8, error) {
	dataType, ok := dataTypeNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown data type %q", name)
	}
	return dataType, nil
}

type variable struct {
	name     string
	dataType uint8
	value    cansim.Numeric
}

// Memory is an in-process blackboard. Values written are converted into
// the variable data type, saturating out of range values.
type Memory struct {
	mu     sync.RWMutex
	vars   []variable
	byName map[string]ID
}

func NewMemory() *Memory {
	return &Memory{byName: make(map[string]ID)}
}

// Attach returns the id of name, creating the variable if needed.
// The data type of an existing variable is kept.
func (m *Memory) Attach(name string, dataType uint8) (ID, error) {
	if name == "" {
		return InvalidID, cansim.ErrIllegalArgument
	}
	if _, err := convert(cansim.Int(0), dataType); err != nil {
		return InvalidID, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byName[name]; ok {
		return id, nil
	}
	id := ID(len(m.vars) + 1)
	value, _ := convert(cansim.Int(0), dataType)
	m.vars = append(m.vars, variable{name: name, dataType: dataType, value: value})
	m.byName[name] = id
	return id, nil
}

func (m *Memory) Lookup(name string) (ID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[name]
	return id, ok
}

func (m *Memory) Name(id ID) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id <= 0 || int(id) > len(m.vars) {
		return ""
	}
	return m.vars[id-1].name
}

// Read returns 0 for unknown variables
func (m *Memory) Read(id ID) cansim.Numeric {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id <= 0 || int(id) > len(m.vars) {
		return cansim.Int(0)
	}
	return m.vars[id-1].value
}

// Write ignores unknown variables
func (m *Memory) Write(id ID, value cansim.Numeric) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id <= 0 || int(id) > len(m.vars) {
		return
	}
	v := &m.vars[id-1]
	v.value, _ = convert(value, v.dataType)
}

// Set writes a variable by name, creating it as double when missing
func (m *Memory) Set(name string, value cansim.Numeric) error {
	id, err := m.Attach(name, REAL64)
	if err != nil {
		return err
	}
	m.Write(id, value)
	return nil
}

// Get reads a variable by name
func (m *Memory) Get(name string) (cansim.Numeric, error) {
	id, ok := m.Lookup(name)
	if !ok {
		return cansim.Int(0), fmt.Errorf("%w : %v", cansim.ErrUnknownVariable, name)
	}
	return m.Read(id), nil
}

func convert(value cansim.Numeric, dataType uint8) (cansim.Numeric, error) {
	switch dataType {
	case BOOLEAN:
		if value.IsTrue() {
			return cansim.UInt(1), nil
		}
		return cansim.UInt(0), nil
	case INTEGER8:
		return saturate(value, 8, true), nil
	case INTEGER16:
		return saturate(value, 16, true), nil
	case INTEGER32:
		return saturate(value, 32, true), nil
	case INTEGER64:
		return saturate(value, 64, true), nil
	case UNSIGNED8:
		return saturate(value, 8, false), nil
	case UNSIGNED16:
		return saturate(value, 16, false), nil
	case UNSIGNED32:
		return saturate(value, 32, false), nil
	case UNSIGNED64:
		return saturate(value, 64, false), nil
	case REAL32:
		raw := codec.ClampAndEncode(value, 32, false, true)
		return codec.DecodeToValue(raw, 32, false, true), nil
	case REAL64:
		return cansim.Float(value.Float64()), nil
	}
	return value, fmt.Errorf("unsupported data type x%x", dataType)
}

func saturate(value cansim.Numeric, bitsize int, signed bool) cansim.Numeric {
	raw := codec.ClampAndEncode(value, bitsize, signed, false)
	return codec.DecodeToValue(raw, bitsize, signed, false)
}
