package conversion

import (
	"testing"

	cansim "github.com/openxilenv/cansim"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestCurve(t *testing.T) {
	points := []Point{{0, 0}, {10, 100}}
	assert.Equal(t, 50.0, Curve(points, 5))
	assert.Equal(t, 0.0, Curve(points, 0))
	assert.Equal(t, 0.0, Curve(points, -3))
	assert.Equal(t, 100.0, Curve(points, 10))
	assert.Equal(t, 100.0, Curve(points, 42))

	points = []Point{{0, 0}, {1, 10}, {2, 0}, {4, 40}}
	assert.Equal(t, 10.0, Curve(points, 1))
	assert.Equal(t, 5.0, Curve(points, 1.5))
	assert.Equal(t, 20.0, Curve(points, 3))
	assert.Equal(t, 7.0, Curve(nil, 7))
}

func TestFactorOffsetOrder(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	factOff := FactorOffset(2, 3)
	offFact := OffsetFactor(3, 2)
	assert.Equal(t, cansim.Float(13), e.Apply(&factOff, cansim.Int(5), nil))
	assert.Equal(t, cansim.Float(16), e.Apply(&offFact, cansim.Int(5), nil))
}

func TestInverse(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	rx := FactorOffset(0.25, -40)
	tx := rx.Inverse()
	assert.Equal(t, TypeOffsetFactor, tx.Type)
	phys := e.Apply(&rx, cansim.UInt(400), nil)
	assert.Equal(t, 60.0, phys.Float64())
	assert.Equal(t, 400.0, e.Apply(&tx, phys, nil).Float64())
	assert.True(t, Identity.IsIdentity())
	assert.True(t, FactorOffset(1, 0).IsIdentity())
	assert.False(t, rx.IsIdentity())
}

func TestIdentityAndUnknown(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	none := Identity
	assert.Equal(t, cansim.Int(-7), e.Apply(&none, cansim.Int(-7), nil))
	unknown := Conversion{Type: Type(99)}
	assert.Equal(t, cansim.UInt(7), e.Apply(&unknown, cansim.UInt(7), nil))
	// No interpreter : equation is identity
	eq := Conversion{Type: TypeEquation, Equation: Bytecode("x*2")}
	assert.Equal(t, cansim.UInt(7), e.Apply(&eq, cansim.UInt(7), nil))

	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	e = NewEngine(nil, nil, logger)
	assert.Equal(t, cansim.UInt(7), e.Apply(&eq, cansim.UInt(7), nil))
	assert.Len(t, hook.Entries, 1)
	assert.Equal(t, log.DebugLevel, hook.LastEntry().Level)
}

type fakeObject struct{ id uint32 }

func (f fakeObject) Identifier() uint32 { return f.id }
func (f fakeObject) Data() []byte       { return nil }
func (f fakeObject) OldData() []byte    { return nil }

func TestEquation(t *testing.T) {
	var seen uint32
	interpreter := InterpreterFunc(func(code Bytecode, input cansim.Numeric, obj ObjectContext) cansim.Numeric {
		seen = obj.Identifier()
		assert.Equal(t, "double", string(code))
		return cansim.Float(input.Float64() * 2)
	})
	e := NewEngine(interpreter, nil, nil)
	eq := Conversion{Type: TypeEquation, Equation: Bytecode("double")}
	assert.Equal(t, cansim.Float(8), e.Apply(&eq, cansim.Int(4), fakeObject{id: 0x123}))
	assert.EqualValues(t, 0x123, seen)
}

func TestReplaced(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	registry := NewRegistry()
	e := NewEngine(nil, registry, logger)
	replaced := Conversion{Type: TypeReplaced, ID: 3}
	// Not registered yet
	assert.Equal(t, cansim.Int(2), e.Apply(&replaced, cansim.Int(2), nil))
	assert.Len(t, hook.Entries, 1)
	assert.Equal(t, "[CONV]", hook.LastEntry().Data["service"])
	hook.Reset()
	registry.Replace(3, ConverterFunc(func(value cansim.Numeric, obj ObjectContext) cansim.Numeric {
		return cansim.Int(value.Int64() + 100)
	}))
	assert.Equal(t, cansim.Int(102), e.Apply(&replaced, cansim.Int(2), nil))
	assert.Empty(t, hook.Entries)
	registry.Remove(3)
	assert.Equal(t, cansim.Int(2), e.Apply(&replaced, cansim.Int(2), nil))
}
