package conversion

import cansim "github.com/openxilenv/cansim"

type Type uint8

const (
	TypeNone         Type = iota // identity
	TypeFactorOffset             // x * factor + offset
	TypeOffsetFactor             // (x + offset) * factor
	TypeEquation                 // external bytecode interpreter
	TypeCurve                    // piecewise linear table
	TypeReplaced                 // dynamically registered override
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeFactorOffset:
		return "factor_offset"
	case TypeOffsetFactor:
		return "offset_factor"
	case TypeEquation:
		return "equation"
	case TypeCurve:
		return "curve"
	case TypeReplaced:
		return "replaced"
	}
	return "unknown"
}

// Bytecode is a precompiled expression, opaque to this package
type Bytecode []byte

// ObjectContext is what an equation may inspect of the owning object
type ObjectContext interface {
	Identifier() uint32
	Data() []byte
	OldData() []byte
}

// Interpreter executes bytecode, input is the value being converted
// (or the predicate input for scheduler equations).
type Interpreter interface {
	Execute(code Bytecode, input cansim.Numeric, obj ObjectContext) cansim.Numeric
}

type InterpreterFunc func(code Bytecode, input cansim.Numeric, obj ObjectContext) cansim.Numeric

func (f InterpreterFunc) Execute(code Bytecode, input cansim.Numeric, obj ObjectContext) cansim.Numeric {
	return f(code, input, obj)
}

// A point of a conversion curve
type Point struct {
	X float64
	Y float64
}

// Conversion of a signal between raw and physical values
type Conversion struct {
	Type     Type
	ID       int // key of replaced conversions
	Factor   float64
	Offset   float64
	Equation Bytecode
	Curve    []Point // sorted by X
}

var Identity = Conversion{Type: TypeNone}

func FactorOffset(factor, offset float64) Conversion {
	return Conversion{Type: TypeFactorOffset, Factor: factor, Offset: offset}
}

func OffsetFactor(offset, factor float64) Conversion {
	return Conversion{Type: TypeOffsetFactor, Factor: factor, Offset: offset}
}

// Inverse returns the transmit conversion of a receive conversion, i.e.
// phys = raw * f + o becomes raw = (phys + (-o)) * (1/f).
// Only linear conversions have an inverse, others are returned unchanged.
func (c Conversion) Inverse() Conversion {
	switch c.Type {
	case TypeFactorOffset:
		if c.Factor == 0 {
			return c
		}
		return OffsetFactor(-c.Offset, 1/c.Factor)
	case TypeOffsetFactor:
		if c.Factor == 0 {
			return c
		}
		return FactorOffset(1/c.Factor, -c.Offset)
	}
	return c
}

// IsIdentity reports conversions that never change a value
func (c Conversion) IsIdentity() bool {
	switch c.Type {
	case TypeNone:
		return true
	case TypeFactorOffset, TypeOffsetFactor:
		return c.Factor == 1 && c.Offset == 0
	}
	return false
}

// Curve evaluates a piecewise linear table, values outside of the
// table are clamped to the first/last point.
func Curve(points []Point, x float64) float64 {
	n := len(points)
	switch {
	case n == 0:
		return x
	case x <= points[0].X:
		return points[0].Y
	case x >= points[n-1].X:
		return points[n-1].Y
	}
	for i := 1; i < n; i++ {
		x1, y1 := points[i-1].X, points[i-1].Y
		x2, y2 := points[i].X, points[i].Y
		if x == x2 {
			return y2
		}
		if x < x2 {
			if x1 == x2 {
				return y2
			}
			return y2 + (x-x2)*(y1-y2)/(x1-x2)
		}
	}
	return points[n-1].Y
}
