package cansim

import (
	"math"
	"strconv"
)

type Kind uint8

const (
	KindInt Kind = iota
	KindUint
	KindFloat
)

// Numeric is a blackboard or signal value, either a signed integer,
// an unsigned integer or a float.
type Numeric struct {
	kind Kind
	i    int64
	u    uint64
	f    float64
}

func Int(v int64) Numeric     { return Numeric{kind: KindInt, i: v} }
func UInt(v uint64) Numeric   { return Numeric{kind: KindUint, u: v} }
func Float(v float64) Numeric { return Numeric{kind: KindFloat, f: v} }

func (n Numeric) Kind() Kind { return n.kind }

func (n Numeric) Float64() float64 {
	switch n.kind {
	case KindInt:
		return float64(n.i)
	case KindUint:
		return float64(n.u)
	default:
		return n.f
	}
}

// Int64 returns the value as int64, saturating out of range values.
// Floats are rounded half away from zero.
func (n Numeric) Int64() int64 {
	switch n.kind {
	case KindInt:
		return n.i
	case KindUint:
		if n.u > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(n.u)
	default:
		switch {
		case math.IsNaN(n.f):
			return 0
		case n.f >= math.MaxInt64:
			return math.MaxInt64
		case n.f <= math.MinInt64:
			return math.MinInt64
		}
		return int64(math.Round(n.f))
	}
}

// Uint64 returns the value as uint64, saturating out of range values.
func (n Numeric) Uint64() uint64 {
	switch n.kind {
	case KindInt:
		if n.i < 0 {
			return 0
		}
		return uint64(n.i)
	case KindUint:
		return n.u
	default:
		switch {
		case math.IsNaN(n.f), n.f <= 0:
			return 0
		case n.f >= math.MaxUint64:
			return math.MaxUint64
		}
		return uint64(math.Round(n.f))
	}
}

// Equal compares the numeric values regardless of their kind
func (n Numeric) Equal(o Numeric) bool {
	if n.kind == KindFloat || o.kind == KindFloat {
		return n.Float64() == o.Float64()
	}
	if n.kind == o.kind {
		return n.i == o.i && n.u == o.u
	}
	// mixed signed/unsigned
	if n.kind == KindInt {
		return n.i >= 0 && uint64(n.i) == o.u
	}
	return o.i >= 0 && uint64(o.i) == n.u
}

// IsTrue is used for predicates, any non zero value is true
func (n Numeric) IsTrue() bool {
	switch n.kind {
	case KindInt:
		return n.i != 0
	case KindUint:
		return n.u != 0
	default:
		return n.f != 0
	}
}

func (n Numeric) String() string {
	switch n.kind {
	case KindInt:
		return strconv.FormatInt(n.i, 10)
	case KindUint:
		return strconv.FormatUint(n.u, 10)
	default:
		return strconv.FormatFloat(n.f, 'g', -1, 64)
	}
}
