package cansim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumericConversions(t *testing.T) {
	assert.Equal(t, int64(-3), Int(-3).Int64())
	assert.Equal(t, uint64(0), Int(-3).Uint64())
	assert.Equal(t, int64(math.MaxInt64), UInt(math.MaxUint64).Int64())
	assert.Equal(t, int64(3), Float(2.5).Int64())
	assert.Equal(t, int64(-3), Float(-2.5).Int64())
	assert.Equal(t, uint64(0), Float(-1).Uint64())
	assert.Equal(t, uint64(math.MaxUint64), Float(1e30).Uint64())
	assert.Equal(t, int64(0), Float(math.NaN()).Int64())
	assert.Equal(t, 7.0, UInt(7).Float64())
}

func TestNumericEqual(t *testing.T) {
	assert.True(t, Int(5).Equal(UInt(5)))
	assert.True(t, UInt(5).Equal(Int(5)))
	assert.False(t, Int(-1).Equal(UInt(math.MaxUint64)))
	assert.True(t, Float(5).Equal(Int(5)))
	assert.False(t, Float(5.5).Equal(Int(5)))
}

func TestNumericIsTrue(t *testing.T) {
	assert.False(t, Int(0).IsTrue())
	assert.True(t, UInt(1).IsTrue())
	assert.True(t, Float(0.1).IsTrue())
	assert.Equal(t, "-4", Int(-4).String())
	assert.Equal(t, "0.5", Float(0.5).String())
}

func TestLengths(t *testing.T) {
	assert.Equal(t, 12, DLCToLen(9))
	assert.Equal(t, 64, DLCToLen(15))
	assert.EqualValues(t, 8, LenToDLC(8))
	assert.EqualValues(t, 9, LenToDLC(10))
	assert.EqualValues(t, 15, LenToDLC(100))
	assert.Equal(t, 48, RoundUpFDLength(33))
	assert.Equal(t, 5, RoundUpFDLength(5))
}
