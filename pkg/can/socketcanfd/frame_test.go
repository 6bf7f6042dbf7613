package socketcanfd

import (
	"testing"

	cansim "github.com/openxilenv/cansim"
	"github.com/stretchr/testify/assert"
)

func TestMarshalClassic(t *testing.T) {
	frame := cansim.NewFrame(0x123, 0, 3)
	copy(frame.Data[:], []byte{1, 2, 3})
	raw := marshal(frame)
	assert.Len(t, raw, classicFrameSize)
	assert.EqualValues(t, 3, raw[4])
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0}, raw[8:])

	back, isError, ok := unmarshal(raw)
	assert.True(t, ok)
	assert.False(t, isError)
	assert.Equal(t, frame, back)
}

func TestMarshalFD(t *testing.T) {
	frame := cansim.NewFrame(0x18FEF100, cansim.FlagExtended|cansim.FlagFD|cansim.FlagBRS, 12)
	frame.Data[11] = 0xEE
	raw := marshal(frame)
	assert.Len(t, raw, fdFrameSize)
	assert.EqualValues(t, canFDFDF|canFDBRS, raw[5])

	back, _, ok := unmarshal(raw)
	assert.True(t, ok)
	assert.Equal(t, frame, back)

	// More than 8 bytes are always sent as FD
	raw = marshal(cansim.NewFrame(0x10, 0, 16))
	assert.Len(t, raw, fdFrameSize)
}

func TestUnmarshalInvalid(t *testing.T) {
	_, _, ok := unmarshal(make([]byte, 10))
	assert.False(t, ok)

	// A classic frame never carries more than 8 bytes
	raw := marshal(cansim.NewFrame(0x10, 0, 8))
	raw[4] = 15
	frame, _, ok := unmarshal(raw)
	assert.True(t, ok)
	assert.EqualValues(t, 8, frame.DLC)
}

func TestUpdateStatus(t *testing.T) {
	busOff := cansim.NewFrame(canErrBusOff, 0, 8)
	status := updateStatus(0, busOff)
	assert.EqualValues(t, cansim.CanErrorTxBusOff, status)

	ctrl := cansim.NewFrame(canErrCrtl, 0, 8)
	ctrl.Data[1] = canErrCrtlTxPassive | canErrCrtlRxWarning
	status = updateStatus(status, ctrl)
	assert.EqualValues(t, cansim.CanErrorTxBusOff|cansim.CanErrorTxPassive|cansim.CanErrorRxWarning, status)

	ctrl.Data[1] = canErrCrtlActive
	status = updateStatus(status, ctrl)
	assert.EqualValues(t, cansim.CanErrorTxBusOff, status)

	assert.EqualValues(t, 0, updateStatus(status, cansim.NewFrame(canErrRestarted, 0, 8)))
}
