package j1939

import (
	"testing"

	"github.com/openxilenv/cansim/pkg/object"
	"github.com/stretchr/testify/assert"
)

func TestHeaderID(t *testing.T) {
	assert.EqualValues(t, 0x40FEF1, HeaderID(0x18FEF100))
	assert.EqualValues(t, 2, TOS(byte(HeaderID(0x18FEF100)>>16)))
	assert.EqualValues(t, 0, TOS(0x00))
}

func TestPaddedLength(t *testing.T) {
	for used, expected := range map[int]int{0: 8, 5: 8, 8: 8, 9: 12, 13: 16, 17: 20, 21: 24, 25: 32, 33: 48, 49: 64, 64: 64} {
		assert.Equal(t, expected, PaddedLength(used), "used %v", used)
	}
}

func containerChannel(t *testing.T, name string, fd bool, dir object.Direction) *object.Channel {
	t.Helper()
	db, err := object.Build([]object.ChannelSpec{{Name: name, FD: fd, Objects: []object.ObjectSpec{
		{Name: "mc", ID: 0x18FF0000, Extended: true, Size: 64, Direction: dir, Type: object.TypeJ1939MultiCPG},
		{Name: "pg1", ID: 0x18FF1100, Extended: true, Size: 8, FD: true, Direction: dir, Type: object.TypeJ1939CPG, Container: "mc"},
		{Name: "pg2", ID: 0x18FF2200, Extended: true, Size: 12, FD: true, Direction: dir, Type: object.TypeJ1939CPG, Container: "mc"},
		{Name: "pg3", ID: 0x18FF3300, Extended: true, Size: 4, Direction: dir, Type: object.TypeJ1939CPG, Container: "mc"},
	}}}, nil)
	assert.Nil(t, err)
	return db.Channels[0]
}

func TestPackUnpack(t *testing.T) {
	tx := containerChannel(t, "tx", true, object.DirTxFixed)
	rx := containerChannel(t, "rx", true, object.DirRx)
	mc := tx.FindByName("mc")
	members := tx.Members(mc)

	assert.Equal(t, 0, Pack(mc, members))

	pg1 := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	pg2 := []byte{9, 10, 11, 12, 13, 14, 15, 16, 17}
	members[0].SetPayload(pg1)
	members[0].Runtime.NewData = true
	members[1].SetPayload(pg2)
	members[1].Runtime.NewData = true

	assert.Equal(t, 2, Pack(mc, members))
	assert.False(t, members[0].Runtime.NewData)
	assert.False(t, members[1].Runtime.NewData)
	assert.Equal(t, 32, mc.Size)
	data := mc.Data()
	assert.Equal(t, []byte{0x40, 0xFF, 0x11, 8}, data[:4])
	assert.Equal(t, pg1, data[4:12])
	assert.Equal(t, []byte{0x40, 0xFF, 0x22, 9}, data[12:16])
	assert.Equal(t, pg2, data[16:25])
	assert.Equal(t, []byte{0, 0, 0, 0xAA, 0xAA, 0xAA, 0xAA}, data[25:32])

	rxMembers := rx.Members(rx.FindByName("mc"))
	decoded := map[string]int{}
	n := Unpack(data, rxMembers, func(m *object.Object) { decoded[m.Name]++ })
	assert.Equal(t, 2, n)
	assert.Equal(t, map[string]int{"pg1": 1, "pg2": 1}, decoded)
	assert.Equal(t, pg1, rx.FindByName("pg1").Data())
	assert.Equal(t, pg2, rx.FindByName("pg2").Data())
	assert.True(t, rx.FindByName("pg1").Runtime.NewData)
	assert.False(t, rx.FindByName("pg3").Runtime.NewData)
}

func TestPackDefersMembers(t *testing.T) {
	tx := containerChannel(t, "tx", true, object.DirTxFixed)
	mc := tx.FindByName("mc")
	members := tx.Members(mc)
	assert.Equal(t, 60, members[0].MaxSize)
	full := make([]byte, 60)
	for i := range full {
		full[i] = byte(i)
	}
	members[0].SetPayload(full)
	members[0].Runtime.NewData = true
	members[2].SetPayload([]byte{1, 2, 3, 4})
	members[2].Runtime.NewData = true

	assert.Equal(t, 1, Pack(mc, members))
	assert.False(t, members[0].Runtime.NewData)
	assert.True(t, members[2].Runtime.NewData)
	assert.Equal(t, 64, mc.Size)
	assert.Equal(t, full, mc.Data()[4:])

	assert.Equal(t, 1, Pack(mc, members))
	assert.False(t, members[2].Runtime.NewData)
	assert.Equal(t, 8, mc.Size)
	assert.Equal(t, []byte{0x40, 0xFF, 0x33, 4, 1, 2, 3, 4}, mc.Data())
}

func TestPackClassicContainer(t *testing.T) {
	tx := containerChannel(t, "tx", false, object.DirTxFixed)
	mc := tx.FindByName("mc")
	assert.Equal(t, 8, mc.MaxSize)
	members := tx.Members(mc)
	assert.Equal(t, 4, members[0].MaxSize)
	members[0].SetPayload([]byte{1, 2})
	members[0].Runtime.NewData = true
	assert.Equal(t, 1, Pack(mc, members))
	assert.Equal(t, []byte{0x40, 0xFF, 0x11, 2, 1, 2, 0, 0}, mc.Data())
}

func TestUnpackClampsLength(t *testing.T) {
	rx := containerChannel(t, "rx", true, object.DirRx)
	members := rx.Members(rx.FindByName("mc"))
	payload := []byte{0x40, 0xFF, 0x11, 50, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	n := Unpack(payload, members, nil)
	assert.Equal(t, 1, n)
	assert.Equal(t, payload[4:16], rx.FindByName("pg1").Data())
}

func TestUnpackStopsAtPadding(t *testing.T) {
	rx := containerChannel(t, "rx", true, object.DirRx)
	members := rx.Members(rx.FindByName("mc"))
	payload := []byte{0x40, 0xFF, 0x33, 2, 7, 7, 0, 0, 0xAA, 0xAA, 0xAA, 0xAA}
	var calls int
	n := Unpack(payload, members, func(*object.Object) { calls++ })
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []byte{7, 7}, rx.FindByName("pg3").Data())
	// Unknown groups are skipped
	n = Unpack([]byte{0x40, 0x12, 0x34, 1, 9, 0x40, 0xFF, 0x33, 1, 5, 0, 0}, members, nil)
	assert.Equal(t, 1, n)
	assert.Equal(t, []byte{5}, rx.FindByName("pg3").Data())
}
