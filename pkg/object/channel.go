package object

import "sort"

// J1939 receive matching ignores priority and source address
const j1939KeyMask = uint32(0x03FFFF00)

type Channel struct {
	Name      string
	Interface string // bus driver, see can.RegisterInterface
	Device    string
	Number    int
	Objects   []*Object
	TxEnabled bool
	FDCapable bool
	FDEnabled bool
	Disabled  bool

	rx      []int // sorted by key
	rxJ1939 []int // sorted by masked key
	tx      []int // sorted by key
}

func (ch *Channel) sortTables() {
	ch.rx, ch.rxJ1939, ch.tx = ch.rx[:0], ch.rxJ1939[:0], ch.tx[:0]
	for i, obj := range ch.Objects {
		// Only the master of a mux family and no contained PG is looked up
		if obj.Type == TypeMux && obj.Mux.Master != i {
			continue
		}
		switch {
		case obj.Direction.IsTx():
			ch.tx = append(ch.tx, i)
		case obj.Type == TypeJ1939CPG:
		case obj.Type.IsJ1939() && obj.Extended:
			ch.rxJ1939 = append(ch.rxJ1939, i)
		default:
			ch.rx = append(ch.rx, i)
		}
	}
	byKey := func(table []int, mask uint32) {
		sort.SliceStable(table, func(a, b int) bool {
			oa, ob := ch.Objects[table[a]], ch.Objects[table[b]]
			return key(oa.configID&mask, oa.Extended) < key(ob.configID&mask, ob.Extended)
		})
	}
	byKey(ch.rx, ^uint32(0))
	byKey(ch.rxJ1939, j1939KeyMask)
	byKey(ch.tx, ^uint32(0))
}

func search(objects []*Object, table []int, k uint64, mask uint32) *Object {
	i := sort.Search(len(table), func(i int) bool {
		obj := objects[table[i]]
		return key(obj.configID&mask, obj.Extended) >= k
	})
	if i < len(table) {
		obj := objects[table[i]]
		if key(obj.configID&mask, obj.Extended) == k {
			return obj
		}
	}
	return nil
}

// LookupRx finds the receive object of a frame identifier
func (ch *Channel) LookupRx(id uint32, ext bool) *Object {
	if obj := search(ch.Objects, ch.rx, key(id, ext), ^uint32(0)); obj != nil {
		return obj
	}
	if !ext {
		return nil
	}
	return search(ch.Objects, ch.rxJ1939, key(id&j1939KeyMask, true), j1939KeyMask)
}

// TxObjects returns the transmit objects sorted by identifier
func (ch *Channel) TxObjects() []*Object {
	out := make([]*Object, 0, len(ch.tx))
	for _, i := range ch.tx {
		out = append(out, ch.Objects[i])
	}
	return out
}

// Members returns the contained objects of a container
func (ch *Channel) Members(container *Object) []*Object {
	out := make([]*Object, 0, len(container.Members))
	for _, i := range container.Members {
		out = append(out, ch.Objects[i])
	}
	return out
}

// Find returns the first object with the given identifier
func (ch *Channel) Find(id uint32) *Object {
	for _, obj := range ch.Objects {
		if obj.configID == id {
			return obj
		}
	}
	return nil
}

// FindByName returns the object with the given name
func (ch *Channel) FindByName(name string) *Object {
	for _, obj := range ch.Objects {
		if obj.Name == name {
			return obj
		}
	}
	return nil
}

// Arm resets every object of the channel
func (ch *Channel) Arm() {
	for _, obj := range ch.Objects {
		obj.Arm()
	}
}

// Database holds the immutable object and signal tables of a run
type Database struct {
	Signals  []Signal
	Channels []*Channel
}

func (db *Database) Signal(i SignalIndex) *Signal {
	if i < 0 || int(i) >= len(db.Signals) {
		return nil
	}
	return &db.Signals[i]
}
