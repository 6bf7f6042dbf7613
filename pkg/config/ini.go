// Package config reads the description of the simulated channels.
//
// The description is an ini file, one section per channel, object and
// signal:
//
//	[Channel0]
//	Name = chassis
//	Interface = virtual
//	Device = vcan0
//	TxEnabled = true
//	DBC = chassis.dbc   ; optional, objects imported from a DBC file
//	DBCNode = GW        ; messages sent by this node are transmitted
//
//	[Channel0Object0]
//	Name = speed
//	ID = 0x100
//	Size = 8
//	Direction = tx
//	Period = 10
//
//	[Channel0Object0Signal0]
//	Name = vehicle_speed
//	Variable = speed
//	StartBit = 0
//	BitSize = 16
//	Conversion = factor_offset
//	Factor = 0.01
package config

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	cansim "github.com/openxilenv/cansim"
	"github.com/openxilenv/cansim/pkg/blackboard"
	"github.com/openxilenv/cansim/pkg/codec"
	"github.com/openxilenv/cansim/pkg/conversion"
	"github.com/openxilenv/cansim/pkg/j1939/pgn"
	"github.com/openxilenv/cansim/pkg/object"
	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

var (
	matchChannel = regexp.MustCompile(`^Channel(\d+)$`)
	matchObject  = regexp.MustCompile(`^Channel(\d+)Object(\d+)$`)
	matchSignal  = regexp.MustCompile(`^Channel(\d+)Object(\d+)Signal(\d+)$`)
)

var directions = map[string]object.Direction{
	"rx":          object.DirRx,
	"tx":          object.DirTxFixed,
	"tx_variable": object.DirTxVariable,
}

var objectTypes = map[string]object.Type{
	"normal":          object.TypeNormal,
	"mux":             object.TypeMux,
	"j1939":           object.TypeJ1939,
	"j1939_cpg":       object.TypeJ1939CPG,
	"j1939_multi_cpg": object.TypeJ1939MultiCPG,
}

var triggerModes = map[string]object.TriggerMode{
	"cyclic":          object.TriggerCyclic,
	"event_stale":     object.TriggerEventStale,
	"event_fresh":     object.TriggerEventFresh,
	"cyclic_or_event": object.TriggerCyclicOrEvent,
}

var byteOrders = map[string]codec.ByteOrder{
	"lsb":      object.LSBFirst,
	"intel":    object.LSBFirst,
	"msb":      object.MSBFirst,
	"motorola": object.MSBFirst,
}

var conversionTypes = map[string]conversion.Type{
	"none":          conversion.TypeNone,
	"factor_offset": conversion.TypeFactorOffset,
	"offset_factor": conversion.TypeOffsetFactor,
	"equation":      conversion.TypeEquation,
	"curve":         conversion.TypeCurve,
	"replaced":      conversion.TypeReplaced,
}

var muxKinds = map[string]object.MuxKind{
	"none":     object.MuxNone,
	"signal":   object.MuxSignal,
	"variable": object.MuxBySignal,
}

type indexed[T any] struct {
	index int
	value T
}

func sortIndexed[T any](items []indexed[T]) []T {
	sort.SliceStable(items, func(i, j int) bool { return items[i].index < items[j].index })
	values := make([]T, 0, len(items))
	for _, item := range items {
		values = append(values, item.value)
	}
	return values
}

// parser keeps the first error, reading goes on with defaults so that
// all keys can be checked in one pass
type parser struct {
	bb     blackboard.Registry
	dir    string
	err    error
	logger log.FieldLogger
}

func (p *parser) fail(section *ini.Section, key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%w : [%v] %v : %v", cansim.ErrConfig, section.Name(), key, err)
	}
}

func (p *parser) getString(section *ini.Section, key string) string {
	return strings.TrimSpace(section.Key(key).Value())
}

func (p *parser) getUint(section *ini.Section, key string, bitsize int) uint64 {
	if !section.HasKey(key) {
		return 0
	}
	v, err := strconv.ParseUint(p.getString(section, key), 0, bitsize)
	if err != nil {
		p.fail(section, key, err)
	}
	return v
}

func (p *parser) getInt(section *ini.Section, key string) int {
	if !section.HasKey(key) {
		return 0
	}
	v, err := strconv.ParseInt(p.getString(section, key), 0, 32)
	if err != nil {
		p.fail(section, key, err)
	}
	return int(v)
}

func (p *parser) getFloat(section *ini.Section, key string, def float64) float64 {
	if !section.HasKey(key) {
		return def
	}
	v, err := strconv.ParseFloat(p.getString(section, key), 64)
	if err != nil {
		p.fail(section, key, err)
		return def
	}
	return v
}

func (p *parser) getBool(section *ini.Section, key string) bool {
	if !section.HasKey(key) {
		return false
	}
	v, err := section.Key(key).Bool()
	if err != nil {
		p.fail(section, key, err)
	}
	return v
}

func (p *parser) bytecode(section *ini.Section, key string) conversion.Bytecode {
	if !section.HasKey(key) {
		return nil
	}
	return conversion.Bytecode(p.getString(section, key))
}

func lookupEnum[T any](p *parser, section *ini.Section, key string, values map[string]T, def T) T {
	if !section.HasKey(key) {
		return def
	}
	v, ok := values[strings.ToLower(p.getString(section, key))]
	if !ok {
		p.fail(section, key, fmt.Errorf("unknown value %q", p.getString(section, key)))
		return def
	}
	return v
}

// variable attaches the blackboard variable named by key
func (p *parser) variable(section *ini.Section, key string, dataType uint8) blackboard.ID {
	return p.attach(section, key, p.getString(section, key), dataType)
}

func (p *parser) attach(section *ini.Section, key string, name string, dataType uint8) blackboard.ID {
	if name == "" {
		return blackboard.InvalidID
	}
	id, err := p.bb.Attach(name, dataType)
	if err != nil {
		p.fail(section, key, err)
		return blackboard.InvalidID
	}
	return id
}

func (p *parser) selector(section *ini.Section, prefix string) object.Selector {
	return object.Selector{
		StartBit: p.getInt(section, prefix+"StartBit"),
		BitSize:  p.getInt(section, prefix+"BitSize"),
		Order:    lookupEnum(p, section, prefix+"Order", byteOrders, object.LSBFirst),
	}
}

// LoadINI reads a channel description. file can be a path, an
// *os.File or a []byte. Signal variables are attached to bb.
func LoadINI(file any, bb blackboard.Registry, logger log.FieldLogger) ([]object.ChannelSpec, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	description, err := ini.Load(file)
	if err != nil {
		return nil, fmt.Errorf("%w : %v", cansim.ErrConfig, err)
	}
	p := &parser{bb: bb, logger: logger.WithField("service", "[CONFIG]")}
	if path, ok := file.(string); ok {
		p.dir = filepath.Dir(path)
	}

	var channels []indexed[*object.ChannelSpec]
	objects := make(map[int][]indexed[*object.ObjectSpec])
	signals := make(map[[2]int][]indexed[object.Signal])

	for _, section := range description.Sections() {
		name := section.Name()
		if m := matchSignal.FindStringSubmatch(name); m != nil {
			c, o, s := atoi(m[1]), atoi(m[2]), atoi(m[3])
			signals[[2]int{c, o}] = append(signals[[2]int{c, o}], indexed[object.Signal]{s, p.signal(section)})
			continue
		}
		if m := matchObject.FindStringSubmatch(name); m != nil {
			c, o := atoi(m[1]), atoi(m[2])
			objects[c] = append(objects[c], indexed[*object.ObjectSpec]{o, p.object(section)})
			continue
		}
		if m := matchChannel.FindStringSubmatch(name); m != nil {
			spec, err := p.channel(section)
			if err != nil {
				return nil, err
			}
			channels = append(channels, indexed[*object.ChannelSpec]{atoi(m[1]), spec})
		}
	}
	if p.err != nil {
		return nil, p.err
	}

	known := make(map[int]bool)
	for _, c := range channels {
		known[c.index] = true
	}
	for c := range objects {
		if !known[c] {
			p.logger.Warnf("objects of undefined channel %v ignored", c)
		}
	}

	specs := make([]object.ChannelSpec, 0, len(channels))
	for _, c := range channels {
		sort.SliceStable(objects[c.index], func(i, j int) bool { return objects[c.index][i].index < objects[c.index][j].index })
		for _, o := range objects[c.index] {
			o.value.Signals = append(o.value.Signals, sortIndexed(signals[[2]int{c.index, o.index}])...)
			c.value.Objects = append(c.value.Objects, *o.value)
		}
	}
	for _, spec := range sortIndexed(channels) {
		specs = append(specs, *spec)
	}
	return specs, nil
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func (p *parser) channel(section *ini.Section) (*object.ChannelSpec, error) {
	spec := &object.ChannelSpec{
		Name:      p.getString(section, "Name"),
		Interface: p.getString(section, "Interface"),
		Device:    p.getString(section, "Device"),
		FD:        p.getBool(section, "FD"),
		TxEnabled: p.getBool(section, "TxEnabled"),
	}
	if spec.Name == "" {
		spec.Name = section.Name()
	}
	path := p.getString(section, "DBC")
	if path == "" {
		return spec, nil
	}
	if !filepath.IsAbs(path) && p.dir != "" {
		path = filepath.Join(p.dir, path)
	}
	imported, err := ImportDBCFile(path, p.bb, DBCOptions{
		Node:   p.getString(section, "DBCNode"),
		Period: p.getInt(section, "DBCPeriod"),
		FD:     spec.FD,
	})
	if err != nil {
		return nil, err
	}
	p.logger.Infof("imported %v objects from %v", len(imported), path)
	spec.Objects = append(spec.Objects, imported...)
	return spec, nil
}

func (p *parser) object(section *ini.Section) *object.ObjectSpec {
	spec := &object.ObjectSpec{
		Name:      p.getString(section, "Name"),
		ID:        uint32(p.getUint(section, "ID", 32)),
		Extended:  p.getBool(section, "Extended"),
		FD:        p.getBool(section, "FD"),
		BRS:       p.getBool(section, "BRS"),
		Size:      p.getInt(section, "Size"),
		Direction: lookupEnum(p, section, "Direction", directions, object.DirRx),
		Type:      lookupEnum(p, section, "Type", objectTypes, object.TypeNormal),
		Trigger: object.Trigger{
			Mode:           lookupEnum(p, section, "Trigger", triggerModes, object.TriggerCyclic),
			Period:         p.getInt(section, "Period"),
			PeriodEquation: p.bytecode(section, "PeriodEquation"),
			Delay:          p.getInt(section, "Delay"),
			Event:          p.bytecode(section, "Event"),
		},
		Before:    p.bytecode(section, "Before"),
		After:     p.bytecode(section, "After"),
		MuxValue:  uint32(p.getUint(section, "MuxValue", 32)),
		Container: p.getString(section, "Container"),
	}
	if spec.Name == "" {
		spec.Name = section.Name()
	}
	spec.IDVariable = p.variable(section, "IDVariable", blackboard.UNSIGNED32)
	if spec.Type == object.TypeMux {
		spec.MuxSelector = p.selector(section, "Mux")
	}
	if spec.Type.IsJ1939() {
		spec.J1939 = object.J1939Info{
			DLCVariable: p.variable(section, "DLCVariable", blackboard.UNSIGNED8),
			DestAddress: uint8(p.getUint(section, "DestAddress", 8)),
			DestVar:     p.variable(section, "DestVariable", blackboard.UNSIGNED8),
		}
		if !section.HasKey("DestAddress") {
			spec.J1939.DestAddress = pgn.GlobalAddress
		}
	}
	if section.HasKey("Init") {
		payload, err := hex.DecodeString(strings.ReplaceAll(p.getString(section, "Init"), " ", ""))
		if err != nil {
			p.fail(section, "Init", err)
		}
		spec.Init = payload
	}
	return spec
}

func (p *parser) signal(section *ini.Section) object.Signal {
	dataType := blackboard.REAL64
	if section.HasKey("DataType") {
		var err error
		dataType, err = blackboard.ParseDataType(p.getString(section, "DataType"))
		if err != nil {
			p.fail(section, "DataType", err)
		}
	}
	sig := object.Signal{
		Name:     p.getString(section, "Name"),
		StartBit: p.getInt(section, "StartBit"),
		BitSize:  p.getInt(section, "BitSize"),
		Order:    lookupEnum(p, section, "Order", byteOrders, object.LSBFirst),
		Signed:   p.getBool(section, "Signed"),
		Float:    p.getBool(section, "Float"),
	}
	if sig.Name == "" {
		sig.Name = section.Name()
	}
	variable := p.getString(section, "Variable")
	if variable == "" {
		variable = sig.Name
	}
	sig.Variable = p.attach(section, "Variable", variable, dataType)

	sig.Conversion = conversion.Conversion{
		Type:     lookupEnum(p, section, "Conversion", conversionTypes, conversion.TypeNone),
		ID:       p.getInt(section, "ConversionID"),
		Factor:   p.getFloat(section, "Factor", 1),
		Offset:   p.getFloat(section, "Offset", 0),
		Equation: p.bytecode(section, "Equation"),
	}
	if sig.Conversion.Type == conversion.TypeCurve {
		sig.Conversion.Curve = p.curve(section, "Curve")
	}

	sig.Mux.Kind = lookupEnum(p, section, "Mux", muxKinds, object.MuxNone)
	switch sig.Mux.Kind {
	case object.MuxSignal:
		sig.Mux.Value = p.getUint(section, "MuxValue", 64)
		sig.Mux.Selector = p.selector(section, "Mux")
	case object.MuxBySignal:
		sig.Mux.Value = p.getUint(section, "MuxValue", 64)
		sig.Mux.Variable = p.variable(section, "MuxVariable", blackboard.UNSIGNED32)
	}

	if section.HasKey("StartValue") {
		sig.HasStartValue = true
		sig.StartValue = cansim.Float(p.getFloat(section, "StartValue", 0))
	}
	return sig
}

// curve reads "x0:y0, x1:y1, ..." sorted by x
func (p *parser) curve(section *ini.Section, key string) []conversion.Point {
	var points []conversion.Point
	for _, pair := range strings.Split(p.getString(section, key), ",") {
		xy := strings.Split(strings.TrimSpace(pair), ":")
		if len(xy) != 2 {
			p.fail(section, key, fmt.Errorf("bad point %q", pair))
			return nil
		}
		x, errX := strconv.ParseFloat(strings.TrimSpace(xy[0]), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(xy[1]), 64)
		if errX != nil || errY != nil {
			p.fail(section, key, fmt.Errorf("bad point %q", pair))
			return nil
		}
		points = append(points, conversion.Point{X: x, Y: y})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].X < points[j].X })
	return points
}
