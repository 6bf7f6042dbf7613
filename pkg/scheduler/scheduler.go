// Package scheduler decides once per cycle which transmit objects are
// encoded and sent.
package scheduler

import (
	cansim "github.com/openxilenv/cansim"
	"github.com/openxilenv/cansim/pkg/conversion"
	"github.com/openxilenv/cansim/pkg/j1939"
	"github.com/openxilenv/cansim/pkg/object"
	log "github.com/sirupsen/logrus"
)

// Pending sends are coalesced above this count
const MaxPending = 2

// Encoder fills the payload of an object, see object.Codec
type Encoder interface {
	Encode(ch *object.Channel, obj *object.Object) *object.Object
}

type Scheduler struct {
	encoder Encoder
	engine  *conversion.Engine
	logger  log.FieldLogger
}

func New(encoder Encoder, engine *conversion.Engine, logger log.FieldLogger) *Scheduler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Scheduler{
		encoder: encoder,
		engine:  engine,
		logger:  logger.WithField("service", "[SCHED]"),
	}
}

// Process runs the trigger of a transmit object for one cycle and
// returns the encoded object to send, or nil if nothing is due.
// Contained parameter groups are only flagged for their container.
func (s *Scheduler) Process(ch *object.Channel, obj *object.Object) *object.Object {
	if !ch.TxEnabled || ch.Disabled || !obj.Direction.IsTx() {
		return nil
	}
	var target *object.Object
	switch obj.Trigger.Mode {
	case object.TriggerCyclic:
		if s.cyclic(obj) {
			target = s.encoder.Encode(ch, obj)
		}
	case object.TriggerEventStale:
		// Evaluated on the data of the previous encode
		if s.event(obj, false) {
			target = s.encoder.Encode(ch, obj)
			target.SnapshotOld()
		}
	case object.TriggerEventFresh:
		target = s.encoder.Encode(ch, obj)
		send := s.event(target, true)
		target.SnapshotOld()
		if !send {
			target = nil
		}
	case object.TriggerCyclicOrEvent:
		due := s.cyclic(obj)
		target = s.encoder.Encode(ch, obj)
		send := s.event(target, true)
		target.SnapshotOld()
		if !due && !send {
			target = nil
		}
	default:
		s.logger.Debugf("unknown trigger mode %v of %v", obj.Trigger.Mode, obj.Name)
	}
	if target == nil {
		return nil
	}

	switch target.Type {
	case object.TypeJ1939CPG:
		target.Runtime.NewData = true
		return nil
	case object.TypeJ1939MultiCPG:
		if j1939.Pack(target, ch.Members(target)) == 0 {
			return nil
		}
	}
	return target
}

// Retry requeues an object whose send failed
func (s *Scheduler) Retry(obj *object.Object) {
	if obj.Trigger.Mode == object.TriggerCyclic || obj.Trigger.Mode == object.TriggerCyclicOrEvent {
		if obj.Runtime.Pending < MaxPending {
			obj.Runtime.Pending++
		}
	}
}

// Period in cycles, an equation overrides the configured period
func (s *Scheduler) Period(obj *object.Object) int {
	period := obj.Trigger.Period
	if value, ok := s.engine.Execute(obj.Trigger.PeriodEquation, cansim.Int(int64(period)), obj); ok {
		period = int(value.Int64())
	}
	if period < 1 {
		period = 1
	}
	return period
}

func (s *Scheduler) cyclic(obj *object.Object) bool {
	period := s.Period(obj)
	r := &obj.Runtime
	r.PeriodCounter++
	if r.PeriodCounter >= period {
		r.PeriodCounter = 0
	}
	delay := obj.Trigger.Delay
	if delay >= period {
		delay = period - 1
	}
	if r.PeriodCounter == delay && r.Pending < MaxPending {
		r.Pending++
	}
	if r.Pending > 0 {
		r.Pending--
		return true
	}
	return false
}

// event evaluates the event predicate. Without an equation fresh data
// triggers when it differs from the last snapshot, stale data never does.
func (s *Scheduler) event(obj *object.Object, fresh bool) bool {
	if value, ok := s.engine.Execute(obj.Trigger.Event, cansim.Int(0), obj); ok {
		return value.IsTrue()
	}
	return fresh && obj.Changed()
}
