package manipulator

import (
	"container/heap"
	"sync"

	"github.com/cosimkit/cosim/slave"
	"github.com/cosimkit/cosim/timeline"
	"github.com/cosimkit/cosim/variable"
)

// VariableAction names the single variable a scenario Event mutates: a
// slave, variable reference and type, and either a fixed target value or
// an arbitrary override function.
type VariableAction struct {
	Simulator variable.SimulatorIndex
	Reference variable.Reference
	Type      variable.Type
	// Target, if non-nil, overrides the variable to a fixed value.
	Target *variable.Value
	// Function, if Target is nil, overrides the variable via an arbitrary
	// transform of its would-be value.
	Function slave.InputManipulator
}

func (a VariableAction) manipulator() slave.InputManipulator {
	if a.Target != nil {
		target := *a.Target
		return func(variable.Value) variable.Value { return target }
	}
	return a.Function
}

// Event is a single scheduled scenario action.
type Event struct {
	ID          int64
	TriggerTime timeline.Duration // relative to the scenario's start time
	Action      VariableAction
}

// ScenarioManager holds a set of time-stamped events and fires each one at
// most once, in ascending (TriggerTime, ID) order, as its StepCommencing
// deadline passes.
type ScenarioManager struct {
	mu        sync.Mutex
	startTime timeline.TimePoint
	started   bool
	pending   eventHeap
	executed  []*Event
	nextID    int64
	adapters  map[variable.SimulatorIndex]*slave.Adapter
}

// NewScenarioManager returns an empty scenario manager. Its start time is
// fixed to the TimePoint of the first StepCommencing call it observes, or
// can be pinned explicitly via SetStartTime before that.
func NewScenarioManager() *ScenarioManager {
	return &ScenarioManager{}
}

// SetStartTime pins the scenario's start time explicitly; if never called,
// the first StepCommencing call pins it instead.
func (s *ScenarioManager) SetStartTime(t timeline.TimePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTime = t
	s.started = true
}

// AddEvent schedules ev to fire once its TriggerTime (relative to the
// scenario start time) has passed. Returns an assigned event ID if ev.ID
// is zero.
func (s *ScenarioManager) AddEvent(ev Event) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == 0 {
		s.nextID++
		ev.ID = s.nextID
	}
	e := ev
	heap.Push(&s.pending, &e)
	return e.ID
}

// Pending returns the number of events not yet executed.
func (s *ScenarioManager) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Executed returns the events that have already fired, in firing order.
func (s *ScenarioManager) Executed() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.executed))
	for i, e := range s.executed {
		out[i] = *e
	}
	return out
}

// SlaveAdded records adapter under sim, so that StepCommencing can install
// the manipulators of events whose VariableAction.Simulator is sim. Events
// aimed at a simulator that was never added have no effect.
func (s *ScenarioManager) SlaveAdded(sim variable.SimulatorIndex, adapter *slave.Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adapters == nil {
		s.adapters = make(map[variable.SimulatorIndex]*slave.Adapter)
	}
	s.adapters[sim] = adapter
}

// StepCommencing executes, in ascending (TriggerTime, ID) order, every
// pending event whose TriggerTime has passed relative to t and the
// scenario's start time.
//
// Events compose: multiple events targeting the same (type, ref) each
// append to that reference's manipulator chain in firing order rather than
// replacing the previous one, so e.g. a step-change event followed by a
// ramp event both take effect on the delivered value, in the order they
// fired. An event carrying neither a Target nor a Function clears the
// chain for its (type, ref) instead of appending a no-op.
func (s *ScenarioManager) StepCommencing(t timeline.TimePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.startTime = t
		s.started = true
	}
	elapsed := t.Sub(s.startTime)
	for len(s.pending) > 0 && s.pending[0].TriggerTime <= elapsed {
		ev := heap.Pop(&s.pending).(*Event)
		if adapter, ok := s.adapters[ev.Action.Simulator]; ok {
			if ev.Action.Target == nil && ev.Action.Function == nil {
				adapter.RemoveInputManipulators(ev.Action.Type, ev.Action.Reference)
			} else if adapter.IsExposedForSetting(ev.Action.Type, ev.Action.Reference) {
				adapter.AppendInputManipulator(ev.Action.Type, ev.Action.Reference, ev.Action.manipulator())
			}
		}
		s.executed = append(s.executed, ev)
	}
}

type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].TriggerTime != h[j].TriggerTime {
		return h[i].TriggerTime < h[j].TriggerTime
	}
	return h[i].ID < h[j].ID
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(*Event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
