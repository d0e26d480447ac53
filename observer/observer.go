// Package observer implements a pull-based observer fanout: last-value
// and time-series observers, notified at step granularity, that read the
// cached values of a registered slave.Adapter through its read-only
// ExposedForGettingSnapshot (never mutating it, never calling the slave
// itself). Consumers read what LastValueObserver retains through the
// LastValueProvider interface.
package observer

import (
	"github.com/cosimkit/cosim/slave"
	"github.com/cosimkit/cosim/timeline"
	"github.com/cosimkit/cosim/variable"
)

// Observer receives the lifecycle and step notifications of an execution.
// Implementations must not mutate any slave; the observers in this package
// read only an adapter's cached values, via
// slave.Adapter.ExposedForGettingSnapshot.
type Observer interface {
	SimulatorAdded(sim variable.SimulatorIndex, desc slave.ModelDescription, t timeline.TimePoint)
	SimulatorRemoved(sim variable.SimulatorIndex, t timeline.TimePoint)
	VariablesConnected(source, dest variable.ID, t timeline.TimePoint)
	VariableDisconnected(dest variable.ID, t timeline.TimePoint)
	SimulationInitialized(firstStep int64, startTime timeline.TimePoint)
	StepComplete(lastStep int64, stepSize timeline.Duration, currentTime timeline.TimePoint)
	SimulatorStepComplete(sim variable.SimulatorIndex, lastStep int64, stepSize timeline.Duration, currentTime timeline.TimePoint)
	StateRestored(currentStep int64, currentTime timeline.TimePoint)
}

// PanicLogger receives a recovered panic from an observer callback, so it
// can be logged and swallowed rather than propagated. Nil is a valid,
// silent PanicLogger.
type PanicLogger func(observerIndex int, notification string, recovered any)

// Fanout holds the ordered list of observers for an execution and invokes
// them serially, recovering and logging any observer panic so it cannot
// corrupt simulation state.
type Fanout struct {
	observers []Observer
	OnPanic   PanicLogger
}

// NewFanout returns an empty observer fanout.
func NewFanout() *Fanout { return &Fanout{} }

// Add appends o to the fanout, in insertion order.
func (f *Fanout) Add(o Observer) { f.observers = append(f.observers, o) }

// Observers returns the registered observers, in insertion order.
func (f *Fanout) Observers() []Observer { return append([]Observer(nil), f.observers...) }

func (f *Fanout) notify(name string, fn func(Observer)) {
	for i, o := range f.observers {
		f.safeCall(i, name, func() { fn(o) })
	}
}

func (f *Fanout) safeCall(index int, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil && f.OnPanic != nil {
			f.OnPanic(index, name, r)
		}
	}()
	fn()
}

func (f *Fanout) SimulatorAdded(sim variable.SimulatorIndex, desc slave.ModelDescription, t timeline.TimePoint) {
	f.notify("simulator_added", func(o Observer) { o.SimulatorAdded(sim, desc, t) })
}

func (f *Fanout) SimulatorRemoved(sim variable.SimulatorIndex, t timeline.TimePoint) {
	f.notify("simulator_removed", func(o Observer) { o.SimulatorRemoved(sim, t) })
}

func (f *Fanout) VariablesConnected(source, dest variable.ID, t timeline.TimePoint) {
	f.notify("variables_connected", func(o Observer) { o.VariablesConnected(source, dest, t) })
}

func (f *Fanout) VariableDisconnected(dest variable.ID, t timeline.TimePoint) {
	f.notify("variable_disconnected", func(o Observer) { o.VariableDisconnected(dest, t) })
}

func (f *Fanout) SimulationInitialized(firstStep int64, startTime timeline.TimePoint) {
	f.notify("simulation_initialized", func(o Observer) { o.SimulationInitialized(firstStep, startTime) })
}

func (f *Fanout) StepComplete(lastStep int64, stepSize timeline.Duration, currentTime timeline.TimePoint) {
	f.notify("step_complete", func(o Observer) { o.StepComplete(lastStep, stepSize, currentTime) })
}

func (f *Fanout) SimulatorStepComplete(sim variable.SimulatorIndex, lastStep int64, stepSize timeline.Duration, currentTime timeline.TimePoint) {
	f.notify("simulator_step_complete", func(o Observer) { o.SimulatorStepComplete(sim, lastStep, stepSize, currentTime) })
}

func (f *Fanout) StateRestored(currentStep int64, currentTime timeline.TimePoint) {
	f.notify("state_restored", func(o Observer) { o.StateRestored(currentStep, currentTime) })
}
