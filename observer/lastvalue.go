package observer

import (
	"sync"

	"github.com/cosimkit/cosim/slave"
	"github.com/cosimkit/cosim/timeline"
	"github.com/cosimkit/cosim/variable"
)

// LastValueProvider is the read-only interface observers (and any other
// consumer) use to pull the most recently observed value of a variable,
// never touching the slave directly. Modeled on the split between a
// slave's live value provider and a cached last-value provider used by
// cosim implementations that decouple observation from stepping.
type LastValueProvider interface {
	GetReal(sim variable.SimulatorIndex, ref variable.Reference) (float64, bool)
	GetInteger(sim variable.SimulatorIndex, ref variable.Reference) (int64, bool)
	GetBoolean(sim variable.SimulatorIndex, ref variable.Reference) (bool, bool)
	GetString(sim variable.SimulatorIndex, ref variable.Reference) (string, bool)
}

// LastValueObserver maintains, per slave, four maps from variable
// reference to value, refreshed at every simulator-step-complete
// notification.
type LastValueObserver struct {
	mu    sync.RWMutex
	real  map[variable.SimulatorIndex]map[variable.Reference]float64
	ints  map[variable.SimulatorIndex]map[variable.Reference]int64
	bools map[variable.SimulatorIndex]map[variable.Reference]bool
	strs  map[variable.SimulatorIndex]map[variable.Reference]string

	adapters map[variable.SimulatorIndex]*slave.Adapter
}

// NewLastValueObserver returns an empty last-value observer.
func NewLastValueObserver() *LastValueObserver {
	return &LastValueObserver{
		real:     make(map[variable.SimulatorIndex]map[variable.Reference]float64),
		ints:     make(map[variable.SimulatorIndex]map[variable.Reference]int64),
		bools:    make(map[variable.SimulatorIndex]map[variable.Reference]bool),
		strs:     make(map[variable.SimulatorIndex]map[variable.Reference]string),
		adapters: make(map[variable.SimulatorIndex]*slave.Adapter),
	}
}

var _ Observer = (*LastValueObserver)(nil)
var _ LastValueProvider = (*LastValueObserver)(nil)

// RegisterAdapter hands the observer the adapter it should pull from for
// sim. The execution does not call it; the caller registers each adapter
// it wants observed (e.g. one obtained from Execution.Adapter).
func (o *LastValueObserver) RegisterAdapter(sim variable.SimulatorIndex, adapter *slave.Adapter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.adapters[sim] = adapter
	o.real[sim] = make(map[variable.Reference]float64)
	o.ints[sim] = make(map[variable.Reference]int64)
	o.bools[sim] = make(map[variable.Reference]bool)
	o.strs[sim] = make(map[variable.Reference]string)
}

func (o *LastValueObserver) SimulatorAdded(variable.SimulatorIndex, slave.ModelDescription, timeline.TimePoint) {}

func (o *LastValueObserver) SimulatorRemoved(sim variable.SimulatorIndex, _ timeline.TimePoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.adapters, sim)
	delete(o.real, sim)
	delete(o.ints, sim)
	delete(o.bools, sim)
	delete(o.strs, sim)
}

func (o *LastValueObserver) VariablesConnected(variable.ID, variable.ID, timeline.TimePoint)  {}
func (o *LastValueObserver) VariableDisconnected(variable.ID, timeline.TimePoint)              {}
func (o *LastValueObserver) SimulationInitialized(int64, timeline.TimePoint)                   {}
func (o *LastValueObserver) StepComplete(int64, timeline.Duration, timeline.TimePoint)          {}
func (o *LastValueObserver) StateRestored(int64, timeline.TimePoint)                            {}

func (o *LastValueObserver) SimulatorStepComplete(sim variable.SimulatorIndex, _ int64, _ timeline.Duration, _ timeline.TimePoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	adapter, ok := o.adapters[sim]
	if !ok {
		return
	}
	snap := adapter.ExposedForGettingSnapshot()
	for ref, v := range snap[variable.TypeReal] {
		o.real[sim][ref] = v.Real()
	}
	for ref, v := range snap[variable.TypeInteger] {
		o.ints[sim][ref] = v.Integer()
	}
	for ref, v := range snap[variable.TypeBoolean] {
		o.bools[sim][ref] = v.Boolean()
	}
	for ref, v := range snap[variable.TypeString] {
		o.strs[sim][ref] = v.String()
	}
}

// exposedForGetting reports whether sim's adapter, if registered, currently
// exposes ref (of type t) for getting. An unregistered sim has nothing to
// check against and is treated as exposed, so callers fall through to their
// own cache lookup.
func (o *LastValueObserver) exposedForGetting(sim variable.SimulatorIndex, t variable.Type, ref variable.Reference) bool {
	a, ok := o.adapters[sim]
	return !ok || a.IsExposedForGetting(t, ref)
}

func (o *LastValueObserver) GetReal(sim variable.SimulatorIndex, ref variable.Reference) (float64, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.exposedForGetting(sim, variable.TypeReal, ref) {
		return 0, false
	}
	v, ok := o.real[sim][ref]
	return v, ok
}

func (o *LastValueObserver) GetInteger(sim variable.SimulatorIndex, ref variable.Reference) (int64, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.exposedForGetting(sim, variable.TypeInteger, ref) {
		return 0, false
	}
	v, ok := o.ints[sim][ref]
	return v, ok
}

func (o *LastValueObserver) GetBoolean(sim variable.SimulatorIndex, ref variable.Reference) (bool, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.exposedForGetting(sim, variable.TypeBoolean, ref) {
		return false, false
	}
	v, ok := o.bools[sim][ref]
	return v, ok
}

func (o *LastValueObserver) GetString(sim variable.SimulatorIndex, ref variable.Reference) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.exposedForGetting(sim, variable.TypeString, ref) {
		return "", false
	}
	v, ok := o.strs[sim][ref]
	return v, ok
}
