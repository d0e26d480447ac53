package observer

import (
	"sync"

	"github.com/cosimkit/cosim/slave"
	"github.com/cosimkit/cosim/timeline"
	"github.com/cosimkit/cosim/variable"
)

// Sample is one recorded (step, time, value) triple for a single variable.
type Sample struct {
	Step  int64
	Time  timeline.TimePoint
	Value variable.Value
}

// ring is a fixed-capacity circular buffer of samples; once full, each
// push overwrites the oldest entry. Adapted from the fixed-capacity
// circular counter pattern in the retrieved rate-limiter sources, applied
// here to sample storage instead of request timestamps.
type ring struct {
	buf   []Sample
	start int
	count int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]Sample, capacity)}
}

func (r *ring) push(s Sample) {
	n := len(r.buf)
	idx := (r.start + r.count) % n
	if r.count < n {
		r.count++
	} else {
		r.start = (r.start + 1) % n
		idx = (r.start + n - 1) % n
	}
	r.buf[idx] = s
}

func (r *ring) samples() []Sample {
	out := make([]Sample, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

type seriesKey struct {
	sim variable.SimulatorIndex
	typ variable.Type
	ref variable.Reference
}

// TimeSeriesObserver retains, per variable, a bounded history of samples
// recorded on a per-variable decimated schedule: a variable with
// decimation factor n is sampled on every n-th simulator-step-complete it
// receives, independent of the master step size.
type TimeSeriesObserver struct {
	mu         sync.RWMutex
	capacity   int
	decimation map[seriesKey]int64 // 0 or 1 means "every step"
	counters   map[seriesKey]int64
	series     map[seriesKey]*ring
	adapters   map[variable.SimulatorIndex]*slave.Adapter
}

// NewTimeSeriesObserver returns an observer whose per-variable buffers hold
// up to capacity samples each (capacity < 1 is treated as 1).
func NewTimeSeriesObserver(capacity int) *TimeSeriesObserver {
	return &TimeSeriesObserver{
		capacity:   capacity,
		decimation: make(map[seriesKey]int64),
		counters:   make(map[seriesKey]int64),
		series:     make(map[seriesKey]*ring),
		adapters:   make(map[variable.SimulatorIndex]*slave.Adapter),
	}
}

var _ Observer = (*TimeSeriesObserver)(nil)

// RegisterAdapter lets the observer pull cached values for sim.
func (o *TimeSeriesObserver) RegisterAdapter(sim variable.SimulatorIndex, adapter *slave.Adapter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.adapters[sim] = adapter
}

// StartRecording begins recording ref (of type t, on sim) at the given
// decimation factor: 1 (or 0) records every step, n records every n-th
// step seen by this observer for that variable.
func (o *TimeSeriesObserver) StartRecording(sim variable.SimulatorIndex, t variable.Type, ref variable.Reference, decimation int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := seriesKey{sim, t, ref}
	o.decimation[key] = decimation
	o.counters[key] = 0
	o.series[key] = newRing(o.capacity)
}

// StopRecording discards the retained history for (sim, t, ref).
func (o *TimeSeriesObserver) StopRecording(sim variable.SimulatorIndex, t variable.Type, ref variable.Reference) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := seriesKey{sim, t, ref}
	delete(o.decimation, key)
	delete(o.counters, key)
	delete(o.series, key)
}

// Samples returns the currently retained samples for (sim, t, ref), oldest
// first. The second return is false if nothing is being recorded for it.
func (o *TimeSeriesObserver) Samples(sim variable.SimulatorIndex, t variable.Type, ref variable.Reference) ([]Sample, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.series[seriesKey{sim, t, ref}]
	if !ok {
		return nil, false
	}
	return r.samples(), true
}

func (o *TimeSeriesObserver) SimulatorAdded(variable.SimulatorIndex, slave.ModelDescription, timeline.TimePoint) {}

func (o *TimeSeriesObserver) SimulatorRemoved(sim variable.SimulatorIndex, _ timeline.TimePoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.adapters, sim)
	for key := range o.series {
		if key.sim == sim {
			delete(o.series, key)
			delete(o.decimation, key)
			delete(o.counters, key)
		}
	}
}

func (o *TimeSeriesObserver) VariablesConnected(variable.ID, variable.ID, timeline.TimePoint) {}
func (o *TimeSeriesObserver) VariableDisconnected(variable.ID, timeline.TimePoint)             {}
func (o *TimeSeriesObserver) SimulationInitialized(int64, timeline.TimePoint)                  {}
func (o *TimeSeriesObserver) StepComplete(int64, timeline.Duration, timeline.TimePoint)         {}
func (o *TimeSeriesObserver) StateRestored(int64, timeline.TimePoint)                           {}

func (o *TimeSeriesObserver) SimulatorStepComplete(sim variable.SimulatorIndex, lastStep int64, _ timeline.Duration, currentTime timeline.TimePoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	adapter, ok := o.adapters[sim]
	if !ok {
		return
	}
	snap := adapter.ExposedForGettingSnapshot()
	for typ, values := range snap {
		for ref, v := range values {
			key := seriesKey{sim, typ, ref}
			r, tracked := o.series[key]
			if !tracked {
				continue
			}
			o.counters[key]++
			n := o.decimation[key]
			if n > 1 && o.counters[key]%n != 0 {
				continue
			}
			r.push(Sample{Step: lastStep, Time: currentTime, Value: v})
		}
	}
}
