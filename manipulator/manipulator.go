// Package manipulator implements an ordered manipulator pipeline: a chain
// of input mutators notified of new slaves and of every step's
// commencement, able to install or remove input manipulators on any slave
// adapter during that callback.
package manipulator

import (
	"github.com/cosimkit/cosim/slave"
	"github.com/cosimkit/cosim/timeline"
	"github.com/cosimkit/cosim/variable"
)

// Manipulator participates in the ordered pipeline below.
type Manipulator interface {
	// SlaveAdded is called once, in pipeline order, for every slave added
	// to the execution.
	SlaveAdded(sim variable.SimulatorIndex, adapter *slave.Adapter)
	// StepCommencing is called, in pipeline order, before do_step is
	// dispatched to slaves for the upcoming macro step. A manipulator may
	// install or remove input manipulators on any adapter it was given
	// via SlaveAdded; such changes affect the step about to run.
	StepCommencing(t timeline.TimePoint)
}

// Pipeline is the ordered list of Manipulators held by an execution.
type Pipeline struct {
	manipulators []Manipulator
}

// NewPipeline returns an empty pipeline.
func NewPipeline() *Pipeline { return &Pipeline{} }

// Add appends m to the end of the pipeline.
func (p *Pipeline) Add(m Manipulator) { p.manipulators = append(p.manipulators, m) }

// NotifySlaveAdded calls SlaveAdded on every manipulator, in pipeline
// order.
func (p *Pipeline) NotifySlaveAdded(sim variable.SimulatorIndex, adapter *slave.Adapter) {
	for _, m := range p.manipulators {
		m.SlaveAdded(sim, adapter)
	}
}

// StepCommencing calls StepCommencing on every manipulator, in pipeline
// order; this is phase 1 of a macro step.
func (p *Pipeline) StepCommencing(t timeline.TimePoint) {
	for _, m := range p.manipulators {
		m.StepCommencing(t)
	}
}

// Manipulators returns the pipeline's manipulators, in order.
func (p *Pipeline) Manipulators() []Manipulator {
	return append([]Manipulator(nil), p.manipulators...)
}
