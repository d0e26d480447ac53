package execution

import (
	"context"
	"sync"

	"github.com/cosimkit/cosim/algorithm"
	"github.com/cosimkit/cosim/connection"
	"github.com/cosimkit/cosim/cosimerr"
	"github.com/cosimkit/cosim/function"
	"github.com/cosimkit/cosim/manipulator"
	"github.com/cosimkit/cosim/observer"
	"github.com/cosimkit/cosim/slave"
	"github.com/cosimkit/cosim/timeline"
	"github.com/cosimkit/cosim/variable"
)

// Execution is the driver façade: it owns the slave adapters, the
// connection graph, the function stage, the manipulator pipeline, the
// observer fanout, and the fixed-step scheduler, and exposes the
// operations a caller actually drives a co-simulation through.
type Execution struct {
	cfg Config

	mu           sync.Mutex
	scheduler    *algorithm.Scheduler
	graph        *connection.Graph
	manipulators *manipulator.Pipeline
	observers    *observer.Fanout

	nextSim  variable.SimulatorIndex
	nextFunc variable.FunctionIndex

	adapters  map[variable.SimulatorIndex]*slave.Adapter
	functions map[variable.FunctionIndex]*FunctionAdapter

	initialValues map[variable.ID]variable.Value

	started     bool
	initialized bool

	// errState holds the error that aborted the most recent macro step, once
	// set. A non-nil errState means the execution has transitioned to the
	// error state and refuses further stepping until the caller reconstructs
	// it.
	errState error
}

// New builds an Execution from opts. WithBaseStep is mandatory.
func New(opts ...Option) (*Execution, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	sched, err := algorithm.NewScheduler(cfg.schedulerOptions()...)
	if err != nil {
		return nil, err
	}
	fanout := observer.NewFanout()
	fanout.OnPanic = func(observerIndex int, notification string, _ any) {
		if b := cfg.logger.Warning(); b.Enabled() {
			b.Int(`observer`, observerIndex).Log(`observer panic recovered during ` + notification)
		}
	}
	return &Execution{
		cfg:           cfg,
		scheduler:     sched,
		graph:         connection.NewGraph(),
		manipulators:  manipulator.NewPipeline(),
		observers:     fanout,
		adapters:      make(map[variable.SimulatorIndex]*slave.Adapter),
		functions:     make(map[variable.FunctionIndex]*FunctionAdapter),
		initialValues: make(map[variable.ID]variable.Value),
	}, nil
}

// AddSlave registers s with decimation factor k (k must be strictly
// positive; k <= 0 is rejected as a precondition violation), returning its
// assigned simulator index. AddSlave does not call the slave's setup, and
// neither do Step nor SimulateUntil: a slave added after Setup has run is
// set up only when the caller invokes Setup again, which re-delivers setup
// to every registered slave.
func (e *Execution) AddSlave(s slave.Slave, k int64) (variable.SimulatorIndex, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sim := e.nextSim
	adapter := slave.NewAdapter(sim, s)
	if err := e.scheduler.AddSlave(sim, adapter, k); err != nil {
		return 0, err
	}
	e.nextSim++
	e.adapters[sim] = adapter
	e.manipulators.NotifySlaveAdded(sim, adapter)
	e.observers.SimulatorAdded(sim, adapter.ModelDescription(), e.scheduler.CurrentTime())
	return sim, nil
}

// RemoveSlave unregisters sim, removing every connection touching it.
func (e *Execution) RemoveSlave(sim variable.SimulatorIndex) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.graph.RemoveTouching(sim)
	e.scheduler.RemoveSlave(sim)
	delete(e.adapters, sim)
	e.observers.SimulatorRemoved(sim, e.scheduler.CurrentTime())
}

// AddFunction instantiates typ with params and registers it, returning its
// function index and the adapter addressing its IO ports as variable.IDs
// usable in ConnectVariables.
func (e *Execution) AddFunction(typ *function.Type, params map[string]variable.Value) (variable.FunctionIndex, *FunctionAdapter, error) {
	inst, err := function.Instantiate(typ, params)
	if err != nil {
		return 0, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.nextFunc
	e.nextFunc++
	fa := newFunctionAdapter(idx, inst)
	e.functions[idx] = fa
	return idx, fa, nil
}

// ConnectVariables registers c in the connection graph, exposing every
// slave-owned source for getting and every slave-owned destination for
// setting, then notifies observers of each source/destination pair.
func (e *Execution) ConnectVariables(c connection.Connection) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.graph.Add(c); err != nil {
		return err
	}
	for _, src := range c.Sources() {
		if !isFunctionEndpoint(src) {
			if a, ok := e.adapters[src.Simulator]; ok {
				a.ExposeForGetting(c.Type(), src.Reference)
			}
		}
	}
	for _, dst := range c.Destinations() {
		if !isFunctionEndpoint(dst) {
			if a, ok := e.adapters[dst.Simulator]; ok {
				a.ExposeForSetting(c.Type(), dst.Reference)
			}
		}
	}
	t := e.scheduler.CurrentTime()
	for _, src := range c.Sources() {
		for _, dst := range c.Destinations() {
			e.observers.VariablesConnected(src, dst, t)
		}
	}
	return nil
}

// DisconnectVariable removes whichever connection currently drives dst.
func (e *Execution) DisconnectVariable(dst variable.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.graph.DriverOf(dst)
	if !ok {
		return cosimerr.New(cosimerr.KindPreconditionViolated, "disconnect_variable: %s is not driven", dst)
	}
	e.graph.Remove(c)
	e.observers.VariableDisconnected(dst, e.scheduler.CurrentTime())
	return nil
}

// SetInitialValue stages value for id, to be applied between setup and the
// initialization fixed-point. id must name a variable of causality
// parameter, calculated_parameter, or input.
func (e *Execution) SetInitialValue(id variable.ID, value variable.Value) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if isFunctionEndpoint(id) {
		return cosimerr.New(cosimerr.KindPreconditionViolated, "set_initial_value: %s addresses a function port, not a slave variable", id)
	}
	a, ok := e.adapters[id.Simulator]
	if !ok {
		return cosimerr.New(cosimerr.KindPreconditionViolated, "set_initial_value: unknown simulator %d", id.Simulator)
	}
	desc, ok := lookupVariable(a.ModelDescription(), id.Reference)
	if !ok {
		return cosimerr.New(cosimerr.KindPreconditionViolated, "set_initial_value: simulator %d has no variable %d", id.Simulator, id.Reference)
	}
	switch desc.Causality {
	case variable.CausalityParameter, variable.CausalityCalculatedParameter, variable.CausalityInput:
	default:
		return cosimerr.New(cosimerr.KindPreconditionViolated, "set_initial_value: variable %s has causality %s, not parameter/calculated_parameter/input", id, desc.Causality)
	}
	e.initialValues[id] = value
	return nil
}

func lookupVariable(desc slave.ModelDescription, ref variable.Reference) (variable.Description, bool) {
	for _, v := range desc.Variables {
		if v.Reference == ref {
			return v, true
		}
	}
	return variable.Description{}, false
}

// AddObserver appends o to the observer fanout.
func (e *Execution) AddObserver(o observer.Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers.Add(o)
}

// AddManipulator appends m to the manipulator pipeline, and immediately
// notifies it of every already-added slave.
func (e *Execution) AddManipulator(m manipulator.Manipulator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.manipulators.Add(m)
	for sim, a := range e.adapters {
		m.SlaveAdded(sim, a)
	}
}

// Setup delivers (start, stop?, tolerance?) to every slave and records the
// execution's start time. Must be called before Initialize.
func (e *Execution) Setup(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scheduler.SetStartTime(e.cfg.startTime)
	start := variable.Real(e.cfg.startTime.ToDoubleSeconds())
	var stop variable.Value
	hasStop := e.cfg.stopTime != nil
	if hasStop {
		stop = variable.Real(e.cfg.stopTime.ToDoubleSeconds())
	}
	var tolerance float64
	hasTolerance := e.cfg.tolerance != nil
	if hasTolerance {
		tolerance = *e.cfg.tolerance
	}
	for _, a := range e.adapters {
		if err := a.Setup(ctx, start, stop, hasStop, tolerance, hasTolerance); err != nil {
			return err
		}
	}
	return nil
}

// InitResult reports the outcome of Initialize.
type InitResult struct {
	Iterations int64
	Stagnated  bool
}

// Initialize applies every staged initial value, then runs the
// initialization fixed-point: repeatedly reading every slave's outputs,
// transferring them through the connection graph and function stage, and
// writing every slave's inputs, until no delivered value changes between
// two consecutive iterations (bitwise for numerics, string equality for
// strings) or the scheduler's iteration bound is reached. Reaching the
// bound without convergence is not itself an error; it is reported via
// Stagnated so the caller can log it.
func (e *Execution) Initialize(ctx context.Context) (InitResult, error) {
	e.mu.Lock()
	for id, v := range e.initialValues {
		a := e.adapters[id.Simulator]
		a.SetValue(id.Reference, v)
	}
	for _, a := range e.adapters {
		if err := a.RunTransferSet(ctx); err != nil {
			e.mu.Unlock()
			return InitResult{}, err
		}
	}
	bound := e.scheduler.InitFixedPointBound()
	e.mu.Unlock()

	var previous map[variable.ID]variable.Value
	var iterations int64
	for iterations = 0; iterations < bound; iterations++ {
		if err := ctx.Err(); err != nil {
			return InitResult{Iterations: iterations}, err
		}
		e.mu.Lock()
		delivered, err := e.runTransferOnceLocked(ctx)
		e.mu.Unlock()
		if err != nil {
			return InitResult{Iterations: iterations}, err
		}
		if previous != nil && sameValues(previous, delivered) {
			e.mu.Lock()
			e.initialized = true
			e.mu.Unlock()
			return InitResult{Iterations: iterations + 1}, nil
		}
		previous = delivered
	}
	e.mu.Lock()
	e.initialized = true
	if b := e.cfg.logger.Warning(); b.Enabled() {
		b.Int64(`bound`, bound).Log(`initialization fixed-point did not converge within the iteration bound`)
	}
	e.mu.Unlock()
	return InitResult{Iterations: bound, Stagnated: true}, nil
}

func sameValues(a, b map[variable.ID]variable.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for id, v := range a {
		other, ok := b[id]
		if !ok || !v.Equal(other) {
			return false
		}
	}
	return true
}

// StartSimulation calls start_simulation on every slave.
func (e *Execution) StartSimulation(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.adapters {
		if err := a.StartSimulation(ctx); err != nil {
			return err
		}
	}
	e.started = true
	return nil
}

// Step runs exactly one macro step: manipulator step_commencing, parallel
// slave dispatch, the transfer phase, time/step-index advance, and the
// observer notifications, in that order.
//
// The core never recovers silently from a slave error: if any eligible
// slave reports step_failed (or step_discard, which this fixed-step
// scheduler treats as a failure), the macro step is aborted before the
// transfer phase runs, the execution transitions to the error state, and
// every subsequent call to Step or SimulateUntil fails immediately without
// touching any slave.
func (e *Execution) Step(ctx context.Context) (*algorithm.StepReport, error) {
	e.mu.Lock()
	if e.errState != nil {
		err := e.errState
		e.mu.Unlock()
		return nil, err
	}
	t := e.scheduler.CurrentTime()
	lastStep := e.scheduler.StepIndex()
	if b := e.cfg.logger.Debug(); b.Enabled() {
		b.Int(`eligible`, len(e.scheduler.Eligible())).Log(`macro step commencing`)
	}
	e.manipulators.StepCommencing(t)
	e.mu.Unlock()

	report, err := e.scheduler.Dispatch(ctx)
	if err == nil && report != nil && report.Status != slave.StepComplete {
		err = cosimerr.New(cosimerr.KindSlaveError, "do_step reported %v for one or more simulators at step %d", report.Status, lastStep)
	}
	if err != nil {
		e.mu.Lock()
		e.errState = cosimerr.Wrap(cosimerr.KindSlaveError, err, "macro step %d aborted", lastStep)
		aborted := e.errState
		e.mu.Unlock()
		return report, aborted
	}

	e.mu.Lock()
	if _, tErr := e.runTransferOnceLocked(ctx); tErr != nil {
		e.mu.Unlock()
		return report, tErr
	}
	e.scheduler.Advance()
	stepSize := e.scheduler.BaseStep()
	currentTime := e.scheduler.CurrentTime()
	e.mu.Unlock()

	for _, sim := range report.Stepped {
		e.observers.SimulatorStepComplete(sim, lastStep, stepSize, currentTime)
	}
	e.observers.StepComplete(lastStep, stepSize, currentTime)
	return report, nil
}

// SimulateUntil runs successive macro steps until current_time reaches
// stop or ctx is canceled between steps, whichever comes first. It returns
// true if canceled before reaching stop.
func (e *Execution) SimulateUntil(ctx context.Context, stop timeline.TimePoint) (bool, error) {
	for {
		e.mu.Lock()
		current := e.scheduler.CurrentTime()
		e.mu.Unlock()
		if !current.Before(stop) {
			return false, nil
		}
		if err := ctx.Err(); err != nil {
			return true, nil
		}
		if _, err := e.Step(ctx); err != nil {
			return false, err
		}
	}
}

// runTransferOnceLocked performs the transfer phase described in §4.3/§4.4:
// outputs read first, then each connection's value pushed through any
// function stage before reaching its destination, then the manipulator and
// set chain. Caller must hold e.mu.
func (e *Execution) runTransferOnceLocked(ctx context.Context) (map[variable.ID]variable.Value, error) {
	for _, a := range e.adapters {
		if err := a.RunTransferGet(ctx); err != nil {
			return nil, err
		}
	}

	connections := e.graph.Connections()

	for _, c := range connections {
		if !destinationIsFunction(c) {
			continue
		}
		if err := e.pushConnection(c); err != nil {
			return nil, err
		}
	}
	for _, fa := range e.functions {
		fa.Calculate()
	}

	delivered := make(map[variable.ID]variable.Value)
	for _, c := range connections {
		if destinationIsFunction(c) {
			continue
		}
		if err := e.pushConnection(c); err != nil {
			return nil, err
		}
		for _, dst := range c.Destinations() {
			v, err := c.GetDestinationValue(dst)
			if err != nil {
				return nil, err
			}
			delivered[dst] = v
		}
	}

	for _, a := range e.adapters {
		if err := a.RunTransferSet(ctx); err != nil {
			return nil, err
		}
	}
	return delivered, nil
}

func destinationIsFunction(c connection.Connection) bool {
	dests := c.Destinations()
	return len(dests) > 0 && isFunctionEndpoint(dests[0])
}

func (e *Execution) pushConnection(c connection.Connection) error {
	for _, src := range c.Sources() {
		v, err := e.getEndpointValue(src, c.Type())
		if err != nil {
			return err
		}
		c.SetSourceValue(src, v)
	}
	for _, dst := range c.Destinations() {
		v, err := c.GetDestinationValue(dst)
		if err != nil {
			return err
		}
		if err := e.setEndpointValue(dst, v); err != nil {
			return err
		}
	}
	return nil
}

func (e *Execution) getEndpointValue(id variable.ID, t variable.Type) (variable.Value, error) {
	if isFunctionEndpoint(id) {
		fa, ok := e.functions[functionIndexOf(id)]
		if !ok {
			return variable.Value{}, cosimerr.New(cosimerr.KindInvalidSystemStructure, "transfer: unknown function endpoint %s", id)
		}
		if fa.IsInputRef(id.Reference) {
			return variable.Value{}, cosimerr.New(cosimerr.KindInvalidSystemStructure, "transfer: function endpoint %s is an input port, not an output", id)
		}
		return fa.GetValue(t, id.Reference), nil
	}
	a, ok := e.adapters[id.Simulator]
	if !ok {
		return variable.Value{}, cosimerr.New(cosimerr.KindInvalidSystemStructure, "transfer: unknown simulator %d", id.Simulator)
	}
	return a.GetValue(t, id.Reference), nil
}

func (e *Execution) setEndpointValue(id variable.ID, v variable.Value) error {
	if isFunctionEndpoint(id) {
		fa, ok := e.functions[functionIndexOf(id)]
		if !ok {
			return cosimerr.New(cosimerr.KindInvalidSystemStructure, "transfer: unknown function endpoint %s", id)
		}
		if !fa.IsInputRef(id.Reference) {
			return cosimerr.New(cosimerr.KindInvalidSystemStructure, "transfer: function endpoint %s is an output port, not an input", id)
		}
		fa.SetValue(id.Reference, v)
		return nil
	}
	a, ok := e.adapters[id.Simulator]
	if !ok {
		return cosimerr.New(cosimerr.KindInvalidSystemStructure, "transfer: unknown simulator %d", id.Simulator)
	}
	a.SetValue(id.Reference, v)
	return nil
}

// CurrentTime returns the execution's current simulated time.
func (e *Execution) CurrentTime() timeline.TimePoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scheduler.CurrentTime()
}

// Adapter returns the adapter registered for sim, for callers (e.g.
// observers at construction time) that need direct access.
func (e *Execution) Adapter(sim variable.SimulatorIndex) (*slave.Adapter, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.adapters[sim]
	return a, ok
}
