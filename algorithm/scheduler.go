package algorithm

import (
	"context"
	"sync"

	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"

	"github.com/cosimkit/cosim/cosimerr"
	"github.com/cosimkit/cosim/slave"
	"github.com/cosimkit/cosim/timeline"
	"github.com/cosimkit/cosim/variable"
)

// StepReport summarizes one Dispatch call: which slaves were eligible and
// stepped, each one's individual step_result, and the aggregate status
// (complete only if every stepped slave completed; failed if any failed;
// otherwise discard).
type StepReport struct {
	Stepped  []variable.SimulatorIndex
	Results  map[variable.SimulatorIndex]slave.StepResult
	Status   slave.StepResult
	FirstErr error
}

// Scheduler drives the fixed-step, per-slave-decimated, parallel-dispatch
// protocol: a base step size Δ₀ and per-slave decimation factor kᵢ (slave i
// steps every kᵢ invocations of the base step). It does not know about
// connections, functions, manipulators, or observers; callers compose it
// with those to build a full execution driver.
type Scheduler struct {
	cfg Config

	mu          sync.Mutex
	order       []variable.SimulatorIndex
	adapters    map[variable.SimulatorIndex]*slave.Adapter
	decimation  map[variable.SimulatorIndex]int64
	stepIndex   int64
	currentTime timeline.TimePoint
}

// NewScheduler builds a Scheduler from opts. WithBaseStep is mandatory.
func NewScheduler(opts ...Option) (*Scheduler, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		cfg:        cfg,
		adapters:   make(map[variable.SimulatorIndex]*slave.Adapter),
		decimation: make(map[variable.SimulatorIndex]int64),
	}, nil
}

// BaseStep returns the configured base step size Δ₀.
func (s *Scheduler) BaseStep() timeline.Duration { return s.cfg.baseStep }

// SetStartTime pins the scheduler's current_time to t. The execution calls
// it at setup, before any Dispatch/Advance, and again when restoring a
// snapshot.
func (s *Scheduler) SetStartTime(t timeline.TimePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTime = t
}

// CurrentTime returns the scheduler's current simulated time.
func (s *Scheduler) CurrentTime() timeline.TimePoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTime
}

// StepIndex returns the current step index n (the count of macro steps
// already advanced).
func (s *Scheduler) StepIndex() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepIndex
}

// SetStepIndex rewinds or fast-forwards the step index, e.g. to restore a
// previously saved snapshot's position alongside SetStartTime.
func (s *Scheduler) SetStepIndex(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepIndex = n
}

// AddSlave registers adapter under sim with decimation factor k (slave sim
// steps every k invocations of the base step). Adding a slave mid-simulation
// is permitted; it becomes eligible starting from the scheduler's current
// step index.
//
// k must be strictly positive; k <= 0 is a precondition violation and is
// rejected rather than coerced.
func (s *Scheduler) AddSlave(sim variable.SimulatorIndex, adapter *slave.Adapter, k int64) error {
	if k < 1 {
		return cosimerr.New(cosimerr.KindPreconditionViolated, "algorithm: decimation factor for simulator %d must be >= 1, got %d", sim, k)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.adapters[sim]; !exists {
		s.order = append(s.order, sim)
	}
	s.adapters[sim] = adapter
	s.decimation[sim] = k
	return nil
}

// RemoveSlave unregisters sim.
func (s *Scheduler) RemoveSlave(sim variable.SimulatorIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.adapters, sim)
	delete(s.decimation, sim)
	for i, o := range s.order {
		if o == sim {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// SlaveCount returns the number of currently registered slaves.
func (s *Scheduler) SlaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// InitFixedPointBound returns the iteration bound used by the
// initialization fixed-point loop: at least the number of registered
// slaves, scaled up to tolerate a few rounds of propagation through
// chained connections.
func (s *Scheduler) InitFixedPointBound() int64 {
	n := int64(s.SlaveCount())
	if n < 1 {
		n = 1
	}
	return n * 4
}

// Eligible returns the slaves due to step at the current step index,
// in insertion order: slave i is eligible iff stepIndex mod kᵢ == 0.
func (s *Scheduler) Eligible() []variable.SimulatorIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eligibleLocked()
}

func (s *Scheduler) eligibleLocked() []variable.SimulatorIndex {
	var out []variable.SimulatorIndex
	for _, sim := range s.order {
		if s.stepIndex%s.decimation[sim] == 0 {
			out = append(out, sim)
		}
	}
	return out
}

type stepOutcome struct {
	sim    variable.SimulatorIndex
	result slave.StepResult
	err    error
}

// Dispatch runs do_step on every eligible slave, touching each at most
// once, bounded to cfg.parallelism concurrent workers via errgroup, and
// joins all of them before returning. It does not advance the scheduler's
// step index or current time; call Advance after the caller's transfer
// phase completes.
func (s *Scheduler) Dispatch(ctx context.Context) (*StepReport, error) {
	s.mu.Lock()
	eligible := s.eligibleLocked()
	t := int64(s.currentTime)
	base := s.cfg.baseStep
	adapters := make(map[variable.SimulatorIndex]*slave.Adapter, len(eligible))
	decimation := make(map[variable.SimulatorIndex]int64, len(eligible))
	for _, sim := range eligible {
		adapters[sim] = s.adapters[sim]
		decimation[sim] = s.decimation[sim]
	}
	s.mu.Unlock()

	report := &StepReport{Results: make(map[variable.SimulatorIndex]slave.StepResult, len(eligible))}
	if len(eligible) == 0 {
		report.Status = slave.StepComplete
		return report, nil
	}

	done := make(chan struct{})
	defer close(done)

	eg, egCtx := errgroup.WithContext(ctx)
	if s.cfg.parallelism > 0 {
		eg.SetLimit(s.cfg.parallelism)
	}

	chans := make([]<-chan stepOutcome, 0, len(eligible))
	for _, sim := range eligible {
		sim := sim
		adapter := adapters[sim]
		dt := int64(base) * decimation[sim]
		ch := make(chan stepOutcome, 1)
		chans = append(chans, ch)
		eg.Go(func() error {
			defer close(ch)
			result, err := adapter.DoStep(egCtx, t, dt)
			ch <- stepOutcome{sim: sim, result: result, err: err}
			return nil
		})
	}

	for o := range channerics.Merge(done, chans...) {
		report.Stepped = append(report.Stepped, o.sim)
		report.Results[o.sim] = o.result
		if o.err != nil {
			if report.FirstErr == nil {
				report.FirstErr = cosimerr.Wrap(cosimerr.KindSlaveError, o.err, "do_step failed for simulator %d", o.sim)
			}
		}
	}
	if err := eg.Wait(); err != nil {
		return report, err
	}

	report.Status = aggregateStatus(report.Results, report.FirstErr)
	if report.Status == slave.StepFailed && report.FirstErr == nil {
		report.FirstErr = cosimerr.New(cosimerr.KindSlaveError, "do_step returned step_failed for one or more simulators")
	}
	if b := s.cfg.logger.Debug(); b.Enabled() {
		b.Int(`stepped`, len(report.Stepped)).Log(`macro step dispatch complete`)
	}
	if report.Status == slave.StepFailed {
		if b := s.cfg.logger.Error(); b.Enabled() {
			b.Log(`macro step dispatch failed`)
		}
		return report, report.FirstErr
	}
	return report, nil
}

func aggregateStatus(results map[variable.SimulatorIndex]slave.StepResult, firstErr error) slave.StepResult {
	if firstErr != nil {
		return slave.StepFailed
	}
	status := slave.StepComplete
	for _, r := range results {
		switch r {
		case slave.StepFailed:
			return slave.StepFailed
		case slave.StepDiscard:
			status = slave.StepDiscard
		}
	}
	return status
}

// Advance moves the scheduler forward by one macro step: increments the
// step index and advances current_time by the base step size.
func (s *Scheduler) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTime = s.currentTime.Add(s.cfg.baseStep)
	s.stepIndex++
}
