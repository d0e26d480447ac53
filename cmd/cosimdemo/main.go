// Command cosimdemo wires up two toy slaves through a gain (linear
// transformation) connection, then runs them to a stop time, printing the
// observed values along the way. It exercises the full driver: setup, the
// initialization fixed-point, stepping, and a save/restore round trip.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/cosimkit/cosim/connection"
	"github.com/cosimkit/cosim/execution"
	"github.com/cosimkit/cosim/observer"
	"github.com/cosimkit/cosim/slave"
	"github.com/cosimkit/cosim/timeline"
	"github.com/cosimkit/cosim/variable"
)

// rampSlave is a trivial slave whose single real output increases by one
// per do_step and whose single real input is just recorded.
type rampSlave struct {
	name   string
	output float64
	input  float64
}

func (s *rampSlave) ModelDescription() slave.ModelDescription {
	return slave.ModelDescription{
		Name:           s.name,
		CanSaveRestore: true,
		Variables: []variable.Description{
			{Name: "output", Reference: 0, Type: variable.TypeReal, Causality: variable.CausalityOutput},
			{Name: "input", Reference: 1, Type: variable.TypeReal, Causality: variable.CausalityInput},
		},
	}
}

func (s *rampSlave) Setup(context.Context, variable.Value, variable.Value, bool, float64, bool) error {
	return nil
}
func (s *rampSlave) StartSimulation(context.Context) error { return nil }
func (s *rampSlave) EndSimulation(context.Context) error   { return nil }
func (s *rampSlave) DoStep(context.Context, int64, int64) (slave.StepResult, error) {
	s.output++
	return slave.StepComplete, nil
}
func (s *rampSlave) GetReal(_ context.Context, refs []variable.Reference) ([]float64, error) {
	out := make([]float64, len(refs))
	for i, r := range refs {
		if r == 0 {
			out[i] = s.output
		}
	}
	return out, nil
}
func (s *rampSlave) GetInteger(context.Context, []variable.Reference) ([]int64, error) { return nil, nil }
func (s *rampSlave) GetBoolean(context.Context, []variable.Reference) ([]bool, error)  { return nil, nil }
func (s *rampSlave) GetString(context.Context, []variable.Reference) ([]string, error) { return nil, nil }
func (s *rampSlave) SetReal(_ context.Context, refs []variable.Reference, values []float64) error {
	for i, r := range refs {
		if r == 1 {
			s.input = values[i]
		}
	}
	return nil
}
func (s *rampSlave) SetInteger(context.Context, []variable.Reference, []int64) error { return nil }
func (s *rampSlave) SetBoolean(context.Context, []variable.Reference, []bool) error  { return nil }
func (s *rampSlave) SetString(context.Context, []variable.Reference, []string) error { return nil }

// rampState snapshots the pieces of a rampSlave's state that SaveState/
// RestoreState round-trip.
type rampState struct {
	output float64
	input  float64
}

func (s *rampSlave) SaveState(context.Context) (slave.StateHandle, error) {
	return &rampState{output: s.output, input: s.input}, nil
}
func (s *rampSlave) RestoreState(_ context.Context, h slave.StateHandle) error {
	st := h.(*rampState)
	s.output = st.output
	s.input = st.input
	return nil
}
func (s *rampSlave) ReleaseState(context.Context, slave.StateHandle) error { return nil }

func main() {
	ctx := context.Background()

	e, err := execution.New(execution.WithBaseStep(timeline.Duration(100_000_000))) // 0.1s
	if err != nil {
		log.Fatal(err)
	}

	source := &rampSlave{name: "source"}
	target := &rampSlave{name: "target"}
	simSource, err := e.AddSlave(source, 1)
	if err != nil {
		log.Fatal(err)
	}
	simTarget, err := e.AddSlave(target, 1)
	if err != nil {
		log.Fatal(err)
	}

	if err := e.ConnectVariables(connection.NewGain(
		variable.ID{Simulator: simSource, Reference: 0},
		variable.ID{Simulator: simTarget, Reference: 1},
		2.0,
	)); err != nil {
		log.Fatal(err)
	}

	lv := observer.NewLastValueObserver()
	if adapter, ok := e.Adapter(simSource); ok {
		lv.RegisterAdapter(simSource, adapter)
	}
	e.AddObserver(lv)

	if err := e.Setup(ctx); err != nil {
		log.Fatal(err)
	}
	if _, err := e.Initialize(ctx); err != nil {
		log.Fatal(err)
	}
	if err := e.StartSimulation(ctx); err != nil {
		log.Fatal(err)
	}

	if canceled, err := e.SimulateUntil(ctx, timeline.ToTimePoint(0.3)); err != nil {
		log.Fatal(err)
	} else if canceled {
		fmt.Println("simulation canceled early")
	}

	if v, ok := lv.GetReal(simSource, 0); ok {
		fmt.Printf("observed source output at t=%.1fs: %.1f (target input %.1f, gain 2.0)\n",
			e.CurrentTime().ToDoubleSeconds(), v, target.input)
	}

	snap, err := e.SaveState(ctx)
	if err != nil {
		log.Fatal(err)
	}
	if _, err := e.Step(ctx); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("after one more step, source output = %.1f\n", source.output)

	if err := e.RestoreState(ctx, snap); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("after restore, execution time = %.1fs, source output = %.1f\n",
		e.CurrentTime().ToDoubleSeconds(), source.output)
}
