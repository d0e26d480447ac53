package execution_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosimkit/cosim/connection"
	"github.com/cosimkit/cosim/execution"
	"github.com/cosimkit/cosim/function"
	"github.com/cosimkit/cosim/slave"
	"github.com/cosimkit/cosim/timeline"
	"github.com/cosimkit/cosim/variable"
)

// gainSlave exposes one real output (ref 0, "value") that increments by 1
// each do_step, and one real input (ref 1, "in") that it simply records.
type gainSlave struct {
	value float64
	in    float64
}

func (s *gainSlave) ModelDescription() slave.ModelDescription {
	return slave.ModelDescription{
		Name: "gain",
		Variables: []variable.Description{
			{Name: "value", Reference: 0, Type: variable.TypeReal, Causality: variable.CausalityOutput},
			{Name: "in", Reference: 1, Type: variable.TypeReal, Causality: variable.CausalityInput},
		},
	}
}
func (s *gainSlave) Setup(context.Context, variable.Value, variable.Value, bool, float64, bool) error {
	return nil
}
func (s *gainSlave) StartSimulation(context.Context) error { return nil }
func (s *gainSlave) EndSimulation(context.Context) error   { return nil }
func (s *gainSlave) DoStep(context.Context, int64, int64) (slave.StepResult, error) {
	s.value++
	return slave.StepComplete, nil
}
func (s *gainSlave) GetReal(_ context.Context, refs []variable.Reference) ([]float64, error) {
	out := make([]float64, len(refs))
	for i, r := range refs {
		if r == 0 {
			out[i] = s.value
		}
	}
	return out, nil
}
func (s *gainSlave) GetInteger(context.Context, []variable.Reference) ([]int64, error) { return nil, nil }
func (s *gainSlave) GetBoolean(context.Context, []variable.Reference) ([]bool, error)  { return nil, nil }
func (s *gainSlave) GetString(context.Context, []variable.Reference) ([]string, error) { return nil, nil }
func (s *gainSlave) SetReal(_ context.Context, refs []variable.Reference, values []float64) error {
	for i, r := range refs {
		if r == 1 {
			s.in = values[i]
		}
	}
	return nil
}
func (s *gainSlave) SetInteger(context.Context, []variable.Reference, []int64) error { return nil }
func (s *gainSlave) SetBoolean(context.Context, []variable.Reference, []bool) error  { return nil }
func (s *gainSlave) SetString(context.Context, []variable.Reference, []string) error { return nil }
func (s *gainSlave) SaveState(context.Context) (slave.StateHandle, error)            { return nil, nil }
func (s *gainSlave) RestoreState(context.Context, slave.StateHandle) error           { return nil }
func (s *gainSlave) ReleaseState(context.Context, slave.StateHandle) error           { return nil }

func newExecution(t *testing.T) *execution.Execution {
	t.Helper()
	e, err := execution.New(execution.WithBaseStep(timeline.Duration(100_000_000))) // 0.1s
	require.NoError(t, err)
	return e
}

func TestScalarIdentityChain(t *testing.T) {
	e := newExecution(t)
	source := &gainSlave{}
	dest := &gainSlave{}
	simSource, err := e.AddSlave(source, 1)
	require.NoError(t, err)
	simDest, err := e.AddSlave(dest, 1)
	require.NoError(t, err)

	require.NoError(t, e.ConnectVariables(connection.NewScalar(variable.TypeReal,
		variable.ID{Simulator: simSource, Reference: 0},
		variable.ID{Simulator: simDest, Reference: 1},
	)))

	require.NoError(t, e.Setup(context.Background()))
	_, err = e.Initialize(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.StartSimulation(context.Background()))

	_, err = e.Step(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, source.value)
	assert.Equal(t, 1.0, dest.in)
}

func TestFunctionStageAdd(t *testing.T) {
	e := newExecution(t)
	a := &gainSlave{}
	b := &gainSlave{}
	out := &gainSlave{}
	simA, err := e.AddSlave(a, 1)
	require.NoError(t, err)
	simB, err := e.AddSlave(b, 1)
	require.NoError(t, err)
	simOut, err := e.AddSlave(out, 1)
	require.NoError(t, err)

	sumType := &function.Type{
		Name: "add2",
		Inputs: []function.IOGroupDescription{
			{Name: "x", Type: variable.TypeReal, FixedSize: 1},
			{Name: "y", Type: variable.TypeReal, FixedSize: 1},
		},
		Outputs: []function.IOGroupDescription{
			{Name: "z", Type: variable.TypeReal, FixedSize: 1},
		},
		Calculate: func(inputs [][]variable.Value) [][]variable.Value {
			return [][]variable.Value{{variable.Real(inputs[0][0].Real() + inputs[1][0].Real())}}
		},
	}
	_, fa, err := e.AddFunction(sumType, nil)
	require.NoError(t, err)

	require.NoError(t, e.ConnectVariables(connection.NewScalar(variable.TypeReal,
		variable.ID{Simulator: simA, Reference: 0}, fa.InputID(0, 0))))
	require.NoError(t, e.ConnectVariables(connection.NewScalar(variable.TypeReal,
		variable.ID{Simulator: simB, Reference: 0}, fa.InputID(1, 0))))
	require.NoError(t, e.ConnectVariables(connection.NewScalar(variable.TypeReal,
		fa.OutputID(0, 0), variable.ID{Simulator: simOut, Reference: 1})))

	require.NoError(t, e.Setup(context.Background()))
	_, err = e.Initialize(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.StartSimulation(context.Background()))

	_, err = e.Step(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2.0, out.in) // a.value=1, b.value=1 post-step, summed by the function
}

func TestDecimatedSimulateUntil(t *testing.T) {
	e := newExecution(t)
	fast := &gainSlave{}
	slow := &gainSlave{}
	_, err := e.AddSlave(fast, 1)
	require.NoError(t, err)
	_, err = e.AddSlave(slow, 2)
	require.NoError(t, err)

	require.NoError(t, e.Setup(context.Background()))
	_, err = e.Initialize(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.StartSimulation(context.Background()))

	canceled, err := e.SimulateUntil(context.Background(), timeline.ToTimePoint(0.4))
	require.NoError(t, err)
	assert.False(t, canceled)

	assert.Equal(t, 4.0, fast.value)
	assert.Equal(t, 2.0, slow.value)
}

func TestSaveRestoreState(t *testing.T) {
	e := newExecution(t)
	s := &stateSlave{}
	_, err := e.AddSlave(s, 1)
	require.NoError(t, err)

	require.NoError(t, e.Setup(context.Background()))
	_, err = e.Initialize(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.StartSimulation(context.Background()))

	_, err = e.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.value)

	snap, err := e.SaveState(context.Background())
	require.NoError(t, err)

	_, err = e.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, s.value)

	require.NoError(t, e.RestoreState(context.Background(), snap))
	assert.Equal(t, 1.0, s.value)
}

type stateSlave struct {
	gainSlave
}

func (s *stateSlave) ModelDescription() slave.ModelDescription {
	d := s.gainSlave.ModelDescription()
	d.CanSaveRestore = true
	return d
}
func (s *stateSlave) SaveState(context.Context) (slave.StateHandle, error) {
	v := s.value
	return &v, nil
}
func (s *stateSlave) RestoreState(_ context.Context, h slave.StateHandle) error {
	s.value = *h.(*float64)
	return nil
}
func (s *stateSlave) ReleaseState(context.Context, slave.StateHandle) error { return nil }

type failingGainSlave struct{ gainSlave }

func (s *failingGainSlave) DoStep(context.Context, int64, int64) (slave.StepResult, error) {
	return slave.StepFailed, nil
}

func TestStepEntersErrorStateOnSlaveFailure(t *testing.T) {
	e := newExecution(t)
	s := &failingGainSlave{}
	_, err := e.AddSlave(s, 1)
	require.NoError(t, err)

	require.NoError(t, e.Setup(context.Background()))
	_, err = e.Initialize(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.StartSimulation(context.Background()))

	_, err = e.Step(context.Background())
	require.Error(t, err)

	// The execution has transitioned to the error state: it refuses to step
	// further, and the same error is returned without touching the slave
	// again.
	_, err2 := e.Step(context.Background())
	require.Error(t, err2)
	assert.Equal(t, err, err2)
}

func TestRetainSnapshotReleasesIndependently(t *testing.T) {
	e := newExecution(t)
	s := &stateSlave{}
	_, err := e.AddSlave(s, 1)
	require.NoError(t, err)

	require.NoError(t, e.Setup(context.Background()))
	_, err = e.Initialize(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.StartSimulation(context.Background()))

	_, err = e.Step(context.Background())
	require.NoError(t, err)

	snap, err := e.SaveState(context.Background())
	require.NoError(t, err)
	retained := e.RetainSnapshot(snap)

	// Releasing the original must not invalidate the retained copy, since
	// RetainSnapshot bumped the underlying handles' reference counts.
	require.NoError(t, e.ReleaseState(context.Background(), snap))
	require.NoError(t, e.RestoreState(context.Background(), retained))
	assert.Equal(t, 1.0, s.value)
	require.NoError(t, e.ReleaseState(context.Background(), retained))
}

func TestAddSlaveRejectsNonPositiveDecimation(t *testing.T) {
	e := newExecution(t)
	_, err := e.AddSlave(&gainSlave{}, 0)
	require.Error(t, err)
}
