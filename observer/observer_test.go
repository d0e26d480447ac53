package observer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosimkit/cosim/observer"
	"github.com/cosimkit/cosim/slave"
	"github.com/cosimkit/cosim/timeline"
	"github.com/cosimkit/cosim/variable"
)

type fakeSlave struct {
	real map[variable.Reference]float64
}

func newFakeSlave() *fakeSlave { return &fakeSlave{real: map[variable.Reference]float64{0: 1.0}} }

func (s *fakeSlave) ModelDescription() slave.ModelDescription { return slave.ModelDescription{Name: "fake"} }
func (s *fakeSlave) Setup(context.Context, variable.Value, variable.Value, bool, float64, bool) error {
	return nil
}
func (s *fakeSlave) StartSimulation(context.Context) error { return nil }
func (s *fakeSlave) EndSimulation(context.Context) error   { return nil }
func (s *fakeSlave) DoStep(context.Context, int64, int64) (slave.StepResult, error) {
	return slave.StepComplete, nil
}
func (s *fakeSlave) GetReal(_ context.Context, refs []variable.Reference) ([]float64, error) {
	out := make([]float64, len(refs))
	for i, r := range refs {
		out[i] = s.real[r]
	}
	return out, nil
}
func (s *fakeSlave) GetInteger(context.Context, []variable.Reference) ([]int64, error) { return nil, nil }
func (s *fakeSlave) GetBoolean(context.Context, []variable.Reference) ([]bool, error)  { return nil, nil }
func (s *fakeSlave) GetString(context.Context, []variable.Reference) ([]string, error) { return nil, nil }
func (s *fakeSlave) SetReal(context.Context, []variable.Reference, []float64) error    { return nil }
func (s *fakeSlave) SetInteger(context.Context, []variable.Reference, []int64) error   { return nil }
func (s *fakeSlave) SetBoolean(context.Context, []variable.Reference, []bool) error    { return nil }
func (s *fakeSlave) SetString(context.Context, []variable.Reference, []string) error   { return nil }
func (s *fakeSlave) SaveState(context.Context) (slave.StateHandle, error)              { return nil, nil }
func (s *fakeSlave) RestoreState(context.Context, slave.StateHandle) error             { return nil }
func (s *fakeSlave) ReleaseState(context.Context, slave.StateHandle) error             { return nil }

func TestLastValueObserverRefreshesOnStepComplete(t *testing.T) {
	backing := newFakeSlave()
	adapter := slave.NewAdapter(1, backing)
	adapter.ExposeForGetting(variable.TypeReal, 0)
	require.NoError(t, adapter.RunTransferGet(context.Background()))

	lv := observer.NewLastValueObserver()
	lv.RegisterAdapter(1, adapter)

	_, ok := lv.GetReal(1, 0)
	assert.False(t, ok)

	lv.SimulatorStepComplete(1, 0, timeline.Duration(0), timeline.ToTimePoint(0))
	v, ok := lv.GetReal(1, 0)
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	backing.real[0] = 2.0
	require.NoError(t, adapter.RunTransferGet(context.Background()))
	lv.SimulatorStepComplete(1, 1, timeline.Duration(0), timeline.ToTimePoint(0.1))
	v, ok = lv.GetReal(1, 0)
	require.True(t, ok)
	assert.Equal(t, 2.0, v)
}

func TestLastValueObserverHidesUnexposedReferences(t *testing.T) {
	backing := newFakeSlave()
	adapter := slave.NewAdapter(1, backing)
	adapter.ExposeForGetting(variable.TypeReal, 0)
	require.NoError(t, adapter.RunTransferGet(context.Background()))

	lv := observer.NewLastValueObserver()
	lv.RegisterAdapter(1, adapter)
	lv.SimulatorStepComplete(1, 0, timeline.Duration(0), timeline.ToTimePoint(0))

	// ref 0 was exposed for getting and has a cached value.
	v, ok := lv.GetReal(1, 0)
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	// ref 7 was never exposed for getting; the provider must not report it
	// even if some stale/default cache entry existed.
	_, ok = lv.GetReal(1, 7)
	assert.False(t, ok)
}

func TestTimeSeriesObserverDecimation(t *testing.T) {
	backing := newFakeSlave()
	adapter := slave.NewAdapter(1, backing)
	adapter.ExposeForGetting(variable.TypeReal, 0)

	ts := observer.NewTimeSeriesObserver(4)
	ts.RegisterAdapter(1, adapter)
	ts.StartRecording(1, variable.TypeReal, 0, 2) // every other step

	for step := int64(0); step < 4; step++ {
		backing.real[0] = float64(step)
		require.NoError(t, adapter.RunTransferGet(context.Background()))
		ts.SimulatorStepComplete(1, step, timeline.Duration(0), timeline.ToTimePoint(float64(step)*0.1))
	}

	samples, ok := ts.Samples(1, variable.TypeReal, 0)
	require.True(t, ok)
	require.Len(t, samples, 2)
	assert.Equal(t, int64(1), samples[0].Step)
	assert.Equal(t, int64(3), samples[1].Step)
}

func TestTimeSeriesObserverRingOverwritesOldest(t *testing.T) {
	backing := newFakeSlave()
	adapter := slave.NewAdapter(1, backing)
	adapter.ExposeForGetting(variable.TypeReal, 0)

	ts := observer.NewTimeSeriesObserver(2)
	ts.RegisterAdapter(1, adapter)
	ts.StartRecording(1, variable.TypeReal, 0, 1)

	for step := int64(0); step < 3; step++ {
		backing.real[0] = float64(step)
		require.NoError(t, adapter.RunTransferGet(context.Background()))
		ts.SimulatorStepComplete(1, step, timeline.Duration(0), timeline.ToTimePoint(float64(step)*0.1))
	}

	samples, ok := ts.Samples(1, variable.TypeReal, 0)
	require.True(t, ok)
	require.Len(t, samples, 2)
	assert.Equal(t, int64(1), samples[0].Step)
	assert.Equal(t, int64(2), samples[1].Step)
}
