package slave_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosimkit/cosim/cosimerr"
	"github.com/cosimkit/cosim/slave"
	"github.com/cosimkit/cosim/variable"
)

type recordingSlave struct {
	real           map[variable.Reference]float64
	canSaveRestore bool
	released       []slave.StateHandle
}

func newRecordingSlave() *recordingSlave {
	return &recordingSlave{real: map[variable.Reference]float64{}, canSaveRestore: true}
}

func (s *recordingSlave) ModelDescription() slave.ModelDescription {
	return slave.ModelDescription{Name: "recording", CanSaveRestore: s.canSaveRestore}
}
func (s *recordingSlave) Setup(context.Context, variable.Value, variable.Value, bool, float64, bool) error {
	return nil
}
func (s *recordingSlave) StartSimulation(context.Context) error { return nil }
func (s *recordingSlave) EndSimulation(context.Context) error   { return nil }
func (s *recordingSlave) DoStep(context.Context, int64, int64) (slave.StepResult, error) {
	return slave.StepComplete, nil
}
func (s *recordingSlave) GetReal(_ context.Context, refs []variable.Reference) ([]float64, error) {
	out := make([]float64, len(refs))
	for i, r := range refs {
		out[i] = s.real[r]
	}
	return out, nil
}
func (s *recordingSlave) GetInteger(context.Context, []variable.Reference) ([]int64, error) { return nil, nil }
func (s *recordingSlave) GetBoolean(context.Context, []variable.Reference) ([]bool, error)  { return nil, nil }
func (s *recordingSlave) GetString(context.Context, []variable.Reference) ([]string, error) { return nil, nil }
func (s *recordingSlave) SetReal(_ context.Context, refs []variable.Reference, values []float64) error {
	for i, r := range refs {
		s.real[r] = values[i]
	}
	return nil
}
func (s *recordingSlave) SetInteger(context.Context, []variable.Reference, []int64) error { return nil }
func (s *recordingSlave) SetBoolean(context.Context, []variable.Reference, []bool) error  { return nil }
func (s *recordingSlave) SetString(context.Context, []variable.Reference, []string) error { return nil }
func (s *recordingSlave) SaveState(context.Context) (slave.StateHandle, error) {
	cp := make(map[variable.Reference]float64, len(s.real))
	for k, v := range s.real {
		cp[k] = v
	}
	return &cp, nil
}
func (s *recordingSlave) RestoreState(_ context.Context, h slave.StateHandle) error {
	s.real = *h.(*map[variable.Reference]float64)
	return nil
}
func (s *recordingSlave) ReleaseState(_ context.Context, h slave.StateHandle) error {
	s.released = append(s.released, h)
	return nil
}

func TestAdapterExposureQueries(t *testing.T) {
	a := slave.NewAdapter(1, newRecordingSlave())
	assert.False(t, a.IsExposedForGetting(variable.TypeReal, 0))
	assert.False(t, a.IsExposedForSetting(variable.TypeReal, 0))

	a.ExposeForGetting(variable.TypeReal, 0)
	a.ExposeForSetting(variable.TypeReal, 1)

	assert.True(t, a.IsExposedForGetting(variable.TypeReal, 0))
	assert.False(t, a.IsExposedForGetting(variable.TypeReal, 1))
	assert.True(t, a.IsExposedForSetting(variable.TypeReal, 1))
	assert.False(t, a.IsExposedForSetting(variable.TypeReal, 0))
}

func TestSetInputManipulatorReplacesChain(t *testing.T) {
	backing := newRecordingSlave()
	a := slave.NewAdapter(1, backing)

	addOne := func(v variable.Value) variable.Value { return variable.Real(v.Real() + 1) }
	timesTen := func(v variable.Value) variable.Value { return variable.Real(v.Real() * 10) }

	a.SetInputManipulator(variable.TypeReal, 0, addOne)
	a.SetInputManipulator(variable.TypeReal, 0, timesTen) // replaces addOne entirely

	a.SetReal(0, 5)
	require.NoError(t, a.RunTransferSet(context.Background()))
	assert.Equal(t, 50.0, backing.real[0]) // only timesTen applied, not addOne then timesTen

	a.SetInputManipulator(variable.TypeReal, 0, nil) // nil clears
	a.SetReal(0, 5)
	require.NoError(t, a.RunTransferSet(context.Background()))
	assert.Equal(t, 5.0, backing.real[0])
}

func TestAppendInputManipulatorComposesInOrder(t *testing.T) {
	backing := newRecordingSlave()
	a := slave.NewAdapter(1, backing)

	addOne := func(v variable.Value) variable.Value { return variable.Real(v.Real() + 1) }
	timesTen := func(v variable.Value) variable.Value { return variable.Real(v.Real() * 10) }

	a.AppendInputManipulator(variable.TypeReal, 0, addOne)
	a.AppendInputManipulator(variable.TypeReal, 0, timesTen)

	a.SetReal(0, 5)
	require.NoError(t, a.RunTransferSet(context.Background()))
	assert.Equal(t, 60.0, backing.real[0]) // (5+1)*10, both applied in insertion order

	a.RemoveInputManipulators(variable.TypeReal, 0)
	a.SetReal(0, 5)
	require.NoError(t, a.RunTransferSet(context.Background()))
	assert.Equal(t, 5.0, backing.real[0])
}

func TestAppendInputManipulatorIgnoresNil(t *testing.T) {
	backing := newRecordingSlave()
	a := slave.NewAdapter(1, backing)
	a.AppendInputManipulator(variable.TypeReal, 0, nil)

	a.SetReal(0, 3)
	require.NoError(t, a.RunTransferSet(context.Background()))
	assert.Equal(t, 3.0, backing.real[0])
}

func TestAdapterStateRefCounting(t *testing.T) {
	backing := newRecordingSlave()
	a := slave.NewAdapter(1, backing)
	backing.real[0] = 1.0

	handle, err := a.SaveState(context.Background())
	require.NoError(t, err)

	// AddStateRef bumps the reference count; the underlying slave's
	// ReleaseState must only fire once the count reaches zero.
	a.AddStateRef(handle)

	require.NoError(t, a.ReleaseState(context.Background(), handle))
	assert.Empty(t, backing.released, "first release should only drop one reference")

	require.NoError(t, a.ReleaseState(context.Background(), handle))
	assert.Len(t, backing.released, 1, "second release should drop the last reference")
}

func TestAdapterSaveRestoreUnsupported(t *testing.T) {
	backing := newRecordingSlave()
	backing.canSaveRestore = false
	a := slave.NewAdapter(1, backing)

	_, err := a.SaveState(context.Background())
	require.Error(t, err)
	kind, ok := cosimerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, cosimerr.KindUnsupportedFeature, kind)
}
