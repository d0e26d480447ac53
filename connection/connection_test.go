package connection_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosimkit/cosim/connection"
	"github.com/cosimkit/cosim/variable"
)

func id(sim int64, ref uint32) variable.ID {
	return variable.ID{Simulator: variable.SimulatorIndex(sim), Reference: variable.Reference(ref)}
}

func TestScalarIdentity(t *testing.T) {
	src, dst := id(1, 0), id(2, 0)
	c := connection.NewScalar(variable.TypeReal, src, dst)

	v, err := c.GetDestinationValue(dst)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v.Real())

	c.SetSourceValue(src, variable.Real(5.0))
	v, err = c.GetDestinationValue(dst)
	require.NoError(t, err)
	assert.Equal(t, 5.0, v.Real())
}

func TestLinearTransformation(t *testing.T) {
	src, dst := id(1, 0), id(2, 0)
	c := connection.NewLinearTransformation(src, dst, 1.3, 50.0)
	c.SetSourceValue(src, variable.Real(2.0))
	v, err := c.GetDestinationValue(dst)
	require.NoError(t, err)
	assert.InDelta(t, 52.6, v.Real(), 1e-9)
}

func TestSumReal(t *testing.T) {
	a, b, c2 := id(1, 0), id(2, 0), id(3, 0)
	dst := id(4, 0)
	sum, err := connection.NewSum(variable.TypeReal, []variable.ID{a, b, c2}, dst)
	require.NoError(t, err)
	sum.SetSourceValue(a, variable.Real(1))
	sum.SetSourceValue(b, variable.Real(2))
	sum.SetSourceValue(c2, variable.Real(3))
	v, err := sum.GetDestinationValue(dst)
	require.NoError(t, err)
	assert.Equal(t, 6.0, v.Real())
}

func TestSumIntegerOverflow(t *testing.T) {
	a, b := id(1, 0), id(2, 0)
	dst := id(3, 0)
	sum, err := connection.NewSum(variable.TypeInteger, []variable.ID{a, b}, dst)
	require.NoError(t, err)
	sum.SetSourceValue(a, variable.Integer(1<<62))
	sum.SetSourceValue(b, variable.Integer(1<<62))
	_, err = sum.GetDestinationValue(dst)
	require.Error(t, err)
}

func TestVectorSum(t *testing.T) {
	v1 := []variable.ID{id(1, 0), id(1, 1), id(1, 2)}
	v2 := []variable.ID{id(2, 0), id(2, 1), id(2, 2)}
	v3 := []variable.ID{id(3, 0), id(3, 1), id(3, 2)}
	dst := []variable.ID{id(4, 0), id(4, 1), id(4, 2)}

	vs, err := connection.NewVectorSum(variable.TypeReal, [][]variable.ID{v1, v2, v3}, dst)
	require.NoError(t, err)

	set := func(group []variable.ID, vals [3]float64) {
		for i, id := range group {
			vs.SetSourceValue(id, variable.Real(vals[i]))
		}
	}
	set(v1, [3]float64{1, 2, 3})
	set(v2, [3]float64{4, 5, 6})
	set(v3, [3]float64{7, 8, 9})

	want := [3]float64{12, 15, 18}
	for i, d := range dst {
		got, err := vs.GetDestinationValue(d)
		require.NoError(t, err)
		assert.Equal(t, want[i], got.Real())
	}
}

func TestVectorSumArityMismatch(t *testing.T) {
	v1 := []variable.ID{id(1, 0), id(1, 1)}
	v2 := []variable.ID{id(2, 0)}
	dst := []variable.ID{id(4, 0), id(4, 1)}
	_, err := connection.NewVectorSum(variable.TypeReal, [][]variable.ID{v1, v2}, dst)
	require.Error(t, err)
}

func TestGraphSingleDriverInvariant(t *testing.T) {
	g := connection.NewGraph()
	src1, src2, dst := id(1, 0), id(2, 0), id(3, 0)
	c1 := connection.NewScalar(variable.TypeReal, src1, dst)
	require.NoError(t, g.Add(c1))

	c2 := connection.NewScalar(variable.TypeReal, src2, dst)
	err := g.Add(c2)
	require.Error(t, err)
}

func TestGraphRemoveTouching(t *testing.T) {
	g := connection.NewGraph()
	src, dst := id(1, 0), id(2, 0)
	c := connection.NewScalar(variable.TypeReal, src, dst)
	require.NoError(t, g.Add(c))

	removed := g.RemoveTouching(variable.SimulatorIndex(1))
	require.Len(t, removed, 1)
	_, ok := g.DriverOf(dst)
	assert.False(t, ok)
}
