package function_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosimkit/cosim/function"
	"github.com/cosimkit/cosim/variable"
)

func sumType() *function.Type {
	return &function.Type{
		Name: "vector_sum2",
		Parameters: []function.ParameterDescription{
			{Name: "dim", Min: 1, Max: 16},
		},
		Inputs: []function.IOGroupDescription{
			{Name: "a", Type: variable.TypeReal, SizePlaceholder: "dim"},
			{Name: "b", Type: variable.TypeReal, SizePlaceholder: "dim"},
		},
		Outputs: []function.IOGroupDescription{
			{Name: "sum", Type: variable.TypeReal, SizePlaceholder: "dim"},
		},
		Calculate: func(inputs [][]variable.Value) [][]variable.Value {
			a, b := inputs[0], inputs[1]
			out := make([]variable.Value, len(a))
			for i := range a {
				out[i] = variable.Real(a[i].Real() + b[i].Real())
			}
			return [][]variable.Value{out}
		},
	}
}

func TestInstantiateAndCalculate(t *testing.T) {
	inst, err := function.Instantiate(sumType(), map[string]variable.Value{"dim": variable.Integer(3)})
	require.NoError(t, err)

	inst.SetInput(0, []variable.Value{variable.Real(1), variable.Real(2), variable.Real(3)})
	inst.SetInput(1, []variable.Value{variable.Real(10), variable.Real(20), variable.Real(30)})
	inst.Calculate()

	out := inst.Outputs(0)
	require.Len(t, out, 3)
	assert.Equal(t, 11.0, out[0].Real())
	assert.Equal(t, 22.0, out[1].Real())
	assert.Equal(t, 33.0, out[2].Real())
}

func TestInstantiateDomainError(t *testing.T) {
	_, err := function.Instantiate(sumType(), map[string]variable.Value{"dim": variable.Integer(99)})
	require.Error(t, err)
}

func TestInstantiateMissingParameter(t *testing.T) {
	_, err := function.Instantiate(sumType(), map[string]variable.Value{})
	require.Error(t, err)
}
