// Package function implements optional in-path computational blocks: typed
// IO groups whose sizes may be parameter placeholders, resolved at
// instantiation against a declared parameter value map.
package function

import (
	"github.com/cosimkit/cosim/cosimerr"
	"github.com/cosimkit/cosim/variable"
)

// ParameterDescription declares one named parameter of a FunctionType,
// with its legal range.
type ParameterDescription struct {
	Name string
	Min  float64
	Max  float64
}

// IOGroupDescription declares one input or output group. SizePlaceholder,
// if non-empty, names a ParameterDescription whose (integer) value at
// instantiation determines the group's arity; otherwise FixedSize is used
// directly.
type IOGroupDescription struct {
	Name            string
	Type            variable.Type
	FixedSize       int
	SizePlaceholder string
}

// CalculateFunc computes this function instance's outputs from its
// current inputs. It is invoked exactly once per transfer phase, after all
// inputs on all function instances have been set.
type CalculateFunc func(inputs [][]variable.Value) (outputs [][]variable.Value)

// Type describes a function's shape before instantiation: its IO groups
// (by description) and declared parameters. After Instantiate, the
// resulting Instance's IO layout is immutable.
type Type struct {
	Name       string
	Parameters []ParameterDescription
	Inputs     []IOGroupDescription
	Outputs    []IOGroupDescription
	Calculate  CalculateFunc
}

// Instance is a stateless, sized function block instantiated from a Type
// with concrete parameter values.
type Instance struct {
	typ        *Type
	parameters map[string]variable.Value
	inputs     [][]variable.Value
	outputs    [][]variable.Value
	inputSize  []int
	outputSize []int
}

// Instantiate resolves params (a map of parameter name to value) against
// typ's declared parameters, failing with cosimerr.KindDomainError if any
// value lies outside its declared [Min, Max], then resolves the size of
// every IO group (literal or parameter-placeholder-derived) to produce an
// immutable Instance.
func Instantiate(typ *Type, params map[string]variable.Value) (*Instance, error) {
	if typ.Calculate == nil {
		return nil, cosimerr.New(cosimerr.KindPreconditionViolated, "function %q has no Calculate implementation", typ.Name)
	}
	resolved := make(map[string]variable.Value, len(params))
	for _, pd := range typ.Parameters {
		v, ok := params[pd.Name]
		if !ok {
			return nil, cosimerr.New(cosimerr.KindDomainError, "function %q: missing required parameter %q", typ.Name, pd.Name)
		}
		var numeric float64
		switch v.Type() {
		case variable.TypeReal:
			numeric = v.Real()
		case variable.TypeInteger:
			numeric = float64(v.Integer())
		default:
			return nil, cosimerr.New(cosimerr.KindDomainError, "function %q: parameter %q must be numeric", typ.Name, pd.Name)
		}
		if numeric < pd.Min || numeric > pd.Max {
			return nil, cosimerr.New(cosimerr.KindDomainError, "function %q: parameter %q=%v out of range [%v, %v]", typ.Name, pd.Name, numeric, pd.Min, pd.Max)
		}
		resolved[pd.Name] = v
	}

	resolveSize := func(g IOGroupDescription) (int, error) {
		if g.SizePlaceholder == "" {
			return g.FixedSize, nil
		}
		v, ok := resolved[g.SizePlaceholder]
		if !ok {
			return 0, cosimerr.New(cosimerr.KindDomainError, "function %q: IO group %q references unknown parameter %q", typ.Name, g.Name, g.SizePlaceholder)
		}
		var size int
		switch v.Type() {
		case variable.TypeInteger:
			size = int(v.Integer())
		case variable.TypeReal:
			size = int(v.Real())
		default:
			return 0, cosimerr.New(cosimerr.KindDomainError, "function %q: size placeholder %q must be numeric", typ.Name, g.SizePlaceholder)
		}
		if size < 0 {
			return 0, cosimerr.New(cosimerr.KindDomainError, "function %q: resolved size %d for group %q is negative", typ.Name, size, g.Name)
		}
		return size, nil
	}

	inst := &Instance{
		typ:        typ,
		parameters: resolved,
		inputs:     make([][]variable.Value, len(typ.Inputs)),
		outputs:    make([][]variable.Value, len(typ.Outputs)),
		inputSize:  make([]int, len(typ.Inputs)),
		outputSize: make([]int, len(typ.Outputs)),
	}
	for i, g := range typ.Inputs {
		size, err := resolveSize(g)
		if err != nil {
			return nil, err
		}
		inst.inputSize[i] = size
		inst.inputs[i] = zeroSlice(g.Type, size)
	}
	for i, g := range typ.Outputs {
		size, err := resolveSize(g)
		if err != nil {
			return nil, err
		}
		inst.outputSize[i] = size
		inst.outputs[i] = zeroSlice(g.Type, size)
	}
	return inst, nil
}

func zeroSlice(t variable.Type, n int) []variable.Value {
	s := make([]variable.Value, n)
	for i := range s {
		s[i] = variable.Zero(t)
	}
	return s
}

// SetInput overwrites the values of input group i.
func (inst *Instance) SetInput(i int, values []variable.Value) {
	copy(inst.inputs[i], values)
}

// Outputs returns the values of output group i, as of the last Calculate.
func (inst *Instance) Outputs(i int) []variable.Value {
	return append([]variable.Value(nil), inst.outputs[i]...)
}

// InputGroups reports the number of input groups.
func (inst *Instance) InputGroups() int { return len(inst.inputs) }

// OutputGroups reports the number of output groups.
func (inst *Instance) OutputGroups() int { return len(inst.outputs) }

// InputGroupSize reports the resolved arity of input group i.
func (inst *Instance) InputGroupSize(i int) int { return inst.inputSize[i] }

// OutputGroupSize reports the resolved arity of output group i.
func (inst *Instance) OutputGroupSize(i int) int { return inst.outputSize[i] }

// InputType reports the element type of input group i.
func (inst *Instance) InputType(i int) variable.Type { return inst.typ.Inputs[i].Type }

// OutputType reports the element type of output group i.
func (inst *Instance) OutputType(i int) variable.Type { return inst.typ.Outputs[i].Type }

// SetInputElement overwrites a single scalar element of input group g.
func (inst *Instance) SetInputElement(g, elem int, v variable.Value) {
	inst.inputs[g][elem] = v
}

// OutputElement returns a single scalar element of output group g, as of
// the last Calculate.
func (inst *Instance) OutputElement(g, elem int) variable.Value {
	return inst.outputs[g][elem]
}

// Calculate invokes the underlying Type.Calculate exactly once, reading
// the currently-set inputs and overwriting the outputs.
func (inst *Instance) Calculate() {
	outputs := inst.typ.Calculate(inst.inputs)
	for i := range inst.outputs {
		if i < len(outputs) {
			copy(inst.outputs[i], outputs[i])
		}
	}
}
