package execution

import (
	"github.com/cosimkit/cosim/function"
	"github.com/cosimkit/cosim/variable"
)

// FunctionAdapter addresses one function.Instance's IO groups as a flat
// space of variable.Reference values, so the connection graph can target a
// function's ports exactly as it targets a slave's: input group elements
// are numbered first (in group order), output group elements continue the
// same numbering immediately after.
type FunctionAdapter struct {
	index    variable.FunctionIndex
	inst     *function.Instance
	inStart  []int
	outStart []int
	totalIn  int
}

func newFunctionAdapter(index variable.FunctionIndex, inst *function.Instance) *FunctionAdapter {
	fa := &FunctionAdapter{index: index, inst: inst}
	offset := 0
	for g := 0; g < inst.InputGroups(); g++ {
		fa.inStart = append(fa.inStart, offset)
		offset += inst.InputGroupSize(g)
	}
	fa.totalIn = offset
	for g := 0; g < inst.OutputGroups(); g++ {
		fa.outStart = append(fa.outStart, offset)
		offset += inst.OutputGroupSize(g)
	}
	return fa
}

// Index returns the function index this adapter was constructed with.
func (fa *FunctionAdapter) Index() variable.FunctionIndex { return fa.index }

// Instance returns the wrapped function instance.
func (fa *FunctionAdapter) Instance() *function.Instance { return fa.inst }

// InputID returns the variable.ID addressing element elem of input group g.
func (fa *FunctionAdapter) InputID(g, elem int) variable.ID {
	return variable.ID{Simulator: functionSimulatorIndex(fa.index), Reference: variable.Reference(fa.inStart[g] + elem)}
}

// OutputID returns the variable.ID addressing element elem of output
// group g.
func (fa *FunctionAdapter) OutputID(g, elem int) variable.ID {
	return variable.ID{Simulator: functionSimulatorIndex(fa.index), Reference: variable.Reference(fa.outStart[g] + elem)}
}

// SetValue writes value into the input port addressed by ref.
func (fa *FunctionAdapter) SetValue(ref variable.Reference, value variable.Value) {
	g, elem := locate(fa.inStart, int(ref))
	fa.inst.SetInputElement(g, elem, value)
}

// GetValue reads the output port addressed by ref, as of the last
// Calculate.
func (fa *FunctionAdapter) GetValue(_ variable.Type, ref variable.Reference) variable.Value {
	g, elem := locate(fa.outStart, int(ref))
	return fa.inst.OutputElement(g, elem)
}

// Calculate invokes the wrapped instance's Calculate exactly once.
func (fa *FunctionAdapter) Calculate() { fa.inst.Calculate() }

// IsInputRef reports whether ref addresses one of this function's input
// ports, as opposed to an output port.
func (fa *FunctionAdapter) IsInputRef(ref variable.Reference) bool { return int(ref) < fa.totalIn }

func locate(starts []int, flat int) (group, elem int) {
	for g := len(starts) - 1; g >= 0; g-- {
		if flat >= starts[g] {
			return g, flat - starts[g]
		}
	}
	return 0, flat
}

// functionSimulatorIndex maps a function index into the negative half of
// variable.SimulatorIndex's range, disjoint from the non-negative indices
// handed out to slaves, so a single connection.Graph can route between
// slave and function endpoints uniformly.
func functionSimulatorIndex(fn variable.FunctionIndex) variable.SimulatorIndex {
	return variable.SimulatorIndex(-(int64(fn) + 1))
}

func isFunctionEndpoint(id variable.ID) bool { return id.Simulator < 0 }

func functionIndexOf(id variable.ID) variable.FunctionIndex {
	return variable.FunctionIndex(-(int64(id.Simulator) + 1))
}
