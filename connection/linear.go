package connection

import (
	"github.com/cosimkit/cosim/cosimerr"
	"github.com/cosimkit/cosim/variable"
)

// LinearTransformation is a 1-to-1 real-valued connection delivering
// y = factor*x + offset. Overflow to +/-Inf is propagated, never clamped.
type LinearTransformation struct {
	source      variable.ID
	dest        variable.ID
	factor      float64
	offset      float64
	sourceValue float64
}

// NewLinearTransformation constructs a real-to-real connection applying
// y = factor*x + offset.
func NewLinearTransformation(source, dest variable.ID, factor, offset float64) *LinearTransformation {
	return &LinearTransformation{source: source, dest: dest, factor: factor, offset: offset}
}

// NewGain constructs a linear transformation with offset 0, i.e. a pure
// gain connection.
func NewGain(source, dest variable.ID, factor float64) *LinearTransformation {
	return NewLinearTransformation(source, dest, factor, 0)
}

func (l *LinearTransformation) Kind() Kind                  { return KindLinearTransformation }
func (l *LinearTransformation) Type() variable.Type         { return variable.TypeReal }
func (l *LinearTransformation) Sources() []variable.ID      { return []variable.ID{l.source} }
func (l *LinearTransformation) Destinations() []variable.ID { return []variable.ID{l.dest} }

func (l *LinearTransformation) SetSourceValue(id variable.ID, value variable.Value) {
	if id != l.source {
		return
	}
	l.sourceValue = value.Real()
}

func (l *LinearTransformation) GetDestinationValue(id variable.ID) (variable.Value, error) {
	if id != l.dest {
		return variable.Value{}, cosimerr.New(cosimerr.KindPreconditionViolated, "linear transformation has no destination %s", id)
	}
	return variable.Real(l.factor*l.sourceValue + l.offset), nil
}
