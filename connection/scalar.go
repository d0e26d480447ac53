package connection

import (
	"github.com/cosimkit/cosim/cosimerr"
	"github.com/cosimkit/cosim/variable"
)

// Scalar is a 1-to-1 identity connection: source and destination types
// must match exactly, and the delivered value equals the last source
// value.
type Scalar struct {
	typ    variable.Type
	source variable.ID
	dest   variable.ID
	value  variable.Value
}

// NewScalar constructs a 1-to-1 identity connection of type t from source
// to dest.
func NewScalar(t variable.Type, source, dest variable.ID) *Scalar {
	return &Scalar{typ: t, source: source, dest: dest, value: variable.Zero(t)}
}

func (s *Scalar) Kind() Kind                   { return KindScalar }
func (s *Scalar) Type() variable.Type          { return s.typ }
func (s *Scalar) Sources() []variable.ID       { return []variable.ID{s.source} }
func (s *Scalar) Destinations() []variable.ID  { return []variable.ID{s.dest} }

func (s *Scalar) SetSourceValue(id variable.ID, value variable.Value) {
	if id != s.source {
		return
	}
	s.value = value
}

func (s *Scalar) GetDestinationValue(id variable.ID) (variable.Value, error) {
	if id != s.dest {
		return variable.Value{}, cosimerr.New(cosimerr.KindPreconditionViolated, "scalar connection has no destination %s", id)
	}
	if s.value.Type() != s.typ {
		return variable.Value{}, cosimerr.New(cosimerr.KindInvalidSystemStructure,
			"scalar connection %s->%s: source type %v does not match destination type %v", s.source, s.dest, s.value.Type(), s.typ)
	}
	return s.value, nil
}
