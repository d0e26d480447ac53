package connection

import (
	"math"

	"github.com/cosimkit/cosim/cosimerr"
	"github.com/cosimkit/cosim/variable"
)

// Sum is an N-to-1 connection delivering the arithmetic sum of its
// sources, all of which must share a common numeric type (real or
// integer). Integer overflow on summation is an error, not wrap-around.
type Sum struct {
	typ     variable.Type
	sources []variable.ID
	dest    variable.ID
	values  map[variable.ID]variable.Value
}

// NewSum constructs an N-to-1 sum connection of type t (TypeReal or
// TypeInteger).
func NewSum(t variable.Type, sources []variable.ID, dest variable.ID) (*Sum, error) {
	if t != variable.TypeReal && t != variable.TypeInteger {
		return nil, cosimerr.New(cosimerr.KindInvalidSystemStructure, "sum connection requires a numeric type, got %v", t)
	}
	if len(sources) == 0 {
		return nil, cosimerr.New(cosimerr.KindPreconditionViolated, "sum connection requires at least one source")
	}
	values := make(map[variable.ID]variable.Value, len(sources))
	for _, s := range sources {
		values[s] = variable.Zero(t)
	}
	return &Sum{typ: t, sources: append([]variable.ID(nil), sources...), dest: dest, values: values}, nil
}

func (s *Sum) Kind() Kind                  { return KindSum }
func (s *Sum) Type() variable.Type         { return s.typ }
func (s *Sum) Sources() []variable.ID      { return append([]variable.ID(nil), s.sources...) }
func (s *Sum) Destinations() []variable.ID { return []variable.ID{s.dest} }

func (s *Sum) SetSourceValue(id variable.ID, value variable.Value) {
	if _, ok := s.values[id]; !ok {
		return
	}
	s.values[id] = value
}

func (s *Sum) GetDestinationValue(id variable.ID) (variable.Value, error) {
	if id != s.dest {
		return variable.Value{}, cosimerr.New(cosimerr.KindPreconditionViolated, "sum connection has no destination %s", id)
	}
	switch s.typ {
	case variable.TypeReal:
		var total float64
		for _, src := range s.sources {
			total += s.values[src].Real()
		}
		return variable.Real(total), nil
	case variable.TypeInteger:
		var total int64
		for _, src := range s.sources {
			v := s.values[src].Integer()
			next := total + v
			if (v > 0 && next < total) || (v < 0 && next > total) {
				return variable.Value{}, cosimerr.New(cosimerr.KindSlaveError, "sum connection to %s: integer overflow", s.dest)
			}
			total = next
		}
		return variable.Integer(total), nil
	default:
		return variable.Value{}, cosimerr.New(cosimerr.KindInvalidSystemStructure, "sum connection: unsupported type %v", s.typ)
	}
}

// VectorSum groups N sources of equal arity (each a fixed-size vector of
// reals or integers) and sums each index independently, delivering a
// vector of that same arity.
//
// Because the core slave interface only exchanges scalar values, a
// vector source/destination is modeled as `arity` consecutive variable.ID
// endpoints, one per vector component, matching how the underlying FMI
// variables are actually laid out.
type VectorSum struct {
	typ     variable.Type
	arity   int
	sources [][]variable.ID // sources[g][k] is group g, component k
	dest    []variable.ID   // dest[k] is component k
	values  map[variable.ID]variable.Value
}

// NewVectorSum constructs a vector-sum connection. sources must be
// non-empty and every group must have len == len(dest) == arity.
func NewVectorSum(t variable.Type, sources [][]variable.ID, dest []variable.ID) (*VectorSum, error) {
	if t != variable.TypeReal && t != variable.TypeInteger {
		return nil, cosimerr.New(cosimerr.KindInvalidSystemStructure, "vector sum connection requires a numeric type, got %v", t)
	}
	if len(sources) == 0 {
		return nil, cosimerr.New(cosimerr.KindPreconditionViolated, "vector sum connection requires at least one source group")
	}
	arity := len(dest)
	if arity == 0 {
		return nil, cosimerr.New(cosimerr.KindPreconditionViolated, "vector sum connection requires non-zero arity")
	}
	for _, g := range sources {
		if len(g) != arity {
			return nil, cosimerr.New(cosimerr.KindInvalidSystemStructure, "vector sum connection: all groups must have identical arity %d, got %d", arity, len(g))
		}
	}
	values := make(map[variable.ID]variable.Value)
	for _, g := range sources {
		for _, id := range g {
			values[id] = variable.Zero(t)
		}
	}
	vs := &VectorSum{
		typ:     t,
		arity:   arity,
		sources: make([][]variable.ID, len(sources)),
		dest:    append([]variable.ID(nil), dest...),
		values:  values,
	}
	for i, g := range sources {
		vs.sources[i] = append([]variable.ID(nil), g...)
	}
	return vs, nil
}

func (v *VectorSum) Kind() Kind          { return KindVectorSum }
func (v *VectorSum) Type() variable.Type { return v.typ }

func (v *VectorSum) Sources() []variable.ID {
	out := make([]variable.ID, 0, len(v.sources)*v.arity)
	for _, g := range v.sources {
		out = append(out, g...)
	}
	return out
}

func (v *VectorSum) Destinations() []variable.ID { return append([]variable.ID(nil), v.dest...) }

func (v *VectorSum) SetSourceValue(id variable.ID, value variable.Value) {
	if _, ok := v.values[id]; !ok {
		return
	}
	v.values[id] = value
}

func (v *VectorSum) GetDestinationValue(id variable.ID) (variable.Value, error) {
	idx := -1
	for k, d := range v.dest {
		if d == id {
			idx = k
			break
		}
	}
	if idx < 0 {
		return variable.Value{}, cosimerr.New(cosimerr.KindPreconditionViolated, "vector sum connection has no destination %s", id)
	}
	switch v.typ {
	case variable.TypeReal:
		var total float64
		for _, g := range v.sources {
			total += v.values[g[idx]].Real()
		}
		if math.IsNaN(total) {
			return variable.Value{}, cosimerr.New(cosimerr.KindSlaveError, "vector sum connection to %s: NaN result at index %d", id, idx)
		}
		return variable.Real(total), nil
	case variable.TypeInteger:
		var total int64
		for _, g := range v.sources {
			val := v.values[g[idx]].Integer()
			next := total + val
			if (val > 0 && next < total) || (val < 0 && next > total) {
				return variable.Value{}, cosimerr.New(cosimerr.KindSlaveError, "vector sum connection to %s: integer overflow at index %d", id, idx)
			}
			total = next
		}
		return variable.Integer(total), nil
	default:
		return variable.Value{}, cosimerr.New(cosimerr.KindInvalidSystemStructure, "vector sum connection: unsupported type %v", v.typ)
	}
}
