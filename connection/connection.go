// Package connection implements the connection graph: typed variable
// endpoints routed through scalar, linear-transformation, sum, and
// vector-sum connections, and the Graph that holds them. The order in
// which connections are evaluated during a transfer phase is decided by
// the caller (package execution), not here.
package connection

import (
	"fmt"

	"github.com/cosimkit/cosim/cosimerr"
	"github.com/cosimkit/cosim/variable"
)

// Kind identifies a connection variant.
type Kind int

const (
	KindScalar Kind = iota
	KindLinearTransformation
	KindSum
	KindVectorSum
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindLinearTransformation:
		return "linear_transformation"
	case KindSum:
		return "sum"
	case KindVectorSum:
		return "vector_sum"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Connection routes one or more source endpoint values to one or more
// destination endpoint values through a pure transfer function.
// Implementations are the tagged variants below; a single Connection
// value is handled uniformly through this interface.
type Connection interface {
	Kind() Kind
	// Sources returns the source endpoints, in a stable, deterministic
	// order (insertion order).
	Sources() []variable.ID
	// Destinations returns the destination endpoints, in a stable,
	// deterministic order (insertion order).
	Destinations() []variable.ID
	// Type returns the variable.Type this connection carries (the common
	// source/destination type, post-conversion where applicable).
	Type() variable.Type

	// SetSourceValue stores the latest reading for the given source
	// endpoint. id must be one of Sources().
	SetSourceValue(id variable.ID, value variable.Value)
	// GetDestinationValue computes the value to deliver to the given
	// destination endpoint from the most recently set source value(s).
	// id must be one of Destinations(). Before any source has been read,
	// every source value is the type's zero, so scalar, sum and vector-sum
	// connections deliver zero and a linear transformation delivers its
	// offset.
	GetDestinationValue(id variable.ID) (variable.Value, error)
}

// endpointSet tracks the destinations currently driven by some connection,
// enforcing the invariant that every destination endpoint has exactly one
// source path.
type endpointSet map[variable.ID]Connection

// Graph owns the set of connections in an execution and enforces the
// single-driver-per-destination invariant. It is not safe for concurrent
// mutation: the connection graph is read-only during the scheduler's
// parallel slave-stepping phase and read-write only in the
// (single-threaded) transfer phase.
type Graph struct {
	connections []Connection
	driven      endpointSet
}

// NewGraph returns an empty connection graph.
func NewGraph() *Graph {
	return &Graph{driven: make(endpointSet)}
}

// Add registers c, failing if any of its destinations is already driven by
// another connection.
func (g *Graph) Add(c Connection) error {
	for _, dst := range c.Destinations() {
		if existing, ok := g.driven[dst]; ok && existing != c {
			return cosimerr.New(cosimerr.KindInvalidSystemStructure,
				"destination %s is already driven by another connection", dst)
		}
	}
	for _, dst := range c.Destinations() {
		g.driven[dst] = c
	}
	g.connections = append(g.connections, c)
	return nil
}

// Remove unregisters c.
func (g *Graph) Remove(c Connection) {
	for _, dst := range c.Destinations() {
		if g.driven[dst] == c {
			delete(g.driven, dst)
		}
	}
	for i, existing := range g.connections {
		if existing == c {
			g.connections = append(g.connections[:i], g.connections[i+1:]...)
			break
		}
	}
}

// RemoveTouching removes every connection with a source or destination
// belonging to sim, as required when a slave is removed between steps.
func (g *Graph) RemoveTouching(sim variable.SimulatorIndex) []Connection {
	var removed []Connection
	for _, c := range append([]Connection(nil), g.connections...) {
		touches := false
		for _, id := range c.Sources() {
			if id.Simulator == sim {
				touches = true
				break
			}
		}
		if !touches {
			for _, id := range c.Destinations() {
				if id.Simulator == sim {
					touches = true
					break
				}
			}
		}
		if touches {
			g.Remove(c)
			removed = append(removed, c)
		}
	}
	return removed
}

// DriverOf returns the connection currently driving dst, if any.
func (g *Graph) DriverOf(dst variable.ID) (Connection, bool) {
	c, ok := g.driven[dst]
	return c, ok
}

// Connections returns all registered connections, in insertion order.
func (g *Graph) Connections() []Connection {
	return append([]Connection(nil), g.connections...)
}
