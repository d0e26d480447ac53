// Package slave defines the slave interface consumed by the engine and
// the Adapter façade around it: exposed get/set sets, per-type value
// caches, input manipulator chains, and save/restore of slave state.
package slave

import (
	"context"

	"github.com/google/uuid"

	"github.com/cosimkit/cosim/variable"
)

// StepResult is the outcome of a do_step call.
type StepResult int

const (
	StepComplete StepResult = iota
	StepFailed
	// StepDiscard is kept distinct from StepFailed at this layer so a
	// future variable-step scheduler can tell them apart. The fixed-step
	// scheduler in package algorithm reports a discard as the step status
	// (returning an error only for StepFailed); execution.Step aborts the
	// macro step on either.
	StepDiscard
)

func (r StepResult) String() string {
	switch r {
	case StepComplete:
		return "complete"
	case StepFailed:
		return "failed"
	case StepDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// ModelDescription is the static metadata for a slave's model.
type ModelDescription struct {
	Name              string
	UUID              string
	Variables         []variable.Description
	CanSaveRestore    bool
	CanGetAndSetState bool
}

// StateHandle is an opaque, implementation-specific snapshot of a slave's
// internal state, as returned by Slave.SaveState.
type StateHandle any

// Slave is the interface the engine consumes. A concrete binding (e.g. an
// FMU dynamic-library wrapper) is assumed to exist and satisfy this
// interface; loading it from an archive or a remote server is out of
// scope here.
type Slave interface {
	ModelDescription() ModelDescription

	Setup(ctx context.Context, start, stop variable.Value, hasStop bool, tolerance float64, hasTolerance bool) error
	StartSimulation(ctx context.Context) error
	EndSimulation(ctx context.Context) error

	DoStep(ctx context.Context, t int64, dt int64) (StepResult, error)

	GetReal(ctx context.Context, refs []variable.Reference) ([]float64, error)
	GetInteger(ctx context.Context, refs []variable.Reference) ([]int64, error)
	GetBoolean(ctx context.Context, refs []variable.Reference) ([]bool, error)
	GetString(ctx context.Context, refs []variable.Reference) ([]string, error)

	SetReal(ctx context.Context, refs []variable.Reference, values []float64) error
	SetInteger(ctx context.Context, refs []variable.Reference, values []int64) error
	SetBoolean(ctx context.Context, refs []variable.Reference, values []bool) error
	SetString(ctx context.Context, refs []variable.Reference, values []string) error

	// SaveState, RestoreState, and ReleaseState are only meaningful when
	// ModelDescription().CanSaveRestore is true; otherwise implementations
	// should return an *cosimerr.Error of kind KindUnsupportedFeature.
	SaveState(ctx context.Context) (StateHandle, error)
	RestoreState(ctx context.Context, handle StateHandle) error
	ReleaseState(ctx context.Context, handle StateHandle) error
}

// NewUUID returns a fresh random UUID string, for slave implementations
// that do not supply their own model UUID.
func NewUUID() string { return uuid.NewString() }
