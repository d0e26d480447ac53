package slave

import (
	"context"
	"fmt"
	"sync"

	"github.com/cosimkit/cosim/cosimerr"
	"github.com/cosimkit/cosim/variable"
)

// InputManipulator mutates a value of type t, reference ref, on its way
// into the slave during the transfer phase.
type InputManipulator func(value variable.Value) variable.Value

// exposedSet is a small thread-unsafe set; Adapter serializes access to it
// via the scheduler's phase ordering (exposure may only change between
// steps).
type exposedSet map[variable.Reference]struct{}

func (s exposedSet) add(ref variable.Reference)      { s[ref] = struct{}{} }
func (s exposedSet) has(ref variable.Reference) bool { _, ok := s[ref]; return ok }
func (s exposedSet) list() []variable.Reference {
	out := make([]variable.Reference, 0, len(s))
	for ref := range s {
		out = append(out, ref)
	}
	return out
}

// Adapter is a thin façade around a Slave: it tracks which variables are
// exposed for getting/setting, caches the most recent get/pending-set
// values, and chains input manipulators over the transfer phase.
//
// An Adapter is not safe for concurrent use from more than one goroutine at
// a time; the scheduler guarantees each Adapter is touched by at most one
// worker during a macro step.
type Adapter struct {
	slave Slave
	desc  ModelDescription

	index variable.SimulatorIndex

	exposedForGetting [4]exposedSet
	exposedForSetting [4]exposedSet

	lastGetReal    map[variable.Reference]float64
	lastGetInt     map[variable.Reference]int64
	lastGetBool    map[variable.Reference]bool
	lastGetString  map[variable.Reference]string
	pendingSet     map[variable.Type]map[variable.Reference]variable.Value

	manipulators map[manipulatorKey][]InputManipulator

	stateMu      sync.Mutex
	stateRefs    map[StateHandle]*stateRef
}

type manipulatorKey struct {
	typ variable.Type
	ref variable.Reference
}

type stateRef struct {
	handle StateHandle
	count  int
}

// NewAdapter wraps s, assigning it the given simulator index.
func NewAdapter(index variable.SimulatorIndex, s Slave) *Adapter {
	a := &Adapter{
		slave: s,
		desc:  s.ModelDescription(),
		index: index,
		lastGetReal:   make(map[variable.Reference]float64),
		lastGetInt:    make(map[variable.Reference]int64),
		lastGetBool:   make(map[variable.Reference]bool),
		lastGetString: make(map[variable.Reference]string),
		pendingSet: map[variable.Type]map[variable.Reference]variable.Value{
			variable.TypeReal:    {},
			variable.TypeInteger: {},
			variable.TypeBoolean: {},
			variable.TypeString:  {},
		},
		manipulators: make(map[manipulatorKey][]InputManipulator),
		stateRefs:    make(map[StateHandle]*stateRef),
	}
	for i := range a.exposedForGetting {
		a.exposedForGetting[i] = make(exposedSet)
		a.exposedForSetting[i] = make(exposedSet)
	}
	return a
}

// Index returns the simulator index this adapter was constructed with.
func (a *Adapter) Index() variable.SimulatorIndex { return a.index }

// ModelDescription returns the wrapped slave's static metadata.
func (a *Adapter) ModelDescription() ModelDescription { return a.desc }

// ExposeForGetting marks ref (of type t) as participating in the transfer
// phase's output reads. Idempotent.
func (a *Adapter) ExposeForGetting(t variable.Type, ref variable.Reference) {
	a.exposedForGetting[t].add(ref)
}

// ExposeForSetting marks ref (of type t) as participating in the transfer
// phase's input writes. Idempotent.
func (a *Adapter) ExposeForSetting(t variable.Type, ref variable.Reference) {
	a.exposedForSetting[t].add(ref)
}

// IsExposedForGetting reports whether ref (of type t) is exposed for
// getting.
func (a *Adapter) IsExposedForGetting(t variable.Type, ref variable.Reference) bool {
	return a.exposedForGetting[t].has(ref)
}

// IsExposedForSetting reports whether ref (of type t) is exposed for
// setting.
func (a *Adapter) IsExposedForSetting(t variable.Type, ref variable.Reference) bool {
	return a.exposedForSetting[t].has(ref)
}

// SetInputManipulator installs fn as the manipulator for (t, ref),
// replacing any previous manipulator at that exact position. Passing nil
// removes it. This is the single entry point backing the per-type
// set-input-manipulator calls; the final value written to the slave is
// the last function in the chain applied to the incoming value, one chain
// per reference. AppendInputManipulator below grows a chain.
func (a *Adapter) SetInputManipulator(t variable.Type, ref variable.Reference, fn InputManipulator) {
	key := manipulatorKey{t, ref}
	if fn == nil {
		delete(a.manipulators, key)
		return
	}
	a.manipulators[key] = []InputManipulator{fn}
}

// AppendInputManipulator adds fn to the end of the manipulator chain for
// (t, ref); manipulators compose in insertion order.
func (a *Adapter) AppendInputManipulator(t variable.Type, ref variable.Reference, fn InputManipulator) {
	if fn == nil {
		return
	}
	key := manipulatorKey{t, ref}
	a.manipulators[key] = append(a.manipulators[key], fn)
}

// RemoveInputManipulators clears all manipulators installed for (t, ref).
func (a *Adapter) RemoveInputManipulators(t variable.Type, ref variable.Reference) {
	delete(a.manipulators, manipulatorKey{t, ref})
}

func (a *Adapter) applyManipulators(t variable.Type, ref variable.Reference, v variable.Value) variable.Value {
	for _, fn := range a.manipulators[manipulatorKey{t, ref}] {
		v = fn(v)
	}
	return v
}

// GetReal returns the most recently cached real value for ref.
func (a *Adapter) GetReal(ref variable.Reference) float64 { return a.lastGetReal[ref] }

// GetInteger returns the most recently cached integer value for ref.
func (a *Adapter) GetInteger(ref variable.Reference) int64 { return a.lastGetInt[ref] }

// GetBoolean returns the most recently cached boolean value for ref.
func (a *Adapter) GetBoolean(ref variable.Reference) bool { return a.lastGetBool[ref] }

// GetString returns the most recently cached string value for ref.
func (a *Adapter) GetString(ref variable.Reference) string { return a.lastGetString[ref] }

// ExposedForGettingSnapshot returns the current cached value of every
// reference exposed for getting, by type. It is the read-only surface
// observers are meant to pull from.
func (a *Adapter) ExposedForGettingSnapshot() map[variable.Type]map[variable.Reference]variable.Value {
	out := map[variable.Type]map[variable.Reference]variable.Value{
		variable.TypeReal:    {},
		variable.TypeInteger: {},
		variable.TypeBoolean: {},
		variable.TypeString:  {},
	}
	for ref := range a.exposedForGetting[variable.TypeReal] {
		out[variable.TypeReal][ref] = variable.Real(a.lastGetReal[ref])
	}
	for ref := range a.exposedForGetting[variable.TypeInteger] {
		out[variable.TypeInteger][ref] = variable.Integer(a.lastGetInt[ref])
	}
	for ref := range a.exposedForGetting[variable.TypeBoolean] {
		out[variable.TypeBoolean][ref] = variable.Boolean(a.lastGetBool[ref])
	}
	for ref := range a.exposedForGetting[variable.TypeString] {
		out[variable.TypeString][ref] = variable.String(a.lastGetString[ref])
	}
	return out
}

// SetReal stages value for ref; the write reaches the slave during the
// next transfer phase (RunTransferSet).
func (a *Adapter) SetReal(ref variable.Reference, value float64) {
	a.pendingSet[variable.TypeReal][ref] = variable.Real(value)
}

// SetInteger stages value for ref.
func (a *Adapter) SetInteger(ref variable.Reference, value int64) {
	a.pendingSet[variable.TypeInteger][ref] = variable.Integer(value)
}

// SetBoolean stages value for ref.
func (a *Adapter) SetBoolean(ref variable.Reference, value bool) {
	a.pendingSet[variable.TypeBoolean][ref] = variable.Boolean(value)
}

// SetString stages value for ref.
func (a *Adapter) SetString(ref variable.Reference, value string) {
	a.pendingSet[variable.TypeString][ref] = variable.String(value)
}

// SetValue stages a generically-typed value for ref, dispatching on
// value.Type(). Used by the connection graph and manipulator pipeline,
// which operate on variable.Value rather than per-type primitives.
func (a *Adapter) SetValue(ref variable.Reference, value variable.Value) {
	switch value.Type() {
	case variable.TypeReal:
		a.SetReal(ref, value.Real())
	case variable.TypeInteger:
		a.SetInteger(ref, value.Integer())
	case variable.TypeBoolean:
		a.SetBoolean(ref, value.Boolean())
	case variable.TypeString:
		a.SetString(ref, value.String())
	}
}

// GetValue returns the cached value for ref as a generic variable.Value of
// type t.
func (a *Adapter) GetValue(t variable.Type, ref variable.Reference) variable.Value {
	switch t {
	case variable.TypeReal:
		return variable.Real(a.GetReal(ref))
	case variable.TypeInteger:
		return variable.Integer(a.GetInteger(ref))
	case variable.TypeBoolean:
		return variable.Boolean(a.GetBoolean(ref))
	case variable.TypeString:
		return variable.String(a.GetString(ref))
	default:
		panic(fmt.Sprintf("slave: unknown type %v", t))
	}
}

// Setup forwards to the wrapped slave.
func (a *Adapter) Setup(ctx context.Context, start, stop variable.Value, hasStop bool, tolerance float64, hasTolerance bool) error {
	return a.slave.Setup(ctx, start, stop, hasStop, tolerance, hasTolerance)
}

// StartSimulation forwards to the wrapped slave.
func (a *Adapter) StartSimulation(ctx context.Context) error { return a.slave.StartSimulation(ctx) }

// EndSimulation forwards to the wrapped slave.
func (a *Adapter) EndSimulation(ctx context.Context) error { return a.slave.EndSimulation(ctx) }

// RunTransferGet refreshes the per-type caches from the wrapped slave for
// every reference exposed for getting. It is the "outputs are read first"
// half of the transfer phase ordering.
func (a *Adapter) RunTransferGet(ctx context.Context) error {
	if refs := a.exposedForGetting[variable.TypeReal].list(); len(refs) > 0 {
		vals, err := a.slave.GetReal(ctx, refs)
		if err != nil {
			return cosimerr.Wrap(cosimerr.KindSlaveError, err, "get real failed for simulator %d", a.index)
		}
		for i, ref := range refs {
			a.lastGetReal[ref] = vals[i]
		}
	}
	if refs := a.exposedForGetting[variable.TypeInteger].list(); len(refs) > 0 {
		vals, err := a.slave.GetInteger(ctx, refs)
		if err != nil {
			return cosimerr.Wrap(cosimerr.KindSlaveError, err, "get integer failed for simulator %d", a.index)
		}
		for i, ref := range refs {
			a.lastGetInt[ref] = vals[i]
		}
	}
	if refs := a.exposedForGetting[variable.TypeBoolean].list(); len(refs) > 0 {
		vals, err := a.slave.GetBoolean(ctx, refs)
		if err != nil {
			return cosimerr.Wrap(cosimerr.KindSlaveError, err, "get boolean failed for simulator %d", a.index)
		}
		for i, ref := range refs {
			a.lastGetBool[ref] = vals[i]
		}
	}
	if refs := a.exposedForGetting[variable.TypeString].list(); len(refs) > 0 {
		vals, err := a.slave.GetString(ctx, refs)
		if err != nil {
			return cosimerr.Wrap(cosimerr.KindSlaveError, err, "get string failed for simulator %d", a.index)
		}
		for i, ref := range refs {
			a.lastGetString[ref] = vals[i]
		}
	}
	return nil
}

// RunTransferSet pushes every pending-set value through this reference's
// manipulator chain and writes it to the wrapped slave, then clears the
// pending buffer. It is the "manipulator and set chain" half of the
// transfer phase ordering.
func (a *Adapter) RunTransferSet(ctx context.Context) error {
	for t, pending := range a.pendingSet {
		if len(pending) == 0 {
			continue
		}
		refs := make([]variable.Reference, 0, len(pending))
		for ref := range pending {
			refs = append(refs, ref)
		}
		switch t {
		case variable.TypeReal:
			vals := make([]float64, len(refs))
			for i, ref := range refs {
				vals[i] = a.applyManipulators(t, ref, pending[ref]).Real()
			}
			if err := a.slave.SetReal(ctx, refs, vals); err != nil {
				return cosimerr.Wrap(cosimerr.KindSlaveError, err, "set real failed for simulator %d", a.index)
			}
		case variable.TypeInteger:
			vals := make([]int64, len(refs))
			for i, ref := range refs {
				vals[i] = a.applyManipulators(t, ref, pending[ref]).Integer()
			}
			if err := a.slave.SetInteger(ctx, refs, vals); err != nil {
				return cosimerr.Wrap(cosimerr.KindSlaveError, err, "set integer failed for simulator %d", a.index)
			}
		case variable.TypeBoolean:
			vals := make([]bool, len(refs))
			for i, ref := range refs {
				vals[i] = a.applyManipulators(t, ref, pending[ref]).Boolean()
			}
			if err := a.slave.SetBoolean(ctx, refs, vals); err != nil {
				return cosimerr.Wrap(cosimerr.KindSlaveError, err, "set boolean failed for simulator %d", a.index)
			}
		case variable.TypeString:
			vals := make([]string, len(refs))
			for i, ref := range refs {
				vals[i] = a.applyManipulators(t, ref, pending[ref]).String()
			}
			if err := a.slave.SetString(ctx, refs, vals); err != nil {
				return cosimerr.Wrap(cosimerr.KindSlaveError, err, "set string failed for simulator %d", a.index)
			}
		}
		clear(pending)
	}
	return nil
}

// DoStep advances the wrapped slave by dt nanoseconds from t.
func (a *Adapter) DoStep(ctx context.Context, t, dt int64) (StepResult, error) {
	return a.slave.DoStep(ctx, t, dt)
}

// SaveState saves the wrapped slave's state, if supported, and tracks a
// reference count for the returned handle so ReleaseState can free it only
// when the last reference is released. State handles are opaque and
// reference-counted.
func (a *Adapter) SaveState(ctx context.Context) (StateHandle, error) {
	if !a.desc.CanSaveRestore {
		return nil, cosimerr.New(cosimerr.KindUnsupportedFeature, "simulator %d does not support save_state", a.index)
	}
	handle, err := a.slave.SaveState(ctx)
	if err != nil {
		return nil, cosimerr.Wrap(cosimerr.KindSlaveError, err, "save_state failed for simulator %d", a.index)
	}
	a.stateMu.Lock()
	a.stateRefs[handle] = &stateRef{handle: handle, count: 1}
	a.stateMu.Unlock()
	return handle, nil
}

// RestoreState restores the wrapped slave to the given handle.
func (a *Adapter) RestoreState(ctx context.Context, handle StateHandle) error {
	if !a.desc.CanSaveRestore {
		return cosimerr.New(cosimerr.KindUnsupportedFeature, "simulator %d does not support restore_state", a.index)
	}
	if err := a.slave.RestoreState(ctx, handle); err != nil {
		return cosimerr.Wrap(cosimerr.KindSlaveError, err, "restore_state failed for simulator %d", a.index)
	}
	return nil
}

// AddStateRef increments the reference count of an already-saved handle,
// e.g. when an execution-level snapshot retains it alongside a per-slave
// one.
func (a *Adapter) AddStateRef(handle StateHandle) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if r, ok := a.stateRefs[handle]; ok {
		r.count++
	} else {
		a.stateRefs[handle] = &stateRef{handle: handle, count: 1}
	}
}

// ReleaseState decrements the reference count of handle, releasing the
// underlying slave-specific snapshot via the wrapped slave only when the
// count reaches zero.
func (a *Adapter) ReleaseState(ctx context.Context, handle StateHandle) error {
	a.stateMu.Lock()
	r, ok := a.stateRefs[handle]
	if !ok {
		a.stateMu.Unlock()
		return cosimerr.New(cosimerr.KindPreconditionViolated, "release_state on unknown handle for simulator %d", a.index)
	}
	r.count--
	release := r.count <= 0
	if release {
		delete(a.stateRefs, handle)
	}
	a.stateMu.Unlock()
	if !release {
		return nil
	}
	if !a.desc.CanSaveRestore {
		return cosimerr.New(cosimerr.KindUnsupportedFeature, "simulator %d does not support release_state", a.index)
	}
	if err := a.slave.ReleaseState(ctx, handle); err != nil {
		return cosimerr.Wrap(cosimerr.KindSlaveError, err, "release_state failed for simulator %d", a.index)
	}
	return nil
}
