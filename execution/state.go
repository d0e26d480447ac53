package execution

import (
	"context"

	"github.com/cosimkit/cosim/slave"
	"github.com/cosimkit/cosim/timeline"
	"github.com/cosimkit/cosim/variable"
)

// Snapshot is an execution-wide state handle: one slave.StateHandle per
// slave that supports save/restore, plus the time point it was taken at.
// It is only meaningful for the Execution it was produced by.
type Snapshot struct {
	Time    timeline.TimePoint
	Step    int64
	handles map[variable.SimulatorIndex]any
}

// SaveState takes a consistent snapshot of every slave that supports
// save_state, between macro steps. Slaves without CanSaveRestore are
// silently skipped, matching the per-slave optionality of the capability.
func (e *Execution) SaveState(ctx context.Context) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := &Snapshot{
		Time:    e.scheduler.CurrentTime(),
		Step:    e.scheduler.StepIndex(),
		handles: make(map[variable.SimulatorIndex]any),
	}
	for sim, a := range e.adapters {
		if !a.ModelDescription().CanSaveRestore {
			continue
		}
		h, err := a.SaveState(ctx)
		if err != nil {
			return nil, err
		}
		snap.handles[sim] = h
	}
	return snap, nil
}

// RestoreState restores every slave captured in snap to its snapshotted
// state, and rewinds the scheduler's current_time and step index to
// match, then notifies observers.
func (e *Execution) RestoreState(ctx context.Context, snap *Snapshot) error {
	e.mu.Lock()
	for sim, h := range snap.handles {
		a, ok := e.adapters[sim]
		if !ok {
			continue
		}
		if err := a.RestoreState(ctx, h); err != nil {
			e.mu.Unlock()
			return err
		}
	}
	e.scheduler.SetStartTime(snap.Time)
	e.scheduler.SetStepIndex(snap.Step)
	e.mu.Unlock()

	e.observers.StateRestored(snap.Step, snap.Time)
	return nil
}

// RetainSnapshot returns a new Snapshot sharing snap's underlying per-slave
// state handles, incrementing each one's reference count so the original
// snapshot and the returned one can later be released independently (e.g.
// to keep a named checkpoint alive past the ad hoc snapshot that produced
// it).
func (e *Execution) RetainSnapshot(snap *Snapshot) *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	clone := &Snapshot{
		Time:    snap.Time,
		Step:    snap.Step,
		handles: make(map[variable.SimulatorIndex]any, len(snap.handles)),
	}
	for sim, h := range snap.handles {
		if a, ok := e.adapters[sim]; ok {
			a.AddStateRef(h.(slave.StateHandle))
		}
		clone.handles[sim] = h
	}
	return clone
}

// ReleaseState releases every handle held by snap, decrementing each
// slave's reference count and freeing the underlying snapshot once it is
// the last reference.
func (e *Execution) ReleaseState(ctx context.Context, snap *Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for sim, h := range snap.handles {
		a, ok := e.adapters[sim]
		if !ok {
			continue
		}
		if err := a.ReleaseState(ctx, h); err != nil {
			return err
		}
	}
	return nil
}
