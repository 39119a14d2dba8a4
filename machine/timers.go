package machine

import (
	"time"

	"github.com/hupe1980/statemesh/core"
	"github.com/hupe1980/statemesh/definition"
)

// eventAfterName is the internal event a fired timer delivers through the
// sink. External callers must not send it.
const eventAfterName = "statemesh.internal.after"

// afterPayload identifies which scheduled timer fired. The generation
// distinguishes a live timer from a stale one when the owning state was
// exited, or exited and re-entered, before delivery.
type afterPayload struct {
	State string
	Delay time.Duration
	Gen   uint64
}

type timerKey struct {
	state string
	delay time.Duration
}

type timerHandle struct {
	gen   uint64
	timer *time.Timer
}

// timerSet owns the delayed-transition timers of one instance. One timer is
// scheduled per distinct delay value of an entered state, not one per
// candidate transition: guarded options at the same delay are resolved
// together when it fires. All methods run under the instance mutex.
type timerSet struct {
	inst    *Instance
	gen     uint64
	handles map[timerKey]*timerHandle
}

func newTimerSet(inst *Instance) *timerSet {
	return &timerSet{inst: inst, handles: make(map[timerKey]*timerHandle)}
}

// schedule arms one timer per distinct delay declared by the entered state.
func (ts *timerSet) schedule(stateID string, node *definition.StateNode) {
	for _, ds := range node.Delayed {
		ts.gen++
		key := timerKey{state: stateID, delay: ds.Delay}
		payload := afterPayload{State: stateID, Delay: ds.Delay, Gen: ts.gen}
		handle := &timerHandle{gen: ts.gen}
		handle.timer = time.AfterFunc(ds.Delay, func() {
			ts.inst.sink.Deliver(core.NewEvent(eventAfterName, payload))
		})
		ts.handles[key] = handle
	}
}

// ensure re-arms any delay of the state that has no live timer. Used after a
// macrostep rollback to realign timers with the restored configuration.
func (ts *timerSet) ensure(stateID string, node *definition.StateNode) {
	for _, ds := range node.Delayed {
		key := timerKey{state: stateID, delay: ds.Delay}
		if _, ok := ts.handles[key]; ok {
			continue
		}
		ts.gen++
		payload := afterPayload{State: stateID, Delay: ds.Delay, Gen: ts.gen}
		handle := &timerHandle{gen: ts.gen}
		handle.timer = time.AfterFunc(ds.Delay, func() {
			ts.inst.sink.Deliver(core.NewEvent(eventAfterName, payload))
		})
		ts.handles[key] = handle
	}
}

// take validates a fired timer against the live handle set. A stale fire
// (state exited, or re-entered with a fresh generation) is rejected; a valid
// fire consumes the one-shot handle.
func (ts *timerSet) take(p afterPayload) bool {
	key := timerKey{state: p.State, delay: p.Delay}
	handle, ok := ts.handles[key]
	if !ok || handle.gen != p.Gen {
		return false
	}
	delete(ts.handles, key)
	return true
}

// cancelFor invalidates every timer owned by the exited state.
func (ts *timerSet) cancelFor(stateID string) {
	for key, handle := range ts.handles {
		if key.state == stateID {
			handle.timer.Stop()
			delete(ts.handles, key)
		}
	}
}

// cancelExcept invalidates timers whose owning state is no longer active.
func (ts *timerSet) cancelExcept(active map[string]bool) {
	for key, handle := range ts.handles {
		if !active[key.state] {
			handle.timer.Stop()
			delete(ts.handles, key)
		}
	}
}

// cancelAll invalidates every timer. Used on Stop.
func (ts *timerSet) cancelAll() {
	for key, handle := range ts.handles {
		handle.timer.Stop()
		delete(ts.handles, key)
	}
}

// handleAfter processes a fired delayed-transition timer. The candidates
// sharing the fired delay are evaluated in declared order; the first passing
// guard wins. If none match and no unguarded fallback exists, no transition
// occurs. A fire referencing an exited state is a no-op, never an error.
func (inst *Instance) handleAfter(ev core.Event) int {
	p, ok := ev.Payload.(afterPayload)
	if !ok {
		inst.logger.Warn("dropping malformed timer event id=%s", inst.id)
		return 0
	}
	if !inst.timers.take(p) || !inst.isActive(p.State) {
		return 0
	}

	node := inst.def.Node(p.State)
	var candidates []definition.Transition
	for _, ds := range node.Delayed {
		if ds.Delay == p.Delay {
			candidates = ds.Transitions
			break
		}
	}
	t, ok := inst.firstMatching(candidates, ev)
	if !ok {
		return 0
	}
	inst.microstep(selected{leaf: inst.leafWithin(p.State), source: p.State, t: t}, ev)
	return 1
}

// leafWithin returns the active leaf at or below the given state.
func (inst *Instance) leafWithin(stateID string) string {
	for _, leaf := range inst.leaves {
		if leaf == stateID || inst.def.IsDescendantOf(leaf, stateID) {
			return leaf
		}
	}
	return stateID
}
