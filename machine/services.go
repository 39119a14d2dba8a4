package machine

import (
	"context"
	"time"

	"github.com/hupe1980/statemesh/core"
	"github.com/hupe1980/statemesh/definition"
)

type serviceHandle struct {
	cancel context.CancelFunc
}

// serviceSet owns the invoked services and activities of one instance, keyed
// by the state whose residency scopes them. All methods run under the
// instance mutex; the work itself runs on its own goroutine and reports back
// only through the event sink.
type serviceSet struct {
	inst    *Instance
	handles map[string]*serviceHandle
}

func newServiceSet(inst *Instance) *serviceSet {
	return &serviceSet{inst: inst, handles: make(map[string]*serviceHandle)}
}

// start launches the state's invoked work, if any. One-shot services feed
// their completion back as a done.invoke/error.invoke event; activities run
// until cancelled and complete silently.
func (ss *serviceSet) start(stateID string, node *definition.StateNode, ev core.Event) {
	if node.Invoke == nil {
		return
	}
	if _, running := ss.handles[stateID]; running {
		return
	}

	spec := node.Invoke
	callback := ss.inst.reg.Services[spec.Service]
	sc := &core.ServiceContext{
		InstanceID: ss.inst.id,
		StateID:    stateID,
		Event:      ev,
		Snapshot:   ss.inst.context.Snapshot(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	ss.handles[stateID] = &serviceHandle{cancel: cancel}

	inst := ss.inst
	go func() {
		start := time.Now()
		result, err := callback(ctx, sc)

		// a cancelled or late-arriving completion is dropped, mirroring
		// the timer invalidation rule
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			inst.logger.Warn("service %s failed state=%s id=%s duration=%s: %v", spec.Service, stateID, inst.id, time.Since(start), err)
		} else {
			inst.logger.Debug("service %s completed state=%s id=%s duration=%s", spec.Service, stateID, inst.id, time.Since(start))
		}
		if spec.Mode == definition.ModeActivity {
			return
		}
		if err != nil {
			inst.sink.Deliver(core.NewEvent(core.ErrorInvokeEvent(stateID), err.Error()))
			return
		}
		inst.sink.Deliver(core.NewEvent(core.DoneInvokeEvent(stateID), result))
	}()
}

// ensure restarts the state's invoked work if its handle is missing. Used
// after a macrostep rollback to realign services with the restored
// configuration.
func (ss *serviceSet) ensure(stateID string, node *definition.StateNode, ev core.Event) {
	if node.Invoke == nil {
		return
	}
	if _, running := ss.handles[stateID]; running {
		return
	}
	ss.start(stateID, node, ev)
}

// cancelFor synchronously requests cancellation of the exited state's work.
func (ss *serviceSet) cancelFor(stateID string) {
	if handle, ok := ss.handles[stateID]; ok {
		handle.cancel()
		delete(ss.handles, stateID)
	}
}

// cancelExcept cancels work whose owning state is no longer active.
func (ss *serviceSet) cancelExcept(active map[string]bool) {
	for stateID, handle := range ss.handles {
		if !active[stateID] {
			handle.cancel()
			delete(ss.handles, stateID)
		}
	}
}

// cancelAll cancels every running service and activity. Used on Stop.
func (ss *serviceSet) cancelAll() {
	for stateID, handle := range ss.handles {
		handle.cancel()
		delete(ss.handles, stateID)
	}
}
