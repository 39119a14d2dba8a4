package core

import "context"

// Action is a named side-effect executed during a transition (entry, exit or
// transition body). Actions run synchronously inside the macrostep; anything
// asynchronous must go through RequestSend or an invoked service. A returned
// error is routed to the error.execution handler if one is declared.
type Action func(ac *ActionContext) error

// Guard is a named predicate over (context, event) selecting among candidate
// transitions. A guard must not mutate the context. An error is treated as
// guard=false and logged; the macrostep continues with remaining candidates.
type Guard func(c *Context, ev Event) (bool, error)

// Service is a named unit of asynchronous work scoped to a state's residency.
// The passed context.Context is cancelled when the owning state is exited.
// For one-shot services the result (or error) is fed back to the instance as
// an internal done.invoke/error.invoke event; for activities both are ignored.
type Service func(ctx context.Context, sc *ServiceContext) (any, error)

// RequestSender enqueues an orchestrated request for deferred delivery. The
// orchestrator installs one per instance; outside an orchestrated macrostep
// no sender is available.
type RequestSender interface {
	RequestSend(target string, ev Event)
}

// ActionContext is handed to every action invocation. It exposes the owning
// instance's context store, the triggering event and, when the action runs
// inside an orchestrated macrostep, the request-send capability.
type ActionContext struct {
	// InstanceID identifies the machine instance executing the action.
	InstanceID string
	// Context is the instance's own key/value store.
	Context *Context
	// Event is the event that triggered the current macrostep (or the
	// synthesized internal event for done/after/invoke transitions).
	Event Event

	sender RequestSender
}

// NewActionContext builds an action context. sender may be nil for instances
// driven outside an orchestrator.
func NewActionContext(instanceID string, c *Context, ev Event, sender RequestSender) *ActionContext {
	return &ActionContext{InstanceID: instanceID, Context: c, Event: ev, sender: sender}
}

// RequestSend enqueues an event for another instance. Delivery happens only
// after the current macrostep completes, behind any entries already queued
// for the target. Returns ErrNoSender when the action is running outside an
// orchestrated macrostep.
func (a *ActionContext) RequestSend(target string, name string, payload any) error {
	if a.sender == nil {
		return ErrNoSender
	}
	a.sender.RequestSend(target, NewEvent(name, payload))
	return nil
}

// ServiceContext carries the read-only view a service receives at start time.
type ServiceContext struct {
	// InstanceID identifies the owning machine instance.
	InstanceID string
	// StateID is the state whose residency scopes the service.
	StateID string
	// Event is the event whose macrostep entered the state.
	Event Event
	// Snapshot is a copy of the instance context taken at service start.
	// Services must not mutate instance state directly; results flow back
	// as events.
	Snapshot map[string]any
}
