package core

import (
	"fmt"

	"github.com/google/uuid"
)

// Event is the unit of communication between callers, the orchestrator and a
// machine instance. Events are treated as immutable once sent. The Name selects
// transitions; the Payload is opaque to the engine and only interpreted by
// guards and actions.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// NewEvent creates an event with the given name and payload.
func NewEvent(name string, payload any) Event {
	return Event{Name: name, Payload: payload}
}

// Internal event name prefixes. The engine synthesizes these during a
// macrostep; external callers should not send them directly.
const (
	doneStatePrefix   = "done.state."
	doneInvokePrefix  = "done.invoke."
	errorInvokePrefix = "error.invoke."

	// EventErrorExecution is raised internally when an entry, exit or
	// transition action fails. States may declare a handler for it.
	EventErrorExecution = "error.execution"
)

// DoneStateEvent returns the internal event name signalling that the compound
// or parallel state with the given id has completed.
func DoneStateEvent(stateID string) string { return doneStatePrefix + stateID }

// DoneInvokeEvent returns the internal event name carrying the result of the
// one-shot service invoked by the given state.
func DoneInvokeEvent(stateID string) string { return doneInvokePrefix + stateID }

// ErrorInvokeEvent returns the internal event name carrying the failure of the
// service invoked by the given state.
func ErrorInvokeEvent(stateID string) string { return errorInvokePrefix + stateID }

// OrchestratedRequest is an inter-instance message produced by an action via
// RequestSend during a macrostep. It is enqueued for delivery to the target
// instance only after the sender's macrostep fully completes; it is never
// delivered synchronously.
type OrchestratedRequest struct {
	ID     string `json:"id"`
	Sender string `json:"sender"`
	Target string `json:"target"`
	Event  Event  `json:"event"`
}

// NewOrchestratedRequest creates a request with a fresh correlation id.
func NewOrchestratedRequest(sender, target string, ev Event) OrchestratedRequest {
	return OrchestratedRequest{ID: uuid.NewString(), Sender: sender, Target: target, Event: ev}
}

// Outcome is the result of sending an event to an instance. Send never panics
// or returns a bare error across the orchestrator boundary; failures are
// reported here so the caller always learns the resulting configuration.
type Outcome struct {
	Success       bool          `json:"success"`
	Configuration Configuration `json:"configuration"`
	ErrorMessage  string        `json:"error_message,omitempty"`

	// DeliveryErrors lists orchestrated requests emitted during this
	// macrostep that could not be delivered (unknown or terminated target).
	// The macrostep itself is unaffected by delivery failures.
	DeliveryErrors []string `json:"delivery_errors,omitempty"`
}

// FailedOutcome builds an Outcome for a macrostep that did not run or was
// rolled back, preserving the configuration the caller should consider current.
func FailedOutcome(cfg Configuration, err error) Outcome {
	return Outcome{Success: false, Configuration: cfg, ErrorMessage: fmt.Sprintf("%v", err)}
}
