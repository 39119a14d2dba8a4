package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors surfaced across the orchestrator boundary.
var (
	// ErrUnknownInstance indicates the target instance id is not registered.
	ErrUnknownInstance = errors.New("unknown instance")
	// ErrInstanceTerminated indicates the target instance has been stopped.
	ErrInstanceTerminated = errors.New("instance terminated")
	// ErrNotStarted indicates an operation requiring a started instance.
	ErrNotStarted = errors.New("instance not started")
	// ErrAlreadyStarted indicates a second Start on a running instance.
	ErrAlreadyStarted = errors.New("instance already started")
	// ErrNoSender indicates RequestSend was called outside an orchestrated
	// macrostep.
	ErrNoSender = errors.New("no request sender available")
)

// DefinitionIssue is a single problem found while loading or registering a
// machine definition.
type DefinitionIssue struct {
	Code    string // e.g. "DANGLING_TARGET", "DUPLICATE_STATE"
	Message string
	Path    []string // e.g. ["states", "green", "on", "TIMER"]
}

// String returns a human-readable representation of the issue.
func (i DefinitionIssue) String() string {
	if len(i.Path) > 0 {
		return fmt.Sprintf("[%s] %s (at %s)", i.Code, i.Message, strings.Join(i.Path, "."))
	}
	return fmt.Sprintf("[%s] %s", i.Code, i.Message)
}

// DefinitionError aggregates all issues found while validating a definition
// or resolving registered callback names. It is a load-time failure mode: an
// instance with a definition error never starts.
type DefinitionError struct {
	Issues []DefinitionIssue
}

// Error implements the error interface.
func (e *DefinitionError) Error() string {
	switch len(e.Issues) {
	case 0:
		return "definition invalid"
	case 1:
		return "definition invalid: " + e.Issues[0].String()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "definition invalid with %d issues:\n", len(e.Issues))
	for n, issue := range e.Issues {
		fmt.Fprintf(&b, "  %d. %s\n", n+1, issue.String())
	}
	return b.String()
}

// Add records an issue.
func (e *DefinitionError) Add(code, message string, path ...string) {
	e.Issues = append(e.Issues, DefinitionIssue{Code: code, Message: message, Path: path})
}

// HasIssues reports whether any issue was recorded.
func (e *DefinitionError) HasIssues() bool { return len(e.Issues) > 0 }

// OrNil returns the error itself when issues exist, nil otherwise.
func (e *DefinitionError) OrNil() error {
	if e.HasIssues() {
		return e
	}
	return nil
}

// InfiniteLoopError indicates the eventless-transition fixpoint exceeded the
// iteration cap. The macrostep is aborted and the instance rolled back to its
// pre-macrostep configuration and context.
type InfiniteLoopError struct {
	Event      string
	Iterations int
}

// Error implements the error interface.
func (e *InfiniteLoopError) Error() string {
	return fmt.Sprintf("eventless transitions did not settle after %d iterations (event %q)", e.Iterations, e.Event)
}

// DeliveryError reports an orchestrated request that could not be delivered.
// The sender's own macrostep is unaffected.
type DeliveryError struct {
	Target string
	Event  string
	Reason error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery of %q to %q failed: %v", e.Event, e.Target, e.Reason)
}

// Unwrap exposes the underlying reason for errors.Is checks.
func (e *DeliveryError) Unwrap() error { return e.Reason }
