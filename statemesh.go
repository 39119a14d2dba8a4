// Package statemesh provides a high-level façade over the statechart engine
// and orchestrator for running hierarchical state machines. Most applications
// interact with this package by:
//  1. Creating a StateMesh via New() (optionally overriding the logger)
//  2. Loading machine definitions (LoadDefinition / LoadDefinitionFile)
//  3. Registering instances against a callback Registry and sending events
//
// The façade delegates instance lifecycle and event routing to
// orchestrator.Orchestrator while keeping setup and usage ergonomics concise.
// All defaults are safe for local development and testing; production
// deployments typically supply a structured logger.
package statemesh

import (
	"github.com/hupe1980/statemesh/core"
	"github.com/hupe1980/statemesh/definition"
	"github.com/hupe1980/statemesh/logging"
	"github.com/hupe1980/statemesh/machine"
	"github.com/hupe1980/statemesh/orchestrator"
)

// Options configures the StateMesh instance.
type Options struct {
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// StateMesh is the high-level façade aggregating the orchestrator.
type StateMesh struct {
	opts Options
	orch *orchestrator.Orchestrator
}

// New creates a new StateMesh instance with optional overrides.
func New(optFns ...func(o *Options)) *StateMesh {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	o := orchestrator.New(func(oo *orchestrator.Options) {
		oo.Logger = opts.Logger
	})

	return &StateMesh{opts: opts, orch: o}
}

// LoadDefinition parses a machine definition from YAML source and validates
// its structural integrity.
func LoadDefinition(src []byte) (*definition.Machine, error) {
	return definition.Parse(src)
}

// LoadDefinitionFile parses and validates a machine definition from a file.
func LoadDefinitionFile(path string) (*definition.Machine, error) {
	return definition.ParseFile(path)
}

// Register creates a machine instance under the given id. Every action, guard
// and service name the definition references must resolve in the registry.
func (m *StateMesh) Register(id string, def *definition.Machine, reg machine.Registry) (*orchestrator.Handle, error) {
	return m.orch.Register(id, def, reg)
}

// Start computes the instance's initial configuration.
func (m *StateMesh) Start(h *orchestrator.Handle) (core.Configuration, error) {
	return m.orch.Start(h)
}

// Send delivers an event to the instance and blocks until its macrostep
// completes, returning the outcome.
func (m *StateMesh) Send(h *orchestrator.Handle, name string, payload any) core.Outcome {
	return m.orch.Send(h, name, payload)
}

// SendTo is Send addressed by instance id.
func (m *StateMesh) SendTo(id, name string, payload any) core.Outcome {
	return m.orch.SendTo(id, name, payload)
}

// Stop terminates the instance, cancelling its timers and services.
func (m *StateMesh) Stop(h *orchestrator.Handle) {
	m.orch.Stop(h)
}

// Configuration returns a snapshot of the instance's active configuration.
func (m *StateMesh) Configuration(id string) (core.Configuration, error) {
	return m.orch.Configuration(id)
}

// ContextSnapshot returns a copy of the instance's context store.
func (m *StateMesh) ContextSnapshot(id string) (map[string]any, error) {
	return m.orch.ContextSnapshot(id)
}

// Shutdown stops every instance and waits for their mailbox goroutines.
func (m *StateMesh) Shutdown() {
	m.orch.Shutdown()
}
