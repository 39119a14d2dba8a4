package machine

import (
	"fmt"

	"github.com/hupe1980/statemesh/core"
	"github.com/hupe1980/statemesh/definition"
)

// Registry binds the action, guard and service names a definition refers to
// against concrete callbacks. Resolution happens once, at registration; an
// unresolved name is a definition error, never a deferred runtime failure.
type Registry struct {
	Actions  map[string]core.Action
	Guards   map[string]core.Guard
	Services map[string]core.Service
}

// Resolve checks that every name referenced by the definition has a callback.
// Returns a *core.DefinitionError listing every unresolved name, or nil.
func (r Registry) Resolve(def *definition.Machine) error {
	verr := &core.DefinitionError{}
	for name := range def.ReferencedActions() {
		if _, ok := r.Actions[name]; !ok {
			verr.Add(definition.CodeUnresolvedAction, fmt.Sprintf("action %q is not registered", name))
		}
	}
	for name := range def.ReferencedGuards() {
		if _, ok := r.Guards[name]; !ok {
			verr.Add(definition.CodeUnresolvedGuard, fmt.Sprintf("guard %q is not registered", name))
		}
	}
	for name := range def.ReferencedServices() {
		if _, ok := r.Services[name]; !ok {
			verr.Add(definition.CodeUnresolvedService, fmt.Sprintf("service %q is not registered", name))
		}
	}
	return verr.OrNil()
}
