package definition

import (
	"fmt"

	"github.com/hupe1980/statemesh/core"
)

// Definition issue codes.
const (
	codeEmptyDocument  = "EMPTY_DOCUMENT"
	codeMalformed      = "MALFORMED"
	codeUnknownField   = "UNKNOWN_FIELD"
	codeNoStates       = "NO_STATES"
	codeDuplicateState = "DUPLICATE_STATE"
	codeInvalidKind    = "INVALID_KIND"
	codeInvalidDelay   = "INVALID_DELAY"
	codeInvalidInvoke  = "INVALID_INVOKE"

	codeInitialNotFound        = "INITIAL_NOT_FOUND"
	codeDanglingTarget         = "DANGLING_TARGET"
	codeCompoundMissingInitial = "COMPOUND_MISSING_INITIAL"
	codeCompoundInvalidInitial = "COMPOUND_INVALID_INITIAL"
	codeParallelNoRegions      = "PARALLEL_NO_REGIONS"
	codeFinalWithChildren      = "FINAL_WITH_CHILDREN"
	codeFinalWithInvoke        = "FINAL_WITH_INVOKE"
)

// Callback name issue codes, used at registration time.
const (
	// CodeUnresolvedAction marks an action name with no registered callback.
	CodeUnresolvedAction = "UNRESOLVED_ACTION"
	// CodeUnresolvedGuard marks a guard name with no registered callback.
	CodeUnresolvedGuard = "UNRESOLVED_GUARD"
	// CodeUnresolvedService marks a service name with no registered callback.
	CodeUnresolvedService = "UNRESOLVED_SERVICE"
)

// Validate checks the structural invariants of a machine definition: every
// transition target and parent/child reference resolves to an existing node,
// every compound node has a valid initial child, parallel nodes have regions.
// A nil return means the machine is safe to instantiate.
func Validate(m *Machine) error {
	verr := &core.DefinitionError{}

	if len(m.Nodes) == 0 {
		verr.Add(codeNoStates, "at least one state is required")
		return verr
	}
	if m.Initial == "" {
		verr.Add(codeInitialNotFound, "initial state is required")
	} else if m.Node(m.Initial) == nil {
		verr.Add(codeInitialNotFound, fmt.Sprintf("initial state %q not found", m.Initial))
	}

	for id, node := range m.Nodes {
		statePath := []string{"states", id}

		switch node.Kind {
		case KindCompound:
			if node.Initial == "" {
				verr.Add(codeCompoundMissingInitial,
					fmt.Sprintf("compound state %q must have an initial child", id), statePath...)
			} else if !contains(node.Children, node.Initial) {
				verr.Add(codeCompoundInvalidInitial,
					fmt.Sprintf("initial state %q must be a child of compound state %q", node.Initial, id), statePath...)
			}
		case KindParallel:
			if len(node.Children) == 0 {
				verr.Add(codeParallelNoRegions,
					fmt.Sprintf("parallel state %q must declare at least one region", id), statePath...)
			}
		case KindFinal:
			if len(node.Children) > 0 {
				verr.Add(codeFinalWithChildren,
					fmt.Sprintf("final state %q must not have children", id), statePath...)
			}
			if node.Invoke != nil {
				verr.Add(codeFinalWithInvoke,
					fmt.Sprintf("final state %q must not invoke a service", id), statePath...)
			}
		}

		for _, child := range node.Children {
			c := m.Node(child)
			if c == nil {
				verr.Add(codeDanglingTarget,
					fmt.Sprintf("child state %q of %q not found", child, id), statePath...)
			} else if c.Parent != id {
				verr.Add(codeDanglingTarget,
					fmt.Sprintf("child state %q has parent %q, expected %q", child, c.Parent, id), statePath...)
			}
		}
		if node.Parent != "" && m.Node(node.Parent) == nil {
			verr.Add(codeDanglingTarget,
				fmt.Sprintf("parent state %q of %q not found", node.Parent, id), statePath...)
		}

		for event, ts := range node.Transitions {
			for i, t := range ts {
				validateTargets(m, verr, t,
					append(statePath, "on", event, fmt.Sprintf("%d", i))...)
			}
		}
		for i, t := range node.Always {
			validateTargets(m, verr, t,
				append(statePath, "always", fmt.Sprintf("%d", i))...)
		}
		for _, ds := range node.Delayed {
			for i, t := range ds.Transitions {
				validateTargets(m, verr, t,
					append(statePath, "after", ds.Delay.String(), fmt.Sprintf("%d", i))...)
			}
		}
	}

	return verr.OrNil()
}

func validateTargets(m *Machine, verr *core.DefinitionError, t Transition, path ...string) {
	for _, target := range t.Targets {
		if m.Node(target) == nil {
			verr.Add(codeDanglingTarget,
				fmt.Sprintf("transition target %q not found", target), path...)
		}
	}
}

func contains(ids []string, id string) bool {
	for _, s := range ids {
		if s == id {
			return true
		}
	}
	return false
}
