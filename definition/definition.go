package definition

import (
	"time"

	"github.com/hupe1980/statemesh/core"
)

// Kind classifies a state node.
type Kind int

const (
	// KindAtomic is a leaf state with no children.
	KindAtomic Kind = iota
	// KindCompound has child states and a default initial child.
	KindCompound
	// KindParallel activates all of its children (regions) simultaneously.
	KindParallel
	// KindFinal is a terminal state within its parent.
	KindFinal
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindAtomic:
		return "atomic"
	case KindCompound:
		return "compound"
	case KindParallel:
		return "parallel"
	case KindFinal:
		return "final"
	default:
		return "unknown"
	}
}

// Transition is one candidate edge. An empty Targets slice marks a targetless
// (internal) transition that executes actions without exiting any state.
// Multiple targets initialize sibling parallel regions in one step.
type Transition struct {
	Targets []string
	Guard   string // empty means unguarded
	Actions []string
}

// InvokeMode distinguishes one-shot services from continuous activities.
type InvokeMode int

const (
	// ModeService is one-shot work whose completion is fed back as an
	// internal done.invoke/error.invoke event.
	ModeService InvokeMode = iota
	// ModeActivity is continuous work that runs until the state is exited
	// and carries no completion event.
	ModeActivity
)

// String returns the string representation of the invoke mode.
func (m InvokeMode) String() string {
	if m == ModeActivity {
		return "activity"
	}
	return "service"
}

// InvokeSpec declares asynchronous work scoped to a state's residency. The
// onDone/onError transition lists are materialized into the owning node's
// Transitions table under the internal invoke event names at load time.
type InvokeSpec struct {
	Service string
	Mode    InvokeMode
}

// DelaySpec groups all delayed transitions sharing one delay value. The
// engine schedules one timer per DelaySpec; when it fires the candidate
// guards are evaluated in declared order and the first match wins.
type DelaySpec struct {
	Delay       time.Duration
	Transitions []Transition
}

// StateNode is one node of the flat definition table. All references are by
// string id so the definition is trivially immutable and shareable.
type StateNode struct {
	ID       string
	Kind     Kind
	Parent   string   // empty for top-level states
	Initial  string   // compound: default child (declared or first)
	Children []string // declaration order; meaningful for parallel regions

	Entry []string
	Exit  []string

	// Transitions maps event name to ordered candidates. A present key with
	// a nil slice is an explicit suppression: it halts the leaf-to-root
	// handler search without taking a transition, letting a child override
	// inherited handling of an event.
	Transitions map[string][]Transition

	// Always holds eventless transitions evaluated after every microstep
	// until none match.
	Always []Transition

	// Delayed holds "after" transitions grouped by distinct delay.
	Delayed []DelaySpec

	Invoke *InvokeSpec
}

// IsFinal reports whether the node is a final state.
func (n *StateNode) IsFinal() bool { return n.Kind == KindFinal }

// Suppresses reports whether the node explicitly suppresses the event.
func (n *StateNode) Suppresses(event string) bool {
	ts, ok := n.Transitions[event]
	return ok && ts == nil
}

// Handles reports whether the node declares a handler entry (including a
// suppression) for the event.
func (n *StateNode) Handles(event string) bool {
	_, ok := n.Transitions[event]
	return ok
}

// Machine is the immutable definition of one machine kind.
type Machine struct {
	ID      string
	Initial string // top-level initial state id
	Nodes   map[string]*StateNode

	// InitialContext seeds each new instance's context store.
	InitialContext map[string]any

	// order preserves document declaration order of top-level states.
	order []string
}

// Node returns the state node for the given id, or nil if unknown.
func (m *Machine) Node(id string) *StateNode { return m.Nodes[id] }

// TopLevel returns the ids of the top-level states in declaration order.
func (m *Machine) TopLevel() []string { return m.order }

// Ancestors returns all ancestor ids from immediate parent to root.
func (m *Machine) Ancestors(id string) []string {
	var ancestors []string
	current := m.Node(id)
	for current != nil && current.Parent != "" {
		ancestors = append(ancestors, current.Parent)
		current = m.Node(current.Parent)
	}
	return ancestors
}

// PathTo returns the root-to-id path including id itself.
func (m *Machine) PathTo(id string) core.Path {
	ancestors := m.Ancestors(id)
	path := make(core.Path, len(ancestors)+1)
	for i, a := range ancestors {
		path[len(ancestors)-1-i] = a
	}
	path[len(path)-1] = id
	return path
}

// IsDescendantOf reports whether id lies strictly below ancestor.
func (m *Machine) IsDescendantOf(id, ancestor string) bool {
	for _, a := range m.Ancestors(id) {
		if a == ancestor {
			return true
		}
	}
	return false
}

// LCA returns the least common ancestor of a and b, or "" when the only
// common ancestor is the implicit root above all top-level states.
func (m *Machine) LCA(a, b string) string {
	pathA := m.PathTo(a)
	pathB := m.PathTo(b)
	var lca string
	for i := 0; i < len(pathA) && i < len(pathB); i++ {
		if pathA[i] != pathB[i] {
			break
		}
		lca = pathA[i]
	}
	return lca
}

// ReferencedActions returns the set of action names the definition refers to.
func (m *Machine) ReferencedActions() map[string]struct{} {
	names := make(map[string]struct{})
	m.eachTransition(func(t Transition) {
		for _, a := range t.Actions {
			names[a] = struct{}{}
		}
	})
	for _, n := range m.Nodes {
		for _, a := range n.Entry {
			names[a] = struct{}{}
		}
		for _, a := range n.Exit {
			names[a] = struct{}{}
		}
	}
	return names
}

// ReferencedGuards returns the set of guard names the definition refers to.
func (m *Machine) ReferencedGuards() map[string]struct{} {
	names := make(map[string]struct{})
	m.eachTransition(func(t Transition) {
		if t.Guard != "" {
			names[t.Guard] = struct{}{}
		}
	})
	return names
}

// ReferencedServices returns the set of service names the definition refers to.
func (m *Machine) ReferencedServices() map[string]struct{} {
	names := make(map[string]struct{})
	for _, n := range m.Nodes {
		if n.Invoke != nil {
			names[n.Invoke.Service] = struct{}{}
		}
	}
	return names
}

func (m *Machine) eachTransition(fn func(Transition)) {
	for _, n := range m.Nodes {
		for _, ts := range n.Transitions {
			for _, t := range ts {
				fn(t)
			}
		}
		for _, t := range n.Always {
			fn(t)
		}
		for _, ds := range n.Delayed {
			for _, t := range ds.Transitions {
				fn(t)
			}
		}
	}
}
