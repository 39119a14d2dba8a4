package definition

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/statemesh/core"
)

// Parse loads a declarative machine document and validates it. Any problem,
// whether structural (malformed YAML) or semantic (dangling target, duplicate
// id), is reported as a *core.DefinitionError; a machine is only returned
// when it is safe to instantiate.
func Parse(data []byte) (*Machine, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse machine document: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		verr := &core.DefinitionError{}
		verr.Add(codeEmptyDocument, "document is empty")
		return nil, verr
	}

	p := &parser{
		machine: &Machine{
			Nodes:          make(map[string]*StateNode),
			InitialContext: make(map[string]any),
		},
		verr: &core.DefinitionError{},
	}
	p.parseDocument(doc.Content[0])

	if p.verr.HasIssues() {
		return nil, p.verr
	}
	if err := Validate(p.machine); err != nil {
		return nil, err
	}
	return p.machine, nil
}

// ParseFile reads and parses a machine document from disk.
func ParseFile(path string) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read machine document: %w", err)
	}
	return Parse(data)
}

type parser struct {
	machine *Machine
	verr    *core.DefinitionError
}

func (p *parser) parseDocument(root *yaml.Node) {
	if root.Kind != yaml.MappingNode {
		p.verr.Add(codeMalformed, "top-level document must be a mapping")
		return
	}
	var statesNode *yaml.Node
	eachPair(root, func(key string, value *yaml.Node) {
		switch key {
		case "id":
			p.machine.ID = value.Value
		case "initial":
			p.machine.Initial = value.Value
		case "context":
			if err := value.Decode(&p.machine.InitialContext); err != nil {
				p.verr.Add(codeMalformed, fmt.Sprintf("invalid context block: %v", err), "context")
			}
		case "states":
			statesNode = value
		default:
			p.verr.Add(codeUnknownField, fmt.Sprintf("unknown top-level field %q", key), key)
		}
	})
	if statesNode == nil {
		p.verr.Add(codeNoStates, "at least one state is required")
		return
	}
	p.machine.order = p.parseStates("", statesNode)
	if p.machine.Initial == "" && len(p.machine.order) > 0 {
		p.machine.Initial = p.machine.order[0]
	}
}

// parseStates parses a `states` mapping and returns the child ids in
// declaration order.
func (p *parser) parseStates(parent string, n *yaml.Node) []string {
	if n.Kind != yaml.MappingNode {
		p.verr.Add(codeMalformed, "states must be a mapping keyed by state id", pathOf(parent, "states")...)
		return nil
	}
	var ids []string
	eachPair(n, func(id string, body *yaml.Node) {
		ids = append(ids, id)
		p.parseState(id, parent, body)
	})
	return ids
}

func (p *parser) parseState(id, parent string, body *yaml.Node) {
	if _, exists := p.machine.Nodes[id]; exists {
		p.verr.Add(codeDuplicateState, fmt.Sprintf("state id %q declared more than once", id), "states", id)
		return
	}
	node := &StateNode{
		ID:          id,
		Parent:      parent,
		Transitions: make(map[string][]Transition),
	}
	p.machine.Nodes[id] = node

	if isNull(body) {
		// bare `stateId:` with no body declares a plain atomic state
		return
	}
	if body.Kind != yaml.MappingNode {
		p.verr.Add(codeMalformed, fmt.Sprintf("state %q body must be a mapping", id), "states", id)
		return
	}

	declaredKind := ""
	var statesNode *yaml.Node
	eachPair(body, func(key string, value *yaml.Node) {
		switch key {
		case "type":
			declaredKind = value.Value
		case "initial":
			node.Initial = value.Value
		case "entry":
			node.Entry = p.parseNameList(value, "states", id, "entry")
		case "exit":
			node.Exit = p.parseNameList(value, "states", id, "exit")
		case "on":
			p.parseEventTable(node, value)
		case "always":
			node.Always = p.parseTransitionList(value, "states", id, "always")
		case "after":
			p.parseDelayTable(node, value)
		case "invoke":
			p.parseInvoke(node, value)
		case "states":
			statesNode = value
		default:
			p.verr.Add(codeUnknownField, fmt.Sprintf("unknown field %q on state %q", key, id), "states", id, key)
		}
	})

	if statesNode != nil {
		node.Children = p.parseStates(id, statesNode)
	}

	switch declaredKind {
	case "":
		if len(node.Children) > 0 {
			node.Kind = KindCompound
		} else {
			node.Kind = KindAtomic
		}
	case "atomic":
		node.Kind = KindAtomic
	case "compound":
		node.Kind = KindCompound
	case "parallel":
		node.Kind = KindParallel
	case "final":
		node.Kind = KindFinal
	default:
		p.verr.Add(codeInvalidKind, fmt.Sprintf("state %q has unknown type %q", id, declaredKind), "states", id, "type")
	}

	if node.Kind == KindCompound && node.Initial == "" && len(node.Children) > 0 {
		node.Initial = node.Children[0]
	}
}

// parseEventTable parses the `on` block. A null value is an explicit
// suppression: the key is recorded with a nil transition list.
func (p *parser) parseEventTable(node *StateNode, n *yaml.Node) {
	if n.Kind != yaml.MappingNode {
		p.verr.Add(codeMalformed, fmt.Sprintf("on block of state %q must be a mapping", node.ID), "states", node.ID, "on")
		return
	}
	eachPair(n, func(event string, spec *yaml.Node) {
		if isNull(spec) {
			node.Transitions[event] = nil
			return
		}
		node.Transitions[event] = p.parseTransitionList(spec, "states", node.ID, "on", event)
	})
}

// parseDelayTable parses the `after` block, preserving declaration order and
// grouping candidates under one DelaySpec per distinct delay.
func (p *parser) parseDelayTable(node *StateNode, n *yaml.Node) {
	if n.Kind != yaml.MappingNode {
		p.verr.Add(codeMalformed, fmt.Sprintf("after block of state %q must be a mapping", node.ID), "states", node.ID, "after")
		return
	}
	eachPair(n, func(key string, spec *yaml.Node) {
		delay, err := parseDelay(key)
		if err != nil {
			p.verr.Add(codeInvalidDelay, fmt.Sprintf("state %q has invalid delay %q: %v", node.ID, key, err), "states", node.ID, "after", key)
			return
		}
		ts := p.parseTransitionList(spec, "states", node.ID, "after", key)
		for i := range node.Delayed {
			if node.Delayed[i].Delay == delay {
				node.Delayed[i].Transitions = append(node.Delayed[i].Transitions, ts...)
				return
			}
		}
		node.Delayed = append(node.Delayed, DelaySpec{Delay: delay, Transitions: ts})
	})
}

func (p *parser) parseInvoke(node *StateNode, n *yaml.Node) {
	if n.Kind != yaml.MappingNode {
		p.verr.Add(codeMalformed, fmt.Sprintf("invoke block of state %q must be a mapping", node.ID), "states", node.ID, "invoke")
		return
	}
	spec := &InvokeSpec{}
	eachPair(n, func(key string, value *yaml.Node) {
		switch key {
		case "service":
			spec.Service = value.Value
		case "mode":
			switch value.Value {
			case "", "service":
				spec.Mode = ModeService
			case "activity":
				spec.Mode = ModeActivity
			default:
				p.verr.Add(codeInvalidInvoke, fmt.Sprintf("state %q has unknown invoke mode %q", node.ID, value.Value), "states", node.ID, "invoke", "mode")
			}
		case "onDone":
			node.Transitions[core.DoneInvokeEvent(node.ID)] = p.parseTransitionList(value, "states", node.ID, "invoke", "onDone")
		case "onError":
			node.Transitions[core.ErrorInvokeEvent(node.ID)] = p.parseTransitionList(value, "states", node.ID, "invoke", "onError")
		default:
			p.verr.Add(codeUnknownField, fmt.Sprintf("unknown invoke field %q on state %q", key, node.ID), "states", node.ID, "invoke", key)
		}
	})
	if spec.Service == "" {
		p.verr.Add(codeInvalidInvoke, fmt.Sprintf("state %q invoke block is missing a service name", node.ID), "states", node.ID, "invoke")
		return
	}
	node.Invoke = spec
}

// parseTransitionList accepts the three spec forms: a bare target string, a
// single mapping, or a sequence of mappings (guarded alternatives).
func (p *parser) parseTransitionList(n *yaml.Node, path ...string) []Transition {
	switch n.Kind {
	case yaml.ScalarNode:
		return []Transition{{Targets: []string{n.Value}}}
	case yaml.MappingNode:
		return []Transition{p.parseTransitionSpec(n, path...)}
	case yaml.SequenceNode:
		out := make([]Transition, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind == yaml.ScalarNode {
				out = append(out, Transition{Targets: []string{item.Value}})
				continue
			}
			out = append(out, p.parseTransitionSpec(item, path...))
		}
		return out
	default:
		p.verr.Add(codeMalformed, "transition spec must be a target, mapping or list", path...)
		return nil
	}
}

func (p *parser) parseTransitionSpec(n *yaml.Node, path ...string) Transition {
	var t Transition
	eachPair(n, func(key string, value *yaml.Node) {
		switch key {
		case "target":
			if value.Kind == yaml.SequenceNode {
				for _, item := range value.Content {
					t.Targets = append(t.Targets, item.Value)
				}
			} else if !isNull(value) {
				t.Targets = []string{value.Value}
			}
		case "guard":
			t.Guard = value.Value
		case "actions":
			t.Actions = p.parseNameList(value, append(path, "actions")...)
		default:
			p.verr.Add(codeUnknownField, fmt.Sprintf("unknown transition field %q", key), append(path, key)...)
		}
	})
	return t
}

// parseNameList accepts a single name or a sequence of names.
func (p *parser) parseNameList(n *yaml.Node, path ...string) []string {
	switch n.Kind {
	case yaml.ScalarNode:
		if isNull(n) {
			return nil
		}
		return []string{n.Value}
	case yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			out = append(out, item.Value)
		}
		return out
	default:
		p.verr.Add(codeMalformed, "expected a name or list of names", path...)
		return nil
	}
}

// parseDelay accepts a bare integer (milliseconds) or a Go duration string.
func parseDelay(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("delay must be non-negative")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("delay must be non-negative")
	}
	return d, nil
}

func eachPair(n *yaml.Node, fn func(key string, value *yaml.Node)) {
	for i := 0; i+1 < len(n.Content); i += 2 {
		fn(n.Content[i].Value, n.Content[i+1])
	}
}

func isNull(n *yaml.Node) bool {
	return n == nil || n.Tag == "!!null"
}

func pathOf(parts ...string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
