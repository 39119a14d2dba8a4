package machine

import (
	"errors"
	"sort"
	"time"

	"github.com/hupe1980/statemesh/core"
	"github.com/hupe1980/statemesh/definition"
)

// maxSettleIterations caps the eventless-transition fixpoint. Exceeding it
// aborts the macrostep with an InfiniteLoopError instead of hanging.
const maxSettleIterations = 1000

// selected pairs a candidate transition with the active leaf whose search
// found it and the node that declares it.
type selected struct {
	leaf   string
	source string
	t      definition.Transition
}

// Step runs one macrostep: the full settle-to-fixpoint reaction to a single
// event. It is the unit of atomicity the orchestrator serializes per
// instance. On an InfiniteLoopError the configuration and context are rolled
// back to their pre-macrostep values.
func (inst *Instance) Step(ev core.Event) (core.Configuration, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.stopped {
		return core.Configuration{}, core.ErrInstanceTerminated
	}
	if !inst.started {
		return core.Configuration{}, core.ErrNotStarted
	}

	snapLeaves := append([]string(nil), inst.leaves...)
	snapContext := inst.context.Snapshot()
	start := time.Now()

	cfg, taken, err := inst.settle(ev, inst.processEvent(ev))
	if err != nil {
		var loopErr *core.InfiniteLoopError
		if errors.As(err, &loopErr) {
			inst.rollback(snapLeaves, snapContext, ev)
			cfg = inst.configurationLocked()
		}
		inst.logger.Error("macrostep failed id=%s event=%s microsteps=%d duration=%s: %v", inst.id, ev.Name, taken, time.Since(start), err)
		return cfg, err
	}
	inst.logger.Debug("macrostep completed id=%s event=%s microsteps=%d configuration=%s duration=%s", inst.id, ev.Name, taken, cfg.String(), time.Since(start))
	return cfg, nil
}

// processEvent offers the event to every active leaf and executes the
// selected transitions. Returns the number of microsteps taken.
func (inst *Instance) processEvent(ev core.Event) int {
	if ev.Name == eventAfterName {
		return inst.handleAfter(ev)
	}

	sels := inst.selectTransitions(ev)
	taken := 0
	for _, s := range sels {
		// a leaf exited by an earlier microstep of the same event loses
		// its selection; the earlier transition wins the conflict
		if !inst.isActiveLeaf(s.leaf) {
			continue
		}
		inst.microstep(s, ev)
		taken++
	}
	return taken
}

// selectTransitions searches, for each active leaf, from the leaf up to the
// root for the first node declaring a handler for the event. An explicit
// suppression halts the search without a transition. Guards are evaluated in
// declared order; the first passing candidate wins.
func (inst *Instance) selectTransitions(ev core.Event) []selected {
	leaves := append([]string(nil), inst.leaves...)
	var out []selected
	for _, leaf := range leaves {
		cur := leaf
		for cur != "" {
			node := inst.def.Node(cur)
			if node.Handles(ev.Name) {
				if !node.Suppresses(ev.Name) {
					if t, ok := inst.firstMatching(node.Transitions[ev.Name], ev); ok {
						out = append(out, selected{leaf: leaf, source: cur, t: t})
					}
				}
				// the first declaring node halts the search either way
				break
			}
			cur = node.Parent
		}
	}
	return out
}

func (inst *Instance) firstMatching(ts []definition.Transition, ev core.Event) (definition.Transition, bool) {
	for _, t := range ts {
		if inst.guardPasses(t, ev) {
			return t, true
		}
	}
	return definition.Transition{}, false
}

// guardPasses evaluates a transition's guard. A guard error is treated as
// guard=false and logged; evaluation of remaining candidates continues.
func (inst *Instance) guardPasses(t definition.Transition, ev core.Event) bool {
	if t.Guard == "" {
		return true
	}
	pass, err := inst.reg.Guards[t.Guard](inst.context, ev)
	if err != nil {
		inst.logger.Warn("guard %s failed, treated as false: %v", t.Guard, err)
		return false
	}
	return pass
}

// microstep executes one selected transition: exit set leaf-to-root, the
// transition's own actions, entry set root-to-leaf. Targetless transitions
// run actions without exiting anything.
func (inst *Instance) microstep(s selected, ev core.Event) {
	if len(s.t.Targets) == 0 {
		inst.runActions(s.t.Actions, ev)
		return
	}

	domain := inst.transitionDomain(s)
	inst.exitStates(domain, ev)
	inst.runActions(s.t.Actions, ev)
	inst.enterStates(domain, s.t.Targets, ev)
}

// transitionDomain computes the common ancestor bounding the exit and entry
// sets. A self-transition re-enters its source, so its domain is the source's
// parent. The domain is never a parallel node: a transition crossing sibling
// regions exits the whole parallel state so that every region is re-entered
// or defaulted together, keeping one active leaf per region.
func (inst *Instance) transitionDomain(s selected) string {
	var domain string
	if len(s.t.Targets) == 1 && s.t.Targets[0] == s.source {
		domain = inst.def.Node(s.source).Parent
	} else {
		domain = inst.def.LCA(s.leaf, s.t.Targets[0])
		for _, target := range s.t.Targets[1:] {
			if domain == "" {
				break
			}
			domain = inst.def.LCA(domain, target)
		}
	}
	for domain != "" && inst.def.Node(domain).Kind == definition.KindParallel {
		domain = inst.def.Node(domain).Parent
	}
	return domain
}

// exitStates exits every active state strictly below the domain, leaf to
// root. Timers and services owned by an exited state are cancelled before
// its exit actions run.
func (inst *Instance) exitStates(domain string, ev core.Event) {
	active := inst.activeStates()
	var exiting []string
	for id := range active {
		if domain == "" || inst.def.IsDescendantOf(id, domain) {
			exiting = append(exiting, id)
		}
	}
	sort.SliceStable(exiting, func(i, j int) bool {
		di, dj := inst.depth[exiting[i]], inst.depth[exiting[j]]
		if di != dj {
			return di > dj
		}
		return inst.docOrder[exiting[i]] < inst.docOrder[exiting[j]]
	})

	exited := make(map[string]bool, len(exiting))
	for _, id := range exiting {
		node := inst.def.Node(id)
		inst.timers.cancelFor(id)
		inst.services.cancelFor(id)
		inst.runActions(node.Exit, ev)
		delete(inst.doneEmitted, id)
		exited[id] = true
	}

	remaining := inst.leaves[:0]
	for _, leaf := range inst.leaves {
		if !exited[leaf] {
			remaining = append(remaining, leaf)
		}
	}
	inst.leaves = remaining
}

// enterStates enters from below the domain down to each target, resolving
// compound defaults and fanning out into every region of entered parallel
// states. Entry actions run root to leaf; each entered state's timers and
// services start after its entry actions.
func (inst *Instance) enterStates(domain string, targets []string, ev core.Event) {
	var order []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}

	var complete func(id string)
	complete = func(id string) {
		node := inst.def.Node(id)
		switch node.Kind {
		case definition.KindCompound:
			add(node.Initial)
			complete(node.Initial)
		case definition.KindParallel:
			for _, region := range node.Children {
				add(region)
				complete(region)
			}
		}
	}

	for _, target := range targets {
		path := inst.def.PathTo(target)
		start := 0
		if domain != "" {
			for i, id := range path {
				if id == domain {
					start = i + 1
					break
				}
			}
		}
		for _, id := range path[start:] {
			add(id)
		}
		complete(target)
	}

	// entered compound/parallel states on a targeted path still need their
	// untargeted children defaulted (e.g. a parallel entered via one region)
	for i := 0; i < len(order); i++ {
		node := inst.def.Node(order[i])
		switch node.Kind {
		case definition.KindCompound:
			hasChild := false
			for _, c := range node.Children {
				if seen[c] {
					hasChild = true
					break
				}
			}
			if !hasChild {
				add(node.Initial)
				complete(node.Initial)
			}
		case definition.KindParallel:
			for _, region := range node.Children {
				if !seen[region] {
					add(region)
					complete(region)
				}
			}
		}
	}

	// root-to-leaf: depth-first document order puts parents first
	sort.SliceStable(order, func(i, j int) bool {
		return inst.docOrder[order[i]] < inst.docOrder[order[j]]
	})

	for _, id := range order {
		node := inst.def.Node(id)
		inst.runActions(node.Entry, ev)
		inst.timers.schedule(id, node)
		inst.services.start(id, node, ev)
		if node.Kind == definition.KindAtomic || node.Kind == definition.KindFinal {
			inst.leaves = append(inst.leaves, id)
		}
	}
	inst.sortLeaves()
	inst.checkCompletion()
}

// runActions executes a name list in order. A failing action is logged, the
// remainder of the list is skipped, and an error.execution event is queued so
// a declared error transition can react within the same macrostep.
func (inst *Instance) runActions(names []string, ev core.Event) {
	for _, name := range names {
		ac := core.NewActionContext(inst.id, inst.context, ev, inst.sender)
		if err := inst.reg.Actions[name](ac); err != nil {
			inst.logger.Error("action %s failed id=%s: %v", name, inst.id, err)
			inst.internal = append(inst.internal, core.NewEvent(core.EventErrorExecution, err.Error()))
			return
		}
	}
}

// checkCompletion raises done.state events: a compound state completes when
// its active child is final; a parallel state completes only when every
// region is simultaneously in one of its own final states. Each completion is
// raised once per residency.
func (inst *Instance) checkCompletion() {
	finalByParent := make(map[string]bool)
	for _, leaf := range inst.leaves {
		node := inst.def.Node(leaf)
		if node.IsFinal() {
			finalByParent[node.Parent] = true
		}
	}

	active := inst.activeStates()
	ids := make([]string, 0, len(active))
	for id := range active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return inst.docOrder[ids[i]] < inst.docOrder[ids[j]] })

	for _, id := range ids {
		if inst.doneEmitted[id] {
			continue
		}
		node := inst.def.Node(id)
		switch node.Kind {
		case definition.KindCompound:
			if finalByParent[id] {
				inst.doneEmitted[id] = true
				inst.internal = append(inst.internal, core.NewEvent(core.DoneStateEvent(id), nil))
			}
		case definition.KindParallel:
			all := len(node.Children) > 0
			for _, region := range node.Children {
				if !finalByParent[region] {
					all = false
					break
				}
			}
			if all {
				inst.doneEmitted[id] = true
				inst.internal = append(inst.internal, core.NewEvent(core.DoneStateEvent(id), nil))
			}
		}
	}
}

// settle drains queued internal events and eventless transitions until the
// configuration is quiescent, bounded by maxSettleIterations. Returns the
// total number of microsteps the macrostep took.
func (inst *Instance) settle(trigger core.Event, taken int) (core.Configuration, int, error) {
	for iter := 0; ; iter++ {
		if iter >= maxSettleIterations {
			return inst.configurationLocked(), taken, &core.InfiniteLoopError{Event: trigger.Name, Iterations: maxSettleIterations}
		}
		if len(inst.internal) > 0 {
			ev := inst.internal[0]
			inst.internal = inst.internal[1:]
			taken += inst.processEvent(ev)
			continue
		}
		if inst.takeAlwaysTransition(trigger) {
			taken++
			continue
		}
		break
	}
	return inst.configurationLocked(), taken, nil
}

// takeAlwaysTransition executes at most one eventless transition: the first
// match walking each leaf's ancestor chain in document order.
func (inst *Instance) takeAlwaysTransition(trigger core.Event) bool {
	for _, leaf := range append([]string(nil), inst.leaves...) {
		if !inst.isActiveLeaf(leaf) {
			continue
		}
		cur := leaf
		for cur != "" {
			node := inst.def.Node(cur)
			if len(node.Always) > 0 {
				if t, ok := inst.firstMatching(node.Always, trigger); ok {
					inst.microstep(selected{leaf: leaf, source: cur, t: t}, trigger)
					return true
				}
			}
			cur = node.Parent
		}
	}
	return false
}

// rollback restores the pre-macrostep configuration and context after an
// aborted macrostep. Timers and services are realigned with the restored
// configuration: stale ones are cancelled, missing ones re-armed.
func (inst *Instance) rollback(leaves []string, ctxSnapshot map[string]any, trigger core.Event) {
	inst.leaves = append([]string(nil), leaves...)
	inst.context.Restore(ctxSnapshot)
	inst.internal = nil

	active := inst.activeStates()
	inst.timers.cancelExcept(active)
	inst.services.cancelExcept(active)
	for id := range inst.doneEmitted {
		if !active[id] {
			delete(inst.doneEmitted, id)
		}
	}

	ids := make([]string, 0, len(active))
	for id := range active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return inst.docOrder[ids[i]] < inst.docOrder[ids[j]] })
	for _, id := range ids {
		node := inst.def.Node(id)
		inst.timers.ensure(id, node)
		inst.services.ensure(id, node, trigger)
	}
}
