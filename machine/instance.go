package machine

import (
	"sort"
	"sync"

	"github.com/hupe1980/statemesh/core"
	"github.com/hupe1980/statemesh/definition"
	"github.com/hupe1980/statemesh/logging"
)

// EventSink receives internal events produced outside a macrostep (timer
// fires, service completions). The orchestrator wires the sink to the owning
// instance's mailbox so these events queue behind pending work; without an
// orchestrator a default sink steps the instance directly.
type EventSink interface {
	Deliver(ev core.Event)
}

// Options holds dependency overrides passed to New().
type Options struct {
	// Logger receives engine diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
	// Sink receives deferred internal events. Defaults to direct stepping.
	Sink EventSink
	// Sender is the request-send capability handed to actions. Nil outside
	// an orchestrator; actions calling RequestSend then get ErrNoSender.
	Sender core.RequestSender
}

// Instance is one running statechart. The definition is shared and read only;
// configuration, context, timers and service handles are owned exclusively by
// this instance. At most one macrostep executes at any time.
type Instance struct {
	id  string
	def *definition.Machine
	reg Registry

	logger  logging.Logger
	sink    EventSink
	sender  core.RequestSender
	context *core.Context

	mu      sync.Mutex
	started bool
	stopped bool

	// leaves holds the active leaf state ids in document order. The full
	// configuration is derived from them on demand.
	leaves []string

	// doneEmitted tracks completion events already raised for the current
	// residency of a compound/parallel state, cleared on exit.
	doneEmitted map[string]bool

	// internal queues events synthesized during the current macrostep
	// (done.state, error.execution); drained by the settle loop.
	internal []core.Event

	timers   *timerSet
	services *serviceSet

	// docOrder maps state id to its position in a depth-first walk of the
	// definition, giving deterministic leaf ordering. depth holds each
	// state's distance from the top level for leaf-to-root exit ordering.
	docOrder map[string]int
	depth    map[string]int
}

// New constructs an instance for the given definition. Every callback name
// the definition references must resolve in the registry; otherwise a
// *core.DefinitionError is returned and no instance is created.
func New(id string, def *definition.Machine, reg Registry, optFns ...func(o *Options)) (*Instance, error) {
	if err := reg.Resolve(def); err != nil {
		return nil, err
	}

	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	inst := &Instance{
		id:          id,
		def:         def,
		reg:         reg,
		logger:      opts.Logger,
		sender:      opts.Sender,
		doneEmitted: make(map[string]bool),
		docOrder:    documentOrder(def),
		depth:       stateDepths(def),
	}
	inst.timers = newTimerSet(inst)
	inst.services = newServiceSet(inst)

	inst.sink = opts.Sink
	if inst.sink == nil {
		inst.sink = &selfSink{inst: inst}
	}

	ctx := core.NewContext()
	for k, v := range def.InitialContext {
		ctx.Set(k, v)
	}
	inst.context = ctx

	return inst, nil
}

// ID returns the instance id.
func (inst *Instance) ID() string { return inst.id }

// Definition returns the shared machine definition.
func (inst *Instance) Definition() *definition.Machine { return inst.def }

// Context returns the instance's context store.
func (inst *Instance) Context() *core.Context { return inst.context }

// Configuration returns a snapshot of the active configuration.
func (inst *Instance) Configuration() core.Configuration {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.configurationLocked()
}

// Stopped reports whether the instance has been disposed.
func (inst *Instance) Stopped() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.stopped
}

// Start computes the initial configuration: the default children of the
// initial state are entered recursively (parallel regions fan out), entry
// actions run root to leaf, timers and services of entered states start, and
// eventless transitions settle to a fixpoint.
func (inst *Instance) Start() (core.Configuration, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.stopped {
		return core.Configuration{}, core.ErrInstanceTerminated
	}
	if inst.started {
		return inst.configurationLocked(), core.ErrAlreadyStarted
	}
	inst.started = true

	initial := core.NewEvent("", nil)
	inst.enterStates("", []string{inst.def.Initial}, initial)

	cfg, taken, err := inst.settle(initial, 0)
	if err != nil {
		return cfg, err
	}
	inst.logger.Debug("instance started id=%s microsteps=%d configuration=%s", inst.id, taken, cfg.String())
	return cfg, nil
}

// Stop cancels all outstanding timers and services, empties the configuration
// and marks the instance terminated. Safe to call more than once.
func (inst *Instance) Stop() {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.stopped {
		return
	}
	inst.stopped = true
	inst.timers.cancelAll()
	inst.services.cancelAll()
	inst.leaves = nil
	inst.doneEmitted = make(map[string]bool)
	inst.internal = nil
	inst.logger.Debug("instance stopped id=%s", inst.id)
}

func (inst *Instance) configurationLocked() core.Configuration {
	paths := make([]core.Path, 0, len(inst.leaves))
	for _, leaf := range inst.leaves {
		paths = append(paths, inst.def.PathTo(leaf))
	}
	return core.NewConfiguration(paths...)
}

// activeStates returns the set of all active state ids: every leaf plus every
// ancestor on an active path.
func (inst *Instance) activeStates() map[string]bool {
	active := make(map[string]bool)
	for _, leaf := range inst.leaves {
		active[leaf] = true
		for _, a := range inst.def.Ancestors(leaf) {
			active[a] = true
		}
	}
	return active
}

func (inst *Instance) isActive(id string) bool {
	return inst.activeStates()[id]
}

func (inst *Instance) isActiveLeaf(id string) bool {
	for _, leaf := range inst.leaves {
		if leaf == id {
			return true
		}
	}
	return false
}

// sortLeaves keeps the leaf list in document order so per-leaf iteration is
// deterministic across macrosteps.
func (inst *Instance) sortLeaves() {
	sort.SliceStable(inst.leaves, func(i, j int) bool {
		return inst.docOrder[inst.leaves[i]] < inst.docOrder[inst.leaves[j]]
	})
}

// documentOrder assigns each state its position in a depth-first walk.
func documentOrder(def *definition.Machine) map[string]int {
	order := make(map[string]int, len(def.Nodes))
	n := 0
	var walk func(ids []string)
	walk = func(ids []string) {
		for _, id := range ids {
			order[id] = n
			n++
			if node := def.Node(id); node != nil {
				walk(node.Children)
			}
		}
	}
	walk(def.TopLevel())
	return order
}

// stateDepths maps each state id to its distance from the top level.
func stateDepths(def *definition.Machine) map[string]int {
	depths := make(map[string]int, len(def.Nodes))
	for id := range def.Nodes {
		depths[id] = len(def.Ancestors(id))
	}
	return depths
}

// selfSink steps the instance directly. Used when no orchestrator mailbox is
// wired; the instance mutex serializes against concurrent callers.
type selfSink struct {
	inst *Instance
}

// Deliver implements EventSink.
func (s *selfSink) Deliver(ev core.Event) {
	if _, err := s.inst.Step(ev); err != nil {
		s.inst.logger.Warn("internal event %s failed: %v", ev.Name, err)
	}
}
