package orchestrator

import (
	"fmt"
	"sync"

	"github.com/hupe1980/statemesh/core"
	"github.com/hupe1980/statemesh/definition"
	"github.com/hupe1980/statemesh/logging"
	"github.com/hupe1980/statemesh/machine"
)

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Logger receives orchestrator and engine diagnostics.
	// Defaults to NoOp logger if nil to ensure no logging dependencies.
	Logger logging.Logger
}

// Orchestrator owns all running machine instances and serializes inbound
// events per instance. Public methods are safe for concurrent use; internally
// each instance is driven by its own mailbox goroutine, so no lock is ever
// held across two instances.
type Orchestrator struct {
	logger logging.Logger

	mu      sync.RWMutex
	records map[string]*record

	wg sync.WaitGroup
}

// New constructs an Orchestrator with optional overrides.
func New(optFns ...func(o *Options)) *Orchestrator {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Orchestrator{
		logger:  opts.Logger,
		records: make(map[string]*record),
	}
}

// Handle references one registered instance.
type Handle struct {
	id  string
	rec *record
}

// ID returns the instance id the handle refers to.
func (h *Handle) ID() string { return h.id }

// record is the orchestrator's per-instance state: the instance itself, its
// mailbox, and the requests collected during the currently running macrostep.
// pending is only touched by the record's loop goroutine.
type record struct {
	id      string
	orch    *Orchestrator
	inst    *machine.Instance
	box     *mailbox
	pending []core.OrchestratedRequest
}

// RequestSend implements core.RequestSender. It runs on the record's loop
// goroutine while an action executes inside a macrostep; the request is held
// until that macrostep completes.
func (r *record) RequestSend(target string, ev core.Event) {
	r.pending = append(r.pending, core.NewOrchestratedRequest(r.id, target, ev))
}

// Deliver implements machine.EventSink: timer fires and service completions
// queue behind pending work in the owning instance's mailbox. Deliveries to a
// terminated instance are dropped; the engine treats them as stale anyway.
func (r *record) Deliver(ev core.Event) {
	if err := r.box.push(envelope{kind: opEvent, ev: ev}); err != nil {
		r.orch.logger.Debug("dropping internal event %s for terminated instance %s", ev.Name, r.id)
	}
}

// Register creates an instance of the definition under the given id and
// resolves the registry's callbacks against it. An unresolved action, guard
// or service name is a *core.DefinitionError; the instance is never created.
func (o *Orchestrator) Register(id string, def *definition.Machine, reg machine.Registry) (*Handle, error) {
	rec := &record{id: id, orch: o, box: newMailbox()}

	inst, err := machine.New(id, def, reg, func(mo *machine.Options) {
		mo.Logger = o.logger
		mo.Sink = rec
		mo.Sender = rec
	})
	if err != nil {
		return nil, err
	}
	rec.inst = inst

	o.mu.Lock()
	if _, exists := o.records[id]; exists {
		o.mu.Unlock()
		return nil, fmt.Errorf("instance %s already registered", id)
	}
	o.records[id] = rec
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		rec.loop()
	}()

	o.logger.Debug("instance registered id=%s kind=%s", id, def.ID)
	return &Handle{id: id, rec: rec}, nil
}

// Start computes the instance's initial configuration through its mailbox so
// it cannot interleave with queued events.
func (o *Orchestrator) Start(h *Handle) (core.Configuration, error) {
	reply := make(chan core.Outcome, 1)
	if err := h.rec.box.push(envelope{kind: opStart, reply: reply}); err != nil {
		return core.Configuration{}, err
	}
	outcome := <-reply
	if !outcome.Success {
		return outcome.Configuration, fmt.Errorf("start failed: %s", outcome.ErrorMessage)
	}
	return outcome.Configuration, nil
}

// Send delivers an event to the handled instance and blocks for the outcome
// of its macrostep. Safe to call concurrently from multiple callers; events
// targeting the same instance are processed strictly in arrival order. Send
// never panics across this boundary: failures are reported in the Outcome.
func (o *Orchestrator) Send(h *Handle, name string, payload any) core.Outcome {
	return o.SendTo(h.id, name, payload)
}

// SendTo is Send addressed by instance id.
func (o *Orchestrator) SendTo(id, name string, payload any) core.Outcome {
	o.mu.RLock()
	rec := o.records[id]
	o.mu.RUnlock()

	if rec == nil {
		return core.FailedOutcome(core.Configuration{}, core.ErrUnknownInstance)
	}
	reply := make(chan core.Outcome, 1)
	if err := rec.box.push(envelope{kind: opEvent, ev: core.NewEvent(name, payload), reply: reply}); err != nil {
		return core.FailedOutcome(rec.inst.Configuration(), err)
	}
	return <-reply
}

// Stop terminates the instance: outstanding timers and services are
// cancelled, its queued events are discarded (queued senders receive a
// terminated outcome), and later requests targeting it fail with
// ErrInstanceTerminated.
func (o *Orchestrator) Stop(h *Handle) {
	o.stopRecord(h.rec)
}

func (o *Orchestrator) stopRecord(rec *record) {
	discarded := rec.box.close()
	rec.inst.Stop()
	for _, env := range discarded {
		if env.reply != nil {
			env.reply <- core.FailedOutcome(core.Configuration{}, core.ErrInstanceTerminated)
		}
	}
	o.logger.Debug("instance stopped id=%s", rec.id)
}

// Shutdown stops every instance and waits for their mailbox goroutines.
func (o *Orchestrator) Shutdown() {
	o.mu.RLock()
	recs := make([]*record, 0, len(o.records))
	for _, rec := range o.records {
		recs = append(recs, rec)
	}
	o.mu.RUnlock()

	for _, rec := range recs {
		o.stopRecord(rec)
	}
	o.wg.Wait()
}

// Configuration returns a snapshot of the instance's active configuration.
func (o *Orchestrator) Configuration(id string) (core.Configuration, error) {
	o.mu.RLock()
	rec := o.records[id]
	o.mu.RUnlock()
	if rec == nil {
		return core.Configuration{}, core.ErrUnknownInstance
	}
	return rec.inst.Configuration(), nil
}

// ContextSnapshot returns a defensive copy of the instance's context store.
func (o *Orchestrator) ContextSnapshot(id string) (map[string]any, error) {
	o.mu.RLock()
	rec := o.records[id]
	o.mu.RUnlock()
	if rec == nil {
		return nil, core.ErrUnknownInstance
	}
	return rec.inst.Context().Snapshot(), nil
}

// forward appends an orchestrated request to the target's mailbox, behind any
// entries already queued. The returned error is a delivery failure reported
// to the sender; the sender's macrostep is unaffected.
func (o *Orchestrator) forward(req core.OrchestratedRequest) error {
	o.mu.RLock()
	rec := o.records[req.Target]
	o.mu.RUnlock()

	if rec == nil {
		return &core.DeliveryError{Target: req.Target, Event: req.Event.Name, Reason: core.ErrUnknownInstance}
	}
	if err := rec.box.push(envelope{kind: opEvent, ev: req.Event}); err != nil {
		return &core.DeliveryError{Target: req.Target, Event: req.Event.Name, Reason: err}
	}
	return nil
}

// loop drains the mailbox strictly in arrival order: one macrostep at a time
// for this instance, concurrently with other instances' loops.
func (r *record) loop() {
	for {
		env, ok, closed := r.box.pop()
		if !ok {
			if closed {
				return
			}
			<-r.box.notify
			continue
		}
		outcome := r.process(env)
		if env.reply != nil {
			env.reply <- outcome
		}
	}
}

// process runs one queued operation and then, only after the macrostep has
// fully completed, forwards the requests its actions emitted.
func (r *record) process(env envelope) core.Outcome {
	var cfg core.Configuration
	var err error
	switch env.kind {
	case opStart:
		cfg, err = r.inst.Start()
	case opEvent:
		cfg, err = r.inst.Step(env.ev)
	}

	outcome := core.Outcome{Success: err == nil, Configuration: cfg}
	pending := r.pending
	r.pending = nil
	if err != nil {
		outcome.ErrorMessage = err.Error()
		// an aborted macrostep is rolled back wholesale; its outbound
		// requests are part of it and must not escape
		if len(pending) > 0 {
			r.orch.logger.Debug("discarding %d requests from failed macrostep id=%s", len(pending), r.id)
		}
		return outcome
	}

	for _, req := range pending {
		if derr := r.orch.forward(req); derr != nil {
			r.orch.logger.Warn("request delivery failed sender=%s target=%s event=%s: %v", req.Sender, req.Target, req.Event.Name, derr)
			outcome.DeliveryErrors = append(outcome.DeliveryErrors, derr.Error())
		}
	}
	return outcome
}
