package orchestrator

import (
	"sync"

	"github.com/hupe1980/statemesh/core"
)

type opKind int

const (
	opStart opKind = iota
	opEvent
)

// envelope is one queued unit of work for an instance. reply is nil for
// forwarded orchestrated requests and internal events; external callers get
// their outcome through it.
type envelope struct {
	kind  opKind
	ev    core.Event
	reply chan core.Outcome
}

// mailbox is an unbounded FIFO queue feeding one instance's loop goroutine.
// Unbounded on purpose: delivery between instances must preserve order, and a
// bounded channel would either drop or deadlock two instances exchanging
// bursts of requests.
type mailbox struct {
	mu     sync.Mutex
	queue  []envelope
	closed bool
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// push appends an envelope. Returns ErrInstanceTerminated once closed.
func (m *mailbox) push(env envelope) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return core.ErrInstanceTerminated
	}
	m.queue = append(m.queue, env)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// pop removes the head of the queue. ok is false when the queue is empty;
// closed reports whether the mailbox has been shut down.
func (m *mailbox) pop() (env envelope, ok, closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return envelope{}, false, m.closed
	}
	env = m.queue[0]
	m.queue = m.queue[1:]
	return env, true, m.closed
}

// close marks the mailbox terminated and discards the remaining queue,
// returning it so pending senders can be answered.
func (m *mailbox) close() []envelope {
	m.mu.Lock()
	discarded := m.queue
	m.queue = nil
	m.closed = true
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return discarded
}
