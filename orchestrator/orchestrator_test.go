package orchestrator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/statemesh/core"
	"github.com/hupe1980/statemesh/definition"
	"github.com/hupe1980/statemesh/machine"
)

func mustDef(t *testing.T, doc string) *definition.Machine {
	t.Helper()
	m, err := definition.Parse([]byte(doc))
	require.NoError(t, err)
	return m
}

const counterDoc = `
id: counter
initial: counting
states:
  counting:
    on:
      INC:
        actions: increment
`

func counterRegistry() machine.Registry {
	return machine.Registry{Actions: map[string]core.Action{
		"increment": func(ac *core.ActionContext) error {
			n, _ := ac.Context.Get("count").(int)
			ac.Context.Set("count", n+1)
			return nil
		},
	}}
}

func TestRegisterStartSend(t *testing.T) {
	orch := New()
	defer orch.Shutdown()

	h, err := orch.Register("c1", mustDef(t, counterDoc), counterRegistry())
	require.NoError(t, err)
	assert.Equal(t, "c1", h.ID())

	cfg, err := orch.Start(h)
	require.NoError(t, err)
	assert.Equal(t, "counting", cfg.String())

	outcome := orch.Send(h, "INC", nil)
	assert.True(t, outcome.Success)
	assert.Equal(t, "counting", outcome.Configuration.String())

	snap, err := orch.ContextSnapshot("c1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap["count"])
}

func TestRegisterDuplicateID(t *testing.T) {
	orch := New()
	defer orch.Shutdown()

	_, err := orch.Register("c1", mustDef(t, counterDoc), counterRegistry())
	require.NoError(t, err)
	_, err = orch.Register("c1", mustDef(t, counterDoc), counterRegistry())
	assert.Error(t, err)
}

func TestSendToUnknownInstance(t *testing.T) {
	orch := New()
	defer orch.Shutdown()

	outcome := orch.SendTo("ghost", "GO", nil)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.ErrorMessage, "unknown instance")

	_, err := orch.Configuration("ghost")
	assert.ErrorIs(t, err, core.ErrUnknownInstance)
	_, err = orch.ContextSnapshot("ghost")
	assert.ErrorIs(t, err, core.ErrUnknownInstance)
}

func TestSendToStoppedInstance(t *testing.T) {
	orch := New()
	defer orch.Shutdown()

	h, err := orch.Register("c1", mustDef(t, counterDoc), counterRegistry())
	require.NoError(t, err)
	_, err = orch.Start(h)
	require.NoError(t, err)

	orch.Stop(h)

	outcome := orch.Send(h, "INC", nil)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.ErrorMessage, "terminated")
}

func TestConcurrentSendsSerialize(t *testing.T) {
	orch := New()
	defer orch.Shutdown()

	h, err := orch.Register("c1", mustDef(t, counterDoc), counterRegistry())
	require.NoError(t, err)
	_, err = orch.Start(h)
	require.NoError(t, err)

	const senders = 10
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := orch.Send(h, "INC", nil)
			assert.True(t, outcome.Success)
		}()
	}
	wg.Wait()

	snap, err := orch.ContextSnapshot("c1")
	require.NoError(t, err)
	assert.Equal(t, senders, snap["count"])
}

const senderDoc = `
id: sender
initial: idle
states:
  idle:
    on:
      KICK:
        actions: notify
`

const receiverDoc = `
id: receiver
initial: listening
states:
  listening:
    on:
      e1:
        actions: record
      e2:
        actions: record
`

func TestRequestsDeliverAfterMacrostepInOrder(t *testing.T) {
	orch := New()
	defer orch.Shutdown()

	senderReg := machine.Registry{Actions: map[string]core.Action{
		"notify": func(ac *core.ActionContext) error {
			if err := ac.RequestSend("rcv", "e1", nil); err != nil {
				return err
			}
			return ac.RequestSend("rcv", "e2", nil)
		},
	}}
	receiverReg := machine.Registry{Actions: map[string]core.Action{
		"record": func(ac *core.ActionContext) error {
			seen, _ := ac.Context.Get("seen").([]string)
			ac.Context.Set("seen", append(seen, ac.Event.Name))
			return nil
		},
	}}

	snd, err := orch.Register("snd", mustDef(t, senderDoc), senderReg)
	require.NoError(t, err)
	rcv, err := orch.Register("rcv", mustDef(t, receiverDoc), receiverReg)
	require.NoError(t, err)
	_, err = orch.Start(snd)
	require.NoError(t, err)
	_, err = orch.Start(rcv)
	require.NoError(t, err)

	outcome := orch.Send(snd, "KICK", nil)
	require.True(t, outcome.Success)
	assert.Empty(t, outcome.DeliveryErrors)

	assert.Eventually(t, func() bool {
		snap, err := orch.ContextSnapshot("rcv")
		if err != nil {
			return false
		}
		seen, _ := snap["seen"].([]string)
		return len(seen) == 2
	}, 2*time.Second, 5*time.Millisecond)

	snap, err := orch.ContextSnapshot("rcv")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, snap["seen"])
}

func TestAbortedMacrostepDiscardsRequests(t *testing.T) {
	senderDoc := `
id: sender
initial: idle
states:
  idle:
    on:
      KICK:
        actions: [notify, arm]
    always:
      - target: busy
        guard: armed
  busy:
    always:
      - target: idle
        guard: armed
`
	receiverDoc := `
id: receiver
initial: listening
states:
  listening:
    on:
      PING:
        actions: mark
`
	orch := New()
	defer orch.Shutdown()

	senderReg := machine.Registry{
		Actions: map[string]core.Action{
			"notify": func(ac *core.ActionContext) error {
				return ac.RequestSend("rcv", "PING", nil)
			},
			"arm": func(ac *core.ActionContext) error {
				ac.Context.Set("armed", true)
				return nil
			},
		},
		Guards: map[string]core.Guard{
			"armed": func(c *core.Context, ev core.Event) (bool, error) {
				armed, _ := c.Get("armed").(bool)
				return armed, nil
			},
		},
	}
	receiverReg := machine.Registry{Actions: map[string]core.Action{
		"mark": func(ac *core.ActionContext) error {
			ac.Context.Set("pinged", true)
			return nil
		},
	}}

	snd, err := orch.Register("snd", mustDef(t, senderDoc), senderReg)
	require.NoError(t, err)
	rcv, err := orch.Register("rcv", mustDef(t, receiverDoc), receiverReg)
	require.NoError(t, err)
	_, err = orch.Start(snd)
	require.NoError(t, err)
	_, err = orch.Start(rcv)
	require.NoError(t, err)

	// the sender's macrostep never settles and rolls back; the request its
	// action emitted belongs to the aborted macrostep and must not arrive
	outcome := orch.Send(snd, "KICK", nil)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.ErrorMessage, "did not settle")
	assert.Empty(t, outcome.DeliveryErrors)

	time.Sleep(100 * time.Millisecond)
	snap, err := orch.ContextSnapshot("rcv")
	require.NoError(t, err)
	assert.NotContains(t, snap, "pinged")
}

func TestDeliveryFailureReportedInOutcome(t *testing.T) {
	orch := New()
	defer orch.Shutdown()

	senderReg := machine.Registry{Actions: map[string]core.Action{
		"notify": func(ac *core.ActionContext) error {
			return ac.RequestSend("nobody", "e1", nil)
		},
	}}
	snd, err := orch.Register("snd", mustDef(t, senderDoc), senderReg)
	require.NoError(t, err)
	_, err = orch.Start(snd)
	require.NoError(t, err)

	// the macrostep itself succeeds; only delivery is reported as failed
	outcome := orch.Send(snd, "KICK", nil)
	assert.True(t, outcome.Success)
	require.Len(t, outcome.DeliveryErrors, 1)
	assert.Contains(t, outcome.DeliveryErrors[0], "nobody")
}

func TestStartOnStoppedInstance(t *testing.T) {
	orch := New()
	defer orch.Shutdown()

	h, err := orch.Register("c1", mustDef(t, counterDoc), counterRegistry())
	require.NoError(t, err)
	orch.Stop(h)

	_, err = orch.Start(h)
	assert.ErrorIs(t, err, core.ErrInstanceTerminated)
}

func TestShutdownStopsAllInstances(t *testing.T) {
	orch := New()

	h1, err := orch.Register("c1", mustDef(t, counterDoc), counterRegistry())
	require.NoError(t, err)
	h2, err := orch.Register("c2", mustDef(t, counterDoc), counterRegistry())
	require.NoError(t, err)
	_, err = orch.Start(h1)
	require.NoError(t, err)
	_, err = orch.Start(h2)
	require.NoError(t, err)

	orch.Shutdown()

	assert.False(t, orch.Send(h1, "INC", nil).Success)
	assert.False(t, orch.Send(h2, "INC", nil).Success)
}

func TestMailboxFIFO(t *testing.T) {
	box := newMailbox()

	require.NoError(t, box.push(envelope{ev: core.NewEvent("a", nil)}))
	require.NoError(t, box.push(envelope{ev: core.NewEvent("b", nil)}))

	env, ok, closed := box.pop()
	assert.True(t, ok)
	assert.False(t, closed)
	assert.Equal(t, "a", env.ev.Name)

	env, ok, _ = box.pop()
	assert.True(t, ok)
	assert.Equal(t, "b", env.ev.Name)

	_, ok, _ = box.pop()
	assert.False(t, ok)

	require.NoError(t, box.push(envelope{ev: core.NewEvent("c", nil)}))
	discarded := box.close()
	assert.Len(t, discarded, 1)
	assert.ErrorIs(t, box.push(envelope{}), core.ErrInstanceTerminated)

	_, ok, closed = box.pop()
	assert.False(t, ok)
	assert.True(t, closed)
}
