package definition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/statemesh/core"
)

const sampleDoc = `
id: sample
initial: idle
context:
  retries: 0
states:
  idle:
    on:
      GO:
        target: running
        actions: [prepare, launch]
  running:
    type: parallel
    states:
      motion:
        initial: moving
        states:
          moving:
            on:
              STOP: stopped
          stopped:
            type: final
      audio:
        initial: playing
        states:
          playing:
            on:
              STOP: muted
          muted:
            type: final
    on:
      done.state.running: idle
  holding:
    entry: acquire
    exit: release
    after:
      100ms: idle
      2s:
        - target: idle
          guard: expired
    on:
      GO:
    always:
      - target: idle
        guard: shouldBail
  fetching:
    invoke:
      service: fetchData
      onDone:
        target: idle
        actions: storeResult
      onError: holding
`

func TestParseSampleDocument(t *testing.T) {
	m, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, "sample", m.ID)
	assert.Equal(t, "idle", m.Initial)
	assert.Equal(t, 0, m.InitialContext["retries"])
	assert.Equal(t, []string{"idle", "running", "holding", "fetching"}, m.TopLevel())

	idle := m.Node("idle")
	require.NotNil(t, idle)
	assert.Equal(t, KindAtomic, idle.Kind)
	require.Len(t, idle.Transitions["GO"], 1)
	assert.Equal(t, []string{"running"}, idle.Transitions["GO"][0].Targets)
	assert.Equal(t, []string{"prepare", "launch"}, idle.Transitions["GO"][0].Actions)

	running := m.Node("running")
	assert.Equal(t, KindParallel, running.Kind)
	assert.Equal(t, []string{"motion", "audio"}, running.Children)

	motion := m.Node("motion")
	assert.Equal(t, KindCompound, motion.Kind)
	assert.Equal(t, "moving", motion.Initial)
	assert.Equal(t, "running", motion.Parent)

	stopped := m.Node("stopped")
	assert.True(t, stopped.IsFinal())
}

func TestParseSuppression(t *testing.T) {
	m, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	holding := m.Node("holding")
	assert.True(t, holding.Handles("GO"))
	assert.True(t, holding.Suppresses("GO"))
	assert.False(t, m.Node("idle").Suppresses("GO"))
}

func TestParseDelays(t *testing.T) {
	m, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	holding := m.Node("holding")
	require.Len(t, holding.Delayed, 2)
	assert.Equal(t, 100*time.Millisecond, holding.Delayed[0].Delay)
	assert.Equal(t, 2*time.Second, holding.Delayed[1].Delay)
	assert.Equal(t, "expired", holding.Delayed[1].Transitions[0].Guard)
}

func TestParseBareMillisecondDelay(t *testing.T) {
	doc := `
id: m
states:
  a:
    after:
      250: b
  b: {}
`
	m, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, m.Node("a").Delayed[0].Delay)
}

func TestParseInvokeMaterializesTransitions(t *testing.T) {
	m, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	fetching := m.Node("fetching")
	require.NotNil(t, fetching.Invoke)
	assert.Equal(t, "fetchData", fetching.Invoke.Service)
	assert.Equal(t, ModeService, fetching.Invoke.Mode)

	done := fetching.Transitions[core.DoneInvokeEvent("fetching")]
	require.Len(t, done, 1)
	assert.Equal(t, []string{"idle"}, done[0].Targets)
	assert.Equal(t, []string{"storeResult"}, done[0].Actions)

	fail := fetching.Transitions[core.ErrorInvokeEvent("fetching")]
	require.Len(t, fail, 1)
	assert.Equal(t, []string{"holding"}, fail[0].Targets)
}

func TestParseDefaultsInitial(t *testing.T) {
	doc := `
id: m
states:
  first:
    states:
      inner: {}
  second: {}
`
	m, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "first", m.Initial)
	assert.Equal(t, "inner", m.Node("first").Initial)
	assert.Equal(t, KindCompound, m.Node("first").Kind)
}

func TestParseMultiTarget(t *testing.T) {
	doc := `
id: m
initial: a
states:
  a:
    on:
      GO:
        target: [r1b, r2b]
  p:
    type: parallel
    states:
      r1:
        initial: r1a
        states:
          r1a: {}
          r1b: {}
      r2:
        initial: r2a
        states:
          r2a: {}
          r2b: {}
`
	m, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"r1b", "r2b"}, m.Node("a").Transitions["GO"][0].Targets)
}

func TestParseReferencedNames(t *testing.T) {
	m, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	actions := m.ReferencedActions()
	assert.Contains(t, actions, "prepare")
	assert.Contains(t, actions, "acquire")
	assert.Contains(t, actions, "release")
	assert.Contains(t, actions, "storeResult")

	guards := m.ReferencedGuards()
	assert.Contains(t, guards, "expired")
	assert.Contains(t, guards, "shouldBail")

	services := m.ReferencedServices()
	assert.Contains(t, services, "fetchData")
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code string
	}{
		{
			name: "empty document",
			doc:  "",
			code: "EMPTY_DOCUMENT",
		},
		{
			name: "no states",
			doc:  "id: m\n",
			code: "NO_STATES",
		},
		{
			name: "dangling target",
			doc:  "id: m\nstates:\n  a:\n    on:\n      GO: nowhere\n",
			code: "DANGLING_TARGET",
		},
		{
			name: "unknown initial",
			doc:  "id: m\ninitial: ghost\nstates:\n  a: {}\n",
			code: "INITIAL_NOT_FOUND",
		},
		{
			name: "invalid kind",
			doc:  "id: m\nstates:\n  a:\n    type: bogus\n",
			code: "INVALID_KIND",
		},
		{
			name: "invalid delay",
			doc:  "id: m\nstates:\n  a:\n    after:\n      soon: b\n  b: {}\n",
			code: "INVALID_DELAY",
		},
		{
			name: "invoke without service",
			doc:  "id: m\nstates:\n  a:\n    invoke:\n      mode: activity\n",
			code: "INVALID_INVOKE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)

			var verr *core.DefinitionError
			require.ErrorAs(t, err, &verr)
			found := false
			for _, issue := range verr.Issues {
				if issue.Code == tt.code {
					found = true
				}
			}
			assert.True(t, found, "expected issue code %s, got %v", tt.code, verr.Issues)
		})
	}
}

func TestMachineHierarchyQueries(t *testing.T) {
	m, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, []string{"motion", "running"}, m.Ancestors("moving"))
	assert.Equal(t, core.Path{"running", "motion", "moving"}, m.PathTo("moving"))
	assert.True(t, m.IsDescendantOf("moving", "running"))
	assert.False(t, m.IsDescendantOf("moving", "audio"))

	assert.Equal(t, "running", m.LCA("moving", "muted"))
	assert.Equal(t, "motion", m.LCA("moving", "stopped"))
	assert.Equal(t, "", m.LCA("idle", "moving"))
}
