package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/debatemesh/core"
	"github.com/hupe1980/debatemesh/internal/testutil"
)

func TestInMemoryStore_SaveAndLoad(t *testing.T) {
	st := NewInMemoryStore()

	c := testutil.NewContextBuilder("agent-1").Build()
	require.NoError(t, st.Save(c))

	loaded, err := st.Load("agent-1")
	require.NoError(t, err)
	assert.Equal(t, c, loaded)
}

func TestInMemoryStore_LoadUnknownAgent(t *testing.T) {
	st := NewInMemoryStore()

	_, err := st.Load("missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = st.LoadExecution("missing", "exec-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestInMemoryStore_CloneIsolation(t *testing.T) {
	st := NewInMemoryStore()

	c := testutil.NewContextBuilder("agent-1").
		ModelStep("step one").
		Build()
	require.NoError(t, st.Save(c))

	// Mutating the caller's copy must not leak into the store.
	c.Iteration = 99
	c.History[0].Action.Answer.Text = "tampered"

	loaded, err := st.Load("agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Iteration)
	assert.Equal(t, "step one", loaded.History[0].Action.Answer.Text)

	// And mutating a loaded copy must not leak either.
	loaded.History[0].Action.Answer.Text = "tampered again"

	reloaded, err := st.Load("agent-1")
	require.NoError(t, err)
	assert.Equal(t, "step one", reloaded.History[0].Action.Answer.Text)
}

func TestInMemoryStore_LatestFollowsBranch(t *testing.T) {
	st := NewInMemoryStore()

	original := testutil.NewContextBuilder("agent-1").
		Execution("exec-1").
		Errored(core.ErrKindAllParticipantsFailed, "everyone failed").
		Build()
	require.NoError(t, st.Save(original))

	branch := original.Branch("exec-2")
	branch.SetState(core.StateRunning, nil)
	require.NoError(t, st.Save(branch))

	latest, err := st.Load("agent-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-2", latest.ExecutionID)
	assert.Equal(t, core.StateRunning, latest.State)

	// The superseded execution stays addressable by id.
	old, err := st.LoadExecution("agent-1", "exec-1")
	require.NoError(t, err)
	assert.Equal(t, core.StateError, old.State)
	assert.Equal(t, "exec-1", old.ExecutionID)
}

func TestInMemoryStore_SaveIsIdempotent(t *testing.T) {
	st := NewInMemoryStore()

	c := testutil.NewContextBuilder("agent-1").Build()
	require.NoError(t, st.Save(c))

	c.Iteration = 5
	require.NoError(t, st.Save(c))

	loaded, err := st.Load("agent-1")
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Iteration)

	list, err := st.List(core.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestInMemoryStore_Delete(t *testing.T) {
	st := NewInMemoryStore()

	require.NoError(t, st.Save(testutil.NewContextBuilder("agent-1").Build()))
	require.NoError(t, st.Save(testutil.NewContextBuilder("agent-2").Build()))

	require.NoError(t, st.Delete([]string{"agent-1", "unknown"}))

	_, err := st.Load("agent-1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = st.Load("agent-2")
	assert.NoError(t, err)
}

func TestInMemoryStore_ListFilters(t *testing.T) {
	st := NewInMemoryStore()

	running := testutil.NewContextBuilder("agent-b").State(core.StateRunning).Build()
	completed := testutil.NewContextBuilder("agent-a").State(core.StateCompleted).Build()
	errored := testutil.NewContextBuilder("agent-c").
		Errored(core.ErrKindCancelled, "cancelled").
		Build()

	for _, c := range []*core.AgentContext{running, completed, errored} {
		require.NoError(t, st.Save(c))
	}

	all, err := st.List(core.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Sorted by agent id.
	assert.Equal(t, "agent-a", all[0].AgentID)
	assert.Equal(t, "agent-b", all[1].AgentID)
	assert.Equal(t, "agent-c", all[2].AgentID)

	terminal, err := st.List(core.ListFilter{
		States: []core.ExecutionState{core.StateCompleted, core.StateError},
	})
	require.NoError(t, err)
	require.Len(t, terminal, 2)
	assert.Equal(t, "agent-a", terminal[0].AgentID)
	assert.Equal(t, "agent-c", terminal[1].AgentID)

	byRoot, err := st.List(core.ListFilter{RootID: running.RootID})
	require.NoError(t, err)
	require.Len(t, byRoot, 1)
	assert.Equal(t, "agent-b", byRoot[0].AgentID)
}
