package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAgentContext_Defaults(t *testing.T) {
	c := NewAgentContext("agent-1", "exec-1", "write a haiku", 5)

	assert.Equal(t, "agent-1", c.AgentID)
	assert.Equal(t, "exec-1", c.ExecutionID)
	assert.Equal(t, "write a haiku", c.Goal)
	assert.Equal(t, StateQueued, c.State)
	assert.Equal(t, "exec-1", c.RootID)
	assert.Equal(t, float64(5), c.HumanInLoop.BudgetRemaining)
	assert.True(t, c.Consistent())
}

func TestAgentContext_AppendStepKeepsHistoryIterationInSync(t *testing.T) {
	c := NewAgentContext("agent-1", "exec-1", "goal", 10)

	for i := 0; i < 4; i++ {
		c.AppendStep(StepRecord{
			Kind:   StepModel,
			Prompt: "p",
			Action: Action{Kind: ActionContinue, Answer: TextOutput("working")},
			Cost:   0.5,
			Tokens: 100,
		})
		assert.Equal(t, len(c.History), c.Iteration)
	}

	// Feedback entries advance the counter like any other history entry.
	c.AppendStep(StepRecord{Kind: StepFeedback, Observation: "try harder"})
	assert.Equal(t, 5, c.Iteration)
	assert.Len(t, c.History, 5)
	assert.True(t, c.Consistent())

	assert.InDelta(t, 2.0, c.Cost, 1e-9)
	assert.Equal(t, 400, c.Tokens)
}

func TestAgentContext_SetStateErrorInvariant(t *testing.T) {
	c := NewAgentContext("agent-1", "exec-1", "goal", 10)

	c.SetState(StateError, &ExecutionError{Kind: ErrKindProvider, Message: "boom"})
	require.NotNil(t, c.Error)
	assert.True(t, c.Consistent())

	c.SetState(StateRunning, nil)
	assert.Nil(t, c.Error)
	assert.True(t, c.Consistent())
}

func TestAgentContext_CloneIsDeep(t *testing.T) {
	c := NewAgentContext("agent-1", "exec-1", "goal", 10)
	c.AppendStep(StepRecord{Kind: StepModel, Action: Action{Kind: ActionContinue, Answer: TextOutput("a")}})
	c.SetState(StateError, &ExecutionError{Kind: ErrKindInternal, Message: "boom"})

	clone := c.Clone()
	clone.History[0].Action.Answer = TextOutput("mutated")
	clone.Error.Message = "mutated"
	clone.AppendStep(StepRecord{Kind: StepModel})

	assert.Equal(t, "a", c.History[0].Action.Answer.Text)
	assert.Equal(t, "boom", c.Error.Message)
	assert.Equal(t, 1, c.Iteration)
}

func TestAgentContext_BranchLineage(t *testing.T) {
	c := NewAgentContext("agent-1", "exec-1", "goal", 10)
	c.AppendStep(StepRecord{Kind: StepModel, Action: Action{Kind: ActionContinue, Answer: TextOutput("a")}})

	b := c.Branch("exec-2")
	assert.Equal(t, "exec-2", b.ExecutionID)
	assert.Equal(t, "exec-1", b.ParentID)
	assert.Equal(t, "exec-1", b.RootID)
	assert.Len(t, b.History, 1)

	b2 := b.Branch("exec-3")
	assert.Equal(t, "exec-2", b2.ParentID)
	assert.Equal(t, "exec-1", b2.RootID)

	// Mutating the branch never touches the ancestor.
	b.History[0].Action.Answer = TextOutput("mutated")
	assert.Equal(t, "a", c.History[0].Action.Answer.Text)
}

func TestHumanInLoop_BudgetLifecycle(t *testing.T) {
	h := HumanInLoop{BudgetRemaining: 2}

	assert.False(t, h.Exhausted())
	h.Consume()
	h.Consume()
	assert.True(t, h.Exhausted())
	assert.Equal(t, 2, h.CallCount)

	h.Replenish(1)
	assert.False(t, h.Exhausted())

	// Non-positive grants are ignored.
	h.Replenish(-5)
	assert.Equal(t, float64(1), h.BudgetRemaining)
}

func TestExecutionState_Terminal(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateError.Terminal())
	assert.False(t, StateQueued.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.False(t, StateWaitingForHuman.Terminal())
}
