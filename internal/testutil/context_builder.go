package testutil

import (
	"time"

	"github.com/hupe1980/debatemesh/core"
)

// ContextBuilder provides a fluent helper for constructing agent contexts in
// tests. Example:
//
//	c := NewContextBuilder("agent-1").Budget(5).State(core.StateRunning).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type ContextBuilder struct {
	agentID     string
	executionID string
	goal        string
	budget      float64
	state       core.ExecutionState
	execErr     *core.ExecutionError
	steps       []core.StepRecord
}

// NewContextBuilder creates a builder with default goal and budget.
func NewContextBuilder(agentID string) *ContextBuilder {
	return &ContextBuilder{
		agentID:     agentID,
		executionID: "exec-" + agentID,
		goal:        "test goal",
		budget:      10,
		state:       core.StateQueued,
	}
}

// Execution overrides the auto-derived execution ID (chainable).
func (b *ContextBuilder) Execution(id string) *ContextBuilder { b.executionID = id; return b }

// Goal sets the run goal (chainable).
func (b *ContextBuilder) Goal(g string) *ContextBuilder { b.goal = g; return b }

// Budget sets the human-in-the-loop budget (chainable).
func (b *ContextBuilder) Budget(units float64) *ContextBuilder { b.budget = units; return b }

// State sets the execution state (chainable).
func (b *ContextBuilder) State(s core.ExecutionState) *ContextBuilder { b.state = s; return b }

// Errored sets StateError with the given kind and message (chainable).
func (b *ContextBuilder) Errored(kind core.ErrorKind, msg string) *ContextBuilder {
	b.state = core.StateError
	b.execErr = &core.ExecutionError{Kind: kind, Message: msg, AtIteration: len(b.steps)}
	return b
}

// ModelStep appends a completed model step answering with text (chainable).
func (b *ContextBuilder) ModelStep(answer string) *ContextBuilder {
	b.steps = append(b.steps, core.StepRecord{
		Kind:      core.StepModel,
		Prompt:    "prompt",
		Action:    core.Action{Kind: core.ActionContinue, Answer: core.TextOutput(answer)},
		Timestamp: time.Now().UTC(),
	})
	return b
}

// FeedbackStep appends an operator feedback entry (chainable).
func (b *ContextBuilder) FeedbackStep(feedback string) *ContextBuilder {
	b.steps = append(b.steps, core.StepRecord{
		Kind:        core.StepFeedback,
		Observation: feedback,
		Action:      core.Action{Kind: core.ActionContinue},
		Timestamp:   time.Now().UTC(),
	})
	return b
}

// Build constructs the core.AgentContext value.
func (b *ContextBuilder) Build() *core.AgentContext {
	c := core.NewAgentContext(b.agentID, b.executionID, b.goal, b.budget)
	for _, rec := range b.steps {
		c.AppendStep(rec)
	}
	if b.state != core.StateQueued {
		c.SetState(b.state, b.execErr)
	}
	return c
}
