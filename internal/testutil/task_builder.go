package testutil

import (
	"encoding/json"

	"github.com/hupe1980/debatemesh/debate"
)

// TaskBuilder provides a fluent helper for constructing debate tasks in tests.
type TaskBuilder struct {
	task debate.Task
}

// NewTaskBuilder creates a builder with a default prompt and identifiers.
func NewTaskBuilder() *TaskBuilder {
	return &TaskBuilder{task: debate.Task{
		AgentID:     "agent-1",
		ExecutionID: "exec-1",
		Prompt:      "What is 2+2?",
	}}
}

// Prompt sets the task prompt (chainable).
func (b *TaskBuilder) Prompt(p string) *TaskBuilder { b.task.Prompt = p; return b }

// Schema constrains answers to a JSON Schema (chainable).
func (b *TaskBuilder) Schema(schema string) *TaskBuilder {
	b.task.Schema = json.RawMessage(schema)
	return b
}

// Debater adds a regular participant (chainable).
func (b *TaskBuilder) Debater(model string, weight float64, tier debate.CostTier) *TaskBuilder {
	b.task.Participants = append(b.task.Participants, debate.ParticipantSpec{
		Model: model, Weight: weight, Tier: tier,
	})
	return b
}

// Judge adds the judge participant (chainable).
func (b *TaskBuilder) Judge(model string) *TaskBuilder {
	b.task.Participants = append(b.task.Participants, debate.ParticipantSpec{
		Model: model, Role: debate.RoleJudge,
	})
	return b
}

// Build returns the debate.Task value.
func (b *TaskBuilder) Build() debate.Task { return b.task }
