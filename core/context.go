package core

import (
	"time"
)

// ExecutionState enumerates the lifecycle states of an agent run.
//
// Transitions:
//
//	Queued → Running ⇄ WaitingForHuman → Running → {Completed | Error}
//
// Error is terminal-until-resumed: an operator may move a context back to
// Running via the engine's ResumeError, which is the only transition out of a
// terminal-looking state.
type ExecutionState string

const (
	// StateQueued marks a freshly created context that has not started stepping.
	StateQueued ExecutionState = "queued"
	// StateRunning marks a context whose step loop is active.
	StateRunning ExecutionState = "running"
	// StateWaitingForHuman marks a context paused on an exhausted HIL budget.
	StateWaitingForHuman ExecutionState = "waiting_for_human"
	// StateCompleted marks a successfully finished run.
	StateCompleted ExecutionState = "completed"
	// StateError marks a failed run; Error carries the cause.
	StateError ExecutionState = "error"
)

// Terminal reports whether the state ends the step loop. StateError counts as
// terminal even though ResumeError can leave it again.
func (s ExecutionState) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// ActionKind categorizes the action an agent chose for a step.
type ActionKind string

const (
	// ActionContinue keeps the step loop going.
	ActionContinue ActionKind = "continue"
	// ActionComplete ends the run successfully.
	ActionComplete ActionKind = "complete"
)

// Action is the engine-level interpretation of a reconciled debate answer.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Answer Output     `json:"answer"`
}

// StepKind distinguishes model-driven steps from operator-injected ones.
type StepKind string

const (
	// StepModel is a regular reasoning step produced by the debate router.
	StepModel StepKind = "model"
	// StepFeedback is a synthetic entry appended when an operator resumes an
	// errored run with feedback.
	StepFeedback StepKind = "feedback"
)

// StepRecord is one completed entry of an agent's history: the prompt that was
// issued, the action that was chosen and the observation that resulted.
// History is append-only during a run.
type StepRecord struct {
	Kind        StepKind  `json:"kind"`
	Prompt      string    `json:"prompt"`
	Action      Action    `json:"action"`
	Observation string    `json:"observation,omitempty"`
	Cost        float64   `json:"cost,omitempty"`
	Tokens      int       `json:"tokens,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// HumanInLoop is the spend ceiling before execution pauses for an operator.
// BudgetRemaining counts abstract step units; CallCount tracks how many units
// have been consumed over the context's lifetime.
type HumanInLoop struct {
	BudgetRemaining float64 `json:"budget_remaining"`
	CallCount       int     `json:"call_count"`
}

// Exhausted reports whether consuming one more step would drive the budget
// negative.
func (h HumanInLoop) Exhausted() bool { return h.BudgetRemaining-1 < 0 }

// Consume deducts one step unit and bumps the call counter.
func (h *HumanInLoop) Consume() {
	h.BudgetRemaining--
	h.CallCount++
}

// Replenish adds budget units granted by an operator decision.
func (h *HumanInLoop) Replenish(units float64) {
	if units > 0 {
		h.BudgetRemaining += units
	}
}

// ExecutionError captures why a run entered StateError. It is set if and only
// if the context state is StateError.
type ExecutionError struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	AtIteration int       `json:"at_iteration"`
}

// AgentContext is the unit of durable state for one agent run. It is mutated
// exclusively by the Execution Engine (single writer per agent) and persisted
// after every state transition. Branching produces value copies, never live
// references, so a branch can never mutate an ancestor.
type AgentContext struct {
	AgentID     string          `json:"agent_id"`
	ExecutionID string          `json:"execution_id"`
	Goal        string          `json:"goal"`
	State       ExecutionState  `json:"state"`
	Iteration   int             `json:"iteration"`
	History     []StepRecord    `json:"history"`
	Cost        float64         `json:"cost_accumulated"`
	Tokens      int             `json:"tokens_accumulated"`
	HumanInLoop HumanInLoop     `json:"human_in_loop"`
	Error       *ExecutionError `json:"error,omitempty"`
	ParentID    string          `json:"parent_id,omitempty"`
	RootID      string          `json:"root_id,omitempty"`
	Created     time.Time       `json:"created"`
	Updated     time.Time       `json:"updated"`
}

// NewAgentContext creates a queued context for a fresh run.
func NewAgentContext(agentID, executionID, goal string, budget float64) *AgentContext {
	now := time.Now().UTC()
	return &AgentContext{
		AgentID:     agentID,
		ExecutionID: executionID,
		Goal:        goal,
		State:       StateQueued,
		History:     []StepRecord{},
		HumanInLoop: HumanInLoop{BudgetRemaining: budget},
		RootID:      executionID,
		Created:     now,
		Updated:     now,
	}
}

// Clone returns a deep copy safe for independent mutation.
func (c *AgentContext) Clone() *AgentContext {
	clone := *c
	clone.History = make([]StepRecord, len(c.History))
	copy(clone.History, c.History)
	if c.Error != nil {
		e := *c.Error
		clone.Error = &e
	}
	return &clone
}

// Branch clones the context under a new execution identifier, recording the
// previous execution as parent. RootID sticks to the first execution of the
// lineage.
func (c *AgentContext) Branch(executionID string) *AgentContext {
	branch := c.Clone()
	branch.ParentID = c.ExecutionID
	if branch.RootID == "" {
		branch.RootID = c.ExecutionID
	}
	branch.ExecutionID = executionID
	branch.Updated = time.Now().UTC()
	return branch
}

// AppendStep records a completed step and advances the iteration counter,
// keeping len(History) == Iteration.
func (c *AgentContext) AppendStep(rec StepRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	c.History = append(c.History, rec)
	c.Iteration++
	c.Cost += rec.Cost
	c.Tokens += rec.Tokens
	c.Updated = time.Now().UTC()
}

// SetState transitions the context, maintaining the state/error consistency
// invariant: Error is populated exactly when the state is StateError.
func (c *AgentContext) SetState(state ExecutionState, execErr *ExecutionError) {
	c.State = state
	if state == StateError {
		c.Error = execErr
	} else {
		c.Error = nil
	}
	c.Updated = time.Now().UTC()
}

// Consistent verifies the documented invariants; primarily used by tests and
// store implementations guarding against corrupted snapshots.
func (c *AgentContext) Consistent() bool {
	if (c.State == StateError) != (c.Error != nil) {
		return false
	}
	return len(c.History) == c.Iteration
}
