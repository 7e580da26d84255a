package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/debatemesh/core"
	"github.com/hupe1980/debatemesh/debate"
	"github.com/hupe1980/debatemesh/internal/util"
	"github.com/hupe1980/debatemesh/logging"
	"github.com/hupe1980/debatemesh/store"
)

// TaskRouter routes one reasoning step to a set of debate participants.
// *debate.Router satisfies this.
type TaskRouter interface {
	Route(ctx context.Context, task debate.Task) (*debate.Result, error)
}

// Config defines tuning parameters for run execution.
type Config struct {
	// MaxIterations caps the number of reasoning steps per execution attempt.
	// A run hitting the cap enters StateError with kind iteration_limit.
	MaxIterations int

	// DefaultBudget is the human-in-the-loop budget granted to fresh runs,
	// counted in step units. A run that exhausts it pauses in
	// StateWaitingForHuman until an operator decides.
	DefaultBudget float64

	// EscalationThreshold triggers a second debate pass on the plan's
	// escalation roster when the base pass agrees below this fraction.
	// Zero disables escalation regardless of the plan.
	EscalationThreshold float64

	// SnapshotBufferSize sets channel buffering for context snapshots
	// streamed to Start/Resume callers.
	SnapshotBufferSize int

	// Instructions is the system prompt given to every debate participant.
	// Empty selects a default that explains the completion marker.
	Instructions string

	// Schema optionally constrains every step answer to a JSON Schema.
	Schema json.RawMessage
}

// DefaultConfig provides conservative defaults: a generous iteration ceiling,
// a small human-in-the-loop budget and no escalation.
var DefaultConfig = Config{
	MaxIterations:      100,
	DefaultBudget:      10,
	SnapshotBufferSize: 16,
}

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig.
	Config Config

	// Store persists context snapshots. Defaults to an in-memory store.
	Store core.ContextStore

	// Decider interprets reconciled answers. Defaults to MarkerDecider.
	Decider ActionDecider

	// Callbacks hooks into the step loop. Defaults to an empty manager.
	Callbacks *CallbackManager

	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger
}

// Engine drives agent runs through the execution lifecycle. It is the single
// writer of every AgentContext it manages: all mutations happen under a
// per-agent lock and every state transition is persisted before the run
// proceeds. Public methods are safe for concurrent use.
type Engine struct {
	config    Config
	router    TaskRouter
	plan      DebatePlan
	store     core.ContextStore
	decider   ActionDecider
	callbacks *CallbackManager
	logger    logging.Logger

	// agentLocks serializes writers per agent id.
	agentLocks map[string]*sync.Mutex
	locksMu    sync.Mutex

	// activeRuns tracks the cancel function of each live step loop.
	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
}

// New constructs an Engine routing steps through the given router and plan.
func New(router TaskRouter, plan DebatePlan, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config:    DefaultConfig,
		Store:     store.NewInMemoryStore(),
		Decider:   NewMarkerDecider(""),
		Callbacks: NewCallbackManager(),
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Config.MaxIterations == 0 {
		opts.Config.MaxIterations = DefaultConfig.MaxIterations
	}
	if opts.Config.SnapshotBufferSize <= 0 {
		opts.Config.SnapshotBufferSize = DefaultConfig.SnapshotBufferSize
	}

	return &Engine{
		config:     opts.Config,
		router:     router,
		plan:       plan,
		store:      opts.Store,
		decider:    opts.Decider,
		callbacks:  opts.Callbacks,
		logger:     opts.Logger,
		agentLocks: make(map[string]*sync.Mutex),
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// Start begins a fresh run for an agent. Validation failures surface as
// ErrInvalidConfig before any state change; an agent whose latest context is
// not terminal cannot be started again (ErrNotAllowed).
//
// The returned channel streams a context snapshot after every persisted
// transition and closes when the step loop stops. Callers must drain it.
func (e *Engine) Start(ctx context.Context, agentID, goal string) (string, <-chan *core.AgentContext, error) {
	if agentID == "" {
		return "", nil, fmt.Errorf("%w: agent id is required", core.ErrInvalidConfig)
	}
	if goal == "" {
		return "", nil, fmt.Errorf("%w: goal is required", core.ErrInvalidConfig)
	}
	if e.config.DefaultBudget < 0 {
		return "", nil, fmt.Errorf("%w: default budget must not be negative", core.ErrInvalidConfig)
	}
	if e.config.MaxIterations < 0 {
		return "", nil, fmt.Errorf("%w: max iterations must not be negative", core.ErrInvalidConfig)
	}
	if err := e.plan.Validate(); err != nil {
		return "", nil, err
	}

	lock := e.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	if e.isActive(agentID) {
		return "", nil, fmt.Errorf("%w: agent %s already has an active run", core.ErrNotAllowed, agentID)
	}

	if latest, err := e.store.Load(agentID); err == nil && !latest.State.Terminal() {
		return "", nil, fmt.Errorf("%w: agent %s has a %s run; resume or cancel it first",
			core.ErrNotAllowed, agentID, latest.State)
	}

	c := core.NewAgentContext(agentID, util.NewID(), goal, e.config.DefaultBudget)
	if err := e.store.Save(c); err != nil {
		return "", nil, fmt.Errorf("persist queued context: %w", err)
	}

	if err := e.transition(ctx, c, core.StateRunning, nil); err != nil {
		return "", nil, err
	}

	return c.ExecutionID, e.launch(ctx, c), nil
}

// RunSync is a convenience wrapper around Start that blocks until the run
// stops and returns the final snapshot. Errored and paused runs return a nil
// error: the outcome lives in the snapshot's State and Error fields.
func (e *Engine) RunSync(ctx context.Context, agentID, goal string) (*core.AgentContext, error) {
	_, updates, err := e.Start(ctx, agentID, goal)
	if err != nil {
		return nil, err
	}
	return drain(updates), nil
}

// ResumeError branches an errored run into a new execution attempt carrying
// operator feedback, then restarts the step loop. The target executionID must
// be the agent's latest attempt; resuming a superseded execution is rejected
// with ErrNotAllowed and leaves the persisted context untouched.
func (e *Engine) ResumeError(ctx context.Context, agentID, executionID, feedback string) (string, <-chan *core.AgentContext, error) {
	lock := e.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	latest, err := e.checkResumable(agentID, executionID, core.StateError)
	if err != nil {
		return "", nil, err
	}

	branch := latest.Branch(util.NewID())
	branch.SetState(core.StateRunning, nil)
	branch.AppendStep(core.StepRecord{
		Kind:        core.StepFeedback,
		Observation: feedback,
		Action:      core.Action{Kind: core.ActionContinue},
	})

	if err := e.store.Save(branch); err != nil {
		return "", nil, fmt.Errorf("persist branched context: %w", err)
	}

	e.logger.Info("errored run resumed with feedback",
		"agent_id", agentID, "parent_execution", executionID, "execution_id", branch.ExecutionID)

	return branch.ExecutionID, e.launch(ctx, branch), nil
}

// HILDecision is an operator's verdict on a run paused in
// StateWaitingForHuman.
type HILDecision string

const (
	// DecisionApprove grants additional budget and resumes stepping.
	DecisionApprove HILDecision = "approve"
	// DecisionComplete accepts the work done so far and completes the run.
	DecisionComplete HILDecision = "complete"
	// DecisionAbort terminates the run with an operator_abort error.
	DecisionAbort HILDecision = "abort"
)

// ResumeHIL applies an operator decision to a run paused on an exhausted
// human-in-the-loop budget. Approve requires a positive extraBudget. The
// returned channel behaves like Start's: snapshots until the loop stops, or a
// single final snapshot for complete/abort decisions.
func (e *Engine) ResumeHIL(ctx context.Context, agentID, executionID string, decision HILDecision, extraBudget float64) (<-chan *core.AgentContext, error) {
	lock := e.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	c, err := e.checkResumable(agentID, executionID, core.StateWaitingForHuman)
	if err != nil {
		return nil, err
	}

	switch decision {
	case DecisionApprove:
		if extraBudget <= 0 {
			return nil, fmt.Errorf("%w: approval must grant a positive budget", core.ErrInvalidConfig)
		}
		c.HumanInLoop.Replenish(extraBudget)
		if err := e.transition(ctx, c, core.StateRunning, nil); err != nil {
			return nil, err
		}
		return e.launch(ctx, c), nil

	case DecisionComplete:
		if err := e.transition(ctx, c, core.StateCompleted, nil); err != nil {
			return nil, err
		}
		return finalSnapshot(c), nil

	case DecisionAbort:
		execErr := &core.ExecutionError{
			Kind:        core.ErrKindOperatorAbort,
			Message:     "aborted by operator",
			AtIteration: c.Iteration,
		}
		if err := e.transition(ctx, c, core.StateError, execErr); err != nil {
			return nil, err
		}
		return finalSnapshot(c), nil

	default:
		return nil, fmt.Errorf("%w: unknown decision %q", core.ErrInvalidConfig, decision)
	}
}

// Cancel stops an agent's active step loop. The loop persists the context in
// StateError with kind cancelled before exiting.
func (e *Engine) Cancel(agentID string) error {
	e.mu.Lock()
	cancel, exists := e.activeRuns[agentID]
	e.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: no active run for agent %s", core.ErrNotFound, agentID)
	}

	cancel()

	return nil
}

// Context returns the latest persisted snapshot for an agent.
func (e *Engine) Context(agentID string) (*core.AgentContext, error) {
	return e.store.Load(agentID)
}

// List returns the latest snapshot of every agent matching the filter.
func (e *Engine) List(filter core.ListFilter) ([]*core.AgentContext, error) {
	return e.store.List(filter)
}

// Delete removes all persisted snapshots for the given agents. Agents with
// active runs cannot be deleted.
func (e *Engine) Delete(agentIDs []string) error {
	for _, id := range agentIDs {
		if e.isActive(id) {
			return fmt.Errorf("%w: agent %s has an active run", core.ErrNotAllowed, id)
		}
	}
	return e.store.Delete(agentIDs)
}

// checkResumable loads the agent's latest snapshot and verifies the resume
// request targets it in the expected state.
func (e *Engine) checkResumable(agentID, executionID string, want core.ExecutionState) (*core.AgentContext, error) {
	if e.isActive(agentID) {
		return nil, fmt.Errorf("%w: agent %s already has an active run", core.ErrNotAllowed, agentID)
	}

	latest, err := e.store.Load(agentID)
	if err != nil {
		return nil, err
	}
	if latest.ExecutionID != executionID {
		return nil, fmt.Errorf("%w: execution %s is superseded by %s",
			core.ErrNotAllowed, executionID, latest.ExecutionID)
	}
	if latest.State != want {
		return nil, fmt.Errorf("%w: run is %s, expected %s", core.ErrNotAllowed, latest.State, want)
	}

	return latest, nil
}

// launch registers the run as active and starts its step loop goroutine.
func (e *Engine) launch(ctx context.Context, c *core.AgentContext) <-chan *core.AgentContext {
	runCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.activeRuns[c.AgentID] = cancel
	e.mu.Unlock()

	updates := make(chan *core.AgentContext, e.config.SnapshotBufferSize)

	go func() {
		defer func() {
			cancel()
			e.mu.Lock()
			delete(e.activeRuns, c.AgentID)
			e.mu.Unlock()
			close(updates)
		}()

		lock := e.lockFor(c.AgentID)
		lock.Lock()
		defer lock.Unlock()

		e.loop(runCtx, c, updates)
	}()

	return updates
}

// loop advances the run until it leaves StateRunning. Panics from a step are
// caught at this boundary and persisted as an internal error instead of
// taking the process down.
func (e *Engine) loop(ctx context.Context, c *core.AgentContext, updates chan<- *core.AgentContext) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("step loop panicked", "agent_id", c.AgentID, "panic", rec)
			_ = e.transition(context.Background(), c, core.StateError, &core.ExecutionError{
				Kind:        core.ErrKindInternal,
				Message:     fmt.Sprintf("panic: %v", rec),
				AtIteration: c.Iteration,
			})
			emit(ctx, updates, c)
		}
	}()

	for c.State == core.StateRunning {
		if ctx.Err() != nil {
			e.fail(c, core.ErrKindCancelled, "execution cancelled")
			emit(ctx, updates, c)
			return
		}

		if c.Iteration >= e.config.MaxIterations {
			e.fail(c, core.ErrKindIterationLimit,
				fmt.Sprintf("iteration limit of %d reached", e.config.MaxIterations))
			emit(ctx, updates, c)
			return
		}

		// The budget gate runs before any budget is consumed: a run paused
		// here has spent nothing on the step it did not take.
		if c.HumanInLoop.Exhausted() {
			if err := e.transition(ctx, c, core.StateWaitingForHuman, nil); err != nil {
				e.logger.Error("persist failed, stopping run", "agent_id", c.AgentID, "error", err.Error())
				return
			}
			emit(ctx, updates, c)
			return
		}

		e.step(ctx, c)

		if err := e.store.Save(c); err != nil {
			e.logger.Error("persist failed, stopping run", "agent_id", c.AgentID, "error", err.Error())
			return
		}
		emit(ctx, updates, c)
	}
}

// step performs one reasoning iteration: consume budget, route the debate,
// interpret the reconciled answer and append the record. Transitions are
// applied in memory; the loop persists after each step.
func (e *Engine) step(ctx context.Context, c *core.AgentContext) {
	cc := &CallbackContext{Snapshot: c.Clone(), CallbackType: CallbackBeforeStep}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeStep, cc); err != nil {
		e.fail(c, core.ErrKindInternal, err.Error())
		return
	}

	c.HumanInLoop.Consume()

	prompt := buildPrompt(c)
	task := debate.Task{
		AgentID:      c.AgentID,
		ExecutionID:  c.ExecutionID,
		Prompt:       prompt,
		Instructions: e.instructions(),
		Schema:       e.config.Schema,
		Participants: e.plan.Participants,
	}

	started := time.Now()
	result, err := e.router.Route(ctx, task)

	if err == nil && e.shouldEscalate(result) {
		escalated := task
		escalated.Participants = e.plan.Escalation
		e.logger.Info("low agreement, escalating debate",
			"agent_id", c.AgentID, "agreement", result.AgreementScore)
		if escResult, escErr := e.router.Route(ctx, escalated); escErr == nil {
			escResult.Cost += result.Cost
			escResult.Tokens += result.Tokens
			result = escResult
		} else {
			// Escalation failure keeps the base result.
			e.logger.Warn("escalation failed, keeping base result",
				"agent_id", c.AgentID, "reason", escErr.Error())
		}
	}

	if err != nil {
		e.fail(c, core.KindOf(err), err.Error())
		return
	}

	action := e.decider.Decide(result.FinalAnswer)

	c.AppendStep(core.StepRecord{
		Kind:        core.StepModel,
		Prompt:      prompt,
		Action:      action,
		Observation: result.JudgeRationale,
		Cost:        result.Cost,
		Tokens:      result.Tokens,
	})

	e.logger.Debug("step completed",
		"agent_id", c.AgentID,
		"iteration", c.Iteration,
		"action", string(action.Kind),
		"agreement", result.AgreementScore,
		"duration", time.Since(started))

	if action.Kind == core.ActionComplete {
		if err := e.applyTransition(ctx, c, core.StateCompleted, nil); err != nil {
			e.fail(c, core.ErrKindInternal, err.Error())
			return
		}
	}

	cc = &CallbackContext{Snapshot: c.Clone(), CallbackType: CallbackAfterStep}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterStep, cc); err != nil {
		e.logger.Warn("after step callback failed", "agent_id", c.AgentID, "error", err.Error())
	}
}

func (e *Engine) shouldEscalate(result *debate.Result) bool {
	return e.config.EscalationThreshold > 0 &&
		len(e.plan.Escalation) > 0 &&
		result.AgreementScore < e.config.EscalationThreshold
}

// fail moves the context to StateError in memory and fires error callbacks.
func (e *Engine) fail(c *core.AgentContext, kind core.ErrorKind, message string) {
	execErr := &core.ExecutionError{Kind: kind, Message: message, AtIteration: c.Iteration}
	if err := e.applyTransition(context.Background(), c, core.StateError, execErr); err != nil {
		e.logger.Error("error transition failed", "agent_id", c.AgentID, "error", err.Error())
	}
}

// transition applies a state change and persists it immediately.
func (e *Engine) transition(ctx context.Context, c *core.AgentContext, to core.ExecutionState, execErr *core.ExecutionError) error {
	if err := e.applyTransition(ctx, c, to, execErr); err != nil {
		return err
	}
	if err := e.store.Save(c); err != nil {
		return fmt.Errorf("persist %s context: %w", to, err)
	}
	return nil
}

// applyTransition mutates the state in memory and fires state callbacks.
// Callback failures are logged, never fatal.
func (e *Engine) applyTransition(ctx context.Context, c *core.AgentContext, to core.ExecutionState, execErr *core.ExecutionError) error {
	from := c.State
	c.SetState(to, execErr)

	e.logger.Info("state transition",
		"agent_id", c.AgentID, "execution_id", c.ExecutionID,
		"from", string(from), "to", string(to), "iteration", c.Iteration)

	cc := &CallbackContext{Snapshot: c.Clone(), CallbackType: CallbackOnStateChange, From: from, To: to}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackOnStateChange, cc); err != nil {
		e.logger.Warn("state change callback failed", "agent_id", c.AgentID, "error", err.Error())
	}

	if to == core.StateError && execErr != nil {
		cc = &CallbackContext{Snapshot: c.Clone(), CallbackType: CallbackOnError, Err: errors.New(execErr.Message)}
		if err := e.callbacks.ExecuteCallbacks(ctx, CallbackOnError, cc); err != nil {
			e.logger.Warn("error callback failed", "agent_id", c.AgentID, "error", err.Error())
		}
	}

	return nil
}

func (e *Engine) isActive(agentID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.activeRuns[agentID]
	return ok
}

func (e *Engine) lockFor(agentID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	lock, ok := e.agentLocks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		e.agentLocks[agentID] = lock
	}
	return lock
}

func (e *Engine) instructions() string {
	if e.config.Instructions != "" {
		return e.config.Instructions
	}
	marker := DefaultCompletionMarker
	if d, ok := e.decider.(MarkerDecider); ok && d.Marker != "" {
		marker = d.Marker
	}
	return fmt.Sprintf(
		"You are one voice in a panel of assistants working toward the same goal. "+
			"Advance the goal each turn. When the goal is fully achieved, start your reply "+
			"with a line containing %s followed by the final answer.", marker)
}

// buildPrompt renders the step prompt from the goal and the run history.
func buildPrompt(c *core.AgentContext) string {
	var b strings.Builder
	b.WriteString("Goal:\n")
	b.WriteString(c.Goal)

	if len(c.History) > 0 {
		b.WriteString("\n\nProgress so far:\n")
		for i, rec := range c.History {
			switch rec.Kind {
			case core.StepFeedback:
				fmt.Fprintf(&b, "Operator feedback: %s\n", rec.Observation)
			default:
				fmt.Fprintf(&b, "Step %d: %s\n", i+1, rec.Action.Answer.String())
			}
		}
	}

	b.WriteString("\nContinue working toward the goal.")

	return b.String()
}

// emit delivers a snapshot to the caller. The buffered fast path keeps final
// snapshots flowing even after the run context was cancelled.
func emit(ctx context.Context, updates chan<- *core.AgentContext, c *core.AgentContext) {
	select {
	case updates <- c.Clone():
		return
	default:
	}
	select {
	case <-ctx.Done():
	case updates <- c.Clone():
	}
}

func drain(updates <-chan *core.AgentContext) *core.AgentContext {
	var last *core.AgentContext
	for c := range updates {
		last = c
	}
	return last
}

func finalSnapshot(c *core.AgentContext) <-chan *core.AgentContext {
	ch := make(chan *core.AgentContext, 1)
	ch <- c.Clone()
	close(ch)
	return ch
}
