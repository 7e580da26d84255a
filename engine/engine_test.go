package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/debatemesh/core"
	"github.com/hupe1980/debatemesh/debate"
	"github.com/hupe1980/debatemesh/store"
)

// fakeRouter scripts Route outcomes for state machine tests.
type fakeRouter struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, task debate.Task) (*debate.Result, error)
	tasks []debate.Task
}

func (f *fakeRouter) Route(ctx context.Context, task debate.Task) (*debate.Result, error) {
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()
	return f.fn(ctx, task)
}

func (f *fakeRouter) calls() []debate.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]debate.Task, len(f.tasks))
	copy(out, f.tasks)
	return out
}

func textResult(text string, agreement float64) *debate.Result {
	return &debate.Result{
		FinalAnswer:    core.TextOutput(text),
		AgreementScore: agreement,
		Cost:           0.01,
		Tokens:         50,
	}
}

func testPlan() DebatePlan {
	return DebatePlan{Participants: []debate.ParticipantSpec{
		{Model: "m1"}, {Model: "m2"}, {Model: "m3"},
	}}
}

func answerSequence(answers ...string) *fakeRouter {
	i := 0
	var mu sync.Mutex
	return &fakeRouter{fn: func(ctx context.Context, task debate.Task) (*debate.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		answer := answers[len(answers)-1]
		if i < len(answers) {
			answer = answers[i]
			i++
		}
		return textResult(answer, 1), nil
	}}
}

func TestEngine_RunSync_CompletesOnMarker(t *testing.T) {
	router := answerSequence("working on it", "still working", "COMPLETE the answer is 42")
	eng := New(router, testPlan())

	c, err := eng.RunSync(context.Background(), "agent-1", "answer the question")
	require.NoError(t, err)

	assert.Equal(t, core.StateCompleted, c.State)
	assert.Equal(t, 3, c.Iteration)
	assert.Len(t, c.History, 3)
	assert.True(t, c.Consistent())

	last := c.History[len(c.History)-1]
	assert.Equal(t, core.ActionComplete, last.Action.Kind)
	assert.Equal(t, "the answer is 42", last.Action.Answer.Text)

	assert.InDelta(t, 0.03, c.Cost, 1e-9)
	assert.Equal(t, 150, c.Tokens)
}

func TestEngine_Start_Validation(t *testing.T) {
	eng := New(answerSequence("COMPLETE done"), testPlan())

	_, _, err := eng.Start(context.Background(), "", "goal")
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, _, err = eng.Start(context.Background(), "agent-1", "")
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, _, err = New(answerSequence("x"), DebatePlan{}).Start(context.Background(), "agent-1", "goal")
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestEngine_Start_RejectsNegativeLimits(t *testing.T) {
	st := store.NewInMemoryStore()
	eng := New(answerSequence("COMPLETE done"), testPlan(), func(o *Options) {
		o.Store = st
		o.Config.DefaultBudget = -1
	})

	_, _, err := eng.Start(context.Background(), "agent-1", "goal")
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = st.Load("agent-1")
	assert.ErrorIs(t, err, core.ErrNotFound, "rejected run must not be persisted")

	eng = New(answerSequence("COMPLETE done"), testPlan(), func(o *Options) {
		o.Config.MaxIterations = -5
	})

	_, _, err = eng.Start(context.Background(), "agent-1", "goal")
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestEngine_RunSync_PersistsSnapshots(t *testing.T) {
	st := store.NewInMemoryStore()
	eng := New(answerSequence("COMPLETE done"), testPlan(), func(o *Options) {
		o.Store = st
	})

	c, err := eng.RunSync(context.Background(), "agent-1", "goal")
	require.NoError(t, err)

	persisted, err := st.Load("agent-1")
	require.NoError(t, err)
	assert.Equal(t, core.StateCompleted, persisted.State)
	assert.Equal(t, c.ExecutionID, persisted.ExecutionID)
	assert.Equal(t, c.Iteration, persisted.Iteration)
}

func TestEngine_IterationLimit(t *testing.T) {
	eng := New(answerSequence("keep going"), testPlan(), func(o *Options) {
		o.Config.MaxIterations = 3
		o.Config.DefaultBudget = 100
	})

	c, err := eng.RunSync(context.Background(), "agent-1", "goal")
	require.NoError(t, err)

	assert.Equal(t, core.StateError, c.State)
	require.NotNil(t, c.Error)
	assert.Equal(t, core.ErrKindIterationLimit, c.Error.Kind)
	assert.Equal(t, 3, c.Iteration)
}

func TestEngine_AllParticipantsFailedEntersError(t *testing.T) {
	router := &fakeRouter{fn: func(ctx context.Context, task debate.Task) (*debate.Result, error) {
		return nil, fmt.Errorf("%w: 3 of 3 participants failed", core.ErrAllParticipantsFailed)
	}}
	eng := New(router, testPlan())

	c, err := eng.RunSync(context.Background(), "agent-1", "goal")
	require.NoError(t, err)

	assert.Equal(t, core.StateError, c.State)
	require.NotNil(t, c.Error)
	assert.Equal(t, core.ErrKindAllParticipantsFailed, c.Error.Kind)
	assert.True(t, c.Consistent())
}

func TestEngine_ZeroBudgetPausesBeforeFirstStep(t *testing.T) {
	router := answerSequence("COMPLETE done")
	eng := New(router, testPlan(), func(o *Options) {
		o.Config.DefaultBudget = 0
	})

	c, err := eng.RunSync(context.Background(), "agent-1", "goal")
	require.NoError(t, err)

	assert.Equal(t, core.StateWaitingForHuman, c.State)
	assert.Equal(t, 0, c.Iteration)
	assert.Empty(t, c.History)
	assert.Empty(t, router.calls())
	assert.Equal(t, 0, c.HumanInLoop.CallCount)
}

func TestEngine_ResumeHIL_ApproveResumes(t *testing.T) {
	eng := New(answerSequence("working", "COMPLETE done"), testPlan(), func(o *Options) {
		o.Config.DefaultBudget = 1
	})

	c, err := eng.RunSync(context.Background(), "agent-1", "goal")
	require.NoError(t, err)
	require.Equal(t, core.StateWaitingForHuman, c.State)
	require.Equal(t, 1, c.Iteration)

	updates, err := eng.ResumeHIL(context.Background(), "agent-1", c.ExecutionID, DecisionApprove, 5)
	require.NoError(t, err)

	final := drain(updates)
	require.NotNil(t, final)
	assert.Equal(t, core.StateCompleted, final.State)
	assert.Equal(t, 2, final.Iteration)
}

func TestEngine_ResumeHIL_ApproveRequiresBudget(t *testing.T) {
	eng := New(answerSequence("working"), testPlan(), func(o *Options) {
		o.Config.DefaultBudget = 0
	})

	c, err := eng.RunSync(context.Background(), "agent-1", "goal")
	require.NoError(t, err)

	_, err = eng.ResumeHIL(context.Background(), "agent-1", c.ExecutionID, DecisionApprove, 0)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestEngine_ResumeHIL_CompleteAndAbort(t *testing.T) {
	for _, tt := range []struct {
		decision  HILDecision
		wantState core.ExecutionState
	}{
		{DecisionComplete, core.StateCompleted},
		{DecisionAbort, core.StateError},
	} {
		t.Run(string(tt.decision), func(t *testing.T) {
			eng := New(answerSequence("working"), testPlan(), func(o *Options) {
				o.Config.DefaultBudget = 0
			})

			c, err := eng.RunSync(context.Background(), "agent-1", "goal")
			require.NoError(t, err)

			updates, err := eng.ResumeHIL(context.Background(), "agent-1", c.ExecutionID, tt.decision, 0)
			require.NoError(t, err)

			final := drain(updates)
			require.NotNil(t, final)
			assert.Equal(t, tt.wantState, final.State)

			if tt.decision == DecisionAbort {
				require.NotNil(t, final.Error)
				assert.Equal(t, core.ErrKindOperatorAbort, final.Error.Kind)
			}
		})
	}
}

func TestEngine_ResumeHIL_WrongStateRejected(t *testing.T) {
	eng := New(answerSequence("COMPLETE done"), testPlan())

	c, err := eng.RunSync(context.Background(), "agent-1", "goal")
	require.NoError(t, err)
	require.Equal(t, core.StateCompleted, c.State)

	_, err = eng.ResumeHIL(context.Background(), "agent-1", c.ExecutionID, DecisionApprove, 5)
	assert.ErrorIs(t, err, core.ErrNotAllowed)
}

func TestEngine_ResumeError_BranchesWithFeedback(t *testing.T) {
	failing := true
	var mu sync.Mutex
	router := &fakeRouter{fn: func(ctx context.Context, task debate.Task) (*debate.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return nil, fmt.Errorf("%w: everyone failed", core.ErrAllParticipantsFailed)
		}
		return textResult("COMPLETE fixed", 1), nil
	}}

	st := store.NewInMemoryStore()
	eng := New(router, testPlan(), func(o *Options) {
		o.Store = st
	})

	c, err := eng.RunSync(context.Background(), "agent-1", "goal")
	require.NoError(t, err)
	require.Equal(t, core.StateError, c.State)

	mu.Lock()
	failing = false
	mu.Unlock()

	executionID, updates, err := eng.ResumeError(context.Background(), "agent-1", c.ExecutionID, "use the other approach")
	require.NoError(t, err)
	assert.NotEqual(t, c.ExecutionID, executionID)

	final := drain(updates)
	require.NotNil(t, final)
	assert.Equal(t, core.StateCompleted, final.State)
	assert.Equal(t, c.ExecutionID, final.ParentID)
	assert.Equal(t, c.RootID, final.RootID)
	assert.True(t, final.Consistent())

	// The feedback entry is part of history and the follow-up prompt.
	var feedback *core.StepRecord
	for i := range final.History {
		if final.History[i].Kind == core.StepFeedback {
			feedback = &final.History[i]
		}
	}
	require.NotNil(t, feedback)
	assert.Equal(t, "use the other approach", feedback.Observation)

	calls := router.calls()
	lastPrompt := calls[len(calls)-1].Prompt
	assert.Contains(t, lastPrompt, "use the other approach")

	// The errored attempt stays addressable under its own execution id.
	old, err := st.LoadExecution("agent-1", c.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, core.StateError, old.State)
}

func TestEngine_ResumeError_StaleExecutionRejected(t *testing.T) {
	router := &fakeRouter{fn: func(ctx context.Context, task debate.Task) (*debate.Result, error) {
		return nil, fmt.Errorf("%w: everyone failed", core.ErrAllParticipantsFailed)
	}}

	st := store.NewInMemoryStore()
	eng := New(router, testPlan(), func(o *Options) {
		o.Store = st
	})

	c, err := eng.RunSync(context.Background(), "agent-1", "goal")
	require.NoError(t, err)
	require.Equal(t, core.StateError, c.State)

	before, err := st.Load("agent-1")
	require.NoError(t, err)

	_, _, err = eng.ResumeError(context.Background(), "agent-1", "stale-exec-id", "feedback")
	assert.ErrorIs(t, err, core.ErrNotAllowed)

	// A rejected resume leaves the persisted context untouched.
	after, err := st.Load("agent-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEngine_StartRejectsActiveAgent(t *testing.T) {
	release := make(chan struct{})
	router := &fakeRouter{fn: func(ctx context.Context, task debate.Task) (*debate.Result, error) {
		<-release
		return textResult("COMPLETE done", 1), nil
	}}
	eng := New(router, testPlan())

	_, updates, err := eng.Start(context.Background(), "agent-1", "goal")
	require.NoError(t, err)

	_, _, err = eng.Start(context.Background(), "agent-1", "goal")
	assert.ErrorIs(t, err, core.ErrNotAllowed)

	close(release)
	drain(updates)
}

func TestEngine_Cancel(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	router := &fakeRouter{fn: func(ctx context.Context, task debate.Task) (*debate.Result, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", core.ErrCancelled, ctx.Err())
	}}
	eng := New(router, testPlan())

	_, updates, err := eng.Start(context.Background(), "agent-1", "goal")
	require.NoError(t, err)

	<-started
	require.NoError(t, eng.Cancel("agent-1"))

	final := drain(updates)
	require.NotNil(t, final)
	assert.Equal(t, core.StateError, final.State)
	require.NotNil(t, final.Error)
	assert.Equal(t, core.ErrKindCancelled, final.Error.Kind)

	assert.ErrorIs(t, eng.Cancel("agent-1"), core.ErrNotFound)
}

func TestEngine_EscalatesOnLowAgreement(t *testing.T) {
	router := &fakeRouter{}
	router.fn = func(ctx context.Context, task debate.Task) (*debate.Result, error) {
		if len(task.Participants) == 1 {
			// Escalation roster run.
			return textResult("COMPLETE escalated answer", 1), nil
		}
		return textResult("COMPLETE base answer", 0.3), nil
	}

	plan := testPlan()
	plan.Escalation = []debate.ParticipantSpec{{Model: "sota", Tier: debate.TierSota}}

	eng := New(router, plan, func(o *Options) {
		o.Config.EscalationThreshold = 0.5
	})

	c, err := eng.RunSync(context.Background(), "agent-1", "goal")
	require.NoError(t, err)

	assert.Equal(t, core.StateCompleted, c.State)
	assert.Equal(t, "escalated answer", c.History[0].Action.Answer.Text)

	calls := router.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "sota", calls[1].Participants[0].Model)

	// Both passes are billed.
	assert.InDelta(t, 0.02, c.Cost, 1e-9)
}

func TestEngine_PanicIsContainedAsInternalError(t *testing.T) {
	router := &fakeRouter{fn: func(ctx context.Context, task debate.Task) (*debate.Result, error) {
		panic("router exploded")
	}}
	eng := New(router, testPlan())

	c, err := eng.RunSync(context.Background(), "agent-1", "goal")
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.Equal(t, core.StateError, c.State)
	require.NotNil(t, c.Error)
	assert.Equal(t, core.ErrKindInternal, c.Error.Kind)
}

func TestEngine_CallbacksFire(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	callbacks := NewCallbackManager()
	callbacks.RegisterCallback(NewFunctionCallback(CallbackOnStateChange,
		func(ctx context.Context, cc *CallbackContext) error {
			mu.Lock()
			transitions = append(transitions, fmt.Sprintf("%s->%s", cc.From, cc.To))
			mu.Unlock()
			return nil
		}))

	eng := New(answerSequence("COMPLETE done"), testPlan(), func(o *Options) {
		o.Callbacks = callbacks
	})

	_, err := eng.RunSync(context.Background(), "agent-1", "goal")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"queued->running", "running->completed"}, transitions)
}

func TestEngine_BeforeStepCallbackErrorAbortsRun(t *testing.T) {
	callbacks := NewCallbackManager()
	callbacks.RegisterCallback(NewFunctionCallback(CallbackBeforeStep,
		func(ctx context.Context, cc *CallbackContext) error {
			return errors.New("denied")
		}))

	eng := New(answerSequence("COMPLETE done"), testPlan(), func(o *Options) {
		o.Callbacks = callbacks
	})

	c, err := eng.RunSync(context.Background(), "agent-1", "goal")
	require.NoError(t, err)

	assert.Equal(t, core.StateError, c.State)
	require.NotNil(t, c.Error)
	assert.Equal(t, core.ErrKindInternal, c.Error.Kind)
}

func TestEngine_DeleteRefusesActiveRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	router := &fakeRouter{fn: func(ctx context.Context, task debate.Task) (*debate.Result, error) {
		once.Do(func() { close(started) })
		<-release
		return textResult("COMPLETE done", 1), nil
	}}
	eng := New(router, testPlan())

	_, updates, err := eng.Start(context.Background(), "agent-1", "goal")
	require.NoError(t, err)
	<-started

	assert.ErrorIs(t, eng.Delete([]string{"agent-1"}), core.ErrNotAllowed)

	close(release)
	drain(updates)

	require.NoError(t, eng.Delete([]string{"agent-1"}))
	_, err = eng.Context("agent-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestEngine_ListFiltersByState(t *testing.T) {
	st := store.NewInMemoryStore()
	okRouter := answerSequence("COMPLETE done")
	eng := New(okRouter, testPlan(), func(o *Options) {
		o.Store = st
	})

	_, err := eng.RunSync(context.Background(), "agent-1", "goal")
	require.NoError(t, err)

	paused := New(answerSequence("working"), testPlan(), func(o *Options) {
		o.Store = st
		o.Config.DefaultBudget = 0
	})
	_, err = paused.RunSync(context.Background(), "agent-2", "goal")
	require.NoError(t, err)

	waiting, err := eng.List(core.ListFilter{States: []core.ExecutionState{core.StateWaitingForHuman}})
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "agent-2", waiting[0].AgentID)
}

func TestEngine_RunSyncTimings(t *testing.T) {
	// Guard against the loop busy-spinning between snapshots.
	eng := New(answerSequence("a", "b", "COMPLETE done"), testPlan())

	start := time.Now()
	c, err := eng.RunSync(context.Background(), "agent-1", "goal")
	require.NoError(t, err)

	assert.Equal(t, core.StateCompleted, c.State)
	assert.Less(t, time.Since(start), 2*time.Second)
}
