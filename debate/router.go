package debate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hupe1980/debatemesh/core"
	"github.com/hupe1980/debatemesh/internal/util"
	"github.com/hupe1980/debatemesh/logging"
	"github.com/hupe1980/debatemesh/model"
)

// Options configures a Router instance.
type Options struct {
	// Timeout bounds one whole Route call, judge included.
	Timeout time.Duration

	// ParticipantTimeout bounds a single participant invocation; a participant
	// exceeding its slice is excluded like any other failure.
	ParticipantTimeout time.Duration

	// RetryAttempts is the number of extra attempts granted to a participant
	// whose invocation failed retryably. Zero (the default) means no retries:
	// debate cost scales with every retried participant, so retrying is an
	// explicit caller decision, never a hidden default.
	RetryAttempts uint64

	// RetryInterval is the initial backoff interval between retry attempts.
	RetryInterval time.Duration

	// Reconciler decides the final answer when no judge is configured.
	// Defaults to DefaultReconciler.
	Reconciler Reconciler

	// Ledger receives one record per model invocation (per attempt).
	// Defaults to a no-op sink.
	Ledger core.LedgerSink

	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger
}

// Router fans a task out to its participants and reconciles the answers.
// Safe for concurrent use by multiple agents.
type Router struct {
	registry *model.Registry
	opts     Options
}

// NewRouter constructs a Router over the given model registry.
func NewRouter(registry *model.Registry, optFns ...func(o *Options)) *Router {
	opts := Options{
		Timeout:            2 * time.Minute,
		ParticipantTimeout: 30 * time.Second,
		RetryInterval:      500 * time.Millisecond,
		Reconciler:         DefaultReconciler{},
		Ledger:             core.NoOpLedger{},
		Logger:             logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Router{registry: registry, opts: opts}
}

// Route executes the task. Single non-judge participant tasks degenerate to
// one direct invocation; multi-participant tasks fan out concurrently and the
// call suspends until every participant finished, failed or timed out. A
// cancelled parent context surfaces as core.ErrCancelled; a debate where no
// participant produced a usable answer surfaces as
// core.ErrAllParticipantsFailed.
func (r *Router) Route(ctx context.Context, task Task) (*Result, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}

	debaters := task.Debaters()

	routeCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	type outcome struct {
		spec   ParticipantSpec
		answer ParticipantAnswer
		err    error
	}

	outcomes := make([]outcome, len(debaters))

	var wg sync.WaitGroup
	for i, spec := range debaters {
		wg.Add(1)
		go func(i int, spec ParticipantSpec) {
			defer wg.Done()
			answer, err := r.invoke(routeCtx, task, spec)
			outcomes[i] = outcome{spec: spec, answer: answer, err: err}
		}(i, spec)
	}
	wg.Wait()

	// An external stop must not degrade into AllParticipantsFailed.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCancelled, err)
	}

	result := &Result{}
	for _, oc := range outcomes {
		if oc.err != nil {
			r.opts.Logger.Warn("debate participant excluded",
				"participant", oc.spec.Model, "reason", oc.err.Error())
			result.Failures = append(result.Failures, ParticipantFailure{
				Participant: oc.spec.Model,
				Reason:      oc.err.Error(),
			})
			continue
		}
		result.Answers = append(result.Answers, oc.answer)
		result.Cost += oc.answer.Cost
		result.Tokens += oc.answer.Tokens
	}

	if len(result.Answers) == 0 {
		return nil, fmt.Errorf("%w: %d of %d participants failed",
			core.ErrAllParticipantsFailed, len(result.Failures), len(debaters))
	}

	final, decided := r.judgeDecision(routeCtx, task, result)
	if !decided {
		final = r.opts.Reconciler.Reconcile(result.Answers)
	}

	result.FinalAnswer = final
	result.AgreementScore = agreementScore(result.Answers, final, len(debaters))

	r.opts.Logger.Debug("debate routed",
		"participants", len(debaters),
		"answers", len(result.Answers),
		"agreement", result.AgreementScore)

	return result, nil
}

// invoke runs one participant, applying the per-invocation timeout, the
// opt-in retry policy and schema validation. Every attempt is recorded to the
// ledger.
func (r *Router) invoke(ctx context.Context, task Task, spec ParticipantSpec) (ParticipantAnswer, error) {
	m, err := r.registry.Get(spec.Model)
	if err != nil {
		return ParticipantAnswer{}, err
	}

	req := model.Request{
		Instructions: task.Instructions,
		Prompt:       task.Prompt,
		Schema:       task.Schema,
	}

	resp, err := r.generate(ctx, m, task, spec.Model, req)
	if err != nil {
		return ParticipantAnswer{}, err
	}

	if err := validateOutput(task.Schema, resp.Output); err != nil {
		return ParticipantAnswer{}, err
	}

	return ParticipantAnswer{
		Participant: spec.Model,
		Tier:        spec.Tier,
		Weight:      spec.Weight,
		Output:      resp.Output,
		Cost:        resp.Cost,
		Tokens:      resp.Usage.TotalTokens,
	}, nil
}

// generate performs the model call, bounded by the participant slice timeout
// and retried per options when the failure is retryable.
func (r *Router) generate(
	ctx context.Context,
	m model.Model,
	task Task,
	participant string,
	req model.Request,
) (*model.Response, error) {
	attempt := func() (*model.Response, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.opts.ParticipantTimeout)
		defer cancel()

		started := time.Now().UTC()
		resp, err := m.Generate(callCtx, req)
		r.record(task, participant, m.Info(), req, resp, err, started)
		if err != nil {
			var pErr *core.ProviderError
			if errors.As(err, &pErr) && !pErr.Retryable {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return resp, nil
	}

	if r.opts.RetryAttempts == 0 {
		return attempt()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.opts.RetryInterval

	return backoff.RetryWithData(
		attempt,
		backoff.WithContext(backoff.WithMaxRetries(bo, r.opts.RetryAttempts), ctx),
	)
}

// record hands one invocation to the ledger sink. The sink is fire-and-forget:
// a misbehaving implementation must not break routing.
func (r *Router) record(
	task Task,
	participant string,
	info model.Info,
	req model.Request,
	resp *model.Response,
	callErr error,
	started time.Time,
) {
	defer func() {
		if rec := recover(); rec != nil {
			r.opts.Logger.Warn("ledger sink panicked", "participant", participant, "panic", rec)
		}
	}()

	entry := core.LedgerEntry{
		AgentID:     task.AgentID,
		ExecutionID: task.ExecutionID,
		Participant: participant,
		Provider:    info.Provider,
		Request:     req.Prompt,
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
	}
	if resp != nil {
		entry.Response = resp.Output.String()
		entry.Cost = resp.Cost
		entry.Tokens = resp.Usage.TotalTokens
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}

	r.opts.Ledger.Record(entry)
}

const judgePrompt = `You are the judge of a debate between {{.Count}} assistants that all answered the same request.

Request:
{{.Prompt}}

{{.Answers}}
Select the best answer, or synthesize a better one from the candidates.
Respond with a single JSON object: {"answer": <the final answer>, "rationale": "<why>"}.`

// judgeDecision runs the judge participant when one is configured. The judge
// sees every surviving answer and selects or synthesizes the final one. A
// failing judge falls back to policy reconciliation rather than failing the
// route.
func (r *Router) judgeDecision(ctx context.Context, task Task, result *Result) (core.Output, bool) {
	spec, ok := task.Judge()
	if !ok {
		return core.Output{}, false
	}

	m, err := r.registry.Get(spec.Model)
	if err != nil {
		r.opts.Logger.Warn("judge unavailable", "judge", spec.Model, "reason", err.Error())
		return core.Output{}, false
	}

	var candidates []string
	for i, ans := range result.Answers {
		candidates = append(candidates,
			fmt.Sprintf("Answer %d (%s):\n%s\n", i+1, ans.Participant, ans.Output.String()))
	}

	prompt, err := util.RenderTemplate(judgePrompt, map[string]any{
		"Count":   len(result.Answers),
		"Prompt":  task.Prompt,
		"Answers": joinLines(candidates),
	})
	if err != nil {
		r.opts.Logger.Warn("judge prompt rendering failed", "reason", err.Error())
		return core.Output{}, false
	}

	resp, err := r.generate(ctx, m, task, spec.Model, model.Request{
		Instructions: task.Instructions,
		Prompt:       prompt,
	})
	if err != nil {
		r.opts.Logger.Warn("judge invocation failed, falling back to reconciliation",
			"judge", spec.Model, "reason", err.Error())
		return core.Output{}, false
	}

	result.Cost += resp.Cost
	result.Tokens += resp.Usage.TotalTokens

	final, rationale := parseJudgeOutput(task, resp.Output)
	if err := validateOutput(task.Schema, final); err != nil {
		r.opts.Logger.Warn("judge answer violates task schema, falling back to reconciliation",
			"judge", spec.Model, "reason", err.Error())
		return core.Output{}, false
	}

	result.JudgeRationale = rationale

	return final, true
}

// parseJudgeOutput extracts {"answer": ..., "rationale": ...} from the judge
// completion, degrading to the raw text when the judge ignored the format.
func parseJudgeOutput(task Task, out core.Output) (core.Output, string) {
	var decision struct {
		Answer    json.RawMessage `json:"answer"`
		Rationale string          `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(out.String()), &decision); err != nil || len(decision.Answer) == 0 {
		return out, ""
	}

	var text string
	if err := json.Unmarshal(decision.Answer, &text); err == nil {
		return core.TextOutput(text), decision.Rationale
	}
	if len(task.Schema) > 0 {
		return core.StructuredOutput(decision.Answer), decision.Rationale
	}
	return core.TextOutput(string(decision.Answer)), decision.Rationale
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
