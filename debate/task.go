package debate

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/debatemesh/core"
)

// CostTier orders participants by how expensive their slice of the debate is.
// Tie-breaks deterministically prefer cheaper tiers.
type CostTier string

const (
	// TierFast is the cheapest, lowest-latency tier.
	TierFast CostTier = "fast"
	// TierBalanced trades some cost for quality.
	TierBalanced CostTier = "balanced"
	// TierSota is the most capable and most expensive tier.
	TierSota CostTier = "sota"
)

// rank returns the tie-break ordering; lower wins. Unknown tiers sort last so
// they never beat an explicitly configured one.
func (t CostTier) rank() int {
	switch t {
	case TierFast:
		return 0
	case TierBalanced:
		return 1
	case TierSota:
		return 2
	default:
		return 3
	}
}

// RoleJudge marks the participant that synthesizes the final answer instead
// of debating.
const RoleJudge = "judge"

// ParticipantSpec names one model invocation capability taking part in a
// debate, with its reconciliation weight and optional role.
type ParticipantSpec struct {
	// Model is the registry name of the capability to invoke.
	Model string `json:"model" yaml:"model"`
	// Weight biases reconciliation on material disagreement. Zero means
	// unweighted.
	Weight float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
	// Role is empty for a regular debater or RoleJudge for the synthesizer.
	Role string `json:"role,omitempty" yaml:"role,omitempty"`
	// Tier is the participant's cost tier used for deterministic tie-breaks.
	Tier CostTier `json:"tier,omitempty" yaml:"tier,omitempty"`
}

// Task is one request fanned out to multiple models. Ephemeral: created and
// discarded within a single reasoning step.
type Task struct {
	// AgentID / ExecutionID identify the run for ledger attribution only.
	AgentID     string
	ExecutionID string

	Prompt       string
	Instructions string
	// Schema optionally constrains answers to a JSON Schema; structured
	// answers are validated against it before reconciliation, and an invalid
	// answer excludes its participant like any other failure.
	Schema       json.RawMessage
	Participants []ParticipantSpec
}

// Debaters returns the non-judge participants.
func (t Task) Debaters() []ParticipantSpec {
	debaters := make([]ParticipantSpec, 0, len(t.Participants))
	for _, p := range t.Participants {
		if p.Role != RoleJudge {
			debaters = append(debaters, p)
		}
	}
	return debaters
}

// Judge returns the configured judge participant, if any.
func (t Task) Judge() (ParticipantSpec, bool) {
	for _, p := range t.Participants {
		if p.Role == RoleJudge {
			return p, true
		}
	}
	return ParticipantSpec{}, false
}

// Validate rejects tasks the router cannot route.
func (t Task) Validate() error {
	if t.Prompt == "" {
		return fmt.Errorf("%w: task prompt is required", core.ErrInvalidConfig)
	}
	if len(t.Debaters()) == 0 {
		return fmt.Errorf("%w: at least one non-judge participant is required", core.ErrInvalidConfig)
	}
	for i, p := range t.Participants {
		if p.Model == "" {
			return fmt.Errorf("%w: participant %d is missing a model name", core.ErrInvalidConfig, i)
		}
	}
	return nil
}

// ParticipantAnswer is one successful contribution to a debate.
type ParticipantAnswer struct {
	Participant string      `json:"participant"`
	Tier        CostTier    `json:"tier,omitempty"`
	Weight      float64     `json:"weight,omitempty"`
	Output      core.Output `json:"output"`
	Cost        float64     `json:"cost"`
	Tokens      int         `json:"tokens"`
}

// ParticipantFailure records an excluded participant for observability.
type ParticipantFailure struct {
	Participant string `json:"participant"`
	Reason      string `json:"reason"`
}

// Result is the reconciled outcome of one routed task.
type Result struct {
	FinalAnswer core.Output          `json:"final_answer"`
	Answers     []ParticipantAnswer  `json:"answers"`
	Failures    []ParticipantFailure `json:"failures,omitempty"`
	// AgreementScore is the fraction of debaters whose normalized answer
	// matches the final answer. Callers use it to decide whether to escalate
	// to the next debate tier; the escalation policy itself lives outside the
	// router.
	AgreementScore float64 `json:"agreement_score"`
	JudgeRationale string  `json:"judge_rationale,omitempty"`
	// Cost / Tokens aggregate every invocation of the route, judge included.
	Cost   float64 `json:"cost"`
	Tokens int     `json:"tokens"`
}
