package engine

import (
	"fmt"

	"github.com/hupe1980/debatemesh/core"
	"github.com/hupe1980/debatemesh/debate"
)

// DebatePlan describes which participants a run's reasoning steps are routed
// to. The base set handles every step; the escalation set, when configured,
// replaces it for a second pass whenever agreement among the base participants
// falls below the engine's escalation threshold.
type DebatePlan struct {
	// Participants is the base debate roster.
	Participants []debate.ParticipantSpec `json:"participants" yaml:"participants"`

	// Escalation is an optional, typically more capable roster used to retry
	// low-agreement steps.
	Escalation []debate.ParticipantSpec `json:"escalation,omitempty" yaml:"escalation,omitempty"`
}

// Validate rejects plans the engine cannot start a run with.
func (p DebatePlan) Validate() error {
	if err := validateRoster("participants", p.Participants); err != nil {
		return err
	}
	if len(p.Escalation) > 0 {
		return validateRoster("escalation", p.Escalation)
	}
	return nil
}

func validateRoster(name string, roster []debate.ParticipantSpec) error {
	debaters := 0
	judges := 0
	for i, spec := range roster {
		if spec.Model == "" {
			return fmt.Errorf("%w: %s participant %d is missing a model name", core.ErrInvalidConfig, name, i)
		}
		if spec.Role == debate.RoleJudge {
			judges++
		} else {
			debaters++
		}
	}
	if debaters == 0 {
		return fmt.Errorf("%w: %s needs at least one non-judge participant", core.ErrInvalidConfig, name)
	}
	if judges > 1 {
		return fmt.Errorf("%w: %s has %d judges, at most one is allowed", core.ErrInvalidConfig, name, judges)
	}
	return nil
}
