package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/debatemesh/core"
	"github.com/hupe1980/debatemesh/debate"
)

func TestDebatePlan_Validate(t *testing.T) {
	valid := DebatePlan{
		Participants: []debate.ParticipantSpec{
			{Model: "m1"},
			{Model: "m2"},
			{Model: "judge", Role: debate.RoleJudge},
		},
		Escalation: []debate.ParticipantSpec{
			{Model: "sota", Tier: debate.TierSota},
		},
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name string
		plan DebatePlan
	}{
		{
			name: "empty roster",
			plan: DebatePlan{},
		},
		{
			name: "judge only",
			plan: DebatePlan{Participants: []debate.ParticipantSpec{
				{Model: "judge", Role: debate.RoleJudge},
			}},
		},
		{
			name: "two judges",
			plan: DebatePlan{Participants: []debate.ParticipantSpec{
				{Model: "m1"},
				{Model: "j1", Role: debate.RoleJudge},
				{Model: "j2", Role: debate.RoleJudge},
			}},
		},
		{
			name: "unnamed participant",
			plan: DebatePlan{Participants: []debate.ParticipantSpec{
				{Model: ""},
			}},
		},
		{
			name: "invalid escalation roster",
			plan: DebatePlan{
				Participants: []debate.ParticipantSpec{{Model: "m1"}},
				Escalation:   []debate.ParticipantSpec{{Model: ""}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.plan.Validate(), core.ErrInvalidConfig)
		})
	}
}
