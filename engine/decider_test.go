package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/debatemesh/core"
)

func TestMarkerDecider_Text(t *testing.T) {
	decider := NewMarkerDecider("")

	tests := []struct {
		name       string
		text       string
		wantKind   core.ActionKind
		wantAnswer string
	}{
		{
			name:       "marker on first line completes",
			text:       "COMPLETE the capital is Paris",
			wantKind:   core.ActionComplete,
			wantAnswer: "the capital is Paris",
		},
		{
			name:       "marker alone completes with empty answer",
			text:       "COMPLETE",
			wantKind:   core.ActionComplete,
			wantAnswer: "",
		},
		{
			name:       "leading blank lines are skipped",
			text:       "\n\nCOMPLETE done",
			wantKind:   core.ActionComplete,
			wantAnswer: "done",
		},
		{
			name:       "remaining lines join the answer",
			text:       "COMPLETE part one\npart two",
			wantKind:   core.ActionComplete,
			wantAnswer: "part one\npart two",
		},
		{
			name:     "no marker continues",
			text:     "still thinking about it",
			wantKind: core.ActionContinue,
		},
		{
			name:     "marker mid-text does not complete",
			text:     "the work is COMPLETE now",
			wantKind: core.ActionContinue,
		},
		{
			name:     "longer word sharing the marker prefix continues",
			text:     "COMPLETED the first half of the task",
			wantKind: core.ActionContinue,
		},
		{
			name:     "marker glued to other text continues",
			text:     "COMPLETEness is still an open question",
			wantKind: core.ActionContinue,
		},
		{
			name:     "empty output continues",
			text:     "",
			wantKind: core.ActionContinue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := decider.Decide(core.TextOutput(tt.text))
			assert.Equal(t, tt.wantKind, action.Kind)
			if tt.wantKind == core.ActionComplete {
				assert.Equal(t, tt.wantAnswer, action.Answer.Text)
			}
		})
	}
}

func TestMarkerDecider_CustomMarker(t *testing.T) {
	decider := NewMarkerDecider("DONE:")

	action := decider.Decide(core.TextOutput("DONE: finished"))
	assert.Equal(t, core.ActionComplete, action.Kind)
	assert.Equal(t, "finished", action.Answer.Text)

	action = decider.Decide(core.TextOutput("COMPLETE finished"))
	assert.Equal(t, core.ActionContinue, action.Kind)
}

func TestMarkerDecider_Structured(t *testing.T) {
	decider := NewMarkerDecider("")

	complete := core.StructuredOutput(json.RawMessage(`{"action": "complete", "result": 42}`))
	action := decider.Decide(complete)
	assert.Equal(t, core.ActionComplete, action.Kind)
	assert.Equal(t, complete, action.Answer)

	upper := core.StructuredOutput(json.RawMessage(`{"action": "COMPLETE"}`))
	assert.Equal(t, core.ActionComplete, decider.Decide(upper).Kind)

	keepGoing := core.StructuredOutput(json.RawMessage(`{"action": "continue"}`))
	assert.Equal(t, core.ActionContinue, decider.Decide(keepGoing).Kind)

	noAction := core.StructuredOutput(json.RawMessage(`{"result": 42}`))
	assert.Equal(t, core.ActionContinue, decider.Decide(noAction).Kind)
}

func TestActionDeciderFunc(t *testing.T) {
	always := ActionDeciderFunc(func(out core.Output) core.Action {
		return core.Action{Kind: core.ActionComplete, Answer: out}
	})

	action := always.Decide(core.TextOutput("anything"))
	assert.Equal(t, core.ActionComplete, action.Kind)
}
