package engine

import (
	"encoding/json"
	"strings"

	"github.com/hupe1980/debatemesh/core"
)

// ActionDecider interprets a reconciled debate answer as the next lifecycle
// action for the run. It never errors: an answer it cannot interpret means
// the run continues.
type ActionDecider interface {
	Decide(out core.Output) core.Action
}

// ActionDeciderFunc adapts a function to the ActionDecider interface.
type ActionDeciderFunc func(out core.Output) core.Action

// Decide implements ActionDecider.
func (f ActionDeciderFunc) Decide(out core.Output) core.Action { return f(out) }

// DefaultCompletionMarker is the text marker that signals a finished run when
// it opens the first line of an answer.
const DefaultCompletionMarker = "COMPLETE"

// MarkerDecider is the default ActionDecider.
//
// Structured answers complete when the object carries "action": "complete".
// Text answers complete when the first non-empty line starts with the marker;
// the marker line is stripped from the final answer.
type MarkerDecider struct {
	Marker string
}

// NewMarkerDecider constructs a MarkerDecider, defaulting the marker.
func NewMarkerDecider(marker string) MarkerDecider {
	if marker == "" {
		marker = DefaultCompletionMarker
	}
	return MarkerDecider{Marker: marker}
}

// Decide implements ActionDecider.
func (d MarkerDecider) Decide(out core.Output) core.Action {
	if out.Kind == core.OutputStructured {
		return d.decideStructured(out)
	}
	return d.decideText(out)
}

func (d MarkerDecider) decideStructured(out core.Output) core.Action {
	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(out.Object, &envelope); err == nil && strings.EqualFold(envelope.Action, "complete") {
		return core.Action{Kind: core.ActionComplete, Answer: out}
	}
	return core.Action{Kind: core.ActionContinue, Answer: out}
}

func (d MarkerDecider) decideText(out core.Output) core.Action {
	lines := strings.SplitN(strings.TrimSpace(out.Text), "\n", 2)
	first := strings.TrimSpace(lines[0])

	// The marker must be the whole first token; "COMPLETED" is not "COMPLETE".
	rest, ok := strings.CutPrefix(first, d.Marker)
	if !ok || (rest != "" && rest[0] != ' ' && rest[0] != '\t') {
		return core.Action{Kind: core.ActionContinue, Answer: out}
	}

	answer := strings.TrimSpace(rest)
	if len(lines) > 1 {
		rest := strings.TrimSpace(lines[1])
		if answer == "" {
			answer = rest
		} else if rest != "" {
			answer += "\n" + rest
		}
	}

	return core.Action{Kind: core.ActionComplete, Answer: core.TextOutput(answer)}
}
