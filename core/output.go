package core

import (
	"bytes"
	"encoding/json"
	"strings"
)

// OutputKind tags the shape of a model answer.
type OutputKind string

const (
	// OutputText is a plain text answer.
	OutputText OutputKind = "text"
	// OutputStructured is a schema-validated JSON object answer.
	OutputStructured OutputKind = "structured"
)

// Output is the tagged result type produced by a model invocation. Exactly one
// of Text / Object is meaningful depending on Kind. Structured payloads are
// validated against the task schema at the router boundary before they reach
// the engine.
type Output struct {
	Kind   OutputKind      `json:"kind"`
	Text   string          `json:"text,omitempty"`
	Object json.RawMessage `json:"object,omitempty"`
}

// TextOutput wraps plain text as an Output.
func TextOutput(text string) Output {
	return Output{Kind: OutputText, Text: text}
}

// StructuredOutput wraps a raw JSON object as an Output.
func StructuredOutput(raw json.RawMessage) Output {
	return Output{Kind: OutputStructured, Object: raw}
}

// Normalized returns a canonical string form used for answer comparison
// between debate participants: lower-cased, whitespace-collapsed text, or
// compacted JSON for structured payloads.
func (o Output) Normalized() string {
	switch o.Kind {
	case OutputStructured:
		var buf bytes.Buffer
		if err := json.Compact(&buf, o.Object); err != nil {
			return strings.TrimSpace(string(o.Object))
		}
		return buf.String()
	default:
		return strings.ToLower(strings.Join(strings.Fields(o.Text), " "))
	}
}

// Equal reports whether two outputs match after normalization.
func (o Output) Equal(other Output) bool {
	return o.Kind == other.Kind && o.Normalized() == other.Normalized()
}

// String renders the answer for prompts and logs.
func (o Output) String() string {
	if o.Kind == OutputStructured {
		return string(o.Object)
	}
	return o.Text
}
