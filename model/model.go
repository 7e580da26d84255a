package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/debatemesh/core"
)

// Request captures the normalized model input produced by the engine.
type Request struct {
	// Instructions is the system-level prompt shared by all steps.
	Instructions string `json:"instructions,omitempty"`
	// Prompt is the user-facing input for this invocation.
	Prompt string `json:"prompt"`
	// Schema optionally requests a structured object answer conforming to the
	// given JSON Schema. Providers that cannot honor it return plain text; the
	// router validates either way.
	Schema json.RawMessage `json:"schema,omitempty"`
	// Temperature overrides the provider default when > 0.
	Temperature float64 `json:"temperature,omitempty"`
	// MaxTokens overrides the provider default when > 0.
	MaxTokens int64 `json:"max_tokens,omitempty"`
}

// TokenUsage captures token statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the complete result of one model invocation.
type Response struct {
	Output core.Output `json:"output"`
	Usage  TokenUsage  `json:"usage"`
	Cost   float64     `json:"cost"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name               string `json:"name"`
	Provider           string `json:"provider"` // "openai", "anthropic", "mock", ...
	SupportsStructured bool   `json:"supports_structured"`
}

// Model is the uniform invocation capability implemented per provider.
// Generate blocks until the provider answers or ctx is done; failures are
// returned as *core.ProviderError so callers can branch on Retryable without
// unwinding through panics or sentinel soup.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// Pricing expresses provider cost per 1000 tokens; used by adapters to fill
// Response.Cost from usage.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Cost computes the invoice amount for a usage sample.
func (p Pricing) Cost(usage TokenUsage) float64 {
	return float64(usage.PromptTokens)/1000*p.InputPer1K +
		float64(usage.CompletionTokens)/1000*p.OutputPer1K
}

// RetryableError reports whether a provider failure looks transient (rate
// limits, timeouts, 5xx). Used by adapters to set ProviderError.Retryable.
func RetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "overloaded",
		"500", "502", "503", "504",
		"timeout", "deadline exceeded", "connection reset",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	responses map[string]core.Output
	fallback  core.Output
	err       error
	latency   time.Duration
	tokens    TokenUsage
	cost      float64
	calls     int
}

// NewMockModel constructs a MockModel with structured output support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock", SupportsStructured: true},
		responses: make(map[string]core.Output),
		tokens:    TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		cost:      0.001,
	}
}

// AddResponse registers a deterministic canned answer for an input prompt.
func (m *MockModel) AddResponse(prompt string, out core.Output) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = out
	return m
}

// RespondWith sets the answer returned for any prompt without a canned entry.
func (m *MockModel) RespondWith(out core.Output) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = out
	return m
}

// FailWith makes every Generate call return the given error.
func (m *MockModel) FailWith(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithLatency delays each Generate call; combine with short router timeouts to
// exercise the slice-timeout path.
func (m *MockModel) WithLatency(d time.Duration) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
	return m
}

// WithCost overrides the per-call cost and usage reported by the mock.
func (m *MockModel) WithCost(cost float64, usage TokenUsage) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cost = cost
	m.tokens = usage
	return m
}

// Calls returns how many times Generate completed (successfully or not).
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	latency := m.latency
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			m.countCall()
			return nil, core.NewProviderError(m.info.Name, true, ctx.Err())
		case <-time.After(latency):
		}
	}
	if err := ctx.Err(); err != nil {
		m.countCall()
		return nil, core.NewProviderError(m.info.Name, true, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.err != nil {
		return nil, core.NewProviderError(m.info.Name, RetryableError(m.err), m.err)
	}

	out, ok := m.responses[req.Prompt]
	if !ok {
		out = m.fallback
	}
	if out.Kind == "" {
		out = core.TextOutput(fmt.Sprintf("mock response to: %s", req.Prompt))
	}

	return &Response{Output: out, Usage: m.tokens, Cost: m.cost}, nil
}

func (m *MockModel) countCall() {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
