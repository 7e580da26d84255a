// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hupe1980/debatemesh/core"
	"github.com/hupe1980/debatemesh/model"
)

// Options configures the Anthropic model adapter (model id, temperature,
// max tokens, API key, pricing). Extend via functional options to preserve
// stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	Pricing     model.Pricing
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// Generate implements model.Model with a single blocking Messages API call.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	params := anthropic.MessageNewParams{
		Model:     m.opts.Model,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(req)))},
		MaxTokens: m.maxTokens(req),
	}

	temperature := m.opts.Temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	params.Temperature = anthropic.Float(temperature)

	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, core.NewProviderError("anthropic", model.RetryableError(err), err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	if text.Len() == 0 {
		return nil, core.NewProviderError("anthropic", false, fmt.Errorf("empty completion"))
	}

	usage := model.TokenUsage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}

	return &model.Response{
		Output: outputFor(req, text.String()),
		Usage:  usage,
		Cost:   m.opts.Pricing.Cost(usage),
	}, nil
}

func (m *Model) maxTokens(req model.Request) int64 {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return m.opts.MaxTokens
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:               string(m.opts.Model),
		Provider:           "anthropic",
		SupportsStructured: true,
	}
}

// buildPrompt appends a JSON-only directive when the request asks for a
// structured object.
func buildPrompt(req model.Request) string {
	if len(req.Schema) == 0 {
		return req.Prompt
	}
	return fmt.Sprintf(
		"%s\n\nRespond with a single JSON object conforming to this JSON Schema, no prose:\n%s",
		req.Prompt, string(req.Schema),
	)
}

// outputFor tags the completion: structured when a schema was requested and
// the completion parses as a JSON object, plain text otherwise. Schema
// conformance itself is checked at the router boundary.
func outputFor(req model.Request, text string) core.Output {
	if len(req.Schema) == 0 {
		return core.TextOutput(text)
	}
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) {
		return core.StructuredOutput(json.RawMessage(trimmed))
	}
	return core.TextOutput(text)
}
