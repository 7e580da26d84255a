// Package openai provides a model wrapper for the OpenAI Chat Completions API.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/debatemesh/core"
	"github.com/hupe1980/debatemesh/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Options configure the OpenAI model adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
	Pricing             model.Pricing
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := openai.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new OpenAI model from an existing client
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
}

// Generate implements model.Model with a single blocking Chat Completions call.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	params := m.buildParams(req)

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, core.NewProviderError("openai", model.RetryableError(err), err)
	}
	if len(resp.Choices) == 0 {
		return nil, core.NewProviderError("openai", false, fmt.Errorf("no choices returned"))
	}

	text := resp.Choices[0].Message.Content
	if text == "" {
		return nil, core.NewProviderError("openai", false, fmt.Errorf("empty completion"))
	}

	usage := model.TokenUsage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}

	return &model.Response{
		Output: outputFor(req, text),
		Usage:  usage,
		Cost:   m.opts.Pricing.Cost(usage),
	}, nil
}

// buildParams assembles the OpenAI request parameters.
func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}

	prompt := req.Prompt
	if len(req.Schema) > 0 {
		prompt = fmt.Sprintf(
			"%s\n\nRespond with a single JSON object conforming to this JSON Schema, no prose:\n%s",
			req.Prompt, string(req.Schema),
		)
	}
	messages = append(messages, openai.UserMessage(prompt))

	temperature := m.opts.Temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	maxTokens := m.opts.MaxCompletionTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	return openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}
}

// Info returns metadata about the wrapped OpenAI model.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:               m.opts.Model,
		Provider:           "openai",
		SupportsStructured: true,
	}
}

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
