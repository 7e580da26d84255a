// Package debatemesh provides a high-level façade over the execution Engine
// and the debate Router enabling rapid construction of multi-model agent
// runtimes. Most applications interact with this package by:
//  1. Registering model capabilities in a model.Registry
//  2. Creating a DebateMesh via New() with a debate plan (optionally
//     overriding the default in-memory store and NoOp logger)
//  3. Starting runs asynchronously (Start) or synchronously (RunSync) and
//     resuming paused or errored ones (ResumeHIL, ResumeError)
//
// The façade delegates orchestration to engine.Engine while keeping setup and
// usage ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply the sqlite store, a ledger
// sink and a structured logger, or build everything from a YAML file via
// FromConfig.
package debatemesh

import (
	"context"
	"fmt"
	"os"

	"github.com/hupe1980/debatemesh/config"
	"github.com/hupe1980/debatemesh/core"
	"github.com/hupe1980/debatemesh/debate"
	"github.com/hupe1980/debatemesh/engine"
	"github.com/hupe1980/debatemesh/logging"
	"github.com/hupe1980/debatemesh/model"
	"github.com/hupe1980/debatemesh/model/anthropic"
	"github.com/hupe1980/debatemesh/model/openai"
	"github.com/hupe1980/debatemesh/store"
	"github.com/hupe1980/debatemesh/store/sqlite"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rs/zerolog"
)

// Options configures the DebateMesh instance.
type Options struct {
	// EngineConfig tunes the execution state machine.
	EngineConfig engine.Config

	// RouterOptions tunes debate routing (timeouts, retries, reconciler).
	RouterOptions []func(o *debate.Options)

	// Store persists context snapshots (defaults to in-memory).
	Store core.ContextStore

	// Ledger receives invocation records (defaults to NoOp).
	Ledger core.LedgerSink

	// Decider interprets reconciled answers (defaults to MarkerDecider).
	Decider engine.ActionDecider

	// Callbacks hooks into the step loop.
	Callbacks *engine.CallbackManager

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// DebateMesh is the high-level façade aggregating the router and the engine.
type DebateMesh struct {
	opts   Options
	router *debate.Router
	engine *engine.Engine
}

// New creates a new DebateMesh over a model registry and a debate plan. Any
// unset service is initialized with an in-memory implementation.
func New(registry *model.Registry, plan engine.DebatePlan, optFns ...func(o *Options)) *DebateMesh {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		Store:        store.NewInMemoryStore(),
		Ledger:       core.NoOpLedger{},
		Decider:      engine.NewMarkerDecider(""),
		Callbacks:    engine.NewCallbackManager(),
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	routerOpts := append([]func(o *debate.Options){func(o *debate.Options) {
		o.Ledger = opts.Ledger
		o.Logger = opts.Logger
	}}, opts.RouterOptions...)

	router := debate.NewRouter(registry, routerOpts...)

	eng := engine.New(router, plan, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Store = opts.Store
		o.Decider = opts.Decider
		o.Callbacks = opts.Callbacks
		o.Logger = opts.Logger
	})

	return &DebateMesh{opts: opts, router: router, engine: eng}
}

// FromConfig builds a fully wired DebateMesh from a parsed configuration:
// provider adapters, registry, store, ledger, logger, router and engine.
func FromConfig(cfg *config.Config, optFns ...func(o *Options)) (*DebateMesh, error) {
	registry := model.NewRegistry()
	for _, p := range cfg.Providers {
		m, err := buildProvider(p)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(p.Name, m); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidConfig, err)
		}
	}

	plan := engine.DebatePlan{
		Participants: config.Roster(cfg.Debate.Participants),
		Escalation:   config.Roster(cfg.Debate.Escalation),
	}

	var configured []func(o *Options)
	configured = append(configured, func(o *Options) {
		o.EngineConfig = engine.Config{
			MaxIterations:       cfg.Engine.MaxIterations,
			DefaultBudget:       cfg.Engine.DefaultBudget,
			EscalationThreshold: cfg.Engine.EscalationThreshold,
			Instructions:        cfg.Engine.Instructions,
		}
		o.RouterOptions = append(o.RouterOptions, func(ro *debate.Options) {
			if cfg.Router.Timeout > 0 {
				ro.Timeout = cfg.Router.Timeout.Std()
			}
			if cfg.Router.ParticipantTimeout > 0 {
				ro.ParticipantTimeout = cfg.Router.ParticipantTimeout.Std()
			}
			ro.RetryAttempts = cfg.Router.RetryAttempts
			if cfg.Router.RetryInterval > 0 {
				ro.RetryInterval = cfg.Router.RetryInterval.Std()
			}
		})
		o.Logger = buildLogger(cfg.Logging)
	})

	if cfg.Store.Driver == "sqlite" {
		db, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		configured = append(configured, func(o *Options) {
			o.Store = db
			o.Ledger = db
		})
	}

	configured = append(configured, optFns...)

	return New(registry, plan, configured...), nil
}

func buildProvider(p config.ProviderConfig) (model.Model, error) {
	pricing := model.Pricing{
		InputPer1K:  p.Pricing.InputPer1K,
		OutputPer1K: p.Pricing.OutputPer1K,
	}

	switch p.Provider {
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if p.Model != "" {
				o.Model = anthropicsdk.Model(p.Model)
			}
			if p.Temperature > 0 {
				o.Temperature = p.Temperature
			}
			if p.MaxTokens > 0 {
				o.MaxTokens = p.MaxTokens
			}
			o.APIKey = p.APIKey
			o.Pricing = pricing
		}), nil
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if p.Model != "" {
				o.Model = p.Model
			}
			if p.Temperature > 0 {
				o.Temperature = p.Temperature
			}
			if p.MaxTokens > 0 {
				o.MaxCompletionTokens = p.MaxTokens
			}
			o.APIKey = p.APIKey
			o.Pricing = pricing
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider type %q", core.ErrInvalidConfig, p.Provider)
	}
}

func buildLogger(cfg config.LoggingConfig) logging.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	if cfg.Format == "text" {
		return logging.NewZerologAdapter(
			zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger())
	}
	return logging.NewZerologLogger(os.Stderr, level)
}

// Start begins an asynchronous run for an agent, returning the execution id
// and a channel of persisted context snapshots.
func (m *DebateMesh) Start(ctx context.Context, agentID, goal string) (string, <-chan *core.AgentContext, error) {
	return m.engine.Start(ctx, agentID, goal)
}

// RunSync starts a run and blocks until it stops, returning the final
// snapshot. The run outcome lives in the snapshot's State and Error fields.
func (m *DebateMesh) RunSync(ctx context.Context, agentID, goal string) (*core.AgentContext, error) {
	return m.engine.RunSync(ctx, agentID, goal)
}

// ResumeError branches an errored run with operator feedback and restarts it.
func (m *DebateMesh) ResumeError(ctx context.Context, agentID, executionID, feedback string) (string, <-chan *core.AgentContext, error) {
	return m.engine.ResumeError(ctx, agentID, executionID, feedback)
}

// ResumeHIL applies an operator decision to a run paused on an exhausted
// human-in-the-loop budget.
func (m *DebateMesh) ResumeHIL(ctx context.Context, agentID, executionID string, decision engine.HILDecision, extraBudget float64) (<-chan *core.AgentContext, error) {
	return m.engine.ResumeHIL(ctx, agentID, executionID, decision, extraBudget)
}

// Cancel stops an agent's active run.
func (m *DebateMesh) Cancel(agentID string) error {
	return m.engine.Cancel(agentID)
}

// Context returns the latest persisted snapshot for an agent.
func (m *DebateMesh) Context(agentID string) (*core.AgentContext, error) {
	return m.engine.Context(agentID)
}

// List returns the latest snapshot of every agent matching the filter.
func (m *DebateMesh) List(filter core.ListFilter) ([]*core.AgentContext, error) {
	return m.engine.List(filter)
}

// Route runs a one-off debate outside any agent lifecycle.
func (m *DebateMesh) Route(ctx context.Context, task debate.Task) (*debate.Result, error) {
	return m.router.Route(ctx, task)
}
