// Package config loads and validates DebateMesh runtime configuration from
// YAML. Validation failures surface as core.ErrInvalidConfig so callers can
// treat configuration problems uniformly with other caller errors.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/debatemesh/core"
	"github.com/hupe1980/debatemesh/debate"
)

// Duration wraps time.Duration with YAML string decoding ("30s", "2m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root of a DebateMesh configuration file.
type Config struct {
	Logging   LoggingConfig    `yaml:"logging"`
	Engine    EngineConfig     `yaml:"engine"`
	Router    RouterConfig     `yaml:"router"`
	Store     StoreConfig      `yaml:"store"`
	Providers []ProviderConfig `yaml:"providers"`
	Debate    DebateConfig     `yaml:"debate"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EngineConfig tunes the execution state machine.
type EngineConfig struct {
	MaxIterations       int     `yaml:"max_iterations"`
	DefaultBudget       float64 `yaml:"default_budget"`
	EscalationThreshold float64 `yaml:"escalation_threshold"`
	Instructions        string  `yaml:"instructions"`
}

// RouterConfig tunes debate routing timeouts and retries.
type RouterConfig struct {
	Timeout            Duration `yaml:"timeout"`
	ParticipantTimeout Duration `yaml:"participant_timeout"`
	RetryAttempts      uint64   `yaml:"retry_attempts"`
	RetryInterval      Duration `yaml:"retry_interval"`
}

// StoreConfig selects context persistence. Driver is "memory" or "sqlite";
// sqlite requires Path. The sqlite driver also records the invocation ledger.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// ProviderConfig declares one model capability available to debates.
// APIKey supports ${ENV_VAR} expansion and falls back to the provider SDK's
// own environment lookup when empty.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int64         `yaml:"max_tokens"`
	Pricing     PricingConfig `yaml:"pricing"`
}

// PricingConfig prices a provider's tokens for cost accounting.
type PricingConfig struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// DebateConfig declares the base and escalation debate rosters.
type DebateConfig struct {
	Participants []ParticipantConfig `yaml:"participants"`
	Escalation   []ParticipantConfig `yaml:"escalation"`
}

// ParticipantConfig binds a provider name into a debate roster.
type ParticipantConfig struct {
	Model  string  `yaml:"model"`
	Weight float64 `yaml:"weight"`
	Role   string  `yaml:"role"`
	Tier   string  `yaml:"tier"`
}

// Default returns a configuration with safe local-development defaults and no
// providers.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Engine: EngineConfig{
			MaxIterations: 100,
			DefaultBudget: 10,
		},
		Router: RouterConfig{
			Timeout:            Duration(2 * time.Minute),
			ParticipantTimeout: Duration(30 * time.Second),
			RetryInterval:      Duration(500 * time.Millisecond),
		},
		Store: StoreConfig{Driver: "memory"},
	}
}

// Load reads, parses and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidConfig, err)
	}

	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = os.ExpandEnv(cfg.Providers[i].APIKey)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "", "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("%w: sqlite store requires a path", core.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", core.ErrInvalidConfig, c.Store.Driver)
	}

	if c.Engine.MaxIterations < 0 {
		return fmt.Errorf("%w: max_iterations must not be negative", core.ErrInvalidConfig)
	}
	if c.Engine.DefaultBudget < 0 {
		return fmt.Errorf("%w: default_budget must not be negative", core.ErrInvalidConfig)
	}

	known := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("%w: provider %d is missing a name", core.ErrInvalidConfig, i)
		}
		if known[p.Name] {
			return fmt.Errorf("%w: duplicate provider name %q", core.ErrInvalidConfig, p.Name)
		}
		known[p.Name] = true

		switch p.Provider {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("%w: provider %q has unknown type %q", core.ErrInvalidConfig, p.Name, p.Provider)
		}
	}

	if err := validateRoster("debate.participants", c.Debate.Participants, known); err != nil {
		return err
	}
	if len(c.Debate.Escalation) > 0 {
		return validateRoster("debate.escalation", c.Debate.Escalation, known)
	}

	return nil
}

func validateRoster(section string, roster []ParticipantConfig, known map[string]bool) error {
	for i, p := range roster {
		if p.Model == "" {
			return fmt.Errorf("%w: %s[%d] is missing a model name", core.ErrInvalidConfig, section, i)
		}
		if len(known) > 0 && !known[p.Model] {
			return fmt.Errorf("%w: %s[%d] references unknown provider %q", core.ErrInvalidConfig, section, i, p.Model)
		}
		switch p.Role {
		case "", debate.RoleJudge:
		default:
			return fmt.Errorf("%w: %s[%d] has unknown role %q", core.ErrInvalidConfig, section, i, p.Role)
		}
		switch debate.CostTier(p.Tier) {
		case "", debate.TierFast, debate.TierBalanced, debate.TierSota:
		default:
			return fmt.Errorf("%w: %s[%d] has unknown tier %q", core.ErrInvalidConfig, section, i, p.Tier)
		}
	}
	return nil
}

// Roster converts a participant roster into debate specs.
func Roster(roster []ParticipantConfig) []debate.ParticipantSpec {
	specs := make([]debate.ParticipantSpec, 0, len(roster))
	for _, p := range roster {
		specs = append(specs, debate.ParticipantSpec{
			Model:  p.Model,
			Weight: p.Weight,
			Role:   p.Role,
			Tier:   debate.CostTier(p.Tier),
		})
	}
	return specs
}
