package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/apexrad/periscan/internal/domain/model"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New(ctx))
//  2. file (YAML) if PERISCAN_CONFIG is set
//  3. env (prefix PERISCAN_)
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("PERISCAN_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: PERISCAN_ADDR, PERISCAN_QUEUE_SIZE, ...
	// Map env keys like PERISCAN_QUEUE_SIZE -> queue_size (flat keys).
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("PERISCAN_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "periscan_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects configurations the engine cannot run with.
func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.KernelGamma <= 0 {
		return fmt.Errorf("%w: kernel_gamma must be positive", ErrInvalidConfig)
	}
	if c.QubitBudget < 1 {
		return fmt.Errorf("%w: qubit_budget must be at least 1", ErrInvalidConfig)
	}
	if c.Shots < 0 {
		return fmt.Errorf("%w: shots must not be negative", ErrInvalidConfig)
	}
	if c.QuantumBackendTimeoutMS <= 0 {
		return fmt.Errorf("%w: quantum_backend_timeout_ms must be positive", ErrInvalidConfig)
	}
	if c.CacheTTLSeconds < 0 {
		return fmt.Errorf("%w: cache_ttl_seconds must not be negative", ErrInvalidConfig)
	}
	if _, err := model.ParsePolicy(c.FusionPolicy); err != nil {
		return fmt.Errorf("%w: fusion_policy: %w", ErrInvalidConfig, err)
	}
	if _, err := model.ParseKind(c.FusionTieBreak); err != nil {
		return fmt.Errorf("%w: fusion_tie_break: %w", ErrInvalidConfig, err)
	}
	for name := range c.ModelWeights {
		if _, err := model.ParseKind(name); err != nil {
			return fmt.Errorf("%w: model_weights: %w", ErrInvalidConfig, err)
		}
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("%w: retention_days must not be negative", ErrInvalidConfig)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue_size must be at least 1", ErrInvalidConfig)
	}
	if c.MaxListLimit < 1 {
		return fmt.Errorf("%w: max_list_limit must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// Weights converts the configured model weights to domain kinds.
func (c *Config) Weights() map[model.Kind]float64 {
	out := make(map[model.Kind]float64, len(c.ModelWeights))
	for name, w := range c.ModelWeights {
		kind, err := model.ParseKind(name)
		if err != nil {
			continue // already rejected by validate
		}
		out[kind] = w
	}
	return out
}
