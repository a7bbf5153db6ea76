// Package config loads the static, human-editable parts of a
// polybus.Builder (name, retry budgets, delay increment, properties)
// from a YAML file, leaving wiring (transports, pipelines, registered
// message samples) to code.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BusConfig is the file-editable subset of bus configuration. It
// intentionally excludes anything that requires a Go value (transport
// factories, message samples, handler functions) — those are wired by the
// process that loads this config.
type BusConfig struct {
	Name string `yaml:"name"`

	Retry RetryConfig `yaml:"retry"`

	// Properties are opaque key/value pairs forwarded verbatim to
	// Builder.WithProperty, for application-specific settings that don't
	// warrant their own field.
	Properties map[string]any `yaml:"properties"`
}

// RetryConfig mirrors retry.Config's file-editable fields. DelaySeconds is
// stored in seconds because duration literals are awkward to hand-edit in
// YAML.
type RetryConfig struct {
	DelaySeconds         int `yaml:"delay_seconds"`
	DelayedRetryBudget   int `yaml:"delayed_retry_budget"`
	ImmediateRetryBudget int `yaml:"immediate_retry_budget"`
}

// DelayIncrement returns the configured retry spacing as a time.Duration.
func (r RetryConfig) DelayIncrement() time.Duration {
	return time.Duration(r.DelaySeconds) * time.Second
}

// DefaultBusConfig returns the values Load starts from before applying a
// file; they match the Builder's and retry.DefaultConfig's defaults.
func DefaultBusConfig() *BusConfig {
	return &BusConfig{
		Name: "polybus",
		Retry: RetryConfig{
			DelaySeconds:         30,
			DelayedRetryBudget:   3,
			ImmediateRetryBudget: 3,
		},
		Properties: map[string]any{},
	}
}

// Load reads and parses a BusConfig from path. Missing optional fields
// retain DefaultBusConfig's values.
func Load(path string) (*BusConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bus config: %w", err)
	}

	cfg := DefaultBusConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse bus config: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = "polybus"
	}
	if cfg.Retry.DelaySeconds <= 0 {
		cfg.Retry.DelaySeconds = 30
	}
	if cfg.Retry.DelayedRetryBudget <= 0 {
		cfg.Retry.DelayedRetryBudget = 3
	}
	if cfg.Retry.ImmediateRetryBudget <= 0 {
		cfg.Retry.ImmediateRetryBudget = 3
	}
	return cfg, nil
}
