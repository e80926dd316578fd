package engine

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultWindow        = 2000 * time.Millisecond
	DefaultMaxLinks      = 100
	DefaultMaxPending    = 100
	DefaultSeenCacheSize = 1000
	DefaultFlowSpeed     = 0.05
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid engine config")

// Policy holds the resolution switches. Changing any of them invalidates
// every resolution made so far.
type Policy struct {
	ShowAmbiguousRepeaters bool `json:"show_ambiguous_repeaters" yaml:"show_ambiguous_repeaters"`
	ShowAmbiguousEndpoints bool `json:"show_ambiguous_endpoints" yaml:"show_ambiguous_endpoints"`
}

// Config represents the engine options.
type Config struct {
	Policy        `yaml:",inline"`
	Window        time.Duration `json:"window" yaml:"window"`
	MaxLinks      int           `json:"max_links" yaml:"max_links"`
	MaxPending    int           `json:"max_pending" yaml:"max_pending"`
	SeenCacheSize int           `json:"seen_cache_size" yaml:"seen_cache_size"`
	FlowSpeed     float64       `json:"flow_speed" yaml:"flow_speed"` // progress per tick
}

// DefaultConfig returns the stock options.
func DefaultConfig() Config {
	return Config{
		Policy: Policy{
			ShowAmbiguousRepeaters: true,
			ShowAmbiguousEndpoints: false,
		},
		Window:        DefaultWindow,
		MaxLinks:      DefaultMaxLinks,
		MaxPending:    DefaultMaxPending,
		SeenCacheSize: DefaultSeenCacheSize,
		FlowSpeed:     DefaultFlowSpeed,
	}
}

// Validate checks that every bound is usable.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive", ErrInvalidConfig)
	}
	if c.MaxLinks <= 0 {
		return fmt.Errorf("%w: max_links must be positive", ErrInvalidConfig)
	}
	if c.MaxPending < 2 {
		return fmt.Errorf("%w: max_pending must be at least 2", ErrInvalidConfig)
	}
	if c.SeenCacheSize < 2 {
		return fmt.Errorf("%w: seen_cache_size must be at least 2", ErrInvalidConfig)
	}
	if c.FlowSpeed <= 0 || c.FlowSpeed > 1 {
		return fmt.Errorf("%w: flow_speed must be in (0,1]", ErrInvalidConfig)
	}
	return nil
}

// LoadConfigFile reads YAML engine options on top of the defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read engine config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse engine config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
