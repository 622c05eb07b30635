// Package config holds the memory engine configuration surface.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration consumed by the memory engine.
// Construct from Default and override fields; a file loaded with Load is
// applied over the defaults, so absent keys keep them and explicit zeros
// stay zero.
type Config struct {
	// DataDir holds the durable tier files and the cold-storage archive.
	DataDir string `yaml:"data_dir"`

	ShortTermCapacity int `yaml:"short_term_capacity"`
	EpisodicCapacity  int `yaml:"episodic_capacity"`
	SemanticCapacity  int `yaml:"semantic_capacity"`

	// ProtectThreshold shields high-importance short-term items from
	// insertion-order eviction.
	ProtectThreshold float64 `yaml:"protect_threshold"`

	PromotionAccessThreshold     int     `yaml:"promotion_access_threshold"`
	PromotionImportanceThreshold float64 `yaml:"promotion_importance_threshold"`
	PromotionBonus               float64 `yaml:"promotion_bonus"`

	SemanticEligibilityAge      time.Duration `yaml:"semantic_eligibility_age"`
	SemanticImportanceThreshold float64       `yaml:"semantic_importance_threshold"`

	// DefaultDecayRate is importance lost per hour since last access, used
	// when the ingress record carries no per-item rate.
	DefaultDecayRate    float64 `yaml:"default_decay_rate"`
	ForgettingThreshold float64 `yaml:"forgetting_threshold"`

	// RecencyHalfLife controls the exponential recency weight used by
	// episodic retention and query relevance.
	RecencyHalfLife time.Duration `yaml:"recency_half_life"`

	MaxItemSize int           `yaml:"max_item_size"`
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// ConsolidationInterval is advisory: the engine only reports whether a
	// pass is due, the caller decides cadence.
	ConsolidationInterval time.Duration `yaml:"consolidation_interval"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DataDir:                      "./memory",
		ShortTermCapacity:            100,
		EpisodicCapacity:             10000,
		SemanticCapacity:             50000,
		ProtectThreshold:             0.8,
		PromotionAccessThreshold:     3,
		PromotionImportanceThreshold: 0.7,
		PromotionBonus:               0.1,
		SemanticEligibilityAge:       24 * time.Hour,
		SemanticImportanceThreshold:  0.8,
		DefaultDecayRate:             0.001,
		ForgettingThreshold:          0.05,
		RecencyHalfLife:              24 * time.Hour,
		MaxItemSize:                  64 * 1024,
		LockTimeout:                  5 * time.Second,
		ConsolidationInterval:        time.Hour,
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations that would break tier invariants.
func (c *Config) Validate() error {
	if c.ShortTermCapacity < 1 {
		return fmt.Errorf("short_term_capacity must be >= 1, got %d", c.ShortTermCapacity)
	}
	if c.EpisodicCapacity < 1 {
		return fmt.Errorf("episodic_capacity must be >= 1, got %d", c.EpisodicCapacity)
	}
	if c.SemanticCapacity < 1 {
		return fmt.Errorf("semantic_capacity must be >= 1, got %d", c.SemanticCapacity)
	}
	if c.ProtectThreshold < 0 || c.ProtectThreshold > 1 {
		return fmt.Errorf("protect_threshold %v outside [0, 1]", c.ProtectThreshold)
	}
	if c.PromotionImportanceThreshold < 0 || c.PromotionImportanceThreshold > 1 {
		return fmt.Errorf("promotion_importance_threshold %v outside [0, 1]", c.PromotionImportanceThreshold)
	}
	if c.SemanticImportanceThreshold < 0 || c.SemanticImportanceThreshold > 1 {
		return fmt.Errorf("semantic_importance_threshold %v outside [0, 1]", c.SemanticImportanceThreshold)
	}
	if c.ForgettingThreshold < 0 || c.ForgettingThreshold > 1 {
		return fmt.Errorf("forgetting_threshold %v outside [0, 1]", c.ForgettingThreshold)
	}
	if c.DefaultDecayRate < 0 {
		return fmt.Errorf("default_decay_rate must not be negative")
	}
	if c.MaxItemSize < 1 {
		return fmt.Errorf("max_item_size must be >= 1, got %d", c.MaxItemSize)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock_timeout must be positive")
	}
	return nil
}
