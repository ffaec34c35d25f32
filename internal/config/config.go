// Package config loads and validates this module's runtime configuration,
// following the teacher's internal/config package: a single Config struct
// with mapstructure tags, defaults set once, viper-backed loading from
// YAML/env/flags, and atomic, live-reloadable persistence.
package config

import "time"

// Config holds all runtime configuration for a consensus run.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Costs     CostsConfig     `mapstructure:"costs"`
}

// LogConfig configures logging behavior (§10.2).
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ConsensusConfig configures the Round Controller (§4.8, §12).
type ConsensusConfig struct {
	MaxRounds           int                `mapstructure:"max_rounds"`
	Models              []string           `mapstructure:"models"`
	AdaptiveThresholds  map[string]float64 `mapstructure:"adaptive_thresholds"`
	StagnationThreshold float64            `mapstructure:"stagnation_threshold"`
	MinReplyBytes       int                `mapstructure:"min_reply_bytes"`
}

// DispatchConfig bounds the parallel per-round model dispatch (§5).
type DispatchConfig struct {
	RoundTimeout    time.Duration `mapstructure:"round_timeout"`
	PerModelTimeout time.Duration `mapstructure:"per_model_timeout"`
}

// CostsConfig configures the cost store and alerting thresholds.
type CostsConfig struct {
	StorePath      string  `mapstructure:"store_path"`
	AlertThreshold float64 `mapstructure:"alert_threshold"`
}
