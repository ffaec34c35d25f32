package config

import (
	"fmt"
	"strings"
)

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors reports whether any errors were collected.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks cfg for internal consistency, returning every violation
// found rather than failing on the first (§10.3).
func Validate(cfg *Config) error {
	var errs ValidationErrors

	if cfg.Consensus.MaxRounds <= 0 {
		errs = append(errs, ValidationError{"consensus.max_rounds", cfg.Consensus.MaxRounds, "must be positive"})
	}
	if len(cfg.Consensus.Models) == 0 {
		errs = append(errs, ValidationError{"consensus.models", cfg.Consensus.Models, "at least one model is required"})
	}
	for taskType, threshold := range cfg.Consensus.AdaptiveThresholds {
		if threshold < -0.5 || threshold > 0.5 {
			errs = append(errs, ValidationError{
				"consensus.adaptive_thresholds." + taskType, threshold,
				"must be within [-0.5, 0.5] of the strict-majority baseline",
			})
		}
	}
	if cfg.Consensus.StagnationThreshold < 0 {
		errs = append(errs, ValidationError{"consensus.stagnation_threshold", cfg.Consensus.StagnationThreshold, "must be non-negative"})
	}
	if cfg.Consensus.MinReplyBytes < 0 {
		errs = append(errs, ValidationError{"consensus.min_reply_bytes", cfg.Consensus.MinReplyBytes, "must be non-negative"})
	}

	if cfg.Dispatch.RoundTimeout < 0 {
		errs = append(errs, ValidationError{"dispatch.round_timeout", cfg.Dispatch.RoundTimeout, "must be non-negative"})
	}
	if cfg.Dispatch.PerModelTimeout < 0 {
		errs = append(errs, ValidationError{"dispatch.per_model_timeout", cfg.Dispatch.PerModelTimeout, "must be non-negative"})
	}

	if cfg.Costs.StorePath == "" {
		errs = append(errs, ValidationError{"costs.store_path", cfg.Costs.StorePath, "must not be empty"})
	}
	if cfg.Costs.AlertThreshold < 0 {
		errs = append(errs, ValidationError{"costs.alert_threshold", cfg.Costs.AlertThreshold, "must be non-negative"})
	}

	switch cfg.Log.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, ValidationError{"log.format", cfg.Log.Format, "must be one of auto, text, json"})
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
