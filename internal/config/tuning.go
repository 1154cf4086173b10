// Package config loads the terrain pipeline tuning file. Fields are
// pointers so a partial JSON file overrides only what it names; the Get*
// accessors supply defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/terrain.report/internal/terrain"
)

// TuningConfig is the root tuning schema, loaded once at startup via the
// --config flag.
type TuningConfig struct {
	// Acquisition
	CacheTTL     *string `json:"cache_ttl,omitempty"`      // duration string like "6h"
	MaxAttempts  *int    `json:"max_attempts,omitempty"`   // retries per provider
	RetryBackoff *string `json:"retry_backoff,omitempty"`  // duration string like "500ms"

	// Reconciliation
	MaxResolutionRatio *float64 `json:"max_resolution_ratio,omitempty"`
	TargetResolution   *float64 `json:"target_resolution,omitempty"`
	Resampling         *string  `json:"resampling,omitempty"` // "bilinear" or "nearest"

	// Validation
	MinValidFraction    *float64 `json:"min_valid_fraction,omitempty"`
	OutOfRangeTolerance *float64 `json:"out_of_range_tolerance,omitempty"`

	// Derivation
	Workers *int `json:"workers,omitempty"`
}

// EmptyTuningConfig returns a config with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Omitted fields
// retain defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects values outside their meaningful ranges.
func (c *TuningConfig) Validate() error {
	if c.CacheTTL != nil {
		if _, err := time.ParseDuration(*c.CacheTTL); err != nil {
			return fmt.Errorf("cache_ttl: %w", err)
		}
	}
	if c.RetryBackoff != nil {
		if _, err := time.ParseDuration(*c.RetryBackoff); err != nil {
			return fmt.Errorf("retry_backoff: %w", err)
		}
	}
	if c.MaxAttempts != nil && *c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", *c.MaxAttempts)
	}
	if c.MaxResolutionRatio != nil && *c.MaxResolutionRatio < 1 {
		return fmt.Errorf("max_resolution_ratio must be at least 1, got %g", *c.MaxResolutionRatio)
	}
	if c.MinValidFraction != nil && (*c.MinValidFraction <= 0 || *c.MinValidFraction > 1) {
		return fmt.Errorf("min_valid_fraction must be in (0,1], got %g", *c.MinValidFraction)
	}
	if c.OutOfRangeTolerance != nil && (*c.OutOfRangeTolerance <= 0 || *c.OutOfRangeTolerance > 1) {
		return fmt.Errorf("out_of_range_tolerance must be in (0,1], got %g", *c.OutOfRangeTolerance)
	}
	if c.Resampling != nil {
		switch terrain.ResamplingKind(*c.Resampling) {
		case terrain.ResampleBilinear, terrain.ResampleNearest:
		default:
			return fmt.Errorf("resampling must be %q or %q, got %q",
				terrain.ResampleBilinear, terrain.ResampleNearest, *c.Resampling)
		}
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	return nil
}

// GetCacheTTL returns the dataset cache TTL.
func (c *TuningConfig) GetCacheTTL() time.Duration {
	if c.CacheTTL != nil {
		d, _ := time.ParseDuration(*c.CacheTTL)
		return d
	}
	return terrain.DefaultCacheTTL
}

// GetMaxAttempts returns the per-provider retry bound.
func (c *TuningConfig) GetMaxAttempts() int {
	if c.MaxAttempts != nil {
		return *c.MaxAttempts
	}
	return terrain.DefaultMaxAttempts
}

// GetRetryBackoff returns the base retry backoff.
func (c *TuningConfig) GetRetryBackoff() time.Duration {
	if c.RetryBackoff != nil {
		d, _ := time.ParseDuration(*c.RetryBackoff)
		return d
	}
	return terrain.DefaultRetryBackoff
}

// GetWorkers returns the compute pool size (0 lets the engine pick).
func (c *TuningConfig) GetWorkers() int {
	if c.Workers != nil {
		return *c.Workers
	}
	return 0
}

// ReconcilePolicy assembles the reconciliation policy.
func (c *TuningConfig) ReconcilePolicy() terrain.ReconcilePolicy {
	p := terrain.ReconcilePolicy{}
	if c.MaxResolutionRatio != nil {
		p.MaxResolutionRatio = *c.MaxResolutionRatio
	}
	if c.TargetResolution != nil {
		p.TargetResolution = *c.TargetResolution
	}
	if c.Resampling != nil {
		p.Resampling = terrain.ResamplingKind(*c.Resampling)
	}
	return p
}

// ValidationPolicy assembles the validation policy.
func (c *TuningConfig) ValidationPolicy() terrain.ValidationPolicy {
	p := terrain.ValidationPolicy{}
	if c.MinValidFraction != nil {
		p.MinValidFraction = *c.MinValidFraction
	}
	if c.OutOfRangeTolerance != nil {
		p.OutOfRangeTolerance = *c.OutOfRangeTolerance
	}
	return p
}
