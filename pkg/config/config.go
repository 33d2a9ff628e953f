// Package config provides configuration loading and management for phasetiler.
// It handles loading configuration from YAML files, provides default values and
// validates the recognised options before any raster is touched.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"phasetiler/pkg/errs"
	"phasetiler/pkg/tiling"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Tiling controls how the full-resolution raster is partitioned
	Tiling Tiling `yaml:"tiling"`

	// Coarse controls the low-resolution reference unwrap
	Coarse Coarse `yaml:"coarse"`

	// Stitching controls how tiles are reconciled against the reference
	Stitching Stitching `yaml:"stitching"`

	// Unwrap selects and parameterises the per-tile unwrapping backend
	Unwrap Unwrap `yaml:"unwrap"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many tiles are processed concurrently
		NumCores int `yaml:"numCores"`

		// WrapPeriod is the period of the wrapped phase, normally 2π
		WrapPeriod float64 `yaml:"wrapPeriod"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// JournalPath is an SQLite file recording per-tile outcomes; empty disables it
		JournalPath string `yaml:"journalPath"`

		// PreviewDir receives PNG quick-looks of the coarse reference and output
		PreviewDir string `yaml:"previewDir"`

		// MetricsAddr is the listen address for the Prometheus endpoint
		MetricsAddr string `yaml:"metricsAddr"`
	} `yaml:"output"`
}

// Tiling holds the tile partition parameters.
type Tiling struct {
	// TileSize is the maximum core size of a tile
	TileSize tiling.Size `yaml:"tileSize"`

	// Overlap is the margin added on each interior side of a tile
	Overlap tiling.Size `yaml:"overlap"`
}

// Coarse holds the coarse reference parameters.
type Coarse struct {
	// Decimation is the multilook factor used to build the coarse raster
	Decimation tiling.Size `yaml:"decimation"`

	// AntiAlias enables equiripple low-pass filtering before multilooking
	AntiAlias bool `yaml:"antiAlias"`

	// Averaging selects how complex samples are averaged
	Averaging Averaging `yaml:"averaging"`

	// Filter parameterises the anti-alias filter
	Filter Filter `yaml:"filter"`
}

// Filter holds the equiripple filter design parameters.
type Filter struct {
	// PassRipple is the maximum linear passband deviation
	PassRipple float64 `yaml:"passRipple"`

	// StopAttenuation is the minimum stopband attenuation in dB
	StopAttenuation float64 `yaml:"stopAttenuation"`

	// TransitionFraction is the transition width as a fraction of the passband edge
	TransitionFraction float64 `yaml:"transitionFraction"`
}

// Stitching holds the ambiguity-resolution parameters.
type Stitching struct {
	// Upsample selects how the coarse reference is projected onto tiles
	Upsample UpsampleMethod `yaml:"upsample"`

	// Statistic selects how the per-tile cycle offset is estimated
	Statistic Statistic `yaml:"statistic"`

	// FailurePolicy decides what happens when a tile fails to unwrap
	FailurePolicy FailurePolicy `yaml:"failurePolicy"`

	// QualityThreshold excludes samples with lower quality from offset estimation
	QualityThreshold float64 `yaml:"qualityThreshold"`

	// ConsistencyCheck enables the seam continuity pass after stitching
	ConsistencyCheck bool `yaml:"consistencyCheck"`

	// SeamTolerance is the largest accepted phase jump across a tile seam,
	// in the units of the wrap period. Zero means half a period
	SeamTolerance float64 `yaml:"seamTolerance"`
}

// Tolerance returns the seam tolerance for the given wrap period.
func (s Stitching) Tolerance(period float64) float64 {
	if s.SeamTolerance == 0 {
		return period / 2
	}
	return s.SeamTolerance
}

// Unwrap holds the unwrapping backend parameters.
type Unwrap struct {
	// Algorithm names the per-tile backend: path, quality or exec
	Algorithm string `yaml:"algorithm"`

	// CoarseAlgorithm names the backend for the coarse unwrap; empty reuses Algorithm
	CoarseAlgorithm string `yaml:"coarseAlgorithm"`

	// MinQuality leaves samples below this quality wrapped (quality backend)
	MinQuality float64 `yaml:"minQuality"`

	// Command is the external tool invocation for the exec backend.
	// Arguments may contain {in}, {out}, {quality}, {rows} and {cols}.
	Command []string `yaml:"command"`

	// Timeout bounds a single external tool invocation
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default tiling parameters
	cfg.Tiling.TileSize = tiling.Size{Rows: 512, Cols: 512}
	cfg.Tiling.Overlap = tiling.Size{Rows: 64, Cols: 64}

	// Set default coarse parameters
	cfg.Coarse.Decimation = tiling.Size{Rows: 8, Cols: 8}
	cfg.Coarse.AntiAlias = false
	cfg.Coarse.Averaging = AverageComplex
	cfg.Coarse.Filter = Filter{PassRipple: 0.01, StopAttenuation: 40, TransitionFraction: 0.5}

	// Set default stitching parameters
	cfg.Stitching.Upsample = UpsampleNearest
	cfg.Stitching.Statistic = StatisticMean
	cfg.Stitching.FailurePolicy = PolicyAbort
	cfg.Stitching.QualityThreshold = 0
	cfg.Stitching.ConsistencyCheck = true
	cfg.Stitching.SeamTolerance = 0 // half the wrap period

	// Set default unwrap parameters
	cfg.Unwrap.Algorithm = "path"
	cfg.Unwrap.Timeout = 10 * time.Minute

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.WrapPeriod = 2 * math.Pi

	// Set default output parameters
	cfg.Output.Verbose = true

	return cfg
}

// Validate checks every option and returns a *errs.ConfigurationError naming
// the first invalid field.
func (c *Config) Validate() error {
	if err := tiling.ValidateParams(c.Tiling.TileSize, c.Tiling.Overlap); err != nil {
		return err
	}
	if c.Coarse.Decimation.Rows <= 0 || c.Coarse.Decimation.Cols <= 0 {
		return errs.Configf("coarse.decimation", "must be positive, got %dx%d",
			c.Coarse.Decimation.Rows, c.Coarse.Decimation.Cols)
	}
	if err := c.Coarse.Averaging.validate(); err != nil {
		return err
	}
	if c.Coarse.AntiAlias {
		f := c.Coarse.Filter
		if f.PassRipple <= 0 || f.PassRipple >= 1 {
			return errs.Configf("coarse.filter.passRipple", "must be in (0, 1), got %g", f.PassRipple)
		}
		if f.StopAttenuation <= 0 {
			return errs.Configf("coarse.filter.stopAttenuation", "must be positive, got %g", f.StopAttenuation)
		}
		if f.TransitionFraction <= 0 || f.TransitionFraction >= 1 {
			return errs.Configf("coarse.filter.transitionFraction", "must be in (0, 1), got %g", f.TransitionFraction)
		}
	}
	if err := c.Stitching.Upsample.validate(); err != nil {
		return err
	}
	if err := c.Stitching.Statistic.validate(); err != nil {
		return err
	}
	if err := c.Stitching.FailurePolicy.validate(); err != nil {
		return err
	}
	if c.Unwrap.Algorithm == "" {
		return errs.Configf("unwrap.algorithm", "must be set")
	}
	if c.Processing.NumCores < 1 {
		return errs.Configf("processing.numCores", "must be at least 1, got %d", c.Processing.NumCores)
	}
	if c.Processing.WrapPeriod <= 0 {
		return errs.Configf("processing.wrapPeriod", "must be positive, got %g", c.Processing.WrapPeriod)
	}
	// A jump of a whole period must always count as a seam violation.
	if tol := c.Stitching.SeamTolerance; tol < 0 || tol >= c.Processing.WrapPeriod {
		return errs.Configf("stitching.seamTolerance", "must be in [0, %g), got %g", c.Processing.WrapPeriod, tol)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
