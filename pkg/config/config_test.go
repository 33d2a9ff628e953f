package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phasetiler/pkg/errs"
	"phasetiler/pkg/tiling"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	if cfg.Processing.WrapPeriod != 2*math.Pi {
		t.Errorf("Expected wrap period 2π, got %v", cfg.Processing.WrapPeriod)
	}
	if cfg.Stitching.FailurePolicy != PolicyAbort {
		t.Errorf("Expected abort policy by default, got %s", cfg.Stitching.FailurePolicy)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Tiling, cfg.Tiling)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "phasetiler.yaml")

	cfg := DefaultConfig()
	cfg.Tiling.TileSize = tiling.Size{Rows: 40, Cols: 48}
	cfg.Stitching.Upsample = UpsampleSpectral
	cfg.Stitching.Statistic = StatisticMode
	cfg.Unwrap.Command = []string{"snaphu", "{in}", "{cols}"}
	cfg.Unwrap.Timeout = 90 * time.Second
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	data := []byte(`
tiling:
  tileSize: {rows: 256, cols: 128}
stitching:
  failurePolicy: degrade
unwrap:
  timeout: 2m
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, tiling.Size{Rows: 256, Cols: 128}, cfg.Tiling.TileSize)
	assert.Equal(t, tiling.Size{Rows: 64, Cols: 64}, cfg.Tiling.Overlap)
	assert.Equal(t, PolicyDegrade, cfg.Stitching.FailurePolicy)
	assert.Equal(t, 2*time.Minute, cfg.Unwrap.Timeout)
}

func TestLoadRejectsUnknownEnum(t *testing.T) {
	tests := map[string]string{
		"upsample":  "stitching:\n  upsample: bicubic\n",
		"statistic": "stitching:\n  statistic: median\n",
		"policy":    "stitching:\n  failurePolicy: retry\n",
		"averaging": "coarse:\n  averaging: power\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0644))
			_, err := LoadConfig(path)
			var cfgErr *errs.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"overlap equals tile", func(c *Config) { c.Tiling.Overlap = c.Tiling.TileSize }, "overlap"},
		{"zero tile", func(c *Config) { c.Tiling.TileSize.Rows = 0 }, "tile size"},
		{"zero decimation", func(c *Config) { c.Coarse.Decimation.Cols = 0 }, "coarse.decimation"},
		{"bad ripple", func(c *Config) {
			c.Coarse.AntiAlias = true
			c.Coarse.Filter.PassRipple = 0
		}, "coarse.filter.passRipple"},
		{"bad upsample", func(c *Config) { c.Stitching.Upsample = "linear" }, "stitching.upsample"},
		{"negative tolerance", func(c *Config) { c.Stitching.SeamTolerance = -1 }, "stitching.seamTolerance"},
		{"tolerance of a whole period", func(c *Config) {
			c.Processing.WrapPeriod = 1
			c.Stitching.SeamTolerance = math.Pi
		}, "stitching.seamTolerance"},
		{"no algorithm", func(c *Config) { c.Unwrap.Algorithm = "" }, "unwrap.algorithm"},
		{"no workers", func(c *Config) { c.Processing.NumCores = 0 }, "processing.numCores"},
		{"bad period", func(c *Config) { c.Processing.WrapPeriod = -1 }, "processing.wrapPeriod"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			var cfgErr *errs.ConfigurationError
			require.True(t, errors.As(cfg.Validate(), &cfgErr))
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected config file to exist: %v", err)
	}
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}

// TestSeamToleranceFollowsWrapPeriod checks that the default tolerance is
// half of whatever wrap period is configured
func TestSeamToleranceFollowsWrapPeriod(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.Stitching.Tolerance(cfg.Processing.WrapPeriod); got != math.Pi {
		t.Errorf("Expected default tolerance π for period 2π, got %v", got)
	}

	cfg.Processing.WrapPeriod = 1
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected period 1 with default tolerance to be valid, got %v", err)
	}
	if got := cfg.Stitching.Tolerance(cfg.Processing.WrapPeriod); got != 0.5 {
		t.Errorf("Expected default tolerance 0.5 for period 1, got %v", got)
	}

	cfg.Stitching.SeamTolerance = 0.3
	if got := cfg.Stitching.Tolerance(cfg.Processing.WrapPeriod); got != 0.3 {
		t.Errorf("Expected explicit tolerance 0.3, got %v", got)
	}
}
