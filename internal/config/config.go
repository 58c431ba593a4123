// Package config handles configuration loading for ais-shader.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SiggyF/ais-shader/internal/tile"
	"github.com/SiggyF/ais-shader/pkg/colormap"
)

// Config represents the pipeline and server configuration.
type Config struct {
	Data          DataConfig          `yaml:"data"`
	Visualization VisualizationConfig `yaml:"visualization"`
	Scale         ScaleConfig         `yaml:"scale"`
	Colormap      ColormapConfig      `yaml:"colormap"`
	Resources     ResourcesConfig     `yaml:"resources"`
	Output        OutputConfig        `yaml:"output"`
	Server        ServerConfig        `yaml:"server"`
	Cache         CacheConfig         `yaml:"cache"`
	LogLevel      string              `yaml:"log_level"`
}

// DataConfig lists the geometry inputs.
type DataConfig struct {
	Inputs    []string `yaml:"inputs"`
	IndexZoom uint32   `yaml:"index_zoom"`
}

// VisualizationConfig controls rasterization.
type VisualizationConfig struct {
	Zoom uint32 `yaml:"zoom"`
	// BBox is west, south, east, north in degrees.
	BBox           []float64 `yaml:"bbox"`
	TileSize       int       `yaml:"tile_size"`
	LineWidth      float64   `yaml:"line_width"`
	CategoryColumn string    `yaml:"category_column"`
	BatchSize      int       `yaml:"batch_size"`
}

// ScaleConfig controls the per-zoom percentile bound.
type ScaleConfig struct {
	MaxTiles   int     `yaml:"max_tiles"`
	MaxSamples int     `yaml:"max_samples"`
	Percentile float64 `yaml:"percentile"`
	Fallback   float64 `yaml:"fallback"`
	Seed       int64   `yaml:"seed"`
}

// ColormapConfig selects a built-in ramp by name or a custom list of colors.
type ColormapConfig struct {
	Name     string    `yaml:"name"`
	Colors   []string  `yaml:"colors"`
	MinAlpha float64   `yaml:"min_alpha"`
	MaxAlpha float64   `yaml:"max_alpha"`
	LogScale *bool     `yaml:"log_scale"`
	Subset   []float64 `yaml:"subset"`
}

// ResourcesConfig controls concurrency and monitoring.
type ResourcesConfig struct {
	Workers           int           `yaml:"workers"`
	MonitorInterval   time.Duration `yaml:"monitor_interval"`
	MemoryWarnPercent float64       `yaml:"memory_warn_percent"`
	BatchPause        time.Duration `yaml:"batch_pause"`
}

// OutputConfig controls where and what a run writes.
type OutputConfig struct {
	Dir               string `yaml:"dir"`
	COGs              bool   `yaml:"cogs"`
	PMTiles           bool   `yaml:"pmtiles"`
	CleanIntermediate bool   `yaml:"clean_intermediate"`
	Overwrite         bool   `yaml:"overwrite"`
	ChunkSize         int    `yaml:"chunk_size"`
	CompressionLevel  int    `yaml:"compression_level"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	RunDir      string   `yaml:"run_dir"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	TileSizeMB     int `yaml:"tile_size_mb"`
	TileTTLMinutes int `yaml:"tile_ttl_minutes"`
	GridTiles      int `yaml:"grid_tiles"`
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	logScale := true
	return &Config{
		Data: DataConfig{
			IndexZoom: 8,
		},
		Visualization: VisualizationConfig{
			Zoom:      7,
			BBox:      []float64{-180, -85, 180, 85},
			TileSize:  1024,
			LineWidth: 0,
			BatchSize: 20,
		},
		Scale: ScaleConfig{
			MaxTiles:   200,
			MaxSamples: 1_000_000,
			Percentile: 98,
			Fallback:   1.0,
		},
		Colormap: ColormapConfig{
			Name:     "oslo",
			MinAlpha: 0.2,
			MaxAlpha: 1.0,
			LogScale: &logScale,
			Subset:   []float64{0.2, 1.0},
		},
		Resources: ResourcesConfig{
			Workers:           4,
			MonitorInterval:   5 * time.Second,
			MemoryWarnPercent: 90,
			BatchPause:        time.Second,
		},
		Output: OutputConfig{
			Dir:              "./output",
			ChunkSize:        256,
			CompressionLevel: 3,
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Cache: CacheConfig{
			TileSizeMB:     512,
			TileTTLMinutes: 10,
			GridTiles:      256,
		},
		LogLevel: "info",
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Data.IndexZoom == 0 {
		cfg.Data.IndexZoom = defaults.Data.IndexZoom
	}

	if cfg.Visualization.Zoom == 0 {
		cfg.Visualization.Zoom = defaults.Visualization.Zoom
	}
	if len(cfg.Visualization.BBox) == 0 {
		cfg.Visualization.BBox = defaults.Visualization.BBox
	}
	if cfg.Visualization.TileSize == 0 {
		cfg.Visualization.TileSize = defaults.Visualization.TileSize
	}
	if cfg.Visualization.BatchSize == 0 {
		cfg.Visualization.BatchSize = defaults.Visualization.BatchSize
	}

	if cfg.Scale.MaxTiles == 0 {
		cfg.Scale.MaxTiles = defaults.Scale.MaxTiles
	}
	if cfg.Scale.MaxSamples == 0 {
		cfg.Scale.MaxSamples = defaults.Scale.MaxSamples
	}
	if cfg.Scale.Percentile == 0 {
		cfg.Scale.Percentile = defaults.Scale.Percentile
	}
	if cfg.Scale.Fallback == 0 {
		cfg.Scale.Fallback = defaults.Scale.Fallback
	}

	if cfg.Colormap.Name == "" && len(cfg.Colormap.Colors) == 0 {
		cfg.Colormap.Name = defaults.Colormap.Name
		if cfg.Colormap.Subset == nil {
			cfg.Colormap.Subset = defaults.Colormap.Subset
		}
	}
	if cfg.Colormap.MinAlpha == 0 && cfg.Colormap.MaxAlpha == 0 {
		cfg.Colormap.MinAlpha = defaults.Colormap.MinAlpha
		cfg.Colormap.MaxAlpha = defaults.Colormap.MaxAlpha
	}
	if cfg.Colormap.LogScale == nil {
		cfg.Colormap.LogScale = defaults.Colormap.LogScale
	}

	if cfg.Resources.Workers == 0 {
		cfg.Resources.Workers = defaults.Resources.Workers
	}
	if cfg.Resources.MonitorInterval == 0 {
		cfg.Resources.MonitorInterval = defaults.Resources.MonitorInterval
	}
	if cfg.Resources.MemoryWarnPercent == 0 {
		cfg.Resources.MemoryWarnPercent = defaults.Resources.MemoryWarnPercent
	}
	if cfg.Resources.BatchPause == 0 {
		cfg.Resources.BatchPause = defaults.Resources.BatchPause
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = defaults.Output.Dir
	}
	if cfg.Output.ChunkSize == 0 {
		cfg.Output.ChunkSize = defaults.Output.ChunkSize
	}
	if cfg.Output.CompressionLevel == 0 {
		cfg.Output.CompressionLevel = defaults.Output.CompressionLevel
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}

	if cfg.Cache.TileSizeMB == 0 {
		cfg.Cache.TileSizeMB = defaults.Cache.TileSizeMB
	}
	if cfg.Cache.TileTTLMinutes == 0 {
		cfg.Cache.TileTTLMinutes = defaults.Cache.TileTTLMinutes
	}
	if cfg.Cache.GridTiles == 0 {
		cfg.Cache.GridTiles = defaults.Cache.GridTiles
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	v := c.Visualization
	if v.Zoom > tile.MaxZoom {
		return fmt.Errorf("zoom %d exceeds %d", v.Zoom, tile.MaxZoom)
	}
	if _, err := c.Region(); err != nil {
		return err
	}
	if v.TileSize <= 0 || v.TileSize%2 != 0 {
		return fmt.Errorf("tile_size must be positive and even, got %d", v.TileSize)
	}
	if v.LineWidth < 0 {
		return fmt.Errorf("line_width must be >= 0, got %v", v.LineWidth)
	}
	if v.BatchSize < 0 {
		return fmt.Errorf("batch_size must be >= 0, got %d", v.BatchSize)
	}
	if p := c.Scale.Percentile; p <= 0 || p > 100 {
		return fmt.Errorf("percentile must be in (0, 100], got %v", p)
	}
	if _, err := c.Colormap.Build(); err != nil {
		return err
	}
	return nil
}

// UseLogScale reports whether densities are log-normalised.
func (c ColormapConfig) UseLogScale() bool {
	return c.LogScale == nil || *c.LogScale
}

// Build resolves the configured ramp.
func (c ColormapConfig) Build() (colormap.Ramp, error) {
	var (
		ramp colormap.Ramp
		err  error
	)
	if len(c.Colors) > 0 {
		ramp, err = colormap.FromHex(c.Colors, c.MinAlpha, c.MaxAlpha)
	} else {
		ramp, err = colormap.Lookup(c.Name, c.MinAlpha, c.MaxAlpha)
	}
	if err != nil {
		return colormap.Ramp{}, fmt.Errorf("invalid colormap: %w", err)
	}
	switch len(c.Subset) {
	case 0:
	case 2:
		lo, hi := c.Subset[0], c.Subset[1]
		if lo < 0 || hi > 1 || lo >= hi {
			return colormap.Ramp{}, fmt.Errorf("invalid colormap subset %v", c.Subset)
		}
		ramp = ramp.Subset(lo, hi, 256)
	default:
		return colormap.Ramp{}, fmt.Errorf("colormap subset needs two values, got %d", len(c.Subset))
	}
	return ramp, nil
}
