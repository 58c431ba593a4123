package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if cfg.Visualization.Zoom != 7 || cfg.Visualization.TileSize != 1024 {
		t.Errorf("unexpected visualization defaults: %+v", cfg.Visualization)
	}
	if cfg.Scale.Percentile != 98 || cfg.Scale.MaxTiles != 200 || cfg.Scale.MaxSamples != 1_000_000 {
		t.Errorf("unexpected scale defaults: %+v", cfg.Scale)
	}
	if !cfg.Colormap.UseLogScale() {
		t.Error("expected log scale by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	content := `
data:
  inputs: ["tracks.geojson"]
visualization:
  zoom: 5
  bbox: [-10, 40, 10, 60]
  tile_size: 512
  line_width: 0.7071
  category_column: vessel_type
scale:
  percentile: 95
colormap:
  name: viridis
  log_scale: false
resources:
  workers: 8
  batch_pause: 250ms
output:
  cogs: true
  clean_intermediate: true
`
	cfg := loadFromString(t, content)

	v := cfg.Visualization
	if v.Zoom != 5 || v.TileSize != 512 || v.LineWidth != 0.7071 || v.CategoryColumn != "vessel_type" {
		t.Errorf("unexpected visualization: %+v", v)
	}
	if v.BatchSize != 20 {
		t.Errorf("expected default batch size, got %d", v.BatchSize)
	}
	if cfg.Scale.Percentile != 95 || cfg.Scale.Fallback != 1.0 {
		t.Errorf("unexpected scale: %+v", cfg.Scale)
	}
	if cfg.Colormap.UseLogScale() {
		t.Error("log_scale: false was ignored")
	}
	if cfg.Colormap.Subset != nil {
		t.Errorf("named colormap should not inherit default subset, got %v", cfg.Colormap.Subset)
	}
	if cfg.Resources.Workers != 8 || cfg.Resources.BatchPause != 250*time.Millisecond {
		t.Errorf("unexpected resources: %+v", cfg.Resources)
	}
	if cfg.Resources.MonitorInterval != 5*time.Second {
		t.Errorf("expected default monitor interval, got %v", cfg.Resources.MonitorInterval)
	}
	if !cfg.Output.COGs || !cfg.Output.CleanIntermediate {
		t.Errorf("unexpected output: %+v", cfg.Output)
	}
	region, err := cfg.Region()
	if err != nil {
		t.Fatalf("Region error = %v", err)
	}
	if region.Min.X() != -10 || region.Max.Y() != 60 {
		t.Errorf("unexpected region %v", region)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"oddTileSize", "visualization:\n  tile_size: 255\n", "tile_size"},
		{"badBBox", "visualization:\n  bbox: [10, 0, -10, 5]\n", "bbox"},
		{"shortBBox", "visualization:\n  bbox: [1, 2]\n", "bbox"},
		{"percentile", "scale:\n  percentile: 120\n", "percentile"},
		{"colormap", "colormap:\n  name: nope\n", "colormap"},
		{"subset", "colormap:\n  name: oslo\n  subset: [0.5]\n", "subset"},
		{"negativeWidth", "visualization:\n  line_width: -1\n", "line_width"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0644); err != nil {
				t.Fatalf("failed to write temp config: %v", err)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestColormapBuild_CustomColors(t *testing.T) {
	c := ColormapConfig{Colors: []string{"#000000", "#ffffff"}, MinAlpha: 0, MaxAlpha: 1}
	ramp, err := c.Build()
	if err != nil {
		t.Fatalf("Build error = %v", err)
	}
	if got := ramp.At(1); got.R != 255 || got.A != 255 {
		t.Fatalf("At(1) = %v", got)
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
