package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/SiggyF/ais-shader/internal/config"
	"github.com/SiggyF/ais-shader/internal/scale"
	"github.com/SiggyF/ais-shader/internal/scheduler"
	"github.com/SiggyF/ais-shader/internal/source"
	"github.com/SiggyF/ais-shader/internal/tile"
)

var (
	optOutputDir string
	optResumeDir string
	optInputs    []string
	optBBox      []float64
	optZoom      uint32
	optWorkers   int
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Rasterize the base zoom level into a run directory",
	Long: `render rasterizes every tile of the base zoom level that intersects the
configured bounding box. Tiles already present in the run directory are
skipped, so an interrupted run can be resumed with --resume-dir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, "render", false)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Rasterize, build the pyramid and render every level",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, "run", true)
	},
}

func init() {
	for _, c := range []*cobra.Command{renderCmd, runCmd} {
		addRenderFlags(c.Flags())
		rootCmd.AddCommand(c)
	}
}

func addRenderFlags(flags *pflag.FlagSet) {
	flags.StringVar(&optOutputDir, "output-dir", "", "Directory that receives run_{timestamp} directories")
	flags.StringVar(&optResumeDir, "resume-dir", "", "Existing run directory to resume")
	flags.StringSliceVar(&optInputs, "input", nil, "GeoJSON input files (EPSG:3857)")
	flags.Float64SliceVar(&optBBox, "bbox", nil, "Bounding box west,south,east,north in degrees")
	flags.Uint32Var(&optZoom, "zoom", 0, "Base zoom level")
	flags.IntVar(&optWorkers, "workers", 0, "Number of parallel workers")
}

// applyRenderFlags overrides config values with explicitly set flags.
func applyRenderFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("output-dir") {
		cfg.Output.Dir = optOutputDir
	}
	if flags.Changed("input") {
		cfg.Data.Inputs = optInputs
	}
	if flags.Changed("bbox") {
		if _, err := config.ParseBBox(optBBox); err != nil {
			return err
		}
		cfg.Visualization.BBox = optBBox
	}
	if flags.Changed("zoom") {
		if optZoom > tile.MaxZoom {
			return fmt.Errorf("zoom %d exceeds %d", optZoom, tile.MaxZoom)
		}
		cfg.Visualization.Zoom = optZoom
	}
	if flags.Changed("workers") && optWorkers > 0 {
		cfg.Resources.Workers = optWorkers
	}
	return nil
}

func scaleConfig(cfg *config.Config) scale.Config {
	return scale.Config{
		MaxTiles:   cfg.Scale.MaxTiles,
		MaxSamples: cfg.Scale.MaxSamples,
		Percentile: cfg.Scale.Percentile,
		Fallback:   cfg.Scale.Fallback,
		Seed:       cfg.Scale.Seed,
	}
}

func runPipeline(cmd *cobra.Command, command string, postProcess bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyRenderFlags(cmd, cfg); err != nil {
		return err
	}
	if len(cfg.Data.Inputs) == 0 {
		return fmt.Errorf("no input files: set data.inputs or pass --input")
	}
	region, err := cfg.Region()
	if err != nil {
		return err
	}

	dir, err := scheduler.PrepareRunDir(cfg.Output.Dir, optResumeDir, time.Now())
	if err != nil {
		return err
	}
	if optResumeDir != "" {
		slog.Info("resuming run", "dir", dir)
	}

	src, err := source.LoadGeoJSON(source.Config{
		Paths:          cfg.Data.Inputs,
		CategoryColumn: cfg.Visualization.CategoryColumn,
		IndexZoom:      cfg.Data.IndexZoom,
	})
	if err != nil {
		return err
	}

	ctx, stop := interruptContext()
	defer stop()

	zoom := cfg.Visualization.Zoom
	p, err := openPipeline(cfg, dir, command, zoom)
	if err != nil {
		return err
	}
	s, err := p.scheduler(src)
	if err != nil {
		return p.finish(nil, err)
	}

	if postProcess {
		return p.finish(s, s.Run(ctx, region, zoom))
	}

	p.monitor.Start(ctx)
	defer p.monitor.Stop()
	tiles, err := tile.Cover(region, zoom)
	if err != nil {
		return p.finish(s, err)
	}
	slog.Info("rendering base level", "zoom", zoom, "tiles", len(tiles), "workers", cfg.Resources.Workers)
	return p.finish(s, s.RenderBase(ctx, tiles))
}
