package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SiggyF/ais-shader/internal/scheduler"
)

var (
	optRunDir            string
	optBaseZoom          uint32
	optCleanIntermediate bool
	optCOGs              bool
	optPMTiles           bool
	optOverwrite         bool
)

var postProcessCmd = &cobra.Command{
	Use:   "post-process",
	Short: "Build the pyramid of a rendered run and render every level to PNG",
	Long: `post-process aggregates the base zoom grids of a run directory level by
level down to zoom 0, estimates a scale bound per zoom and renders each level.
GeoTIFF export, a PMTiles archive and removal of the intermediate grids are
optional.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("base-zoom") {
			cfg.Visualization.Zoom = optBaseZoom
		}
		if flags.Changed("clean-intermediate") {
			cfg.Output.CleanIntermediate = optCleanIntermediate
		}
		if flags.Changed("cogs") {
			cfg.Output.COGs = optCOGs
		}
		if flags.Changed("pmtiles") {
			cfg.Output.PMTiles = optPMTiles
		}
		if flags.Changed("overwrite") {
			cfg.Output.Overwrite = optOverwrite
		}

		info, err := os.Stat(optRunDir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("run directory %q does not exist", optRunDir)
		}

		ctx, stop := interruptContext()
		defer stop()

		zoom := cfg.Visualization.Zoom
		p, err := openPipeline(cfg, optRunDir, "post-process", zoom)
		if err != nil {
			return err
		}
		s, err := p.scheduler(nil)
		if err != nil {
			return p.finish(nil, err)
		}
		keys, err := p.grids.Keys(zoom)
		if err != nil {
			return p.finish(s, err)
		}
		if len(keys) == 0 {
			return p.finish(s, errors.New("no base zoom grids found in run directory"))
		}

		p.monitor.Start(ctx)
		defer p.monitor.Stop()
		return p.finish(s, s.PostProcess(ctx, zoom))
	},
}

func init() {
	flags := postProcessCmd.Flags()
	flags.StringVar(&optRunDir, "run-dir", "", "Path to the run directory")
	flags.Uint32Var(&optBaseZoom, "base-zoom", 7, "Base zoom level to process")
	flags.BoolVar(&optCleanIntermediate, "clean-intermediate", false, "Delete grids below the base zoom after rendering")
	flags.BoolVar(&optCOGs, "cogs", false, "Export GeoTIFFs for the base zoom level")
	flags.BoolVar(&optPMTiles, "pmtiles", false, "Pack the rendered PNGs into "+scheduler.PMTilesFile)
	flags.BoolVar(&optOverwrite, "overwrite", false, "Re-render images that already exist")
	postProcessCmd.MarkFlagRequired("run-dir")
	rootCmd.AddCommand(postProcessCmd)
}
