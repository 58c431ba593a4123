package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SiggyF/ais-shader/internal/config"
	"github.com/SiggyF/ais-shader/internal/data/pngstore"
	"github.com/SiggyF/ais-shader/internal/data/zarr"
	"github.com/SiggyF/ais-shader/internal/geotiff"
	"github.com/SiggyF/ais-shader/internal/ledger"
	"github.com/SiggyF/ais-shader/internal/monitor"
	"github.com/SiggyF/ais-shader/internal/render"
	"github.com/SiggyF/ais-shader/internal/scheduler"
	"github.com/SiggyF/ais-shader/internal/source"
)

// pipeline holds the handles of one invocation against a run directory.
type pipeline struct {
	cfg     *config.Config
	command string
	dir     string
	runID   string
	started time.Time

	grids    *zarr.Store
	images   *pngstore.Store
	ledger   *ledger.Store
	pool     *scheduler.Pool
	monitor  *monitor.Monitor
	renderer *render.TileRenderer
}

func openPipeline(cfg *config.Config, dir, command string, baseZoom uint32) (*pipeline, error) {
	ramp, err := cfg.Colormap.Build()
	if err != nil {
		return nil, err
	}
	grids, err := zarr.NewStore(zarr.Config{
		Root:       filepath.Join(dir, scheduler.ZarrDir),
		ChunkSize:  cfg.Output.ChunkSize,
		Level:      cfg.Output.CompressionLevel,
		CacheTiles: cfg.Cache.GridTiles,
	})
	if err != nil {
		return nil, err
	}
	images, err := pngstore.New(filepath.Join(dir, scheduler.PNGDir))
	if err != nil {
		grids.Close()
		return nil, err
	}
	store, err := ledger.NewStore(filepath.Join(dir, scheduler.LedgerFile))
	if err != nil {
		grids.Close()
		return nil, err
	}

	p := &pipeline{
		cfg:     cfg,
		command: command,
		dir:     dir,
		runID:   uuid.NewString(),
		started: time.Now(),
		grids:   grids,
		images:  images,
		ledger:  store,
		pool:    scheduler.NewPool(cfg.Resources.Workers),
		monitor: monitor.New(monitor.Config{
			Interval:          cfg.Resources.MonitorInterval,
			MemoryWarnPercent: cfg.Resources.MemoryWarnPercent,
		}, slog.Default()),
		renderer: render.NewTileRenderer(render.Config{
			TileSize: cfg.Visualization.TileSize,
			LogScale: cfg.Colormap.UseLogScale(),
			Colormap: ramp,
		}),
	}

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		p.close()
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	err = store.CreateRun(&ledger.Run{
		ID:        p.runID,
		Command:   command,
		Dir:       dir,
		BaseZoom:  baseZoom,
		Config:    configJSON,
		CreatedAt: p.started,
	})
	if err != nil {
		p.close()
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	meta := scheduler.Metadata{
		RunID:   p.runID,
		Inputs:  cfg.Data.Inputs,
		Command: strings.Join(os.Args, " "),
		Config:  cfg,
	}
	// Keep what an earlier command in the same directory recorded.
	if prev, err := scheduler.ReadMetadata(dir); err == nil {
		meta.Scales = prev.Scales
		if len(meta.Inputs) == 0 {
			meta.Inputs = prev.Inputs
		}
	}
	if err := scheduler.WriteMetadata(dir, meta, p.started); err != nil {
		p.close()
		return nil, err
	}
	slog.Info("opened run", "dir", dir, "run_id", p.runID, "command", command)
	return p, nil
}

func (p *pipeline) scheduler(src source.Source) (*scheduler.Scheduler, error) {
	cfg := p.cfg
	sc := scheduler.Config{
		TileSize:          cfg.Visualization.TileSize,
		LineWidth:         cfg.Visualization.LineWidth,
		BatchSize:         cfg.Visualization.BatchSize,
		BatchPause:        cfg.Resources.BatchPause,
		Overwrite:         cfg.Output.Overwrite,
		ExportGeoTIFF:     cfg.Output.COGs,
		CleanIntermediate: cfg.Output.CleanIntermediate,
		Scale:             scaleConfig(cfg),
	}
	if cfg.Output.PMTiles {
		sc.PMTiles = filepath.Join(p.dir, scheduler.PMTilesFile)
	}

	deps := scheduler.Deps{
		Pool:     p.pool,
		Source:   src,
		Grids:    p.grids,
		Images:   p.images,
		Renderer: p.renderer,
		Ledger:   p.ledger,
		RunID:    p.runID,
		Monitor:  p.monitor,
	}
	if cfg.Output.COGs {
		exporter, err := geotiff.NewExporter(p.grids, filepath.Join(p.dir, scheduler.TIFFDir))
		if err != nil {
			return nil, err
		}
		deps.Exporter = exporter
	}
	return scheduler.New(sc, deps)
}

// finish records the outcome, logs the report and releases every handle.
func (p *pipeline) finish(s *scheduler.Scheduler, runErr error) error {
	status, msg := ledger.RunStatusCompleted, ""
	if runErr != nil {
		status, msg = ledger.RunStatusFailed, runErr.Error()
	}
	if s != nil {
		report := s.Report()
		report.Log(slog.Default())
		if scales := report.Scales(); len(scales) > 0 {
			if err := p.saveScales(scales); err != nil {
				slog.Warn("failed to save scales", "err", err)
			}
		}
	}
	if err := p.ledger.FinishRun(p.runID, status, msg); err != nil {
		slog.Warn("failed to record run status", "err", err)
	}
	p.close()

	if runErr != nil {
		if errors.Is(runErr, scheduler.ErrPoolClosed) {
			slog.Error("worker pool unavailable, run aborted", "err", runErr)
		}
		return runErr
	}
	slog.Info("run finished", "dir", p.dir, "elapsed", time.Since(p.started).Round(time.Second))
	return nil
}

func (p *pipeline) saveScales(scales map[uint32]float64) error {
	meta, err := scheduler.ReadMetadata(p.dir)
	if err != nil {
		return err
	}
	if meta.Scales == nil {
		meta.Scales = map[uint32]float64{}
	}
	for z, v := range scales {
		meta.Scales[z] = v
	}
	return scheduler.WriteMetadata(p.dir, *meta, p.started)
}

func (p *pipeline) close() {
	p.pool.Close()
	p.grids.Close()
	p.ledger.Close()
}
