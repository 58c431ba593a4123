// Package scheduler drives rasterization, pyramid construction, rendering
// and export over every tile of a run in bounded batches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/paulmach/orb"

	"github.com/SiggyF/ais-shader/internal/archive"
	"github.com/SiggyF/ais-shader/internal/data/pngstore"
	"github.com/SiggyF/ais-shader/internal/data/zarr"
	"github.com/SiggyF/ais-shader/internal/geotiff"
	"github.com/SiggyF/ais-shader/internal/ledger"
	"github.com/SiggyF/ais-shader/internal/monitor"
	"github.com/SiggyF/ais-shader/internal/pyramid"
	"github.com/SiggyF/ais-shader/internal/raster"
	"github.com/SiggyF/ais-shader/internal/render"
	"github.com/SiggyF/ais-shader/internal/scale"
	"github.com/SiggyF/ais-shader/internal/source"
	"github.com/SiggyF/ais-shader/internal/tile"
)

// ErrBatchFailed aborts a run when every submitted tile of a batch failed.
var ErrBatchFailed = errors.New("every tile in batch failed")

// Config controls batching and the optional pipeline steps.
type Config struct {
	TileSize   int
	LineWidth  float64
	BatchSize  int
	BatchPause time.Duration
	// Overwrite re-renders images that already exist.
	Overwrite         bool
	ExportGeoTIFF     bool
	CleanIntermediate bool
	// PMTiles, when set, is the path of an archive written after rendering.
	PMTiles string
	Scale   scale.Config
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{
		TileSize:   1024,
		LineWidth:  0,
		BatchSize:  20,
		BatchPause: time.Second,
		Scale:      scale.DefaultConfig(),
	}
}

// Deps are the handles a scheduler works with. Source is only needed for
// rasterization, Exporter only for GeoTIFF export. Ledger and Monitor are
// optional.
type Deps struct {
	Pool     *Pool
	Source   source.Source
	Grids    *zarr.Store
	Images   *pngstore.Store
	Renderer *render.TileRenderer
	Exporter *geotiff.Exporter
	Ledger   *ledger.Store
	RunID    string
	Monitor  *monitor.Monitor
}

// Scheduler orchestrates one run.
type Scheduler struct {
	cfg    Config
	deps   Deps
	report *Report
	batch  int
	logger *slog.Logger
}

// New creates a scheduler. Zero config fields take their defaults.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	def := DefaultConfig()
	if cfg.TileSize <= 0 {
		cfg.TileSize = def.TileSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchPause < 0 {
		cfg.BatchPause = 0
	}
	if deps.Pool == nil {
		return nil, errors.New("scheduler requires a worker pool")
	}
	if deps.Grids == nil {
		return nil, errors.New("scheduler requires a grid store")
	}
	return &Scheduler{
		cfg:    cfg,
		deps:   deps,
		report: NewReport(),
		logger: slog.With("component", "scheduler"),
	}, nil
}

// Report returns the accumulated results of the run.
func (s *Scheduler) Report() *Report { return s.report }

type taskFunc func(ctx context.Context, a tile.Address) (Status, error)

// runBatches submits tasks in batches of BatchSize and waits for each batch
// before submitting the next. Tiles for which skip reports true are not
// submitted.
func (s *Scheduler) runBatches(ctx context.Context, stage Stage, addrs []tile.Address, skip func(tile.Address) bool, task taskFunc) error {
	total := len(addrs)
	batches := (total + s.cfg.BatchSize - 1) / s.cfg.BatchSize
	s.logger.Info("starting stage", "stage", stage, "tiles", total, "batches", batches, "batch_size", s.cfg.BatchSize)

	for i := 0; i < total; i += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := addrs[i:min(i+s.cfg.BatchSize, total)]
		s.batch++
		results := make([]Result, len(batch))
		for j, a := range batch {
			if skip != nil && skip(a) {
				results[j] = Result{Addr: a, Stage: stage, Status: StatusSkipped}
				continue
			}
			j, a := j, a
			err := s.deps.Pool.Submit(func() {
				results[j] = s.runTask(ctx, stage, a, task)
			})
			if err != nil {
				return fmt.Errorf("failed to submit %s task for %s: %w", stage, a, err)
			}
		}
		s.deps.Pool.Wait()

		if err := s.finishBatch(stage, i/s.cfg.BatchSize+1, batches, results); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) runTask(ctx context.Context, stage Stage, a tile.Address, task taskFunc) (res Result) {
	start := time.Now()
	res = Result{Addr: a, Stage: stage}
	defer func() {
		if v := recover(); v != nil {
			res.Status = StatusFailed
			res.Err = panicError(v)
		}
		res.Duration = time.Since(start)
		if res.Status == StatusFailed {
			s.logger.Error("task failed", "stage", stage, "tile", a.String(), "err", res.Err)
		}
	}()

	status, err := task(ctx, a)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}
	res.Status = status
	return res
}

func (s *Scheduler) finishBatch(stage Stage, n, batches int, results []Result) error {
	s.report.Add(results)
	counts, failed, submitted := summarize(results)
	s.logger.Info("batch complete",
		"stage", stage,
		"batch", fmt.Sprintf("%d/%d", n, batches),
		"ok", counts[StatusOK],
		"empty", counts[StatusEmpty],
		"skipped", counts[StatusSkipped],
		"failed", failed,
	)
	if s.deps.Ledger != nil && submitted > 0 {
		rows := make([]ledger.TaskResult, 0, submitted)
		for _, r := range results {
			if r.Status != StatusSkipped {
				rows = append(rows, r.toLedger(s.batch))
			}
		}
		if err := s.deps.Ledger.InsertResults(s.deps.RunID, rows); err != nil {
			s.logger.Warn("failed to record batch", "err", err)
		}
	}
	if submitted > 0 && failed == submitted {
		return fmt.Errorf("%s batch %d: %w", stage, n, ErrBatchFailed)
	}

	if submitted > 0 {
		runtime.GC()
		if s.cfg.BatchPause > 0 {
			time.Sleep(s.cfg.BatchPause)
		}
	}
	return nil
}

// RenderBase rasterizes and stores every tile not yet present in the grid
// store.
func (s *Scheduler) RenderBase(ctx context.Context, tiles []tile.Address) error {
	if s.deps.Source == nil {
		return errors.New("rasterization requires a geometry source")
	}
	return s.runBatches(ctx, StageRasterize, tiles, s.deps.Grids.Exists, s.rasterizeTile)
}

func (s *Scheduler) rasterizeTile(ctx context.Context, a tile.Address) (Status, error) {
	bbox := a.Bounds()
	lines, err := s.deps.Source.Lines(ctx, bbox)
	if err != nil {
		return StatusFailed, fmt.Errorf("failed to query lines: %w", err)
	}
	if len(lines) == 0 {
		return StatusEmpty, nil
	}
	g, err := raster.Rasterize(lines, bbox, s.cfg.TileSize, s.cfg.LineWidth)
	if errors.Is(err, raster.ErrEmpty) {
		return StatusEmpty, nil
	}
	if err != nil {
		return StatusFailed, fmt.Errorf("failed to rasterize: %w", err)
	}
	if err := s.deps.Grids.Write(a, g); err != nil {
		return StatusFailed, err
	}
	s.logger.Debug("rasterized tile", "tile", a.String(), "lines", len(lines), "sum", g.Sum())
	return StatusOK, nil
}

// BuildPyramid builds every level from baseZoom-1 down to 0. Each level is
// complete before the next one starts.
func (s *Scheduler) BuildPyramid(ctx context.Context, baseZoom uint32) error {
	for z := baseZoom; z > 0; z-- {
		if err := s.BuildLevel(ctx, z-1); err != nil {
			return err
		}
	}
	return nil
}

// BuildLevel aggregates the stored tiles of zoom+1 into zoom.
func (s *Scheduler) BuildLevel(ctx context.Context, zoom uint32) error {
	children, err := s.deps.Grids.Keys(zoom + 1)
	if err != nil {
		return fmt.Errorf("failed to list zoom %d: %w", zoom+1, err)
	}
	groups := pyramid.GroupByParent(children)
	parents := pyramid.Parents(children)
	s.logger.Info("building level", "zoom", zoom, "children", len(children), "parents", len(parents))

	skip := func(p tile.Address) bool { return s.parentCurrent(p, groups[p]) }
	return s.runBatches(ctx, StageAggregate, parents, skip, func(ctx context.Context, p tile.Address) (Status, error) {
		return s.aggregateTile(p, groups[p])
	})
}

// parentCurrent reports whether p was written no earlier than any of its
// stored children. A child repaired by a later run makes its parent stale.
func (s *Scheduler) parentCurrent(p tile.Address, children []tile.Address) bool {
	written, err := s.deps.Grids.ModTime(p)
	if err != nil {
		return false
	}
	for _, c := range children {
		t, err := s.deps.Grids.ModTime(c)
		if err != nil {
			continue
		}
		if written.Before(t) {
			return false
		}
	}
	return true
}

// imageCurrent reports whether the image of a was rendered no earlier than
// its grid was last written.
func (s *Scheduler) imageCurrent(a tile.Address) bool {
	rendered, err := s.deps.Images.ModTime(a)
	if err != nil {
		return false
	}
	written, err := s.deps.Grids.ModTime(a)
	if err != nil {
		return true
	}
	return !rendered.Before(written)
}

func (s *Scheduler) aggregateTile(p tile.Address, children []tile.Address) (Status, error) {
	kids := make([]pyramid.Child, 0, len(children))
	for _, c := range children {
		g, err := s.deps.Grids.Read(c)
		switch {
		case errors.Is(err, zarr.ErrMissingData), errors.Is(err, zarr.ErrNotFound):
			s.logger.Warn("skipping child without data", "tile", c.String(), "parent", p.String(), "err", err)
			continue
		case err != nil:
			return StatusFailed, fmt.Errorf("failed to read child %s: %w", c, err)
		}
		kids = append(kids, pyramid.Child{Addr: c, Grid: g})
	}
	g, err := pyramid.BuildParent(p, kids)
	if errors.Is(err, pyramid.ErrEmpty) {
		return StatusEmpty, nil
	}
	if err != nil {
		return StatusFailed, err
	}
	if err := s.deps.Grids.Write(p, g); err != nil {
		return StatusFailed, err
	}
	return StatusOK, nil
}

// EstimateScale computes and records the bound of a zoom level.
func (s *Scheduler) EstimateScale(ctx context.Context, zoom uint32) (float64, error) {
	bound, err := scale.NewEstimator(s.deps.Grids, s.cfg.Scale).Estimate(ctx, zoom)
	if err != nil {
		return 0, err
	}
	s.report.SetScale(zoom, bound)
	return bound, nil
}

// RenderImages renders every stored tile of zoom with bound. Images newer
// than their grid are kept unless Overwrite is set.
func (s *Scheduler) RenderImages(ctx context.Context, zoom uint32, bound float64) error {
	if s.deps.Images == nil || s.deps.Renderer == nil {
		return errors.New("rendering requires an image store and a renderer")
	}
	keys, err := s.deps.Grids.Keys(zoom)
	if err != nil {
		return fmt.Errorf("failed to list zoom %d: %w", zoom, err)
	}
	skip := func(a tile.Address) bool { return !s.cfg.Overwrite && s.imageCurrent(a) }
	return s.runBatches(ctx, StageRender, keys, skip, func(ctx context.Context, a tile.Address) (Status, error) {
		g, err := s.deps.Grids.Read(a)
		if errors.Is(err, zarr.ErrMissingData) {
			s.logger.Warn("no data variable", "tile", a.String())
			return StatusEmpty, nil
		}
		if err != nil {
			return StatusFailed, err
		}
		b, err := s.deps.Renderer.RenderPNG(g, bound)
		if err != nil {
			return StatusFailed, fmt.Errorf("failed to render: %w", err)
		}
		if err := s.deps.Images.Write(a, b); err != nil {
			return StatusFailed, err
		}
		return StatusOK, nil
	})
}

// ExportGeoTIFF writes a GeoTIFF for every stored tile of zoom.
func (s *Scheduler) ExportGeoTIFF(ctx context.Context, zoom uint32) error {
	if s.deps.Exporter == nil {
		return errors.New("geotiff export requires an exporter")
	}
	keys, err := s.deps.Grids.Keys(zoom)
	if err != nil {
		return fmt.Errorf("failed to list zoom %d: %w", zoom, err)
	}
	return s.runBatches(ctx, StageExport, keys, s.deps.Exporter.Exists, func(ctx context.Context, a tile.Address) (Status, error) {
		if err := s.deps.Exporter.Export(ctx, a); err != nil {
			if errors.Is(err, zarr.ErrMissingData) {
				return StatusEmpty, nil
			}
			return StatusFailed, err
		}
		return StatusOK, nil
	})
}

// CleanIntermediate deletes the stored grids of every zoom below baseZoom.
func (s *Scheduler) CleanIntermediate(baseZoom uint32) error {
	removed := 0
	for z := uint32(0); z < baseZoom; z++ {
		keys, err := s.deps.Grids.Keys(z)
		if err != nil {
			return fmt.Errorf("failed to list zoom %d: %w", z, err)
		}
		for _, a := range keys {
			if err := s.deps.Grids.Delete(a); err != nil {
				s.logger.Warn("failed to delete intermediate grid", "tile", a.String(), "err", err)
				continue
			}
			removed++
		}
	}
	s.logger.Info("cleaned intermediate grids", "removed", removed)
	return nil
}

// PostProcess renders the base level, then builds, scales and renders each
// lower level in turn, and finishes with the optional export steps.
func (s *Scheduler) PostProcess(ctx context.Context, baseZoom uint32) error {
	if err := s.processLevel(ctx, baseZoom); err != nil {
		return err
	}
	for z := baseZoom; z > 0; z-- {
		if err := s.BuildLevel(ctx, z-1); err != nil {
			return err
		}
		if err := s.processLevel(ctx, z-1); err != nil {
			return err
		}
	}

	if s.cfg.ExportGeoTIFF {
		if err := s.ExportGeoTIFF(ctx, baseZoom); err != nil {
			return err
		}
	}
	if s.cfg.PMTiles != "" {
		opts := archive.Options{Scales: s.report.Scales()}
		if _, err := archive.WritePMTiles(ctx, s.deps.Images, s.cfg.PMTiles, opts); err != nil {
			if !errors.Is(err, archive.ErrNoTiles) {
				return fmt.Errorf("failed to write pmtiles: %w", err)
			}
			s.logger.Warn("no rendered tiles to archive")
		}
	}
	if s.cfg.CleanIntermediate {
		return s.CleanIntermediate(baseZoom)
	}
	return nil
}

func (s *Scheduler) processLevel(ctx context.Context, zoom uint32) error {
	bound, err := s.EstimateScale(ctx, zoom)
	if err != nil {
		return err
	}
	return s.RenderImages(ctx, zoom, bound)
}

// Run executes the whole pipeline for the tiles covering region, a lon/lat
// bounding box, at baseZoom.
func (s *Scheduler) Run(ctx context.Context, region orb.Bound, baseZoom uint32) error {
	if s.deps.Monitor != nil {
		s.deps.Monitor.Start(ctx)
		defer s.deps.Monitor.Stop()
	}
	tiles, err := tile.Cover(region, baseZoom)
	if err != nil {
		return err
	}
	s.logger.Info("covering region", "zoom", baseZoom, "tiles", len(tiles), "workers", s.deps.Pool.Workers())

	if err := s.RenderBase(ctx, tiles); err != nil {
		return err
	}
	return s.PostProcess(ctx, baseZoom)
}
