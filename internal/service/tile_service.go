// Package service provides the tile serving logic over a finished or
// in-progress run directory.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/SiggyF/ais-shader/internal/cache"
	"github.com/SiggyF/ais-shader/internal/data/pngstore"
	"github.com/SiggyF/ais-shader/internal/data/zarr"
	"github.com/SiggyF/ais-shader/internal/render"
	"github.com/SiggyF/ais-shader/internal/scale"
	"github.com/SiggyF/ais-shader/internal/tile"
	"github.com/SiggyF/ais-shader/pkg/colormap"
)

// ErrTileNotFound is returned for tiles that hold no data.
var ErrTileNotFound = errors.New("tile not found")

// TileServiceConfig contains tile service configuration.
type TileServiceConfig struct {
	Grids *zarr.Store
	// Images, when set, is consulted before rendering from grids.
	Images   *pngstore.Store
	Cache    *cache.Manager
	Renderer *render.TileRenderer
	Colormap colormap.Colormap
	LogScale bool
	TileSize int
	Scale    scale.Config
}

// TileService handles tile rendering and serving.
type TileService struct {
	grids    *zarr.Store
	images   *pngstore.Store
	cache    *cache.Manager
	renderer *render.TileRenderer
	cmap     colormap.Colormap
	logScale bool
	tileSize int

	// Per-zoom scale bounds, estimated on first use
	scaleMu   sync.Mutex
	estimator *scale.Estimator
	scales    map[uint32]float64

	metaOnce sync.Once
	meta     *Metadata
	metaErr  error

	logger *slog.Logger
}

// Metadata describes the served pyramid.
type Metadata struct {
	CRS        string         `json:"crs"`
	TileSize   int            `json:"tile_size"`
	MinZoom    uint32         `json:"min_zoom"`
	MaxZoom    uint32         `json:"max_zoom"`
	Zooms      []uint32       `json:"zooms"`
	TileCounts map[string]int `json:"tile_counts"`
	Categories []string       `json:"categories,omitempty"`
	LogScale   bool           `json:"log_scale"`
	Bounds     *[4]float64    `json:"bounds,omitempty"`
}

// NewTileService creates a new tile service.
func NewTileService(cfg TileServiceConfig) *TileService {
	cmap := cfg.Colormap
	if cmap == nil {
		cmap = colormap.Default()
	}
	return &TileService{
		grids:     cfg.Grids,
		images:    cfg.Images,
		cache:     cfg.Cache,
		renderer:  cfg.Renderer,
		cmap:      cmap,
		logScale:  cfg.LogScale,
		tileSize:  cfg.TileSize,
		estimator: scale.NewEstimator(cfg.Grids, cfg.Scale),
		scales:    make(map[uint32]float64),
		logger:    slog.With("component", "tile_service"),
	}
}

// GetTile returns a rendered tile PNG. Pre-rendered images win over
// rendering on demand.
func (s *TileService) GetTile(ctx context.Context, a tile.Address) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	if s.images != nil && s.images.Exists(a) {
		cacheKey := cache.TileKey(a, 0)
		if data, ok := s.cache.GetTile(cacheKey); ok {
			return data, nil
		}
		data, err := s.images.Read(a)
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		s.cache.SetTile(cacheKey, data)
		return data, nil
	}

	bound, err := s.Scale(ctx, a.Z)
	if err != nil {
		return nil, err
	}
	cacheKey := cache.TileKey(a, bound)
	if data, ok := s.cache.GetTile(cacheKey); ok {
		return data, nil
	}

	g, err := s.grids.Read(a)
	if errors.Is(err, zarr.ErrNotFound) || errors.Is(err, zarr.ErrMissingData) {
		return nil, fmt.Errorf("%w: %s", ErrTileNotFound, a)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load grid: %w", err)
	}

	// Render tile
	data, err := s.renderer.RenderPNG(g, bound)
	if err != nil {
		return nil, fmt.Errorf("failed to render tile: %w", err)
	}

	// Cache result
	s.cache.SetTile(cacheKey, data)

	return data, nil
}

// GetEmptyTile returns an empty tile.
func (s *TileService) GetEmptyTile() ([]byte, error) {
	return s.renderer.CreateEmptyTile()
}

// Scale returns the bound of a zoom level, estimating it on first use.
func (s *TileService) Scale(ctx context.Context, zoom uint32) (float64, error) {
	s.scaleMu.Lock()
	defer s.scaleMu.Unlock()

	if v, ok := s.scales[zoom]; ok {
		return v, nil
	}
	if b, ok := s.cache.GetQuery(cache.ScaleKey(zoom)); ok {
		if v, err := strconv.ParseFloat(string(b), 64); err == nil {
			s.scales[zoom] = v
			return v, nil
		}
	}
	v, err := s.estimator.Estimate(ctx, zoom)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate scale: %w", err)
	}
	s.scales[zoom] = v
	s.cache.SetQuery(cache.ScaleKey(zoom), []byte(strconv.FormatFloat(v, 'g', -1, 64)))
	return v, nil
}

// SetScale pins the bound of a zoom level, typically from a finished run.
func (s *TileService) SetScale(zoom uint32, bound float64) {
	s.scaleMu.Lock()
	s.scales[zoom] = bound
	s.scaleMu.Unlock()
}

// Legend renders a colorbar for a zoom level.
func (s *TileService) Legend(ctx context.Context, zoom uint32, width, height int) ([]byte, error) {
	key := cache.LegendKey(zoom, width, height)
	if data, ok := s.cache.GetQuery(key); ok {
		return data, nil
	}
	bound, err := s.Scale(ctx, zoom)
	if err != nil {
		return nil, err
	}
	data, err := s.renderer.Legend(s.cmap, render.LegendConfig{
		Width:    width,
		Height:   height,
		Bound:    bound,
		LogScale: s.logScale,
		Title:    fmt.Sprintf("track density z%d", zoom),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render legend: %w", err)
	}
	s.cache.SetQuery(key, data)
	return data, nil
}

// Metadata describes the stored pyramid. It is computed once.
func (s *TileService) Metadata() (*Metadata, error) {
	s.metaOnce.Do(func() {
		s.meta, s.metaErr = s.loadMetadata()
	})
	return s.meta, s.metaErr
}

func (s *TileService) loadMetadata() (*Metadata, error) {
	zooms, err := s.grids.Zooms()
	if err != nil {
		return nil, err
	}
	md := &Metadata{
		CRS:        zarr.CRS,
		TileSize:   s.tileSize,
		Zooms:      zooms,
		TileCounts: make(map[string]int, len(zooms)),
		LogScale:   s.logScale,
	}
	if len(zooms) == 0 {
		return md, nil
	}
	md.MinZoom, md.MaxZoom = zooms[0], zooms[len(zooms)-1]

	categories := map[string]bool{}
	for _, z := range zooms {
		keys, err := s.grids.Keys(z)
		if err != nil {
			return nil, err
		}
		md.TileCounts[strconv.Itoa(int(z))] = len(keys)
		if z != md.MaxZoom {
			continue
		}
		for i, a := range keys {
			attrs, err := s.grids.Attributes(a)
			if err != nil {
				s.logger.Warn("skipping unreadable attributes", "tile", a.String(), "err", err)
				continue
			}
			if md.TileSize == 0 {
				md.TileSize = attrs.Size
			}
			for _, c := range attrs.Categories {
				categories[c] = true
			}
			b := a.LonLatBounds()
			if i == 0 || md.Bounds == nil {
				md.Bounds = &[4]float64{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()}
				continue
			}
			md.Bounds[0] = min(md.Bounds[0], b.Min.Lon())
			md.Bounds[1] = min(md.Bounds[1], b.Min.Lat())
			md.Bounds[2] = max(md.Bounds[2], b.Max.Lon())
			md.Bounds[3] = max(md.Bounds[3], b.Max.Lat())
		}
	}
	for c := range categories {
		md.Categories = append(md.Categories, c)
	}
	sort.Strings(md.Categories)
	return md, nil
}
