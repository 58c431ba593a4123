// Package source provides projected polylines per tile to the rasterizer.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/SiggyF/ais-shader/internal/raster"
	"github.com/SiggyF/ais-shader/internal/tile"
)

// Source returns the lines intersecting a projected bounding box.
type Source interface {
	Lines(ctx context.Context, bbox orb.Bound) ([]raster.Line, error)
}

// Config describes a GeoJSON source.
type Config struct {
	Paths          []string
	CategoryColumn string
	// IndexZoom sets the bucket size of the spatial index.
	IndexZoom uint32
}

type indexed struct {
	line  raster.Line
	bound orb.Bound
}

// GeoJSON holds LineString and MultiLineString features already projected
// to EPSG:3857, bucketed by tile for bbox queries.
type GeoJSON struct {
	lines   []indexed
	buckets map[[2]int][]int
	cell    float64
	bound   orb.Bound
	logger  *slog.Logger
}

// LoadGeoJSON reads one or more FeatureCollection files.
func LoadGeoJSON(cfg Config) (*GeoJSON, error) {
	s := &GeoJSON{
		buckets: map[[2]int][]int{},
		cell:    tile.Size(cfg.IndexZoom),
		logger:  slog.With("component", "source"),
	}
	for _, p := range cfg.Paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", p, err)
		}
		before := len(s.lines)
		for _, f := range fc.Features {
			s.addFeature(f, cfg.CategoryColumn)
		}
		s.logger.Info("loaded features", "path", p, "features", len(fc.Features), "lines", len(s.lines)-before)
	}
	return s, nil
}

// NewMemory builds a source from lines already in memory.
func NewMemory(lines []raster.Line, indexZoom uint32) *GeoJSON {
	s := &GeoJSON{
		buckets: map[[2]int][]int{},
		cell:    tile.Size(indexZoom),
		logger:  slog.With("component", "source"),
	}
	for _, l := range lines {
		s.add(l)
	}
	return s
}

func (s *GeoJSON) addFeature(f *geojson.Feature, categoryColumn string) {
	category, hasCategory := "", false
	if categoryColumn != "" {
		if v, ok := f.Properties[categoryColumn]; ok && v != nil {
			category, hasCategory = fmt.Sprint(v), true
		}
	}
	switch g := f.Geometry.(type) {
	case nil:
	case orb.LineString:
		s.add(raster.Line{Points: g, Category: category, HasCategory: hasCategory})
	case orb.MultiLineString:
		for _, ls := range g {
			s.add(raster.Line{Points: ls, Category: category, HasCategory: hasCategory})
		}
	default:
		s.logger.Debug("skipping non-line feature", "type", f.Geometry.GeoJSONType())
	}
}

func (s *GeoJSON) add(l raster.Line) {
	if len(l.Points) == 0 {
		return
	}
	b := l.Points.Bound()
	i := len(s.lines)
	s.lines = append(s.lines, indexed{line: l, bound: b})
	if i == 0 {
		s.bound = b
	} else {
		s.bound = s.bound.Union(b)
	}
	x0, y0, x1, y1 := s.span(b)
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			k := [2]int{x, y}
			s.buckets[k] = append(s.buckets[k], i)
		}
	}
}

func (s *GeoJSON) span(b orb.Bound) (int, int, int, int) {
	f := func(v float64) int { return int(math.Floor((v + tile.OriginShift) / s.cell)) }
	return f(b.Min.X()), f(b.Min.Y()), f(b.Max.X()), f(b.Max.Y())
}

// Len is the number of indexed lines.
func (s *GeoJSON) Len() int { return len(s.lines) }

// Bound is the projected extent of all lines.
func (s *GeoJSON) Bound() orb.Bound { return s.bound }

// Lines returns every line whose bounds intersect bbox, in load order.
func (s *GeoJSON) Lines(ctx context.Context, bbox orb.Bound) ([]raster.Line, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x0, y0, x1, y1 := s.span(bbox)
	if (x1-x0+1)*(y1-y0+1) > len(s.lines) {
		var out []raster.Line
		for _, l := range s.lines {
			if l.bound.Intersects(bbox) {
				out = append(out, l.line)
			}
		}
		return out, nil
	}

	seen := map[int]bool{}
	var ids []int
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			for _, i := range s.buckets[[2]int{x, y}] {
				if seen[i] || !s.lines[i].bound.Intersects(bbox) {
					continue
				}
				seen[i] = true
				ids = append(ids, i)
			}
		}
	}
	sort.Ints(ids)
	out := make([]raster.Line, len(ids))
	for j, i := range ids {
		out[j] = s.lines[i].line
	}
	return out, nil
}
