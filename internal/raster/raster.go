// Package raster converts projected polylines into per-tile density grids.
//
// Two modes are supported. With a zero width every cell crossed by a line is
// counted once per line (aliased). With a positive width each line is a
// round-capped stroke and cells accumulate fractional coverage
// (anti-aliased). Widths are expressed in cell units.
package raster

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"

	"github.com/SiggyF/ais-shader/internal/grid"
)

// ErrEmpty signals that no line contributed to any cell of the tile.
var ErrEmpty = errors.New("no geometry intersects tile")

// Line is one polyline in projected coordinates with an optional category.
type Line struct {
	Points      orb.LineString
	Category    string
	HasCategory bool
}

// Options controls grid resolution and stroke width.
type Options struct {
	Size  int
	Width float64
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.Size <= 0 {
		return fmt.Errorf("tile size must be positive, got %d", o.Size)
	}
	if o.Width < 0 {
		return fmt.Errorf("line width must be >= 0, got %v", o.Width)
	}
	return nil
}

// Rasterize accumulates lines over bbox into a size×size grid. Only cells
// inside [left,right)×[bottom,top) exist. If any line carries a category the
// grid gets a category axis with the sorted labels of contributing lines.
func Rasterize(lines []Line, bbox orb.Bound, size int, width float64) (*grid.Grid, error) {
	opts := Options{Size: size, Width: width}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	dx := bbox.Max.X() - bbox.Min.X()
	dy := bbox.Max.Y() - bbox.Min.Y()
	if dx <= 0 || dy <= 0 {
		return nil, fmt.Errorf("degenerate bbox %v", bbox)
	}

	c := newCanvas(bbox, size, width)
	for i := range lines {
		c.draw(&lines[i])
	}
	return c.result()
}

type canvas struct {
	size   int
	width  float64
	minX   float64
	minY   float64
	scaleX float64
	scaleY float64

	categorised bool
	planes      map[string][]float32

	// scratch state reused between lines
	stamp   []uint32
	line    uint32
	cover   []float32
	touched []int
	pts     []pt
}

type pt struct{ x, y float64 }

func newCanvas(bbox orb.Bound, size int, width float64) *canvas {
	return &canvas{
		size:   size,
		width:  width,
		minX:   bbox.Min.X(),
		minY:   bbox.Min.Y(),
		scaleX: float64(size) / (bbox.Max.X() - bbox.Min.X()),
		scaleY: float64(size) / (bbox.Max.Y() - bbox.Min.Y()),
		planes: map[string][]float32{},
		stamp:  make([]uint32, size*size),
	}
}

// toCell maps projected points to continuous cell coordinates, x to the
// right and y upward, so (0,0) is the bottom-left tile corner.
func (c *canvas) toCell(ls orb.LineString) []pt {
	c.pts = c.pts[:0]
	for _, p := range ls {
		c.pts = append(c.pts, pt{(p.X() - c.minX) * c.scaleX, (p.Y() - c.minY) * c.scaleY})
	}
	return c.pts
}

func (c *canvas) plane(l *Line) []float32 {
	key := ""
	if l.HasCategory {
		c.categorised = true
		key = l.Category
	}
	if p, ok := c.planes[key]; ok {
		return p
	}
	p := make([]float32, c.size*c.size)
	c.planes[key] = p
	return p
}

func (c *canvas) draw(l *Line) {
	if len(l.Points) == 0 {
		return
	}
	pts := c.toCell(l.Points)
	if c.width == 0 {
		c.drawAliased(l, pts)
		return
	}
	c.drawStroke(l, pts)
}

func (c *canvas) result() (*grid.Grid, error) {
	if len(c.planes) == 0 {
		return nil, ErrEmpty
	}
	if !c.categorised {
		g := &grid.Grid{Size: c.size, Data: [][]float32{c.planes[""]}}
		return g, nil
	}
	if p, ok := c.planes[""]; ok {
		delete(c.planes, "")
		if q, ok := c.planes[grid.UnknownCategory]; ok {
			for i, v := range p {
				q[i] += v
			}
		} else {
			c.planes[grid.UnknownCategory] = p
		}
	}
	labels := make([]string, 0, len(c.planes))
	for k := range c.planes {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	g := &grid.Grid{Size: c.size, Categories: labels, Data: make([][]float32, len(labels))}
	for i, k := range labels {
		g.Data[i] = c.planes[k]
	}
	return g, nil
}

// clip restricts the segment a-b to the square [0,size]² (Liang-Barsky).
func clip(a, b pt, size float64) (pt, pt, bool) {
	t0, t1 := 0.0, 1.0
	dx, dy := b.x-a.x, b.y-a.y
	edges := [4][2]float64{
		{-dx, a.x},
		{dx, size - a.x},
		{-dy, a.y},
		{dy, size - a.y},
	}
	for _, e := range edges {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return a, b, false
			}
			continue
		}
		r := q / p
		if p < 0 {
			if r > t1 {
				return a, b, false
			}
			if r > t0 {
				t0 = r
			}
		} else {
			if r < t0 {
				return a, b, false
			}
			if r < t1 {
				t1 = r
			}
		}
	}
	return pt{a.x + t0*dx, a.y + t0*dy}, pt{a.x + t1*dx, a.y + t1*dy}, true
}
