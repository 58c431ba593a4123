// Package render turns density grids into color-mapped RGBA tiles.
package render

import (
	"bytes"
	"image"
	"image/png"
	"math"
	"sync"

	"github.com/SiggyF/ais-shader/internal/grid"
	"github.com/SiggyF/ais-shader/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	TileSize int
	LogScale bool
	Colormap colormap.Colormap
}

// TileRenderer renders grids through a shared, read-only colormap.
type TileRenderer struct {
	config     Config
	bufferPool sync.Pool
}

// NewTileRenderer creates a new tile renderer.
func NewTileRenderer(cfg Config) *TileRenderer {
	if cfg.Colormap == nil {
		cfg.Colormap = colormap.Default()
	}
	return &TileRenderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// Normalize maps a raw value into [0, 1] against bound.
func Normalize(v, bound float64, logScale bool) float64 {
	if bound <= 0 {
		bound = 1
	}
	var t float64
	if logScale {
		t = math.Log1p(v) / math.Log1p(bound)
	} else {
		t = v / bound
	}
	if t < 0 || math.IsNaN(t) {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// Render flattens the category axis, normalizes against bound and maps every
// cell through the colormap. Cells whose raw value is exactly zero are fully
// transparent.
func (r *TileRenderer) Render(g *grid.Grid, bound float64) *image.NRGBA {
	return Render(g, bound, r.config.Colormap, r.config.LogScale)
}

// Render is the stateless form of TileRenderer.Render.
func Render(g *grid.Grid, bound float64, cmap colormap.Colormap, logScale bool) *image.NRGBA {
	size := g.Size
	flat := g.Flatten()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for row := 0; row < size; row++ {
		dst := img.Pix[imageRow(size, row)*img.Stride:]
		for col := 0; col < size; col++ {
			v := flat[row*size+col]
			if v == 0 {
				continue
			}
			c := cmap.At(Normalize(float64(v), bound, logScale))
			i := col * 4
			dst[i], dst[i+1], dst[i+2], dst[i+3] = c.R, c.G, c.B, c.A
		}
	}
	return img
}

// imageRow converts a bottom-up grid row into a top-down image row. This is
// the only place the vertical axis is flipped for display.
func imageRow(size, row int) int { return size - 1 - row }

// RenderPNG renders and encodes a tile.
func (r *TileRenderer) RenderPNG(g *grid.Grid, bound float64) ([]byte, error) {
	return r.Encode(r.Render(g, bound))
}

// Encode writes img as PNG using pooled buffers.
func (r *TileRenderer) Encode(img image.Image) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, img); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// CreateEmptyTile creates a fully transparent tile.
func (r *TileRenderer) CreateEmptyTile() ([]byte, error) {
	size := r.config.TileSize
	if size <= 0 {
		size = 256
	}
	return r.Encode(image.NewNRGBA(image.Rect(0, 0, size, size)))
}
