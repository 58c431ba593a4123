package render

import (
	"fmt"
	"image/color"

	"github.com/dustin/go-humanize"
	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/SiggyF/ais-shader/pkg/colormap"
)

// LegendConfig describes a horizontal colorbar.
type LegendConfig struct {
	Width    int
	Height   int
	Bound    float64
	LogScale bool
	Title    string
}

// Legend draws a colorbar for cmap over a checkerboard so the alpha ramp is
// visible, labelled with the value range.
func (r *TileRenderer) Legend(cmap colormap.Colormap, cfg LegendConfig) ([]byte, error) {
	if cfg.Width <= 0 {
		cfg.Width = 256
	}
	if cfg.Height <= 0 {
		cfg.Height = 48
	}
	if cmap == nil {
		cmap = r.config.Colormap
	}

	dc := gg.NewContext(cfg.Width, cfg.Height)
	dc.SetColor(color.White)
	dc.Clear()
	dc.SetFontFace(basicfont.Face7x13)

	const pad = 8.0
	barTop, barH := 16.0, float64(cfg.Height)-32
	barW := float64(cfg.Width) - 2*pad

	for x := 0.0; x < barW; x += 4 {
		for y := 0.0; y < barH; y += 4 {
			if int(x/4+y/4)%2 == 0 {
				dc.SetRGB(0.85, 0.85, 0.85)
				dc.DrawRectangle(pad+x, barTop+y, 4, 4)
				dc.Fill()
			}
		}
	}
	for i := 0; i < int(barW); i++ {
		t := float64(i) / (barW - 1)
		dc.SetColor(cmap.At(t))
		dc.DrawRectangle(pad+float64(i), barTop, 1, barH)
		dc.Fill()
	}

	dc.SetColor(color.Black)
	if cfg.Title != "" {
		dc.DrawStringAnchored(cfg.Title, float64(cfg.Width)/2, 8, 0.5, 0.5)
	}
	scaleName := "linear"
	if cfg.LogScale {
		scaleName = "log"
	}
	y := barTop + barH + 9
	dc.DrawStringAnchored("0", pad, y, 0, 0.5)
	dc.DrawStringAnchored(scaleName, float64(cfg.Width)/2, y, 0.5, 0.5)
	dc.DrawStringAnchored(formatBound(cfg.Bound), float64(cfg.Width)-pad, y, 1, 0.5)

	return r.Encode(dc.Image())
}

func formatBound(v float64) string {
	if v >= 1000 {
		return humanize.SIWithDigits(v, 1, "")
	}
	return fmt.Sprintf("%.3g", v)
}
