// Package colormap provides continuous color ramps with an alpha ramp for
// density rendering.
package colormap

import (
	"fmt"
	"image/color"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Colormap maps normalized values [0, 1] to colors.
type Colormap interface {
	At(t float64) color.NRGBA
}

// Ramp interpolates linearly between color stops. Alpha runs linearly from
// MinAlpha at t=0 to MaxAlpha at t=1, independent of the stop colors.
type Ramp struct {
	colors   []color.NRGBA
	minAlpha float64
	maxAlpha float64
}

// NewRamp creates a ramp from at least two colors. Alphas are in [0, 1].
func NewRamp(colors []color.NRGBA, minAlpha, maxAlpha float64) (Ramp, error) {
	if len(colors) < 2 {
		return Ramp{}, fmt.Errorf("colormap needs at least 2 colors, got %d", len(colors))
	}
	if minAlpha < 0 || maxAlpha > 1 || minAlpha > maxAlpha {
		return Ramp{}, fmt.Errorf("invalid alpha ramp %v..%v", minAlpha, maxAlpha)
	}
	return Ramp{
		colors:   append([]color.NRGBA{}, colors...),
		minAlpha: minAlpha,
		maxAlpha: maxAlpha,
	}, nil
}

// FromHex parses "#rrggbb" or "rrggbb" strings into a ramp.
func FromHex(hexes []string, minAlpha, maxAlpha float64) (Ramp, error) {
	colors := make([]color.NRGBA, 0, len(hexes))
	for _, h := range hexes {
		c, err := parseHex(h)
		if err != nil {
			return Ramp{}, err
		}
		colors = append(colors, c)
	}
	return NewRamp(colors, minAlpha, maxAlpha)
}

func parseHex(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// At returns the color at position t (0-1).
func (r Ramp) At(t float64) color.NRGBA {
	if math.IsNaN(t) || t <= 0 {
		t = 0
	} else if t >= 1 {
		t = 1
	}

	idx := t * float64(len(r.colors)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(r.colors) {
		upper = len(r.colors) - 1
	}
	c := interpolate(r.colors[lower], r.colors[upper], idx-float64(lower))
	c.A = uint8(math.Round(255 * (r.minAlpha + t*(r.maxAlpha-r.minAlpha))))
	return c
}

// Subset resamples the [lo, hi] portion of the ramp into n evenly spaced
// stops, keeping the alpha ramp.
func (r Ramp) Subset(lo, hi float64, n int) Ramp {
	if n < 2 {
		n = 2
	}
	out := make([]color.NRGBA, n)
	for i := range out {
		t := lo + (hi-lo)*float64(i)/float64(n-1)
		c := r.rgb(t)
		out[i] = c
	}
	return Ramp{colors: out, minAlpha: r.minAlpha, maxAlpha: r.maxAlpha}
}

// WithAlpha returns a copy of the ramp with a new alpha range.
func (r Ramp) WithAlpha(minAlpha, maxAlpha float64) (Ramp, error) {
	return NewRamp(r.colors, minAlpha, maxAlpha)
}

// MinAlpha is the alpha at t=0.
func (r Ramp) MinAlpha() float64 { return r.minAlpha }

// MaxAlpha is the alpha at t=1.
func (r Ramp) MaxAlpha() float64 { return r.maxAlpha }

// Table samples the ramp at n evenly spaced points.
func (r Ramp) Table(n int) []color.NRGBA {
	out := make([]color.NRGBA, n)
	for i := range out {
		out[i] = r.At(float64(i) / float64(n-1))
	}
	return out
}

func (r Ramp) rgb(t float64) color.NRGBA {
	c := Ramp{colors: r.colors, maxAlpha: 1, minAlpha: 1}.At(t)
	c.A = 255
	return c
}

func interpolate(c1, c2 color.NRGBA, t float64) color.NRGBA {
	lerp := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + t*(float64(b)-float64(a))))
	}
	return color.NRGBA{R: lerp(c1.R, c2.R), G: lerp(c1.G, c2.G), B: lerp(c1.B, c2.B), A: 255}
}

var named = map[string][]color.NRGBA{
	"viridis": viridis,
	"plasma":  plasma,
	"inferno": inferno,
	"magma":   magma,
	"oslo":    oslo,
	"fire":    fire,
}

// Names lists the built-in colormaps.
func Names() []string {
	out := make([]string, 0, len(named))
	for k := range named {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup returns a built-in ramp by name with the given alpha range.
func Lookup(name string, minAlpha, maxAlpha float64) (Ramp, error) {
	stops, ok := named[strings.ToLower(name)]
	if !ok {
		return Ramp{}, fmt.Errorf("unknown colormap %q", name)
	}
	return NewRamp(stops, minAlpha, maxAlpha)
}

// Default is the oslo ramp from 20% lightness with alpha from 0.2 to 1.
func Default() Ramp {
	r, _ := Lookup("oslo", 0.2, 1.0)
	return r.Subset(0.2, 1.0, 256)
}

var viridis = []color.NRGBA{
	{68, 1, 84, 255},
	{72, 35, 116, 255},
	{64, 67, 135, 255},
	{52, 94, 141, 255},
	{41, 120, 142, 255},
	{32, 144, 140, 255},
	{34, 167, 132, 255},
	{68, 190, 112, 255},
	{121, 209, 81, 255},
	{189, 222, 38, 255},
	{253, 231, 37, 255},
}

var plasma = []color.NRGBA{
	{13, 8, 135, 255},
	{75, 3, 161, 255},
	{125, 3, 168, 255},
	{168, 34, 150, 255},
	{203, 70, 121, 255},
	{229, 107, 93, 255},
	{248, 148, 65, 255},
	{253, 195, 40, 255},
	{240, 249, 33, 255},
}

var inferno = []color.NRGBA{
	{0, 0, 4, 255},
	{40, 11, 84, 255},
	{101, 21, 110, 255},
	{159, 42, 99, 255},
	{212, 72, 66, 255},
	{245, 125, 21, 255},
	{250, 193, 39, 255},
	{252, 255, 164, 255},
}

var magma = []color.NRGBA{
	{0, 0, 4, 255},
	{28, 16, 68, 255},
	{79, 18, 123, 255},
	{129, 37, 129, 255},
	{181, 54, 122, 255},
	{229, 80, 100, 255},
	{251, 135, 97, 255},
	{254, 194, 135, 255},
	{252, 253, 191, 255},
}

// oslo approximates the Crameri scientific colour map of the same name.
var oslo = []color.NRGBA{
	{1, 1, 1, 255},
	{11, 23, 38, 255},
	{19, 46, 76, 255},
	{31, 72, 119, 255},
	{54, 101, 163, 255},
	{95, 129, 190, 255},
	{137, 153, 197, 255},
	{183, 190, 207, 255},
	{255, 255, 255, 255},
}

var fire = []color.NRGBA{
	{0, 0, 0, 255},
	{128, 0, 0, 255},
	{255, 64, 0, 255},
	{255, 160, 0, 255},
	{255, 255, 128, 255},
	{255, 255, 255, 255},
}
