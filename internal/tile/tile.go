// Package tile addresses web-map tiles in the WebMercatorQuad scheme and
// derives their projected (EPSG:3857) extents.
package tile

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxZoom is the deepest zoom level an Address may carry.
const MaxZoom = 30

// OriginShift is half the equatorial circumference of the EPSG:3857 plane.
const OriginShift = 20037508.342789244

// ErrInvalidAddress is returned when x or y fall outside [0, 2^z).
var ErrInvalidAddress = errors.New("invalid tile address")

// Address identifies a tile by zoom and column/row. Row 0 is the northern edge.
type Address struct {
	Z uint32 `json:"z"`
	X uint32 `json:"x"`
	Y uint32 `json:"y"`
}

// New validates and returns an Address.
func New(z, x, y uint32) (Address, error) {
	a := Address{Z: z, X: x, Y: y}
	if err := a.Validate(); err != nil {
		return Address{}, err
	}
	return a, nil
}

// Validate checks 0 <= x,y < 2^z.
func (a Address) Validate() error {
	if a.Z > MaxZoom {
		return fmt.Errorf("%w: zoom %d exceeds %d", ErrInvalidAddress, a.Z, MaxZoom)
	}
	n := uint64(1) << a.Z
	if uint64(a.X) >= n || uint64(a.Y) >= n {
		return fmt.Errorf("%w: %d/%d/%d", ErrInvalidAddress, a.Z, a.X, a.Y)
	}
	return nil
}

// Parent returns the tile one zoom level up. ok is false at zoom 0.
func (a Address) Parent() (Address, bool) {
	if a.Z == 0 {
		return Address{}, false
	}
	return FromMapTile(a.MapTile().Parent()), true
}

// Children returns the four tiles one zoom level down in the order
// top-left, top-right, bottom-left, bottom-right.
func (a Address) Children() [4]Address {
	var out [4]Address
	for _, t := range a.MapTile().Children() {
		c := FromMapTile(t)
		out[c.Quadrant()] = c
	}
	return out
}

// Quadrant is the position of a child tile within its parent.
type Quadrant int

const (
	TopLeft Quadrant = iota
	TopRight
	BottomLeft
	BottomRight
)

func (q Quadrant) String() string {
	switch q {
	case TopLeft:
		return "top-left"
	case TopRight:
		return "top-right"
	case BottomLeft:
		return "bottom-left"
	case BottomRight:
		return "bottom-right"
	}
	return "quadrant(" + strconv.Itoa(int(q)) + ")"
}

// IsRight reports whether the quadrant lies in the eastern half.
func (q Quadrant) IsRight() bool { return q == TopRight || q == BottomRight }

// IsBottom reports whether the quadrant lies in the southern half.
func (q Quadrant) IsBottom() bool { return q == BottomLeft || q == BottomRight }

// Quadrant derives the child position from (x mod 2, y mod 2).
func (a Address) Quadrant() Quadrant {
	return Quadrant(int(a.Y%2)*2 + int(a.X%2))
}

// Key is the store key of the tile, tile_{z}_{x}_{y}.
func (a Address) Key() string {
	return fmt.Sprintf("tile_%d_%d_%d", a.Z, a.X, a.Y)
}

// Path is the image path of the tile, {z}/{x}/{y}.
func (a Address) Path() string {
	return fmt.Sprintf("%d/%d/%d", a.Z, a.X, a.Y)
}

func (a Address) String() string { return a.Path() }

// ParseKey is the inverse of Key. A trailing ".zarr" suffix is accepted.
func ParseKey(key string) (Address, error) {
	key = strings.TrimSuffix(key, ".zarr")
	parts := strings.Split(key, "_")
	if len(parts) != 4 || parts[0] != "tile" {
		return Address{}, fmt.Errorf("%w: malformed key %q", ErrInvalidAddress, key)
	}
	var v [3]uint32
	for i, p := range parts[1:] {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return Address{}, fmt.Errorf("%w: malformed key %q", ErrInvalidAddress, key)
		}
		v[i] = uint32(n)
	}
	return New(v[0], v[1], v[2])
}

// Size is the edge length of a tile at zoom z in projected metres.
func Size(z uint32) float64 {
	return 2 * OriginShift / float64(uint64(1)<<z)
}

// Bounds is the EPSG:3857 extent of the tile.
func (a Address) Bounds() orb.Bound {
	size := Size(a.Z)
	minX := -OriginShift + float64(a.X)*size
	maxY := OriginShift - float64(a.Y)*size
	return orb.Bound{
		Min: orb.Point{minX, maxY - size},
		Max: orb.Point{minX + size, maxY},
	}
}

// Transform maps grid cells to projected coordinates for a tile of S×S cells.
// It follows the GDAL geotransform layout anchored at the top-left corner.
type Transform struct {
	OriginX  float64
	OriginY  float64
	CellSize float64
}

// Transform derives the affine transform for an S×S grid over the tile.
func (a Address) Transform(size int) Transform {
	b := a.Bounds()
	return Transform{
		OriginX:  b.Min.X(),
		OriginY:  b.Max.Y(),
		CellSize: (b.Max.X() - b.Min.X()) / float64(size),
	}
}

// GDAL returns the six-element geotransform.
func (t Transform) GDAL() [6]float64 {
	return [6]float64{t.OriginX, t.CellSize, 0, t.OriginY, 0, -t.CellSize}
}

// CellBounds returns the extent of the cell at col and row, where row 0 is
// the southern (bottom) row of an S×S grid.
func (t Transform) CellBounds(size, col, row int) orb.Bound {
	minX := t.OriginX + float64(col)*t.CellSize
	minY := t.OriginY - float64(size-row)*t.CellSize
	return orb.Bound{
		Min: orb.Point{minX, minY},
		Max: orb.Point{minX + t.CellSize, minY + t.CellSize},
	}
}

// FromMapTile converts an orb maptile.
func FromMapTile(t maptile.Tile) Address {
	return Address{Z: uint32(t.Z), X: t.X, Y: t.Y}
}

// MapTile converts to an orb maptile.
func (a Address) MapTile() maptile.Tile {
	return maptile.New(a.X, a.Y, maptile.Zoom(a.Z))
}

// LonLatBounds is the WGS84 extent of the tile.
func (a Address) LonLatBounds() orb.Bound {
	return a.MapTile().Bound()
}

// maxLat is the latitude limit of the Web Mercator plane.
var maxLat = 180 / math.Pi * math.Atan(math.Sinh(math.Pi))
