package tile

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
)

// Cover enumerates every tile at zoom intersecting a lon/lat region.
// Latitudes are clamped to the Web Mercator limit. Tiles are ordered by row
// then column.
func Cover(region orb.Bound, zoom uint32) ([]Address, error) {
	if zoom > MaxZoom {
		return nil, fmt.Errorf("%w: zoom %d exceeds %d", ErrInvalidAddress, zoom, MaxZoom)
	}
	if region.Min.X() > region.Max.X() || region.Min.Y() > region.Max.Y() {
		return nil, fmt.Errorf("invalid region %v", region)
	}
	z := maptile.Zoom(zoom)
	lo := clampTile(maptile.At(clampPoint(orb.Point{region.Min.X(), region.Max.Y()}), z))
	hi := clampTile(maptile.At(clampPoint(orb.Point{region.Max.X(), region.Min.Y()}), z))

	out := make([]Address, 0, int(hi.X-lo.X+1)*int(hi.Y-lo.Y+1))
	for y := lo.Y; y <= hi.Y; y++ {
		for x := lo.X; x <= hi.X; x++ {
			out = append(out, Address{Z: zoom, X: x, Y: y})
		}
	}
	return out, nil
}

// CoverGeometry enumerates the tiles at zoom touched by a lon/lat geometry.
func CoverGeometry(g orb.Geometry, zoom uint32) ([]Address, error) {
	set, err := tilecover.Geometry(g, maptile.Zoom(zoom))
	if err != nil {
		return nil, fmt.Errorf("failed to cover geometry: %w", err)
	}
	out := make([]Address, 0, len(set))
	for t := range set {
		out = append(out, FromMapTile(t))
	}
	Sort(out)
	return out, nil
}

// Sort orders addresses by zoom, row and column.
func Sort(addrs []Address) {
	sort.Slice(addrs, func(i, j int) bool {
		a, b := addrs[i], addrs[j]
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
}

func clampPoint(p orb.Point) orb.Point {
	lon, lat := p.X(), p.Y()
	if lat > maxLat {
		lat = maxLat
	}
	if lat < -maxLat {
		lat = -maxLat
	}
	if lon < -180 {
		lon = -180
	}
	if lon > 180 {
		lon = 180
	}
	return orb.Point{lon, lat}
}

func clampTile(t maptile.Tile) maptile.Tile {
	last := uint32(uint64(1)<<t.Z - 1)
	if t.X > last {
		t.X = last
	}
	if t.Y > last {
		t.Y = last
	}
	return t
}
