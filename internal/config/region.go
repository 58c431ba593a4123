package config

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Region returns the configured bbox as a lon/lat bound.
func (c *Config) Region() (orb.Bound, error) {
	return ParseBBox(c.Visualization.BBox)
}

// ParseBBox converts west, south, east, north into a bound.
func ParseBBox(v []float64) (orb.Bound, error) {
	if len(v) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox needs 4 values, got %d", len(v))
	}
	w, s, e, n := v[0], v[1], v[2], v[3]
	if w >= e || s >= n {
		return orb.Bound{}, fmt.Errorf("invalid bbox %v", v)
	}
	if w < -180 || e > 180 || s < -90 || n > 90 {
		return orb.Bound{}, fmt.Errorf("bbox %v outside lon/lat range", v)
	}
	return orb.Bound{Min: orb.Point{w, s}, Max: orb.Point{e, n}}, nil
}
