package raster

import "math"

// drawStroke accumulates the coverage of a round-capped stroke of c.width
// around the polyline. Within one line each cell keeps the largest coverage
// over the line's segments, so joints are not counted twice.
func (c *canvas) drawStroke(l *Line, pts []pt) {
	if c.cover == nil {
		c.cover = make([]float32, c.size*c.size)
	}
	c.touched = c.touched[:0]

	if len(pts) == 1 {
		c.strokeSegment(pts[0], pts[0])
	}
	for i := 1; i < len(pts); i++ {
		c.strokeSegment(pts[i-1], pts[i])
	}

	if len(c.touched) == 0 {
		return
	}
	p := c.plane(l)
	for _, i := range c.touched {
		p[i] += c.cover[i]
		c.cover[i] = 0
	}
}

// strokeSegment visits every cell whose centre lies within reach of the
// segment and records its coverage.
func (c *canvas) strokeSegment(a, b pt) {
	half := c.width / 2
	reach := half + 0.5

	lo := int(math.Floor(math.Min(a.y, b.y) - reach))
	hi := int(math.Ceil(math.Max(a.y, b.y) + reach))
	if lo < 0 {
		lo = 0
	}
	if hi > c.size-1 {
		hi = c.size - 1
	}
	dx, dy := b.x-a.x, b.y-a.y

	for row := lo; row <= hi; row++ {
		yc := float64(row) + 0.5
		// part of the segment within reach of this row's centre line
		t0, t1 := 0.0, 1.0
		if dy != 0 {
			t0 = (yc - reach - a.y) / dy
			t1 = (yc + reach - a.y) / dy
			if t0 > t1 {
				t0, t1 = t1, t0
			}
			t0 = math.Max(t0, 0)
			t1 = math.Min(t1, 1)
			if t0 > t1 {
				continue
			}
		} else if math.Abs(a.y-yc) > reach {
			continue
		}
		x0, x1 := a.x+t0*dx, a.x+t1*dx
		if x0 > x1 {
			x0, x1 = x1, x0
		}
		first := int(math.Floor(x0 - reach))
		last := int(math.Ceil(x1 + reach))
		if first < 0 {
			first = 0
		}
		if last > c.size-1 {
			last = c.size - 1
		}
		for col := first; col <= last; col++ {
			d := segmentDistance(float64(col)+0.5, yc, a, b)
			v := float32(Coverage(d, c.width))
			if v <= 0 {
				continue
			}
			i := row*c.size + col
			if c.cover[i] == 0 {
				c.touched = append(c.touched, i)
			}
			if v > c.cover[i] {
				c.cover[i] = v
			}
		}
	}
}

// Coverage is the fraction of a unit cell covered by a stroke of width w
// whose centre line passes at distance d from the cell centre, measured
// across the stroke. It depends on d only, so a cell centred on a line gets
// min(w, 1) whatever the line's direction.
func Coverage(d, w float64) float64 {
	d = math.Abs(d)
	v := math.Min(d+w/2, 0.5) - math.Max(d-w/2, -0.5)
	if v <= 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// segmentDistance is the Euclidean distance from (x, y) to segment a-b.
func segmentDistance(x, y float64, a, b pt) float64 {
	dx, dy := b.x-a.x, b.y-a.y
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return math.Hypot(x-a.x, y-a.y)
	}
	t := ((x-a.x)*dx + (y-a.y)*dy) / l2
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return math.Hypot(x-(a.x+t*dx), y-(a.y+t*dy))
}
