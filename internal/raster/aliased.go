package raster

import "math"

// drawAliased counts every cell crossed by the line exactly once.
func (c *canvas) drawAliased(l *Line, pts []pt) {
	c.line++
	c.touched = c.touched[:0]
	visit := func(col, row int) {
		if col < 0 || row < 0 || col >= c.size || row >= c.size {
			return
		}
		i := row*c.size + col
		if c.stamp[i] == c.line {
			return
		}
		c.stamp[i] = c.line
		c.touched = append(c.touched, i)
	}

	if len(pts) == 1 {
		visit(int(math.Floor(pts[0].x)), int(math.Floor(pts[0].y)))
	}
	size := float64(c.size)
	for i := 1; i < len(pts); i++ {
		a, b, ok := clip(pts[i-1], pts[i], size)
		if !ok {
			continue
		}
		traverse(a, b, visit)
	}

	if len(c.touched) == 0 {
		return
	}
	p := c.plane(l)
	for _, i := range c.touched {
		p[i]++
	}
}

// traverse visits, in order, every cell the segment a-b passes through using
// an exact grid walk. A segment passing exactly through a cell corner steps
// diagonally.
func traverse(a, b pt, visit func(col, row int)) {
	col, row := int(math.Floor(a.x)), int(math.Floor(a.y))
	endCol, endRow := int(math.Floor(b.x)), int(math.Floor(b.y))
	dx, dy := b.x-a.x, b.y-a.y

	stepX, tMaxX, tDeltaX := axisStep(a.x, dx, col)
	stepY, tMaxY, tDeltaY := axisStep(a.y, dy, row)

	visit(col, row)
	n := abs(endCol-col) + abs(endRow-row)
	for n > 0 {
		switch {
		case tMaxX < tMaxY:
			col += stepX
			tMaxX += tDeltaX
			n--
		case tMaxY < tMaxX:
			row += stepY
			tMaxY += tDeltaY
			n--
		default:
			col += stepX
			row += stepY
			tMaxX += tDeltaX
			tMaxY += tDeltaY
			n -= 2
		}
		visit(col, row)
	}
}

// axisStep returns the step direction, the parametric distance to the first
// cell boundary and the parametric size of one cell along one axis.
func axisStep(start, delta float64, cell int) (int, float64, float64) {
	switch {
	case delta > 0:
		return 1, (float64(cell+1) - start) / delta, 1 / delta
	case delta < 0:
		return -1, (start - float64(cell)) / -delta, -1 / delta
	}
	return 0, math.Inf(1), math.Inf(1)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
