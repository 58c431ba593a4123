// Package grid holds the dense per-tile density arrays produced by the
// rasterizer and the pyramid builder.
//
// A Grid stores one Size×Size plane per category. Planes are row-major with
// row 0 at the southern edge of the tile, so the vertical axis increases
// upward like the projected coordinates it was built from.
package grid

import (
	"fmt"
	"math"
	"sort"
)

// Grid is a density grid with an optional category axis. A nil Categories
// slice means a single implicit category and exactly one plane.
type Grid struct {
	Size       int
	Categories []string
	Data       [][]float32
}

// New allocates a zero-filled grid.
func New(size int, categories []string) *Grid {
	planes := 1
	if categories != nil {
		planes = len(categories)
	}
	g := &Grid{Size: size, Data: make([][]float32, planes)}
	if categories != nil {
		g.Categories = append([]string{}, categories...)
	}
	for i := range g.Data {
		g.Data[i] = make([]float32, size*size)
	}
	return g
}

// HasCategoryAxis reports whether the grid carries category labels.
func (g *Grid) HasCategoryAxis() bool { return g.Categories != nil }

// Index returns the plane index of a category label, or -1.
func (g *Grid) Index(category string) int {
	for i, c := range g.Categories {
		if c == category {
			return i
		}
	}
	return -1
}

func (g *Grid) offset(col, row int) int { return row*g.Size + col }

// At returns the value of plane c at (col, row).
func (g *Grid) At(c, col, row int) float32 { return g.Data[c][g.offset(col, row)] }

// Set assigns plane c at (col, row).
func (g *Grid) Set(c, col, row int, v float32) { g.Data[c][g.offset(col, row)] = v }

// Add accumulates into plane c at (col, row).
func (g *Grid) Add(c, col, row int, v float32) { g.Data[c][g.offset(col, row)] += v }

// Validate checks the plane count and plane lengths against Size.
func (g *Grid) Validate() error {
	if g.Size <= 0 {
		return fmt.Errorf("invalid grid size %d", g.Size)
	}
	want := 1
	if g.Categories != nil {
		want = len(g.Categories)
	}
	if len(g.Data) != want {
		return fmt.Errorf("grid has %d planes for %d categories", len(g.Data), want)
	}
	for i, p := range g.Data {
		if len(p) != g.Size*g.Size {
			return fmt.Errorf("plane %d has %d cells, want %d", i, len(p), g.Size*g.Size)
		}
	}
	return nil
}

// Flatten sums the category axis away.
func (g *Grid) Flatten() []float32 {
	out := make([]float32, g.Size*g.Size)
	for _, p := range g.Data {
		for i, v := range p {
			out[i] += v
		}
	}
	return out
}

// Sum is the total mass of the grid across all categories.
func (g *Grid) Sum() float64 {
	var s float64
	for _, p := range g.Data {
		for _, v := range p {
			s += float64(v)
		}
	}
	return s
}

// Max is the largest flattened cell value.
func (g *Grid) Max() float32 {
	var m float32
	for _, v := range g.Flatten() {
		if v > m {
			m = v
		}
	}
	return m
}

// IsZero reports whether every cell is zero.
func (g *Grid) IsZero() bool {
	for _, p := range g.Data {
		for _, v := range p {
			if v != 0 {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	c := New(g.Size, g.Categories)
	for i, p := range g.Data {
		copy(c.Data[i], p)
	}
	return c
}

// UnknownCategory labels counts without a category inside a categorised grid.
const UnknownCategory = "Unknown"

// CategorySet is a sorted, duplicate free list of category labels.
type CategorySet []string

// Index returns the position of label in the set, or -1.
func (s CategorySet) Index(label string) int {
	i := sort.SearchStrings(s, label)
	if i < len(s) && s[i] == label {
		return i
	}
	return -1
}

// With returns a new set that also contains label.
func (s CategorySet) With(label string) CategorySet {
	if s.Index(label) >= 0 {
		return s
	}
	out := append(CategorySet{}, s...)
	out = append(out, label)
	sort.Strings(out)
	return out
}

// Union collects the labels of every non-nil grid into a canonical set.
// The result is nil when no grid carries a category axis.
func Union(grids ...*Grid) CategorySet {
	seen := map[string]struct{}{}
	found := false
	for _, g := range grids {
		if g == nil || !g.HasCategoryAxis() {
			continue
		}
		found = true
		for _, c := range g.Categories {
			seen[c] = struct{}{}
		}
	}
	if !found {
		return nil
	}
	out := make(CategorySet, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Reindex returns a new grid whose planes follow set. Categories absent from
// g are zero-filled. A grid without a category axis can only be reindexed
// onto a nil set.
func Reindex(g *Grid, set CategorySet) (*Grid, error) {
	if set == nil {
		if g.HasCategoryAxis() {
			return nil, fmt.Errorf("cannot drop category axis %v", g.Categories)
		}
		return g.Clone(), nil
	}
	if !g.HasCategoryAxis() {
		return nil, fmt.Errorf("grid without category axis cannot be aligned to %v", []string(set))
	}
	out := New(g.Size, set)
	pos := make(map[string]int, len(set))
	for i, c := range set {
		pos[c] = i
	}
	for i, c := range g.Categories {
		j, ok := pos[c]
		if !ok {
			return nil, fmt.Errorf("category %q not in target set", c)
		}
		copy(out.Data[j], g.Data[i])
	}
	return out, nil
}

// Coarsen sums non-overlapping 2×2 blocks into a grid of half the size. A
// trailing odd row or column is dropped.
func Coarsen(g *Grid) *Grid {
	half := g.Size / 2
	out := New(half, g.Categories)
	for c, p := range g.Data {
		dst := out.Data[c]
		for r := 0; r < half; r++ {
			src0 := p[(2*r)*g.Size:]
			src1 := p[(2*r+1)*g.Size:]
			for col := 0; col < half; col++ {
				dst[r*half+col] = src0[2*col] + src0[2*col+1] + src1[2*col] + src1[2*col+1]
			}
		}
	}
	return out
}

// Equal compares two grids cell by cell within tol.
func Equal(a, b *Grid, tol float64) bool {
	if a.Size != b.Size || len(a.Data) != len(b.Data) || len(a.Categories) != len(b.Categories) {
		return false
	}
	for i := range a.Categories {
		if a.Categories[i] != b.Categories[i] {
			return false
		}
	}
	for i := range a.Data {
		for j := range a.Data[i] {
			if math.Abs(float64(a.Data[i][j]-b.Data[i][j])) > tol {
				return false
			}
		}
	}
	return true
}
