// Package pyramid aggregates four child tile grids into their parent by
// 2×2 block summation.
package pyramid

import (
	"errors"
	"fmt"

	"github.com/SiggyF/ais-shader/internal/grid"
	"github.com/SiggyF/ais-shader/internal/tile"
)

// ErrEmpty is returned when none of a parent's children carried data.
var ErrEmpty = errors.New("no children with data")

// Child is one input to BuildParent. A nil Grid marks a child whose data
// could not be read; it is skipped.
type Child struct {
	Addr tile.Address
	Grid *grid.Grid
}

// GroupByParent buckets addresses by their parent. Zoom 0 addresses are
// ignored.
func GroupByParent(children []tile.Address) map[tile.Address][]tile.Address {
	out := make(map[tile.Address][]tile.Address)
	for _, c := range children {
		p, ok := c.Parent()
		if !ok {
			continue
		}
		out[p] = append(out[p], c)
	}
	return out
}

// Parents returns the distinct parents of children in tile order.
func Parents(children []tile.Address) []tile.Address {
	groups := GroupByParent(children)
	out := make([]tile.Address, 0, len(groups))
	for p := range groups {
		out = append(out, p)
	}
	tile.Sort(out)
	return out
}

// BuildParent coarsens each child onto the canonical category set of the
// group and writes it into the child's quadrant of a new parent grid.
//
// Grids are stored bottom-up, so northern children (even y) fill the upper
// half of the rows.
func BuildParent(parent tile.Address, children []Child) (*grid.Grid, error) {
	size := 0
	usable := make([]*grid.Grid, 0, len(children))
	for _, c := range children {
		p, ok := c.Addr.Parent()
		if !ok || p != parent {
			return nil, fmt.Errorf("tile %s is not a child of %s", c.Addr, parent)
		}
		if c.Grid == nil {
			continue
		}
		if size == 0 {
			size = c.Grid.Size
		} else if c.Grid.Size != size {
			return nil, fmt.Errorf("child %s has size %d, want %d", c.Addr, c.Grid.Size, size)
		}
		usable = append(usable, c.Grid)
	}
	if len(usable) == 0 {
		return nil, ErrEmpty
	}
	if size%2 != 0 {
		return nil, fmt.Errorf("tile size %d is not divisible by 2", size)
	}

	set := grid.Union(usable...)
	if set != nil {
		for _, g := range usable {
			if !g.HasCategoryAxis() {
				set = set.With(grid.UnknownCategory)
				break
			}
		}
	}
	out := grid.New(size, set)
	half := size / 2

	for _, c := range children {
		if c.Grid == nil {
			continue
		}
		var aligned *grid.Grid
		var err error
		if set == nil || !c.Grid.HasCategoryAxis() {
			aligned, err = alignImplicit(c.Grid, set)
		} else {
			aligned, err = grid.Reindex(c.Grid, set)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to align %s: %w", c.Addr, err)
		}
		small := grid.Coarsen(aligned)

		q := c.Addr.Quadrant()
		col0, row0 := 0, half
		if q.IsRight() {
			col0 = half
		}
		if q.IsBottom() {
			row0 = 0
		}
		for k := range small.Data {
			src, dst := small.Data[k], out.Data[k]
			for r := 0; r < half; r++ {
				copy(dst[(row0+r)*size+col0:(row0+r)*size+col0+half], src[r*half:(r+1)*half])
			}
		}
	}
	return out, nil
}

// alignImplicit places an uncategorised child inside a categorised group
// under grid.UnknownCategory.
func alignImplicit(g *grid.Grid, set grid.CategorySet) (*grid.Grid, error) {
	if set == nil {
		return g, nil
	}
	i := set.Index(grid.UnknownCategory)
	if i < 0 {
		return nil, fmt.Errorf("uncategorised child cannot join categories %v", []string(set))
	}
	out := grid.New(g.Size, set)
	copy(out.Data[i], g.Flatten())
	return out, nil
}
