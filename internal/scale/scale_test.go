package scale

import (
	"context"
	"errors"
	"testing"

	"github.com/SiggyF/ais-shader/internal/grid"
	"github.com/SiggyF/ais-shader/internal/tile"
)

type memSource struct {
	grids map[tile.Address]*grid.Grid
	bad   map[tile.Address]bool
	reads int
}

func (m *memSource) Keys(zoom uint32) ([]tile.Address, error) {
	var out []tile.Address
	for a := range m.grids {
		if a.Z == zoom {
			out = append(out, a)
		}
	}
	for a := range m.bad {
		if a.Z == zoom {
			out = append(out, a)
		}
	}
	tile.Sort(out)
	return out, nil
}

func (m *memSource) Read(a tile.Address) (*grid.Grid, error) {
	m.reads++
	if m.bad[a] {
		return nil, errors.New("corrupt")
	}
	return m.grids[a], nil
}

func filled(size int, values ...float32) *grid.Grid {
	g := grid.New(size, nil)
	copy(g.Data[0], values)
	return g
}

func TestEstimatePercentile(t *testing.T) {
	values := make([]float32, 100)
	for i := range values {
		values[i] = float32(i + 1)
	}
	src := &memSource{grids: map[tile.Address]*grid.Grid{
		{Z: 1}: filled(10, values...),
	}}
	e := NewEstimator(src, Config{Seed: 1})
	got, err := e.Estimate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Estimate error = %v", err)
	}
	if got != 98 {
		t.Fatalf("Estimate = %v, want 98", got)
	}
}

func TestEstimateSumsCategories(t *testing.T) {
	g := grid.New(2, []string{"a", "b"})
	g.Set(0, 0, 0, 2)
	g.Set(1, 0, 0, 3)
	src := &memSource{grids: map[tile.Address]*grid.Grid{{Z: 0}: g}}
	got, err := NewEstimator(src, Config{Seed: 1}).Estimate(context.Background(), 0)
	if err != nil {
		t.Fatalf("Estimate error = %v", err)
	}
	if got != 5 {
		t.Fatalf("Estimate = %v, want 5", got)
	}
}

func TestEstimateFallback(t *testing.T) {
	src := &memSource{
		grids: map[tile.Address]*grid.Grid{{Z: 2, X: 1}: grid.New(4, nil)},
		bad:   map[tile.Address]bool{{Z: 2, X: 2}: true},
	}
	got, err := NewEstimator(src, Config{Seed: 1, Fallback: 1}).Estimate(context.Background(), 2)
	if err != nil {
		t.Fatalf("Estimate error = %v", err)
	}
	if got != 1 {
		t.Fatalf("Estimate = %v, want fallback 1", got)
	}

	got, err = NewEstimator(src, Config{Seed: 1}).Estimate(context.Background(), 7)
	if err != nil || got != 1 {
		t.Fatalf("empty level = %v, %v, want 1", got, err)
	}
}

func TestEstimateCapsTiles(t *testing.T) {
	grids := map[tile.Address]*grid.Grid{}
	for x := uint32(0); x < 8; x++ {
		grids[tile.Address{Z: 3, X: x}] = filled(2, 1)
	}
	src := &memSource{grids: grids}
	if _, err := NewEstimator(src, Config{MaxTiles: 3, Seed: 1}).Estimate(context.Background(), 3); err != nil {
		t.Fatalf("Estimate error = %v", err)
	}
	if src.reads != 3 {
		t.Fatalf("reads = %d, want 3", src.reads)
	}
}

func TestEstimateCapsSamples(t *testing.T) {
	grids := map[tile.Address]*grid.Grid{}
	for x := uint32(0); x < 4; x++ {
		grids[tile.Address{Z: 2, X: x}] = filled(2, 1, 1, 1, 1)
	}
	src := &memSource{grids: grids}
	if _, err := NewEstimator(src, Config{MaxSamples: 4, Seed: 1}).Estimate(context.Background(), 2); err != nil {
		t.Fatalf("Estimate error = %v", err)
	}
	if src.reads != 1 {
		t.Fatalf("reads = %d, want 1 once the sample buffer is full", src.reads)
	}
}

func TestPercentileSmallInput(t *testing.T) {
	// rank 2.94 averages the two highest values
	got, err := Percentile([]float64{3, 1, 2}, 98)
	if err != nil || got != 2.5 {
		t.Fatalf("Percentile = %v, %v, want 2.5", got, err)
	}
	// rank below the first element resolves to the maximum
	got, err = Percentile([]float64{7}, 98)
	if err != nil || got != 7 {
		t.Fatalf("Percentile = %v, %v, want 7", got, err)
	}
	if _, err := Percentile(nil, 98); err == nil {
		t.Fatalf("expected error for empty input")
	}
}
