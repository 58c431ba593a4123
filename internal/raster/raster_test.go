package raster

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/SiggyF/ais-shader/internal/grid"
)

var unit = orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{1, 1}}

func line(pts ...float64) Line {
	var ls orb.LineString
	for i := 0; i+1 < len(pts); i += 2 {
		ls = append(ls, orb.Point{pts[i], pts[i+1]})
	}
	return Line{Points: ls}
}

func TestCoverageRotationInvariant(t *testing.T) {
	w := 1 / math.Sqrt2
	cases := map[string]Line{
		"horizontal": line(-1, 0, 1, 0),
		"vertical":   line(0, -1, 0, 1),
		"diagonal":   line(-1, -1, 1, 1),
		"antidiag":   line(-1, 1, 1, -1),
	}
	var want float32
	first := true
	for name, l := range cases {
		g, err := Rasterize([]Line{l}, unit, 3, w)
		if err != nil {
			t.Fatalf("%s: Rasterize error = %v", name, err)
		}
		got := g.At(0, 1, 1)
		if first {
			want, first = got, false
			continue
		}
		if got != want {
			t.Fatalf("%s: centre coverage = %v, want %v", name, got, want)
		}
	}
	if math.Abs(float64(want)-w) > 1e-6 {
		t.Fatalf("centre coverage = %v, want %v", want, w)
	}
}

func TestCoverageHorizontalMatchesArea(t *testing.T) {
	// stroke of width 1.5 centred on row 1: neighbour rows each get 0.25
	g, err := Rasterize([]Line{line(-1, 0, 1, 0)}, unit, 3, 1.5)
	if err != nil {
		t.Fatalf("Rasterize error = %v", err)
	}
	if g.At(0, 1, 1) != 1 {
		t.Fatalf("centre = %v, want 1", g.At(0, 1, 1))
	}
	if math.Abs(float64(g.At(0, 1, 0))-0.25) > 1e-6 || math.Abs(float64(g.At(0, 1, 2))-0.25) > 1e-6 {
		t.Fatalf("neighbours = %v, %v, want 0.25", g.At(0, 1, 0), g.At(0, 1, 2))
	}
}

func TestStrokeJointsNotDoubleCounted(t *testing.T) {
	// polyline bending at the centre cell
	g, err := Rasterize([]Line{line(-1, 0, 0, 0, 0, 1)}, unit, 3, 0.5)
	if err != nil {
		t.Fatalf("Rasterize error = %v", err)
	}
	if g.At(0, 1, 1) != 0.5 {
		t.Fatalf("joint cell = %v, want 0.5", g.At(0, 1, 1))
	}
}

func TestStrokeContributionsSum(t *testing.T) {
	l := line(-1, 0, 1, 0)
	g, err := Rasterize([]Line{l, l, l}, unit, 3, 1)
	if err != nil {
		t.Fatalf("Rasterize error = %v", err)
	}
	if g.At(0, 1, 1) != 3 {
		t.Fatalf("centre = %v, want 3", g.At(0, 1, 1))
	}
}

func TestAliasedCountsDistinctLines(t *testing.T) {
	// the first line doubles back over the same cells
	lines := []Line{
		line(-0.9, 0, 0.9, 0, -0.9, 0.01),
		line(-0.9, -0.9, 0.9, 0.9),
	}
	g, err := Rasterize(lines, unit, 3, 0)
	if err != nil {
		t.Fatalf("Rasterize error = %v", err)
	}
	want := [3][3]float32{
		// row 0 (bottom), row 1, row 2 (top)
		{1, 0, 0},
		{1, 2, 1},
		{0, 0, 1},
	}
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			v := g.At(0, col, row)
			if v != want[row][col] {
				t.Fatalf("cell (%d,%d) = %v, want %v", col, row, v, want[row][col])
			}
			if v != float32(math.Trunc(float64(v))) {
				t.Fatalf("cell (%d,%d) = %v is not integral", col, row, v)
			}
		}
	}
}

func TestAliasedSteepLine(t *testing.T) {
	g, err := Rasterize([]Line{line(-0.9, -0.9, -0.8, 0.9)}, unit, 3, 0)
	if err != nil {
		t.Fatalf("Rasterize error = %v", err)
	}
	for row := 0; row < 3; row++ {
		if g.At(0, 0, row) != 1 {
			t.Fatalf("row %d = %v, want 1", row, g.At(0, 0, row))
		}
	}
	if g.Sum() != 3 {
		t.Fatalf("sum = %v, want 3", g.Sum())
	}
}

func TestTopAndRightEdgesExcluded(t *testing.T) {
	g, err := Rasterize([]Line{line(-1, 1, 1, 1)}, unit, 2, 0)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("line on top edge: grid %v, err %v, want ErrEmpty", g, err)
	}
	g, err = Rasterize([]Line{line(-1, -1, 1, -1)}, unit, 2, 0)
	if err != nil {
		t.Fatalf("line on bottom edge: err %v", err)
	}
	if g.Sum() != 2 {
		t.Fatalf("line on bottom edge: sum %v, want 2", g.Sum())
	}
}

func TestEmpty(t *testing.T) {
	_, err := Rasterize(nil, unit, 4, 1)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("nil lines err = %v, want ErrEmpty", err)
	}
	_, err = Rasterize([]Line{line(5, 5, 6, 6)}, unit, 4, 0)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("outside lines err = %v, want ErrEmpty", err)
	}
	_, err = Rasterize([]Line{line(5, 5, 6, 6)}, unit, 4, 1)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("outside stroke err = %v, want ErrEmpty", err)
	}
}

func TestCategories(t *testing.T) {
	cargo := line(-1, -0.5, 1, -0.5)
	cargo.Category, cargo.HasCategory = "Cargo", true
	tanker := line(-1, 0.5, 1, 0.5)
	tanker.Category, tanker.HasCategory = "Tanker", true
	plain := line(-1, 0.5, 1, 0.5)

	g, err := Rasterize([]Line{tanker, cargo, plain}, unit, 2, 0)
	if err != nil {
		t.Fatalf("Rasterize error = %v", err)
	}
	want := []string{"Cargo", "Tanker", grid.UnknownCategory}
	if len(g.Categories) != 3 {
		t.Fatalf("categories = %v, want %v", g.Categories, want)
	}
	for i := range want {
		if g.Categories[i] != want[i] {
			t.Fatalf("categories = %v, want %v", g.Categories, want)
		}
	}
	if g.At(0, 0, 0) != 1 || g.At(0, 0, 1) != 0 {
		t.Fatalf("cargo plane bled: %v", g.Data[0])
	}
	if g.At(1, 0, 1) != 1 || g.At(1, 0, 0) != 0 {
		t.Fatalf("tanker plane bled: %v", g.Data[1])
	}
}

func TestInvalidOptions(t *testing.T) {
	if _, err := Rasterize(nil, unit, 0, 0); err == nil {
		t.Fatalf("expected size error")
	}
	if _, err := Rasterize(nil, unit, 4, -1); err == nil {
		t.Fatalf("expected width error")
	}
	if _, err := Rasterize(nil, orb.Bound{}, 4, 0); err == nil {
		t.Fatalf("expected bbox error")
	}
}
