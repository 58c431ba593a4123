package pyramid

import (
	"errors"
	"reflect"
	"testing"

	"github.com/SiggyF/ais-shader/internal/grid"
	"github.com/SiggyF/ais-shader/internal/tile"
)

func ones(size int) *grid.Grid {
	g := grid.New(size, nil)
	for i := range g.Data[0] {
		g.Data[0][i] = 1
	}
	return g
}

func TestFourChildrenAggregate(t *testing.T) {
	parent := tile.Address{}
	var kids []Child
	for _, a := range parent.Children() {
		kids = append(kids, Child{Addr: a, Grid: ones(2)})
	}
	g, err := BuildParent(parent, kids)
	if err != nil {
		t.Fatalf("BuildParent error = %v", err)
	}
	if g.Size != 2 || g.HasCategoryAxis() {
		t.Fatalf("parent size %d categories %v", g.Size, g.Categories)
	}
	for row := 0; row < 2; row++ {
		for col := 0; col < 2; col++ {
			if g.At(0, col, row) != 4 {
				t.Fatalf("cell (%d,%d) = %v, want 4", col, row, g.At(0, col, row))
			}
		}
	}
	if g.Sum() != 16 {
		t.Fatalf("sum = %v, want 16", g.Sum())
	}
}

func TestQuadrantPlacement(t *testing.T) {
	parent := tile.Address{Z: 1, X: 1, Y: 1}
	kids := parent.Children()
	var in []Child
	for i, a := range kids {
		g := grid.New(4, nil)
		for j := range g.Data[0] {
			g.Data[0][j] = float32(i + 1)
		}
		in = append(in, Child{Addr: a, Grid: g})
	}
	g, err := BuildParent(parent, in)
	if err != nil {
		t.Fatalf("BuildParent error = %v", err)
	}
	// rows are bottom-up: the top-left child lands in the upper-left block
	checks := []struct {
		col, row int
		want     float32
	}{
		{0, 3, 4},  // top-left, value 1 * 4
		{3, 3, 8},  // top-right
		{0, 0, 12}, // bottom-left
		{3, 0, 16}, // bottom-right
	}
	for _, c := range checks {
		if got := g.At(0, c.col, c.row); got != c.want {
			t.Fatalf("cell (%d,%d) = %v, want %v", c.col, c.row, got, c.want)
		}
	}
}

func TestCategoryUnion(t *testing.T) {
	parent := tile.Address{}
	kids := parent.Children()
	a := grid.New(2, []string{"Cargo"})
	a.Set(0, 0, 0, 5)
	b := grid.New(2, []string{"Tanker"})
	b.Set(0, 0, 0, 3)

	g, err := BuildParent(parent, []Child{{Addr: kids[0], Grid: a}, {Addr: kids[1], Grid: b}})
	if err != nil {
		t.Fatalf("BuildParent error = %v", err)
	}
	if !reflect.DeepEqual(g.Categories, []string{"Cargo", "Tanker"}) {
		t.Fatalf("categories = %v", g.Categories)
	}
	// kids[0] is top-left: coarse cell (0,1); kids[1] is top-right: (1,1)
	if g.At(0, 0, 1) != 5 || g.At(1, 0, 1) != 0 {
		t.Fatalf("cargo leaked: cargo=%v tanker=%v", g.At(0, 0, 1), g.At(1, 0, 1))
	}
	if g.At(1, 1, 1) != 3 || g.At(0, 1, 1) != 0 {
		t.Fatalf("tanker leaked: cargo=%v tanker=%v", g.At(0, 1, 1), g.At(1, 1, 1))
	}
}

func TestMixedImplicitChildUsesUnknown(t *testing.T) {
	parent := tile.Address{}
	kids := parent.Children()
	a := grid.New(2, []string{"Cargo"})
	a.Set(0, 0, 0, 1)
	g, err := BuildParent(parent, []Child{{Addr: kids[0], Grid: a}, {Addr: kids[3], Grid: ones(2)}})
	if err != nil {
		t.Fatalf("BuildParent error = %v", err)
	}
	if !reflect.DeepEqual(g.Categories, []string{"Cargo", grid.UnknownCategory}) {
		t.Fatalf("categories = %v", g.Categories)
	}
	if g.Sum() != 5 {
		t.Fatalf("sum = %v, want 5", g.Sum())
	}
}

func TestMassConservation(t *testing.T) {
	parent := tile.Address{Z: 2, X: 1, Y: 2}
	var in []Child
	var total float64
	for i, a := range parent.Children() {
		g := grid.New(8, []string{"a", "b"}[:1+i%2])
		for k := range g.Data {
			for j := range g.Data[k] {
				g.Data[k][j] = float32((j*7+i+k)%5) * 0.5
			}
		}
		total += g.Sum()
		in = append(in, Child{Addr: a, Grid: g})
	}
	g, err := BuildParent(parent, in)
	if err != nil {
		t.Fatalf("BuildParent error = %v", err)
	}
	if g.Sum() != total {
		t.Fatalf("parent sum = %v, children sum = %v", g.Sum(), total)
	}
}

func TestMissingChildrenSkipped(t *testing.T) {
	parent := tile.Address{}
	kids := parent.Children()
	g, err := BuildParent(parent, []Child{{Addr: kids[0]}, {Addr: kids[2], Grid: ones(2)}})
	if err != nil {
		t.Fatalf("BuildParent error = %v", err)
	}
	if g.Sum() != 4 {
		t.Fatalf("sum = %v, want 4", g.Sum())
	}

	_, err = BuildParent(parent, []Child{{Addr: kids[0]}})
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
	_, err = BuildParent(parent, nil)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
}

func TestRejectsForeignChild(t *testing.T) {
	parent := tile.Address{Z: 1}
	_, err := BuildParent(parent, []Child{{Addr: tile.Address{Z: 2, X: 3, Y: 3}, Grid: ones(2)}})
	if err == nil {
		t.Fatalf("expected error for foreign child")
	}
}

func TestGroupByParent(t *testing.T) {
	in := []tile.Address{{Z: 2, X: 0, Y: 0}, {Z: 2, X: 1, Y: 1}, {Z: 2, X: 2, Y: 0}, {Z: 0}}
	groups := GroupByParent(in)
	if len(groups) != 2 {
		t.Fatalf("groups = %v", groups)
	}
	if len(groups[tile.Address{Z: 1}]) != 2 {
		t.Fatalf("group 1/0/0 = %v", groups[tile.Address{Z: 1}])
	}
	ps := Parents(in)
	if len(ps) != 2 || ps[0] != (tile.Address{Z: 1}) || ps[1] != (tile.Address{Z: 1, X: 1}) {
		t.Fatalf("Parents = %v", ps)
	}
}
