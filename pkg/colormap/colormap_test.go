package colormap

import (
	"image/color"
	"testing"
)

func TestRampEndpoints(t *testing.T) {
	t.Parallel()

	r, err := FromHex([]string{"#000000", "ffffff"}, 0.2, 1.0)
	if err != nil {
		t.Fatalf("FromHex error = %v", err)
	}
	if c := r.At(0); c != (color.NRGBA{R: 0, G: 0, B: 0, A: 51}) {
		t.Fatalf("unexpected At(0): %#v", c)
	}
	if c := r.At(1); c != (color.NRGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Fatalf("unexpected At(1): %#v", c)
	}
	if c := r.At(0.5); c.R != 128 || c.A != 153 {
		t.Fatalf("unexpected At(0.5): %#v", c)
	}
	if c := r.At(-3); c.A != 51 {
		t.Fatalf("At clamps below zero, got %#v", c)
	}
}

func TestRampValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewRamp([]color.NRGBA{{}}, 0, 1); err == nil {
		t.Fatalf("expected error for single color")
	}
	if _, err := FromHex([]string{"#00", "#fff"}, 0, 1); err == nil {
		t.Fatalf("expected error for short hex")
	}
	if _, err := FromHex([]string{"#000000", "#ffffff"}, 0.8, 0.2); err == nil {
		t.Fatalf("expected error for inverted alpha")
	}
	if _, err := Lookup("nope", 0, 1); err == nil {
		t.Fatalf("expected error for unknown name")
	}
}

func TestSubsetSkipsDarkEnd(t *testing.T) {
	t.Parallel()

	r, err := FromHex([]string{"#000000", "#ffffff"}, 0, 1)
	if err != nil {
		t.Fatalf("FromHex error = %v", err)
	}
	s := r.Subset(0.2, 1.0, 5)
	if c := s.At(0); c.R != 51 || c.A != 0 {
		t.Fatalf("subset start = %#v", c)
	}
	if c := s.At(1); c.R != 255 {
		t.Fatalf("subset end = %#v", c)
	}
}

func TestDefaultIsOslo(t *testing.T) {
	t.Parallel()

	d := Default()
	if d.MinAlpha() != 0.2 || d.MaxAlpha() != 1.0 {
		t.Fatalf("default alpha = %v..%v", d.MinAlpha(), d.MaxAlpha())
	}
	if c := d.At(1); c != (color.NRGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Fatalf("default top = %#v", c)
	}
	if len(d.Table(256)) != 256 {
		t.Fatalf("table length mismatch")
	}
	for _, n := range Names() {
		if _, err := Lookup(n, 0.2, 1); err != nil {
			t.Fatalf("Lookup(%q) error = %v", n, err)
		}
	}
}
