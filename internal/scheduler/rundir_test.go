package scheduler

import (
	"path/filepath"
	"testing"
	"time"
)

func TestPrepareRunDir(t *testing.T) {
	out := t.TempDir()
	now := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

	dir, err := PrepareRunDir(out, "", now)
	if err != nil {
		t.Fatalf("PrepareRunDir error = %v", err)
	}
	if want := filepath.Join(out, "run_20240305_140709"); dir != want {
		t.Fatalf("dir = %q, want %q", dir, want)
	}

	resumed, err := PrepareRunDir(out, dir, now.Add(time.Hour))
	if err != nil || resumed != dir {
		t.Fatalf("resume = %q, %v", resumed, err)
	}
	if _, err := PrepareRunDir(out, filepath.Join(out, "missing"), now); err == nil {
		t.Fatal("expected error for missing resume directory")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	m := Metadata{RunID: "abc", Inputs: []string{"a.geojson"}, Command: "ais-shader render", Config: map[string]int{"zoom": 7}}
	if err := WriteMetadata(dir, m, now); err != nil {
		t.Fatalf("WriteMetadata error = %v", err)
	}
	got, err := ReadMetadata(dir)
	if err != nil {
		t.Fatalf("ReadMetadata error = %v", err)
	}
	if got.RunID != "abc" || got.Timestamp != "20240305_140709" || len(got.Inputs) != 1 {
		t.Fatalf("metadata = %+v", got)
	}
}
