package archive

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/protomaps/go-pmtiles/pmtiles"

	"github.com/SiggyF/ais-shader/internal/tile"
)

type memSource map[tile.Address][]byte

func (m memSource) Keys() ([]tile.Address, error) {
	out := make([]tile.Address, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	return out, nil
}

func (m memSource) Read(a tile.Address) ([]byte, error) { return m[a], nil }

func readArchive(t *testing.T, path string) (pmtiles.HeaderV3, []pmtiles.EntryV3, []byte) {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error = %v", err)
	}
	h, err := pmtiles.DeserializeHeader(raw[:pmtiles.HeaderV3LenBytes])
	if err != nil {
		t.Fatalf("DeserializeHeader error = %v", err)
	}
	dir := raw[h.RootOffset : h.RootOffset+h.RootLength]
	entries := pmtiles.DeserializeEntries(bytes.NewBuffer(dir), h.InternalCompression)
	return h, entries, raw
}

func TestWritePMTiles(t *testing.T) {
	src := memSource{
		{Z: 0, X: 0, Y: 0}: []byte("zero"),
		{Z: 1, X: 0, Y: 0}: []byte("same"),
		{Z: 1, X: 1, Y: 0}: []byte("same"),
		{Z: 1, X: 1, Y: 1}: []byte("other"),
	}
	path := filepath.Join(t.TempDir(), "out", "tiles.pmtiles")
	stats, err := WritePMTiles(context.Background(), src, path, Options{Name: "test", Scales: map[uint32]float64{0: 2}})
	if err != nil {
		t.Fatalf("WritePMTiles error = %v", err)
	}
	if stats.Tiles != 4 || stats.Contents != 3 || stats.MinZoom != 0 || stats.MaxZoom != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	h, entries, raw := readArchive(t, path)
	if h.TileType != pmtiles.Png || h.AddressedTilesCount != 4 || h.TileContentsCount != 3 {
		t.Fatalf("unexpected header %+v", h)
	}
	if int64(len(raw)) != stats.Bytes {
		t.Fatalf("file size %d, want %d", len(raw), stats.Bytes)
	}

	for a, want := range src {
		e, ok := pmtiles.FindTile(entries, pmtiles.ZxyToID(uint8(a.Z), a.X, a.Y))
		if !ok {
			t.Fatalf("tile %s missing from directory", a)
		}
		start := h.TileDataOffset + e.Offset
		got := raw[start : start+uint64(e.Length)]
		if !bytes.Equal(got, want) {
			t.Fatalf("tile %s = %q, want %q", a, got, want)
		}
	}
}

func TestWritePMTilesEmpty(t *testing.T) {
	_, err := WritePMTiles(context.Background(), memSource{}, filepath.Join(t.TempDir(), "x.pmtiles"), Options{})
	if !errors.Is(err, ErrNoTiles) {
		t.Fatalf("err = %v, want ErrNoTiles", err)
	}
}

func TestBuildDirectoriesSplitsLargeRoot(t *testing.T) {
	entries := make([]pmtiles.EntryV3, 200000)
	for i := range entries {
		entries[i] = pmtiles.EntryV3{TileID: uint64(i * 3), Offset: uint64(i * 1000), Length: 1000 + uint32(i%7), RunLength: 1}
	}
	root, leaves := buildDirectories(entries)
	if len(root) > maxRootBytes {
		t.Fatalf("root directory %d bytes exceeds limit", len(root))
	}
	if len(leaves) == 0 {
		t.Fatal("expected leaf directories")
	}
	rootEntries := pmtiles.DeserializeEntries(bytes.NewBuffer(root), pmtiles.Gzip)
	for _, e := range rootEntries {
		if e.RunLength != 0 {
			t.Fatalf("root entry %+v should point to a leaf", e)
		}
	}
}
