// Package zarr stores per-tile density grids as Zarr v3 groups.
//
// Each tile lives in <root>/tile_{z}_{x}_{y}.zarr with a float32 array
// "counts" of shape [band, y, x], zstd-compressed chunks and the tile's CRS,
// affine transform and category labels as group attributes. Rows are stored
// bottom-up (y ascending). Chunks holding only zeros are not written.
package zarr

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/SiggyF/ais-shader/internal/grid"
	"github.com/SiggyF/ais-shader/internal/tile"
)

// DataVar is the name of the array holding the grid.
const DataVar = "counts"

// CRS is the coordinate reference of every stored tile.
const CRS = "EPSG:3857"

// ErrMissingData is returned when a tile group has no identifiable data array.
var ErrMissingData = errors.New("tile has no data variable")

// ErrNotFound is returned when a tile is absent from the store.
var ErrNotFound = errors.New("tile not found")

// Config contains store configuration.
type Config struct {
	Root       string
	ChunkSize  int
	Level      int
	CacheTiles int
}

// Store reads and writes tile grids below a root directory. It is safe for
// concurrent use as long as each tile is written by one goroutine.
type Store struct {
	root      string
	chunkSize int
	level     int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	cache     *lru.Cache[tile.Address, *grid.Grid]
	logger    *slog.Logger
}

// NewStore opens or creates a store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 256
	}
	if cfg.Level <= 0 {
		cfg.Level = 3
	}
	if cfg.CacheTiles <= 0 {
		cfg.CacheTiles = 64
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.Level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	cache, err := lru.New[tile.Address, *grid.Grid](cfg.CacheTiles)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}

	return &Store{
		root:      cfg.Root,
		chunkSize: cfg.ChunkSize,
		level:     cfg.Level,
		encoder:   encoder,
		decoder:   decoder,
		cache:     cache,
		logger:    slog.With("component", "zarr"),
	}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Path returns the group directory of a tile.
func (s *Store) Path(a tile.Address) string {
	return filepath.Join(s.root, a.Key()+".zarr")
}

// Exists reports whether a complete tile group is present.
func (s *Store) Exists(a tile.Address) bool {
	_, err := os.Stat(filepath.Join(s.Path(a), "zarr.json"))
	return err == nil
}

// ModTime returns when tile a was last written.
func (s *Store) ModTime(a tile.Address) (time.Time, error) {
	info, err := os.Stat(filepath.Join(s.Path(a), "zarr.json"))
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, a)
	}
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Write stores g for tile a. The group is assembled in a temporary
// directory and renamed into place, replacing any previous version.
func (s *Store) Write(a tile.Address, g *grid.Grid) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("failed to write %s: %w", a, err)
	}
	tmp, err := os.MkdirTemp(s.root, ".tmp-"+a.Key()+"-")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := s.writeArray(filepath.Join(tmp, DataVar), g); err != nil {
		return fmt.Errorf("failed to write %s: %w", a, err)
	}

	group := GroupMeta{
		ZarrFormat: 3,
		NodeType:   "group",
		Attributes: Attributes{
			CRS:        CRS,
			Transform:  a.Transform(g.Size).GDAL(),
			Categories: g.Categories,
			Tile:       [3]uint32{a.Z, a.X, a.Y},
			Size:       g.Size,
			YOrder:     "ascending",
			DataVars:   []string{DataVar},
			Stats:      &TileStats{Sum: g.Sum(), Max: g.Max()},
		},
	}
	if err := writeJSON(filepath.Join(tmp, "zarr.json"), group); err != nil {
		return fmt.Errorf("failed to write group metadata: %w", err)
	}

	if err := replaceDir(tmp, s.Path(a)); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", a, err)
	}
	s.cache.Add(a, g)
	return nil
}

// swapDir moves the group at dst aside, renames src into its place and
// removes the old group.
func swapDir(src, dst string) error {
	old := src + ".old"
	if err := os.Rename(dst, old); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.Rename(src, dst)
		}
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		os.Rename(old, dst)
		return err
	}
	return os.RemoveAll(old)
}

func (s *Store) writeArray(dir string, g *grid.Grid) error {
	bands := len(g.Data)
	chunk := min(s.chunkSize, g.Size)
	meta := newArrayMeta([]int{bands, g.Size, g.Size}, []int{1, chunk, chunk}, s.level)
	meta.Attributes = map[string]any{"_ARRAY_DIMENSIONS": meta.DimensionNames}
	if err := os.MkdirAll(filepath.Join(dir, "c"), 0o755); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "zarr.json"), meta); err != nil {
		return err
	}

	n := ceilDiv(g.Size, chunk)
	buf := make([]float32, chunk*chunk)
	for b := 0; b < bands; b++ {
		for cy := 0; cy < n; cy++ {
			for cx := 0; cx < n; cx++ {
				if !gatherChunk(g.Data[b], g.Size, chunk, cx, cy, buf) {
					continue
				}
				key := meta.encodeChunkKey([]int{b, cy, cx})
				path := filepath.Join(dir, "c", filepath.FromSlash(key))
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return err
				}
				payload := s.encoder.EncodeAll(encodeFloat32(buf), nil)
				if err := os.WriteFile(path, payload, 0o644); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// gatherChunk copies one chunk of a plane into buf, zero padding edge
// chunks, and reports whether it holds any non-zero value.
func gatherChunk(plane []float32, size, chunk, cx, cy int, buf []float32) bool {
	nonZero := false
	for r := 0; r < chunk; r++ {
		row := cy*chunk + r
		for c := 0; c < chunk; c++ {
			col := cx*chunk + c
			var v float32
			if row < size && col < size {
				v = plane[row*size+col]
			}
			buf[r*chunk+c] = v
			if v != 0 {
				nonZero = true
			}
		}
	}
	return nonZero
}

// Read loads the grid of tile a.
func (s *Store) Read(a tile.Address) (*grid.Grid, error) {
	if g, ok := s.cache.Get(a); ok {
		return g, nil
	}
	dir := s.Path(a)
	var group GroupMeta
	if err := readJSON(filepath.Join(dir, "zarr.json"), &group); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, a)
		}
		return nil, fmt.Errorf("failed to read group metadata of %s: %w", a, err)
	}

	name, meta, err := s.resolveDataVar(dir, group.Attributes.DataVars)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a, err)
	}
	g, err := s.readArray(filepath.Join(dir, name), meta, group.Attributes.Categories)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", a, name, err)
	}
	s.cache.Add(a, g)
	return g, nil
}

// resolveDataVar picks "counts", then the listed data_vars, then the first
// array found in the group.
func (s *Store) resolveDataVar(dir string, listed []string) (string, *ArrayMeta, error) {
	candidates := append([]string{DataVar}, listed...)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, err
	}
	var found []string
	for _, e := range entries {
		if e.IsDir() {
			found = append(found, e.Name())
		}
	}
	sort.Strings(found)
	candidates = append(candidates, found...)

	for _, name := range candidates {
		meta, err := loadArrayMeta(filepath.Join(dir, name))
		if err != nil || meta.NodeType != "array" {
			continue
		}
		if len(meta.Shape) == 2 || len(meta.Shape) == 3 {
			return name, meta, nil
		}
	}
	return "", nil, ErrMissingData
}

func (s *Store) readArray(dir string, meta *ArrayMeta, categories []string) (*grid.Grid, error) {
	shape := meta.Shape
	chunks := meta.ChunkGrid.Configuration.ChunkShape
	if len(shape) == 2 {
		shape = []int{1, shape[0], shape[1]}
		chunks = []int{1, chunks[0], chunks[1]}
	}
	if len(chunks) != 3 || chunks[0] != 1 {
		return nil, fmt.Errorf("unsupported chunk shape %v", meta.ChunkGrid.Configuration.ChunkShape)
	}
	if shape[1] != shape[2] {
		return nil, fmt.Errorf("grid is not square: %v", shape)
	}
	if categories != nil && len(categories) != shape[0] {
		return nil, fmt.Errorf("%d categories for %d bands", len(categories), shape[0])
	}
	if categories == nil && shape[0] != 1 {
		categories = make([]string, shape[0])
		for i := range categories {
			categories[i] = fmt.Sprintf("band_%d", i+1)
		}
	}

	size := shape[1]
	fill, err := meta.fillValue()
	if err != nil {
		return nil, err
	}
	g := grid.New(size, categories)
	ch, cw := chunks[1], chunks[2]
	buf := make([]float32, ch*cw)
	for b := 0; b < shape[0]; b++ {
		for cy := 0; cy < ceilDiv(size, ch); cy++ {
			for cx := 0; cx < ceilDiv(size, cw); cx++ {
				idx := []int{b, cy, cx}
				if len(meta.Shape) == 2 {
					idx = idx[1:]
				}
				if err := s.readChunkAt(dir, meta, idx, fill, buf); err != nil {
					return nil, err
				}
				scatterChunk(g.Data[b], size, ch, cw, cx, cy, buf)
			}
		}
	}
	return g, nil
}

// readChunkAt decodes one chunk into buf. A missing chunk file represents a
// chunk of fill values.
func (s *Store) readChunkAt(dir string, meta *ArrayMeta, idx []int, fill float32, buf []float32) error {
	path := filepath.Join(dir, "c", filepath.FromSlash(meta.encodeChunkKey(idx)))
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		for i := range buf {
			buf[i] = fill
		}
		return nil
	}
	if err != nil {
		return err
	}
	if meta.compressed() {
		raw, err = s.decoder.DecodeAll(raw, nil)
		if err != nil {
			return fmt.Errorf("zstd decompress failed: %w", err)
		}
	}
	return decodeValues(meta.DataType, raw, buf)
}

func scatterChunk(plane []float32, size, ch, cw, cx, cy int, buf []float32) {
	for r := 0; r < ch; r++ {
		row := cy*ch + r
		if row >= size {
			break
		}
		for c := 0; c < cw; c++ {
			col := cx*cw + c
			if col >= size {
				break
			}
			plane[row*size+col] = buf[r*cw+c]
		}
	}
}

// Attributes returns the group attributes of a stored tile.
func (s *Store) Attributes(a tile.Address) (*Attributes, error) {
	var group GroupMeta
	if err := readJSON(filepath.Join(s.Path(a), "zarr.json"), &group); err != nil {
		return nil, fmt.Errorf("failed to read group metadata of %s: %w", a, err)
	}
	return &group.Attributes, nil
}

// Keys lists the stored tiles of a zoom level in tile order.
func (s *Store) Keys(zoom uint32) ([]tile.Address, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list store: %w", err)
	}
	var out []tile.Address
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasSuffix(name, ".zarr") {
			continue
		}
		a, err := tile.ParseKey(name)
		if err != nil || a.Z != zoom {
			continue
		}
		out = append(out, a)
	}
	tile.Sort(out)
	return out, nil
}

// Zooms lists the zoom levels present in the store.
func (s *Store) Zooms() ([]uint32, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list store: %w", err)
	}
	seen := map[uint32]bool{}
	for _, e := range entries {
		if a, err := tile.ParseKey(e.Name()); err == nil {
			seen[a.Z] = true
		}
	}
	out := make([]uint32, 0, len(seen))
	for z := range seen {
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Delete removes a tile.
func (s *Store) Delete(a tile.Address) error {
	s.cache.Remove(a)
	if err := os.RemoveAll(s.Path(a)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", a, err)
	}
	return nil
}

// Close releases codec resources.
func (s *Store) Close() {
	s.decoder.Close()
	s.encoder.Close()
}
