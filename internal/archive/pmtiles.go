// Package archive packs a rendered PNG pyramid into a single PMTiles v3 file.
package archive

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb"
	"github.com/protomaps/go-pmtiles/pmtiles"

	"github.com/SiggyF/ais-shader/internal/tile"
)

// ErrNoTiles is returned when the source holds no images.
var ErrNoTiles = errors.New("no tiles to archive")

// maxRootBytes keeps header and root directory within the first 16 KiB.
const maxRootBytes = 16384 - pmtiles.HeaderV3LenBytes

// Source lists and reads encoded tile images.
type Source interface {
	Keys() ([]tile.Address, error)
	Read(addr tile.Address) ([]byte, error)
}

// Options carries archive metadata.
type Options struct {
	Name        string
	Description string
	Attribution string
	Scales      map[uint32]float64
	Categories  []string
}

// Stats describes a written archive.
type Stats struct {
	Tiles    int
	Contents int
	Bytes    int64
	MinZoom  uint32
	MaxZoom  uint32
}

type entry struct {
	id   uint64
	addr tile.Address
}

// WritePMTiles writes every image in src to path. Identical images are
// stored once and consecutive ids sharing content are run-length encoded.
func WritePMTiles(ctx context.Context, src Source, path string, opts Options) (Stats, error) {
	logger := slog.With("component", "archive")

	addrs, err := src.Keys()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list tiles: %w", err)
	}
	if len(addrs) == 0 {
		return Stats{}, ErrNoTiles
	}
	items := make([]entry, len(addrs))
	for i, a := range addrs {
		items[i] = entry{id: pmtiles.ZxyToID(uint8(a.Z), a.X, a.Y), addr: a}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].id < items[j].id })

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Stats{}, fmt.Errorf("failed to create archive dir: %w", err)
	}
	data, err := os.CreateTemp(filepath.Dir(path), ".tmp-data-*")
	if err != nil {
		return Stats{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		data.Close()
		os.Remove(data.Name())
	}()

	stats := Stats{MinZoom: items[0].addr.Z, MaxZoom: items[0].addr.Z}
	var bounds orb.Bound
	seen := make(map[[sha256.Size]byte]pmtiles.EntryV3)
	entries := make([]pmtiles.EntryV3, 0, len(items))
	var offset uint64
	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return Stats{}, err
		}
		b, err := src.Read(it.addr)
		if err != nil {
			return Stats{}, fmt.Errorf("failed to read tile %s: %w", it.addr, err)
		}
		sum := sha256.Sum256(b)
		if prev, ok := seen[sum]; ok {
			last := &entries[len(entries)-1]
			if last.Offset == prev.Offset && last.TileID+uint64(last.RunLength) == it.id {
				last.RunLength++
			} else {
				entries = append(entries, pmtiles.EntryV3{TileID: it.id, Offset: prev.Offset, Length: prev.Length, RunLength: 1})
			}
		} else {
			if _, err := data.Write(b); err != nil {
				return Stats{}, fmt.Errorf("failed to buffer tile data: %w", err)
			}
			e := pmtiles.EntryV3{TileID: it.id, Offset: offset, Length: uint32(len(b)), RunLength: 1}
			seen[sum] = e
			entries = append(entries, e)
			offset += uint64(len(b))
		}

		stats.MinZoom = min(stats.MinZoom, it.addr.Z)
		stats.MaxZoom = max(stats.MaxZoom, it.addr.Z)
		if i == 0 {
			bounds = it.addr.LonLatBounds()
		} else {
			bounds = bounds.Union(it.addr.LonLatBounds())
		}
	}
	stats.Tiles = len(items)
	stats.Contents = len(seen)

	root, leaves := buildDirectories(entries)
	meta, err := pmtiles.SerializeMetadata(metadata(opts, stats), pmtiles.Gzip)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to serialize metadata: %w", err)
	}

	var h pmtiles.HeaderV3
	h.SpecVersion = 3
	h.RootOffset = pmtiles.HeaderV3LenBytes
	h.RootLength = uint64(len(root))
	h.MetadataOffset = h.RootOffset + h.RootLength
	h.MetadataLength = uint64(len(meta))
	h.LeafDirectoryOffset = h.MetadataOffset + h.MetadataLength
	h.LeafDirectoryLength = uint64(len(leaves))
	h.TileDataOffset = h.LeafDirectoryOffset + h.LeafDirectoryLength
	h.TileDataLength = offset
	h.AddressedTilesCount = uint64(stats.Tiles)
	h.TileEntriesCount = uint64(len(entries))
	h.TileContentsCount = uint64(stats.Contents)
	h.Clustered = true
	h.InternalCompression = pmtiles.Gzip
	h.TileCompression = pmtiles.NoCompression
	h.TileType = pmtiles.Png
	h.MinZoom = uint8(stats.MinZoom)
	h.MaxZoom = uint8(stats.MaxZoom)
	h.MinLonE7 = int32(bounds.Min.Lon() * 1e7)
	h.MinLatE7 = int32(bounds.Min.Lat() * 1e7)
	h.MaxLonE7 = int32(bounds.Max.Lon() * 1e7)
	h.MaxLatE7 = int32(bounds.Max.Lat() * 1e7)
	center := bounds.Center()
	h.CenterZoom = uint8(stats.MinZoom)
	h.CenterLonE7 = int32(center.Lon() * 1e7)
	h.CenterLatE7 = int32(center.Lat() * 1e7)

	if _, err := data.Seek(0, io.SeekStart); err != nil {
		return Stats{}, fmt.Errorf("failed to rewind tile data: %w", err)
	}
	out, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return Stats{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := out.Name()
	defer os.Remove(tmp)

	for _, part := range [][]byte{pmtiles.SerializeHeader(h), root, meta, leaves} {
		if _, err := out.Write(part); err != nil {
			out.Close()
			return Stats{}, fmt.Errorf("failed to write archive: %w", err)
		}
	}
	if _, err := io.Copy(out, data); err != nil {
		out.Close()
		return Stats{}, fmt.Errorf("failed to write tile data: %w", err)
	}
	if err := out.Close(); err != nil {
		return Stats{}, fmt.Errorf("failed to write archive: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return Stats{}, fmt.Errorf("failed to move archive into place: %w", err)
	}

	stats.Bytes = int64(h.TileDataOffset + h.TileDataLength)
	logger.Info("wrote pmtiles archive",
		"path", path,
		"tiles", stats.Tiles,
		"contents", stats.Contents,
		"size", humanize.Bytes(uint64(stats.Bytes)),
	)
	return stats, nil
}

// buildDirectories returns a root directory and, when the entries do not fit
// in the root, the concatenated leaf directories it points to.
func buildDirectories(entries []pmtiles.EntryV3) ([]byte, []byte) {
	root := pmtiles.SerializeEntries(entries, pmtiles.Gzip)
	if len(root) <= maxRootBytes {
		return root, nil
	}
	for leafSize := 4096; ; leafSize *= 2 {
		var rootEntries []pmtiles.EntryV3
		var leaves []byte
		for i := 0; i < len(entries); i += leafSize {
			end := min(i+leafSize, len(entries))
			leaf := pmtiles.SerializeEntries(entries[i:end], pmtiles.Gzip)
			rootEntries = append(rootEntries, pmtiles.EntryV3{
				TileID: entries[i].TileID,
				Offset: uint64(len(leaves)),
				Length: uint32(len(leaf)),
			})
			leaves = append(leaves, leaf...)
		}
		root = pmtiles.SerializeEntries(rootEntries, pmtiles.Gzip)
		if len(root) <= maxRootBytes {
			return root, leaves
		}
	}
}

func metadata(opts Options, stats Stats) map[string]any {
	name := opts.Name
	if name == "" {
		name = "ais-shader"
	}
	m := map[string]any{
		"name":    name,
		"format":  "png",
		"type":    "overlay",
		"minzoom": stats.MinZoom,
		"maxzoom": stats.MaxZoom,
	}
	if opts.Description != "" {
		m["description"] = opts.Description
	}
	if opts.Attribution != "" {
		m["attribution"] = opts.Attribution
	}
	if len(opts.Scales) > 0 {
		scales := make(map[string]float64, len(opts.Scales))
		for z, v := range opts.Scales {
			scales[fmt.Sprint(z)] = v
		}
		m["scale_bounds"] = scales
	}
	if len(opts.Categories) > 0 {
		m["categories"] = opts.Categories
	}
	return m
}
