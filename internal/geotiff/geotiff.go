// Package geotiff exports tile grids as tiled, DEFLATE-compressed float32
// GeoTIFFs in EPSG:3857 with one band per category.
package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"html"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/SiggyF/ais-shader/internal/grid"
	"github.com/SiggyF/ais-shader/internal/tile"
)

// BlockSize is the edge of each internal TIFF tile.
const BlockSize = 256

const (
	tImageWidth       = 256
	tImageLength      = 257
	tBitsPerSample    = 258
	tCompression      = 259
	tPhotometric      = 262
	tSamplesPerPixel  = 277
	tPlanarConfig     = 284
	tTileWidth        = 322
	tTileLength       = 323
	tTileOffsets      = 324
	tTileByteCounts   = 325
	tExtraSamples     = 338
	tSampleFormat     = 339
	tModelPixelScale  = 33550
	tModelTiepoint    = 33922
	tGeoKeyDirectory  = 34735
	tGDALMetadata     = 42112
	tGDALNoData       = 42113
	typeASCII         = 2
	typeShort         = 3
	typeLong          = 4
	typeDouble        = 12
	compressionZIP    = 8
)

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// Write encodes g, georeferenced to tile a, as a GeoTIFF.
func Write(w io.Writer, g *grid.Grid, a tile.Address) error {
	if err := g.Validate(); err != nil {
		return err
	}
	size := g.Size
	bands := len(g.Data)
	across := (size + BlockSize - 1) / BlockSize

	var body bytes.Buffer
	body.Write(make([]byte, 8)) // header, patched below
	var offsets, counts []uint32

	block := make([]byte, BlockSize*BlockSize*4)
	for b := 0; b < bands; b++ {
		for ty := 0; ty < across; ty++ {
			for tx := 0; tx < across; tx++ {
				fillBlock(block, g.Data[b], size, tx, ty)
				start := body.Len()
				zw, err := zlib.NewWriterLevel(&body, zlib.DefaultCompression)
				if err != nil {
					return fmt.Errorf("failed to create deflate writer: %w", err)
				}
				if _, err := zw.Write(block); err != nil {
					return fmt.Errorf("failed to compress block: %w", err)
				}
				if err := zw.Close(); err != nil {
					return fmt.Errorf("failed to compress block: %w", err)
				}
				offsets = append(offsets, uint32(start))
				counts = append(counts, uint32(body.Len()-start))
			}
		}
	}
	if body.Len()%2 == 1 {
		body.WriteByte(0)
	}

	tr := a.Transform(size)
	entries := []entry{
		longs(tImageWidth, uint32(size)),
		longs(tImageLength, uint32(size)),
		shorts(tBitsPerSample, repeat(32, bands)...),
		shorts(tCompression, compressionZIP),
		shorts(tPhotometric, 1),
		shorts(tSamplesPerPixel, uint16(bands)),
		shorts(tPlanarConfig, 2),
		longs(tTileWidth, BlockSize),
		longs(tTileLength, BlockSize),
		longs(tTileOffsets, offsets...),
		longs(tTileByteCounts, counts...),
		shorts(tSampleFormat, repeat(3, bands)...),
		doubles(tModelPixelScale, tr.CellSize, tr.CellSize, 0),
		doubles(tModelTiepoint, 0, 0, 0, tr.OriginX, tr.OriginY, 0),
		shorts(tGeoKeyDirectory,
			1, 1, 0, 3,
			1024, 0, 1, 1,    // GTModelType: projected
			1025, 0, 1, 1,    // GTRasterType: pixel is area
			3072, 0, 1, 3857, // ProjectedCSType
		),
		ascii(tGDALNoData, "0"),
	}
	if bands > 1 {
		entries = append(entries, shorts(tExtraSamples, repeat(0, bands-1)...))
		entries = append(entries, ascii(tGDALMetadata, bandMetadata(g.Categories)))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	out := body.Bytes()
	le := binary.LittleEndian
	copy(out[0:4], []byte{'I', 'I', 42, 0})
	ifdOffset := uint32(len(out))
	le.PutUint32(out[4:8], ifdOffset)

	// IFD: count, entries, next offset, then out-of-line values
	ifdLen := 2 + 12*len(entries) + 4
	extra := ifdOffset + uint32(ifdLen)
	var ifd, values bytes.Buffer
	binary.Write(&ifd, le, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&ifd, le, e.tag)
		binary.Write(&ifd, le, e.typ)
		binary.Write(&ifd, le, e.count)
		if len(e.data) <= 4 {
			var v [4]byte
			copy(v[:], e.data)
			ifd.Write(v[:])
			continue
		}
		binary.Write(&ifd, le, extra+uint32(values.Len()))
		values.Write(e.data)
		if values.Len()%2 == 1 {
			values.WriteByte(0)
		}
	}
	binary.Write(&ifd, le, uint32(0))

	for _, part := range [][]byte{out, ifd.Bytes(), values.Bytes()} {
		if _, err := w.Write(part); err != nil {
			return fmt.Errorf("failed to write geotiff: %w", err)
		}
	}
	return nil
}

// fillBlock copies one TIFF block from a bottom-up plane. TIFF rows run
// from the north edge, so block row 0 of the first block row is the top grid
// row.
func fillBlock(dst []byte, plane []float32, size, tx, ty int) {
	for i := range dst {
		dst[i] = 0
	}
	for r := 0; r < BlockSize; r++ {
		tiffRow := ty*BlockSize + r
		if tiffRow >= size {
			break
		}
		src := plane[(size-1-tiffRow)*size:]
		for c := 0; c < BlockSize; c++ {
			col := tx*BlockSize + c
			if col >= size {
				break
			}
			binary.LittleEndian.PutUint32(dst[(r*BlockSize+c)*4:], math.Float32bits(src[col]))
		}
	}
}

func bandMetadata(categories []string) string {
	var sb strings.Builder
	sb.WriteString("<GDALMetadata>\n")
	for i, c := range categories {
		fmt.Fprintf(&sb, "  <Item name=\"DESCRIPTION\" sample=\"%d\" role=\"description\">%s</Item>\n", i, html.EscapeString(c))
	}
	sb.WriteString("</GDALMetadata>")
	return sb.String()
}

func repeat(v uint16, n int) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func shorts(tag uint16, v ...uint16) entry {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint16(b[2*i:], x)
	}
	return entry{tag: tag, typ: typeShort, count: uint32(len(v)), data: b}
}

func longs(tag uint16, v ...uint32) entry {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], x)
	}
	return entry{tag: tag, typ: typeLong, count: uint32(len(v)), data: b}
}

func doubles(tag uint16, v ...float64) entry {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return entry{tag: tag, typ: typeDouble, count: uint32(len(v)), data: b}
}

func ascii(tag uint16, s string) entry {
	b := append([]byte(s), 0)
	return entry{tag: tag, typ: typeASCII, count: uint32(len(b)), data: b}
}
