package geotiff

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/SiggyF/ais-shader/internal/grid"
	"github.com/SiggyF/ais-shader/internal/tile"
)

type parsedTag struct {
	typ   uint16
	count uint32
	raw   []byte
}

func parse(t *testing.T, data []byte) map[uint16]parsedTag {
	t.Helper()
	if string(data[:4]) != "II*\x00" {
		t.Fatalf("bad header %q", data[:4])
	}
	le := binary.LittleEndian
	off := le.Uint32(data[4:8])
	n := int(le.Uint16(data[off:]))
	tags := map[uint16]parsedTag{}
	sizes := map[uint16]uint32{typeASCII: 1, typeShort: 2, typeLong: 4, typeDouble: 8}
	for i := 0; i < n; i++ {
		e := data[int(off)+2+12*i:]
		tag, typ, count := le.Uint16(e), le.Uint16(e[2:]), le.Uint32(e[4:])
		size := sizes[typ] * count
		raw := e[8:12]
		if size > 4 {
			p := le.Uint32(e[8:])
			raw = data[p : p+size]
		}
		tags[tag] = parsedTag{typ: typ, count: count, raw: raw[:min(size, uint32(len(raw)))]}
	}
	return tags
}

func longAt(p parsedTag, i int) uint32 {
	if p.typ == typeShort {
		return uint32(binary.LittleEndian.Uint16(p.raw[2*i:]))
	}
	return binary.LittleEndian.Uint32(p.raw[4*i:])
}

func TestWriteSingleBand(t *testing.T) {
	a := tile.Address{Z: 2, X: 1, Y: 1}
	g := grid.New(4, nil)
	g.Set(0, 0, 3, 7) // top-left
	g.Set(0, 3, 0, 2) // bottom-right

	var buf bytes.Buffer
	if err := Write(&buf, g, a); err != nil {
		t.Fatalf("Write error = %v", err)
	}
	data := buf.Bytes()
	tags := parse(t, data)

	if longAt(tags[tImageWidth], 0) != 4 || longAt(tags[tSamplesPerPixel], 0) != 1 {
		t.Fatalf("unexpected dimensions")
	}
	if longAt(tags[tCompression], 0) != compressionZIP {
		t.Fatalf("compression = %d", longAt(tags[tCompression], 0))
	}
	if _, ok := tags[tGDALMetadata]; ok {
		t.Fatalf("single band should carry no band descriptions")
	}
	geo := tags[tGeoKeyDirectory]
	if longAt(geo, 15) != 3857 {
		t.Fatalf("projected cs = %d", longAt(geo, 15))
	}
	tie := tags[tModelTiepoint]
	originY := math.Float64frombits(binary.LittleEndian.Uint64(tie.raw[32:]))
	if originY != a.Bounds().Max.Y() {
		t.Fatalf("tiepoint y = %v, want %v", originY, a.Bounds().Max.Y())
	}

	off, n := longAt(tags[tTileOffsets], 0), longAt(tags[tTileByteCounts], 0)
	zr, err := zlib.NewReader(bytes.NewReader(data[off : off+n]))
	if err != nil {
		t.Fatalf("zlib error = %v", err)
	}
	block, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("inflate error = %v", err)
	}
	if len(block) != BlockSize*BlockSize*4 {
		t.Fatalf("block size = %d", len(block))
	}
	pixel := func(col, row int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(block[(row*BlockSize+col)*4:]))
	}
	if pixel(0, 0) != 7 || pixel(3, 3) != 2 {
		t.Fatalf("pixels top-left %v bottom-right %v", pixel(0, 0), pixel(3, 3))
	}
}

func TestWriteBandDescriptions(t *testing.T) {
	g := grid.New(2, []string{"Cargo", "Tanker & Co"})
	var buf bytes.Buffer
	if err := Write(&buf, g, tile.Address{}); err != nil {
		t.Fatalf("Write error = %v", err)
	}
	tags := parse(t, buf.Bytes())
	if longAt(tags[tSamplesPerPixel], 0) != 2 || tags[tTileOffsets].count != 2 {
		t.Fatalf("expected two bands with one block each")
	}
	meta := string(tags[tGDALMetadata].raw)
	if !strings.Contains(meta, `sample="0" role="description">Cargo<`) || !strings.Contains(meta, "Tanker &amp; Co") {
		t.Fatalf("band metadata = %q", meta)
	}
}
