package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ArrayMeta is Zarr v3 array metadata (zarr.json).
type ArrayMeta struct {
	ZarrFormat int    `json:"zarr_format"`
	NodeType   string `json:"node_type"`
	Shape      []int  `json:"shape"`
	DataType   string `json:"data_type"`
	ChunkGrid  struct {
		Name          string `json:"name"`
		Configuration struct {
			ChunkShape []int `json:"chunk_shape"`
		} `json:"configuration"`
	} `json:"chunk_grid"`
	ChunkKeyEncoding struct {
		Name          string `json:"name"`
		Configuration struct {
			Separator string `json:"separator"`
		} `json:"configuration"`
	} `json:"chunk_key_encoding"`
	FillValue      interface{}    `json:"fill_value"`
	Codecs         []Codec        `json:"codecs"`
	DimensionNames []string       `json:"dimension_names,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

// Codec is one entry of the codec pipeline.
type Codec struct {
	Name          string                 `json:"name"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
}

// GroupMeta is Zarr v3 group metadata carrying the tile attributes.
type GroupMeta struct {
	ZarrFormat int        `json:"zarr_format"`
	NodeType   string     `json:"node_type"`
	Attributes Attributes `json:"attributes"`
}

// Attributes describe the grid stored in a tile group.
type Attributes struct {
	CRS        string     `json:"crs"`
	Transform  [6]float64 `json:"transform"`
	Categories []string   `json:"categories"`
	Tile       [3]uint32  `json:"tile"`
	Size       int        `json:"size"`
	YOrder     string     `json:"y_order"`
	DataVars   []string   `json:"data_vars"`
	Stats      *TileStats `json:"stats,omitempty"`
}

// TileStats summarise a stored grid.
type TileStats struct {
	Sum float64 `json:"sum"`
	Max float32 `json:"max"`
}

func newArrayMeta(shape, chunks []int, level int) *ArrayMeta {
	m := &ArrayMeta{
		ZarrFormat: 3,
		NodeType:   "array",
		Shape:      shape,
		DataType:   "float32",
		FillValue:  0.0,
		Codecs: []Codec{
			{Name: "bytes", Configuration: map[string]interface{}{"endian": "little"}},
			{Name: "zstd", Configuration: map[string]interface{}{"level": level, "checksum": false}},
		},
		DimensionNames: []string{"band", "y", "x"},
	}
	m.ChunkGrid.Name = "regular"
	m.ChunkGrid.Configuration.ChunkShape = chunks
	m.ChunkKeyEncoding.Name = "default"
	m.ChunkKeyEncoding.Configuration.Separator = "/"
	return m
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// loadArrayMeta loads Zarr v3 array metadata.
func loadArrayMeta(arrayPath string) (*ArrayMeta, error) {
	var meta ArrayMeta
	if err := readJSON(filepath.Join(arrayPath, "zarr.json"), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (m *ArrayMeta) compressed() bool {
	for _, c := range m.Codecs {
		if c.Name == "zstd" {
			return true
		}
	}
	return false
}

func (m *ArrayMeta) encodeChunkKey(chunkIndices []int) string {
	sep := m.ChunkKeyEncoding.Configuration.Separator
	if sep == "" {
		sep = "/"
	}
	parts := make([]string, len(chunkIndices))
	for i, idx := range chunkIndices {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, sep)
}

func (m *ArrayMeta) chunkShapeAt(chunkIndices []int) ([]int, error) {
	if len(m.Shape) == 0 || len(m.ChunkGrid.Configuration.ChunkShape) == 0 {
		return nil, fmt.Errorf("invalid zarr metadata: missing shape/chunk_shape")
	}
	if len(m.Shape) != len(m.ChunkGrid.Configuration.ChunkShape) {
		return nil, fmt.Errorf("invalid zarr metadata: shape dims (%d) != chunk dims (%d)", len(m.Shape), len(m.ChunkGrid.Configuration.ChunkShape))
	}
	if len(chunkIndices) != len(m.Shape) {
		return nil, fmt.Errorf("invalid chunk indices: got %d dims, expected %d", len(chunkIndices), len(m.Shape))
	}

	actual := make([]int, len(m.Shape))
	for d := range m.Shape {
		chunkLen := m.ChunkGrid.Configuration.ChunkShape[d]
		if chunkLen <= 0 {
			return nil, fmt.Errorf("invalid chunk shape at dim %d: %d", d, chunkLen)
		}
		start := chunkIndices[d] * chunkLen
		if start < 0 || start >= m.Shape[d] {
			return nil, fmt.Errorf("chunk index out of range at dim %d: start=%d shape=%d", d, start, m.Shape[d])
		}
		if remaining := m.Shape[d] - start; remaining < chunkLen {
			chunkLen = remaining
		}
		actual[d] = chunkLen
	}
	return actual, nil
}

func dtypeSize(dataType string) (int, error) {
	switch dataType {
	case "float32", "int32", "uint32":
		return 4, nil
	case "float64", "int64", "uint64":
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported zarr data_type: %s", dataType)
	}
}

// fillValue returns the array fill value as float32. Zarr v3 encodes
// non-finite floats as strings.
func (m *ArrayMeta) fillValue() (float32, error) {
	switch t := m.FillValue.(type) {
	case nil:
		return 0, nil
	case float64:
		return float32(t), nil
	case string:
		switch t {
		case "NaN":
			return float32(math.NaN()), nil
		case "Infinity":
			return float32(math.Inf(1)), nil
		case "-Infinity":
			return float32(math.Inf(-1)), nil
		}
	}
	return 0, fmt.Errorf("unsupported fill_value %v for %s", m.FillValue, m.DataType)
}

// decodeValues converts little-endian chunk bytes into float32 values.
func decodeValues(dataType string, raw []byte, dst []float32) error {
	size, err := dtypeSize(dataType)
	if err != nil {
		return err
	}
	if len(raw) != len(dst)*size {
		return fmt.Errorf("chunk holds %d bytes, want %d", len(raw), len(dst)*size)
	}
	le := binary.LittleEndian
	for i := range dst {
		b := raw[i*size:]
		switch dataType {
		case "float32":
			dst[i] = math.Float32frombits(le.Uint32(b))
		case "int32":
			dst[i] = float32(int32(le.Uint32(b)))
		case "uint32":
			dst[i] = float32(le.Uint32(b))
		case "float64":
			dst[i] = float32(math.Float64frombits(le.Uint64(b)))
		case "int64":
			dst[i] = float32(int64(le.Uint64(b)))
		case "uint64":
			dst[i] = float32(le.Uint64(b))
		}
	}
	return nil
}

func encodeFloat32(src []float32) []byte {
	out := make([]byte, 4*len(src))
	for i, v := range src {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
