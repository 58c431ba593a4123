package geotiff

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/SiggyF/ais-shader/internal/grid"
	"github.com/SiggyF/ais-shader/internal/tile"
)

// Source reads stored grids.
type Source interface {
	Read(addr tile.Address) (*grid.Grid, error)
}

// Exporter writes <dir>/tile_{z}_{x}_{y}.tif files.
type Exporter struct {
	src Source
	dir string
}

// NewExporter creates the output directory.
func NewExporter(src Source, dir string) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create geotiff dir: %w", err)
	}
	return &Exporter{src: src, dir: dir}, nil
}

// Path returns the output file of a tile.
func (e *Exporter) Path(a tile.Address) string {
	return filepath.Join(e.dir, a.Key()+".tif")
}

// Exists reports whether the tile was already exported.
func (e *Exporter) Exists(a tile.Address) bool {
	_, err := os.Stat(e.Path(a))
	return err == nil
}

// Export writes one tile.
func (e *Exporter) Export(ctx context.Context, a tile.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g, err := e.src.Read(a)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(e.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := Write(f, g, a); err != nil {
		f.Close()
		return fmt.Errorf("failed to export %s: %w", a, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to export %s: %w", a, err)
	}
	return os.Rename(tmp, e.Path(a))
}
