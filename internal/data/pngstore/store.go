// Package pngstore keeps rendered tiles as {z}/{x}/{y}.png files.
package pngstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/SiggyF/ais-shader/internal/tile"
)

// Store is a directory of rendered tiles.
type Store struct {
	root string
}

// New creates the root directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create png root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Path returns the file path of a tile image.
func (s *Store) Path(a tile.Address) string {
	return filepath.Join(s.root, filepath.FromSlash(a.Path())+".png")
}

// Exists reports whether the tile image is present.
func (s *Store) Exists(a tile.Address) bool {
	_, err := os.Stat(s.Path(a))
	return err == nil
}

// ModTime returns when the tile image was last written.
func (s *Store) ModTime(a tile.Address) (time.Time, error) {
	info, err := os.Stat(s.Path(a))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Write stores an encoded image atomically.
func (s *Store) Write(a tile.Address, data []byte) error {
	dst := s.Path(a)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create tile dir: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", a, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", a, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", a, err)
	}
	return nil
}

// Read returns the encoded image of a tile.
func (s *Store) Read(a tile.Address) ([]byte, error) {
	data, err := os.ReadFile(s.Path(a))
	if errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", a, err)
	}
	return data, nil
}

// Keys lists every stored tile across all zooms in tile order.
func (s *Store) Keys() ([]tile.Address, error) {
	var out []tile.Address
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".png") {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(strings.TrimSuffix(rel, ".png")), "/")
		if len(parts) != 3 {
			return nil
		}
		var v [3]uint32
		for i, p := range parts {
			n, err := strconv.ParseUint(p, 10, 32)
			if err != nil {
				return nil
			}
			v[i] = uint32(n)
		}
		if a, err := tile.New(v[0], v[1], v[2]); err == nil {
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list png tiles: %w", err)
	}
	tile.Sort(out)
	return out, nil
}
