package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Run directory layout.
const (
	ZarrDir      = "zarr"
	PNGDir       = "png"
	TIFFDir      = "tiff"
	LedgerFile   = "ledger.db"
	MetadataFile = "metadata.json"
	PMTilesFile  = "tiles.pmtiles"
)

const timestampLayout = "20060102_150405"

// Metadata is written to metadata.json at the start of every invocation.
type Metadata struct {
	RunID     string   `json:"run_id"`
	Timestamp string   `json:"timestamp"`
	Inputs    []string `json:"inputs,omitempty"`
	Command   string   `json:"command"`
	Config    any      `json:"config"`
	// Scales holds the bound used per zoom once rendering has finished.
	Scales map[uint32]float64 `json:"scales,omitempty"`
}

// PrepareRunDir returns resumeDir when set, which must exist, or creates
// outputDir/run_{timestamp}.
func PrepareRunDir(outputDir, resumeDir string, now time.Time) (string, error) {
	if resumeDir != "" {
		info, err := os.Stat(resumeDir)
		if err != nil {
			return "", fmt.Errorf("resume directory does not exist: %w", err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("resume path %s is not a directory", resumeDir)
		}
		return resumeDir, nil
	}
	dir := filepath.Join(outputDir, "run_"+now.Format(timestampLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	return dir, nil
}

// WriteMetadata writes metadata.json into dir, stamping the timestamp when
// it is empty.
func WriteMetadata(dir string, m Metadata, now time.Time) error {
	if m.Timestamp == "" {
		m.Timestamp = now.Format(timestampLayout)
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFile), b, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// ReadMetadata loads metadata.json from dir.
func ReadMetadata(dir string) (*Metadata, error) {
	b, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &m, nil
}
