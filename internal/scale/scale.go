// Package scale estimates a robust per-zoom upper bound of tile densities
// used to normalise colours.
package scale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/SiggyF/ais-shader/internal/grid"
	"github.com/SiggyF/ais-shader/internal/tile"
)

// Source lists and reads the stored grids of a zoom level.
type Source interface {
	Keys(zoom uint32) ([]tile.Address, error)
	Read(addr tile.Address) (*grid.Grid, error)
}

// Config controls the sampling policy.
type Config struct {
	MaxTiles   int
	MaxSamples int
	Percentile float64
	Fallback   float64
	Seed       int64
}

// DefaultConfig samples 200 tiles and a million values for the 98th
// percentile.
func DefaultConfig() Config {
	return Config{
		MaxTiles:   200,
		MaxSamples: 1_000_000,
		Percentile: 98,
		Fallback:   1.0,
	}
}

// Estimator computes scale bounds over a Source.
type Estimator struct {
	src    Source
	cfg    Config
	rng    *rand.Rand
	logger *slog.Logger
}

// NewEstimator creates an estimator. Zero config fields take their defaults.
func NewEstimator(src Source, cfg Config) *Estimator {
	def := DefaultConfig()
	if cfg.MaxTiles <= 0 {
		cfg.MaxTiles = def.MaxTiles
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = def.MaxSamples
	}
	if cfg.Percentile <= 0 || cfg.Percentile > 100 {
		cfg.Percentile = def.Percentile
	}
	if cfg.Fallback <= 0 {
		cfg.Fallback = def.Fallback
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Estimator{
		src:    src,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		logger: slog.With("component", "scale"),
	}
}

// Estimate samples up to MaxTiles random tiles of zoom, collects up to
// MaxSamples non-zero flattened cell values and returns their percentile.
// Without samples the fallback bound is returned. Only a failure to list the
// level is an error.
func (e *Estimator) Estimate(ctx context.Context, zoom uint32) (float64, error) {
	keys, err := e.src.Keys(zoom)
	if err != nil {
		return 0, fmt.Errorf("failed to list zoom %d: %w", zoom, err)
	}
	e.rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	if len(keys) > e.cfg.MaxTiles {
		keys = keys[:e.cfg.MaxTiles]
	}

	samples := make(stats.Float64Data, 0, min(e.cfg.MaxSamples, 1<<16))
	for _, addr := range keys {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		g, err := e.src.Read(addr)
		if err != nil {
			e.logger.Warn("skipping unreadable tile", "tile", addr.String(), "err", err)
			continue
		}
		samples = collect(samples, g, e.cfg.MaxSamples)
		if len(samples) >= e.cfg.MaxSamples {
			break
		}
	}

	if len(samples) == 0 {
		e.logger.Warn("no samples found, using fallback", "zoom", zoom, "fallback", e.cfg.Fallback)
		return e.cfg.Fallback, nil
	}
	v, err := Percentile(samples, e.cfg.Percentile)
	if err != nil || v <= 0 {
		e.logger.Warn("percentile failed, using fallback", "zoom", zoom, "err", err)
		return e.cfg.Fallback, nil
	}
	e.logger.Info("estimated scale", "zoom", zoom, "tiles", len(keys), "samples", len(samples), "bound", v)
	return v, nil
}

func collect(dst stats.Float64Data, g *grid.Grid, limit int) stats.Float64Data {
	for _, v := range g.Flatten() {
		if v == 0 {
			continue
		}
		dst = append(dst, float64(v))
		if len(dst) >= limit {
			break
		}
	}
	return dst
}

// Percentile returns the p-th percentile of values. Small inputs where the
// rank falls below the first element resolve to the maximum.
func Percentile(values []float64, p float64) (float64, error) {
	if len(values) == 0 {
		return 0, errors.New("no values")
	}
	v, err := stats.Percentile(values, p)
	if err == nil {
		return v, nil
	}
	return stats.Max(values)
}
