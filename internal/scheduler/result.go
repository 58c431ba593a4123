package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/SiggyF/ais-shader/internal/ledger"
	"github.com/SiggyF/ais-shader/internal/tile"
)

// Stage names a pipeline step.
type Stage string

const (
	StageRasterize Stage = "rasterize"
	StageAggregate Stage = "aggregate"
	StageRender    Stage = "render"
	StageExport    Stage = "export"
)

// Status is the outcome of one task.
type Status string

const (
	StatusOK      Status = "ok"
	StatusEmpty   Status = "empty"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Result is the outcome of one per-tile task.
type Result struct {
	Addr     tile.Address
	Stage    Stage
	Status   Status
	Err      error
	Duration time.Duration
}

func (r Result) toLedger(batch int) ledger.TaskResult {
	out := ledger.TaskResult{
		Stage:    string(r.Stage),
		Tile:     r.Addr,
		Batch:    batch,
		Status:   string(r.Status),
		Duration: r.Duration,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

// Report aggregates results over a run.
type Report struct {
	mu       sync.Mutex
	counts   map[Stage]map[Status]int
	failures []Result
	scales   map[uint32]float64
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{
		counts: make(map[Stage]map[Status]int),
		scales: make(map[uint32]float64),
	}
}

// Add accumulates results.
func (r *Report) Add(results []Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range results {
		if r.counts[res.Stage] == nil {
			r.counts[res.Stage] = make(map[Status]int)
		}
		r.counts[res.Stage][res.Status]++
		if res.Status == StatusFailed {
			r.failures = append(r.failures, res)
		}
	}
}

// SetScale records the bound used for a zoom level.
func (r *Report) SetScale(zoom uint32, bound float64) {
	r.mu.Lock()
	r.scales[zoom] = bound
	r.mu.Unlock()
}

// Scales returns a copy of the recorded bounds.
func (r *Report) Scales() map[uint32]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uint32]float64, len(r.scales))
	for z, v := range r.scales {
		out[z] = v
	}
	return out
}

// Count returns how many tasks of a stage ended with status.
func (r *Report) Count(stage Stage, status Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[stage][status]
}

// Failures returns the failed tasks in the order they were added.
func (r *Report) Failures() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.failures...)
}

// Log writes one summary line per stage and one line per failure.
func (r *Report) Log(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stages := make([]string, 0, len(r.counts))
	for s := range r.counts {
		stages = append(stages, string(s))
	}
	sort.Strings(stages)
	for _, s := range stages {
		c := r.counts[Stage(s)]
		logger.Info("stage summary",
			"stage", s,
			"ok", c[StatusOK],
			"empty", c[StatusEmpty],
			"skipped", c[StatusSkipped],
			"failed", c[StatusFailed],
		)
	}
	for _, f := range r.failures {
		logger.Error("tile failed", "stage", f.Stage, "tile", f.Addr.String(), "err", f.Err)
	}
}

func summarize(results []Result) (counts map[Status]int, failed, submitted int) {
	counts = make(map[Status]int)
	for _, r := range results {
		counts[r.Status]++
		if r.Status != StatusSkipped {
			submitted++
		}
		if r.Status == StatusFailed {
			failed++
		}
	}
	return counts, failed, submitted
}

func panicError(v any) error {
	return fmt.Errorf("task panicked: %v", v)
}
