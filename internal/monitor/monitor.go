// Package monitor samples host and process resource usage while a run is in progress.
package monitor

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Config controls sampling.
type Config struct {
	Interval time.Duration
	// MemoryWarnPercent triggers a warning when system memory use exceeds it.
	MemoryWarnPercent float64
}

// DefaultConfig samples every 5 seconds and warns at 90% memory.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second, MemoryWarnPercent: 90}
}

// Sample is one resource reading.
type Sample struct {
	Time          time.Time
	SystemMemPct  float64
	SystemMemUsed uint64
	SystemMemAll  uint64
	ProcessRSS    uint64
	CPUPercent    float64
}

// Monitor periodically logs resource usage.
type Monitor struct {
	cfg    Config
	logger *slog.Logger
	proc   *process.Process

	mu     sync.Mutex
	last   Sample
	peak   uint64
	warned int

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a monitor for the current process.
func New(cfg Config, logger *slog.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MemoryWarnPercent <= 0 {
		cfg.MemoryWarnPercent = def.MemoryWarnPercent
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{cfg: cfg, logger: logger.With("component", "monitor")}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		m.proc = p
	}
	return m
}

// Start begins sampling in the background until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.done != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.observe(m.Collect())
			}
		}
	}()
}

// Stop halts sampling and waits for the sampler to exit. The monitor can be
// started again afterwards.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("resource monitor stopped", "peak_rss", humanize.Bytes(m.Peak()))
}

// Collect takes one reading. Fields that cannot be read stay zero.
func (m *Monitor) Collect() Sample {
	s := Sample{Time: time.Now()}
	if v, err := mem.VirtualMemory(); err == nil {
		s.SystemMemPct = v.UsedPercent
		s.SystemMemUsed = v.Used
		s.SystemMemAll = v.Total
	}
	if m.proc != nil {
		if info, err := m.proc.MemoryInfo(); err == nil {
			s.ProcessRSS = info.RSS
		}
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	return s
}

func (m *Monitor) observe(s Sample) {
	m.mu.Lock()
	m.last = s
	if s.ProcessRSS > m.peak {
		m.peak = s.ProcessRSS
	}
	m.mu.Unlock()

	attrs := []any{
		"mem_used", humanize.Bytes(s.SystemMemUsed),
		"mem_total", humanize.Bytes(s.SystemMemAll),
		"mem_pct", humanize.FtoaWithDigits(s.SystemMemPct, 1),
		"rss", humanize.Bytes(s.ProcessRSS),
		"cpu_pct", humanize.FtoaWithDigits(s.CPUPercent, 1),
	}
	if s.SystemMemPct >= m.cfg.MemoryWarnPercent {
		m.mu.Lock()
		m.warned++
		m.mu.Unlock()
		m.logger.Warn("memory usage high", attrs...)
		return
	}
	m.logger.Debug("resources", attrs...)
}

// Last returns the most recent sample.
func (m *Monitor) Last() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Peak returns the highest process RSS seen.
func (m *Monitor) Peak() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// Warnings returns how many samples crossed the memory threshold.
func (m *Monitor) Warnings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warned
}
