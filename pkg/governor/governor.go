// Package governor samples host resource utilization and exposes a
// hysteresis-based admission gate the Worker Pool consults before
// dispatching new tasks, preventing the classic thrash of toggling
// dispatch on and off around a single threshold.
package governor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/r3e-labs/docbackbone/pkg/metrics"
)

// Thresholds configures the high/low water marks for one resource
// dimension. Dispatch is suspended once utilization crosses High, and stays
// suspended until it falls back below Low — the dead band between them is
// what prevents hysteresis thrash. A zero High leaves that dimension
// unchecked, as a zero maxOpenFiles does for open files.
type Thresholds struct {
	High float64
	Low  float64
}

// Sample is one point-in-time resource reading.
type Sample struct {
	CPUPercent    float64
	MemoryPercent float64
	OpenFiles     int
}

// Governor tracks whether the process should accept more work, sampling
// gopsutil on an interval and applying hysteresis per dimension.
type Governor struct {
	cpuThresholds Thresholds
	memThresholds Thresholds
	maxOpenFiles  int
	interval      time.Duration
	metrics       *metrics.Registry

	pid int32

	mu        sync.RWMutex
	last      Sample
	suspended atomic.Bool
}

// New constructs a Governor for the current process.
func New(cpuT, memT Thresholds, maxOpenFiles int, interval time.Duration, m *metrics.Registry) *Governor {
	return &Governor{
		cpuThresholds: cpuT,
		memThresholds: memT,
		maxOpenFiles:  maxOpenFiles,
		interval:      interval,
		metrics:       m,
		pid:           int32(processPID()),
	}
}

// Run samples resource utilization every interval until ctx is cancelled.
func (g *Governor) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sample(ctx)
		}
	}
}

func (g *Governor) sample(ctx context.Context) {
	s := Sample{}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		s.CPUPercent = percents[0] / 100
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryPercent = vm.UsedPercent / 100
	}
	if proc, err := process.NewProcess(g.pid); err == nil {
		if files, err := proc.OpenFilesWithContext(ctx); err == nil {
			s.OpenFiles = len(files)
		}
	}

	g.mu.Lock()
	g.last = s
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.ResourceCPUPercent.Set(s.CPUPercent)
		g.metrics.ResourceMemPercent.Set(s.MemoryPercent)
	}

	g.applyHysteresis(s)
}

func (g *Governor) applyHysteresis(s Sample) {
	cpuOn, memOn := g.cpuThresholds.High > 0, g.memThresholds.High > 0
	over := (cpuOn && s.CPUPercent >= g.cpuThresholds.High) || (memOn && s.MemoryPercent >= g.memThresholds.High) ||
		(g.maxOpenFiles > 0 && s.OpenFiles >= g.maxOpenFiles)
	under := (!cpuOn || s.CPUPercent <= g.cpuThresholds.Low) && (!memOn || s.MemoryPercent <= g.memThresholds.Low)

	if over {
		g.suspended.Store(true)
	} else if under {
		g.suspended.Store(false)
	}
	// Between Low and High: hold whatever state we were already in.
}

// Admit reports whether the worker pool may dispatch new tasks right now.
func (g *Governor) Admit() bool {
	return !g.suspended.Load()
}

// Last returns the most recent sample.
func (g *Governor) Last() Sample {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.last
}
