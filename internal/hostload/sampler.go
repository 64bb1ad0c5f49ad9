// Package hostload samples how busy the local machine is.
//
// Snapshots are attached to transport and timeout failures so a slow attempt can be told apart from a starved host.
package hostload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	defaultCacheTTL      = 2 * time.Second
	defaultProcessLimit  = 5
	blockingCPUSampleDur = 250 * time.Millisecond
)

type Snapshot struct {
	CPUPercent    float64   `json:"cpu_percent"`
	CPUCores      int       `json:"cpu_cores"`
	LoadAverage   []float64 `json:"load_average,omitempty"`
	MemoryPercent float64   `json:"memory_percent,omitempty"`
	Platform      string    `json:"platform"`

	TopProcesses []Process `json:"top_processes,omitempty"`
	CollectedAt  time.Time `json:"collected_at"`
}

type Process struct {
	PID        int32   `json:"pid"`
	Name       string  `json:"name"`
	CPUPercent float64 `json:"cpu_percent"`
}

func (s Snapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cpu=%.1f%% cores=%d", s.CPUPercent, s.CPUCores)
	if len(s.LoadAverage) == 3 {
		fmt.Fprintf(&b, " load=%.2f/%.2f/%.2f", s.LoadAverage[0], s.LoadAverage[1], s.LoadAverage[2])
	}
	if s.MemoryPercent > 0 {
		fmt.Fprintf(&b, " mem=%.1f%%", s.MemoryPercent)
	}
	return b.String()
}

// Sampler collects snapshots and reuses the last one for a short TTL.
type Sampler struct {
	log          *slog.Logger
	ttl          time.Duration
	processLimit int
	now          func() time.Time

	mu      sync.Mutex
	hasSnap bool
	snap    Snapshot
}

func NewSampler(log *slog.Logger) *Sampler {
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{log: log, ttl: defaultCacheTTL, processLimit: defaultProcessLimit, now: time.Now}
}

// Sample never fails: individual probes that error are logged and left zero.
func (s *Sampler) Sample(ctx context.Context) Snapshot {
	now := s.now()

	s.mu.Lock()
	if s.hasSnap && now.Sub(s.snap.CollectedAt) < s.ttl {
		out := s.snap
		s.mu.Unlock()
		return out
	}
	s.mu.Unlock()

	snap := s.collect(ctx, now)

	s.mu.Lock()
	s.snap = snap
	s.hasSnap = true
	s.mu.Unlock()
	return snap
}

func (s *Sampler) collect(ctx context.Context, at time.Time) Snapshot {
	out := Snapshot{Platform: runtime.GOOS, CollectedAt: at}

	if usage, err := readCPUUsage(ctx); err == nil {
		out.CPUPercent = usage
	} else {
		s.log.Warn("hostload: cpu percent unavailable", "error", err)
	}
	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		out.CPUCores = cores
	} else {
		s.log.Warn("hostload: cpu cores unavailable", "error", err)
	}
	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		out.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
	} else if err != nil {
		s.log.Debug("hostload: load average unavailable", "error", err)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		out.MemoryPercent = vm.UsedPercent
	} else if err != nil {
		s.log.Debug("hostload: memory unavailable", "error", err)
	}

	if s.processLimit > 0 {
		procs, err := collectProcesses(ctx)
		if err != nil {
			s.log.Debug("hostload: process list unavailable", "error", err)
		}
		out.TopProcesses = topByCPU(procs, s.processLimit)
	}
	return out
}

func readCPUUsage(ctx context.Context) (float64, error) {
	var errs []error
	// Interval 0 diffs against the previous call; the blocking sample bootstraps the first reading.
	for _, interval := range []time.Duration{0, blockingCPUSampleDur} {
		p, err := cpu.PercentWithContext(ctx, interval, false)
		if err == nil && len(p) > 0 && p[0] > 0 {
			return p[0], nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return 0, nil
}

func collectProcesses(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		if p == nil {
			continue
		}
		pct, err := p.CPUPercentWithContext(ctx)
		if err != nil || pct <= 0 {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || strings.TrimSpace(name) == "" {
			name = fmt.Sprintf("[%d]", p.Pid)
		}
		out = append(out, Process{PID: p.Pid, Name: name, CPUPercent: pct})
	}
	return out, nil
}

func topByCPU(procs []Process, limit int) []Process {
	if len(procs) == 0 || limit <= 0 {
		return nil
	}
	sorted := make([]Process, len(procs))
	copy(sorted, procs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CPUPercent > sorted[j].CPUPercent })
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}
