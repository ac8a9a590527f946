package index

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	// DefaultMemoryFraction of total system memory is the ceiling when none
	// is configured.
	DefaultMemoryFraction = 0.75

	// ReduceBatchAt is the usage ratio at which embedding batches are halved.
	ReduceBatchAt = 0.80

	// PauseAt is the usage ratio at which new file submission waits.
	PauseAt = 0.95

	fallbackCeiling = 2 << 30
)

// MemoryMonitor compares resident memory with a ceiling and throttles the
// pipeline. It never cancels work.
type MemoryMonitor struct {
	ceiling uint64
	sample  func() (uint64, error)
	poll    time.Duration
	maxWait time.Duration

	procOnce sync.Once
	proc     *process.Process
}

// NewMemoryMonitor creates a monitor. maxMemoryMB <= 0 selects
// DefaultMemoryFraction of the system total.
func NewMemoryMonitor(maxMemoryMB int) *MemoryMonitor {
	m := &MemoryMonitor{
		ceiling: defaultCeiling(),
		poll:    250 * time.Millisecond,
		maxWait: 30 * time.Second,
	}
	if maxMemoryMB > 0 {
		m.ceiling = uint64(maxMemoryMB) << 20
	}
	m.sample = m.processRSS
	return m
}

func defaultCeiling() uint64 {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Total == 0 {
		slog.Debug("system_memory_unknown", slog.Any("error", err))
		return fallbackCeiling
	}
	return uint64(float64(vm.Total) * DefaultMemoryFraction)
}

// processRSS reads the resident set size of this process, falling back to
// the Go runtime's view when the OS query fails.
func (m *MemoryMonitor) processRSS() (uint64, error) {
	m.procOnce.Do(func() {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err == nil {
			m.proc = p
		}
	})
	if m.proc != nil {
		if info, err := m.proc.MemoryInfo(); err == nil {
			return info.RSS, nil
		}
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys, nil
}

// Ceiling returns the limit in bytes.
func (m *MemoryMonitor) Ceiling() uint64 {
	return m.ceiling
}

// Usage returns resident memory as a fraction of the ceiling.
func (m *MemoryMonitor) Usage() float64 {
	rss, err := m.sample()
	if err != nil || m.ceiling == 0 {
		return 0
	}
	return float64(rss) / float64(m.ceiling)
}

// BatchSize returns base, halved when usage is above ReduceBatchAt.
func (m *MemoryMonitor) BatchSize(base int) int {
	if base < 1 {
		base = 1
	}
	if u := m.Usage(); u >= ReduceBatchAt {
		slog.Debug("memory_batch_reduced", slog.Float64("usage", u), slog.Int("batch", max(base/2, 1)))
		return max(base/2, 1)
	}
	return base
}

// WaitForRoom blocks while usage is above PauseAt, for at most the
// monitor's maximum wait. It returns early only when ctx is done.
func (m *MemoryMonitor) WaitForRoom(ctx context.Context) error {
	u := m.Usage()
	if u < PauseAt {
		return nil
	}

	slog.Warn("memory_throttle",
		slog.Float64("usage", u),
		slog.Uint64("ceiling_bytes", m.ceiling))
	runtime.GC()

	deadline := time.Now().Add(m.maxWait)
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if u = m.Usage(); u < PauseAt {
			slog.Info("memory_throttle_released", slog.Float64("usage", u))
			return nil
		}
		if time.Now().After(deadline) {
			slog.Warn("memory_throttle_timeout",
				slog.Float64("usage", u),
				slog.Duration("waited", m.maxWait))
			return nil
		}
	}
}
