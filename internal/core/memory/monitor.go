// Package memory samples system memory usage for admission control.
package memory

import (
	"log/slog"

	"github.com/shirou/gopsutil/v3/mem"
)

// Monitor reports the fraction of system memory currently in use.
// Implementations must be safe for concurrent use.
type Monitor interface {
	// UsedFraction returns current usage in [0, 1].
	UsedFraction() (float64, error)
}

// SystemMonitor reads live usage from the host via gopsutil.
type SystemMonitor struct {
	logger *slog.Logger
}

func NewSystemMonitor(logger *slog.Logger) *SystemMonitor {
	return &SystemMonitor{logger: logger}
}

func (m *SystemMonitor) UsedFraction() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent / 100, nil
}

// OK reports whether usage is below the given threshold. A failed sample
// fails open: jobs are allowed through rather than starving the queue on a
// monitoring error.
func OK(m Monitor, threshold float64) bool {
	used, err := m.UsedFraction()
	if err != nil {
		return true
	}
	return used < threshold
}

var _ Monitor = (*SystemMonitor)(nil)
