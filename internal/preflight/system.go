package preflight

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

const (
	// MinDiskSpaceBytes is the free space required on the store volume.
	MinDiskSpaceBytes = 100 << 20

	// MinMemoryBytes is the available memory required to index.
	MinMemoryBytes = 1 << 30

	// MinFileDescriptors is the open file limit required by watch mode.
	MinFileDescriptors = 1024
)

// CheckDiskSpace checks free space on the volume holding the store root.
func (c *Checker) CheckDiskSpace() CheckResult {
	result := CheckResult{Name: "disk_space", Required: true}

	free, err := c.probes.FreeDisk(existingParent(c.storeRoot))
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%s free (minimum: %s)", FormatBytes(free), FormatBytes(MinDiskSpaceBytes))
	if free < MinDiskSpaceBytes {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}

// CheckMemory checks available system memory.
func (c *Checker) CheckMemory() CheckResult {
	result := CheckResult{Name: "memory", Required: true}

	avail, err := c.probes.AvailableMem()
	if err != nil {
		// The indexer falls back to a fixed ceiling in this case.
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("failed to read system memory: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%s available (minimum: %s)", FormatBytes(avail), FormatBytes(MinMemoryBytes))
	if avail < MinMemoryBytes {
		result.Status = StatusFail
		result.Details = "Lower index.max_memory_mb or close other programs"
		return result
	}
	result.Status = StatusPass
	return result
}

// CheckFileDescriptors checks the open file limit.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors", Required: true}

	limit, err := c.probes.FileLimit()
	if errors.Is(err, errors.ErrUnsupported) {
		result.Status = StatusPass
		result.Message = "not limited on this platform"
		return result
	}
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", limit, MinFileDescriptors)
	if limit < MinFileDescriptors {
		result.Status = StatusFail
		result.Details = "Run 'ulimit -n 10240' to increase the limit"
		return result
	}
	result.Status = StatusPass
	return result
}

func freeDisk(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

func availableMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// existingParent walks up from path to the nearest directory that exists,
// so a store that was never created is measured on its future volume.
func existingParent(path string) string {
	for {
		if _, err := os.Stat(path); err == nil || !errors.Is(err, fs.ErrNotExist) {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
