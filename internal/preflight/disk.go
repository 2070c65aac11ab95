package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/ui"
)

// MinDiskSpaceBytes is the minimum required free disk space (100MB).
const MinDiskSpaceBytes = 100 * 1024 * 1024

// CheckDiskSpace checks the free space on the filesystem holding path. A
// path that does not exist yet is measured at its nearest existing parent.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{
		Name:     "disk_space",
		Required: true,
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(existingParent(path), &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	available := int64(stat.Bavail) * int64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: 100 MB)", ui.FormatBytes(available))
	result.Status = StatusPass
	if available < MinDiskSpaceBytes {
		result.Status = StatusFail
	}
	return result
}

// CheckWritePermissions creates dir if needed and writes a marker file into it.
func (c *Checker) CheckWritePermissions(dir string) CheckResult {
	result := CheckResult{
		Name:     "write_permissions",
		Required: true,
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}

	f, err := os.CreateTemp(dir, ".assistchat-preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	result.Status = StatusPass
	result.Message = "OK"
	result.Details = dir
	return result
}

func existingParent(path string) string {
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
