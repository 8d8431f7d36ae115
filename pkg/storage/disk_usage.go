//go:build linux || darwin || freebsd

package storage

import (
	"fmt"
	"syscall"
)

// diskUsage returns the total and available bytes of the filesystem holding path.
func diskUsage(path string) (total, available int64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}

	total = int64(stat.Blocks) * int64(stat.Bsize)
	available = int64(stat.Bavail) * int64(stat.Bsize)
	return total, available, nil
}
