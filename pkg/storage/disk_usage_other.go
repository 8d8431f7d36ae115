//go:build !(linux || darwin || freebsd)

package storage

import (
	"fmt"
	"runtime"
)

func diskUsage(path string) (total, available int64, err error) {
	return 0, 0, fmt.Errorf("free capacity of %s is not supported on %s", path, runtime.GOOS)
}
