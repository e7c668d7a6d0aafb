package storage

import (
	"fmt"
	"os"
	"syscall"
)

// lockChart takes an exclusive flock on the sidecar lock file of a chart so
// that concurrent imports of the same patient do not interleave writes.
// The returned function releases the lock.
func lockChart(chartPath string) (unlock func() error, err error) {
	f, err := os.OpenFile(chartPath+".lock", os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening chart lock: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("locking chart: %w", err)
	}
	return func() error {
		defer f.Close()
		return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}, nil
}
