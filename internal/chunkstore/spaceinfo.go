package chunkstore

import (
	"fmt"

	"github.com/shirou/gopsutil/disk"
)

// freeDiskBytes returns the free space of the filesystem holding path.
func freeDiskBytes(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("disk usage for %s: %w", path, err)
	}
	return usage.Free, nil
}
