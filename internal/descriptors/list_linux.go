package descriptors

import (
	"os"
	"strconv"
)

// openDescriptors lists the descriptors below limit from /proc/self/fd, falling back to a full scan when procfs is
// not mounted.
func openDescriptors(limit int) []int {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return scan(limit)
	}

	fds := make([]int, 0, len(entries))
	for _, e := range entries {
		fd, err := strconv.Atoi(e.Name())
		if err != nil || fd >= limit {
			continue
		}
		fds = append(fds, fd)
	}

	return fds
}
