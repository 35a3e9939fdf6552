//go:build unix

package descriptors

func scan(limit int) []int {
	if limit > scanCeiling {
		limit = scanCeiling
	}

	var fds []int
	for fd := 0; fd < limit; fd++ {
		if isOpen(fd) {
			fds = append(fds, fd)
		}
	}

	return fds
}
