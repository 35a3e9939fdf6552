//go:build unix

// Package descriptors controls which file descriptors a daemon process carries.
//
// Sanitization happens in two halves. Table builds the descriptor table a re-executed child starts with, so only
// the standard streams and the allow-listed descriptors cross the exec boundary at their original numbers.
// Sanitize runs inside the child and closes whatever was still inherited, then points the standard streams at the
// null device.
package descriptors

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"golang.org/x/sys/unix"
)

// closed marks a slot of the exec-time table that the kernel must close in the child.
const closed = ^uintptr(0)

// scanCeiling bounds the descriptor scan when the platform cannot list open descriptors directly.
const scanCeiling = 1 << 16

// Table returns the exec-time descriptor table for keep. Index i holds the parent descriptor that becomes
// descriptor i in the child. Slots 0, 1 and 2 carry the parent's standard streams so failures that happen before
// Sanitize are still visible.
func Table(keep []int) ([]uintptr, error) {
	files := make([]uintptr, 0, 3+len(keep))
	for fd := 0; fd <= 2; fd++ {
		if isOpen(fd) {
			files = append(files, uintptr(fd))
		} else {
			files = append(files, closed)
		}
	}

	for _, fd := range normalize(keep) {
		if fd < 0 {
			return nil, fmt.Errorf("invalid descriptor %d", fd)
		}
		if fd <= 2 {
			continue
		}
		if !isOpen(fd) {
			return nil, fmt.Errorf("descriptor %d: %w", fd, unix.EBADF)
		}
		for len(files) <= fd {
			files = append(files, closed)
		}
		files[fd] = uintptr(fd)
	}

	return files, nil
}

// Sanitizer closes inherited descriptors and attaches the null device to the standard streams.
type Sanitizer struct{}

// Sanitize closes every open descriptor above 2 that is not in keep and was inherited across exec, ignoring close
// errors. Descriptors flagged close-on-exec are left alone: in a Go process they belong to the runtime (netpoller,
// signal handling) or were opened by this very process image. Afterwards the null device is attached to every
// standard stream slot that is not in keep.
func (Sanitizer) Sanitize(keep []int) error {
	kept := make(map[int]struct{}, len(keep))
	for _, fd := range keep {
		kept[fd] = struct{}{}
	}

	for _, fd := range openDescriptors(ceiling()) {
		if fd <= 2 {
			continue
		}
		if _, ok := kept[fd]; ok {
			continue
		}
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
		if err != nil || flags&unix.FD_CLOEXEC != 0 {
			continue
		}
		_ = unix.Close(fd)
	}

	return attachNull(kept)
}

func attachNull(kept map[int]struct{}) error {
	null, err := unix.Open(os.DevNull, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}

	var errs []error
	for fd := 0; fd <= 2; fd++ {
		if _, ok := kept[fd]; ok {
			continue
		}
		if fd == null {
			// the null device landed on a free standard slot, it only needs to lose close-on-exec.
			if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, 0); err != nil {
				errs = append(errs, fmt.Errorf("descriptor %d: %w", fd, err))
			}
			continue
		}
		if err := unix.Dup2(null, fd); err != nil {
			errs = append(errs, fmt.Errorf("attach %s to descriptor %d: %w", os.DevNull, fd, err))
		}
	}

	if null > 2 {
		_ = unix.Close(null)
	}

	return errors.Join(errs...)
}

// ceiling returns the soft RLIMIT_NOFILE, the upper bound of usable descriptor numbers.
func ceiling() int {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil || rl.Cur > 1<<31-1 {
		return scanCeiling
	}

	return int(rl.Cur)
}

func isOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

func normalize(keep []int) []int {
	out := slices.Clone(keep)
	slices.Sort(out)
	return slices.Compact(out)
}
