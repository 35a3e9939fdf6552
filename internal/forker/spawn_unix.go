//go:build unix

package forker

import (
	"fmt"
	"os"
	"syscall"

	"github.com/ifnotnil/daemonize/internal/descriptors"
)

func (f *Forker) spawn(keep []int) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolve executable: %w", err)
	}

	files, err := descriptors.Table(keep)
	if err != nil {
		return 0, err
	}

	wd, err := os.Getwd()
	if err != nil {
		wd = ""
	}

	pid, err := syscall.ForkExec(exe, os.Args, &syscall.ProcAttr{
		Dir:   wd,
		Env:   childEnv(os.Environ(), f.marker),
		Files: files,
	})
	if err != nil {
		return 0, fmt.Errorf("start %s: %w", exe, err)
	}

	return pid, nil
}
