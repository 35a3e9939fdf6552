package daemonize

import "os"

// system is the slice of process state the supervisor changes directly.
type system interface {
	Umask(mask int) int
	Chdir(dir string) error
	Exit(code int)
}

type std struct{}

func (std) Umask(mask int) int {
	return umask(mask)
}

func (std) Chdir(dir string) error {
	return os.Chdir(dir)
}

func (std) Exit(code int) {
	os.Exit(code)
}
