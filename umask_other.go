//go:build !unix

package daemonize

func umask(int) int { return 0 }
