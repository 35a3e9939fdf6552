//go:build !unix

package session

import "errors"

type Detacher struct{}

func (Detacher) Detach() error {
	return errors.ErrUnsupported
}

func IsLeader() bool { return false }
