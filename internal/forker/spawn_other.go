//go:build !unix

package forker

import "errors"

func (f *Forker) spawn([]int) (int, error) {
	return 0, errors.ErrUnsupported
}
