//go:build !unix

package descriptors

import "errors"

func Table(keep []int) ([]uintptr, error) {
	return nil, errors.ErrUnsupported
}

type Sanitizer struct{}

func (Sanitizer) Sanitize(keep []int) error {
	return errors.ErrUnsupported
}
