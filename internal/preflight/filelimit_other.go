//go:build !unix

package preflight

import "errors"

func fileLimit() (uint64, error) {
	return 0, errors.ErrUnsupported
}
