//go:build windows

package diskspace

import "errors"

func available(dir string) (uint64, error) {
	return 0, errors.New("free space check not supported on this platform")
}
