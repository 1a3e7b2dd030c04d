// Package diskspace checks free space on the filesystem that will hold an
// analysis before the sns pipeline starts writing into it.
package diskspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  uint64
	AvailableBytes uint64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space for %s: need %s, have %s available",
		e.Path, humanize.IBytes(e.RequiredBytes), humanize.IBytes(e.AvailableBytes))
}

// Check returns an InsufficientSpaceError when the filesystem holding path
// has less than required bytes free. path may not exist yet; its nearest
// existing parent is checked. Filesystems that cannot be queried pass.
func Check(path string, required uint64) error {
	if required == 0 {
		return nil
	}
	avail, err := Available(path)
	if err != nil {
		return nil
	}
	if avail < required {
		return &InsufficientSpaceError{Path: path, RequiredBytes: required, AvailableBytes: avail}
	}
	return nil
}

// Available returns the bytes available to unprivileged users on the
// filesystem holding path or its nearest existing parent.
func Available(path string) (uint64, error) {
	dir, err := existingParent(path)
	if err != nil {
		return 0, err
	}
	return available(dir)
}

// IsInsufficientSpaceError checks if an error is an InsufficientSpaceError.
func IsInsufficientSpaceError(err error) bool {
	var target *InsufficientSpaceError
	return errors.As(err, &target)
}

func existingParent(path string) (string, error) {
	current, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(current); err == nil {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing parent for %s", path)
		}
		current = parent
	}
}
