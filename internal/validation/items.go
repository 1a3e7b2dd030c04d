// Package validation converts "did the expected file appear" into typed
// pass/fail results. It is used for task inputs, task and job outputs,
// and the analysis static-file check.
package validation

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/molecpathlab/snsxt/internal/errkind"
)

// Exists reports whether a file or directory exists at path.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Missing returns the subset of paths that do not exist, in input order.
func Missing(paths []string) []string {
	var missing []string
	for _, p := range paths {
		if !Exists(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// ValidateItems checks that every path exists. It returns a single
// ErrOutputFileMissing error naming every missing path, or nil.
// An empty list is valid.
func ValidateItems(paths []string) error {
	return ValidateItemsAs(errkind.ErrOutputFileMissing, paths)
}

// ValidateInputs is ValidateItems for files a task consumes.
func ValidateInputs(paths []string) error {
	return ValidateItemsAs(errkind.ErrInputFileMissing, paths)
}

// ValidateItemsAs checks existence and reports missing paths under kind.
func ValidateItemsAs(kind error, paths []string) error {
	missing := Missing(paths)
	if len(missing) == 0 {
		return nil
	}
	return errkind.New(kind, fmt.Sprintf("%d of %d expected items do not exist", len(missing), len(paths)), missing...)
}

// ValidateFilename rejects names that could escape the directory they are
// joined to. Used for names read from task configs before copying files.
func ValidateFilename(filename string) error {
	if filename == "" {
		return errors.New("filename cannot be empty")
	}
	if strings.ContainsRune(filename, 0) {
		return fmt.Errorf("filename contains null byte: %s", filename)
	}
	if strings.ContainsRune(filename, '/') || strings.ContainsRune(filename, '\\') {
		return fmt.Errorf("filename cannot contain path separators: %s", filename)
	}
	if filename == ".." || filename == "." {
		return fmt.Errorf("filename cannot be %q", filename)
	}
	return nil
}

// ScanMarkers returns up to limit lines of the file at path that contain
// any of markers.
func ScanMarkers(path string, markers []string, limit int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			for _, marker := range markers {
				if marker != "" && strings.Contains(line, marker) {
					lines = append(lines, strings.TrimSpace(line))
					break
				}
			}
			if limit > 0 && len(lines) >= limit {
				return lines, nil
			}
		}
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return lines, err
		}
	}
}
