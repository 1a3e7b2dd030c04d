// Package filescan implements pattern-based discovery of files and
// directories inside a pipeline output tree.
package filescan

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/molecpathlab/snsxt/internal/errkind"
)

// Kind selects which directory entries a search returns.
type Kind string

const (
	KindFile Kind = "file"
	KindDir  Kind = "dir"
	KindAny  Kind = "any"
)

// Options configures a Find call.
type Options struct {
	RootDir string   // Directory to search; must exist
	Include []string // Glob patterns, default {"*"}
	Exclude []string // Glob patterns removed from the include set
	Kind    Kind     // file, dir, or any; empty means any

	// MatchAll requires a name to match every include pattern instead of any.
	MatchAll bool

	// MaxResults truncates the returned list; 0 means unlimited.
	// The walk itself still visits the whole tree.
	MaxResults int

	// MaxDepth limits recursion: 0 searches only the immediate children of
	// RootDir. nil means unlimited.
	MaxDepth *int
}

// Depth is a helper for building Options.MaxDepth.
func Depth(n int) *int {
	return &n
}

// Find walks opts.RootDir and returns the paths whose base name is in the
// include set minus the exclude set. Results are ordered by walk order:
// a directory's matches (sorted by name) come before those of its subdirectories.
func Find(opts Options) ([]string, error) {
	kind := opts.Kind
	if kind == "" {
		kind = KindAny
	}
	switch kind {
	case KindFile, KindDir, KindAny:
	default:
		return nil, errkind.Newf(errkind.ErrArgument, "unrecognized search kind %q", string(opts.Kind))
	}

	include := opts.Include
	if len(include) == 0 {
		include = []string{"*"}
	}
	if err := checkPatterns(include); err != nil {
		return nil, err
	}
	if err := checkPatterns(opts.Exclude); err != nil {
		return nil, err
	}

	info, err := os.Stat(opts.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat search root: %w", err)
	}
	if !info.IsDir() {
		return nil, errkind.Newf(errkind.ErrArgument, "search root is not a directory: %s", opts.RootDir)
	}

	s := &search{
		include:  include,
		exclude:  opts.Exclude,
		kind:     kind,
		matchAll: opts.MatchAll,
		maxDepth: opts.MaxDepth,
	}
	if err := s.walk(opts.RootDir, 0); err != nil {
		return nil, err
	}

	if opts.MaxResults > 0 && len(s.matches) > opts.MaxResults {
		return s.matches[:opts.MaxResults], nil
	}
	return s.matches, nil
}

// First returns the first match or "" when nothing matched.
func First(opts Options) (string, error) {
	matches, err := Find(opts)
	if err != nil || len(matches) == 0 {
		return "", err
	}
	return matches[0], nil
}

// Match reports whether name survives the include/exclude filter.
func Match(name string, include, exclude []string, matchAll bool) bool {
	if len(include) == 0 {
		include = []string{"*"}
	}
	if !matchPatterns(name, include, matchAll) {
		return false
	}
	return !matchPatterns(name, exclude, false)
}

type search struct {
	include  []string
	exclude  []string
	kind     Kind
	matchAll bool
	maxDepth *int
	matches  []string
}

func (s *search) walk(dir string, depth int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var subdirs []string
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		isDir := entry.IsDir()
		if entry.Type()&os.ModeSymlink != 0 {
			if info, err := os.Stat(path); err == nil {
				isDir = info.IsDir()
			}
		}

		if s.wants(isDir) && Match(entry.Name(), s.include, s.exclude, s.matchAll) {
			s.matches = append(s.matches, path)
		}
		// symlinked dirs are reported but not descended into
		if entry.IsDir() {
			subdirs = append(subdirs, path)
		}
	}

	if s.maxDepth != nil && depth >= *s.maxDepth {
		return nil
	}
	for _, sub := range subdirs {
		if err := s.walk(sub, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (s *search) wants(isDir bool) bool {
	switch s.kind {
	case KindFile:
		return !isDir
	case KindDir:
		return isDir
	default:
		return true
	}
}

func matchPatterns(name string, patterns []string, all bool) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, p := range patterns {
		ok, _ := filepath.Match(p, name)
		if all && !ok {
			return false
		}
		if !all && ok {
			return true
		}
	}
	return all
}

func checkPatterns(patterns []string) error {
	for _, p := range patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return errkind.Newf(errkind.ErrArgument, "invalid pattern %q: %v", p, err)
		}
	}
	return nil
}
