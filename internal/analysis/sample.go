package analysis

import (
	"fmt"

	"github.com/molecpathlab/snsxt/internal/filescan"
)

// Sample is one specimen within an analysis. It only looks up paths through
// the analysis indexes; it owns nothing.
type Sample struct {
	ID            string
	SearchPattern string

	analysisID string
	resultsID  string
	rootDir    string
	dirs       map[string][]string
	files      map[string][]string
}

func newSample(id string, a *Output) *Sample {
	return &Sample{
		ID:            id,
		SearchPattern: id + "*",
		analysisID:    a.ID,
		resultsID:     a.ResultsID,
		rootDir:       a.RootDir,
		dirs:          a.Dirs,
		files:         a.Files,
	}
}

// AnalysisID returns the owning analysis id.
func (s *Sample) AnalysisID() string { return s.analysisID }

// AnalysisDir returns the owning analysis root.
func (s *Sample) AnalysisDir() string { return s.rootDir }

// StepDir returns the analysis directory for step, or "".
func (s *Sample) StepDir(step string) string {
	return first(s.dirs[step])
}

// File returns an analysis-level file such as targets_bed, or "".
func (s *Sample) File(name string) string {
	return first(s.files[name])
}

// OutputFiles finds this sample's files in a step directory: names that
// match both pattern and the sample's search pattern. A missing step
// directory yields no files.
func (s *Sample) OutputFiles(step, pattern string) ([]string, error) {
	dir := s.StepDir(step)
	if dir == "" {
		return nil, nil
	}
	include := []string{s.SearchPattern}
	if pattern != "" {
		include = append([]string{pattern}, include...)
	}
	return filescan.Find(filescan.Options{
		RootDir:  dir,
		Include:  include,
		Kind:     filescan.KindFile,
		MatchAll: true,
	})
}

// OutputFile is OutputFiles limited to the first match, or "".
func (s *Sample) OutputFile(step, pattern string) (string, error) {
	files, err := s.OutputFiles(step, pattern)
	if err != nil {
		return "", err
	}
	return first(files), nil
}

func (s *Sample) String() string {
	return fmt.Sprintf("sample %s (analysis %s)", s.ID, s.analysisID)
}
