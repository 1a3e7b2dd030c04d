// Package analysis models one sns pipeline output directory: where its
// step directories and static files are, which samples it contains, and
// whether it is complete enough to run tasks against.
package analysis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/molecpathlab/snsxt/internal/constants"
	"github.com/molecpathlab/snsxt/internal/errkind"
	"github.com/molecpathlab/snsxt/internal/filescan"
	"github.com/molecpathlab/snsxt/internal/logging"
	"github.com/molecpathlab/snsxt/internal/validation"
)

// IndexEntry describes the files expected inside one step directory.
type IndexEntry struct {
	FileTypes    []string `yaml:"file_types"`
	FilePatterns []string `yaml:"file_patterns"`
}

// OutputIndex maps expected step directory names to their file shapes.
type OutputIndex map[string]IndexEntry

// parentKey in an output index describes the analysis root itself.
const parentKey = "_parent"

// Options tunes discovery and validation.
type Options struct {
	ErrorMarkers []string // default constants.DefaultErrorMarkers
	Logger       *logging.Logger
}

// staticFiles are required in every analysis root, keyed by Files name.
var staticFiles = []struct {
	key  string
	name string
}{
	{constants.FileKeyPairsSheet, constants.PairsSheetFile},
	{constants.FileKeyFastqManifest, constants.FastqManifestFile},
	{constants.FileKeySettings, constants.SettingsFile},
	{constants.FileKeySummary, constants.SummaryCombinedWES},
}

// Output is one pipeline run.
type Output struct {
	ID        string
	ResultsID string
	RootDir   string
	Index     OutputIndex

	// Files and Dirs are filled by discovery; a missing entry maps to an
	// empty list.
	Files map[string][]string
	Dirs  map[string][]string

	markers     []string
	logger      *logging.Logger
	isValid     bool
	validations map[string]bool
	logErrors   []string
}

// NewAnalysisOutput resolves dir and runs discovery. A missing root dir is
// not an error here; Validate reports it.
func NewAnalysisOutput(dir, id, resultsID string, index OutputIndex, opts Options) (*Output, error) {
	if dir == "" {
		return nil, errkind.New(errkind.ErrArgument, "analysis directory is required")
	}
	if id == "" {
		return nil, errkind.New(errkind.ErrArgument, "analysis id is required")
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve analysis directory: %w", err)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if len(opts.ErrorMarkers) == 0 {
		opts.ErrorMarkers = constants.DefaultErrorMarkers
	}

	a := &Output{
		ID:        id,
		ResultsID: resultsID,
		RootDir:   root,
		Index:     index,
		markers:   opts.ErrorMarkers,
		logger:    opts.Logger.Named("analysis", id),
	}
	if err := a.Discover(); err != nil {
		return nil, err
	}
	return a, nil
}

// Discover (re)builds Files and Dirs from the directory tree.
func (a *Output) Discover() error {
	a.Files = make(map[string][]string)
	a.Dirs = make(map[string][]string)

	for _, sf := range staticFiles {
		a.Files[sf.key] = []string{filepath.Join(a.RootDir, sf.name)}
	}

	if !validation.Exists(a.RootDir) {
		a.logger.Warn().Str("dir", a.RootDir).Msg("Analysis directory does not exist")
		return nil
	}

	bed, err := filescan.Find(filescan.Options{
		RootDir:    a.RootDir,
		Include:    []string{"*.bed"},
		Exclude:    []string{"*.pad10.bed"},
		Kind:       filescan.KindFile,
		MaxResults: 1,
		MaxDepth:   filescan.Depth(0),
	})
	if err != nil {
		return fmt.Errorf("failed to search for targets bed: %w", err)
	}
	a.Files[constants.FileKeyTargetsBed] = bed

	for _, name := range a.stepNames() {
		found, err := filescan.Find(filescan.Options{
			RootDir:    a.RootDir,
			Include:    []string{name},
			Kind:       filescan.KindDir,
			MaxResults: 1,
			MaxDepth:   filescan.Depth(0),
		})
		if err != nil {
			return fmt.Errorf("failed to search for %s: %w", name, err)
		}
		a.Dirs[name] = found
		if len(found) == 0 {
			a.logger.Debug().Str("step", name).Msg("Step directory not found")
		}
	}
	return nil
}

func (a *Output) stepNames() []string {
	names := make([]string, 0, len(a.Index))
	for name := range a.Index {
		if name != parentKey {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// File returns the first path registered under name, or "".
func (a *Output) File(name string) string {
	return first(a.Files[name])
}

// Dir returns the first directory found for step name, or "".
func (a *Output) Dir(name string) string {
	return first(a.Dirs[name])
}

// QsubLogDir returns the scheduler log directory, falling back to the
// conventional location when the index does not list it.
func (a *Output) QsubLogDir() string {
	if dir := a.Dir(constants.QsubLogDir); dir != "" {
		return dir
	}
	return filepath.Join(a.RootDir, constants.QsubLogDir)
}

// StepFiles lists files in a step directory matching the index entry's
// file types and patterns.
func (a *Output) StepFiles(step string) ([]string, error) {
	dir := a.Dir(step)
	if dir == "" {
		return nil, nil
	}
	entry := a.Index[step]
	include := append([]string{}, entry.FilePatterns...)
	for _, ext := range entry.FileTypes {
		include = append(include, "*"+ext)
	}
	return filescan.Find(filescan.Options{RootDir: dir, Include: include, Kind: filescan.KindFile})
}

// Validate runs every check and records the per-check results. The analysis
// is valid only when all checks pass.
func (a *Output) Validate() bool {
	checks := make(map[string]bool)
	checks["dir_exists"] = validation.Exists(a.RootDir)

	var missing []string
	for _, sf := range staticFiles {
		ok := validation.Exists(a.File(sf.key))
		checks[sf.name] = ok
		if !ok {
			missing = append(missing, a.File(sf.key))
		}
	}

	a.logErrors = a.scanQsubLogs()
	checks["no_qsub_log_errors"] = len(a.logErrors) == 0

	valid := true
	for _, ok := range checks {
		valid = valid && ok
	}
	a.validations = checks
	a.isValid = valid

	if len(missing) > 0 {
		a.logger.Warn().Strs("missing", missing).Msg("Static analysis files are missing")
	}
	if len(a.logErrors) > 0 {
		a.logger.Warn().Strs("logs", a.logErrors).Msg("Error messages were found in qsub logs")
	}
	a.logger.Info().Bool("valid", valid).Msg("Analysis validation finished")
	return valid
}

// ValidationError returns an ErrAnalysisInvalid error naming the failed
// checks, or nil when the last Validate passed.
func (a *Output) ValidationError() error {
	if a.validations == nil {
		a.Validate()
	}
	if a.isValid {
		return nil
	}
	var failed []string
	for name, ok := range a.validations {
		if !ok {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return errkind.New(errkind.ErrAnalysisInvalid, a.RootDir, failed...)
}

// IsValid returns the result of the last Validate call.
func (a *Output) IsValid() bool {
	return a.isValid
}

// Validations returns a copy of the per-check results of the last Validate.
func (a *Output) Validations() map[string]bool {
	out := make(map[string]bool, len(a.validations))
	for k, v := range a.validations {
		out[k] = v
	}
	return out
}

// LogErrors returns the qsub log files that contained an error marker.
func (a *Output) LogErrors() []string {
	return a.logErrors
}

func (a *Output) scanQsubLogs() []string {
	dir := a.QsubLogDir()
	if !validation.Exists(dir) {
		return nil
	}
	logs, err := filescan.Find(filescan.Options{RootDir: dir, Kind: filescan.KindFile})
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to list qsub logs")
		return nil
	}

	var flagged []string
	for _, path := range logs {
		lines, err := validation.ScanMarkers(path, a.markers, 1)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn().Err(err).Str("log", path).Msg("Failed to read qsub log")
			flagged = append(flagged, path)
			continue
		}
		if len(lines) > 0 {
			flagged = append(flagged, path)
		}
	}
	return flagged
}

// SampleIDs reads the unique sample ids from the first column of the raw
// fastq manifest, in first-seen order.
func (a *Output) SampleIDs() ([]string, error) {
	manifest := a.File(constants.FileKeyFastqManifest)
	file, err := os.Open(manifest)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errkind.New(errkind.ErrInputFileMissing, "raw fastq manifest", manifest)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open fastq manifest: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	seen := make(map[string]bool)
	var ids []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read fastq manifest: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		id := strings.TrimSpace(record[0])
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// GetSamples returns one Sample per unique id in the raw fastq manifest.
// Each call builds new Sample values.
func (a *Output) GetSamples() ([]*Sample, error) {
	ids, err := a.SampleIDs()
	if err != nil {
		return nil, err
	}
	samples := make([]*Sample, 0, len(ids))
	for _, id := range ids {
		samples = append(samples, newSample(id, a))
	}
	return samples, nil
}

func (a *Output) String() string {
	return fmt.Sprintf("analysis %s (%s) at %s", a.ID, a.ResultsID, a.RootDir)
}

func first(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}
