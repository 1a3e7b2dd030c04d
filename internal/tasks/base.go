// Package tasks runs the post-processing steps named in a task list. Each
// task is one of four shapes: in-process over the analysis, in-process per
// sample, one scheduler job for the analysis, or one scheduler job per
// sample.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/molecpathlab/snsxt/internal/analysis"
	"github.com/molecpathlab/snsxt/internal/config"
	"github.com/molecpathlab/snsxt/internal/constants"
	"github.com/molecpathlab/snsxt/internal/errkind"
	"github.com/molecpathlab/snsxt/internal/logging"
	"github.com/molecpathlab/snsxt/internal/models"
	"github.com/molecpathlab/snsxt/internal/qsub"
	"github.com/molecpathlab/snsxt/internal/shell"
	"github.com/molecpathlab/snsxt/internal/validation"
)

// Task is one configured unit of post-processing. Run returns the jobs the
// task chose not to wait for; the caller owns tracking them.
type Task interface {
	Name() string
	Run(ctx context.Context) ([]*models.Job, error)

	// ExpectedOutputs lists files the task must have produced. Checked by
	// the task itself after waiting, or by the caller for deferred jobs.
	ExpectedOutputs() ([]string, error)

	// EmailFiles lists files to attach to the run notification.
	EmailFiles() []string
}

// Monitor waits for jobs and validates them.
type Monitor interface {
	MonitorAndValidate(ctx context.Context, jobs []*models.Job) error
}

// Env holds the run-wide collaborators every task uses.
type Env struct {
	Config    *config.Config
	Scheduler qsub.Scheduler
	Tracker   Monitor
	Runner    shell.Runner
	Logger    *logging.Logger
}

// Spec is what a task is built from. Exactly one of Analysis and
// AnalysisDir is set: sns stage tasks run before an analysis exists.
type Spec struct {
	Analysis    *analysis.Output
	AnalysisDir string
	Settings    *config.TaskSettings
}

// Base carries the state shared by every task shape.
type Base struct {
	name        string
	env         *Env
	settings    *config.TaskSettings
	analysis    *analysis.Output
	analysisDir string
	inputDir    string
	outputDir   string
	wait        bool
	logger      *logging.Logger

	skipped map[string]error
}

// NewBase resolves the task's directories and creates its output
// directory. Analysis tasks write to <analysis>/<output_dir_name>, falling
// back to the task name; sns tasks write into the analysis dir itself.
func NewBase(env *Env, name string, spec Spec) (*Base, error) {
	if spec.Analysis != nil && spec.AnalysisDir != "" {
		return nil, errkind.New(errkind.ErrArgument, fmt.Sprintf("task %s: both an analysis and an analysis dir were given", name))
	}
	if spec.Analysis == nil && spec.AnalysisDir == "" {
		return nil, errkind.New(errkind.ErrArgument, fmt.Sprintf("task %s: neither an analysis nor an analysis dir was given", name))
	}
	if env == nil || env.Logger == nil {
		return nil, errkind.New(errkind.ErrArgument, fmt.Sprintf("task %s: environment is not initialized", name))
	}

	settings := spec.Settings
	if settings == nil {
		settings = config.NewTaskSettings(name, nil)
	}

	b := &Base{
		name:     name,
		env:      env,
		settings: settings,
		analysis: spec.Analysis,
		wait:     settings.Bool("qsub_wait", true),
		logger:   env.Logger.Named("task", name),
		skipped:  make(map[string]error),
	}

	if spec.Analysis != nil {
		b.analysisDir = spec.Analysis.RootDir
		dirName := settings.String("output_dir_name")
		if dirName == "" {
			dirName = name
		}
		b.outputDir = filepath.Join(b.analysisDir, dirName)
		if step := settings.String("input_dir"); step != "" {
			b.inputDir = spec.Analysis.Dir(step)
			if b.inputDir == "" {
				b.inputDir = filepath.Join(b.analysisDir, step)
			}
		}
	} else {
		dir, err := filepath.Abs(spec.AnalysisDir)
		if err != nil {
			return nil, fmt.Errorf("task %s: failed to resolve analysis dir: %w", name, err)
		}
		b.analysisDir = dir
		b.outputDir = dir
	}

	if err := os.MkdirAll(b.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("task %s: failed to create output dir: %w", name, err)
	}
	b.logger.Debug().Str("output_dir", b.outputDir).Str("input_dir", b.inputDir).Msg("Task initialized")
	return b, nil
}

// Name returns the task name.
func (b *Base) Name() string { return b.name }

// Settings returns the merged task settings.
func (b *Base) Settings() *config.TaskSettings { return b.settings }

// Analysis returns the analysis, nil for sns stage tasks.
func (b *Base) Analysis() *analysis.Output { return b.analysis }

// AnalysisDir returns the analysis root.
func (b *Base) AnalysisDir() string { return b.analysisDir }

// InputDir returns the resolved input_dir, or "".
func (b *Base) InputDir() string { return b.inputDir }

// OutputDir returns the task output directory. It exists.
func (b *Base) OutputDir() string { return b.outputDir }

// Wait reports whether jobs are waited on inside Run.
func (b *Base) Wait() bool { return b.wait }

// Logger returns the task's logger.
func (b *Base) Logger() *logging.Logger { return b.logger }

// Config returns the run config.
func (b *Base) Config() *config.Config { return b.env.Config }

// QsubLogDir returns where scheduler logs for this task's jobs go.
func (b *Base) QsubLogDir() string {
	if b.analysis != nil {
		return b.analysis.QsubLogDir()
	}
	return filepath.Join(b.analysisDir, constants.QsubLogDir)
}

// OutputPath returns basename inside the output dir.
func (b *Base) OutputPath(basename string) string {
	return filepath.Join(b.outputDir, basename)
}

// SampleOutputPath returns <output_dir>/<sampleID><suffix>. An empty suffix
// uses output_suffix.
func (b *Base) SampleOutputPath(sampleID, suffix string) string {
	if suffix == "" {
		suffix = b.settings.String("output_suffix")
	}
	return filepath.Join(b.outputDir, sampleID+suffix)
}

// SampleInputPath returns <input_dir>/<sampleID><suffix> and an
// ErrInputFileMissing error when it does not exist. An empty suffix uses
// input_suffix.
func (b *Base) SampleInputPath(sampleID, suffix string) (string, error) {
	if suffix == "" {
		suffix = b.settings.String("input_suffix")
	}
	path := filepath.Join(b.inputDir, sampleID+suffix)
	if !validation.Exists(path) {
		return path, errkind.New(errkind.ErrInputFileMissing, fmt.Sprintf("sample %s", sampleID), path)
	}
	return path, nil
}

// ValidateInputDir checks that input_dir, when configured, exists.
func (b *Base) ValidateInputDir() error {
	if b.settings.String("input_dir") == "" {
		return nil
	}
	if err := validation.ValidateInputs([]string{b.inputDir}); err != nil {
		return fmt.Errorf("task %s: %w", b.name, err)
	}
	return nil
}

// ExpectedOutputs lists output_files in the output dir, plus every sample
// crossed with output_suffix and output_suffixes. Skipped samples are left
// out; their failure is already reported.
func (b *Base) ExpectedOutputs() ([]string, error) {
	var expected []string
	for _, f := range b.settings.Strings("output_files") {
		expected = append(expected, b.OutputPath(f))
	}

	var suffixes []string
	if s := b.settings.String("output_suffix"); s != "" {
		suffixes = append(suffixes, s)
	}
	suffixes = append(suffixes, b.settings.Strings("output_suffixes")...)
	if len(suffixes) == 0 || b.analysis == nil {
		return expected, nil
	}

	samples, err := b.analysis.GetSamples()
	if err != nil {
		return nil, err
	}
	for _, sample := range samples {
		if _, skipped := b.skipped[sample.ID]; skipped {
			continue
		}
		for _, suffix := range suffixes {
			expected = append(expected, b.SampleOutputPath(sample.ID, suffix))
		}
	}
	return expected, nil
}

// ValidateOutputs checks that every expected output exists.
func (b *Base) ValidateOutputs() error {
	expected, err := b.ExpectedOutputs()
	if err != nil {
		return err
	}
	if len(expected) == 0 {
		b.logger.Debug().Msg("No expected output files configured")
		return nil
	}
	if err := validation.ValidateItems(expected); err != nil {
		return fmt.Errorf("task %s: %w", b.name, err)
	}
	b.logger.Debug().Int("files", len(expected)).Msg("Task output validated")
	return nil
}

// EmailFiles returns email_files resolved in the output dir. They are not
// checked here; missing ones are dropped before sending.
func (b *Base) EmailFiles() []string {
	var files []string
	for _, f := range b.settings.Strings("email_files") {
		files = append(files, b.OutputPath(f))
	}
	return files
}

// StageReport copies the task's report_files from reports_dir and its
// config file into the output dir.
func (b *Base) StageReport() error {
	reportFiles := b.settings.Strings("report_files")
	if len(reportFiles) == 0 && b.settings.Path == "" {
		return nil
	}

	var sources []string
	for _, f := range reportFiles {
		if err := validation.ValidateFilename(f); err != nil {
			return errkind.New(errkind.ErrArgument, fmt.Sprintf("task %s report_files: %v", b.name, err), f)
		}
		sources = append(sources, filepath.Join(b.env.Config.ReportsDir, f))
	}
	if err := validation.ValidateInputs(sources); err != nil {
		return fmt.Errorf("task %s report files: %w", b.name, err)
	}
	for _, src := range sources {
		if err := copyFile(src, b.OutputPath(filepath.Base(src))); err != nil {
			return err
		}
	}
	if b.settings.Path != "" {
		if err := copyFile(b.settings.Path, b.OutputPath("config.yml")); err != nil {
			return err
		}
	}
	b.logger.Debug().Int("files", len(sources)).Msg("Report files staged")
	return nil
}

// Submit sends command to the scheduler as <task>.<suffix>.
func (b *Base) Submit(ctx context.Context, suffix, command string) (*models.Job, error) {
	if err := os.MkdirAll(b.QsubLogDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create qsub log dir: %w", err)
	}
	job, err := b.env.Scheduler.Submit(ctx, qsub.SubmitRequest{
		Name:    b.name + "." + suffix,
		Command: command,
		LogDir:  b.QsubLogDir(),
		WorkDir: b.outputDir,
		Params:  strings.Fields(b.settings.String("qsub_params")),
	})
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", b.name, err)
	}
	job.Task = b.name
	return job, nil
}

// RunCommand runs script in dir through the shell runner.
func (b *Base) RunCommand(ctx context.Context, dir, script string) (shell.Result, error) {
	res, err := b.env.Runner.Run(ctx, shell.Command{Script: script, Dir: dir})
	if err != nil {
		return res, fmt.Errorf("task %s: %w", b.name, err)
	}
	return res, nil
}

func (b *Base) samples() ([]*analysis.Sample, error) {
	if b.analysis == nil {
		return nil, errkind.New(errkind.ErrArgument, fmt.Sprintf("task %s needs an analysis to list samples", b.name))
	}
	samples, err := b.analysis.GetSamples()
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", b.name, err)
	}
	return samples, nil
}

// skip records a sample that could not be processed.
func (b *Base) skip(sampleID string, err error) {
	b.skipped[sampleID] = err
	b.logger.Error().Err(err).Str("sample", sampleID).Msg("Sample skipped")
}

// SkippedSamples returns the ids of skipped samples, sorted.
func (b *Base) SkippedSamples() []string {
	ids := make([]string, 0, len(b.skipped))
	for id := range b.skipped {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// skippedError joins the per-sample errors under one ErrInputFileMissing
// error naming every skipped sample. Nil when nothing was skipped.
func (b *Base) skippedError() error {
	if len(b.skipped) == 0 {
		return nil
	}
	ids := b.SkippedSamples()
	errs := []error{errkind.New(errkind.ErrInputFileMissing,
		fmt.Sprintf("task %s skipped %d samples", b.name, len(ids)), ids...)}
	for _, id := range ids {
		errs = append(errs, b.skipped[id])
	}
	return errors.Join(errs...)
}

// finish applies the wait or background choice to jobs. Waiting validates
// jobs and outputs now; otherwise the jobs are handed back to the caller.
func (b *Base) finish(ctx context.Context, jobs []*models.Job) ([]*models.Job, error) {
	if len(jobs) > 0 {
		ids := make([]string, len(jobs))
		for i, j := range jobs {
			ids[i] = j.ID
		}
		b.logger.Info().Strs("jobs", ids).Bool("wait", b.wait).Msg("Jobs submitted")
	}

	if !b.wait {
		if err := b.StageReport(); err != nil {
			return jobs, err
		}
		return jobs, nil
	}

	if err := b.env.Tracker.MonitorAndValidate(ctx, jobs); err != nil {
		return nil, err
	}
	if err := b.ValidateOutputs(); err != nil {
		return nil, err
	}
	return nil, b.StageReport()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}

// copyTree copies src into dst, replacing dst if it exists.
func copyTree(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dst, err)
	}
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0755)
		case d.Type()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFile(path, target)
		}
	})
}
