package tasks

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/molecpathlab/snsxt/internal/analysis"
	"github.com/molecpathlab/snsxt/internal/shell"
	"github.com/molecpathlab/snsxt/internal/validation"
)

// NewSummaryAvgCoverage runs the average coverage summary script over the
// task's input dir, then annotates the resulting bed files when an
// annotation script is configured.
//
// Settings: input_dir, run_script (relative to tasks_scripts_dir), and
// optionally annotation_script, ANNOVAR_bin_dir, ANNOVAR_db_dir,
// ANNOVAR_genome.
func NewSummaryAvgCoverage(env *Env, spec Spec) (Task, error) {
	b, err := NewBase(env, "SummaryAvgCoverage", spec)
	if err != nil {
		return nil, err
	}
	s := b.Settings()
	if err := s.Require("input_dir", "run_script"); err != nil {
		return nil, err
	}
	script := scriptPath(b, s.String("run_script"))

	return &AnalysisTask{
		Base: b,
		Main: func(ctx context.Context, _ *analysis.Output) error {
			if err := validation.ValidateInputs([]string{script}); err != nil {
				return err
			}
			command := shell.QuoteAll(script, "-d", b.InputDir(), "-o", b.OutputDir())
			if _, err := b.RunCommand(ctx, filepath.Dir(script), command); err != nil {
				return err
			}
			return b.Annotate(ctx, b.OutputDir())
		},
	}, nil
}

// Annotate runs the configured ANNOVAR annotation script over every bed
// file in dir. It does nothing when annotation_script is not set.
func (b *Base) Annotate(ctx context.Context, dir string) error {
	s := b.Settings()
	if !s.Has("annotation_script") {
		return nil
	}
	if err := s.Require("ANNOVAR_bin_dir", "ANNOVAR_db_dir", "ANNOVAR_genome"); err != nil {
		return err
	}
	script := scriptPath(b, s.String("annotation_script"))
	if err := validation.ValidateInputs([]string{script}); err != nil {
		return fmt.Errorf("annotation: %w", err)
	}

	command := shell.QuoteAll(script,
		"-d", dir,
		"--bin-dir", s.String("ANNOVAR_bin_dir"),
		"--db-dir", s.String("ANNOVAR_db_dir"),
		"--genome", s.String("ANNOVAR_genome"))
	b.Logger().Debug().Str("dir", dir).Msg("Annotating bed files")
	_, err := b.RunCommand(ctx, dir, command)
	return err
}

func scriptPath(b *Base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(b.Config().TasksScriptsDir, path)
}
