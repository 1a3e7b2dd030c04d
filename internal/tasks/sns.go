package tasks

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/molecpathlab/snsxt/internal/analysis"
	"github.com/molecpathlab/snsxt/internal/constants"
	"github.com/molecpathlab/snsxt/internal/errkind"
	"github.com/molecpathlab/snsxt/internal/models"
	"github.com/molecpathlab/snsxt/internal/qsub"
	"github.com/molecpathlab/snsxt/internal/shell"
	"github.com/molecpathlab/snsxt/internal/validation"
)

// snsTask wraps one sns pipeline command. The pipeline submits its own
// jobs; they are captured from its stdout.
func snsTask(b *Base, command func(ctx context.Context) (string, error)) *QsubAnalysisTask {
	return &QsubAnalysisTask{
		Base:          b,
		AllowMultiple: true,
		Main: func(ctx context.Context, _ *analysis.Output) ([]*models.Job, error) {
			script, err := command(ctx)
			if err != nil {
				return nil, err
			}
			res, err := b.RunCommand(ctx, b.AnalysisDir(), script)
			if err != nil {
				return nil, err
			}
			return b.catchSnsJobs(res.Stdout), nil
		},
	}
}

// catchSnsJobs turns the "Your job ... has been submitted" lines printed by
// the sns pipeline into tracked jobs logging to logs-qsub.
func (b *Base) catchSnsJobs(stdout string) []*models.Job {
	var jobs []*models.Job
	for _, ref := range qsub.NewOutputParser().FindAllJobIDNames(stdout) {
		job := models.NewJob(ref.ID, ref.Name, b.QsubLogDir())
		job.Task = b.name
		jobs = append(jobs, job)
	}
	b.logger.Debug().Int("jobs", len(jobs)).Msg("Captured jobs from sns output")
	return jobs
}

// NewStartSns sets up a new sns analysis dir: copies the sns repo and the
// targets bed into it, gathers the fastq dirs and generates settings.
//
// Settings: fastq_dirs, targets_bed, genome (default hg19).
func NewStartSns(env *Env, spec Spec) (Task, error) {
	b, err := NewBase(env, "StartSns", spec)
	if err != nil {
		return nil, err
	}
	if err := env.Config.Require("sns_repo_dir"); err != nil {
		return nil, err
	}
	s := b.Settings()
	if err := s.Require("fastq_dirs", "targets_bed"); err != nil {
		return nil, err
	}

	var fastqDirs []string
	for _, d := range s.Strings("fastq_dirs") {
		abs, err := filepath.Abs(d)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve fastq dir %s: %w", d, err)
		}
		fastqDirs = append(fastqDirs, abs)
	}
	targetsBed := s.String("targets_bed")
	genome := s.String("genome")
	if genome == "" {
		genome = "hg19"
	}

	inputs := append(append([]string{}, fastqDirs...), targetsBed, env.Config.SnsRepoDir)
	if err := validation.ValidateInputs(inputs); err != nil {
		return nil, fmt.Errorf("task StartSns: %w", err)
	}

	return snsTask(b, func(ctx context.Context) (string, error) {
		repoCopy := filepath.Join(b.AnalysisDir(), filepath.Base(env.Config.SnsRepoDir))
		b.Logger().Debug().Str("from", env.Config.SnsRepoDir).Str("to", repoCopy).Msg("Copying sns repo")
		if err := copyTree(env.Config.SnsRepoDir, repoCopy); err != nil {
			return "", fmt.Errorf("failed to copy sns repo: %w", err)
		}
		if err := copyFile(targetsBed, filepath.Join(b.AnalysisDir(), filepath.Base(targetsBed))); err != nil {
			return "", err
		}

		var lines []string
		for _, d := range fastqDirs {
			lines = append(lines, "sns/gather-fastqs "+shell.Quote(d))
		}
		lines = append(lines, "sns/generate-settings "+shell.Quote(genome))
		return strings.Join(lines, "\n"), nil
	}), nil
}

// NewSnsWes runs the sns whole exome pipeline.
func NewSnsWes(env *Env, spec Spec) (Task, error) {
	b, err := NewBase(env, "SnsWes", spec)
	if err != nil {
		return nil, err
	}
	return snsTask(b, func(ctx context.Context) (string, error) {
		return "sns/run wes", nil
	}), nil
}

// NewSnsWesPairsSnv runs the sns tumor/normal pairs SNV pipeline. It needs
// samples.pairs.csv in the analysis dir.
func NewSnsWesPairsSnv(env *Env, spec Spec) (Task, error) {
	b, err := NewBase(env, "SnsWesPairsSnv", spec)
	if err != nil {
		return nil, err
	}
	return snsTask(b, func(ctx context.Context) (string, error) {
		pairs := filepath.Join(b.AnalysisDir(), constants.PairsSheetFile)
		if !validation.Exists(pairs) {
			return "", errkind.New(errkind.ErrInputFileMissing, "samples pairs sheet", pairs)
		}
		return "sns/run wes-pairs-snv", nil
	}), nil
}
