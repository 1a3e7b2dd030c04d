package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/molecpathlab/snsxt/internal/analysis"
	"github.com/molecpathlab/snsxt/internal/errkind"
	"github.com/molecpathlab/snsxt/internal/models"
)

// AnalysisTask runs Main once, in-process, against the whole analysis.
type AnalysisTask struct {
	*Base
	Main func(ctx context.Context, a *analysis.Output) error
}

func (t *AnalysisTask) Run(ctx context.Context) ([]*models.Job, error) {
	if err := t.ValidateInputDir(); err != nil {
		return nil, err
	}
	if err := t.Main(ctx, t.analysis); err != nil {
		return nil, fmt.Errorf("task %s: %w", t.name, err)
	}
	if err := t.ValidateOutputs(); err != nil {
		return nil, err
	}
	return nil, t.StageReport()
}

// AnalysisSampleTask runs Main once per sample, sequentially, in-process.
//
// A sample whose Main returns an ErrInputFileMissing error is skipped and
// the remaining samples still run. The task then fails with an
// ErrInputFileMissing error naming every skipped sample. Any other error
// stops the task.
type AnalysisSampleTask struct {
	*Base
	Main func(ctx context.Context, s *analysis.Sample) error
}

func (t *AnalysisSampleTask) Run(ctx context.Context) ([]*models.Job, error) {
	if err := t.ValidateInputDir(); err != nil {
		return nil, err
	}
	samples, err := t.samples()
	if err != nil {
		return nil, err
	}
	for _, sample := range samples {
		t.logger.Debug().Str("sample", sample.ID).Msg("Running task on sample")
		if err := t.Main(ctx, sample); err != nil {
			if errkind.IsInputMissing(err) {
				t.skip(sample.ID, err)
				continue
			}
			return nil, fmt.Errorf("task %s sample %s: %w", t.name, sample.ID, err)
		}
	}
	if err := t.ValidateOutputs(); err != nil {
		return nil, errors.Join(err, t.skippedError())
	}
	if err := t.StageReport(); err != nil {
		return nil, err
	}
	return nil, t.skippedError()
}

// QsubAnalysisTask submits work for the whole analysis. Main gets a nil
// analysis for sns stage tasks. It returns at most one job unless AllowMultiple is set, as for sns pipeline stages that
// launch many jobs from one command.
type QsubAnalysisTask struct {
	*Base
	Main          func(ctx context.Context, a *analysis.Output) ([]*models.Job, error)
	AllowMultiple bool
}

func (t *QsubAnalysisTask) Run(ctx context.Context) ([]*models.Job, error) {
	if err := t.ValidateInputDir(); err != nil {
		return nil, err
	}
	jobs, err := t.Main(ctx, t.analysis)
	if err != nil {
		return jobs, fmt.Errorf("task %s: %w", t.name, err)
	}
	if len(jobs) > 1 && !t.AllowMultiple {
		return jobs, errkind.New(errkind.ErrArgument,
			fmt.Sprintf("task %s returned %d jobs, expected at most one", t.name, len(jobs)))
	}
	return t.finish(ctx, jobs)
}

// QsubSampleTask submits one job per sample, in sample order, then waits
// on or defers all of them together. Samples are isolated the same way as
// in AnalysisSampleTask.
type QsubSampleTask struct {
	*Base
	Main func(ctx context.Context, s *analysis.Sample) (*models.Job, error)
}

func (t *QsubSampleTask) Run(ctx context.Context) ([]*models.Job, error) {
	if err := t.ValidateInputDir(); err != nil {
		return nil, err
	}
	samples, err := t.samples()
	if err != nil {
		return nil, err
	}

	var jobs []*models.Job
	for _, sample := range samples {
		job, err := t.Main(ctx, sample)
		if err != nil {
			if errkind.IsInputMissing(err) {
				t.skip(sample.ID, err)
				continue
			}
			// already submitted jobs cannot be withdrawn; hand them back
			return jobs, fmt.Errorf("task %s sample %s: %w", t.name, sample.ID, err)
		}
		if job != nil {
			jobs = append(jobs, job)
		}
	}

	deferred, err := t.finish(ctx, jobs)
	return deferred, errors.Join(err, t.skippedError())
}
