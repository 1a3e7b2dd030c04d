package tasks

import (
	"context"
	"fmt"
	"os"

	"github.com/molecpathlab/snsxt/internal/analysis"
	"github.com/molecpathlab/snsxt/internal/models"
	"github.com/molecpathlab/snsxt/internal/shell"
)

// NewDemoQsubAnalysisTask submits one job that creates foo.txt and bar.txt
// in the output dir. Setting: sleep (seconds, default 10).
func NewDemoQsubAnalysisTask(env *Env, spec Spec) (Task, error) {
	b, err := NewBase(env, "DemoQsubAnalysisTask", spec)
	if err != nil {
		return nil, err
	}
	return &QsubAnalysisTask{
		Base: b,
		Main: func(ctx context.Context, a *analysis.Output) ([]*models.Job, error) {
			command := fmt.Sprintf("touch %s; touch %s; sleep %d",
				shell.Quote(b.OutputPath("foo.txt")), shell.Quote(b.OutputPath("bar.txt")),
				b.Settings().Int("sleep", 10))
			job, err := b.Submit(ctx, a.ID, command)
			if err != nil {
				return nil, err
			}
			return []*models.Job{job}, nil
		},
	}, nil
}

// NewDemoQsubSampleTask submits one job per sample that has an input file
// matching input_suffix in input_dir.
func NewDemoQsubSampleTask(env *Env, spec Spec) (Task, error) {
	b, err := NewBase(env, "DemoQsubSampleTask", spec)
	if err != nil {
		return nil, err
	}
	return &QsubSampleTask{
		Base: b,
		Main: func(ctx context.Context, sample *analysis.Sample) (*models.Job, error) {
			input, err := b.SampleInputPath(sample.ID, "")
			if err != nil {
				return nil, err
			}
			command := fmt.Sprintf("echo %s; sleep %d", shell.Quote(input), b.Settings().Int("sleep", 20))
			return b.Submit(ctx, sample.ID, command)
		},
	}, nil
}

// NewDemoAnalysisSampleTask checks each sample's input file and writes an
// empty <sample>.txt to the output dir.
func NewDemoAnalysisSampleTask(env *Env, spec Spec) (Task, error) {
	b, err := NewBase(env, "DemoAnalysisSampleTask", spec)
	if err != nil {
		return nil, err
	}
	return &AnalysisSampleTask{
		Base: b,
		Main: func(ctx context.Context, sample *analysis.Sample) error {
			if _, err := b.SampleInputPath(sample.ID, ""); err != nil {
				return err
			}
			out := b.SampleOutputPath(sample.ID, ".txt")
			b.Logger().Debug().Str("sample", sample.ID).Str("output", out).Msg("Creating output file")
			return os.WriteFile(out, nil, 0644)
		},
	}, nil
}
