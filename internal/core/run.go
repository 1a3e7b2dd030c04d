package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/molecpathlab/snsxt/internal/analysis"
	"github.com/molecpathlab/snsxt/internal/models"
	"github.com/molecpathlab/snsxt/internal/report"
	"github.com/molecpathlab/snsxt/internal/tasks"
	"github.com/molecpathlab/snsxt/internal/validation"
)

// RunContext is the state of one run shared across its tasks: the jobs
// tasks chose not to wait for, the outputs those jobs owe, and the files
// to attach to the notification. Tasks run one at a time; the mutex only
// guards readers such as event subscribers.
type RunContext struct {
	ID          string
	StartedAt   time.Time
	AnalysisID  string
	ResultsID   string
	AnalysisDir string

	Analysis *analysis.Output
	Report   *report.Result
	TasksRun []string

	mu                sync.Mutex
	backgroundJobs    []*models.Job
	backgroundOutputs []string
	emailFiles        []string
	drained           bool
}

// NewRunContext starts a run with a fresh id.
func NewRunContext(analysisDir, analysisID, resultsID string) *RunContext {
	return &RunContext{
		ID:          uuid.New().String(),
		StartedAt:   time.Now(),
		AnalysisID:  analysisID,
		ResultsID:   resultsID,
		AnalysisDir: analysisDir,
	}
}

// AddBackground records deferred jobs and the outputs to check once they
// have finished.
func (rc *RunContext) AddBackground(jobs []*models.Job, outputs []string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.backgroundJobs = append(rc.backgroundJobs, jobs...)
	rc.backgroundOutputs = append(rc.backgroundOutputs, outputs...)
}

// AddEmailFiles records files to attach to the run notification.
func (rc *RunContext) AddEmailFiles(files ...string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.emailFiles = append(rc.emailFiles, files...)
}

// BackgroundJobs returns a copy of the deferred jobs.
func (rc *RunContext) BackgroundJobs() []*models.Job {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]*models.Job(nil), rc.backgroundJobs...)
}

// BackgroundOutputs returns a copy of the deferred outputs.
func (rc *RunContext) BackgroundOutputs() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]string(nil), rc.backgroundOutputs...)
}

// EmailFiles returns a copy of the collected email files.
func (rc *RunContext) EmailFiles() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]string(nil), rc.emailFiles...)
}

// Drained reports whether Drain has run.
func (rc *RunContext) Drained() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.drained
}

// Drain waits for and validates every deferred job, then checks every
// deferred output. It runs at most once per run; later calls return nil.
func (rc *RunContext) Drain(ctx context.Context, m tasks.Monitor) error {
	rc.mu.Lock()
	if rc.drained {
		rc.mu.Unlock()
		return nil
	}
	rc.drained = true
	jobs := append([]*models.Job(nil), rc.backgroundJobs...)
	outputs := append([]string(nil), rc.backgroundOutputs...)
	rc.mu.Unlock()

	if err := m.MonitorAndValidate(ctx, jobs); err != nil {
		return fmt.Errorf("background jobs: %w", err)
	}
	if len(outputs) == 0 {
		return nil
	}
	if err := validation.ValidateItems(outputs); err != nil {
		return fmt.Errorf("background task outputs: %w", err)
	}
	return nil
}
