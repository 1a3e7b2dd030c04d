// Package jobs tracks scheduler jobs from submission to a validated
// terminal state.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/molecpathlab/snsxt/internal/constants"
	"github.com/molecpathlab/snsxt/internal/errkind"
	"github.com/molecpathlab/snsxt/internal/logging"
	"github.com/molecpathlab/snsxt/internal/models"
	"github.com/molecpathlab/snsxt/internal/progress"
	"github.com/molecpathlab/snsxt/internal/qsub"
	"github.com/molecpathlab/snsxt/internal/validation"
)

// Options configures a Tracker.
type Options struct {
	PollInterval time.Duration // default constants.DefaultPollInterval
	Timeout      time.Duration // per MonitorAndValidate call, default constants.DefaultJobTimeout
	ErrorMarkers []string      // default constants.DefaultErrorMarkers
	Progress     progress.Reporter
	Ledger       *Ledger // optional
}

// Tracker polls a scheduler until jobs finish and validates their logs.
type Tracker struct {
	scheduler qsub.Scheduler
	opts      Options
	logger    *logging.Logger
}

// NewTracker creates a tracker, filling unset options with defaults.
func NewTracker(scheduler qsub.Scheduler, opts Options, logger *logging.Logger) *Tracker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = constants.DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = constants.DefaultJobTimeout
	}
	if len(opts.ErrorMarkers) == 0 {
		opts.ErrorMarkers = constants.DefaultErrorMarkers
	}
	if opts.Progress == nil {
		opts.Progress = progress.NewNoOpProgress()
	}
	return &Tracker{scheduler: scheduler, opts: opts, logger: logger}
}

// MonitorAndValidate waits until every job is terminal, then scans the logs
// of Completed jobs for error markers. It returns an ErrComputeJobInvalid
// error listing every Errored or log-failed job, an ErrJobTimeout error if
// the deadline passes first, or nil. Jobs are never resubmitted.
func (t *Tracker) MonitorAndValidate(ctx context.Context, jobs []*models.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	if err := t.Wait(ctx, jobs); err != nil {
		return err
	}

	var failed []string
	for _, job := range jobs {
		if job.State == models.JobCompleted {
			t.ValidateJob(job)
		}
		t.record(job)
		if job.Failed() {
			failed = append(failed, describe(job))
		}
	}

	if len(failed) > 0 {
		t.logger.Error().Int("failed", len(failed)).Int("total", len(jobs)).Msg("Jobs did not complete successfully")
		return errkind.New(errkind.ErrComputeJobInvalid,
			fmt.Sprintf("%d of %d jobs failed", len(failed), len(jobs)), failed...)
	}
	t.logger.Info().Int("jobs", len(jobs)).Msg("All jobs completed and validated")
	return nil
}

// Wait polls until every job is terminal, without log validation.
func (t *Tracker) Wait(ctx context.Context, jobs []*models.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	t.opts.Progress.Start(int64(len(jobs)), fmt.Sprintf("Waiting for %d jobs", len(jobs)))
	defer t.opts.Progress.Finish()

	for _, job := range jobs {
		t.record(job)
	}

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	started := time.Now()
	consecutiveErrors := 0
	for {
		err := t.poll(ctx, jobs)
		if err != nil {
			consecutiveErrors++
			t.logger.Warn().Err(err).Int("consecutiveErrors", consecutiveErrors).Msg("Failed to poll job status")
			if consecutiveErrors >= constants.MaxConsecutivePollErrors {
				return fmt.Errorf("failed to poll job status after %d attempts: %w", consecutiveErrors, err)
			}
		} else {
			consecutiveErrors = 0
		}

		done := countTerminal(jobs)
		t.opts.Progress.Update(int64(done))
		if done == len(jobs) {
			t.logger.Info().Int("jobs", len(jobs)).
				Dur("elapsed", time.Since(started).Round(time.Second)).
				Msg("All jobs reached a terminal state")
			return nil
		}

		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				return fmt.Errorf("job tracking cancelled: %w", parent.Err())
			}
			pending := unfinished(jobs)
			return errkind.New(errkind.ErrJobTimeout,
				fmt.Sprintf("%d jobs still running after %s", len(pending), t.opts.Timeout), pending...)
		case <-ticker.C:
		}
	}
}

func (t *Tracker) poll(ctx context.Context, jobs []*models.Job) error {
	var ids []string
	for _, job := range jobs {
		if !job.IsTerminal() {
			ids = append(ids, job.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, constants.PollRequestTimeout)
	statuses, err := t.scheduler.Poll(reqCtx, ids)
	cancel()
	if err != nil {
		return err
	}

	for _, job := range jobs {
		status, ok := statuses[job.ID]
		if !ok || job.IsTerminal() {
			continue
		}
		prev := job.State
		if err := job.Transition(status.State); err != nil {
			t.logger.Debug().Err(err).Msg("Ignoring scheduler state")
			continue
		}
		job.SchedulerState = status.Code
		job.ExitStatus = status.ExitStatus
		if status.Notes != "" {
			job.CompletionNotes = status.Notes
		}
		if prev != job.State {
			t.logger.Info().Str("job_id", job.ID).Str("job_name", job.Name).
				Str("state", string(job.State)).
				Str("submitted", humanize.Time(job.SubmittedAt)).
				Msg("Job state changed")
			t.record(job)
		}
	}
	return nil
}

// ValidateJob scans a Completed job's stdout and stderr logs for error
// markers. A match marks the job LogFailed and stores the matching lines
// in CompletionNotes. A log that exists but cannot be read fails the job
// the same way. It reports whether the job passed.
func (t *Tracker) ValidateJob(job *models.Job) bool {
	var excerpt []string
	for _, path := range []string{job.StdoutLog(), job.StderrLog()} {
		if path == "" {
			continue
		}
		lines, err := validation.ScanMarkers(path, t.opts.ErrorMarkers, constants.LogExcerptLines)
		excerpt = append(excerpt, lines...)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			t.logger.Warn().Err(err).Str("log", path).Msg("Failed to read job log")
			excerpt = append(excerpt, fmt.Sprintf("unreadable log %s: %v", path, err))
		}
	}

	if len(excerpt) == 0 {
		return true
	}
	job.LogFailed = true
	job.CompletionNotes = strings.Join(excerpt, " | ")
	t.logger.Error().Str("job_id", job.ID).Str("job_name", job.Name).
		Str("excerpt", job.CompletionNotes).Msg("Job log contains errors")
	return false
}

func (t *Tracker) record(job *models.Job) {
	if t.opts.Ledger == nil {
		return
	}
	if err := t.opts.Ledger.Record(job); err != nil {
		t.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to update job ledger")
	}
}

func countTerminal(jobs []*models.Job) int {
	n := 0
	for _, job := range jobs {
		if job.IsTerminal() {
			n++
		}
	}
	return n
}

func unfinished(jobs []*models.Job) []string {
	var out []string
	for _, job := range jobs {
		if !job.IsTerminal() {
			out = append(out, fmt.Sprintf("%s (%s)", job.ID, job.Name))
		}
	}
	return out
}

func describe(job *models.Job) string {
	desc := fmt.Sprintf("%s (%s) %s", job.ID, job.Name, job.State)
	if job.LogFailed {
		desc += " with log errors"
	}
	if job.CompletionNotes != "" {
		desc += ": " + job.CompletionNotes
	}
	return desc
}
