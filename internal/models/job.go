// Package models defines the records shared between the task framework,
// the scheduler client, and the job tracker.
package models

import (
	"fmt"
	"path/filepath"
	"time"
)

// JobState is the lifecycle state of a scheduler job.
type JobState string

const (
	JobSubmitted JobState = "Submitted"
	JobRunning   JobState = "Running"
	JobCompleted JobState = "Completed"
	JobErrored   JobState = "Errored"
)

// IsTerminal reports whether no further transitions can leave s.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobErrored
}

// Job is one unit of work submitted to the cluster scheduler.
type Job struct {
	ID     string // scheduler-assigned job number
	Name   string // e.g. GATK_DepthOfCoverage_custom.SAMPLE1
	LogDir string // directory holding <name>.o<id> and <name>.e<id>
	Task   string // task that submitted the job

	State          JobState
	SchedulerState string // last raw state code, e.g. "r", "qw", "Eqw"
	ExitStatus     int

	// LogFailed is set when a Completed job's logs contain an error marker.
	LogFailed       bool
	CompletionNotes string

	SubmittedAt time.Time
	UpdatedAt   time.Time
}

// NewJob creates a job in the Submitted state.
func NewJob(id, name, logDir string) *Job {
	now := time.Now()
	return &Job{
		ID:          id,
		Name:        name,
		LogDir:      logDir,
		State:       JobSubmitted,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
}

// Transition moves the job to state to. Moving to the current state is a
// no-op; any other move out of a terminal state is rejected.
func (j *Job) Transition(to JobState) error {
	if j.State == to {
		return nil
	}
	if !isAllowedTransition(j.State, to) {
		return fmt.Errorf("job %s: disallowed transition %s -> %s", j.ID, j.State, to)
	}
	j.State = to
	j.UpdatedAt = time.Now()
	return nil
}

func isAllowedTransition(from, to JobState) bool {
	switch from {
	case JobSubmitted:
		return to == JobRunning || to == JobCompleted || to == JobErrored
	case JobRunning:
		return to == JobCompleted || to == JobErrored
	default:
		return false
	}
}

// IsTerminal reports whether the job has finished on the scheduler.
func (j *Job) IsTerminal() bool {
	return j.State.IsTerminal()
}

// Failed reports whether the job errored on the scheduler or failed log validation.
func (j *Job) Failed() bool {
	return j.State == JobErrored || (j.State == JobCompleted && j.LogFailed)
}

// StdoutLog is the scheduler stdout log path.
func (j *Job) StdoutLog() string {
	if j.LogDir == "" {
		return ""
	}
	return filepath.Join(j.LogDir, fmt.Sprintf("%s.o%s", j.Name, j.ID))
}

// StderrLog is the scheduler stderr log path.
func (j *Job) StderrLog() string {
	if j.LogDir == "" {
		return ""
	}
	return filepath.Join(j.LogDir, fmt.Sprintf("%s.e%s", j.Name, j.ID))
}

func (j *Job) String() string {
	return fmt.Sprintf("%s (%s) [%s]", j.ID, j.Name, j.State)
}
