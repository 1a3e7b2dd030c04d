package models

import (
	"path/filepath"
	"testing"
)

func TestJob_Transition(t *testing.T) {
	tests := []struct {
		name    string
		path    []JobState
		want    JobState
		wantErr bool
	}{
		{"happy path", []JobState{JobRunning, JobCompleted}, JobCompleted, false},
		{"scheduler error while running", []JobState{JobRunning, JobErrored}, JobErrored, false},
		{"finished before first poll", []JobState{JobCompleted}, JobCompleted, false},
		{"error while queued", []JobState{JobErrored}, JobErrored, false},
		{"repeat state is a no-op", []JobState{JobRunning, JobRunning}, JobRunning, false},
		{"completed is terminal", []JobState{JobCompleted, JobRunning}, JobCompleted, true},
		{"errored is terminal", []JobState{JobErrored, JobCompleted}, JobErrored, true},
		{"no return to queue", []JobState{JobRunning, JobSubmitted}, JobRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewJob("101", "demo", "")
			var err error
			for _, s := range tt.path {
				if err = job.Transition(s); err != nil {
					break
				}
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("Transition() error = %v, wantErr %v", err, tt.wantErr)
			}
			if job.State != tt.want {
				t.Errorf("State = %s, want %s", job.State, tt.want)
			}
		})
	}
}

func TestJob_Failed(t *testing.T) {
	job := NewJob("1", "a", "")
	if job.Failed() || job.IsTerminal() {
		t.Fatal("new job should be neither failed nor terminal")
	}

	_ = job.Transition(JobCompleted)
	if job.Failed() {
		t.Error("completed job without log errors should not be failed")
	}
	job.LogFailed = true
	if !job.Failed() {
		t.Error("completed job with log errors should be failed")
	}

	errored := NewJob("2", "b", "")
	_ = errored.Transition(JobErrored)
	if !errored.Failed() || !errored.IsTerminal() {
		t.Error("errored job should be failed and terminal")
	}
}

func TestJob_LogPaths(t *testing.T) {
	job := NewJob("4242", "GATK_DepthOfCoverage_custom.S1", "/data/logs-qsub")

	if got, want := job.StdoutLog(), filepath.Join("/data/logs-qsub", "GATK_DepthOfCoverage_custom.S1.o4242"); got != want {
		t.Errorf("StdoutLog() = %q, want %q", got, want)
	}
	if got, want := job.StderrLog(), filepath.Join("/data/logs-qsub", "GATK_DepthOfCoverage_custom.S1.e4242"); got != want {
		t.Errorf("StderrLog() = %q, want %q", got, want)
	}

	if NewJob("1", "x", "").StdoutLog() != "" {
		t.Error("job without log dir should have no log path")
	}
}
