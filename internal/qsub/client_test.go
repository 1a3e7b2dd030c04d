package qsub

import (
	"context"
	"strings"
	"testing"

	"github.com/molecpathlab/snsxt/internal/logging"
	"github.com/molecpathlab/snsxt/internal/models"
	"github.com/molecpathlab/snsxt/internal/shell"
)

// scriptedRunner answers commands by prefix and records what it ran.
type scriptedRunner struct {
	responses map[string]shell.Result
	failures  map[string]error
	ran       []shell.Command
}

func (r *scriptedRunner) Run(ctx context.Context, cmd shell.Command) (shell.Result, error) {
	r.ran = append(r.ran, cmd)
	for prefix, err := range r.failures {
		if strings.HasPrefix(cmd.Script, prefix) {
			return shell.Result{}, err
		}
	}
	for prefix, res := range r.responses {
		if strings.HasPrefix(cmd.Script, prefix) {
			return res, nil
		}
	}
	return shell.Result{}, nil
}

func TestClient_Submit(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]shell.Result{
		"qsub": {Stdout: `Your job 555 ("GATK_DepthOfCoverage_custom.S1") has been submitted` + "\n"},
	}}
	c := NewClient(Config{Queue: "cpu_short", ExtraParams: []string{"-pe threaded 4"}}, runner, logging.NewNopLogger())

	job, err := c.Submit(context.Background(), SubmitRequest{
		Name:    "GATK_DepthOfCoverage_custom.S1",
		Command: "java -jar GenomeAnalysisTK.jar -T DepthOfCoverage",
		LogDir:  "/data/run1/logs-qsub",
		WorkDir: "/data/run1",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if job.ID != "555" || job.State != models.JobSubmitted {
		t.Errorf("job = %+v", job)
	}
	if job.StdoutLog() != "/data/run1/logs-qsub/GATK_DepthOfCoverage_custom.S1.o555" {
		t.Errorf("StdoutLog() = %q", job.StdoutLog())
	}

	if len(runner.ran) != 1 {
		t.Fatalf("expected 1 command, got %d", len(runner.ran))
	}
	cmd := runner.ran[0]
	for _, want := range []string{"-N GATK_DepthOfCoverage_custom.S1", "-wd /data/run1", "-o :/data/run1/logs-qsub/", "-q cpu_short", "-pe threaded 4"} {
		if !strings.Contains(cmd.Script, want) {
			t.Errorf("qsub command %q missing %q", cmd.Script, want)
		}
	}
	if !strings.Contains(cmd.Stdin, "DepthOfCoverage") {
		t.Errorf("job script not passed on stdin: %q", cmd.Stdin)
	}
}

func TestClient_SubmitValidation(t *testing.T) {
	c := NewClient(Config{}, &scriptedRunner{}, logging.NewNopLogger())
	if _, err := c.Submit(context.Background(), SubmitRequest{Command: "true"}); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := c.Submit(context.Background(), SubmitRequest{Name: "x"}); err == nil {
		t.Error("expected error for missing command")
	}
}

func TestClient_Poll(t *testing.T) {
	runner := &scriptedRunner{
		responses: map[string]shell.Result{
			"qstat":         {Stdout: qstatRunningEqw},
			"qacct -j 9001": {Stdout: "jobnumber 9001\nfailed 0\nexit_status 0\n"},
			"qacct -j 9002": {Stdout: "jobnumber 9002\nfailed 0\nexit_status 1\n"},
		},
		failures: map[string]error{
			"qacct -j 9003": &shell.ExitError{ExitCode: 1, Stderr: "error: job id 9003 not found"},
		},
	}
	c := NewClient(Config{}, runner, logging.NewNopLogger())

	statuses, err := c.Poll(context.Background(), []string{"2495634", "2495635", "2495636", "9001", "9002", "9003"})
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	want := map[string]models.JobState{
		"2495634": models.JobRunning,
		"2495635": models.JobErrored,
		"2495636": models.JobSubmitted,
		"9001":    models.JobCompleted,
		"9002":    models.JobErrored,
		"9003":    models.JobCompleted,
	}
	for id, state := range want {
		if statuses[id].State != state {
			t.Errorf("status[%s] = %s, want %s", id, statuses[id].State, state)
		}
	}
	if statuses["9003"].Notes == "" {
		t.Error("expected a note for a job without accounting")
	}
	if statuses["9002"].ExitStatus != 1 {
		t.Errorf("ExitStatus = %d, want 1", statuses["9002"].ExitStatus)
	}
}

func TestClient_PollQacctFailures(t *testing.T) {
	tests := []struct {
		name    string
		failure error
		wantErr bool
	}{
		{
			name:    "no accounting record yet",
			failure: &shell.ExitError{ExitCode: 1, Stderr: "error: job id 9003 not found\n"},
		},
		{
			name:    "qacct binary missing",
			failure: &shell.ExitError{ExitCode: 127, Stderr: "bash: /opt/sge/bin/qacct: No such file or directory"},
			wantErr: true,
		},
		{
			name:    "qacct permission denied",
			failure: &shell.ExitError{ExitCode: 1, Stderr: "error: unable to open accounting file"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &scriptedRunner{
				responses: map[string]shell.Result{"qstat": {}},
				failures:  map[string]error{"qacct -j 9003": tt.failure},
			}
			c := NewClient(Config{}, runner, logging.NewNopLogger())

			statuses, err := c.Poll(context.Background(), []string{"9003"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Poll() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && statuses["9003"].State != models.JobCompleted {
				t.Errorf("state = %s, want Completed", statuses["9003"].State)
			}
		})
	}
}
