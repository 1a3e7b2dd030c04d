// Package qsub is the boundary to the Sun Grid Engine cluster scheduler.
// Jobs are submitted with qsub, polled with qstat, and jobs that have left
// the queue are classified with qacct.
package qsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/molecpathlab/snsxt/internal/constants"
	"github.com/molecpathlab/snsxt/internal/logging"
	"github.com/molecpathlab/snsxt/internal/models"
	"github.com/molecpathlab/snsxt/internal/shell"
)

// SubmitRequest describes one job to submit.
type SubmitRequest struct {
	Name    string   // job name, e.g. <task>.<sample>
	Command string   // shell script body, fed to qsub on stdin
	LogDir  string   // stdout/stderr log directory
	WorkDir string   // job working directory
	Params  []string // extra qsub arguments, e.g. "-pe threaded 4"
}

// JobStatus is one job's state as seen by a poll.
type JobStatus struct {
	ID         string
	State      models.JobState
	Code       string // raw qstat code, "" when the job has left the queue
	ExitStatus int
	Notes      string
}

// Scheduler submits and polls cluster jobs.
type Scheduler interface {
	Submit(ctx context.Context, req SubmitRequest) (*models.Job, error)
	Poll(ctx context.Context, ids []string) (map[string]JobStatus, error)
}

// Config holds scheduler binaries and default submission parameters.
type Config struct {
	QsubBin     string
	QstatBin    string
	QacctBin    string
	Queue       string
	ExtraParams []string
}

// Client implements Scheduler by shelling out to the SGE tools.
type Client struct {
	cfg    Config
	runner shell.Runner
	parser *OutputParser
	logger *logging.Logger
}

// NewClient creates an SGE client. Empty binaries fall back to the defaults
// found on PATH.
func NewClient(cfg Config, runner shell.Runner, logger *logging.Logger) *Client {
	if cfg.QsubBin == "" {
		cfg.QsubBin = constants.DefaultQsubBin
	}
	if cfg.QstatBin == "" {
		cfg.QstatBin = constants.DefaultQstatBin
	}
	if cfg.QacctBin == "" {
		cfg.QacctBin = constants.DefaultQacctBin
	}
	return &Client{
		cfg:    cfg,
		runner: runner,
		parser: NewOutputParser(),
		logger: logger,
	}
}

// Submit sends req to qsub and returns the new job in the Submitted state.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	if req.Name == "" {
		return nil, errors.New("job name is required")
	}
	if strings.TrimSpace(req.Command) == "" {
		return nil, fmt.Errorf("job %s: command is required", req.Name)
	}

	res, err := c.runner.Run(ctx, shell.Command{
		Script: c.submitCommand(req),
		Dir:    req.WorkDir,
		Stdin:  "set -x\n" + req.Command + "\n",
	})
	if err != nil {
		return nil, fmt.Errorf("qsub failed for %s: %w", req.Name, err)
	}

	ref, err := c.parser.ParseSubmission(res.Stdout)
	if err != nil {
		return nil, err
	}

	job := models.NewJob(ref.ID, ref.Name, req.LogDir)
	c.logger.Info().Str("job_id", job.ID).Str("job_name", job.Name).Msg("Submitted job")
	return job, nil
}

func (c *Client) submitCommand(req SubmitRequest) string {
	args := []string{c.cfg.QsubBin, "-N", shell.Quote(req.Name)}
	if req.WorkDir != "" {
		args = append(args, "-wd", shell.Quote(req.WorkDir))
	}
	if req.LogDir != "" {
		dir := shell.Quote(strings.TrimSuffix(req.LogDir, "/") + "/")
		args = append(args, "-o", ":"+dir, "-e", ":"+dir)
	}
	if c.cfg.Queue != "" {
		args = append(args, "-q", c.cfg.Queue)
	}
	args = append(args, c.cfg.ExtraParams...)
	args = append(args, req.Params...)
	return strings.Join(args, " ")
}

// Poll reports the state of every id. Jobs still listed by qstat are
// classified by their state code; jobs no longer listed have finished and
// are classified from their qacct record.
func (c *Client) Poll(ctx context.Context, ids []string) (map[string]JobStatus, error) {
	res, err := c.runner.Run(ctx, shell.Command{Script: c.cfg.QstatBin})
	if err != nil {
		return nil, fmt.Errorf("qstat failed: %w", err)
	}
	codes := c.parser.ParseQstat(res.Stdout)

	statuses := make(map[string]JobStatus, len(ids))
	for _, id := range ids {
		if code, ok := codes[id]; ok {
			statuses[id] = JobStatus{ID: id, State: StateForCode(code), Code: code}
			continue
		}
		status, err := c.finished(ctx, id)
		if err != nil {
			return nil, err
		}
		statuses[id] = status
	}
	return statuses, nil
}

func (c *Client) finished(ctx context.Context, id string) (JobStatus, error) {
	res, err := c.runner.Run(ctx, shell.Command{Script: c.cfg.QacctBin + " -j " + id})
	if err != nil {
		var exitErr *shell.ExitError
		if errors.As(err, &exitErr) && c.parser.NoAccountingRecord(exitErr.Stderr) {
			// accounting not written yet
			return JobStatus{ID: id, State: models.JobCompleted, Notes: "no accounting record"}, nil
		}
		return JobStatus{}, fmt.Errorf("qacct failed for job %s: %w", id, err)
	}

	acct, err := c.parser.ParseQacct(res.Stdout)
	if err != nil {
		return JobStatus{}, err
	}
	switch {
	case !acct.Found:
		return JobStatus{ID: id, State: models.JobCompleted, Notes: "no accounting record"}, nil
	case acct.ExitStatus != 0 || acct.Failed != 0:
		return JobStatus{
			ID:         id,
			State:      models.JobErrored,
			ExitStatus: acct.ExitStatus,
			Notes:      fmt.Sprintf("exit_status %d, failed %d", acct.ExitStatus, acct.Failed),
		}, nil
	default:
		return JobStatus{ID: id, State: models.JobCompleted}, nil
	}
}
