package cli

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/molecpathlab/snsxt/internal/config"
	"github.com/molecpathlab/snsxt/internal/constants"
	"github.com/molecpathlab/snsxt/internal/core"
	"github.com/molecpathlab/snsxt/internal/jobs"
	"github.com/molecpathlab/snsxt/internal/models"
	"github.com/molecpathlab/snsxt/internal/progress"
	"github.com/molecpathlab/snsxt/internal/qsub"
	"github.com/molecpathlab/snsxt/internal/shell"
)

// newJobsCmd creates the 'jobs' command group.
func newJobsCmd() *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect jobs recorded for an analysis",
		Long: `Job commands read the job ledger that every run keeps in
<analysis>/logs-snsxt/snsxt-jobs.csv.

Commands:
  status - Show recorded jobs, optionally waiting for unfinished ones`,
	}
	jobsCmd.AddCommand(newJobsStatusCmd())
	return jobsCmd
}

// newJobsStatusCmd creates the 'jobs status' command.
func newJobsStatusCmd() *cobra.Command {
	var (
		target runFlags
		wait   bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the job ledger of an analysis",
		Long: `Show every job recorded for an analysis with its last known state.

With --wait, jobs that were not finished when the ledger was written are
polled until they finish and the ledger is updated. Logs are not checked.

Example:
  snsxt jobs status -d /data/NGS580/NS17-01/results_1 --wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()
			cfg, err := loadConfig(config.Overrides{})
			if err != nil {
				return err
			}
			dir, _, _, err := core.ResolveTarget(target.options())
			if err != nil {
				return err
			}

			ledger := jobs.NewLedger(filepath.Join(config.RunLogDirectory(dir, cfg.LogDir), constants.JobLedgerName), "")
			if err := ledger.Load(); err != nil {
				return err
			}

			if wait {
				pending := ledger.Pending()
				if len(pending) > 0 {
					sched := qsub.NewClient(qsub.Config{
						QsubBin:  cfg.Scheduler.QsubBin,
						QstatBin: cfg.Scheduler.QstatBin,
						QacctBin: cfg.Scheduler.QacctBin,
					}, shell.NewExecRunner(logger), logger)
					tracker := jobs.NewTracker(sched, jobs.Options{
						PollInterval: cfg.Scheduler.PollInterval,
						Timeout:      cfg.Scheduler.JobTimeout,
						Progress:     progress.New(logger),
					}, logger)
					waitErr := tracker.Wait(GetContext(), pending)
					for _, job := range pending {
						if err := ledger.Record(job); err != nil {
							logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to update job ledger")
						}
					}
					if waitErr != nil {
						return waitErr
					}
				}
			}

			printLedger(cmd, ledger)
			return nil
		},
	}
	target.register(cmd)
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for unfinished jobs")
	return cmd
}

func printLedger(cmd *cobra.Command, ledger *jobs.Ledger) {
	out := cmd.OutOrStdout()
	rows := ledger.Rows()
	if len(rows) == 0 {
		fmt.Fprintf(out, "No jobs recorded in %s\n", ledger.Path())
		return
	}

	fmt.Fprintf(out, "%-10s %-32s %-26s %-22s %-16s %s\n", "JOB ID", "NAME", "TASK", "STATE", "UPDATED", "NOTES")
	for _, row := range rows {
		state := string(row.State)
		if row.LogFailed {
			state += " (log errors)"
		}
		fmt.Fprintf(out, "%-10s %-32s %-26s %-22s %-16s %s\n", row.JobID, row.JobName, row.Task, state,
			humanize.Time(row.LastUpdated), row.Notes)
	}

	fmt.Fprintf(out, "\n%s jobs: %d completed, %d errored, %d running, %d submitted\n",
		humanize.Comma(int64(len(rows))),
		ledger.CountByState(models.JobCompleted), ledger.CountByState(models.JobErrored),
		ledger.CountByState(models.JobRunning), ledger.CountByState(models.JobSubmitted))
}
