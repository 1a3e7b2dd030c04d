package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/molecpathlab/snsxt/internal/archive"
	"github.com/molecpathlab/snsxt/internal/config"
	"github.com/molecpathlab/snsxt/internal/constants"
	"github.com/molecpathlab/snsxt/internal/core"
	"github.com/molecpathlab/snsxt/internal/events"
	"github.com/molecpathlab/snsxt/internal/logging"
	"github.com/molecpathlab/snsxt/internal/notify"
	"github.com/molecpathlab/snsxt/internal/progress"
	"github.com/molecpathlab/snsxt/internal/qsub"
	"github.com/molecpathlab/snsxt/internal/shell"
	"github.com/molecpathlab/snsxt/internal/tasks"
)

// runFlags are shared by run, validate and samples.
type runFlags struct {
	analysisDir string
	snsDir      string
	analysisID  string
	resultsID   string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.analysisDir, "analysis-dir", "d", "", "Analysis directory")
	cmd.Flags().StringVar(&f.snsDir, "sns-dir", "", "Parent dir of all analyses, used with --analysis-id and --results-id")
	cmd.Flags().StringVarP(&f.analysisID, "analysis-id", "a", "", "Analysis id")
	cmd.Flags().StringVarP(&f.resultsID, "results-id", "r", "", "Results id")
}

func (f *runFlags) options() core.Options {
	return core.Options{
		AnalysisDir: f.analysisDir,
		SnsDir:      f.snsDir,
		AnalysisID:  f.analysisID,
		ResultsID:   f.resultsID,
	}
}

// newRunCmd creates the 'run' command.
func newRunCmd() *cobra.Command {
	var (
		target       runFlags
		taskListPath string
		overrides    config.Overrides
		noRunLog     bool
		minFree      string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a task list against an analysis",
		Long: `Run the sns and analysis tasks of a task list.

The sns stage builds the analysis, then every task runs in file order.
Jobs of tasks with qsub_wait: false are waited on once, after the last
task. A notification is sent at the end and snsxt_config.yml is written
into the analysis directory.

Examples:
  # Run tasks on an existing analysis
  snsxt run -d /data/NGS580/NS17-01/results_1 -t task_lists/default.yml

  # Start a new analysis under an sns dir
  snsxt run --sns-dir /data/NGS580 -a NS17-01 -r results_1 -t task_lists/sns.wes.yml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()
			ctx := GetContext()

			if minFree != "" {
				n, err := humanize.ParseBytes(minFree)
				if err != nil {
					return fmt.Errorf("invalid --min-free-space: %w", err)
				}
				overrides.MinFreeSpace = n
			}
			cfg, err := loadConfig(overrides)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to load configuration; no notification can be sent")
				return err
			}
			tl, err := config.LoadTaskList(taskListPath)
			if err != nil {
				notifySetupFailure(ctx, cfg, target, err, logger)
				return err
			}

			runner := shell.NewExecRunner(logger)
			deps := core.Deps{
				Registry: tasks.DefaultRegistry(),
				Scheduler: qsub.NewClient(qsub.Config{
					QsubBin:     cfg.Scheduler.QsubBin,
					QstatBin:    cfg.Scheduler.QstatBin,
					QacctBin:    cfg.Scheduler.QacctBin,
					Queue:       cfg.Scheduler.Queue,
					ExtraParams: cfg.Scheduler.ExtraParams,
				}, runner, logger),
				Runner:   runner,
				Notifier: notify.New(cfg.Notify, logger),
				Progress: progress.New(logger),
				Events:   events.NewEventBus(constants.EventBusDefaultBuffer),
			}
			defer deps.Events.Close()
			if cfg.Archive.Enabled {
				uploader, err := archive.NewS3Uploader(ctx, cfg.Archive, logger)
				if err != nil {
					return err
				}
				deps.Archiver = uploader
			}

			done := printTaskEvents(cmd.OutOrStdout(), deps.Events)
			engine, err := core.NewEngine(cfg, deps, logger)
			if err != nil {
				return err
			}
			opts := target.options()
			opts.TaskList = tl
			opts.RunLog = !noRunLog
			rc, runErr := engine.Run(ctx, opts)
			deps.Events.Close()
			<-done
			if n := deps.Events.DroppedEvents(); n > 0 {
				logger.Warn().Int64("dropped", n).Msg("Some task events were not printed")
			}

			if rc != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s finished in %s\n", rc.ID,
					humanize.RelTime(rc.StartedAt, time.Now(), "", ""))
			}
			return runErr
		},
	}

	target.register(cmd)
	cmd.Flags().StringVarP(&taskListPath, "task-list", "t", "", "Task list file (required)")
	cmd.Flags().StringVar(&overrides.SnsRepoDir, "sns-repo-dir", "", "sns repo to copy into new analyses")
	cmd.Flags().StringVar(&overrides.TasksConfigDir, "tasks-config-dir", "", "Directory of per-task config files")
	cmd.Flags().StringVar(&overrides.ReportsDir, "reports-dir", "", "Directory of report templates")
	cmd.Flags().StringVar(&overrides.LogDir, "log-dir", "", "Directory for the run log and job ledger")
	cmd.Flags().DurationVar(&overrides.PollInterval, "poll-interval", 0, "Scheduler poll interval")
	cmd.Flags().DurationVar(&overrides.JobTimeout, "job-timeout", 0, "Maximum wait for one set of jobs")
	cmd.Flags().StringSliceVar(&overrides.ErrorMarkers, "error-marker", nil, "Log text that marks a job as failed (repeatable)")
	cmd.Flags().BoolVar(&overrides.DebugMode, "debug-mode", false, "Run tasks even if the analysis does not validate")
	cmd.Flags().StringVar(&minFree, "min-free-space", "", "Free space required before the sns stage, e.g. 500GB")
	cmd.Flags().BoolVar(&noRunLog, "no-run-log", false, "Do not write the run log into the analysis")
	cmd.MarkFlagRequired("task-list")

	return cmd
}

// notifySetupFailure sends the error notification for a run that failed
// before the engine started.
func notifySetupFailure(ctx context.Context, cfg *config.Config, target runFlags, runErr error, logger *logging.Logger) {
	dir, aid, rid, err := core.ResolveTarget(target.options())
	if err != nil {
		aid, rid = target.analysisID, target.resultsID
	}
	msg := notify.Message{
		RunID:       uuid.NewString(),
		Status:      notify.StatusError,
		Subject:     notify.Subject(notify.StatusError, aid, rid),
		AnalysisID:  aid,
		ResultsID:   rid,
		AnalysisDir: dir,
		Error:       runErr.Error(),
	}
	logger.Error().Err(runErr).Str("subject", msg.Subject).Msg("Run failed before any task started")
	if err := notify.New(cfg.Notify, logger).Notify(ctx, msg); err != nil {
		logger.Error().Err(err).Msg("Failed to send run notification")
	}
}

// printTaskEvents writes one line per task start and finish until bus is
// closed. The returned channel closes when printing is done.
func printTaskEvents(out io.Writer, bus *events.EventBus) <-chan struct{} {
	ch := bus.SubscribeAll()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			switch e := ev.(type) {
			case *events.TaskEvent:
				if e.Type() == events.EventTaskStarted {
					fmt.Fprintf(out, "==> %s [%s]\n", e.Task, e.Stage)
					continue
				}
				fmt.Fprintln(out, formatTaskFinished(e))
			case *events.JobsEvent:
				fmt.Fprintf(out, "    deferred jobs %s\n", strings.Join(e.JobIDs, ","))
			case *events.DrainEvent:
				if e.Jobs > 0 {
					fmt.Fprintf(out, "==> background: %d jobs, %d outputs\n", e.Jobs, e.Outputs)
				}
			}
		}
	}()
	return done
}

func formatTaskFinished(e *events.TaskEvent) string {
	var b strings.Builder
	status := "ok"
	if e.Error != nil {
		status = "failed"
	}
	fmt.Fprintf(&b, "<== %s %s (%s)", e.Task, status, e.Duration.Round(time.Second))
	if e.Deferred > 0 {
		fmt.Fprintf(&b, ", %d jobs deferred", e.Deferred)
	}
	if len(e.Skipped) > 0 {
		fmt.Fprintf(&b, ", skipped %s", strings.Join(e.Skipped, ","))
	}
	return b.String()
}
