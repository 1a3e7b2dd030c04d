// Package core drives a run: the sns stage, the analysis stage, the single
// drain of deferred jobs, then report setup, notification, archiving and
// cleanup.
package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/molecpathlab/snsxt/internal/analysis"
	"github.com/molecpathlab/snsxt/internal/config"
	"github.com/molecpathlab/snsxt/internal/constants"
	"github.com/molecpathlab/snsxt/internal/diskspace"
	"github.com/molecpathlab/snsxt/internal/errkind"
	"github.com/molecpathlab/snsxt/internal/events"
	"github.com/molecpathlab/snsxt/internal/jobs"
	"github.com/molecpathlab/snsxt/internal/logging"
	"github.com/molecpathlab/snsxt/internal/notify"
	"github.com/molecpathlab/snsxt/internal/pathutil"
	"github.com/molecpathlab/snsxt/internal/progress"
	"github.com/molecpathlab/snsxt/internal/qsub"
	"github.com/molecpathlab/snsxt/internal/report"
	"github.com/molecpathlab/snsxt/internal/shell"
	"github.com/molecpathlab/snsxt/internal/tasks"
)

// Archiver uploads run files. *archive.Uploader implements it.
type Archiver interface {
	Upload(ctx context.Context, analysisID, resultsID string, files []string) ([]string, error)
}

// Deps are the collaborators an Engine uses. Scheduler and Runner are
// required; the rest have defaults.
type Deps struct {
	Registry  *tasks.Registry
	Scheduler qsub.Scheduler
	Runner    shell.Runner
	Notifier  notify.Notifier
	Archiver  Archiver
	Progress  progress.Reporter
	Events    *events.EventBus
}

// Options select what a run works on.
//
// Exactly one of AnalysisDir and SnsDir is set. With SnsDir the analysis
// dir is <SnsDir>/<AnalysisID>/<ResultsID> and both ids are required. With
// AnalysisDir missing ids default to the parent and base directory names.
type Options struct {
	AnalysisDir string
	SnsDir      string
	AnalysisID  string
	ResultsID   string

	TaskList *config.TaskList

	// RunLog writes the run log under the analysis dir.
	RunLog bool
}

// Engine runs task lists.
type Engine struct {
	cfg    *config.Config
	deps   Deps
	logger *logging.Logger
}

// NewEngine checks deps and fills defaults.
func NewEngine(cfg *config.Config, deps Deps, logger *logging.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errkind.New(errkind.ErrArgument, "engine needs a config")
	}
	if deps.Scheduler == nil || deps.Runner == nil {
		return nil, errkind.New(errkind.ErrArgument, "engine needs a scheduler and a shell runner")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if deps.Registry == nil {
		deps.Registry = tasks.DefaultRegistry()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.New(cfg.Notify, logger)
	}
	if deps.Progress == nil {
		deps.Progress = progress.NewNoOpProgress()
	}
	return &Engine{cfg: cfg, deps: deps, logger: logger}, nil
}

// ResolveTarget applies the Options rules for the analysis dir and ids.
func ResolveTarget(opts Options) (dir, analysisID, resultsID string, err error) {
	switch {
	case opts.AnalysisDir != "" && opts.SnsDir != "":
		return "", "", "", errkind.New(errkind.ErrArgument, "both an analysis dir and an sns dir were given")
	case opts.AnalysisDir == "" && opts.SnsDir == "":
		return "", "", "", errkind.New(errkind.ErrArgument, "neither an analysis dir nor an sns dir was given")
	case opts.SnsDir != "":
		if opts.AnalysisID == "" || opts.ResultsID == "" {
			return "", "", "", errkind.New(errkind.ErrArgument, "an sns dir needs both an analysis id and a results id")
		}
		dir = filepath.Join(opts.SnsDir, opts.AnalysisID, opts.ResultsID)
	default:
		dir = opts.AnalysisDir
	}

	dir, err = pathutil.ResolveAbsolutePath(dir)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to resolve analysis dir: %w", err)
	}
	analysisID, resultsID = opts.AnalysisID, opts.ResultsID
	if analysisID == "" {
		analysisID = filepath.Base(filepath.Dir(dir))
	}
	if resultsID == "" {
		resultsID = filepath.Base(dir)
	}
	return dir, analysisID, resultsID, nil
}

// Run executes the task list and always finishes with notification and
// cleanup. The returned RunContext is nil only when the target could not
// be resolved.
func (e *Engine) Run(ctx context.Context, opts Options) (*RunContext, error) {
	dir, aid, rid, err := ResolveTarget(opts)
	if err != nil {
		return nil, err
	}
	tl := opts.TaskList
	if tl == nil {
		tl = &config.TaskList{}
	}

	rc := NewRunContext(dir, aid, rid)
	logger := e.logger
	if opts.RunLog {
		logPath := filepath.Join(config.RunLogDirectory(dir, e.cfg.LogDir), constants.RunLogName)
		if err := logger.WithFile(logPath); err != nil {
			logger.Warn().Err(err).Str("path", logPath).Msg("Failed to open run log")
		}
	}
	logger = logger.Named("run_id", rc.ID)
	logger.Info().Str("analysis_id", aid).Str("results_id", rid).Str("dir", dir).
		Strs("tasks", tl.Names()).Msg("Starting run")

	ledger := jobs.NewLedger(filepath.Join(config.RunLogDirectory(dir, e.cfg.LogDir), constants.JobLedgerName), rc.ID)
	if err := ledger.Load(); err != nil {
		logger.Warn().Err(err).Msg("Failed to load existing job ledger")
	}
	tracker := jobs.NewTracker(e.deps.Scheduler, jobs.Options{
		PollInterval: e.cfg.Scheduler.PollInterval,
		Timeout:      e.cfg.Scheduler.JobTimeout,
		ErrorMarkers: e.cfg.ErrorMarkers,
		Progress:     e.deps.Progress,
		Ledger:       ledger,
	}, logger)
	env := &tasks.Env{
		Config:    e.cfg,
		Scheduler: e.deps.Scheduler,
		Tracker:   tracker,
		Runner:    e.deps.Runner,
		Logger:    logger,
	}

	runErr := e.execute(ctx, rc, env, tl)
	if runErr == nil && tl.SetupReport {
		runErr = e.setupReport(ctx, rc)
	}
	e.notify(ctx, rc, runErr, logger)
	if runErr == nil {
		e.archive(ctx, rc, logger)
	}
	e.cleanup(rc, tl, runErr, ledger, logger)
	return rc, runErr
}

func (e *Engine) execute(ctx context.Context, rc *RunContext, env *tasks.Env, tl *config.TaskList) error {
	reg := e.deps.Registry

	if len(tl.Sns) > 0 {
		if err := reg.CheckAll(tl.Sns, tasks.StageSns); err != nil {
			return err
		}
		if err := diskspace.Check(rc.AnalysisDir, e.cfg.MinFreeSpace); err != nil {
			return errkind.New(errkind.ErrArgument, err.Error(), rc.AnalysisDir)
		}
		if err := os.MkdirAll(rc.AnalysisDir, 0755); err != nil {
			return fmt.Errorf("failed to create analysis dir: %w", err)
		}
		for _, entry := range tl.Sns {
			if err := e.runSnsEntry(ctx, rc, env, entry); err != nil {
				return err
			}
		}
	}

	if len(tl.Tasks) == 0 && !tl.SetupReport {
		env.Logger.Warn().Msg("No analysis tasks were listed")
		return nil
	}

	a, err := analysis.NewAnalysisOutput(rc.AnalysisDir, rc.AnalysisID, rc.ResultsID, e.cfg.OutputIndex,
		analysis.Options{ErrorMarkers: e.cfg.ErrorMarkers, Logger: env.Logger})
	if err != nil {
		return err
	}
	rc.Analysis = a
	if !a.Validate() {
		verr := a.ValidationError()
		if !e.cfg.DebugMode {
			env.Logger.Error().Err(verr).Msg("The analysis did not pass validation")
			return verr
		}
		env.Logger.Warn().Err(verr).Msg("The analysis did not pass validation; continuing in debug mode")
	}

	if err := reg.CheckAll(tl.Tasks, tasks.StageAnalysis); err != nil {
		return err
	}

	var errs []error
	for _, entry := range tl.Tasks {
		if err := e.runAnalysisEntry(ctx, rc, env, entry, a); err != nil {
			errs = append(errs, err)
			env.Logger.Error().Err(err).Str("task", entry.Name).Msg("Task failed; skipping the remaining tasks")
			break
		}
	}

	jobCount := len(rc.BackgroundJobs())
	if jobCount > 0 {
		env.Logger.Info().Int("jobs", jobCount).Msg("Waiting for background jobs")
	}
	drainErr := rc.Drain(ctx, env.Tracker)
	e.deps.Events.Publish(&events.DrainEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventDrain, Time: time.Now()},
		Jobs:      jobCount,
		Outputs:   len(rc.BackgroundOutputs()),
		Error:     drainErr,
	})
	if drainErr != nil {
		errs = append(errs, drainErr)
	}
	return errors.Join(errs...)
}

// runSnsEntry runs one sns stage task and waits for its jobs before
// returning, so the next sns step sees finished output.
func (e *Engine) runSnsEntry(ctx context.Context, rc *RunContext, env *tasks.Env, entry config.TaskEntry) error {
	started := time.Now()
	e.deps.Events.PublishTaskStarted(entry.Name, tasks.StageSns.String())

	task, err := e.deps.Registry.Build(env, entry, tasks.Spec{AnalysisDir: rc.AnalysisDir})
	if err != nil {
		e.deps.Events.PublishTaskFinished(entry.Name, tasks.StageSns.String(), 0, nil, time.Since(started), err)
		return err
	}
	deferred, err := task.Run(ctx)
	rc.TasksRun = append(rc.TasksRun, entry.Name)
	rc.AddEmailFiles(task.EmailFiles()...)
	if len(deferred) > 0 {
		if merr := env.Tracker.MonitorAndValidate(ctx, deferred); merr != nil {
			err = errors.Join(err, merr)
		}
	}
	e.deps.Events.PublishTaskFinished(entry.Name, tasks.StageSns.String(), 0, nil, time.Since(started), err)
	return err
}

func (e *Engine) runAnalysisEntry(ctx context.Context, rc *RunContext, env *tasks.Env, entry config.TaskEntry, a *analysis.Output) error {
	started := time.Now()
	e.deps.Events.PublishTaskStarted(entry.Name, tasks.StageAnalysis.String())

	task, err := e.deps.Registry.Build(env, entry, tasks.Spec{Analysis: a})
	if err != nil {
		e.deps.Events.PublishTaskFinished(entry.Name, tasks.StageAnalysis.String(), 0, nil, time.Since(started), err)
		return err
	}

	deferred, err := task.Run(ctx)
	rc.TasksRun = append(rc.TasksRun, entry.Name)
	if len(deferred) > 0 {
		outputs, oerr := task.ExpectedOutputs()
		if oerr != nil {
			err = errors.Join(err, oerr)
		}
		rc.AddBackground(deferred, outputs)
		ids := make([]string, 0, len(deferred))
		for _, job := range deferred {
			ids = append(ids, job.ID)
		}
		e.deps.Events.PublishJobsDeferred(entry.Name, ids, len(outputs))
		env.Logger.Info().Str("task", entry.Name).Int("jobs", len(deferred)).Msg("Jobs deferred to the end of the run")
	}
	rc.AddEmailFiles(task.EmailFiles()...)

	var skipped []string
	if err != nil && errkind.IsInputMissing(err) {
		skipped = errkind.ItemsOf(err)
	}
	e.deps.Events.PublishTaskFinished(entry.Name, tasks.StageAnalysis.String(), len(deferred), skipped, time.Since(started), err)
	return err
}

func (e *Engine) setupReport(ctx context.Context, rc *RunContext) error {
	res, err := report.NewBuilder(e.cfg, e.deps.Runner, e.logger).Setup(ctx, rc.AnalysisDir, rc.AnalysisID, rc.ResultsID)
	if err != nil {
		return fmt.Errorf("report setup: %w", err)
	}
	rc.Report = res
	if res.Compiled != "" {
		rc.AddEmailFiles(res.Compiled)
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, rc *RunContext, runErr error, logger *logging.Logger) {
	status := notify.StatusSuccess
	if runErr != nil {
		status = notify.StatusError
	}
	msg := notify.Message{
		RunID:       rc.ID,
		Status:      status,
		Subject:     notify.Subject(status, rc.AnalysisID, rc.ResultsID),
		AnalysisID:  rc.AnalysisID,
		ResultsID:   rc.ResultsID,
		AnalysisDir: rc.AnalysisDir,
		Body:        logger.LogFile(),
	}
	if runErr != nil {
		msg.Error = runErr.Error()
	} else {
		msg.Attachments = notify.Attachments(rc.EmailFiles(), logger)
	}
	if err := e.deps.Notifier.Notify(ctx, msg); err != nil {
		logger.Error().Err(err).Msg("Failed to send run notification")
	}
}

func (e *Engine) archive(ctx context.Context, rc *RunContext, logger *logging.Logger) {
	if e.deps.Archiver == nil {
		return
	}
	var files []string
	for _, a := range notify.Attachments(rc.EmailFiles(), logger) {
		files = append(files, a.Path)
	}
	if len(files) == 0 {
		return
	}
	if _, err := e.deps.Archiver.Upload(ctx, rc.AnalysisID, rc.ResultsID, files); err != nil {
		logger.Warn().Err(err).Msg("Some run files were not archived")
	}
}

// cleanup always runs last. It saves the job ledger and the effective
// config into the analysis dir.
func (e *Engine) cleanup(rc *RunContext, tl *config.TaskList, runErr error, ledger *jobs.Ledger, logger *logging.Logger) {
	finished := time.Now()
	info := config.RunInfo{
		RunID:        rc.ID,
		AnalysisID:   rc.AnalysisID,
		ResultsID:    rc.ResultsID,
		AnalysisDir:  rc.AnalysisDir,
		TaskListPath: tl.Path,
		StartedAt:    rc.StartedAt,
		FinishedAt:   finished,
		Status:       notify.StatusSuccess,
	}
	if runErr != nil {
		info.Status = notify.StatusError
		info.Error = runErr.Error()
	}

	if len(ledger.Rows()) > 0 {
		if err := ledger.Save(); err != nil {
			logger.Warn().Err(err).Msg("Failed to save job ledger")
		}
	}
	if path, err := e.cfg.SaveEffective(rc.AnalysisDir, info); err != nil {
		logger.Error().Err(err).Msg("Failed to save effective config")
	} else {
		logger.Debug().Str("path", path).Msg("Effective config saved")
	}

	ev := logger.Info()
	if runErr != nil {
		ev = logger.Error().Err(runErr)
	}
	ev.Dur("elapsed", finished.Sub(rc.StartedAt).Round(time.Second)).Strs("tasks", rc.TasksRun).Msg("Run finished")

	e.deps.Events.Publish(&events.RunCompleteEvent{
		BaseEvent:  events.BaseEvent{EventType: events.EventRunComplete, Time: finished},
		RunID:      rc.ID,
		AnalysisID: rc.AnalysisID,
		ResultsID:  rc.ResultsID,
		Tasks:      len(rc.TasksRun),
		Jobs:       len(ledger.Rows()),
		Duration:   finished.Sub(rc.StartedAt),
		Error:      runErr,
	})
}
