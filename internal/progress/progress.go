// Package progress reports how many tracked jobs have finished.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/molecpathlab/snsxt/internal/logging"
)

// Reporter receives progress updates from the job tracker.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
	SetDescription(desc string)
}

// New returns a progress bar on stderr when it is a terminal, otherwise a no-op.
// While the bar is shown, logger's console lines are printed above it.
func New(logger *logging.Logger) Reporter {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return NewCLIProgress(os.Stderr, logger)
	}
	return NewNoOpProgress()
}

// CLIProgress implements Reporter with a terminal progress bar.
type CLIProgress struct {
	out     io.Writer
	bar     *progressbar.ProgressBar
	logger  *logging.Logger
	restore io.Writer
}

// NewCLIProgress creates a progress bar reporter writing to out. logger
// may be nil.
func NewCLIProgress(out io.Writer, logger *logging.Logger) *CLIProgress {
	return &CLIProgress{out: out, logger: logger}
}

// aboveBar clears the bar, writes a log line, then redraws the bar.
type aboveBar struct {
	p *CLIProgress
}

func (w aboveBar) Write(b []byte) (int, error) {
	_ = w.p.bar.Clear()
	n, err := w.p.out.Write(b)
	_ = w.p.bar.RenderBlank()
	return n, err
}

// Start initializes the bar with the number of jobs to track.
func (p *CLIProgress) Start(total int64, description string) {
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	if p.logger != nil && p.restore == nil {
		p.restore = p.logger.SetOutput(aboveBar{p})
	}
}

// Update sets the number of finished jobs.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the progress bar and gives the console back to the logger.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
	if p.restore != nil {
		p.logger.SetOutput(p.restore)
		p.restore = nil
	}
}

// Error displays an error message.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(p.out, "\nError: %v\n", err)
	}
}

// SetDescription updates the progress bar description.
func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// NoOpProgress is a reporter that does nothing (non-terminal output, tests).
type NoOpProgress struct{}

// NewNoOpProgress creates a new no-op progress reporter.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

// Start does nothing.
func (p *NoOpProgress) Start(total int64, description string) {}

// Update does nothing.
func (p *NoOpProgress) Update(current int64) {}

// Finish does nothing.
func (p *NoOpProgress) Finish() {}

// Error does nothing.
func (p *NoOpProgress) Error(err error) {}

// SetDescription does nothing.
func (p *NoOpProgress) SetDescription(desc string) {}
