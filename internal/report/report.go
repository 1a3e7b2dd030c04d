// Package report stages and compiles the parent analysis report inside the
// analysis directory.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/molecpathlab/snsxt/internal/config"
	"github.com/molecpathlab/snsxt/internal/constants"
	"github.com/molecpathlab/snsxt/internal/logging"
	"github.com/molecpathlab/snsxt/internal/shell"
	"github.com/molecpathlab/snsxt/internal/validation"
)

// Result describes a staged report.
type Result struct {
	Dir        string // staging directory inside the analysis
	MainReport string // <aid>_<rid>_<main report basename>
	Compiled   string // compiled output, "" when compilation failed or produced nothing
}

// Builder sets up reports for one configuration.
type Builder struct {
	cfg        config.ReportConfig
	reportsDir string
	runner     shell.Runner
	logger     *logging.Logger
}

// NewBuilder creates a report builder from the run config.
func NewBuilder(cfg *config.Config, runner shell.Runner, logger *logging.Logger) *Builder {
	return &Builder{cfg: cfg.Report, reportsDir: cfg.ReportsDir, runner: runner, logger: logger}
}

// Setup writes the id files, copies the main report and its supporting
// files into <analysisDir>/reports, then compiles the main report. A
// missing template is an ErrInputFileMissing error. A compile script that
// exits non-zero is only logged.
func (b *Builder) Setup(ctx context.Context, analysisDir, analysisID, resultsID string) (*Result, error) {
	if b.cfg.MainReport == "" {
		return nil, fmt.Errorf("report: main_report is not configured")
	}
	outDir := filepath.Join(analysisDir, constants.ReportsDir)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report dir: %w", err)
	}

	for file, value := range map[string]string{
		b.cfg.AnalysisIDFile: analysisID,
		b.cfg.ResultsIDFile:  resultsID,
	} {
		if file == "" {
			continue
		}
		if err := os.WriteFile(filepath.Join(outDir, file), []byte(value+"\n"), 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", file, err)
		}
	}

	sources := []string{b.cfg.MainReport}
	for _, f := range b.cfg.ReportFiles {
		sources = append(sources, b.source(f))
	}
	if err := validation.ValidateInputs(sources); err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}

	res := &Result{
		Dir:        outDir,
		MainReport: filepath.Join(outDir, fmt.Sprintf("%s_%s_%s", analysisID, resultsID, filepath.Base(b.cfg.MainReport))),
	}
	if err := copyFile(b.cfg.MainReport, res.MainReport); err != nil {
		return nil, err
	}
	for _, src := range sources[1:] {
		if err := copyFile(src, filepath.Join(outDir, filepath.Base(src))); err != nil {
			return nil, err
		}
	}
	b.logger.Debug().Str("report", res.MainReport).Int("files", len(sources)-1).Msg("Report staged")

	res.Compiled = b.compile(ctx, outDir, res.MainReport)
	return res, nil
}

func (b *Builder) source(f string) string {
	if filepath.IsAbs(f) {
		return f
	}
	return filepath.Join(b.reportsDir, f)
}

// compile runs the compile script on the staged report and returns the
// expected html output when it exists.
func (b *Builder) compile(ctx context.Context, dir, mainReport string) string {
	if b.cfg.CompileScript == "" {
		b.logger.Debug().Msg("No report compile script configured")
		return ""
	}
	if !validation.Exists(b.cfg.CompileScript) {
		b.logger.Warn().Str("script", b.cfg.CompileScript).Msg("Report compile script does not exist")
		return ""
	}

	res, err := b.runner.Run(ctx, shell.Command{
		Script: shell.QuoteAll(b.cfg.CompileScript, mainReport),
		Dir:    dir,
	})
	if err != nil {
		b.logger.Warn().Err(err).Int("exit_code", res.ExitCode).Msg("Report compilation failed; errors may have occurred")
		return ""
	}

	html := strings.TrimSuffix(mainReport, filepath.Ext(mainReport)) + ".html"
	if !validation.Exists(html) {
		b.logger.Warn().Str("expected", html).Msg("Report compiled but no html output was found")
		return ""
	}
	b.logger.Info().Str("report", html).Msg("Report compiled")
	return html
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
