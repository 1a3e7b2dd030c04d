// Package shell runs external commands (sns pipeline scripts, qsub, qstat,
// R and report compilers) through bash.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/molecpathlab/snsxt/internal/logging"
)

// Command describes one shell invocation.
type Command struct {
	Script  string        // passed to bash -c
	Dir     string        // working directory, "" for the current one
	Stdin   string        // optional standard input
	Env     []string      // extra KEY=VALUE entries appended to the environment
	Timeout time.Duration // 0 means no timeout beyond ctx
}

// Result is the captured outcome of a Command.
type Result struct {
	Script   string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes commands. Tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExitError is returned when a command ran but exited non-zero.
type ExitError struct {
	Script   string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command exited with status %d: %s", e.ExitCode, firstLine(e.Script))
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	return msg
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Shell  string // default "bash"
	Logger *logging.Logger
}

// NewExecRunner creates a runner that uses bash.
func NewExecRunner(logger *logging.Logger) *ExecRunner {
	return &ExecRunner{Shell: "bash", Logger: logger}
}

// Run executes cmd and waits for it. A non-zero exit returns the Result
// together with an *ExitError.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if strings.TrimSpace(cmd.Script) == "" {
		return Result{}, errors.New("empty command")
	}
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	shellBin := r.Shell
	if shellBin == "" {
		shellBin = "bash"
	}

	c := exec.CommandContext(ctx, shellBin, "-c", cmd.Script)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(c.Environ(), cmd.Env...)
	}
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if r.Logger != nil {
		r.Logger.Debug().Str("dir", cmd.Dir).Str("command", cmd.Script).Msg("Running command")
	}

	start := time.Now()
	err := c.Run()
	result := Result{
		Script:   cmd.Script,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return result, fmt.Errorf("command timed out after %s: %s", cmd.Timeout, firstLine(cmd.Script))
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, &ExitError{Script: cmd.Script, ExitCode: result.ExitCode, Stderr: result.Stderr}
		}
		return result, fmt.Errorf("failed to run command: %w", err)
	}

	if r.Logger != nil {
		r.Logger.Debug().Dur("duration", result.Duration).Msg("Command finished")
	}
	return result, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
