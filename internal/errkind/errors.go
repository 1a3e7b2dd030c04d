// Package errkind defines the failure classes raised while running tasks
// against an analysis. Every error produced by the orchestration packages
// wraps exactly one of the sentinel kinds below so callers can branch with
// errors.Is.
package errkind

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInputFileMissing: a file a task needs does not exist.
	ErrInputFileMissing = errors.New("input file missing")

	// ErrOutputFileMissing: a file a task was supposed to produce is absent.
	ErrOutputFileMissing = errors.New("output file missing")

	// ErrAnalysisInvalid: aggregate analysis validation failed.
	ErrAnalysisInvalid = errors.New("analysis invalid")

	// ErrComputeJobInvalid: one or more scheduler jobs errored or failed log validation.
	ErrComputeJobInvalid = errors.New("compute job invalid")

	// ErrArgument: caller misuse.
	ErrArgument = errors.New("invalid argument")

	// ErrUnknownTask: a task-list entry has no registered implementation.
	ErrUnknownTask = errors.New("unknown task")

	// ErrJobTimeout: jobs were still running when the tracking deadline passed.
	ErrJobTimeout = errors.New("job tracking timed out")
)

// Error carries a failure kind plus the items (paths, job descriptions,
// sample ids) that triggered it.
type Error struct {
	Kind  error
	Msg   string
	Items []string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if len(e.Items) > 0 {
		sb.WriteString(": ")
		sb.WriteString(strings.Join(e.Items, ", "))
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Kind }

// New builds an *Error of the given kind.
func New(kind error, msg string, items ...string) *Error {
	return &Error{Kind: kind, Msg: msg, Items: items}
}

// Newf builds an *Error with a formatted message and no items.
func Newf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// ItemsOf returns the offending items of the first *Error found in err's chain.
func ItemsOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Items
	}
	return nil
}

// IsInputMissing reports whether err is an ErrInputFileMissing.
func IsInputMissing(err error) bool { return errors.Is(err, ErrInputFileMissing) }

// IsOutputMissing reports whether err is an ErrOutputFileMissing.
func IsOutputMissing(err error) bool { return errors.Is(err, ErrOutputFileMissing) }

// IsComputeJobInvalid reports whether err is an ErrComputeJobInvalid.
func IsComputeJobInvalid(err error) bool { return errors.Is(err, ErrComputeJobInvalid) }

// IsTimeout reports whether err is an ErrJobTimeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrJobTimeout) }

// IsAnalysisInvalid reports whether err is an ErrAnalysisInvalid.
func IsAnalysisInvalid(err error) bool { return errors.Is(err, ErrAnalysisInvalid) }

// IsArgument reports whether err is an ErrArgument.
func IsArgument(err error) bool { return errors.Is(err, ErrArgument) }

// IsUnknownTask reports whether err is an ErrUnknownTask.
func IsUnknownTask(err error) bool { return errors.Is(err, ErrUnknownTask) }
