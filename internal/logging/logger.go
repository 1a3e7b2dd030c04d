// Package logging provides structured logging for snsxt runs.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/molecpathlab/snsxt/internal/constants"
)

// Logger wraps zerolog with an optional rotating run-log file.
type Logger struct {
	zlog    zerolog.Logger
	console io.Writer
	sink    *switchWriter // shared by child loggers
	file    *lumberjack.Logger
}

// switchWriter lets the console destination change after child loggers
// have been created.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *switchWriter) swap(w io.Writer) io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.w
	s.w = w
	return prev
}

// NewLogger creates a console logger writing to out.
func NewLogger(out io.Writer) *Logger {
	sink := &switchWriter{w: out}
	console := zerolog.ConsoleWriter{
		Out:        sink,
		TimeFormat: "15:04:05",
	}
	return &Logger{
		zlog:    zerolog.New(console).With().Timestamp().Logger(),
		console: console,
		sink:    sink,
	}
}

// NewDefaultCLILogger creates a default CLI logger on stdout.
func NewDefaultCLILogger() *Logger {
	return NewLogger(os.Stdout)
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// WithFile adds a rotating JSON log file next to the console output.
// The directory is created if needed.
func (l *Logger) WithFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	l.file = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    constants.LogMaxSizeMB,
		MaxBackups: constants.LogMaxBackups,
		MaxAge:     constants.LogMaxAgeDays,
		Compress:   true,
	}

	writers := []io.Writer{l.file}
	if l.console != nil {
		writers = append([]io.Writer{l.console}, writers...)
	}
	l.zlog = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return nil
}

// LogFile returns the run-log path, or "" when logging to console only.
func (l *Logger) LogFile() string {
	if l.file == nil {
		return ""
	}
	return l.file.Filename
}

// Close flushes and closes the run-log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Named returns a child logger tagged with key=value.
func (l *Logger) Named(key, value string) *Logger {
	return &Logger{
		zlog:    l.zlog.With().Str(key, value).Logger(),
		console: l.console,
		sink:    l.sink,
		file:    l.file,
	}
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// SetOutput redirects console output, including that of child loggers,
// to w and returns the previous destination. The run-log file is not
// affected. Used to print log lines above the job progress bar.
func (l *Logger) SetOutput(w io.Writer) io.Writer {
	if l.sink == nil {
		return nil
	}
	return l.sink.swap(w)
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
