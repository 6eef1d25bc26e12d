package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Options configures a Logger.
type Options struct {
	Name   string
	Level  string
	JSON   bool
	Output io.Writer
}

// Logger is a leveled key/value logger. Messages are plain strings followed
// by alternating key/value pairs.
type Logger struct {
	hclog.Logger
}

// NewLogger creates a new Logger writing to stderr at info level.
func NewLogger() *Logger {
	return New(Options{})
}

// New creates a Logger from options. Output defaults to stderr so that the
// stdio MCP transport keeps stdout to itself.
func New(opts Options) *Logger {
	if opts.Name == "" {
		opts.Name = "mcp-gateway"
	}
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return &Logger{
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:       opts.Name,
			Level:      level,
			JSONFormat: opts.JSON,
			Output:     opts.Output,
		}),
	}
}

// Discard returns a Logger that drops everything. Handy in tests.
func Discard() *Logger {
	return &Logger{Logger: hclog.NewNullLogger()}
}

// With returns a child logger that always includes the given pairs.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Named returns a child logger with a sub-system name appended.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name)}
}
