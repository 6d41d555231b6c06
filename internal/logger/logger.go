// Package logger provides process-wide logging for keep.
//
// Debug and Info messages are only emitted in verbose mode (the --verbose
// flag, or the background processor's log file). Warnings and errors are
// always emitted, since they report abandoned work and store recovery.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Fields is an alias so callers need not import logrus directly.
type Fields = logrus.Fields

// Entry is a logger carrying fields.
type Entry = logrus.Entry

var (
	mu      sync.RWMutex
	verbose bool
	output  io.Writer = os.Stderr
	base              = newBase(os.Stderr)
)

func newBase(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.WarnLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: true,
		DisableQuote:     true,
	})
	return l
}

// SetVerbose enables or disables verbose logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
	if v {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.WarnLevel)
	}
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output writer for logs.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	base.SetOutput(w)
}

// SetTimestamps toggles timestamps, used by the long-running processor.
func SetTimestamps(on bool) {
	mu.Lock()
	defer mu.Unlock()
	base.SetFormatter(&logrus.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: !on,
		FullTimestamp:    on,
		DisableQuote:     true,
	})
}

// With returns an entry carrying structured fields.
func With(fields Fields) *Entry {
	mu.RLock()
	defer mu.RUnlock()
	return base.WithFields(fields)
}

// Debug prints a message if verbose mode is enabled.
func Debug(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	base.Debugf(format, args...)
}

// Section prints a section header if verbose mode is enabled.
func Section(name string) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		fmt.Fprintf(output, "\n=== %s ===\n", name)
	}
}

// Info prints an informational message if verbose mode is enabled.
func Info(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	base.Infof(format, args...)
}

// Warn prints a warning message.
func Warn(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	base.Warnf(format, args...)
}

// Error prints an error message.
func Error(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	base.Errorf(format, args...)
}
