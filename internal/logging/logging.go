// Package logging provides the append-only file log shared by the
// sync engine and the logs subcommand. The sync engine never fails
// its caller; every terminal condition ends up here instead.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Log levels as they appear in the file.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Logger appends timestamped, leveled lines to a single file. A nil
// Logger is valid and discards everything, so callers can log
// unconditionally.
type Logger struct {
	mu sync.Mutex
	f  *os.File
}

// Open creates the log file (and its directory) if needed and
// returns a Logger that appends to it.
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(
		path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644,
	)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return &Logger{f: f}, nil
}

// Append writes one log line: "<RFC3339> [<LEVEL>] <message>".
func (l *Logger) Append(level, msg string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(
		l.f, "%s [%s] %s\n",
		time.Now().UTC().Format(time.RFC3339), level, msg,
	)
}

// Infof logs at INFO level.
func (l *Logger) Infof(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warnf logs at WARN level.
func (l *Logger) Warnf(format string, args ...any) {
	l.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Errorf logs at ERROR level.
func (l *Logger) Errorf(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Close()
}
