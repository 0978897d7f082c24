package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// logging levels
const (
	DEBUG = "DEBUG"
	INFO  = "INFO"
	WARN  = "WARN"
	ERROR = "ERROR"
)

var (
	mu   sync.RWMutex
	root = newRoot(os.Stdout, INFO)
)

func newRoot(out io.Writer, level string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:            "peerbus",
		Level:           hclog.LevelFromString(level),
		Output:          out,
		IncludeLocation: false,
	})
}

// SetLogLevel sets the log level for filtering logs
func SetLogLevel(logLevel string) {
	mu.RLock()
	defer mu.RUnlock()
	root.SetLevel(hclog.LevelFromString(strings.ToUpper(logLevel)))
}

// SetOutput redirects every logger to out. When file is non-empty the logs
// are appended to it in addition to stdout.
func SetOutput(file string) error {
	var out io.Writer = os.Stdout
	if file != "" {
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", file, err)
		}
		out = io.MultiWriter(os.Stdout, f)
	}
	mu.Lock()
	defer mu.Unlock()
	root = newRoot(out, root.GetLevel().String())
	return nil
}

// Named returns a sub logger used for structured key/value logging and for
// libraries that accept an hclog.Logger (raft, serf).
func Named(name string) hclog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(name)
}

// Log writes a log message at a specified level, formatted with optional arguments
func Log(level, message string, a ...any) {
	mu.RLock()
	l := root
	mu.RUnlock()
	l.Log(hclog.LevelFromString(level), fmt.Sprintf(message, a...))
}

// Debug logs a message at DEBUG level
func Debug(message string, a ...any) {
	Log(DEBUG, message, a...)
}

// Info logs a message at INFO level
func Info(message string, a ...any) {
	Log(INFO, message, a...)
}

// Warn logs a message at WARN level
func Warn(message string, a ...any) {
	Log(WARN, message, a...)
}

// Error logs a message at ERROR level
func Error(message string, a ...any) {
	Log(ERROR, message, a...)
}

// Panic exists with a panic
func Panic(message string, a ...any) {
	panic(fmt.Sprintf(message, a...))
}
