package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

var (
	logFile *os.File
	mu      sync.Mutex
)

// Init sends the standard logger to stderr and, when path is non-empty, also
// appends it to the file at path. Stdout is left alone: it carries the tailed
// lines.
func Init(path string) error {
	mu.Lock()
	defer mu.Unlock()

	log.SetFlags(log.LstdFlags)
	if path == "" {
		log.SetOutput(os.Stderr)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}

	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	log.SetOutput(io.MultiWriter(os.Stderr, logFile))
	log.Printf("Logging to file: %s", path)
	return nil
}

// Close restores stderr-only logging and closes the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	log.SetOutput(os.Stderr)
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// Discard returns a logger that drops everything. Used where a component
// needs a *log.Logger but the caller asked for silence.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
