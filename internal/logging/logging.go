// Package logging wraps logrus with the configuration used across apantli.
// All side-channel diagnostics (stream disconnects, ledger write failures)
// flow through this package so they end up in one rotated log file.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger = logrus.New()

func init() {
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(logrus.InfoLevel)
}

// Options controls file output and verbosity.
type Options struct {
	// File enables rotated file logging when non-empty.
	File string

	// MaxSizeMB is the rotation threshold for the log file.
	MaxSizeMB int

	// MaxBackups is how many rotated files to keep.
	MaxBackups int

	// Debug lowers the level to debug.
	Debug bool
}

// Configure applies runtime options. Safe to call once at startup.
func Configure(opts Options) error {
	if opts.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	if opts.File == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return err
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}
	rotated := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, rotated))
	return nil
}

// Std returns the underlying logrus logger for middleware wiring.
func Std() *logrus.Logger { return logger }

func Debugf(format string, args ...any) { logger.Debugf(format, args...) }
func Infof(format string, args ...any)  { logger.Infof(format, args...) }
func Warnf(format string, args ...any)  { logger.Warnf(format, args...) }
func Errorf(format string, args ...any) { logger.Errorf(format, args...) }

// WithError returns an entry carrying the error field.
func WithError(err error) *logrus.Entry { return logger.WithError(err) }

// WithField returns an entry carrying one structured field.
func WithField(key string, value any) *logrus.Entry { return logger.WithField(key, value) }
