package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Format is the output format of the logger.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat converts a configured format string into a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format: %s", s)
	}
}

// DefaultLogger returns a logger writing to out with the error location
// hook installed.
func DefaultLogger(level logrus.Level, format Format, out io.Writer) *logrus.Logger {
	logger := logrus.New()

	if format == FormatJSON {
		logger.Formatter = &logrus.JSONFormatter{}
	} else {
		logger.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	}

	if out == nil {
		out = os.Stdout
	}
	logger.Out = out
	logger.Level = level
	logger.Hooks.Add(&ErrorLocationHook{})

	return logger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the process logger from config values. An empty logFile logs to stdout.
func New(levelStr, formatStr, logFile string) (*logrus.Logger, io.Closer, error) {
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}
	format, err := ParseFormat(formatStr)
	if err != nil {
		return nil, nil, err
	}

	if logFile == "" {
		return DefaultLogger(level, format, os.Stdout), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return DefaultLogger(level, format, f), f, nil
}
