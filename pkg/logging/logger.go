// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02 15:04:05.000"

var logger = logrus.New()

func init() {
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat})
}

// Setup applies level (debug, info, warn, error) and format (text, json).
func Setup(level, format string, out io.Writer) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	default:
		return fmt.Errorf("unknown log format %q (valid: text, json)", format)
	}

	if out != nil {
		logger.SetOutput(out)
	}
	return nil
}

func parseLevel(level string) (logrus.Level, error) {
	if level == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// ValidLevel reports whether level can be passed to Setup.
func ValidLevel(level string) bool {
	_, err := parseLevel(level)
	return err == nil
}

// Logger returns the shared logger.
func Logger() *logrus.Logger { return logger }

// WithComponent tags entries with the emitting subsystem.
func WithComponent(name string) *logrus.Entry {
	return logger.WithField("component", name)
}
