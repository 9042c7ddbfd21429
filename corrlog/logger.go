// Package corrlog provides the structured logging setup shared by every
// correlate component. Components never reach for a package-level logger
// singleton (spec.md §9, Design Notes: "Global singletons → injected
// collaborators") — they accept a *logrus.Entry constructed here and bound
// with a "component" field, the way coordinator.New binds its logger in
// the teacher codebase.
package corrlog

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes error-level log records to stderr and every other
// level to stdout, so container log collectors can apply different
// retention/alerting rules per stream.
type OutputSplitter struct{}

// Write implements io.Writer, inspecting the formatted record for the
// logrus error-level marker ("level=error" in text format,
// "level":"error" in JSON format).
func (OutputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Config configures a new logger.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// Format is "text" or "json".
	Format string
	// Service names the binary/component family emitting the logs, added
	// to every record as the "service" field.
	Service string
}

// DefaultConfig returns the logger configuration used when no environment
// override is present: info level, text format.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text", Service: "correlate"}
}

// New builds a *logrus.Logger per Config, routed through OutputSplitter.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(OutputSplitter{})

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch cfg.Level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	return logger
}

// Component returns a *logrus.Entry bound with a "component" field and the
// service field from cfg, ready to be handed to a constructor such as
// ledger.New or orchestrate.New.
func Component(cfg Config, name string) *logrus.Entry {
	return New(cfg).WithFields(logrus.Fields{
		"service":   cfg.Service,
		"component": name,
	})
}
