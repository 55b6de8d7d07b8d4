// Package logging configures the process-wide logrus logger and hands
// out component-tagged sub-loggers, the way the rest of the mining
// client expects to receive a logrus.FieldLogger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/jrick/logrotate/rotator"
	"github.com/sirupsen/logrus"
)

// Config controls the root logger's behavior.
type Config struct {
	// Level is one of logrus's level names: "debug", "info", "warn",
	// "error".
	Level string

	// JSON selects the JSON formatter instead of logrus's default text
	// formatter; useful when output is shipped to a log aggregator.
	JSON bool

	// FilePath, if non-empty, additionally writes log lines to this
	// file (rotated past MaxFileSizeKB) alongside stderr.
	FilePath string

	// MaxFileSizeKB is the rotation threshold for FilePath; defaults to
	// 10MB when zero.
	MaxFileSizeKB int64

	// MaxRolls is how many rotated files to keep around FilePath;
	// defaults to 3 when zero.
	MaxRolls int
}

const (
	defaultMaxFileSizeKB = 10 * 1024
	defaultMaxRolls      = 3
)

// New builds the root logger described by cfg. Callers derive
// component loggers from it with WithField("component", name).
func New(cfg Config) (*logrus.Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	out := io.Writer(os.Stderr)
	if cfg.FilePath != "" {
		maxSize := cfg.MaxFileSizeKB
		if maxSize == 0 {
			maxSize = defaultMaxFileSizeKB
		}
		maxRolls := cfg.MaxRolls
		if maxRolls == 0 {
			maxRolls = defaultMaxRolls
		}
		r, err := rotator.New(cfg.FilePath, maxSize, false, maxRolls)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, r)
	}
	log.SetOutput(out)

	return log, nil
}

// Component returns a sub-logger tagged with a "component" field, the
// convention every package in this module uses to identify which part
// of the client produced a line.
func Component(log logrus.FieldLogger, name string) logrus.FieldLogger {
	return log.WithField("component", name)
}
