// Package log provides the logrus logger construction shared by every
// binary in this module.
package log

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// InitLogs builds a *logrus.Logger configured with the given level
// (empty defaults to "info"). Output is human-readable text when
// stderr is a terminal and JSON otherwise, matching how the logs are
// consumed in a container environment vs. a developer's shell.
func InitLogs(level ...string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	lvl := logrus.InfoLevel
	if len(level) > 0 && level[0] != "" {
		if parsed, err := logrus.ParseLevel(level[0]); err == nil {
			lvl = parsed
		}
	}
	logger.SetLevel(lvl)

	if isatty.IsTerminal(os.Stderr.Fd()) {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return logger
}
