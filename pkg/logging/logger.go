// Package logging provides the process-wide structured logger for the
// storage kernel. All components log through it so output carries
// consistent fields (component, txn id, page id).
package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

// GetLogger returns the shared logger, creating it on first use. The level
// comes from the RELKIT_LOG environment variable ("debug", "info", ...);
// the default is Warn so test runs stay quiet.
func GetLogger() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})

		level := logrus.WarnLevel
		if raw := os.Getenv("RELKIT_LOG"); raw != "" {
			if parsed, err := logrus.ParseLevel(raw); err == nil {
				level = parsed
			}
		}
		logger.SetLevel(level)
	})
	return logger
}

// SetLevel overrides the log level for the shared logger.
func SetLevel(level logrus.Level) {
	GetLogger().SetLevel(level)
}
