package app

import (
	"os"

	"github.com/sirupsen/logrus"

	"dispatch/internal/config"
)

// NewLogger returns a JSON logger at the configured level. Unknown levels fall back to info.
func NewLogger(cfg config.LogConfig) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return l
}
