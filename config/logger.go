package config

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

func parseLevel(s string) (logrus.Level, error) {
	if s == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(s)
}

// NewLogger builds the process logger, writing to stderr.
func (l LogConfig) NewLogger() (*logrus.Logger, error) {
	return l.newLogger(os.Stderr)
}

func (l LogConfig) newLogger(w io.Writer) (*logrus.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(level)
	if l.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
