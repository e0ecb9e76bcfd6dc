// Package logging builds the process logger from the environment.
package logging

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// New configures a logger from LOG_FORMAT and LOG_LEVEL. Output is JSON
// unless LOG_FORMAT=text or out is a terminal; the level defaults to info.
func New(out io.Writer) *logrus.Logger {
	return NewWithEnv(out, os.Getenv)
}

func NewWithEnv(out io.Writer, getenv func(string) string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	if getenv("LOG_FORMAT") == "text" || isTerminal(out) {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
