// Package logging configures the process logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a JSON logger at the given level ("" means info).
func New(level string) (*logrus.Logger, error) {
	return NewWithOutput(level, os.Stderr)
}

func NewWithOutput(level string, w io.Writer) (*logrus.Logger, error) {
	lvl := logrus.InfoLevel
	if s := strings.TrimSpace(level); s != "" {
		var err error
		lvl, err = logrus.ParseLevel(s)
		if err != nil {
			return nil, err
		}
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	return l, nil
}

// Discard returns a logger that drops everything. Tests use it.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
