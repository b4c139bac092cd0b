package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Entry
)

type Fields = logrus.Fields

func init() {
	if logger == nil {
		l := logrus.New()
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logger = logrus.NewEntry(l)
	}
}

func SetLevel(l logrus.Level) {
	logger.Logger.SetLevel(l)
}

func SetOutput(w io.Writer) {
	logger.Logger.SetOutput(w)
}

func Entry() *logrus.Entry {
	return logger
}

// Component tags log lines with the part of the node that emitted them
func Component(name string) *logrus.Entry {
	return logger.WithField("component", name)
}

func WithError(e error) *logrus.Entry {
	return logger.WithError(e)
}
