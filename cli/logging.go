package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func newLogger(verbosity int) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	switch {
	case verbosity <= 0:
		log.SetLevel(logrus.WarnLevel)
	case verbosity == 1:
		log.SetLevel(logrus.InfoLevel)
	case verbosity == 2:
		log.SetLevel(logrus.DebugLevel)
	default:
		log.SetLevel(logrus.TraceLevel)
	}
	return log
}
