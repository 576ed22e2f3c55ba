// Package log holds the structured logger shared by the verifier packages.
package log

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

var _logger = logrus.StandardLogger().WithField("module", "VP")

// Logger returns a logger with the module field set.
func Logger() *logrus.Entry {
	return _logger
}

// Configure sets the global level and output format ("text" or "json").
func Configure(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)

	switch format {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid formatter: '%s'", format)
	}
	return nil
}
