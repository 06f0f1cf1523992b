// Package logger provides the process-wide logging setup.
package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Log is the root logger shared by the whole process.
var Log = logrus.New()

func init() {
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	Log.SetLevel(logrus.InfoLevel)
}

// SetLevel sets the log level from its textual form (trace, debug, info,
// warn, error, fatal, panic).
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Log.SetLevel(lvl)
	return nil
}

// SetOutput redirects all log output.
func SetOutput(w io.Writer) { Log.SetOutput(w) }

// Component returns an entry stamped with the component name. Services keep
// the returned entry instead of reaching for a global.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}

// Null returns an entry that discards everything. Used as the default in
// constructors so callers without logging needs can pass nil-equivalents.
func Null() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
