package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. It writes to stderr so stdout stays free
// for tickets and summaries.
var Log = newLogger(os.Stderr)

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.Out = out
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// InitLogger configures Log. Verbose mode logs debug records as text, otherwise
// only warnings and above are emitted, as JSON when json is set.
func InitLogger(verbose, json bool) {
	Log = newLogger(os.Stderr)

	switch {
	case verbose:
		Log.SetLevel(logrus.DebugLevel)
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	case json:
		Log.SetLevel(logrus.WarnLevel)
		Log.SetFormatter(&logrus.JSONFormatter{})
	default:
		Log.SetLevel(logrus.WarnLevel)
	}
}

// Discard returns a logger that drops everything, for tests and embedders
// that bring no logger of their own.
func Discard() *logrus.Logger {
	l := newLogger(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}
