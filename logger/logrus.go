package logger

import (
	"github.com/sirupsen/logrus"

	"fastfair"
)

// logrusAdapter converts alternating key/value args into logrus fields.
type logrusAdapter struct {
	base *logrus.Logger
}

// NewLogrus adapts a logrus.Logger to fastfair.Logger.
func NewLogrus(ll *logrus.Logger) fastfair.Logger {
	return &logrusAdapter{base: ll}
}

func (l *logrusAdapter) Error(msg string, args ...any) {
	l.base.WithFields(fields(args)).Error(msg)
}

func (l *logrusAdapter) Warn(msg string, args ...any) {
	l.base.WithFields(fields(args)).Warn(msg)
}

func (l *logrusAdapter) Info(msg string, args ...any) {
	l.base.WithFields(fields(args)).Info(msg)
}

// fields pairs up args; a trailing key without a value is dropped, and
// non-string keys are skipped rather than panicking mid-log.
func fields(args []any) logrus.Fields {
	f := make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		if k, ok := args[i].(string); ok {
			f[k] = args[i+1]
		}
	}
	return f
}
