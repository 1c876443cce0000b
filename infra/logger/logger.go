package logger

import corelogger "github.com/kilianp07/seta/core/logger"

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger implements Logger with no-op methods.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any)         {}
func (NopLogger) Debugw(string, map[string]any) {}
func (NopLogger) Infof(string, ...any)          {}
func (NopLogger) Warnf(string, ...any)          {}
func (NopLogger) Errorf(string, ...any)         {}

// New returns a Logger for the given component. APP_ENV=dev switches to a
// console format.
func New(component string) Logger {
	return NewZerologLogger(component)
}

// ForTaxi returns the logger of one taxi node, tagged with its id.
func ForTaxi(id int) Logger {
	return NewZerologLogger("taxi").With("taxi_id", id)
}
