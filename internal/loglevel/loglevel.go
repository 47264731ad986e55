// Package loglevel gates the plain standard-library logger behind the
// five verbosity levels spec.md §6's logging.level option names, the same
// "Printf behind a level check" shape the teacher's pkg/storage uses
// log.Printf/log.Println for directly, without pulling in a structured
// logging library.
package loglevel

import "log"

// Level is one of spec.md §6's closed logging.level values.
type Level int

const (
	Trace Level = iota
	Debug
	Info
	Warn
	Error
)

// ParseLevel maps a logging.level config string to a Level, defaulting to
// Info for an unrecognized value.
func ParseLevel(s string) Level {
	switch s {
	case "trace":
		return Trace
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Logger wraps the stdlib logger with a minimum level; calls below the
// configured level are dropped before formatting.
type Logger struct {
	min Level
}

// New builds a Logger that only emits messages at or above min.
func New(min Level) *Logger {
	return &Logger{min: min}
}

func (l *Logger) log(level Level, prefix, format string, args []any) {
	if level < l.min {
		return
	}
	log.Printf(prefix+format, args...)
}

func (l *Logger) Tracef(format string, args ...any) { l.log(Trace, "TRACE ", format, args) }
func (l *Logger) Debugf(format string, args ...any) { l.log(Debug, "DEBUG ", format, args) }
func (l *Logger) Infof(format string, args ...any)  { l.log(Info, "INFO ", format, args) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(Warn, "WARN ", format, args) }
func (l *Logger) Errorf(format string, args ...any) { l.log(Error, "ERROR ", format, args) }
