package gomp4mux

import (
	"log"
)

// LogLevel is a log level.
type LogLevel int

// Log levels.
const (
	LogLevelDebug LogLevel = iota + 1
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// String implements fmt.Stringer.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEB"
	case LogLevelInfo:
		return "INF"
	case LogLevelWarn:
		return "WAR"
	case LogLevelError:
		return "ERR"
	}
	return "???"
}

// LogFunc is the prototype of the log function.
type LogFunc func(level LogLevel, format string, args ...interface{})

func defaultLog(level LogLevel, format string, args ...interface{}) {
	if level == LogLevelDebug {
		return
	}
	log.Printf("["+level.String()+"] [mp4mux] "+format, args...)
}
