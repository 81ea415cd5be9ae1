package lmstudio

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// LogLevel defines the level of logging
type LogLevel int

const (
	// LogLevelError only shows error messages
	LogLevelError LogLevel = iota
	// LogLevelWarn shows warning and error messages
	LogLevelWarn
	// LogLevelInfo shows info and error messages
	LogLevelInfo
	// LogLevelDebug shows all messages including debug
	LogLevelDebug
	// LogLevelTrace shows all messages including trace
	LogLevelTrace
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "Error"
	case LogLevelWarn:
		return "Warn"
	case LogLevelInfo:
		return "Info"
	case LogLevelDebug:
		return "Debug"
	case LogLevelTrace:
		return "Trace"
	default:
		return "Unknown"
	}
}

// ParseLogLevel converts a level name such as "debug" into a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "info", "":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	case "trace":
		return LogLevelTrace, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// loggerStruct is a simple logging facility with support for different log levels
type loggerStruct struct {
	level LogLevel
	out   *log.Logger
}

// NewLogger creates a new logger with the specified log level. Output goes
// through the standard log package.
func NewLogger(level LogLevel) *loggerStruct {
	return &loggerStruct{level: level}
}

// NewLoggerTo creates a logger writing to w instead of the standard logger.
// The chat UI uses it to keep log lines off the terminal it draws on.
func NewLoggerTo(w io.Writer, level LogLevel) *loggerStruct {
	if w == nil {
		w = os.Stderr
	}
	return &loggerStruct{
		level: level,
		out:   log.New(w, "", log.LstdFlags),
	}
}

func (l *loggerStruct) SetLevel(level LogLevel) {
	l.level = level
}

func (l *loggerStruct) printf(format string, v ...interface{}) {
	if l.out != nil {
		l.out.Printf(format, v...)
		return
	}
	log.Printf(format, v...)
}

func (l *loggerStruct) Error(format string, v ...interface{}) {
	// Error messages are always shown
	l.printf("[ERROR] "+format, v...)
}

// Warn logs a warning message if the log level is Warn or higher
func (l *loggerStruct) Warn(format string, v ...interface{}) {
	if l.level >= LogLevelWarn {
		l.printf("[WARN] "+format, v...)
	}
}

func (l *loggerStruct) Info(format string, v ...interface{}) {
	if l.level >= LogLevelInfo {
		l.printf("[INFO] "+format, v...)
	}
}

func (l *loggerStruct) Debug(format string, v ...interface{}) {
	if l.level >= LogLevelDebug {
		l.printf("[DEBUG] "+format, v...)
	}
}

func (l *loggerStruct) Trace(format string, v ...interface{}) {
	if l.level >= LogLevelTrace {
		l.printf("[TRACE] "+format, v...)
	}
}

// Logger is the interface for logging, it can be overridden by the client code
type Logger interface {
	SetLevel(level LogLevel)
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Info(format string, v ...interface{})
	Debug(format string, v ...interface{})
	Trace(format string, v ...interface{})
}
