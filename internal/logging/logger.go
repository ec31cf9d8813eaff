package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger provides structured logging for one worker component.
type Logger struct {
	log zerolog.Logger
}

// NewLogger creates a logger tagged with a component name.
func NewLogger(component string) *Logger {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL"))); err == nil && parsed != zerolog.NoLevel {
		level = parsed
	}
	log := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
	return &Logger{log: log}
}

// Info logs an informational message with key-value pairs.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.emit(l.log.Info(), msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs.
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.emit(l.log.Warn(), msg, keysAndValues...)
}

// Error logs an error message with key-value pairs.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.emit(l.log.Error(), msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.emit(l.log.Debug(), msg, keysAndValues...)
}

func (l *Logger) emit(ev *zerolog.Event, msg string, keysAndValues ...interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, keysAndValues[i+1])
	}
	ev.Msg(msg)
}
