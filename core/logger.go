package core

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"
)

// LogLevel controls which messages a StdLogger emits.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// StdLogger writes structured JSON lines to stderr. It is the default
// production logger; components fall back to NoOpLogger when nil is injected.
type StdLogger struct {
	level  LogLevel
	out    *log.Logger
	fields map[string]interface{}
}

// NewStdLogger creates a logger at info level.
func NewStdLogger() *StdLogger {
	return &StdLogger{
		level:  InfoLevel,
		out:    log.New(os.Stderr, "", 0),
		fields: make(map[string]interface{}),
	}
}

// SetLevel sets the logging level by name.
func (l *StdLogger) SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		l.level = DebugLevel
	case "INFO":
		l.level = InfoLevel
	case "WARN", "WARNING":
		l.level = WarnLevel
	case "ERROR":
		l.level = ErrorLevel
	}
}

// WithField returns a logger that includes an additional field on every line.
func (l *StdLogger) WithField(key string, value interface{}) *StdLogger {
	fields := make(map[string]interface{}, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &StdLogger{level: l.level, out: l.out, fields: fields}
}

func (l *StdLogger) Debug(msg string, fields map[string]interface{}) {
	if l.level <= DebugLevel {
		l.emit("DEBUG", msg, fields)
	}
}

func (l *StdLogger) Info(msg string, fields map[string]interface{}) {
	if l.level <= InfoLevel {
		l.emit("INFO", msg, fields)
	}
}

func (l *StdLogger) Warn(msg string, fields map[string]interface{}) {
	if l.level <= WarnLevel {
		l.emit("WARN", msg, fields)
	}
}

func (l *StdLogger) Error(msg string, fields map[string]interface{}) {
	if l.level <= ErrorLevel {
		l.emit("ERROR", msg, fields)
	}
}

func (l *StdLogger) emit(level, msg string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"time":    time.Now().Format(time.RFC3339),
		"level":   level,
		"message": msg,
	}
	for k, v := range l.fields {
		entry[k] = v
	}
	for k, v := range fields {
		entry[k] = v
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.out.Printf("%s %s %s (unserializable fields)", entry["time"], level, msg)
		return
	}
	l.out.Println(string(data))
}
