package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
// Unknown strings map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	}
	return INFO
}

// Logger provides structured JSON logging with optional PII redaction.
type Logger struct {
	level     Level
	mu        sync.Mutex
	out       io.Writer
	redactPII bool
	component string
}

var defaultLogger = &Logger{level: INFO, redactPII: true, out: os.Stderr}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level = l }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) { defaultLogger.redactPII = r }

// SetOutput redirects the default logger, mainly for tests.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.out = w
	defaultLogger.mu.Unlock()
}

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

// Component returns a logger that tags every entry with component=name and
// shares the default logger's level, output and redaction settings.
func Component(name string) *Logger {
	return &Logger{component: name}
}

// Debug emits a DEBUG-level entry tagged with the component.
func (l *Logger) Debug(msg string, fields ...interface{}) { l.emit(DEBUG, msg, fields) }

// Info emits an INFO-level entry tagged with the component.
func (l *Logger) Info(msg string, fields ...interface{}) { l.emit(INFO, msg, fields) }

// Warn emits a WARN-level entry tagged with the component.
func (l *Logger) Warn(msg string, fields ...interface{}) { l.emit(WARN, msg, fields) }

// Error emits an ERROR-level entry tagged with the component.
func (l *Logger) Error(msg string, fields ...interface{}) { l.emit(ERROR, msg, fields) }

func (l *Logger) emit(level Level, msg string, fields []interface{}) {
	if l.component != "" {
		fields = append([]interface{}{"component", l.component}, fields...)
	}
	defaultLogger.log(level, msg, fields...)
}

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}

	// Parse key-value pairs from fields
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		entry[key] = l.value(key, fields[i+1])
	}

	data, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

// value keeps numbers and booleans native so they stay queryable.
func (l *Logger) value(key string, v interface{}) interface{} {
	switch t := v.(type) {
	case int, int64, float64, bool:
		return t
	case time.Duration:
		return t.String()
	case error:
		v = t.Error()
	}
	val := fmt.Sprintf("%v", v)
	if l.redactPII {
		val = redactPIIValue(key, val)
	}
	return val
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") {
		return RedactEmail(val)
	}
	if strings.Contains(key, "display_name") || key == "name" {
		return RedactName(val)
	}
	// Redact any embedded emails in generic fields
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
