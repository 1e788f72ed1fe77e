package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cranesched/pluginhook/internal/tracing"
)

// LogLevel represents the severity of the log entry
type LogLevel string

const (
	LevelTrace LogLevel = "trace"
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

var levelRank = map[LogLevel]int{
	LevelTrace: 0,
	LevelDebug: 1,
	LevelInfo:  2,
	LevelWarn:  3,
	LevelError: 4,
	LevelFatal: 5,
}

// ParseLevel maps a level name to a LogLevel, falling back to info
func ParseLevel(s string) LogLevel {
	lvl := LogLevel(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levelRank[lvl]; ok {
		return lvl
	}
	return LevelInfo
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Time     time.Time      `json:"time"`
	Level    LogLevel       `json:"level"`
	Message  string         `json:"msg"`
	Service  string         `json:"service,omitempty"`
	TraceID  string         `json:"trace_id,omitempty"`
	Hook     string         `json:"hook,omitempty"`
	EventID  string         `json:"event_id,omitempty"`
	JobID    uint32         `json:"job_id,omitempty"`
	Endpoint string         `json:"endpoint,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Logger provides structured logging with trace correlation
type Logger struct {
	service string
}

var (
	outMu    sync.Mutex
	out      io.Writer = os.Stdout
	minLevel           = ParseLevel(os.Getenv("LOG_LEVEL"))
)

// New creates a new structured logger for the given service
func New(service string) *Logger {
	return &Logger{
		service: service,
	}
}

// SetOutput redirects all loggers and returns the previous writer
func SetOutput(w io.Writer) io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	prev := out
	out = w
	return prev
}

// SetLevel sets the minimum level written and returns the previous one
func SetLevel(lvl LogLevel) LogLevel {
	outMu.Lock()
	defer outMu.Unlock()
	prev := minLevel
	minLevel = lvl
	return prev
}

// Enabled reports whether entries at lvl are currently written
func Enabled(lvl LogLevel) bool {
	outMu.Lock()
	defer outMu.Unlock()
	return levelRank[lvl] >= levelRank[minLevel]
}

func (l *Logger) entry() *LogEntry {
	return &LogEntry{
		Time:    time.Now().UTC(),
		Service: l.service,
		Fields:  make(map[string]any),
	}
}

// WithContext creates a log entry with trace correlation from context
func (l *Logger) WithContext(ctx context.Context) *LogEntry {
	entry := l.entry()
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		entry.TraceID = traceID
	}
	return entry
}

// WithFields creates a log entry with arbitrary key-value pairs
func (l *Logger) WithFields(fields map[string]any) *LogEntry {
	entry := l.entry()
	entry.Fields = fields
	return entry
}

// Plain creates a basic log entry without context
func (l *Logger) Plain() *LogEntry {
	return l.entry()
}

// WithTraceID sets the trace ID for the log entry
func (e *LogEntry) WithTraceID(traceID string) *LogEntry {
	e.TraceID = traceID
	return e
}

// WithHook sets the hook type for the log entry
func (e *LogEntry) WithHook(hook string) *LogEntry {
	e.Hook = hook
	return e
}

// WithEvent sets the hook event ID for the log entry
func (e *LogEntry) WithEvent(eventID string) *LogEntry {
	e.EventID = eventID
	return e
}

// WithJob sets the job ID for the log entry
func (e *LogEntry) WithJob(jobID uint32) *LogEntry {
	e.JobID = jobID
	return e
}

// WithEndpoint sets the plugin daemon endpoint for the log entry
func (e *LogEntry) WithEndpoint(endpoint string) *LogEntry {
	e.Endpoint = endpoint
	return e
}

// WithField adds a single field to the log entry
func (e *LogEntry) WithField(key string, value any) *LogEntry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithFields adds multiple fields to the log entry
func (e *LogEntry) WithFields(fields map[string]any) *LogEntry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	return e
}

// WithError adds an error field to the log entry
func (e *LogEntry) WithError(err error) *LogEntry {
	if err != nil {
		if e.Fields == nil {
			e.Fields = make(map[string]any)
		}
		e.Fields["error"] = err.Error()
	}
	return e
}

// Trace logs at trace level
func (e *LogEntry) Trace(message string) {
	e.log(LevelTrace, message)
}

// Tracef logs at trace level with formatting
func (e *LogEntry) Tracef(format string, args ...any) {
	e.log(LevelTrace, fmt.Sprintf(format, args...))
}

// Debug logs at debug level
func (e *LogEntry) Debug(message string) {
	e.log(LevelDebug, message)
}

// Debugf logs at debug level with formatting
func (e *LogEntry) Debugf(format string, args ...any) {
	e.log(LevelDebug, fmt.Sprintf(format, args...))
}

// Info logs at info level
func (e *LogEntry) Info(message string) {
	e.log(LevelInfo, message)
}

// Infof logs at info level with formatting
func (e *LogEntry) Infof(format string, args ...any) {
	e.log(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn logs at warn level
func (e *LogEntry) Warn(message string) {
	e.log(LevelWarn, message)
}

// Warnf logs at warn level with formatting
func (e *LogEntry) Warnf(format string, args ...any) {
	e.log(LevelWarn, fmt.Sprintf(format, args...))
}

// Error logs at error level
func (e *LogEntry) Error(message string) {
	e.log(LevelError, message)
}

// Errorf logs at error level with formatting
func (e *LogEntry) Errorf(format string, args ...any) {
	e.log(LevelError, fmt.Sprintf(format, args...))
}

// Fatal logs at fatal level and exits
func (e *LogEntry) Fatal(message string) {
	e.log(LevelFatal, message)
	os.Exit(1)
}

// Fatalf logs at fatal level with formatting and exits
func (e *LogEntry) Fatalf(format string, args ...any) {
	e.log(LevelFatal, fmt.Sprintf(format, args...))
	os.Exit(1)
}

func (e *LogEntry) log(lvl LogLevel, message string) {
	e.Level = lvl
	e.Message = message
	e.output()
}

// output writes the log entry as a single JSON line
func (e *LogEntry) output() {
	outMu.Lock()
	defer outMu.Unlock()

	if levelRank[e.Level] < levelRank[minLevel] {
		return
	}
	if len(e.Fields) == 0 {
		e.Fields = nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		fmt.Fprintf(out, "%s [%s] %s\n", e.Time.Format(time.RFC3339), e.Level, e.Message)
		return
	}

	fmt.Fprintln(out, string(data))
}

// Global convenience functions

var defaultLogger = New("pluginhook")

// WithContext creates a log entry with trace correlation from context using the default logger
func WithContext(ctx context.Context) *LogEntry {
	return defaultLogger.WithContext(ctx)
}

// WithFields creates a log entry with fields using the default logger
func WithFields(fields map[string]any) *LogEntry {
	return defaultLogger.WithFields(fields)
}

// Plain creates a basic log entry using the default logger
func Plain() *LogEntry {
	return defaultLogger.Plain()
}

// SetDefaultService sets the service name for the default logger
func SetDefaultService(service string) {
	defaultLogger.service = service
}
