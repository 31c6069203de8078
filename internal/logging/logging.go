// Package logging wraps zerolog behind the component-registration shape
// used throughout AxiomMe: a process-global base logger, per-component
// child loggers carrying a "component" field, and a LogRequest helper
// that emits the request-log row shape spec 7 requires of every public
// operation.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the interface component packages depend on; it never exposes
// the concrete zerolog type so packages stay swappable in tests.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, err error, fields map[string]any)
	With(component string) Logger
}

type zlogger struct {
	l zerolog.Logger
}

var (
	globalMu  sync.RWMutex
	globalLog zerolog.Logger
	once      sync.Once
)

// Configure installs the process-global logger. Safe to call once at
// startup; subsequent calls replace the sink (used by tests).
func Configure(w io.Writer, level zerolog.Level) {
	if w == nil {
		w = os.Stderr
	}
	// Mark the default as installed so a later New() cannot replace this sink.
	once.Do(func() {})
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLog = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func ensureDefault() {
	once.Do(func() {
		globalMu.Lock()
		defer globalMu.Unlock()
		globalLog = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(zerolog.InfoLevel).With().Timestamp().Logger()
	})
}

// New returns a Logger rooted at the global sink, tagged with component.
func New(component string) Logger {
	ensureDefault()
	globalMu.RLock()
	base := globalLog
	globalMu.RUnlock()
	return &zlogger{l: base.With().Str("component", component).Logger()}
}

func (z *zlogger) Debug(msg string, fields map[string]any) {
	ev := z.l.Debug()
	applyFields(ev, fields)
	ev.Msg(msg)
}

func (z *zlogger) Info(msg string, fields map[string]any) {
	ev := z.l.Info()
	applyFields(ev, fields)
	ev.Msg(msg)
}

func (z *zlogger) Warn(msg string, fields map[string]any) {
	ev := z.l.Warn()
	applyFields(ev, fields)
	ev.Msg(msg)
}

func (z *zlogger) Error(msg string, err error, fields map[string]any) {
	ev := z.l.Error()
	if err != nil {
		ev = ev.Err(err)
	}
	applyFields(ev, fields)
	ev.Msg(msg)
}

func (z *zlogger) With(component string) Logger {
	return &zlogger{l: z.l.With().Str("component", component).Logger()}
}

func applyFields(ev *zerolog.Event, fields map[string]any) {
	for k, v := range fields {
		ev.Interface(k, v)
	}
}

// RequestLog is the row shape spec 7 requires of every public operation.
type RequestLog struct {
	RequestID    string
	Operation    string
	Status       string
	LatencyMs    int64
	TraceID      string
	TargetURI    string
	ErrorCode    string
	ErrorMessage string
	Details      map[string]any
}

// LogRequest emits one structured event carrying the RequestLog row.
func LogRequest(log Logger, r RequestLog) {
	fields := map[string]any{
		"request_id": r.RequestID,
		"operation":  r.Operation,
		"status":     r.Status,
		"latency_ms": r.LatencyMs,
	}
	if r.TraceID != "" {
		fields["trace_id"] = r.TraceID
	}
	if r.TargetURI != "" {
		fields["target_uri"] = r.TargetURI
	}
	if r.ErrorCode != "" {
		fields["error_code"] = r.ErrorCode
	}
	if r.ErrorMessage != "" {
		fields["error_message"] = r.ErrorMessage
	}
	for k, v := range r.Details {
		fields[k] = v
	}
	if r.ErrorCode != "" {
		log.Warn("request", fields)
		return
	}
	log.Info("request", fields)
}
