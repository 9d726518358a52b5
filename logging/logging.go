// Package logging provides leveled, component-tagged console logging for
// winsys-mcp. Output goes to stderr by default because stdout carries the
// stdio JSON-RPC stream.
package logging

import (
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// zapLevels maps levels to zap levels for filtering.
var zapLevels = map[Level]zapcore.Level{
	LevelDebug: zapcore.DebugLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelError: zapcore.ErrorLevel,
}

// ParseLevel converts a case-insensitive level name into a Level.
func ParseLevel(s string) (Level, bool) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if l == "WARNING" {
		l = LevelWarn
	}
	_, ok := zapLevels[l]
	return l, ok
}

// sink is the swappable writer shared by a logger and all its children.
type sink struct {
	mu    sync.Mutex
	out   io.Writer
	level zap.AtomicLevel
}

func (s *sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

func (s *sink) Sync() error { return nil }

// Logger provides structured logging backed by zap.
// Children created with WithComponent or WithTraceID share the parent's
// output and level.
type Logger struct {
	root      *zap.Logger
	z         *zap.Logger
	sink      *sink
	component string
	traceID   string
}

// New creates a new Logger writing INFO and above to stderr.
func New() *Logger {
	s := &sink{
		out:   os.Stderr,
		level: zap.NewAtomicLevelAt(zapcore.InfoLevel),
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), s, s.level)
	root := zap.New(core)
	return &Logger{root: root, z: root, sink: s}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := New()
	l.SetOutput(io.Discard)
	return l
}

// encoderConfig renders "LEVEL TIMESTAMP [component] message {fields}".
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "T",
		LevelKey:         "L",
		NameKey:          "N",
		MessageKey:       "M",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime:       utcTime,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeName:       bracketName,
		ConsoleSeparator: " ",
	}
}

func utcTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
}

func bracketName(name string, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + name + "]")
}

func (l *Logger) derive(component, traceID string) *Logger {
	z := l.root
	if component != "" {
		z = z.Named(component)
	}
	if traceID != "" {
		z = z.With(zap.String("trace_id", traceID))
	}
	return &Logger{root: l.root, z: z, sink: l.sink, component: component, traceID: traceID}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return l.derive(component, l.traceID)
}

// WithTraceID returns a new logger with the given trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return l.derive(l.component, traceID)
}

// Component returns the component name, if any.
func (l *Logger) Component() string {
	return l.component
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	if zl, ok := zapLevels[level]; ok {
		l.sink.level.SetLevel(zl)
	}
}

// SetOutput sets the output writer (default: stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.out = w
	l.sink.mu.Unlock()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(zapcore.DebugLevel, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(zapcore.InfoLevel, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(zapcore.WarnLevel, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(zapcore.ErrorLevel, msg, fields...)
}

// zapFields converts a field map into zap fields in key order.
func zapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		switch v := fields[k].(type) {
		case error:
			out = append(out, zap.String(k, v.Error()))
		case time.Duration:
			out = append(out, zap.String(k, v.String()))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}

func (l *Logger) log(level zapcore.Level, msg string, fields ...map[string]interface{}) {
	ce := l.z.Check(level, msg)
	if ce == nil {
		return
	}
	var zf []zap.Field
	if len(fields) > 0 && fields[0] != nil {
		zf = zapFields(fields[0])
	}
	ce.Write(zf...)
}

// --- Lifecycle event helpers ---

// ToolCall logs a tool invocation.
func (l *Logger) ToolCall(tool string) {
	l.Debug("tool_call", map[string]interface{}{
		"tool": tool,
	})
}

// ToolResult logs a tool result.
func (l *Logger) ToolResult(tool string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"tool":     tool,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("tool_error", fields)
	} else {
		l.Debug("tool_result", fields)
	}
}

// ShutdownStart logs the beginning of a shutdown run.
func (l *Logger) ShutdownStart(reason string, timeout time.Duration) {
	l.Info("shutdown_start", map[string]interface{}{
		"reason":  reason,
		"timeout": timeout.String(),
	})
}

// ShutdownComplete logs the outcome of a shutdown run.
func (l *Logger) ShutdownComplete(status string, duration time.Duration, exitCode int) {
	fields := map[string]interface{}{
		"status":    status,
		"duration":  duration.String(),
		"exit_code": exitCode,
	}
	if exitCode == 0 {
		l.Info("shutdown_complete", fields)
	} else {
		l.Error("shutdown_complete", fields)
	}
}

// HookResult logs the outcome of a single shutdown hook.
func (l *Logger) HookResult(phase, name string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"phase":    phase,
		"hook":     name,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("hook_failed", fields)
	} else {
		l.Debug("hook_done", fields)
	}
}

// CloseTimeout logs connections still pending when the close deadline passed.
func (l *Logger) CloseTimeout(pending []string) {
	for _, id := range pending {
		l.Warn("close_pending", map[string]interface{}{
			"conn": id,
		})
	}
}
