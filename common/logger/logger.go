package logger

import (
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides a unified logging interface backed by zap. The package-level
// helpers write through a process-wide sugared logger that can be replaced at
// startup with Init.

// LogLevel represents log severity levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base  atomic.Pointer[zap.SugaredLogger]
)

func init() {
	base.Store(build("json", zapcore.Lock(os.Stdout)).Sugar())
}

func build(format string, out zapcore.WriteSyncer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, out, level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// Init configures the encoder ("json" or "console") and minimum level name.
func Init(levelName, format string) {
	InitWithOutput(levelName, format, zapcore.Lock(os.Stdout))
}

// InitWithOutput is Init writing to out, e.g. stderr when stdout carries a protocol.
func InitWithOutput(levelName, format string, out zapcore.WriteSyncer) {
	SetLevel(ParseLevel(levelName))
	base.Store(build(strings.ToLower(format), out).Sugar())
}

// Replace swaps the backing logger, typically with zaptest or zap.NewNop in tests.
func Replace(l *zap.Logger) {
	base.Store(l.WithOptions(zap.AddCallerSkip(1)).Sugar())
}

// Sync flushes buffered entries.
func Sync() { _ = base.Load().Sync() }

// ParseLevel maps a level name to LogLevel, defaulting to info.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetLevel sets the minimum log level
func SetLevel(l LogLevel) {
	switch l {
	case LevelDebug:
		level.SetLevel(zapcore.DebugLevel)
	case LevelWarn:
		level.SetLevel(zapcore.WarnLevel)
	case LevelError:
		level.SetLevel(zapcore.ErrorLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}
}

// Debugf logs a debug message
func Debugf(format string, args ...interface{}) { base.Load().Debugf(format, args...) }

// Infof logs an info message
func Infof(format string, args ...interface{}) { base.Load().Infof(format, args...) }

// Warnf logs a warning message
func Warnf(format string, args ...interface{}) { base.Load().Warnf(format, args...) }

// Errorf logs an error message
func Errorf(format string, args ...interface{}) { base.Load().Errorf(format, args...) }

// ContextLogger carries structured fields such as a message or conversation id.
type ContextLogger struct {
	s *zap.SugaredLogger
}

// With creates a logger with key/value context.
func With(keysAndValues ...interface{}) *ContextLogger {
	return &ContextLogger{s: base.Load().With(keysAndValues...)}
}

func (c *ContextLogger) Debugf(format string, args ...interface{}) { c.s.Debugf(format, args...) }

func (c *ContextLogger) Infof(format string, args ...interface{}) { c.s.Infof(format, args...) }

func (c *ContextLogger) Warnf(format string, args ...interface{}) { c.s.Warnf(format, args...) }

func (c *ContextLogger) Errorf(format string, args ...interface{}) { c.s.Errorf(format, args...) }

// Infow logs a message with extra fields.
func (c *ContextLogger) Infow(msg string, keysAndValues ...interface{}) {
	c.s.Infow(msg, keysAndValues...)
}
