// Package logging provides component-scoped structured logging for the
// navigator, backed by zap. The submission record in the store is the
// durable audit trail; this package provides real-time operational output.
package logging

import (
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

// zapLevel maps levels to zap levels.
func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger provides structured logging scoped to a component.
type Logger struct {
	zl    *zap.Logger
	level zap.AtomicLevel
}

// Config holds logger configuration.
type Config struct {
	// MinLevel is the minimum level to emit. Default: INFO.
	MinLevel Level

	// JSON emits machine-readable JSON instead of console output.
	JSON bool

	// OutputPaths are zap output sinks. Default: stdout.
	OutputPaths []string
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinLevel:    LevelInfo,
		OutputPaths: []string{"stdout"},
	}
}

// New creates a new Logger.
func New(cfg Config) (*Logger, error) {
	level := zap.NewAtomicLevelAt(cfg.MinLevel.zapLevel())

	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.Encoding = "console"
	if cfg.JSON {
		zc.Encoding = "json"
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}
	zc.DisableStacktrace = true

	zl, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{zl: zl, level: level}, nil
}

// NewNop returns a logger that discards all output. Useful in tests.
func NewNop() *Logger {
	return &Logger{zl: zap.NewNop(), level: zap.NewAtomicLevel()}
}

// WithComponent returns a new logger scoped to the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		zl:    l.zl.With(zap.String("component", component)),
		level: l.level,
	}
}

// WithGateway returns a new logger scoped to a gateway.
func (l *Logger) WithGateway(gateway string) *Logger {
	return &Logger{
		zl:    l.zl.With(zap.String("gateway", gateway)),
		level: l.level,
	}
}

// WithSubmission returns a new logger scoped to a submission.
func (l *Logger) WithSubmission(id string) *Logger {
	return &Logger{
		zl:    l.zl.With(zap.String("submission_id", id)),
		level: l.level,
	}
}

// SetLevel changes the minimum log level at runtime.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zl.Debug(msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zl.Info(msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zl.Warn(msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zl.Error(msg, fields...)
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

// --- Lifecycle logging helpers ---
// Called by the worker and ack poller so lifecycle output stays uniform.

// Submitted logs acceptance of a submission into the queue.
func (l *Logger) Submitted(id, gateway string, priority string) {
	l.Info("submission_accepted",
		zap.String("submission_id", id),
		zap.String("gateway", gateway),
		zap.String("priority", priority),
	)
}

// Transmitted logs a successful transmission.
func (l *Logger) Transmitted(id, receiptID string, duration time.Duration) {
	l.Info("submission_transmitted",
		zap.String("submission_id", id),
		zap.String("receipt_id", receiptID),
		zap.Duration("duration", duration),
	)
}

// RetryScheduled logs a retry with its backoff delay.
func (l *Logger) RetryScheduled(id string, attempt int, delay time.Duration, err error) {
	l.Warn("retry_scheduled",
		zap.String("submission_id", id),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(err),
	)
}

// DeadLettered logs a submission moving to the dead-letter state.
func (l *Logger) DeadLettered(id string, attempts int, err error) {
	l.Error("submission_dead_lettered",
		zap.String("submission_id", id),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
}

// AckReceived logs an acknowledgment from a gateway.
func (l *Logger) AckReceived(id, receiptID, disposition string) {
	l.Info("ack_received",
		zap.String("submission_id", id),
		zap.String("receipt_id", receiptID),
		zap.String("disposition", disposition),
	)
}

// GatewayCall logs a gateway request with its outcome.
func (l *Logger) GatewayCall(gateway, op string, duration time.Duration, err error) {
	fields := []zap.Field{
		zap.String("gateway", gateway),
		zap.String("op", op),
		zap.Duration("duration", duration),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		l.Error("gateway_call_failed", fields...)
		return
	}
	l.Debug("gateway_call", fields...)
}
