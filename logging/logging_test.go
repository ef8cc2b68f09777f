package logging

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// observedLogger returns a Logger whose output is captured for assertions.
func observedLogger(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	al := zap.NewAtomicLevelAt(level)
	return &Logger{zl: zap.New(core), level: al}, logs
}

func TestLoggerLevels(t *testing.T) {
	logger, logs := observedLogger(zapcore.InfoLevel)

	// Debug should be filtered
	logger.Debug("debug message")
	if logs.Len() > 0 {
		t.Error("debug message should be filtered at INFO level")
	}

	// Info should pass
	logger.Info("info message")
	if logs.Len() != 1 {
		t.Fatal("info message should be logged")
	}

	entry := logs.All()[0]
	if entry.Level != zapcore.InfoLevel {
		t.Errorf("expected INFO level, got %v", entry.Level)
	}
	if entry.Message != "info message" {
		t.Errorf("expected message 'info message', got %q", entry.Message)
	}
}

func TestLoggerWithComponent(t *testing.T) {
	logger, logs := observedLogger(zapcore.InfoLevel)

	logger.WithComponent("worker").Info("test message")

	if logs.Len() != 1 {
		t.Fatal("expected one log entry")
	}
	fields := logs.All()[0].ContextMap()
	if fields["component"] != "worker" {
		t.Errorf("expected component 'worker', got %v", fields["component"])
	}
}

func TestLoggerWithGateway(t *testing.T) {
	logger, logs := observedLogger(zapcore.InfoLevel)

	logger.WithGateway("mef").Info("test message")

	fields := logs.All()[0].ContextMap()
	if fields["gateway"] != "mef" {
		t.Errorf("expected gateway 'mef', got %v", fields["gateway"])
	}
}

func TestLoggerWithSubmission(t *testing.T) {
	logger, logs := observedLogger(zapcore.InfoLevel)

	logger.WithSubmission("sub-123").Info("test message")

	fields := logs.All()[0].ContextMap()
	if fields["submission_id"] != "sub-123" {
		t.Errorf("expected submission_id 'sub-123', got %v", fields["submission_id"])
	}
}

func TestLoggerFields(t *testing.T) {
	logger, logs := observedLogger(zapcore.InfoLevel)

	logger.Info("transmit", zap.String("gateway", "ifile"))

	fields := logs.All()[0].ContextMap()
	if fields["gateway"] != "ifile" {
		t.Errorf("expected field gateway=ifile, got %v", fields["gateway"])
	}
}

func TestLoggerRetryScheduled(t *testing.T) {
	logger, logs := observedLogger(zapcore.DebugLevel)

	logger.RetryScheduled("sub-1", 2, 30*time.Second, errors.New("timeout"))

	if logs.Len() != 1 {
		t.Fatal("expected one log entry")
	}
	entry := logs.All()[0]
	if entry.Level != zapcore.WarnLevel {
		t.Errorf("retry should log at WARN, got %v", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["attempt"] != int64(2) {
		t.Errorf("expected attempt=2, got %v", fields["attempt"])
	}
	if fields["delay"] != 30*time.Second {
		t.Errorf("expected delay=30s, got %v", fields["delay"])
	}
}

func TestLoggerDeadLettered(t *testing.T) {
	logger, logs := observedLogger(zapcore.DebugLevel)

	logger.DeadLettered("sub-1", 5, errors.New("gateway rejected"))

	entry := logs.All()[0]
	if entry.Level != zapcore.ErrorLevel {
		t.Errorf("dead-letter should log at ERROR, got %v", entry.Level)
	}
	if entry.Message != "submission_dead_lettered" {
		t.Errorf("unexpected message %q", entry.Message)
	}
}

func TestLoggerGatewayCall(t *testing.T) {
	logger, logs := observedLogger(zapcore.DebugLevel)

	logger.GatewayCall("mef", "transmit", 120*time.Millisecond, nil)
	logger.GatewayCall("mef", "transmit", 120*time.Millisecond, errors.New("boom"))

	all := logs.All()
	if len(all) != 2 {
		t.Fatalf("expected two log entries, got %d", len(all))
	}
	if all[0].Level != zapcore.DebugLevel {
		t.Errorf("successful call should log at DEBUG, got %v", all[0].Level)
	}
	if all[1].Level != zapcore.ErrorLevel {
		t.Errorf("failed call should log at ERROR, got %v", all[1].Level)
	}
}

func TestLoggerSetLevel(t *testing.T) {
	logger, err := New(Config{MinLevel: LevelInfo, OutputPaths: []string{"stdout"}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.SetLevel(LevelError)
	if logger.level.Level() != zapcore.ErrorLevel {
		t.Errorf("expected ERROR level after SetLevel, got %v", logger.level.Level())
	}
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	// Should not panic or emit anywhere.
	logger.Info("discarded")
	logger.Submitted("sub-1", "mef", "high")
	logger.Transmitted("sub-1", "receipt-9", time.Second)
	logger.AckReceived("sub-1", "receipt-9", "accepted")
}
