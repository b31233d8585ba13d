package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SafeLogger wraps a zap.Logger and tolerates a nil receiver or a nil
// underlying logger, so components constructed without logging configured
// (mostly in tests) never panic.
type SafeLogger struct {
	l *zap.Logger
}

// New builds a production logger for the given service name. The log level
// is read from LOG_LEVEL when set.
func New(service string) (*SafeLogger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(logLevel)); err == nil {
			config.Level = zap.NewAtomicLevelAt(level)
		}
	}

	logger, err := config.Build(
		zap.Fields(
			zap.String("service", service),
			zap.String("version", "v1"),
		),
	)
	if err != nil {
		return nil, err
	}

	return &SafeLogger{l: logger}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *SafeLogger {
	return &SafeLogger{l: zap.NewNop()}
}

// Wrap adapts an existing zap logger.
func Wrap(l *zap.Logger) *SafeLogger {
	return &SafeLogger{l: l}
}

// With returns a child logger with the given fields attached.
func (s *SafeLogger) With(fields ...zap.Field) *SafeLogger {
	if s == nil || s.l == nil {
		return s
	}
	return &SafeLogger{l: s.l.With(fields...)}
}

func (s *SafeLogger) Debug(msg string, fields ...zap.Field) {
	if s == nil || s.l == nil {
		return
	}
	s.l.Debug(msg, fields...)
}

func (s *SafeLogger) Info(msg string, fields ...zap.Field) {
	if s == nil || s.l == nil {
		return
	}
	s.l.Info(msg, fields...)
}

func (s *SafeLogger) Warn(msg string, fields ...zap.Field) {
	if s == nil || s.l == nil {
		return
	}
	s.l.Warn(msg, fields...)
}

func (s *SafeLogger) Error(msg string, fields ...zap.Field) {
	if s == nil || s.l == nil {
		return
	}
	s.l.Error(msg, fields...)
}

// Sync flushes buffered log entries.
func (s *SafeLogger) Sync() error {
	if s == nil || s.l == nil {
		return nil
	}
	return s.l.Sync()
}
