// Package zaplogger implements the observability.Logger facade on zap.
package zaplogger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prontopos/pronto-core/internal/observability"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct{ l *zap.Logger }

// New builds the process logger: JSON on stdout, level from LOG_LEVEL, and an
// optional mirror file via LOG_FILE for local runs without a log collector.
func New(fixed ...observability.Field) observability.Logger {
	level := zapcore.InfoLevel
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if parsed, err := zapcore.ParseLevel(raw); err == nil {
			level = parsed
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if path := os.Getenv("LOG_FILE"); path != "" {
		f, err := openLogFile(path)
		if err != nil {
			panic(fmt.Errorf("prepare log file: %w", err))
		}
		sinks = append(sinks, zapcore.AddSync(f))
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.NewMultiWriteSyncer(sinks...),
		level,
	)
	l := zap.New(core)
	if len(fixed) > 0 {
		l = l.With(toZapFields(fixed)...)
	}
	return &zapLogger{l: l}
}

func (z *zapLogger) With(fields ...observability.Field) observability.Logger {
	if len(fields) == 0 {
		return z
	}
	return &zapLogger{l: z.l.With(toZapFields(fields)...)}
}

func (z *zapLogger) Debug(msg string, fields ...observability.Field) {
	z.l.Debug(msg, toZapFields(fields)...)
}
func (z *zapLogger) Info(msg string, fields ...observability.Field) {
	z.l.Info(msg, toZapFields(fields)...)
}
func (z *zapLogger) Warn(msg string, fields ...observability.Field) {
	z.l.Warn(msg, toZapFields(fields)...)
}
func (z *zapLogger) Error(msg string, fields ...observability.Field) {
	z.l.Error(msg, toZapFields(fields)...)
}

// Sync flushes any buffered log entries. Safe to call on shutdown.
func (z *zapLogger) Sync() error {
	return z.l.Sync()
}

func toZapFields(fs []observability.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fs))
	for _, f := range fs {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
