package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures NewZapLogger.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `koanf:"level"`
	// Format is json or console. Defaults to json.
	Format string `koanf:"format"`
	// Fields are attached to every entry.
	Fields map[string]string `koanf:"fields"`
}

// ZapAdapter implements Logger on top of a zap SugaredLogger.
type ZapAdapter struct {
	sugar *zap.SugaredLogger
}

// NewZapAdapter wraps an existing zap logger.
func NewZapAdapter(l *zap.Logger) *ZapAdapter {
	return &ZapAdapter{sugar: l.Sugar()}
}

// NewZapLogger builds a zap logger writing to stderr.
func NewZapLogger(cfg Config) (*ZapAdapter, error) {
	return NewZapLoggerTo(cfg, zapcore.Lock(os.Stderr))
}

// NewZapLoggerTo builds a zap logger writing to ws.
func NewZapLoggerTo(cfg Config, ws zapcore.WriteSyncer) (*ZapAdapter, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(newEncoder(cfg.Format), ws, level)
	l := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	if len(cfg.Fields) > 0 {
		fields := make([]zap.Field, 0, len(cfg.Fields))
		for k, v := range cfg.Fields {
			fields = append(fields, zap.String(k, v))
		}
		l = l.With(fields...)
	}
	return NewZapAdapter(l), nil
}

// ParseLevel maps a level name onto a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// Debug logs a debug message.
func (z *ZapAdapter) Debug(msg string, args ...any) { z.sugar.Debugw(msg, args...) }

// Info logs an informational message.
func (z *ZapAdapter) Info(msg string, args ...any) { z.sugar.Infow(msg, args...) }

// Warn logs a warning message.
func (z *ZapAdapter) Warn(msg string, args ...any) { z.sugar.Warnw(msg, args...) }

// Error logs an error message.
func (z *ZapAdapter) Error(msg string, args ...any) { z.sugar.Errorw(msg, args...) }

// With returns a child logger carrying the given key/value pairs.
func (z *ZapAdapter) With(args ...any) *ZapAdapter {
	return &ZapAdapter{sugar: z.sugar.With(args...)}
}

// Sync flushes buffered entries.
func (z *ZapAdapter) Sync() error { return z.sugar.Sync() }
