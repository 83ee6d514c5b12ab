// Package logging builds zap loggers and adapts them to tempo.Logger.
package logging

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tempohq/tempo"
)

// Config selects the log level and encoder.
type Config struct {
	// Level is a zap level name: debug, info, warn or error.
	Level string `yaml:"level" env:"LEVEL"`

	// Encoding is "json" or "console".
	Encoding string `yaml:"encoding" env:"ENCODING"`

	// Output defaults to stderr.
	Output io.Writer `yaml:"-" env:"-"`
}

// New builds a zap.Logger from cfg. An unparsable level falls back to info.
func New(cfg Config) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	switch cfg.Encoding {
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	default:
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(out)), level)
	return zap.New(core, zap.AddCaller())
}

// Adapt exposes a zap logger as a tempo.Logger. Arguments are key/value pairs.
func Adapt(l *zap.Logger) tempo.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &zapLogger{s: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (l *zapLogger) Debug(msg string, args ...interface{}) { l.s.Debugw(msg, args...) }
func (l *zapLogger) Info(msg string, args ...interface{})  { l.s.Infow(msg, args...) }
func (l *zapLogger) Warn(msg string, args ...interface{})  { l.s.Warnw(msg, args...) }
func (l *zapLogger) Error(msg string, args ...interface{}) { l.s.Errorw(msg, args...) }

// WithContext adds the correlation id and actor carried by ctx to l.
func WithContext(ctx context.Context, l *zap.Logger) *zap.Logger {
	if ctx == nil || l == nil {
		return l
	}
	var fields []zap.Field
	if id := tempo.CorrelationIDFrom(ctx); id != "" {
		fields = append(fields, zap.String("correlation_id", id))
	}
	if actor := tempo.ActorFrom(ctx); actor != "" {
		fields = append(fields, zap.String("actor", actor))
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}
