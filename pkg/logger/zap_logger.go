package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/turtacn/lct/pkg/constants"
)

// zapLogger adapts a *zap.Logger to the Logger interface
type zapLogger struct {
	base  *zap.Logger
	level zap.AtomicLevel
}

// NewZapLogger wraps base. level must be the AtomicLevel base was built with,
// so SetLevel can retune a running logger.
func NewZapLogger(base *zap.Logger, level zap.AtomicLevel) Logger {
	return &zapLogger{base: base, level: level}
}

func (l *zapLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.base.Debug(msg, l.convert(ctx, fields)...)
}

func (l *zapLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.base.Info(msg, l.convert(ctx, fields)...)
}

func (l *zapLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.base.Warn(msg, l.convert(ctx, fields)...)
}

func (l *zapLogger) Error(ctx context.Context, msg string, err error, fields ...Field) {
	if err != nil {
		fields = append(fields, Err(err))
	}
	l.base.Error(msg, l.convert(ctx, fields)...)
}

func (l *zapLogger) Fatal(ctx context.Context, msg string, err error, fields ...Field) {
	if err != nil {
		fields = append(fields, Err(err))
	}
	l.base.Fatal(msg, l.convert(ctx, fields)...)
}

func (l *zapLogger) WithFields(fields ...Field) Logger {
	return &zapLogger{base: l.base.With(l.convert(nil, fields)...), level: l.level}
}

func (l *zapLogger) WithComponent(component string) Logger {
	return &zapLogger{base: l.base.With(zap.String("component", component)), level: l.level}
}

func (l *zapLogger) SetLevel(level constants.LogLevel) {
	parsed, err := zapcore.ParseLevel(string(level))
	if err != nil {
		return
	}
	l.level.SetLevel(parsed)
}

func (l *zapLogger) convert(ctx context.Context, fields []Field) []zap.Field {
	ctxFields := ContextFields(ctx)
	out := make([]zap.Field, 0, len(ctxFields)+len(fields))
	for _, f := range ctxFields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, SanitizeValue(f.Key, f.Value)))
	}
	return out
}
