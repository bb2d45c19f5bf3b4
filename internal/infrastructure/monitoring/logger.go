package monitoring

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/turtacn/lct/internal/config"
	"github.com/turtacn/lct/pkg/logger"
)

// NewLogger builds the process logger from cfg. Format "console" switches to a
// human readable encoder; anything else emits JSON.
func NewLogger(cfg *config.LogConfig) (logger.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	levelName, format, output := "info", "json", "stdout"
	if cfg != nil {
		if cfg.Level != "" {
			levelName = cfg.Level
		}
		if cfg.Format != "" {
			format = strings.ToLower(cfg.Format)
		}
		if cfg.OutputPath != "" {
			output = cfg.OutputPath
		}
	}

	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}
	atomic := zap.NewAtomicLevelAt(level)

	encoder := zapcore.NewJSONEncoder(encoderConfig)
	if format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	sink, _, err := zap.Open(output)
	if err != nil {
		return nil, fmt.Errorf("open log output %q: %w", output, err)
	}

	core := zapcore.NewCore(encoder, sink, atomic)
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger.NewZapLogger(base, atomic), nil
}
