package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger is the process-wide zap logger
var logger *zap.Logger

// Init builds the process logger. "json" selects the production encoder,
// "text" a console encoder. Logs go to stderr so stdout stays free for
// progress output.
func Init(level, format string) (*zap.Logger, error) {
	config, err := buildConfig(level, format)
	if err != nil {
		return nil, err
	}

	// Build logger
	built, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	logger = built.Named("archive-fetch")
	return logger, nil
}

func buildConfig(level, format string) (zap.Config, error) {
	var config zap.Config

	// Set base config based on format
	switch format {
	case "json":
		config = zap.NewProductionConfig()
	case "text", "":
		config = zap.NewDevelopmentConfig()
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		// Stack traces on every warning drown out the progress lines
		config.DisableStacktrace = true
	default:
		return zap.Config{}, fmt.Errorf("invalid log format: %s", format)
	}

	// Set log level
	zapLevel, err := parseLevel(level)
	if err != nil {
		return zap.Config{}, err
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	// Add useful fields to logs
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.MessageKey = "msg"
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	return config, nil
}

// parseLevel converts string log level to zapcore.Level
func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// Sync flushes any buffered log entries
func Sync() error {
	if logger != nil {
		return logger.Sync()
	}
	return nil
}

// L returns the process logger, or a no-op logger before Init
func L() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
